// Package fetch implements the redundant split-file fetch segment: the
// coordinator that launches K data-block + M check-block fetches,
// tolerates partial failure, and triggers FEC decode once enough
// blocks arrive.
package fetch

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BlockFetcherFactory constructs the child fetch for one key. Mirrors the "consumed" block-fetcher creation call, minus the
// archive-context/allowUsk parameters this module doesn't otherwise
// use (they belong to metadata and archive handling, out of scope
//.
type BlockFetcherFactory func(ctx context.Context, seg *Segment, key Key, token Token, maxRetries int) (BlockFetcher, error)

// Segment orchestrates one splitfile's K data + M check block fetches.
// A single mutex serializes schedule/onSuccess/onFailure/cancel; the decoder worker spawned by startDecode runs outside
// that lock.
type Segment struct {
	mu sync.Mutex

	splitType  SplitType
	dataKeys   []Key
	checkKeys  []Key
	k          int
	m          int
	minFetched int

	dataBlocks  []Bucket
	checkBlocks []Bucket

	fetchedCount       int
	failedCount        int
	fatallyFailedCount int

	finished      bool
	startedDecode bool
	decodedBucket Bucket
	failure       *SegmentError
	errors        map[ErrorCode]int

	dataFetchers  []BlockFetcher
	checkFetchers []BlockFetcher
	dataState     []blockState
	checkState    []blockState
	running       int // lower bound; never load-bearing

	parent      ParentFetcher
	factory     BlockFetcherFactory
	buckets     BucketFactory
	heal        HealService
	rand        Rand
	recursion   int
	newFetcher  bool // whether this split uses variable-length blocks
}

// blockState is the terminal outcome recorded for one block slot at
// the moment its fetcher stops being live, whether by success,
// failure, or the mass-cancel at decode handoff. The heal pass reads
// this instead of the (by then nulled) fetcher slot, since retryCount
// is otherwise lost the instant a slot is nulled.
type blockState struct {
	succeeded  bool
	retryCount int
}

// NewSegment constructs a segment for the given key arrays. Returns an
// error immediately if the key arrays are malformed at the URI level
// (the INVALID_URI path) or if splitType is unsupported.
func NewSegment(
	splitType SplitType,
	dataKeys, checkKeys []Key,
	factory BlockFetcherFactory,
	buckets BucketFactory,
	heal HealService,
	parent ParentFetcher,
	rand Rand,
	recursion int,
	variableLength bool,
) (*Segment, error) {
	if len(dataKeys) == 0 {
		return nil, &SegmentError{Code: ErrInvalidURI, Message: "splitfile has no data keys"}
	}
	switch splitType {
	case SplitNonredundant, SplitOnionStandard:
	default:
		return nil, &SegmentError{Code: ErrInvalidURI, Message: fmt.Sprintf("unsupported split type %v", splitType)}
	}
	if splitType == SplitNonredundant && len(checkKeys) != 0 {
		return nil, &SegmentError{Code: ErrInvalidURI, Message: "nonredundant split must have no check blocks"}
	}

	k := len(dataKeys)
	m := len(checkKeys)
	return &Segment{
		splitType:     splitType,
		dataKeys:      dataKeys,
		checkKeys:     checkKeys,
		k:             k,
		m:             m,
		minFetched:    k,
		dataBlocks:    make([]Bucket, k),
		checkBlocks:   make([]Bucket, m),
		errors:        make(map[ErrorCode]int),
		dataFetchers:  make([]BlockFetcher, k),
		checkFetchers: make([]BlockFetcher, m),
		dataState:     make([]blockState, k),
		checkState:    make([]blockState, m),
		factory:       factory,
		buckets:       buckets,
		heal:          heal,
		parent:        parent,
		rand:          rand,
		recursion:     recursion,
		newFetcher:    variableLength,
	}, nil
}

// Schedule launches all K+M child fetches. A USK found among the keys
// fails the whole segment with ErrInvalidMetadata; any other setup
// exception fails it with ErrInvalidURI,.
func (s *Segment) Schedule(ctx context.Context, maxRetries int) {
	childRecursion := 0
	if s.newFetcher {
		childRecursion = s.recursion + 1
	}

	launch := func(keys []Key, fetchers []BlockFetcher, isData bool) bool {
		for i, key := range keys {
			if key.IsUpdatableSubspace() {
				s.fail(&SegmentError{Code: ErrInvalidMetadata, Message: errInvalidMetadataUSK})
				return false
			}
			token := Token{Index: i, IsData: isData, Recursion: childRecursion}
			bf, err := s.factory(ctx, s, key, token, maxRetries)
			if err != nil {
				s.fail(&SegmentError{Code: ErrInvalidURI, Message: err.Error()})
				return false
			}
			fetchers[i] = bf
		}
		return true
	}

	s.mu.Lock()
	dataFetchers := s.dataFetchers
	checkFetchers := s.checkFetchers
	s.mu.Unlock()

	if !launch(s.dataKeys, dataFetchers, true) {
		return
	}
	if !launch(s.checkKeys, checkFetchers, false) {
		return
	}

	s.mu.Lock()
	s.running = s.k + s.m
	s.mu.Unlock()

	all := make([]BlockFetcher, 0, len(dataFetchers)+len(checkFetchers))
	all = append(all, dataFetchers...)
	all = append(all, checkFetchers...)
	if err := scheduleGroup(ctx, all); err != nil {
		log.Printf("[fetch] segment: child schedule error: %v", err)
	}
}

// OnSuccess records a child fetch's result. A double-delivery (the
// slot is already nulled, from an earlier success or a cancellation
// race) is logged and ignored,.
func (s *Segment) OnSuccess(result BlockFetchResult, token Token) {
	s.mu.Lock()

	fetchers, blocks := s.arraysFor(token.IsData)
	state := s.stateFor(token.IsData)
	if token.Index < 0 || token.Index >= len(fetchers) {
		s.mu.Unlock()
		return
	}
	if fetchers[token.Index] == nil {
		s.mu.Unlock()
		log.Printf("[fetch] segment: duplicate success for %s block %d, ignoring", kindLabel(token.IsData), token.Index)
		return
	}

	fetchers[token.Index] = nil
	blocks[token.Index] = result.Data
	state[token.Index] = blockState{succeeded: true}
	s.fetchedCount++
	s.running--

	shouldDecode := s.fetchedCount >= s.minFetched && !s.startedDecode
	s.mu.Unlock()

	if shouldDecode {
		s.startDecode()
	}
}

// OnFailure records a child fetch's failure. Fails the whole segment
// with ErrSplitfileError once too many blocks have failed for quorum
// to still be reachable.
func (s *Segment) OnFailure(err *BlockFetchError, token Token) {
	s.mu.Lock()

	fetchers, _ := s.arraysFor(token.IsData)
	state := s.stateFor(token.IsData)
	if token.Index < 0 || token.Index >= len(fetchers) {
		s.mu.Unlock()
		return
	}
	if fetchers[token.Index] == nil {
		s.mu.Unlock()
		log.Printf("[fetch] segment: duplicate failure for %s block %d, ignoring", kindLabel(token.IsData), token.Index)
		return
	}

	state[token.Index] = blockState{succeeded: false, retryCount: fetchers[token.Index].RetryCount()}
	fetchers[token.Index] = nil
	s.running--
	if err.Fatal() {
		s.fatallyFailedCount++
	} else {
		s.failedCount++
	}
	s.errors[err.Code]++

	threshold := s.k + s.m - s.minFetched
	exceeded := s.failedCount+s.fatallyFailedCount > threshold
	histogram := cloneHistogram(s.errors)
	s.mu.Unlock()

	if exceeded {
		s.fail(&SegmentError{Code: ErrSplitfileError, Histogram: histogram})
	}
}

// Cancel terminates the segment early. Idempotent via the finished
// guard in fail.
func (s *Segment) Cancel() {
	s.fail(&SegmentError{Code: ErrCancelled})
}

// startDecode is the atomic handoff point: only the first caller to
// observe startedDecode==false proceeds. It cancels every outstanding
// child — both arrays, fixing the earlier version's bug
// of only iterating the data array — then spawns the decoder worker
// outside the segment lock.
func (s *Segment) startDecode() {
	s.mu.Lock()
	if s.startedDecode {
		s.mu.Unlock()
		return
	}
	s.startedDecode = true
	s.cancelChildrenLocked()
	s.mu.Unlock()

	go runDecoder(s)
}

// cancelChildrenLocked cancels every still-live child fetcher across
// both the data and check arrays, then nulls its slot after capturing
// its retryCount. Nulling here (not just calling Cancel) is what makes
// a late OnSuccess/OnFailure delivered by a child that lost this race
// a safe no-op: it finds the slot already nil and returns without
// touching state that the decoder may already be reading unlocked.
// Must be called with s.mu held.
func (s *Segment) cancelChildrenLocked() {
	for i, bf := range s.dataFetchers {
		if bf == nil {
			continue
		}
		retry := bf.RetryCount()
		bf.Cancel()
		s.dataState[i] = blockState{succeeded: false, retryCount: retry}
		s.dataFetchers[i] = nil
	}
	for i, bf := range s.checkFetchers {
		if bf == nil {
			continue
		}
		retry := bf.RetryCount()
		bf.Cancel()
		s.checkState[i] = blockState{succeeded: false, retryCount: retry}
		s.checkFetchers[i] = nil
	}
}

// fail transitions the segment to its terminal failed state exactly
// once, cancels all children, and notifies the parent exactly once.
func (s *Segment) fail(err *SegmentError) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.failure = err
	s.cancelChildrenLocked()
	s.mu.Unlock()

	s.parent.SegmentFinished(s)
}

// finishWithBlob is called by the decoder driver once decode succeeds.
// finished is published before the parent is notified — the happens-
// before ordering matters: callers must never observe a finished
// segment with no decoded blob.
func (s *Segment) finishWithBlob(blob Bucket) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.decodedBucket = blob
	s.mu.Unlock()

	s.parent.SegmentFinished(s)
}

// IsFinished reports whether the segment has reached a terminal state.
func (s *Segment) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Failure returns the terminal error, if the segment failed.
func (s *Segment) Failure() *SegmentError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// DecodedLength returns the assembled blob's length, or -1 if decode
// hasn't completed successfully.
func (s *Segment) DecodedLength() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decodedBucket == nil {
		return -1
	}
	return s.decodedBucket.Size()
}

// WriteDecodedTo streams the decoded blob to sink, honoring
// truncateLen as a non-negative byte cap (negative means no cap).
func (s *Segment) WriteDecodedTo(sink interface{ Write([]byte) (int, error) }, truncateLen int64) (int64, error) {
	s.mu.Lock()
	blob := s.decodedBucket
	s.mu.Unlock()
	if blob == nil {
		return 0, fmt.Errorf("fetch: segment has no decoded blob")
	}
	return blob.CopyTo(sink, truncateLen)
}

// RunningBlocks is a best-effort lower bound on the number of children
// still without a terminal callback. Never
// load-bearing.
func (s *Segment) RunningBlocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running < 0 {
		return 0
	}
	return s.running
}

func (s *Segment) arraysFor(isData bool) ([]BlockFetcher, []Bucket) {
	if isData {
		return s.dataFetchers, s.dataBlocks
	}
	return s.checkFetchers, s.checkBlocks
}

func (s *Segment) stateFor(isData bool) []blockState {
	if isData {
		return s.dataState
	}
	return s.checkState
}

func kindLabel(isData bool) string {
	if isData {
		return "data"
	}
	return "check"
}

func cloneHistogram(h map[ErrorCode]int) map[ErrorCode]int {
	out := make(map[ErrorCode]int, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// scheduleGroup fires every child's Schedule call concurrently via
// golang.org/x/sync/errgroup instead of one at a time, so a slow dial
// or jittered start on one child doesn't hold up the rest. bf.Schedule
// itself never returns an error; the group only exists to bound how
// long Segment.Schedule waits for every child to have been handed off.
func scheduleGroup(ctx context.Context, fetchers []BlockFetcher) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, bf := range fetchers {
		bf := bf
		g.Go(func() error {
			bf.Schedule(ctx)
			return nil
		})
	}
	return g.Wait()
}
