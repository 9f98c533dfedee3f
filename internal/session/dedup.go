package session

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// DuplicateGuard offers a cheap probabilistic short-circuit for
// datagrams whose sequence number the session has already fully
// retired from its window, so the caller can skip the rest of its
// receive path for datagrams that are almost certainly stale
// retransmits.
//
// Adapted from the teacher's anti-replay guard
// (internal/crypto/replay.go), which time-slices a Bloom filter to
// bound memory for a nonce set that grows without end. Here the same
// rotation scheme guards retired sequence numbers per peer instead of
// crypto nonces; a false positive only costs an extra lock+check in
// PeerSession, never a correctness violation, since packetReceived
// itself is idempotent for already-seen seqs.
type DuplicateGuard struct {
	mu      sync.Mutex
	slices  [guardSlices]*bloom.BloomFilter
	current int
}

const (
	guardSlices          = 4
	guardExpectedItems   = 4096
	guardFalsePositive   = 0.001
	guardRotationDefault = 30 * time.Second
)

// NewDuplicateGuard returns a guard with all slices freshly allocated.
func NewDuplicateGuard() *DuplicateGuard {
	g := &DuplicateGuard{}
	for i := range g.slices {
		g.slices[i] = bloom.NewWithEstimates(guardExpectedItems, guardFalsePositive)
	}
	return g
}

// Seen reports whether seq was previously marked Retired. False
// negatives never happen; false positives are possible and acceptable
// given the caller falls back to the authoritative session check.
func (g *DuplicateGuard) Seen(seq uint32) bool {
	key := seqKey(seq)
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.slices {
		if s.Test(key) {
			return true
		}
	}
	return false
}

// Retire marks seq as fully handled (evicted from the retransmit
// window or delivered past the ordering point) so future duplicates of
// it are cheaply recognized.
func (g *DuplicateGuard) Retire(seq uint32) {
	key := seqKey(seq)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.slices[g.current].Add(key)
}

// Rotate discards the oldest slice and starts a fresh one, bounding
// the guard's memory to guardSlices generations of retired seqs.
func (g *DuplicateGuard) Rotate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = (g.current + 1) % guardSlices
	g.slices[g.current] = bloom.NewWithEstimates(guardExpectedItems, guardFalsePositive)
}

func seqKey(seq uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], seq)
	return b[:]
}
