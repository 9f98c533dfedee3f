// Package session implements the per-peer reliable datagram layer: the
// state that turns an unreliable transport into one with acks, gap
// detection, resend requests and a fixed sliding window, for a single
// remote overlay node.
//
// PeerSession itself never touches a socket. It is driven by a caller
// that owns the actual datagram I/O (see internal/transport) and by a
// flusher goroutine that polls NextUrgentAt to decide when to emit an
// otherwise-empty control packet.
package session

import (
	"errors"
	"sync"

	"github.com/duskweave/overlaynode/internal/clock"
)

// ErrWindowFull is returned by Sent when the sliding window disallows
// sending the given sequence number right now. Callers may retry after
// the next AckReceived.
var ErrWindowFull = errors.New("session: sliding window full")

// PeerSession holds all per-remote-node PRD state: location, address,
// and the three queues (retransmit cache, ack queue, resend-request
// queue). One session lock serializes every operation, mirroring the
// teacher's per-connection mutex in internal/transport/arq_conn.go.
type PeerSession struct {
	Location Location
	Address  PeerAddress

	clock clock.Clock

	mu              sync.Mutex
	cache           *RetransmitCache
	acks            *AckQueue
	resends         *ResendRequestQueue
	lastReceivedSeq int64 // -1 if none received yet
	guard           *DuplicateGuard
}

// New constructs a fresh session for a peer at the given location and
// address. The session starts with an empty window and no receive
// history.
func New(loc Location, addr PeerAddress, c clock.Clock) *PeerSession {
	return &PeerSession{
		Location:        loc,
		Address:         addr,
		clock:           c,
		cache:           NewRetransmitCache(),
		acks:            NewAckQueue(),
		resends:         NewResendRequestQueue(),
		lastReceivedSeq: -1,
		guard:           NewDuplicateGuard(),
	}
}

// Sent records that payload was sent under seq, extending the
// retransmit cache. Returns ErrWindowFull if the sliding window
// disallows seq right now — callers must not have called Sent for a
// blocked seq; CanSend should be checked first (see §5's suspension
// point discussion).
func (s *PeerSession) Sent(seq uint32, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache.WindowFull(seq) {
		return ErrWindowFull
	}
	s.cache.Insert(seq, payload)
	return nil
}

// CanSend reports whether seq may be sent without violating the
// sliding window, without mutating any state.
func (s *PeerSession) CanSend(seq uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cache.WindowFull(seq)
}

// AckReceived evicts seq from the retransmit cache. Idempotent and
// commutes across distinct seqs, per spec.
func (s *PeerSession) AckReceived(seq uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(seq)
}

// PacketReceived processes an inbound datagram's sequence number:
// queues an ack, and either clears a matching resend request (for a
// seq older than what we've already seen — a requested retransmission
// finally arriving) or fills the gap between lastReceivedSeq and seq
// with resend requests before advancing lastReceivedSeq.
//
// A duplicate with seq == lastReceivedSeq is acked again and otherwise
// left alone — RRQ is not touched. This mirrors an unspecified corner
// case that isn't fully pinned down by the reliable-delivery rules
// this mirrors: preserved rather than guessed at further.
//
// A seq the guard already recognizes as fully retired short-circuits
// straight to the ack: it skips the resend-queue removal and the
// redundant guard.Retire, since a stale retransmit of something we
// already finished with needs nothing else done for it. Because the
// guard can report false positives, a hit is only trusted for a seq
// below lastReceivedSeq that has no pending resend request; any other
// hit goes through the full path below.
func (s *PeerSession) PacketReceived(seq uint32) {
	if s.guard.Seen(seq) {
		now := s.clock.NowMillis()
		s.mu.Lock()
		if int64(seq) < s.lastReceivedSeq && !s.resends.Contains(seq) {
			s.acks.Enqueue(seq, now)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.NowMillis()
	s.acks.Enqueue(seq, now)

	sseq := int64(seq)
	switch {
	case sseq < s.lastReceivedSeq:
		s.resends.Remove(seq)
		s.guard.Retire(seq)
	case sseq > s.lastReceivedSeq:
		for g := s.lastReceivedSeq + 1; g < sseq; g++ {
			s.resends.Enqueue(uint32(g))
		}
		s.lastReceivedSeq = sseq
	default:
		// duplicate of the most recent seq: ack only.
	}
}

// RotateGuard advances the duplicate-detection bloom filter, called
// periodically by the owning Manager's housekeeping loop rather than
// on any per-packet path.
func (s *PeerSession) RotateGuard() {
	s.guard.Rotate()
}

// NextUrgentAt returns the earliest deadline across the ack queue and
// the resend-request queue, or -1 if neither has anything pending.
func (s *PeerSession) NextUrgentAt() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextUrgentAtLocked()
}

func (s *PeerSession) nextUrgentAtLocked() int64 {
	a := s.acks.NextUrgent()
	r := s.resends.NextUrgent()
	switch {
	case a == -1:
		return r
	case r == -1:
		return a
	case a < r:
		return a
	default:
		return r
	}
}

// Drop evicts seq from the retransmit cache without treating it as
// acked, for use under memory pressure. The peer will never see this
// seq retransmitted; higher layers must cope.
func (s *PeerSession) Drop(seq uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(seq)
}

// PendingAcks drains the ack queue for inclusion on an outbound
// packet.
func (s *PeerSession) PendingAcks() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acks.DrainForSend()
}

// DueResendRequests returns resend requests whose backoff has expired
// and marks them as just-sent (resetting the 500ms backoff).
func (s *PeerSession) DueResendRequests() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.NowMillis()
	due := s.resends.DueNow(now)
	for _, seq := range due {
		s.resends.MarkSent(seq, now)
	}
	return due
}

// WindowStats reports the current retransmit cache bounds, mainly for
// metrics and tests.
func (s *PeerSession) WindowStats() (lowest, highest int64, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Lowest(), s.cache.Highest(), s.cache.Size()
}

// LastReceivedSeq reports the highest forward-progressing seq observed
// so far, or -1 if none.
func (s *PeerSession) LastReceivedSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReceivedSeq
}

// PendingResendCount reports how many resend requests are outstanding,
// mainly for metrics.
func (s *PeerSession) PendingResendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resends.Len()
}

// PendingAckCount reports how many acks are queued without draining
// them, mainly for metrics.
func (s *PeerSession) PendingAckCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acks.Len()
}
