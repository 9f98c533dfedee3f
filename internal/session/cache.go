package session

import "fmt"

// windowSize bounds the number of unacked packets a session may keep
// in flight. Fixed per spec; congestion control beyond this is out of
// scope.
const windowSize = 256

// ErrInternalConsistency marks a violation of RetransmitCache's bounds
// invariant. It is a programmer bug, never an operational failure, and
// is meant to be surfaced via panic rather than propagated as an
// ordinary error.
type ErrInternalConsistency struct {
	Detail string
}

func (e *ErrInternalConsistency) Error() string {
	return fmt.Sprintf("retransmit cache: internal consistency violated: %s", e.Detail)
}

// RetransmitCache tracks payloads sent but not yet acknowledged, keyed
// by sequence number. It is grounded on the teacher's sliding-window
// send buffer, but keyed by a plain map instead of a fixed ring since
// entries may be populated in any order, not just contiguously.
type RetransmitCache struct {
	entries map[uint32][]byte
	lowest  int64 // -1 when empty
	highest int64 // -1 when empty
}

// NewRetransmitCache returns an empty cache.
func NewRetransmitCache() *RetransmitCache {
	return &RetransmitCache{
		entries: make(map[uint32][]byte),
		lowest:  -1,
		highest: -1,
	}
}

// Insert records a sent payload under seq. Overwrites silently if seq
// was already present (a re-send of the same seq, not expected in
// normal use but harmless).
func (c *RetransmitCache) Insert(seq uint32, payload []byte) {
	c.entries[seq] = payload

	s := int64(seq)
	if c.lowest == -1 {
		c.lowest = s
		c.highest = s
	} else {
		if s < c.lowest {
			c.lowest = s
		}
		if s > c.highest {
			c.highest = s
		}
	}
	c.checkInvariant()
}

// Remove evicts seq from the cache, whether by ack or explicit drop.
// Returns whether seq was present.
func (c *RetransmitCache) Remove(seq uint32) bool {
	if _, ok := c.entries[seq]; !ok {
		return false
	}
	delete(c.entries, seq)

	if len(c.entries) == 0 {
		c.lowest, c.highest = -1, -1
		return true
	}

	s := int64(seq)
	if s == c.lowest {
		c.lowest = c.advanceLowest(c.lowest)
	}
	if s == c.highest {
		c.highest = c.advanceHighest(c.highest)
	}
	c.checkInvariant()
	return true
}

func (c *RetransmitCache) advanceLowest(from int64) int64 {
	for seq := from + 1; seq <= c.highest; seq++ {
		if _, ok := c.entries[uint32(seq)]; ok {
			return seq
		}
	}
	panic(&ErrInternalConsistency{Detail: "no member found advancing lowest bound on non-empty cache"})
}

func (c *RetransmitCache) advanceHighest(from int64) int64 {
	for seq := from - 1; seq >= c.lowest; seq-- {
		if _, ok := c.entries[uint32(seq)]; ok {
			return seq
		}
	}
	panic(&ErrInternalConsistency{Detail: "no member found advancing highest bound on non-empty cache"})
}

// Contains reports whether seq is currently cached awaiting ack.
func (c *RetransmitCache) Contains(seq uint32) bool {
	_, ok := c.entries[seq]
	return ok
}

// Lowest returns the smallest cached sequence number, or -1 if empty.
func (c *RetransmitCache) Lowest() int64 { return c.lowest }

// Highest returns the largest cached sequence number, or -1 if empty.
func (c *RetransmitCache) Highest() int64 { return c.highest }

// Size returns the number of cached entries.
func (c *RetransmitCache) Size() int { return len(c.entries) }

// WindowFull reports whether sending nextSeq would violate the sliding
// window: true iff nextSeq-256 is still awaiting ack.
func (c *RetransmitCache) WindowFull(nextSeq uint32) bool {
	if nextSeq < windowSize {
		return false
	}
	return c.Contains(nextSeq - windowSize)
}

// Payload returns the cached payload for seq, if present.
func (c *RetransmitCache) Payload(seq uint32) ([]byte, bool) {
	p, ok := c.entries[seq]
	return p, ok
}

func (c *RetransmitCache) checkInvariant() {
	if len(c.entries) == 0 {
		if c.lowest != -1 || c.highest != -1 {
			panic(&ErrInternalConsistency{Detail: "empty cache must have lowest == highest == -1"})
		}
		return
	}
	if c.lowest == -1 || c.highest == -1 {
		panic(&ErrInternalConsistency{Detail: "non-empty cache must have real bounds"})
	}
	if c.lowest > c.highest {
		panic(&ErrInternalConsistency{Detail: "lowest bound exceeds highest bound"})
	}
	if _, ok := c.entries[uint32(c.lowest)]; !ok {
		panic(&ErrInternalConsistency{Detail: "lowest bound is not a cache member"})
	}
	if _, ok := c.entries[uint32(c.highest)]; !ok {
		panic(&ErrInternalConsistency{Detail: "highest bound is not a cache member"})
	}
}
