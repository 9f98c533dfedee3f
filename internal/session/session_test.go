package session

import (
	"testing"

	"github.com/duskweave/overlaynode/internal/clock"
)

func newTestSession() (*PeerSession, *clock.Fake) {
	fc := clock.NewFake(0)
	return New(Location(0.5), AddrString("peer-1"), fc), fc
}

// TestSessionGapFill verifies gap-filling: packets arriving out of
// order enqueue resend requests for every skipped sequence number.
func TestSessionGapFill(t *testing.T) {
	s, _ := newTestSession()

	s.PacketReceived(5)
	assertResendSet(t, s, []uint32{0, 1, 2, 3, 4})
	if got := s.LastReceivedSeq(); got != 5 {
		t.Fatalf("lastReceivedSeq = %d, want 5", got)
	}

	s.PacketReceived(2)
	assertResendSet(t, s, []uint32{0, 1, 3, 4})
	if got := s.LastReceivedSeq(); got != 5 {
		t.Fatalf("lastReceivedSeq should be unchanged by a backward receipt, got %d", got)
	}

	s.PacketReceived(6)
	assertResendSet(t, s, []uint32{0, 1, 3, 4})
	if got := s.LastReceivedSeq(); got != 6 {
		t.Fatalf("lastReceivedSeq = %d, want 6", got)
	}

	acks := s.PendingAcks()
	want := []uint32{5, 2, 6}
	if len(acks) != len(want) {
		t.Fatalf("pending acks = %v, want %v", acks, want)
	}
	for i := range want {
		if acks[i] != want[i] {
			t.Fatalf("pending acks = %v, want %v", acks, want)
		}
	}
}

func assertResendSet(t *testing.T, s *PeerSession, want []uint32) {
	t.Helper()
	s.mu.Lock()
	got := s.resends.order
	gotCopy := append([]uint32(nil), got...)
	s.mu.Unlock()

	if len(gotCopy) != len(want) {
		t.Fatalf("resend set = %v, want %v", gotCopy, want)
	}
	seen := make(map[uint32]bool, len(gotCopy))
	for _, s := range gotCopy {
		seen[s] = true
	}
	for _, w := range want {
		if !seen[w] {
			t.Fatalf("resend set = %v, missing %d", gotCopy, w)
		}
	}
}

// TestSessionDuplicateAtLastReceived exercises an underspecified
// corner: a duplicate of exactly lastReceivedSeq acks again without
// touching RRQ.
func TestSessionDuplicateAtLastReceived(t *testing.T) {
	s, _ := newTestSession()
	s.PacketReceived(5)
	s.PendingAcks() // drain
	s.PacketReceived(5)

	acks := s.PendingAcks()
	if len(acks) != 1 || acks[0] != 5 {
		t.Fatalf("duplicate receipt should still ack, got %v", acks)
	}
	if s.PendingResendCount() != 0 {
		t.Fatalf("duplicate at lastReceivedSeq should not touch RRQ, pending=%d", s.PendingResendCount())
	}
}

// TestSessionWindowFullBlocksSend verifies window-full blocking end to
// end through the PeerSession API.
func TestSessionWindowFullBlocksSend(t *testing.T) {
	s, _ := newTestSession()
	for seq := uint32(0); seq < 256; seq++ {
		if err := s.Sent(seq, nil); err != nil {
			t.Fatalf("Sent(%d) failed: %v", seq, err)
		}
	}

	if err := s.Sent(256, nil); err != ErrWindowFull {
		t.Fatalf("Sent(256) = %v, want ErrWindowFull", err)
	}

	s.AckReceived(0)
	if err := s.Sent(256, nil); err != nil {
		t.Fatalf("Sent(256) after ack should succeed: %v", err)
	}

	lowest, highest, _ := s.WindowStats()
	if lowest != 1 || highest != 256 {
		t.Fatalf("window bounds = (%d,%d), want (1,256)", lowest, highest)
	}
}

// TestSessionAckUrgency verifies ack urgency timing end to end through
// PeerSession, for a seq that arrives in order (9 already received), so
// no resend requests are queued alongside the ack.
func TestSessionAckUrgency(t *testing.T) {
	s, fc := newTestSession()
	s.lastReceivedSeq = 9
	s.PacketReceived(10)

	fc.Set(199)
	if got := s.NextUrgentAt(); got != 200 {
		t.Fatalf("NextUrgentAt at t=199 = %d, want 200", got)
	}

	fc.Set(200)
	if got := s.NextUrgentAt(); got != 200 {
		t.Fatalf("NextUrgentAt at t=200 = %d, want 200 (urgent now)", got)
	}

	acks := s.PendingAcks()
	if len(acks) != 1 || acks[0] != 10 {
		t.Fatalf("PendingAcks = %v, want [10]", acks)
	}
	if got := s.NextUrgentAt(); got != -1 {
		t.Fatalf("NextUrgentAt after emission = %d, want -1", got)
	}
}

// TestSessionResendBackoff verifies resend backoff timing end to end,
// driven through PeerSession.
func TestSessionResendBackoff(t *testing.T) {
	s, fc := newTestSession()
	s.PacketReceived(0)
	s.PacketReceived(8) // creates a gap 1..7, request seq 7 among them

	fc.Set(0)
	due := s.DueResendRequests()
	found := false
	for _, seq := range due {
		if seq == 7 {
			found = true
		}
	}
	if !found {
		t.Fatalf("DueResendRequests = %v, want to include 7", due)
	}

	fc.Set(100)
	s.PacketReceived(7)

	fc.Set(1_000_000)
	due = s.DueResendRequests()
	for _, seq := range due {
		if seq == 7 {
			t.Fatal("seq 7 should be gone from RRQ once it finally arrived")
		}
	}
}
