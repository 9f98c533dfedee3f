package session

import "testing"

func TestAckQueueIdempotentEnqueue(t *testing.T) {
	q := NewAckQueue()
	q.Enqueue(5, 0)
	q.Enqueue(5, 0)

	if q.Len() != 1 {
		t.Fatalf("duplicate enqueue should be a no-op, len=%d, want 1", q.Len())
	}
}

func TestAckQueueDrainOrder(t *testing.T) {
	q := NewAckQueue()
	q.Enqueue(5, 0)
	q.Enqueue(2, 0)
	q.Enqueue(9, 0)

	drained := q.DrainForSend()
	want := []uint32{5, 2, 9}
	if len(drained) != len(want) {
		t.Fatalf("drained %v, want %v", drained, want)
	}
	for i := range want {
		if drained[i] != want[i] {
			t.Fatalf("drained[%d]=%d, want %d", i, drained[i], want[i])
		}
	}

	if q.Len() != 0 {
		t.Fatalf("queue should be empty after drain, len=%d", q.Len())
	}
	if q.NextUrgent() != -1 {
		t.Fatalf("NextUrgent after drain = %d, want -1", q.NextUrgent())
	}
}

// TestAckQueueUrgency verifies that an ack becomes urgent 200ms after enqueue.
func TestAckQueueUrgency(t *testing.T) {
	q := NewAckQueue()
	q.Enqueue(10, 0)

	if got := q.NextUrgent(); got != 200 {
		t.Fatalf("NextUrgent = %d, want 200", got)
	}

	drained := q.DrainForSend()
	if len(drained) != 1 || drained[0] != 10 {
		t.Fatalf("drained = %v, want [10]", drained)
	}
	if q.NextUrgent() != -1 {
		t.Fatalf("NextUrgent after emission = %d, want -1", q.NextUrgent())
	}
}

func TestAckQueueReenqueueAfterDrain(t *testing.T) {
	q := NewAckQueue()
	q.Enqueue(1, 0)
	q.DrainForSend()
	q.Enqueue(1, 100)
	if q.Len() != 1 {
		t.Fatalf("seq should be enqueueable again after drain, len=%d", q.Len())
	}
	if got := q.NextUrgent(); got != 300 {
		t.Fatalf("NextUrgent = %d, want 300", got)
	}
}
