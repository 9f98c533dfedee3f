package session

import "testing"

func TestRetransmitCacheInsertRemove(t *testing.T) {
	c := NewRetransmitCache()

	if c.Lowest() != -1 || c.Highest() != -1 {
		t.Fatalf("empty cache should report -1 bounds, got lowest=%d highest=%d", c.Lowest(), c.Highest())
	}

	c.Insert(5, []byte("a"))
	c.Insert(7, []byte("b"))
	c.Insert(6, []byte("c"))

	if c.Lowest() != 5 || c.Highest() != 7 {
		t.Fatalf("bounds after insert: got lowest=%d highest=%d, want 5,7", c.Lowest(), c.Highest())
	}
	if c.Size() != 3 {
		t.Fatalf("size = %d, want 3", c.Size())
	}

	if !c.Remove(5) {
		t.Fatal("Remove(5) should report present")
	}
	if c.Lowest() != 6 {
		t.Fatalf("lowest after removing bound = %d, want 6", c.Lowest())
	}

	c.Remove(6)
	c.Remove(7)

	if c.Lowest() != -1 || c.Highest() != -1 {
		t.Fatalf("cache should be empty after draining, got lowest=%d highest=%d", c.Lowest(), c.Highest())
	}
}

// TestRetransmitCacheWindowFull verifies window-full blocking:
// sending 0..255 fills the window; 256 is blocked until 0 is acked.
func TestRetransmitCacheWindowFull(t *testing.T) {
	c := NewRetransmitCache()
	for seq := uint32(0); seq < 256; seq++ {
		if c.WindowFull(seq) {
			t.Fatalf("window unexpectedly full at seq=%d", seq)
		}
		c.Insert(seq, nil)
	}

	if !c.WindowFull(256) {
		t.Fatal("window should be full at seq=256 with 0..255 all outstanding")
	}

	c.Remove(0)
	if c.WindowFull(256) {
		t.Fatal("window should no longer be full once seq 0 is acked")
	}
	c.Insert(256, nil)

	if c.Lowest() != 1 || c.Highest() != 256 {
		t.Fatalf("bounds after S1 = (%d,%d), want (1,256)", c.Lowest(), c.Highest())
	}
}

func TestRetransmitCacheAcksCommute(t *testing.T) {
	// property 1: any interleaving of sent/ackReceived over distinct
	// seqs ends with an empty cache once all are acked.
	c := NewRetransmitCache()
	seqs := []uint32{10, 3, 44, 1, 7}
	for _, s := range seqs {
		c.Insert(s, nil)
	}
	order := []uint32{44, 10, 1, 7, 3}
	for _, s := range order {
		c.Remove(s)
	}
	if c.Lowest() != -1 || c.Highest() != -1 {
		t.Fatalf("cache should be empty after all acks regardless of order, got lowest=%d highest=%d", c.Lowest(), c.Highest())
	}
}

func TestRetransmitCacheContains(t *testing.T) {
	c := NewRetransmitCache()
	c.Insert(42, []byte("x"))
	if !c.Contains(42) {
		t.Fatal("Contains(42) should be true after insert")
	}
	c.Remove(42)
	if c.Contains(42) {
		t.Fatal("Contains(42) should be false after remove")
	}
}
