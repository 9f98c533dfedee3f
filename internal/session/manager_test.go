package session

import (
	"testing"
	"time"

	"github.com/duskweave/overlaynode/internal/clock"
)

func TestManagerGetOrCreateReturnsSameSession(t *testing.T) {
	m := NewManager(clock.NewFake(0))
	defer m.Close()

	addr := AddrString("peer-1")
	a := m.GetOrCreate(0.25, addr)
	b := m.GetOrCreate(0.9, addr) // location ignored on the second call

	if a != b {
		t.Fatal("GetOrCreate returned distinct sessions for the same address")
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
}

func TestManagerRemove(t *testing.T) {
	m := NewManager(clock.NewFake(0))
	defer m.Close()

	addr := AddrString("peer-1")
	m.GetOrCreate(0, addr)
	m.Remove(addr)

	if _, ok := m.Get(addr); ok {
		t.Fatal("session still present after Remove")
	}
	if m.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", m.Len())
	}
}

func TestManagerAggregatesQueueDepths(t *testing.T) {
	c := clock.NewFake(0)
	m := NewManager(c)
	defer m.Close()

	s1 := m.GetOrCreate(0, AddrString("peer-1"))
	s2 := m.GetOrCreate(0, AddrString("peer-2"))

	s1.PacketReceived(0)
	s1.PacketReceived(5) // gap: 4 resend requests queued
	s2.PacketReceived(0)

	if got := m.AckQueueDepthTotal(); got != 3 {
		t.Fatalf("AckQueueDepthTotal() = %d, want 3", got)
	}
	if got := m.ResendQueueDepthTotal(); got != 4 {
		t.Fatalf("ResendQueueDepthTotal() = %d, want 4", got)
	}
}

func TestManagerCloseStopsCleanupLoop(t *testing.T) {
	m := NewManager(clock.NewFake(0))
	m.Close()

	select {
	case <-m.stopCh:
	default:
		t.Fatal("stopCh should be closed after Close")
	}

	// Close must be idempotent.
	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Close call blocked")
	}
}
