package session

import (
	"sync"
	"time"

	"github.com/duskweave/overlaynode/internal/clock"
)

// idleTimeout is how long a session may sit without any activity
// before the cleanup loop reclaims it. This is ambient housekeeping,
// not a PRD invariant: a session is never force-closed mid-window, only
// once its retransmit cache has drained.
const idleTimeout = 5 * time.Minute

// Manager owns the pool of live sessions, one per peer address.
// Grounded on the teacher's connection manager
// (internal/transport/arq_manager.go): a map keyed by peer address,
// guarded by an RWMutex, plus a periodic cleanup goroutine.
type Manager struct {
	clock clock.Clock

	mu       sync.RWMutex
	sessions map[string]*trackedSession

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type trackedSession struct {
	sess       *PeerSession
	lastActive time.Time
}

// NewManager returns a session manager and starts its background
// cleanup loop. Call Close to stop it.
func NewManager(c clock.Clock) *Manager {
	m := &Manager{
		clock:    c,
		sessions: make(map[string]*trackedSession),
		stopCh:   make(chan struct{}),
	}
	m.wg.Add(1)
	go m.cleanupLoop()
	return m
}

// GetOrCreate returns the existing session for addr, or creates one at
// the given location if none exists yet.
func (m *Manager) GetOrCreate(loc Location, addr PeerAddress) *PeerSession {
	key := addr.String()

	m.mu.RLock()
	ts, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		m.touch(ts)
		return ts.sess
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.sessions[key]; ok {
		// touch takes m.mu itself; inline the update here since the
		// write lock is already held, or the two goroutines racing to
		// create this exact session deadlock on the second one.
		ts.lastActive = time.Now()
		return ts.sess
	}
	ts = &trackedSession{sess: New(loc, addr, m.clock), lastActive: time.Now()}
	m.sessions[key] = ts
	return ts.sess
}

// Get returns the session for addr, if one exists.
func (m *Manager) Get(addr PeerAddress) (*PeerSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.sessions[addr.String()]
	if !ok {
		return nil, false
	}
	return ts.sess, true
}

// Remove drops the session for addr, e.g. on handshake failure or an
// owning node's decision to end the session (PRD itself has no
// failure states of its own).
func (m *Manager) Remove(addr PeerAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, addr.String())
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// All returns a snapshot of all live sessions, for metrics collection.
func (m *Manager) All() []*PeerSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PeerSession, 0, len(m.sessions))
	for _, ts := range m.sessions {
		out = append(out, ts.sess)
	}
	return out
}

// AckQueueDepthTotal sums PendingAckCount across every live session.
// Satisfies metrics.SessionStats.
func (m *Manager) AckQueueDepthTotal() int {
	total := 0
	for _, sess := range m.All() {
		total += sess.PendingAckCount()
	}
	return total
}

// ResendQueueDepthTotal sums PendingResendCount across every live
// session. Satisfies metrics.SessionStats.
func (m *Manager) ResendQueueDepthTotal() int {
	total := 0
	for _, sess := range m.All() {
		total += sess.PendingResendCount()
	}
	return total
}

func (m *Manager) touch(ts *trackedSession) {
	m.mu.Lock()
	ts.lastActive = time.Now()
	m.mu.Unlock()
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	idleTicker := time.NewTicker(time.Minute)
	defer idleTicker.Stop()
	guardTicker := time.NewTicker(guardRotationDefault)
	defer guardTicker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-idleTicker.C:
			m.reapIdle()
		case <-guardTicker.C:
			m.rotateGuards()
		}
	}
}

func (m *Manager) reapIdle() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, ts := range m.sessions {
		if now.Sub(ts.lastActive) > idleTimeout {
			if _, _, size := ts.sess.WindowStats(); size == 0 {
				delete(m.sessions, key)
			}
		}
	}
}

// rotateGuards advances every live session's duplicate-detection bloom
// filter, bounding its memory to guardSlices generations of retired
// sequence numbers instead of growing without end.
func (m *Manager) rotateGuards() {
	for _, sess := range m.All() {
		sess.RotateGuard()
	}
}

// Close stops the cleanup loop. Sessions themselves are stateless
// beyond memory, so nothing else needs draining.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}
