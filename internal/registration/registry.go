package registration

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"voice-gateway/internal/telephony"
)

// entry is the per-client slot. Fields below mu are guarded by it; refs is
// guarded by Manager.mu.
type entry struct {
	id   string
	refs int

	mu      sync.Mutex
	machine *fsm.FSM
	reg     telephony.Registration
	retry   *retryTask
}

func (e *entry) idle() bool {
	return e.reg == nil && e.retry == nil
}

type snapshot struct {
	state string
	live  bool
	since time.Time
}

// acquire returns the locked entry for id, creating it if needed.
// The map lock is never held while waiting on an entry lock.
func (m *Manager) acquire(id string) *entry {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		e = &entry{id: id}
		e.machine = newMachine(func(_, to string) { m.publish(e, to) })
		m.entries[id] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return e
}

// release unlocks e and drops it from the registry once nothing references
// it and it holds neither a live handle nor a pending retry.
func (m *Manager) release(e *entry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 && e.idle() {
		delete(m.entries, e.id)
	}
	m.mu.Unlock()
	e.mu.Unlock()
}

// publish records a state change for Status. Called with e.mu held.
func (m *Manager) publish(e *entry, state string) {
	m.mu.Lock()
	s := m.states[e.id]
	s.state = state
	s.since = m.clock()
	m.states[e.id] = s
	m.mu.Unlock()
}

// setLive swaps the live handle. Called with e.mu held.
func (m *Manager) setLive(e *entry, reg telephony.Registration) {
	wasLive := e.reg != nil
	e.reg = reg

	m.mu.Lock()
	switch {
	case reg != nil && !wasLive:
		m.live++
	case reg == nil && wasLive:
		m.live--
	}
	s := m.states[e.id]
	s.live = reg != nil
	m.states[e.id] = s
	live := m.live
	m.mu.Unlock()

	m.metrics.SetActiveRegistrations(live)
}

func (m *Manager) fire(e *entry, event string) {
	// Transition callbacks never block, so the call is not bound to a request ctx.
	if err := e.machine.Event(context.Background(), event); err != nil {
		m.log.Debug("registration state transition skipped", "client_id", e.id, "event", event, "state", e.machine.Current(), "error", err)
	}
}

// resetFailed brings a failed machine back to idle after its retry was cancelled.
func (m *Manager) resetFailed(e *entry) {
	if e.machine.Current() == StateFailed {
		m.fire(e, evReset)
	}
}
