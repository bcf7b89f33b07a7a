package signaling

import (
	"sync"
	"time"
)

// Supervisor arms one-shot ring timers per call. Disarm must be called on
// every terminal transition so a stale timer never fires against a call
// that already resolved; the fire callback re-checks state regardless.
type Supervisor struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func NewSupervisor() *Supervisor {
	return &Supervisor{timers: make(map[string]*time.Timer)}
}

// Arm schedules fn after d. Re-arming an already-armed call replaces the
// previous timer.
func (s *Supervisor) Arm(callID string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if t, ok := s.timers[callID]; ok {
		t.Stop()
	}
	s.timers[callID] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, callID)
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			fn()
		}
	})
}

// Disarm cancels the timer; a no-op if the call was never armed or already fired.
func (s *Supervisor) Disarm(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[callID]; ok {
		t.Stop()
		delete(s.timers, callID)
	}
}

// Armed reports whether a timer is pending; used by tests.
func (s *Supervisor) Armed(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[callID]
	return ok
}

// Stop cancels all pending timers. Used on shutdown.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
