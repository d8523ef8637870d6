/**
 * CONTEXT:   Per-command armed timers shared by the queue worker
 * INPUT:     commandId + duration + fire callback
 * OUTPUT:    Exactly-once callback invocation on expiry, unless cancelled or extended first
 * BUSINESS:  A timeout is equivalent to an internally originated cancellation; it must never
 *            fire twice and must never outlive the entry that armed it
 * CHANGE:    Initial implementation
 * RISK:      Medium - a leaked timer fires into a torn-down queue
 */

package timeoutsvc

import (
	"sync"
	"time"

	"github.com/sascodiego/dbggateway/pkg/logger"
)

// entry is one armed timer. Replaced wholesale by arm/extend so last-writer-wins is
// trivially correct: the old timer is stopped before the new one is installed.
type entry struct {
	timer    *time.Timer
	callback func()
	duration time.Duration
	startedAt time.Time
}

// Service stores at most one armed timer per commandId. Safe for concurrent use; arm,
// cancel, and extend on the same id settle deterministically.
type Service struct {
	log logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

func New(log logger.Logger) *Service {
	return &Service{
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Arm replaces any existing timer for id and starts a fresh one. The callback runs in
// its own goroutine so a slow callback never blocks a concurrent arm/cancel/extend.
func (s *Service) Arm(id string, d time.Duration, callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.stopLocked(id)

	e := &entry{callback: callback, duration: d, startedAt: time.Now()}
	e.timer = time.AfterFunc(d, func() { s.fire(id) })
	s.entries[id] = e
}

// Cancel removes and stops any entry for id. No-op if none exists.
func (s *Service) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(id)
}

// Extend rearms id with additional duration measured from now, preserving the original
// callback and the original start time. No-op if id has no armed entry.
func (s *Service) Extend(id string, additional time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[id]
	if !ok || s.closed {
		return
	}
	existing.timer.Stop()
	e := &entry{callback: existing.callback, duration: additional, startedAt: existing.startedAt}
	e.timer = time.AfterFunc(additional, func() { s.fire(id) })
	s.entries[id] = e
}

func (s *Service) stopLocked(id string) {
	if existing, ok := s.entries[id]; ok {
		existing.timer.Stop()
		delete(s.entries, id)
	}
}

func (s *Service) fire(id string) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.entries, id)
	s.mu.Unlock()

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("timeout callback panicked", "commandId", id, "panic", r)
			}
		}()
		e.callback()
	}()
}

// Close stops every outstanding timer without invoking callbacks. After Close, Arm is
// a no-op; the service must not fire into a torn-down owner.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.entries {
		s.stopLocked(id)
	}
	s.closed = true
}
