package clock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source for timer-driven components.
type Clock = clockwork.Clock

// Real returns the wall clock.
func Real() Clock { return clockwork.NewRealClock() }

// Slot holds at most one scheduled callback. Scheduling replaces any pending
// callback; a callback whose timer fired concurrently with Cancel or a newer
// Schedule is dropped.
type Slot struct {
	clock Clock

	mu    sync.Mutex
	timer clockwork.Timer
	gen   uint64
}

func NewSlot(c Clock) *Slot {
	if c == nil {
		c = Real()
	}
	return &Slot{clock: c}
}

// Schedule cancels the pending callback, if any, and arms f to run after d.
func (s *Slot) Schedule(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.gen != gen || s.timer == nil {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		f()
	})
}

// Cancel drops the pending callback. It reports whether one was pending.
func (s *Slot) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	return true
}

// Pending reports whether a callback is armed.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
