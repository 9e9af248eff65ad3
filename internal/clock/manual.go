package clock

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Manual drives a clockwork fake clock for tests. AfterFunc callbacks run on
// the goroutine calling Advance, one at a time in deadline order, so a test
// observes every effect of a timer as soon as Advance returns.
type Manual struct {
	*clockwork.FakeClock

	mu     sync.Mutex
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	m     *Manual
	inner clockwork.Timer
	at    time.Time
	seq   uint64
	fn    func()
	fired chan struct{}
	done  bool
}

// NewManual starts a manual clock at start, or at a fixed date when start is
// zero.
func NewManual(start time.Time) *Manual {
	if start.IsZero() {
		start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Manual{FakeClock: clockwork.NewFakeClockAt(start)}
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) clockwork.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, seq: m.seq, fn: fn}
	t.armLocked(d)
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward by d, running every callback that becomes
// due, including ones scheduled by earlier callbacks.
func (m *Manual) Advance(d time.Duration) {
	target := m.Now().Add(d)
	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.mu.Unlock()
			break
		}
		at, fired := next.at, next.fired
		m.mu.Unlock()

		wait := at.Sub(m.Now())
		if wait < 0 {
			wait = 0
		}
		m.FakeClock.Advance(wait)
		<-fired

		m.mu.Lock()
		if next.done || next.fired != fired {
			m.mu.Unlock()
			continue
		}
		next.done = true
		m.pruneLocked()
		fn := next.fn
		m.mu.Unlock()
		fn()
	}
	if rest := target.Sub(m.Now()); rest > 0 {
		m.FakeClock.Advance(rest)
	}
}

// Pending returns the number of armed callbacks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	due := make([]*manualTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if !t.done && !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

func (m *Manual) pruneLocked() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	m.timers = live
}

// armLocked registers a clockwork timer that only signals expiry; the
// callback itself is run by Advance.
func (t *manualTimer) armLocked(d time.Duration) {
	fired := make(chan struct{})
	t.fired = fired
	t.at = t.m.FakeClock.Now().Add(d)
	t.inner = t.m.FakeClock.AfterFunc(d, func() { close(fired) })
}

// disarmLocked stops the clockwork timer and, when it had not expired yet,
// releases an Advance waiting on it.
func (t *manualTimer) disarmLocked() {
	if t.inner.Stop() {
		close(t.fired)
	}
}

func (t *manualTimer) Chan() <-chan time.Time {
	return t.inner.Chan()
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.disarmLocked()
	t.m.pruneLocked()
	return true
}

func (t *manualTimer) Reset(d time.Duration) bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	active := !t.done
	t.disarmLocked()
	t.armLocked(d)
	if !active {
		t.done = false
		t.m.timers = append(t.m.timers, t)
	}
	return active
}
