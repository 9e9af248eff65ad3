package recognition

import (
	"sync"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/clock"
)

// Watchdog polls for recognizer inactivity and reports it once per episode.
type Watchdog struct {
	clock     clock.Clock
	interval  time.Duration
	threshold time.Duration
	onExpire  func()
	tick      *clock.Slot

	mu           sync.Mutex
	armed        bool
	lastActivity time.Time
	fired        bool
}

func NewWatchdog(c clock.Clock, interval, threshold time.Duration, onExpire func()) *Watchdog {
	if c == nil {
		c = clock.Real()
	}
	return &Watchdog{
		clock:     c,
		interval:  interval,
		threshold: threshold,
		onExpire:  onExpire,
		tick:      clock.NewSlot(c),
	}
}

// Arm starts polling with fresh activity. Arming an armed watchdog only
// refreshes its activity timestamp.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActivity = w.clock.Now()
	w.fired = false
	if w.armed {
		return
	}
	w.armed = true
	w.tick.Schedule(w.interval, w.check)
}

// Disarm stops polling.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armed = false
	w.tick.Cancel()
}

// Touch records activity and ends the current inactivity episode.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActivity = w.clock.Now()
	w.fired = false
}

func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

func (w *Watchdog) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity
}

func (w *Watchdog) check() {
	w.mu.Lock()
	if !w.armed {
		w.mu.Unlock()
		return
	}
	expired := !w.fired && w.clock.Now().Sub(w.lastActivity) > w.threshold
	if expired {
		w.fired = true
	}
	w.tick.Schedule(w.interval, w.check)
	onExpire := w.onExpire
	w.mu.Unlock()

	if expired && onExpire != nil {
		onExpire()
	}
}
