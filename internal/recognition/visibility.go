package recognition

import (
	"sync"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/clock"
)

// Resumer is the part of Session that VisibilityRecovery drives.
type Resumer interface {
	Active() bool
	Resume()
}

// VisibilityRecovery resumes recognition after the host comes back to the
// foreground.
type VisibilityRecovery struct {
	session Resumer
	delay   time.Duration
	resume  *clock.Slot

	mu        sync.Mutex
	wasHidden bool
}

func NewVisibilityRecovery(session Resumer, c clock.Clock, delay time.Duration) *VisibilityRecovery {
	return &VisibilityRecovery{
		session: session,
		delay:   delay,
		resume:  clock.NewSlot(c),
	}
}

// Hidden records that the host went to the background.
func (v *VisibilityRecovery) Hidden() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wasHidden = true
	v.resume.Cancel()
}

// Visible schedules a resume if the host was hidden and listening is wanted.
// Redundant visible events are ignored.
func (v *VisibilityRecovery) Visible() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.wasHidden {
		return
	}
	v.wasHidden = false
	if !v.session.Active() {
		return
	}
	v.resume.Schedule(v.delay, func() {
		if v.session.Active() {
			v.session.Resume()
		}
	})
}

// SetVisible dispatches to Hidden or Visible.
func (v *VisibilityRecovery) SetVisible(visible bool) {
	if visible {
		v.Visible()
		return
	}
	v.Hidden()
}

// Close cancels a pending resume.
func (v *VisibilityRecovery) Close() {
	v.resume.Cancel()
}

func (v *VisibilityRecovery) Pending() bool {
	return v.resume.Pending()
}
