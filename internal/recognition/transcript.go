package recognition

import (
	"strings"
	"time"
)

// transcriptBuffer accumulates finalized segments of the current utterance
// plus the latest interim text.
type transcriptBuffer struct {
	finals      []string
	interim     string
	lastFinal   string
	lastFinalAt time.Time
	window      time.Duration
}

// apply folds r into the buffer. Finals win over interims in the same update,
// and a final equal to the previously accepted final is dropped while it is
// within the duplicate window.
func (b *transcriptBuffer) apply(r Result, now time.Time) (Transcript, bool) {
	if final := joinSegments(r.Final); final != "" {
		if final == b.lastFinal && now.Sub(b.lastFinalAt) <= b.window {
			return Transcript{}, false
		}
		b.lastFinal = final
		b.lastFinalAt = now
		b.finals = append(b.finals, final)
		b.interim = ""
		return Transcript{Text: b.text(), Final: true}, true
	}

	interim := joinSegments(r.Interim)
	if interim == b.interim {
		return Transcript{}, false
	}
	b.interim = interim
	return Transcript{Text: b.text(), Final: false}, true
}

func (b *transcriptBuffer) text() string {
	parts := append([]string(nil), b.finals...)
	if b.interim != "" {
		parts = append(parts, b.interim)
	}
	return strings.Join(parts, " ")
}

func (b *transcriptBuffer) current() Transcript {
	return Transcript{Text: b.text(), Final: b.interim == "" && len(b.finals) > 0}
}

// reset clears the utterance but keeps lastFinal so a final re-fired by a
// restarted handle is still recognized as a duplicate.
func (b *transcriptBuffer) reset() {
	b.finals = nil
	b.interim = ""
}

// forget clears the utterance and the duplicate memory.
func (b *transcriptBuffer) forget() {
	b.reset()
	b.lastFinal = ""
	b.lastFinalAt = time.Time{}
}
