package recognition

import (
	"errors"
	"strings"
)

// ErrAlreadyStarted is returned by Recognizer.Start when a handle is already live.
var ErrAlreadyStarted = errors.New("recognizer already started")

// Settings configures a recognizer before Start.
type Settings struct {
	Language       string
	Continuous     bool
	InterimResults bool
}

// Result is one incremental recognition update: zero or more finalized
// segments and zero or more in-progress segments.
type Result struct {
	Final   []string
	Interim []string
}

// Handlers are the three callback slots of a recognizer. A zero Handlers
// detaches everything.
type Handlers struct {
	OnResult func(Result)
	OnError  func(kind string)
	OnEnd    func()
}

// Attached reports whether any slot is set.
func (h Handlers) Attached() bool {
	return h.OnResult != nil || h.OnError != nil || h.OnEnd != nil
}

// Recognizer abstracts a continuous speech-recognition backend. Adapters must
// not invoke handlers from inside Start or Stop.
type Recognizer interface {
	Configure(settings Settings)
	SetHandlers(handlers Handlers)
	Start() error
	Stop() error
}

// Transcript is the live text of the current utterance.
type Transcript struct {
	Text  string
	Final bool
}

func joinSegments(segments []string) string {
	var parts []string
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
