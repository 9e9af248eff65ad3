package recognition

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"github.com/nats-io/nats.go"
)

// busRecognizer drives a remote STT service over NATS. Every Start opens a
// fresh recognition session id so stale traffic from an earlier handle is
// ignored.
type busRecognizer struct {
	bus *bus.Client
	log *slog.Logger

	mu        sync.Mutex
	settings  Settings
	handlers  Handlers
	sessionID string
	subs      []*nats.Subscription
}

func NewBusRecognizer(client *bus.Client, logger *slog.Logger) Recognizer {
	return &busRecognizer{bus: client, log: logger.With(slog.String("component", "bus-recognizer"))}
}

func (r *busRecognizer) Configure(settings Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings
}

func (r *busRecognizer) SetHandlers(handlers Handlers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = handlers
}

func (r *busRecognizer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID != "" {
		return ErrAlreadyStarted
	}

	sessionID := uuid.NewString()
	subs, err := r.subscribe()
	if err != nil {
		unsubscribeAll(subs)
		return err
	}

	ctrl := protocol.RecognitionControl{
		SessionID:      sessionID,
		Language:       r.settings.Language,
		Continuous:     r.settings.Continuous,
		InterimResults: r.settings.InterimResults,
		Timestamp:      time.Now().UTC(),
	}
	if err := r.bus.PublishJSON(protocol.SubjectRecognitionStart, ctrl); err != nil {
		unsubscribeAll(subs)
		return fmt.Errorf("publish recognition start: %w", err)
	}
	r.sessionID = sessionID
	r.subs = subs
	r.log.Debug("recognition session opened",
		slog.String("session_id", sessionID),
		slog.String("language", r.settings.Language))
	return nil
}

func (r *busRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID == "" {
		return nil
	}
	sessionID := r.sessionID
	r.sessionID = ""
	unsubscribeAll(r.subs)
	r.subs = nil
	ctrl := protocol.RecognitionControl{SessionID: sessionID, Timestamp: time.Now().UTC()}
	if err := r.bus.PublishJSON(protocol.SubjectRecognitionStop, ctrl); err != nil {
		return fmt.Errorf("publish recognition stop: %w", err)
	}
	return nil
}

func (r *busRecognizer) subscribe() ([]*nats.Subscription, error) {
	var subs []*nats.Subscription
	for _, subject := range []string{protocol.SubjectTranscriptPartial, protocol.SubjectTranscriptFinal} {
		sub, err := bus.SubscribeJSON(r.bus, subject, r.handleTranscript)
		if err != nil {
			return subs, err
		}
		subs = append(subs, sub)
	}
	sub, err := bus.SubscribeJSON(r.bus, protocol.SubjectRecognitionError, r.handleFault)
	if err != nil {
		return subs, err
	}
	subs = append(subs, sub)
	sub, err = bus.SubscribeJSON(r.bus, protocol.SubjectRecognitionEnd, r.handleEnd)
	if err != nil {
		return subs, err
	}
	return append(subs, sub), nil
}

func (r *busRecognizer) handleTranscript(t protocol.Transcript) {
	handlers, ok := r.handlersFor(t.SessionID)
	if !ok || handlers.OnResult == nil {
		return
	}
	if t.Partial {
		handlers.OnResult(Result{Interim: []string{t.Text}})
		return
	}
	handlers.OnResult(Result{Final: []string{t.Text}})
}

func (r *busRecognizer) handleFault(f protocol.RecognitionFault) {
	handlers, ok := r.handlersFor(f.SessionID)
	if !ok || handlers.OnError == nil {
		return
	}
	handlers.OnError(f.Error)
}

func (r *busRecognizer) handleEnd(e protocol.RecognitionEnd) {
	r.mu.Lock()
	if e.SessionID == "" || e.SessionID != r.sessionID {
		r.mu.Unlock()
		return
	}
	r.sessionID = ""
	subs := r.subs
	r.subs = nil
	onEnd := r.handlers.OnEnd
	r.mu.Unlock()

	unsubscribeAll(subs)
	if onEnd != nil {
		onEnd()
	}
}

func (r *busRecognizer) handlersFor(sessionID string) (Handlers, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessionID == "" || sessionID != r.sessionID {
		return Handlers{}, false
	}
	return r.handlers, true
}

func unsubscribeAll(subs []*nats.Subscription) {
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}
