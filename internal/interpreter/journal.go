package interpreter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

// Journal fans conversation events out to the event store and the bus.
// Either sink may be nil.
type Journal struct {
	store *eventstore.Store
	bus   *bus.Client
	log   *slog.Logger
}

func NewJournal(store *eventstore.Store, busClient *bus.Client, logger *slog.Logger) *Journal {
	return &Journal{store: store, bus: busClient, log: logger.With(slog.String("component", "journal"))}
}

// Open records the conversation and its current languages.
func (j *Journal) Open(conversationID, myLanguage, partnerLanguage string) {
	if j == nil || !j.store.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := j.store.OpenConversation(ctx, eventstore.Conversation{
		ID:              conversationID,
		MyLanguage:      myLanguage,
		PartnerLanguage: partnerLanguage,
	})
	if err != nil {
		j.log.Warn("failed to record conversation", slog.String("error", err.Error()))
	}
}

// Publish implements conversation.Publisher.
func (j *Journal) Publish(subject string, evt protocol.MessageEvent) {
	if j == nil {
		return
	}
	j.record(subject, evt.ConversationID, evt.MessageID, evt.Speaker, evt)
}

func (j *Journal) PublishMicrophone(evt protocol.MicrophoneEvent) {
	if j == nil {
		return
	}
	j.record(protocol.SubjectMicrophoneStopped, evt.ConversationID, "", evt.Speaker, evt)
}

func (j *Journal) record(subject, conversationID, messageID, speaker string, payload any) {
	if j.store.Enabled() {
		data, err := json.Marshal(payload)
		if err != nil {
			j.log.Warn("failed to encode event", slog.String("subject", subject), slog.String("error", err.Error()))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = j.store.Append(ctx, eventstore.Entry{
			ConversationID: conversationID,
			MessageID:      messageID,
			Kind:           subject,
			Speaker:        speaker,
			Payload:        data,
		})
		cancel()
		if err != nil {
			j.log.Warn("failed to append event", slog.String("subject", subject), slog.String("error", err.Error()))
		}
	}
	if j.bus.Healthy() {
		if err := j.bus.PublishJSON(subject, payload); err != nil {
			j.log.Warn("failed to publish event", slog.String("subject", subject), slog.String("error", err.Error()))
		}
	}
}
