package conversation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-interpreter/internal/clock"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"github.com/loqalabs/loqa-interpreter/internal/translate"
)

// FailureMarker replaces the translation of a message whose translation
// request failed.
const FailureMarker = "[translation failed]"

// Message is one committed utterance and its translation.
type Message struct {
	ID             string    `json:"id"`
	Speaker        Speaker   `json:"speaker"`
	Original       string    `json:"original"`
	Translated     string    `json:"translated,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	Pending        bool      `json:"pending"`
	Failed         bool      `json:"failed,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	TranslatedAt   time.Time `json:"translated_at,omitempty"`
}

// Publisher receives message lifecycle events.
type Publisher interface {
	Publish(subject string, evt protocol.MessageEvent)
}

type Options struct {
	MaxMessages int
	Timeout     time.Duration
}

// Conversation is the message log. Each added message is translated in the
// background; the caller never waits for the translator.
type Conversation struct {
	id         string
	translator translate.Translator
	publisher  Publisher
	clock      clock.Clock
	opts       Options
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	messages []Message
	onUpdate func(Message)
}

func New(parent context.Context, translator translate.Translator, publisher Publisher, c clock.Clock, opts Options, logger *slog.Logger) *Conversation {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	return &Conversation{
		id:         id,
		translator: translator,
		publisher:  publisher,
		clock:      c,
		opts:       opts,
		log:        logger.With(slog.String("component", "conversation"), slog.String("conversation_id", id)),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (c *Conversation) ID() string {
	return c.id
}

// OnUpdate registers a listener called whenever a message is added or its
// translation settles.
func (c *Conversation) OnUpdate(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = fn
}

// Add records a committed utterance and starts translating it from source to
// target.
func (c *Conversation) Add(commit Commit, source, target string) Message {
	msg := Message{
		ID:             uuid.NewString(),
		Speaker:        commit.Speaker,
		Original:       commit.Text,
		SourceLanguage: source,
		TargetLanguage: target,
		Pending:        true,
		CreatedAt:      commit.At,
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.clock.Now()
	}

	c.mu.Lock()
	c.messages = append(c.messages, msg)
	if limit := c.opts.MaxMessages; limit > 0 && len(c.messages) > limit {
		c.messages = append([]Message(nil), c.messages[len(c.messages)-limit:]...)
	}
	listener := c.onUpdate
	c.mu.Unlock()

	c.publish(protocol.SubjectMessageCommitted, msg)
	if listener != nil {
		listener(msg)
	}

	c.wg.Add(1)
	go c.translate(msg)
	return msg
}

func (c *Conversation) translate(msg Message) {
	defer c.wg.Done()
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.Timeout)
	defer cancel()

	res, err := c.translator.Translate(ctx, translate.Request{
		Text:   msg.Original,
		Source: msg.SourceLanguage,
		Target: msg.TargetLanguage,
	})

	c.mu.Lock()
	idx := c.indexLocked(msg.ID)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	updated := &c.messages[idx]
	updated.Pending = false
	updated.TranslatedAt = c.clock.Now()
	if err != nil {
		updated.Failed = true
		updated.Translated = FailureMarker
		updated.Error = err.Error()
	} else {
		updated.Translated = res.Text
		updated.Provider = res.Provider
	}
	snapshot := *updated
	listener := c.onUpdate
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("translation failed", slog.String("message_id", msg.ID), slog.String("error", err.Error()))
	}
	c.publish(protocol.SubjectMessageTranslated, snapshot)
	if listener != nil {
		listener(snapshot)
	}
}

func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

func (c *Conversation) Message(id string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.indexLocked(id); idx >= 0 {
		return c.messages[idx], true
	}
	return Message{}, false
}

// Clear drops every message. Translations still in flight are discarded.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// Close cancels outstanding translations and waits for them to settle.
func (c *Conversation) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Conversation) indexLocked(id string) int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Conversation) publish(subject string, msg Message) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(subject, protocol.MessageEvent{
		ConversationID: c.id,
		MessageID:      msg.ID,
		Speaker:        string(msg.Speaker),
		Original:       msg.Original,
		Translated:     msg.Translated,
		Provider:       msg.Provider,
		SourceLanguage: msg.SourceLanguage,
		TargetLanguage: msg.TargetLanguage,
		Failed:         msg.Failed,
		Error:          msg.Error,
		Timestamp:      c.clock.Now().UTC(),
	})
}
