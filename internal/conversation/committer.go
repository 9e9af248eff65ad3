package conversation

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/loqalabs/loqa-interpreter/internal/clock"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// sentenceEnders are the characters that let an utterance commit on the
// short delay.
const sentenceEnders = ".!?。！？…"

// TranscriptResetter clears the recognizer's buffered utterance without
// producing a transcript update.
type TranscriptResetter interface {
	ResetTranscript()
}

// Commit is a finalized utterance handed off for translation.
type Commit struct {
	Speaker Speaker
	Text    string
	At      time.Time
}

type CommitOptions struct {
	PunctuationDelay time.Duration
	SilenceDelay     time.Duration
	DuplicateWindow  time.Duration
}

func CommitOptionsFromConfig(cfg config.CommitConfig) CommitOptions {
	return CommitOptions{
		PunctuationDelay: config.Millis(cfg.PunctuationDelayMS),
		SilenceDelay:     config.Millis(cfg.SilenceDelayMS),
		DuplicateWindow:  config.Millis(cfg.DuplicateWindowMS),
	}
}

func (o CommitOptions) withDefaults() CommitOptions {
	if o.PunctuationDelay <= 0 {
		o.PunctuationDelay = 800 * time.Millisecond
	}
	if o.SilenceDelay <= 0 {
		o.SilenceDelay = 2 * time.Second
	}
	if o.DuplicateWindow < 0 {
		o.DuplicateWindow = 0
	}
	return o
}

// Committer segments a live transcript into messages on silence.
type Committer struct {
	clock   clock.Clock
	opts    CommitOptions
	log     *slog.Logger
	timer   *clock.Slot
	commits metric.Int64Counter

	mu            sync.Mutex
	speaker       Speaker
	text          string
	lastCommitted string
	lastCommitAt  time.Time
	transcript    TranscriptResetter
	onCommit      func(Commit)
}

func NewCommitter(c clock.Clock, opts CommitOptions, transcript TranscriptResetter, logger *slog.Logger) *Committer {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cm := &Committer{
		clock:      c,
		opts:       opts.withDefaults(),
		log:        logger.With(slog.String("component", "committer")),
		timer:      clock.NewSlot(c),
		speaker:    SpeakerNone,
		transcript: transcript,
	}
	counter, err := otel.Meter("github.com/loqalabs/loqa-interpreter/conversation").Int64Counter("conversation.commits",
		metric.WithDescription("Utterances committed for translation"))
	if err != nil {
		cm.log.Warn("failed to create commits counter", slog.String("error", err.Error()))
	}
	cm.commits = counter
	return cm
}

// OnCommit registers the hand-off for committed utterances.
func (c *Committer) OnCommit(fn func(Commit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCommit = fn
}

// TranscriptChanged feeds the latest transcript text for the active speaker.
func (c *Committer) TranscriptChanged(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.speaker.Active() {
		return
	}
	trimmed := strings.TrimSpace(text)
	c.text = trimmed
	if trimmed == "" || c.recentDuplicateLocked(trimmed) {
		return
	}
	delay := c.opts.SilenceDelay
	if endsSentence(trimmed) {
		delay = c.opts.PunctuationDelay
	}
	c.timer.Schedule(delay, c.fire)
}

// SetSpeaker flushes the previous speaker's buffer and hands the
// microphone to next.
func (c *Committer) SetSpeaker(next Speaker) {
	c.mu.Lock()
	if next == c.speaker {
		c.mu.Unlock()
		return
	}
	c.timer.Cancel()
	commit, ok := c.commitLocked()
	c.text = ""
	c.lastCommitted = ""
	c.speaker = next
	if !ok && c.transcript != nil {
		c.transcript.ResetTranscript()
	}
	listener := c.onCommit
	c.mu.Unlock()

	if ok && listener != nil {
		listener(commit)
	}
}

// Flush commits whatever is buffered for the current speaker now.
func (c *Committer) Flush() {
	c.mu.Lock()
	c.timer.Cancel()
	commit, ok := c.commitLocked()
	listener := c.onCommit
	c.mu.Unlock()

	if ok && listener != nil {
		listener(commit)
	}
}

func (c *Committer) Speaker() Speaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaker
}

// Pending reports whether a commit timer is armed.
func (c *Committer) Pending() bool {
	return c.timer.Pending()
}

// LastCommitted returns the most recent commit text.
func (c *Committer) LastCommitted() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCommitted
}

func (c *Committer) Close() {
	c.timer.Cancel()
}

func (c *Committer) fire() {
	c.mu.Lock()
	commit, ok := c.commitLocked()
	listener := c.onCommit
	c.mu.Unlock()

	if ok && listener != nil {
		listener(commit)
	}
}

// commitLocked applies the prefix rule to the buffered text and, when
// something new remains, records and returns it.
func (c *Committer) commitLocked() (Commit, bool) {
	c.timer.Cancel()
	if !c.speaker.Active() {
		return Commit{}, false
	}
	candidate := c.text
	if candidate == c.lastCommitted && c.recentDuplicateLocked(candidate) {
		candidate = ""
	} else if rest, ok := stripCommitted(candidate, c.lastCommitted); ok {
		candidate = rest
	}
	if candidate == "" {
		c.text = ""
		return Commit{}, false
	}

	now := c.clock.Now()
	c.lastCommitted = c.text
	c.lastCommitAt = now
	c.text = ""
	if c.transcript != nil {
		c.transcript.ResetTranscript()
	}
	if c.commits != nil {
		c.commits.Add(context.Background(), 1, metric.WithAttributes(attribute.String("speaker", string(c.speaker))))
	}
	c.log.Debug("utterance committed", slog.String("speaker", string(c.speaker)), slog.Int("chars", len(candidate)))
	return Commit{Speaker: c.speaker, Text: candidate, At: now}, true
}

func (c *Committer) recentDuplicateLocked(text string) bool {
	if c.lastCommitted == "" || text != c.lastCommitted {
		return false
	}
	return c.clock.Now().Sub(c.lastCommitAt) <= c.opts.DuplicateWindow
}

// stripCommitted removes prefix from text when text extends it at a word or
// punctuation boundary, so "Hello. How are you?" after "Hello." yields
// "How are you?" while "Helloween" after "Hello" is left alone.
func stripCommitted(text, prefix string) (string, bool) {
	if prefix == "" || len(text) <= len(prefix) || !strings.HasPrefix(text, prefix) {
		return "", false
	}
	last, _ := utf8.DecodeLastRuneInString(prefix)
	next, _ := utf8.DecodeRuneInString(text[len(prefix):])
	if !unicode.IsSpace(next) && !unicode.IsPunct(last) && !unicode.IsSpace(last) {
		return "", false
	}
	return strings.TrimSpace(text[len(prefix):]), true
}

func endsSentence(text string) bool {
	if text == "" {
		return false
	}
	r := []rune(text)
	return strings.ContainsRune(sentenceEnders, r[len(r)-1])
}
