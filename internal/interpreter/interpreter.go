package interpreter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/clock"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/conversation"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"github.com/loqalabs/loqa-interpreter/internal/recognition"
	"github.com/loqalabs/loqa-interpreter/internal/settings"
	"github.com/loqalabs/loqa-interpreter/internal/translate"
)

// Notice is a short-lived message for the user.
type Notice struct {
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	ExpiresAt time.Time `json:"expires_at"`
}

// State is a snapshot of the interpreter for API clients.
type State struct {
	ConversationID  string               `json:"conversation_id"`
	Speaker         conversation.Speaker `json:"speaker"`
	MyLanguage      string               `json:"my_language"`
	PartnerLanguage string               `json:"partner_language"`
	Recognition     recognition.State    `json:"recognition"`
	Transcript      string               `json:"transcript"`
	TranscriptFinal bool                 `json:"transcript_final"`
	CommitPending   bool                 `json:"commit_pending"`
	Notice          *Notice              `json:"notice,omitempty"`
	Preferences     settings.Preferences `json:"preferences"`
}

// Deps are the collaborators the interpreter drives.
type Deps struct {
	Recognizer recognition.Recognizer
	Translator translate.Translator
	Settings   settings.Store
	Journal    *Journal
	Clock      clock.Clock
}

type Options struct {
	MyLanguage      string
	PartnerLanguage string
	NoticeTTL       time.Duration
	VisibilityDelay time.Duration
	Session         recognition.Options
	Commit          conversation.CommitOptions
	Conversation    conversation.Options
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		MyLanguage:      cfg.Conversation.MyLanguage,
		PartnerLanguage: cfg.Conversation.PartnerLanguage,
		NoticeTTL:       config.Millis(cfg.Conversation.NoticeTTLMS),
		VisibilityDelay: config.Millis(cfg.Visibility.ResumeDelayMS),
		Session:         recognition.OptionsFromConfig(cfg),
		Commit:          conversation.CommitOptionsFromConfig(cfg.Commit),
		Conversation: conversation.Options{
			MaxMessages: cfg.Conversation.MaxMessages,
			Timeout:     config.Millis(cfg.Translation.TimeoutMS),
		},
	}
}

// Interpreter is the host around one shared microphone: it hands the
// microphone between the two parties, feeds transcripts to the committer and
// turns the microphone off when recognition gives up.
type Interpreter struct {
	session    *recognition.Session
	visibility *recognition.VisibilityRecovery
	committer  *conversation.Committer
	conv       *conversation.Conversation
	translator translate.Translator
	settings   settings.Store
	journal    *Journal
	clock      clock.Clock
	opts       Options
	log        *slog.Logger
	noticeSlot *clock.Slot

	// ops serializes speaker and language changes; mu guards the fields.
	ops         sync.Mutex
	mu          sync.Mutex
	speaker     conversation.Speaker
	myLang      string
	partnerLang string
	notice      *Notice
	prefs       settings.Preferences
}

func New(ctx context.Context, deps Deps, opts Options, logger *slog.Logger) (*Interpreter, error) {
	if deps.Recognizer == nil {
		return nil, errors.New("interpreter requires a recognizer")
	}
	if deps.Translator == nil {
		return nil, errors.New("interpreter requires a translator")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Settings == nil {
		deps.Settings = settings.NewMemoryStore()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = 4 * time.Second
	}
	if opts.MyLanguage == "" {
		opts.MyLanguage = "en-US"
	}
	if opts.PartnerLanguage == "" {
		opts.PartnerLanguage = "ja-JP"
	}

	prefs, err := settings.Load(ctx, deps.Settings)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	sessionOpts := opts.Session
	sessionOpts.Language = opts.MyLanguage
	session := recognition.NewSession(deps.Recognizer, deps.Clock, sessionOpts, logger)
	committer := conversation.NewCommitter(deps.Clock, opts.Commit, session, logger)
	conv := conversation.New(ctx, deps.Translator, deps.Journal, deps.Clock, opts.Conversation, logger)

	i := &Interpreter{
		session:     session,
		visibility:  recognition.NewVisibilityRecovery(session, deps.Clock, opts.VisibilityDelay),
		committer:   committer,
		conv:        conv,
		translator:  deps.Translator,
		settings:    deps.Settings,
		journal:     deps.Journal,
		clock:       deps.Clock,
		opts:        opts,
		log:         logger.With(slog.String("component", "interpreter")),
		noticeSlot:  clock.NewSlot(deps.Clock),
		speaker:     conversation.SpeakerNone,
		myLang:      opts.MyLanguage,
		partnerLang: opts.PartnerLanguage,
		prefs:       prefs,
	}

	session.OnTranscript(func(t recognition.Transcript) { committer.TranscriptChanged(t.Text) })
	session.OnAutoStop(i.handleAutoStop)
	session.OnFatal(i.handleFatal)
	committer.OnCommit(i.handleCommit)

	deps.Journal.Open(conv.ID(), opts.MyLanguage, opts.PartnerLanguage)
	i.log.Info("interpreter ready",
		slog.String("conversation_id", conv.ID()),
		slog.String("my_language", opts.MyLanguage),
		slog.String("partner_language", opts.PartnerLanguage))
	return i, nil
}

// SetSpeaker hands the microphone to next. The previous speaker's buffer is
// flushed first, then the recognizer switches language, then listening is
// turned on or off. The new speaker starts with an empty transcript.
func (i *Interpreter) SetSpeaker(next conversation.Speaker) {
	i.ops.Lock()
	defer i.ops.Unlock()
	i.setSpeakerLocked(next)
}

// ToggleSpeaker activates s, or releases the microphone when s already
// holds it.
func (i *Interpreter) ToggleSpeaker(s conversation.Speaker) conversation.Speaker {
	i.ops.Lock()
	defer i.ops.Unlock()
	next := s
	if i.Speaker() == s {
		next = conversation.SpeakerNone
	}
	i.setSpeakerLocked(next)
	return next
}

func (i *Interpreter) setSpeakerLocked(next conversation.Speaker) {
	i.mu.Lock()
	if next == i.speaker {
		i.mu.Unlock()
		return
	}
	previous := i.speaker
	i.speaker = next
	lang := i.languageLocked(next)
	i.mu.Unlock()

	i.committer.SetSpeaker(next)
	i.session.ClearTranscript()
	if next.Active() {
		i.session.SetLanguage(lang)
	}
	i.session.SetActive(next.Active())
	i.log.Info("speaker changed", slog.String("from", string(previous)), slog.String("to", string(next)))
}

// SetLanguages updates either party's language; empty values are kept.
// The recognizer follows the active speaker's language.
func (i *Interpreter) SetLanguages(my, partner string) {
	i.ops.Lock()
	defer i.ops.Unlock()

	i.mu.Lock()
	if my != "" {
		i.myLang = my
	}
	if partner != "" {
		i.partnerLang = partner
	}
	speaker := i.speaker
	lang := i.languageLocked(speaker)
	my, partner = i.myLang, i.partnerLang
	i.mu.Unlock()

	if speaker.Active() {
		i.session.SetLanguage(lang)
	}
	i.journal.Open(i.conv.ID(), my, partner)
}

// SetVisible reports page visibility changes.
func (i *Interpreter) SetVisible(visible bool) {
	i.visibility.SetVisible(visible)
}

func (i *Interpreter) Speaker() conversation.Speaker {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.speaker
}

func (i *Interpreter) State() State {
	t := i.session.Transcript()
	st := State{
		ConversationID:  i.conv.ID(),
		Recognition:     i.session.State(),
		Transcript:      t.Text,
		TranscriptFinal: t.Final,
		CommitPending:   i.committer.Pending(),
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	st.Speaker = i.speaker
	st.MyLanguage = i.myLang
	st.PartnerLanguage = i.partnerLang
	st.Preferences = i.prefs
	if i.notice != nil {
		n := *i.notice
		st.Notice = &n
	}
	return st
}

func (i *Interpreter) Messages() []conversation.Message {
	return i.conv.Messages()
}

// ClearMessages empties the conversation log and forgets cached
// translations of it.
func (i *Interpreter) ClearMessages() {
	i.conv.Clear()
	if p, ok := i.translator.(translate.Purger); ok {
		p.Purge()
	}
}

func (i *Interpreter) OnMessage(fn func(conversation.Message)) {
	i.conv.OnUpdate(fn)
}

func (i *Interpreter) Preferences() settings.Preferences {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.prefs
}

// UpdatePreferences validates and persists prefs. Empty fields keep their
// current value.
func (i *Interpreter) UpdatePreferences(ctx context.Context, prefs settings.Preferences) (settings.Preferences, error) {
	current := i.Preferences()
	if prefs.Theme == "" {
		prefs.Theme = current.Theme
	}
	if prefs.Layout == "" {
		prefs.Layout = current.Layout
	}
	if err := settings.Save(ctx, i.settings, prefs); err != nil {
		return current, err
	}
	i.mu.Lock()
	i.prefs = prefs
	i.mu.Unlock()
	return prefs, nil
}

// Notice returns the current notice, if it has not expired.
func (i *Interpreter) Notice() (Notice, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.notice == nil {
		return Notice{}, false
	}
	return *i.notice, true
}

func (i *Interpreter) Session() *recognition.Session {
	return i.session
}

// Close stops listening and waits for in-flight translations.
func (i *Interpreter) Close() {
	i.ops.Lock()
	i.visibility.Close()
	i.committer.Close()
	i.session.Close()
	i.noticeSlot.Cancel()
	i.ops.Unlock()
	i.conv.Close()
}

func (i *Interpreter) handleCommit(c conversation.Commit) {
	i.mu.Lock()
	source := i.languageLocked(c.Speaker)
	target := i.languageLocked(c.Speaker.Other())
	i.mu.Unlock()
	i.conv.Add(c, source, target)
}

func (i *Interpreter) handleAutoStop() {
	threshold := i.opts.Session.WatchdogThreshold
	if threshold <= 0 {
		threshold = 10 * time.Second
	}
	i.stopMicrophone("silence", fmt.Sprintf("Microphone turned off after %s of silence", threshold))
}

func (i *Interpreter) handleFatal(kind recognition.FaultKind) {
	i.stopMicrophone(string(kind), fmt.Sprintf("Speech recognition stopped: %s", kind))
}

func (i *Interpreter) stopMicrophone(reason, text string) {
	i.ops.Lock()
	defer i.ops.Unlock()

	speaker := i.Speaker()
	if !speaker.Active() {
		return
	}
	i.setSpeakerLocked(conversation.SpeakerNone)
	kind := "info"
	if reason != "silence" {
		kind = "error"
	}
	i.showNotice(kind, text)
	i.journal.PublishMicrophone(protocol.MicrophoneEvent{
		ConversationID: i.conv.ID(),
		Reason:         reason,
		Speaker:        string(speaker),
		Timestamp:      i.clock.Now().UTC(),
	})
	i.log.Info("microphone turned off", slog.String("reason", reason), slog.String("speaker", string(speaker)))
}

func (i *Interpreter) showNotice(kind, text string) {
	i.mu.Lock()
	i.notice = &Notice{Kind: kind, Text: text, ExpiresAt: i.clock.Now().Add(i.opts.NoticeTTL)}
	i.mu.Unlock()
	i.noticeSlot.Schedule(i.opts.NoticeTTL, func() {
		i.mu.Lock()
		i.notice = nil
		i.mu.Unlock()
	})
}

func (i *Interpreter) languageLocked(s conversation.Speaker) string {
	switch s {
	case conversation.SpeakerMe:
		return i.myLang
	case conversation.SpeakerPartner:
		return i.partnerLang
	}
	return ""
}
