package recognition

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/loqalabs/loqa-interpreter/internal/clock"
	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// State is the lifecycle position of a Session.
type State string

const (
	StateIdle           State = "idle"
	StateStarting       State = "starting"
	StateRunning        State = "running"
	StateRestartPending State = "restart_pending"
	StateStopped        State = "stopped"
)

// Options tunes restart timing and the watchdog.
type Options struct {
	Language            string
	RestartDelay        time.Duration
	NetworkRestartDelay time.Duration
	EndRestartDelay     time.Duration
	LanguageSwitchDelay time.Duration
	MaxRestartDelay     time.Duration
	BackoffMultiplier   float64
	WatchdogInterval    time.Duration
	WatchdogThreshold   time.Duration
	DuplicateWindow     time.Duration
}

// OptionsFromConfig builds session options from the runtime config.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Language:            cfg.Conversation.MyLanguage,
		RestartDelay:        config.Millis(cfg.Recognition.RestartDelayMS),
		NetworkRestartDelay: config.Millis(cfg.Recognition.NetworkRestartDelayMS),
		EndRestartDelay:     config.Millis(cfg.Recognition.EndRestartDelayMS),
		LanguageSwitchDelay: config.Millis(cfg.Recognition.LanguageSwitchDelayMS),
		MaxRestartDelay:     config.Millis(cfg.Recognition.MaxRestartDelayMS),
		BackoffMultiplier:   cfg.Recognition.RestartBackoffMultiple,
		WatchdogInterval:    config.Millis(cfg.Watchdog.IntervalMS),
		WatchdogThreshold:   config.Millis(cfg.Watchdog.ThresholdMS),
		DuplicateWindow:     config.Millis(cfg.Commit.DuplicateWindowMS),
	}
}

func (o Options) withDefaults() Options {
	if o.RestartDelay <= 0 {
		o.RestartDelay = 300 * time.Millisecond
	}
	if o.NetworkRestartDelay <= 0 {
		o.NetworkRestartDelay = 1500 * time.Millisecond
	}
	if o.MaxRestartDelay < o.NetworkRestartDelay {
		o.MaxRestartDelay = 10 * time.Second
	}
	if o.BackoffMultiplier < 1 {
		o.BackoffMultiplier = 2
	}
	if o.WatchdogInterval <= 0 {
		o.WatchdogInterval = time.Second
	}
	if o.WatchdogThreshold <= 0 {
		o.WatchdogThreshold = 10 * time.Second
	}
	if o.DuplicateWindow <= 0 {
		o.DuplicateWindow = 5 * time.Second
	}
	return o
}

// Session keeps one continuously listening recognizer alive across
// recoverable faults, natural ends and language switches.
type Session struct {
	rec      Recognizer
	clock    clock.Clock
	opts     Options
	log      *slog.Logger
	metrics  *instruments
	restart  *clock.Slot
	watchdog *Watchdog

	mu           sync.Mutex
	active       bool
	state        State
	language     string
	epoch        uint64
	backoff      *backoff.ExponentialBackOff
	buffer       transcriptBuffer
	onTranscript func(Transcript)
	onFatal      func(FaultKind)
	onAutoStop   func()
}

func NewSession(rec Recognizer, c clock.Clock, opts Options, logger *slog.Logger) *Session {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts = opts.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.RestartDelay
	bo.Multiplier = opts.BackoffMultiplier
	bo.MaxInterval = opts.MaxRestartDelay
	bo.RandomizationFactor = 0
	bo.Reset()

	log := logger.With(slog.String("component", "recognition-session"))
	s := &Session{
		rec:      rec,
		clock:    c,
		opts:     opts,
		log:      log,
		metrics:  newInstruments(log),
		restart:  clock.NewSlot(c),
		state:    StateIdle,
		language: opts.Language,
		backoff:  bo,
		buffer:   transcriptBuffer{window: opts.DuplicateWindow},
	}
	s.watchdog = NewWatchdog(c, opts.WatchdogInterval, opts.WatchdogThreshold, s.handleSilence)
	rec.Configure(s.settingsLocked())
	return s
}

// OnTranscript registers the listener for transcript updates.
func (s *Session) OnTranscript(fn func(Transcript)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTranscript = fn
}

// OnFatal registers the listener told when a fatal fault stops the session.
func (s *Session) OnFatal(fn func(FaultKind)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFatal = fn
}

// OnAutoStop registers the listener for the watchdog's silence signal.
func (s *Session) OnAutoStop(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAutoStop = fn
}

// SetActive starts or stops listening. Repeating the current value is a no-op.
func (s *Session) SetActive(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled == s.active {
		return
	}
	if !enabled {
		s.deactivateLocked()
		s.log.Info("recognition stopped")
		return
	}
	s.active = true
	s.epoch++
	s.rec.SetHandlers(s.handlersLocked(s.epoch))
	s.backoff.Reset()
	s.log.Info("recognition activated", slog.String("language", s.language))
	s.startLocked("activate")
}

// SetLanguage switches the recognition language, restarting the handle
// after the language-switch delay when active.
func (s *Session) SetLanguage(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tag == "" || tag == s.language {
		return
	}
	previous := s.language
	if s.active {
		s.state = StateRestartPending
		s.restart.Cancel()
		if err := s.rec.Stop(); err != nil {
			s.log.Debug("stop before language switch failed", slog.String("error", err.Error()))
		}
	}
	s.language = tag
	s.rec.Configure(s.settingsLocked())
	s.log.Info("recognition language changed", slog.String("from", previous), slog.String("to", tag))
	if s.active {
		s.restart.Schedule(s.opts.LanguageSwitchDelay, func() { s.fireRestart("language") })
	}
}

// Resume attempts a start while active unless a restart is already queued.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.restart.Pending() {
		return
	}
	s.startLocked("resume")
}

// ResetTranscript clears the buffered utterance without notifying listeners.
func (s *Session) ResetTranscript() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.reset()
}

// ClearTranscript clears the buffered utterance and forgets the last final,
// so the next speaker may say the same words again.
func (s *Session) ClearTranscript() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.forget()
}

// Close permanently stops the session.
func (s *Session) Close() {
	s.SetActive(false)
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

func (s *Session) Transcript() Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.current()
}

// RestartPending reports whether a restart timer is armed.
func (s *Session) RestartPending() bool {
	return s.restart.Pending()
}

func (s *Session) Watchdog() *Watchdog {
	return s.watchdog
}

func (s *Session) settingsLocked() Settings {
	return Settings{Language: s.language, Continuous: true, InterimResults: true}
}

func (s *Session) handlersLocked(epoch uint64) Handlers {
	return Handlers{
		OnResult: func(r Result) { s.handleResult(epoch, r) },
		OnError:  func(kind string) { s.handleFault(epoch, FaultKind(kind)) },
		OnEnd:    func() { s.handleEnd(epoch) },
	}
}

func (s *Session) currentLocked(epoch uint64) bool {
	return s.active && epoch == s.epoch
}

func (s *Session) startLocked(reason string) {
	s.state = StateStarting
	err := s.rec.Start()
	if err != nil && !errors.Is(err, ErrAlreadyStarted) {
		delay := s.backoff.NextBackOff()
		s.log.Warn("recognizer start failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay))
		s.scheduleRestartLocked(delay, "retry")
		return
	}
	s.state = StateRunning
	s.backoff.Reset()
	s.watchdog.Arm()
}

func (s *Session) scheduleRestartLocked(delay time.Duration, reason string) {
	s.state = StateRestartPending
	s.restart.Schedule(delay, func() { s.fireRestart(reason) })
}

func (s *Session) fireRestart(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		s.state = StateStopped
		return
	}
	s.metrics.restart(reason)
	s.log.Debug("restarting recognizer", slog.String("reason", reason))
	s.startLocked(reason)
}

func (s *Session) deactivateLocked() {
	s.active = false
	s.epoch++
	s.restart.Cancel()
	s.watchdog.Disarm()
	s.rec.SetHandlers(Handlers{})
	if err := s.rec.Stop(); err != nil {
		s.log.Debug("recognizer stop failed", slog.String("error", err.Error()))
	}
	s.state = StateStopped
}

func (s *Session) handleResult(epoch uint64, r Result) {
	s.mu.Lock()
	if !s.currentLocked(epoch) {
		s.mu.Unlock()
		return
	}
	s.watchdog.Touch()
	if s.state == StateStarting {
		s.state = StateRunning
	}
	t, changed := s.buffer.apply(r, s.clock.Now())
	listener := s.onTranscript
	s.mu.Unlock()

	if changed && listener != nil {
		listener(t)
	}
}

func (s *Session) handleFault(epoch uint64, kind FaultKind) {
	s.mu.Lock()
	if !s.currentLocked(epoch) {
		s.mu.Unlock()
		return
	}
	s.metrics.fault(kind)
	if kind.Recoverable() {
		delay := s.opts.RestartDelay
		if kind == FaultNetwork {
			delay = s.opts.NetworkRestartDelay
		}
		s.log.Debug("recoverable recognizer fault", slog.String("kind", string(kind)), slog.Duration("restart_in", delay))
		s.scheduleRestartLocked(delay, string(kind))
		s.mu.Unlock()
		return
	}

	s.log.Warn("fatal recognizer fault", slog.String("kind", string(kind)))
	s.deactivateLocked()
	listener := s.onFatal
	s.mu.Unlock()

	if listener != nil {
		listener(kind)
	}
}

func (s *Session) handleEnd(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(epoch) || s.state == StateRestartPending {
		return
	}
	s.scheduleRestartLocked(s.opts.EndRestartDelay, "end")
}

func (s *Session) handleSilence() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.metrics.autostop()
	s.log.Info("no recognition activity, requesting auto-stop", slog.Duration("threshold", s.opts.WatchdogThreshold))
	listener := s.onAutoStop
	s.mu.Unlock()

	if listener != nil {
		listener()
	}
}
