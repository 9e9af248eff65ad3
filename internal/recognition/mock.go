package recognition

import (
	"errors"
	"sync"
)

// MockRecognizer is an in-process recognizer driven by its caller. It backs
// the "mock" recognition mode and the package tests.
type MockRecognizer struct {
	mu        sync.Mutex
	settings  Settings
	handlers  Handlers
	started   bool
	startErrs []error
	starts    int
	stops     int
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{}
}

func (m *MockRecognizer) Configure(settings Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
}

func (m *MockRecognizer) SetHandlers(handlers Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = handlers
}

func (m *MockRecognizer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.startErrs) > 0 {
		err := m.startErrs[0]
		m.startErrs = m.startErrs[1:]
		if err != nil {
			return err
		}
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true
	m.starts++
	return nil
}

func (m *MockRecognizer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	m.started = false
	m.stops++
	return nil
}

// FailStarts queues errors returned by the next Start calls.
func (m *MockRecognizer) FailStarts(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErrs = append(m.startErrs, errs...)
}

// Emit delivers a recognition result.
func (m *MockRecognizer) Emit(r Result) error {
	m.mu.Lock()
	started := m.started
	h := m.handlers.OnResult
	m.mu.Unlock()
	if !started {
		return errors.New("mock recognizer not started")
	}
	if h != nil {
		h(r)
	}
	return nil
}

// Fail reports a fault, after which the handle stops and fires its end event.
func (m *MockRecognizer) Fail(kind FaultKind) {
	m.mu.Lock()
	m.started = false
	onError := m.handlers.OnError
	m.mu.Unlock()
	if onError != nil {
		onError(string(kind))
	}

	m.mu.Lock()
	onEnd := m.handlers.OnEnd
	m.mu.Unlock()
	if onEnd != nil {
		onEnd()
	}
}

// End simulates the handle stopping on its own.
func (m *MockRecognizer) End() {
	m.mu.Lock()
	m.started = false
	onEnd := m.handlers.OnEnd
	m.mu.Unlock()
	if onEnd != nil {
		onEnd()
	}
}

// Die simulates a handle that stops producing anything without reporting it.
func (m *MockRecognizer) Die() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
}

func (m *MockRecognizer) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *MockRecognizer) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *MockRecognizer) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *MockRecognizer) HandlersAttached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers.Attached()
}

func (m *MockRecognizer) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}
