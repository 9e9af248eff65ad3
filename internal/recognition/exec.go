package recognition

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execRecognizer runs a streaming recognizer command. The command receives
// --language/--continuous/--interim flags and writes one JSON object per line:
//
//	{"final":["..."],"interim":["..."]}
//	{"error":"network"}
//
// The process exiting on its own is the end event.
type execRecognizer struct {
	cmd []string
	log *slog.Logger

	mu       sync.Mutex
	settings Settings
	handlers Handlers
	cancel   context.CancelFunc
	run      uint64
	running  bool
}

type execLine struct {
	Final   []string `json:"final,omitempty"`
	Interim []string `json:"interim,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func NewExecRecognizer(command string, logger *slog.Logger) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse recognition command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognition command is empty")
	}
	return &execRecognizer{cmd: args, log: logger.With(slog.String("component", "exec-recognizer"))}, nil
}

func (r *execRecognizer) Configure(settings Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings
}

func (r *execRecognizer) SetHandlers(handlers Handlers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = handlers
}

func (r *execRecognizer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyStarted
	}

	args := append([]string{}, r.cmd[1:]...)
	if r.settings.Language != "" {
		args = append(args, "--language", r.settings.Language)
	}
	if r.settings.Continuous {
		args = append(args, "--continuous")
	}
	if r.settings.InterimResults {
		args = append(args, "--interim")
	}

	ctx, cancel := context.WithCancel(context.Background())
	command := exec.CommandContext(ctx, r.cmd[0], args...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("recognition stdout: %w", err)
	}
	if err := command.Start(); err != nil {
		cancel()
		return fmt.Errorf("start recognition command: %w", err)
	}

	r.run++
	r.running = true
	r.cancel = cancel
	go r.read(r.run, command, stdout)
	return nil
}

func (r *execRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	r.running = false
	r.run++
	r.cancel()
	return nil
}

func (r *execRecognizer) read(run uint64, command *exec.Cmd, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg execLine
		if err := json.Unmarshal(line, &msg); err != nil {
			r.log.Warn("invalid recognizer output", slog.String("error", err.Error()))
			continue
		}
		handlers, ok := r.handlersFor(run)
		if !ok {
			continue
		}
		if msg.Error != "" {
			if handlers.OnError != nil {
				handlers.OnError(msg.Error)
			}
			continue
		}
		if handlers.OnResult != nil {
			handlers.OnResult(Result{Final: msg.Final, Interim: msg.Interim})
		}
	}
	if err := scanner.Err(); err != nil {
		r.log.Debug("recognizer output closed", slog.String("error", err.Error()))
	}
	if err := command.Wait(); err != nil {
		r.log.Debug("recognition command exited", slog.String("error", err.Error()))
	}

	r.mu.Lock()
	current := r.run == run
	if current {
		r.running = false
		r.cancel()
	}
	onEnd := r.handlers.OnEnd
	r.mu.Unlock()

	if current && onEnd != nil {
		onEnd()
	}
}

// handlersFor returns the handlers while run is still the live process.
func (r *execRecognizer) handlersFor(run uint64) (Handlers, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run != run {
		return Handlers{}, false
	}
	return r.handlers, true
}
