package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process logger: JSON to stdout, plus a rotating file when
// telemetry.log_file is set. The returned closer flushes the file.
func New(cfg config.TelemetryConfig) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     30,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closer = rotator
	}
	return NewWithWriter(out, cfg.LogLevel), closer
}

func NewWithWriter(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a config level name to slog; unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
