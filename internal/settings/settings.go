package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

const (
	KeyTheme  = "loqa.theme"
	KeyLayout = "loqa.layout"
)

var (
	// ErrInvalidValue is returned for unknown keys or disallowed values.
	ErrInvalidValue = errors.New("invalid setting value")
)

var allowed = map[string][]string{
	KeyTheme:  {"light", "dark"},
	KeyLayout: {"me-left", "me-right"},
}

var defaults = map[string]string{
	KeyTheme:  "light",
	KeyLayout: "me-left",
}

// Preferences are the durable UI choices.
type Preferences struct {
	Theme  string `json:"theme"`
	Layout string `json:"layout"`
}

// Store persists preferences as key-value pairs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Validate reports whether value is allowed for key.
func Validate(key, value string) error {
	values, ok := allowed[key]
	if !ok {
		return fmt.Errorf("%w: unknown key %q", ErrInvalidValue, key)
	}
	for _, v := range values {
		if v == value {
			return nil
		}
	}
	return fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, value)
}

// Open returns the configured backend.
func Open(ctx context.Context, cfg config.SettingsConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path, logger)
	}
	return nil, fmt.Errorf("unknown settings backend %q", cfg.Backend)
}

// Load reads preferences, falling back to defaults for missing or invalid
// stored values.
func Load(ctx context.Context, store Store) (Preferences, error) {
	theme, err := load(ctx, store, KeyTheme)
	if err != nil {
		return Preferences{}, err
	}
	layout, err := load(ctx, store, KeyLayout)
	if err != nil {
		return Preferences{}, err
	}
	return Preferences{Theme: theme, Layout: layout}, nil
}

// Save validates and writes every preference.
func Save(ctx context.Context, store Store, prefs Preferences) error {
	if err := Validate(KeyTheme, prefs.Theme); err != nil {
		return err
	}
	if err := Validate(KeyLayout, prefs.Layout); err != nil {
		return err
	}
	if err := store.Set(ctx, KeyTheme, prefs.Theme); err != nil {
		return err
	}
	return store.Set(ctx, KeyLayout, prefs.Layout)
}

func load(ctx context.Context, store Store, key string) (string, error) {
	value, ok, err := store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || Validate(key, value) != nil {
		return defaults[key], nil
	}
	return value, nil
}
