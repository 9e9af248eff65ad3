package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// ErrMissingCredential is returned by providers that need an API key they
// were not given. The chain skips such providers quietly.
var ErrMissingCredential = errors.New("translation credential missing")

// Request is one utterance to translate. Languages are BCP-47 tags.
type Request struct {
	Text   string
	Source string
	Target string
}

// Result is the translated text and the provider that produced it.
type Result struct {
	Text     string
	Provider string
}

// Translator defines a pluggable translation backend.
type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, req Request) (Result, error)

func (f TranslatorFunc) Translate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// FromConfig assembles the configured provider chain behind the cache.
func FromConfig(cfg config.TranslationConfig, logger *slog.Logger) (Translator, error) {
	client := &http.Client{Timeout: config.Millis(cfg.TimeoutMS)}
	var providers []Provider
	for _, name := range cfg.Providers {
		switch name {
		case "deepl":
			providers = append(providers, Provider{Name: name, Translator: NewDeepLTranslator(cfg.DeepLEndpoint, cfg.DeepLAuthKey, client)})
		case "mymemory":
			providers = append(providers, Provider{Name: name, Translator: NewMyMemoryTranslator(cfg.MyMemoryEndpoint, cfg.MyMemoryEmail, client)})
		case "exec":
			t, err := NewExecTranslator(cfg.Command)
			if err != nil {
				return nil, err
			}
			providers = append(providers, Provider{Name: name, Translator: t})
		case "mock":
			providers = append(providers, Provider{Name: name, Translator: NewMockTranslator(0)})
		default:
			return nil, fmt.Errorf("unknown translation provider %q", name)
		}
	}
	if len(providers) == 0 {
		return nil, errors.New("no translation providers configured")
	}
	chain := NewChain(providers, config.Millis(cfg.TimeoutMS), logger)
	if cfg.CacheSize <= 0 {
		return chain, nil
	}
	return NewCache(chain, cfg.CacheSize)
}

// baseLanguage returns the primary subtag of a BCP-47 tag, lower-cased.
func baseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

func elapsedMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
