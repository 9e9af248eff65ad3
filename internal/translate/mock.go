package translate

import (
	"context"
	"strings"
	"time"
)

type mockTranslator struct {
	latency time.Duration
}

// NewMockTranslator echoes the text tagged with the target language.
func NewMockTranslator(latency time.Duration) Translator {
	return &mockTranslator{latency: latency}
}

func (m *mockTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if m.latency > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(m.latency):
		}
	}
	return Result{
		Text:     "[" + req.Target + "] " + strings.TrimSpace(req.Text),
		Provider: "mock",
	}, nil
}
