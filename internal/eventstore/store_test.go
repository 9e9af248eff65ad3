package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if es.Enabled() {
		t.Fatal("ephemeral store should not persist")
	}
	if err := es.Append(ctx, Entry{ConversationID: "c", Kind: "committed"}); err != nil {
		t.Fatalf("append on ephemeral store: %v", err)
	}
}

func TestAppendAndHistory(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	conv := Conversation{ID: "conv-123", MyLanguage: "en-US", PartnerLanguage: "ja-JP"}
	if err := es.OpenConversation(ctx, conv); err != nil {
		t.Fatalf("open conversation: %v", err)
	}
	entries := []Entry{
		{ConversationID: conv.ID, MessageID: "m1", Kind: "committed", Speaker: "me", Payload: []byte(`{"original":"Hello"}`)},
		{ConversationID: conv.ID, MessageID: "m1", Kind: "translated", Speaker: "me", Payload: []byte(`{"translated":"こんにちは"}`)},
	}
	for _, e := range entries {
		if err := es.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	history, err := es.History(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].Kind != "committed" || history[1].Kind != "translated" || history[1].MessageID != "m1" {
		t.Fatalf("unexpected order %+v", history)
	}
	if history[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at to round-trip")
	}

	convs, err := es.Conversations(ctx, 10)
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].PartnerLanguage != "ja-JP" {
		t.Fatalf("unexpected conversations %+v", convs)
	}
}

func TestPruneByDaysAndConversations(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.OpenConversation(ctx, Conversation{ID: "old"}); err != nil {
		t.Fatalf("open conversation: %v", err)
	}
	if err := es.Append(ctx, Entry{ConversationID: "old", Kind: "committed"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.OpenConversation(ctx, Conversation{ID: "new"}); err != nil {
		t.Fatalf("open conversation: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	history, err := es.History(ctx, "old", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatal("expected old conversation pruned")
	}
	convs, err := es.Conversations(ctx, 10)
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != "new" {
		t.Fatalf("unexpected conversations after prune %+v", convs)
	}
}
