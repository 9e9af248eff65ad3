package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	_ "modernc.org/sqlite"
)

// Conversation is one interpreter session between two parties.
type Conversation struct {
	ID              string    `json:"id"`
	MyLanguage      string    `json:"my_language"`
	PartnerLanguage string    `json:"partner_language"`
	CreatedAt       time.Time `json:"created_at"`
}

// Entry is a recorded message lifecycle step.
type Entry struct {
	ID             int64
	ConversationID string
	MessageID      string
	Kind           string
	Speaker        string
	Payload        []byte
	CreatedAt      time.Time
}

// Store keeps conversation history in SQLite.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. The ephemeral retention
// mode keeps nothing.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init event store schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS conversations (
    conversation_id TEXT PRIMARY KEY,
    my_language TEXT,
    partner_language TEXT,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL,
    message_id TEXT,
    kind TEXT NOT NULL,
    speaker TEXT,
    payload BLOB,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(conversation_id) REFERENCES conversations(conversation_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_entries_conversation_created ON entries(conversation_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Enabled reports whether anything is persisted.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// OpenConversation records a conversation, updating its languages when it
// already exists.
func (s *Store) OpenConversation(ctx context.Context, conv Conversation) error {
	if !s.Enabled() {
		return nil
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(conversation_id, my_language, partner_language, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET my_language=excluded.my_language, partner_language=excluded.partner_language`,
		conv.ID, conv.MyLanguage, conv.PartnerLanguage, conv.CreatedAt.UnixNano())
	return err
}

// Append writes an entry into the store.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if !s.Enabled() {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries(conversation_id, message_id, kind, speaker, payload, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		e.ConversationID, e.MessageID, e.Kind, e.Speaker, e.Payload, e.CreatedAt.UnixNano())
	return err
}

// History retrieves up to limit entries of a conversation, oldest first.
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]Entry, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, message_id, kind, speaker, payload, created_at
		 FROM entries WHERE conversation_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.MessageID, &e.Kind, &e.Speaker, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Conversations lists recorded conversations, newest first.
func (s *Store) Conversations(ctx context.Context, limit int) ([]Conversation, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, my_language, partner_language, created_at
		 FROM conversations ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var created int64
		if err := rows.Scan(&c.ID, &c.MyLanguage, &c.PartnerLanguage, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() {
		return nil
	}
	if s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM entries WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM conversations WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id IN (
			SELECT conversation_id FROM conversations ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Ensure checks the store is consistent with its retention mode.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
