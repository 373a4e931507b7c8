// Package audit persists finished conversations: the full untruncated
// history together with the terminal reason, so a routing outcome can be
// inspected after the in-memory router audit ring has moved on.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/nugget/switchboard/internal/conversation"
)

// ErrNotFound is returned when no record exists for a conversation.
var ErrNotFound = errors.New("conversation not found")

// Supported database/sql driver names.
const (
	DriverCGo  = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPure = "sqlite"  // modernc.org/sqlite
)

// Entry is one finished conversation.
type Entry struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	Mode           conversation.Mode      `json:"mode"`
	EventKind      string                 `json:"event_kind,omitempty"`
	Reason         string                 `json:"reason"`
	Steps          int                    `json:"steps"`
	History        []conversation.Message `json:"history"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     time.Time              `json:"finished_at"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Reason string
	Mode   conversation.Mode
	Limit  int
}

// Store is a SQLite conversation audit store. All public methods are
// safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the audit database at path using the
// named driver. An empty driver selects DriverCGo.
func Open(driver, path string) (*Store, error) {
	if driver == "" {
		driver = DriverCGo
	}

	var dsn string
	switch driver {
	case DriverCGo:
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	case DriverPure:
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	default:
		return nil, fmt.Errorf("unsupported audit driver %q", driver)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database, creating the schema on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		mode            TEXT NOT NULL,
		event_kind      TEXT,
		reason          TEXT NOT NULL,
		steps           INTEGER NOT NULL,
		history_json    TEXT NOT NULL,
		started_at      TEXT NOT NULL,
		finished_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_conversation ON conversations(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_finished ON conversations(finished_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_reason ON conversations(reason);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a finished conversation. If e.ID is empty a UUIDv7 is
// generated; a zero FinishedAt is set to now.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate audit ID: %w", err)
		}
		e.ID = id.String()
	}
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = e.FinishedAt
	}
	history, err := json.Marshal(e.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations
			(id, conversation_id, mode, event_kind, reason, steps, history_json, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.ConversationID,
		string(e.Mode),
		e.EventKind,
		e.Reason,
		e.Steps,
		string(history),
		e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

const selectColumns = `id, conversation_id, mode, event_kind, reason, steps, history_json, started_at, finished_at`

// Get returns the most recent record for a conversation.
func (s *Store) Get(ctx context.Context, conversationID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM conversations
		 WHERE conversation_id = ?
		 ORDER BY finished_at DESC
		 LIMIT 1`, conversationID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// normalizeLimit applies the default (50) and cap (500) to a list limit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}

const listQuery = `
	SELECT ` + selectColumns + `
	FROM conversations
	WHERE (? IS NULL OR reason = ?)
	  AND (? IS NULL OR mode = ?)
	ORDER BY finished_at DESC
	LIMIT ?
`

// List returns finished conversations matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	reason := nullIfEmpty(f.Reason)
	mode := nullIfEmpty(string(f.Mode))

	rows, err := s.db.QueryContext(ctx, listQuery,
		reason, reason,
		mode, mode,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e                 Entry
		mode, history     string
		eventKind         sql.NullString
		started, finished string
	)
	if err := sc.Scan(&e.ID, &e.ConversationID, &mode, &eventKind, &e.Reason, &e.Steps, &history, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	e.Mode = conversation.Mode(mode)
	e.EventKind = eventKind.String
	if err := json.Unmarshal([]byte(history), &e.History); err != nil {
		return Entry{}, fmt.Errorf("decode history of %s: %w", e.ConversationID, err)
	}
	e.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	e.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
	return e, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
