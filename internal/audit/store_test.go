package audit

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/switchboard/internal/conversation"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open(DriverPure, ":memory:")
	require.NoError(t, err)
	// A second pooled connection would see its own empty in-memory db.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	require.NoError(t, err)
	return s
}

func entry(convID, reason string, mode conversation.Mode, finished time.Time) Entry {
	return Entry{
		ConversationID: convID,
		Mode:           mode,
		Reason:         reason,
		Steps:          2,
		History: []conversation.Message{
			{Sender: "user", Content: "what is the state of ticket 3?", Timestamp: finished.Add(-time.Second)},
			{Sender: "technical_support", Content: "Ticket 3 is in progress.", Timestamp: finished},
		},
		StartedAt:  finished.Add(-2 * time.Second),
		FinishedAt: finished,
	}
}

func TestStore_RecordAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.Record(ctx, entry("c1", "Finish", conversation.ModeDirect, now)))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "Finish", got.Reason)
	assert.Equal(t, conversation.ModeDirect, got.Mode)
	assert.Equal(t, 2, got.Steps)
	require.Len(t, got.History, 2)
	assert.Equal(t, "technical_support", got.History[1].Sender)
	assert.True(t, got.FinishedAt.Equal(now), "finished_at = %v, want %v", got.FinishedAt, now)
}

func TestStore_GetNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetReturnsLatest(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Record(ctx, entry("c1", "Finish", conversation.ModeDirect, now.Add(-time.Minute))))
	require.NoError(t, s.Record(ctx, entry("c1", "Answer", conversation.ModeDirect, now)))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Answer", got.Reason)
}

func TestStore_List(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	async := entry("c3", "LoopExhausted", conversation.ModeAsync, now)
	async.EventKind = "ticket create"
	require.NoError(t, s.Record(ctx, entry("c1", "Answer", conversation.ModeDirect, now.Add(-2*time.Second))))
	require.NoError(t, s.Record(ctx, entry("c2", "LoopExhausted", conversation.ModeDirect, now.Add(-time.Second))))
	require.NoError(t, s.Record(ctx, async))

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c3", all[0].ConversationID, "newest first")
	assert.Equal(t, "ticket create", all[0].EventKind)

	exhausted, err := s.List(ctx, Filter{Reason: "LoopExhausted"})
	require.NoError(t, err)
	assert.Len(t, exhausted, 2)

	asyncOnly, err := s.List(ctx, Filter{Mode: conversation.ModeAsync})
	require.NoError(t, err)
	require.Len(t, asyncOnly, 1)
	assert.Equal(t, "c3", asyncOnly[0].ConversationID)

	limited, err := s.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.List(ctx, Filter{Reason: "InvalidTarget"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 50, normalizeLimit(0))
	assert.Equal(t, 10, normalizeLimit(10))
	assert.Equal(t, 500, normalizeLimit(10000))
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.db")

	s, err := Open(DriverPure, path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Record(context.Background(), entry("c1", "Finish", conversation.ModeDirect, time.Now())))
	_, err = s.Get(context.Background(), "c1")
	assert.NoError(t, err)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("postgres", filepath.Join(t.TempDir(), "audit.db"))
	assert.Error(t, err)
}
