package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/itxabrham07/instagram-mqtt/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), testLogger())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func msg(id, thread string, sender int64, text string, at time.Time) domain.Message {
	return domain.Message{
		ID:           id,
		ThreadID:     thread,
		SenderID:     sender,
		SenderHandle: "alice",
		Text:         text,
		Type:         domain.TypeText,
		Timestamp:    at,
	}
}

func TestOpen_MigratesToCurrentVersion(t *testing.T) {
	s := testStore(t)
	version, err := GetSchemaVersion(s.db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("schema version = %d, want %d", version, schemaVersion)
	}

	// A reopen applies nothing new.
	if err := RunMigrations(s.db, testLogger()); err != nil {
		t.Fatalf("re-running migrations: %v", err)
	}
}

func TestRecordMessage_DeduplicatesByMessageID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	m := msg("i1", "t1", 7, "hello", now)
	if err := s.RecordMessage(ctx, m); err != nil {
		t.Fatalf("RecordMessage() error: %v", err)
	}
	if err := s.RecordMessage(ctx, m); err != nil {
		t.Fatalf("duplicate RecordMessage() error: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Messages != 1 {
		t.Errorf("messages = %d, want 1 after duplicate insert", stats.Messages)
	}
}

func TestRecent_NewestFirstAndScoped(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	s.RecordMessage(ctx, msg("i1", "t1", 7, "first", base))
	s.RecordMessage(ctx, msg("i2", "t1", 8, "second", base.Add(time.Minute)))
	s.RecordMessage(ctx, msg("i3", "t1", 7, "third", base.Add(2*time.Minute)))
	s.RecordMessage(ctx, msg("x1", "t2", 9, "elsewhere", base.Add(3*time.Minute)))

	recent, err := s.Recent(ctx, "t1", 2)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d rows, want 2", len(recent))
	}
	if recent[0].Text != "third" || recent[1].Text != "second" {
		t.Errorf("order = %q, %q", recent[0].Text, recent[1].Text)
	}
	if recent[0].SenderHandle != "alice" {
		t.Errorf("SenderHandle = %q", recent[0].SenderHandle)
	}
}

func TestStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	s.RecordMessage(ctx, msg("i1", "t1", 7, "a", base))
	s.RecordMessage(ctx, msg("i2", "t2", 8, "b", base.Add(30*time.Minute)))

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.Messages != 2 || stats.Threads != 2 || stats.Senders != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.OldestAt.IsZero() || stats.NewestAt.Before(stats.OldestAt) {
		t.Errorf("time range = %v..%v", stats.OldestAt, stats.NewestAt)
	}
}

func TestStats_EmptyTable(t *testing.T) {
	s := testStore(t)
	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.Messages != 0 || !stats.OldestAt.IsZero() {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPrune_RemovesOnlyExpiredRows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.RecordMessage(ctx, msg("old1", "t1", 7, "ancient", time.Now().Add(-48*time.Hour)))
	s.RecordMessage(ctx, msg("old2", "t1", 7, "stale", time.Now().Add(-25*time.Hour)))
	s.RecordMessage(ctx, msg("new1", "t1", 7, "fresh", time.Now()))

	n, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d rows, want 2", n)
	}

	stats, _ := s.Stats(ctx)
	if stats.Messages != 1 {
		t.Errorf("messages = %d, want 1", stats.Messages)
	}
}
