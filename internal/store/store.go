package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/itxabrham07/instagram-mqtt/internal/domain"

	_ "modernc.org/sqlite"
)

// Store persists the direct-message history in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Record is one stored message row.
type Record struct {
	ID           int64
	MessageID    string
	ThreadID     string
	SenderID     int64
	SenderHandle string
	Type         string
	Text         string
	SentAt       time.Time
	CreatedAt    time.Time
}

// Stats summarizes the history table.
type Stats struct {
	Messages int64
	Threads  int64
	Senders  int64
	OldestAt time.Time
	NewestAt time.Time
}

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// RecordMessage inserts a message. Re-inserting the same message id (a poll
// sweep seeing an item again, or a replay after restart) is a no-op.
func (s *Store) RecordMessage(ctx context.Context, msg domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (message_id, thread_id, sender_id, sender_handle, type, text, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.SenderID, msg.SenderHandle, string(msg.Type), msg.Text, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record message %s: %w", msg.ID, err)
	}
	return nil
}

// Recent returns the newest messages in a thread, newest first.
func (s *Store) Recent(ctx context.Context, threadID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, thread_id, sender_id, sender_handle, type, text, sent_at, created_at
		 FROM messages WHERE thread_id = ? ORDER BY sent_at DESC LIMIT ?`,
		threadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.MessageID, &r.ThreadID, &r.SenderID, &r.SenderHandle, &r.Type, &r.Text, &r.SentAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats reports totals over the whole table.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var oldest, newest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT thread_id), COUNT(DISTINCT sender_id), MIN(sent_at), MAX(sent_at) FROM messages`,
	).Scan(&st.Messages, &st.Threads, &st.Senders, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("query history stats: %w", err)
	}
	if oldest.Valid {
		st.OldestAt = oldest.Time
	}
	if newest.Valid {
		st.NewestAt = newest.Time
	}
	return &st, nil
}

// Prune deletes messages sent before the retention horizon and returns how
// many rows went away.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	horizon := time.Now().Add(-retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE sent_at < ?`, horizon)
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("pruned message history", "rows", n, "horizon", horizon)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
