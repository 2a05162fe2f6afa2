package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/guysoft/craftbeerpibot/internal/config"
	"github.com/guysoft/craftbeerpibot/internal/domain"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func Open(cfg config.Config) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	// handlers run concurrently; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS timezone_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_chat_id INTEGER NOT NULL,
			telegram_user_id INTEGER NOT NULL,
			timezone TEXT NOT NULL,
			exit_code INTEGER NOT NULL,
			applied_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_timezone_changes_applied_at ON timezone_changes (applied_at);`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration query: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) RecordTimezoneChange(ctx context.Context, change domain.TimezoneChange) error {
	appliedAt := change.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timezone_changes (telegram_chat_id, telegram_user_id, timezone, exit_code, applied_at)
		VALUES (?, ?, ?, ?, ?);
	`, change.ChatID, change.UserID, change.Timezone, change.ExitCode, appliedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record timezone change: %w", err)
	}
	return nil
}

// ListTimezoneChanges returns the most recent changes first.
func (s *SQLiteStore) ListTimezoneChanges(ctx context.Context, limit int) ([]domain.TimezoneChange, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, telegram_chat_id, telegram_user_id, timezone, exit_code, applied_at
		FROM timezone_changes
		ORDER BY id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.TimezoneChange, 0)
	for rows.Next() {
		var change domain.TimezoneChange
		var appliedAt string
		if err := rows.Scan(&change.ID, &change.ChatID, &change.UserID, &change.Timezone, &change.ExitCode, &appliedAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, appliedAt)
		if err != nil {
			return nil, fmt.Errorf("parse applied_at %q: %w", appliedAt, err)
		}
		change.AppliedAt = parsed
		out = append(out, change)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
