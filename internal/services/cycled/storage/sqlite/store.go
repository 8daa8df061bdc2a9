// Package sqlite provides SQLite-backed invocation audit persistence.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/impactworks/impactstrike/internal/platform/storage/sqlitemigrate"
	"github.com/impactworks/impactstrike/internal/services/cycled/storage"
	"github.com/impactworks/impactstrike/internal/services/cycled/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed invocation audit persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a cycled SQLite store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordInvocation persists one orchestrator invocation outcome.
func (s *Store) RecordInvocation(ctx context.Context, record storage.InvocationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	record.Phase = strings.TrimSpace(record.Phase)
	record.Action = strings.TrimSpace(record.Action)
	record.Status = strings.TrimSpace(record.Status)
	record.TxHash = strings.TrimSpace(record.TxHash)
	record.LastError = strings.TrimSpace(record.LastError)
	if record.Phase == "" {
		return fmt.Errorf("phase is required")
	}
	if record.Status == "" {
		return fmt.Errorf("status is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO cycle_invocations (
	day,
	phase,
	action,
	status,
	tx_hash,
	last_error,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		record.Day,
		record.Phase,
		record.Action,
		record.Status,
		record.TxHash,
		record.LastError,
		record.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	return nil
}

// ListInvocations lists newest-first invocation records.
func (s *Store) ListInvocations(ctx context.Context, limit int) ([]storage.InvocationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	id,
	day,
	phase,
	action,
	status,
	tx_hash,
	last_error,
	created_at
FROM cycle_invocations
ORDER BY created_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	records := make([]storage.InvocationRecord, 0, limit)
	for rows.Next() {
		var record storage.InvocationRecord
		var createdAt int64
		if err := rows.Scan(
			&record.ID,
			&record.Day,
			&record.Phase,
			&record.Action,
			&record.Status,
			&record.TxHash,
			&record.LastError,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		record.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocations: %w", err)
	}
	return records, nil
}
