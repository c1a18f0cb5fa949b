package dialer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ============================================
// POSTGRES STORAGE
// Row-per-entry persistence for deployments that already run Postgres
// ============================================

// PostgresStorage persists the call log in a call_history table, one row per
// entry. The entry itself is stored as JSONB so schema churn in CallRecord
// does not require migrations; position preserves newest-first ordering.
type PostgresStorage struct {
	db *pgxpool.Pool
}

// NewPostgresStorage creates a Postgres-backed storage and ensures the table
// exists.
func NewPostgresStorage(ctx context.Context, db *pgxpool.Pool) (*PostgresStorage, error) {
	schema := `
		CREATE TABLE IF NOT EXISTS call_history (
			correlation_id TEXT PRIMARY KEY,
			position       INT NOT NULL,
			entry          JSONB NOT NULL,
			recorded_at    TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := db.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure call_history table: %w", err)
	}
	return &PostgresStorage{db: db}, nil
}

// Load reads the full log in stored order.
func (s *PostgresStorage) Load(ctx context.Context) ([]HistoryEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT entry FROM call_history ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load call history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan call history row: %w", err)
		}
		var entry HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode call history row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call history: %w", err)
	}
	return entries, nil
}

// Save replaces the persisted log atomically.
func (s *PostgresStorage) Save(ctx context.Context, entries []HistoryEntry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM call_history`); err != nil {
		return fmt.Errorf("failed to clear call history: %w", err)
	}

	insert := `
		INSERT INTO call_history (correlation_id, position, entry, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (correlation_id) DO UPDATE
		SET position = EXCLUDED.position, entry = EXCLUDED.entry
	`
	for i, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to encode call history entry: %w", err)
		}
		if _, err := tx.Exec(ctx, insert, entry.CorrelationID(), i, data, entry.RecordedAt); err != nil {
			return fmt.Errorf("failed to write call history entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit call history: %w", err)
	}
	return nil
}
