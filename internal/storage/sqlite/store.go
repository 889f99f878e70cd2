// Package sqlite implements the storage interfaces on a single sqlite
// database file. One Store serves both the budget CounterStore and the
// durable CacheStore.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/npcflow/internal/storage"
)

// Store implements storage.CounterStore and storage.CacheStore using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the sqlite database at dsn and prepares the
// schema. Use ":memory:" for an in-memory database in tests.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	// WAL mode allows concurrent readers to proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout so that callers wait instead of getting an immediate
	// SQLITE_BUSY error when the connection is held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Increment applies one usage record inside a single transaction. Every
// statement is an upsert-increment, so concurrent writers cannot lose
// updates regardless of interleaving.
func (s *Store) Increment(ctx context.Context, rec storage.CounterRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	latencyMs := rec.Latency.Milliseconds()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO budget_days (date, total_cost, total_requests, total_tokens, total_latency_ms)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_cost       = total_cost + excluded.total_cost,
			total_requests   = total_requests + 1,
			total_tokens     = total_tokens + excluded.total_tokens,
			total_latency_ms = total_latency_ms + excluded.total_latency_ms`,
		rec.Date, rec.Cost, rec.Tokens, latencyMs); err != nil {
		return fmt.Errorf("sqlite: failed to increment day counters: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO budget_backend_counts (date, backend_id, requests)
		VALUES (?, ?, 1)
		ON CONFLICT(date, backend_id) DO UPDATE SET requests = requests + 1`,
		rec.Date, rec.BackendID); err != nil {
		return fmt.Errorf("sqlite: failed to increment backend counters: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO budget_hour_counts (date, hour, requests)
		VALUES (?, ?, 1)
		ON CONFLICT(date, hour) DO UPDATE SET requests = requests + 1`,
		rec.Date, rec.Hour); err != nil {
		return fmt.Errorf("sqlite: failed to increment hour counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit counter increment: %w", err)
	}
	return nil
}

// Day returns the persisted aggregate for a date, or storage.ErrNotFound
// when the date has no counters.
func (s *Store) Day(ctx context.Context, date string) (*storage.DaySnapshot, error) {
	snap := &storage.DaySnapshot{
		Date:      date,
		ByBackend: make(map[string]int64),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT total_cost, total_requests, total_tokens, total_latency_ms
		FROM budget_days WHERE date = ?`, date).
		Scan(&snap.TotalCost, &snap.TotalRequests, &snap.TotalTokens, &snap.TotalLatencyMs)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read day counters: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT backend_id, requests FROM budget_backend_counts WHERE date = ?`, date)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read backend counters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var backend string
		var count int64
		if err := rows.Scan(&backend, &count); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan backend counter: %w", err)
		}
		snap.ByBackend[backend] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: backend counter iteration failed: %w", err)
	}

	hourRows, err := s.db.QueryContext(ctx, `
		SELECT hour, requests FROM budget_hour_counts WHERE date = ?`, date)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read hour counters: %w", err)
	}
	defer hourRows.Close()
	for hourRows.Next() {
		var hour int
		var count int64
		if err := hourRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan hour counter: %w", err)
		}
		if hour >= 0 && hour < 24 {
			snap.ByHour[hour] = count
		}
	}
	if err := hourRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: hour counter iteration failed: %w", err)
	}

	return snap, nil
}

// PurgeBefore removes counter rows for dates strictly older than date.
// Dates are ISO formatted, so lexicographic comparison is chronological.
func (s *Store) PurgeBefore(ctx context.Context, date string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM budget_days WHERE date < ?`, date)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to purge day counters: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM budget_backend_counts WHERE date < ?`, date); err != nil {
		return 0, fmt.Errorf("sqlite: failed to purge backend counters: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM budget_hour_counts WHERE date < ?`, date); err != nil {
		return 0, fmt.Errorf("sqlite: failed to purge hour counters: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// GetEntry returns the cached payload for a fingerprint, deleting and
// reporting ErrNotFound for expired entries.
func (s *Store) GetEntry(ctx context.Context, fingerprint string) ([]byte, error) {
	var payload []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, expires_at FROM response_cache WHERE fingerprint = ?`,
		fingerprint).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read cache entry: %w", err)
	}

	if time.Now().Unix() >= expiresAt {
		// Expired entries are removed on the read path; there is no sweeper.
		if _, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE fingerprint = ?`, fingerprint); err != nil {
			return nil, fmt.Errorf("sqlite: failed to delete expired cache entry: %w", err)
		}
		return nil, storage.ErrNotFound
	}

	return payload, nil
}

// SetEntry stores a payload with an absolute expiry. Last write wins.
func (s *Store) SetEntry(ctx context.Context, fingerprint string, payload []byte, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response_cache (fingerprint, payload, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			payload    = excluded.payload,
			expires_at = excluded.expires_at`,
		fingerprint, payload, expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite: failed to write cache entry: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Compile-time assertions that Store satisfies both storage interfaces.
var _ storage.CounterStore = (*Store)(nil)
var _ storage.CacheStore = (*Store)(nil)
