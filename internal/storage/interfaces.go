// Package storage provides composable storage interfaces for npcflow.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. The budget ledger and
// the durable response cache each depend on exactly one interface, so
// backends can be swapped without touching the pipeline.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")
)

// CounterRecord is one usage increment applied to a calendar day's counters.
type CounterRecord struct {
	Date      string        // YYYY-MM-DD (UTC)
	Hour      int           // 0-23 (UTC)
	BackendID string        // "cloud", "local", "cache"
	Cost      float64       // USD
	Tokens    int64
	Latency   time.Duration
}

// DaySnapshot is the persisted aggregate for one calendar day.
type DaySnapshot struct {
	Date           string
	TotalCost      float64
	TotalRequests  int64
	TotalTokens    int64
	TotalLatencyMs int64
	ByBackend      map[string]int64 // backend id -> request count
	ByHour         [24]int64        // hour -> request count
}

// CounterStore persists budget counters with field-level atomic increments.
// Implementations must apply each Increment transactionally so that
// concurrent writers never lose updates.
type CounterStore interface {
	// Increment applies one usage record to the day's counters, creating
	// the day row lazily on first write.
	Increment(ctx context.Context, rec CounterRecord) error

	// Day returns the persisted aggregate for a date.
	// Returns ErrNotFound if no counters exist for that date.
	Day(ctx context.Context, date string) (*DaySnapshot, error)

	// PurgeBefore removes day rows older than the given date (exclusive).
	// Returns the number of rows removed.
	PurgeBefore(ctx context.Context, date string) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// CacheStore persists cache entries with expiry timestamps. Expiry is
// enforced at read time; no background sweep is required.
type CacheStore interface {
	// GetEntry returns the payload for a fingerprint.
	// Returns ErrNotFound if the entry is absent or expired. Expired
	// entries are deleted on read.
	GetEntry(ctx context.Context, fingerprint string) ([]byte, error)

	// SetEntry stores a payload under a fingerprint with an absolute
	// expiry. Last write wins.
	SetEntry(ctx context.Context, fingerprint string, payload []byte, expiresAt time.Time) error

	// Close releases any resources held by the store.
	Close() error
}
