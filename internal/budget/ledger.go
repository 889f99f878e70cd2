// Package budget implements the daily spend ledger. The ledger is the only
// shared mutable state in the dialogue pipeline: it keeps mutex-guarded
// in-memory counters per calendar day and writes every increment through to
// a storage.CounterStore. Store failures fail open: admission is allowed
// and records are dropped with a log line, so bookkeeping can never block
// inference.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scrypster/npcflow/internal/storage"
	"github.com/scrypster/npcflow/pkg/types"
)

// dateFormat is the calendar-day key format (UTC).
const dateFormat = "2006-01-02"

// dayCounters accumulates usage for one calendar day. All fields are
// guarded by the owning Ledger's mutex; increments are applied under the
// lock, never via read-then-write from outside.
type dayCounters struct {
	totalCost      float64
	totalRequests  int64
	totalTokens    int64
	totalLatencyMs int64
	byBackend      map[string]int64
	byHour         [24]int64
	alertFired     bool
}

// Ledger tracks daily AI spend against a hard cap.
type Ledger struct {
	store    storage.CounterStore
	capUSD   float64
	retain   int // days of history to keep
	now      func() time.Time

	mu             sync.Mutex
	days           map[string]*dayCounters
	alertThreshold float64 // percent; 0 = unset
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the ledger's time source. Used by tests to pin the
// calendar day.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithAlertThreshold sets the initial alert threshold percent.
func WithAlertThreshold(pct float64) Option {
	return func(l *Ledger) { l.alertThreshold = pct }
}

// NewLedger creates a ledger with the given daily cap. store may be nil,
// in which case the ledger is memory-only (counters reset on restart).
func NewLedger(store storage.CounterStore, dailyCapUSD float64, retentionDays int, opts ...Option) *Ledger {
	if retentionDays < 1 {
		retentionDays = 7
	}
	l := &Ledger{
		store:  store,
		capUSD: dailyCapUSD,
		retain: retentionDays,
		now:    time.Now,
		days:   make(map[string]*dayCounters),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CanSpend reports whether today's accumulated cost is still under the
// daily cap. It fails open: if counters cannot be consulted the answer is
// true, because admission control must never block on bookkeeping.
func (l *Ledger) CanSpend(ctx context.Context) bool {
	today := l.today()

	l.mu.Lock()
	day, ok := l.days[today]
	l.mu.Unlock()

	if !ok {
		// Cold start: hydrate today's counters from the store so a restart
		// cannot reset admission control.
		day = l.hydrate(ctx, today)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return day.totalCost < l.capUSD
}

// Record applies one usage increment: total cost and requests, per-backend
// and per-hour counts, token and latency totals. Safe under unbounded
// concurrent writers. Store write failures are logged and dropped.
func (l *Ledger) Record(ctx context.Context, backendID string, cost float64, tokens int64, latency time.Duration) {
	now := l.now().UTC()
	date := now.Format(dateFormat)
	hour := now.Hour()

	l.mu.Lock()
	day := l.ensureDayLocked(ctx, date)
	day.totalCost += cost
	day.totalRequests++
	day.totalTokens += tokens
	day.totalLatencyMs += latency.Milliseconds()
	day.byBackend[backendID]++
	day.byHour[hour]++
	l.mu.Unlock()

	l.pruneOldDays(ctx, now)

	if l.store == nil {
		return
	}
	if err := l.store.Increment(ctx, storage.CounterRecord{
		Date:      date,
		Hour:      hour,
		BackendID: backendID,
		Cost:      cost,
		Tokens:    tokens,
		Latency:   latency,
	}); err != nil {
		// Fail open: the in-memory counters already absorbed the increment.
		log.Printf("budget: dropped counter write for backend %s: %v", backendID, err)
	}
}

// DailyStats returns the budget summary for a date (today when date is
// empty). Days not held in memory are hydrated from the store.
func (l *Ledger) DailyStats(ctx context.Context, date string) types.DailyStats {
	if date == "" {
		date = l.today()
	}

	l.mu.Lock()
	day, ok := l.days[date]
	l.mu.Unlock()
	if !ok {
		day = l.hydrate(ctx, date)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stats := types.DailyStats{
		Date:              date,
		TotalCost:         day.totalCost,
		TotalRequests:     day.totalRequests,
		TotalTokens:       day.totalTokens,
		RequestsByBackend: make(map[string]int64, len(day.byBackend)),
		BudgetLimit:       l.capUSD,
	}
	for backend, count := range day.byBackend {
		stats.RequestsByBackend[backend] = count
	}
	if day.totalRequests > 0 {
		stats.AvgCostPerRequest = day.totalCost / float64(day.totalRequests)
		stats.AvgLatencyMs = float64(day.totalLatencyMs) / float64(day.totalRequests)
	}
	stats.BudgetRemaining = l.capUSD - day.totalCost
	if stats.BudgetRemaining < 0 {
		stats.BudgetRemaining = 0
	}
	if l.capUSD > 0 {
		stats.BudgetUtilization = day.totalCost / l.capUSD * 100
		if stats.BudgetUtilization > 100 {
			stats.BudgetUtilization = 100
		}
	}
	return stats
}

// HourlyBreakdown returns per-hour request counts for a date (today when
// date is empty).
func (l *Ledger) HourlyBreakdown(ctx context.Context, date string) [24]int64 {
	if date == "" {
		date = l.today()
	}

	l.mu.Lock()
	day, ok := l.days[date]
	l.mu.Unlock()
	if !ok {
		day = l.hydrate(ctx, date)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return day.byHour
}

// Projection estimates monthly spend from the last seven days: the mean of
// days with non-zero cost, times thirty. Confidence grows with the number
// of active days.
func (l *Ledger) Projection(ctx context.Context) types.CostProjection {
	now := l.now().UTC()

	var costs []float64
	var weekly float64
	for i := 0; i < 7; i++ {
		date := now.AddDate(0, 0, -i).Format(dateFormat)
		stats := l.DailyStats(ctx, date)
		weekly += stats.TotalCost
		if stats.TotalCost > 0 {
			costs = append(costs, stats.TotalCost)
		}
	}

	proj := types.CostProjection{
		WeeklyTotal: weekly,
		Confidence:  "low",
		DataPoints:  len(costs),
	}
	if len(costs) == 0 {
		return proj
	}

	var sum float64
	for _, c := range costs {
		sum += c
	}
	proj.DailyAvg = sum / float64(len(costs))
	proj.MonthlyProjection = proj.DailyAvg * 30

	switch {
	case len(costs) >= 5:
		proj.Confidence = "high"
	case len(costs) >= 3:
		proj.Confidence = "medium"
	}
	return proj
}

// SetAlert configures the utilization percentage at which CheckAlert
// starts returning an informational alert. Alerts never gate admission.
func (l *Ledger) SetAlert(pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("budget: alert threshold must be in [0,100], got %f", pct)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alertThreshold = pct
	// Re-arm so a new threshold can fire again today.
	if day, ok := l.days[l.now().UTC().Format(dateFormat)]; ok {
		day.alertFired = false
	}
	return nil
}

// CheckAlert returns a non-blocking informational alert the first time
// today's utilization crosses the configured threshold, and nil otherwise.
func (l *Ledger) CheckAlert(ctx context.Context) *types.BudgetAlert {
	l.mu.Lock()
	threshold := l.alertThreshold
	l.mu.Unlock()
	if threshold <= 0 {
		return nil
	}

	stats := l.DailyStats(ctx, "")
	if stats.BudgetUtilization < threshold {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	day := l.days[stats.Date]
	if day == nil || day.alertFired {
		return nil
	}
	day.alertFired = true

	return &types.BudgetAlert{
		AlertType:          "budget_threshold",
		CurrentCost:        stats.TotalCost,
		BudgetLimit:        stats.BudgetLimit,
		UtilizationPercent: stats.BudgetUtilization,
		ThresholdPercent:   threshold,
		Message:            fmt.Sprintf("Daily budget at %.1f%% of limit", stats.BudgetUtilization),
	}
}

// today returns the current UTC calendar day key.
func (l *Ledger) today() string {
	return l.now().UTC().Format(dateFormat)
}

// ensureDayLocked returns the counters for date, creating them if needed.
// Caller must hold l.mu.
func (l *Ledger) ensureDayLocked(_ context.Context, date string) *dayCounters {
	day, ok := l.days[date]
	if !ok {
		day = &dayCounters{byBackend: make(map[string]int64)}
		l.days[date] = day
	}
	return day
}

// hydrate loads a day's counters from the store into memory. Store errors
// fail open: an empty day is returned so callers proceed.
func (l *Ledger) hydrate(ctx context.Context, date string) *dayCounters {
	day := &dayCounters{byBackend: make(map[string]int64)}
	found := false

	if l.store != nil {
		snap, err := l.store.Day(ctx, date)
		switch {
		case err == nil:
			day.totalCost = snap.TotalCost
			day.totalRequests = snap.TotalRequests
			day.totalTokens = snap.TotalTokens
			day.totalLatencyMs = snap.TotalLatencyMs
			for backend, count := range snap.ByBackend {
				day.byBackend[backend] = count
			}
			day.byHour = snap.ByHour
			found = true
		case errors.Is(err, storage.ErrNotFound):
			// Lazily created on first write.
		default:
			log.Printf("budget: failed to hydrate counters for %s, failing open: %v", date, err)
		}
	}

	// Only today's bucket and days with real data get cached. Installing
	// empty buckets for arbitrary query dates (future days in particular)
	// would grow l.days without the prune path ever reclaiming them.
	if !found && date != l.today() {
		return day
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Another goroutine may have hydrated concurrently; keep the first one
	// so in-flight increments are not lost.
	if existing, ok := l.days[date]; ok {
		return existing
	}
	l.days[date] = day
	return day
}

// pruneOldDays drops in-memory buckets outside the retention window and
// lazily purges expired store rows. Runs on the record path; there is no
// background sweeper.
func (l *Ledger) pruneOldDays(ctx context.Context, now time.Time) {
	cutoff := now.AddDate(0, 0, -l.retain).Format(dateFormat)

	l.mu.Lock()
	var stale []string
	for date := range l.days {
		if date < cutoff {
			stale = append(stale, date)
		}
	}
	for _, date := range stale {
		delete(l.days, date)
	}
	l.mu.Unlock()

	if len(stale) > 0 && l.store != nil {
		if _, err := l.store.PurgeBefore(ctx, cutoff); err != nil {
			log.Printf("budget: failed to purge counters before %s: %v", cutoff, err)
		}
	}
}
