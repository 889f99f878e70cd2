package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/npcflow/internal/storage"
)

// flakyStore fails every operation, exercising the fail-open paths.
type flakyStore struct{}

func (f *flakyStore) Increment(context.Context, storage.CounterRecord) error {
	return errors.New("disk on fire")
}

func (f *flakyStore) Day(context.Context, string) (*storage.DaySnapshot, error) {
	return nil, errors.New("disk on fire")
}

func (f *flakyStore) PurgeBefore(context.Context, string) (int, error) {
	return 0, errors.New("disk on fire")
}

func (f *flakyStore) Close() error { return nil }

// seededStore returns a fixed snapshot for one date.
type seededStore struct {
	date string
	snap storage.DaySnapshot
}

func (s *seededStore) Increment(context.Context, storage.CounterRecord) error { return nil }

func (s *seededStore) Day(_ context.Context, date string) (*storage.DaySnapshot, error) {
	if date == s.date {
		snap := s.snap
		return &snap, nil
	}
	return nil, storage.ErrNotFound
}

func (s *seededStore) PurgeBefore(context.Context, string) (int, error) { return 0, nil }
func (s *seededStore) Close() error                                     { return nil }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var testDay = time.Date(2026, 8, 29, 14, 30, 0, 0, time.UTC)

func TestLedgerCanSpend(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh day under cap", func(t *testing.T) {
		l := NewLedger(nil, 50.0, 7, WithClock(fixedClock(testDay)))
		assert.True(t, l.CanSpend(ctx))
	})

	t.Run("false once cap reached", func(t *testing.T) {
		l := NewLedger(nil, 0.05, 7, WithClock(fixedClock(testDay)))
		l.Record(ctx, "cloud", 0.02, 100, 50*time.Millisecond)
		assert.True(t, l.CanSpend(ctx))
		l.Record(ctx, "cloud", 0.02, 100, 50*time.Millisecond)
		l.Record(ctx, "cloud", 0.02, 100, 50*time.Millisecond)
		assert.False(t, l.CanSpend(ctx))
	})

	t.Run("fails open on store errors", func(t *testing.T) {
		l := NewLedger(&flakyStore{}, 50.0, 7, WithClock(fixedClock(testDay)))
		assert.True(t, l.CanSpend(ctx))
		l.Record(ctx, "cloud", 0.02, 100, 50*time.Millisecond)
		assert.True(t, l.CanSpend(ctx))
		assert.Equal(t, int64(1), l.DailyStats(ctx, "").TotalRequests)
	})

	t.Run("hydrates persisted spend on cold start", func(t *testing.T) {
		store := &seededStore{
			date: "2026-08-29",
			snap: storage.DaySnapshot{Date: "2026-08-29", TotalCost: 60.0, TotalRequests: 3000},
		}
		l := NewLedger(store, 50.0, 7, WithClock(fixedClock(testDay)))
		assert.False(t, l.CanSpend(ctx))
	})
}

func TestLedgerRecordConcurrent(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(nil, 1000.0, 7, WithClock(fixedClock(testDay)))

	const writers = 20
	const perWriter = 50

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				l.Record(ctx, "local", 0.001, 10, 5*time.Millisecond)
			}
		}()
	}
	wg.Wait()

	stats := l.DailyStats(ctx, "")
	assert.Equal(t, int64(writers*perWriter), stats.TotalRequests)
	assert.InDelta(t, float64(writers*perWriter)*0.001, stats.TotalCost, 1e-6)
	assert.Equal(t, int64(writers*perWriter*10), stats.TotalTokens)
	assert.Equal(t, int64(writers*perWriter), stats.RequestsByBackend["local"])
}

func TestLedgerDailyStats(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(nil, 50.0, 7, WithClock(fixedClock(testDay)))

	l.Record(ctx, "cloud", 0.02, 120, 800*time.Millisecond)
	l.Record(ctx, "cloud", 0.02, 130, 600*time.Millisecond)
	l.Record(ctx, "local", 0.001, 40, 200*time.Millisecond)

	stats := l.DailyStats(ctx, "")
	assert.Equal(t, "2026-08-29", stats.Date)
	assert.InDelta(t, 0.041, stats.TotalCost, 1e-9)
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.RequestsByBackend["cloud"])
	assert.Equal(t, int64(1), stats.RequestsByBackend["local"])
	assert.InDelta(t, 0.041/3, stats.AvgCostPerRequest, 1e-9)
	assert.InDelta(t, (800+600+200)/3.0, stats.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 50.0-0.041, stats.BudgetRemaining, 1e-9)
	assert.InDelta(t, 0.041/50.0*100, stats.BudgetUtilization, 1e-9)

	t.Run("utilization capped at 100", func(t *testing.T) {
		tiny := NewLedger(nil, 0.01, 7, WithClock(fixedClock(testDay)))
		tiny.Record(ctx, "cloud", 0.05, 10, time.Millisecond)
		stats := tiny.DailyStats(ctx, "")
		assert.Equal(t, 100.0, stats.BudgetUtilization)
		assert.Zero(t, stats.BudgetRemaining)
	})

	t.Run("unknown date is empty", func(t *testing.T) {
		stats := l.DailyStats(ctx, "2026-01-01")
		assert.Zero(t, stats.TotalCost)
		assert.Zero(t, stats.TotalRequests)
	})

	t.Run("arbitrary date queries do not retain buckets", func(t *testing.T) {
		l := NewLedger(&seededStore{}, 50.0, 7, WithClock(fixedClock(testDay)))

		for _, date := range []string{"9999-01-01", "2026-01-01", "2026-08-27"} {
			stats := l.DailyStats(ctx, date)
			assert.Zero(t, stats.TotalRequests, "date %s", date)
			_ = l.HourlyBreakdown(ctx, date)
		}

		l.mu.Lock()
		_, held := l.days["9999-01-01"]
		empties := len(l.days)
		l.mu.Unlock()
		assert.False(t, held)
		assert.Zero(t, empties)

		// Today's bucket is still installed so admission and records work.
		l.Record(ctx, "cloud", 0.02, 10, time.Millisecond)
		stats := l.DailyStats(ctx, "")
		assert.Equal(t, int64(1), stats.TotalRequests)
	})
}

func TestLedgerHourlyBreakdown(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(nil, 50.0, 7, WithClock(fixedClock(testDay)))

	l.Record(ctx, "cloud", 0.02, 100, time.Millisecond)
	l.Record(ctx, "local", 0.001, 50, time.Millisecond)

	hours := l.HourlyBreakdown(ctx, "")
	assert.Equal(t, int64(2), hours[14])
	for h, count := range hours {
		if h != 14 {
			assert.Zero(t, count, "hour %d", h)
		}
	}
}

func TestLedgerProjection(t *testing.T) {
	ctx := context.Background()

	t.Run("no history", func(t *testing.T) {
		l := NewLedger(nil, 50.0, 7, WithClock(fixedClock(testDay)))
		proj := l.Projection(ctx)
		assert.Equal(t, "low", proj.Confidence)
		assert.Zero(t, proj.MonthlyProjection)
		assert.Zero(t, proj.DataPoints)
	})

	t.Run("active days drive confidence", func(t *testing.T) {
		current := testDay
		clock := func() time.Time { return current }
		l := NewLedger(nil, 50.0, 7, WithClock(clock))

		// Spend on four distinct days, then look from the last one.
		for i := 3; i >= 0; i-- {
			current = testDay.AddDate(0, 0, -i)
			l.Record(ctx, "cloud", 2.0, 100, time.Millisecond)
		}
		current = testDay

		proj := l.Projection(ctx)
		assert.Equal(t, 4, proj.DataPoints)
		assert.Equal(t, "medium", proj.Confidence)
		assert.InDelta(t, 2.0, proj.DailyAvg, 1e-9)
		assert.InDelta(t, 60.0, proj.MonthlyProjection, 1e-9)
		assert.InDelta(t, 8.0, proj.WeeklyTotal, 1e-9)
	})

	t.Run("five active days high confidence", func(t *testing.T) {
		current := testDay
		clock := func() time.Time { return current }
		l := NewLedger(nil, 50.0, 7, WithClock(clock))

		for i := 4; i >= 0; i-- {
			current = testDay.AddDate(0, 0, -i)
			l.Record(ctx, "cloud", 1.0, 100, time.Millisecond)
		}
		current = testDay

		assert.Equal(t, "high", l.Projection(ctx).Confidence)
	})
}

func TestLedgerAlerts(t *testing.T) {
	ctx := context.Background()

	t.Run("threshold validation", func(t *testing.T) {
		l := NewLedger(nil, 50.0, 7, WithClock(fixedClock(testDay)))
		assert.Error(t, l.SetAlert(-1))
		assert.Error(t, l.SetAlert(101))
		assert.NoError(t, l.SetAlert(75))
	})

	t.Run("fires once per crossing", func(t *testing.T) {
		l := NewLedger(nil, 10.0, 7, WithClock(fixedClock(testDay)))
		require.NoError(t, l.SetAlert(50))

		assert.Nil(t, l.CheckAlert(ctx), "below threshold")

		l.Record(ctx, "cloud", 6.0, 100, time.Millisecond)

		alert := l.CheckAlert(ctx)
		require.NotNil(t, alert)
		assert.InDelta(t, 60.0, alert.UtilizationPercent, 1e-9)
		assert.InDelta(t, 50.0, alert.ThresholdPercent, 1e-9)

		assert.Nil(t, l.CheckAlert(ctx), "already fired today")
	})

	t.Run("re-arming via SetAlert", func(t *testing.T) {
		l := NewLedger(nil, 10.0, 7, WithClock(fixedClock(testDay)))
		require.NoError(t, l.SetAlert(50))
		l.Record(ctx, "cloud", 6.0, 100, time.Millisecond)
		require.NotNil(t, l.CheckAlert(ctx))

		require.NoError(t, l.SetAlert(40))
		assert.NotNil(t, l.CheckAlert(ctx))
	})

	t.Run("no threshold no alert", func(t *testing.T) {
		l := NewLedger(nil, 10.0, 7, WithClock(fixedClock(testDay)))
		l.Record(ctx, "cloud", 9.0, 100, time.Millisecond)
		assert.Nil(t, l.CheckAlert(ctx))
	})
}
