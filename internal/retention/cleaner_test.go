package retention

import (
	"context"
	"testing"
	"time"

	"coinpulse/config"
	"coinpulse/internal/domain"
	"coinpulse/pkg/storage/memory"

	"go.uber.org/zap"
)

// go test -v --run TestCleanerRun
func TestCleanerRun(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := memory.NewStore(100, zap.NewNop())

	_, _ = store.InsertPriceSnapshots(ctx, []domain.PriceSnapshot{
		{CryptoID: 1, QuoteCurrency: "USD", Timestamp: now.Add(-800 * time.Hour), Price: 1},
		{CryptoID: 1, QuoteCurrency: "USD", Timestamp: now.Add(-time.Hour), Price: 2},
	})
	_, _ = store.InsertAggregatedPoints(ctx, []domain.AggregatedPricePoint{
		{CryptoID: 1, IntervalType: domain.IntervalHourly, Timestamp: now.Add(-48 * time.Hour), Price: 1},
		{CryptoID: 1, IntervalType: domain.IntervalHourly, Timestamp: now.Add(-time.Hour), Price: 1},
		{CryptoID: 1, IntervalType: domain.IntervalMonthly, Timestamp: now.Add(-3000 * time.Hour), Price: 1},
		{CryptoID: 1, IntervalType: domain.IntervalDaily, Timestamp: now.Add(-5000 * time.Hour), Price: 1},
	})

	cfg := config.RetentionConfig{
		Snapshots: 720 * time.Hour,
		// keys as viper hands them over
		History: map[string]time.Duration{"1h": 24 * time.Hour, "1m": 2000 * time.Hour, "1d": 0},
	}
	c := NewCleaner(store, cfg, zap.NewNop()).WithClock(func() time.Time { return now })

	res, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Snapshots != 1 || store.CountSnapshots() != 1 {
		t.Errorf("expected 1 snapshot deleted and 1 kept, got %d deleted, %d kept", res.Snapshots, store.CountSnapshots())
	}
	if res.History[domain.IntervalHourly] != 1 || res.History[domain.IntervalMonthly] != 1 {
		t.Errorf("unexpected history deletions: %v", res.History)
	}
	if _, ok := res.History[domain.IntervalDaily]; ok {
		t.Error("expected zero retention to keep daily history")
	}

	daily, _ := store.QueryAggregatedPoints(ctx, domain.IntervalDaily, nil, now.Add(-6000*time.Hour), now)
	if len(daily) != 1 {
		t.Errorf("expected daily point kept, got %d", len(daily))
	}
}
