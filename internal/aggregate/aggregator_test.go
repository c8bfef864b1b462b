package aggregate

import (
	"context"
	"math"
	"testing"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/pkg/storage/memory"

	"go.uber.org/zap"
)

func f64(v float64) *float64 { return &v }

func seed(t *testing.T, store *memory.Store, now time.Time) {
	t.Helper()
	rows := []domain.PriceSnapshot{
		{CryptoID: 1, QuoteCurrency: "USD", Timestamp: now.Add(-50 * time.Minute), Price: 100, Volume24h: f64(10), MarketCap: f64(1000)},
		{CryptoID: 1, QuoteCurrency: "USD", Timestamp: now.Add(-10 * time.Minute), Price: 200, MarketCap: f64(2000)},
		{CryptoID: 2, QuoteCurrency: "USD", Timestamp: now.Add(-30 * time.Minute), Price: 5},
		// other quote and out-of-window rows are ignored
		{CryptoID: 1, QuoteCurrency: "BTC", Timestamp: now.Add(-10 * time.Minute), Price: 0.01},
		{CryptoID: 1, QuoteCurrency: "USD", Timestamp: now.Add(-2 * time.Hour), Price: 9999},
		{CryptoID: 1, QuoteCurrency: "USD", Timestamp: now, Price: 9999},
	}
	if _, err := store.InsertPriceSnapshots(context.Background(), rows); err != nil {
		t.Fatalf("seed snapshots: %v", err)
	}
}

// go test -v --run TestRunClassMeans
func TestRunClassMeans(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore(100, zap.NewNop())
	seed(t, store, now)

	agg := NewAggregator(store, "USD", zap.NewNop()).WithClock(func() time.Time { return now })
	res := agg.RunClass(context.Background(), domain.IntervalHourly)
	if res.Err != nil || res.Skipped || res.Points != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	points, err := store.QueryAggregatedPoints(context.Background(), domain.IntervalHourly, nil, now.Add(-time.Hour), now)
	if err != nil || len(points) != 2 {
		t.Fatalf("expected 2 points, got %d, %v", len(points), err)
	}

	btc := points[0]
	if btc.CryptoID != 1 || btc.Price != 150 || !btc.Timestamp.Equal(now) {
		t.Errorf("unexpected point for asset 1: %+v", btc)
	}
	if btc.Volume == nil || *btc.Volume != 10 {
		t.Errorf("expected mean of non-null volumes = 10, got %v", btc.Volume)
	}
	if btc.MarketCap == nil || *btc.MarketCap != 2000 {
		t.Errorf("expected last market cap 2000, got %v", btc.MarketCap)
	}

	if points[1].Volume != nil || points[1].MarketCap != nil {
		t.Errorf("expected nil volume and market cap for asset 2, got %+v", points[1])
	}
}

// go test -v --run TestRunIsIdempotent
func TestRunIsIdempotent(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore(100, zap.NewNop())
	seed(t, store, now)

	agg := NewAggregator(store, "USD", zap.NewNop()).WithClock(func() time.Time { return now })
	first := agg.Run(context.Background())
	if err := Err(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count := func() int {
		total := 0
		for _, interval := range domain.Intervals() {
			pts, _ := store.QueryAggregatedPoints(context.Background(), interval, nil, now.Add(-800*time.Hour), now)
			total += len(pts)
		}
		return total
	}
	before := count()
	if before != 8 {
		t.Fatalf("expected 2 points for each of 4 classes, got %d", before)
	}

	second := agg.Run(context.Background())
	for _, r := range second {
		if !r.Skipped || r.Reason != reasonExists {
			t.Errorf("expected %s to be skipped as already aggregated, got %+v", r.Interval, r)
		}
	}
	if after := count(); after != before {
		t.Errorf("expected %d points after re-run, got %d", before, after)
	}

	if last := agg.Last(); len(last) != 4 || last[0].Interval != domain.IntervalHourly {
		t.Errorf("unexpected last results: %+v", last)
	}
}

// go test -v --run TestRunClassConsecutiveWindows
func TestRunClassConsecutiveWindows(t *testing.T) {
	ctx := context.Background()
	first := time.Date(2024, 3, 1, 12, 0, 0, 300_000_000, time.UTC)
	store := memory.NewStore(100, zap.NewNop())
	if _, err := store.InsertPriceSnapshots(ctx, []domain.PriceSnapshot{
		{CryptoID: 1, QuoteCurrency: "USD", Timestamp: first.Add(-30 * time.Minute), Price: 10},
		{CryptoID: 1, QuoteCurrency: "USD", Timestamp: first.Add(30 * time.Minute), Price: 20},
	}); err != nil {
		t.Fatal(err)
	}

	now := first
	agg := NewAggregator(store, "USD", zap.NewNop()).WithClock(func() time.Time { return now })

	res := agg.RunClass(ctx, domain.IntervalHourly)
	if res.Skipped || res.Points != 1 {
		t.Fatalf("first window: %+v", res)
	}

	// the next window starts exactly on the previous point
	now = first.Add(time.Hour)
	res = agg.RunClass(ctx, domain.IntervalHourly)
	if res.Skipped || res.Points != 1 {
		t.Fatalf("second window: expected one point, got %+v", res)
	}

	points, err := store.QueryAggregatedPoints(ctx, domain.IntervalHourly, nil, first.Add(-time.Hour), now)
	if err != nil || len(points) != 2 {
		t.Fatalf("expected two hourly points, got %+v, %v", points, err)
	}
	if points[0].Price != 10 || points[1].Price != 20 {
		t.Errorf("expected prices 10 then 20, got %+v", points)
	}
}

// go test -v --run TestRunClassEmptyWindow
func TestRunClassEmptyWindow(t *testing.T) {
	store := memory.NewStore(100, zap.NewNop())
	agg := NewAggregator(store, "USD", zap.NewNop())

	res := agg.RunClass(context.Background(), domain.IntervalDaily)
	if res.Err != nil || !res.Skipped || res.Reason != reasonEmpty || res.Points != 0 {
		t.Fatalf("expected empty-window skip, got %+v", res)
	}
}

// go test -v --run TestRunClassSkipsWhileRunning
func TestRunClassSkipsWhileRunning(t *testing.T) {
	store := memory.NewStore(100, zap.NewNop())
	agg := NewAggregator(store, "USD", zap.NewNop())

	agg.classLocks[domain.IntervalWeekly].Lock()
	defer agg.classLocks[domain.IntervalWeekly].Unlock()

	res := agg.RunClass(context.Background(), domain.IntervalWeekly)
	if !res.Skipped || res.Reason != reasonRunning {
		t.Fatalf("expected skip while running, got %+v", res)
	}
}

// go test -v --run TestSummarizeDecimalMean
func TestSummarizeDecimalMean(t *testing.T) {
	end := time.Unix(1_700_000_000, 0).UTC()
	snaps := []domain.PriceSnapshot{
		{CryptoID: 1, Timestamp: end.Add(-3 * time.Minute), Price: 0.1},
		{CryptoID: 1, Timestamp: end.Add(-2 * time.Minute), Price: 0.2},
		{CryptoID: 1, Timestamp: end.Add(-1 * time.Minute), Price: 0.3},
	}
	points := Summarize(snaps, domain.IntervalHourly, end)
	if len(points) != 1 || math.Abs(points[0].Price-0.2) > 1e-12 {
		t.Fatalf("expected mean 0.2, got %+v", points)
	}
}
