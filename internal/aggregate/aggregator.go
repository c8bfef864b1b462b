package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"coinpulse/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the subset of the store adapter the aggregator uses.
type Store interface {
	QueryPriceSnapshots(ctx context.Context, q domain.SnapshotQuery) ([]domain.PriceSnapshot, error)
	ExistsAggregationForWindow(ctx context.Context, cryptoID *int64, interval domain.IntervalType, start, end time.Time) (bool, error)
	InsertAggregatedPoints(ctx context.Context, points []domain.AggregatedPricePoint) (int, error)
}

// ClassResult is the outcome of one interval class in one pass.
type ClassResult struct {
	Interval    domain.IntervalType `json:"interval"`
	WindowStart time.Time           `json:"window_start"`
	WindowEnd   time.Time           `json:"window_end"`
	Skipped     bool                `json:"skipped"`
	Reason      string              `json:"reason,omitempty"`
	Assets      int                 `json:"assets"`
	Points      int                 `json:"points"`
	Err         error               `json:"-"`
	Error       string              `json:"error,omitempty"`
	FinishedAt  time.Time           `json:"finished_at"`
}

const (
	reasonRunning = "class already running"
	reasonExists  = "window already aggregated"
	reasonEmpty   = "no snapshots in window"
)

// Aggregator rolls raw USD snapshots up into per-interval history points.
type Aggregator struct {
	store  Store
	quote  string
	now    func() time.Time
	logger *zap.Logger

	classLocks map[domain.IntervalType]*sync.Mutex

	mu   sync.RWMutex
	last map[domain.IntervalType]ClassResult
}

func NewAggregator(store Store, quote string, logger *zap.Logger) *Aggregator {
	locks := make(map[domain.IntervalType]*sync.Mutex)
	for _, interval := range domain.Intervals() {
		locks[interval] = &sync.Mutex{}
	}
	return &Aggregator{
		store:      store,
		quote:      quote,
		now:        time.Now,
		logger:     logger.Named("aggregator"),
		classLocks: locks,
		last:       make(map[domain.IntervalType]ClassResult),
	}
}

// WithClock overrides the window clock.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Run aggregates every interval class concurrently and returns the results
// shortest class first.
func (a *Aggregator) Run(ctx context.Context) []ClassResult {
	intervals := domain.Intervals()
	results := make([]ClassResult, len(intervals))

	var wg sync.WaitGroup
	for i, interval := range intervals {
		wg.Add(1)
		go func(i int, interval domain.IntervalType) {
			defer wg.Done()
			results[i] = a.RunClass(ctx, interval)
		}(i, interval)
	}
	wg.Wait()

	return results
}

// RunClass aggregates one interval class over [now-window, now). A second
// call while the class is running is skipped, as is a window that already
// has a point stamped in (now-window, now].
func (a *Aggregator) RunClass(ctx context.Context, interval domain.IntervalType) ClassResult {
	end := a.now().UTC().Truncate(time.Second)
	res := ClassResult{
		Interval:    interval,
		WindowStart: end.Add(-interval.Window()),
		WindowEnd:   end,
	}

	lock, ok := a.classLocks[interval]
	if !ok {
		res.Err = fmt.Errorf("unknown interval %q", interval)
		return a.finish(res)
	}
	if !lock.TryLock() {
		res.Skipped, res.Reason = true, reasonRunning
		a.logger.Info("aggregation skipped", zap.String("interval", string(interval)), zap.String("reason", res.Reason))
		return res
	}
	defer lock.Unlock()

	exists, err := a.store.ExistsAggregationForWindow(ctx, nil, interval, res.WindowStart, res.WindowEnd)
	if err != nil {
		res.Err = fmt.Errorf("check existing %s aggregation: %w", interval, err)
		return a.finish(res)
	}
	if exists {
		res.Skipped, res.Reason = true, reasonExists
		return a.finish(res)
	}

	snapshots, err := a.store.QueryPriceSnapshots(ctx, domain.SnapshotQuery{
		QuoteCurrency: a.quote,
		From:          res.WindowStart,
		To:            res.WindowEnd,
	})
	if err != nil {
		res.Err = fmt.Errorf("query %s snapshots: %w", interval, err)
		return a.finish(res)
	}
	if len(snapshots) == 0 {
		res.Skipped, res.Reason = true, reasonEmpty
		return a.finish(res)
	}

	points := Summarize(snapshots, interval, res.WindowEnd)
	res.Assets = len(points)

	written, err := a.store.InsertAggregatedPoints(ctx, points)
	res.Points = written
	if err != nil {
		// partial writes stay; the next window catches up
		res.Err = fmt.Errorf("insert %s points: %w", interval, err)
	}
	return a.finish(res)
}

func (a *Aggregator) finish(res ClassResult) ClassResult {
	res.FinishedAt = a.now().UTC()
	fields := []zap.Field{
		zap.String("interval", string(res.Interval)),
		zap.Time("window_start", res.WindowStart),
		zap.Time("window_end", res.WindowEnd),
		zap.Int("points", res.Points),
	}
	switch {
	case res.Err != nil:
		res.Error = res.Err.Error()
		a.logger.Error("aggregation failed", append(fields, zap.Error(res.Err))...)
	case res.Skipped:
		a.logger.Info("aggregation skipped", append(fields, zap.String("reason", res.Reason))...)
	default:
		a.logger.Info("aggregation complete", append(fields, zap.Int("assets", res.Assets))...)
	}

	a.mu.Lock()
	a.last[res.Interval] = res
	a.mu.Unlock()
	return res
}

// Last returns the most recent result per class, shortest class first.
func (a *Aggregator) Last() []ClassResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ClassResult, 0, len(a.last))
	for _, interval := range domain.Intervals() {
		if res, ok := a.last[interval]; ok {
			out = append(out, res)
		}
	}
	return out
}

// Err joins the errors of a pass, nil when every class succeeded or skipped.
func Err(results []ClassResult) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// Summarize builds one point per asset stamped at windowEnd. Price is the
// mean of all prices, volume the mean of the non-null volumes, and market
// cap the value of the chronologically last snapshot.
func Summarize(snapshots []domain.PriceSnapshot, interval domain.IntervalType, windowEnd time.Time) []domain.AggregatedPricePoint {
	type acc struct {
		priceSum  decimal.Decimal
		priceN    int64
		volumeSum decimal.Decimal
		volumeN   int64
		lastTS    time.Time
		marketCap *float64
	}

	byAsset := make(map[int64]*acc)
	for _, s := range snapshots {
		a, ok := byAsset[s.CryptoID]
		if !ok {
			a = &acc{}
			byAsset[s.CryptoID] = a
		}
		a.priceSum = a.priceSum.Add(decimal.NewFromFloat(s.Price))
		a.priceN++
		if s.Volume24h != nil {
			a.volumeSum = a.volumeSum.Add(decimal.NewFromFloat(*s.Volume24h))
			a.volumeN++
		}
		if a.priceN == 1 || !s.Timestamp.Before(a.lastTS) {
			a.lastTS = s.Timestamp
			a.marketCap = s.MarketCap
		}
	}

	ids := make([]int64, 0, len(byAsset))
	for id := range byAsset {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	points := make([]domain.AggregatedPricePoint, 0, len(ids))
	for _, id := range ids {
		a := byAsset[id]
		p := domain.AggregatedPricePoint{
			CryptoID:     id,
			IntervalType: interval,
			Timestamp:    windowEnd,
			Price:        a.priceSum.Div(decimal.NewFromInt(a.priceN)).InexactFloat64(),
		}
		if a.volumeN > 0 {
			v := a.volumeSum.Div(decimal.NewFromInt(a.volumeN)).InexactFloat64()
			p.Volume = &v
		}
		if a.marketCap != nil {
			mc := *a.marketCap
			p.MarketCap = &mc
		}
		points = append(points, p)
	}
	return points
}
