package retention

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coinpulse/config"
	"coinpulse/internal/domain"

	"go.uber.org/zap"
)

// Store is the subset of the store adapter the cleaner uses.
type Store interface {
	DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteHistoryBefore(ctx context.Context, interval domain.IntervalType, before time.Time) (int64, error)
}

// Result counts rows removed by one cleanup run.
type Result struct {
	Snapshots int64                         `json:"snapshots"`
	History   map[domain.IntervalType]int64 `json:"history"`
}

// Cleaner deletes raw snapshots and history points past their retention.
type Cleaner struct {
	store  Store
	cfg    config.RetentionConfig
	now    func() time.Time
	logger *zap.Logger
}

func NewCleaner(store Store, cfg config.RetentionConfig, logger *zap.Logger) *Cleaner {
	return &Cleaner{store: store, cfg: cfg, now: time.Now, logger: logger.Named("retention")}
}

// WithClock overrides the cutoff clock.
func (c *Cleaner) WithClock(now func() time.Time) *Cleaner {
	c.now = now
	return c
}

// historyRetention looks up an interval's retention. Config keys arrive
// lower-cased, so "1M" is stored as "1m".
func (c *Cleaner) historyRetention(interval domain.IntervalType) time.Duration {
	if d, ok := c.cfg.History[string(interval)]; ok {
		return d
	}
	return c.cfg.History[strings.ToLower(string(interval))]
}

// Run deletes snapshots older than the snapshot retention and, for each
// interval with a non-zero retention, history points older than it.
func (c *Cleaner) Run(ctx context.Context) (Result, error) {
	res := Result{History: make(map[domain.IntervalType]int64)}
	now := c.now().UTC()
	var errs []error

	if c.cfg.Snapshots > 0 {
		n, err := c.store.DeleteSnapshotsBefore(ctx, now.Add(-c.cfg.Snapshots))
		if err != nil {
			errs = append(errs, fmt.Errorf("delete snapshots: %w", err))
		}
		res.Snapshots = n
	}

	for _, interval := range domain.Intervals() {
		keep := c.historyRetention(interval)
		if keep <= 0 {
			continue
		}
		n, err := c.store.DeleteHistoryBefore(ctx, interval, now.Add(-keep))
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s history: %w", interval, err))
			continue
		}
		res.History[interval] = n
	}

	c.logger.Info("cleanup complete", zap.Int64("snapshots", res.Snapshots), zap.Any("history", res.History))
	return res, errors.Join(errs...)
}
