package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/pkg/storage"

	"go.uber.org/zap"
)

// Store is the subset of the store adapter the sync cycle writes to.
type Store interface {
	UpsertCurrencies(ctx context.Context, records []domain.CurrencyRecord) (int, error)
	InsertPriceSnapshots(ctx context.Context, records []domain.PriceSnapshot) (int, error)
	DeactivateCurrenciesExcept(ctx context.Context, keep []int64) (int64, error)
}

type SyncOptions struct {
	PageSize          int
	MaxCount          int
	DeactivateMissing bool
}

// SyncResult summarizes one ingestion cycle.
type SyncResult struct {
	Timestamp         time.Time `json:"timestamp"`
	Fetched           int       `json:"fetched"`
	CurrenciesWritten int       `json:"currencies_written"`
	SnapshotsBuilt    int       `json:"snapshots_built"`
	SnapshotsWritten  int       `json:"snapshots_written"`
	Deactivated       int64     `json:"deactivated"`
	Complete          bool      `json:"complete"`
}

// Syncer runs one fetch → transform → store cycle.
type Syncer struct {
	fetcher *Fetcher
	store   Store
	opts    SyncOptions
	now     func() time.Time
	logger  *zap.Logger
}

func NewSyncer(fetcher *Fetcher, store Store, opts SyncOptions, logger *zap.Logger) *Syncer {
	return &Syncer{
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		now:     time.Now,
		logger:  logger.Named("sync"),
	}
}

// WithClock overrides the snapshot clock.
func (s *Syncer) WithClock(now func() time.Time) *Syncer {
	s.now = now
	return s
}

// Run fetches every listing, upserts currencies and appends one snapshot per
// quote. A fetch failure or cancellation aborts before anything is written;
// once the fetch is done the writes ignore cancellation. A currency upsert
// that stores nothing is returned as an error. Rejected sub-batches are
// otherwise logged and tolerated.
func (s *Syncer) Run(ctx context.Context) (SyncResult, error) {
	res := SyncResult{}

	listings, complete, err := s.fetcher.fetchAll(ctx, s.opts.PageSize, s.opts.MaxCount)
	if err != nil {
		return res, fmt.Errorf("fetch listings: %w", err)
	}
	res.Fetched = len(listings)
	res.Complete = complete
	ctx = context.WithoutCancel(ctx)

	// one timestamp per cycle keeps snapshots of the same run comparable
	ts := s.now().UTC().Truncate(time.Second)
	res.Timestamp = ts

	currencies := make([]domain.CurrencyRecord, 0, len(listings))
	ids := make([]int64, 0, len(listings))
	var snapshots []domain.PriceSnapshot
	for id, raw := range listings {
		currencies = append(currencies, ToCurrencyRecord(raw))
		snapshots = append(snapshots, ToPriceSnapshots(raw, ts)...)
		ids = append(ids, id)
	}
	res.SnapshotsBuilt = len(snapshots)

	written, err := s.store.UpsertCurrencies(ctx, currencies)
	res.CurrenciesWritten = written
	if err != nil {
		var batchErr *storage.BatchError
		if !errors.As(err, &batchErr) || batchErr.AllFailed() {
			return res, fmt.Errorf("upsert currencies: %w", err)
		}
		s.logger.Warn("some currencies were not stored", zap.Int("written", written), zap.Error(err))
	}

	written, err = s.store.InsertPriceSnapshots(ctx, snapshots)
	res.SnapshotsWritten = written
	if err != nil {
		s.logger.Warn("some price snapshots were not stored",
			zap.Int("built", len(snapshots)), zap.Int("written", written), zap.Error(err))
	}

	if s.opts.DeactivateMissing && complete && len(ids) > 0 {
		n, err := s.store.DeactivateCurrenciesExcept(ctx, ids)
		if err != nil {
			s.logger.Warn("failed to deactivate missing currencies", zap.Error(err))
		}
		res.Deactivated = n
	}

	s.logger.Info("sync complete",
		zap.Time("timestamp", ts),
		zap.Int("fetched", res.Fetched),
		zap.Int("currencies", res.CurrenciesWritten),
		zap.Int("snapshots", res.SnapshotsWritten),
		zap.Int64("deactivated", res.Deactivated),
	)
	return res, nil
}
