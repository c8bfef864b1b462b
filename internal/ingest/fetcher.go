package ingest

import (
	"context"
	"time"

	"coinpulse/pkg/listing"

	"go.uber.org/zap"
)

// PageFetcher fetches one page of listings. start is 1-indexed.
type PageFetcher interface {
	FetchPage(ctx context.Context, start, limit int) ([]listing.RawListing, error)
}

// Fetcher pages through the full listing set.
type Fetcher struct {
	client    PageFetcher
	pageDelay time.Duration
	logger    *zap.Logger
}

func NewFetcher(client PageFetcher, pageDelay time.Duration, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client:    client,
		pageDelay: pageDelay,
		logger:    logger.Named("fetcher"),
	}
}

// FetchAll requests pages of batchSize until a page comes back empty or
// maxCount records have been received, merging them by provider ID (a later
// page wins). Any page failure aborts the call with a nil map.
func (f *Fetcher) FetchAll(ctx context.Context, batchSize, maxCount int) (map[int64]listing.RawListing, error) {
	all, _, err := f.fetchAll(ctx, batchSize, maxCount)
	return all, err
}

// fetchAll also reports whether the walk ended on an empty page, meaning
// the provider's whole listing set was seen.
func (f *Fetcher) fetchAll(ctx context.Context, batchSize, maxCount int) (map[int64]listing.RawListing, bool, error) {
	if batchSize <= 0 || batchSize > listing.MaxPageSize {
		batchSize = listing.MaxPageSize
	}

	all := make(map[int64]listing.RawListing)
	received := 0
	start := 1

	for page := 1; ; page++ {
		records, err := f.client.FetchPage(ctx, start, batchSize)
		if err != nil {
			f.logger.Error("page fetch failed", zap.Int("page", page), zap.Int("start", start), zap.Error(err))
			return nil, false, err
		}
		if len(records) == 0 {
			f.logger.Info("listing fetch complete", zap.Int("pages", page-1), zap.Int("unique", len(all)))
			return all, true, nil
		}

		for _, r := range records {
			all[r.ID] = r
		}
		received += len(records)
		start += len(records)
		f.logger.Debug("fetched page", zap.Int("page", page), zap.Int("records", len(records)))

		if maxCount > 0 && received >= maxCount {
			f.logger.Info("listing fetch reached max count", zap.Int("received", received), zap.Int("unique", len(all)))
			return all, false, nil
		}

		if f.pageDelay > 0 {
			timer := time.NewTimer(f.pageDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, false, ctx.Err()
			case <-timer.C:
			}
		}
	}
}
