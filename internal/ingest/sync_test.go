package ingest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/pkg/listing"
	"coinpulse/pkg/storage/memory"

	"go.uber.org/zap"
)

// go test -v --run TestSyncerRun
func TestSyncerRun(t *testing.T) {
	first := raws(1, 2, 3)
	for i := range first {
		first[i].Quotes = []listing.RawQuote{{Name: "USD", Price: num(float64(100 * (i + 1)))}, {Name: "BTC", Price: num(0.001)}}
	}
	// a NaN price never reaches the store
	first[2].Quotes[0].Price = num(math.NaN())

	client := &fakePages{pages: map[int][]listing.RawListing{1: first}}
	store := memory.NewStore(10, zap.NewNop())
	now := time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)

	syncer := NewSyncer(NewFetcher(client, 0, zap.NewNop()), store, SyncOptions{PageSize: 100}, zap.NewNop()).
		WithClock(func() time.Time { return now })

	res, err := syncer.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Fetched != 3 || res.CurrenciesWritten != 3 || res.SnapshotsWritten != 6 {
		t.Errorf("unexpected result: %+v", res)
	}
	if !res.Timestamp.Equal(now.Truncate(time.Second)) {
		t.Errorf("expected timestamp truncated to the second, got %v", res.Timestamp)
	}

	id := int64(3)
	snaps, err := store.QueryPriceSnapshots(context.Background(), domain.SnapshotQuery{
		CryptoID: &id, QuoteCurrency: "USD", From: now.Add(-time.Hour), To: now.Add(time.Hour),
	})
	if err != nil || len(snaps) != 1 || snaps[0].Price != 0 {
		t.Errorf("expected NaN price stored as 0, got %+v, %v", snaps, err)
	}
}

// go test -v --run TestSyncerFetchFailureWritesNothing
func TestSyncerFetchFailureWritesNothing(t *testing.T) {
	client := &fakePages{
		pages: map[int][]listing.RawListing{1: raws(1)},
		fail:  map[int]error{2: &listing.TransportError{StatusCode: 500, Err: errors.New("boom")}},
	}
	store := memory.NewStore(10, zap.NewNop())
	syncer := NewSyncer(NewFetcher(client, 0, zap.NewNop()), store, SyncOptions{PageSize: 1}, zap.NewNop())

	if _, err := syncer.Run(context.Background()); !listing.IsTransportError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, err := store.GetCurrency(context.Background(), 1); err == nil {
		t.Error("expected no currency to be written after a failed fetch")
	}
}

// go test -v --run TestSyncerDeactivatesMissing
func TestSyncerDeactivatesMissing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(10, zap.NewNop())
	if _, err := store.UpsertCurrencies(ctx, []domain.CurrencyRecord{{ID: 9, Symbol: "OLD", IsActive: true}}); err != nil {
		t.Fatal(err)
	}

	active := raws(1)
	active[0].IsActive = true
	client := &fakePages{pages: map[int][]listing.RawListing{1: active}}
	syncer := NewSyncer(NewFetcher(client, 0, zap.NewNop()), store, SyncOptions{PageSize: 10, DeactivateMissing: true}, zap.NewNop())

	res, err := syncer.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Deactivated != 1 {
		t.Errorf("expected 1 deactivated currency, got %d", res.Deactivated)
	}
	old, err := store.GetCurrency(ctx, 9)
	if err != nil || old.IsActive {
		t.Errorf("expected currency 9 to be inactive, got %+v, %v", old, err)
	}
}

// cancelOnLastPage cancels the run's context when the empty page arrives.
type cancelOnLastPage struct {
	*fakePages
	cancel context.CancelFunc
}

func (c *cancelOnLastPage) FetchPage(ctx context.Context, start, limit int) ([]listing.RawListing, error) {
	records, err := c.fakePages.FetchPage(ctx, start, limit)
	if len(records) == 0 {
		c.cancel()
	}
	return records, err
}

// ctxStore records whether writes saw a canceled context.
type ctxStore struct {
	*memory.Store
	canceledWrites int
}

func (s *ctxStore) UpsertCurrencies(ctx context.Context, records []domain.CurrencyRecord) (int, error) {
	if ctx.Err() != nil {
		s.canceledWrites++
	}
	return s.Store.UpsertCurrencies(ctx, records)
}

func (s *ctxStore) InsertPriceSnapshots(ctx context.Context, records []domain.PriceSnapshot) (int, error) {
	if ctx.Err() != nil {
		s.canceledWrites++
	}
	return s.Store.InsertPriceSnapshots(ctx, records)
}

// go test -v --run TestSyncerWritesSurviveCancelAfterFetch
func TestSyncerWritesSurviveCancelAfterFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listings := raws(1, 2)
	for i := range listings {
		listings[i].Quotes = []listing.RawQuote{{Name: "USD", Price: num(10)}}
	}
	client := &cancelOnLastPage{fakePages: &fakePages{pages: map[int][]listing.RawListing{1: listings}}, cancel: cancel}
	store := &ctxStore{Store: memory.NewStore(10, zap.NewNop())}

	res, err := NewSyncer(NewFetcher(client, 0, zap.NewNop()), store, SyncOptions{PageSize: 100}, zap.NewNop()).Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Err() == nil {
		t.Fatal("expected the run context to be canceled by the last page")
	}
	if store.canceledWrites != 0 || res.CurrenciesWritten != 2 || res.SnapshotsWritten != 2 {
		t.Errorf("expected writes to run detached from cancellation, got %d canceled writes, %+v", store.canceledWrites, res)
	}
}

// go test -v --run TestSyncerCanceledDuringPageDelay
func TestSyncerCanceledDuringPageDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakePages{pages: map[int][]listing.RawListing{1: raws(1), 2: raws(2)}}
	store := memory.NewStore(10, zap.NewNop())

	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := NewSyncer(NewFetcher(client, time.Hour, zap.NewNop()), store, SyncOptions{PageSize: 1}, zap.NewNop()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation during the page delay, got %v", err)
	}
	if _, err := store.GetCurrency(context.Background(), 1); err == nil {
		t.Error("expected nothing written after a canceled fetch")
	}
}
