package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/pkg/storage"

	"go.uber.org/zap"
)

// Store is an in-process implementation of the store adapter. It mirrors the
// postgres store's constraints (unique keys, rejected rows) closely enough to
// back tests and local runs without a database.
type Store struct {
	batchSize int
	logger    *zap.Logger

	mu            sync.RWMutex
	currencies    map[int64]domain.CurrencyRecord
	prices        map[int64]*priceSeries
	history       map[historyKey]domain.AggregatedPricePoint
	alerts        map[int64]domain.AlertRule
	notifications map[int64]domain.AlertNotification

	nextNotificationID int64
	nextAlertID        int64
}

// priceSeries holds one asset's snapshots in timestamp order.
type priceSeries struct {
	mu        sync.Mutex
	snapshots []domain.PriceSnapshot
}

type historyKey struct {
	cryptoID  int64
	interval  domain.IntervalType
	timestamp int64
}

func NewStore(batchSize int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		batchSize:     batchSize,
		logger:        logger.Named("memory-store"),
		currencies:    make(map[int64]domain.CurrencyRecord),
		prices:        make(map[int64]*priceSeries),
		history:       make(map[historyKey]domain.AggregatedPricePoint),
		alerts:        make(map[int64]domain.AlertRule),
		notifications: make(map[int64]domain.AlertNotification),
	}
}

func (s *Store) IsHealthy(ctx context.Context) bool { return true }

func (s *Store) Close() error { return nil }

// ---- currencies ----

func (s *Store) UpsertCurrencies(ctx context.Context, records []domain.CurrencyRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.currencies[r.ID] = r
	}
	return len(records), nil
}

func (s *Store) GetCurrency(ctx context.Context, id int64) (*domain.CurrencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.currencies[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

// DeactivateCurrenciesExcept marks every active currency not in keep as
// inactive. An empty keep list is a no-op.
func (s *Store) DeactivateCurrenciesExcept(ctx context.Context, keep []int64) (int64, error) {
	if len(keep) == 0 {
		return 0, nil
	}
	keepSet := make(map[int64]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.currencies {
		if _, ok := keepSet[id]; ok || !c.IsActive {
			continue
		}
		c.IsActive = false
		s.currencies[id] = c
		n++
	}
	return n, nil
}

// ---- price snapshots ----

func (s *Store) InsertPriceSnapshots(ctx context.Context, records []domain.PriceSnapshot) (int, error) {
	return storage.InsertInBatches(ctx, records, s.batchSize, s.insertSnapshotBatch,
		func(offset, count int, err error) {
			s.logger.Warn("price snapshot sub-batch rejected",
				zap.Int("offset", offset), zap.Int("count", count), zap.Error(err))
		})
}

// insertSnapshotBatch is all-or-nothing like a single INSERT statement.
func (s *Store) insertSnapshotBatch(ctx context.Context, batch []domain.PriceSnapshot) (int, error) {
	for _, r := range batch {
		if err := checkSnapshot(r); err != nil {
			return 0, err
		}
	}

	written := 0
	for _, r := range batch {
		series := s.series(r.CryptoID)
		series.mu.Lock()
		if !series.has(r.QuoteCurrency, r.Timestamp) {
			series.insert(r)
			written++
		}
		series.mu.Unlock()
	}
	return written, nil
}

func checkSnapshot(r domain.PriceSnapshot) error {
	if r.QuoteCurrency == "" {
		return fmt.Errorf("crypto %d: empty quote currency", r.CryptoID)
	}
	if math.IsNaN(r.Price) || math.IsInf(r.Price, 0) || r.Price < 0 {
		return fmt.Errorf("crypto %d: numeric field out of range: price=%v", r.CryptoID, r.Price)
	}
	return nil
}

func (s *Store) series(cryptoID int64) *priceSeries {
	// Fast path: lock per-asset series only
	s.mu.RLock()
	series, ok := s.prices[cryptoID]
	s.mu.RUnlock()
	if ok {
		return series
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if series, ok = s.prices[cryptoID]; !ok {
		series = &priceSeries{}
		s.prices[cryptoID] = series
	}
	return series
}

func (p *priceSeries) has(quote string, ts time.Time) bool {
	for _, existing := range p.snapshots {
		if existing.QuoteCurrency == quote && existing.Timestamp.Equal(ts) {
			return true
		}
	}
	return false
}

func (p *priceSeries) insert(r domain.PriceSnapshot) {
	i := sort.Search(len(p.snapshots), func(i int) bool {
		return p.snapshots[i].Timestamp.After(r.Timestamp)
	})
	p.snapshots = append(p.snapshots, domain.PriceSnapshot{})
	copy(p.snapshots[i+1:], p.snapshots[i:])
	p.snapshots[i] = r
}

func (s *Store) allSeries() map[int64]*priceSeries {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]*priceSeries, len(s.prices))
	for id, series := range s.prices {
		out[id] = series
	}
	return out
}

// QueryPriceSnapshots returns matching snapshots oldest first.
func (s *Store) QueryPriceSnapshots(ctx context.Context, q domain.SnapshotQuery) ([]domain.PriceSnapshot, error) {
	var out []domain.PriceSnapshot
	for id, series := range s.allSeries() {
		if q.CryptoID != nil && *q.CryptoID != id {
			continue
		}
		series.mu.Lock()
		for _, snap := range series.snapshots {
			if q.QuoteCurrency != "" && snap.QuoteCurrency != q.QuoteCurrency {
				continue
			}
			if snap.Timestamp.Before(q.From) || !snap.Timestamp.Before(q.To) {
				continue
			}
			out = append(out, snap)
		}
		series.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].CryptoID < out[j].CryptoID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// LatestSnapshots returns up to limit snapshots for one asset, newest first.
func (s *Store) LatestSnapshots(ctx context.Context, cryptoID int64, quote string, limit int) ([]domain.PriceSnapshot, error) {
	s.mu.RLock()
	series, ok := s.prices[cryptoID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	series.mu.Lock()
	defer series.mu.Unlock()
	var out []domain.PriceSnapshot
	for i := len(series.snapshots) - 1; i >= 0 && len(out) < limit; i-- {
		if series.snapshots[i].QuoteCurrency == quote {
			out = append(out, series.snapshots[i])
		}
	}
	return out, nil
}

func (s *Store) DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	for _, series := range s.allSeries() {
		series.mu.Lock()
		kept := series.snapshots[:0]
		for _, snap := range series.snapshots {
			if snap.Timestamp.Before(before) {
				deleted++
				continue
			}
			kept = append(kept, snap)
		}
		series.snapshots = kept
		series.mu.Unlock()
	}
	return deleted, nil
}

// CountSnapshots is the total number of stored snapshots.
func (s *Store) CountSnapshots() int {
	total := 0
	for _, series := range s.allSeries() {
		series.mu.Lock()
		total += len(series.snapshots)
		series.mu.Unlock()
	}
	return total
}

// ---- aggregated history ----

// InsertAggregatedPoints writes points that are not already present for
// their (crypto, interval, timestamp) key.
func (s *Store) InsertAggregatedPoints(ctx context.Context, points []domain.AggregatedPricePoint) (int, error) {
	return storage.InsertInBatches(ctx, points, s.batchSize, func(ctx context.Context, batch []domain.AggregatedPricePoint) (int, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		written := 0
		for _, p := range batch {
			key := historyKey{cryptoID: p.CryptoID, interval: p.IntervalType, timestamp: p.Timestamp.UnixNano()}
			if _, exists := s.history[key]; exists {
				continue
			}
			s.history[key] = p
			written++
		}
		return written, nil
	}, func(offset, count int, err error) {
		s.logger.Warn("history sub-batch rejected", zap.Int("offset", offset), zap.Int("count", count), zap.Error(err))
	})
}

// ExistsAggregationForWindow reports whether any point for interval has a
// timestamp in (start, end]. The previous window's point sits exactly on start
// and does not count. A nil cryptoID matches every asset.
func (s *Store) ExistsAggregationForWindow(ctx context.Context, cryptoID *int64, interval domain.IntervalType, start, end time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, p := range s.history {
		if key.interval != interval || (cryptoID != nil && key.cryptoID != *cryptoID) {
			continue
		}
		if p.Timestamp.After(start) && !p.Timestamp.After(end) {
			return true, nil
		}
	}
	return false, nil
}

// QueryAggregatedPoints returns history for interval in [from, to], oldest first.
func (s *Store) QueryAggregatedPoints(ctx context.Context, interval domain.IntervalType, cryptoID *int64, from, to time.Time) ([]domain.AggregatedPricePoint, error) {
	s.mu.RLock()
	var out []domain.AggregatedPricePoint
	for key, p := range s.history {
		if key.interval != interval || (cryptoID != nil && key.cryptoID != *cryptoID) {
			continue
		}
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].CryptoID < out[j].CryptoID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *Store) DeleteHistoryBefore(ctx context.Context, interval domain.IntervalType, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, p := range s.history {
		if key.interval == interval && p.Timestamp.Before(before) {
			delete(s.history, key)
			n++
		}
	}
	return n, nil
}

// ---- alerts ----

// SaveAlert inserts or replaces a rule, assigning an ID when zero.
func (s *Store) SaveAlert(ctx context.Context, rule *domain.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == 0 {
		s.nextAlertID++
		rule.ID = s.nextAlertID
	} else if rule.ID > s.nextAlertID {
		s.nextAlertID = rule.ID
	}
	s.alerts[rule.ID] = *rule
	return nil
}

func (s *Store) GetAlert(ctx context.Context, id int64) (*domain.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.alerts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rule, nil
}

func (s *Store) QueryActiveAlerts(ctx context.Context) ([]domain.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AlertRule
	for _, rule := range s.alerts {
		if rule.IsActive {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateAlertLastTriggered(ctx context.Context, alertID int64, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.alerts[alertID]
	if !ok {
		return storage.ErrNotFound
	}
	rule.LastTriggeredAt = &ts
	s.alerts[alertID] = rule
	return nil
}

// FireAlert moves the rule's last_triggered_at from prev to now and records
// the notification in one step. It returns false without writing anything
// when the rule's last_triggered_at no longer equals prev.
func (s *Store) FireAlert(ctx context.Context, n *domain.AlertNotification, prev *time.Time, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.alerts[n.AlertID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if !sameTime(rule.LastTriggeredAt, prev) {
		return false, nil
	}

	rule.LastTriggeredAt = &now
	s.alerts[rule.ID] = rule
	s.insertNotificationLocked(n)
	return true, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// ---- notifications ----

func (s *Store) InsertNotification(ctx context.Context, n *domain.AlertNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertNotificationLocked(n)
	return nil
}

func (s *Store) insertNotificationLocked(n *domain.AlertNotification) {
	s.nextNotificationID++
	n.ID = s.nextNotificationID
	if n.Status == "" {
		n.Status = domain.NotificationPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications[n.ID] = *n
}

func (s *Store) GetNotification(ctx context.Context, id int64) (*domain.AlertNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &n, nil
}

// UpdateNotificationStatus records a dispatch attempt. Sent rows are terminal
// and report ErrNotFound.
func (s *Store) UpdateNotificationStatus(ctx context.Context, id int64, upd domain.NotificationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.Status == domain.NotificationSent {
		return storage.ErrNotFound
	}
	n.Status = upd.Status
	n.Attempts++
	n.SentAt = upd.SentAt
	n.ErrorMessage = upd.ErrorMessage
	n.MessageID = upd.MessageID
	s.notifications[id] = n
	return nil
}

// QueryRetryableNotifications returns pending or failed rows created before
// createdBefore with fewer than maxAttempts attempts, oldest first.
func (s *Store) QueryRetryableNotifications(ctx context.Context, maxAttempts int, createdBefore time.Time, limit int) ([]domain.AlertNotification, error) {
	s.mu.RLock()
	var out []domain.AlertNotification
	for _, n := range s.notifications {
		if n.Status == domain.NotificationSent || n.Attempts >= maxAttempts || !n.CreatedAt.Before(createdBefore) {
			continue
		}
		out = append(out, n)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListNotifications returns the notification history, newest first.
func (s *Store) ListNotifications(ctx context.Context, q domain.NotificationQuery) ([]domain.AlertNotification, error) {
	s.mu.RLock()
	var out []domain.AlertNotification
	for _, n := range s.notifications {
		if q.UserID != 0 && n.UserID != q.UserID {
			continue
		}
		if q.Status != "" && n.Status != q.Status {
			continue
		}
		out = append(out, n)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
