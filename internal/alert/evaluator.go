package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coinpulse/internal/cache"
	"coinpulse/internal/domain"

	"go.uber.org/zap"
)

// Store is the subset of the store adapter the evaluator uses.
type Store interface {
	QueryActiveAlerts(ctx context.Context) ([]domain.AlertRule, error)
	LatestSnapshots(ctx context.Context, cryptoID int64, quote string, limit int) ([]domain.PriceSnapshot, error)
	FireAlert(ctx context.Context, n *domain.AlertNotification, prev *time.Time, now time.Time) (bool, error)
}

// Summary counts the outcomes of one evaluation pass.
type Summary struct {
	Evaluated     int                        `json:"evaluated"`
	Suppressed    int                        `json:"suppressed"`
	Fired         int                        `json:"fired"`
	Skipped       int                        `json:"skipped"`
	Errors        int                        `json:"errors"`
	Notifications []domain.AlertNotification `json:"-"`
}

type outcome int

const (
	outcomeNoFire outcome = iota
	outcomeSuppressed
	outcomeFired
	outcomeSkipped
	outcomeError
)

type Evaluator struct {
	store    Store
	cooldown cache.CooldownCache
	quote    string
	workers  int
	now      func() time.Time
	logger   *zap.Logger

	ruleLocks sync.Map // alert id -> *sync.Mutex
}

// NewEvaluator builds an evaluator. cooldown may be nil.
func NewEvaluator(store Store, cooldown cache.CooldownCache, quote string, workers int, logger *zap.Logger) *Evaluator {
	if workers <= 0 {
		workers = 1
	}
	return &Evaluator{
		store:    store,
		cooldown: cooldown,
		quote:    quote,
		workers:  workers,
		now:      time.Now,
		logger:   logger.Named("alerts"),
	}
}

// WithClock overrides the evaluation clock.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate checks every active rule against the latest two snapshots of its
// asset. Failing to load the rules is returned; per-rule errors are counted
// and logged without stopping the pass.
func (e *Evaluator) Evaluate(ctx context.Context) (Summary, error) {
	return e.EvaluateSince(ctx, time.Time{})
}

// EvaluateSince is Evaluate for one sync cycle: a rule whose newest snapshot
// is older than cycle was not refreshed by that cycle and is skipped, so the
// same price pair is never judged twice.
func (e *Evaluator) EvaluateSince(ctx context.Context, cycle time.Time) (Summary, error) {
	var summary Summary

	rules, err := e.store.QueryActiveAlerts(ctx)
	if err != nil {
		return summary, fmt.Errorf("query active alerts: %w", err)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.workers)
	)

	for _, rule := range rules {
		rule := rule
		sem <- struct{}{}
		wg.Add(1)

		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()

			result, n := e.evaluateRule(ctx, rule, cycle)

			mu.Lock()
			defer mu.Unlock()
			summary.Evaluated++
			switch result {
			case outcomeSuppressed:
				summary.Suppressed++
			case outcomeFired:
				summary.Fired++
				summary.Notifications = append(summary.Notifications, *n)
			case outcomeSkipped:
				summary.Skipped++
			case outcomeError:
				summary.Errors++
			}
		}()
	}
	wg.Wait()

	e.logger.Info("alert evaluation complete",
		zap.Int("evaluated", summary.Evaluated),
		zap.Int("fired", summary.Fired),
		zap.Int("suppressed", summary.Suppressed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
	)
	return summary, nil
}

func (e *Evaluator) lockRule(id int64) func() {
	v, _ := e.ruleLocks.LoadOrStore(id, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule domain.AlertRule, cycle time.Time) (outcome, *domain.AlertNotification) {
	unlock := e.lockRule(rule.ID)
	defer unlock()

	log := e.logger.With(zap.Int64("alert_id", rule.ID), zap.Int64("crypto_id", rule.CryptoID))

	if err := rule.Validate(); err != nil {
		log.Warn("skipping invalid alert rule", zap.Error(err))
		return outcomeSkipped, nil
	}

	now := e.now().UTC()

	if e.cooldown != nil {
		active, err := e.cooldown.Active(ctx, rule.ID)
		if err != nil {
			log.Debug("cooldown cache unavailable", zap.Error(err))
		} else if active {
			return outcomeSuppressed, nil
		}
	}
	if InCooldown(rule, now) {
		return outcomeSuppressed, nil
	}

	snaps, err := e.store.LatestSnapshots(ctx, rule.CryptoID, e.quote, 2)
	if err != nil {
		log.Error("failed to load latest snapshots", zap.Error(err))
		return outcomeError, nil
	}
	if len(snaps) < 2 || !snaps[1].Timestamp.Before(snaps[0].Timestamp) {
		return outcomeSkipped, nil
	}
	if snaps[0].Timestamp.Before(cycle) {
		log.Debug("no snapshot from this cycle", zap.Time("latest", snaps[0].Timestamp), zap.Time("cycle", cycle))
		return outcomeSkipped, nil
	}
	current, previous := snaps[0].Price, snaps[1].Price

	d := ShouldFire(rule, current, previous)
	if d.Note != "" {
		log.Debug("alert rule cannot fire", zap.String("note", d.Note))
	}
	if !d.Fire {
		return outcomeNoFire, nil
	}

	n := &domain.AlertNotification{
		AlertID:               rule.ID,
		UserID:                rule.UserID,
		CryptoID:              rule.CryptoID,
		TriggerPrice:          current,
		PreviousPrice:         previous,
		PriceChangePercentage: d.ChangePct,
		Status:                domain.NotificationPending,
		CreatedAt:             now,
	}

	fired, err := e.store.FireAlert(ctx, n, rule.LastTriggeredAt, now)
	if err != nil {
		log.Error("failed to record alert firing", zap.Error(err))
		return outcomeError, nil
	}
	if !fired {
		log.Info("alert already fired by another evaluation")
		return outcomeSuppressed, nil
	}

	if e.cooldown != nil {
		if err := e.cooldown.Mark(ctx, rule.ID, Cooldown(rule.NotificationFrequency)); err != nil {
			log.Warn("failed to set cooldown cache", zap.Error(err))
		}
	}

	log.Info("alert fired",
		zap.Int64("notification_id", n.ID),
		zap.Float64("current", current),
		zap.Float64("previous", previous),
	)
	return outcomeFired, n
}
