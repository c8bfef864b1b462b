package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"coinpulse/internal/domain"

	"go.uber.org/zap"
)

// Store is the subset of the store adapter the dispatcher uses.
type Store interface {
	GetCurrency(ctx context.Context, id int64) (*domain.CurrencyRecord, error)
	UpdateNotificationStatus(ctx context.Context, id int64, upd domain.NotificationUpdate) error
	QueryRetryableNotifications(ctx context.Context, maxAttempts int, createdBefore time.Time, limit int) ([]domain.AlertNotification, error)
}

// DispatchError is a failed delivery. The notification is left failed for
// the retry task.
type DispatchError struct {
	NotificationID int64
	Err            error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch notification %d: %v", e.NotificationID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Result counts the outcomes of a dispatch batch.
type Result struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

type Dispatcher struct {
	store   Store
	channel Channel
	grace   time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewDispatcher builds a dispatcher. Retry sweeps ignore rows younger than
// grace so they do not race the sync task's own first attempt.
func NewDispatcher(store Store, channel Channel, grace time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		channel: channel,
		grace:   grace,
		now:     time.Now,
		logger:  logger.Named("dispatcher"),
	}
}

// WithClock overrides the dispatch clock.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Recipient is the channel address for a user.
func Recipient(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// Send delivers one notification and records the attempt. A channel failure
// marks the row failed and returns a *DispatchError; it is never retried here.
func (d *Dispatcher) Send(ctx context.Context, n *domain.AlertNotification) error {
	subject, body := d.render(ctx, n)
	log := d.logger.With(zap.Int64("notification_id", n.ID), zap.Int64("alert_id", n.AlertID))

	id, sendErr := d.channel.Send(ctx, Recipient(n.UserID), subject, body)

	var upd domain.NotificationUpdate
	if sendErr != nil {
		msg := sendErr.Error()
		upd = domain.NotificationUpdate{Status: domain.NotificationFailed, ErrorMessage: &msg}
	} else {
		sentAt := d.now().UTC()
		upd = domain.NotificationUpdate{Status: domain.NotificationSent, SentAt: &sentAt, MessageID: &id}
	}

	if err := d.store.UpdateNotificationStatus(ctx, n.ID, upd); err != nil {
		log.Error("failed to record notification status", zap.String("status", string(upd.Status)), zap.Error(err))
		if sendErr == nil {
			return fmt.Errorf("record notification %d: %w", n.ID, err)
		}
	}

	if sendErr != nil {
		log.Warn("notification delivery failed", zap.Int("attempt", n.Attempts+1), zap.Error(sendErr))
		return &DispatchError{NotificationID: n.ID, Err: sendErr}
	}

	n.Status, n.SentAt, n.MessageID = upd.Status, upd.SentAt, upd.MessageID
	n.Attempts++
	log.Info("notification sent", zap.String("message_id", id))
	return nil
}

// SendAll delivers each notification once.
func (d *Dispatcher) SendAll(ctx context.Context, notifications []domain.AlertNotification) Result {
	var res Result
	for i := range notifications {
		res.Attempted++
		if err := d.Send(ctx, &notifications[i]); err != nil {
			res.Failed++
			continue
		}
		res.Sent++
	}
	return res
}

// RetryPending re-sends up to batch unsent notifications that have fewer than
// maxAttempts attempts. A row whose last attempt fails stays failed for good.
func (d *Dispatcher) RetryPending(ctx context.Context, maxAttempts, batch int) (Result, error) {
	var res Result

	rows, err := d.store.QueryRetryableNotifications(ctx, maxAttempts, d.now().Add(-d.grace), batch)
	if err != nil {
		return res, fmt.Errorf("query retryable notifications: %w", err)
	}

	for i := range rows {
		res.Attempted++
		err := d.Send(ctx, &rows[i])
		switch {
		case err == nil:
			res.Sent++
		default:
			res.Failed++
			var dispatchErr *DispatchError
			if errors.As(err, &dispatchErr) && rows[i].Attempts+1 >= maxAttempts {
				res.Exhausted++
				d.logger.Warn("notification retries exhausted",
					zap.Int64("notification_id", rows[i].ID),
					zap.Int("attempts", rows[i].Attempts+1))
			}
		}
	}

	if res.Attempted > 0 {
		d.logger.Info("notification retry complete",
			zap.Int("attempted", res.Attempted),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
			zap.Int("exhausted", res.Exhausted))
	}
	return res, nil
}

func (d *Dispatcher) render(ctx context.Context, n *domain.AlertNotification) (string, string) {
	symbol := "#" + strconv.FormatInt(n.CryptoID, 10)
	if c, err := d.store.GetCurrency(ctx, n.CryptoID); err == nil && c.Symbol != "" {
		symbol = c.Symbol
	}

	subject := fmt.Sprintf("%s price alert", symbol)
	body := fmt.Sprintf("%s is now $%s (was $%s).", symbol, formatPrice(n.TriggerPrice), formatPrice(n.PreviousPrice))
	if n.PriceChangePercentage != nil {
		body = fmt.Sprintf("%s moved %+.2f%%: now $%s, was $%s.",
			symbol, *n.PriceChangePercentage, formatPrice(n.TriggerPrice), formatPrice(n.PreviousPrice))
	}
	return subject, body
}

func formatPrice(v float64) string {
	if v >= 1 {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}
