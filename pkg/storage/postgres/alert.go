package postgres

import (
	"context"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/pkg/storage"

	"gorm.io/gorm"
)

// SaveAlert inserts the rule when ID is zero, otherwise replaces it.
func (p *PostgresClient) SaveAlert(ctx context.Context, rule *domain.AlertRule) error {
	return p.DB.WithContext(ctx).Save(rule).Error
}

func (p *PostgresClient) GetAlert(ctx context.Context, id int64) (*domain.AlertRule, error) {
	var rule domain.AlertRule
	err := p.DB.WithContext(ctx).Where("id = ?", id).First(&rule).Error
	if isNotFound(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (p *PostgresClient) QueryActiveAlerts(ctx context.Context) ([]domain.AlertRule, error) {
	var out []domain.AlertRule
	err := p.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresClient) UpdateAlertLastTriggered(ctx context.Context, alertID int64, ts time.Time) error {
	tx := p.DB.WithContext(ctx).
		Model(&domain.AlertRule{}).
		Where("id = ?", alertID).
		Update("last_triggered_at", ts)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// FireAlert moves the rule's last_triggered_at from prev to now and records
// the notification in one transaction. It returns false without writing
// anything when the rule's last_triggered_at no longer equals prev.
func (p *PostgresClient) FireAlert(ctx context.Context, n *domain.AlertNotification, prev *time.Time, now time.Time) (bool, error) {
	fired := false
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.AlertRule{}).Where("id = ?", n.AlertID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrNotFound
		}

		q := tx.Model(&domain.AlertRule{}).Where("id = ?", n.AlertID)
		if prev == nil {
			q = q.Where("last_triggered_at IS NULL")
		} else {
			q = q.Where("last_triggered_at = ?", *prev)
		}
		res := q.Update("last_triggered_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if n.Status == "" {
			n.Status = domain.NotificationPending
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		if err := tx.Create(n).Error; err != nil {
			return err
		}
		fired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return fired, nil
}
