package postgres

import (
	"context"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/pkg/storage"

	"gorm.io/gorm"
)

func (p *PostgresClient) InsertNotification(ctx context.Context, n *domain.AlertNotification) error {
	if n.Status == "" {
		n.Status = domain.NotificationPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return p.DB.WithContext(ctx).Create(n).Error
}

func (p *PostgresClient) GetNotification(ctx context.Context, id int64) (*domain.AlertNotification, error) {
	var n domain.AlertNotification
	err := p.DB.WithContext(ctx).Where("id = ?", id).First(&n).Error
	if isNotFound(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// UpdateNotificationStatus records one delivery attempt. Sent rows are
// terminal: updating one returns storage.ErrNotFound.
func (p *PostgresClient) UpdateNotificationStatus(ctx context.Context, id int64, upd domain.NotificationUpdate) error {
	tx := p.DB.WithContext(ctx).
		Model(&domain.AlertNotification{}).
		Where("id = ? AND status <> ?", id, domain.NotificationSent).
		Updates(map[string]interface{}{
			"status":        upd.Status,
			"attempts":      gorm.Expr("attempts + 1"),
			"sent_at":       upd.SentAt,
			"error_message": upd.ErrorMessage,
			"message_id":    upd.MessageID,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// QueryRetryableNotifications returns unsent rows with attempts left that
// were created before createdBefore, oldest first.
func (p *PostgresClient) QueryRetryableNotifications(ctx context.Context, maxAttempts int, createdBefore time.Time, limit int) ([]domain.AlertNotification, error) {
	tx := p.DB.WithContext(ctx).
		Where("status <> ? AND attempts < ? AND created_at < ?", domain.NotificationSent, maxAttempts, createdBefore).
		Order("id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	var out []domain.AlertNotification
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListNotifications returns notification history, newest first.
func (p *PostgresClient) ListNotifications(ctx context.Context, q domain.NotificationQuery) ([]domain.AlertNotification, error) {
	tx := p.DB.WithContext(ctx).Order("id DESC")
	if q.UserID != 0 {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var out []domain.AlertNotification
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
