package domain

import "time"

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// AlertNotification records one firing of an alert rule and its delivery state.
// Sent rows are terminal; failed rows are retried until Attempts reaches the
// configured maximum.
type AlertNotification struct {
	ID       int64 `gorm:"primaryKey" json:"id"`
	AlertID  int64 `gorm:"not null;index:idx_notification_alert" json:"alert_id"`
	UserID   int64 `gorm:"not null;index:idx_notification_user" json:"user_id"`
	CryptoID int64 `gorm:"not null" json:"crypto_id"`

	TriggerPrice          float64  `gorm:"type:numeric;not null" json:"trigger_price"`
	PreviousPrice         float64  `gorm:"type:numeric;not null" json:"previous_price"`
	PriceChangePercentage *float64 `gorm:"type:numeric" json:"price_change_percentage,omitempty"`

	Status       NotificationStatus `gorm:"type:varchar(16);not null;default:pending;index:idx_notification_status" json:"status"`
	Attempts     int                `gorm:"not null;default:0" json:"attempts"`
	MessageID    *string            `gorm:"type:text" json:"message_id,omitempty"`
	SentAt       *time.Time         `json:"sent_at,omitempty"`
	ErrorMessage *string            `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time          `gorm:"not null" json:"created_at"`
}

// TableName overrides the default table name for GORM.
func (AlertNotification) TableName() string {
	return "alert_notifications"
}

// NotificationUpdate is the outcome of one dispatch attempt.
type NotificationUpdate struct {
	Status       NotificationStatus
	SentAt       *time.Time
	ErrorMessage *string
	MessageID    *string
}

// NotificationQuery filters the notification history. Zero values match everything.
type NotificationQuery struct {
	UserID int64
	Status NotificationStatus
	Limit  int
}
