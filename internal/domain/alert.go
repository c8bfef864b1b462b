package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

type AlertType string

const (
	AlertPriceChange    AlertType = "price_change"
	AlertPriceThreshold AlertType = "price_threshold"
)

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionBoth Direction = "both"
)

// Frequency controls how often a rule may fire.
type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyHourly    Frequency = "hourly"
	FrequencyDaily     Frequency = "daily"
)

// AlertRule is a user's price alert. Only LastTriggeredAt is written by
// this service; everything else is owned by the user-facing API.
type AlertRule struct {
	ID       int64 `gorm:"primaryKey" json:"id"`
	UserID   int64 `gorm:"not null;index:idx_alert_user" json:"user_id" validate:"gt=0"`
	CryptoID int64 `gorm:"not null;index:idx_alert_crypto" json:"crypto_id" validate:"gt=0"`

	AlertType           AlertType `gorm:"type:varchar(32);not null" json:"alert_type" validate:"oneof=price_change price_threshold"`
	ThresholdPercentage *float64  `gorm:"type:numeric" json:"threshold_percentage,omitempty" validate:"omitempty,gt=0"`
	ThresholdPrice      *float64  `gorm:"type:numeric" json:"threshold_price,omitempty" validate:"omitempty,gt=0"`
	Direction           Direction `gorm:"type:varchar(8);not null;default:both" json:"direction" validate:"oneof=up down both"`

	IsActive              bool       `gorm:"not null;default:true;index:idx_alert_active" json:"is_active"`
	NotificationFrequency Frequency  `gorm:"type:varchar(16);not null;default:immediate" json:"notification_frequency" validate:"oneof=immediate hourly daily"`
	LastTriggeredAt       *time.Time `json:"last_triggered_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the default table name for GORM.
func (AlertRule) TableName() string {
	return "user_alerts"
}

var (
	validate = validator.New()

	ErrThresholdMismatch = errors.New("exactly one threshold must be set for the alert type")
)

// Validate checks field constraints and that exactly the threshold matching
// AlertType is present.
func (r *AlertRule) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("alert %d: %w", r.ID, err)
	}

	switch r.AlertType {
	case AlertPriceChange:
		if r.ThresholdPercentage == nil || r.ThresholdPrice != nil {
			return fmt.Errorf("alert %d: %w", r.ID, ErrThresholdMismatch)
		}
	case AlertPriceThreshold:
		if r.ThresholdPrice == nil || r.ThresholdPercentage != nil {
			return fmt.Errorf("alert %d: %w", r.ID, ErrThresholdMismatch)
		}
	}
	return nil
}
