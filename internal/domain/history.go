package domain

import (
	"fmt"
	"time"
)

// IntervalType is the granularity of an aggregated history bucket.
type IntervalType string

// IntervalMeta holds the DB value and window length for an interval class.
type IntervalMeta struct {
	DBValue string
	Hours   int
}

const (
	IntervalHourly  IntervalType = "1h"
	IntervalDaily   IntervalType = "1d"
	IntervalWeekly  IntervalType = "1w"
	IntervalMonthly IntervalType = "1M"
)

// validIntervals maps each IntervalType to its window length.
// Months are a fixed 30 days.
var validIntervals = map[IntervalType]IntervalMeta{
	IntervalHourly:  {DBValue: "1h", Hours: 1},
	IntervalDaily:   {DBValue: "1d", Hours: 24},
	IntervalWeekly:  {DBValue: "1w", Hours: 168},
	IntervalMonthly: {DBValue: "1M", Hours: 720},
}

// Intervals lists every interval class, shortest first.
func Intervals() []IntervalType {
	return []IntervalType{IntervalHourly, IntervalDaily, IntervalWeekly, IntervalMonthly}
}

// IsValid checks if the IntervalType is a predefined interval class.
func (i IntervalType) IsValid() bool {
	_, ok := validIntervals[i]
	return ok
}

// Window returns the length of the interval's aggregation window.
func (i IntervalType) Window() time.Duration {
	return time.Duration(validIntervals[i].Hours) * time.Hour
}

// ParseIntervalType parses a DB value such as "1d" into an IntervalType.
func ParseIntervalType(s string) (IntervalType, error) {
	interval := IntervalType(s)
	if !interval.IsValid() {
		return "", fmt.Errorf("invalid interval type: %s", s)
	}
	return interval, nil
}

// AggregatedPricePoint summarizes one asset's snapshots over one window.
type AggregatedPricePoint struct {
	ID uint `gorm:"primaryKey" json:"-"`

	// unique index
	CryptoID     int64        `gorm:"not null;index:idx_history_crypto_interval_ts,unique" json:"crypto_id"`
	IntervalType IntervalType `gorm:"column:interval_type;type:varchar(4);not null;index:idx_history_crypto_interval_ts,unique;index:idx_history_interval_ts" json:"interval_type"`
	Timestamp    time.Time    `gorm:"not null;index:idx_history_crypto_interval_ts,unique;index:idx_history_interval_ts" json:"timestamp"`

	Price     float64  `gorm:"type:numeric;not null" json:"price"`
	Volume    *float64 `gorm:"type:numeric" json:"volume,omitempty"`
	MarketCap *float64 `gorm:"type:numeric" json:"market_cap,omitempty"`
}

// TableName overrides the default table name for GORM.
func (AggregatedPricePoint) TableName() string {
	return "price_history"
}
