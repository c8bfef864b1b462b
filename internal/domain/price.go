package domain

import "time"

// PriceSnapshot is a point-in-time quote of one asset in one quote currency.
// Written once per sync cycle and never updated.
type PriceSnapshot struct {
	ID uint `gorm:"primaryKey" json:"-"`

	// unique index
	CryptoID      int64     `gorm:"not null;index:idx_price_crypto_quote_ts,unique" json:"crypto_id"`
	QuoteCurrency string    `gorm:"type:varchar(16);not null;index:idx_price_crypto_quote_ts,unique" json:"quote_currency"`
	Timestamp     time.Time `gorm:"not null;index:idx_price_crypto_quote_ts,unique;index:idx_price_timestamp" json:"timestamp"`

	Price     float64  `gorm:"type:numeric;not null" json:"price"`
	Volume24h *float64 `gorm:"column:volume_24h;type:numeric" json:"volume_24h,omitempty"`
	MarketCap *float64 `gorm:"type:numeric" json:"market_cap,omitempty"`

	PercentChange1h  *float64 `gorm:"column:percent_change_1h;type:numeric" json:"percent_change_1h,omitempty"`
	PercentChange24h *float64 `gorm:"column:percent_change_24h;type:numeric" json:"percent_change_24h,omitempty"`
	PercentChange7d  *float64 `gorm:"column:percent_change_7d;type:numeric" json:"percent_change_7d,omitempty"`
	PercentChange30d *float64 `gorm:"column:percent_change_30d;type:numeric" json:"percent_change_30d,omitempty"`
	PercentChange60d *float64 `gorm:"column:percent_change_60d;type:numeric" json:"percent_change_60d,omitempty"`
	PercentChange90d *float64 `gorm:"column:percent_change_90d;type:numeric" json:"percent_change_90d,omitempty"`
	PercentChange1y  *float64 `gorm:"column:percent_change_1y;type:numeric" json:"percent_change_1y,omitempty"`

	Dominance *float64 `gorm:"type:numeric" json:"dominance,omitempty"`
	Turnover  *float64 `gorm:"type:numeric" json:"turnover,omitempty"`
}

// TableName overrides the default table name for GORM.
func (PriceSnapshot) TableName() string {
	return "crypto_prices"
}

// SnapshotQuery selects raw snapshots in the half-open range [From, To).
// A nil CryptoID matches every asset.
type SnapshotQuery struct {
	CryptoID      *int64
	QuoteCurrency string
	From          time.Time
	To            time.Time
}
