package domain

import "time"

// CurrencyRecord is one listed asset, keyed by the provider's stable ID.
// Rows are upserted every sync and only ever deactivated, never deleted.
type CurrencyRecord struct {
	ID     int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Symbol string `gorm:"type:varchar(32);not null;index:idx_currency_symbol" json:"symbol"`
	Name   string `gorm:"type:text;not null" json:"name"`
	Slug   string `gorm:"type:text;not null" json:"slug"`
	Rank   *int   `gorm:"index:idx_currency_rank" json:"rank,omitempty"`

	IsActive bool `gorm:"not null;default:true" json:"is_active"`

	CirculatingSupply *float64 `gorm:"type:numeric" json:"circulating_supply,omitempty"`
	TotalSupply       *float64 `gorm:"type:numeric" json:"total_supply,omitempty"`
	MaxSupply         *float64 `gorm:"type:numeric" json:"max_supply,omitempty"`

	DateAdded   time.Time `gorm:"not null" json:"date_added"`
	LastUpdated time.Time `gorm:"not null" json:"last_updated"`
}

// TableName overrides the default table name for GORM.
func (CurrencyRecord) TableName() string {
	return "cryptocurrencies"
}
