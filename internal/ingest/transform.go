package ingest

import (
	"strings"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/pkg/listing"
)

// ToCurrencyRecord converts a provider listing into a currency row.
// It never fails: bad numbers are clamped or dropped and bad dates become
// EpochSentinel.
func ToCurrencyRecord(raw listing.RawListing) domain.CurrencyRecord {
	rec := domain.CurrencyRecord{
		ID:                raw.ID,
		Symbol:            strings.TrimSpace(raw.Symbol),
		Name:              strings.TrimSpace(raw.Name),
		Slug:              strings.TrimSpace(raw.Slug),
		IsActive:          bool(raw.IsActive),
		CirculatingSupply: clampPtr(raw.CirculatingSupply.Ptr(), MaxSupply),
		TotalSupply:       clampPtr(raw.TotalSupply.Ptr(), MaxSupply),
		MaxSupply:         clampPtr(raw.MaxSupply.Ptr(), MaxSupply),
		DateAdded:         orEpoch(raw.DateAdded.Time),
		LastUpdated:       orEpoch(raw.LastUpdated.Time),
	}

	if r := raw.CMCRank.Ptr(); r != nil && *r >= 1 && *r <= float64(1<<31-1) {
		rank := int(*r)
		rec.Rank = &rank
	}

	return rec
}

// ToPriceSnapshots emits one snapshot per named quote, all stamped with ts.
func ToPriceSnapshots(raw listing.RawListing, ts time.Time) []domain.PriceSnapshot {
	out := make([]domain.PriceSnapshot, 0, len(raw.Quotes))
	for _, q := range raw.Quotes {
		quote := strings.ToUpper(strings.TrimSpace(q.Name))
		if quote == "" {
			continue
		}

		out = append(out, domain.PriceSnapshot{
			CryptoID:         raw.ID,
			QuoteCurrency:    quote,
			Timestamp:        ts,
			Price:            clampPrice(q.Price.Ptr()),
			Volume24h:        clampPtr(q.Volume24h.Ptr(), MaxVolume),
			MarketCap:        clampPtr(q.MarketCap.Ptr(), MaxMarketCap),
			PercentChange1h:  clampPtr(q.PercentChange1h.Ptr(), MaxPercentage),
			PercentChange24h: clampPtr(q.PercentChange24h.Ptr(), MaxPercentage),
			PercentChange7d:  clampPtr(q.PercentChange7d.Ptr(), MaxPercentage),
			PercentChange30d: clampPtr(q.PercentChange30d.Ptr(), MaxPercentage),
			PercentChange60d: clampPtr(q.PercentChange60d.Ptr(), MaxPercentage),
			PercentChange90d: clampPtr(q.PercentChange90d.Ptr(), MaxPercentage),
			PercentChange1y:  clampPtr(q.PercentChange1y.Ptr(), MaxPercentage),
			Dominance:        clampPtr(q.Dominance.Ptr(), MaxPercentage),
			Turnover:         clampPtr(q.Turnover.Ptr(), MaxTurnover),
		})
	}
	return out
}
