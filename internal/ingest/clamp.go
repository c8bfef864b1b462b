package ingest

import (
	"math"
	"time"
)

// Storage bounds for numeric columns. Values beyond them are clamped rather
// than rejected so one bad provider field never drops a whole record.
const (
	MaxSupply     = 1e20
	MaxPrice      = 1e12
	MaxVolume     = 1e20
	MaxMarketCap  = 1e20
	MaxPercentage = 1e6
	MaxTurnover   = 1e6
)

// EpochSentinel replaces missing or unparsable provider dates.
var EpochSentinel = time.Unix(0, 0).UTC()

// Clamp bounds v to [-max, max]. NaN becomes nil; ±Inf becomes ±max.
func Clamp(v, max float64) *float64 {
	switch {
	case math.IsNaN(v):
		return nil
	case v > max:
		v = max
	case v < -max:
		v = -max
	}
	return &v
}

// clampPtr is Clamp for an optional value.
func clampPtr(v *float64, max float64) *float64 {
	if v == nil {
		return nil
	}
	return Clamp(*v, max)
}

// clampPrice returns a price in [0, MaxPrice]; missing or NaN becomes 0.
func clampPrice(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || *v < 0 {
		return 0
	}
	if *v > MaxPrice {
		return MaxPrice
	}
	return *v
}

func orEpoch(t time.Time) time.Time {
	if t.IsZero() {
		return EpochSentinel
	}
	return t.UTC()
}
