package alert

import (
	"math"
	"time"

	"coinpulse/internal/domain"

	"github.com/shopspring/decimal"
)

// Cooldown is the minimum time between two firings of a rule.
func Cooldown(freq domain.Frequency) time.Duration {
	switch freq {
	case domain.FrequencyHourly:
		return time.Hour
	case domain.FrequencyDaily:
		return 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

// InCooldown reports whether the rule fired less than its cooldown ago.
func InCooldown(rule domain.AlertRule, now time.Time) bool {
	if rule.LastTriggeredAt == nil {
		return false
	}
	return now.Sub(*rule.LastTriggeredAt) < Cooldown(rule.NotificationFrequency)
}

// Decision is the outcome of checking one rule against a price pair.
type Decision struct {
	Fire      bool
	ChangePct *float64
	// Note explains a rule that can never fire.
	Note string
}

const noteThresholdBoth = "price_threshold with direction both never fires"

// ChangePercent returns (current-previous)/previous*100, or nil when previous is 0.
func ChangePercent(current, previous float64) *float64 {
	if previous == 0 || math.IsNaN(previous) || math.IsNaN(current) {
		return nil
	}
	cur := decimal.NewFromFloat(current)
	prev := decimal.NewFromFloat(previous)
	pct := cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).InexactFloat64()
	return &pct
}

// ShouldFire decides whether rule fires for the move previous → current.
// Percentage rules compare the move against the threshold; threshold rules
// fire only when the price crosses the level between the two snapshots.
func ShouldFire(rule domain.AlertRule, current, previous float64) Decision {
	d := Decision{ChangePct: ChangePercent(current, previous)}

	switch rule.AlertType {
	case domain.AlertPriceChange:
		if rule.ThresholdPercentage == nil || d.ChangePct == nil {
			return d
		}
		t, pct := *rule.ThresholdPercentage, *d.ChangePct
		switch rule.Direction {
		case domain.DirectionUp:
			d.Fire = pct >= t
		case domain.DirectionDown:
			d.Fire = pct <= -t
		case domain.DirectionBoth:
			d.Fire = math.Abs(pct) >= t
		}

	case domain.AlertPriceThreshold:
		if rule.ThresholdPrice == nil {
			return d
		}
		t := *rule.ThresholdPrice
		switch rule.Direction {
		case domain.DirectionUp:
			d.Fire = current >= t && previous < t
		case domain.DirectionDown:
			d.Fire = current <= t && previous > t
		case domain.DirectionBoth:
			d.Note = noteThresholdBoth
		}
	}

	return d
}
