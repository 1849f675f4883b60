package risk

import "settleflow/config"

// Level buckets the 0-100 fraud score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Signals holds the boolean outcome of each fraud pattern detector for one
// customer. Detectors only ever fire or stay silent; they never subtract.
type Signals struct {
	DuplicateShippingAddress bool `json:"duplicate_shipping_address"`
	DuplicatePhone           bool `json:"duplicate_phone"`
	OrderSpike               bool `json:"order_spike"`
	EndOfMonthSurge          bool `json:"end_of_month_surge"`
	RepeatedCODCancellations bool `json:"repeated_cod_cancellations"`
}

// Profile is the derived risk assessment. It is computed on demand and never
// persisted.
type Profile struct {
	CustomerID string  `json:"customer_id"`
	Score      int     `json:"score"`
	Level      Level   `json:"level"`
	Signals    Signals `json:"signals"`
}

// Score sums the weight of every fired pattern, clamped to 0-100.
func Score(sig Signals, w config.RiskWeights) int {
	total := 0
	if sig.DuplicateShippingAddress {
		total += w.DuplicateShippingAddress
	}
	if sig.DuplicatePhone {
		total += w.DuplicatePhone
	}
	if sig.OrderSpike {
		total += w.OrderSpike
	}
	if sig.EndOfMonthSurge {
		total += w.EndOfMonthSurge
	}
	if sig.RepeatedCODCancellations {
		total += w.RepeatedCODCancellations
	}
	if total < 0 {
		return 0
	}
	if total > 100 {
		return 100
	}
	return total
}

// LevelFor maps a score to a risk level.
func LevelFor(score int) Level {
	switch {
	case score >= 70:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	default:
		return LevelLow
	}
}

// RequiresManualReview reports whether the level blocks auto-approval of
// compensations and refunds.
func (l Level) RequiresManualReview() bool {
	return l == LevelHigh || l == LevelCritical
}
