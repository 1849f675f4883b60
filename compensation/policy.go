package compensation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"settleflow/config"
	"settleflow/order"
)

var (
	// ErrNoFulfillmentItems signals a shortage candidate without item rows.
	ErrNoFulfillmentItems = errors.New("compensation: fulfillment record has no items")
	// ErrNothingOrdered signals zero total ordered quantity.
	ErrNothingOrdered = errors.New("compensation: nothing ordered")
)

// DelayDays measures whole days between the estimated harvest date and now.
// Non-positive means the lot is not late.
func DelayDays(harvest, now time.Time) int {
	return int(now.Sub(harvest).Hours() / 24)
}

// MatchDelayTier picks the highest tier the measured delay reaches that is
// not already covered by an existing compensation. coveredDays is the
// largest days_delayed recorded for the order so far (zero when none): a
// prior record covers its own tier and every lower one.
func MatchDelayTier(tiers []config.DelayTier, delayDays, coveredDays int) (config.DelayTier, bool) {
	for _, t := range tiers {
		if delayDays >= t.Days {
			if coveredDays >= t.Days {
				return config.DelayTier{}, false
			}
			return t, true
		}
	}
	return config.DelayTier{}, false
}

// PercentOf computes percent of amount in minor units, half-up.
func PercentOf(amount int64, percent int) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(int64(percent))).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

// Shortage is the measured gap between ordered and shipped quantities.
type Shortage struct {
	OrderedQuantity int64
	ShippedQuantity int64
	Percent         int   // of ordered quantity, rounded
	Value           int64 // Σ (ordered − shipped) × unit_price
}

// MeasureShortage folds fulfillment items into a Shortage.
func MeasureShortage(items []order.FulfillmentItem) (Shortage, error) {
	if len(items) == 0 {
		return Shortage{}, ErrNoFulfillmentItems
	}
	var sh Shortage
	for _, it := range items {
		sh.OrderedQuantity += it.OrderedQuantity
		sh.ShippedQuantity += it.ShippedQuantity
		if missing := it.OrderedQuantity - it.ShippedQuantity; missing > 0 {
			sh.Value += missing * it.UnitPrice
		}
	}
	if sh.OrderedQuantity <= 0 {
		return Shortage{}, ErrNothingOrdered
	}
	missing := sh.OrderedQuantity - sh.ShippedQuantity
	sh.Percent = int(decimal.NewFromInt(missing).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(sh.OrderedQuantity)).
		Round(0).
		IntPart())
	return sh, nil
}

// ShortageValue returns the compensation value for a shortage, applying the
// severe-shortage bonus when the missing share exceeds the threshold.
func ShortageValue(sh Shortage, bonusThresholdPercent, bonusPercent int) int64 {
	if sh.Percent > bonusThresholdPercent {
		return sh.Value + PercentOf(sh.Value, bonusPercent)
	}
	return sh.Value
}
