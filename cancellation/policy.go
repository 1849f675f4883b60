package cancellation

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"settleflow/config"
)

var (
	// ErrMissingHarvestDate rejects a refund calculation without a harvest
	// estimate to measure lead time against.
	ErrMissingHarvestDate = errors.New("cancellation: missing harvest date")
	// ErrInvalidDeposit rejects non-positive deposits.
	ErrInvalidDeposit = errors.New("cancellation: invalid deposit amount")
	// ErrInvalidOverride rejects an override refund outside [0, deposit].
	ErrInvalidOverride = errors.New("cancellation: override refund out of range")
)

// RefundQuote is the pure output of the refund calculator.
type RefundQuote struct {
	DaysBeforeHarvest int
	RefundPercentage  int
	RefundAmount      int64
	PenaltyAmount     int64
	PolicyTier        string
}

// CalculateRefund applies the injectable tier table to the cancellation lead
// time. refund + penalty always equals the deposit.
func CalculateRefund(deposit int64, harvest, now time.Time, tiers []config.RefundTier) (RefundQuote, error) {
	if deposit <= 0 {
		return RefundQuote{}, ErrInvalidDeposit
	}
	if harvest.IsZero() {
		return RefundQuote{}, ErrMissingHarvestDate
	}

	days := int(harvest.Sub(now).Hours() / 24)
	if days < 0 {
		days = 0
	}

	tier, ok := matchRefundTier(tiers, days)
	if !ok {
		// Lead time below the smallest threshold: no refund.
		tier = config.RefundTier{MinDaysBefore: 0, Percent: 0, Name: "no_refund"}
	}

	refund := percentOf(deposit, tier.Percent)
	return RefundQuote{
		DaysBeforeHarvest: days,
		RefundPercentage:  tier.Percent,
		RefundAmount:      refund,
		PenaltyAmount:     deposit - refund,
		PolicyTier:        tier.Name,
	}, nil
}

// DeriveFromOverride recomputes percentage and penalty from an admin-set
// refund amount, preserving the refund + penalty == deposit invariant.
func DeriveFromOverride(deposit, overrideRefund int64) (RefundQuote, error) {
	if deposit <= 0 {
		return RefundQuote{}, ErrInvalidDeposit
	}
	if overrideRefund < 0 || overrideRefund > deposit {
		return RefundQuote{}, fmt.Errorf("%w: %d of %d", ErrInvalidOverride, overrideRefund, deposit)
	}
	pct := int(decimal.NewFromInt(overrideRefund).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(deposit)).
		Round(0).
		IntPart())
	return RefundQuote{
		RefundPercentage: pct,
		RefundAmount:     overrideRefund,
		PenaltyAmount:    deposit - overrideRefund,
		PolicyTier:       "admin_override",
	}, nil
}

func matchRefundTier(tiers []config.RefundTier, daysBefore int) (config.RefundTier, bool) {
	for _, t := range tiers {
		if daysBefore >= t.MinDaysBefore {
			return t, true
		}
	}
	return config.RefundTier{}, false
}

func percentOf(amount int64, percent int) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(int64(percent))).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}
