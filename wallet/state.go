package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// StepKind enumerates the single action the evaluator may take on a wallet
// in one run.
type StepKind int

const (
	// StepWait leaves the wallet untouched; Reason explains which gate held.
	StepWait StepKind = iota
	// StepConfirmDelivery persists delivery_confirmed = true.
	StepConfirmDelivery
	// StepMarkInspectionPassed persists inspection_period_passed = true.
	StepMarkInspectionPassed
	// StepDowngradeDisputed moves the wallet to disputed because an open
	// ticket was found during re-validation.
	StepDowngradeDisputed
	// StepRelease pays out the seller and closes the hold.
	StepRelease
)

// Pending reasons reported in the run summary.
const (
	ReasonDeliveryNotConfirmed    = "delivery_not_confirmed"
	ReasonInspectionPeriodNotOver = "inspection_period_not_passed"
	ReasonActiveDispute           = "active_dispute"
	ReasonConditionsNotMet        = "conditions_not_met"
	ReasonDeliveryDateMissing     = "delivery_date_missing"
)

// Step is the tagged outcome of evaluating the gate chain.
type Step struct {
	Kind           StepKind
	Reason         string
	HoursRemaining float64
	TicketNumber   string
	Commission     int64
	SellerPayout   int64
}

// Facts are the observations the evaluator gathered for one wallet this run.
type Facts struct {
	OrderDelivered  bool
	DeliveryDate    *time.Time
	OpenTicket      string // first open dispute ticket number, empty when none
	Now             time.Time
	InspectionHours int
	CommissionRate  int // percent of total held
}

// Evaluate runs the fixed gate chain against the wallet and returns the one
// step to take this run. It is pure: gate order and payout arithmetic are
// testable without storage.
//
// Gate order: delivery confirmation, inspection period (skipped once the
// customer accepted), dispute re-validation, release.
func Evaluate(w Wallet, f Facts) Step {
	if !w.DeliveryConfirmed {
		if f.OrderDelivered {
			return Step{Kind: StepConfirmDelivery}
		}
		return Step{Kind: StepWait, Reason: ReasonDeliveryNotConfirmed}
	}

	if !w.CustomerAccepted && !w.InspectionPeriodPassed {
		if f.DeliveryDate == nil {
			return Step{Kind: StepWait, Reason: ReasonDeliveryDateMissing}
		}
		elapsed := f.Now.Sub(*f.DeliveryDate).Hours()
		period := float64(f.InspectionHours)
		if elapsed < period {
			return Step{
				Kind:           StepWait,
				Reason:         ReasonInspectionPeriodNotOver,
				HoursRemaining: period - elapsed,
			}
		}
		return Step{Kind: StepMarkInspectionPassed}
	}

	// The flag says the dispute path is clear; re-check before moving money.
	if w.DisputeResolved && f.OpenTicket != "" {
		return Step{Kind: StepDowngradeDisputed, TicketNumber: f.OpenTicket, Reason: ReasonActiveDispute}
	}

	if w.DeliveryConfirmed && w.DisputeResolved && (w.CustomerAccepted || w.InspectionPeriodPassed) {
		commission, payout := SplitPayout(w.TotalHeld, f.CommissionRate)
		return Step{Kind: StepRelease, Commission: commission, SellerPayout: payout}
	}

	return Step{Kind: StepWait, Reason: ReasonConditionsNotMet}
}

// SplitPayout computes the platform commission (half-up rounding on minor
// units) and the seller payout. The two always sum to totalHeld.
func SplitPayout(totalHeld int64, ratePercent int) (commission, payout int64) {
	rate := decimal.NewFromInt(int64(ratePercent)).Div(decimal.NewFromInt(100))
	commission = decimal.NewFromInt(totalHeld).Mul(rate).Round(0).IntPart()
	return commission, totalHeld - commission
}
