package wallet

import (
	"testing"
	"time"
)

func TestEvaluate_GateOrder(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	deliveredAt := now.Add(-10 * time.Hour)
	inspectedAt := now.Add(-30 * time.Hour)

	tests := []struct {
		name       string
		wallet     Wallet
		facts      Facts
		wantKind   StepKind
		wantReason string
	}{
		{
			name:       "waits until the order is delivered",
			wallet:     Wallet{Status: StatusFullyHeld, TotalHeld: 100},
			facts:      Facts{OrderDelivered: false, Now: now, InspectionHours: 24},
			wantKind:   StepWait,
			wantReason: ReasonDeliveryNotConfirmed,
		},
		{
			name:     "confirms delivery once the order reports delivered",
			wallet:   Wallet{Status: StatusFullyHeld, TotalHeld: 100},
			facts:    Facts{OrderDelivered: true, Now: now, InspectionHours: 24},
			wantKind: StepConfirmDelivery,
		},
		{
			name:       "cannot start the inspection clock without a delivery date",
			wallet:     Wallet{Status: StatusFullyHeld, TotalHeld: 100, DeliveryConfirmed: true, DisputeResolved: true},
			facts:      Facts{OrderDelivered: true, Now: now, InspectionHours: 24},
			wantKind:   StepWait,
			wantReason: ReasonDeliveryDateMissing,
		},
		{
			name:       "waits out the inspection period",
			wallet:     Wallet{Status: StatusFullyHeld, TotalHeld: 100, DeliveryConfirmed: true, DisputeResolved: true},
			facts:      Facts{OrderDelivered: true, DeliveryDate: &deliveredAt, Now: now, InspectionHours: 24},
			wantKind:   StepWait,
			wantReason: ReasonInspectionPeriodNotOver,
		},
		{
			name:     "marks the inspection period passed after the window",
			wallet:   Wallet{Status: StatusFullyHeld, TotalHeld: 100, DeliveryConfirmed: true, DisputeResolved: true},
			facts:    Facts{OrderDelivered: true, DeliveryDate: &inspectedAt, Now: now, InspectionHours: 24},
			wantKind: StepMarkInspectionPassed,
		},
		{
			name: "customer acceptance skips the inspection wait",
			wallet: Wallet{
				Status: StatusFullyHeld, TotalHeld: 100,
				DeliveryConfirmed: true, CustomerAccepted: true, DisputeResolved: true,
			},
			facts:    Facts{OrderDelivered: true, Now: now, InspectionHours: 24, CommissionRate: 10},
			wantKind: StepRelease,
		},
		{
			name: "open ticket found during re-validation downgrades the wallet",
			wallet: Wallet{
				Status: StatusFullyHeld, TotalHeld: 100,
				DeliveryConfirmed: true, InspectionPeriodPassed: true, DisputeResolved: true,
			},
			facts:      Facts{OrderDelivered: true, OpenTicket: "DSP-1A2B3C4D", Now: now, InspectionHours: 24},
			wantKind:   StepDowngradeDisputed,
			wantReason: ReasonActiveDispute,
		},
		{
			name: "unresolved dispute flag keeps the wallet held",
			wallet: Wallet{
				Status: StatusDisputed, TotalHeld: 100,
				DeliveryConfirmed: true, InspectionPeriodPassed: true, DisputeResolved: false,
			},
			facts:      Facts{OrderDelivered: true, Now: now, InspectionHours: 24},
			wantKind:   StepWait,
			wantReason: ReasonConditionsNotMet,
		},
		{
			name: "all gates clear releases",
			wallet: Wallet{
				Status: StatusFullyHeld, TotalHeld: 1_000_000,
				DeliveryConfirmed: true, InspectionPeriodPassed: true, DisputeResolved: true,
			},
			facts:    Facts{OrderDelivered: true, Now: now, InspectionHours: 24, CommissionRate: 10},
			wantKind: StepRelease,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := Evaluate(tt.wallet, tt.facts)
			if step.Kind != tt.wantKind {
				t.Fatalf("kind = %v, want %v", step.Kind, tt.wantKind)
			}
			if tt.wantReason != "" && step.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", step.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluate_ReleaseSplit(t *testing.T) {
	w := Wallet{
		Status: StatusFullyHeld, TotalHeld: 1_000_000,
		DeliveryConfirmed: true, InspectionPeriodPassed: true, DisputeResolved: true,
	}
	step := Evaluate(w, Facts{OrderDelivered: true, Now: time.Now(), CommissionRate: 10})

	if step.Kind != StepRelease {
		t.Fatalf("kind = %v, want StepRelease", step.Kind)
	}
	if step.Commission != 100_000 {
		t.Errorf("commission = %d, want 100000", step.Commission)
	}
	if step.SellerPayout != 900_000 {
		t.Errorf("payout = %d, want 900000", step.SellerPayout)
	}
}

func TestEvaluate_InspectionHoursRemaining(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	deliveredAt := now.Add(-10 * time.Hour)

	w := Wallet{Status: StatusFullyHeld, TotalHeld: 100, DeliveryConfirmed: true, DisputeResolved: true}
	step := Evaluate(w, Facts{OrderDelivered: true, DeliveryDate: &deliveredAt, Now: now, InspectionHours: 24})

	if step.Kind != StepWait {
		t.Fatalf("kind = %v, want StepWait", step.Kind)
	}
	if step.HoursRemaining != 14 {
		t.Errorf("hours remaining = %v, want 14", step.HoursRemaining)
	}
}

func TestSplitPayout(t *testing.T) {
	tests := []struct {
		total          int64
		rate           int
		wantCommission int64
	}{
		{1_000_000, 10, 100_000},
		{999, 10, 100},    // 99.9 rounds half-up
		{1_005, 10, 101},  // 100.5 rounds half-up
		{1, 10, 0},        // 0.1 rounds down
		{2_000_000, 15, 300_000},
		{500, 0, 0},
	}

	for _, tt := range tests {
		commission, payout := SplitPayout(tt.total, tt.rate)
		if commission != tt.wantCommission {
			t.Errorf("SplitPayout(%d, %d) commission = %d, want %d", tt.total, tt.rate, commission, tt.wantCommission)
		}
		if commission+payout != tt.total {
			t.Errorf("SplitPayout(%d, %d) does not reconcile: %d + %d", tt.total, tt.rate, commission, payout)
		}
	}
}
