package compensation

import "time"

// TriggerType identifies what fired the compensation.
type TriggerType string

const (
	TriggerDelay    TriggerType = "delay_threshold"
	TriggerShortage TriggerType = "shortage_delivery"
	// TriggerDispute marks compensations materialised from a confirmed
	// dispute resolution; tier carries the ticket number so each ticket
	// settles at most once.
	TriggerDispute TriggerType = "dispute_resolution"
)

// Type is the form the compensation takes.
type Type string

const (
	TypeVoucher              Type = "voucher"
	TypePartialRefund        Type = "partial_refund"
	TypeDiscountCurrentOrder Type = "discount_current_order"
	TypePoints               Type = "points"
)

// Status is the compensation lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
)

// TierShortage is the fixed tier recorded for shortage compensations; the
// unique (order, trigger, tier) key then allows at most one per order ever.
const TierShortage = "shortage"

// Compensation is one ledger record per (order, trigger, tier).
type Compensation struct {
	ID               string      `json:"id"`
	OrderID          string      `json:"order_id"`
	TriggerType      TriggerType `json:"trigger_type"`
	Tier             string      `json:"tier"`
	DaysDelayed      int         `json:"days_delayed"`
	ShortagePercent  int         `json:"shortage_percent"`
	Type             Type        `json:"compensation_type"`
	Value            int64       `json:"compensation_value"`
	Status           Status      `json:"status"`
	AutoApproved     bool        `json:"auto_approved"`
	RiskLevel        string      `json:"risk_level"`
	PolicyReference  string      `json:"policy_reference,omitempty"`
	VoucherCode      string      `json:"voucher_code,omitempty"`
	VoucherExpiresAt *time.Time  `json:"voucher_expires_at,omitempty"`
	PointsAwarded    int64       `json:"points_awarded,omitempty"`
	AppliedAt        *time.Time  `json:"applied_at,omitempty"`
	AppliedBy        string      `json:"applied_by,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// CreatedCompensation summarises one new record in the sweep report.
type CreatedCompensation struct {
	CompensationID string `json:"compensation_id"`
	OrderID        string `json:"order_id"`
	Tier           string `json:"tier"`
	Type           string `json:"type"`
	Value          int64  `json:"value"`
	AutoApproved   bool   `json:"auto_approved"`
	RiskLevel      string `json:"risk_level"`
}

// RunError records a per-order failure without failing the batch.
type RunError struct {
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

// Summary is the JSON report for one compensation sweep run.
type Summary struct {
	DelayCompensations    []CreatedCompensation `json:"delay_compensations"`
	ShortageCompensations []CreatedCompensation `json:"shortage_compensations"`
	Errors                []RunError            `json:"errors"`
}
