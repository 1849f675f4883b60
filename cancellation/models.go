package cancellation

import "time"

// Refund statuses on a cancellation record. The payment collaborator moves
// money and reports back; pending_review marks records held for a risk
// check.
const (
	RefundStatusPending       = "pending"
	RefundStatusPendingReview = "pending_review"
	RefundStatusRefunded      = "refunded"
)

// Record is the cancellation ledger entry, one per cancelled pre-order.
type Record struct {
	ID                  string    `json:"id"`
	OrderID             string    `json:"order_id"`
	CancellationDate    time.Time `json:"cancellation_date"`
	DaysBeforeHarvest   int       `json:"days_before_harvest"`
	OriginalDeposit     int64     `json:"original_deposit"`
	RefundPercentage    int       `json:"refund_percentage"`
	RefundAmount        int64     `json:"refund_amount"`
	PenaltyAmount       int64     `json:"penalty_amount"`
	PolicyTier          string    `json:"policy_tier"`
	RefundStatus        string    `json:"refund_status"`
	AdminOverride       bool      `json:"admin_override"`
	AdminOverrideReason string    `json:"admin_override_reason,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Event is one append-only timeline entry on a cancellation.
type Event struct {
	ID             int64     `json:"id"`
	CancellationID string    `json:"cancellation_id"`
	EventType      string    `json:"event_type"`
	Actor          string    `json:"actor"`
	Note           string    `json:"note,omitempty"`
	AdminOverride  bool      `json:"admin_override"`
	CreatedAt      time.Time `json:"created_at"`
}
