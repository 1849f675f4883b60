package wallet

import "time"

// Status is the wallet lifecycle state.
type Status string

const (
	StatusDepositHeld      Status = "deposit_held"
	StatusFullyHeld        Status = "fully_held"
	StatusDisputed         Status = "disputed"
	StatusReleasedToSeller Status = "released_to_seller"
	StatusRefunded         Status = "refunded"
)

// TransactionType tags a ledger row.
type TransactionType string

const (
	TxCommissionDeduct   TransactionType = "commission_deduct"
	TxSellerPayout       TransactionType = "seller_payout"
	TxRefund             TransactionType = "refund"
	TxCompensationPayout TransactionType = "compensation_payout"
)

// Wallet holds deferred funds for one order. Amounts are integer minor
// currency units.
type Wallet struct {
	ID                     string     `json:"id"`
	OrderID                string     `json:"order_id"`
	Status                 Status     `json:"status"`
	TotalHeld              int64      `json:"total_held"`
	DeliveryConfirmed      bool       `json:"delivery_confirmed"`
	InspectionPeriodPassed bool       `json:"inspection_period_passed"`
	CustomerAccepted       bool       `json:"customer_accepted"`
	DisputeResolved        bool       `json:"dispute_resolved"`
	HoldReason             string     `json:"hold_reason,omitempty"`
	SellerPayoutAmount     int64      `json:"seller_payout_amount"`
	PlatformCommission     int64      `json:"platform_commission"`
	AutoReleaseDate        *time.Time `json:"auto_release_date,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Transaction is an immutable ledger entry. Rows are only ever appended.
type Transaction struct {
	ID              string          `json:"id"`
	WalletID        string          `json:"wallet_id"`
	OrderID         string          `json:"order_id"`
	Type            TransactionType `json:"transaction_type"`
	Amount          int64           `json:"amount"`
	BalanceBefore   int64           `json:"balance_before"`
	BalanceAfter    int64           `json:"balance_after"`
	Status          string          `json:"status"`
	InitiatedBy     string          `json:"initiated_by"`
	Reason          string          `json:"reason,omitempty"`
	AutoRuleApplied string          `json:"auto_rule_applied,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ReleasedWallet summarises one successful release in the run report.
type ReleasedWallet struct {
	WalletID     string `json:"wallet_id"`
	OrderID      string `json:"order_id"`
	SellerPayout int64  `json:"seller_payout"`
	Commission   int64  `json:"commission"`
}

// PendingWallet explains why a wallet stayed held this run.
type PendingWallet struct {
	WalletID       string  `json:"wallet_id"`
	OrderID        string  `json:"order_id"`
	Reason         string  `json:"reason"`
	HoursRemaining float64 `json:"hours_remaining,omitempty"`
}

// RunError records a per-wallet failure without failing the batch.
type RunError struct {
	WalletID string `json:"wallet_id"`
	Message  string `json:"message"`
}

// Summary is the JSON report the scheduler receives for one evaluator run.
type Summary struct {
	Checked  int              `json:"checked"`
	Released []ReleasedWallet `json:"released"`
	Pending  []PendingWallet  `json:"pending"`
	Errors   []RunError       `json:"errors"`
}
