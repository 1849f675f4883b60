package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"settleflow/outbox"
)

var (
	ErrNotFound = errors.New("wallet: not found")
	// ErrStaleState is returned when a conditional update matched no row:
	// another actor already moved the wallet. Treated as success-no-op by
	// the evaluator.
	ErrStaleState = errors.New("wallet: state changed since read")
)

const walletColumns = `
	id, order_id, status, total_held,
	delivery_confirmed, inspection_period_passed, customer_accepted, dispute_resolved,
	COALESCE(hold_reason, ''), seller_payout_amount, platform_commission,
	auto_release_date, created_at, updated_at
`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	err := row.Scan(
		&w.ID, &w.OrderID, &w.Status, &w.TotalHeld,
		&w.DeliveryConfirmed, &w.InspectionPeriodPassed, &w.CustomerAccepted, &w.DisputeResolved,
		&w.HoldReason, &w.SellerPayoutAmount, &w.PlatformCommission,
		&w.AutoReleaseDate, &w.CreatedAt, &w.UpdatedAt,
	)
	return w, err
}

// ListReleasable returns wallets the evaluator may act on: funds still held
// and status not yet terminal. Released and refunded wallets are never
// revisited.
func (r *Repository) ListReleasable(ctx context.Context) ([]Wallet, error) {
	q := `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE status IN ('deposit_held', 'fully_held')
		  AND total_held > 0
		ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("wallet: list releasable: %w", err)
	}
	defer rows.Close()

	out := make([]Wallet, 0, 32)
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("wallet: scan: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wallet: iterate: %w", err)
	}
	return out, nil
}

func (r *Repository) GetByOrderID(ctx context.Context, orderID string) (Wallet, error) {
	q := `SELECT ` + walletColumns + ` FROM wallets WHERE order_id = $1`
	w, err := scanWallet(r.pool.QueryRow(ctx, q, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, fmt.Errorf("wallet: get by order: %w", err)
	}
	return w, nil
}

// ConfirmDelivery flips the delivery gate once the order store reports the
// order delivered.
func (r *Repository) ConfirmDelivery(ctx context.Context, walletID string) error {
	return r.setFlag(ctx, walletID, `delivery_confirmed`, "confirm delivery")
}

// MarkInspectionPassed flips the inspection gate after the window elapsed.
func (r *Repository) MarkInspectionPassed(ctx context.Context, walletID string) error {
	return r.setFlag(ctx, walletID, `inspection_period_passed`, "mark inspection passed")
}

func (r *Repository) setFlag(ctx context.Context, walletID, column, verb string) error {
	q := fmt.Sprintf(`
		UPDATE wallets
		SET %s = true, updated_at = get_tx_timestamp()
		WHERE id = $1 AND status IN ('deposit_held', 'fully_held')
	`, column)
	tag, err := r.pool.Exec(ctx, q, walletID)
	if err != nil {
		return fmt.Errorf("wallet: %s: %w", verb, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// Downgrade moves a wallet believed clear back to disputed after an open
// ticket surfaced during re-validation. Explicit transition, not a silent
// flag flip.
func (r *Repository) Downgrade(ctx context.Context, walletID, ticketNumber string) error {
	const q = `
		UPDATE wallets
		SET status = 'disputed',
		    dispute_resolved = false,
		    hold_reason = $2,
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status IN ('deposit_held', 'fully_held')
	`
	tag, err := r.pool.Exec(ctx, q, walletID, "Active dispute: "+ticketNumber)
	if err != nil {
		return fmt.Errorf("wallet: downgrade disputed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// ClearDispute restores a disputed wallet to fully held once its ticket
// reached a terminal state. Invoked by the dispute workflow.
func (r *Repository) ClearDispute(ctx context.Context, orderID string) error {
	const q = `
		UPDATE wallets
		SET status = 'fully_held',
		    dispute_resolved = true,
		    hold_reason = NULL,
		    updated_at = get_tx_timestamp()
		WHERE order_id = $1 AND status = 'disputed'
	`
	if _, err := r.pool.Exec(ctx, q, orderID); err != nil {
		return fmt.Errorf("wallet: clear dispute: %w", err)
	}
	return nil
}

// Release pays out the seller: one conditional wallet update plus exactly
// two ledger rows, all in one transaction. The guard on status and
// total_held makes a replayed release a no-op instead of a double payout.
func (r *Repository) Release(ctx context.Context, w Wallet, commission, payout int64, initiatedBy, ruleRef string) error {
	if commission+payout != w.TotalHeld {
		return fmt.Errorf("wallet: release split %d+%d does not reconcile with held %d", commission, payout, w.TotalHeld)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("wallet: begin release: %w", err)
	}
	defer tx.Rollback(ctx)

	const updateQ = `
		UPDATE wallets
		SET status = 'released_to_seller',
		    total_held = 0,
		    seller_payout_amount = $2,
		    platform_commission = $3,
		    auto_release_date = get_tx_timestamp(),
		    hold_reason = NULL,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		  AND status IN ('deposit_held', 'fully_held')
		  AND total_held = $4
	`
	tag, err := tx.Exec(ctx, updateQ, w.ID, payout, commission, w.TotalHeld)
	if err != nil {
		return fmt.Errorf("wallet: release update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}

	if err := appendTransactionTx(ctx, tx, Transaction{
		WalletID:        w.ID,
		OrderID:         w.OrderID,
		Type:            TxCommissionDeduct,
		Amount:          -commission,
		BalanceBefore:   w.TotalHeld,
		BalanceAfter:    payout,
		Status:          "completed",
		InitiatedBy:     initiatedBy,
		Reason:          "platform commission",
		AutoRuleApplied: ruleRef,
	}); err != nil {
		return err
	}
	if err := appendTransactionTx(ctx, tx, Transaction{
		WalletID:        w.ID,
		OrderID:         w.OrderID,
		Type:            TxSellerPayout,
		Amount:          -payout,
		BalanceBefore:   payout,
		BalanceAfter:    0,
		Status:          "completed",
		InitiatedBy:     initiatedBy,
		Reason:          "seller payout on release",
		AutoRuleApplied: ruleRef,
	}); err != nil {
		return err
	}

	if err := outbox.Enqueue(ctx, tx, outbox.TopicWalletReleased, map[string]any{
		"wallet_id":     w.ID,
		"order_id":      w.OrderID,
		"seller_payout": payout,
		"commission":    commission,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("wallet: commit release: %w", err)
	}
	return nil
}

// Refund empties a held or disputed wallet back to the buyer with a single
// refund ledger row. Only the dispute workflow calls this.
func (r *Repository) Refund(ctx context.Context, orderID, initiatedBy, reason string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("wallet: begin refund: %w", err)
	}
	defer tx.Rollback(ctx)

	var walletID string
	var held int64
	if err := tx.QueryRow(ctx, `
		SELECT id, total_held FROM wallets
		WHERE order_id = $1
		  AND status IN ('deposit_held', 'fully_held', 'disputed')
		  AND total_held > 0
		FOR UPDATE
	`, orderID).Scan(&walletID, &held); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrStaleState
		}
		return 0, fmt.Errorf("wallet: lock for refund: %w", err)
	}
	const updateQ = `
		UPDATE wallets
		SET status = 'refunded',
		    total_held = 0,
		    hold_reason = NULL,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, updateQ, walletID); err != nil {
		return 0, fmt.Errorf("wallet: refund update: %w", err)
	}

	if err := appendTransactionTx(ctx, tx, Transaction{
		WalletID:      walletID,
		OrderID:       orderID,
		Type:          TxRefund,
		Amount:        -held,
		BalanceBefore: held,
		BalanceAfter:  0,
		Status:        "completed",
		InitiatedBy:   initiatedBy,
		Reason:        reason,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("wallet: commit refund: %w", err)
	}
	return held, nil
}

func appendTransactionTx(ctx context.Context, tx pgx.Tx, t Transaction) error {
	const q = `
		INSERT INTO wallet_transactions
			(wallet_id, order_id, transaction_type, amount, balance_before, balance_after,
			 status, initiated_by, reason, auto_rule_applied)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := tx.Exec(ctx, q,
		t.WalletID, t.OrderID, t.Type, t.Amount, t.BalanceBefore, t.BalanceAfter,
		t.Status, t.InitiatedBy, t.Reason, t.AutoRuleApplied,
	); err != nil {
		return fmt.Errorf("wallet: append transaction: %w", err)
	}
	return nil
}

// Transactions lists the ledger for one wallet, oldest first.
func (r *Repository) Transactions(ctx context.Context, walletID string) ([]Transaction, error) {
	const q = `
		SELECT id, wallet_id, order_id, transaction_type, amount, balance_before, balance_after,
		       status, initiated_by, COALESCE(reason, ''), COALESCE(auto_rule_applied, ''), created_at
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, q, walletID)
	if err != nil {
		return nil, fmt.Errorf("wallet: list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0, 8)
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID, &t.WalletID, &t.OrderID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
			&t.Status, &t.InitiatedBy, &t.Reason, &t.AutoRuleApplied, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("wallet: scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wallet: iterate transactions: %w", err)
	}
	return out, nil
}
