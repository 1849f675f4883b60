package compensation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"settleflow/outbox"
)

var (
	// ErrNotApproved signals an apply attempt on a record still pending
	// review.
	ErrNotApproved = errors.New("compensation: not approved")
	// ErrRejected signals an apply attempt on a rejected record.
	ErrRejected = errors.New("compensation: rejected")
)

// ApplyResult reports the outcome of applying one compensation. Replays
// return the stored prior result with AlreadyApplied set.
type ApplyResult struct {
	CompensationID   string     `json:"compensation_id"`
	OrderID          string     `json:"order_id"`
	Type             Type       `json:"type"`
	Value            int64      `json:"value"`
	VoucherCode      string     `json:"voucher_code,omitempty"`
	VoucherExpiresAt *time.Time `json:"voucher_expires_at,omitempty"`
	PointsAwarded    int64      `json:"points_awarded,omitempty"`
	AlreadyApplied   bool       `json:"already_applied"`
}

// Applier executes the apply step for approved compensations. Keyed by
// compensation id: the row lock plus the applied-status check make each
// record apply exactly once.
type Applier struct {
	pool            *pgxpool.Pool
	voucherValidity time.Duration
	now             func() time.Time
}

func NewApplier(pool *pgxpool.Pool, voucherValidity time.Duration) *Applier {
	return &Applier{
		pool:            pool,
		voucherValidity: voucherValidity,
		now:             time.Now,
	}
}

func (a *Applier) WithClock(now func() time.Time) *Applier {
	a.now = now
	return a
}

// Apply executes the side effect for one approved compensation: vouchers get
// a code and expiry, points get an award, refund and discount types are
// marked applied with the money movement delegated to the wallet subsystem.
// Re-invocation on an applied record is a no-op returning the prior result.
func (a *Applier) Apply(ctx context.Context, compensationID, actor string) (ApplyResult, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("compensation: begin apply: %w", err)
	}
	defer tx.Rollback(ctx)

	q := `SELECT ` + compColumns + ` FROM compensations WHERE id = $1 FOR UPDATE`
	c, err := scanCompensation(tx.QueryRow(ctx, q, compensationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ApplyResult{}, ErrNotFound
		}
		return ApplyResult{}, fmt.Errorf("compensation: lock for apply: %w", err)
	}

	switch c.Status {
	case StatusApplied:
		return priorResult(c), nil
	case StatusRejected:
		return ApplyResult{}, ErrRejected
	case StatusPending:
		return ApplyResult{}, ErrNotApproved
	}

	res := ApplyResult{
		CompensationID: c.ID,
		OrderID:        c.OrderID,
		Type:           c.Type,
		Value:          c.Value,
	}
	now := a.now()

	switch c.Type {
	case TypeVoucher:
		expiry := now.Add(a.voucherValidity)
		res.VoucherCode = newVoucherCode()
		res.VoucherExpiresAt = &expiry
	case TypePoints:
		res.PointsAwarded = c.Value
	case TypePartialRefund, TypeDiscountCurrentOrder:
		// Marked applied here; the wallet/refund subsystem moves the money.
	}

	const updateQ = `
		UPDATE compensations
		SET status = 'applied',
		    voucher_code = NULLIF($2, ''),
		    voucher_expires_at = $3,
		    points_awarded = $4,
		    applied_at = $5,
		    applied_by = $6,
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'approved'
	`
	tag, err := tx.Exec(ctx, updateQ,
		c.ID, res.VoucherCode, res.VoucherExpiresAt, res.PointsAwarded, now, actor,
	)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("compensation: mark applied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ApplyResult{}, ErrBadStatus
	}

	if err := outbox.Enqueue(ctx, tx, outbox.TopicCompensationApplied, map[string]any{
		"compensation_id": c.ID,
		"order_id":        c.OrderID,
		"type":            string(c.Type),
		"value":           c.Value,
		"applied_by":      actor,
	}); err != nil {
		return ApplyResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ApplyResult{}, fmt.Errorf("compensation: commit apply: %w", err)
	}
	return res, nil
}

func priorResult(c Compensation) ApplyResult {
	return ApplyResult{
		CompensationID:   c.ID,
		OrderID:          c.OrderID,
		Type:             c.Type,
		Value:            c.Value,
		VoucherCode:      c.VoucherCode,
		VoucherExpiresAt: c.VoucherExpiresAt,
		PointsAwarded:    c.PointsAwarded,
		AlreadyApplied:   true,
	}
}

func newVoucherCode() string {
	return "VC-" + strings.ToUpper(uuid.NewString()[:8])
}
