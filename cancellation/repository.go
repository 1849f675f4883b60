package cancellation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("cancellation: not found")
	// ErrDuplicate signals a cancellation already exists for the order.
	// The service resolves it to the existing record.
	ErrDuplicate = errors.New("cancellation: already exists for order")
)

const recordColumns = `
	id, order_id, cancellation_date, days_before_harvest, original_deposit,
	refund_percentage, refund_amount, penalty_amount, policy_tier, refund_status,
	admin_override, COALESCE(admin_override_reason, ''), created_at, updated_at
`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.OrderID, &rec.CancellationDate, &rec.DaysBeforeHarvest, &rec.OriginalDeposit,
		&rec.RefundPercentage, &rec.RefundAmount, &rec.PenaltyAmount, &rec.PolicyTier, &rec.RefundStatus,
		&rec.AdminOverride, &rec.AdminOverrideReason, &rec.CreatedAt, &rec.UpdatedAt,
	)
	return rec, err
}

// InsertTx creates the cancellation row inside the caller's transaction.
// The unique order_id key turns a replay into ErrDuplicate.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	q := `
		INSERT INTO cancellations
			(order_id, cancellation_date, days_before_harvest, original_deposit,
			 refund_percentage, refund_amount, penalty_amount, policy_tier, refund_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + recordColumns + `
	`
	out, err := scanRecord(tx.QueryRow(ctx, q,
		rec.OrderID, rec.CancellationDate, rec.DaysBeforeHarvest, rec.OriginalDeposit,
		rec.RefundPercentage, rec.RefundAmount, rec.PenaltyAmount, rec.PolicyTier, rec.RefundStatus,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicate
		}
		return Record{}, fmt.Errorf("cancellation: insert: %w", err)
	}
	return out, nil
}

func (r *Repository) GetByOrderID(ctx context.Context, orderID string) (Record, error) {
	q := `SELECT ` + recordColumns + ` FROM cancellations WHERE order_id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, q, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("cancellation: get by order: %w", err)
	}
	return rec, nil
}

// LockByOrderIDTx loads the record for update inside the caller's
// transaction.
func (r *Repository) LockByOrderIDTx(ctx context.Context, tx pgx.Tx, orderID string) (Record, error) {
	q := `SELECT ` + recordColumns + ` FROM cancellations WHERE order_id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, q, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("cancellation: lock by order: %w", err)
	}
	return rec, nil
}

// UpdateRefundTx rewrites the refund fields after an admin override. History
// stays in the timeline; the record reflects the current decision.
func (r *Repository) UpdateRefundTx(ctx context.Context, tx pgx.Tx, id string, quote RefundQuote, reason string) (Record, error) {
	q := `
		UPDATE cancellations
		SET refund_percentage = $2,
		    refund_amount = $3,
		    penalty_amount = $4,
		    policy_tier = $5,
		    admin_override = true,
		    admin_override_reason = $6,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + recordColumns + `
	`
	rec, err := scanRecord(tx.QueryRow(ctx, q,
		id, quote.RefundPercentage, quote.RefundAmount, quote.PenaltyAmount, quote.PolicyTier, reason,
	))
	if err != nil {
		return Record{}, fmt.Errorf("cancellation: update refund: %w", err)
	}
	return rec, nil
}

// MarkRefundedTx records that the payment collaborator completed the refund.
func (r *Repository) MarkRefundedTx(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	q := `
		UPDATE cancellations
		SET refund_status = 'refunded', updated_at = get_tx_timestamp()
		WHERE id = $1 AND refund_status <> 'refunded'
		RETURNING ` + recordColumns + `
	`
	rec, err := scanRecord(tx.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrDuplicate
		}
		return Record{}, fmt.Errorf("cancellation: mark refunded: %w", err)
	}
	return rec, nil
}

// AppendEventTx appends one timeline entry inside the caller's transaction.
func (r *Repository) AppendEventTx(ctx context.Context, tx pgx.Tx, ev Event) error {
	const q = `
		INSERT INTO cancellation_events (cancellation_id, event_type, actor, note, admin_override)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, q, ev.CancellationID, ev.EventType, ev.Actor, ev.Note, ev.AdminOverride); err != nil {
		return fmt.Errorf("cancellation: append event: %w", err)
	}
	return nil
}

// Timeline lists the record's events, oldest first.
func (r *Repository) Timeline(ctx context.Context, cancellationID string) ([]Event, error) {
	const q = `
		SELECT id, cancellation_id, event_type, actor, COALESCE(note, ''), admin_override, created_at
		FROM cancellation_events
		WHERE cancellation_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, q, cancellationID)
	if err != nil {
		return nil, fmt.Errorf("cancellation: timeline: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, 4)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.CancellationID, &ev.EventType, &ev.Actor, &ev.Note, &ev.AdminOverride, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("cancellation: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cancellation: iterate events: %w", err)
	}
	return out, nil
}

// RestoreLotInventoryTx returns reserved quantity to the lot's available
// pool for one cancelled line item.
func (r *Repository) RestoreLotInventoryTx(ctx context.Context, tx pgx.Tx, lotID string, quantity int64) error {
	const q = `
		UPDATE product_lots
		SET reserved_quantity = GREATEST(reserved_quantity - $2, 0),
		    available_quantity = available_quantity + $2,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, q, lotID, quantity); err != nil {
		return fmt.Errorf("cancellation: restore lot inventory: %w", err)
	}
	return nil
}
