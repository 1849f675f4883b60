package compensation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"settleflow/outbox"
)

var (
	ErrNotFound = errors.New("compensation: not found")
	// ErrDuplicate signals the (order, trigger, tier) key already exists.
	// Sweeps treat it as success-no-op: the record was created on an
	// earlier run.
	ErrDuplicate = errors.New("compensation: already exists for order, trigger and tier")
	// ErrBadStatus is returned when a status transition is not allowed from
	// the record's current state.
	ErrBadStatus = errors.New("compensation: invalid status transition")
)

const compColumns = `
	id, order_id, trigger_type, tier, days_delayed, shortage_percent,
	compensation_type, compensation_value, status, auto_approved, risk_level,
	COALESCE(policy_reference, ''), COALESCE(voucher_code, ''), voucher_expires_at,
	points_awarded, applied_at, COALESCE(applied_by, ''), created_at, updated_at
`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanCompensation(row pgx.Row) (Compensation, error) {
	var c Compensation
	err := row.Scan(
		&c.ID, &c.OrderID, &c.TriggerType, &c.Tier, &c.DaysDelayed, &c.ShortagePercent,
		&c.Type, &c.Value, &c.Status, &c.AutoApproved, &c.RiskLevel,
		&c.PolicyReference, &c.VoucherCode, &c.VoucherExpiresAt,
		&c.PointsAwarded, &c.AppliedAt, &c.AppliedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// Create inserts a new compensation and emits compensation.created in the
// same transaction. The unique natural key turns replays into ErrDuplicate.
func (r *Repository) Create(ctx context.Context, c Compensation) (Compensation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Compensation{}, fmt.Errorf("compensation: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	q := `
		INSERT INTO compensations
			(order_id, trigger_type, tier, days_delayed, shortage_percent,
			 compensation_type, compensation_value, status, auto_approved, risk_level, policy_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + compColumns + `
	`
	rec, err := scanCompensation(tx.QueryRow(ctx, q,
		c.OrderID, c.TriggerType, c.Tier, c.DaysDelayed, c.ShortagePercent,
		c.Type, c.Value, c.Status, c.AutoApproved, c.RiskLevel, c.PolicyReference,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Compensation{}, ErrDuplicate
		}
		return Compensation{}, fmt.Errorf("compensation: insert: %w", err)
	}

	if err := outbox.Enqueue(ctx, tx, outbox.TopicCompensationCreated, map[string]any{
		"compensation_id": rec.ID,
		"order_id":        rec.OrderID,
		"trigger_type":    string(rec.TriggerType),
		"tier":            rec.Tier,
		"type":            string(rec.Type),
		"value":           rec.Value,
		"auto_approved":   rec.AutoApproved,
	}); err != nil {
		return Compensation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Compensation{}, fmt.Errorf("compensation: commit create: %w", err)
	}
	return rec, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (Compensation, error) {
	q := `SELECT ` + compColumns + ` FROM compensations WHERE id = $1`
	c, err := scanCompensation(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Compensation{}, ErrNotFound
		}
		return Compensation{}, fmt.Errorf("compensation: get: %w", err)
	}
	return c, nil
}

// MaxCoveredDelayDays returns the largest recorded delay for the order's
// delay-trigger compensations, zero when none exist.
func (r *Repository) MaxCoveredDelayDays(ctx context.Context, orderID string) (int, error) {
	const q = `
		SELECT COALESCE(MAX(days_delayed), 0)
		FROM compensations
		WHERE order_id = $1 AND trigger_type = 'delay_threshold'
	`
	var days int
	if err := r.pool.QueryRow(ctx, q, orderID).Scan(&days); err != nil {
		return 0, fmt.Errorf("compensation: max covered delay: %w", err)
	}
	return days, nil
}

// HasShortage reports whether a shortage compensation already exists for the
// order.
func (r *Repository) HasShortage(ctx context.Context, orderID string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM compensations
			WHERE order_id = $1 AND trigger_type = 'shortage_delivery'
		)
	`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("compensation: has shortage: %w", err)
	}
	return exists, nil
}

// Approve moves a pending compensation to approved.
func (r *Repository) Approve(ctx context.Context, id, actor string) (Compensation, error) {
	return r.transition(ctx, id, actor, StatusPending, StatusApproved)
}

// Reject moves a pending compensation to rejected.
func (r *Repository) Reject(ctx context.Context, id, actor string) (Compensation, error) {
	return r.transition(ctx, id, actor, StatusPending, StatusRejected)
}

func (r *Repository) transition(ctx context.Context, id, actor string, from, to Status) (Compensation, error) {
	q := `
		UPDATE compensations
		SET status = $3, applied_by = $4, updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = $2
		RETURNING ` + compColumns + `
	`
	rec, err := scanCompensation(r.pool.QueryRow(ctx, q, id, from, to, actor))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Compensation{}, fmt.Errorf("compensation: transition to %s: %w", to, err)
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return Compensation{}, err
	}
	return Compensation{}, ErrBadStatus
}

// ListByOrder returns every compensation for the order, newest first.
func (r *Repository) ListByOrder(ctx context.Context, orderID string) ([]Compensation, error) {
	q := `SELECT ` + compColumns + ` FROM compensations WHERE order_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("compensation: list by order: %w", err)
	}
	defer rows.Close()

	out := make([]Compensation, 0, 4)
	for rows.Next() {
		c, err := scanCompensation(rows)
		if err != nil {
			return nil, fmt.Errorf("compensation: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compensation: iterate: %w", err)
	}
	return out, nil
}
