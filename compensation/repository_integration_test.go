package compensation

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestCompensationLifecycle_Integration connects to a real PostgreSQL via
// DATABASE_URL and walks one record through create, approve and apply,
// checking the natural-key guard and the apply-once replay.
func TestCompensationLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	var exists bool
	if err := pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'compensations')
	`).Scan(&exists); err != nil {
		t.Fatalf("check schema: %v", err)
	}
	if !exists {
		t.Skip("database schema missing; apply migrations/001_init.sql first")
	}

	var orderID string
	if err := pool.QueryRow(ctx, `
		INSERT INTO orders (customer_id, order_status, total_amount, is_preorder)
		VALUES (gen_random_uuid(), 'paid_deposit', 2000000, true) RETURNING id
	`).Scan(&orderID); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'order_id' = $1`, orderID)
		pool.Exec(ctx2, `DELETE FROM compensations WHERE order_id = $1`, orderID)
		pool.Exec(ctx2, `DELETE FROM orders WHERE id = $1`, orderID)
	})

	repo := NewRepository(pool)

	created, err := repo.Create(ctx, Compensation{
		OrderID:         orderID,
		TriggerType:     TriggerDelay,
		Tier:            "delay_14_days",
		DaysDelayed:     15,
		Type:            TypeVoucher,
		Value:           200_000,
		Status:          StatusPending,
		RiskLevel:       "low",
		PolicyReference: "delay_14_days@10%",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Status != StatusPending {
		t.Fatalf("unexpected created record: %+v", created)
	}

	// Same (order, trigger, tier) key again must bounce off the unique
	// constraint, not insert a second row.
	if _, err := repo.Create(ctx, Compensation{
		OrderID:     orderID,
		TriggerType: TriggerDelay,
		Tier:        "delay_14_days",
		Type:        TypeVoucher,
		Value:       200_000,
		Status:      StatusPending,
		RiskLevel:   "low",
	}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	covered, err := repo.MaxCoveredDelayDays(ctx, orderID)
	if err != nil {
		t.Fatalf("max covered delay: %v", err)
	}
	if covered != 15 {
		t.Fatalf("expected covered days 15, got %d", covered)
	}

	// Applying before approval is refused.
	applier := NewApplier(pool, 90*24*time.Hour)
	if _, err := applier.Apply(ctx, created.ID, "ops"); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved, got %v", err)
	}

	approved, err := repo.Approve(ctx, created.ID, "ops")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusApproved {
		t.Fatalf("expected status approved, got %q", approved.Status)
	}
	// Approving twice is an invalid transition.
	if _, err := repo.Approve(ctx, created.ID, "ops"); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus on double approve, got %v", err)
	}

	res, err := applier.Apply(ctx, created.ID, "ops")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.AlreadyApplied {
		t.Fatalf("first apply reported as replay")
	}
	if res.VoucherCode == "" || res.VoucherExpiresAt == nil {
		t.Fatalf("expected voucher code and expiry, got %+v", res)
	}

	var outCount int
	if err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbox WHERE topic = 'compensation.applied' AND payload->>'compensation_id' = $1
	`, created.ID).Scan(&outCount); err != nil {
		t.Fatalf("verify outbox: %v", err)
	}
	if outCount != 1 {
		t.Fatalf("expected 1 compensation.applied message, got %d", outCount)
	}

	// Replaying the apply returns the stored result without issuing a
	// second voucher.
	replay, err := applier.Apply(ctx, created.ID, "ops")
	if err != nil {
		t.Fatalf("apply replay: %v", err)
	}
	if !replay.AlreadyApplied {
		t.Fatalf("expected replay to be flagged AlreadyApplied")
	}
	if replay.VoucherCode != res.VoucherCode {
		t.Fatalf("replay issued a different voucher: %q vs %q", replay.VoucherCode, res.VoucherCode)
	}
	if err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbox WHERE topic = 'compensation.applied' AND payload->>'compensation_id' = $1
	`, created.ID).Scan(&outCount); err != nil {
		t.Fatalf("re-verify outbox: %v", err)
	}
	if outCount != 1 {
		t.Fatalf("expected outbox unchanged after replay, got %d", outCount)
	}
}
