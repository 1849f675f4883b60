package cancellation

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"settleflow/config"
	"settleflow/order"
	"settleflow/risk"
)

// TestCancel_Integration runs the full cancellation flow against a real
// PostgreSQL via DATABASE_URL with the real order store and risk detector:
// policy quote, inventory restore, timeline, replay, override and refund
// completion.
func TestCancel_Integration(t *testing.T) {
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
		SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'cancellations')
	`).Scan(&exists); err != nil {
		t.Fatalf("check schema: %v", err)
	}
	if !exists {
		t.Skip("database schema missing; apply migrations/001_init.sql first")
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	var lotID string
	if err := pool.QueryRow(ctx, `
		INSERT INTO product_lots (name, estimated_harvest_date, reserved_quantity, available_quantity)
		VALUES ('Early mango lot', CURRENT_DATE + 10, 20, 5) RETURNING id
	`).Scan(&lotID); err != nil {
		t.Fatalf("seed lot: %v", err)
	}
	var orderID string
	if err := pool.QueryRow(ctx, `
		INSERT INTO orders (customer_id, order_status, total_amount, is_preorder)
		VALUES (gen_random_uuid(), 'paid_deposit', 400000, true) RETURNING id
	`).Scan(&orderID); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO order_items (order_id, lot_id, quantity, unit_price) VALUES ($1, $2, 20, 20000)
	`, orderID, lotID); err != nil {
		t.Fatalf("seed order item: %v", err)
	}
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM cancellation_events WHERE cancellation_id IN (SELECT id FROM cancellations WHERE order_id = $1)`, orderID)
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'order_id' = $1`, orderID)
		pool.Exec(ctx2, `DELETE FROM cancellations WHERE order_id = $1`, orderID)
		pool.Exec(ctx2, `DELETE FROM order_items WHERE order_id = $1`, orderID)
		pool.Exec(ctx2, `DELETE FROM orders WHERE id = $1`, orderID)
		pool.Exec(ctx2, `DELETE FROM product_lots WHERE id = $1`, lotID)
	})

	repo := NewRepository(pool)
	svc := NewService(pool, repo, order.NewStore(pool), risk.NewDetector(pool, cfg.RiskWeights), cfg.RefundTiers)

	rec, err := svc.Cancel(ctx, orderID, "customer", "changed my mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if rec.PolicyTier != "standard_cancellation" || rec.RefundPercentage != 50 {
		t.Fatalf("unexpected policy outcome: tier=%q pct=%d", rec.PolicyTier, rec.RefundPercentage)
	}
	if rec.RefundAmount != 200_000 || rec.PenaltyAmount != 200_000 {
		t.Fatalf("unexpected amounts: refund=%d penalty=%d", rec.RefundAmount, rec.PenaltyAmount)
	}
	if rec.RefundAmount+rec.PenaltyAmount != rec.OriginalDeposit {
		t.Fatalf("refund %d + penalty %d != deposit %d", rec.RefundAmount, rec.PenaltyAmount, rec.OriginalDeposit)
	}

	// Reserved stock went back to the available pool.
	var reserved, available int64
	if err := pool.QueryRow(ctx, `
		SELECT reserved_quantity, available_quantity FROM product_lots WHERE id = $1
	`, lotID).Scan(&reserved, &available); err != nil {
		t.Fatalf("check lot: %v", err)
	}
	if reserved != 0 || available != 25 {
		t.Fatalf("expected lot 0/25 after restore, got %d/%d", reserved, available)
	}

	// Replaying the cancellation returns the existing record and does not
	// restore inventory twice.
	again, err := svc.Cancel(ctx, orderID, "customer", "retry")
	if err != nil {
		t.Fatalf("cancel replay: %v", err)
	}
	if again.ID != rec.ID {
		t.Fatalf("replay created a new record: %q vs %q", again.ID, rec.ID)
	}
	if err := pool.QueryRow(ctx, `
		SELECT reserved_quantity, available_quantity FROM product_lots WHERE id = $1
	`, lotID).Scan(&reserved, &available); err != nil {
		t.Fatalf("re-check lot: %v", err)
	}
	if reserved != 0 || available != 25 {
		t.Fatalf("inventory moved on replay: %d/%d", reserved, available)
	}

	overridden, err := svc.AdminOverride(ctx, orderID, 250_000, "admin-7", "weather damage exception")
	if err != nil {
		t.Fatalf("admin override: %v", err)
	}
	if !overridden.AdminOverride || overridden.RefundAmount != 250_000 || overridden.PenaltyAmount != 150_000 {
		t.Fatalf("unexpected override record: %+v", overridden)
	}

	done, err := svc.CompleteRefund(ctx, orderID, "payments")
	if err != nil {
		t.Fatalf("complete refund: %v", err)
	}
	if done.RefundStatus != RefundStatusRefunded {
		t.Fatalf("expected refunded status, got %q", done.RefundStatus)
	}
	// Completion replay reports the current state without another event.
	if _, err := svc.CompleteRefund(ctx, orderID, "payments"); err != nil {
		t.Fatalf("complete refund replay: %v", err)
	}

	events, err := repo.Timeline(ctx, rec.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.EventType)
	}
	want := []string{"created", "admin_override", "refund_completed"}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected timeline %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("unexpected timeline %v, want %v", kinds, want)
		}
	}
}
