package test

import (
	"context"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"settleflow/compensation"
	"settleflow/config"
	"settleflow/dispute"
	"settleflow/order"
	"settleflow/risk"
	"settleflow/test/infra"
	"settleflow/wallet"
)

// TestSettlementFlow runs the whole engine against a disposable Postgres:
// wallet release, dispute downgrade and settlement, delay and shortage
// compensation sweeps. The database comes from Docker, an env-provided DSN,
// or a local server, in that order of preference.
func TestSettlementFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end flow in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	switch {
	case os.Getenv("SETTLEFLOW_TEST_PG_DSN") != "":
		dsn = os.Getenv("SETTLEFLOW_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	case dockerAvailable(ctx):
		pgC, dsn, err = infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	default:
		dsn, err = infra.InitLocalDatabase(ctx)
		if err != nil {
			t.Skipf("no Docker and no local PostgreSQL: %v", err)
		}
		pgC = &infra.PGContainer{}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	orders := order.NewStore(pool)
	detector := risk.NewDetector(pool, cfg.RiskWeights)
	wallets := wallet.NewRepository(pool)
	disputeRepo := dispute.NewRepository(pool)
	comps := compensation.NewRepository(pool)
	applier := compensation.NewApplier(pool, cfg.VoucherValidity)
	evaluator := wallet.NewEvaluator(wallets, orders, disputeRepo,
		cfg.CommissionRatePercent, cfg.InspectionPeriodHours, cfg.SweepWorkers)
	engine := compensation.NewEngine(comps, orders, detector, cfg)
	disputes := dispute.NewService(disputeRepo, orders, wallets, comps, applier)

	seed := seedScenario(t, ctx, pool)

	// First release run: the clean wallet pays out, the disputed order's
	// wallet is caught by re-validation and downgraded.
	ticket, err := disputes.Open(ctx, seed.disputedOrder, "half the crates were bruised")
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	sum, err := evaluator.Run(ctx)
	if err != nil {
		t.Fatalf("evaluator run: %v", err)
	}
	if len(sum.Released) != 1 || sum.Released[0].OrderID != seed.cleanOrder {
		t.Fatalf("expected exactly the clean order released, got %+v", sum.Released)
	}
	if sum.Released[0].Commission != 100_000 || sum.Released[0].SellerPayout != 900_000 {
		t.Fatalf("unexpected release split: %+v", sum.Released[0])
	}
	if len(sum.Pending) != 1 || sum.Pending[0].Reason != wallet.ReasonActiveDispute {
		t.Fatalf("expected the disputed wallet pending on its ticket, got %+v", sum.Pending)
	}
	disputedWallet, err := wallets.GetByOrderID(ctx, seed.disputedOrder)
	if err != nil {
		t.Fatalf("load disputed wallet: %v", err)
	}
	if disputedWallet.Status != wallet.StatusDisputed {
		t.Fatalf("expected disputed wallet, got %q", disputedWallet.Status)
	}

	// Settle the ticket with the recommended voucher. Confirmation issues
	// the voucher through the compensation ledger and lifts the hold.
	ticket, err = disputes.Propose(ctx, ticket.ID, []dispute.Option{
		{ResolutionType: dispute.ResolutionVoucher, Value: 120_000, Description: "store credit", IsRecommended: true},
		{ResolutionType: dispute.ResolutionReshipment, Description: "reship bruised crates"},
	})
	if err != nil {
		t.Fatalf("propose options: %v", err)
	}
	_, opts, err := disputes.Ticket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("load ticket: %v", err)
	}
	res, err := disputes.Confirm(ctx, ticket.ID, opts[0].ID, "credit is fine", "customer")
	if err != nil {
		t.Fatalf("confirm resolution: %v", err)
	}
	if res.Ticket.Status != dispute.StatusResolved {
		t.Fatalf("expected resolved ticket, got %q", res.Ticket.Status)
	}
	if res.Settlement == nil || res.Settlement.VoucherCode == "" || res.Settlement.Value != 120_000 {
		t.Fatalf("expected voucher settlement, got %+v", res.Settlement)
	}

	// Second release run: the hold is lifted and the formerly disputed
	// wallet pays out too.
	sum, err = evaluator.Run(ctx)
	if err != nil {
		t.Fatalf("second evaluator run: %v", err)
	}
	if len(sum.Released) != 1 || sum.Released[0].OrderID != seed.disputedOrder {
		t.Fatalf("expected the settled order released, got %+v", sum.Released)
	}
	if sum.Released[0].Commission != 60_000 || sum.Released[0].SellerPayout != 540_000 {
		t.Fatalf("unexpected release split: %+v", sum.Released[0])
	}

	// Compensation sweep: the late preorder earns its delay tier, the
	// short delivery earns the bonus-inflated shortage refund.
	csum, err := engine.Run(ctx)
	if err != nil {
		t.Fatalf("engine run: %v", err)
	}
	if len(csum.Errors) != 0 {
		t.Fatalf("engine run errors: %+v", csum.Errors)
	}
	if len(csum.DelayCompensations) != 1 {
		t.Fatalf("expected 1 delay compensation, got %+v", csum.DelayCompensations)
	}
	delay := csum.DelayCompensations[0]
	if delay.OrderID != seed.lateOrder || delay.Tier != "delay_21_days" ||
		delay.Type != "discount_current_order" || delay.Value != 300_000 {
		t.Fatalf("unexpected delay compensation: %+v", delay)
	}
	if delay.AutoApproved {
		t.Fatalf("discount compensation must wait for review, got auto-approved")
	}
	if len(csum.ShortageCompensations) != 1 {
		t.Fatalf("expected 1 shortage compensation, got %+v", csum.ShortageCompensations)
	}
	short := csum.ShortageCompensations[0]
	if short.OrderID != seed.shortOrder || short.Type != "partial_refund" || short.Value != 367_500 {
		t.Fatalf("unexpected shortage compensation: %+v", short)
	}
	if !short.AutoApproved {
		t.Fatalf("expected low-risk shortage refund to auto-approve")
	}

	// The sweep is idempotent: running again finds every tier covered.
	csum, err = engine.Run(ctx)
	if err != nil {
		t.Fatalf("second engine run: %v", err)
	}
	if len(csum.DelayCompensations) != 0 || len(csum.ShortageCompensations) != 0 {
		t.Fatalf("second sweep created records: %+v", csum)
	}

	// Review and apply the delay discount through the ledger.
	approved, err := comps.Approve(ctx, delay.CompensationID, "ops")
	if err != nil {
		t.Fatalf("approve delay compensation: %v", err)
	}
	applied, err := applier.Apply(ctx, approved.ID, "ops")
	if err != nil {
		t.Fatalf("apply delay compensation: %v", err)
	}
	if applied.AlreadyApplied || applied.Value != 300_000 {
		t.Fatalf("unexpected apply result: %+v", applied)
	}
}

type scenarioIDs struct {
	cleanOrder    string
	disputedOrder string
	lateOrder     string
	shortOrder    string
}

// seedScenario inserts the four orders the flow exercises: a clean delivered
// order ready for payout, a delivered order about to be disputed, a late
// preorder, and a delivered order with a refunded shortage remainder.
func seedScenario(t *testing.T, ctx context.Context, pool *pgxpool.Pool) scenarioIDs {
	t.Helper()
	var s scenarioIDs

	newOrder := func(status string, total int64, preorder bool) string {
		var id string
		if err := pool.QueryRow(ctx, `
			INSERT INTO orders (customer_id, order_status, total_amount, is_preorder)
			VALUES (gen_random_uuid(), $1, $2, $3) RETURNING id
		`, status, total, preorder).Scan(&id); err != nil {
			t.Fatalf("seed order: %v", err)
		}
		return id
	}

	s.cleanOrder = newOrder("delivered", 1_000_000, true)
	if _, err := pool.Exec(ctx, `
		INSERT INTO wallets (order_id, status, total_held, delivery_confirmed, customer_accepted)
		VALUES ($1, 'fully_held', 1000000, true, true)
	`, s.cleanOrder); err != nil {
		t.Fatalf("seed clean wallet: %v", err)
	}

	s.disputedOrder = newOrder("delivered", 600_000, true)
	if _, err := pool.Exec(ctx, `
		INSERT INTO wallets (order_id, status, total_held, delivery_confirmed, customer_accepted)
		VALUES ($1, 'fully_held', 600000, true, true)
	`, s.disputedOrder); err != nil {
		t.Fatalf("seed disputed wallet: %v", err)
	}

	// Preorder whose earliest lot should have been harvested 22 days ago.
	s.lateOrder = newOrder("paid_deposit", 2_000_000, true)
	var lotID string
	if err := pool.QueryRow(ctx, `
		INSERT INTO product_lots (name, estimated_harvest_date, reserved_quantity)
		VALUES ('Late durian lot', CURRENT_DATE - 22, 50) RETURNING id
	`).Scan(&lotID); err != nil {
		t.Fatalf("seed late lot: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO order_items (order_id, lot_id, quantity, unit_price) VALUES ($1, $2, 50, 40000)
	`, s.lateOrder, lotID); err != nil {
		t.Fatalf("seed late item: %v", err)
	}

	// Delivered order missing 35 of 100 units, remainder elected for refund.
	s.shortOrder = newOrder("delivered", 1_000_000, true)
	var fulfillmentID string
	if err := pool.QueryRow(ctx, `
		INSERT INTO fulfillment_records (order_id, total_items_remaining, remaining_action)
		VALUES ($1, 35, 'refund_remaining') RETURNING id
	`, s.shortOrder).Scan(&fulfillmentID); err != nil {
		t.Fatalf("seed fulfillment: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO fulfillment_items (fulfillment_id, ordered_quantity, shipped_quantity, unit_price)
		VALUES ($1, 100, 65, 10000)
	`, fulfillmentID); err != nil {
		t.Fatalf("seed fulfillment item: %v", err)
	}

	return s
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
