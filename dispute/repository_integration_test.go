package dispute

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestTicketLifecycle_Integration connects to a real PostgreSQL via
// DATABASE_URL and exercises the ticket state machine: open, propose,
// resolve, plus the single-recommended-option constraint.
func TestTicketLifecycle_Integration(t *testing.T) {
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
		SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'dispute_tickets')
	`).Scan(&exists); err != nil {
		t.Fatalf("check schema: %v", err)
	}
	if !exists {
		t.Skip("database schema missing; apply migrations/001_init.sql first")
	}

	var orderID string
	if err := pool.QueryRow(ctx, `
		INSERT INTO orders (customer_id, order_status, total_amount, is_preorder)
		VALUES (gen_random_uuid(), 'delivered', 500000, true) RETURNING id
	`).Scan(&orderID); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'order_id' = $1`, orderID)
		pool.Exec(ctx2, `DELETE FROM dispute_options WHERE ticket_id IN (SELECT id FROM dispute_tickets WHERE order_id = $1)`, orderID)
		pool.Exec(ctx2, `DELETE FROM dispute_tickets WHERE order_id = $1`, orderID)
		pool.Exec(ctx2, `DELETE FROM orders WHERE id = $1`, orderID)
	})

	repo := NewRepository(pool)

	ticket, err := repo.CreateTicket(ctx, orderID, "two crates arrived crushed")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if ticket.Status != StatusOpen || !strings.HasPrefix(ticket.TicketNumber, "DSP-") {
		t.Fatalf("unexpected new ticket: %+v", ticket)
	}

	open, err := repo.FirstOpenTicket(ctx, orderID)
	if err != nil {
		t.Fatalf("first open ticket: %v", err)
	}
	if open != ticket.TicketNumber {
		t.Fatalf("expected open ticket %q, got %q", ticket.TicketNumber, open)
	}

	// Two recommended options in one proposal must trip the partial unique
	// index and roll the whole proposal back.
	_, err = repo.ProposeOptions(ctx, ticket.ID, []Option{
		{ResolutionType: ResolutionVoucher, Value: 100_000, IsRecommended: true},
		{ResolutionType: ResolutionPartialRefund, Value: 80_000, IsRecommended: true},
	})
	if !errors.Is(err, ErrRecommendedConflict) {
		t.Fatalf("expected ErrRecommendedConflict, got %v", err)
	}
	reloaded, err := repo.GetTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("reload ticket: %v", err)
	}
	if reloaded.Status != StatusOpen {
		t.Fatalf("expected rolled-back ticket to stay open, got %q", reloaded.Status)
	}
	opts, err := repo.ListOptions(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("list options: %v", err)
	}
	if len(opts) != 0 {
		t.Fatalf("expected no options after rollback, got %d", len(opts))
	}

	ticket, err = repo.ProposeOptions(ctx, ticket.ID, []Option{
		{ResolutionType: ResolutionVoucher, Value: 100_000, Description: "store credit", IsRecommended: true},
		{ResolutionType: ResolutionReshipment, Description: "reship damaged crates"},
	})
	if err != nil {
		t.Fatalf("propose options: %v", err)
	}
	if ticket.Status != StatusAwaitingResolution {
		t.Fatalf("expected awaiting_resolution, got %q", ticket.Status)
	}
	opts, err = repo.ListOptions(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("list options: %v", err)
	}
	if len(opts) != 2 || opts[0].Rank != 1 || opts[1].Rank != 2 {
		t.Fatalf("unexpected options: %+v", opts)
	}

	// Proposing again on a ticket already awaiting resolution is refused.
	if _, err := repo.ProposeOptions(ctx, ticket.ID, []Option{
		{ResolutionType: ResolutionPoints, Value: 500, IsRecommended: true},
	}); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus on second proposal, got %v", err)
	}

	resolved, err := repo.Resolve(ctx, ticket.ID, opts[0].ID, "voucher works for me")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusResolved || resolved.ChosenOptionID != opts[0].ID || resolved.ResolvedAt == nil {
		t.Fatalf("unexpected resolved ticket: %+v", resolved)
	}

	var outCount int
	if err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbox WHERE topic = 'dispute.resolved' AND payload->>'ticket_id' = $1
	`, ticket.ID).Scan(&outCount); err != nil {
		t.Fatalf("verify outbox: %v", err)
	}
	if outCount != 1 {
		t.Fatalf("expected 1 dispute.resolved message, got %d", outCount)
	}

	if _, err := repo.Resolve(ctx, ticket.ID, opts[0].ID, ""); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved on replay, got %v", err)
	}

	// A resolved ticket no longer counts as open for the order.
	open, err = repo.FirstOpenTicket(ctx, orderID)
	if err != nil {
		t.Fatalf("first open ticket after resolve: %v", err)
	}
	if open != "" {
		t.Fatalf("expected no open ticket, got %q", open)
	}

	// A fresh ticket can be withdrawn without ever proposing options.
	second, err := repo.CreateTicket(ctx, orderID, "")
	if err != nil {
		t.Fatalf("create second ticket: %v", err)
	}
	cancelled, err := repo.Cancel(ctx, second.ID)
	if err != nil {
		t.Fatalf("cancel ticket: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %q", cancelled.Status)
	}
}
