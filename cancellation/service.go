package cancellation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"settleflow/config"
	"settleflow/order"
	"settleflow/outbox"
	"settleflow/risk"
)

// ErrNotCancellable rejects cancellation of orders already delivered,
// cancelled, or returned.
var ErrNotCancellable = errors.New("cancellation: order not cancellable")

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger is the persistence surface the service drives.
type Ledger interface {
	InsertTx(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	GetByOrderID(ctx context.Context, orderID string) (Record, error)
	LockByOrderIDTx(ctx context.Context, tx pgx.Tx, orderID string) (Record, error)
	UpdateRefundTx(ctx context.Context, tx pgx.Tx, id string, quote RefundQuote, reason string) (Record, error)
	MarkRefundedTx(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	AppendEventTx(ctx context.Context, tx pgx.Tx, ev Event) error
	RestoreLotInventoryTx(ctx context.Context, tx pgx.Tx, lotID string, quantity int64) error
}

// OrderReader is the slice of the order store the service needs.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (order.Order, error)
	Items(ctx context.Context, orderID string) ([]order.Item, error)
	HarvestDate(ctx context.Context, orderID string) (time.Time, error)
}

// RiskProfiler decides whether the refund may proceed without review.
type RiskProfiler interface {
	Profile(ctx context.Context, customerID string) (risk.Profile, error)
}

type Service struct {
	pool   TxBeginner
	repo   Ledger
	orders OrderReader
	risk   RiskProfiler
	tiers  []config.RefundTier
	now    func() time.Time
}

func NewService(pool TxBeginner, repo Ledger, orders OrderReader, profiler RiskProfiler, tiers []config.RefundTier) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		orders: orders,
		risk:   profiler,
		tiers:  tiers,
		now:    time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Cancel processes a buyer cancellation: computes the refund from the policy
// table, creates the ledger record, restores reserved lot inventory, and
// opens the timeline. A second call for the same order returns the existing
// record unchanged.
func (s *Service) Cancel(ctx context.Context, orderID, actor, note string) (Record, error) {
	ord, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Record{}, err
	}
	switch ord.Status {
	case order.StatusDelivered, order.StatusCancelled, order.StatusReturned:
		return Record{}, fmt.Errorf("%w: status %s", ErrNotCancellable, ord.Status)
	}

	harvest, err := s.orders.HarvestDate(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNoHarvestDate) {
			return Record{}, ErrMissingHarvestDate
		}
		return Record{}, err
	}

	now := s.now()
	quote, err := CalculateRefund(ord.TotalAmount, harvest, now, s.tiers)
	if err != nil {
		return Record{}, err
	}

	refundStatus := RefundStatusPending
	profile, err := s.risk.Profile(ctx, ord.CustomerID)
	if err != nil {
		return Record{}, fmt.Errorf("cancellation: risk profile: %w", err)
	}
	if profile.Level.RequiresManualReview() {
		refundStatus = RefundStatusPendingReview
	}

	items, err := s.orders.Items(ctx, orderID)
	if err != nil {
		return Record{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("cancellation: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.InsertTx(ctx, tx, Record{
		OrderID:           orderID,
		CancellationDate:  now,
		DaysBeforeHarvest: quote.DaysBeforeHarvest,
		OriginalDeposit:   ord.TotalAmount,
		RefundPercentage:  quote.RefundPercentage,
		RefundAmount:      quote.RefundAmount,
		PenaltyAmount:     quote.PenaltyAmount,
		PolicyTier:        quote.PolicyTier,
		RefundStatus:      refundStatus,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return s.repo.GetByOrderID(ctx, orderID)
		}
		return Record{}, err
	}

	for _, it := range items {
		if it.LotID == "" {
			continue
		}
		if err := s.repo.RestoreLotInventoryTx(ctx, tx, it.LotID, it.Quantity); err != nil {
			return Record{}, err
		}
	}

	if err := s.repo.AppendEventTx(ctx, tx, Event{
		CancellationID: rec.ID,
		EventType:      "created",
		Actor:          actor,
		Note:           note,
	}); err != nil {
		return Record{}, err
	}

	if err := outbox.Enqueue(ctx, tx, outbox.TopicCancellationProcessed, map[string]any{
		"cancellation_id": rec.ID,
		"order_id":        orderID,
		"refund_amount":   rec.RefundAmount,
		"penalty_amount":  rec.PenaltyAmount,
		"policy_tier":     rec.PolicyTier,
		"refund_status":   rec.RefundStatus,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("cancellation: commit: %w", err)
	}
	return rec, nil
}

// AdminOverride replaces the refund amount, re-deriving percentage and
// penalty, and appends an audit entry instead of rewriting history.
func (s *Service) AdminOverride(ctx context.Context, orderID string, refundAmount int64, actor, reason string) (Record, error) {
	if reason == "" {
		return Record{}, fmt.Errorf("cancellation: override reason required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("cancellation: begin override: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.LockByOrderIDTx(ctx, tx, orderID)
	if err != nil {
		return Record{}, err
	}

	quote, err := DeriveFromOverride(current.OriginalDeposit, refundAmount)
	if err != nil {
		return Record{}, err
	}

	rec, err := s.repo.UpdateRefundTx(ctx, tx, current.ID, quote, reason)
	if err != nil {
		return Record{}, err
	}

	if err := s.repo.AppendEventTx(ctx, tx, Event{
		CancellationID: rec.ID,
		EventType:      "admin_override",
		Actor:          actor,
		Note:           reason,
		AdminOverride:  true,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("cancellation: commit override: %w", err)
	}
	return rec, nil
}

// CompleteRefund records that the payment collaborator finished paying the
// refund out.
func (s *Service) CompleteRefund(ctx context.Context, orderID, actor string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("cancellation: begin complete: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.LockByOrderIDTx(ctx, tx, orderID)
	if err != nil {
		return Record{}, err
	}

	rec, err := s.repo.MarkRefundedTx(ctx, tx, current.ID)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return current, nil
		}
		return Record{}, err
	}

	if err := s.repo.AppendEventTx(ctx, tx, Event{
		CancellationID: rec.ID,
		EventType:      "refund_completed",
		Actor:          actor,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("cancellation: commit complete: %w", err)
	}
	return rec, nil
}
