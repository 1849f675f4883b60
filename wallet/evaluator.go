package wallet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"settleflow/order"
)

// Store is the wallet persistence surface the evaluator drives.
type Store interface {
	ListReleasable(ctx context.Context) ([]Wallet, error)
	ConfirmDelivery(ctx context.Context, walletID string) error
	MarkInspectionPassed(ctx context.Context, walletID string) error
	Downgrade(ctx context.Context, walletID, ticketNumber string) error
	Release(ctx context.Context, w Wallet, commission, payout int64, initiatedBy, ruleRef string) error
}

// OrderReader is the slice of the order store the evaluator needs.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (order.Order, error)
}

// DisputeReader reports the first open dispute ticket for an order, empty
// string when none.
type DisputeReader interface {
	FirstOpenTicket(ctx context.Context, orderID string) (string, error)
}

// Evaluator is the daily wallet release job. Stateless between runs: every
// decision derives from persisted wallet and order state.
type Evaluator struct {
	store           Store
	orders          OrderReader
	disputes        DisputeReader
	commissionRate  int
	inspectionHours int
	workers         int
	now             func() time.Time
}

func NewEvaluator(store Store, orders OrderReader, disputes DisputeReader, commissionRate, inspectionHours, workers int) *Evaluator {
	if workers <= 0 {
		workers = 1
	}
	return &Evaluator{
		store:           store,
		orders:          orders,
		disputes:        disputes,
		commissionRate:  commissionRate,
		inspectionHours: inspectionHours,
		workers:         workers,
		now:             time.Now,
	}
}

func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Run evaluates every releasable wallet once. Per-wallet failures are
// collected into the summary; only listing the candidates can fail the run.
func (e *Evaluator) Run(ctx context.Context) (Summary, error) {
	wallets, err := e.store.ListReleasable(ctx)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Checked:  len(wallets),
		Released: []ReleasedWallet{},
		Pending:  []PendingWallet{},
		Errors:   []RunError{},
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, w := range wallets {
		g.Go(func() error {
			released, pending, err := e.evaluateOne(gctx, w)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Errors = append(summary.Errors, RunError{WalletID: w.ID, Message: err.Error()})
			case released != nil:
				summary.Released = append(summary.Released, *released)
			case pending != nil:
				summary.Pending = append(summary.Pending, *pending)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	log.Printf("wallet release run: checked=%d released=%d pending=%d errors=%d",
		summary.Checked, len(summary.Released), len(summary.Pending), len(summary.Errors))
	return summary, nil
}

// evaluateOne gathers facts, runs the pure gate chain, and applies the single
// resulting step. A conditional update that matched no row means another
// actor got there first; that is a pending outcome, not an error.
func (e *Evaluator) evaluateOne(ctx context.Context, w Wallet) (*ReleasedWallet, *PendingWallet, error) {
	ord, err := e.orders.Get(ctx, w.OrderID)
	if err != nil {
		return nil, nil, fmt.Errorf("load order: %w", err)
	}

	openTicket := ""
	// Only the re-validation gate consumes the dispute query; skip the I/O
	// while earlier gates still hold.
	if w.DeliveryConfirmed && (w.CustomerAccepted || w.InspectionPeriodPassed) {
		openTicket, err = e.disputes.FirstOpenTicket(ctx, w.OrderID)
		if err != nil {
			return nil, nil, fmt.Errorf("query open disputes: %w", err)
		}
	}

	step := Evaluate(w, Facts{
		OrderDelivered:  ord.Status == order.StatusDelivered,
		DeliveryDate:    ord.DeliveryDate,
		OpenTicket:      openTicket,
		Now:             e.now(),
		InspectionHours: e.inspectionHours,
		CommissionRate:  e.commissionRate,
	})

	switch step.Kind {
	case StepConfirmDelivery:
		if err := e.store.ConfirmDelivery(ctx, w.ID); err != nil && !errors.Is(err, ErrStaleState) {
			return nil, nil, err
		}
		return nil, &PendingWallet{WalletID: w.ID, OrderID: w.OrderID, Reason: ReasonConditionsNotMet}, nil

	case StepMarkInspectionPassed:
		if err := e.store.MarkInspectionPassed(ctx, w.ID); err != nil && !errors.Is(err, ErrStaleState) {
			return nil, nil, err
		}
		return nil, &PendingWallet{WalletID: w.ID, OrderID: w.OrderID, Reason: ReasonConditionsNotMet}, nil

	case StepDowngradeDisputed:
		if err := e.store.Downgrade(ctx, w.ID, step.TicketNumber); err != nil && !errors.Is(err, ErrStaleState) {
			return nil, nil, err
		}
		return nil, &PendingWallet{WalletID: w.ID, OrderID: w.OrderID, Reason: ReasonActiveDispute}, nil

	case StepRelease:
		err := e.store.Release(ctx, w, step.Commission, step.SellerPayout, "system", "auto_release")
		if errors.Is(err, ErrStaleState) {
			return nil, &PendingWallet{WalletID: w.ID, OrderID: w.OrderID, Reason: ReasonConditionsNotMet}, nil
		}
		if err != nil {
			return nil, nil, err
		}
		return &ReleasedWallet{
			WalletID:     w.ID,
			OrderID:      w.OrderID,
			SellerPayout: step.SellerPayout,
			Commission:   step.Commission,
		}, nil, nil

	default:
		return nil, &PendingWallet{
			WalletID:       w.ID,
			OrderID:        w.OrderID,
			Reason:         step.Reason,
			HoursRemaining: step.HoursRemaining,
		}, nil
	}
}
