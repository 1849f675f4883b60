package dispute

import (
	"context"
	"errors"
	"fmt"

	"settleflow/compensation"
	"settleflow/order"
	"settleflow/wallet"
)

var (
	// ErrActiveTicket rejects a second ticket while one is still in flight.
	ErrActiveTicket = errors.New("dispute: order already has an active ticket")
	// ErrOptionMismatch signals a chosen option belonging to another ticket.
	ErrOptionMismatch = errors.New("dispute: option does not belong to ticket")
	// ErrNoRecommended requires exactly one recommended option per proposal.
	ErrNoRecommended = errors.New("dispute: proposal needs exactly one recommended option")
	// ErrBadOption rejects a malformed settlement option.
	ErrBadOption = errors.New("dispute: invalid option")
)

// TicketStore is the persistence surface the workflow drives.
type TicketStore interface {
	CreateTicket(ctx context.Context, orderID, customerNote string) (Ticket, error)
	GetTicket(ctx context.Context, id string) (Ticket, error)
	FirstOpenTicket(ctx context.Context, orderID string) (string, error)
	GetOption(ctx context.Context, id string) (Option, error)
	ListOptions(ctx context.Context, ticketID string) ([]Option, error)
	ProposeOptions(ctx context.Context, ticketID string, opts []Option) (Ticket, error)
	Resolve(ctx context.Context, ticketID, optionID, customerNote string) (Ticket, error)
	Close(ctx context.Context, ticketID string) (Ticket, error)
	Cancel(ctx context.Context, ticketID string) (Ticket, error)
}

// WalletSettler is the slice of the wallet repository a confirmed
// resolution needs.
type WalletSettler interface {
	Refund(ctx context.Context, orderID, initiatedBy, reason string) (int64, error)
	ClearDispute(ctx context.Context, orderID string) error
}

// CompensationLedger records monetary resolutions; the ticket number as
// tier makes each ticket settle at most once.
type CompensationLedger interface {
	Create(ctx context.Context, c compensation.Compensation) (compensation.Compensation, error)
	ListByOrder(ctx context.Context, orderID string) ([]compensation.Compensation, error)
}

// CompensationApplier executes the recorded resolution.
type CompensationApplier interface {
	Apply(ctx context.Context, compensationID, actor string) (compensation.ApplyResult, error)
}

// OrderReader validates the disputed order.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (order.Order, error)
}

// Resolution reports one confirmed ticket with whatever settlement it
// produced.
type Resolution struct {
	Ticket         Ticket                    `json:"ticket"`
	RefundedAmount int64                     `json:"refunded_amount,omitempty"`
	Settlement     *compensation.ApplyResult `json:"settlement,omitempty"`
}

type Service struct {
	repo    TicketStore
	orders  OrderReader
	wallets WalletSettler
	comps   CompensationLedger
	applier CompensationApplier
}

func NewService(repo TicketStore, orders OrderReader, wallets WalletSettler, comps CompensationLedger, applier CompensationApplier) *Service {
	return &Service{
		repo:    repo,
		orders:  orders,
		wallets: wallets,
		comps:   comps,
		applier: applier,
	}
}

// Open creates a ticket for the order. One active ticket per order: funds
// for that order stay held until the ticket reaches a terminal state.
func (s *Service) Open(ctx context.Context, orderID, customerNote string) (Ticket, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return Ticket{}, err
	}
	active, err := s.repo.FirstOpenTicket(ctx, orderID)
	if err != nil {
		return Ticket{}, err
	}
	if active != "" {
		return Ticket{}, fmt.Errorf("%w: %s", ErrActiveTicket, active)
	}
	return s.repo.CreateTicket(ctx, orderID, customerNote)
}

func (s *Service) Ticket(ctx context.Context, ticketID string) (Ticket, []Option, error) {
	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return Ticket{}, nil, err
	}
	opts, err := s.repo.ListOptions(ctx, ticketID)
	if err != nil {
		return Ticket{}, nil, err
	}
	return t, opts, nil
}

// Propose attaches settlement options to an open ticket and moves it to
// awaiting_resolution. Exactly one option must be recommended, and every
// monetary option other than a full refund must carry a positive value.
func (s *Service) Propose(ctx context.Context, ticketID string, opts []Option) (Ticket, error) {
	if len(opts) == 0 {
		return Ticket{}, fmt.Errorf("%w: no options", ErrBadOption)
	}
	recommended := 0
	for _, o := range opts {
		if !o.ResolutionType.valid() {
			return Ticket{}, fmt.Errorf("%w: unknown type %q", ErrBadOption, o.ResolutionType)
		}
		if o.Value < 0 {
			return Ticket{}, fmt.Errorf("%w: negative value", ErrBadOption)
		}
		if o.ResolutionType.Monetary() && o.ResolutionType != ResolutionFullRefund && o.Value == 0 {
			return Ticket{}, fmt.Errorf("%w: %s needs a value", ErrBadOption, o.ResolutionType)
		}
		if o.IsRecommended {
			recommended++
		}
	}
	if recommended != 1 {
		return Ticket{}, ErrNoRecommended
	}
	return s.repo.ProposeOptions(ctx, ticketID, opts)
}

// Confirm settles the ticket with the customer's chosen option. Settlement
// runs before the status flip so a crash leaves a retryable ticket, and
// every money movement behind it is idempotent: the wallet refund is
// guarded by wallet state, and ledger compensations are keyed by ticket
// number.
func (s *Service) Confirm(ctx context.Context, ticketID, optionID, customerNote, actor string) (Resolution, error) {
	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return Resolution{}, err
	}
	switch t.Status {
	case StatusAwaitingResolution:
	case StatusResolved:
		return Resolution{}, ErrAlreadyResolved
	default:
		return Resolution{}, fmt.Errorf("%w: from %s", ErrBadStatus, t.Status)
	}

	opt, err := s.repo.GetOption(ctx, optionID)
	if err != nil {
		return Resolution{}, err
	}
	if opt.TicketID != t.ID {
		return Resolution{}, ErrOptionMismatch
	}

	res := Resolution{}
	switch {
	case opt.ResolutionType == ResolutionFullRefund:
		amount, err := s.wallets.Refund(ctx, t.OrderID, actor, "dispute "+t.TicketNumber+" full refund")
		if err != nil && !errors.Is(err, wallet.ErrStaleState) {
			return Resolution{}, err
		}
		res.RefundedAmount = amount
	case opt.ResolutionType.Monetary():
		settled, err := s.settleThroughLedger(ctx, t, opt, actor)
		if err != nil {
			return Resolution{}, err
		}
		res.Settlement = &settled
	}

	if err := s.wallets.ClearDispute(ctx, t.OrderID); err != nil {
		return Resolution{}, err
	}

	resolved, err := s.repo.Resolve(ctx, t.ID, opt.ID, customerNote)
	if err != nil {
		return Resolution{}, err
	}
	res.Ticket = resolved
	return res, nil
}

func (s *Service) settleThroughLedger(ctx context.Context, t Ticket, opt Option, actor string) (compensation.ApplyResult, error) {
	compType, ok := compensationTypeFor(opt.ResolutionType)
	if !ok {
		return compensation.ApplyResult{}, fmt.Errorf("%w: %s has no ledger form", ErrBadOption, opt.ResolutionType)
	}

	rec, err := s.comps.Create(ctx, compensation.Compensation{
		OrderID:         t.OrderID,
		TriggerType:     compensation.TriggerDispute,
		Tier:            t.TicketNumber,
		Type:            compType,
		Value:           opt.Value,
		Status:          compensation.StatusApproved,
		RiskLevel:       "low",
		PolicyReference: "dispute:" + t.TicketNumber,
	})
	if err != nil {
		if !errors.Is(err, compensation.ErrDuplicate) {
			return compensation.ApplyResult{}, err
		}
		rec, err = s.existingSettlement(ctx, t)
		if err != nil {
			return compensation.ApplyResult{}, err
		}
	}
	return s.applier.Apply(ctx, rec.ID, actor)
}

func (s *Service) existingSettlement(ctx context.Context, t Ticket) (compensation.Compensation, error) {
	recs, err := s.comps.ListByOrder(ctx, t.OrderID)
	if err != nil {
		return compensation.Compensation{}, err
	}
	for _, rec := range recs {
		if rec.TriggerType == compensation.TriggerDispute && rec.Tier == t.TicketNumber {
			return rec, nil
		}
	}
	return compensation.Compensation{}, fmt.Errorf("dispute: settlement for ticket %s not found", t.TicketNumber)
}

// CloseTicket ends a ticket without settlement and lifts the wallet hold.
func (s *Service) CloseTicket(ctx context.Context, ticketID string) (Ticket, error) {
	return s.terminate(ctx, ticketID, s.repo.Close)
}

// CancelTicket withdraws a ticket at the customer's request and lifts the
// wallet hold.
func (s *Service) CancelTicket(ctx context.Context, ticketID string) (Ticket, error) {
	return s.terminate(ctx, ticketID, s.repo.Cancel)
}

func (s *Service) terminate(ctx context.Context, ticketID string, step func(context.Context, string) (Ticket, error)) (Ticket, error) {
	t, err := step(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}
	if err := s.wallets.ClearDispute(ctx, t.OrderID); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// compensationTypeFor maps a monetary resolution onto the compensation
// ledger vocabulary. A next-order discount is issued as a voucher.
func compensationTypeFor(rt ResolutionType) (compensation.Type, bool) {
	switch rt {
	case ResolutionPartialRefund:
		return compensation.TypePartialRefund, true
	case ResolutionVoucher, ResolutionDiscountNextOrder:
		return compensation.TypeVoucher, true
	case ResolutionPoints:
		return compensation.TypePoints, true
	}
	return "", false
}
