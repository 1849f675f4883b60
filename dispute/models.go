package dispute

import "time"

// Status is the ticket lifecycle.
type Status string

const (
	StatusOpen               Status = "open"
	StatusAwaitingResolution Status = "awaiting_resolution"
	StatusResolved           Status = "resolved"
	StatusClosed             Status = "closed"
	StatusCancelled          Status = "cancelled"
)

// ResolutionType names one way a ticket can settle.
type ResolutionType string

const (
	ResolutionFullRefund        ResolutionType = "full_refund"
	ResolutionPartialRefund     ResolutionType = "partial_refund"
	ResolutionVoucher           ResolutionType = "voucher"
	ResolutionPoints            ResolutionType = "points"
	ResolutionLotSwap           ResolutionType = "lot_swap"
	ResolutionReshipment        ResolutionType = "reshipment"
	ResolutionDiscountNextOrder ResolutionType = "discount_next_order"
	ResolutionReplacement       ResolutionType = "replacement"
)

// Monetary reports whether confirming this resolution moves money or value
// through the settlement ledgers. Lot swaps, reshipments and replacements
// are handed to fulfillment instead.
func (t ResolutionType) Monetary() bool {
	switch t {
	case ResolutionFullRefund, ResolutionPartialRefund, ResolutionVoucher,
		ResolutionPoints, ResolutionDiscountNextOrder:
		return true
	}
	return false
}

func (t ResolutionType) valid() bool {
	switch t {
	case ResolutionFullRefund, ResolutionPartialRefund, ResolutionVoucher,
		ResolutionPoints, ResolutionLotSwap, ResolutionReshipment,
		ResolutionDiscountNextOrder, ResolutionReplacement:
		return true
	}
	return false
}

// Ticket mirrors the dispute_tickets table.
type Ticket struct {
	ID             string     `json:"id"`
	TicketNumber   string     `json:"ticket_number"`
	OrderID        string     `json:"order_id"`
	Status         Status     `json:"status"`
	CustomerNote   string     `json:"customer_note,omitempty"`
	ChosenOptionID string     `json:"chosen_option_id,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Option is one settlement proposal attached to a ticket. Exactly one
// option per ticket carries the recommended flag.
type Option struct {
	ID             string         `json:"id"`
	TicketID       string         `json:"ticket_id"`
	ResolutionType ResolutionType `json:"resolution_type"`
	Value          int64          `json:"value"`
	Description    string         `json:"description,omitempty"`
	IsRecommended  bool           `json:"is_recommended"`
	Rank           int            `json:"rank"`
	CreatedAt      time.Time      `json:"created_at"`
}
