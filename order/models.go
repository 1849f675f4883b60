package order

import "time"

// Order statuses observed by the engine. The storefront owns the full
// lifecycle; only these values matter for settlement decisions.
const (
	StatusDelivered = "delivered"
	StatusCancelled = "cancelled"
	StatusReturned  = "returned"
)

// RemainingActionRefund marks a fulfillment record whose undelivered
// remainder the seller has elected to refund rather than reship.
const RemainingActionRefund = "refund_remaining"

// Order mirrors the columns of the orders table the engine reads.
type Order struct {
	ID              string
	CustomerID      string
	Status          string
	PaymentMethod   string
	TotalAmount     int64
	ShippingAddress string
	ContactPhone    string
	DeliveryDate    *time.Time
	IsPreorder      bool
	CreatedAt       time.Time
}

// Item is an order line referencing the lot it draws from.
type Item struct {
	ID        string
	OrderID   string
	LotID     string
	Quantity  int64
	UnitPrice int64
}

// Lot mirrors the product_lots harvest estimate and inventory counters.
type Lot struct {
	ID                   string
	Name                 string
	EstimatedHarvestDate *time.Time
	ReservedQuantity     int64
	AvailableQuantity    int64
}

// Fulfillment aggregates a fulfillment record with its item rows.
type Fulfillment struct {
	ID                  string
	OrderID             string
	TotalItemsRemaining int64
	RemainingAction     string
	Items               []FulfillmentItem
}

// FulfillmentItem carries ordered vs shipped quantities for one line.
type FulfillmentItem struct {
	OrderedQuantity int64
	ShippedQuantity int64
	UnitPrice       int64
}
