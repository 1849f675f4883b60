package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("order: not found")
	// ErrNoHarvestDate is returned when none of an order's lots carries an
	// estimated harvest date; delay policy cannot be evaluated without one.
	ErrNoHarvestDate = errors.New("order: no estimated harvest date")
)

// Store is the read side over the storefront's order, lot, and fulfillment
// tables. The engine never writes through it.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, orderID string) (Order, error) {
	const q = `
		SELECT id, customer_id, order_status, payment_method, total_amount,
		       COALESCE(shipping_address, ''), COALESCE(contact_phone, ''),
		       delivery_date, is_preorder, created_at
		FROM orders
		WHERE id = $1
	`
	var o Order
	err := s.pool.QueryRow(ctx, q, orderID).Scan(
		&o.ID, &o.CustomerID, &o.Status, &o.PaymentMethod, &o.TotalAmount,
		&o.ShippingAddress, &o.ContactPhone, &o.DeliveryDate, &o.IsPreorder, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get: %w", err)
	}
	return o, nil
}

// ListActivePreorders returns pre-orders still awaiting fulfillment, the
// candidate set for the delay sweep.
func (s *Store) ListActivePreorders(ctx context.Context) ([]Order, error) {
	const q = `
		SELECT id, customer_id, order_status, payment_method, total_amount,
		       COALESCE(shipping_address, ''), COALESCE(contact_phone, ''),
		       delivery_date, is_preorder, created_at
		FROM orders
		WHERE is_preorder
		  AND order_status NOT IN ('delivered', 'cancelled', 'returned')
		ORDER BY created_at
	`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("order: list preorders: %w", err)
	}
	defer rows.Close()

	out := make([]Order, 0, 32)
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.ID, &o.CustomerID, &o.Status, &o.PaymentMethod, &o.TotalAmount,
			&o.ShippingAddress, &o.ContactPhone, &o.DeliveryDate, &o.IsPreorder, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("order: scan preorder: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate preorders: %w", err)
	}
	return out, nil
}

// Items returns the order's line items with their lot references.
func (s *Store) Items(ctx context.Context, orderID string) ([]Item, error) {
	const q = `
		SELECT id, order_id, COALESCE(lot_id::text, ''), quantity, unit_price
		FROM order_items
		WHERE order_id = $1
	`
	rows, err := s.pool.Query(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("order: list items: %w", err)
	}
	defer rows.Close()

	out := make([]Item, 0, 4)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.LotID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("order: scan item: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate items: %w", err)
	}
	return out, nil
}

// HarvestDate resolves the earliest estimated harvest date across the
// order's lots. Delay is measured against the lot that should have been
// ready first.
func (s *Store) HarvestDate(ctx context.Context, orderID string) (time.Time, error) {
	const q = `
		SELECT MIN(pl.estimated_harvest_date)
		FROM order_items oi
		JOIN product_lots pl ON pl.id = oi.lot_id
		WHERE oi.order_id = $1
		  AND pl.estimated_harvest_date IS NOT NULL
	`
	var harvest *time.Time
	if err := s.pool.QueryRow(ctx, q, orderID).Scan(&harvest); err != nil {
		return time.Time{}, fmt.Errorf("order: harvest date: %w", err)
	}
	if harvest == nil {
		return time.Time{}, ErrNoHarvestDate
	}
	return *harvest, nil
}

// ListShortageCandidates returns fulfillment records with an undelivered
// remainder the seller chose to refund, items included.
func (s *Store) ListShortageCandidates(ctx context.Context) ([]Fulfillment, error) {
	const q = `
		SELECT id, order_id, total_items_remaining, remaining_action
		FROM fulfillment_records
		WHERE total_items_remaining > 0
		  AND remaining_action = 'refund_remaining'
		ORDER BY created_at
	`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("order: list shortage candidates: %w", err)
	}
	defer rows.Close()

	out := make([]Fulfillment, 0, 8)
	for rows.Next() {
		var f Fulfillment
		if err := rows.Scan(&f.ID, &f.OrderID, &f.TotalItemsRemaining, &f.RemainingAction); err != nil {
			return nil, fmt.Errorf("order: scan fulfillment: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate fulfillments: %w", err)
	}

	for i := range out {
		items, err := s.fulfillmentItems(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

func (s *Store) fulfillmentItems(ctx context.Context, fulfillmentID string) ([]FulfillmentItem, error) {
	const q = `
		SELECT ordered_quantity, shipped_quantity, unit_price
		FROM fulfillment_items
		WHERE fulfillment_id = $1
	`
	rows, err := s.pool.Query(ctx, q, fulfillmentID)
	if err != nil {
		return nil, fmt.Errorf("order: fulfillment items: %w", err)
	}
	defer rows.Close()

	items := make([]FulfillmentItem, 0, 4)
	for rows.Next() {
		var it FulfillmentItem
		if err := rows.Scan(&it.OrderedQuantity, &it.ShippedQuantity, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("order: scan fulfillment item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate fulfillment items: %w", err)
	}
	return items, nil
}
