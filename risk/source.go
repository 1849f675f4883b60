package risk

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"settleflow/config"
)

// Detector runs the fraud pattern queries against the order store and folds
// them into a Profile.
type Detector struct {
	pool    *pgxpool.Pool
	weights config.RiskWeights
}

func NewDetector(pool *pgxpool.Pool, weights config.RiskWeights) *Detector {
	return &Detector{pool: pool, weights: weights}
}

// Profile evaluates all patterns for the customer and returns the derived
// assessment.
func (d *Detector) Profile(ctx context.Context, customerID string) (Profile, error) {
	sig, err := d.signals(ctx, customerID)
	if err != nil {
		return Profile{}, err
	}
	score := Score(sig, d.weights)
	return Profile{
		CustomerID: customerID,
		Score:      score,
		Level:      LevelFor(score),
		Signals:    sig,
	}, nil
}

func (d *Detector) signals(ctx context.Context, customerID string) (Signals, error) {
	var sig Signals

	// Shipping address or phone shared with other customer accounts.
	const sharedQ = `
		SELECT
			EXISTS (
				SELECT 1 FROM orders other
				JOIN orders mine ON mine.customer_id = $1
				WHERE other.customer_id <> $1
				  AND other.shipping_address IS NOT NULL
				  AND other.shipping_address = mine.shipping_address
			),
			EXISTS (
				SELECT 1 FROM orders other
				JOIN orders mine ON mine.customer_id = $1
				WHERE other.customer_id <> $1
				  AND other.contact_phone IS NOT NULL
				  AND other.contact_phone = mine.contact_phone
			)
	`
	if err := d.pool.QueryRow(ctx, sharedQ, customerID).Scan(&sig.DuplicateShippingAddress, &sig.DuplicatePhone); err != nil {
		return Signals{}, fmt.Errorf("risk: shared identity query: %w", err)
	}

	// Month-over-month spike: current month at least triple the previous
	// month and at least five orders.
	const spikeQ = `
		SELECT
			COUNT(*) FILTER (WHERE created_at >= date_trunc('month', now())),
			COUNT(*) FILTER (WHERE created_at >= date_trunc('month', now()) - interval '1 month'
			                   AND created_at < date_trunc('month', now()))
		FROM orders
		WHERE customer_id = $1
	`
	var thisMonth, lastMonth int
	if err := d.pool.QueryRow(ctx, spikeQ, customerID).Scan(&thisMonth, &lastMonth); err != nil {
		return Signals{}, fmt.Errorf("risk: order spike query: %w", err)
	}
	sig.OrderSpike = thisMonth >= 5 && thisMonth >= 3*max(lastMonth, 1)

	// Orders clustered in the last three days of a month over the trailing
	// quarter.
	const surgeQ = `
		SELECT COUNT(*)
		FROM orders
		WHERE customer_id = $1
		  AND created_at >= now() - interval '90 days'
		  AND created_at >= (date_trunc('month', created_at) + interval '1 month' - interval '3 days')
	`
	var surge int
	if err := d.pool.QueryRow(ctx, surgeQ, customerID).Scan(&surge); err != nil {
		return Signals{}, fmt.Errorf("risk: end of month query: %w", err)
	}
	sig.EndOfMonthSurge = surge >= 3

	// Repeated cancellations of cash-on-delivery orders.
	const codQ = `
		SELECT COUNT(*)
		FROM orders
		WHERE customer_id = $1
		  AND payment_method = 'cod'
		  AND order_status = 'cancelled'
		  AND created_at >= now() - interval '90 days'
	`
	var codCancels int
	if err := d.pool.QueryRow(ctx, codQ, customerID).Scan(&codCancels); err != nil {
		return Signals{}, fmt.Errorf("risk: cod cancellations query: %w", err)
	}
	sig.RepeatedCODCancellations = codCancels >= 3

	return sig, nil
}
