package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Topics published by the engine. The notification collaborator drains the
// outbox table; delivery transport is outside this module.
const (
	TopicWalletReleased        = "wallet.released"
	TopicCompensationCreated   = "compensation.created"
	TopicCompensationApplied   = "compensation.applied"
	TopicCancellationProcessed = "cancellation.processed"
	TopicDisputeResolved       = "dispute.resolved"
)

// Enqueue writes a message into the outbox inside the caller's transaction so
// the event becomes visible if and only if the state change commits.
func Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("outbox: empty topic")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}
