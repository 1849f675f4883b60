package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"settleflow/outbox"
)

var (
	ErrNotFound = errors.New("dispute: not found")
	// ErrBadStatus is returned when a ticket transition is not allowed from
	// its current state.
	ErrBadStatus = errors.New("dispute: invalid status transition")
	// ErrAlreadyResolved distinguishes a replayed confirmation from every
	// other bad transition so callers can treat it as settled.
	ErrAlreadyResolved = errors.New("dispute: ticket already resolved")
	// ErrRecommendedConflict signals a second recommended option for the
	// same ticket, rejected by the partial unique index.
	ErrRecommendedConflict = errors.New("dispute: ticket already has a recommended option")
)

const ticketColumns = `
	id, ticket_number, order_id, status,
	COALESCE(customer_note, ''), COALESCE(chosen_option_id::text, ''),
	resolved_at, created_at, updated_at
`

const optionColumns = `
	id, ticket_id, resolution_type, value,
	COALESCE(description, ''), is_recommended, rank, created_at
`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanTicket(row pgx.Row) (Ticket, error) {
	var t Ticket
	err := row.Scan(
		&t.ID, &t.TicketNumber, &t.OrderID, &t.Status,
		&t.CustomerNote, &t.ChosenOptionID,
		&t.ResolvedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func scanOption(row pgx.Row) (Option, error) {
	var o Option
	err := row.Scan(
		&o.ID, &o.TicketID, &o.ResolutionType, &o.Value,
		&o.Description, &o.IsRecommended, &o.Rank, &o.CreatedAt,
	)
	return o, err
}

func newTicketNumber() string {
	return "DSP-" + strings.ToUpper(uuid.NewString()[:8])
}

// CreateTicket opens a ticket for the order.
func (r *Repository) CreateTicket(ctx context.Context, orderID, customerNote string) (Ticket, error) {
	q := `
		INSERT INTO dispute_tickets (ticket_number, order_id, customer_note)
		VALUES ($1, $2, NULLIF($3, ''))
		RETURNING ` + ticketColumns + `
	`
	t, err := scanTicket(r.pool.QueryRow(ctx, q, newTicketNumber(), orderID, customerNote))
	if err != nil {
		return Ticket{}, fmt.Errorf("dispute: create ticket: %w", err)
	}
	return t, nil
}

func (r *Repository) GetTicket(ctx context.Context, id string) (Ticket, error) {
	q := `SELECT ` + ticketColumns + ` FROM dispute_tickets WHERE id = $1`
	t, err := scanTicket(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ticket{}, ErrNotFound
		}
		return Ticket{}, fmt.Errorf("dispute: get ticket: %w", err)
	}
	return t, nil
}

// FirstOpenTicket returns the ticket number of the oldest unresolved ticket
// for the order, or "" when none is active.
func (r *Repository) FirstOpenTicket(ctx context.Context, orderID string) (string, error) {
	const q = `
		SELECT ticket_number
		FROM dispute_tickets
		WHERE order_id = $1 AND status IN ('open', 'awaiting_resolution')
		ORDER BY created_at
		LIMIT 1
	`
	var number string
	if err := r.pool.QueryRow(ctx, q, orderID).Scan(&number); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("dispute: first open ticket: %w", err)
	}
	return number, nil
}

func (r *Repository) GetOption(ctx context.Context, id string) (Option, error) {
	q := `SELECT ` + optionColumns + ` FROM dispute_options WHERE id = $1`
	o, err := scanOption(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Option{}, ErrNotFound
		}
		return Option{}, fmt.Errorf("dispute: get option: %w", err)
	}
	return o, nil
}

func (r *Repository) ListOptions(ctx context.Context, ticketID string) ([]Option, error) {
	q := `SELECT ` + optionColumns + ` FROM dispute_options WHERE ticket_id = $1 ORDER BY rank, created_at`
	rows, err := r.pool.Query(ctx, q, ticketID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list options: %w", err)
	}
	defer rows.Close()

	out := make([]Option, 0, 4)
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan option: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate options: %w", err)
	}
	return out, nil
}

// ProposeOptions attaches the settlement options and moves the ticket from
// open to awaiting_resolution in one transaction.
func (r *Repository) ProposeOptions(ctx context.Context, ticketID string, opts []Option) (Ticket, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Ticket{}, fmt.Errorf("dispute: begin propose: %w", err)
	}
	defer tx.Rollback(ctx)

	updateQ := `
		UPDATE dispute_tickets
		SET status = 'awaiting_resolution', updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'open'
		RETURNING ` + ticketColumns + `
	`
	t, err := scanTicket(tx.QueryRow(ctx, updateQ, ticketID))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Ticket{}, fmt.Errorf("dispute: propose transition: %w", err)
		}
		return Ticket{}, r.transitionFailure(ctx, ticketID)
	}

	const insertQ = `
		INSERT INTO dispute_options (ticket_id, resolution_type, value, description, is_recommended, rank)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
	`
	for i, o := range opts {
		if _, err := tx.Exec(ctx, insertQ, ticketID, o.ResolutionType, o.Value, o.Description, o.IsRecommended, i+1); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return Ticket{}, ErrRecommendedConflict
			}
			return Ticket{}, fmt.Errorf("dispute: insert option: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Ticket{}, fmt.Errorf("dispute: commit propose: %w", err)
	}
	return t, nil
}

// Resolve records the customer's chosen option and closes the workflow. The
// conditional update makes confirmation first-wins; replays surface as
// ErrAlreadyResolved.
func (r *Repository) Resolve(ctx context.Context, ticketID, optionID, customerNote string) (Ticket, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Ticket{}, fmt.Errorf("dispute: begin resolve: %w", err)
	}
	defer tx.Rollback(ctx)

	updateQ := `
		UPDATE dispute_tickets
		SET status = 'resolved',
		    chosen_option_id = $2,
		    customer_note = COALESCE(NULLIF($3, ''), customer_note),
		    resolved_at = get_tx_timestamp(),
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'awaiting_resolution'
		RETURNING ` + ticketColumns + `
	`
	t, err := scanTicket(tx.QueryRow(ctx, updateQ, ticketID, optionID, customerNote))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Ticket{}, fmt.Errorf("dispute: resolve: %w", err)
		}
		return Ticket{}, r.transitionFailure(ctx, ticketID)
	}

	if err := outbox.Enqueue(ctx, tx, outbox.TopicDisputeResolved, map[string]any{
		"ticket_id":        t.ID,
		"ticket_number":    t.TicketNumber,
		"order_id":         t.OrderID,
		"chosen_option_id": optionID,
	}); err != nil {
		return Ticket{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Ticket{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}
	return t, nil
}

// Close ends a ticket without settlement, from either active state.
func (r *Repository) Close(ctx context.Context, ticketID string) (Ticket, error) {
	return r.terminate(ctx, ticketID, StatusClosed)
}

// Cancel withdraws a ticket at the customer's request.
func (r *Repository) Cancel(ctx context.Context, ticketID string) (Ticket, error) {
	return r.terminate(ctx, ticketID, StatusCancelled)
}

func (r *Repository) terminate(ctx context.Context, ticketID string, to Status) (Ticket, error) {
	q := `
		UPDATE dispute_tickets
		SET status = $2, updated_at = get_tx_timestamp()
		WHERE id = $1 AND status IN ('open', 'awaiting_resolution')
		RETURNING ` + ticketColumns + `
	`
	t, err := scanTicket(r.pool.QueryRow(ctx, q, ticketID, to))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Ticket{}, fmt.Errorf("dispute: terminate: %w", err)
		}
		return Ticket{}, r.transitionFailure(ctx, ticketID)
	}
	return t, nil
}

// transitionFailure turns a no-row conditional update into the precise
// error: missing ticket, replayed resolution, or a plain bad transition.
func (r *Repository) transitionFailure(ctx context.Context, ticketID string) error {
	var status Status
	err := r.pool.QueryRow(ctx, `SELECT status FROM dispute_tickets WHERE id = $1`, ticketID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("dispute: transition fetch: %w", err)
	}
	if status == StatusResolved {
		return ErrAlreadyResolved
	}
	return fmt.Errorf("%w: from %s", ErrBadStatus, status)
}
