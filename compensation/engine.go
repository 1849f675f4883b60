package compensation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"settleflow/config"
	"settleflow/order"
	"settleflow/risk"
)

// Ledger is the compensation persistence surface the engine drives.
type Ledger interface {
	Create(ctx context.Context, c Compensation) (Compensation, error)
	MaxCoveredDelayDays(ctx context.Context, orderID string) (int, error)
	HasShortage(ctx context.Context, orderID string) (bool, error)
}

// CatalogReader is the slice of the order store the sweeps need.
type CatalogReader interface {
	Get(ctx context.Context, orderID string) (order.Order, error)
	ListActivePreorders(ctx context.Context) ([]order.Order, error)
	HarvestDate(ctx context.Context, orderID string) (time.Time, error)
	ListShortageCandidates(ctx context.Context) ([]order.Fulfillment, error)
}

// RiskProfiler gates auto-approval.
type RiskProfiler interface {
	Profile(ctx context.Context, customerID string) (risk.Profile, error)
}

// Engine runs the two daily compensation sweeps. Idempotent by construction:
// existing records are checked first and the unique (order, trigger, tier)
// key backstops races.
type Engine struct {
	ledger         Ledger
	catalog        CatalogReader
	risk           RiskProfiler
	delayTiers     []config.DelayTier
	bonusThreshold int
	bonusPercent   int
	workers        int
	now            func() time.Time
}

func NewEngine(ledger Ledger, catalog CatalogReader, profiler RiskProfiler, cfg config.Config) *Engine {
	workers := cfg.SweepWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Engine{
		ledger:         ledger,
		catalog:        catalog,
		risk:           profiler,
		delayTiers:     cfg.DelayTiers,
		bonusThreshold: cfg.ShortageBonusThreshold,
		bonusPercent:   cfg.ShortageBonusPercent,
		workers:        workers,
		now:            time.Now,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run executes the delay sweep then the shortage sweep and merges the
// reports.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		DelayCompensations:    []CreatedCompensation{},
		ShortageCompensations: []CreatedCompensation{},
		Errors:                []RunError{},
	}

	delay, delayErrs, err := e.runDelaySweep(ctx)
	if err != nil {
		return summary, err
	}
	summary.DelayCompensations = delay
	summary.Errors = append(summary.Errors, delayErrs...)

	shortage, shortErrs, err := e.runShortageSweep(ctx)
	if err != nil {
		return summary, err
	}
	summary.ShortageCompensations = shortage
	summary.Errors = append(summary.Errors, shortErrs...)

	log.Printf("compensation run: delay=%d shortage=%d errors=%d",
		len(summary.DelayCompensations), len(summary.ShortageCompensations), len(summary.Errors))
	return summary, nil
}

func (e *Engine) runDelaySweep(ctx context.Context) ([]CreatedCompensation, []RunError, error) {
	orders, err := e.catalog.ListActivePreorders(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		mu      sync.Mutex
		created []CreatedCompensation
		errs    []RunError
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, o := range orders {
		g.Go(func() error {
			rec, err := e.evaluateDelay(gctx, o)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, RunError{OrderID: o.ID, Message: err.Error()})
			} else if rec != nil {
				created = append(created, *rec)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return created, errs, err
	}
	return created, errs, nil
}

// evaluateDelay creates at most one delay compensation for the order this
// run: the highest uncovered tier the measured delay reaches.
func (e *Engine) evaluateDelay(ctx context.Context, o order.Order) (*CreatedCompensation, error) {
	harvest, err := e.catalog.HarvestDate(ctx, o.ID)
	if err != nil {
		if errors.Is(err, order.ErrNoHarvestDate) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve harvest date: %w", err)
	}

	delayDays := DelayDays(harvest, e.now())
	if delayDays <= 0 {
		return nil, nil
	}

	covered, err := e.ledger.MaxCoveredDelayDays(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	tier, ok := MatchDelayTier(e.delayTiers, delayDays, covered)
	if !ok {
		return nil, nil
	}

	profile, err := e.risk.Profile(ctx, o.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("risk profile: %w", err)
	}

	compType := Type(tier.Type)
	// Vouchers and points self-approve; money-moving types wait for a
	// reviewer. High or critical risk forces review either way.
	autoApproved := (compType == TypeVoucher || compType == TypePoints) &&
		!profile.Level.RequiresManualReview()
	status := StatusPending
	if autoApproved {
		status = StatusApproved
	}

	rec, err := e.ledger.Create(ctx, Compensation{
		OrderID:         o.ID,
		TriggerType:     TriggerDelay,
		Tier:            tier.Name,
		DaysDelayed:     delayDays,
		Type:            compType,
		Value:           PercentOf(o.TotalAmount, tier.Percent),
		Status:          status,
		AutoApproved:    autoApproved,
		RiskLevel:       string(profile.Level),
		PolicyReference: fmt.Sprintf("delay_tier:%s:%d%%", tier.Name, tier.Percent),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, nil
		}
		return nil, err
	}
	return &CreatedCompensation{
		CompensationID: rec.ID,
		OrderID:        rec.OrderID,
		Tier:           rec.Tier,
		Type:           string(rec.Type),
		Value:          rec.Value,
		AutoApproved:   rec.AutoApproved,
		RiskLevel:      rec.RiskLevel,
	}, nil
}

func (e *Engine) runShortageSweep(ctx context.Context) ([]CreatedCompensation, []RunError, error) {
	candidates, err := e.catalog.ListShortageCandidates(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		created []CreatedCompensation
		errs    []RunError
	)
	for _, f := range candidates {
		rec, err := e.evaluateShortage(ctx, f)
		if err != nil {
			errs = append(errs, RunError{OrderID: f.OrderID, Message: err.Error()})
			continue
		}
		if rec != nil {
			created = append(created, *rec)
		}
	}
	return created, errs, nil
}

// evaluateShortage creates the order's single shortage compensation when the
// seller elected to refund the undelivered remainder.
func (e *Engine) evaluateShortage(ctx context.Context, f order.Fulfillment) (*CreatedCompensation, error) {
	exists, err := e.ledger.HasShortage(ctx, f.OrderID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	sh, err := MeasureShortage(f.Items)
	if err != nil {
		return nil, err
	}
	if sh.Value <= 0 {
		return nil, nil
	}

	ord, err := e.catalog.Get(ctx, f.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	profile, err := e.risk.Profile(ctx, ord.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("risk profile: %w", err)
	}

	autoApproved := !profile.Level.RequiresManualReview()
	status := StatusApproved
	if !autoApproved {
		status = StatusPending
	}

	rec, err := e.ledger.Create(ctx, Compensation{
		OrderID:         f.OrderID,
		TriggerType:     TriggerShortage,
		Tier:            TierShortage,
		ShortagePercent: sh.Percent,
		Type:            TypePartialRefund,
		Value:           ShortageValue(sh, e.bonusThreshold, e.bonusPercent),
		Status:          status,
		AutoApproved:    autoApproved,
		RiskLevel:       string(profile.Level),
		PolicyReference: fmt.Sprintf("shortage:%d%%", sh.Percent),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, nil
		}
		return nil, err
	}
	return &CreatedCompensation{
		CompensationID: rec.ID,
		OrderID:        rec.OrderID,
		Tier:           rec.Tier,
		Type:           string(rec.Type),
		Value:          rec.Value,
		AutoApproved:   rec.AutoApproved,
		RiskLevel:      rec.RiskLevel,
	}, nil
}
