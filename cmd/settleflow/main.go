package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"settleflow/api"
	"settleflow/cancellation"
	"settleflow/compensation"
	"settleflow/config"
	"settleflow/db"
	"settleflow/dispute"
	"settleflow/order"
	"settleflow/risk"
	"settleflow/wallet"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "settleflow",
		Short: "Escrow, compensation and dispute settlement engine",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app wires every service against one connection pool.
type app struct {
	cfg  config.Config
	pool *pgxpool.Pool

	wallets    *wallet.Repository
	evaluator  *wallet.Evaluator
	comps      *compensation.Repository
	engine     *compensation.Engine
	applier    *compensation.Applier
	cancels    *cancellation.Service
	cancelRepo *cancellation.Repository
	disputes   *dispute.Service
	detector   *risk.Detector
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database pool: %w", err)
	}

	orders := order.NewStore(pool)
	detector := risk.NewDetector(pool, cfg.RiskWeights)

	wallets := wallet.NewRepository(pool)
	disputeRepo := dispute.NewRepository(pool)
	evaluator := wallet.NewEvaluator(wallets, orders, disputeRepo,
		cfg.CommissionRatePercent, cfg.InspectionPeriodHours, cfg.SweepWorkers)

	comps := compensation.NewRepository(pool)
	engine := compensation.NewEngine(comps, orders, detector, cfg)
	applier := compensation.NewApplier(pool, cfg.VoucherValidity)

	cancelRepo := cancellation.NewRepository(pool)
	cancels := cancellation.NewService(pool, cancelRepo, orders, detector, cfg.RefundTiers)

	disputes := dispute.NewService(disputeRepo, orders, wallets, comps, applier)

	return &app{
		cfg:        cfg,
		pool:       pool,
		wallets:    wallets,
		evaluator:  evaluator,
		comps:      comps,
		engine:     engine,
		applier:    applier,
		cancels:    cancels,
		cancelRepo: cancelRepo,
		disputes:   disputes,
		detector:   detector,
	}, nil
}

func (a *app) close() {
	a.pool.Close()
}

func (a *app) router() *api.Handler {
	return api.NewHandler(
		a.wallets, a.evaluator,
		a.comps, a.engine, a.applier,
		a.cancels, a.cancelRepo,
		a.disputes, a.detector,
	)
}
