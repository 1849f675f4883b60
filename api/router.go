package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"settleflow/cancellation"
	"settleflow/compensation"
	"settleflow/dispute"
	"settleflow/risk"
	"settleflow/wallet"
)

// Handler bundles the settlement services behind the HTTP surface.
type Handler struct {
	wallets    *wallet.Repository
	evaluator  *wallet.Evaluator
	comps      *compensation.Repository
	engine     *compensation.Engine
	applier    *compensation.Applier
	cancels    *cancellation.Service
	cancelRepo *cancellation.Repository
	disputes   *dispute.Service
	risk       *risk.Detector
}

func NewHandler(
	wallets *wallet.Repository,
	evaluator *wallet.Evaluator,
	comps *compensation.Repository,
	engine *compensation.Engine,
	applier *compensation.Applier,
	cancels *cancellation.Service,
	cancelRepo *cancellation.Repository,
	disputes *dispute.Service,
	detector *risk.Detector,
) *Handler {
	return &Handler{
		wallets:    wallets,
		evaluator:  evaluator,
		comps:      comps,
		engine:     engine,
		applier:    applier,
		cancels:    cancels,
		cancelRepo: cancelRepo,
		disputes:   disputes,
		risk:       detector,
	}
}

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs/wallet-release", h.runWalletRelease)
		r.Post("/jobs/compensation-sweep", h.runCompensationSweep)

		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/wallet", h.getWallet)
			r.Get("/compensations", h.listCompensations)
			r.Route("/cancellation", func(r chi.Router) {
				r.Post("/", h.cancelOrder)
				r.Get("/", h.getCancellation)
				r.Post("/override", h.overrideRefund)
				r.Post("/refund-complete", h.completeRefund)
			})
		})

		r.Route("/compensations/{compensationID}", func(r chi.Router) {
			r.Post("/approve", h.approveCompensation)
			r.Post("/reject", h.rejectCompensation)
			r.Post("/apply", h.applyCompensation)
		})

		r.Route("/disputes", func(r chi.Router) {
			r.Post("/", h.openDispute)
			r.Route("/{ticketID}", func(r chi.Router) {
				r.Get("/", h.getDispute)
				r.Post("/options", h.proposeOptions)
				r.Post("/resolution", h.confirmResolution)
				r.Post("/close", h.closeDispute)
				r.Post("/cancel", h.cancelDispute)
			})
		})

		r.Get("/customers/{customerID}/risk", h.getRiskProfile)
	})

	return r
}
