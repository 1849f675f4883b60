package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"settleflow/dispute"
)

// Job triggers. Each run endpoint executes one sweep synchronously and
// returns its report; schedulers replay them safely because every mutation
// behind a sweep is idempotent.

func (h *Handler) runWalletRelease(w http.ResponseWriter, r *http.Request) {
	summary, err := h.evaluator.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) runCompensationSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) getWallet(w http.ResponseWriter, r *http.Request) {
	wal, err := h.wallets.GetByOrderID(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	txns, err := h.wallets.Transactions(r.Context(), wal.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"wallet":       wal,
		"transactions": txns,
	})
}

func (h *Handler) listCompensations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.comps.ListByOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"compensations": recs})
}

func (h *Handler) approveCompensation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.comps.Approve(r.Context(), chi.URLParam(r, "compensationID"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) rejectCompensation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.comps.Reject(r.Context(), chi.URLParam(r, "compensationID"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) applyCompensation(w http.ResponseWriter, r *http.Request) {
	res, err := h.applier.Apply(r.Context(), chi.URLParam(r, "compensationID"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type cancelOrderRequest struct {
	Note string `json:"note"`
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_json"})
			return
		}
	}
	rec, err := h.cancels.Cancel(r.Context(), chi.URLParam(r, "orderID"), actor(r), req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) getCancellation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.cancelRepo.GetByOrderID(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	timeline, err := h.cancelRepo.Timeline(r.Context(), rec.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cancellation": rec,
		"timeline":     timeline,
	})
}

type overrideRefundRequest struct {
	RefundAmount int64  `json:"refund_amount"`
	Reason       string `json:"reason"`
}

func (h *Handler) overrideRefund(w http.ResponseWriter, r *http.Request) {
	var req overrideRefundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_json"})
		return
	}
	rec, err := h.cancels.AdminOverride(r.Context(), chi.URLParam(r, "orderID"), req.RefundAmount, actor(r), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) completeRefund(w http.ResponseWriter, r *http.Request) {
	rec, err := h.cancels.CompleteRefund(r.Context(), chi.URLParam(r, "orderID"), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type openDisputeRequest struct {
	OrderID      string `json:"order_id"`
	CustomerNote string `json:"customer_note"`
}

func (h *Handler) openDispute(w http.ResponseWriter, r *http.Request) {
	var req openDisputeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_json"})
		return
	}
	t, err := h.disputes.Open(r.Context(), req.OrderID, req.CustomerNote)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) getDispute(w http.ResponseWriter, r *http.Request) {
	t, opts, err := h.disputes.Ticket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":  t,
		"options": opts,
	})
}

type proposeOptionsRequest struct {
	Options []struct {
		ResolutionType string `json:"resolution_type"`
		Value          int64  `json:"value"`
		Description    string `json:"description"`
		IsRecommended  bool   `json:"is_recommended"`
	} `json:"options"`
}

func (h *Handler) proposeOptions(w http.ResponseWriter, r *http.Request) {
	var req proposeOptionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_json"})
		return
	}
	opts := make([]dispute.Option, 0, len(req.Options))
	for _, o := range req.Options {
		opts = append(opts, dispute.Option{
			ResolutionType: dispute.ResolutionType(o.ResolutionType),
			Value:          o.Value,
			Description:    o.Description,
			IsRecommended:  o.IsRecommended,
		})
	}
	t, err := h.disputes.Propose(r.Context(), chi.URLParam(r, "ticketID"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type confirmResolutionRequest struct {
	ChosenOptionID string `json:"chosen_option_id"`
	CustomerNote   string `json:"customer_note"`
}

func (h *Handler) confirmResolution(w http.ResponseWriter, r *http.Request) {
	var req confirmResolutionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_json"})
		return
	}
	res, err := h.disputes.Confirm(r.Context(), chi.URLParam(r, "ticketID"), req.ChosenOptionID, req.CustomerNote, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) closeDispute(w http.ResponseWriter, r *http.Request) {
	t, err := h.disputes.CloseTicket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) cancelDispute(w http.ResponseWriter, r *http.Request) {
	t, err := h.disputes.CancelTicket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) getRiskProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.risk.Profile(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
