package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"settleflow/cancellation"
	"settleflow/compensation"
	"settleflow/dispute"
	"settleflow/order"
	"settleflow/wallet"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := mapError(err)
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, wallet.ErrNotFound),
		errors.Is(err, compensation.ErrNotFound),
		errors.Is(err, cancellation.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, dispute.ErrAlreadyResolved):
		return http.StatusConflict, "already_resolved"
	case errors.Is(err, cancellation.ErrDuplicate),
		errors.Is(err, compensation.ErrDuplicate),
		errors.Is(err, dispute.ErrActiveTicket),
		errors.Is(err, dispute.ErrRecommendedConflict):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, compensation.ErrBadStatus),
		errors.Is(err, compensation.ErrNotApproved),
		errors.Is(err, compensation.ErrRejected),
		errors.Is(err, cancellation.ErrNotCancellable),
		errors.Is(err, dispute.ErrBadStatus),
		errors.Is(err, wallet.ErrStaleState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, dispute.ErrBadOption),
		errors.Is(err, dispute.ErrNoRecommended),
		errors.Is(err, dispute.ErrOptionMismatch),
		errors.Is(err, cancellation.ErrInvalidOverride),
		errors.Is(err, cancellation.ErrInvalidDeposit),
		errors.Is(err, cancellation.ErrMissingHarvestDate),
		errors.Is(err, order.ErrNoHarvestDate):
		return http.StatusUnprocessableEntity, "invalid_input"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// actor identifies who triggered a mutation, for the audit columns.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}
