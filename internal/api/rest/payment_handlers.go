package rest

import (
	"net/http"

	"github.com/adminsuite/governance-backend/internal/service"
)

// handleTokenize accepts raw card data, returns the stored instrument.
// The number and code live only for the duration of this request.
func (h *Handler) handleTokenize(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	var body tokenizeBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	instrument, err := h.core.TokenizeInstrument(r.Context(), principal, service.TokenizeRequest{
		SubjectID:   body.SubjectID,
		CardNumber:  body.CardNumber,
		CVC:         body.CVC,
		ExpiryMonth: body.ExpiryMonth,
		ExpiryYear:  body.ExpiryYear,
		Holder:      body.Holder,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, instrument)
}

func (h *Handler) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	instrument, err := h.core.GetStoredInstrument(r.Context(), principal, r.PathValue("token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, instrument)
}

func (h *Handler) handleRevokeInstrument(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	instrument, err := h.core.RevokeInstrument(r.Context(), principal, r.PathValue("token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, instrument)
}

func (h *Handler) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	instruments, err := h.core.ListInstruments(r.Context(), principal, r.PathValue("subjectID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, instruments)
}

func (h *Handler) handleCharge(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	var body chargeBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	transaction, err := h.core.Charge(r.Context(), principal, service.ChargeInput{
		Token:       body.Token,
		Amount:      body.Amount,
		Currency:    body.Currency,
		Description: body.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// A decline is a completed transaction with a declined status, so
	// it still lands here as 201.
	writeJSON(w, http.StatusCreated, transaction)
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	var body refundBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	refund, err := h.core.Refund(r.Context(), principal, service.RefundInput{
		TransactionID: body.TransactionID,
		Amount:        body.Amount,
		Currency:      body.Currency,
		Reason:        body.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, refund)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	limit, err := parseIntParam(r, "limit", 50)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := parseIntParam(r, "offset", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	transactions, err := h.core.ListTransactions(r.Context(), principal,
		r.PathValue("subjectID"), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, transactions)
}

func (h *Handler) handleAdvanceTokenEpoch(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	epoch, err := h.core.AdvanceTokenEpoch(r.Context(), principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenEpochResponse{ActiveEpoch: epoch})
}
