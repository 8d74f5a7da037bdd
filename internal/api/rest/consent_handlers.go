package rest

import (
	"net/http"

	"github.com/adminsuite/governance-backend/internal/service"
)

func (h *Handler) handleRecordConsent(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	var body recordConsentBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.core.RecordConsent(r.Context(), principal, service.RecordConsentRequest{
		SubjectID: body.SubjectID,
		Purpose:   body.Purpose,
		Granted:   body.Granted,
		Source:    body.Source,
		Note:      body.Note,
		ExpiresAt: body.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toConsentRecordResponse(record))
}

func (h *Handler) handleCheckConsent(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	req := service.CheckConsentRequest{
		SubjectID: r.PathValue("subjectID"),
		Purpose:   r.PathValue("purpose"),
	}
	granted, err := h.core.CheckConsent(r.Context(), principal, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, consentCheckResponse{
		SubjectID: req.SubjectID,
		Purpose:   req.Purpose,
		Granted:   granted,
	})
}

func (h *Handler) handleConsentHistory(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	decisions, err := h.core.ConsentHistory(r.Context(), principal, service.CheckConsentRequest{
		SubjectID: r.PathValue("subjectID"),
		Purpose:   r.PathValue("purpose"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	history := make([]decisionResponse, 0, len(decisions))
	for _, d := range decisions {
		history = append(history, toDecisionResponse(d))
	}
	writeJSON(w, http.StatusOK, history)
}
