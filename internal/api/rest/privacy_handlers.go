package rest

import (
	"fmt"
	"net/http"

	"github.com/adminsuite/governance-backend/internal/service"
)

func (h *Handler) handleStoreRecord(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	var body storeRecordBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.core.StoreSensitiveRecord(r.Context(), principal, service.StoreRecordRequest{
		SubjectID:       body.SubjectID,
		Category:        body.Category,
		PlainFields:     body.PlainFields,
		ProtectedFields: body.ProtectedFields,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSensitiveRecordResponse(record))
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	record, err := h.core.GetSensitiveRecord(r.Context(), principal,
		r.PathValue("subjectID"), r.PathValue("category"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSensitiveRecordResponse(record))
}

func (h *Handler) handleProtectField(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	var body protectFieldBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.core.ProtectField(r.Context(), principal, service.ProtectFieldRequest{
		SubjectID: r.PathValue("subjectID"),
		Category:  r.PathValue("category"),
		Field:     body.Field,
		Value:     body.Value,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSensitiveRecordResponse(record))
}

// handleRevealField returns one protected field in plaintext. The
// value never appears in logs or audit metadata, only in this
// response body.
func (h *Handler) handleRevealField(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	var body revealFieldBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	value, err := h.core.UnprotectField(r.Context(), principal, service.UnprotectFieldRequest{
		RecordID: body.RecordID,
		Field:    body.Field,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, revealResponse{
		RecordID: body.RecordID,
		Field:    body.Field,
		Value:    value,
	})
}

func (h *Handler) handleRequestDeletion(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	var body deletionBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	request, err := h.core.RequestDeletion(r.Context(), principal, body.SubjectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDeletionResponse(request))
}

func (h *Handler) handleGetDeletion(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	id, err := parseUUIDPath(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	request, err := h.core.GetDeletionRequest(r.Context(), principal, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDeletionResponse(request))
}

func (h *Handler) handleRequestExport(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	var body exportBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	request, err := h.core.ExportSubjectData(r.Context(), principal, service.ExportRequestInput{
		SubjectID: body.SubjectID,
		Format:    body.Format,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toExportResponse(request))
}

func (h *Handler) handleGetExport(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	id, err := parseUUIDPath(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	request, err := h.core.GetExportRequest(r.Context(), principal, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toExportResponse(request))
}

func (h *Handler) handleDownloadExport(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	id, err := parseUUIDPath(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	payload, format, err := h.core.FetchExport(r.Context(), principal, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.MimeType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", format.FileName("export-"+id.String())))
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (h *Handler) handleListObligations(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	obligations, err := h.core.OpenObligations(r.Context(), principal, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]obligationResponse, 0, len(obligations))
	for _, o := range obligations {
		out = append(out, toObligationResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleVerifyObligation(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	id, err := parseUUIDPath(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	obligation, err := h.core.VerifyObligation(r.Context(), principal, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toObligationResponse(obligation))
}

func (h *Handler) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	var body rotateKeyBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.core.RotateFieldKey(r.Context(), principal, body.NewKeyID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRetireKey(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	if err := h.core.RetireFieldKey(r.Context(), principal, r.PathValue("keyID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
