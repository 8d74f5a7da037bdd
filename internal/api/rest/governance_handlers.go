package rest

import (
	"net/http"
	"strings"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/service"
)

func (h *Handler) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	filter, err := auditFilterFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entries, cursor, err := h.core.QueryAudit(r.Context(), principal, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, auditPageResponse{
		Entries:    entries,
		NextCursor: cursor,
	})
}

// auditFilterFromQuery maps query parameters onto the audit filter.
// Absent parameters leave the zero value, which the filter reads as
// "no constraint".
func auditFilterFromQuery(r *http.Request) (audit.Filter, error) {
	var filter audit.Filter

	q := r.URL.Query()
	filter.ActorID = q.Get("actor_id")
	filter.SubjectID = q.Get("subject_id")
	filter.Resource = q.Get("resource")

	if raw := q.Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter.Types = append(filter.Types, audit.EntryType(strings.TrimSpace(t)))
		}
	}
	if raw := q.Get("outcomes"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			filter.Outcomes = append(filter.Outcomes, audit.Outcome(strings.TrimSpace(o)))
		}
	}
	if raw := q.Get("categories"); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			filter.Categories = append(filter.Categories, strings.TrimSpace(c))
		}
	}

	var err error
	if filter.Since, err = parseTimeParam(r, "since"); err != nil {
		return audit.Filter{}, err
	}
	if filter.Until, err = parseTimeParam(r, "until"); err != nil {
		return audit.Filter{}, err
	}

	after, err := parseIntParam(r, "after_sequence", 0)
	if err != nil {
		return audit.Filter{}, err
	}
	filter.AfterSequence = int64(after)

	if filter.Limit, err = parseIntParam(r, "limit", 0); err != nil {
		return audit.Filter{}, err
	}
	return filter, nil
}

// handleAuditStream upgrades the caller onto the live entry feed. The
// right that reads the stored log gates the stream too, so a denial
// here is recorded like any other.
func (h *Handler) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}
	if h.stream == nil {
		h.writeError(w, r, errors.NewNotFoundError("audit stream"))
		return
	}
	if decision := h.core.Authorize(r.Context(), principal, access.ActionRead, "audit/entries"); !decision.Allowed {
		h.writeError(w, r, errors.ErrAccessDenied)
		return
	}
	h.stream.Serve(w, r, principal)
}

func (h *Handler) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	var body verifyChainBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	verification, err := h.core.VerifyAuditChain(r.Context(), principal, body.FromSequence, body.ToSequence)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, verification)
}

func (h *Handler) handlePolicySummary(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	summary, err := h.core.PolicySummary(r.Context(), principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleSetRetentionPolicy(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	var body retentionPolicyBody
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	policy, err := h.core.SetRetentionPolicy(r.Context(), principal, service.SetRetentionPolicyRequest{
		Category:      r.PathValue("category"),
		RetentionDays: body.RetentionDays,
		Action:        body.Action,
		LegalBasis:    body.LegalBasis,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, policy)
}

func (h *Handler) handleDeleteRetentionPolicy(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	if err := h.core.DeleteRetentionPolicy(r.Context(), principal, r.PathValue("category")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTriggerSweep(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	report, err := h.core.TriggerRetentionSweep(r.Context(), principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleLastSweep(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	report, err := h.core.LastSweep(r.Context(), principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if report == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{
			Code:      "NO_SWEEP_YET",
			Message:   "no sweep has completed since startup",
			RequestID: requestIDFrom(r.Context()),
		}})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	since, err := parseTimeParam(r, "since")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	until, err := parseTimeParam(r, "until")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	report, err := h.core.ComplianceReport(r.Context(), principal, since, until)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
