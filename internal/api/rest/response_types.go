package rest

import (
	"time"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/consent"
	"github.com/adminsuite/governance-backend/internal/domain/privacy"
)

type consentRecordResponse struct {
	ID        uuid.UUID        `json:"id"`
	SubjectID string           `json:"subject_id"`
	Purpose   consent.Purpose  `json:"purpose"`
	Version   int              `json:"version"`
	Latest    decisionResponse `json:"latest"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type decisionResponse struct {
	Version    int            `json:"version"`
	Granted    bool           `json:"granted"`
	Source     consent.Source `json:"source"`
	Actor      string         `json:"actor"`
	Note       string         `json:"note,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
}

func toConsentRecordResponse(record *consent.Record) consentRecordResponse {
	resp := consentRecordResponse{
		ID:        record.ID,
		SubjectID: record.SubjectID,
		Purpose:   record.Purpose,
		Version:   record.CurrentVersion,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
	if latest := record.Latest(); latest != nil {
		resp.Latest = toDecisionResponse(*latest)
	}
	return resp
}

func toDecisionResponse(d consent.Decision) decisionResponse {
	return decisionResponse{
		Version:    d.Version,
		Granted:    d.Granted,
		Source:     d.Source,
		Actor:      d.Actor,
		Note:       d.Note,
		RecordedAt: d.RecordedAt,
		ExpiresAt:  d.ExpiresAt,
	}
}

type consentCheckResponse struct {
	SubjectID string `json:"subject_id"`
	Purpose   string `json:"purpose"`
	Granted   bool   `json:"granted"`
}

// sensitiveRecordResponse exposes protected field names but never
// their envelopes. Plaintext only ever leaves through the reveal
// endpoint, where each access is gated and audited.
type sensitiveRecordResponse struct {
	ID              uuid.UUID         `json:"id"`
	SubjectID       string            `json:"subject_id"`
	Category        string            `json:"category"`
	Status          string            `json:"status"`
	PlainFields     map[string]string `json:"plain_fields,omitempty"`
	ProtectedFields []string          `json:"protected_fields,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	LastModified    time.Time         `json:"last_modified"`
	ErasedAt        *time.Time        `json:"erased_at,omitempty"`
}

func toSensitiveRecordResponse(record *privacy.SensitiveRecord) sensitiveRecordResponse {
	return sensitiveRecordResponse{
		ID:              record.ID,
		SubjectID:       record.SubjectID,
		Category:        string(record.Category),
		Status:          string(record.Status),
		PlainFields:     record.PlainFields,
		ProtectedFields: record.ProtectedFieldNames(),
		CreatedAt:       record.CreatedAt,
		LastModified:    record.LastModified,
		ErasedAt:        record.ErasedAt,
	}
}

type revealResponse struct {
	RecordID uuid.UUID `json:"record_id"`
	Field    string    `json:"field"`
	Value    string    `json:"value"`
}

type deletionResponse struct {
	ID            uuid.UUID              `json:"id"`
	SubjectID     string                 `json:"subject_id"`
	RequestedBy   string                 `json:"requested_by"`
	Status        string                 `json:"status"`
	RequestedAt   time.Time              `json:"requested_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	Summary       *privacy.ResultSummary `json:"summary,omitempty"`
	FailureCode   string                 `json:"failure_code,omitempty"`
	FailureReason string                 `json:"failure_reason,omitempty"`
}

func toDeletionResponse(request *privacy.DeletionRequest) deletionResponse {
	return deletionResponse{
		ID:            request.ID,
		SubjectID:     request.SubjectID,
		RequestedBy:   request.RequestedBy,
		Status:        string(request.Status),
		RequestedAt:   request.RequestedAt,
		StartedAt:     request.StartedAt,
		CompletedAt:   request.CompletedAt,
		Summary:       request.Summary,
		FailureCode:   request.FailureCode,
		FailureReason: request.FailureReason,
	}
}

// exportResponse describes the request, never its sealed bundle. The
// bundle itself streams through the download endpoint.
type exportResponse struct {
	ID            uuid.UUID  `json:"id"`
	SubjectID     string     `json:"subject_id"`
	RequestedBy   string     `json:"requested_by"`
	Format        string     `json:"format"`
	Status        string     `json:"status"`
	RequestedAt   time.Time  `json:"requested_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	RecordCount   int        `json:"record_count"`
	FailureCode   string     `json:"failure_code,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

func toExportResponse(request *privacy.ExportRequest) exportResponse {
	return exportResponse{
		ID:            request.ID,
		SubjectID:     request.SubjectID,
		RequestedBy:   request.RequestedBy,
		Format:        request.Format.String(),
		Status:        string(request.Status),
		RequestedAt:   request.RequestedAt,
		CompletedAt:   request.CompletedAt,
		RecordCount:   request.RecordCount,
		FailureCode:   request.FailureCode,
		FailureReason: request.FailureReason,
	}
}

type obligationResponse struct {
	ID         uuid.UUID  `json:"id"`
	RequestID  uuid.UUID  `json:"request_id"`
	SubjectID  string     `json:"subject_id"`
	Target     string     `json:"target"`
	RaisedAt   time.Time  `json:"raised_at"`
	Deadline   time.Time  `json:"deadline"`
	Status     string     `json:"status"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	VerifiedBy string     `json:"verified_by,omitempty"`
}

func toObligationResponse(o *privacy.PropagationObligation) obligationResponse {
	return obligationResponse{
		ID:         o.ID,
		RequestID:  o.RequestID,
		SubjectID:  o.SubjectID,
		Target:     string(o.Target),
		RaisedAt:   o.RaisedAt,
		Deadline:   o.Deadline,
		Status:     string(o.Status),
		VerifiedAt: o.VerifiedAt,
		VerifiedBy: o.VerifiedBy,
	}
}

type auditPageResponse struct {
	Entries    []*audit.Entry `json:"entries"`
	NextCursor int64          `json:"next_cursor"`
}

type tokenEpochResponse struct {
	ActiveEpoch int `json:"active_epoch"`
}
