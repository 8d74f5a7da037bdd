package privacy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/values"
)

// RequestStatus is the lifecycle state of an erasure or export request.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusInProgress RequestStatus = "in_progress"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusFailed     RequestStatus = "failed"
)

// IsValid checks if the request status is valid.
func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestStatusPending, RequestStatusInProgress, RequestStatusCompleted, RequestStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is an end state.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusFailed
}

// ResultSummary is the outcome of a deletion request in counts only.
// It is embedded in audit metadata, so it must never grow a field
// that could carry subject data.
type ResultSummary struct {
	RecordsExamined    int `json:"records_examined"`
	RecordsErased      int `json:"records_erased"`
	FieldsDestroyed    int `json:"fields_destroyed"`
	ConsentsRevoked    int `json:"consents_revoked"`
	InstrumentsRevoked int `json:"instruments_revoked"`
	ObligationsRaised  int `json:"obligations_raised"`
}

// MetadataPairs renders the summary as audit entry metadata.
func (s ResultSummary) MetadataPairs() map[string]string {
	return map[string]string{
		"records_examined":    strconv.Itoa(s.RecordsExamined),
		"records_erased":      strconv.Itoa(s.RecordsErased),
		"fields_destroyed":    strconv.Itoa(s.FieldsDestroyed),
		"consents_revoked":    strconv.Itoa(s.ConsentsRevoked),
		"instruments_revoked": strconv.Itoa(s.InstrumentsRevoked),
		"obligations_raised":  strconv.Itoa(s.ObligationsRaised),
	}
}

// DeletionRequest is the work item for one right-to-erasure request.
// It moves pending -> in_progress -> completed or failed; a terminal
// request is never reopened, replays return its stored result.
type DeletionRequest struct {
	ID            uuid.UUID
	SubjectID     string
	RequestedBy   string
	Status        RequestStatus
	RequestedAt   time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Summary       *ResultSummary
	FailureCode   string
	FailureReason string
}

// NewDeletionRequest creates a pending deletion request.
func NewDeletionRequest(subjectID, requestedBy string) (*DeletionRequest, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	requestedBy = strings.TrimSpace(requestedBy)
	if requestedBy == "" {
		return nil, errors.NewValidationError("INVALID_ACTOR", "requesting actor is required")
	}

	return &DeletionRequest{
		ID:          uuid.New(),
		SubjectID:   subjectID,
		RequestedBy: requestedBy,
		Status:      RequestStatusPending,
		RequestedAt: time.Now(),
	}, nil
}

// Start claims the request for processing.
func (r *DeletionRequest) Start() error {
	if r.Status != RequestStatusPending {
		return errors.NewValidationError("NOT_PENDING",
			fmt.Sprintf("cannot start %s deletion request", r.Status))
	}
	now := time.Now()
	r.Status = RequestStatusInProgress
	r.StartedAt = &now
	return nil
}

// Complete records the outcome and closes the request.
func (r *DeletionRequest) Complete(summary ResultSummary) error {
	if r.Status != RequestStatusInProgress {
		return errors.NewValidationError("NOT_IN_PROGRESS",
			fmt.Sprintf("cannot complete %s deletion request", r.Status))
	}
	now := time.Now()
	r.Status = RequestStatusCompleted
	r.CompletedAt = &now
	r.Summary = &summary
	return nil
}

// Fail closes the request with an error. An in_progress request that
// fails is not rolled back; re-requesting erasure creates a new
// request rather than reopening this one.
func (r *DeletionRequest) Fail(code, reason string) error {
	if r.Status != RequestStatusInProgress {
		return errors.NewValidationError("NOT_IN_PROGRESS",
			fmt.Sprintf("cannot fail %s deletion request", r.Status))
	}
	now := time.Now()
	r.Status = RequestStatusFailed
	r.CompletedAt = &now
	r.FailureCode = code
	r.FailureReason = reason
	return nil
}

// IsTerminal reports whether the request has finished.
func (r *DeletionRequest) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Clone returns a deep copy of the request.
func (r *DeletionRequest) Clone() *DeletionRequest {
	clone := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		clone.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		clone.CompletedAt = &t
	}
	if r.Summary != nil {
		s := *r.Summary
		clone.Summary = &s
	}
	return &clone
}

// ExportRequest is the work item for one right-to-access request. Same
// lifecycle as DeletionRequest. The produced bundle is stored sealed;
// a completed request can hand back its bundle without touching the
// subject's records again.
type ExportRequest struct {
	ID            uuid.UUID
	SubjectID     string
	RequestedBy   string
	Format        values.ExportFormat
	Status        RequestStatus
	RequestedAt   time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Result        *Envelope
	RecordCount   int
	FailureCode   string
	FailureReason string
}

// NewExportRequest creates a pending export request.
func NewExportRequest(subjectID, requestedBy string, format values.ExportFormat) (*ExportRequest, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	requestedBy = strings.TrimSpace(requestedBy)
	if requestedBy == "" {
		return nil, errors.NewValidationError("INVALID_ACTOR", "requesting actor is required")
	}
	if format.IsZero() {
		format = values.DefaultExportFormat()
	}

	return &ExportRequest{
		ID:          uuid.New(),
		SubjectID:   subjectID,
		RequestedBy: requestedBy,
		Format:      format,
		Status:      RequestStatusPending,
		RequestedAt: time.Now(),
	}, nil
}

// Start claims the request for processing.
func (r *ExportRequest) Start() error {
	if r.Status != RequestStatusPending {
		return errors.NewValidationError("NOT_PENDING",
			fmt.Sprintf("cannot start %s export request", r.Status))
	}
	now := time.Now()
	r.Status = RequestStatusInProgress
	r.StartedAt = &now
	return nil
}

// Complete stores the sealed bundle and closes the request.
func (r *ExportRequest) Complete(result Envelope, recordCount int) error {
	if r.Status != RequestStatusInProgress {
		return errors.NewValidationError("NOT_IN_PROGRESS",
			fmt.Sprintf("cannot complete %s export request", r.Status))
	}
	if err := result.Validate(); err != nil {
		return err
	}
	now := time.Now()
	r.Status = RequestStatusCompleted
	r.CompletedAt = &now
	r.Result = &result
	r.RecordCount = recordCount
	return nil
}

// Fail closes the request with an error.
func (r *ExportRequest) Fail(code, reason string) error {
	if r.Status != RequestStatusInProgress {
		return errors.NewValidationError("NOT_IN_PROGRESS",
			fmt.Sprintf("cannot fail %s export request", r.Status))
	}
	now := time.Now()
	r.Status = RequestStatusFailed
	r.CompletedAt = &now
	r.FailureCode = code
	r.FailureReason = reason
	return nil
}

// IsTerminal reports whether the request has finished.
func (r *ExportRequest) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Clone returns a deep copy of the request.
func (r *ExportRequest) Clone() *ExportRequest {
	clone := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		clone.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		clone.CompletedAt = &t
	}
	if r.Result != nil {
		env := r.Result.Clone()
		clone.Result = &env
	}
	return &clone
}
