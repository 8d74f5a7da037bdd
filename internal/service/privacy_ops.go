package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/privacy"
	"github.com/adminsuite/governance-backend/internal/domain/retention"
	"github.com/adminsuite/governance-backend/internal/domain/values"
	privacysvc "github.com/adminsuite/governance-backend/internal/service/privacy"
)

// StoreRecordRequest writes a subject's record for one data category.
// Values in ProtectedFields are sealed before they touch storage;
// PlainFields are stored as given.
type StoreRecordRequest struct {
	SubjectID       string `validate:"required,max=128"`
	Category        string `validate:"required"`
	PlainFields     map[string]string
	ProtectedFields map[string]string
}

// StoreSensitiveRecord creates or updates the subject's record for a
// category. Ingestion is a pipeline right: the shipped table grants it
// to services and admins, not to subjects or support.
func (c *Core) StoreSensitiveRecord(ctx context.Context, principal access.Principal, req StoreRecordRequest) (*privacy.SensitiveRecord, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	category, err := retention.ParseCategory(req.Category)
	if err != nil {
		return nil, err
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionWrite, "privacy/records/"+string(category), req.SubjectID); err != nil {
		return nil, err
	}
	return c.codec.StoreRecord(ctx, principal, privacysvc.StoreRequest{
		SubjectID:       req.SubjectID,
		Category:        category,
		PlainFields:     req.PlainFields,
		ProtectedFields: req.ProtectedFields,
	})
}

// ProtectFieldRequest seals one field value into the subject's record.
type ProtectFieldRequest struct {
	SubjectID string `validate:"required,max=128"`
	Category  string `validate:"required"`
	Field     string `validate:"required,max=128"`
	Value     string `validate:"required"`
}

// ProtectField seals a single value under the active key, creating the
// record when the subject has none for the category yet.
func (c *Core) ProtectField(ctx context.Context, principal access.Principal, req ProtectFieldRequest) (*privacy.SensitiveRecord, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	category, err := retention.ParseCategory(req.Category)
	if err != nil {
		return nil, err
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionWrite, "privacy/records/"+string(category), req.SubjectID); err != nil {
		return nil, err
	}
	return c.codec.ProtectField(ctx, principal, req.SubjectID, category, req.Field, req.Value)
}

// UnprotectFieldRequest reveals one sealed value from a record.
type UnprotectFieldRequest struct {
	RecordID uuid.UUID `validate:"required"`
	Field    string    `validate:"required,max=128"`
}

// UnprotectField returns the plaintext of one protected field. The
// codec runs the policy check itself, against the exact record
// resource, and writes the reveal entry before returning plaintext;
// there is no separate gate here because the evaluator records each
// denial and must be consulted exactly once per attempt.
func (c *Core) UnprotectField(ctx context.Context, principal access.Principal, req UnprotectFieldRequest) (string, error) {
	if err := c.checkRequest(req); err != nil {
		return "", err
	}
	return c.codec.Unprotect(ctx, principal, req.RecordID, req.Field)
}

// GetSensitiveRecord returns the stored record with its envelopes still
// sealed. Lifecycle state and field names are visible; plaintext is
// only reachable through UnprotectField.
func (c *Core) GetSensitiveRecord(ctx context.Context, principal access.Principal, subjectID, category string) (*privacy.SensitiveRecord, error) {
	cat, err := retention.ParseCategory(category)
	if err != nil {
		return nil, err
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionRead, "privacy/records/"+string(cat), subjectID); err != nil {
		return nil, err
	}
	return c.codec.GetRecord(ctx, subjectID, cat)
}

// RequestDeletion opens a right-to-erasure request for the subject and
// processes it synchronously. Replaying a completed request is a no-op
// that leaves exactly one replay entry in the trail.
func (c *Core) RequestDeletion(ctx context.Context, principal access.Principal, subjectID string) (*privacy.DeletionRequest, error) {
	if subjectID == "" {
		return nil, errors.NewValidationError("MISSING_SUBJECT", "subject id is required")
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionWrite, "privacy/deletions", subjectID); err != nil {
		return nil, err
	}
	return c.processor.RequestDeletion(ctx, principal, subjectID)
}

// GetDeletionRequest returns one erasure request by id. The request is
// loaded first so the ownership check can bind to the subject it
// belongs to; subjects only ever see their own requests.
func (c *Core) GetDeletionRequest(ctx context.Context, principal access.Principal, requestID uuid.UUID) (*privacy.DeletionRequest, error) {
	request, err := c.processor.GetDeletionRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionRead, "privacy/deletions", request.SubjectID); err != nil {
		return nil, err
	}
	return request, nil
}

// ExportRequestInput opens a right-to-access request. An empty Format
// selects the default bundle encoding.
type ExportRequestInput struct {
	SubjectID string `validate:"required,max=128"`
	Format    string
}

// ExportSubjectData gathers everything held on the subject into a
// portable bundle. Internal scoring fields never leave the system.
func (c *Core) ExportSubjectData(ctx context.Context, principal access.Principal, req ExportRequestInput) (*privacy.ExportRequest, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	format := values.DefaultExportFormat()
	if req.Format != "" {
		var err error
		format, err = values.NewExportFormat(req.Format)
		if err != nil {
			return nil, err
		}
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionWrite, "privacy/exports", req.SubjectID); err != nil {
		return nil, err
	}
	return c.processor.RequestExport(ctx, principal, req.SubjectID, format)
}

// GetExportRequest returns one export request by id, ownership-bound
// the same way as GetDeletionRequest.
func (c *Core) GetExportRequest(ctx context.Context, principal access.Principal, requestID uuid.UUID) (*privacy.ExportRequest, error) {
	request, err := c.processor.GetExportRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionRead, "privacy/exports", request.SubjectID); err != nil {
		return nil, err
	}
	return request, nil
}

// FetchExport returns the completed bundle for a finished export
// request along with its format.
func (c *Core) FetchExport(ctx context.Context, principal access.Principal, requestID uuid.UUID) ([]byte, values.ExportFormat, error) {
	request, err := c.processor.GetExportRequest(ctx, requestID)
	if err != nil {
		return nil, values.ExportFormat{}, err
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionRead, "privacy/exports", request.SubjectID); err != nil {
		return nil, values.ExportFormat{}, err
	}
	return c.processor.ExportData(ctx, requestID)
}

// VerifyObligation confirms that a downstream store completed its part
// of an erasure. Officer work; the confirmation lands in the trail.
func (c *Core) VerifyObligation(ctx context.Context, principal access.Principal, obligationID uuid.UUID) (*privacy.PropagationObligation, error) {
	if err := c.access.Require(ctx, principal, access.ActionWrite, "privacy/obligations"); err != nil {
		return nil, err
	}
	return c.processor.VerifyObligation(ctx, principal, obligationID)
}

// OpenObligations lists propagation obligations still awaiting
// confirmation, soonest deadline first.
func (c *Core) OpenObligations(ctx context.Context, principal access.Principal, limit int) ([]*privacy.PropagationObligation, error) {
	if err := c.access.Require(ctx, principal, access.ActionRead, "privacy/obligations"); err != nil {
		return nil, err
	}
	return c.processor.OpenObligations(ctx, limit)
}

// RotateFieldKey makes newKeyID the active sealing key. Existing
// envelopes stay readable under their recorded key and are re-sealed
// lazily on the next write or by ResealProtectedRecords.
func (c *Core) RotateFieldKey(ctx context.Context, principal access.Principal, newKeyID string) error {
	if err := c.access.Require(ctx, principal, access.ActionConfigure, "crypto/keys"); err != nil {
		return err
	}
	return c.codec.RotateKey(ctx, principal, newKeyID)
}

// RetireFieldKey removes a key from the ring once nothing is sealed
// under it any longer.
func (c *Core) RetireFieldKey(ctx context.Context, principal access.Principal, keyID string) error {
	if err := c.access.Require(ctx, principal, access.ActionConfigure, "crypto/keys"); err != nil {
		return err
	}
	return c.codec.RetireKey(ctx, principal, keyID)
}
