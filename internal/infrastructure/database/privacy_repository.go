package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/privacy"
	"github.com/adminsuite/governance-backend/internal/domain/retention"
	"github.com/adminsuite/governance-backend/internal/domain/values"
)

// RecordRepository is the PostgreSQL sensitive record store. The unique
// constraint on (subject_id, category) keeps one record per pair and
// follows the row when anonymization rewrites the subject ID.
type RecordRepository struct {
	pool *Pool
}

// NewRecordRepository creates a PostgreSQL sensitive record repository.
func NewRecordRepository(pool *Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

const recordColumns = `id, subject_id, category, status, protected_fields, plain_fields,
		created_at, last_modified, erased_at, swept_at`

// Save creates or updates a record.
func (r *RecordRepository) Save(ctx context.Context, record *privacy.SensitiveRecord) error {
	if record == nil {
		return errors.NewValidationError("NIL_RECORD", "sensitive record is required")
	}

	protectedJSON, err := json.Marshal(record.ProtectedFields)
	if err != nil {
		return errors.NewInternalError("failed to marshal protected fields").WithCause(err)
	}
	plainJSON, err := json.Marshal(record.PlainFields)
	if err != nil {
		return errors.NewInternalError("failed to marshal plain fields").WithCause(err)
	}

	_, err = r.pool.pgx.Exec(ctx, `
		INSERT INTO sensitive_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET subject_id = EXCLUDED.subject_id,
		    status = EXCLUDED.status,
		    protected_fields = EXCLUDED.protected_fields,
		    plain_fields = EXCLUDED.plain_fields,
		    last_modified = EXCLUDED.last_modified,
		    erased_at = EXCLUDED.erased_at,
		    swept_at = EXCLUDED.swept_at
	`, record.ID, record.SubjectID, string(record.Category), string(record.Status),
		protectedJSON, plainJSON, record.CreatedAt, record.LastModified,
		record.ErasedAt, record.SweptAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewConflictError(fmt.Sprintf(
				"subject %s already has a record for category %s",
				record.SubjectID, record.Category))
		}
		return errors.NewStorageError("save sensitive record", err)
	}
	return nil
}

// GetByID retrieves a record by its ID.
func (r *RecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*privacy.SensitiveRecord, error) {
	row := r.pool.pgx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM sensitive_records
		WHERE id = $1
	`, id)
	record, err := scanSensitiveRecord(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("sensitive record")
		}
		return nil, errors.NewStorageError("get sensitive record", err)
	}
	return record, nil
}

// GetBySubjectAndCategory retrieves one subject's record for a category.
func (r *RecordRepository) GetBySubjectAndCategory(ctx context.Context, subjectID string, category retention.DataCategory) (*privacy.SensitiveRecord, error) {
	row := r.pool.pgx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM sensitive_records
		WHERE subject_id = $1 AND category = $2
	`, subjectID, string(category))
	record, err := scanSensitiveRecord(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("sensitive record")
		}
		return nil, errors.NewStorageError("get sensitive record", err)
	}
	return record, nil
}

// ListBySubject retrieves all records belonging to a subject.
func (r *RecordRepository) ListBySubject(ctx context.Context, subjectID string) ([]*privacy.SensitiveRecord, error) {
	return r.listRecords(ctx, `
		SELECT `+recordColumns+`
		FROM sensitive_records
		WHERE subject_id = $1
		ORDER BY created_at ASC, id ASC
	`, subjectID)
}

// ListByStatus retrieves records in a retention state, oldest first.
func (r *RecordRepository) ListByStatus(ctx context.Context, status retention.Status, limit int) ([]*privacy.SensitiveRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM sensitive_records
		WHERE status = $1
		ORDER BY created_at ASC, id ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.listRecords(ctx, query, args...)
}

// ListByKeyID retrieves records holding envelopes sealed under a key.
// The key ID lives inside the protected field envelopes, so the match
// walks the JSONB values.
func (r *RecordRepository) ListByKeyID(ctx context.Context, keyID string, limit int) ([]*privacy.SensitiveRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM sensitive_records
		WHERE EXISTS (
			SELECT 1 FROM jsonb_each(protected_fields) AS f
			WHERE f.value->>'key_id' = $1
		)
		ORDER BY created_at ASC, id ASC`
	args := []any{keyID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.listRecords(ctx, query, args...)
}

// Delete removes a record outright.
func (r *RecordRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.pgx.Exec(ctx, `DELETE FROM sensitive_records WHERE id = $1`, id)
	if err != nil {
		return errors.NewStorageError("delete sensitive record", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("sensitive record")
	}
	return nil
}

// Count returns the total number of stored records.
func (r *RecordRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.pgx.QueryRow(ctx, `SELECT COUNT(*) FROM sensitive_records`).Scan(&count); err != nil {
		return 0, errors.NewStorageError("count sensitive records", err)
	}
	return count, nil
}

func (r *RecordRepository) listRecords(ctx context.Context, query string, args ...any) ([]*privacy.SensitiveRecord, error) {
	rows, err := r.pool.pgx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorageError("query sensitive records", err)
	}
	defer rows.Close()

	var records []*privacy.SensitiveRecord
	for rows.Next() {
		record, err := scanSensitiveRecord(rows)
		if err != nil {
			return nil, errors.NewStorageError("scan sensitive record", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("iterate sensitive records", err)
	}
	return records, nil
}

func scanSensitiveRecord(row pgx.Row) (*privacy.SensitiveRecord, error) {
	var record privacy.SensitiveRecord
	var category, status string
	var protectedJSON, plainJSON []byte

	err := row.Scan(&record.ID, &record.SubjectID, &category, &status,
		&protectedJSON, &plainJSON, &record.CreatedAt, &record.LastModified,
		&record.ErasedAt, &record.SweptAt)
	if err != nil {
		return nil, err
	}
	record.Category = retention.DataCategory(category)
	record.Status = retention.Status(status)

	if err := json.Unmarshal(protectedJSON, &record.ProtectedFields); err != nil {
		return nil, fmt.Errorf("unmarshal protected fields: %w", err)
	}
	if err := json.Unmarshal(plainJSON, &record.PlainFields); err != nil {
		return nil, fmt.Errorf("unmarshal plain fields: %w", err)
	}
	return &record, nil
}

// requestTransitionError maps a disallowed stored -> incoming status
// transition to its conflict error. A nil return means the save may
// proceed.
func requestTransitionError(stored, incoming privacy.RequestStatus, kind string) error {
	switch {
	case stored == privacy.RequestStatusCompleted || stored == privacy.RequestStatusFailed:
		return errors.NewConflictError(kind + " already finalized")
	case stored == privacy.RequestStatusInProgress && incoming == privacy.RequestStatusInProgress:
		return errors.NewConflictError(kind + " already claimed by another worker")
	case stored == privacy.RequestStatusInProgress && incoming == privacy.RequestStatusPending:
		return errors.NewConflictError(kind + " cannot return to pending")
	}
	return nil
}

// DeletionRequestRepository is the PostgreSQL deletion request store.
// Save locks the stored row before judging the status transition, so
// two workers racing to claim the same pending request serialize and
// exactly one wins.
type DeletionRequestRepository struct {
	pool *Pool
}

// NewDeletionRequestRepository creates a PostgreSQL deletion request
// repository.
func NewDeletionRequestRepository(pool *Pool) *DeletionRequestRepository {
	return &DeletionRequestRepository{pool: pool}
}

const deletionRequestColumns = `id, subject_id, requested_by, status, requested_at,
		started_at, completed_at, summary, failure_code, failure_reason`

// Save persists the request, rejecting status transitions that race
// another writer.
func (r *DeletionRequestRepository) Save(ctx context.Context, request *privacy.DeletionRequest) error {
	if request == nil {
		return errors.NewValidationError("NIL_REQUEST", "deletion request is required")
	}

	summaryJSON, err := marshalSummary(request.Summary)
	if err != nil {
		return err
	}

	return r.pool.Transaction(ctx, func(tx pgx.Tx) error {
		var stored string
		err := tx.QueryRow(ctx,
			`SELECT status FROM deletion_requests WHERE id = $1 FOR UPDATE`,
			request.ID).Scan(&stored)
		if err != nil && err != pgx.ErrNoRows {
			return errors.NewStorageError("lock deletion request", err)
		}
		if err == nil {
			if terr := requestTransitionError(privacy.RequestStatus(stored), request.Status, "deletion request"); terr != nil {
				return terr
			}
			_, err = tx.Exec(ctx, `
				UPDATE deletion_requests
				SET status = $2, started_at = $3, completed_at = $4,
				    summary = $5, failure_code = $6, failure_reason = $7
				WHERE id = $1
			`, request.ID, string(request.Status), request.StartedAt, request.CompletedAt,
				summaryJSON, request.FailureCode, request.FailureReason)
			if err != nil {
				return errors.NewStorageError("update deletion request", err)
			}
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO deletion_requests (`+deletionRequestColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, request.ID, request.SubjectID, request.RequestedBy, string(request.Status),
			request.RequestedAt, request.StartedAt, request.CompletedAt,
			summaryJSON, request.FailureCode, request.FailureReason)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.NewConflictError("deletion request already stored")
			}
			return errors.NewStorageError("insert deletion request", err)
		}
		return nil
	})
}

// GetByID retrieves a request by its ID.
func (r *DeletionRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*privacy.DeletionRequest, error) {
	row := r.pool.pgx.QueryRow(ctx, `
		SELECT `+deletionRequestColumns+`
		FROM deletion_requests
		WHERE id = $1
	`, id)
	request, err := scanDeletionRequest(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("deletion request")
		}
		return nil, errors.NewStorageError("get deletion request", err)
	}
	return request, nil
}

// GetLatestBySubject retrieves the most recent request for a subject.
func (r *DeletionRequestRepository) GetLatestBySubject(ctx context.Context, subjectID string) (*privacy.DeletionRequest, error) {
	row := r.pool.pgx.QueryRow(ctx, `
		SELECT `+deletionRequestColumns+`
		FROM deletion_requests
		WHERE subject_id = $1
		ORDER BY requested_at DESC, id ASC
		LIMIT 1
	`, subjectID)
	request, err := scanDeletionRequest(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("deletion request")
		}
		return nil, errors.NewStorageError("get deletion request", err)
	}
	return request, nil
}

// ListByStatus retrieves requests in a state, oldest first.
func (r *DeletionRequestRepository) ListByStatus(ctx context.Context, status privacy.RequestStatus, limit int) ([]*privacy.DeletionRequest, error) {
	query := `
		SELECT ` + deletionRequestColumns + `
		FROM deletion_requests
		WHERE status = $1
		ORDER BY requested_at ASC, id ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.pgx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorageError("query deletion requests", err)
	}
	defer rows.Close()

	var requests []*privacy.DeletionRequest
	for rows.Next() {
		request, err := scanDeletionRequest(rows)
		if err != nil {
			return nil, errors.NewStorageError("scan deletion request", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("iterate deletion requests", err)
	}
	return requests, nil
}

func marshalSummary(summary *privacy.ResultSummary) ([]byte, error) {
	if summary == nil {
		return nil, nil
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal result summary").WithCause(err)
	}
	return data, nil
}

func scanDeletionRequest(row pgx.Row) (*privacy.DeletionRequest, error) {
	var request privacy.DeletionRequest
	var status string
	var summaryJSON []byte

	err := row.Scan(&request.ID, &request.SubjectID, &request.RequestedBy, &status,
		&request.RequestedAt, &request.StartedAt, &request.CompletedAt,
		&summaryJSON, &request.FailureCode, &request.FailureReason)
	if err != nil {
		return nil, err
	}
	request.Status = privacy.RequestStatus(status)

	if len(summaryJSON) > 0 {
		var summary privacy.ResultSummary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return nil, fmt.Errorf("unmarshal result summary: %w", err)
		}
		request.Summary = &summary
	}
	return &request, nil
}

// ExportRequestRepository is the PostgreSQL export request store, with
// the same claim serialization as the deletion side.
type ExportRequestRepository struct {
	pool *Pool
}

// NewExportRequestRepository creates a PostgreSQL export request
// repository.
func NewExportRequestRepository(pool *Pool) *ExportRequestRepository {
	return &ExportRequestRepository{pool: pool}
}

const exportRequestColumns = `id, subject_id, requested_by, format, status, requested_at,
		started_at, completed_at, result, record_count, failure_code, failure_reason`

// Save persists the request, rejecting status transitions that race
// another writer.
func (r *ExportRequestRepository) Save(ctx context.Context, request *privacy.ExportRequest) error {
	if request == nil {
		return errors.NewValidationError("NIL_REQUEST", "export request is required")
	}

	var resultJSON []byte
	if request.Result != nil {
		data, err := json.Marshal(request.Result)
		if err != nil {
			return errors.NewInternalError("failed to marshal export result").WithCause(err)
		}
		resultJSON = data
	}

	return r.pool.Transaction(ctx, func(tx pgx.Tx) error {
		var stored string
		err := tx.QueryRow(ctx,
			`SELECT status FROM export_requests WHERE id = $1 FOR UPDATE`,
			request.ID).Scan(&stored)
		if err != nil && err != pgx.ErrNoRows {
			return errors.NewStorageError("lock export request", err)
		}
		if err == nil {
			if terr := requestTransitionError(privacy.RequestStatus(stored), request.Status, "export request"); terr != nil {
				return terr
			}
			_, err = tx.Exec(ctx, `
				UPDATE export_requests
				SET status = $2, started_at = $3, completed_at = $4,
				    result = $5, record_count = $6, failure_code = $7, failure_reason = $8
				WHERE id = $1
			`, request.ID, string(request.Status), request.StartedAt, request.CompletedAt,
				resultJSON, request.RecordCount, request.FailureCode, request.FailureReason)
			if err != nil {
				return errors.NewStorageError("update export request", err)
			}
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO export_requests (`+exportRequestColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, request.ID, request.SubjectID, request.RequestedBy, request.Format.String(),
			string(request.Status), request.RequestedAt, request.StartedAt,
			request.CompletedAt, resultJSON, request.RecordCount,
			request.FailureCode, request.FailureReason)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.NewConflictError("export request already stored")
			}
			return errors.NewStorageError("insert export request", err)
		}
		return nil
	})
}

// GetByID retrieves a request by its ID.
func (r *ExportRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*privacy.ExportRequest, error) {
	row := r.pool.pgx.QueryRow(ctx, `
		SELECT `+exportRequestColumns+`
		FROM export_requests
		WHERE id = $1
	`, id)
	request, err := scanExportRequest(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("export request")
		}
		return nil, errors.NewStorageError("get export request", err)
	}
	return request, nil
}

// GetLatestBySubject retrieves the most recent request for a subject.
func (r *ExportRequestRepository) GetLatestBySubject(ctx context.Context, subjectID string) (*privacy.ExportRequest, error) {
	row := r.pool.pgx.QueryRow(ctx, `
		SELECT `+exportRequestColumns+`
		FROM export_requests
		WHERE subject_id = $1
		ORDER BY requested_at DESC, id ASC
		LIMIT 1
	`, subjectID)
	request, err := scanExportRequest(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("export request")
		}
		return nil, errors.NewStorageError("get export request", err)
	}
	return request, nil
}

// ListByStatus retrieves requests in a state, oldest first.
func (r *ExportRequestRepository) ListByStatus(ctx context.Context, status privacy.RequestStatus, limit int) ([]*privacy.ExportRequest, error) {
	query := `
		SELECT ` + exportRequestColumns + `
		FROM export_requests
		WHERE status = $1
		ORDER BY requested_at ASC, id ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.pgx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorageError("query export requests", err)
	}
	defer rows.Close()

	var requests []*privacy.ExportRequest
	for rows.Next() {
		request, err := scanExportRequest(rows)
		if err != nil {
			return nil, errors.NewStorageError("scan export request", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("iterate export requests", err)
	}
	return requests, nil
}

func scanExportRequest(row pgx.Row) (*privacy.ExportRequest, error) {
	var request privacy.ExportRequest
	var format, status string
	var resultJSON []byte

	err := row.Scan(&request.ID, &request.SubjectID, &request.RequestedBy, &format,
		&status, &request.RequestedAt, &request.StartedAt, &request.CompletedAt,
		&resultJSON, &request.RecordCount, &request.FailureCode, &request.FailureReason)
	if err != nil {
		return nil, err
	}
	request.Status = privacy.RequestStatus(status)

	exportFormat, err := values.NewExportFormat(format)
	if err != nil {
		return nil, err
	}
	request.Format = exportFormat

	if len(resultJSON) > 0 {
		var envelope privacy.Envelope
		if err := json.Unmarshal(resultJSON, &envelope); err != nil {
			return nil, fmt.Errorf("unmarshal export result: %w", err)
		}
		request.Result = &envelope
	}
	return &request, nil
}

// ObligationRepository is the PostgreSQL propagation obligation store.
type ObligationRepository struct {
	pool *Pool
}

// NewObligationRepository creates a PostgreSQL obligation repository.
func NewObligationRepository(pool *Pool) *ObligationRepository {
	return &ObligationRepository{pool: pool}
}

const obligationColumns = `id, request_id, subject_id, target, raised_at, deadline,
		status, verified_at, verified_by`

// Save creates or updates an obligation.
func (r *ObligationRepository) Save(ctx context.Context, obligation *privacy.PropagationObligation) error {
	if obligation == nil {
		return errors.NewValidationError("NIL_OBLIGATION", "obligation is required")
	}

	_, err := r.pool.pgx.Exec(ctx, `
		INSERT INTO propagation_obligations (`+obligationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    verified_at = EXCLUDED.verified_at,
		    verified_by = EXCLUDED.verified_by
	`, obligation.ID, obligation.RequestID, obligation.SubjectID,
		string(obligation.Target), obligation.RaisedAt, obligation.Deadline,
		string(obligation.Status), obligation.VerifiedAt, obligation.VerifiedBy)
	if err != nil {
		return errors.NewStorageError("save obligation", err)
	}
	return nil
}

// GetByID retrieves an obligation by its ID.
func (r *ObligationRepository) GetByID(ctx context.Context, id uuid.UUID) (*privacy.PropagationObligation, error) {
	row := r.pool.pgx.QueryRow(ctx, `
		SELECT `+obligationColumns+`
		FROM propagation_obligations
		WHERE id = $1
	`, id)
	obligation, err := scanObligation(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("obligation")
		}
		return nil, errors.NewStorageError("get obligation", err)
	}
	return obligation, nil
}

// ListByRequest retrieves the obligations raised by one request.
func (r *ObligationRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*privacy.PropagationObligation, error) {
	return r.listObligations(ctx, `
		SELECT `+obligationColumns+`
		FROM propagation_obligations
		WHERE request_id = $1
		ORDER BY raised_at ASC, id ASC
	`, requestID)
}

// ListOpen retrieves unverified obligations, earliest deadline first.
func (r *ObligationRepository) ListOpen(ctx context.Context, limit int) ([]*privacy.PropagationObligation, error) {
	query := `
		SELECT ` + obligationColumns + `
		FROM propagation_obligations
		WHERE status <> $1
		ORDER BY deadline ASC, id ASC`
	args := []any{string(privacy.ObligationVerified)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.listObligations(ctx, query, args...)
}

// ListExpiring retrieves open obligations whose deadline falls before
// the given instant.
func (r *ObligationRepository) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*privacy.PropagationObligation, error) {
	query := `
		SELECT ` + obligationColumns + `
		FROM propagation_obligations
		WHERE status <> $1 AND deadline < $2
		ORDER BY deadline ASC, id ASC`
	args := []any{string(privacy.ObligationVerified), before}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return r.listObligations(ctx, query, args...)
}

func (r *ObligationRepository) listObligations(ctx context.Context, query string, args ...any) ([]*privacy.PropagationObligation, error) {
	rows, err := r.pool.pgx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorageError("query obligations", err)
	}
	defer rows.Close()

	var obligations []*privacy.PropagationObligation
	for rows.Next() {
		obligation, err := scanObligation(rows)
		if err != nil {
			return nil, errors.NewStorageError("scan obligation", err)
		}
		obligations = append(obligations, obligation)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("iterate obligations", err)
	}
	return obligations, nil
}

func scanObligation(row pgx.Row) (*privacy.PropagationObligation, error) {
	var obligation privacy.PropagationObligation
	var target, status string

	err := row.Scan(&obligation.ID, &obligation.RequestID, &obligation.SubjectID,
		&target, &obligation.RaisedAt, &obligation.Deadline,
		&status, &obligation.VerifiedAt, &obligation.VerifiedBy)
	if err != nil {
		return nil, err
	}
	obligation.Target = privacy.ObligationTarget(target)
	obligation.Status = privacy.ObligationStatus(status)
	return &obligation, nil
}

var (
	_ privacy.RecordRepository          = (*RecordRepository)(nil)
	_ privacy.DeletionRequestRepository = (*DeletionRequestRepository)(nil)
	_ privacy.ExportRequestRepository   = (*ExportRequestRepository)(nil)
	_ privacy.ObligationRepository      = (*ObligationRepository)(nil)
)
