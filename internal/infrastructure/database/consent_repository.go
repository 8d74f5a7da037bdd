package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/adminsuite/governance-backend/internal/domain/consent"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// ConsentRepository is the PostgreSQL consent store. A record row holds
// the current version per (subject, purpose); decision rows hold the
// full history and are never updated or deleted.
type ConsentRepository struct {
	pool *Pool
}

// NewConsentRepository creates a PostgreSQL consent repository.
func NewConsentRepository(pool *Pool) *ConsentRepository {
	return &ConsentRepository{pool: pool}
}

// Save persists the record and any decisions appended since the last
// save. The record row update is guarded on the stored version strictly
// advancing, so of two writers racing to append the same version
// exactly one commits and the other sees a conflict.
func (r *ConsentRepository) Save(ctx context.Context, record *consent.Record) error {
	if record == nil {
		return errors.NewValidationError("NIL_RECORD", "consent record is required")
	}

	return r.pool.Transaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO consent_records (id, subject_id, purpose, current_version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE
			SET current_version = EXCLUDED.current_version,
			    updated_at = EXCLUDED.updated_at
			WHERE consent_records.current_version < EXCLUDED.current_version
		`, record.ID, record.SubjectID, string(record.Purpose),
			record.CurrentVersion, record.CreatedAt, record.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.NewConflictError(fmt.Sprintf(
					"consent for subject %s purpose %s already exists under another record",
					record.SubjectID, record.Purpose))
			}
			return errors.NewStorageError("save consent record", err)
		}
		if tag.RowsAffected() == 0 {
			return errors.NewConflictError(fmt.Sprintf(
				"consent record %s version %d lost a concurrent update",
				record.ID, record.CurrentVersion))
		}

		// Decision rows are immutable, so replaying ones already stored
		// is a no-op rather than an error.
		for _, d := range record.Decisions {
			_, err := tx.Exec(ctx, `
				INSERT INTO consent_decisions (id, record_id, version, granted, source,
				                               actor, note, recorded_at, expires_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (record_id, version) DO NOTHING
			`, d.ID, d.RecordID, d.Version, d.Granted, string(d.Source),
				d.Actor, d.Note, d.RecordedAt, d.ExpiresAt)
			if err != nil {
				return errors.NewStorageError("save consent decision", err)
			}
		}
		return nil
	})
}

// GetByID retrieves a record by its ID, with its full decision history.
func (r *ConsentRepository) GetByID(ctx context.Context, id uuid.UUID) (*consent.Record, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

// GetBySubjectAndPurpose retrieves the record for one (subject, purpose)
// pair, with its full decision history.
func (r *ConsentRepository) GetBySubjectAndPurpose(ctx context.Context, subjectID string, purpose consent.Purpose) (*consent.Record, error) {
	return r.getOne(ctx, `WHERE subject_id = $1 AND purpose = $2`, subjectID, string(purpose))
}

func (r *ConsentRepository) getOne(ctx context.Context, where string, args ...any) (*consent.Record, error) {
	var record consent.Record
	var purpose string
	err := r.pool.pgx.QueryRow(ctx, `
		SELECT id, subject_id, purpose, current_version, created_at, updated_at
		FROM consent_records `+where,
		args...).Scan(&record.ID, &record.SubjectID, &purpose,
		&record.CurrentVersion, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("consent record")
		}
		return nil, errors.NewStorageError("get consent record", err)
	}
	record.Purpose = consent.Purpose(purpose)

	if err := r.loadDecisions(ctx, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *ConsentRepository) loadDecisions(ctx context.Context, record *consent.Record) error {
	rows, err := r.pool.pgx.Query(ctx, `
		SELECT id, record_id, version, granted, source, actor, note, recorded_at, expires_at
		FROM consent_decisions
		WHERE record_id = $1
		ORDER BY version ASC
	`, record.ID)
	if err != nil {
		return errors.NewStorageError("load consent decisions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d consent.Decision
		var source string
		if err := rows.Scan(&d.ID, &d.RecordID, &d.Version, &d.Granted, &source,
			&d.Actor, &d.Note, &d.RecordedAt, &d.ExpiresAt); err != nil {
			return errors.NewStorageError("scan consent decision", err)
		}
		d.Source = consent.Source(source)
		record.Decisions = append(record.Decisions, d)
	}
	if err := rows.Err(); err != nil {
		return errors.NewStorageError("iterate consent decisions", err)
	}
	return nil
}

// ListBySubject retrieves all consent records for a subject, ordered by
// purpose for deterministic output.
func (r *ConsentRepository) ListBySubject(ctx context.Context, subjectID string) ([]*consent.Record, error) {
	return r.list(ctx, `
		SELECT id, subject_id, purpose, current_version, created_at, updated_at
		FROM consent_records
		WHERE subject_id = $1
		ORDER BY purpose ASC
	`, subjectID)
}

// Find searches for records based on filter criteria, newest update
// first.
func (r *ConsentRepository) Find(ctx context.Context, filter consent.Filter) ([]*consent.Record, error) {
	query, args := buildConsentFilterQuery(
		`SELECT id, subject_id, purpose, current_version, created_at, updated_at FROM consent_records`,
		filter, true)
	return r.list(ctx, query, args...)
}

// Count returns the number of records matching the filter.
func (r *ConsentRepository) Count(ctx context.Context, filter consent.Filter) (int64, error) {
	query, args := buildConsentFilterQuery(`SELECT COUNT(*) FROM consent_records`, filter, false)

	var count int64
	if err := r.pool.pgx.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.NewStorageError("count consent records", err)
	}
	return count, nil
}

func (r *ConsentRepository) list(ctx context.Context, query string, args ...any) ([]*consent.Record, error) {
	rows, err := r.pool.pgx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorageError("query consent records", err)
	}
	defer rows.Close()

	var records []*consent.Record
	for rows.Next() {
		var record consent.Record
		var purpose string
		if err := rows.Scan(&record.ID, &record.SubjectID, &purpose,
			&record.CurrentVersion, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, errors.NewStorageError("scan consent record", err)
		}
		record.Purpose = consent.Purpose(purpose)
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("iterate consent records", err)
	}

	for _, record := range records {
		if err := r.loadDecisions(ctx, record); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// buildConsentFilterQuery compiles a filter into a WHERE clause. The
// Granted constraint evaluates the latest decision the way checks read
// the record, including grant expiry at query time.
func buildConsentFilterQuery(base string, filter consent.Filter, ordered bool) (string, []any) {
	var conditions []string
	var args []any
	argCounter := 1

	if filter.SubjectID != nil {
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", argCounter))
		args = append(args, *filter.SubjectID)
		argCounter++
	}
	if filter.Purpose != nil {
		conditions = append(conditions, fmt.Sprintf("purpose = $%d", argCounter))
		args = append(args, string(*filter.Purpose))
		argCounter++
	}
	if filter.Granted != nil {
		conditions = append(conditions, fmt.Sprintf(`
			(SELECT d.granted AND (d.expires_at IS NULL OR d.expires_at > NOW())
			 FROM consent_decisions d
			 WHERE d.record_id = consent_records.id
			 ORDER BY d.version DESC LIMIT 1) = $%d`, argCounter))
		args = append(args, *filter.Granted)
		argCounter++
	}
	if filter.UpdatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("updated_at >= $%d", argCounter))
		args = append(args, *filter.UpdatedAfter)
		argCounter++
	}
	if filter.UpdatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("updated_at <= $%d", argCounter))
		args = append(args, *filter.UpdatedBefore)
		argCounter++
	}

	query := base
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if ordered {
		query += " ORDER BY updated_at DESC, id ASC"
		if filter.Limit > 0 {
			query += fmt.Sprintf(" LIMIT $%d", argCounter)
			args = append(args, filter.Limit)
			argCounter++
		}
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET $%d", argCounter)
			args = append(args, filter.Offset)
		}
	}
	return query, args
}

var _ consent.Repository = (*ConsentRepository)(nil)
