package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// AuditRepository is the PostgreSQL audit log store. Entries land in an
// append-only table keyed by a database sequence; the unique constraint
// on sequence_num turns writer races into conflicts the append path can
// retry on.
type AuditRepository struct {
	q querier
}

// NewAuditRepository creates a PostgreSQL audit repository.
func NewAuditRepository(pool *Pool) *AuditRepository {
	return &AuditRepository{q: pool.pgx}
}

const auditColumns = `id, sequence_num, timestamp, timestamp_nano, entry_type, severity,
		category, actor_id, actor_role, actor_type, subject_id, resource, action,
		outcome, error_code, request_id, correlation_id, service, environment,
		metadata, previous_hash, entry_hash`

// Store persists a frozen entry. Duplicate sequence numbers or IDs are
// rejected with a conflict so the append path can detect writer races.
func (r *AuditRepository) Store(ctx context.Context, entry *audit.Entry) error {
	if entry == nil {
		return errors.NewValidationError("NIL_ENTRY", "audit entry is required")
	}
	if !entry.IsImmutable() {
		return errors.NewValidationError("MUTABLE_ENTRY",
			"only frozen entries can be stored")
	}

	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return errors.NewInternalError("failed to marshal audit metadata").WithCause(err)
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO audit_entries (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22)
	`, entry.ID, entry.SequenceNum, entry.Timestamp, entry.TimestampNano,
		string(entry.Type), string(entry.Severity), entry.Category,
		entry.ActorID, entry.ActorRole, entry.ActorType,
		entry.SubjectID, entry.Resource, entry.Action,
		string(entry.Outcome), entry.ErrorCode,
		entry.RequestID, entry.CorrelationID,
		entry.Service, entry.Environment,
		metadataJSON, entry.PreviousHash, entry.EntryHash)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewConflictError(
				fmt.Sprintf("audit sequence %d already stored", entry.SequenceNum))
		}
		return errors.NewStorageError("store audit entry", err)
	}
	return nil
}

// GetByID retrieves an entry by identifier.
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*audit.Entry, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries
		WHERE id = $1
	`, id)
	entry, err := scanAuditEntry(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("audit entry")
		}
		return nil, errors.NewStorageError("get audit entry", err)
	}
	return entry, nil
}

// GetBySequence retrieves an entry by its sequence number.
func (r *AuditRepository) GetBySequence(ctx context.Context, seq int64) (*audit.Entry, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries
		WHERE sequence_num = $1
	`, seq)
	entry, err := scanAuditEntry(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("audit entry")
		}
		return nil, errors.NewStorageError("get audit entry", err)
	}
	return entry, nil
}

// LatestSequence returns the highest stored sequence number, or zero for
// an empty log.
func (r *AuditRepository) LatestSequence(ctx context.Context) (int64, error) {
	var latest int64
	err := r.q.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_num), 0) FROM audit_entries`).Scan(&latest)
	if err != nil {
		return 0, errors.NewStorageError("read latest audit sequence", err)
	}
	return latest, nil
}

// NextSequence reserves and returns the next sequence number. The
// database sequence keeps concurrent appenders from colliding without a
// table lock; gaps from failed appends are acceptable, duplicates are
// not.
func (r *AuditRepository) NextSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := r.q.QueryRow(ctx, `SELECT nextval('audit_entries_seq')`).Scan(&seq)
	if err != nil {
		return 0, errors.NewStorageError("reserve audit sequence", err)
	}
	return seq, nil
}

// QueryPage returns one ascending page of entries matching the filter.
func (r *AuditRepository) QueryPage(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	query, args := buildAuditFilterQuery(
		`SELECT `+auditColumns+` FROM audit_entries`, filter, true)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorageError("query audit entries", err)
	}
	defer rows.Close()

	return collectAuditEntries(rows)
}

// Count returns the number of entries matching the filter.
func (r *AuditRepository) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	query, args := buildAuditFilterQuery(
		`SELECT COUNT(*) FROM audit_entries`, filter, false)

	var count int64
	if err := r.q.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.NewStorageError("count audit entries", err)
	}
	return count, nil
}

// GetSequenceRange returns entries with from <= sequence <= to in
// ascending order.
func (r *AuditRepository) GetSequenceRange(ctx context.Context, from, to int64) ([]*audit.Entry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries
		WHERE sequence_num >= $1 AND sequence_num <= $2
		ORDER BY sequence_num ASC
	`, from, to)
	if err != nil {
		return nil, errors.NewStorageError("query audit sequence range", err)
	}
	defer rows.Close()

	return collectAuditEntries(rows)
}

// GetExpired returns unarchived entries older than the cutoff, oldest
// first, capped at limit.
func (r *AuditRepository) GetExpired(ctx context.Context, before time.Time, limit int) ([]*audit.Entry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries
		WHERE archived_at IS NULL AND timestamp < $1
		ORDER BY sequence_num ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, errors.NewStorageError("query expired audit entries", err)
	}
	defer rows.Close()

	return collectAuditEntries(rows)
}

// MarkArchived flags entries as shipped to cold storage and records
// where the batch went. Returns the number of entries updated; already
// archived or unknown IDs are skipped, not errors.
func (r *AuditRepository) MarkArchived(ctx context.Context, ids []uuid.UUID, location string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = id.String()
	}

	tag, err := r.q.Exec(ctx, `
		UPDATE audit_entries
		SET archived_at = NOW(), archive_location = $2
		WHERE id = ANY($1::uuid[]) AND archived_at IS NULL
	`, pq.Array(idStrings), location)
	if err != nil {
		return 0, errors.NewStorageError("mark audit entries archived", err)
	}
	return tag.RowsAffected(), nil
}

// buildAuditFilterQuery compiles a filter into a WHERE clause with
// positional arguments, the same semantics Filter.Matches applies in
// memory.
func buildAuditFilterQuery(base string, filter audit.Filter, ordered bool) (string, []any) {
	var conditions []string
	var args []any
	argCounter := 1

	if filter.AfterSequence > 0 {
		conditions = append(conditions, fmt.Sprintf("sequence_num > $%d", argCounter))
		args = append(args, filter.AfterSequence)
		argCounter++
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		conditions = append(conditions, fmt.Sprintf("entry_type = ANY($%d)", argCounter))
		args = append(args, pq.Array(types))
		argCounter++
	}
	if len(filter.Categories) > 0 {
		conditions = append(conditions, fmt.Sprintf("category = ANY($%d)", argCounter))
		args = append(args, pq.Array(filter.Categories))
		argCounter++
	}
	if len(filter.Outcomes) > 0 {
		outcomes := make([]string, len(filter.Outcomes))
		for i, o := range filter.Outcomes {
			outcomes[i] = string(o)
		}
		conditions = append(conditions, fmt.Sprintf("outcome = ANY($%d)", argCounter))
		args = append(args, pq.Array(outcomes))
		argCounter++
	}
	if filter.ActorID != "" {
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", argCounter))
		args = append(args, filter.ActorID)
		argCounter++
	}
	if filter.SubjectID != "" {
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", argCounter))
		args = append(args, filter.SubjectID)
		argCounter++
	}
	if filter.Resource != "" {
		conditions = append(conditions, fmt.Sprintf("resource = $%d", argCounter))
		args = append(args, filter.Resource)
		argCounter++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", argCounter))
		args = append(args, filter.Since)
		argCounter++
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", argCounter))
		args = append(args, filter.Until)
		argCounter++
	}

	query := base
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if ordered {
		query += " ORDER BY sequence_num ASC"
		if filter.Limit > 0 {
			query += fmt.Sprintf(" LIMIT $%d", argCounter)
			args = append(args, filter.Limit)
		}
	}
	return query, args
}

// scanAuditEntry reads one entry from a row. Scanned entries are value
// copies; the append path never hands them back to Store.
func scanAuditEntry(row pgx.Row) (*audit.Entry, error) {
	var entry audit.Entry
	var metadataJSON []byte

	err := row.Scan(&entry.ID, &entry.SequenceNum, &entry.Timestamp, &entry.TimestampNano,
		&entry.Type, &entry.Severity, &entry.Category,
		&entry.ActorID, &entry.ActorRole, &entry.ActorType,
		&entry.SubjectID, &entry.Resource, &entry.Action,
		&entry.Outcome, &entry.ErrorCode,
		&entry.RequestID, &entry.CorrelationID,
		&entry.Service, &entry.Environment,
		&metadataJSON, &entry.PreviousHash, &entry.EntryHash)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
	}
	return &entry, nil
}

func collectAuditEntries(rows pgx.Rows) ([]*audit.Entry, error) {
	var entries []*audit.Entry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, errors.NewStorageError("scan audit entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("iterate audit entries", err)
	}
	return entries, nil
}

var _ audit.EntryRepository = (*AuditRepository)(nil)
