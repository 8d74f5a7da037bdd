package database

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/retention"
	"github.com/adminsuite/governance-backend/internal/domain/values"
)

// RetentionPolicyRepository is the PostgreSQL policy store. The unique
// constraint on category enforces at most one policy per category; Save
// replaces on category match.
type RetentionPolicyRepository struct {
	pool *Pool
}

// NewRetentionPolicyRepository creates a PostgreSQL policy repository.
func NewRetentionPolicyRepository(pool *Pool) *RetentionPolicyRepository {
	return &RetentionPolicyRepository{pool: pool}
}

// Save creates or updates the policy for its category.
func (r *RetentionPolicyRepository) Save(ctx context.Context, policy *retention.Policy) error {
	if policy == nil {
		return errors.NewValidationError("NIL_POLICY", "retention policy is required")
	}
	if err := retention.ValidateCategory(policy.Category); err != nil {
		return err
	}

	_, err := r.pool.pgx.Exec(ctx, `
		INSERT INTO retention_policies (id, category, retention_days, purge_action,
		                                legal_basis, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (category) DO UPDATE
		SET id = EXCLUDED.id,
		    retention_days = EXCLUDED.retention_days,
		    purge_action = EXCLUDED.purge_action,
		    legal_basis = EXCLUDED.legal_basis,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
	`, policy.ID, string(policy.Category), policy.Retention.Days(),
		string(policy.Action), policy.LegalBasis, policy.CreatedAt, policy.UpdatedAt)
	if err != nil {
		return errors.NewStorageError("save retention policy", err)
	}
	return nil
}

// GetByCategory retrieves the policy configured for a category.
func (r *RetentionPolicyRepository) GetByCategory(ctx context.Context, category retention.DataCategory) (*retention.Policy, error) {
	row := r.pool.pgx.QueryRow(ctx, `
		SELECT id, category, retention_days, purge_action, legal_basis, created_at, updated_at
		FROM retention_policies
		WHERE category = $1
	`, string(category))
	policy, err := scanRetentionPolicy(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("retention policy")
		}
		return nil, errors.NewStorageError("get retention policy", err)
	}
	return policy, nil
}

// List retrieves all configured policies ordered by category.
func (r *RetentionPolicyRepository) List(ctx context.Context) ([]*retention.Policy, error) {
	rows, err := r.pool.pgx.Query(ctx, `
		SELECT id, category, retention_days, purge_action, legal_basis, created_at, updated_at
		FROM retention_policies
		ORDER BY category ASC
	`)
	if err != nil {
		return nil, errors.NewStorageError("list retention policies", err)
	}
	defer rows.Close()

	var policies []*retention.Policy
	for rows.Next() {
		policy, err := scanRetentionPolicy(rows)
		if err != nil {
			return nil, errors.NewStorageError("scan retention policy", err)
		}
		policies = append(policies, policy)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("iterate retention policies", err)
	}
	return policies, nil
}

// Delete removes the policy for a category.
func (r *RetentionPolicyRepository) Delete(ctx context.Context, category retention.DataCategory) error {
	tag, err := r.pool.pgx.Exec(ctx,
		`DELETE FROM retention_policies WHERE category = $1`, string(category))
	if err != nil {
		return errors.NewStorageError("delete retention policy", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("retention policy")
	}
	return nil
}

func scanRetentionPolicy(row pgx.Row) (*retention.Policy, error) {
	var policy retention.Policy
	var category, action string
	var days int
	err := row.Scan(&policy.ID, &category, &days, &action,
		&policy.LegalBasis, &policy.CreatedAt, &policy.UpdatedAt)
	if err != nil {
		return nil, err
	}

	retentionDays, err := values.NewRetentionDays(days)
	if err != nil {
		return nil, err
	}
	policy.Category = retention.DataCategory(category)
	policy.Retention = retentionDays
	policy.Action = retention.PurgeAction(action)
	return &policy, nil
}

var _ retention.PolicyRepository = (*RetentionPolicyRepository)(nil)
