package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/retention"
)

// RetentionPolicyRepository is an in-memory retention.PolicyRepository.
// Policies are keyed by category, so Save replaces any prior policy for
// the same category regardless of policy ID.
type RetentionPolicyRepository struct {
	mu       sync.RWMutex
	policies map[retention.DataCategory]*retention.Policy
}

// NewRetentionPolicyRepository creates an empty in-memory policy
// repository.
func NewRetentionPolicyRepository() *RetentionPolicyRepository {
	return &RetentionPolicyRepository{
		policies: make(map[retention.DataCategory]*retention.Policy),
	}
}

var _ retention.PolicyRepository = (*RetentionPolicyRepository)(nil)

// Save creates or replaces the policy for its category.
func (r *RetentionPolicyRepository) Save(ctx context.Context, policy *retention.Policy) error {
	if policy == nil {
		return errors.NewValidationError("NIL_POLICY", "retention policy is required")
	}
	if err := retention.ValidateCategory(policy.Category); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *policy
	r.policies[policy.Category] = &clone
	return nil
}

// GetByCategory retrieves the policy configured for a category.
func (r *RetentionPolicyRepository) GetByCategory(ctx context.Context, category retention.DataCategory) (*retention.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policy, ok := r.policies[category]
	if !ok {
		return nil, errors.NewNotFoundError("retention policy")
	}
	clone := *policy
	return &clone, nil
}

// List retrieves all configured policies ordered by category.
func (r *RetentionPolicyRepository) List(ctx context.Context) ([]*retention.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policies := make([]*retention.Policy, 0, len(r.policies))
	for _, policy := range r.policies {
		clone := *policy
		policies = append(policies, &clone)
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Category < policies[j].Category
	})
	return policies, nil
}

// Delete removes the policy for a category.
func (r *RetentionPolicyRepository) Delete(ctx context.Context, category retention.DataCategory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.policies[category]; !ok {
		return errors.NewNotFoundError("retention policy")
	}
	delete(r.policies, category)
	return nil
}
