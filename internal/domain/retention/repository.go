package retention

import (
	"context"
)

// PolicyRepository defines the interface for retention policy
// persistence.
type PolicyRepository interface {
	// Save creates or updates the policy for its category. At most one
	// policy may exist per category; implementations replace on
	// category match.
	Save(ctx context.Context, policy *Policy) error

	// GetByCategory retrieves the policy configured for a category.
	GetByCategory(ctx context.Context, category DataCategory) (*Policy, error)

	// List retrieves all configured policies.
	List(ctx context.Context) ([]*Policy, error)

	// Delete removes the policy for a category. Records in that
	// category fall back to the most conservative remaining policy.
	Delete(ctx context.Context, category DataCategory) error
}
