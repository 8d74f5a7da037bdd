package retention

import (
	"fmt"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// PolicySet is the full retention configuration: at most one policy
// per category. Evaluation is pure; the set never consults a clock or
// a store, callers pass ages in.
type PolicySet struct {
	policies map[DataCategory]*Policy
}

// NewPolicySet builds a set from individual policies. Two policies for
// the same category are rejected: every category must resolve to
// exactly one policy.
func NewPolicySet(policies []*Policy) (*PolicySet, error) {
	if len(policies) == 0 {
		return nil, errors.NewValidationError("EMPTY_POLICY_SET", "at least one retention policy is required")
	}

	byCategory := make(map[DataCategory]*Policy, len(policies))
	for _, p := range policies {
		if p == nil {
			return nil, errors.NewValidationError("NIL_POLICY", "policy set may not contain nil policies")
		}
		if _, dup := byCategory[p.Category]; dup {
			return nil, errors.NewConflictError(fmt.Sprintf("duplicate retention policy for category %s", p.Category))
		}
		byCategory[p.Category] = p
	}

	return &PolicySet{policies: byCategory}, nil
}

// Resolve returns the policy governing a category. Unknown categories
// fall back to the most conservative configured policy, so untagged or
// legacy data is never kept longer than the strictest rule allows.
// The second return reports whether the fallback was used.
func (s *PolicySet) Resolve(category DataCategory) (*Policy, bool) {
	if p, ok := s.policies[category]; ok {
		return p, false
	}
	return s.MostConservative(), true
}

// MostConservative returns the configured policy with the shortest
// retention window.
func (s *PolicySet) MostConservative() *Policy {
	var shortest *Policy
	for _, p := range s.policies {
		if shortest == nil || p.Retention.LessThan(shortest.Retention) {
			shortest = p
		}
	}
	return shortest
}

// ShouldPurge reports whether a record of the given category and age
// has outlived its retention. Deterministic for a fixed set: same
// inputs, same answer.
func (s *PolicySet) ShouldPurge(category DataCategory, ageDays int) bool {
	if ageDays < 0 {
		return false
	}
	policy, _ := s.Resolve(category)
	return policy.Lapsed(ageDays)
}

// ActionFor returns the purge action for a category.
func (s *PolicySet) ActionFor(category DataCategory) PurgeAction {
	policy, _ := s.Resolve(category)
	return policy.Action
}

// Policies returns the configured policies in no particular order.
func (s *PolicySet) Policies() []*Policy {
	out := make([]*Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	return out
}

// Get returns the policy explicitly configured for a category, without
// the conservative fallback.
func (s *PolicySet) Get(category DataCategory) (*Policy, error) {
	p, ok := s.policies[category]
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("retention policy for category %s", category))
	}
	return p, nil
}
