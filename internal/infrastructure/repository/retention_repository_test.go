package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adminsuite/governance-backend/internal/domain/retention"
)

func TestRetentionPolicyRepositoryUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewRetentionPolicyRepository()

	policy, err := retention.NewPolicy(retention.CategoryContact, 365, retention.ActionPurge, "contract")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, policy))

	got, err := repo.GetByCategory(ctx, retention.CategoryContact)
	require.NoError(t, err)
	assert.Equal(t, policy.ID, got.ID)
	assert.Equal(t, 365, got.Retention.Days())

	// Saving a new policy for the same category replaces the old one.
	replacement, err := retention.NewPolicy(retention.CategoryContact, 90, retention.ActionAnonymize, "consent withdrawn")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, replacement))

	got, err = repo.GetByCategory(ctx, retention.CategoryContact)
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, got.ID)
	assert.Equal(t, 90, got.Retention.Days())

	_, err = repo.GetByCategory(ctx, retention.CategoryHealth)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE_NOT_FOUND")
}

func TestRetentionPolicyRepositoryList(t *testing.T) {
	ctx := context.Background()
	repo := NewRetentionPolicyRepository()

	for _, category := range []retention.DataCategory{
		retention.CategoryHealth, retention.CategoryContact, retention.CategoryBehavioral,
	} {
		policy, err := retention.NewPolicy(category, 180, retention.ActionPurge, "statute")
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, policy))
	}

	policies, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 3)
	assert.Equal(t, retention.CategoryBehavioral, policies[0].Category)
	assert.Equal(t, retention.CategoryContact, policies[1].Category)
	assert.Equal(t, retention.CategoryHealth, policies[2].Category)
}

func TestRetentionPolicyRepositoryDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewRetentionPolicyRepository()

	policy, err := retention.NewPolicy(retention.CategoryBehavioral, 30, retention.ActionPurge, "short lived")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, policy))

	require.NoError(t, repo.Delete(ctx, retention.CategoryBehavioral))

	err = repo.Delete(ctx, retention.CategoryBehavioral)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE_NOT_FOUND")
}
