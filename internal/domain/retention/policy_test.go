package retention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		name       string
		category   DataCategory
		days       int
		action     PurgeAction
		legalBasis string
		wantErr    bool
		errCode    string
	}{
		{
			name:       "valid purge policy",
			category:   CategoryBehavioral,
			days:       90,
			action:     ActionPurge,
			legalBasis: "no legal hold on behavioral data",
			wantErr:    false,
		},
		{
			name:     "valid anonymize policy",
			category: CategoryFinancial,
			days:     2555,
			action:   ActionAnonymize,
			wantErr:  false,
		},
		{
			name:     "unknown category",
			category: DataCategory("gossip"),
			days:     30,
			action:   ActionPurge,
			wantErr:  true,
			errCode:  "INVALID_CATEGORY",
		},
		{
			name:     "zero retention",
			category: CategoryContact,
			days:     0,
			action:   ActionPurge,
			wantErr:  true,
			errCode:  "RETENTION_TOO_SHORT",
		},
		{
			name:     "negative retention",
			category: CategoryContact,
			days:     -7,
			action:   ActionPurge,
			wantErr:  true,
			errCode:  "RETENTION_TOO_SHORT",
		},
		{
			name:     "retention beyond maximum",
			category: CategoryContact,
			days:     40000,
			action:   ActionPurge,
			wantErr:  true,
			errCode:  "RETENTION_TOO_LONG",
		},
		{
			name:     "unknown action",
			category: CategoryContact,
			days:     30,
			action:   PurgeAction("shred"),
			wantErr:  true,
			errCode:  "INVALID_ACTION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := NewPolicy(tt.category, tt.days, tt.action, tt.legalBasis)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errCode)
				assert.Nil(t, policy)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, policy)
			assert.Equal(t, tt.category, policy.Category)
			assert.Equal(t, tt.days, policy.Retention.Days())
			assert.Equal(t, tt.action, policy.Action)
		})
	}
}

func TestPolicyLapsedBoundary(t *testing.T) {
	policy, err := NewPolicy(CategoryBehavioral, 90, ActionPurge, "")
	require.NoError(t, err)

	assert.False(t, policy.Lapsed(0))
	assert.False(t, policy.Lapsed(89))
	assert.True(t, policy.Lapsed(90), "age equal to the window is lapsed")
	assert.True(t, policy.Lapsed(91))
}

func TestPolicySetRetention(t *testing.T) {
	policy, err := NewPolicy(CategoryContact, 365, ActionPurge, "")
	require.NoError(t, err)
	before := policy.UpdatedAt

	require.NoError(t, policy.SetRetention(30))
	assert.Equal(t, 30, policy.Retention.Days())
	assert.False(t, policy.UpdatedAt.Before(before))

	err = policy.SetRetention(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RETENTION_TOO_SHORT")
	assert.Equal(t, 30, policy.Retention.Days())
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input   string
		want    DataCategory
		wantErr bool
	}{
		{input: "contact", want: CategoryContact},
		{input: "  Behavioral ", want: CategoryBehavioral},
		{input: "AUDIT_LOG", want: CategoryAuditLog},
		{input: "unknown", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCategory(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "INVALID_CATEGORY")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
