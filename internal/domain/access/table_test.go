package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{name: "exact", pattern: "consent/records"},
		{name: "trailing wildcard", pattern: "privacy/records/*"},
		{name: "bare wildcard", pattern: "*"},
		{name: "single segment", pattern: "audit"},
		{name: "empty", pattern: "", wantErr: true},
		{name: "empty segment", pattern: "privacy//records", wantErr: true},
		{name: "mid wildcard", pattern: "privacy/*/records", wantErr: true},
		{name: "embedded star", pattern: "privacy/rec*", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePattern(tt.pattern)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "INVALID_PATTERN")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMatchResource(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		resource string
		want     bool
	}{
		{name: "exact match", pattern: "consent/records", resource: "consent/records", want: true},
		{name: "exact mismatch", pattern: "consent/records", resource: "consent/decisions", want: false},
		{name: "bare wildcard matches anything", pattern: "*", resource: "payment/charges", want: true},
		{name: "trailing wildcard one segment", pattern: "privacy/records/*", resource: "privacy/records/health", want: true},
		{name: "trailing wildcard deeper", pattern: "privacy/records/*", resource: "privacy/records/health/fields", want: true},
		{name: "trailing wildcard needs a remainder", pattern: "privacy/records/*", resource: "privacy/records", want: false},
		{name: "wildcard respects segment boundary", pattern: "privacy/records/*", resource: "privacy/recordsx", want: false},
		{name: "prefix alone is not a match", pattern: "consent", resource: "consent/records", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchResource(tt.pattern, tt.resource))
		})
	}
}

func TestNewRule(t *testing.T) {
	_, err := NewRule(RoleSupport, ActionRead, "consent/records", EffectAllow)
	require.NoError(t, err)

	_, err = NewRule(Role("root"), ActionRead, "consent/records", EffectAllow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_ROLE")

	_, err = NewRule(RoleSupport, Action("destroy"), "consent/records", EffectAllow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_ACTION")

	_, err = NewRule(RoleSupport, ActionRead, "a/*/b", EffectAllow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_PATTERN")

	_, err = NewRule(RoleSupport, ActionRead, "consent/records", Effect("maybe"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_EFFECT")
}

func TestTableAuthorize(t *testing.T) {
	table, err := NewTable([]Rule{
		{Role: RoleSupport, Action: ActionRead, Resource: "consent/records", Effect: EffectAllow},
		{Role: RoleSupport, Action: ActionAny, Resource: "privacy/exports", Effect: EffectAllow},
		{Role: RoleAnalyst, Action: ActionRead, Resource: "privacy/records/*", Effect: EffectAllow},
		{Role: RoleAnalyst, Action: ActionRead, Resource: "privacy/records/health", Effect: EffectDeny},
	})
	require.NoError(t, err)

	support := Principal{ID: "agent-1", Role: RoleSupport}
	analyst := Principal{ID: "analyst-1", Role: RoleAnalyst}

	t.Run("matching allow", func(t *testing.T) {
		d := table.Authorize(support, ActionRead, "consent/records")
		assert.True(t, d.Allowed)
		assert.Equal(t, EffectAllow, d.Effect)
		assert.Equal(t, ReasonAllowed, d.Reason)
		require.NotNil(t, d.Rule)
	})

	t.Run("wildcard action rule", func(t *testing.T) {
		d := table.Authorize(support, ActionWrite, "privacy/exports")
		assert.True(t, d.Allowed)
	})

	t.Run("default deny on unmatched resource", func(t *testing.T) {
		d := table.Authorize(support, ActionRead, "payment/charges")
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonDefaultDeny, d.Reason)
		assert.Nil(t, d.Rule)
	})

	t.Run("default deny on unmatched role", func(t *testing.T) {
		d := table.Authorize(Principal{ID: "svc", Role: RoleService}, ActionRead, "consent/records")
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonDefaultDeny, d.Reason)
	})

	t.Run("explicit deny beats allow", func(t *testing.T) {
		// The wildcard allow covers health, the explicit deny wins anyway.
		d := table.Authorize(analyst, ActionRead, "privacy/records/health")
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonExplicitDeny, d.Reason)
		require.NotNil(t, d.Rule)
		assert.Equal(t, EffectDeny, d.Rule.Effect)

		d = table.Authorize(analyst, ActionRead, "privacy/records/contact")
		assert.True(t, d.Allowed)
	})

	t.Run("invalid request denied", func(t *testing.T) {
		d := table.Authorize(Principal{ID: "x", Role: Role("ghost")}, ActionRead, "consent/records")
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonBadRequest, d.Reason)

		d = table.Authorize(support, ActionAny, "consent/records")
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonBadRequest, d.Reason)

		d = table.Authorize(support, ActionRead, "")
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonBadRequest, d.Reason)
	})
}

func TestNewTableRejectsBadRules(t *testing.T) {
	_, err := NewTable([]Rule{
		{Role: RoleSupport, Action: ActionRead, Resource: "a/*/b", Effect: EffectAllow},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_RULE")
}

func TestDefaultRules(t *testing.T) {
	table, err := NewTable(DefaultRules())
	require.NoError(t, err)

	admin := Principal{ID: "root-1", Role: RoleAdmin}
	officer := Principal{ID: "dpo-1", Role: RoleComplianceOfficer}
	support := Principal{ID: "agent-1", Role: RoleSupport}
	analyst := Principal{ID: "analyst-1", Role: RoleAnalyst}
	service := Principal{ID: "worker-1", Role: RoleService}
	subject := Principal{ID: "subj-1", Role: RoleSubject, SubjectID: "subj-1"}

	tests := []struct {
		name      string
		principal Principal
		action    Action
		resource  string
		want      bool
	}{
		{name: "admin reads audit", principal: admin, action: ActionRead, resource: "audit/entries", want: true},
		{name: "admin reveals health fields", principal: admin, action: ActionReveal, resource: "privacy/records/health", want: true},
		{name: "officer verifies obligations", principal: officer, action: ActionWrite, resource: "privacy/obligations", want: true},
		{name: "officer triggers sweep", principal: officer, action: ActionSweep, resource: "retention/sweep", want: true},
		{name: "officer cannot charge", principal: officer, action: ActionCharge, resource: "payment/charges", want: false},
		{name: "support records consent", principal: support, action: ActionWrite, resource: "consent/records", want: true},
		{name: "support revokes instrument", principal: support, action: ActionWrite, resource: "payment/instruments", want: true},
		{name: "support cannot reveal", principal: support, action: ActionReveal, resource: "privacy/records/health", want: false},
		{name: "support cannot configure retention", principal: support, action: ActionConfigure, resource: "retention/policies", want: false},
		{name: "analyst reads policies", principal: analyst, action: ActionRead, resource: "retention/policies", want: true},
		{name: "analyst cannot reveal", principal: analyst, action: ActionReveal, resource: "privacy/records/contact", want: false},
		{name: "service charges", principal: service, action: ActionCharge, resource: "payment/charges", want: true},
		{name: "service checks consent", principal: service, action: ActionRead, resource: "consent/records", want: true},
		{name: "service cannot read audit", principal: service, action: ActionRead, resource: "audit/entries", want: false},
		{name: "subject requests own deletion", principal: subject, action: ActionWrite, resource: "privacy/deletions", want: true},
		{name: "subject cannot sweep", principal: subject, action: ActionSweep, resource: "retention/sweep", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := table.Authorize(tt.principal, tt.action, tt.resource)
			assert.Equal(t, tt.want, d.Allowed)
		})
	}
}
