package access

import (
	"fmt"
	"strings"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// Effect is a rule's outcome.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Rule grants or withholds one action class on a resource pattern for
// one role. Patterns are slash-separated; only the final segment may
// be a "*", which matches any remainder. A bare "*" matches every
// resource.
type Rule struct {
	Role     Role   `json:"role"`
	Action   Action `json:"action"`
	Resource string `json:"resource"`
	Effect   Effect `json:"effect"`
}

// NewRule creates a validated rule.
func NewRule(role Role, action Action, resource string, effect Effect) (Rule, error) {
	if err := ValidateRole(role); err != nil {
		return Rule{}, err
	}
	if err := ValidateAction(action, true); err != nil {
		return Rule{}, err
	}
	if err := ValidatePattern(resource); err != nil {
		return Rule{}, err
	}
	if effect != EffectAllow && effect != EffectDeny {
		return Rule{}, errors.NewValidationError("INVALID_EFFECT", fmt.Sprintf("invalid effect: %s", effect))
	}
	return Rule{Role: role, Action: action, Resource: resource, Effect: effect}, nil
}

// ValidatePattern checks a resource pattern: non-empty slash-separated
// segments, with a "*" allowed only as the final segment.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return errors.NewValidationError("INVALID_PATTERN", "resource pattern is required")
	}
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if seg == "" {
			return errors.NewValidationError("INVALID_PATTERN",
				fmt.Sprintf("resource pattern %q has an empty segment", pattern))
		}
		if strings.Contains(seg, "*") && (seg != "*" || i != len(segments)-1) {
			return errors.NewValidationError("INVALID_PATTERN",
				fmt.Sprintf("resource pattern %q may only end in a wildcard segment", pattern))
		}
	}
	return nil
}

// MatchResource reports whether a pattern covers a concrete resource.
// A trailing wildcard matches one or more further segments; it does
// not match the bare prefix itself.
func MatchResource(pattern, resource string) bool {
	if pattern == resource {
		return true
	}
	if pattern == "*" {
		return resource != ""
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := pattern[:len(pattern)-1]
		return strings.HasPrefix(resource, prefix) && len(resource) > len(prefix)
	}
	return false
}

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Effect   Effect `json:"effect"`
	Rule     *Rule  `json:"rule,omitempty"`
	Reason   string `json:"reason"`
	Resource string `json:"resource"`
	Action   Action `json:"action"`
}

const (
	ReasonAllowed      = "rule_allowed"
	ReasonExplicitDeny = "rule_denied"
	ReasonDefaultDeny  = "default_deny"
	ReasonBadRequest   = "invalid_request"

	// ReasonNotOwner marks a denial issued on top of a table allow: the
	// rule granted the action, but the subject principal was acting on
	// another subject's data.
	ReasonNotOwner = "not_owner"
)

// Table is the access policy: an ordered rule list evaluated on every
// sensitive operation. An explicit deny beats any allow; no match at
// all is a deny. There is no way to configure a default allow.
type Table struct {
	rules []Rule
}

// NewTable builds a table from validated rules.
func NewTable(rules []Rule) (*Table, error) {
	for i, r := range rules {
		if _, err := NewRule(r.Role, r.Action, r.Resource, r.Effect); err != nil {
			return nil, errors.WrapWithCode(err, "INVALID_RULE",
				fmt.Sprintf("rule %d is invalid", i))
		}
	}
	table := &Table{rules: make([]Rule, len(rules))}
	copy(table.rules, rules)
	return table, nil
}

// Rules returns a copy of the table's rules.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Authorize evaluates a request against the table. The evaluation is
// pure; recording denied decisions in the audit log is the caller's
// job.
func (t *Table) Authorize(principal Principal, action Action, resource string) Decision {
	decision := Decision{
		Effect:   EffectDeny,
		Action:   action,
		Resource: resource,
	}

	if err := ValidateRole(principal.Role); err != nil {
		decision.Reason = ReasonBadRequest
		return decision
	}
	if err := ValidateAction(action, false); err != nil {
		decision.Reason = ReasonBadRequest
		return decision
	}
	if resource == "" {
		decision.Reason = ReasonBadRequest
		return decision
	}

	var allowed *Rule
	for i := range t.rules {
		rule := &t.rules[i]
		if rule.Role != principal.Role {
			continue
		}
		if rule.Action != ActionAny && rule.Action != action {
			continue
		}
		if !MatchResource(rule.Resource, resource) {
			continue
		}
		if rule.Effect == EffectDeny {
			decision.Rule = rule
			decision.Reason = ReasonExplicitDeny
			return decision
		}
		if allowed == nil {
			allowed = rule
		}
	}

	if allowed != nil {
		decision.Allowed = true
		decision.Effect = EffectAllow
		decision.Rule = allowed
		decision.Reason = ReasonAllowed
		return decision
	}

	decision.Reason = ReasonDefaultDeny
	return decision
}

// DefaultRules is the shipped policy table. Deployments override it
// through configuration; the engine refuses to run with an empty
// table, so there is always an explicit policy in force.
func DefaultRules() []Rule {
	return []Rule{
		// Admins hold every right. Still a table entry, not a bypass.
		{Role: RoleAdmin, Action: ActionAny, Resource: "*", Effect: EffectAllow},

		// Compliance officers run the governance workflows.
		{Role: RoleComplianceOfficer, Action: ActionRead, Resource: "audit/entries", Effect: EffectAllow},
		{Role: RoleComplianceOfficer, Action: ActionRead, Resource: "consent/records", Effect: EffectAllow},
		{Role: RoleComplianceOfficer, Action: ActionConfigure, Resource: "retention/policies", Effect: EffectAllow},
		{Role: RoleComplianceOfficer, Action: ActionRead, Resource: "retention/policies", Effect: EffectAllow},
		{Role: RoleComplianceOfficer, Action: ActionSweep, Resource: "retention/sweep", Effect: EffectAllow},
		{Role: RoleComplianceOfficer, Action: ActionWrite, Resource: "privacy/deletions", Effect: EffectAllow},
		{Role: RoleComplianceOfficer, Action: ActionRead, Resource: "privacy/deletions", Effect: EffectAllow},
		{Role: RoleComplianceOfficer, Action: ActionWrite, Resource: "privacy/exports", Effect: EffectAllow},
		{Role: RoleComplianceOfficer, Action: ActionRead, Resource: "privacy/exports", Effect: EffectAllow},
		{Role: RoleComplianceOfficer, Action: ActionWrite, Resource: "privacy/obligations", Effect: EffectAllow},
		{Role: RoleComplianceOfficer, Action: ActionRead, Resource: "privacy/obligations", Effect: EffectAllow},
		{Role: RoleComplianceOfficer, Action: ActionReveal, Resource: "privacy/records/*", Effect: EffectAllow},
		{Role: RoleComplianceOfficer, Action: ActionRead, Resource: "privacy/records/*", Effect: EffectAllow},

		// Support records consent and opens subject requests, but never
		// sees protected values.
		{Role: RoleSupport, Action: ActionRead, Resource: "consent/records", Effect: EffectAllow},
		{Role: RoleSupport, Action: ActionWrite, Resource: "consent/records", Effect: EffectAllow},
		{Role: RoleSupport, Action: ActionWrite, Resource: "privacy/deletions", Effect: EffectAllow},
		{Role: RoleSupport, Action: ActionWrite, Resource: "privacy/exports", Effect: EffectAllow},
		{Role: RoleSupport, Action: ActionRead, Resource: "payment/instruments", Effect: EffectAllow},
		{Role: RoleSupport, Action: ActionWrite, Resource: "payment/instruments", Effect: EffectAllow},
		{Role: RoleSupport, Action: ActionRead, Resource: "payment/charges", Effect: EffectAllow},
		{Role: RoleSupport, Action: ActionReveal, Resource: "privacy/records/*", Effect: EffectDeny},

		// Analysts read configuration and aggregates, never subject
		// payloads.
		{Role: RoleAnalyst, Action: ActionRead, Resource: "retention/policies", Effect: EffectAllow},
		{Role: RoleAnalyst, Action: ActionRead, Resource: "consent/records", Effect: EffectAllow},
		{Role: RoleAnalyst, Action: ActionReveal, Resource: "privacy/records/*", Effect: EffectDeny},

		// Internal services move data through the pipelines. Reading
		// consent covers the check every pipeline performs before
		// processing.
		{Role: RoleService, Action: ActionRead, Resource: "consent/records", Effect: EffectAllow},
		{Role: RoleService, Action: ActionWrite, Resource: "consent/records", Effect: EffectAllow},
		{Role: RoleService, Action: ActionWrite, Resource: "privacy/records/*", Effect: EffectAllow},
		{Role: RoleService, Action: ActionRead, Resource: "privacy/records/*", Effect: EffectAllow},
		{Role: RoleService, Action: ActionTokenize, Resource: "payment/instruments", Effect: EffectAllow},
		{Role: RoleService, Action: ActionCharge, Resource: "payment/charges", Effect: EffectAllow},
		{Role: RoleService, Action: ActionRefund, Resource: "payment/refunds", Effect: EffectAllow},
		{Role: RoleService, Action: ActionSweep, Resource: "retention/sweep", Effect: EffectAllow},

		// Subjects act on their own data; ownership is checked by the
		// services on top of these grants.
		{Role: RoleSubject, Action: ActionWrite, Resource: "consent/records", Effect: EffectAllow},
		{Role: RoleSubject, Action: ActionRead, Resource: "consent/records", Effect: EffectAllow},
		{Role: RoleSubject, Action: ActionWrite, Resource: "privacy/deletions", Effect: EffectAllow},
		{Role: RoleSubject, Action: ActionRead, Resource: "privacy/deletions", Effect: EffectAllow},
		{Role: RoleSubject, Action: ActionWrite, Resource: "privacy/exports", Effect: EffectAllow},
		{Role: RoleSubject, Action: ActionRead, Resource: "privacy/exports", Effect: EffectAllow},
		{Role: RoleSubject, Action: ActionRead, Resource: "payment/charges", Effect: EffectAllow},
		{Role: RoleSubject, Action: ActionTokenize, Resource: "payment/instruments", Effect: EffectAllow},
		{Role: RoleSubject, Action: ActionRead, Resource: "payment/instruments", Effect: EffectAllow},
		{Role: RoleSubject, Action: ActionWrite, Resource: "payment/instruments", Effect: EffectAllow},
		{Role: RoleSubject, Action: ActionCharge, Resource: "payment/charges", Effect: EffectAllow},
	}
}
