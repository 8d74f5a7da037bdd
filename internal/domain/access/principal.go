package access

import (
	"fmt"
	"strings"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// Role is the coarse authority a principal acts under. Fine-grained
// rights come from the policy table, never from the role name alone.
type Role string

const (
	RoleAdmin             Role = "admin"
	RoleComplianceOfficer Role = "compliance_officer"
	RoleSupport           Role = "support"
	RoleAnalyst           Role = "analyst"
	RoleService           Role = "service"
	RoleSubject           Role = "subject"
)

// ValidateRole validates if a role is known.
func ValidateRole(role Role) error {
	switch role {
	case RoleAdmin, RoleComplianceOfficer, RoleSupport, RoleAnalyst, RoleService, RoleSubject:
		return nil
	default:
		return errors.NewValidationError("INVALID_ROLE", fmt.Sprintf("invalid role: %s", role))
	}
}

// ParseRole parses a string into a Role.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if err := ValidateRole(role); err != nil {
		return "", err
	}
	return role, nil
}

// Action is an operation class the policy table can grant or withhold.
type Action string

const (
	ActionRead      Action = "read"
	ActionWrite     Action = "write"
	ActionDelete    Action = "delete"
	ActionExport    Action = "export"
	ActionReveal    Action = "reveal"
	ActionTokenize  Action = "tokenize"
	ActionCharge    Action = "charge"
	ActionRefund    Action = "refund"
	ActionConfigure Action = "configure"
	ActionSweep     Action = "sweep"

	// ActionAny is usable in rules only, never in authorization
	// requests.
	ActionAny Action = "*"
)

// AllActions returns the request actions the table understands, not
// including the rule-only wildcard.
func AllActions() []Action {
	return []Action{
		ActionRead, ActionWrite, ActionDelete, ActionExport, ActionReveal,
		ActionTokenize, ActionCharge, ActionRefund, ActionConfigure, ActionSweep,
	}
}

// ValidateAction validates if an action is known. Wildcards are only
// legal inside rules.
func ValidateAction(action Action, allowWildcard bool) error {
	if action == ActionAny {
		if allowWildcard {
			return nil
		}
		return errors.NewValidationError("INVALID_ACTION", "wildcard action is not a request action")
	}
	switch action {
	case ActionRead, ActionWrite, ActionDelete, ActionExport, ActionReveal,
		ActionTokenize, ActionCharge, ActionRefund, ActionConfigure, ActionSweep:
		return nil
	default:
		return errors.NewValidationError("INVALID_ACTION", fmt.Sprintf("invalid action: %s", action))
	}
}

// Principal is an authenticated caller: an identity plus the role it
// acts under. SubjectID is set when the caller is a data subject
// acting on their own records, so services can check ownership on top
// of the table decision.
type Principal struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	SubjectID string `json:"subject_id,omitempty"`
}

// NewPrincipal creates a validated principal.
func NewPrincipal(id string, role Role) (Principal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Principal{}, errors.NewValidationError("INVALID_PRINCIPAL", "principal ID is required")
	}
	if err := ValidateRole(role); err != nil {
		return Principal{}, err
	}
	return Principal{ID: id, Role: role}, nil
}

// NewSubjectPrincipal creates a principal for a data subject acting on
// their own data.
func NewSubjectPrincipal(subjectID string) (Principal, error) {
	p, err := NewPrincipal(subjectID, RoleSubject)
	if err != nil {
		return Principal{}, err
	}
	p.SubjectID = subjectID
	return p, nil
}

// Owns reports whether the principal is the subject in question.
func (p Principal) Owns(subjectID string) bool {
	return p.SubjectID != "" && p.SubjectID == subjectID
}

// ActorType classifies the principal for audit entries.
func (p Principal) ActorType() string {
	if p.Role == RoleService {
		return "service"
	}
	return "user"
}

// String identifies the principal for audit trails.
func (p Principal) String() string {
	return fmt.Sprintf("%s/%s", p.Role, p.ID)
}
