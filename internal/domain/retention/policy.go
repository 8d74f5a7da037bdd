package retention

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/values"
)

// DataCategory classifies stored records for retention purposes.
type DataCategory string

const (
	CategoryContact    DataCategory = "contact"
	CategoryBehavioral DataCategory = "behavioral"
	CategoryFinancial  DataCategory = "financial"
	CategoryHealth     DataCategory = "health"
	CategoryAuditLog   DataCategory = "audit_log"
)

// PurgeAction is what happens to a record once its retention lapses.
type PurgeAction string

const (
	// ActionPurge deletes the record outright.
	ActionPurge PurgeAction = "purge"
	// ActionAnonymize strips identifying fields but keeps the record
	// for aggregate analysis.
	ActionAnonymize PurgeAction = "anonymize"
)

// Policy maps one data category to its retention window and the action
// taken when the window lapses. Policy changes apply prospectively:
// records already past an older threshold are handled by the next
// sweep under whatever policy is current then.
type Policy struct {
	ID         uuid.UUID            `json:"id"`
	Category   DataCategory         `json:"category"`
	Retention  values.RetentionDays `json:"retention_days"`
	Action     PurgeAction          `json:"purge_action"`
	LegalBasis string               `json:"legal_basis"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// NewPolicy creates a retention policy for a data category.
func NewPolicy(category DataCategory, retentionDays int, action PurgeAction, legalBasis string) (*Policy, error) {
	if err := ValidateCategory(category); err != nil {
		return nil, err
	}
	retention, err := values.NewRetentionDays(retentionDays)
	if err != nil {
		return nil, err
	}
	if err := ValidateAction(action); err != nil {
		return nil, err
	}

	now := time.Now()
	return &Policy{
		ID:         uuid.New(),
		Category:   category,
		Retention:  retention,
		Action:     action,
		LegalBasis: strings.TrimSpace(legalBasis),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// SetRetention replaces the retention window. The change takes effect
// on the next sweep; nothing is re-evaluated retroactively here.
func (p *Policy) SetRetention(retentionDays int) error {
	retention, err := values.NewRetentionDays(retentionDays)
	if err != nil {
		return err
	}
	p.Retention = retention
	p.UpdatedAt = time.Now()
	return nil
}

// SetAction replaces the purge action.
func (p *Policy) SetAction(action PurgeAction) error {
	if err := ValidateAction(action); err != nil {
		return err
	}
	p.Action = action
	p.UpdatedAt = time.Now()
	return nil
}

// Lapsed reports whether a record of the given age has outlived this
// policy's retention window. The boundary is inclusive: a record aged
// exactly retention_days is lapsed.
func (p *Policy) Lapsed(ageDays int) bool {
	return ageDays >= p.Retention.Days()
}

// ValidateCategory validates if a category is known.
func ValidateCategory(category DataCategory) error {
	switch category {
	case CategoryContact, CategoryBehavioral, CategoryFinancial, CategoryHealth, CategoryAuditLog:
		return nil
	default:
		return errors.NewValidationError("INVALID_CATEGORY", fmt.Sprintf("invalid data category: %s", category))
	}
}

// ValidateAction validates if a purge action is known.
func ValidateAction(action PurgeAction) error {
	switch action {
	case ActionPurge, ActionAnonymize:
		return nil
	default:
		return errors.NewValidationError("INVALID_ACTION", fmt.Sprintf("invalid purge action: %s", action))
	}
}

// ParseCategory parses a string into a DataCategory.
func ParseCategory(s string) (DataCategory, error) {
	category := DataCategory(strings.ToLower(strings.TrimSpace(s)))
	if err := ValidateCategory(category); err != nil {
		return "", err
	}
	return category, nil
}

// ParseAction parses a string into a PurgeAction.
func ParseAction(s string) (PurgeAction, error) {
	action := PurgeAction(strings.ToLower(strings.TrimSpace(s)))
	if err := ValidateAction(action); err != nil {
		return "", err
	}
	return action, nil
}

// AllCategories returns every category the engine recognizes.
func AllCategories() []DataCategory {
	return []DataCategory{
		CategoryContact,
		CategoryBehavioral,
		CategoryFinancial,
		CategoryHealth,
		CategoryAuditLog,
	}
}
