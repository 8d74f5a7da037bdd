package retention

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// Status is the retention lifecycle state of a stored item.
type Status string

const (
	StatusActive     Status = "active"
	StatusEligible   Status = "eligible_for_purge"
	StatusPurged     Status = "purged"
	StatusAnonymized Status = "anonymized"
)

// ValidateStatus validates if a status is known.
func ValidateStatus(status Status) error {
	switch status {
	case StatusActive, StatusEligible, StatusPurged, StatusAnonymized:
		return nil
	default:
		return errors.NewValidationError("INVALID_STATUS", fmt.Sprintf("invalid retention status: %s", status))
	}
}

// Item is the retention view of one stored record. Stores expose their
// records as Items so the sweep can evaluate and transition them
// without knowing the record's shape.
type Item struct {
	RecordID     uuid.UUID    `json:"record_id"`
	SubjectID    string       `json:"subject_id"`
	Category     DataCategory `json:"category"`
	Status       Status       `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	LastModified time.Time    `json:"last_modified"`
	SweptAt      *time.Time   `json:"swept_at,omitempty"`
}

// referenceTime is the instant the retention clock counts from. A
// modification resets the clock; otherwise creation starts it.
func (i *Item) referenceTime() time.Time {
	if i.LastModified.After(i.CreatedAt) {
		return i.LastModified
	}
	return i.CreatedAt
}

// AgeDays returns the item's age in whole days at the given instant.
func (i *Item) AgeDays(now time.Time) int {
	age := now.Sub(i.referenceTime())
	if age < 0 {
		return 0
	}
	return int(age / (24 * time.Hour))
}

// MarkEligible transitions active -> eligible_for_purge once the
// governing policy's window has lapsed.
func (i *Item) MarkEligible(set *PolicySet, now time.Time) error {
	if i.Status != StatusActive {
		return errors.NewValidationError("NOT_ACTIVE",
			fmt.Sprintf("cannot mark %s item eligible", i.Status))
	}
	if !set.ShouldPurge(i.Category, i.AgeDays(now)) {
		return errors.NewValidationError("RETENTION_NOT_LAPSED",
			fmt.Sprintf("item aged %d days is within retention", i.AgeDays(now)))
	}
	i.Status = StatusEligible
	return nil
}

// Purge transitions eligible_for_purge -> purged.
func (i *Item) Purge(now time.Time) error {
	if i.Status != StatusEligible {
		return errors.NewValidationError("NOT_ELIGIBLE",
			fmt.Sprintf("cannot purge %s item", i.Status))
	}
	i.Status = StatusPurged
	i.SweptAt = &now
	return nil
}

// Anonymize transitions eligible_for_purge -> anonymized.
func (i *Item) Anonymize(now time.Time) error {
	if i.Status != StatusEligible {
		return errors.NewValidationError("NOT_ELIGIBLE",
			fmt.Sprintf("cannot anonymize %s item", i.Status))
	}
	i.Status = StatusAnonymized
	i.SweptAt = &now
	return nil
}

// IsTerminal reports whether the item has been swept.
func (i *Item) IsTerminal() bool {
	return i.Status == StatusPurged || i.Status == StatusAnonymized
}
