package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for consent persistence.
type Repository interface {
	// Save persists the record and any decisions appended since the
	// last save. Implementations enforce uniqueness of
	// (subject_id, purpose, version): when two writers race to append
	// the same version, exactly one wins and the other receives a
	// conflict error.
	Save(ctx context.Context, record *Record) error

	// GetByID retrieves a record by its ID.
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)

	// GetBySubjectAndPurpose retrieves the record for one
	// (subject, purpose) pair, with its full decision history.
	GetBySubjectAndPurpose(ctx context.Context, subjectID string, purpose Purpose) (*Record, error)

	// ListBySubject retrieves all consent records for a subject.
	ListBySubject(ctx context.Context, subjectID string) ([]*Record, error)

	// Find searches for records based on filter criteria.
	Find(ctx context.Context, filter Filter) ([]*Record, error)

	// Count returns the number of records matching the filter.
	Count(ctx context.Context, filter Filter) (int64, error)
}

// Filter defines criteria for querying consent records.
type Filter struct {
	SubjectID     *string
	Purpose       *Purpose
	Granted       *bool
	UpdatedAfter  *time.Time
	UpdatedBefore *time.Time
	Limit         int
	Offset        int
}

// Matches reports whether a record satisfies the filter. Granted is
// evaluated against the latest decision, matching how checks read the
// record.
func (f Filter) Matches(r *Record, now time.Time) bool {
	if f.SubjectID != nil && r.SubjectID != *f.SubjectID {
		return false
	}
	if f.Purpose != nil && r.Purpose != *f.Purpose {
		return false
	}
	if f.Granted != nil && r.IsGranted(now) != *f.Granted {
		return false
	}
	if f.UpdatedAfter != nil && r.UpdatedAt.Before(*f.UpdatedAfter) {
		return false
	}
	if f.UpdatedBefore != nil && !r.UpdatedAt.Before(*f.UpdatedBefore) {
		return false
	}
	return true
}
