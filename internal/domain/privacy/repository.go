package privacy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/retention"
)

// RecordRepository defines the interface for sensitive record
// persistence. Implementations serialize writes per subject so an
// erasure and a concurrent field write cannot interleave.
type RecordRepository interface {
	// Save creates or updates a record.
	Save(ctx context.Context, record *SensitiveRecord) error

	// GetByID retrieves a record by its ID.
	GetByID(ctx context.Context, id uuid.UUID) (*SensitiveRecord, error)

	// GetBySubjectAndCategory retrieves one subject's record for a
	// category.
	GetBySubjectAndCategory(ctx context.Context, subjectID string, category retention.DataCategory) (*SensitiveRecord, error)

	// ListBySubject retrieves all records belonging to a subject.
	ListBySubject(ctx context.Context, subjectID string) ([]*SensitiveRecord, error)

	// ListByStatus retrieves records in a retention state, oldest
	// first, for sweep enumeration.
	ListByStatus(ctx context.Context, status retention.Status, limit int) ([]*SensitiveRecord, error)

	// ListByKeyID retrieves records holding envelopes sealed under a
	// key, for rotation sweeps.
	ListByKeyID(ctx context.Context, keyID string, limit int) ([]*SensitiveRecord, error)

	// Delete removes a record outright. Used by the purge action after
	// the record has transitioned to purged.
	Delete(ctx context.Context, id uuid.UUID) error

	// Count returns the total number of stored records.
	Count(ctx context.Context) (int64, error)
}

// DeletionRequestRepository defines the interface for deletion request
// persistence.
type DeletionRequestRepository interface {
	// Save persists the request. Implementations reject a status
	// transition that races another writer with a conflict error, so
	// two workers cannot both claim the same pending request.
	Save(ctx context.Context, request *DeletionRequest) error

	// GetByID retrieves a request by its ID.
	GetByID(ctx context.Context, id uuid.UUID) (*DeletionRequest, error)

	// GetLatestBySubject retrieves the most recent request for a
	// subject, terminal or not.
	GetLatestBySubject(ctx context.Context, subjectID string) (*DeletionRequest, error)

	// ListByStatus retrieves requests in a state, oldest first.
	ListByStatus(ctx context.Context, status RequestStatus, limit int) ([]*DeletionRequest, error)
}

// ExportRequestRepository defines the interface for export request
// persistence.
type ExportRequestRepository interface {
	// Save persists the request with the same transition guarantees as
	// DeletionRequestRepository.Save.
	Save(ctx context.Context, request *ExportRequest) error

	// GetByID retrieves a request by its ID.
	GetByID(ctx context.Context, id uuid.UUID) (*ExportRequest, error)

	// GetLatestBySubject retrieves the most recent request for a
	// subject.
	GetLatestBySubject(ctx context.Context, subjectID string) (*ExportRequest, error)

	// ListByStatus retrieves requests in a state, oldest first.
	ListByStatus(ctx context.Context, status RequestStatus, limit int) ([]*ExportRequest, error)
}

// ObligationRepository defines the interface for propagation
// obligation persistence.
type ObligationRepository interface {
	// Save creates or updates an obligation.
	Save(ctx context.Context, obligation *PropagationObligation) error

	// GetByID retrieves an obligation by its ID.
	GetByID(ctx context.Context, id uuid.UUID) (*PropagationObligation, error)

	// ListByRequest retrieves the obligations raised by one request.
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*PropagationObligation, error)

	// ListOpen retrieves unverified obligations, earliest deadline
	// first.
	ListOpen(ctx context.Context, limit int) ([]*PropagationObligation, error)

	// ListExpiring retrieves open obligations whose deadline falls
	// before the given instant.
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]*PropagationObligation, error)
}
