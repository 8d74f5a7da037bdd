package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EntryRepository is the persistence port for the audit log. Implementations
// must reject duplicate sequence numbers with a conflict error so the
// single-writer append path can detect races.
type EntryRepository interface {
	PageSource

	// Store persists a frozen entry. The entry must already carry its
	// sequence number and hash chain fields.
	Store(ctx context.Context, entry *Entry) error

	// GetByID retrieves an entry by identifier
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)

	// GetBySequence retrieves an entry by its sequence number
	GetBySequence(ctx context.Context, seq int64) (*Entry, error)

	// LatestSequence returns the highest stored sequence number, or zero
	// for an empty log.
	LatestSequence(ctx context.Context) (int64, error)

	// NextSequence reserves and returns the next sequence number
	NextSequence(ctx context.Context) (int64, error)

	// GetSequenceRange returns entries with from <= sequence <= to in
	// ascending order.
	GetSequenceRange(ctx context.Context, from, to int64) ([]*Entry, error)

	// Count returns the number of entries matching the filter
	Count(ctx context.Context, filter Filter) (int64, error)

	// GetExpired returns unarchived entries older than the cutoff, oldest
	// first, capped at limit.
	GetExpired(ctx context.Context, before time.Time, limit int) ([]*Entry, error)

	// MarkArchived flags entries as shipped to cold storage and records
	// where the batch went. Returns the number of entries updated.
	MarkArchived(ctx context.Context, ids []uuid.UUID, location string) (int64, error)
}
