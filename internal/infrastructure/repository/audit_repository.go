// Package repository holds the in-memory implementations of the domain
// repository interfaces. They back the unit tests and the dev profile;
// the PostgreSQL implementations in infrastructure/database are wire
// compatible.
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// AuditRepository is the in-memory audit log store.
type AuditRepository struct {
	mu       sync.RWMutex
	seq      int64
	entries  []*audit.Entry
	byID     map[uuid.UUID]*audit.Entry
	bySeq    map[int64]*audit.Entry
	archived map[uuid.UUID]string
}

// NewAuditRepository creates an empty in-memory audit store.
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{
		byID:     make(map[uuid.UUID]*audit.Entry),
		bySeq:    make(map[int64]*audit.Entry),
		archived: make(map[uuid.UUID]string),
	}
}

// Store persists a frozen entry. Duplicate sequence numbers are
// rejected with a conflict so the append path can detect writer races.
func (r *AuditRepository) Store(ctx context.Context, entry *audit.Entry) error {
	if entry == nil {
		return errors.NewValidationError("NIL_ENTRY", "audit entry is required")
	}
	if !entry.IsImmutable() {
		return errors.NewValidationError("MUTABLE_ENTRY",
			"only frozen entries can be stored")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bySeq[entry.SequenceNum]; exists {
		return errors.NewConflictError(
			fmt.Sprintf("audit sequence %d already stored", entry.SequenceNum))
	}
	if _, exists := r.byID[entry.ID]; exists {
		return errors.NewConflictError(
			fmt.Sprintf("audit entry %s already stored", entry.ID))
	}

	r.entries = append(r.entries, entry)
	r.byID[entry.ID] = entry
	r.bySeq[entry.SequenceNum] = entry
	return nil
}

// GetByID retrieves an entry by identifier.
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byID[id]
	if !ok {
		return nil, errors.NewNotFoundError("audit entry")
	}
	return entry, nil
}

// GetBySequence retrieves an entry by its sequence number.
func (r *AuditRepository) GetBySequence(ctx context.Context, seq int64) (*audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.bySeq[seq]
	if !ok {
		return nil, errors.NewNotFoundError("audit entry")
	}
	return entry, nil
}

// LatestSequence returns the highest stored sequence number.
func (r *AuditRepository) LatestSequence(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest int64
	for seq := range r.bySeq {
		if seq > latest {
			latest = seq
		}
	}
	return latest, nil
}

// NextSequence reserves and returns the next sequence number.
func (r *AuditRepository) NextSequence(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq, nil
}

// QueryPage returns one ascending page of entries matching the filter.
func (r *AuditRepository) QueryPage(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*audit.Entry, 0)
	for _, entry := range r.entries {
		if filter.Matches(entry) {
			matched = append(matched, entry)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SequenceNum < matched[j].SequenceNum
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// GetSequenceRange returns entries with from <= sequence <= to.
func (r *AuditRepository) GetSequenceRange(ctx context.Context, from, to int64) ([]*audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*audit.Entry, 0)
	for seq := from; seq <= to; seq++ {
		if entry, ok := r.bySeq[seq]; ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

// Count returns the number of entries matching the filter.
func (r *AuditRepository) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, entry := range r.entries {
		if filter.Matches(entry) {
			n++
		}
	}
	return n, nil
}

// GetExpired returns unarchived entries older than the cutoff.
func (r *AuditRepository) GetExpired(ctx context.Context, before time.Time, limit int) ([]*audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*audit.Entry, 0)
	for _, entry := range r.entries {
		if _, done := r.archived[entry.ID]; done {
			continue
		}
		if entry.Timestamp.Before(before) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SequenceNum < out[j].SequenceNum
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkArchived records that entries were shipped to cold storage.
func (r *AuditRepository) MarkArchived(ctx context.Context, ids []uuid.UUID, location string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, id := range ids {
		if _, ok := r.byID[id]; !ok {
			continue
		}
		if _, done := r.archived[id]; done {
			continue
		}
		r.archived[id] = location
		n++
	}
	return n, nil
}

// ArchiveLocation reports where an entry was archived, if it was.
func (r *AuditRepository) ArchiveLocation(id uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.archived[id]
	return loc, ok
}
