package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/consent"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

type consentPairKey struct {
	subjectID string
	purpose   consent.Purpose
}

// ConsentRepository is an in-memory consent.Repository.
type ConsentRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*consent.Record
	byPair  map[consentPairKey]uuid.UUID
}

// NewConsentRepository creates an empty in-memory consent repository.
func NewConsentRepository() *ConsentRepository {
	return &ConsentRepository{
		records: make(map[uuid.UUID]*consent.Record),
		byPair:  make(map[consentPairKey]uuid.UUID),
	}
}

var _ consent.Repository = (*ConsentRepository)(nil)

// Save persists the record. Version conflicts surface as conflict
// errors: a save whose CurrentVersion does not advance past the stored
// one lost a race with another writer, as did a save that would create
// a second record for an occupied (subject, purpose) pair.
func (r *ConsentRepository) Save(ctx context.Context, record *consent.Record) error {
	if record == nil {
		return errors.NewValidationError("NIL_RECORD", "consent record is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := consentPairKey{subjectID: record.SubjectID, purpose: record.Purpose}
	if existingID, ok := r.byPair[key]; ok && existingID != record.ID {
		return errors.NewConflictError("consent record already exists for subject and purpose")
	}
	if existing, ok := r.records[record.ID]; ok {
		if record.CurrentVersion <= existing.CurrentVersion {
			return errors.NewConflictError("consent version already recorded")
		}
	}

	r.records[record.ID] = record.Clone()
	r.byPair[key] = record.ID
	return nil
}

// GetByID retrieves a record by its ID.
func (r *ConsentRepository) GetByID(ctx context.Context, id uuid.UUID) (*consent.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return nil, errors.NewNotFoundError("consent record")
	}
	return record.Clone(), nil
}

// GetBySubjectAndPurpose retrieves the record for one pair.
func (r *ConsentRepository) GetBySubjectAndPurpose(ctx context.Context, subjectID string, purpose consent.Purpose) (*consent.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPair[consentPairKey{subjectID: subjectID, purpose: purpose}]
	if !ok {
		return nil, errors.NewNotFoundError("consent record")
	}
	return r.records[id].Clone(), nil
}

// ListBySubject retrieves every consent record for a subject, ordered
// by purpose for stable output.
func (r *ConsentRepository) ListBySubject(ctx context.Context, subjectID string) ([]*consent.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*consent.Record
	for _, record := range r.records {
		if record.SubjectID == subjectID {
			records = append(records, record.Clone())
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Purpose < records[j].Purpose
	})
	return records, nil
}

// Find searches records by filter, most recently updated first.
func (r *ConsentRepository) Find(ctx context.Context, filter consent.Filter) ([]*consent.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var matched []*consent.Record
	for _, record := range r.records {
		if filter.Matches(record, now) {
			matched = append(matched, record)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	records := make([]*consent.Record, len(matched))
	for i, record := range matched {
		records[i] = record.Clone()
	}
	return records, nil
}

// Count returns the number of records matching the filter.
func (r *ConsentRepository) Count(ctx context.Context, filter consent.Filter) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var count int64
	for _, record := range r.records {
		if filter.Matches(record, now) {
			count++
		}
	}
	return count, nil
}
