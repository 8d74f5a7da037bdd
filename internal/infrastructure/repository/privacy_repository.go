package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/privacy"
	"github.com/adminsuite/governance-backend/internal/domain/retention"
)

type recordPairKey struct {
	subjectID string
	category  retention.DataCategory
}

// PrivacyRecordRepository is an in-memory privacy.RecordRepository.
type PrivacyRecordRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*privacy.SensitiveRecord
	byPair  map[recordPairKey]uuid.UUID
}

// NewPrivacyRecordRepository creates an empty in-memory record
// repository.
func NewPrivacyRecordRepository() *PrivacyRecordRepository {
	return &PrivacyRecordRepository{
		records: make(map[uuid.UUID]*privacy.SensitiveRecord),
		byPair:  make(map[recordPairKey]uuid.UUID),
	}
}

var _ privacy.RecordRepository = (*PrivacyRecordRepository)(nil)

// Save creates or updates a record. One subject holds at most one
// record per category; anonymization rewrites the subject ID, so the
// pair index follows the stored record rather than assuming it is
// stable.
func (r *PrivacyRecordRepository) Save(ctx context.Context, record *privacy.SensitiveRecord) error {
	if record == nil {
		return errors.NewValidationError("NIL_RECORD", "sensitive record is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := recordPairKey{subjectID: record.SubjectID, category: record.Category}
	if existingID, ok := r.byPair[key]; ok && existingID != record.ID {
		return errors.NewConflictError("record already exists for subject and category")
	}
	if existing, ok := r.records[record.ID]; ok {
		oldKey := recordPairKey{subjectID: existing.SubjectID, category: existing.Category}
		if oldKey != key {
			delete(r.byPair, oldKey)
		}
	}

	r.records[record.ID] = record.Clone()
	r.byPair[key] = record.ID
	return nil
}

// GetByID retrieves a record by its ID.
func (r *PrivacyRecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*privacy.SensitiveRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return nil, errors.NewNotFoundError("sensitive record")
	}
	return record.Clone(), nil
}

// GetBySubjectAndCategory retrieves one subject's record for a
// category.
func (r *PrivacyRecordRepository) GetBySubjectAndCategory(ctx context.Context, subjectID string, category retention.DataCategory) (*privacy.SensitiveRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPair[recordPairKey{subjectID: subjectID, category: category}]
	if !ok {
		return nil, errors.NewNotFoundError("sensitive record")
	}
	return r.records[id].Clone(), nil
}

// ListBySubject retrieves all records for a subject ordered by
// category.
func (r *PrivacyRecordRepository) ListBySubject(ctx context.Context, subjectID string) ([]*privacy.SensitiveRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*privacy.SensitiveRecord
	for _, record := range r.records {
		if record.SubjectID == subjectID {
			records = append(records, record.Clone())
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Category < records[j].Category
	})
	return records, nil
}

// ListByStatus retrieves records in a retention state, oldest first.
func (r *PrivacyRecordRepository) ListByStatus(ctx context.Context, status retention.Status, limit int) ([]*privacy.SensitiveRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*privacy.SensitiveRecord
	for _, record := range r.records {
		if record.Status == status {
			matched = append(matched, record)
		}
	}
	sortRecordsOldestFirst(matched)
	matched = clipRecords(matched, limit)

	records := make([]*privacy.SensitiveRecord, len(matched))
	for i, record := range matched {
		records[i] = record.Clone()
	}
	return records, nil
}

// ListByKeyID retrieves records holding at least one envelope sealed
// under the given key, oldest first.
func (r *PrivacyRecordRepository) ListByKeyID(ctx context.Context, keyID string, limit int) ([]*privacy.SensitiveRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*privacy.SensitiveRecord
	for _, record := range r.records {
		for _, env := range record.ProtectedFields {
			if env.KeyID == keyID {
				matched = append(matched, record)
				break
			}
		}
	}
	sortRecordsOldestFirst(matched)
	matched = clipRecords(matched, limit)

	records := make([]*privacy.SensitiveRecord, len(matched))
	for i, record := range matched {
		records[i] = record.Clone()
	}
	return records, nil
}

// Delete removes a record outright.
func (r *PrivacyRecordRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return errors.NewNotFoundError("sensitive record")
	}
	delete(r.byPair, recordPairKey{subjectID: record.SubjectID, category: record.Category})
	delete(r.records, id)
	return nil
}

// Count returns the total number of stored records.
func (r *PrivacyRecordRepository) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.records)), nil
}

func sortRecordsOldestFirst(records []*privacy.SensitiveRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID.String() < records[j].ID.String()
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

func clipRecords(records []*privacy.SensitiveRecord, limit int) []*privacy.SensitiveRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

// DeletionRequestRepository is an in-memory
// privacy.DeletionRequestRepository.
type DeletionRequestRepository struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*privacy.DeletionRequest
}

// NewDeletionRequestRepository creates an empty in-memory deletion
// request repository.
func NewDeletionRequestRepository() *DeletionRequestRepository {
	return &DeletionRequestRepository{
		requests: make(map[uuid.UUID]*privacy.DeletionRequest),
	}
}

var _ privacy.DeletionRequestRepository = (*DeletionRequestRepository)(nil)

// Save persists the request. A save against a finalized request, or a
// second claim of a request already in progress, lost a race and
// surfaces as a conflict.
func (r *DeletionRequestRepository) Save(ctx context.Context, request *privacy.DeletionRequest) error {
	if request == nil {
		return errors.NewValidationError("NIL_REQUEST", "deletion request is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.requests[request.ID]; ok {
		if err := checkRequestTransition(existing.Status, request.Status, "deletion request"); err != nil {
			return err
		}
	}
	r.requests[request.ID] = request.Clone()
	return nil
}

// GetByID retrieves a request by its ID.
func (r *DeletionRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*privacy.DeletionRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	request, ok := r.requests[id]
	if !ok {
		return nil, errors.NewNotFoundError("deletion request")
	}
	return request.Clone(), nil
}

// GetLatestBySubject retrieves the most recent request for a subject.
func (r *DeletionRequestRepository) GetLatestBySubject(ctx context.Context, subjectID string) (*privacy.DeletionRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *privacy.DeletionRequest
	for _, request := range r.requests {
		if request.SubjectID != subjectID {
			continue
		}
		if latest == nil || request.RequestedAt.After(latest.RequestedAt) {
			latest = request
		}
	}
	if latest == nil {
		return nil, errors.NewNotFoundError("deletion request")
	}
	return latest.Clone(), nil
}

// ListByStatus retrieves requests in a state, oldest first.
func (r *DeletionRequestRepository) ListByStatus(ctx context.Context, status privacy.RequestStatus, limit int) ([]*privacy.DeletionRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*privacy.DeletionRequest
	for _, request := range r.requests {
		if request.Status == status {
			matched = append(matched, request)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].RequestedAt.Equal(matched[j].RequestedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].RequestedAt.Before(matched[j].RequestedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	requests := make([]*privacy.DeletionRequest, len(matched))
	for i, request := range matched {
		requests[i] = request.Clone()
	}
	return requests, nil
}

// ExportRequestRepository is an in-memory
// privacy.ExportRequestRepository.
type ExportRequestRepository struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*privacy.ExportRequest
}

// NewExportRequestRepository creates an empty in-memory export request
// repository.
func NewExportRequestRepository() *ExportRequestRepository {
	return &ExportRequestRepository{
		requests: make(map[uuid.UUID]*privacy.ExportRequest),
	}
}

var _ privacy.ExportRequestRepository = (*ExportRequestRepository)(nil)

// Save persists the request with the same race guarantees as the
// deletion request repository.
func (r *ExportRequestRepository) Save(ctx context.Context, request *privacy.ExportRequest) error {
	if request == nil {
		return errors.NewValidationError("NIL_REQUEST", "export request is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.requests[request.ID]; ok {
		if err := checkRequestTransition(existing.Status, request.Status, "export request"); err != nil {
			return err
		}
	}
	r.requests[request.ID] = request.Clone()
	return nil
}

// GetByID retrieves a request by its ID.
func (r *ExportRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*privacy.ExportRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	request, ok := r.requests[id]
	if !ok {
		return nil, errors.NewNotFoundError("export request")
	}
	return request.Clone(), nil
}

// GetLatestBySubject retrieves the most recent request for a subject.
func (r *ExportRequestRepository) GetLatestBySubject(ctx context.Context, subjectID string) (*privacy.ExportRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *privacy.ExportRequest
	for _, request := range r.requests {
		if request.SubjectID != subjectID {
			continue
		}
		if latest == nil || request.RequestedAt.After(latest.RequestedAt) {
			latest = request
		}
	}
	if latest == nil {
		return nil, errors.NewNotFoundError("export request")
	}
	return latest.Clone(), nil
}

// ListByStatus retrieves requests in a state, oldest first.
func (r *ExportRequestRepository) ListByStatus(ctx context.Context, status privacy.RequestStatus, limit int) ([]*privacy.ExportRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*privacy.ExportRequest
	for _, request := range r.requests {
		if request.Status == status {
			matched = append(matched, request)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].RequestedAt.Equal(matched[j].RequestedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].RequestedAt.Before(matched[j].RequestedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	requests := make([]*privacy.ExportRequest, len(matched))
	for i, request := range matched {
		requests[i] = request.Clone()
	}
	return requests, nil
}

// checkRequestTransition enforces the single-claim rule shared by the
// request repositories. Finalized requests never change again, and an
// in_progress request cannot be claimed twice or demoted to pending.
func checkRequestTransition(stored, incoming privacy.RequestStatus, kind string) error {
	if stored.IsTerminal() {
		return errors.NewConflictError(kind + " already finalized")
	}
	if stored == privacy.RequestStatusInProgress {
		switch incoming {
		case privacy.RequestStatusInProgress:
			return errors.NewConflictError(kind + " already claimed by another worker")
		case privacy.RequestStatusPending:
			return errors.NewConflictError(kind + " cannot return to pending")
		}
	}
	return nil
}

// ObligationRepository is an in-memory privacy.ObligationRepository.
type ObligationRepository struct {
	mu          sync.RWMutex
	obligations map[uuid.UUID]*privacy.PropagationObligation
}

// NewObligationRepository creates an empty in-memory obligation
// repository.
func NewObligationRepository() *ObligationRepository {
	return &ObligationRepository{
		obligations: make(map[uuid.UUID]*privacy.PropagationObligation),
	}
}

var _ privacy.ObligationRepository = (*ObligationRepository)(nil)

// Save creates or updates an obligation.
func (r *ObligationRepository) Save(ctx context.Context, obligation *privacy.PropagationObligation) error {
	if obligation == nil {
		return errors.NewValidationError("NIL_OBLIGATION", "propagation obligation is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *obligation
	if obligation.VerifiedAt != nil {
		t := *obligation.VerifiedAt
		clone.VerifiedAt = &t
	}
	r.obligations[obligation.ID] = &clone
	return nil
}

// GetByID retrieves an obligation by its ID.
func (r *ObligationRepository) GetByID(ctx context.Context, id uuid.UUID) (*privacy.PropagationObligation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	obligation, ok := r.obligations[id]
	if !ok {
		return nil, errors.NewNotFoundError("propagation obligation")
	}
	clone := *obligation
	return &clone, nil
}

// ListByRequest retrieves the obligations raised by one request,
// earliest raised first.
func (r *ObligationRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*privacy.PropagationObligation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*privacy.PropagationObligation
	for _, obligation := range r.obligations {
		if obligation.RequestID == requestID {
			clone := *obligation
			matched = append(matched, &clone)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].RaisedAt.Equal(matched[j].RaisedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].RaisedAt.Before(matched[j].RaisedAt)
	})
	return matched, nil
}

// ListOpen retrieves unverified obligations, earliest deadline first.
func (r *ObligationRepository) ListOpen(ctx context.Context, limit int) ([]*privacy.PropagationObligation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectOpen(func(o *privacy.PropagationObligation) bool {
		return o.IsOpen()
	}, limit), nil
}

// ListExpiring retrieves open obligations whose deadline falls before
// the given instant.
func (r *ObligationRepository) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*privacy.PropagationObligation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectOpen(func(o *privacy.PropagationObligation) bool {
		return o.IsOpen() && o.Deadline.Before(before)
	}, limit), nil
}

func (r *ObligationRepository) collectOpen(match func(*privacy.PropagationObligation) bool, limit int) []*privacy.PropagationObligation {
	var matched []*privacy.PropagationObligation
	for _, obligation := range r.obligations {
		if match(obligation) {
			clone := *obligation
			matched = append(matched, &clone)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Deadline.Equal(matched[j].Deadline) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].Deadline.Before(matched[j].Deadline)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}
