package retention

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/privacy"
	"github.com/adminsuite/governance-backend/internal/domain/retention"
)

type fakeRecords struct {
	mu      sync.Mutex
	records map[uuid.UUID]*privacy.SensitiveRecord
	delErr  map[uuid.UUID]error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		records: make(map[uuid.UUID]*privacy.SensitiveRecord),
		delErr:  make(map[uuid.UUID]error),
	}
}

func (r *fakeRecords) Save(_ context.Context, record *privacy.SensitiveRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = record.Clone()
	return nil
}

func (r *fakeRecords) GetByID(_ context.Context, id uuid.UUID) (*privacy.SensitiveRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, errors.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (r *fakeRecords) GetBySubjectAndCategory(_ context.Context, subjectID string, category retention.DataCategory) (*privacy.SensitiveRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.SubjectID == subjectID && rec.Category == category {
			return rec.Clone(), nil
		}
	}
	return nil, errors.ErrRecordNotFound
}

func (r *fakeRecords) ListBySubject(_ context.Context, subjectID string) ([]*privacy.SensitiveRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*privacy.SensitiveRecord
	for _, rec := range r.records {
		if rec.SubjectID == subjectID {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (r *fakeRecords) ListByStatus(_ context.Context, status retention.Status, limit int) ([]*privacy.SensitiveRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*privacy.SensitiveRecord
	for _, rec := range r.records {
		if rec.Status == status {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRecords) ListByKeyID(_ context.Context, keyID string, limit int) ([]*privacy.SensitiveRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*privacy.SensitiveRecord
	for _, rec := range r.records {
		for _, env := range rec.ProtectedFields {
			if env.KeyID == keyID {
				out = append(out, rec.Clone())
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRecords) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.delErr[id]; err != nil {
		return err
	}
	if _, ok := r.records[id]; !ok {
		return errors.ErrRecordNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *fakeRecords) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.records)), nil
}

type fakePseudonymizer struct{}

func (fakePseudonymizer) Pseudonym(subjectID string) string {
	return "anon_" + subjectID
}

type fakeLease struct {
	mu        sync.Mutex
	available bool
	refreshOK bool
	released  bool
	refreshed bool
}

func (l *fakeLease) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available, nil
}

func (l *fakeLease) Refresh(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshed = true
	return l.refreshOK, nil
}

func (l *fakeLease) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}

func testSweeper(t *testing.T, records *fakeRecords, auditor *fakeAuditor, lease Lease) *Sweeper {
	t.Helper()
	svc := policyService(t, newFakePolicyRepo(), auditor)
	sweeper, err := NewSweeper(svc, records, auditor, fakePseudonymizer{}, lease, nil, nil,
		Options{Rate: 10000, Burst: 10000}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return sweeper
}

func seedAged(t *testing.T, records *fakeRecords, subjectID string, category retention.DataCategory, ageDays int) uuid.UUID {
	t.Helper()
	rec, err := privacy.NewSensitiveRecord(subjectID, category)
	require.NoError(t, err)
	created := time.Now().AddDate(0, 0, -ageDays)
	rec.CreatedAt = created
	rec.LastModified = created
	require.NoError(t, records.Save(context.Background(), rec))
	return rec.ID
}

func TestSweepDisposesLapsedRecords(t *testing.T) {
	records := newFakeRecords()
	auditor := &fakeAuditor{}
	sweeper := testSweeper(t, records, auditor, nil)
	ctx := context.Background()

	purged := seedAged(t, records, "subj-a", retention.CategoryContact, 1460)
	anonymized := seedAged(t, records, "subj-b", retention.CategoryBehavioral, 200)
	fresh := seedAged(t, records, "subj-c", retention.CategoryContact, 10)

	report, err := sweeper.RunOnce(ctx, TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Examined)
	assert.Equal(t, 2, report.MarkedEligible)
	assert.Equal(t, 1, report.Purged)
	assert.Equal(t, 1, report.Anonymized)
	assert.Zero(t, report.Failed)
	assert.False(t, report.Skipped)

	_, err = records.GetByID(ctx, purged)
	assert.True(t, errors.IsNotFound(err), "purged records are deleted outright")

	kept, err := records.GetByID(ctx, anonymized)
	require.NoError(t, err)
	assert.Equal(t, retention.StatusAnonymized, kept.Status)
	assert.Equal(t, "anon_subj-b", kept.SubjectID)
	assert.Empty(t, kept.ProtectedFields)

	untouched, err := records.GetByID(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, retention.StatusActive, untouched.Status)

	types := auditor.types()
	require.Len(t, types, 3)
	assert.Contains(t, types, audit.EntryRetentionPurged)
	assert.Contains(t, types, audit.EntryRetentionAnonymized)
	assert.Equal(t, audit.EntrySweepCompleted, types[2])

	completed := auditor.entries[2]
	assert.Equal(t, "manual", completed.Metadata["trigger"])
	assert.Equal(t, "1", completed.Metadata["purged"])
	assert.Equal(t, "1", completed.Metadata["anonymized"])
	assert.Equal(t, "3", completed.Metadata["examined"])

	last := sweeper.LastReport()
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Purged)
}

func TestSweepSkipsFailedRecordAndMovesOn(t *testing.T) {
	records := newFakeRecords()
	auditor := &fakeAuditor{}
	sweeper := testSweeper(t, records, auditor, nil)
	ctx := context.Background()

	stuck := seedAged(t, records, "subj-a", retention.CategoryContact, 1460)
	fine := seedAged(t, records, "subj-b", retention.CategoryContact, 1460)
	records.delErr[stuck] = errors.NewStorageError("delete_record", assert.AnError)

	report, err := sweeper.RunOnce(ctx, TriggerManual)
	require.NoError(t, err, "one stuck record does not abort the sweep")

	assert.Equal(t, 1, report.Purged)
	assert.Equal(t, 1, report.Failed)

	_, err = records.GetByID(ctx, fine)
	assert.True(t, errors.IsNotFound(err))

	remaining, err := records.GetByID(ctx, stuck)
	require.NoError(t, err)
	assert.Equal(t, retention.StatusEligible, remaining.Status, "the failed record stays eligible for the next run")

	var failures int
	for _, e := range auditor.entries {
		if e.Outcome == audit.OutcomeFailure {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestSweepKeepsRecordWhenDisposalUnaudited(t *testing.T) {
	records := newFakeRecords()
	auditor := &fakeAuditor{failNext: true}
	sweeper := testSweeper(t, records, auditor, nil)
	ctx := context.Background()

	id := seedAged(t, records, "subj-a", retention.CategoryContact, 1460)

	report, err := sweeper.RunOnce(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Zero(t, report.Purged)
	assert.Equal(t, 1, report.Failed)

	kept, err := records.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, retention.StatusEligible, kept.Status, "no audit entry, no disposal")

	report, err = sweeper.RunOnce(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Purged)

	_, err = records.GetByID(ctx, id)
	assert.True(t, errors.IsNotFound(err))
}

func TestSweepSkippedWhenLeaseHeldElsewhere(t *testing.T) {
	records := newFakeRecords()
	auditor := &fakeAuditor{}
	lease := &fakeLease{available: false}
	sweeper := testSweeper(t, records, auditor, lease)

	seedAged(t, records, "subj-a", retention.CategoryContact, 1460)

	report, err := sweeper.RunOnce(context.Background(), TriggerScheduled)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Zero(t, report.Examined)
	assert.Empty(t, auditor.entries)
	assert.False(t, lease.released)
}

func TestSweepReleasesLeaseAndRefreshesMidRun(t *testing.T) {
	records := newFakeRecords()
	auditor := &fakeAuditor{}
	lease := &fakeLease{available: true, refreshOK: true}
	sweeper := testSweeper(t, records, auditor, lease)

	seedAged(t, records, "subj-a", retention.CategoryContact, 1460)

	report, err := sweeper.RunOnce(context.Background(), TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Purged)
	assert.True(t, lease.refreshed)
	assert.True(t, lease.released)
}

func TestSweepAbortsWhenLeaseLost(t *testing.T) {
	records := newFakeRecords()
	auditor := &fakeAuditor{}
	lease := &fakeLease{available: true, refreshOK: false}
	sweeper := testSweeper(t, records, auditor, lease)
	ctx := context.Background()

	id := seedAged(t, records, "subj-a", retention.CategoryContact, 1460)

	report, err := sweeper.RunOnce(ctx, TriggerScheduled)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lease lost")
	assert.Equal(t, 1, report.MarkedEligible)
	assert.Zero(t, report.Purged, "the disposal phase never ran")

	kept, err := records.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, retention.StatusEligible, kept.Status)
}
