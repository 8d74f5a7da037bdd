package repository

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adminsuite/governance-backend/internal/domain/privacy"
	"github.com/adminsuite/governance-backend/internal/domain/retention"
	"github.com/adminsuite/governance-backend/internal/domain/values"
)

func newSensitiveRecord(t *testing.T, subjectID string, category retention.DataCategory) *privacy.SensitiveRecord {
	t.Helper()

	record, err := privacy.NewSensitiveRecord(subjectID, category)
	require.NoError(t, err)
	return record
}

func testEnvelope(keyID string) privacy.Envelope {
	return privacy.Envelope{
		KeyID:      keyID,
		Algorithm:  privacy.AlgorithmAESGCM,
		Nonce:      bytes.Repeat([]byte{0x01}, privacy.GCMNonceSize),
		Ciphertext: bytes.Repeat([]byte{0x02}, 24),
	}
}

func TestRecordRepositorySaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewPrivacyRecordRepository()

	record := newSensitiveRecord(t, "subj-1", retention.CategoryContact)
	require.NoError(t, repo.Save(ctx, record))

	got, err := repo.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)

	got, err = repo.GetBySubjectAndCategory(ctx, "subj-1", retention.CategoryContact)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)

	_, err = repo.GetByID(ctx, uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE_NOT_FOUND")

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRecordRepositoryPairUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewPrivacyRecordRepository()

	require.NoError(t, repo.Save(ctx, newSensitiveRecord(t, "subj-1", retention.CategoryContact)))

	rival := newSensitiveRecord(t, "subj-1", retention.CategoryContact)
	err := repo.Save(ctx, rival)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")

	require.NoError(t, repo.Save(ctx, newSensitiveRecord(t, "subj-1", retention.CategoryBehavioral)))
}

func TestRecordRepositoryAnonymizeMovesPairIndex(t *testing.T) {
	ctx := context.Background()
	repo := NewPrivacyRecordRepository()

	record := newSensitiveRecord(t, "subj-1", retention.CategoryContact)
	require.NoError(t, repo.Save(ctx, record))

	stored, err := repo.GetByID(ctx, record.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Anonymize("anon_9f2c", time.Now()))
	require.NoError(t, repo.Save(ctx, stored))

	// The pair slot follows the rewritten subject ID.
	got, err := repo.GetBySubjectAndCategory(ctx, "anon_9f2c", retention.CategoryContact)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)

	_, err = repo.GetBySubjectAndCategory(ctx, "subj-1", retention.CategoryContact)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE_NOT_FOUND")

	// The original slot is free again for new data.
	require.NoError(t, repo.Save(ctx, newSensitiveRecord(t, "subj-1", retention.CategoryContact)))
}

func TestRecordRepositoryListByStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewPrivacyRecordRepository()

	base := time.Now().Add(-3 * time.Hour)
	categories := []retention.DataCategory{
		retention.CategoryContact, retention.CategoryBehavioral, retention.CategoryFinancial,
	}
	var ids []uuid.UUID
	for i, category := range categories {
		record := newSensitiveRecord(t, "subj-1", category)
		record.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, record.MarkEligible())
		require.NoError(t, repo.Save(ctx, record))
		ids = append(ids, record.ID)
	}

	eligible, err := repo.ListByStatus(ctx, retention.StatusEligible, 2)
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	assert.Equal(t, ids[0], eligible[0].ID)
	assert.Equal(t, ids[1], eligible[1].ID)

	active, err := repo.ListByStatus(ctx, retention.StatusActive, 0)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRecordRepositoryListByKeyID(t *testing.T) {
	ctx := context.Background()
	repo := NewPrivacyRecordRepository()

	oldKey := newSensitiveRecord(t, "subj-1", retention.CategoryContact)
	require.NoError(t, oldKey.PutProtectedField("email", testEnvelope("govern-key-1")))
	require.NoError(t, repo.Save(ctx, oldKey))

	newKey := newSensitiveRecord(t, "subj-2", retention.CategoryContact)
	require.NoError(t, newKey.PutProtectedField("email", testEnvelope("govern-key-2")))
	require.NoError(t, repo.Save(ctx, newKey))

	stale, err := repo.ListByKeyID(ctx, "govern-key-1", 0)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, oldKey.ID, stale[0].ID)
}

func TestRecordRepositoryDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewPrivacyRecordRepository()

	record := newSensitiveRecord(t, "subj-1", retention.CategoryContact)
	require.NoError(t, repo.Save(ctx, record))
	require.NoError(t, repo.Delete(ctx, record.ID))

	_, err := repo.GetByID(ctx, record.ID)
	require.Error(t, err)

	err = repo.Delete(ctx, record.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE_NOT_FOUND")

	// Deleting also clears the pair slot.
	require.NoError(t, repo.Save(ctx, newSensitiveRecord(t, "subj-1", retention.CategoryContact)))
}

func TestDeletionRequestRepositoryClaimRace(t *testing.T) {
	ctx := context.Background()
	repo := NewDeletionRequestRepository()

	request, err := privacy.NewDeletionRequest("subj-1", "user/subj-1")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, request))

	// Two workers pick up the same pending request.
	first, err := repo.GetByID(ctx, request.ID)
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, request.ID)
	require.NoError(t, err)

	require.NoError(t, first.Start())
	require.NoError(t, repo.Save(ctx, first))

	require.NoError(t, second.Start())
	err = repo.Save(ctx, second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")

	// The winner finishes normally.
	require.NoError(t, first.Complete(privacy.ResultSummary{RecordsExamined: 2}))
	require.NoError(t, repo.Save(ctx, first))

	// Nothing changes a finalized request.
	err = repo.Save(ctx, first)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")

	got, err := repo.GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, privacy.RequestStatusCompleted, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 2, got.Summary.RecordsExamined)
}

func TestDeletionRequestRepositoryQueries(t *testing.T) {
	ctx := context.Background()
	repo := NewDeletionRequestRepository()

	older, err := privacy.NewDeletionRequest("subj-1", "user/subj-1")
	require.NoError(t, err)
	older.RequestedAt = time.Now().Add(-2 * time.Hour)
	newer, err := privacy.NewDeletionRequest("subj-1", "user/subj-1")
	require.NoError(t, err)
	other, err := privacy.NewDeletionRequest("subj-2", "user/subj-2")
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, older))
	require.NoError(t, repo.Save(ctx, newer))
	require.NoError(t, repo.Save(ctx, other))

	latest, err := repo.GetLatestBySubject(ctx, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	_, err = repo.GetLatestBySubject(ctx, "subj-3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE_NOT_FOUND")

	pending, err := repo.ListByStatus(ctx, privacy.RequestStatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, older.ID, pending[0].ID)

	limited, err := repo.ListByStatus(ctx, privacy.RequestStatusPending, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, older.ID, limited[0].ID)
}

func TestExportRequestRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewExportRequestRepository()

	request, err := privacy.NewExportRequest("subj-1", "user/subj-1", values.ExportFormat{})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, request))

	claimed, err := repo.GetByID(ctx, request.ID)
	require.NoError(t, err)
	require.NoError(t, claimed.Start())
	require.NoError(t, repo.Save(ctx, claimed))

	rival, err := repo.GetByID(ctx, request.ID)
	require.NoError(t, err)
	// A finished worker cannot demote the claim back to pending.
	rival.Status = privacy.RequestStatusPending
	err = repo.Save(ctx, rival)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")

	require.NoError(t, claimed.Complete(testEnvelope("govern-key-1"), 4))
	require.NoError(t, repo.Save(ctx, claimed))

	got, err := repo.GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, privacy.RequestStatusCompleted, got.Status)
	assert.Equal(t, 4, got.RecordCount)
	require.NotNil(t, got.Result)
	assert.Equal(t, "govern-key-1", got.Result.KeyID)

	latest, err := repo.GetLatestBySubject(ctx, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, request.ID, latest.ID)
}

func TestObligationRepositoryOrdering(t *testing.T) {
	ctx := context.Background()
	repo := NewObligationRepository()
	requestID := uuid.New()

	near, err := privacy.NewPropagationObligation(requestID, "subj-1", privacy.TargetBackups, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	far, err := privacy.NewPropagationObligation(requestID, "subj-1", privacy.TargetReplicas, time.Now().Add(72*time.Hour))
	require.NoError(t, err)
	done, err := privacy.NewPropagationObligation(uuid.New(), "subj-2", privacy.TargetProcessor, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	require.NoError(t, done.Verify("officer/dpo", time.Now()))

	require.NoError(t, repo.Save(ctx, near))
	require.NoError(t, repo.Save(ctx, far))
	require.NoError(t, repo.Save(ctx, done))

	open, err := repo.ListOpen(ctx, 0)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, near.ID, open[0].ID)
	assert.Equal(t, far.ID, open[1].ID)

	expiring, err := repo.ListExpiring(ctx, time.Now().Add(36*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, near.ID, expiring[0].ID)

	raised, err := repo.ListByRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Len(t, raised, 2)

	got, err := repo.GetByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, privacy.ObligationVerified, got.Status)
}
