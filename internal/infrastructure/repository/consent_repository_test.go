package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adminsuite/governance-backend/internal/domain/consent"
)

func newConsentRecord(t *testing.T, subjectID string, purpose consent.Purpose, granted bool) *consent.Record {
	t.Helper()

	record, err := consent.NewRecord(subjectID, purpose, granted, consent.SourceExplicit, "user/"+subjectID)
	require.NoError(t, err)
	return record
}

func TestConsentRepositorySaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewConsentRepository()

	record := newConsentRecord(t, "subj-1", consent.PurposeMarketing, true)
	require.NoError(t, repo.Save(ctx, record))

	got, err := repo.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, 1, got.CurrentVersion)

	got, err = repo.GetBySubjectAndPurpose(ctx, "subj-1", consent.PurposeMarketing)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)

	_, err = repo.GetBySubjectAndPurpose(ctx, "subj-1", consent.PurposeAnalytics)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE_NOT_FOUND")

	_, err = repo.GetByID(ctx, uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE_NOT_FOUND")
}

func TestConsentRepositoryVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewConsentRepository()

	record := newConsentRecord(t, "subj-1", consent.PurposeMarketing, true)
	require.NoError(t, repo.Save(ctx, record))

	// Two writers load version 1 and both append version 2. The
	// second save must lose.
	first, err := repo.GetByID(ctx, record.ID)
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, record.ID)
	require.NoError(t, err)

	require.NoError(t, first.Revoke(consent.SourceExplicit, "user/subj-1", "opt out"))
	require.NoError(t, repo.Save(ctx, first))

	require.NoError(t, second.Grant(consent.SourceExplicit, "user/subj-1", nil))
	err = repo.Save(ctx, second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")

	// The winning revocation is what stuck.
	got, err := repo.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentVersion)
	assert.False(t, got.IsGranted(time.Now()))
}

func TestConsentRepositoryPairUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewConsentRepository()

	require.NoError(t, repo.Save(ctx, newConsentRecord(t, "subj-1", consent.PurposeMarketing, true)))

	rival := newConsentRecord(t, "subj-1", consent.PurposeMarketing, false)
	err := repo.Save(ctx, rival)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")

	// A different purpose for the same subject is a separate record.
	require.NoError(t, repo.Save(ctx, newConsentRecord(t, "subj-1", consent.PurposeAnalytics, true)))
}

func TestConsentRepositorySaveIsolation(t *testing.T) {
	ctx := context.Background()
	repo := NewConsentRepository()

	record := newConsentRecord(t, "subj-1", consent.PurposeMarketing, true)
	require.NoError(t, repo.Save(ctx, record))

	// Mutating the caller's copy after save must not leak into the
	// stored record.
	record.Decisions[0].Actor = "tampered"

	got, err := repo.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "user/subj-1", got.Decisions[0].Actor)

	// Same for the copy handed back by a read.
	got.Decisions[0].Actor = "tampered"
	again, err := repo.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "user/subj-1", again.Decisions[0].Actor)
}

func TestConsentRepositoryListAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewConsentRepository()

	granted := newConsentRecord(t, "subj-1", consent.PurposeMarketing, true)
	revoked := newConsentRecord(t, "subj-1", consent.PurposeAnalytics, false)
	other := newConsentRecord(t, "subj-2", consent.PurposeMarketing, true)
	require.NoError(t, repo.Save(ctx, granted))
	require.NoError(t, repo.Save(ctx, revoked))
	require.NoError(t, repo.Save(ctx, other))

	records, err := repo.ListBySubject(ctx, "subj-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, consent.PurposeAnalytics, records[0].Purpose)
	assert.Equal(t, consent.PurposeMarketing, records[1].Purpose)

	subject := "subj-1"
	isGranted := true
	found, err := repo.Find(ctx, consent.Filter{SubjectID: &subject, Granted: &isGranted})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, granted.ID, found[0].ID)

	count, err := repo.Count(ctx, consent.Filter{SubjectID: &subject})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	limited, err := repo.Find(ctx, consent.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	offset, err := repo.Find(ctx, consent.Filter{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, offset)
}
