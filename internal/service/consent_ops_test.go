package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adminsuite/governance-backend/internal/domain/audit"
	domainerrors "github.com/adminsuite/governance-backend/internal/domain/errors"
)

func TestRecordAndCheckConsent(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	owner := subjectPrincipal(t, "subj-1")

	record, err := core.RecordConsent(ctx, owner, RecordConsentRequest{
		SubjectID: "subj-1",
		Purpose:   "marketing",
		Granted:   true,
		Source:    "explicit",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, record.CurrentVersion)

	granted, err := core.CheckConsent(ctx, owner, CheckConsentRequest{SubjectID: "subj-1", Purpose: "marketing"})
	require.NoError(t, err)
	assert.True(t, granted)

	// The pipeline checks any subject; staff rights are not ownership
	// bound.
	granted, err = core.CheckConsent(ctx, pipelinePrincipal(t), CheckConsentRequest{SubjectID: "subj-1", Purpose: "marketing"})
	require.NoError(t, err)
	assert.True(t, granted)

	assert.EqualValues(t, 1, countEntries(t, core, audit.Filter{Types: []audit.EntryType{audit.EntryConsentRecorded}}))
}

func TestRecordConsentOwnershipBound(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	_, err := core.RecordConsent(ctx, subjectPrincipal(t, "subj-2"), RecordConsentRequest{
		SubjectID: "subj-1",
		Purpose:   "marketing",
		Granted:   true,
		Source:    "explicit",
	})
	require.ErrorIs(t, err, domainerrors.ErrAccessDenied)
	assert.EqualValues(t, 1, countDenials(t, core))

	// Support records on a subject's behalf.
	_, err = core.RecordConsent(ctx, supportPrincipal(t), RecordConsentRequest{
		SubjectID: "subj-1",
		Purpose:   "marketing",
		Granted:   true,
		Source:    "explicit",
	})
	require.NoError(t, err)
}

func TestRecordConsentRejectsUnknownVocabulary(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	owner := subjectPrincipal(t, "subj-1")

	_, err := core.RecordConsent(ctx, owner, RecordConsentRequest{
		SubjectID: "subj-1",
		Purpose:   "world_domination",
		Granted:   true,
		Source:    "explicit",
	})
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))

	_, err = core.RecordConsent(ctx, owner, RecordConsentRequest{
		SubjectID: "subj-1",
		Purpose:   "marketing",
		Granted:   true,
		Source:    "osmosis",
	})
	require.Error(t, err)

	_, err = core.RecordConsent(ctx, owner, RecordConsentRequest{Purpose: "marketing", Source: "explicit"})
	require.Error(t, err, "missing subject must fail the struct tags")

	assert.EqualValues(t, 0, countDenials(t, core), "vocabulary failures happen before the policy check")
	assert.EqualValues(t, 0, countEntries(t, core, audit.Filter{Types: []audit.EntryType{audit.EntryConsentRecorded}}))
}

func TestCheckConsentUnknownPairAnswersFalse(t *testing.T) {
	core := newTestCore(t)

	granted, err := core.CheckConsent(context.Background(), pipelinePrincipal(t), CheckConsentRequest{
		SubjectID: "never-seen",
		Purpose:   "analytics",
	})
	require.NoError(t, err)
	assert.False(t, granted, "no recorded decision means no consent")
}

func TestConsentHistoryKeepsEveryVersion(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	owner := subjectPrincipal(t, "subj-1")

	_, err := core.RecordConsent(ctx, owner, RecordConsentRequest{
		SubjectID: "subj-1", Purpose: "analytics", Granted: true, Source: "explicit",
	})
	require.NoError(t, err)
	_, err = core.RecordConsent(ctx, owner, RecordConsentRequest{
		SubjectID: "subj-1", Purpose: "analytics", Granted: false, Source: "explicit", Note: "changed my mind",
	})
	require.NoError(t, err)

	history, err := core.ConsentHistory(ctx, officerPrincipal(t), CheckConsentRequest{
		SubjectID: "subj-1", Purpose: "analytics",
	})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Granted)
	assert.False(t, history[1].Granted)
	assert.Greater(t, history[1].Version, history[0].Version)

	granted, err := core.CheckConsent(ctx, owner, CheckConsentRequest{SubjectID: "subj-1", Purpose: "analytics"})
	require.NoError(t, err)
	assert.False(t, granted, "the newest decision wins")
}

func TestLegitimateInterestBypassIsAudited(t *testing.T) {
	core := newTestCoreWith(t, func(d *Deps) {
		d.LegitimatePurposes = []string{"fraud_prevention"}
	})
	ctx := context.Background()

	granted, err := core.CheckConsent(ctx, pipelinePrincipal(t), CheckConsentRequest{
		SubjectID: "never-seen",
		Purpose:   "fraud_prevention",
	})
	require.NoError(t, err)
	assert.True(t, granted, "a configured legitimate purpose answers true without a grant")

	assert.EqualValues(t, 1, countEntries(t, core, audit.Filter{
		Types: []audit.EntryType{audit.EntryLegitimateInterestHit},
	}), "every bypass leaves a trace")
}
