package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/audit"
	domainerrors "github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/infrastructure/crypto"
	"github.com/adminsuite/governance-backend/internal/infrastructure/repository"
)

// newTestCore assembles the full engine graph on in-memory storage
// with real crypto. Every facade test runs against this; nothing is
// mocked below the facade, so the tests exercise the same paths the
// binaries do.
func newTestCore(t *testing.T) *Core {
	return newTestCoreWith(t, nil)
}

func newTestCoreWith(t *testing.T, mutate func(*Deps)) *Core {
	t.Helper()

	master := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	keys, err := crypto.NewKeyring(master, "k1", nil)
	require.NoError(t, err)
	signer, err := crypto.NewTokenSigner(master, 1)
	require.NoError(t, err)
	pseudo, err := crypto.NewPseudonymizer(master)
	require.NoError(t, err)

	deps := Deps{
		Entries:      repository.NewAuditRepository(),
		Consents:     repository.NewConsentRepository(),
		Policies:     repository.NewRetentionPolicyRepository(),
		Records:      repository.NewPrivacyRecordRepository(),
		Deletions:    repository.NewDeletionRequestRepository(),
		Exports:      repository.NewExportRequestRepository(),
		Obligations:  repository.NewObligationRepository(),
		Instruments:  repository.NewInstrumentRepository(),
		Transactions: repository.NewTransactionRepository(),
		Refunds:      repository.NewRefundRepository(),
		Keys:         keys,
		Tokens:       signer,
		Pseudonyms:   pseudo,
		Environment:  "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	core, err := NewCore(context.Background(), deps, zaptest.NewLogger(t))
	require.NoError(t, err)
	return core
}

func officerPrincipal(t *testing.T) access.Principal {
	t.Helper()
	p, err := access.NewPrincipal("officer-1", access.RoleComplianceOfficer)
	require.NoError(t, err)
	return p
}

func adminPrincipal(t *testing.T) access.Principal {
	t.Helper()
	p, err := access.NewPrincipal("root-1", access.RoleAdmin)
	require.NoError(t, err)
	return p
}

func supportPrincipal(t *testing.T) access.Principal {
	t.Helper()
	p, err := access.NewPrincipal("support-1", access.RoleSupport)
	require.NoError(t, err)
	return p
}

func analystPrincipal(t *testing.T) access.Principal {
	t.Helper()
	p, err := access.NewPrincipal("analyst-1", access.RoleAnalyst)
	require.NoError(t, err)
	return p
}

func pipelinePrincipal(t *testing.T) access.Principal {
	t.Helper()
	p, err := access.NewPrincipal("ingest-api", access.RoleService)
	require.NoError(t, err)
	return p
}

func subjectPrincipal(t *testing.T, subjectID string) access.Principal {
	t.Helper()
	p, err := access.NewSubjectPrincipal(subjectID)
	require.NoError(t, err)
	return p
}

// countEntries reaches into the audit engine directly; the tests live
// in the same package, so they can assert on the trail without going
// through the gated query path.
func countEntries(t *testing.T, core *Core, filter audit.Filter) int64 {
	t.Helper()
	n, err := core.audit.Count(context.Background(), filter)
	require.NoError(t, err)
	return n
}

func countDenials(t *testing.T, core *Core) int64 {
	return countEntries(t, core, audit.Filter{Types: []audit.EntryType{audit.EntryAccessDenied}})
}

func TestNewCoreMissingDeps(t *testing.T) {
	ctx := context.Background()
	master := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	keys, err := crypto.NewKeyring(master, "k1", nil)
	require.NoError(t, err)

	_, err = NewCore(ctx, Deps{}, zaptest.NewLogger(t))
	require.Error(t, err, "no audit storage must abort assembly")

	_, err = NewCore(ctx, Deps{Entries: repository.NewAuditRepository()}, nil)
	require.Error(t, err, "nil logger must abort assembly")

	deps := Deps{
		Entries:  repository.NewAuditRepository(),
		Consents: repository.NewConsentRepository(),
		Policies: repository.NewRetentionPolicyRepository(),
		Records:  repository.NewPrivacyRecordRepository(),
		Keys:     keys,
	}
	_, err = NewCore(ctx, deps, zaptest.NewLogger(t))
	require.Error(t, err, "partial wiring must abort assembly")
}

func TestNewCoreStampsServiceName(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	require.NoError(t, core.RecordStartup(ctx, "v1.2.3"))

	entry, err := core.audit.GetBySequence(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, audit.EntrySystemStartup, entry.Type)
	assert.Equal(t, "governance", entry.Service)
	assert.Equal(t, "governance", entry.ActorID)
	assert.Equal(t, "test", entry.Environment)
	assert.Equal(t, "v1.2.3", entry.Metadata["version"])

	require.NoError(t, core.RecordShutdown(ctx))
	assert.Equal(t, int64(2), core.audit.LastSequence())
}

func TestAuthorizePassthrough(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	allowed := core.Authorize(ctx, officerPrincipal(t), access.ActionRead, "audit/entries")
	assert.True(t, allowed.Allowed)
	assert.EqualValues(t, 0, countDenials(t, core))

	denied := core.Authorize(ctx, analystPrincipal(t), access.ActionSweep, "retention/sweep")
	assert.False(t, denied.Allowed)
	assert.EqualValues(t, 1, countDenials(t, core), "the advisory check still records its denial")
}

func TestCheckRequestNeverEchoesValues(t *testing.T) {
	core := newTestCore(t)

	_, err := core.TokenizeInstrument(context.Background(), subjectPrincipal(t, "subj-1"), TokenizeRequest{
		SubjectID:   "subj-1",
		CardNumber:  "4242424242424299",
		CVC:         "123",
		ExpiryMonth: 12,
		ExpiryYear:  2031,
		Holder:      "Ada Lovelace",
	})
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "CardNumber")
	assert.NotContains(t, err.Error(), "4242", "validation errors must not carry card digits")

	assert.EqualValues(t, 0, countDenials(t, core), "malformed input fails before the policy check")
}

func TestMaintenancePassthroughs(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	expired, err := core.ExpireObligations(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)

	resealed, err := core.ResealProtectedRecords(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, resealed)

	assert.Nil(t, core.LastSweepReport(), "no sweep has run yet")
}
