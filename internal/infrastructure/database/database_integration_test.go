//go:build integration

package database_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/consent"
	"github.com/adminsuite/governance-backend/internal/domain/payment"
	"github.com/adminsuite/governance-backend/internal/domain/privacy"
	"github.com/adminsuite/governance-backend/internal/domain/retention"
	"github.com/adminsuite/governance-backend/internal/domain/values"
	"github.com/adminsuite/governance-backend/internal/infrastructure/config"
	"github.com/adminsuite/governance-backend/internal/infrastructure/database"
	"github.com/adminsuite/governance-backend/internal/testutil/containers"
)

// setupDatabase starts a disposable PostgreSQL container, connects a
// pool, and applies all migrations.
func setupDatabase(t *testing.T) *database.Pool {
	t.Helper()
	ctx := context.Background()

	pg, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pg.Terminate(context.Background())
	})

	pool, err := database.Connect(ctx, config.DatabaseConfig{URL: pg.ConnectionString},
		zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	driver, err := migratepg.WithInstance(pool.OpenSQL(), &migratepg.Config{})
	require.NoError(t, err)
	m, err := migrate.NewWithDatabaseInstance("file://../../../migrations", "postgres", driver)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	return pool
}

func frozenEntry(t *testing.T, seq int64, prev string) *audit.Entry {
	t.Helper()

	entry, err := audit.NewEntry(audit.EntryConsentRecorded, "svc-consent", "consent/records", "record")
	require.NoError(t, err)
	require.NoError(t, entry.WithMetadata("purpose", "marketing"))
	entry.SequenceNum = seq
	_, err = entry.ComputeHash(prev)
	require.NoError(t, err)
	return entry
}

func TestPostgresAuditRepository(t *testing.T) {
	pool := setupDatabase(t)
	ctx := context.Background()
	repo := database.NewAuditRepository(pool)

	seq, err := repo.NextSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	seq, err = repo.NextSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	first := frozenEntry(t, 1, "")
	require.NoError(t, repo.Store(ctx, first))
	second := frozenEntry(t, 2, first.EntryHash)
	require.NoError(t, repo.Store(ctx, second))

	mutable, err := audit.NewEntry(audit.EntryConsentRecorded, "svc-consent", "consent/records", "record")
	require.NoError(t, err)
	err = repo.Store(ctx, mutable)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MUTABLE_ENTRY")

	dupSeq := frozenEntry(t, 2, first.EntryHash)
	err = repo.Store(ctx, dupSeq)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.EntryHash, got.EntryHash)
	assert.Equal(t, first.Type, got.Type)
	assert.Equal(t, map[string]string{"purpose": "marketing"}, got.Metadata)

	got, err = repo.GetBySequence(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, first.EntryHash, got.PreviousHash)

	latest, err := repo.LatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest)

	page, err := repo.QueryPage(ctx, audit.Filter{ActorID: "svc-consent", AfterSequence: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].SequenceNum)

	count, err := repo.Count(ctx, audit.Filter{Types: []audit.EntryType{audit.EntryConsentRecorded}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ranged, err := repo.GetSequenceRange(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, int64(1), ranged[0].SequenceNum)

	expired, err := repo.GetExpired(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)

	marked, err := repo.MarkArchived(ctx, []uuid.UUID{first.ID, second.ID}, "s3://govern-archive/batch-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	expired, err = repo.GetExpired(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	marked, err = repo.MarkArchived(ctx, []uuid.UUID{first.ID}, "s3://govern-archive/batch-2")
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestPostgresConsentRepository(t *testing.T) {
	pool := setupDatabase(t)
	ctx := context.Background()
	repo := database.NewConsentRepository(pool)

	record, err := consent.NewRecord("subj-1", consent.PurposeMarketing, true, consent.SourceExplicit, "user/subj-1")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, record))

	got, err := repo.GetBySubjectAndPurpose(ctx, "subj-1", consent.PurposeMarketing)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	require.Len(t, got.Decisions, 1)
	assert.True(t, got.IsGranted(time.Now()))

	// Two writers race to append version 2; the one saving second loses.
	winner, err := repo.GetByID(ctx, record.ID)
	require.NoError(t, err)
	loser, err := repo.GetByID(ctx, record.ID)
	require.NoError(t, err)

	require.NoError(t, winner.Revoke(consent.SourceExplicit, "user/subj-1", "user opt-out"))
	require.NoError(t, repo.Save(ctx, winner))

	require.NoError(t, loser.Grant(consent.SourceImported, "batch/importer", nil))
	err = repo.Save(ctx, loser)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")

	got, err = repo.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentVersion)
	assert.False(t, got.IsGranted(time.Now()))
	require.Len(t, got.Decisions, 2)
	assert.Equal(t, "user opt-out", got.Decisions[1].Note)

	// A different record cannot take over an occupied pair.
	intruder, err := consent.NewRecord("subj-1", consent.PurposeMarketing, false, consent.SourceExplicit, "user/subj-1")
	require.NoError(t, err)
	err = repo.Save(ctx, intruder)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")

	other, err := consent.NewRecord("subj-1", consent.PurposeAnalytics, true, consent.SourceExplicit, "user/subj-1")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, other))

	records, err := repo.ListBySubject(ctx, "subj-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, consent.PurposeAnalytics, records[0].Purpose)
	assert.Equal(t, consent.PurposeMarketing, records[1].Purpose)

	granted := true
	found, err := repo.Find(ctx, consent.Filter{Granted: &granted})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, consent.PurposeAnalytics, found[0].Purpose)

	subject := "subj-1"
	count, err := repo.Count(ctx, consent.Filter{SubjectID: &subject})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestPostgresRetentionPolicyRepository(t *testing.T) {
	pool := setupDatabase(t)
	ctx := context.Background()
	repo := database.NewRetentionPolicyRepository(pool)

	policy, err := retention.NewPolicy(retention.CategoryContact, 365, retention.ActionPurge, "contract")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, policy))

	replacement, err := retention.NewPolicy(retention.CategoryContact, 90, retention.ActionAnonymize, "legitimate_interest")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, replacement))

	got, err := repo.GetByCategory(ctx, retention.CategoryContact)
	require.NoError(t, err)
	assert.Equal(t, 90, got.Retention.Days())
	assert.Equal(t, retention.ActionAnonymize, got.Action)

	behavioral, err := retention.NewPolicy(retention.CategoryBehavioral, 30, retention.ActionPurge, "")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, behavioral))

	policies, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, retention.CategoryBehavioral, policies[0].Category)
	assert.Equal(t, retention.CategoryContact, policies[1].Category)

	require.NoError(t, repo.Delete(ctx, retention.CategoryBehavioral))
	err = repo.Delete(ctx, retention.CategoryBehavioral)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func testEnvelope(keyID string) privacy.Envelope {
	return privacy.Envelope{
		KeyID:      keyID,
		Algorithm:  privacy.AlgorithmAESGCM,
		Nonce:      bytes.Repeat([]byte{0x01}, privacy.GCMNonceSize),
		Ciphertext: bytes.Repeat([]byte{0x02}, 24),
	}
}

func TestPostgresRecordRepository(t *testing.T) {
	pool := setupDatabase(t)
	ctx := context.Background()
	repo := database.NewRecordRepository(pool)

	record, err := privacy.NewSensitiveRecord("subj-1", retention.CategoryContact)
	require.NoError(t, err)
	require.NoError(t, record.SetPlainField("city", "Lisbon"))
	require.NoError(t, record.PutProtectedField("email", testEnvelope("govern-key-1")))
	require.NoError(t, repo.Save(ctx, record))

	got, err := repo.GetBySubjectAndCategory(ctx, "subj-1", retention.CategoryContact)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, testEnvelope("govern-key-1"), got.ProtectedFields["email"])
	city, ok := got.PlainField("city")
	require.True(t, ok)
	assert.Equal(t, "Lisbon", city)

	// The pair constraint blocks a second record for the same
	// (subject, category).
	dup, err := privacy.NewSensitiveRecord("subj-1", retention.CategoryContact)
	require.NoError(t, err)
	err = repo.Save(ctx, dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")

	// Anonymization rewrites the subject ID; lookups follow the
	// pseudonym and the old pair slot frees up.
	require.NoError(t, got.MarkEligible())
	require.NoError(t, got.Anonymize("anon_9f2c", time.Now()))
	require.NoError(t, repo.Save(ctx, got))

	_, err = repo.GetBySubjectAndCategory(ctx, "subj-1", retention.CategoryContact)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")

	moved, err := repo.GetBySubjectAndCategory(ctx, "anon_9f2c", retention.CategoryContact)
	require.NoError(t, err)
	assert.Equal(t, record.ID, moved.ID)

	refill, err := privacy.NewSensitiveRecord("subj-1", retention.CategoryContact)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, refill))

	// Key rotation sweeps find records by the key their envelopes were
	// sealed under.
	other, err := privacy.NewSensitiveRecord("subj-2", retention.CategoryBehavioral)
	require.NoError(t, err)
	require.NoError(t, other.PutProtectedField("pageview", testEnvelope("govern-key-2")))
	require.NoError(t, repo.Save(ctx, other))

	underKey, err := repo.ListByKeyID(ctx, "govern-key-2", 10)
	require.NoError(t, err)
	require.Len(t, underKey, 1)
	assert.Equal(t, other.ID, underKey[0].ID)

	active, err := repo.ListByStatus(ctx, retention.StatusActive, 0)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, repo.Delete(ctx, other.ID))
	err = repo.Delete(ctx, other.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestPostgresRequestRepositories(t *testing.T) {
	pool := setupDatabase(t)
	ctx := context.Background()
	deletions := database.NewDeletionRequestRepository(pool)
	exports := database.NewExportRequestRepository(pool)
	obligations := database.NewObligationRepository(pool)

	request, err := privacy.NewDeletionRequest("subj-1", "user/subj-1")
	require.NoError(t, err)
	require.NoError(t, deletions.Save(ctx, request))

	// Two workers claim the same pending request; the second save is a
	// conflict.
	workerA, err := deletions.GetByID(ctx, request.ID)
	require.NoError(t, err)
	workerB, err := deletions.GetByID(ctx, request.ID)
	require.NoError(t, err)

	require.NoError(t, workerA.Start())
	require.NoError(t, deletions.Save(ctx, workerA))

	require.NoError(t, workerB.Start())
	err = deletions.Save(ctx, workerB)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already claimed by another worker")

	require.NoError(t, workerA.Complete(privacy.ResultSummary{RecordsExamined: 3, RecordsErased: 2}))
	require.NoError(t, deletions.Save(ctx, workerA))

	err = deletions.Save(ctx, workerB)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already finalized")

	final, err := deletions.GetLatestBySubject(ctx, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, privacy.RequestStatusCompleted, final.Status)
	require.NotNil(t, final.Summary)
	assert.Equal(t, 2, final.Summary.RecordsErased)

	pending, err := deletions.ListByStatus(ctx, privacy.RequestStatusPending, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	export, err := privacy.NewExportRequest("subj-1", "user/subj-1", values.DefaultExportFormat())
	require.NoError(t, err)
	require.NoError(t, exports.Save(ctx, export))
	require.NoError(t, export.Start())
	require.NoError(t, exports.Save(ctx, export))
	require.NoError(t, export.Complete(testEnvelope("govern-key-1"), 4))
	require.NoError(t, exports.Save(ctx, export))

	gotExport, err := exports.GetByID(ctx, export.ID)
	require.NoError(t, err)
	assert.Equal(t, privacy.RequestStatusCompleted, gotExport.Status)
	assert.Equal(t, 4, gotExport.RecordCount)
	require.NotNil(t, gotExport.Result)
	assert.Equal(t, "govern-key-1", gotExport.Result.KeyID)

	near, err := privacy.NewPropagationObligation(request.ID, "subj-1", privacy.TargetBackups, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	far, err := privacy.NewPropagationObligation(request.ID, "subj-1", privacy.TargetProcessor, time.Now().Add(72*time.Hour))
	require.NoError(t, err)
	require.NoError(t, obligations.Save(ctx, far))
	require.NoError(t, obligations.Save(ctx, near))

	open, err := obligations.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, near.ID, open[0].ID)

	expiring, err := obligations.ListExpiring(ctx, time.Now().Add(36*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, near.ID, expiring[0].ID)

	raised, err := obligations.ListByRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Len(t, raised, 2)
}

func TestPostgresPaymentRepositories(t *testing.T) {
	pool := setupDatabase(t)
	ctx := context.Background()
	instruments := database.NewInstrumentRepository(pool)
	transactions := database.NewTransactionRepository(pool)
	refunds := database.NewRefundRepository(pool)

	token, err := payment.NewTokenFromSum(bytes.Repeat([]byte{0xAB}, 32))
	require.NoError(t, err)
	raw, err := payment.NewRawInstrument("4242 4242 4242 4242", "123", 12, 2030, "Ada Lovelace")
	require.NoError(t, err)
	instrument, err := payment.NewStoredInstrument(token, "subj-1", raw, 1)
	require.NoError(t, err)

	require.NoError(t, instruments.Save(ctx, instrument))
	require.NoError(t, instruments.Save(ctx, instrument))

	mine, err := instruments.ListBySubject(ctx, "subj-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "4242", mine[0].Last4)
	assert.Equal(t, "visa", mine[0].Brand)

	epoch1, err := instruments.ListByKeyEpoch(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, epoch1, 1)

	charge, err := payment.NewTransaction(token, "subj-1", values.MustNewMoneyFromString("19.99", "USD"), "subscription")
	require.NoError(t, err)
	require.NoError(t, charge.Complete())
	require.NoError(t, transactions.Save(ctx, charge))

	gotCharge, err := transactions.GetByID(ctx, charge.ID)
	require.NoError(t, err)
	assert.True(t, gotCharge.Amount.Equal(values.MustNewMoneyFromString("19.99", "USD")))
	assert.Equal(t, payment.TransactionStatusCompleted, gotCharge.Status)
	require.NotNil(t, gotCharge.ProcessedAt)

	bySubject, err := transactions.ListBySubject(ctx, "subj-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, bySubject, 1)

	byToken, err := transactions.ListByToken(ctx, token)
	require.NoError(t, err)
	require.Len(t, byToken, 1)

	refund, err := payment.NewRefund(charge.ID, values.MustNewMoneyFromString("5.00", "USD"), "partial return")
	require.NoError(t, err)
	require.NoError(t, refunds.Save(ctx, refund))

	issued, err := refunds.ListByTransaction(ctx, charge.ID)
	require.NoError(t, err)
	require.Len(t, issued, 1)
	assert.True(t, issued[0].Amount.Equal(values.MustNewMoneyFromString("5.00", "USD")))

	require.NoError(t, instruments.Delete(ctx, token))
	err = instruments.Delete(ctx, token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}
