package privacy

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/consent"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/payment"
	"github.com/adminsuite/governance-backend/internal/domain/privacy"
	"github.com/adminsuite/governance-backend/internal/domain/values"
	"github.com/adminsuite/governance-backend/internal/infrastructure/events"
	"github.com/adminsuite/governance-backend/internal/infrastructure/telemetry"
	"github.com/adminsuite/governance-backend/internal/metrics"
	"github.com/adminsuite/governance-backend/internal/service/keylock"
)

const (
	defaultObligationDeadline = 72 * time.Hour

	// transactionPage sizes the export's walk over a subject's charges.
	transactionPage = 500
)

// SubjectCache drops a subject's cached consent answers after an
// erasure revokes them. Optional; a nil cache skips the step.
type SubjectCache interface {
	InvalidateSubject(ctx context.Context, subjectID string) error
}

// ProcessorDeps wires the processor's collaborators. Notifier, Cache,
// Metrics, and Locks are optional.
type ProcessorDeps struct {
	Records      privacy.RecordRepository
	Deletions    privacy.DeletionRequestRepository
	Exports      privacy.ExportRequestRepository
	Obligations  privacy.ObligationRepository
	Consents     consent.Repository
	Instruments  payment.InstrumentRepository
	Transactions payment.TransactionRepository
	Sealer       Sealer
	Auditor      Auditor
	Notifier     events.ErasureNotifier
	Cache        SubjectCache
	Metrics      *metrics.Registry
	Locks        *keylock.Striped

	// ObligationDeadline bounds how long secondary stores have to
	// confirm an erasure. Zero selects the default.
	ObligationDeadline time.Duration

	// FieldPolicy decides which field names an export may disclose.
	// Nil selects the default policy.
	FieldPolicy *privacy.FieldPolicy
}

// Processor executes right-to-erasure and right-to-access requests.
// Each request is a persisted work item moving pending, in_progress,
// then completed or failed; a terminal completed request is replayed
// from its stored result instead of being reprocessed. Erasure
// destroys protected content in the primary store synchronously and
// raises deadline-bearing obligations for the stores it cannot reach.
type Processor struct {
	records      privacy.RecordRepository
	deletions    privacy.DeletionRequestRepository
	exports      privacy.ExportRequestRepository
	obligations  privacy.ObligationRepository
	consents     consent.Repository
	instruments  payment.InstrumentRepository
	transactions payment.TransactionRepository
	sealer       Sealer
	auditor      Auditor
	notifier     events.ErasureNotifier
	cache        SubjectCache
	metrics      *metrics.Registry
	locks        *keylock.Striped
	tracer       trace.Tracer
	logger       *zap.Logger
	deadline     time.Duration
	fieldPolicy  privacy.FieldPolicy
}

// NewProcessor builds the privacy request processor.
func NewProcessor(deps ProcessorDeps, logger *zap.Logger) (*Processor, error) {
	switch {
	case deps.Records == nil:
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "record repository is required")
	case deps.Deletions == nil:
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "deletion request repository is required")
	case deps.Exports == nil:
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "export request repository is required")
	case deps.Obligations == nil:
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "obligation repository is required")
	case deps.Consents == nil:
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "consent repository is required")
	case deps.Instruments == nil:
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "instrument repository is required")
	case deps.Transactions == nil:
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "transaction repository is required")
	case deps.Sealer == nil:
		return nil, errors.NewValidationError("MISSING_KEYRING", "sealer is required")
	case deps.Auditor == nil:
		return nil, errors.NewValidationError("MISSING_AUDITOR", "auditor is required")
	}
	if logger == nil {
		return nil, errors.NewValidationError("MISSING_LOGGER", "logger is required")
	}

	deadline := deps.ObligationDeadline
	if deadline <= 0 {
		deadline = defaultObligationDeadline
	}
	policy := privacy.DefaultFieldPolicy()
	if deps.FieldPolicy != nil {
		policy = *deps.FieldPolicy
	}
	locks := deps.Locks
	if locks == nil {
		locks = keylock.NewStriped(0)
	}

	return &Processor{
		records:      deps.Records,
		deletions:    deps.Deletions,
		exports:      deps.Exports,
		obligations:  deps.Obligations,
		consents:     deps.Consents,
		instruments:  deps.Instruments,
		transactions: deps.Transactions,
		sealer:       deps.Sealer,
		auditor:      deps.Auditor,
		notifier:     deps.Notifier,
		cache:        deps.Cache,
		metrics:      deps.Metrics,
		locks:        locks,
		tracer:       telemetry.Tracer("governance.privacy"),
		logger:       logger.With(zap.String("service", "privacy-processor")),
		deadline:     deadline,
		fieldPolicy:  policy,
	}, nil
}

// RequestDeletion accepts and executes a right-to-erasure request for
// a subject. Re-requesting after completion does not reprocess: the
// stored request is returned and a single replay entry marks the
// repeat. A failed request does not block a fresh one.
func (p *Processor) RequestDeletion(ctx context.Context, principal access.Principal, subjectID string) (*privacy.DeletionRequest, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}

	latest, err := p.deletions.GetLatestBySubject(ctx, subjectID)
	switch {
	case err == nil:
		if latest.Status == privacy.RequestStatusCompleted {
			meta := map[string]string{"request_id": latest.ID.String()}
			if err := p.appendEntry(ctx, audit.EntryErasureReplayed, principal,
				"privacy/deletions", "request", subjectID, meta); err != nil {
				return nil, err
			}
			return latest, nil
		}
		if !latest.IsTerminal() {
			return latest, nil
		}
	case errors.IsNotFound(err):
	default:
		return nil, err
	}

	request, err := privacy.NewDeletionRequest(subjectID, principal.String())
	if err != nil {
		return nil, err
	}
	meta := map[string]string{"request_id": request.ID.String()}
	if err := p.appendEntry(ctx, audit.EntryErasureRequested, principal,
		"privacy/deletions", "request", subjectID, meta); err != nil {
		return nil, err
	}
	if err := p.deletions.Save(ctx, request); err != nil {
		p.appendFailure(ctx, audit.EntryErasureRequested, principal,
			"privacy/deletions", "request", subjectID, err, meta)
		return nil, err
	}

	started := time.Now()
	request, err = p.processDeletion(ctx, principal, request)
	if p.metrics != nil {
		p.metrics.RecordPrivacyRequest(ctx, time.Since(started).Seconds(), "deletion", err == nil)
	}
	return request, err
}

// processDeletion runs one claimed request to a terminal state.
func (p *Processor) processDeletion(ctx context.Context, principal access.Principal, request *privacy.DeletionRequest) (*privacy.DeletionRequest, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, p.tracer, "privacy", "deletion")
	defer span.End()

	if err := request.Start(); err != nil {
		return request, err
	}
	if err := p.deletions.Save(ctx, request); err != nil {
		if errors.IsConflict(err) {
			// Another worker claimed it. Their run owns the outcome.
			return p.deletions.GetByID(ctx, request.ID)
		}
		return request, err
	}

	subjectID := request.SubjectID
	unlock := p.locks.Lock(subjectID)
	defer unlock()

	var (
		recs        []*privacy.SensitiveRecord
		consentRecs []*consent.Record
		instruments []*payment.StoredInstrument
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recs, err = p.records.ListBySubject(gctx, subjectID)
		return err
	})
	g.Go(func() error {
		var err error
		consentRecs, err = p.consents.ListBySubject(gctx, subjectID)
		return err
	})
	g.Go(func() error {
		var err error
		instruments, err = p.instruments.ListBySubject(gctx, subjectID)
		return err
	})
	if err := g.Wait(); err != nil {
		return request, p.failDeletion(ctx, principal, request, "collect subject data", err)
	}

	now := time.Now()
	var summary privacy.ResultSummary

	for _, record := range recs {
		summary.RecordsExamined++
		if record.IsSwept() {
			continue
		}
		if record.IsErased() && len(record.ProtectedFields) == 0 {
			continue
		}
		destroyed, err := record.Erase(now)
		if err == nil {
			err = p.records.Save(ctx, record)
		}
		if err != nil {
			return request, p.failDeletion(ctx, principal, request, "erase records", err)
		}
		summary.RecordsErased++
		summary.FieldsDestroyed += destroyed
	}

	for _, rec := range consentRecs {
		latest := rec.Latest()
		if latest == nil || !latest.Granted {
			continue
		}
		meta := map[string]string{
			"purpose":    string(rec.Purpose),
			"basis":      "erasure",
			"request_id": request.ID.String(),
		}
		if err := p.appendEntry(ctx, audit.EntryConsentRevoked, principal,
			"consent/records", "record", subjectID, meta); err != nil {
			return request, p.failDeletion(ctx, principal, request, "revoke consents", err)
		}
		if err := rec.Revoke(consent.SourceExplicit, request.RequestedBy, "subject erasure"); err != nil {
			return request, p.failDeletion(ctx, principal, request, "revoke consents", err)
		}
		if err := p.consents.Save(ctx, rec); err != nil {
			return request, p.failDeletion(ctx, principal, request, "revoke consents", err)
		}
		rec.ClearEvents()
		summary.ConsentsRevoked++
	}

	for _, inst := range instruments {
		if inst.IsRevoked() {
			continue
		}
		if err := inst.Revoke(now); err != nil {
			return request, p.failDeletion(ctx, principal, request, "revoke instruments", err)
		}
		if err := p.instruments.Save(ctx, inst); err != nil {
			return request, p.failDeletion(ctx, principal, request, "revoke instruments", err)
		}
		summary.InstrumentsRevoked++
	}

	// Backups and replicas hold copies this process cannot reach. Each
	// gets a deadline-bearing obligation instead of a silent promise.
	for _, target := range []privacy.ObligationTarget{privacy.TargetBackups, privacy.TargetReplicas} {
		obligation, err := privacy.NewPropagationObligation(request.ID, subjectID, target, now.Add(p.deadline))
		if err != nil {
			return request, p.failDeletion(ctx, principal, request, "raise obligations", err)
		}
		meta := map[string]string{
			"obligation_id": obligation.ID.String(),
			"target":        string(target),
			"deadline":      obligation.Deadline.Format(time.RFC3339),
			"request_id":    request.ID.String(),
		}
		if err := p.appendEntry(ctx, audit.EntryObligationRaised, principal,
			"privacy/obligations", "raise", subjectID, meta); err != nil {
			return request, p.failDeletion(ctx, principal, request, "raise obligations", err)
		}
		if err := p.obligations.Save(ctx, obligation); err != nil {
			return request, p.failDeletion(ctx, principal, request, "raise obligations", err)
		}
		summary.ObligationsRaised++
	}

	if err := request.Complete(summary); err != nil {
		return request, err
	}
	meta := summary.MetadataPairs()
	meta["request_id"] = request.ID.String()
	if err := p.appendEntry(ctx, audit.EntryErasureCompleted, principal,
		"privacy/deletions", "erase", subjectID, meta); err != nil {
		p.logger.Error("erasure done but completion entry failed, request left in progress",
			zap.String("request_id", request.ID.String()), zap.Error(err))
		return request, err
	}
	if err := p.deletions.Save(ctx, request); err != nil {
		p.logger.Error("erasure done but request row not updated",
			zap.String("request_id", request.ID.String()), zap.Error(err))
		return request, err
	}

	if p.cache != nil {
		if err := p.cache.InvalidateSubject(ctx, subjectID); err != nil {
			p.logger.Warn("consent cache invalidation failed", zap.Error(err))
		}
	}
	if p.notifier != nil {
		notice := events.ErasureNotice{
			RequestID:   request.ID,
			SubjectID:   subjectID,
			CompletedAt: *request.CompletedAt,
			Targets:     []string{"records", "consents", "instruments"},
		}
		if err := p.notifier.NotifyErasure(ctx, notice); err != nil {
			p.logger.Warn("erasure notification failed", zap.Error(err))
		}
	}

	p.logger.Info("erasure completed",
		zap.String("request_id", request.ID.String()),
		zap.Int("records_erased", summary.RecordsErased),
		zap.Int("fields_destroyed", summary.FieldsDestroyed),
		zap.Int("consents_revoked", summary.ConsentsRevoked),
		zap.Int("instruments_revoked", summary.InstrumentsRevoked),
		zap.Int("obligations_raised", summary.ObligationsRaised))
	return request, nil
}

// failDeletion closes the request as failed. Work already done stays
// done; re-requesting erasure opens a fresh request.
func (p *Processor) failDeletion(ctx context.Context, principal access.Principal, request *privacy.DeletionRequest, stage string, cause error) error {
	telemetry.WithSpanError(trace.SpanFromContext(ctx), cause)
	p.logger.Error("erasure failed",
		zap.String("request_id", request.ID.String()),
		zap.String("stage", stage),
		zap.Error(cause))

	if err := request.Fail(errors.Code(cause), fmt.Sprintf("failed to %s", stage)); err != nil {
		return cause
	}
	meta := map[string]string{
		"request_id":   request.ID.String(),
		"failure_code": errors.Code(cause),
		"stage":        stage,
	}
	if err := p.appendEntry(ctx, audit.EntryErasureFailed, principal,
		"privacy/deletions", "erase", request.SubjectID, meta); err != nil {
		p.logger.Error("failed to record erasure failure", zap.Error(err))
	}
	if err := p.deletions.Save(ctx, request); err != nil {
		p.logger.Error("failed to persist failed request", zap.Error(err))
	}
	return cause
}

// RequestExport accepts and executes a right-to-access request. A
// completed request replays its stored sealed bundle; the repeat is
// marked with a single replay entry and the subject's records are not
// touched again.
func (p *Processor) RequestExport(ctx context.Context, principal access.Principal, subjectID string, format values.ExportFormat) (*privacy.ExportRequest, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}

	latest, err := p.exports.GetLatestBySubject(ctx, subjectID)
	switch {
	case err == nil:
		if latest.Status == privacy.RequestStatusCompleted {
			meta := map[string]string{
				"request_id":   latest.ID.String(),
				"record_count": strconv.Itoa(latest.RecordCount),
			}
			if err := p.appendEntry(ctx, audit.EntryExportReplayed, principal,
				"privacy/exports", "request", subjectID, meta); err != nil {
				return nil, err
			}
			return latest, nil
		}
		if !latest.IsTerminal() {
			return latest, nil
		}
	case errors.IsNotFound(err):
	default:
		return nil, err
	}

	request, err := privacy.NewExportRequest(subjectID, principal.String(), format)
	if err != nil {
		return nil, err
	}
	meta := map[string]string{
		"request_id": request.ID.String(),
		"format":     request.Format.String(),
	}
	if err := p.appendEntry(ctx, audit.EntryExportRequested, principal,
		"privacy/exports", "request", subjectID, meta); err != nil {
		return nil, err
	}
	if err := p.exports.Save(ctx, request); err != nil {
		p.appendFailure(ctx, audit.EntryExportRequested, principal,
			"privacy/exports", "request", subjectID, err, meta)
		return nil, err
	}

	started := time.Now()
	request, err = p.processExport(ctx, principal, request)
	if p.metrics != nil {
		p.metrics.RecordPrivacyRequest(ctx, time.Since(started).Seconds(), "export", err == nil)
	}
	return request, err
}

// processExport gathers the subject's data, applies the field policy,
// serializes the bundle, and stores it sealed on the request.
func (p *Processor) processExport(ctx context.Context, principal access.Principal, request *privacy.ExportRequest) (*privacy.ExportRequest, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, p.tracer, "privacy", "export")
	defer span.End()

	if err := request.Start(); err != nil {
		return request, err
	}
	if err := p.exports.Save(ctx, request); err != nil {
		if errors.IsConflict(err) {
			return p.exports.GetByID(ctx, request.ID)
		}
		return request, err
	}

	subjectID := request.SubjectID
	unlock := p.locks.Lock(subjectID)
	defer unlock()

	var (
		recs         []*privacy.SensitiveRecord
		consentRecs  []*consent.Record
		instruments  []*payment.StoredInstrument
		transactions []*payment.Transaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recs, err = p.records.ListBySubject(gctx, subjectID)
		return err
	})
	g.Go(func() error {
		var err error
		consentRecs, err = p.consents.ListBySubject(gctx, subjectID)
		return err
	})
	g.Go(func() error {
		var err error
		instruments, err = p.instruments.ListBySubject(gctx, subjectID)
		return err
	})
	g.Go(func() error {
		for offset := 0; ; offset += transactionPage {
			page, err := p.transactions.ListBySubject(gctx, subjectID, transactionPage, offset)
			if err != nil {
				return err
			}
			transactions = append(transactions, page...)
			if len(page) < transactionPage {
				return nil
			}
		}
	})
	if err := g.Wait(); err != nil {
		return request, p.failExport(ctx, principal, request, "collect subject data", err)
	}

	bundle, err := p.buildBundle(subjectID, consentRecs, recs, instruments, transactions)
	if err != nil {
		return request, p.failExport(ctx, principal, request, "assemble bundle", err)
	}
	data, err := encodeBundle(bundle, request.Format)
	if err != nil {
		return request, p.failExport(ctx, principal, request, "serialize bundle", err)
	}

	// The bundle is subject data at rest; it is stored sealed like any
	// other protected value.
	envelope, err := p.sealer.Seal(data)
	if err != nil {
		return request, p.failExport(ctx, principal, request, "seal bundle", err)
	}
	if err := request.Complete(envelope, bundle.RecordTotal()); err != nil {
		return request, err
	}

	meta := map[string]string{
		"request_id":   request.ID.String(),
		"format":       request.Format.String(),
		"consents":     strconv.Itoa(len(bundle.Consents)),
		"records":      strconv.Itoa(len(bundle.Records)),
		"transactions": strconv.Itoa(len(bundle.Transactions)),
		"total":        strconv.Itoa(bundle.RecordTotal()),
	}
	if err := p.appendEntry(ctx, audit.EntryExportCompleted, principal,
		"privacy/exports", "export", subjectID, meta); err != nil {
		p.logger.Error("export done but completion entry failed, request left in progress",
			zap.String("request_id", request.ID.String()), zap.Error(err))
		return request, err
	}
	if err := p.exports.Save(ctx, request); err != nil {
		p.logger.Error("export done but request row not updated",
			zap.String("request_id", request.ID.String()), zap.Error(err))
		return request, err
	}

	p.logger.Info("export completed",
		zap.String("request_id", request.ID.String()),
		zap.String("format", request.Format.String()),
		zap.Int("total", bundle.RecordTotal()))
	return request, nil
}

func (p *Processor) failExport(ctx context.Context, principal access.Principal, request *privacy.ExportRequest, stage string, cause error) error {
	telemetry.WithSpanError(trace.SpanFromContext(ctx), cause)
	p.logger.Error("export failed",
		zap.String("request_id", request.ID.String()),
		zap.String("stage", stage),
		zap.Error(cause))

	if err := request.Fail(errors.Code(cause), fmt.Sprintf("failed to %s", stage)); err != nil {
		return cause
	}
	meta := map[string]string{
		"request_id":   request.ID.String(),
		"failure_code": errors.Code(cause),
		"stage":        stage,
	}
	if err := p.appendEntry(ctx, audit.EntryExportFailed, principal,
		"privacy/exports", "export", request.SubjectID, meta); err != nil {
		p.logger.Error("failed to record export failure", zap.Error(err))
	}
	if err := p.exports.Save(ctx, request); err != nil {
		p.logger.Error("failed to persist failed request", zap.Error(err))
	}
	return cause
}

// ExportData opens a completed request's stored bundle.
func (p *Processor) ExportData(ctx context.Context, requestID uuid.UUID) ([]byte, values.ExportFormat, error) {
	request, err := p.exports.GetByID(ctx, requestID)
	if err != nil {
		return nil, values.ExportFormat{}, err
	}
	if request.Status != privacy.RequestStatusCompleted || request.Result == nil {
		return nil, values.ExportFormat{}, errors.NewValidationError("EXPORT_NOT_READY",
			fmt.Sprintf("export request is %s", request.Status))
	}
	data, err := p.sealer.Open(*request.Result)
	if err != nil {
		return nil, values.ExportFormat{}, err
	}
	return data, request.Format, nil
}

// GetDeletionRequest returns one deletion request by ID.
func (p *Processor) GetDeletionRequest(ctx context.Context, requestID uuid.UUID) (*privacy.DeletionRequest, error) {
	return p.deletions.GetByID(ctx, requestID)
}

// GetExportRequest returns one export request by ID.
func (p *Processor) GetExportRequest(ctx context.Context, requestID uuid.UUID) (*privacy.ExportRequest, error) {
	return p.exports.GetByID(ctx, requestID)
}

// VerifyObligation records that a secondary store confirmed an erasure
// reached it.
func (p *Processor) VerifyObligation(ctx context.Context, principal access.Principal, obligationID uuid.UUID) (*privacy.PropagationObligation, error) {
	obligation, err := p.obligations.GetByID(ctx, obligationID)
	if err != nil {
		return nil, err
	}
	if obligation.Status == privacy.ObligationVerified {
		return nil, errors.NewValidationError("ALREADY_VERIFIED", "obligation is already verified")
	}

	meta := map[string]string{
		"obligation_id": obligation.ID.String(),
		"target":        string(obligation.Target),
		"request_id":    obligation.RequestID.String(),
	}
	if err := p.appendEntry(ctx, audit.EntryObligationVerified, principal,
		"privacy/obligations", "verify", obligation.SubjectID, meta); err != nil {
		return nil, err
	}

	if err := obligation.Verify(principal.String(), time.Now()); err != nil {
		return nil, err
	}
	if err := p.obligations.Save(ctx, obligation); err != nil {
		p.appendFailure(ctx, audit.EntryObligationVerified, principal,
			"privacy/obligations", "verify", obligation.SubjectID, err, meta)
		return nil, err
	}
	return obligation, nil
}

// OpenObligations lists obligations still awaiting verification,
// earliest deadline first.
func (p *Processor) OpenObligations(ctx context.Context, limit int) ([]*privacy.PropagationObligation, error) {
	if limit <= 0 {
		limit = 100
	}
	return p.obligations.ListOpen(ctx, limit)
}

// ExpireObligations flags pending obligations whose deadline has
// passed so they surface in reports as overdue. Returns the number
// flagged.
func (p *Processor) ExpireObligations(ctx context.Context) (int, error) {
	now := time.Now()
	expiring, err := p.obligations.ListExpiring(ctx, now, 500)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, obligation := range expiring {
		if obligation.Status != privacy.ObligationPending {
			continue
		}
		if err := obligation.MarkOverdue(now); err != nil {
			continue
		}
		if err := p.obligations.Save(ctx, obligation); err != nil {
			p.logger.Warn("failed to flag overdue obligation",
				zap.String("obligation_id", obligation.ID.String()), zap.Error(err))
			continue
		}
		p.logger.Warn("obligation overdue",
			zap.String("obligation_id", obligation.ID.String()),
			zap.String("target", string(obligation.Target)),
			zap.Time("deadline", obligation.Deadline))
		flagged++
	}

	if p.metrics != nil {
		if open, err := p.obligations.ListOpen(ctx, 1000); err == nil {
			p.metrics.SetOpenObligations(int64(len(open)))
		}
	}
	return flagged, nil
}

// buildBundle shapes the subject's data for disclosure. The field
// policy is applied here; protected values that pass it are opened for
// the bundle, which is the only reveal path besides Unprotect.
func (p *Processor) buildBundle(subjectID string, consentRecs []*consent.Record, recs []*privacy.SensitiveRecord, instruments []*payment.StoredInstrument, transactions []*payment.Transaction) (*privacy.ExportBundle, error) {
	bundle := &privacy.ExportBundle{
		SubjectID:   subjectID,
		GeneratedAt: time.Now(),
	}

	for _, rec := range consentRecs {
		for _, decision := range rec.History() {
			bundle.Consents = append(bundle.Consents, privacy.ConsentExport{
				Purpose:    string(rec.Purpose),
				Granted:    decision.Granted,
				Version:    decision.Version,
				Source:     string(decision.Source),
				RecordedAt: decision.RecordedAt,
			})
		}
	}

	for _, record := range recs {
		if record.IsSwept() {
			continue
		}
		fields := make(map[string]string)
		for _, name := range record.PlainFieldNames() {
			if !p.fieldPolicy.IsExportable(name) {
				continue
			}
			fields[name], _ = record.PlainField(name)
		}
		for _, name := range record.ProtectedFieldNames() {
			if !p.fieldPolicy.IsExportable(name) {
				continue
			}
			env := record.ProtectedFields[name]
			plaintext, err := p.sealer.Open(env)
			if err != nil {
				return nil, errors.WrapWithCode(err, "EXPORT_DECRYPT_FAILED",
					fmt.Sprintf("failed to open field %s", name))
			}
			fields[name] = string(plaintext)
		}
		bundle.Records = append(bundle.Records, privacy.RecordExport{
			RecordID:  record.ID.String(),
			Category:  string(record.Category),
			CreatedAt: record.CreatedAt,
			Fields:    fields,
		})
	}

	last4 := make(map[payment.Token]string, len(instruments))
	for _, inst := range instruments {
		last4[inst.Token] = inst.Last4
	}
	for _, tx := range transactions {
		bundle.Transactions = append(bundle.Transactions, privacy.TransactionExport{
			TransactionID:   tx.ID.String(),
			Amount:          tx.Amount.Amount().String(),
			Currency:        tx.Amount.Currency(),
			Status:          string(tx.Status),
			InstrumentLast4: last4[tx.Token],
			CreatedAt:       tx.CreatedAt,
		})
	}

	return bundle, nil
}

// encodeBundle serializes a bundle in the requested format.
func encodeBundle(bundle *privacy.ExportBundle, format values.ExportFormat) ([]byte, error) {
	switch format.String() {
	case values.FormatCSV:
		return encodeBundleCSV(bundle)
	default:
		return json.Marshal(bundle)
	}
}

// encodeBundleCSV flattens the bundle into section, item, field, value
// rows so spreadsheet tools can open it.
func encodeBundleCSV(bundle *privacy.ExportBundle) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"section", "item", "field", "value"}); err != nil {
		return nil, err
	}

	write := func(section, item, field, value string) error {
		return w.Write([]string{section, item, field, value})
	}

	for _, c := range bundle.Consents {
		item := fmt.Sprintf("%s/v%d", c.Purpose, c.Version)
		if err := write("consents", item, "granted", strconv.FormatBool(c.Granted)); err != nil {
			return nil, err
		}
		if err := write("consents", item, "source", c.Source); err != nil {
			return nil, err
		}
		if err := write("consents", item, "recorded_at", c.RecordedAt.Format(time.RFC3339)); err != nil {
			return nil, err
		}
	}

	for _, r := range bundle.Records {
		if err := write("records", r.RecordID, "category", r.Category); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(r.Fields))
		for name := range r.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := write("records", r.RecordID, name, r.Fields[name]); err != nil {
				return nil, err
			}
		}
	}

	for _, t := range bundle.Transactions {
		if err := write("transactions", t.TransactionID, "amount", t.Amount); err != nil {
			return nil, err
		}
		if err := write("transactions", t.TransactionID, "currency", t.Currency); err != nil {
			return nil, err
		}
		if err := write("transactions", t.TransactionID, "status", t.Status); err != nil {
			return nil, err
		}
		if t.InstrumentLast4 != "" {
			if err := write("transactions", t.TransactionID, "instrument_last4", t.InstrumentLast4); err != nil {
				return nil, err
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Processor) appendEntry(ctx context.Context, entryType audit.EntryType, principal access.Principal, resource, action, subjectID string, meta map[string]string) error {
	entry, err := audit.NewEntry(entryType, principal.ID, resource, action)
	if err != nil {
		return err
	}
	entry.WithActor(string(principal.Role), principal.ActorType())
	if subjectID != "" {
		entry.WithSubject(subjectID)
	}
	for k, v := range meta {
		if err := entry.WithMetadata(k, v); err != nil {
			return err
		}
	}
	_, err = p.auditor.Append(ctx, entry)
	return err
}

// appendFailure follows a success entry whose operation then failed.
func (p *Processor) appendFailure(ctx context.Context, entryType audit.EntryType, principal access.Principal, resource, action, subjectID string, cause error, meta map[string]string) {
	entry, err := audit.NewEntry(entryType, principal.ID, resource, action)
	if err == nil {
		entry.WithActor(string(principal.Role), principal.ActorType()).
			WithOutcome(audit.OutcomeFailure, errors.Code(cause))
		if subjectID != "" {
			entry.WithSubject(subjectID)
		}
		for k, v := range meta {
			if mdErr := entry.WithMetadata(k, v); mdErr != nil {
				err = mdErr
				break
			}
		}
		if err == nil {
			_, err = p.auditor.Append(ctx, entry)
		}
	}
	if err != nil {
		p.logger.Error("failed to record failure entry", zap.Error(err))
	}
}
