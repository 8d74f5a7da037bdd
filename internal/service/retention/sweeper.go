package retention

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/privacy"
	"github.com/adminsuite/governance-backend/internal/domain/retention"
	"github.com/adminsuite/governance-backend/internal/infrastructure/telemetry"
	"github.com/adminsuite/governance-backend/internal/metrics"
	"github.com/adminsuite/governance-backend/internal/service/keylock"
)

// Triggers identify what started a sweep run in its audit trail.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

const sweeperActor = "retention-sweeper"

// Pseudonymizer derives the stable pseudonym a record is re-keyed to
// when its category's action is anonymize.
type Pseudonymizer interface {
	Pseudonym(subjectID string) string
}

// Lease gates singleton background runs across replicas. May be absent
// in single-node deployments.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Options tunes the sweep loop. Zero values fall back to defaults.
type Options struct {
	Interval  time.Duration
	BatchSize int
	Rate      int
	Burst     int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 24 * time.Hour
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.Rate <= 0 {
		o.Rate = 25
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	return o
}

// Report summarizes one sweep run.
type Report struct {
	Trigger        string    `json:"trigger"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Examined       int       `json:"examined"`
	MarkedEligible int       `json:"marked_eligible"`
	Purged         int       `json:"purged"`
	Anonymized     int       `json:"anonymized"`
	Failed         int       `json:"failed"`
	Skipped        bool      `json:"skipped"`
}

// Sweeper walks stored records and applies the retention table to
// each: lapsed active records become eligible_for_purge, then eligible
// records are purged or anonymized per their category's action. One
// record failing is logged and skipped; the sweep moves on.
type Sweeper struct {
	service *Service
	records privacy.RecordRepository
	auditor Auditor
	pseudo  Pseudonymizer
	lease   Lease
	metrics *metrics.Registry
	locks   *keylock.Striped
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  *zap.Logger
	opts    Options

	// running admits one sweep at a time within this process; the
	// lease covers other replicas.
	running chan struct{}

	reportMu sync.Mutex
	last     *Report
}

// NewSweeper builds the sweep runner. lease and reg may be nil; locks
// should be the lock pool shared with the services that write records.
func NewSweeper(service *Service, records privacy.RecordRepository, auditor Auditor, pseudo Pseudonymizer, lease Lease, reg *metrics.Registry, locks *keylock.Striped, opts Options, logger *zap.Logger) (*Sweeper, error) {
	if service == nil {
		return nil, errors.NewValidationError("MISSING_SERVICE", "policy service is required")
	}
	if records == nil {
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "record repository is required")
	}
	if auditor == nil {
		return nil, errors.NewValidationError("MISSING_AUDITOR", "auditor is required")
	}
	if pseudo == nil {
		return nil, errors.NewValidationError("MISSING_PSEUDONYMIZER", "pseudonymizer is required")
	}
	if logger == nil {
		return nil, errors.NewValidationError("MISSING_LOGGER", "logger is required")
	}
	if locks == nil {
		locks = keylock.NewStriped(0)
	}

	opts = opts.withDefaults()
	return &Sweeper{
		service: service,
		records: records,
		auditor: auditor,
		pseudo:  pseudo,
		lease:   lease,
		metrics: reg,
		locks:   locks,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		tracer:  telemetry.Tracer("governance.retention"),
		logger:  logger.With(zap.String("service", "retention-sweeper")),
		opts:    opts,
		running: make(chan struct{}, 1),
	}, nil
}

// Run executes a sweep immediately and then on every interval tick
// until the context is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx, TriggerScheduled); err != nil && ctx.Err() == nil {
			w.logger.Error("retention sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single sweep. When a lease is configured and held
// elsewhere, the run is skipped and the report says so. The sweep is
// rate limited per record; failures are counted, logged, and skipped.
func (w *Sweeper) RunOnce(ctx context.Context, trigger string) (*Report, error) {
	select {
	case w.running <- struct{}{}:
		defer func() { <-w.running }()
	default:
		return &Report{Trigger: trigger, Skipped: true}, nil
	}

	ctx, span := telemetry.StartServiceSpan(ctx, w.tracer, "retention", "sweep")
	defer span.End()

	report := &Report{Trigger: trigger, StartedAt: time.Now()}

	if w.lease != nil {
		held, err := w.lease.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if !held {
			report.Skipped = true
			w.logger.Info("sweep skipped, lease held elsewhere", zap.String("trigger", trigger))
			return report, nil
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := w.lease.Release(releaseCtx); err != nil {
				w.logger.Warn("sweep lease not released", zap.Error(err))
			}
		}()
	}

	err := w.markPhase(ctx, report)
	if err == nil {
		err = w.refreshLease(ctx)
	}
	if err == nil {
		err = w.disposePhase(ctx, report)
	}

	report.FinishedAt = time.Now()
	w.storeReport(report)

	if w.metrics != nil {
		w.metrics.RecordSweep(ctx, report.FinishedAt.Sub(report.StartedAt).Seconds(),
			int64(report.Examined), int64(report.Purged), int64(report.Anonymized))
	}

	if err != nil {
		telemetry.WithSpanError(span, err)
		w.logger.Error("retention sweep aborted",
			zap.String("trigger", trigger),
			zap.Int("examined", report.Examined),
			zap.Error(err),
		)
		return report, err
	}

	if err := w.auditCompleted(ctx, report); err != nil {
		telemetry.WithSpanError(span, err)
		w.logger.Error("sweep completion not recorded in audit log", zap.Error(err))
		return report, err
	}

	w.logger.Info("retention sweep completed",
		zap.String("trigger", trigger),
		zap.Int("examined", report.Examined),
		zap.Int("marked_eligible", report.MarkedEligible),
		zap.Int("purged", report.Purged),
		zap.Int("anonymized", report.Anonymized),
		zap.Int("failed", report.Failed),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// LastReport returns the most recent completed run's report, or nil
// before the first run.
func (w *Sweeper) LastReport() *Report {
	w.reportMu.Lock()
	defer w.reportMu.Unlock()
	if w.last == nil {
		return nil
	}
	out := *w.last
	return &out
}

func (w *Sweeper) storeReport(report *Report) {
	w.reportMu.Lock()
	defer w.reportMu.Unlock()
	out := *report
	w.last = &out
}

// markPhase walks active records and transitions the lapsed ones to
// eligible_for_purge.
func (w *Sweeper) markPhase(ctx context.Context, report *Report) error {
	return w.walk(ctx, retention.StatusActive, func(stale *privacy.SensitiveRecord) {
		report.Examined++
		w.mark(ctx, stale, report)
	})
}

// disposePhase walks eligible records, including those the mark phase
// just transitioned, and applies each category's disposal action.
func (w *Sweeper) disposePhase(ctx context.Context, report *Report) error {
	return w.walk(ctx, retention.StatusEligible, func(stale *privacy.SensitiveRecord) {
		w.dispose(ctx, stale, report)
	})
}

// walk visits every record currently in a status exactly once. The
// repository lists oldest first with a limit but no cursor, so the
// walk re-fetches as records transition out and widens the window when
// a page holds nothing new.
func (w *Sweeper) walk(ctx context.Context, status retention.Status, visit func(*privacy.SensitiveRecord)) error {
	seen := make(map[string]struct{})
	limit := w.opts.BatchSize

	for {
		page, err := w.records.ListByStatus(ctx, status, limit)
		if err != nil {
			return errors.NewStorageError("list_records", err)
		}

		progressed := false
		for _, record := range page {
			key := record.ID.String()
			if _, done := seen[key]; done {
				continue
			}
			seen[key] = struct{}{}
			progressed = true

			if err := w.limiter.Wait(ctx); err != nil {
				return err
			}
			visit(record)
		}

		if len(page) < limit {
			return nil
		}
		if !progressed {
			// A full page of already-visited records: everything new
			// is past the window. Widen it.
			limit *= 2
		}
	}
}

func (w *Sweeper) mark(ctx context.Context, stale *privacy.SensitiveRecord, report *Report) {
	now := time.Now()
	staleItem := stale.Item()
	if !w.service.ShouldPurge(stale.Category, staleItem.AgeDays(now)) {
		return
	}

	unlock := w.locks.Lock(stale.SubjectID)
	defer unlock()

	record, err := w.records.GetByID(ctx, stale.ID)
	if err != nil {
		if errors.IsNotFound(err) {
			return
		}
		w.logger.Warn("record not loaded for marking", zap.String("record_id", stale.ID.String()), zap.Error(err))
		report.Failed++
		return
	}
	if record.Status != retention.StatusActive {
		return
	}
	// A write since listing may have reset the retention clock.
	item := record.Item()
	if !w.service.ShouldPurge(record.Category, item.AgeDays(now)) {
		return
	}

	if err := record.MarkEligible(); err != nil {
		w.logger.Warn("record not marked eligible", zap.String("record_id", record.ID.String()), zap.Error(err))
		report.Failed++
		return
	}
	if err := w.records.Save(ctx, record); err != nil {
		w.logger.Warn("eligible mark not saved", zap.String("record_id", record.ID.String()), zap.Error(err))
		report.Failed++
		return
	}
	report.MarkedEligible++
}

func (w *Sweeper) dispose(ctx context.Context, stale *privacy.SensitiveRecord, report *Report) {
	unlock := w.locks.Lock(stale.SubjectID)
	defer unlock()

	record, err := w.records.GetByID(ctx, stale.ID)
	if err != nil {
		if errors.IsNotFound(err) {
			return
		}
		w.logger.Warn("record not loaded for disposal", zap.String("record_id", stale.ID.String()), zap.Error(err))
		report.Failed++
		return
	}
	if record.Status != retention.StatusEligible {
		return
	}

	action := w.service.ActionFor(record.Category)
	now := time.Now()
	item := record.Item()

	if err := w.auditDisposal(ctx, record, action, item.AgeDays(now)); err != nil {
		// No durable audit entry, no disposal. The record stays
		// eligible for the next run.
		w.logger.Error("disposal not audited, record kept",
			zap.String("record_id", record.ID.String()),
			zap.Error(err),
		)
		report.Failed++
		return
	}

	switch action {
	case retention.ActionAnonymize:
		err = record.Anonymize(w.pseudo.Pseudonym(record.SubjectID), now)
		if err == nil {
			err = w.records.Save(ctx, record)
		}
	default:
		err = record.Purge(now)
		if err == nil {
			err = w.records.Delete(ctx, record.ID)
		}
	}
	if err != nil {
		w.logger.Warn("record not swept",
			zap.String("record_id", record.ID.String()),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		w.auditDisposalFailure(ctx, record, action, err)
		report.Failed++
		return
	}

	if action == retention.ActionAnonymize {
		report.Anonymized++
	} else {
		report.Purged++
	}
}

func (w *Sweeper) auditDisposal(ctx context.Context, record *privacy.SensitiveRecord, action retention.PurgeAction, ageDays int) error {
	entryType := audit.EntryRetentionPurged
	if action == retention.ActionAnonymize {
		entryType = audit.EntryRetentionAnonymized
	}

	entry, err := audit.NewEntry(entryType, sweeperActor, "retention/sweep", "dispose")
	if err != nil {
		return err
	}
	entry.WithActor("", audit.ActorTypeSystem)
	entry.WithSubject(record.SubjectID)

	for key, value := range map[string]string{
		"record_id": record.ID.String(),
		"category":  string(record.Category),
		"action":    string(action),
		"age_days":  strconv.Itoa(ageDays),
	} {
		if err := entry.WithMetadata(key, value); err != nil {
			return err
		}
	}

	_, err = w.auditor.Append(ctx, entry)
	return err
}

func (w *Sweeper) auditDisposalFailure(ctx context.Context, record *privacy.SensitiveRecord, action retention.PurgeAction, cause error) {
	entryType := audit.EntryRetentionPurged
	if action == retention.ActionAnonymize {
		entryType = audit.EntryRetentionAnonymized
	}

	entry, err := audit.NewEntry(entryType, sweeperActor, "retention/sweep", "dispose")
	if err != nil {
		return
	}
	entry.WithActor("", audit.ActorTypeSystem)
	entry.WithSubject(record.SubjectID)
	entry.WithOutcome(audit.OutcomeFailure, errors.Code(cause))
	if err := entry.WithMetadata("record_id", record.ID.String()); err != nil {
		return
	}
	if _, err := w.auditor.Append(ctx, entry); err != nil {
		w.logger.Error("disposal failure not recorded in audit log",
			zap.String("record_id", record.ID.String()),
			zap.Error(err),
		)
	}
}

func (w *Sweeper) auditCompleted(ctx context.Context, report *Report) error {
	entry, err := audit.NewEntry(audit.EntrySweepCompleted, sweeperActor, "retention/sweep", "sweep")
	if err != nil {
		return err
	}
	entry.WithActor("", audit.ActorTypeSystem)

	for key, value := range map[string]string{
		"trigger":         report.Trigger,
		"examined":        strconv.Itoa(report.Examined),
		"marked_eligible": strconv.Itoa(report.MarkedEligible),
		"purged":          strconv.Itoa(report.Purged),
		"anonymized":      strconv.Itoa(report.Anonymized),
		"failed":          strconv.Itoa(report.Failed),
		"duration_ms":     strconv.FormatInt(report.FinishedAt.Sub(report.StartedAt).Milliseconds(), 10),
	} {
		if err := entry.WithMetadata(key, value); err != nil {
			return err
		}
	}

	_, err = w.auditor.Append(ctx, entry)
	return err
}

func (w *Sweeper) refreshLease(ctx context.Context) error {
	if w.lease == nil {
		return nil
	}
	held, err := w.lease.Refresh(ctx)
	if err != nil {
		return err
	}
	if !held {
		return errors.NewConflictError("sweep lease lost mid-run")
	}
	return nil
}
