// Package service wires the governance engines into one facade. Core
// owns the service graph: it builds the audit log first, threads it
// through every other engine, and shares one per-subject lock pool so
// consent writes, field protection, erasure, and payment mutations on
// the same subject serialize across engines instead of only within one.
//
// Every operation on Core consults the access policy before touching
// an engine. Operations keyed by subject use the ownership-bound check,
// so a subject principal can only reach its own data no matter what the
// role table grants. The one exception is UnprotectField: the field
// codec consults the policy itself, against the exact record resource,
// and the authorizer records each denial exactly once, so the facade
// must not ask twice.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/consent"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/payment"
	"github.com/adminsuite/governance-backend/internal/domain/privacy"
	"github.com/adminsuite/governance-backend/internal/domain/retention"
	"github.com/adminsuite/governance-backend/internal/infrastructure/events"
	"github.com/adminsuite/governance-backend/internal/metrics"
	accesssvc "github.com/adminsuite/governance-backend/internal/service/access"
	auditsvc "github.com/adminsuite/governance-backend/internal/service/audit"
	consentsvc "github.com/adminsuite/governance-backend/internal/service/consent"
	"github.com/adminsuite/governance-backend/internal/service/keylock"
	paymentsvc "github.com/adminsuite/governance-backend/internal/service/payment"
	privacysvc "github.com/adminsuite/governance-backend/internal/service/privacy"
	retentionsvc "github.com/adminsuite/governance-backend/internal/service/retention"
)

// Deps carries everything Core needs to assemble the engines. The
// repositories and the three key holders are required; the rest may be
// zero and falls back to a sensible default (no cache, no streamer,
// shipped policy table, single-node sweep without a lease).
type Deps struct {
	Entries      audit.EntryRepository
	Consents     consent.Repository
	Policies     retention.PolicyRepository
	Records      privacy.RecordRepository
	Deletions    privacy.DeletionRequestRepository
	Exports      privacy.ExportRequestRepository
	Obligations  privacy.ObligationRepository
	Instruments  payment.InstrumentRepository
	Transactions payment.TransactionRepository
	Refunds      payment.RefundRepository

	Keys       privacysvc.KeyManager
	Tokens     paymentsvc.Tokenizer
	Pseudonyms retentionsvc.Pseudonymizer

	// Rules overrides the shipped policy table. Nil keeps the default.
	Rules []access.Rule

	Streamer  events.AuditStreamer
	Notifier  events.ErasureNotifier
	Decisions consentsvc.DecisionCache
	Subjects  privacysvc.SubjectCache
	Lease     retentionsvc.Lease
	Metrics   *metrics.Registry

	// Service and Environment stamp every audit entry. Service falls
	// back to "governance" so the startup marker always has an actor.
	Service     string
	Environment string

	// LegitimatePurposes names the purposes processing may rely on
	// without a recorded grant. Each hit is audited.
	LegitimatePurposes []string

	// ObligationDeadline bounds how long downstream stores have to
	// confirm an erasure. Zero selects the processor default.
	ObligationDeadline time.Duration

	SweepOptions retentionsvc.Options
}

// Core is the composition facade the transports and the background
// binaries talk to. All fields are wired once in NewCore and never
// change, so Core is safe for concurrent use.
type Core struct {
	audit     *auditsvc.Service
	access    *accesssvc.Service
	consents  *consentsvc.Service
	retention *retentionsvc.Service
	sweeper   *retentionsvc.Sweeper
	codec     *privacysvc.Codec
	processor *privacysvc.Processor
	payments  *paymentsvc.Service

	validate *validator.Validate
	logger   *zap.Logger
}

// NewCore builds the full service graph. The audit log comes up first
// because nothing else may run without it; a failure recovering its
// chain tail aborts the whole assembly.
func NewCore(ctx context.Context, deps Deps, logger *zap.Logger) (*Core, error) {
	if logger == nil {
		return nil, errors.NewValidationError("MISSING_LOGGER", "logger is required")
	}
	serviceName := deps.Service
	if serviceName == "" {
		serviceName = "governance"
	}

	auditService, err := auditsvc.NewService(ctx, deps.Entries, deps.Streamer, logger, serviceName, deps.Environment)
	if err != nil {
		return nil, err
	}

	rules := deps.Rules
	if rules == nil {
		rules = access.DefaultRules()
	}
	table, err := access.NewTable(rules)
	if err != nil {
		return nil, err
	}
	accessService, err := accesssvc.NewService(table, auditService, deps.Metrics, logger)
	if err != nil {
		return nil, err
	}

	// One lock pool for every engine. Erasure and a consent write for
	// the same subject must never interleave, and that only holds when
	// they contend on the same stripes.
	locks := keylock.NewStriped(0)

	consentService, err := consentsvc.NewService(deps.Consents, auditService, deps.Decisions, locks, logger, deps.LegitimatePurposes)
	if err != nil {
		return nil, err
	}

	retentionService, err := retentionsvc.NewService(ctx, deps.Policies, auditService, logger)
	if err != nil {
		return nil, err
	}
	sweeper, err := retentionsvc.NewSweeper(retentionService, deps.Records, auditService, deps.Pseudonyms, deps.Lease, deps.Metrics, locks, deps.SweepOptions, logger)
	if err != nil {
		return nil, err
	}

	codec, err := privacysvc.NewCodec(deps.Records, deps.Keys, accessService, auditService, locks, deps.Metrics, logger)
	if err != nil {
		return nil, err
	}

	processor, err := privacysvc.NewProcessor(privacysvc.ProcessorDeps{
		Records:            deps.Records,
		Deletions:          deps.Deletions,
		Exports:            deps.Exports,
		Obligations:        deps.Obligations,
		Consents:           deps.Consents,
		Instruments:        deps.Instruments,
		Transactions:       deps.Transactions,
		Sealer:             deps.Keys,
		Auditor:            auditService,
		Notifier:           deps.Notifier,
		Cache:              deps.Subjects,
		Metrics:            deps.Metrics,
		Locks:              locks,
		ObligationDeadline: deps.ObligationDeadline,
	}, logger)
	if err != nil {
		return nil, err
	}

	paymentService, err := paymentsvc.NewService(deps.Instruments, deps.Transactions, deps.Refunds, deps.Tokens, auditService, deps.Metrics, locks, logger)
	if err != nil {
		return nil, err
	}

	return &Core{
		audit:     auditService,
		access:    accessService,
		consents:  consentService,
		retention: retentionService,
		sweeper:   sweeper,
		codec:     codec,
		processor: processor,
		payments:  paymentService,
		validate:  validator.New(),
		logger:    logger.With(zap.String("service", "core")),
	}, nil
}

// checkRequest runs the struct tags on a request before any policy
// check or engine call. The message names the failing field and rule
// but never echoes the value, so card numbers and the like cannot leak
// through a validation error.
func (c *Core) checkRequest(req interface{}) error {
	err := c.validate.Struct(req)
	if err == nil {
		return nil
	}
	if fields, ok := err.(validator.ValidationErrors); ok && len(fields) > 0 {
		first := fields[0]
		return errors.NewValidationError("INVALID_REQUEST",
			fmt.Sprintf("field %s fails rule %s", first.Field(), first.Tag()))
	}
	return errors.NewValidationError("INVALID_REQUEST", err.Error())
}

// Authorize answers whether the principal may perform the action. The
// decision is advisory for callers that branch on permissions; denials
// are recorded by the evaluator like any other.
func (c *Core) Authorize(ctx context.Context, principal access.Principal, action access.Action, resource string) access.Decision {
	return c.access.Authorize(ctx, principal, action, resource)
}

// RecordStartup appends the system startup marker. Called once by the
// composition root after wiring succeeds.
func (c *Core) RecordStartup(ctx context.Context, version string) error {
	return c.audit.RecordStartup(ctx, version)
}

// RecordShutdown appends the system shutdown marker.
func (c *Core) RecordShutdown(ctx context.Context) error {
	return c.audit.RecordShutdown(ctx)
}

// RunSweepLoop blocks running the retention sweep on its interval until
// the context ends. Meant to be launched as a goroutine by the serving
// binary or run directly by the maintenance binary.
func (c *Core) RunSweepLoop(ctx context.Context) {
	c.sweeper.Run(ctx)
}

// LastSweepReport returns the most recent sweep outcome, or nil before
// the first run.
func (c *Core) LastSweepReport() *retentionsvc.Report {
	return c.sweeper.LastReport()
}

// SweepOnce runs a single retention sweep outside the interval loop.
// Used by the maintenance binary; the engine acts as the system here.
func (c *Core) SweepOnce(ctx context.Context) (*retentionsvc.Report, error) {
	return c.sweeper.RunOnce(ctx, "maintenance")
}

// ExpireObligations marks propagation obligations whose deadline has
// passed. Run periodically by the maintenance binary; the engine acts
// as the system here, not as a principal.
func (c *Core) ExpireObligations(ctx context.Context) (int, error) {
	return c.processor.ExpireObligations(ctx)
}

// ResealProtectedRecords re-encrypts up to batchSize records still
// sealed under retired keys. Run periodically after a key rotation.
func (c *Core) ResealProtectedRecords(ctx context.Context, batchSize int) (int, error) {
	return c.codec.ResealStale(ctx, batchSize)
}
