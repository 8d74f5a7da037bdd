// Package consent implements the consent registry: versioned decisions
// per (subject, purpose) pair, append-only, checked with a cache in
// front and answered false whenever the answer is not provably yes.
package consent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/consent"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/infrastructure/cache"
	"github.com/adminsuite/governance-backend/internal/service/keylock"
)

// Auditor appends entries to the audit log. An append failure vetoes
// the operation being recorded.
type Auditor interface {
	Append(ctx context.Context, entry *audit.Entry) (int64, error)
}

// DecisionCache keeps recent check outcomes close to the hot path. It
// may be absent; cache trouble is treated as a miss, never as an
// answer.
type DecisionCache interface {
	Get(ctx context.Context, subjectID string, purpose consent.Purpose) (*cache.CachedDecision, error)
	Put(ctx context.Context, decision cache.CachedDecision) error
	Invalidate(ctx context.Context, subjectID string, purpose consent.Purpose) error
}

// Service is the consent registry engine.
type Service struct {
	repo    consent.Repository
	auditor Auditor
	cache   DecisionCache
	locks   *keylock.Striped
	logger  *zap.Logger

	// legitimate holds the purposes processing may rely on without a
	// recorded grant. Empty unless configuration names them.
	legitimate map[consent.Purpose]bool
}

// NewService builds the consent registry. decisions may be nil when no
// cache is deployed. locks is the shared per-subject lock pool; nil
// gets a private pool, which is fine only when no other service writes
// the same subjects. legitimatePurposes must name known purposes; a
// typo here would silently waive consent, so it is an error instead.
func NewService(repo consent.Repository, auditor Auditor, decisions DecisionCache, locks *keylock.Striped, logger *zap.Logger, legitimatePurposes []string) (*Service, error) {
	if repo == nil {
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "consent repository is required")
	}
	if auditor == nil {
		return nil, errors.NewValidationError("MISSING_AUDITOR", "auditor is required")
	}
	if logger == nil {
		return nil, errors.NewValidationError("MISSING_LOGGER", "logger is required")
	}
	if locks == nil {
		locks = keylock.NewStriped(0)
	}

	legitimate := make(map[consent.Purpose]bool, len(legitimatePurposes))
	for _, raw := range legitimatePurposes {
		purpose, err := consent.ParsePurpose(raw)
		if err != nil {
			return nil, errors.WrapWithCode(err, "INVALID_LEGITIMATE_INTEREST",
				fmt.Sprintf("legitimate interest purpose %q is not a known purpose", raw))
		}
		legitimate[purpose] = true
	}

	return &Service{
		repo:       repo,
		auditor:    auditor,
		cache:      decisions,
		locks:      locks,
		logger:     logger.With(zap.String("service", "consent")),
		legitimate: legitimate,
	}, nil
}

// RecordRequest describes one consent decision to append.
type RecordRequest struct {
	SubjectID string
	Purpose   consent.Purpose
	Granted   bool
	Source    consent.Source

	// Note is recorded on revocations as the stated reason.
	Note string

	// ExpiresAt bounds a grant; nil grants until revoked.
	ExpiresAt *time.Time
}

// Record appends a consent decision as a new version of the
// (subject, purpose) record. History is never rewritten: a change of
// heart is one more version, and the latest version wins. The audit
// entry is appended before the decision is saved; if the entry cannot
// be made durable, the decision is not recorded.
func (s *Service) Record(ctx context.Context, principal access.Principal, req RecordRequest) (*consent.Record, error) {
	subjectID := strings.TrimSpace(req.SubjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	if err := consent.ValidatePurpose(req.Purpose); err != nil {
		return nil, err
	}
	if err := consent.ValidateSource(req.Source); err != nil {
		return nil, err
	}
	if req.ExpiresAt != nil {
		if !req.Granted {
			return nil, errors.NewValidationError("INVALID_EXPIRY", "expiry applies to grants only")
		}
		if !req.ExpiresAt.After(time.Now()) {
			return nil, errors.NewValidationError("INVALID_EXPIRY", "consent expiry must be in the future")
		}
	}

	unlock := s.locks.Lock(subjectID)
	defer unlock()

	record, err := s.repo.GetBySubjectAndPurpose(ctx, subjectID, req.Purpose)
	switch {
	case err == nil:
		if req.Granted {
			err = record.Grant(req.Source, principal.String(), req.ExpiresAt)
		} else {
			err = record.Revoke(req.Source, principal.String(), req.Note)
		}
		if err != nil {
			return nil, err
		}
	case errors.IsNotFound(err):
		record, err = consent.NewRecord(subjectID, req.Purpose, req.Granted, req.Source, principal.String())
		if err != nil {
			return nil, err
		}
		// The first version carries the same optional context Grant
		// and Revoke attach to later ones.
		if req.Granted {
			record.Decisions[0].ExpiresAt = req.ExpiresAt
		} else {
			record.Decisions[0].Note = req.Note
		}
	default:
		return nil, err
	}

	version := record.CurrentVersion

	if err := s.auditDecision(ctx, principal, subjectID, req, version); err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, record); err != nil {
		// The audit log now records an intent that never committed.
		// Follow it with a failure entry so the trail reads true.
		s.recordFailure(ctx, principal, subjectID, req, version, err)
		return nil, err
	}
	record.ClearEvents()

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, subjectID, req.Purpose); err != nil {
			s.logger.Warn("consent cache not invalidated",
				zap.String("subject_id", subjectID),
				zap.String("purpose", string(req.Purpose)),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("consent decision recorded",
		zap.String("subject_id", subjectID),
		zap.String("purpose", string(req.Purpose)),
		zap.Int("version", version),
		zap.Bool("granted", req.Granted),
	)
	return record, nil
}

// Check answers whether processing for one purpose is currently
// permitted for a subject. The answer is false unless the latest
// decision for the exact pair grants it: unknown subjects, unknown
// pairs, and expired grants all read as false. Purposes configured as
// legitimate interest short-circuit to true, and every such hit lands
// in the audit log.
func (s *Service) Check(ctx context.Context, subjectID string, purpose consent.Purpose) (bool, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return false, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	if err := consent.ValidatePurpose(purpose); err != nil {
		return false, err
	}

	if s.legitimate[purpose] {
		if err := s.auditLegitimateInterest(ctx, subjectID, purpose); err == nil {
			return true, nil
		}
		// An unrecordable bypass is no bypass. Fall through and let
		// the registry answer.
	}

	now := time.Now()

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, subjectID, purpose)
		if err != nil {
			s.logger.Warn("consent cache read failed", zap.Error(err))
		} else if cached != nil {
			return cached.GrantedAt(now), nil
		}
	}

	record, err := s.repo.GetBySubjectAndPurpose(ctx, subjectID, purpose)
	if err != nil {
		if errors.IsNotFound(err) {
			s.cacheDecision(ctx, cache.CachedDecision{
				SubjectID: subjectID,
				Purpose:   purpose,
			})
			return false, nil
		}
		return false, err
	}

	cached := cache.CachedDecision{
		SubjectID: subjectID,
		Purpose:   purpose,
		Version:   record.CurrentVersion,
	}
	if latest := record.Latest(); latest != nil {
		cached.Granted = latest.Granted
		cached.ExpiresAt = latest.ExpiresAt
	}
	s.cacheDecision(ctx, cached)

	return record.IsGranted(now), nil
}

// History returns every decision ever recorded for the pair, oldest
// first. A missing pair is a not found error, never an empty list, so
// callers cannot mistake absence for an empty history.
func (s *Service) History(ctx context.Context, subjectID string, purpose consent.Purpose) ([]consent.Decision, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	if err := consent.ValidatePurpose(purpose); err != nil {
		return nil, err
	}

	record, err := s.repo.GetBySubjectAndPurpose(ctx, subjectID, purpose)
	if err != nil {
		return nil, err
	}
	return record.History(), nil
}

func (s *Service) auditDecision(ctx context.Context, principal access.Principal, subjectID string, req RecordRequest, version int) error {
	entryType := audit.EntryConsentRecorded
	if !req.Granted {
		entryType = audit.EntryConsentRevoked
	}

	entry, err := audit.NewEntry(entryType, principal.ID, "consent/records", "record")
	if err != nil {
		return err
	}
	entry.WithActor(string(principal.Role), principal.ActorType())
	entry.WithSubject(subjectID)

	for key, value := range map[string]string{
		"purpose": string(req.Purpose),
		"version": strconv.Itoa(version),
		"source":  string(req.Source),
		"granted": strconv.FormatBool(req.Granted),
	} {
		if err := entry.WithMetadata(key, value); err != nil {
			return err
		}
	}

	_, err = s.auditor.Append(ctx, entry)
	return err
}

// recordFailure appends a failure entry after a save failed post-audit.
// Best effort: the caller sees the original error either way.
func (s *Service) recordFailure(ctx context.Context, principal access.Principal, subjectID string, req RecordRequest, version int, cause error) {
	entryType := audit.EntryConsentRecorded
	if !req.Granted {
		entryType = audit.EntryConsentRevoked
	}

	entry, err := audit.NewEntry(entryType, principal.ID, "consent/records", "record")
	if err != nil {
		return
	}
	entry.WithActor(string(principal.Role), principal.ActorType())
	entry.WithSubject(subjectID)
	entry.WithOutcome(audit.OutcomeFailure, errors.Code(cause))
	if err := entry.WithMetadata("purpose", string(req.Purpose)); err != nil {
		return
	}
	if err := entry.WithMetadata("version", strconv.Itoa(version)); err != nil {
		return
	}

	if _, err := s.auditor.Append(ctx, entry); err != nil {
		s.logger.Error("consent save failure not recorded in audit log",
			zap.String("subject_id", subjectID),
			zap.Error(err),
		)
	}
}

// auditLegitimateInterest records a configured bypass so reviewers can
// see every check that skipped the registry.
func (s *Service) auditLegitimateInterest(ctx context.Context, subjectID string, purpose consent.Purpose) error {
	entry, err := audit.NewEntry(audit.EntryLegitimateInterestHit, "consent-registry", "consent/records", "check")
	if err != nil {
		return err
	}
	entry.WithActor("", audit.ActorTypeService)
	entry.WithSubject(subjectID)
	if err := entry.WithMetadata("purpose", string(purpose)); err != nil {
		return err
	}
	if err := entry.WithMetadata("basis", "legitimate_interest"); err != nil {
		return err
	}

	if _, err := s.auditor.Append(ctx, entry); err != nil {
		s.logger.Warn("legitimate interest hit not recorded, consulting registry",
			zap.String("subject_id", subjectID),
			zap.String("purpose", string(purpose)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) cacheDecision(ctx context.Context, decision cache.CachedDecision) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, decision); err != nil {
		s.logger.Warn("consent decision not cached",
			zap.String("subject_id", decision.SubjectID),
			zap.String("purpose", string(decision.Purpose)),
			zap.Error(err),
		)
	}
}
