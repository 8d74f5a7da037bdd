// Package access implements the policy evaluator consulted by every
// sensitive operation. Evaluation is a pure table lookup in the
// domain; this service adds the recording duties around it: each
// denial lands in the audit log exactly once, and every decision is
// counted.
package access

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/metrics"
)

// Auditor appends entries to the audit log.
type Auditor interface {
	Append(ctx context.Context, entry *audit.Entry) (int64, error)
}

// Service evaluates the policy table and records denials.
type Service struct {
	table   *access.Table
	auditor Auditor
	metrics *metrics.Registry
	logger  *zap.Logger
}

// NewService builds the policy evaluator. The table must carry at
// least one rule; there is no implicit policy to fall back on. reg may
// be nil.
func NewService(table *access.Table, auditor Auditor, reg *metrics.Registry, logger *zap.Logger) (*Service, error) {
	if table == nil {
		return nil, errors.NewValidationError("MISSING_TABLE", "policy table is required")
	}
	if len(table.Rules()) == 0 {
		return nil, errors.NewValidationError("EMPTY_TABLE", "policy table has no rules")
	}
	if auditor == nil {
		return nil, errors.NewValidationError("MISSING_AUDITOR", "auditor is required")
	}
	if logger == nil {
		return nil, errors.NewValidationError("MISSING_LOGGER", "logger is required")
	}

	return &Service{
		table:   table,
		auditor: auditor,
		metrics: reg,
		logger:  logger.With(zap.String("service", "access")),
	}, nil
}

// Authorize evaluates one request against the policy table. Every
// denial, malformed requests included, is recorded in the audit log
// before the decision is returned. A denial that cannot be recorded is
// still a denial.
func (s *Service) Authorize(ctx context.Context, principal access.Principal, action access.Action, resource string) access.Decision {
	decision := s.table.Authorize(principal, action, resource)

	if s.metrics != nil {
		s.metrics.RecordAuthzCheck(ctx, string(principal.Role), string(action), decision.Allowed)
	}

	if !decision.Allowed {
		s.recordDenial(ctx, principal, action, resource, decision.Reason, decision.Rule, principal.SubjectID)
	}

	return decision
}

// Require evaluates the request and returns an error when it is
// denied. The denial is recorded here, so callers consult Require
// exactly once per attempt.
func (s *Service) Require(ctx context.Context, principal access.Principal, action access.Action, resource string) error {
	if decision := s.Authorize(ctx, principal, action, resource); !decision.Allowed {
		return errors.ErrAccessDenied
	}
	return nil
}

// RequireOwned is Require plus the ownership rule: a principal acting
// under the subject role passes only for its own subject id. Denials,
// table and ownership alike, are recorded exactly once.
func (s *Service) RequireOwned(ctx context.Context, principal access.Principal, action access.Action, resource, subjectID string) error {
	if err := s.Require(ctx, principal, action, resource); err != nil {
		return err
	}
	if principal.Role == access.RoleSubject && !principal.Owns(subjectID) {
		if s.metrics != nil {
			s.metrics.RecordAuthzCheck(ctx, string(principal.Role), string(action), false)
		}
		s.recordDenial(ctx, principal, action, resource, access.ReasonNotOwner, nil, subjectID)
		return errors.ErrAccessDenied
	}
	return nil
}

// recordDenial appends the deny entry. Audit entries require an actor,
// a resource, and an action; a malformed request can miss any of them,
// so placeholders keep those denials in the trail too.
func (s *Service) recordDenial(ctx context.Context, principal access.Principal, action access.Action, resource, reason string, rule *access.Rule, subjectID string) {
	actorID := principal.ID
	if actorID == "" {
		actorID = "unknown"
	}
	if resource == "" {
		resource = "unknown"
	}
	act := string(action)
	if act == "" {
		act = "unknown"
	}

	entry, err := audit.NewEntry(audit.EntryAccessDenied, actorID, resource, act)
	if err != nil {
		s.logger.Error("access denial not recorded in audit log", zap.Error(err))
		return
	}
	entry.WithActor(string(principal.Role), principal.ActorType())
	if subjectID != "" {
		entry.WithSubject(subjectID)
	}
	entry.WithOutcome(audit.OutcomeDenied, "FORBIDDEN")

	if err := entry.WithMetadata("reason", reason); err != nil {
		s.logger.Error("access denial not recorded in audit log", zap.Error(err))
		return
	}
	if rule != nil {
		matched := fmt.Sprintf("%s %s %s", rule.Role, rule.Action, rule.Resource)
		if err := entry.WithMetadata("rule", matched); err != nil {
			s.logger.Error("access denial not recorded in audit log", zap.Error(err))
			return
		}
	}

	if _, err := s.auditor.Append(ctx, entry); err != nil {
		s.logger.Error("access denial not recorded in audit log",
			zap.String("actor", principal.String()),
			zap.String("action", act),
			zap.String("resource", resource),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}

	s.logger.Warn("access denied",
		zap.String("actor", principal.String()),
		zap.String("action", act),
		zap.String("resource", resource),
		zap.String("reason", reason),
	)
}
