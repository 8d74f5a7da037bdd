// Package retention enforces data retention: it keeps the policy table
// that maps data categories to retention windows, answers
// purge-eligibility questions, and runs the sweep that disposes of
// records whose window has lapsed.
package retention

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/retention"
)

// Auditor appends entries to the audit log. An append failure vetoes
// the operation being recorded.
type Auditor interface {
	Append(ctx context.Context, entry *audit.Entry) (int64, error)
}

// Service manages the retention policy table. Evaluation runs against
// an in-memory snapshot rebuilt on every policy change, so the sweep
// never waits on the policy store.
type Service struct {
	policies retention.PolicyRepository
	auditor  Auditor
	logger   *zap.Logger

	mu         sync.RWMutex
	set        *retention.PolicySet
	configured map[retention.DataCategory]bool
}

// NewService builds the policy service and loads the table. Stored
// policies overlay the shipped defaults, so every category always
// resolves even before an operator has configured anything.
func NewService(ctx context.Context, policies retention.PolicyRepository, auditor Auditor, logger *zap.Logger) (*Service, error) {
	if policies == nil {
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "policy repository is required")
	}
	if auditor == nil {
		return nil, errors.NewValidationError("MISSING_AUDITOR", "auditor is required")
	}
	if logger == nil {
		return nil, errors.NewValidationError("MISSING_LOGGER", "logger is required")
	}

	s := &Service{
		policies: policies,
		auditor:  auditor,
		logger:   logger.With(zap.String("service", "retention")),
	}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("retention policies loaded",
		zap.Int("categories", len(s.snapshot().Policies())),
	)
	return s, nil
}

// DefaultPolicies returns the shipped retention configuration, one
// policy per category. Deployments tune it through SetPolicy.
func DefaultPolicies() []*retention.Policy {
	return []*retention.Policy{
		mustPolicy(retention.CategoryContact, 1095, retention.ActionPurge, "contractual necessity"),
		mustPolicy(retention.CategoryBehavioral, 180, retention.ActionAnonymize, "aggregate analysis"),
		mustPolicy(retention.CategoryFinancial, 2555, retention.ActionPurge, "statutory bookkeeping period"),
		mustPolicy(retention.CategoryHealth, 365, retention.ActionPurge, "explicit consent"),
		mustPolicy(retention.CategoryAuditLog, 2555, retention.ActionAnonymize, "regulatory audit trail"),
	}
}

func mustPolicy(category retention.DataCategory, days int, action retention.PurgeAction, basis string) *retention.Policy {
	p, err := retention.NewPolicy(category, days, action, basis)
	if err != nil {
		panic(err)
	}
	return p
}

// ShouldPurge reports whether a record of the given category and age
// has outlived its retention window. Pure against the current
// snapshot: same inputs, same answer.
func (s *Service) ShouldPurge(category retention.DataCategory, ageDays int) bool {
	return s.snapshot().ShouldPurge(category, ageDays)
}

// ActionFor returns the disposal action for a category.
func (s *Service) ActionFor(category retention.DataCategory) retention.PurgeAction {
	return s.snapshot().ActionFor(category)
}

// Resolve returns the policy governing a category and whether the
// conservative fallback was used to answer.
func (s *Service) Resolve(category retention.DataCategory) (*retention.Policy, bool) {
	return s.snapshot().Resolve(category)
}

// ArchiveCutoff returns the instant before which audit entries belong
// in cold storage, taken from the audit_log category's window.
func (s *Service) ArchiveCutoff(now time.Time) time.Time {
	policy, _ := s.snapshot().Resolve(retention.CategoryAuditLog)
	return now.Add(-policy.Retention.Duration())
}

// SetPolicy creates or replaces the policy for a category. The change
// applies prospectively: records already past an older threshold are
// handled by the next sweep under whatever table is current then.
func (s *Service) SetPolicy(ctx context.Context, principal access.Principal, category retention.DataCategory, retentionDays int, action retention.PurgeAction, legalBasis string) (*retention.Policy, error) {
	if err := retention.ValidateCategory(category); err != nil {
		return nil, err
	}

	previousDays := 0
	policy, err := s.policies.GetByCategory(ctx, category)
	switch {
	case err == nil:
		previousDays = policy.Retention.Days()
		if err := policy.SetRetention(retentionDays); err != nil {
			return nil, err
		}
		if err := policy.SetAction(action); err != nil {
			return nil, err
		}
		if basis := strings.TrimSpace(legalBasis); basis != "" {
			policy.LegalBasis = basis
		}
	case errors.IsNotFound(err):
		policy, err = retention.NewPolicy(category, retentionDays, action, legalBasis)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := s.auditPolicyChange(ctx, principal, category, "set", func(entry *audit.Entry) error {
		if err := entry.WithMetadata("retention_days", strconv.Itoa(retentionDays)); err != nil {
			return err
		}
		if err := entry.WithMetadata("action", string(action)); err != nil {
			return err
		}
		if previousDays > 0 {
			return entry.WithMetadata("previous_days", strconv.Itoa(previousDays))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.policies.Save(ctx, policy); err != nil {
		s.auditPolicyFailure(ctx, principal, category, err)
		return nil, err
	}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("retention policy set",
		zap.String("category", string(category)),
		zap.Int("retention_days", retentionDays),
		zap.String("action", string(action)),
	)
	return policy, nil
}

// DeletePolicy removes the configured policy for a category, reverting
// it to the shipped default.
func (s *Service) DeletePolicy(ctx context.Context, principal access.Principal, category retention.DataCategory) error {
	if err := retention.ValidateCategory(category); err != nil {
		return err
	}
	if _, err := s.policies.GetByCategory(ctx, category); err != nil {
		return err
	}

	if err := s.auditPolicyChange(ctx, principal, category, "removed", nil); err != nil {
		return err
	}

	if err := s.policies.Delete(ctx, category); err != nil {
		s.auditPolicyFailure(ctx, principal, category, err)
		return err
	}
	if err := s.reload(ctx); err != nil {
		return err
	}

	s.logger.Info("retention policy removed", zap.String("category", string(category)))
	return nil
}

// Summary describes the policy table in force.
type Summary struct {
	Policies         []PolicyLine           `json:"policies"`
	FallbackCategory retention.DataCategory `json:"fallback_category"`
}

// PolicyLine is one category's entry in the summary. Configured is
// false when the line comes from the shipped defaults.
type PolicyLine struct {
	Category      retention.DataCategory `json:"category"`
	RetentionDays int                    `json:"retention_days"`
	Action        retention.PurgeAction  `json:"action"`
	LegalBasis    string                 `json:"legal_basis,omitempty"`
	Configured    bool                   `json:"configured"`
}

// Summary returns one line per category plus which policy backstops
// unknown categories.
func (s *Service) Summary() Summary {
	s.mu.RLock()
	set := s.set
	configured := s.configured
	s.mu.RUnlock()

	policies := set.Policies()
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Category < policies[j].Category
	})

	out := Summary{FallbackCategory: set.MostConservative().Category}
	for _, p := range policies {
		out.Policies = append(out.Policies, PolicyLine{
			Category:      p.Category,
			RetentionDays: p.Retention.Days(),
			Action:        p.Action,
			LegalBasis:    p.LegalBasis,
			Configured:    configured[p.Category],
		})
	}
	return out
}

func (s *Service) snapshot() *retention.PolicySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}

// reload rebuilds the evaluation snapshot: shipped defaults first,
// stored policies on top.
func (s *Service) reload(ctx context.Context) error {
	stored, err := s.policies.List(ctx)
	if err != nil {
		return errors.NewStorageError("load_policies", err)
	}

	byCategory := make(map[retention.DataCategory]*retention.Policy)
	for _, p := range DefaultPolicies() {
		byCategory[p.Category] = p
	}
	configured := make(map[retention.DataCategory]bool, len(stored))
	for _, p := range stored {
		byCategory[p.Category] = p
		configured[p.Category] = true
	}

	list := make([]*retention.Policy, 0, len(byCategory))
	for _, p := range byCategory {
		list = append(list, p)
	}
	set, err := retention.NewPolicySet(list)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.set = set
	s.configured = configured
	s.mu.Unlock()
	return nil
}

func (s *Service) auditPolicyChange(ctx context.Context, principal access.Principal, category retention.DataCategory, change string, attach func(*audit.Entry) error) error {
	entry, err := audit.NewEntry(audit.EntryRetentionPolicyChanged, principal.ID, "retention/policies", "configure")
	if err != nil {
		return err
	}
	entry.WithActor(string(principal.Role), principal.ActorType())
	if err := entry.WithMetadata("category", string(category)); err != nil {
		return err
	}
	if err := entry.WithMetadata("change", change); err != nil {
		return err
	}
	if attach != nil {
		if err := attach(entry); err != nil {
			return err
		}
	}

	_, err = s.auditor.Append(ctx, entry)
	return err
}

// auditPolicyFailure appends a failure entry after a store write failed
// post-audit. Best effort: the caller sees the original error.
func (s *Service) auditPolicyFailure(ctx context.Context, principal access.Principal, category retention.DataCategory, cause error) {
	entry, err := audit.NewEntry(audit.EntryRetentionPolicyChanged, principal.ID, "retention/policies", "configure")
	if err != nil {
		return
	}
	entry.WithActor(string(principal.Role), principal.ActorType())
	entry.WithOutcome(audit.OutcomeFailure, errors.Code(cause))
	if err := entry.WithMetadata("category", string(category)); err != nil {
		return
	}
	if _, err := s.auditor.Append(ctx, entry); err != nil {
		s.logger.Error("policy change failure not recorded in audit log",
			zap.String("category", string(category)),
			zap.Error(err),
		)
	}
}
