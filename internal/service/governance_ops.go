package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/privacy"
	"github.com/adminsuite/governance-backend/internal/domain/retention"
	retentionsvc "github.com/adminsuite/governance-backend/internal/service/retention"
)

const (
	defaultAuditPage = 100
	maxAuditPage     = 1000
)

// QueryAudit returns entries matching the filter in sequence order,
// plus the cursor of the last entry surfaced. Setting AfterSequence to
// a previous cursor resumes the scan; the limit is clamped so one call
// can never drag the whole log into memory.
func (c *Core) QueryAudit(ctx context.Context, principal access.Principal, filter audit.Filter) ([]*audit.Entry, int64, error) {
	if err := c.access.Require(ctx, principal, access.ActionRead, "audit/entries"); err != nil {
		return nil, 0, err
	}

	if filter.Limit <= 0 {
		filter.Limit = defaultAuditPage
	}
	if filter.Limit > maxAuditPage {
		filter.Limit = maxAuditPage
	}

	it := c.audit.Query(ctx, filter)
	entries := make([]*audit.Entry, 0, filter.Limit)
	for len(entries) < filter.Limit && it.Next() {
		entries = append(entries, it.Entry())
	}
	if err := it.Err(); err != nil {
		return nil, 0, err
	}
	return entries, it.Cursor(), nil
}

// VerifyAuditChain re-walks the stored chain between the two sequence
// numbers and reports every break. to zero means the current tail.
func (c *Core) VerifyAuditChain(ctx context.Context, principal access.Principal, from, to int64) (*audit.ChainVerification, error) {
	if err := c.access.Require(ctx, principal, access.ActionRead, "audit/entries"); err != nil {
		return nil, err
	}
	return c.audit.VerifyChain(ctx, from, to)
}

// TriggerRetentionSweep runs one sweep pass now instead of waiting for
// the interval. The report says what the pass examined and did.
func (c *Core) TriggerRetentionSweep(ctx context.Context, principal access.Principal) (*retentionsvc.Report, error) {
	if err := c.access.Require(ctx, principal, access.ActionSweep, "retention/sweep"); err != nil {
		return nil, err
	}
	return c.sweeper.RunOnce(ctx, retentionsvc.TriggerManual)
}

// LastSweep returns the report of the most recent completed sweep, or
// nil before the first run. Reading it rides on the same right as
// reading the policy table.
func (c *Core) LastSweep(ctx context.Context, principal access.Principal) (*retentionsvc.Report, error) {
	if err := c.access.Require(ctx, principal, access.ActionRead, "retention/policies"); err != nil {
		return nil, err
	}
	return c.sweeper.LastReport(), nil
}

// PolicySummary describes the retention policy currently in force per
// category, including categories running on the fallback.
func (c *Core) PolicySummary(ctx context.Context, principal access.Principal) (retentionsvc.Summary, error) {
	if err := c.access.Require(ctx, principal, access.ActionRead, "retention/policies"); err != nil {
		return retentionsvc.Summary{}, err
	}
	return c.retention.Summary(), nil
}

// SetRetentionPolicyRequest configures how long one data category is
// kept and what happens when the window lapses.
type SetRetentionPolicyRequest struct {
	Category      string `validate:"required"`
	RetentionDays int    `validate:"min=0"`
	Action        string `validate:"required"`
	LegalBasis    string `validate:"max=256"`
}

// SetRetentionPolicy creates or replaces the policy for a category.
// The change takes effect on the next sweep and is audited.
func (c *Core) SetRetentionPolicy(ctx context.Context, principal access.Principal, req SetRetentionPolicyRequest) (*retention.Policy, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	category, err := retention.ParseCategory(req.Category)
	if err != nil {
		return nil, err
	}
	action, err := retention.ParseAction(req.Action)
	if err != nil {
		return nil, err
	}
	if err := c.access.Require(ctx, principal, access.ActionConfigure, "retention/policies"); err != nil {
		return nil, err
	}
	return c.retention.SetPolicy(ctx, principal, category, req.RetentionDays, action, req.LegalBasis)
}

// DeleteRetentionPolicy removes the category's policy, dropping it back
// to the fallback.
func (c *Core) DeleteRetentionPolicy(ctx context.Context, principal access.Principal, category string) error {
	cat, err := retention.ParseCategory(category)
	if err != nil {
		return err
	}
	if err := c.access.Require(ctx, principal, access.ActionConfigure, "retention/policies"); err != nil {
		return err
	}
	return c.retention.DeletePolicy(ctx, principal, cat)
}

// ComplianceReport is a point-in-time snapshot of the governance
// posture: activity counts over the window, chain integrity, open
// erasure obligations, and the retention configuration in force.
type ComplianceReport struct {
	GeneratedAt time.Time `json:"generated_at"`
	Since       time.Time `json:"since,omitempty"`
	Until       time.Time `json:"until,omitempty"`

	TotalEntries           int64 `json:"total_entries"`
	AccessDenials          int64 `json:"access_denials"`
	FailedOperations       int64 `json:"failed_operations"`
	ConsentDecisions       int64 `json:"consent_decisions"`
	LegitimateInterestHits int64 `json:"legitimate_interest_hits"`
	ErasuresCompleted      int64 `json:"erasures_completed"`
	ExportsCompleted       int64 `json:"exports_completed"`
	FieldReveals           int64 `json:"field_reveals"`

	ChainIntact  bool  `json:"chain_intact"`
	ChainEntries int64 `json:"chain_entries"`
	ChainBreaks  int   `json:"chain_breaks"`

	OpenObligations    int `json:"open_obligations"`
	OverdueObligations int `json:"overdue_obligations"`

	ProtectedRecords int64 `json:"protected_records"`

	Retention retentionsvc.Summary `json:"retention"`
	LastSweep *retentionsvc.Report `json:"last_sweep,omitempty"`
}

// ComplianceReport assembles the snapshot. The counts run concurrently
// against storage; a zero Since or Until leaves that end of the window
// open. Chain verification covers the whole log, which is the point of
// the report even when the window is narrow.
func (c *Core) ComplianceReport(ctx context.Context, principal access.Principal, since, until time.Time) (*ComplianceReport, error) {
	if err := c.access.Require(ctx, principal, access.ActionRead, "audit/entries"); err != nil {
		return nil, err
	}

	report := &ComplianceReport{
		GeneratedAt: time.Now().UTC(),
		Since:       since,
		Until:       until,
		Retention:   c.retention.Summary(),
		LastSweep:   c.sweeper.LastReport(),
	}
	window := audit.Filter{Since: since, Until: until}

	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int64, filter audit.Filter) {
		g.Go(func() error {
			n, err := c.audit.Count(gctx, filter)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}

	count(&report.TotalEntries, window)
	count(&report.AccessDenials, audit.Filter{Since: since, Until: until,
		Types: []audit.EntryType{audit.EntryAccessDenied}})
	count(&report.FailedOperations, audit.Filter{Since: since, Until: until,
		Outcomes: []audit.Outcome{audit.OutcomeFailure}})
	count(&report.ConsentDecisions, audit.Filter{Since: since, Until: until,
		Types: []audit.EntryType{audit.EntryConsentRecorded, audit.EntryConsentRevoked}})
	count(&report.LegitimateInterestHits, audit.Filter{Since: since, Until: until,
		Types: []audit.EntryType{audit.EntryLegitimateInterestHit}})
	count(&report.ErasuresCompleted, audit.Filter{Since: since, Until: until,
		Types: []audit.EntryType{audit.EntryErasureCompleted}})
	count(&report.ExportsCompleted, audit.Filter{Since: since, Until: until,
		Types: []audit.EntryType{audit.EntryExportCompleted}})
	count(&report.FieldReveals, audit.Filter{Since: since, Until: until,
		Types: []audit.EntryType{audit.EntryFieldRevealed}})

	g.Go(func() error {
		n, err := c.codec.CountRecords(gctx)
		if err != nil {
			return err
		}
		report.ProtectedRecords = n
		return nil
	})

	g.Go(func() error {
		obligations, err := c.processor.OpenObligations(gctx, 0)
		if err != nil {
			return err
		}
		report.OpenObligations = len(obligations)
		now := time.Now()
		for _, o := range obligations {
			if o.Status == privacy.ObligationOverdue || (o.Status == privacy.ObligationPending && o.Deadline.Before(now)) {
				report.OverdueObligations++
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// An empty log has nothing to verify and VerifyChain would reject
	// the empty range.
	if c.audit.LastSequence() > 0 {
		verification, err := c.audit.VerifyChain(ctx, 1, 0)
		if err != nil {
			return nil, err
		}
		report.ChainIntact = verification.IsValid
		report.ChainEntries = verification.EntriesVerified
		report.ChainBreaks = len(verification.Breaks)
	} else {
		report.ChainIntact = true
	}

	return report, nil
}
