package service

import (
	"context"
	"time"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/consent"
	consentsvc "github.com/adminsuite/governance-backend/internal/service/consent"
)

// RecordConsentRequest captures one consent decision as it arrives at
// the boundary. Purpose and Source are parsed against the domain
// vocabulary before anything else happens.
type RecordConsentRequest struct {
	SubjectID string `validate:"required,max=128"`
	Purpose   string `validate:"required"`
	Granted   bool
	Source    string `validate:"required"`
	Note      string `validate:"max=512"`
	ExpiresAt *time.Time
}

// RecordConsent stores a new consent decision for the subject and
// purpose. Subjects may only decide for themselves; staff roles record
// on a subject's behalf, which the registry stamps into the trail.
func (c *Core) RecordConsent(ctx context.Context, principal access.Principal, req RecordConsentRequest) (*consent.Record, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	purpose, err := consent.ParsePurpose(req.Purpose)
	if err != nil {
		return nil, err
	}
	source, err := consent.ParseSource(req.Source)
	if err != nil {
		return nil, err
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionWrite, "consent/records", req.SubjectID); err != nil {
		return nil, err
	}
	return c.consents.Record(ctx, principal, consentsvc.RecordRequest{
		SubjectID: req.SubjectID,
		Purpose:   purpose,
		Granted:   req.Granted,
		Source:    source,
		Note:      req.Note,
		ExpiresAt: req.ExpiresAt,
	})
}

// CheckConsentRequest asks whether processing is currently permitted
// for one (subject, purpose) pair.
type CheckConsentRequest struct {
	SubjectID string `validate:"required,max=128"`
	Purpose   string `validate:"required"`
}

// CheckConsent answers whether the purpose is permitted for the
// subject right now. Unknown pairs answer false; a configured
// legitimate-interest purpose answers true with the bypass audited.
func (c *Core) CheckConsent(ctx context.Context, principal access.Principal, req CheckConsentRequest) (bool, error) {
	if err := c.checkRequest(req); err != nil {
		return false, err
	}
	purpose, err := consent.ParsePurpose(req.Purpose)
	if err != nil {
		return false, err
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionRead, "consent/records", req.SubjectID); err != nil {
		return false, err
	}
	return c.consents.Check(ctx, req.SubjectID, purpose)
}

// ConsentHistory returns every decision ever recorded for the pair,
// oldest first. History is append-only, so this is the full trail.
func (c *Core) ConsentHistory(ctx context.Context, principal access.Principal, req CheckConsentRequest) ([]consent.Decision, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	purpose, err := consent.ParsePurpose(req.Purpose)
	if err != nil {
		return nil, err
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionRead, "consent/records", req.SubjectID); err != nil {
		return nil, err
	}
	return c.consents.History(ctx, req.SubjectID, purpose)
}
