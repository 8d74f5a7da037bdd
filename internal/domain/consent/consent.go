package consent

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// Purpose identifies what a subject's data may be used for. Consent is
// tracked per (subject, purpose) pair; two purposes never share state.
type Purpose string

const (
	PurposeMarketing       Purpose = "marketing"
	PurposeAnalytics       Purpose = "analytics"
	PurposePersonalization Purpose = "personalization"
	PurposeServiceDelivery Purpose = "service_delivery"
	PurposeBilling         Purpose = "billing"
	PurposeFraudPrevention Purpose = "fraud_prevention"
)

// Source records how a consent decision was obtained.
type Source string

const (
	// SourceExplicit is a direct action by the subject (form, API call).
	SourceExplicit Source = "explicit"
	// SourceInferred is derived from subject behavior, never from silence.
	SourceInferred Source = "inferred"
	// SourceImported is carried over from a previous system of record.
	SourceImported Source = "imported"
)

// Record is the consent aggregate for one (subject, purpose) pair.
// Decisions are append-only: every grant or revocation adds a new
// version and the highest version wins. History is never rewritten,
// so past decisions stay available for audit.
type Record struct {
	ID             uuid.UUID
	SubjectID      string
	Purpose        Purpose
	CurrentVersion int
	Decisions      []Decision
	CreatedAt      time.Time
	UpdatedAt      time.Time

	events []interface{}
}

// Decision is one immutable version of a consent record.
type Decision struct {
	ID         uuid.UUID
	RecordID   uuid.UUID
	Version    int
	Granted    bool
	Source     Source
	Actor      string
	Note       string
	RecordedAt time.Time
	ExpiresAt  *time.Time
}

// NewRecord creates a consent record with its first decision.
func NewRecord(subjectID string, purpose Purpose, granted bool, source Source, actor string) (*Record, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	if err := ValidatePurpose(purpose); err != nil {
		return nil, err
	}
	if err := ValidateSource(source); err != nil {
		return nil, err
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, errors.NewValidationError("INVALID_ACTOR", "recording actor is required")
	}

	now := time.Now()
	record := &Record{
		ID:             uuid.New(),
		SubjectID:      subjectID,
		Purpose:        purpose,
		CurrentVersion: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	record.Decisions = []Decision{{
		ID:         uuid.New(),
		RecordID:   record.ID,
		Version:    1,
		Granted:    granted,
		Source:     source,
		Actor:      actor,
		RecordedAt: now,
	}}

	record.addEvent(DecisionRecordedEvent{
		RecordID:   record.ID,
		SubjectID:  subjectID,
		Purpose:    purpose,
		Version:    1,
		Granted:    granted,
		Source:     source,
		Actor:      actor,
		RecordedAt: now,
	})

	return record, nil
}

// Grant appends a granting decision as a new version. The prior
// decisions remain in place regardless of what they said.
func (r *Record) Grant(source Source, actor string, expiresAt *time.Time) error {
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		return errors.NewValidationError("INVALID_EXPIRY", "consent expiry must be in the future")
	}
	return r.append(true, source, actor, "", expiresAt)
}

// Revoke appends a denying decision as a new version. Revoking an
// already-revoked record is allowed; the extra version documents the
// repeated request.
func (r *Record) Revoke(source Source, actor, reason string) error {
	return r.append(false, source, actor, reason, nil)
}

func (r *Record) append(granted bool, source Source, actor, note string, expiresAt *time.Time) error {
	if err := ValidateSource(source); err != nil {
		return err
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return errors.NewValidationError("INVALID_ACTOR", "recording actor is required")
	}

	now := time.Now()
	decision := Decision{
		ID:         uuid.New(),
		RecordID:   r.ID,
		Version:    r.CurrentVersion + 1,
		Granted:    granted,
		Source:     source,
		Actor:      actor,
		Note:       note,
		RecordedAt: now,
		ExpiresAt:  expiresAt,
	}

	r.Decisions = append(r.Decisions, decision)
	r.CurrentVersion++
	r.UpdatedAt = now

	r.addEvent(DecisionRecordedEvent{
		RecordID:   r.ID,
		SubjectID:  r.SubjectID,
		Purpose:    r.Purpose,
		Version:    decision.Version,
		Granted:    granted,
		Source:     source,
		Actor:      actor,
		RecordedAt: now,
	})

	return nil
}

// Latest returns the highest-version decision, or nil for an empty
// record loaded from a corrupt store.
func (r *Record) Latest() *Decision {
	if r.CurrentVersion <= 0 || r.CurrentVersion > len(r.Decisions) {
		return nil
	}
	return &r.Decisions[r.CurrentVersion-1]
}

// IsGranted reports whether the latest decision grants consent at the
// given instant. A missing or expired decision reads as not granted.
func (r *Record) IsGranted(now time.Time) bool {
	latest := r.Latest()
	if latest == nil || !latest.Granted {
		return false
	}
	if latest.ExpiresAt != nil && now.After(*latest.ExpiresAt) {
		return false
	}
	return true
}

// DecisionAt returns the decision recorded as the given version.
func (r *Record) DecisionAt(version int) (*Decision, error) {
	for i := range r.Decisions {
		if r.Decisions[i].Version == version {
			return &r.Decisions[i], nil
		}
	}
	return nil, errors.NewNotFoundError(fmt.Sprintf("consent version %d", version))
}

// History returns all decisions ordered by version, oldest first.
func (r *Record) History() []Decision {
	out := make([]Decision, len(r.Decisions))
	copy(out, r.Decisions)
	return out
}

// Clone returns a deep copy without pending events. Repositories store
// and return clones so callers cannot mutate persisted state in place.
func (r *Record) Clone() *Record {
	clone := &Record{
		ID:             r.ID,
		SubjectID:      r.SubjectID,
		Purpose:        r.Purpose,
		CurrentVersion: r.CurrentVersion,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	clone.Decisions = make([]Decision, len(r.Decisions))
	copy(clone.Decisions, r.Decisions)
	return clone
}

// GetEvents returns the domain events accumulated on this aggregate.
func (r *Record) GetEvents() []interface{} {
	return r.events
}

// ClearEvents removes accumulated events after they are published.
func (r *Record) ClearEvents() {
	r.events = nil
}

func (r *Record) addEvent(event interface{}) {
	r.events = append(r.events, event)
}

// ValidatePurpose validates if a purpose is usable as a consent key.
// Purposes outside the known set are rejected rather than silently
// tracked, so a typo cannot create a parallel consent stream.
func ValidatePurpose(purpose Purpose) error {
	switch purpose {
	case PurposeMarketing, PurposeAnalytics, PurposePersonalization,
		PurposeServiceDelivery, PurposeBilling, PurposeFraudPrevention:
		return nil
	default:
		return errors.NewValidationError("INVALID_PURPOSE", fmt.Sprintf("invalid purpose: %s", purpose))
	}
}

// ValidateSource validates if a decision source is valid.
func ValidateSource(source Source) error {
	switch source {
	case SourceExplicit, SourceInferred, SourceImported:
		return nil
	default:
		return errors.NewValidationError("INVALID_SOURCE", fmt.Sprintf("invalid source: %s", source))
	}
}

// ParsePurpose parses a string into a Purpose.
func ParsePurpose(s string) (Purpose, error) {
	purpose := Purpose(strings.ToLower(strings.TrimSpace(s)))
	if err := ValidatePurpose(purpose); err != nil {
		return "", err
	}
	return purpose, nil
}

// ParseSource parses a string into a decision Source.
func ParseSource(s string) (Source, error) {
	source := Source(strings.ToLower(strings.TrimSpace(s)))
	if err := ValidateSource(source); err != nil {
		return "", err
	}
	return source, nil
}

// AllPurposes returns every purpose the registry tracks.
func AllPurposes() []Purpose {
	return []Purpose{
		PurposeMarketing,
		PurposeAnalytics,
		PurposePersonalization,
		PurposeServiceDelivery,
		PurposeBilling,
		PurposeFraudPrevention,
	}
}

// Domain Events

// DecisionRecordedEvent is emitted for every appended decision,
// grants and revocations alike.
type DecisionRecordedEvent struct {
	RecordID   uuid.UUID
	SubjectID  string
	Purpose    Purpose
	Version    int
	Granted    bool
	Source     Source
	Actor      string
	RecordedAt time.Time
}
