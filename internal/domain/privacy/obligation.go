package privacy

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// ObligationTarget names a store that holds copies outside the primary
// store's reach.
type ObligationTarget string

const (
	TargetBackups   ObligationTarget = "backups"
	TargetReplicas  ObligationTarget = "replicas"
	TargetProcessor ObligationTarget = "processor"
)

// ObligationStatus is the lifecycle state of a propagation obligation.
type ObligationStatus string

const (
	ObligationPending  ObligationStatus = "pending"
	ObligationVerified ObligationStatus = "verified"
	ObligationOverdue  ObligationStatus = "overdue"
)

// PropagationObligation tracks that an erasure still has to reach a
// secondary store. Deletion completes in the primary store
// immediately; stores the processor cannot reach synchronously get an
// obligation with a deadline instead of a silent promise. Overdue
// obligations surface in reports until someone verifies them.
type PropagationObligation struct {
	ID         uuid.UUID
	RequestID  uuid.UUID
	SubjectID  string
	Target     ObligationTarget
	RaisedAt   time.Time
	Deadline   time.Time
	Status     ObligationStatus
	VerifiedAt *time.Time
	VerifiedBy string
}

// NewPropagationObligation raises an obligation against a target store.
func NewPropagationObligation(requestID uuid.UUID, subjectID string, target ObligationTarget, deadline time.Time) (*PropagationObligation, error) {
	if requestID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_REQUEST", "originating request ID is required")
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	if err := ValidateTarget(target); err != nil {
		return nil, err
	}
	now := time.Now()
	if !deadline.After(now) {
		return nil, errors.NewValidationError("INVALID_DEADLINE", "obligation deadline must be in the future")
	}

	return &PropagationObligation{
		ID:        uuid.New(),
		RequestID: requestID,
		SubjectID: subjectID,
		Target:    target,
		RaisedAt:  now,
		Deadline:  deadline,
		Status:    ObligationPending,
	}, nil
}

// Verify records that the target store confirmed the erasure. Overdue
// obligations can still be verified; lateness stays visible through
// VerifiedAt versus Deadline.
func (o *PropagationObligation) Verify(verifiedBy string, now time.Time) error {
	if o.Status == ObligationVerified {
		return errors.NewValidationError("ALREADY_VERIFIED", "obligation is already verified")
	}
	verifiedBy = strings.TrimSpace(verifiedBy)
	if verifiedBy == "" {
		return errors.NewValidationError("INVALID_ACTOR", "verifying actor is required")
	}

	o.Status = ObligationVerified
	o.VerifiedAt = &now
	o.VerifiedBy = verifiedBy
	return nil
}

// MarkOverdue flags a pending obligation whose deadline has passed.
func (o *PropagationObligation) MarkOverdue(now time.Time) error {
	if o.Status != ObligationPending {
		return errors.NewValidationError("NOT_PENDING",
			fmt.Sprintf("cannot mark %s obligation overdue", o.Status))
	}
	if !now.After(o.Deadline) {
		return errors.NewValidationError("DEADLINE_NOT_PASSED", "obligation deadline has not passed")
	}
	o.Status = ObligationOverdue
	return nil
}

// IsOpen reports whether the obligation still awaits verification.
func (o *PropagationObligation) IsOpen() bool {
	return o.Status == ObligationPending || o.Status == ObligationOverdue
}

// ValidateTarget validates if an obligation target is known.
func ValidateTarget(target ObligationTarget) error {
	switch target {
	case TargetBackups, TargetReplicas, TargetProcessor:
		return nil
	default:
		return errors.NewValidationError("INVALID_TARGET", fmt.Sprintf("invalid obligation target: %s", target))
	}
}
