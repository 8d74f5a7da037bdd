package audit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/google/uuid"
)

// Entry is an immutable audit log record. The append path computes the hash
// chain and freezes the entry; after that every mutation attempt fails.
type Entry struct {
	// Identity, assigned at append time
	ID            uuid.UUID `json:"id"`
	SequenceNum   int64     `json:"sequence_num"`
	Timestamp     time.Time `json:"timestamp"`
	TimestampNano int64     `json:"timestamp_nano"`

	// Classification
	Type     EntryType `json:"type"`
	Severity Severity  `json:"severity"`
	Category string    `json:"category"`

	// Who performed the action. Role travels with the identity; session
	// tokens never do.
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role,omitempty"`
	ActorType string `json:"actor_type"`

	// What was acted upon
	SubjectID string `json:"subject_id,omitempty"`
	Resource  string `json:"resource"`

	// Action details
	Action    string  `json:"action"`
	Outcome   Outcome `json:"outcome"`
	ErrorCode string  `json:"error_code,omitempty"`

	// Request correlation
	RequestID     string `json:"request_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	// Service metadata
	Service     string `json:"service"`
	Environment string `json:"environment"`

	// Sanitized context. String-valued by construction so the secret scan
	// covers every value that will be persisted.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Hash chain
	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`

	immutable bool
}

// NewEntry creates a mutable audit entry with the required fields set.
// Optional context is attached through the With* methods before the append
// path hashes and freezes it.
func NewEntry(entryType EntryType, actorID, resource, action string) (*Entry, error) {
	if !entryType.IsValid() {
		return nil, errors.NewValidationError("INVALID_ENTRY_TYPE",
			fmt.Sprintf("unknown audit entry type: %s", entryType))
	}

	if actorID == "" {
		return nil, errors.NewValidationError("MISSING_ACTOR_ID", "actor ID is required")
	}

	if resource == "" {
		return nil, errors.NewValidationError("MISSING_RESOURCE", "resource is required")
	}

	if action == "" {
		return nil, errors.NewValidationError("MISSING_ACTION", "action is required")
	}

	now := time.Now().UTC()

	return &Entry{
		ID:            uuid.New(),
		Timestamp:     now,
		TimestampNano: now.UnixNano(),
		Type:          entryType,
		Severity:      SeverityInfo,
		Category:      entryType.Category(),
		ActorID:       actorID,
		ActorType:     ActorTypeUser,
		Resource:      resource,
		Action:        action,
		Outcome:       OutcomeSuccess,
		Metadata:      make(map[string]string),
	}, nil
}

// WithActor sets the actor role and type
func (e *Entry) WithActor(role, actorType string) *Entry {
	if !e.immutable {
		e.ActorRole = role
		e.ActorType = actorType
	}
	return e
}

// WithSubject attaches the affected data subject
func (e *Entry) WithSubject(subjectID string) *Entry {
	if !e.immutable {
		e.SubjectID = subjectID
	}
	return e
}

// WithOutcome sets the outcome and, for failures, the error code
func (e *Entry) WithOutcome(outcome Outcome, errorCode string) *Entry {
	if !e.immutable {
		e.Outcome = outcome
		e.ErrorCode = errorCode
		if outcome != OutcomeSuccess && e.Severity == SeverityInfo {
			e.Severity = SeverityWarning
		}
	}
	return e
}

// WithSeverity overrides the default severity
func (e *Entry) WithSeverity(severity Severity) *Entry {
	if !e.immutable {
		e.Severity = severity
	}
	return e
}

// WithRequest attaches request correlation identifiers
func (e *Entry) WithRequest(requestID, correlationID string) *Entry {
	if !e.immutable {
		e.RequestID = requestID
		e.CorrelationID = correlationID
	}
	return e
}

// WithMetadata attaches a sanitized context value. Values carrying secret
// material are rejected here and again in Validate, so nothing slips through
// via direct map writes.
func (e *Entry) WithMetadata(key, value string) error {
	if e.immutable {
		return errors.NewConflictError("cannot modify a frozen audit entry")
	}

	if err := scanField(key, value); err != nil {
		return err
	}

	e.Metadata[key] = value
	return nil
}

// ComputeHash links the entry to the chain and freezes it. The hash covers
// every field that matters for integrity, including the sanitized metadata.
func (e *Entry) ComputeHash(previousHash string) (string, error) {
	if e.immutable {
		return "", errors.NewConflictError("cannot recompute hash on a frozen audit entry")
	}

	e.PreviousHash = previousHash

	hashData := map[string]interface{}{
		"id":             e.ID.String(),
		"sequence_num":   e.SequenceNum,
		"timestamp_nano": e.TimestampNano,
		"type":           string(e.Type),
		"severity":       string(e.Severity),
		"actor_id":       e.ActorID,
		"actor_role":     e.ActorRole,
		"subject_id":     e.SubjectID,
		"resource":       e.Resource,
		"action":         e.Action,
		"outcome":        string(e.Outcome),
		"error_code":     e.ErrorCode,
		"metadata":       e.Metadata,
		"previous_hash":  e.PreviousHash,
	}

	jsonBytes, err := json.Marshal(hashData)
	if err != nil {
		return "", errors.NewInternalError("failed to marshal hash data").WithCause(err)
	}

	hash := sha256.Sum256(jsonBytes)
	e.EntryHash = fmt.Sprintf("%x", hash)
	e.immutable = true

	return e.EntryHash, nil
}

// IsImmutable reports whether the entry has been hashed and frozen
func (e *Entry) IsImmutable() bool {
	return e.immutable
}

// Validate checks structure and scans every persisted text field for secret
// material. The append path calls this before anything touches storage.
func (e *Entry) Validate() error {
	if !e.Type.IsValid() {
		return errors.NewValidationError("INVALID_ENTRY_TYPE",
			fmt.Sprintf("unknown audit entry type: %s", e.Type))
	}

	if !e.Severity.IsValid() {
		return errors.NewValidationError("INVALID_SEVERITY",
			fmt.Sprintf("unknown severity: %s", e.Severity))
	}

	if !e.Outcome.IsValid() {
		return errors.NewValidationError("INVALID_OUTCOME",
			"outcome must be success, failure, or denied")
	}

	if e.ActorID == "" {
		return errors.NewValidationError("MISSING_ACTOR_ID", "actor ID is required")
	}

	if e.Resource == "" {
		return errors.NewValidationError("MISSING_RESOURCE", "resource is required")
	}

	if e.Action == "" {
		return errors.NewValidationError("MISSING_ACTION", "action is required")
	}

	if e.immutable && e.EntryHash == "" {
		return errors.NewValidationError("MISSING_HASH", "frozen entry must carry its hash")
	}

	return e.scanForSecrets()
}

// Clone returns a mutable deep copy, used by chain verification to recompute
// hashes without touching the stored entry.
func (e *Entry) Clone() *Entry {
	clone := *e
	clone.immutable = false

	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}

	return &clone
}
