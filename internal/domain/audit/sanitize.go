package audit

import (
	"github.com/adminsuite/governance-backend/internal/domain/sanitize"
)

// The audit log must never hold raw secret material. Construction and
// validation both run this scan; a hit rejects the entry with a policy
// violation rather than redacting, so the caller is forced to fix the
// payload.

// scanField checks one metadata key/value pair for secret material
func scanField(key, value string) error {
	return sanitize.CheckPair(key, value)
}

// scanForSecrets runs the scan over every persisted text field of the entry
func (e *Entry) scanForSecrets() error {
	fields := map[string]string{
		"actor_id":   e.ActorID,
		"subject_id": e.SubjectID,
		"resource":   e.Resource,
		"action":     e.Action,
		"error_code": e.ErrorCode,
	}

	for field, value := range fields {
		if err := sanitize.CheckValue(field, value); err != nil {
			return err
		}
	}

	for key, value := range e.Metadata {
		if err := scanField(key, value); err != nil {
			return err
		}
	}

	return nil
}
