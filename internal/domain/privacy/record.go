package privacy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/retention"
	"github.com/adminsuite/governance-backend/internal/domain/sanitize"
)

// SensitiveRecord holds one subject's payload for one data category.
// Sensitive values live only in protected envelopes; plain fields are
// for values classified non-sensitive, and writes to them are scanned
// so secret material cannot slip in through the plain side.
type SensitiveRecord struct {
	ID              uuid.UUID
	SubjectID       string
	Category        retention.DataCategory
	Status          retention.Status
	ProtectedFields map[string]Envelope
	PlainFields     map[string]string
	CreatedAt       time.Time
	LastModified    time.Time
	ErasedAt        *time.Time
	SweptAt         *time.Time
}

// NewSensitiveRecord creates an empty record for a subject and category.
func NewSensitiveRecord(subjectID string, category retention.DataCategory) (*SensitiveRecord, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	if err := retention.ValidateCategory(category); err != nil {
		return nil, err
	}

	now := time.Now()
	return &SensitiveRecord{
		ID:              uuid.New(),
		SubjectID:       subjectID,
		Category:        category,
		Status:          retention.StatusActive,
		ProtectedFields: make(map[string]Envelope),
		PlainFields:     make(map[string]string),
		CreatedAt:       now,
		LastModified:    now,
	}, nil
}

// SetPlainField stores a non-sensitive value. The name and value are
// scanned; anything secret-looking is rejected rather than stored,
// because the plain side is readable without access gating.
func (r *SensitiveRecord) SetPlainField(name, value string) error {
	if err := r.writable(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.NewValidationError("INVALID_FIELD_NAME", "field name is required")
	}
	if err := sanitize.CheckPair(name, value); err != nil {
		return err
	}

	if r.PlainFields == nil {
		r.PlainFields = make(map[string]string)
	}
	r.PlainFields[name] = value
	r.LastModified = time.Now()
	return nil
}

// PutProtectedField stores a sealed value under a field name.
func (r *SensitiveRecord) PutProtectedField(name string, env Envelope) error {
	if err := r.writable(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.NewValidationError("INVALID_FIELD_NAME", "field name is required")
	}
	if err := env.Validate(); err != nil {
		return err
	}

	if r.ProtectedFields == nil {
		r.ProtectedFields = make(map[string]Envelope)
	}
	r.ProtectedFields[name] = env
	r.LastModified = time.Now()
	return nil
}

// ProtectedField returns the envelope stored under a field name.
func (r *SensitiveRecord) ProtectedField(name string) (Envelope, error) {
	env, ok := r.ProtectedFields[name]
	if !ok {
		return Envelope{}, errors.NewNotFoundError(fmt.Sprintf("protected field %s", name))
	}
	return env, nil
}

// PlainField returns a plain value and whether it exists.
func (r *SensitiveRecord) PlainField(name string) (string, bool) {
	v, ok := r.PlainFields[name]
	return v, ok
}

// ProtectedFieldNames returns the protected field names sorted, for
// deterministic iteration.
func (r *SensitiveRecord) ProtectedFieldNames() []string {
	names := make([]string, 0, len(r.ProtectedFields))
	for name := range r.ProtectedFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PlainFieldNames returns the plain field names sorted.
func (r *SensitiveRecord) PlainFieldNames() []string {
	names := make([]string, 0, len(r.PlainFields))
	for name := range r.PlainFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Erase destroys all protected field content in place. The envelopes
// are dropped, not re-encoded, so nothing recoverable remains in this
// store. The record itself stays, erased, until retention sweeps it.
// Returns the number of fields destroyed.
func (r *SensitiveRecord) Erase(now time.Time) (int, error) {
	if err := r.writable(); err != nil {
		return 0, err
	}

	destroyed := len(r.ProtectedFields)
	r.ProtectedFields = make(map[string]Envelope)
	r.ErasedAt = &now
	r.LastModified = now
	return destroyed, nil
}

// MarkEligible transitions the record to eligible_for_purge.
func (r *SensitiveRecord) MarkEligible() error {
	if r.Status != retention.StatusActive {
		return errors.NewValidationError("NOT_ACTIVE",
			fmt.Sprintf("cannot mark %s record eligible", r.Status))
	}
	r.Status = retention.StatusEligible
	return nil
}

// Purge empties the record ahead of hard deletion by the store.
func (r *SensitiveRecord) Purge(now time.Time) error {
	if r.IsSwept() {
		return errors.NewValidationError("ALREADY_SWEPT",
			fmt.Sprintf("record is already %s", r.Status))
	}
	r.ProtectedFields = make(map[string]Envelope)
	r.PlainFields = make(map[string]string)
	r.Status = retention.StatusPurged
	r.SweptAt = &now
	r.LastModified = now
	return nil
}

// Anonymize drops all protected content and re-keys the record to a
// pseudonym. The pseudonym must come from a one-way derivation; this
// method just applies it.
func (r *SensitiveRecord) Anonymize(pseudonym string, now time.Time) error {
	if r.IsSwept() {
		return errors.NewValidationError("ALREADY_SWEPT",
			fmt.Sprintf("record is already %s", r.Status))
	}
	pseudonym = strings.TrimSpace(pseudonym)
	if pseudonym == "" {
		return errors.NewValidationError("INVALID_PSEUDONYM", "pseudonym is required")
	}
	if pseudonym == r.SubjectID {
		return errors.NewValidationError("INVALID_PSEUDONYM", "pseudonym must differ from the subject ID")
	}

	r.ProtectedFields = make(map[string]Envelope)
	r.SubjectID = pseudonym
	r.Status = retention.StatusAnonymized
	r.SweptAt = &now
	r.LastModified = now
	return nil
}

// Clone returns a deep copy. Repositories store and return clones so
// callers cannot mutate persisted state in place.
func (r *SensitiveRecord) Clone() *SensitiveRecord {
	clone := *r
	clone.ProtectedFields = make(map[string]Envelope, len(r.ProtectedFields))
	for name, env := range r.ProtectedFields {
		clone.ProtectedFields[name] = env.Clone()
	}
	clone.PlainFields = make(map[string]string, len(r.PlainFields))
	for name, v := range r.PlainFields {
		clone.PlainFields[name] = v
	}
	if r.ErasedAt != nil {
		t := *r.ErasedAt
		clone.ErasedAt = &t
	}
	if r.SweptAt != nil {
		t := *r.SweptAt
		clone.SweptAt = &t
	}
	return &clone
}

// IsSwept reports whether retention has already disposed of the record.
func (r *SensitiveRecord) IsSwept() bool {
	return r.Status == retention.StatusPurged || r.Status == retention.StatusAnonymized
}

// IsErased reports whether an erasure request has destroyed the
// protected content.
func (r *SensitiveRecord) IsErased() bool {
	return r.ErasedAt != nil
}

// Item returns the retention view of this record.
func (r *SensitiveRecord) Item() retention.Item {
	return retention.Item{
		RecordID:     r.ID,
		SubjectID:    r.SubjectID,
		Category:     r.Category,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
		LastModified: r.LastModified,
		SweptAt:      r.SweptAt,
	}
}

func (r *SensitiveRecord) writable() error {
	if r.IsSwept() {
		return errors.NewValidationError("ALREADY_SWEPT",
			fmt.Sprintf("record is already %s", r.Status))
	}
	return nil
}
