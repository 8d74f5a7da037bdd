// Package privacy implements the subject-data plane: the field
// protection codec that seals and reveals sensitive values, and the
// processor that executes right-to-erasure and right-to-access
// requests end to end.
package privacy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/privacy"
	"github.com/adminsuite/governance-backend/internal/domain/retention"
	"github.com/adminsuite/governance-backend/internal/metrics"
	"github.com/adminsuite/governance-backend/internal/service/keylock"
)

// Auditor appends entries to the audit log. An append failure vetoes
// the operation being recorded.
type Auditor interface {
	Append(ctx context.Context, entry *audit.Entry) (int64, error)
}

// Sealer encrypts and decrypts field envelopes.
type Sealer interface {
	Seal(plaintext []byte) (privacy.Envelope, error)
	Open(env privacy.Envelope) ([]byte, error)
}

// KeyManager is the full key lifecycle the codec drives: sealing,
// opening, and moving the active key.
type KeyManager interface {
	Sealer
	ActiveKeyID() string
	KeyIDs() []string
	Has(keyID string) bool
	Rotate(newKeyID string) error
	Retire(keyID string) error
}

// Authorizer answers whether a principal may perform an action. Denials
// are recorded by the authorizer itself, so callers must consult it
// exactly once per attempt.
type Authorizer interface {
	Require(ctx context.Context, principal access.Principal, action access.Action, resource string) error
}

// Codec stores sensitive records and seals their protected fields.
// Values enter through Seal and leave only through Unprotect, which
// gates on the access table and records the reveal before the
// plaintext exists. Nothing in this package writes a protected value
// to a log or an audit entry.
type Codec struct {
	records privacy.RecordRepository
	keys    KeyManager
	authz   Authorizer
	auditor Auditor
	locks   *keylock.Striped
	metrics *metrics.Registry
	logger  *zap.Logger
}

// NewCodec builds the field protection codec. reg may be nil; locks
// should be the lock pool shared with the processor and the sweeper.
func NewCodec(records privacy.RecordRepository, keys KeyManager, authz Authorizer, auditor Auditor, locks *keylock.Striped, reg *metrics.Registry, logger *zap.Logger) (*Codec, error) {
	if records == nil {
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "record repository is required")
	}
	if keys == nil {
		return nil, errors.NewValidationError("MISSING_KEYRING", "key manager is required")
	}
	if authz == nil {
		return nil, errors.NewValidationError("MISSING_AUTHORIZER", "authorizer is required")
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

	return &Codec{
		records: records,
		keys:    keys,
		authz:   authz,
		auditor: auditor,
		locks:   locks,
		metrics: reg,
		logger:  logger.With(zap.String("service", "privacy-codec")),
	}, nil
}

// StoreRequest describes one record write. Protected values arrive in
// plaintext and are sealed before anything is persisted; plain values
// are scanned so secret material cannot ride in through the plain side.
type StoreRequest struct {
	SubjectID       string
	Category        retention.DataCategory
	PlainFields     map[string]string
	ProtectedFields map[string]string
}

// StoreRecord creates or updates the subject's record for a category.
// The write is recorded in the audit log before it is saved; metadata
// carries field counts, never names of values.
func (c *Codec) StoreRecord(ctx context.Context, principal access.Principal, req StoreRequest) (*privacy.SensitiveRecord, error) {
	subjectID := strings.TrimSpace(req.SubjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	if err := retention.ValidateCategory(req.Category); err != nil {
		return nil, err
	}
	if len(req.PlainFields) == 0 && len(req.ProtectedFields) == 0 {
		return nil, errors.NewValidationError("EMPTY_RECORD", "at least one field is required")
	}

	unlock := c.locks.Lock(subjectID)
	defer unlock()

	record, created, err := c.loadOrCreate(ctx, subjectID, req.Category)
	if err != nil {
		return nil, err
	}

	for name, value := range req.PlainFields {
		if err := record.SetPlainField(name, value); err != nil {
			return nil, err
		}
	}
	for name, value := range req.ProtectedFields {
		env, err := c.keys.Seal([]byte(value))
		if err != nil {
			return nil, errors.WrapWithCode(err, "SEAL_FAILED",
				fmt.Sprintf("failed to seal field %s", name))
		}
		if err := record.PutProtectedField(name, env); err != nil {
			return nil, err
		}
	}

	entry, err := c.newEntry(audit.EntryRecordStored, principal, record, "write")
	if err != nil {
		return nil, err
	}
	meta := map[string]string{
		"category":         string(record.Category),
		"plain_fields":     strconv.Itoa(len(req.PlainFields)),
		"protected_fields": strconv.Itoa(len(req.ProtectedFields)),
		"created":          strconv.FormatBool(created),
	}
	for k, v := range meta {
		if err := entry.WithMetadata(k, v); err != nil {
			return nil, err
		}
	}
	if _, err := c.auditor.Append(ctx, entry); err != nil {
		return nil, err
	}

	if err := c.records.Save(ctx, record); err != nil {
		c.recordFailure(ctx, audit.EntryRecordStored, principal, record, "write", err)
		return nil, err
	}

	c.logger.Info("record stored",
		zap.String("record_id", record.ID.String()),
		zap.String("category", string(record.Category)),
		zap.Bool("created", created))
	return record, nil
}

// ProtectField seals one value into the subject's record for a
// category, creating the record if this is the subject's first write.
func (c *Codec) ProtectField(ctx context.Context, principal access.Principal, subjectID string, category retention.DataCategory, field, value string) (*privacy.SensitiveRecord, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	if err := retention.ValidateCategory(category); err != nil {
		return nil, err
	}
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, errors.NewValidationError("INVALID_FIELD_NAME", "field name is required")
	}

	unlock := c.locks.Lock(subjectID)
	defer unlock()

	record, _, err := c.loadOrCreate(ctx, subjectID, category)
	if err != nil {
		return nil, err
	}

	env, err := c.keys.Seal([]byte(value))
	if err != nil {
		return nil, err
	}
	if err := record.PutProtectedField(field, env); err != nil {
		return nil, err
	}

	entry, err := c.newEntry(audit.EntryFieldProtected, principal, record, "write")
	if err != nil {
		return nil, err
	}
	if err := entry.WithMetadata("field", field); err != nil {
		return nil, err
	}
	if err := entry.WithMetadata("key_id", env.KeyID); err != nil {
		return nil, err
	}
	if _, err := c.auditor.Append(ctx, entry); err != nil {
		return nil, err
	}

	if err := c.records.Save(ctx, record); err != nil {
		c.recordFailure(ctx, audit.EntryFieldProtected, principal, record, "write", err)
		return nil, err
	}
	return record, nil
}

// Unprotect reveals one protected value. The access table is consulted
// first; a denial is recorded there and nothing is decrypted. When the
// reveal is allowed, the audit entry is appended before the ciphertext
// is opened: a reveal that cannot be recorded does not happen. The
// returned value is never logged or placed in an entry.
func (c *Codec) Unprotect(ctx context.Context, principal access.Principal, recordID uuid.UUID, field string) (string, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return "", errors.NewValidationError("INVALID_FIELD_NAME", "field name is required")
	}

	resource := recordResource(recordID)
	if err := c.authz.Require(ctx, principal, access.ActionReveal, resource); err != nil {
		return "", err
	}

	record, err := c.records.GetByID(ctx, recordID)
	if err != nil {
		return "", err
	}
	env, err := record.ProtectedField(field)
	if err != nil {
		return "", err
	}

	entry, err := c.newEntry(audit.EntryFieldRevealed, principal, record, "reveal")
	if err != nil {
		return "", err
	}
	if err := entry.WithMetadata("field", field); err != nil {
		return "", err
	}
	if err := entry.WithMetadata("key_id", env.KeyID); err != nil {
		return "", err
	}
	if _, err := c.auditor.Append(ctx, entry); err != nil {
		return "", err
	}

	plaintext, err := c.keys.Open(env)
	if err != nil {
		// The log now claims a reveal that produced no value. Follow it
		// with a failure entry so the trail reads true.
		c.recordFailure(ctx, audit.EntryFieldRevealed, principal, record, "reveal", err)
		return "", err
	}

	if env.KeyID != c.keys.ActiveKeyID() {
		c.reseal(ctx, record.ID, record.SubjectID, field, plaintext)
	}

	if c.metrics != nil {
		c.metrics.RecordFieldReveal(ctx, string(principal.Role))
	}
	return string(plaintext), nil
}

// GetRecord returns the subject's record for a category with its
// envelopes still sealed.
func (c *Codec) GetRecord(ctx context.Context, subjectID string, category retention.DataCategory) (*privacy.SensitiveRecord, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	if err := retention.ValidateCategory(category); err != nil {
		return nil, err
	}
	return c.records.GetBySubjectAndCategory(ctx, subjectID, category)
}

// CountRecords returns the number of stored records, for reporting.
func (c *Codec) CountRecords(ctx context.Context) (int64, error) {
	return c.records.Count(ctx)
}

// RotateKey makes newKeyID the active sealing key. Existing envelopes
// stay readable under their old ids until ResealStale has moved them
// and the old key is retired.
func (c *Codec) RotateKey(ctx context.Context, principal access.Principal, newKeyID string) error {
	newKeyID = strings.TrimSpace(newKeyID)
	if newKeyID == "" {
		return errors.NewValidationError("INVALID_KEY_ID", "key id is required")
	}
	if c.keys.Has(newKeyID) {
		return errors.NewConflictError(fmt.Sprintf("key id %s already exists", newKeyID))
	}
	previous := c.keys.ActiveKeyID()

	entry, err := audit.NewEntry(audit.EntryKeyRotated, principal.ID, "crypto/keys", "configure")
	if err != nil {
		return err
	}
	entry.WithActor(string(principal.Role), principal.ActorType())
	if err := entry.WithMetadata("key_id", newKeyID); err != nil {
		return err
	}
	if err := entry.WithMetadata("previous_key_id", previous); err != nil {
		return err
	}
	if _, err := c.auditor.Append(ctx, entry); err != nil {
		return err
	}

	if err := c.keys.Rotate(newKeyID); err != nil {
		c.keyFailure(ctx, principal, newKeyID, err)
		return err
	}

	c.logger.Info("sealing key rotated",
		zap.String("key_id", newKeyID),
		zap.String("previous_key_id", previous))
	return nil
}

// RetireKey drops a key no stored envelope references anymore. Retiring
// a key that still seals data would orphan those envelopes, so the
// store is checked first.
func (c *Codec) RetireKey(ctx context.Context, principal access.Principal, keyID string) error {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return errors.NewValidationError("INVALID_KEY_ID", "key id is required")
	}
	if keyID == c.keys.ActiveKeyID() {
		return errors.NewValidationError("ACTIVE_KEY", "cannot retire the active key")
	}
	holders, err := c.records.ListByKeyID(ctx, keyID, 1)
	if err != nil {
		return err
	}
	if len(holders) > 0 {
		return errors.NewConflictError(
			fmt.Sprintf("key id %s still seals stored envelopes", keyID))
	}

	entry, err := audit.NewEntry(audit.EntryKeyRotated, principal.ID, "crypto/keys", "configure")
	if err != nil {
		return err
	}
	entry.WithActor(string(principal.Role), principal.ActorType())
	if err := entry.WithMetadata("key_id", keyID); err != nil {
		return err
	}
	if err := entry.WithMetadata("change", "retired"); err != nil {
		return err
	}
	if _, err := c.auditor.Append(ctx, entry); err != nil {
		return err
	}

	if err := c.keys.Retire(keyID); err != nil {
		c.keyFailure(ctx, principal, keyID, err)
		return err
	}

	c.logger.Info("sealing key retired", zap.String("key_id", keyID))
	return nil
}

// ResealStale walks records still holding envelopes under retired-from
// active keys and re-seals them under the current one. Returns the
// number of records moved. Per-record failures are logged and skipped;
// the record stays listed under its old key for the next pass.
func (c *Codec) ResealStale(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	active := c.keys.ActiveKeyID()
	moved := 0

	for _, keyID := range c.keys.KeyIDs() {
		if keyID == active {
			continue
		}
		failed := make(map[uuid.UUID]struct{})
		for {
			if err := ctx.Err(); err != nil {
				return moved, err
			}
			page, err := c.records.ListByKeyID(ctx, keyID, batchSize)
			if err != nil {
				return moved, err
			}
			progressed := false
			for _, stale := range page {
				if _, ok := failed[stale.ID]; ok {
					continue
				}
				if err := c.resealRecord(ctx, stale.ID, stale.SubjectID, active); err != nil {
					c.logger.Warn("reseal failed, skipping record",
						zap.String("record_id", stale.ID.String()),
						zap.String("key_id", keyID),
						zap.Error(err))
					failed[stale.ID] = struct{}{}
					continue
				}
				moved++
				progressed = true
			}
			if len(page) < batchSize || !progressed {
				break
			}
		}
	}

	if moved > 0 {
		c.logger.Info("stale envelopes re-sealed",
			zap.String("key_id", active), zap.Int("records", moved))
	}
	return moved, nil
}

// reseal moves one just-opened field to the active key. The reveal has
// already succeeded; failure here only means the envelope waits for the
// rotation sweep.
func (c *Codec) reseal(ctx context.Context, recordID uuid.UUID, subjectID, field string, plaintext []byte) {
	unlock := c.locks.Lock(subjectID)
	defer unlock()

	record, err := c.records.GetByID(ctx, recordID)
	if err != nil {
		c.logger.Warn("reseal skipped, record gone", zap.String("record_id", recordID.String()))
		return
	}
	env, err := record.ProtectedField(field)
	if err != nil || env.KeyID == c.keys.ActiveKeyID() {
		return
	}
	fresh, err := c.keys.Seal(plaintext)
	if err == nil {
		err = record.PutProtectedField(field, fresh)
	}
	if err == nil {
		err = c.records.Save(ctx, record)
	}
	if err != nil {
		c.logger.Warn("reseal failed",
			zap.String("record_id", recordID.String()),
			zap.String("field", field),
			zap.Error(err))
	}
}

// resealRecord re-seals every stale envelope one record holds.
func (c *Codec) resealRecord(ctx context.Context, recordID uuid.UUID, subjectID, active string) error {
	unlock := c.locks.Lock(subjectID)
	defer unlock()

	record, err := c.records.GetByID(ctx, recordID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}
	changed := false
	for _, name := range record.ProtectedFieldNames() {
		env := record.ProtectedFields[name]
		if env.KeyID == active {
			continue
		}
		plaintext, err := c.keys.Open(env)
		if err != nil {
			return err
		}
		fresh, err := c.keys.Seal(plaintext)
		if err != nil {
			return err
		}
		if err := record.PutProtectedField(name, fresh); err != nil {
			return err
		}
		changed = true
	}
	if !changed {
		return nil
	}
	return c.records.Save(ctx, record)
}

func (c *Codec) loadOrCreate(ctx context.Context, subjectID string, category retention.DataCategory) (*privacy.SensitiveRecord, bool, error) {
	record, err := c.records.GetBySubjectAndCategory(ctx, subjectID, category)
	switch {
	case err == nil:
		return record, false, nil
	case errors.IsNotFound(err):
		record, err = privacy.NewSensitiveRecord(subjectID, category)
		if err != nil {
			return nil, false, err
		}
		return record, true, nil
	default:
		return nil, false, err
	}
}

func (c *Codec) newEntry(entryType audit.EntryType, principal access.Principal, record *privacy.SensitiveRecord, action string) (*audit.Entry, error) {
	entry, err := audit.NewEntry(entryType, principal.ID, recordResource(record.ID), action)
	if err != nil {
		return nil, err
	}
	entry.WithActor(string(principal.Role), principal.ActorType()).
		WithSubject(record.SubjectID)
	if err := entry.WithMetadata("category", string(record.Category)); err != nil {
		return nil, err
	}
	return entry, nil
}

// recordFailure follows a success entry whose operation then failed, so
// the trail does not claim an effect that never committed.
func (c *Codec) recordFailure(ctx context.Context, entryType audit.EntryType, principal access.Principal, record *privacy.SensitiveRecord, action string, cause error) {
	entry, err := c.newEntry(entryType, principal, record, action)
	if err == nil {
		entry.WithOutcome(audit.OutcomeFailure, errors.Code(cause))
		_, err = c.auditor.Append(ctx, entry)
	}
	if err != nil {
		c.logger.Error("failed to record failure entry",
			zap.String("record_id", record.ID.String()), zap.Error(err))
	}
}

func (c *Codec) keyFailure(ctx context.Context, principal access.Principal, keyID string, cause error) {
	entry, err := audit.NewEntry(audit.EntryKeyRotated, principal.ID, "crypto/keys", "configure")
	if err == nil {
		entry.WithActor(string(principal.Role), principal.ActorType()).
			WithOutcome(audit.OutcomeFailure, errors.Code(cause))
		if mdErr := entry.WithMetadata("key_id", keyID); mdErr == nil {
			_, err = c.auditor.Append(ctx, entry)
		} else {
			err = mdErr
		}
	}
	if err != nil {
		c.logger.Error("failed to record key failure entry", zap.Error(err))
	}
}

func recordResource(id uuid.UUID) string {
	return "privacy/records/" + id.String()
}
