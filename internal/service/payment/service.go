// Package payment implements the tokenization service: card numbers go
// in, opaque tokens come out, and every charge and refund is recorded
// against the token. The raw number and verification code live only in
// request scope; nothing below this package ever sees them.
package payment

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/payment"
	"github.com/adminsuite/governance-backend/internal/domain/values"
	"github.com/adminsuite/governance-backend/internal/metrics"
	"github.com/adminsuite/governance-backend/internal/service/keylock"
)

// Auditor appends entries to the audit log. An append failure vetoes
// the operation being recorded.
type Auditor interface {
	Append(ctx context.Context, entry *audit.Entry) (int64, error)
}

// Tokenizer mints deterministic instrument tokens. Within an epoch the
// same card number always yields the same token.
type Tokenizer interface {
	TokenFor(number values.CardNumber) (payment.Token, int, error)
	ActiveEpoch() int
	Advance() int
}

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 500
)

// Service is the payment tokenization engine.
type Service struct {
	instruments  payment.InstrumentRepository
	transactions payment.TransactionRepository
	refunds      payment.RefundRepository
	tokenizer    Tokenizer
	auditor      Auditor
	locks        *keylock.Striped
	metrics      *metrics.Registry
	logger       *zap.Logger
}

// NewService builds the tokenization service. reg may be nil; locks is
// the shared per-subject lock pool, nil gets a private pool.
func NewService(instruments payment.InstrumentRepository, transactions payment.TransactionRepository, refunds payment.RefundRepository, tokenizer Tokenizer, auditor Auditor, reg *metrics.Registry, locks *keylock.Striped, logger *zap.Logger) (*Service, error) {
	switch {
	case instruments == nil:
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "instrument repository is required")
	case transactions == nil:
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "transaction repository is required")
	case refunds == nil:
		return nil, errors.NewValidationError("MISSING_REPOSITORY", "refund repository is required")
	case tokenizer == nil:
		return nil, errors.NewValidationError("MISSING_TOKENIZER", "tokenizer is required")
	case auditor == nil:
		return nil, errors.NewValidationError("MISSING_AUDITOR", "auditor is required")
	case logger == nil:
		return nil, errors.NewValidationError("MISSING_LOGGER", "logger is required")
	}
	if locks == nil {
		locks = keylock.NewStriped(0)
	}

	return &Service{
		instruments:  instruments,
		transactions: transactions,
		refunds:      refunds,
		tokenizer:    tokenizer,
		auditor:      auditor,
		locks:        locks,
		metrics:      reg,
		logger:       logger.With(zap.String("service", "payment")),
	}, nil
}

// Tokenize stores a card as a token plus display metadata. The number
// and code are dropped on return; only the token references the card
// afterwards. Tokenizing a card already on file for the same subject
// returns the stored instrument unchanged.
func (s *Service) Tokenize(ctx context.Context, principal access.Principal, subjectID string, raw payment.RawInstrument) (*payment.StoredInstrument, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	if raw.IsExpired(time.Now()) {
		return nil, errors.NewValidationError("INSTRUMENT_EXPIRED", "cannot tokenize an expired card")
	}

	token, epoch, err := s.tokenizer.TokenFor(raw.Number)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(subjectID)
	defer unlock()

	existing, err := s.instruments.GetByToken(ctx, token)
	switch {
	case err == nil:
		if existing.SubjectID != subjectID {
			// The same card is on file for someone else. Saying more
			// would confirm the number to the wrong party.
			return nil, errors.NewConflictError("instrument is not available for this subject")
		}
		if !existing.IsRevoked() {
			return existing, nil
		}
	case errors.IsNotFound(err):
	default:
		return nil, err
	}

	instrument, err := payment.NewStoredInstrument(token, subjectID, raw, epoch)
	if err != nil {
		return nil, err
	}

	entry, err := s.instrumentEntry(audit.EntryInstrumentTokenized, principal, instrument, "tokenize")
	if err != nil {
		return nil, err
	}
	if _, err := s.auditor.Append(ctx, entry); err != nil {
		return nil, err
	}
	if err := s.instruments.Save(ctx, instrument); err != nil {
		s.paymentFailure(ctx, audit.EntryInstrumentTokenized, principal,
			"payment/instruments", "tokenize", subjectID, err)
		return nil, err
	}

	s.logger.Info("instrument tokenized",
		zap.String("subject_id", subjectID),
		zap.String("brand", instrument.Brand),
		zap.String("last4", instrument.Last4),
		zap.Int("key_epoch", epoch))
	return instrument, nil
}

// RevokeInstrument withdraws a stored instrument from further charges.
// Past transactions keep referencing the token.
func (s *Service) RevokeInstrument(ctx context.Context, principal access.Principal, token payment.Token) (*payment.StoredInstrument, error) {
	if err := token.Validate(); err != nil {
		return nil, err
	}
	probe, err := s.instruments.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(probe.SubjectID)
	defer unlock()

	instrument, err := s.instruments.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := instrument.Revoke(time.Now()); err != nil {
		return nil, err
	}

	entry, err := s.instrumentEntry(audit.EntryInstrumentRevoked, principal, instrument, "revoke")
	if err != nil {
		return nil, err
	}
	if _, err := s.auditor.Append(ctx, entry); err != nil {
		return nil, err
	}
	if err := s.instruments.Save(ctx, instrument); err != nil {
		s.paymentFailure(ctx, audit.EntryInstrumentRevoked, principal,
			"payment/instruments", "revoke", instrument.SubjectID, err)
		return nil, err
	}

	s.logger.Info("instrument revoked",
		zap.String("subject_id", instrument.SubjectID),
		zap.String("last4", instrument.Last4))
	return instrument, nil
}

// ChargeRequest describes one charge against a stored instrument.
type ChargeRequest struct {
	Token       payment.Token
	Amount      values.Money
	Description string
}

// Charge runs a payment against a tokenized instrument. A decline is a
// normal outcome, not an error: the returned transaction carries the
// declined status and its decline code, and the decline is persisted
// and audited like a capture. Errors mean no transaction was recorded.
func (s *Service) Charge(ctx context.Context, principal access.Principal, req ChargeRequest) (*payment.Transaction, error) {
	if err := req.Token.Validate(); err != nil {
		return nil, err
	}
	probe, err := s.instruments.GetByToken(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(probe.SubjectID)
	defer unlock()

	instrument, err := s.instruments.GetByToken(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	tx, err := payment.NewTransaction(req.Token, instrument.SubjectID, req.Amount, req.Description)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	switch {
	case instrument.IsRevoked():
		return s.decline(ctx, principal, tx, payment.DeclineInstrumentRevoked)
	case instrument.IsExpired(now):
		return s.decline(ctx, principal, tx, payment.DeclineInstrumentExpired)
	}

	entry, err := s.transactionEntry(audit.EntryChargeProcessed, principal, tx, "payment/charges", "charge")
	if err != nil {
		return nil, err
	}
	if _, err := s.auditor.Append(ctx, entry); err != nil {
		return nil, err
	}
	if err := tx.Complete(); err != nil {
		return nil, err
	}
	if err := s.transactions.Save(ctx, tx); err != nil {
		s.paymentFailure(ctx, audit.EntryChargeProcessed, principal,
			"payment/charges", "charge", tx.SubjectID, err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordTransaction(ctx, tx.Amount.Amount().InexactFloat64(), tx.Amount.Currency(), true)
	}
	s.logger.Info("charge captured",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("subject_id", tx.SubjectID),
		zap.String("amount", tx.Amount.String()))
	return tx, nil
}

// decline closes the charge without capturing it. The declined
// transaction is persisted so the decline shows up in the subject's
// history alongside captures.
func (s *Service) decline(ctx context.Context, principal access.Principal, tx *payment.Transaction, code payment.DeclineCode) (*payment.Transaction, error) {
	entry, err := s.transactionEntry(audit.EntryChargeDeclined, principal, tx, "payment/charges", "charge")
	if err != nil {
		return nil, err
	}
	entry.WithOutcome(audit.OutcomeDenied, string(code))
	if err := entry.WithMetadata("decline_code", string(code)); err != nil {
		return nil, err
	}
	if _, err := s.auditor.Append(ctx, entry); err != nil {
		return nil, err
	}

	if err := tx.Decline(code); err != nil {
		return nil, err
	}
	if err := s.transactions.Save(ctx, tx); err != nil {
		s.paymentFailure(ctx, audit.EntryChargeDeclined, principal,
			"payment/charges", "charge", tx.SubjectID, err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordTransaction(ctx, tx.Amount.Amount().InexactFloat64(), tx.Amount.Currency(), false)
	}
	s.logger.Info("charge declined",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("subject_id", tx.SubjectID),
		zap.String("decline_code", string(code)))
	return tx, nil
}

// RefundRequest describes one refund against a captured charge.
type RefundRequest struct {
	TransactionID uuid.UUID

	// Amount to return. Zero refunds the full remaining balance.
	Amount values.Money

	Reason string
}

// Refund returns part or all of a captured charge. Partial refunds
// accumulate until the charge is fully returned.
func (s *Service) Refund(ctx context.Context, principal access.Principal, req RefundRequest) (*payment.Refund, error) {
	if req.TransactionID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_TRANSACTION", "transaction ID is required")
	}
	probe, err := s.transactions.GetByID(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(probe.SubjectID)
	defer unlock()

	tx, err := s.transactions.GetByID(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}

	amount := req.Amount
	if amount.IsZero() {
		amount = tx.RefundableAmount()
	}
	refund, err := payment.NewRefund(tx.ID, amount, req.Reason)
	if err != nil {
		return nil, err
	}
	if err := tx.ApplyRefund(amount); err != nil {
		return nil, err
	}

	entry, err := audit.NewEntry(audit.EntryRefundProcessed, principal.ID, "payment/refunds", "refund")
	if err != nil {
		return nil, err
	}
	entry.WithActor(string(principal.Role), principal.ActorType())
	entry.WithSubject(tx.SubjectID)
	for key, value := range map[string]string{
		"transaction_id": tx.ID.String(),
		"refund_id":      refund.ID.String(),
		"amount":         amount.Amount().String(),
		"currency":       amount.Currency(),
	} {
		if err := entry.WithMetadata(key, value); err != nil {
			return nil, err
		}
	}
	if _, err := s.auditor.Append(ctx, entry); err != nil {
		return nil, err
	}

	if err := refund.Complete(); err != nil {
		return nil, err
	}
	if err := s.transactions.Save(ctx, tx); err != nil {
		s.paymentFailure(ctx, audit.EntryRefundProcessed, principal,
			"payment/refunds", "refund", tx.SubjectID, err)
		return nil, err
	}
	if err := s.refunds.Save(ctx, refund); err != nil {
		// The charge balance already moved. The failure entry keeps
		// the trail honest about the missing refund row.
		s.paymentFailure(ctx, audit.EntryRefundProcessed, principal,
			"payment/refunds", "refund", tx.SubjectID, err)
		return nil, err
	}

	s.logger.Info("refund issued",
		zap.String("refund_id", refund.ID.String()),
		zap.String("transaction_id", tx.ID.String()),
		zap.String("amount", amount.String()))
	return refund, nil
}

// GetStoredInstrument returns the stored display metadata for a token.
func (s *Service) GetStoredInstrument(ctx context.Context, token payment.Token) (*payment.StoredInstrument, error) {
	if err := token.Validate(); err != nil {
		return nil, err
	}
	return s.instruments.GetByToken(ctx, token)
}

// ListInstruments returns a subject's stored instruments.
func (s *Service) ListInstruments(ctx context.Context, subjectID string) ([]*payment.StoredInstrument, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	return s.instruments.ListBySubject(ctx, subjectID)
}

// GetTransaction returns one transaction by ID.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	return s.transactions.GetByID(ctx, id)
}

// ListTransactions returns a subject's transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, subjectID string, limit, offset int) ([]*payment.Transaction, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.transactions.ListBySubject(ctx, subjectID, limit, offset)
}

// ListRefunds returns the refunds issued against a transaction.
func (s *Service) ListRefunds(ctx context.Context, transactionID uuid.UUID) ([]*payment.Refund, error) {
	return s.refunds.ListByTransaction(ctx, transactionID)
}

// AdvanceTokenEpoch rotates the tokenization key epoch. Instruments
// stored under earlier epochs keep working; the same card tokenized
// after the advance maps to a fresh token.
func (s *Service) AdvanceTokenEpoch(ctx context.Context, principal access.Principal) (int, error) {
	next := s.tokenizer.ActiveEpoch() + 1

	entry, err := audit.NewEntry(audit.EntryKeyRotated, principal.ID, "crypto/keys", "configure")
	if err != nil {
		return 0, err
	}
	entry.WithActor(string(principal.Role), principal.ActorType())
	if err := entry.WithMetadata("change", "token_epoch"); err != nil {
		return 0, err
	}
	if err := entry.WithMetadata("token_epoch", strconv.Itoa(next)); err != nil {
		return 0, err
	}
	if _, err := s.auditor.Append(ctx, entry); err != nil {
		return 0, err
	}

	advanced := s.tokenizer.Advance()
	if advanced != next {
		s.logger.Warn("token epoch advanced concurrently",
			zap.Int("expected", next), zap.Int("actual", advanced))
	}
	s.logger.Info("token epoch advanced", zap.Int("token_epoch", advanced))
	return advanced, nil
}

func (s *Service) instrumentEntry(entryType audit.EntryType, principal access.Principal, instrument *payment.StoredInstrument, action string) (*audit.Entry, error) {
	entry, err := audit.NewEntry(entryType, principal.ID, "payment/instruments", action)
	if err != nil {
		return nil, err
	}
	entry.WithActor(string(principal.Role), principal.ActorType())
	entry.WithSubject(instrument.SubjectID)
	for key, value := range map[string]string{
		"brand":     instrument.Brand,
		"last4":     instrument.Last4,
		"key_epoch": strconv.Itoa(instrument.KeyEpoch),
	} {
		if err := entry.WithMetadata(key, value); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

func (s *Service) transactionEntry(entryType audit.EntryType, principal access.Principal, tx *payment.Transaction, resource, action string) (*audit.Entry, error) {
	entry, err := audit.NewEntry(entryType, principal.ID, resource, action)
	if err != nil {
		return nil, err
	}
	entry.WithActor(string(principal.Role), principal.ActorType())
	entry.WithSubject(tx.SubjectID)
	for key, value := range map[string]string{
		"transaction_id": tx.ID.String(),
		"amount":         tx.Amount.Amount().String(),
		"currency":       tx.Amount.Currency(),
	} {
		if err := entry.WithMetadata(key, value); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// paymentFailure follows a success entry whose operation then failed,
// so the trail does not claim an effect that never committed.
func (s *Service) paymentFailure(ctx context.Context, entryType audit.EntryType, principal access.Principal, resource, action, subjectID string, cause error) {
	entry, err := audit.NewEntry(entryType, principal.ID, resource, action)
	if err != nil {
		s.logger.Error("failed to build failure entry", zap.Error(err))
		return
	}
	entry.WithActor(string(principal.Role), principal.ActorType())
	entry.WithSubject(subjectID)
	entry.WithOutcome(audit.OutcomeFailure, errors.Code(cause))
	if _, err := s.auditor.Append(ctx, entry); err != nil {
		s.logger.Error("failed to record operation failure",
			zap.NamedError("cause", cause), zap.Error(err))
	}
}
