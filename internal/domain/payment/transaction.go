package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/values"
)

// TransactionStatus represents the status of a charge.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusDeclined  TransactionStatus = "declined"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

// IsValid checks if the transaction status is valid.
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted,
		TransactionStatusDeclined, TransactionStatusRefunded:
		return true
	default:
		return false
	}
}

// DeclineCode states why a charge was declined. Malformed input never
// reaches a transaction; these cover instruments that validated once
// but cannot be charged now.
type DeclineCode string

const (
	DeclineInstrumentExpired DeclineCode = "instrument_expired"
	DeclineInstrumentRevoked DeclineCode = "instrument_revoked"
	DeclineProcessorRejected DeclineCode = "processor_rejected"
)

// Transaction is one charge against a tokenized instrument. Charges
// reference the token only; no transaction ever needs the raw number
// again, including refunds.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	Token          Token             `json:"token"`
	SubjectID      string            `json:"subject_id"`
	Amount         values.Money      `json:"amount"`
	RefundedAmount values.Money      `json:"refunded_amount"`
	Status         TransactionStatus `json:"status"`
	DeclineCode    DeclineCode       `json:"decline_code,omitempty"`
	Description    string            `json:"description,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
}

// NewTransaction creates a pending charge.
func NewTransaction(token Token, subjectID string, amount values.Money, description string) (*Transaction, error) {
	if err := token.Validate(); err != nil {
		return nil, err
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, errors.NewValidationError("INVALID_SUBJECT", "subject ID is required")
	}
	if !amount.IsPositive() {
		return nil, errors.NewValidationError("INVALID_AMOUNT", "charge amount must be positive")
	}

	return &Transaction{
		ID:             uuid.New(),
		Token:          token,
		SubjectID:      subjectID,
		Amount:         amount,
		RefundedAmount: values.Zero(amount.Currency()),
		Status:         TransactionStatusPending,
		Description:    description,
		CreatedAt:      time.Now(),
	}, nil
}

// Complete marks the charge as captured.
func (t *Transaction) Complete() error {
	if t.Status != TransactionStatusPending {
		return errors.NewValidationError("NOT_PENDING",
			fmt.Sprintf("cannot complete %s transaction", t.Status))
	}
	now := time.Now()
	t.Status = TransactionStatusCompleted
	t.ProcessedAt = &now
	return nil
}

// Decline closes the charge without capturing it.
func (t *Transaction) Decline(code DeclineCode) error {
	if t.Status != TransactionStatusPending {
		return errors.NewValidationError("NOT_PENDING",
			fmt.Sprintf("cannot decline %s transaction", t.Status))
	}
	now := time.Now()
	t.Status = TransactionStatusDeclined
	t.DeclineCode = code
	t.ProcessedAt = &now
	return nil
}

// RefundableAmount returns how much of the charge can still be
// refunded.
func (t *Transaction) RefundableAmount() values.Money {
	if t.Status != TransactionStatusCompleted && t.Status != TransactionStatusRefunded {
		return values.Zero(t.Amount.Currency())
	}
	remaining, err := t.Amount.Sub(t.RefundedAmount)
	if err != nil {
		return values.Zero(t.Amount.Currency())
	}
	return remaining
}

// ApplyRefund records a refund against the charge. Partial refunds
// accumulate; the charge flips to refunded once fully returned.
func (t *Transaction) ApplyRefund(amount values.Money) error {
	if t.Status != TransactionStatusCompleted {
		return errors.NewValidationError("NOT_REFUNDABLE",
			fmt.Sprintf("cannot refund %s transaction", t.Status))
	}
	if !amount.IsPositive() {
		return errors.NewValidationError("INVALID_AMOUNT", "refund amount must be positive")
	}
	if amount.Currency() != t.Amount.Currency() {
		return errors.NewValidationError("CURRENCY_MISMATCH",
			fmt.Sprintf("refund currency %s does not match charge currency %s",
				amount.Currency(), t.Amount.Currency()))
	}

	newRefunded, err := t.RefundedAmount.Add(amount)
	if err != nil {
		return err
	}
	cmp, err := newRefunded.Compare(t.Amount)
	if err != nil {
		return err
	}
	if cmp > 0 {
		return errors.NewValidationError("REFUND_EXCEEDS_CHARGE",
			fmt.Sprintf("refunding %s would exceed the %s charge", amount, t.Amount))
	}

	t.RefundedAmount = newRefunded
	if t.RefundedAmount.Equal(t.Amount) {
		t.Status = TransactionStatusRefunded
	}
	return nil
}

// IsCompleted returns true if the charge was captured.
func (t *Transaction) IsCompleted() bool {
	return t.Status == TransactionStatusCompleted
}

// IsDeclined returns true if the charge was declined.
func (t *Transaction) IsDeclined() bool {
	return t.Status == TransactionStatusDeclined
}

// IsTerminal reports whether the charge can still change state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusDeclined || t.Status == TransactionStatusRefunded
}
