package payment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/values"
)

// RefundStatus represents the status of a refund.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)

// Refund returns part or all of a captured charge. It references the
// transaction by id; the instrument is reached through the
// transaction's token, never through the raw number.
type Refund struct {
	ID            uuid.UUID    `json:"id"`
	TransactionID uuid.UUID    `json:"transaction_id"`
	Amount        values.Money `json:"amount"`
	Reason        string       `json:"reason,omitempty"`
	Status        RefundStatus `json:"status"`
	FailureReason string       `json:"failure_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	ProcessedAt   *time.Time   `json:"processed_at,omitempty"`
}

// NewRefund creates a pending refund against a transaction.
func NewRefund(transactionID uuid.UUID, amount values.Money, reason string) (*Refund, error) {
	if transactionID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_TRANSACTION", "transaction ID is required")
	}
	if !amount.IsPositive() {
		return nil, errors.NewValidationError("INVALID_AMOUNT", "refund amount must be positive")
	}

	return &Refund{
		ID:            uuid.New(),
		TransactionID: transactionID,
		Amount:        amount,
		Reason:        reason,
		Status:        RefundStatusPending,
		CreatedAt:     time.Now(),
	}, nil
}

// Complete marks the refund as settled.
func (r *Refund) Complete() error {
	if r.Status != RefundStatusPending {
		return errors.NewValidationError("NOT_PENDING",
			fmt.Sprintf("cannot complete %s refund", r.Status))
	}
	now := time.Now()
	r.Status = RefundStatusCompleted
	r.ProcessedAt = &now
	return nil
}

// Fail closes the refund without settling it.
func (r *Refund) Fail(reason string) error {
	if r.Status != RefundStatusPending {
		return errors.NewValidationError("NOT_PENDING",
			fmt.Sprintf("cannot fail %s refund", r.Status))
	}
	now := time.Now()
	r.Status = RefundStatusFailed
	r.FailureReason = reason
	r.ProcessedAt = &now
	return nil
}
