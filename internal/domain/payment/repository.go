package payment

import (
	"context"

	"github.com/google/uuid"
)

// InstrumentRepository defines the interface for stored instrument
// persistence. The token is the primary key: tokenizing the same card
// twice in one epoch lands on the same row.
type InstrumentRepository interface {
	// Save creates or updates an instrument by token.
	Save(ctx context.Context, instrument *StoredInstrument) error

	// GetByToken retrieves an instrument by its token.
	GetByToken(ctx context.Context, token Token) (*StoredInstrument, error)

	// ListBySubject retrieves a subject's instruments.
	ListBySubject(ctx context.Context, subjectID string) ([]*StoredInstrument, error)

	// ListByKeyEpoch retrieves instruments tokenized under an epoch,
	// for rotation sweeps.
	ListByKeyEpoch(ctx context.Context, keyEpoch int, limit int) ([]*StoredInstrument, error)

	// Delete removes an instrument outright.
	Delete(ctx context.Context, token Token) error
}

// TransactionRepository defines the interface for charge persistence.
type TransactionRepository interface {
	// Save creates or updates a transaction.
	Save(ctx context.Context, transaction *Transaction) error

	// GetByID retrieves a transaction by its ID.
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// ListBySubject retrieves a subject's transactions, newest first.
	ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*Transaction, error)

	// ListByToken retrieves the transactions charged against a token.
	ListByToken(ctx context.Context, token Token) ([]*Transaction, error)
}

// RefundRepository defines the interface for refund persistence.
type RefundRepository interface {
	// Save creates or updates a refund.
	Save(ctx context.Context, refund *Refund) error

	// GetByID retrieves a refund by its ID.
	GetByID(ctx context.Context, id uuid.UUID) (*Refund, error)

	// ListByTransaction retrieves the refunds issued against a
	// transaction.
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*Refund, error)
}
