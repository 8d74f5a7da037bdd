package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/payment"
)

// InstrumentRepository is an in-memory payment.InstrumentRepository
// keyed by token.
type InstrumentRepository struct {
	mu          sync.RWMutex
	instruments map[payment.Token]*payment.StoredInstrument
}

// NewInstrumentRepository creates an empty in-memory instrument
// repository.
func NewInstrumentRepository() *InstrumentRepository {
	return &InstrumentRepository{
		instruments: make(map[payment.Token]*payment.StoredInstrument),
	}
}

var _ payment.InstrumentRepository = (*InstrumentRepository)(nil)

// Save creates or updates an instrument by token.
func (r *InstrumentRepository) Save(ctx context.Context, instrument *payment.StoredInstrument) error {
	if instrument == nil {
		return errors.NewValidationError("NIL_INSTRUMENT", "stored instrument is required")
	}
	if err := instrument.Token.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.instruments[instrument.Token] = cloneInstrument(instrument)
	return nil
}

// GetByToken retrieves an instrument by its token.
func (r *InstrumentRepository) GetByToken(ctx context.Context, token payment.Token) (*payment.StoredInstrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instrument, ok := r.instruments[token]
	if !ok {
		return nil, errors.NewNotFoundError("payment instrument")
	}
	return cloneInstrument(instrument), nil
}

// ListBySubject retrieves a subject's instruments, oldest first.
func (r *InstrumentRepository) ListBySubject(ctx context.Context, subjectID string) ([]*payment.StoredInstrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var instruments []*payment.StoredInstrument
	for _, instrument := range r.instruments {
		if instrument.SubjectID == subjectID {
			instruments = append(instruments, cloneInstrument(instrument))
		}
	}
	sortInstrumentsOldestFirst(instruments)
	return instruments, nil
}

// ListByKeyEpoch retrieves instruments tokenized under an epoch,
// oldest first.
func (r *InstrumentRepository) ListByKeyEpoch(ctx context.Context, keyEpoch int, limit int) ([]*payment.StoredInstrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var instruments []*payment.StoredInstrument
	for _, instrument := range r.instruments {
		if instrument.KeyEpoch == keyEpoch {
			instruments = append(instruments, cloneInstrument(instrument))
		}
	}
	sortInstrumentsOldestFirst(instruments)
	if limit > 0 && len(instruments) > limit {
		instruments = instruments[:limit]
	}
	return instruments, nil
}

// Delete removes an instrument outright.
func (r *InstrumentRepository) Delete(ctx context.Context, token payment.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instruments[token]; !ok {
		return errors.NewNotFoundError("payment instrument")
	}
	delete(r.instruments, token)
	return nil
}

func cloneInstrument(instrument *payment.StoredInstrument) *payment.StoredInstrument {
	clone := *instrument
	if instrument.RevokedAt != nil {
		t := *instrument.RevokedAt
		clone.RevokedAt = &t
	}
	return &clone
}

func sortInstrumentsOldestFirst(instruments []*payment.StoredInstrument) {
	sort.Slice(instruments, func(i, j int) bool {
		if instruments[i].CreatedAt.Equal(instruments[j].CreatedAt) {
			return instruments[i].Token < instruments[j].Token
		}
		return instruments[i].CreatedAt.Before(instruments[j].CreatedAt)
	})
}

// TransactionRepository is an in-memory payment.TransactionRepository.
type TransactionRepository struct {
	mu           sync.RWMutex
	transactions map[uuid.UUID]*payment.Transaction
}

// NewTransactionRepository creates an empty in-memory transaction
// repository.
func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		transactions: make(map[uuid.UUID]*payment.Transaction),
	}
}

var _ payment.TransactionRepository = (*TransactionRepository)(nil)

// Save creates or updates a transaction.
func (r *TransactionRepository) Save(ctx context.Context, transaction *payment.Transaction) error {
	if transaction == nil {
		return errors.NewValidationError("NIL_TRANSACTION", "transaction is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions[transaction.ID] = cloneTransaction(transaction)
	return nil
}

// GetByID retrieves a transaction by its ID.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	transaction, ok := r.transactions[id]
	if !ok {
		return nil, errors.NewNotFoundError("transaction")
	}
	return cloneTransaction(transaction), nil
}

// ListBySubject retrieves a subject's transactions, newest first.
func (r *TransactionRepository) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*payment.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*payment.Transaction
	for _, transaction := range r.transactions {
		if transaction.SubjectID == subjectID {
			matched = append(matched, transaction)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset > 0 {
		if offset >= len(matched) {
			return nil, nil
		}
		matched = matched[offset:]
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	transactions := make([]*payment.Transaction, len(matched))
	for i, transaction := range matched {
		transactions[i] = cloneTransaction(transaction)
	}
	return transactions, nil
}

// ListByToken retrieves the transactions charged against a token,
// oldest first.
func (r *TransactionRepository) ListByToken(ctx context.Context, token payment.Token) ([]*payment.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var transactions []*payment.Transaction
	for _, transaction := range r.transactions {
		if transaction.Token == token {
			transactions = append(transactions, cloneTransaction(transaction))
		}
	}
	sort.Slice(transactions, func(i, j int) bool {
		if transactions[i].CreatedAt.Equal(transactions[j].CreatedAt) {
			return transactions[i].ID.String() < transactions[j].ID.String()
		}
		return transactions[i].CreatedAt.Before(transactions[j].CreatedAt)
	})
	return transactions, nil
}

func cloneTransaction(transaction *payment.Transaction) *payment.Transaction {
	clone := *transaction
	if transaction.ProcessedAt != nil {
		t := *transaction.ProcessedAt
		clone.ProcessedAt = &t
	}
	return &clone
}

// RefundRepository is an in-memory payment.RefundRepository.
type RefundRepository struct {
	mu      sync.RWMutex
	refunds map[uuid.UUID]*payment.Refund
}

// NewRefundRepository creates an empty in-memory refund repository.
func NewRefundRepository() *RefundRepository {
	return &RefundRepository{
		refunds: make(map[uuid.UUID]*payment.Refund),
	}
}

var _ payment.RefundRepository = (*RefundRepository)(nil)

// Save creates or updates a refund.
func (r *RefundRepository) Save(ctx context.Context, refund *payment.Refund) error {
	if refund == nil {
		return errors.NewValidationError("NIL_REFUND", "refund is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.refunds[refund.ID] = cloneRefund(refund)
	return nil
}

// GetByID retrieves a refund by its ID.
func (r *RefundRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Refund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refund, ok := r.refunds[id]
	if !ok {
		return nil, errors.NewNotFoundError("refund")
	}
	return cloneRefund(refund), nil
}

// ListByTransaction retrieves the refunds issued against a
// transaction, oldest first.
func (r *RefundRepository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*payment.Refund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var refunds []*payment.Refund
	for _, refund := range r.refunds {
		if refund.TransactionID == transactionID {
			refunds = append(refunds, cloneRefund(refund))
		}
	}
	sort.Slice(refunds, func(i, j int) bool {
		if refunds[i].CreatedAt.Equal(refunds[j].CreatedAt) {
			return refunds[i].ID.String() < refunds[j].ID.String()
		}
		return refunds[i].CreatedAt.Before(refunds[j].CreatedAt)
	})
	return refunds, nil
}

func cloneRefund(refund *payment.Refund) *payment.Refund {
	clone := *refund
	if refund.ProcessedAt != nil {
		t := *refund.ProcessedAt
		clone.ProcessedAt = &t
	}
	return &clone
}
