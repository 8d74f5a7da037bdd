package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/payment"
)

// InstrumentRepository is the PostgreSQL instrument store, keyed by
// token. Only tokenized metadata is persisted; raw card data never
// reaches this table.
type InstrumentRepository struct {
	pool *Pool
}

// NewInstrumentRepository creates a PostgreSQL instrument repository.
func NewInstrumentRepository(pool *Pool) *InstrumentRepository {
	return &InstrumentRepository{pool: pool}
}

const instrumentColumns = `token, subject_id, brand, last4, exp_month, exp_year,
		holder, key_epoch, created_at, revoked_at`

// Save creates or updates an instrument by token.
func (r *InstrumentRepository) Save(ctx context.Context, instrument *payment.StoredInstrument) error {
	if instrument == nil {
		return errors.NewValidationError("NIL_INSTRUMENT", "stored instrument is required")
	}
	if err := instrument.Token.Validate(); err != nil {
		return err
	}

	_, err := r.pool.pgx.Exec(ctx, `
		INSERT INTO payment_instruments (`+instrumentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (token) DO UPDATE
		SET subject_id = EXCLUDED.subject_id,
		    brand = EXCLUDED.brand,
		    last4 = EXCLUDED.last4,
		    exp_month = EXCLUDED.exp_month,
		    exp_year = EXCLUDED.exp_year,
		    holder = EXCLUDED.holder,
		    key_epoch = EXCLUDED.key_epoch,
		    revoked_at = EXCLUDED.revoked_at
	`, string(instrument.Token), instrument.SubjectID, instrument.Brand,
		instrument.Last4, instrument.ExpMonth, instrument.ExpYear,
		instrument.Holder, instrument.KeyEpoch, instrument.CreatedAt, instrument.RevokedAt)
	if err != nil {
		return errors.NewStorageError("save payment instrument", err)
	}
	return nil
}

// GetByToken retrieves an instrument by its token.
func (r *InstrumentRepository) GetByToken(ctx context.Context, token payment.Token) (*payment.StoredInstrument, error) {
	row := r.pool.pgx.QueryRow(ctx, `
		SELECT `+instrumentColumns+`
		FROM payment_instruments
		WHERE token = $1
	`, string(token))
	instrument, err := scanInstrument(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("payment instrument")
		}
		return nil, errors.NewStorageError("get payment instrument", err)
	}
	return instrument, nil
}

// ListBySubject retrieves a subject's instruments, oldest first.
func (r *InstrumentRepository) ListBySubject(ctx context.Context, subjectID string) ([]*payment.StoredInstrument, error) {
	return r.listInstruments(ctx, `
		SELECT `+instrumentColumns+`
		FROM payment_instruments
		WHERE subject_id = $1
		ORDER BY created_at ASC, token ASC
	`, subjectID)
}

// ListByKeyEpoch retrieves instruments tokenized under an epoch, for
// rotation sweeps.
func (r *InstrumentRepository) ListByKeyEpoch(ctx context.Context, keyEpoch int, limit int) ([]*payment.StoredInstrument, error) {
	query := `
		SELECT ` + instrumentColumns + `
		FROM payment_instruments
		WHERE key_epoch = $1
		ORDER BY created_at ASC, token ASC`
	args := []any{keyEpoch}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.listInstruments(ctx, query, args...)
}

// Delete removes an instrument outright.
func (r *InstrumentRepository) Delete(ctx context.Context, token payment.Token) error {
	tag, err := r.pool.pgx.Exec(ctx,
		`DELETE FROM payment_instruments WHERE token = $1`, string(token))
	if err != nil {
		return errors.NewStorageError("delete payment instrument", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("payment instrument")
	}
	return nil
}

func (r *InstrumentRepository) listInstruments(ctx context.Context, query string, args ...any) ([]*payment.StoredInstrument, error) {
	rows, err := r.pool.pgx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorageError("query payment instruments", err)
	}
	defer rows.Close()

	var instruments []*payment.StoredInstrument
	for rows.Next() {
		instrument, err := scanInstrument(rows)
		if err != nil {
			return nil, errors.NewStorageError("scan payment instrument", err)
		}
		instruments = append(instruments, instrument)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("iterate payment instruments", err)
	}
	return instruments, nil
}

func scanInstrument(row pgx.Row) (*payment.StoredInstrument, error) {
	var instrument payment.StoredInstrument
	var token string

	err := row.Scan(&token, &instrument.SubjectID, &instrument.Brand,
		&instrument.Last4, &instrument.ExpMonth, &instrument.ExpYear,
		&instrument.Holder, &instrument.KeyEpoch, &instrument.CreatedAt,
		&instrument.RevokedAt)
	if err != nil {
		return nil, err
	}
	instrument.Token = payment.Token(token)
	return &instrument, nil
}

// TransactionRepository is the PostgreSQL charge store.
type TransactionRepository struct {
	pool *Pool
}

// NewTransactionRepository creates a PostgreSQL transaction repository.
func NewTransactionRepository(pool *Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

const transactionColumns = `id, token, subject_id, amount, refunded_amount, status,
		decline_code, description, created_at, processed_at`

// Save creates or updates a transaction.
func (r *TransactionRepository) Save(ctx context.Context, transaction *payment.Transaction) error {
	if transaction == nil {
		return errors.NewValidationError("NIL_TRANSACTION", "transaction is required")
	}

	_, err := r.pool.pgx.Exec(ctx, `
		INSERT INTO payment_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET refunded_amount = EXCLUDED.refunded_amount,
		    status = EXCLUDED.status,
		    decline_code = EXCLUDED.decline_code,
		    processed_at = EXCLUDED.processed_at
	`, transaction.ID, string(transaction.Token), transaction.SubjectID,
		transaction.Amount, transaction.RefundedAmount, string(transaction.Status),
		string(transaction.DeclineCode), transaction.Description,
		transaction.CreatedAt, transaction.ProcessedAt)
	if err != nil {
		return errors.NewStorageError("save transaction", err)
	}
	return nil
}

// GetByID retrieves a transaction by its ID.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	row := r.pool.pgx.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE id = $1
	`, id)
	transaction, err := scanTransaction(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("transaction")
		}
		return nil, errors.NewStorageError("get transaction", err)
	}
	return transaction, nil
}

// ListBySubject retrieves a subject's transactions, newest first.
func (r *TransactionRepository) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*payment.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE subject_id = $1
		ORDER BY created_at DESC, id ASC`
	args := []any{subjectID}
	argCounter := 2
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCounter)
		args = append(args, limit)
		argCounter++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCounter)
		args = append(args, offset)
	}
	return r.listTransactions(ctx, query, args...)
}

// ListByToken retrieves the transactions charged against a token,
// oldest first.
func (r *TransactionRepository) ListByToken(ctx context.Context, token payment.Token) ([]*payment.Transaction, error) {
	return r.listTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE token = $1
		ORDER BY created_at ASC, id ASC
	`, string(token))
}

func (r *TransactionRepository) listTransactions(ctx context.Context, query string, args ...any) ([]*payment.Transaction, error) {
	rows, err := r.pool.pgx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorageError("query transactions", err)
	}
	defer rows.Close()

	var transactions []*payment.Transaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.NewStorageError("scan transaction", err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("iterate transactions", err)
	}
	return transactions, nil
}

func scanTransaction(row pgx.Row) (*payment.Transaction, error) {
	var transaction payment.Transaction
	var token, status, declineCode string

	err := row.Scan(&transaction.ID, &token, &transaction.SubjectID,
		&transaction.Amount, &transaction.RefundedAmount, &status,
		&declineCode, &transaction.Description,
		&transaction.CreatedAt, &transaction.ProcessedAt)
	if err != nil {
		return nil, err
	}
	transaction.Token = payment.Token(token)
	transaction.Status = payment.TransactionStatus(status)
	transaction.DeclineCode = payment.DeclineCode(declineCode)
	return &transaction, nil
}

// RefundRepository is the PostgreSQL refund store.
type RefundRepository struct {
	pool *Pool
}

// NewRefundRepository creates a PostgreSQL refund repository.
func NewRefundRepository(pool *Pool) *RefundRepository {
	return &RefundRepository{pool: pool}
}

const refundColumns = `id, transaction_id, amount, reason, status, failure_reason,
		created_at, processed_at`

// Save creates or updates a refund.
func (r *RefundRepository) Save(ctx context.Context, refund *payment.Refund) error {
	if refund == nil {
		return errors.NewValidationError("NIL_REFUND", "refund is required")
	}

	_, err := r.pool.pgx.Exec(ctx, `
		INSERT INTO payment_refunds (`+refundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    failure_reason = EXCLUDED.failure_reason,
		    processed_at = EXCLUDED.processed_at
	`, refund.ID, refund.TransactionID, refund.Amount, refund.Reason,
		string(refund.Status), refund.FailureReason, refund.CreatedAt, refund.ProcessedAt)
	if err != nil {
		return errors.NewStorageError("save refund", err)
	}
	return nil
}

// GetByID retrieves a refund by its ID.
func (r *RefundRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Refund, error) {
	row := r.pool.pgx.QueryRow(ctx, `
		SELECT `+refundColumns+`
		FROM payment_refunds
		WHERE id = $1
	`, id)
	refund, err := scanRefund(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NewNotFoundError("refund")
		}
		return nil, errors.NewStorageError("get refund", err)
	}
	return refund, nil
}

// ListByTransaction retrieves the refunds issued against a transaction,
// oldest first.
func (r *RefundRepository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*payment.Refund, error) {
	rows, err := r.pool.pgx.Query(ctx, `
		SELECT `+refundColumns+`
		FROM payment_refunds
		WHERE transaction_id = $1
		ORDER BY created_at ASC, id ASC
	`, transactionID)
	if err != nil {
		return nil, errors.NewStorageError("query refunds", err)
	}
	defer rows.Close()

	var refunds []*payment.Refund
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, errors.NewStorageError("scan refund", err)
		}
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("iterate refunds", err)
	}
	return refunds, nil
}

func scanRefund(row pgx.Row) (*payment.Refund, error) {
	var refund payment.Refund
	var status string

	err := row.Scan(&refund.ID, &refund.TransactionID, &refund.Amount,
		&refund.Reason, &status, &refund.FailureReason,
		&refund.CreatedAt, &refund.ProcessedAt)
	if err != nil {
		return nil, err
	}
	refund.Status = payment.RefundStatus(status)
	return &refund, nil
}

var (
	_ payment.InstrumentRepository  = (*InstrumentRepository)(nil)
	_ payment.TransactionRepository = (*TransactionRepository)(nil)
	_ payment.RefundRepository      = (*RefundRepository)(nil)
)
