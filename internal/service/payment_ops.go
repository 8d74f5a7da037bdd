package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/payment"
	"github.com/adminsuite/governance-backend/internal/domain/values"
	paymentsvc "github.com/adminsuite/governance-backend/internal/service/payment"
)

// TokenizeRequest carries raw card data through the boundary. It exists
// only in memory: the tokenization service keeps the token and the mask
// and lets the raw number and code go.
type TokenizeRequest struct {
	SubjectID   string `validate:"required,max=128"`
	CardNumber  string `validate:"required,credit_card"`
	CVC         string `validate:"required,numeric,min=3,max=4"`
	ExpiryMonth int    `validate:"min=1,max=12"`
	ExpiryYear  int    `validate:"required"`
	Holder      string `validate:"required,max=128"`
}

// TokenizeInstrument replaces the card with a deterministic token and
// stores only the token, the mask, and the expiry. Validation errors
// name the failing field, never the value.
func (c *Core) TokenizeInstrument(ctx context.Context, principal access.Principal, req TokenizeRequest) (*payment.StoredInstrument, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	raw, err := payment.NewRawInstrument(req.CardNumber, req.CVC, req.ExpiryMonth, req.ExpiryYear, req.Holder)
	if err != nil {
		return nil, err
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionTokenize, "payment/instruments", req.SubjectID); err != nil {
		return nil, err
	}
	return c.payments.Tokenize(ctx, principal, req.SubjectID, raw)
}

// RevokeInstrument deactivates a stored instrument. The instrument is
// loaded first so a subject principal can only revoke its own cards;
// support and admins revoke on behalf of any subject.
func (c *Core) RevokeInstrument(ctx context.Context, principal access.Principal, token string) (*payment.StoredInstrument, error) {
	parsed, err := payment.ParseToken(token)
	if err != nil {
		return nil, err
	}
	instrument, err := c.payments.GetStoredInstrument(ctx, parsed)
	if err != nil {
		return nil, err
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionWrite, "payment/instruments", instrument.SubjectID); err != nil {
		return nil, err
	}
	return c.payments.RevokeInstrument(ctx, principal, parsed)
}

// ChargeInput runs a payment against a previously tokenized card.
type ChargeInput struct {
	Token       string `validate:"required"`
	Amount      string `validate:"required"`
	Currency    string `validate:"required,len=3"`
	Description string `validate:"max=256"`
}

// Charge authorizes and captures against the tokenized instrument. The
// instrument's owner binds the ownership check, so one subject cannot
// charge a token it happens to know but does not own. A decline comes
// back as a declined transaction, not as an error.
func (c *Core) Charge(ctx context.Context, principal access.Principal, req ChargeInput) (*payment.Transaction, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	token, err := payment.ParseToken(req.Token)
	if err != nil {
		return nil, err
	}
	amount, err := values.NewMoneyFromString(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	instrument, err := c.payments.GetStoredInstrument(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionCharge, "payment/charges", instrument.SubjectID); err != nil {
		return nil, err
	}
	return c.payments.Charge(ctx, principal, paymentsvc.ChargeRequest{
		Token:       token,
		Amount:      amount,
		Description: req.Description,
	})
}

// RefundInput returns money from a captured charge. An empty Amount
// refunds whatever remains.
type RefundInput struct {
	TransactionID uuid.UUID `validate:"required"`
	Amount        string
	Currency      string `validate:"required_with=Amount,omitempty,len=3"`
	Reason        string `validate:"max=256"`
}

// Refund returns part or all of a charge. Refund rights sit with the
// payment pipeline and admins; the shipped table does not let subjects
// refund themselves.
func (c *Core) Refund(ctx context.Context, principal access.Principal, req RefundInput) (*payment.Refund, error) {
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	var amount values.Money
	if req.Amount != "" {
		var err error
		amount, err = values.NewMoneyFromString(req.Amount, req.Currency)
		if err != nil {
			return nil, err
		}
	}
	tx, err := c.payments.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionRefund, "payment/refunds", tx.SubjectID); err != nil {
		return nil, err
	}
	return c.payments.Refund(ctx, principal, paymentsvc.RefundRequest{
		TransactionID: req.TransactionID,
		Amount:        amount,
		Reason:        req.Reason,
	})
}

// GetStoredInstrument returns the masked stored form of one token.
func (c *Core) GetStoredInstrument(ctx context.Context, principal access.Principal, token string) (*payment.StoredInstrument, error) {
	parsed, err := payment.ParseToken(token)
	if err != nil {
		return nil, err
	}
	instrument, err := c.payments.GetStoredInstrument(ctx, parsed)
	if err != nil {
		return nil, err
	}
	if err := c.access.RequireOwned(ctx, principal, access.ActionRead, "payment/instruments", instrument.SubjectID); err != nil {
		return nil, err
	}
	return instrument, nil
}

// ListInstruments returns the subject's active instruments, masked.
func (c *Core) ListInstruments(ctx context.Context, principal access.Principal, subjectID string) ([]*payment.StoredInstrument, error) {
	if err := c.access.RequireOwned(ctx, principal, access.ActionRead, "payment/instruments", subjectID); err != nil {
		return nil, err
	}
	return c.payments.ListInstruments(ctx, subjectID)
}

// ListTransactions returns the subject's charges, newest first. The
// payment service clamps limit and offset.
func (c *Core) ListTransactions(ctx context.Context, principal access.Principal, subjectID string, limit, offset int) ([]*payment.Transaction, error) {
	if err := c.access.RequireOwned(ctx, principal, access.ActionRead, "payment/charges", subjectID); err != nil {
		return nil, err
	}
	return c.payments.ListTransactions(ctx, subjectID, limit, offset)
}

// AdvanceTokenEpoch moves tokenization to the next key epoch. New
// instruments tokenize under the new epoch; stored tokens stay valid.
func (c *Core) AdvanceTokenEpoch(ctx context.Context, principal access.Principal) (int, error) {
	if err := c.access.Require(ctx, principal, access.ActionConfigure, "crypto/keys"); err != nil {
		return 0, err
	}
	return c.payments.AdvanceTokenEpoch(ctx, principal)
}
