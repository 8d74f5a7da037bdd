package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// Money is an exact monetary value with its ISO 4217 currency. Amounts
// are decimals, never floats, so charge and refund arithmetic cannot
// drift.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// Currencies accepted for charges and refunds.
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
	CAD = "CAD"
	AUD = "AUD"
)

// NewMoney creates a validated Money value.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if err := validateCurrency(code); err != nil {
		return Money{}, err
	}
	return Money{amount: amount, currency: code}, nil
}

// NewMoneyFromString creates Money from a decimal string and currency.
func NewMoneyFromString(amount, currency string) (Money, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, errors.NewValidationError("INVALID_AMOUNT",
			fmt.Sprintf("cannot parse amount %q", amount))
	}
	return NewMoney(dec, currency)
}

// MustNewMoneyFromString creates Money and panics on error, for tests
// and fixed values.
func MustNewMoneyFromString(amount, currency string) Money {
	m, err := NewMoneyFromString(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	m, err := NewMoney(decimal.Zero, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Amount returns the decimal amount.
func (m Money) Amount() decimal.Decimal {
	return m.amount
}

// Currency returns the ISO 4217 code.
func (m Money) Currency() string {
	return m.currency
}

// String formats as "19.99 USD", which is what audit metadata and logs
// carry.
func (m Money) String() string {
	return m.amount.StringFixed(2) + " " + m.currency
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

// IsPositive reports whether the amount is greater than zero.
func (m Money) IsPositive() bool {
	return m.amount.IsPositive()
}

// IsNegative reports whether the amount is less than zero.
func (m Money) IsNegative() bool {
	return m.amount.IsNegative()
}

// Equal reports whether amount and currency both match.
func (m Money) Equal(other Money) bool {
	return m.amount.Equal(other.amount) && m.currency == other.currency
}

// Compare orders two values of the same currency, returning -1, 0, or 1.
func (m Money) Compare(other Money) (int, error) {
	if m.currency != other.currency {
		return 0, errors.NewValidationError("CURRENCY_MISMATCH",
			fmt.Sprintf("cannot compare %s with %s", m.currency, other.currency))
	}
	return m.amount.Cmp(other.amount), nil
}

// Add sums two values of the same currency.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, errors.NewValidationError("CURRENCY_MISMATCH",
			fmt.Sprintf("cannot add %s to %s", other.currency, m.currency))
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Sub subtracts a value of the same currency.
func (m Money) Sub(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, errors.NewValidationError("CURRENCY_MISMATCH",
			fmt.Sprintf("cannot subtract %s from %s", other.currency, m.currency))
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// MarshalJSON emits {"amount":"19.99","currency":"USD"}. The amount
// travels as a string so no reader rounds it through a float.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}{
		Amount:   m.amount.String(),
		Currency: m.currency,
	})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var temp struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	money, err := NewMoneyFromString(temp.Amount, temp.Currency)
	if err != nil {
		return err
	}
	*m = money
	return nil
}

// Scan implements sql.Scanner for the JSONB columns money lives in.
func (m *Money) Scan(value interface{}) error {
	if value == nil {
		*m = Money{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return m.UnmarshalJSON(v)
	case string:
		return m.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into Money", value)
	}
}

// Value implements driver.Valuer, storing money as JSONB.
func (m Money) Value() (driver.Value, error) {
	if m.currency == "" {
		return nil, nil
	}
	return m.MarshalJSON()
}

func validateCurrency(code string) error {
	if code == "" {
		return errors.NewValidationError("MISSING_CURRENCY", "currency is required")
	}
	switch code {
	case USD, EUR, GBP, CAD, AUD:
		return nil
	default:
		return errors.NewValidationError("UNSUPPORTED_CURRENCY",
			fmt.Sprintf("unsupported currency: %s", code))
	}
}
