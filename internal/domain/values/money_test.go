package values

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoneyFromString(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		wantErr  string
	}{
		{name: "valid", amount: "19.99", currency: "USD"},
		{name: "lowercase currency folds", amount: "5", currency: "eur"},
		{name: "negative allowed", amount: "-3.50", currency: "GBP"},
		{name: "bad amount", amount: "nineteen", currency: "USD", wantErr: "INVALID_AMOUNT"},
		{name: "missing currency", amount: "1.00", currency: "", wantErr: "MISSING_CURRENCY"},
		{name: "unsupported currency", amount: "1.00", currency: "XBT", wantErr: "UNSUPPORTED_CURRENCY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMoneyFromString(tt.amount, tt.currency)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, m.Currency())
		})
	}
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "19.99 USD", MustNewMoneyFromString("19.99", "USD").String())
	assert.Equal(t, "5.00 EUR", MustNewMoneyFromString("5", "eur").String())
	assert.Equal(t, "0.00 USD", Zero("USD").String())
}

func TestMoneyArithmetic(t *testing.T) {
	a := MustNewMoneyFromString("10.00", "USD")
	b := MustNewMoneyFromString("2.50", "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "12.50 USD", sum.String())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "7.50 USD", diff.String())

	cmp, err := a.Compare(b)
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	other := MustNewMoneyFromString("1.00", "EUR")
	_, err = a.Add(other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CURRENCY_MISMATCH")

	_, err = a.Sub(other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CURRENCY_MISMATCH")

	_, err = a.Compare(other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CURRENCY_MISMATCH")
}

func TestMoneyPredicates(t *testing.T) {
	assert.True(t, Zero("USD").IsZero())
	assert.True(t, MustNewMoneyFromString("0.01", "USD").IsPositive())
	assert.True(t, MustNewMoneyFromString("-0.01", "USD").IsNegative())

	a := MustNewMoneyFromString("10.00", "USD")
	assert.True(t, a.Equal(MustNewMoneyFromString("10", "USD")))
	assert.False(t, a.Equal(MustNewMoneyFromString("10", "EUR")))
	assert.False(t, a.Equal(MustNewMoneyFromString("10.01", "USD")))
}

func TestMoneyJSONRoundTrip(t *testing.T) {
	m := MustNewMoneyFromString("19.99", "USD")

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"19.99","currency":"USD"}`, string(data))

	var decoded Money
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, m.Equal(decoded))

	var bad Money
	err = json.Unmarshal([]byte(`{"amount":"1.00","currency":"XBT"}`), &bad)
	require.Error(t, err)
}

func TestMoneyScanValue(t *testing.T) {
	m := MustNewMoneyFromString("42.00", "CAD")

	v, err := m.Value()
	require.NoError(t, err)

	var scanned Money
	require.NoError(t, scanned.Scan(v))
	assert.True(t, m.Equal(scanned))

	// Empty money persists as NULL and scans back empty.
	empty := Money{}
	v, err = empty.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var fromNull Money
	require.NoError(t, fromNull.Scan(nil))
	assert.True(t, fromNull.IsZero())

	require.Error(t, scanned.Scan(12345))
}
