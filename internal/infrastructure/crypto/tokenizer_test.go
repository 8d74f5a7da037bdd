package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adminsuite/governance-backend/internal/domain/payment"
	"github.com/adminsuite/governance-backend/internal/domain/values"
)

func newTestSigner(t *testing.T, epoch int) *TokenSigner {
	t.Helper()
	s, err := NewTokenSigner(testMasterKey(), epoch)
	require.NoError(t, err)
	return s
}

func TestNewTokenSigner(t *testing.T) {
	_, err := NewTokenSigner("!!", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_MASTER_KEY")

	_, err = NewTokenSigner(testMasterKey(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_EPOCH")
}

func TestTokenForIsDeterministicWithinEpoch(t *testing.T) {
	signer := newTestSigner(t, 1)
	number := values.MustNewCardNumber("4242 4242 4242 4242")

	first, epoch, err := signer.TokenFor(number)
	require.NoError(t, err)
	assert.Equal(t, 1, epoch)

	second, _, err := signer.TokenFor(number)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A separate signer over the same material agrees.
	other := newTestSigner(t, 1)
	third, _, err := other.TokenFor(number)
	require.NoError(t, err)
	assert.Equal(t, first, third)

	// Formatting differences in the input collapse to one token.
	compact, _, err := signer.TokenFor(values.MustNewCardNumber("4242424242424242"))
	require.NoError(t, err)
	assert.Equal(t, first, compact)
}

func TestTokenNeverContainsNumber(t *testing.T) {
	signer := newTestSigner(t, 1)
	number := values.MustNewCardNumber("4242 4242 4242 4242")

	token, _, err := signer.TokenFor(number)
	require.NoError(t, err)

	require.NoError(t, token.Validate())
	assert.NotContains(t, token.String(), number.Digits())
	assert.NotContains(t, token.String(), number.Last4()+number.Last4())
}

func TestTokensDifferAcrossInputs(t *testing.T) {
	signer := newTestSigner(t, 1)

	visa, _, err := signer.TokenFor(values.MustNewCardNumber("4242 4242 4242 4242"))
	require.NoError(t, err)
	mc, _, err := signer.TokenFor(values.MustNewCardNumber("5500 0000 0000 0004"))
	require.NoError(t, err)

	assert.NotEqual(t, visa, mc)
}

func TestTokenEpochRotation(t *testing.T) {
	signer := newTestSigner(t, 1)
	number := values.MustNewCardNumber("4242 4242 4242 4242")

	epoch1, _, err := signer.TokenFor(number)
	require.NoError(t, err)

	assert.Equal(t, 2, signer.Advance())
	assert.Equal(t, 2, signer.ActiveEpoch())

	epoch2, epoch, err := signer.TokenFor(number)
	require.NoError(t, err)
	assert.Equal(t, 2, epoch)
	assert.NotEqual(t, epoch1, epoch2)

	// The old epoch stays computable for stored instruments.
	replay, err := signer.TokenAtEpoch(number, 1)
	require.NoError(t, err)
	assert.Equal(t, epoch1, replay)

	_, err = signer.TokenAtEpoch(number, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_EPOCH")

	_, err = signer.TokenAtEpoch(values.CardNumber{}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_CARD_NUMBER")
}

func TestTokenParsesAsPaymentToken(t *testing.T) {
	signer := newTestSigner(t, 1)

	token, _, err := signer.TokenFor(values.MustNewCardNumber("4242 4242 4242 4242"))
	require.NoError(t, err)

	parsed, err := payment.ParseToken(token.String())
	require.NoError(t, err)
	assert.Equal(t, token, parsed)
}

func TestPseudonymizer(t *testing.T) {
	_, err := NewPseudonymizer("%%%")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_MASTER_KEY")

	p, err := NewPseudonymizer(testMasterKey())
	require.NoError(t, err)

	anon := p.Pseudonym("subj-42")
	assert.True(t, len(anon) > len("anon_"))
	assert.Contains(t, anon, "anon_")
	assert.NotContains(t, anon, "subj-42")

	// Stable for the same subject, distinct across subjects.
	assert.Equal(t, anon, p.Pseudonym("subj-42"))
	assert.NotEqual(t, anon, p.Pseudonym("subj-43"))

	other, err := NewPseudonymizer(testMasterKey())
	require.NoError(t, err)
	assert.Equal(t, anon, other.Pseudonym("subj-42"))
}
