package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/payment"
	"github.com/adminsuite/governance-backend/internal/domain/values"
)

const tokenEpochInfo = "govern/token-epoch/v1"

// TokenSigner turns card numbers into stable opaque tokens. Within a
// key epoch the same number always yields the same token, so repeat
// charges against one card collide on one stored instrument; bumping
// the epoch severs that linkability for everything tokenized after.
// The mapping is HMAC-SHA256 and cannot be inverted.
type TokenSigner struct {
	mu      sync.Mutex
	master  []byte
	active  int
	secrets map[int][]byte
}

// NewTokenSigner derives epoch secrets from the base64-encoded master
// secret. activeEpoch starts at 1 and only moves forward.
func NewTokenSigner(masterKeyB64 string, activeEpoch int) (*TokenSigner, error) {
	master, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_MASTER_KEY",
			"master key must be valid base64").WithCause(err)
	}
	if len(master) != masterKeySize {
		return nil, errors.NewValidationError("INVALID_MASTER_KEY",
			fmt.Sprintf("master key must be %d bytes, got %d", masterKeySize, len(master)))
	}
	if activeEpoch < 1 {
		return nil, errors.NewValidationError("INVALID_EPOCH",
			"active token epoch must be at least 1")
	}
	return &TokenSigner{
		master:  master,
		active:  activeEpoch,
		secrets: make(map[int][]byte),
	}, nil
}

// ActiveEpoch returns the epoch new tokens are minted under.
func (t *TokenSigner) ActiveEpoch() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Advance moves the active epoch forward by one and returns the new
// epoch. Old epochs stay computable for migrations.
func (t *TokenSigner) Advance() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active++
	return t.active
}

// TokenFor mints the token for a card number under the active epoch.
func (t *TokenSigner) TokenFor(number values.CardNumber) (payment.Token, int, error) {
	t.mu.Lock()
	epoch := t.active
	t.mu.Unlock()
	token, err := t.TokenAtEpoch(number, epoch)
	return token, epoch, err
}

// TokenAtEpoch mints the token a card number had under a specific
// epoch. Used when matching against instruments stored before a
// rotation.
func (t *TokenSigner) TokenAtEpoch(number values.CardNumber, epoch int) (payment.Token, error) {
	if number.IsZero() {
		return "", errors.NewValidationError("INVALID_CARD_NUMBER",
			"card number is required")
	}
	if epoch < 1 {
		return "", errors.NewValidationError("INVALID_EPOCH",
			"token epoch must be at least 1")
	}

	mac := hmac.New(sha256.New, t.secretFor(epoch))
	mac.Write([]byte("pan:"))
	mac.Write([]byte(number.Digits()))
	return payment.NewTokenFromSum(mac.Sum(nil))
}

func (t *TokenSigner) secretFor(epoch int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.secrets[epoch]; ok {
		return s
	}
	mac := hmac.New(sha256.New, t.master)
	fmt.Fprintf(mac, "%s/%d", tokenEpochInfo, epoch)
	s := mac.Sum(nil)
	t.secrets[epoch] = s
	return s
}
