package privacy

import (
	"fmt"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

// AlgorithmAESGCM is the only sealing algorithm envelopes carry today.
// The field exists so a future algorithm can coexist during migration.
const AlgorithmAESGCM = "aes-256-gcm"

// GCMNonceSize is the nonce length for AES-GCM envelopes.
const GCMNonceSize = 12

// Envelope is a sealed field value. It carries everything needed to
// open it later except the key itself: the key id names which epoch
// key to use, and the ciphertext includes the authentication tag.
// Envelopes are opaque at rest; nothing outside the codec reads the
// ciphertext.
type Envelope struct {
	KeyID      string `json:"key_id"`
	Algorithm  string `json:"alg"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Validate checks the envelope's structure without opening it.
func (e Envelope) Validate() error {
	if e.KeyID == "" {
		return errors.NewValidationError("MISSING_KEY_ID", "envelope has no key id")
	}
	if e.Algorithm != AlgorithmAESGCM {
		return errors.NewValidationError("UNSUPPORTED_ALGORITHM",
			fmt.Sprintf("unsupported envelope algorithm: %s", e.Algorithm))
	}
	if len(e.Nonce) != GCMNonceSize {
		return errors.NewValidationError("INVALID_NONCE",
			fmt.Sprintf("envelope nonce must be %d bytes, got %d", GCMNonceSize, len(e.Nonce)))
	}
	// GCM appends a 16 byte tag, so even an empty plaintext seals to 16.
	if len(e.Ciphertext) < 16 {
		return errors.NewValidationError("INVALID_CIPHERTEXT", "envelope ciphertext is truncated")
	}
	return nil
}

// Clone returns a copy that shares no backing storage.
func (e Envelope) Clone() Envelope {
	clone := e
	clone.Nonce = append([]byte(nil), e.Nonce...)
	clone.Ciphertext = append([]byte(nil), e.Ciphertext...)
	return clone
}

// IsZero reports whether the envelope is empty.
func (e Envelope) IsZero() bool {
	return e.KeyID == "" && len(e.Ciphertext) == 0
}

// String describes the envelope without exposing its contents.
func (e Envelope) String() string {
	return fmt.Sprintf("envelope(key=%s, %d bytes)", e.KeyID, len(e.Ciphertext))
}
