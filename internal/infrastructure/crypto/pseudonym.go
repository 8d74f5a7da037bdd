package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
)

const pseudonymInfo = "govern/pseudonym/v1"

// Pseudonymizer maps subject ids to stable anonymous ids. The mapping
// is HMAC-SHA256 keyed from the master secret, so two records of the
// same subject anonymize to the same pseudonym while nothing stored
// can be walked back to the original id.
type Pseudonymizer struct {
	key []byte
}

// NewPseudonymizer derives the pseudonym key from the base64-encoded
// master secret.
func NewPseudonymizer(masterKeyB64 string) (*Pseudonymizer, error) {
	master, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_MASTER_KEY",
			"master key must be valid base64").WithCause(err)
	}
	if len(master) != masterKeySize {
		return nil, errors.NewValidationError("INVALID_MASTER_KEY",
			fmt.Sprintf("master key must be %d bytes, got %d", masterKeySize, len(master)))
	}

	mac := hmac.New(sha256.New, master)
	mac.Write([]byte(pseudonymInfo))
	return &Pseudonymizer{key: mac.Sum(nil)}, nil
}

// Pseudonym returns the anonymous id for a subject.
func (p *Pseudonymizer) Pseudonym(subjectID string) string {
	mac := hmac.New(sha256.New, p.key)
	mac.Write([]byte(subjectID))
	return "anon_" + hex.EncodeToString(mac.Sum(nil))[:32]
}
