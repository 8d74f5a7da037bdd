package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/domain/privacy"
)

const (
	masterKeySize = 32

	fieldKeyInfo = "govern/field-protection/v1"
)

// Keyring owns the field protection keys. Every key id maps to an
// AES-256-GCM subkey derived from the master secret with HKDF-SHA256,
// so adding a key id never requires distributing new material. The
// active key seals; every known key opens.
type Keyring struct {
	mu     sync.RWMutex
	master []byte
	active string
	aeads  map[string]cipher.AEAD
}

// NewKeyring builds a keyring from the base64-encoded 32-byte master
// secret. The active id is always registered; keyIDs lists any
// additional retired-but-decryptable ids.
func NewKeyring(masterKeyB64, activeKeyID string, keyIDs []string) (*Keyring, error) {
	master, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_MASTER_KEY",
			"master key must be valid base64").WithCause(err)
	}
	if len(master) != masterKeySize {
		return nil, errors.NewValidationError("INVALID_MASTER_KEY",
			fmt.Sprintf("master key must be %d bytes, got %d", masterKeySize, len(master)))
	}
	if activeKeyID == "" {
		return nil, errors.NewValidationError("INVALID_KEY_ID", "active key id is required")
	}

	k := &Keyring{
		master: master,
		active: activeKeyID,
		aeads:  make(map[string]cipher.AEAD, len(keyIDs)+1),
	}
	for _, id := range append([]string{activeKeyID}, keyIDs...) {
		if id == "" {
			return nil, errors.NewValidationError("INVALID_KEY_ID", "key id cannot be empty")
		}
		if _, ok := k.aeads[id]; ok {
			continue
		}
		aead, err := k.derive(id)
		if err != nil {
			return nil, err
		}
		k.aeads[id] = aead
	}
	return k, nil
}

func (k *Keyring) derive(keyID string) (cipher.AEAD, error) {
	subkey := make([]byte, 32)
	r := hkdf.New(sha256.New, k.master, []byte(keyID), []byte(fieldKeyInfo))
	if _, err := io.ReadFull(r, subkey); err != nil {
		return nil, errors.NewInternalError("failed to derive field key").WithCause(err)
	}
	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, errors.NewInternalError("failed to build cipher").WithCause(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewInternalError("failed to build GCM").WithCause(err)
	}
	return aead, nil
}

// ActiveKeyID returns the id new envelopes are sealed under.
func (k *Keyring) ActiveKeyID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

// KeyIDs returns the known key ids, sorted.
func (k *Keyring) KeyIDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.aeads))
	for id := range k.aeads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether the keyring can open envelopes under keyID.
func (k *Keyring) Has(keyID string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.aeads[keyID]
	return ok
}

// Seal encrypts plaintext under the active key with a fresh nonce.
func (k *Keyring) Seal(plaintext []byte) (privacy.Envelope, error) {
	if len(plaintext) == 0 {
		return privacy.Envelope{}, errors.NewValidationError("EMPTY_PLAINTEXT",
			"cannot seal empty plaintext")
	}

	k.mu.RLock()
	active := k.active
	aead := k.aeads[active]
	k.mu.RUnlock()

	nonce := make([]byte, privacy.GCMNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return privacy.Envelope{}, errors.NewInternalError("failed to generate nonce").WithCause(err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, []byte(active))
	return privacy.Envelope{
		KeyID:      active,
		Algorithm:  privacy.AlgorithmAESGCM,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// Open decrypts an envelope under the key id it names. Tampered or
// foreign ciphertext fails authentication and is rejected.
func (k *Keyring) Open(env privacy.Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	k.mu.RLock()
	aead, ok := k.aeads[env.KeyID]
	k.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("encryption key").WithCause(
			fmt.Errorf("unknown key id %s", env.KeyID))
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, []byte(env.KeyID))
	if err != nil {
		return nil, errors.NewInternalError("envelope failed authentication").WithCause(err)
	}
	return plaintext, nil
}

// Rotate derives a key for newKeyID and makes it the active sealer.
// Existing keys stay available for decryption until retired.
func (k *Keyring) Rotate(newKeyID string) error {
	if newKeyID == "" {
		return errors.NewValidationError("INVALID_KEY_ID", "key id cannot be empty")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.aeads[newKeyID]; ok {
		return errors.NewConflictError(fmt.Sprintf("key id %s already exists", newKeyID))
	}
	aead, err := k.derive(newKeyID)
	if err != nil {
		return err
	}
	k.aeads[newKeyID] = aead
	k.active = newKeyID
	return nil
}

// Retire drops a key the data no longer references. The active key
// cannot be retired.
func (k *Keyring) Retire(keyID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if keyID == k.active {
		return errors.NewValidationError("ACTIVE_KEY", "cannot retire the active key")
	}
	if _, ok := k.aeads[keyID]; !ok {
		return errors.NewNotFoundError("encryption key")
	}
	delete(k.aeads, keyID)
	return nil
}
