package crypto

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adminsuite/governance-backend/internal/domain/privacy"
)

func testMasterKey() string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
}

func newTestKeyring(t *testing.T) *Keyring {
	t.Helper()
	k, err := NewKeyring(testMasterKey(), "govern-key-1", []string{"govern-key-1"})
	require.NoError(t, err)
	return k
}

func TestNewKeyring(t *testing.T) {
	tests := []struct {
		name    string
		master  string
		active  string
		keyIDs  []string
		errCode string
	}{
		{
			name:   "valid",
			master: testMasterKey(),
			active: "govern-key-1",
			keyIDs: []string{"govern-key-1", "govern-key-0"},
		},
		{
			name:    "master not base64",
			master:  "not-base64!!!",
			active:  "govern-key-1",
			errCode: "INVALID_MASTER_KEY",
		},
		{
			name:    "master wrong length",
			master:  base64.StdEncoding.EncodeToString([]byte("short")),
			active:  "govern-key-1",
			errCode: "INVALID_MASTER_KEY",
		},
		{
			name:    "empty active id",
			master:  testMasterKey(),
			active:  "",
			errCode: "INVALID_KEY_ID",
		},
		{
			name:    "empty listed id",
			master:  testMasterKey(),
			active:  "govern-key-1",
			keyIDs:  []string{""},
			errCode: "INVALID_KEY_ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := NewKeyring(tt.master, tt.active, tt.keyIDs)
			if tt.errCode != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.active, k.ActiveKeyID())
			assert.True(t, k.Has(tt.active))
		})
	}
}

func TestKeyringSealOpen(t *testing.T) {
	k := newTestKeyring(t)

	env, err := k.Seal([]byte("alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "govern-key-1", env.KeyID)
	assert.Equal(t, privacy.AlgorithmAESGCM, env.Algorithm)
	assert.Len(t, env.Nonce, privacy.GCMNonceSize)
	assert.GreaterOrEqual(t, len(env.Ciphertext), 16)
	assert.NotContains(t, string(env.Ciphertext), "alice")

	plaintext, err := k.Open(env)
	require.NoError(t, err)
	assert.Equal(t, []byte("alice@example.com"), plaintext)

	_, err = k.Seal(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMPTY_PLAINTEXT")
}

func TestKeyringNoncesAreFresh(t *testing.T) {
	k := newTestKeyring(t)

	a, err := k.Seal([]byte("same value"))
	require.NoError(t, err)
	b, err := k.Seal([]byte("same value"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestKeyringOpenRejectsTampering(t *testing.T) {
	k := newTestKeyring(t)

	env, err := k.Seal([]byte("555-0100"))
	require.NoError(t, err)

	env.Ciphertext[0] ^= 0xff
	_, err = k.Open(env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication")
}

func TestKeyringOpenUnknownKey(t *testing.T) {
	k := newTestKeyring(t)

	env, err := k.Seal([]byte("value"))
	require.NoError(t, err)
	env.KeyID = "govern-key-99"

	_, err = k.Open(env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestKeyringDerivationIsDeterministic(t *testing.T) {
	a := newTestKeyring(t)
	b := newTestKeyring(t)

	env, err := a.Seal([]byte("portable ciphertext"))
	require.NoError(t, err)

	// A separate keyring built from the same material opens it.
	plaintext, err := b.Open(env)
	require.NoError(t, err)
	assert.Equal(t, []byte("portable ciphertext"), plaintext)
}

func TestKeyringRotate(t *testing.T) {
	k := newTestKeyring(t)

	old, err := k.Seal([]byte("pre-rotation"))
	require.NoError(t, err)

	require.NoError(t, k.Rotate("govern-key-2"))
	assert.Equal(t, "govern-key-2", k.ActiveKeyID())
	assert.ElementsMatch(t, []string{"govern-key-1", "govern-key-2"}, k.KeyIDs())

	// New envelopes carry the new id, old envelopes still open.
	fresh, err := k.Seal([]byte("post-rotation"))
	require.NoError(t, err)
	assert.Equal(t, "govern-key-2", fresh.KeyID)

	plaintext, err := k.Open(old)
	require.NoError(t, err)
	assert.Equal(t, []byte("pre-rotation"), plaintext)

	err = k.Rotate("govern-key-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")
}

func TestKeyringRetire(t *testing.T) {
	k := newTestKeyring(t)

	oldEnv, err := k.Seal([]byte("sealed under key 1"))
	require.NoError(t, err)

	require.NoError(t, k.Rotate("govern-key-2"))

	err = k.Retire("govern-key-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACTIVE_KEY")

	require.NoError(t, k.Retire("govern-key-1"))
	assert.False(t, k.Has("govern-key-1"))

	// Envelopes under the retired key are no longer readable.
	_, err = k.Open(oldEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")

	err = k.Retire("govern-key-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}
