package encryption

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) Key {
	t.Helper()
	encoded, err := GenerateKey()
	require.NoError(t, err)
	key, err := ParseKey(encoded)
	require.NoError(t, err)
	return key
}

func TestParseKey(t *testing.T) {
	t.Run("StandardBase64", func(t *testing.T) {
		encoded, err := GenerateKey()
		require.NoError(t, err)
		_, err = ParseKey(encoded)
		assert.NoError(t, err)
	})

	t.Run("URLSafeBase64", func(t *testing.T) {
		raw := make([]byte, KeySize)
		for i := range raw {
			raw[i] = byte(i * 7)
		}
		_, err := ParseKey(base64.URLEncoding.EncodeToString(raw))
		assert.NoError(t, err)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := ParseKey("")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("WrongLength", func(t *testing.T) {
		_, err := ParseKey(base64.StdEncoding.EncodeToString([]byte("short")))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("NotBase64", func(t *testing.T) {
		_, err := ParseKey("!!! definitely not base64 !!!")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestSealOpen(t *testing.T) {
	key := testKey(t)
	plaintext := []byte(`{"group": {"orders": {"rows": []}}}`)

	sealed, err := Seal(key, plaintext)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "orders")

	t.Run("RoundTrip", func(t *testing.T) {
		opened, sealedAt, err := Open(key, sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
		assert.WithinDuration(t, time.Now(), sealedAt, time.Minute)
	})

	t.Run("WrongKey", func(t *testing.T) {
		_, _, err := Open(testKey(t), sealed)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("TamperedCiphertext", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		tampered[len(tampered)-1] ^= 0x01
		_, _, err := Open(key, tampered)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("TamperedTimestamp", func(t *testing.T) {
		// The timestamp is authenticated data; flipping it must fail
		tampered := append([]byte(nil), sealed...)
		tampered[nonceSize] ^= 0x01
		_, _, err := Open(key, tampered)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("TooShort", func(t *testing.T) {
		_, _, err := Open(key, []byte("tiny"))
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

func TestSecretEncryptor(t *testing.T) {
	se := NewSecretEncryptor(testKey(t))

	t.Run("RoundTrip", func(t *testing.T) {
		encrypted, err := se.EncryptSecret("db-password")
		require.NoError(t, err)
		assert.NotEqual(t, "db-password", encrypted)

		decrypted, err := se.DecryptSecret(encrypted)
		require.NoError(t, err)
		assert.Equal(t, "db-password", decrypted)
	})

	t.Run("EmptyPassesThrough", func(t *testing.T) {
		encrypted, err := se.EncryptSecret("")
		require.NoError(t, err)
		assert.Equal(t, "", encrypted)

		decrypted, err := se.DecryptSecret("")
		require.NoError(t, err)
		assert.Equal(t, "", decrypted)
	})

	t.Run("GarbageInput", func(t *testing.T) {
		_, err := se.DecryptSecret("not base64 at all !!!")
		assert.Error(t, err)
	})
}

func TestLoadProcessKeyFromEnv(t *testing.T) {
	encoded, err := GenerateKey()
	require.NoError(t, err)
	t.Setenv("FERNET_KEY", encoded)

	key, err := LoadProcessKey()
	require.NoError(t, err)

	want, err := ParseKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, want, key)
}
