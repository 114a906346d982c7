package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/federata/federata/pkg/keyring"
)

const (
	// Keyring service name for federata security
	KeyringService = "federata-security"
	// Keyring entry holding the process secret key
	ProcessKeyEntry = "process-key"

	// KeySize is the AES-256 key width in bytes
	KeySize = 32

	nonceSize     = 12
	timestampSize = 8
)

var (
	// ErrInvalidKey indicates a key that is not valid base64 or not 256 bits wide
	ErrInvalidKey = errors.New("invalid encryption key")
	// ErrDecryptionFailed indicates an authentication or key mismatch failure
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Key is a 256-bit symmetric key
type Key [KeySize]byte

// ParseKey decodes a base64-encoded 256-bit key
func ParseKey(encoded string) (Key, error) {
	var key Key
	if encoded == "" {
		return key, fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Keys may also be stored URL-safe encoded
		raw, err = base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			return key, fmt.Errorf("%w: not valid base64", ErrInvalidKey)
		}
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(raw), KeySize)
	}

	copy(key[:], raw)
	return key, nil
}

// GenerateKey produces a fresh base64-encoded 256-bit key
func GenerateKey() (string, error) {
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Seal encrypts payload bytes with AES-256-GCM. The output is framed as
// nonce || big-endian unix timestamp || ciphertext, with the timestamp bound
// as additional authenticated data.
func Seal(key Key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	timestamp := make([]byte, timestampSize)
	binary.BigEndian.PutUint64(timestamp, uint64(time.Now().Unix()))

	out := make([]byte, 0, nonceSize+timestampSize+len(plaintext)+gcm.Overhead())
	out = append(out, nonce...)
	out = append(out, timestamp...)
	out = gcm.Seal(out, nonce, plaintext, timestamp)

	return out, nil
}

// Open authenticates and decrypts bytes produced by Seal. It returns the
// plaintext and the embedded timestamp.
func Open(key Key, sealed []byte) ([]byte, time.Time, error) {
	if len(sealed) < nonceSize+timestampSize {
		return nil, time.Time{}, fmt.Errorf("%w: sealed payload too short", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := sealed[:nonceSize]
	timestamp := sealed[nonceSize : nonceSize+timestampSize]
	ciphertext := sealed[nonceSize+timestampSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, timestamp)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	sealedAt := time.Unix(int64(binary.BigEndian.Uint64(timestamp)), 0)
	return plaintext, sealedAt, nil
}

// SecretEncryptor encrypts and decrypts catalog secrets (host, port,
// username, password) under the process-wide key
type SecretEncryptor struct {
	key Key
}

// NewSecretEncryptor creates a secret encryptor for the given process key
func NewSecretEncryptor(key Key) *SecretEncryptor {
	return &SecretEncryptor{key: key}
}

// EncryptSecret encrypts a secret string for catalog storage
func (se *SecretEncryptor) EncryptSecret(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	sealed, err := Seal(se.key, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptSecret decrypts a secret string read from the catalog
func (se *SecretEncryptor) DecryptSecret(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}
	sealed, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: secret is not valid base64", ErrDecryptionFailed)
	}
	plaintext, _, err := Open(se.key, sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

// LoadProcessKey resolves the process-wide secret key. The FERNET_KEY
// environment variable wins; otherwise the key is read from the keyring.
func LoadProcessKey() (Key, error) {
	if encoded := os.Getenv("FERNET_KEY"); encoded != "" {
		return ParseKey(encoded)
	}

	store := keyring.NewStore(keyring.DefaultVaultPath(), keyring.VaultPassphrase())
	encoded, err := store.Get(KeyringService, ProcessKeyEntry)
	if err != nil {
		return Key{}, fmt.Errorf("FERNET_KEY is not set and no process key found in keyring: %w", err)
	}
	return ParseKey(encoded)
}
