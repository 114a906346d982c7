// Package keyring stores engine secrets in the operating system keyring,
// falling back to an encrypted file vault on headless servers where no
// keyring daemon is reachable.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
)

// probeTimeout bounds the system keyring availability check; dbus calls can
// hang indefinitely on servers without a session bus
const probeTimeout = 5 * time.Second

// Store reads and writes secrets, preferring the system keyring and falling
// back to a file vault. The backend is probed once, on first use.
type Store struct {
	vaultPath  string
	passphrase string

	probeOnce sync.Once
	useVault  bool
}

// NewStore creates a secret store. The vault path and passphrase are only
// used when the system keyring turns out to be unavailable.
func NewStore(vaultPath, passphrase string) *Store {
	return &Store{vaultPath: vaultPath, passphrase: passphrase}
}

// Get returns the secret stored under service and entry
func (s *Store) Get(service, entry string) (string, error) {
	if s.systemAvailable() {
		return keyring.Get(service, entry)
	}
	return s.vaultGet(service, entry)
}

// Set stores a secret under service and entry
func (s *Store) Set(service, entry, secret string) error {
	if s.systemAvailable() {
		return keyring.Set(service, entry, secret)
	}
	return s.vaultSet(service, entry, secret)
}

// Delete removes the secret stored under service and entry
func (s *Store) Delete(service, entry string) error {
	if s.systemAvailable() {
		return keyring.Delete(service, entry)
	}
	return s.vaultDelete(service, entry)
}

// systemAvailable probes the system keyring once with a write/delete pair
func (s *Store) systemAvailable() bool {
	s.probeOnce.Do(func() {
		done := make(chan error, 1)
		go func() {
			err := keyring.Set("federata-probe", "probe", "probe")
			if err == nil {
				keyring.Delete("federata-probe", "probe")
			}
			done <- err
		}()
		select {
		case err := <-done:
			s.useVault = err != nil
		case <-time.After(probeTimeout):
			s.useVault = true
		}
	})
	return !s.useVault
}

// vault file layout: JSON object keyed by "service/entry", each value an
// AES-GCM sealed secret under the sha-256 of the passphrase
func (s *Store) vaultKey() []byte {
	sum := sha256.Sum256([]byte(s.passphrase))
	return sum[:]
}

func (s *Store) loadVault() (map[string]string, error) {
	entries := make(map[string]string)
	data, err := os.ReadFile(s.vaultPath)
	if os.IsNotExist(err) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring vault: %w", err)
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse keyring vault: %w", err)
	}
	return entries, nil
}

func (s *Store) saveVault(entries map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.vaultPath), 0o700); err != nil {
		return fmt.Errorf("failed to create keyring vault directory: %w", err)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(s.vaultPath, data, 0o600)
}

func (s *Store) vaultGet(service, entry string) (string, error) {
	entries, err := s.loadVault()
	if err != nil {
		return "", err
	}
	sealed, ok := entries[service+"/"+entry]
	if !ok {
		return "", fmt.Errorf("secret %s/%s not found in keyring vault", service, entry)
	}
	return s.unseal(sealed)
}

func (s *Store) vaultSet(service, entry, secret string) error {
	entries, err := s.loadVault()
	if err != nil {
		return err
	}
	sealed, err := s.seal(secret)
	if err != nil {
		return err
	}
	entries[service+"/"+entry] = sealed
	return s.saveVault(entries)
}

func (s *Store) vaultDelete(service, entry string) error {
	entries, err := s.loadVault()
	if err != nil {
		return err
	}
	delete(entries, service+"/"+entry)
	return s.saveVault(entries)
}

func (s *Store) seal(secret string) (string, error) {
	block, err := aes.NewCipher(s.vaultKey())
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(secret), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Store) unseal(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("keyring vault entry is not valid base64: %w", err)
	}
	block, err := aes.NewCipher(s.vaultKey())
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("keyring vault entry too short")
	}
	plaintext, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt keyring vault entry: %w", err)
	}
	return string(plaintext), nil
}

// DefaultVaultPath returns the vault file location, honoring the
// FEDERATA_KEYRING_PATH override
func DefaultVaultPath() string {
	if path := os.Getenv("FEDERATA_KEYRING_PATH"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/federata-keyring.json"
	}
	return filepath.Join(home, ".local", "share", "federata", "keyring.json")
}

// VaultPassphrase returns the vault passphrase from the environment, with a
// development default
func VaultPassphrase() string {
	if pass := os.Getenv("FEDERATA_KEYRING_PASSWORD"); pass != "" {
		return pass
	}
	return "federata-development-passphrase"
}
