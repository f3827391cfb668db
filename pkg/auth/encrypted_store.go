package auth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// PassphraseEnv overrides the generated file store passphrase
const PassphraseEnv = "KLARNAPARSER_PASSPHRASE"

const (
	vaultVersion   = 2
	vaultSaltSize  = 16
	vaultKeySize   = 32
	vaultKDFRounds = 210000
	passphraseFile = "vault.key"
)

// ErrWrongPassphrase means the vault exists but cannot be opened with the
// current passphrase.
var ErrWrongPassphrase = errors.New("vault passphrase does not match")

// vaultFile is the on-disk layout. Each entry is sealed on its own with the
// secret name as additional data, so entries cannot be swapped between names.
type vaultFile struct {
	Version int                   `json:"version"`
	Salt    []byte                `json:"salt"`
	Entries map[string]vaultEntry `json:"entries"`
}

type vaultEntry struct {
	Sealed   []byte    `json:"sealed"`
	Modified time.Time `json:"modified"`
}

// sealedSecret is what gets encrypted for an entry
type sealedSecret struct {
	Account string `json:"account,omitempty"`
	Value   string `json:"value"`
}

// EncryptedFileStore implements SecretStore on an AES-GCM sealed vault file
// keyed with PBKDF2.
type EncryptedFileStore struct {
	path       string
	passphrase []byte

	mu      sync.Mutex
	keySalt []byte
	key     []byte
}

// NewEncryptedFileStore opens (without reading) the vault at path. The
// passphrase comes from KLARNAPARSER_PASSPHRASE, or from a key file kept next
// to the vault that is generated on first use.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create vault directory: %w", err)
	}

	passphrase, err := vaultPassphrase(dir)
	if err != nil {
		return nil, err
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

// Store seals secret into the vault, replacing any entry of the same name
func (e *EncryptedFileStore) Store(secret *Secret) error {
	if secret == nil || secret.Name == "" {
		return ErrInvalidSecret
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	vault, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		vault, err = newVault()
	}
	if err != nil {
		return err
	}

	key := e.deriveKey(vault.Salt)
	// Sealing under a key that cannot open the existing entries would leave
	// the vault half unreadable.
	if err := e.checkKey(vault, key); err != nil {
		return err
	}

	plain, err := json.Marshal(sealedSecret{Account: secret.Account, Value: secret.Value})
	if err != nil {
		return fmt.Errorf("encode secret: %w", err)
	}
	sealed, err := seal(key, plain, []byte(secret.Name))
	if err != nil {
		return err
	}

	vault.Entries[secret.Name] = vaultEntry{Sealed: sealed, Modified: time.Now().UTC()}
	return e.write(vault)
}

// Retrieve opens the named entry
func (e *EncryptedFileStore) Retrieve(name string) (*Secret, error) {
	if name == "" {
		return nil, ErrInvalidSecret
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	vault, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, err
	}

	entry, ok := vault.Entries[name]
	if !ok {
		return nil, ErrSecretNotFound
	}
	return e.open(vault.Salt, name, entry)
}

// List opens every entry, sorted by name
func (e *EncryptedFileStore) List() ([]*Secret, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vault, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		return []*Secret{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(vault.Entries))
	for name := range vault.Entries {
		names = append(names, name)
	}
	sort.Strings(names)

	secrets := make([]*Secret, 0, len(names))
	for _, name := range names {
		secret, err := e.open(vault.Salt, name, vault.Entries[name])
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, secret)
	}
	return secrets, nil
}

// Delete drops the named entry. The vault file goes away with its last entry.
func (e *EncryptedFileStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidSecret
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	vault, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		return ErrSecretNotFound
	}
	if err != nil {
		return err
	}
	if _, ok := vault.Entries[name]; !ok {
		return ErrSecretNotFound
	}

	delete(vault.Entries, name)
	if len(vault.Entries) == 0 {
		if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove vault: %w", err)
		}
		return nil
	}
	return e.write(vault)
}

// Exists checks if name can be opened
func (e *EncryptedFileStore) Exists(name string) bool {
	secret, err := e.Retrieve(name)
	return err == nil && secret != nil
}

func (e *EncryptedFileStore) open(salt []byte, name string, entry vaultEntry) (*Secret, error) {
	plain, err := unseal(e.deriveKey(salt), entry.Sealed, []byte(name))
	if err != nil {
		return nil, err
	}

	var s sealedSecret
	if err := json.Unmarshal(plain, &s); err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", name, err)
	}
	return &Secret{Name: name, Account: s.Account, Value: s.Value, LastModified: entry.Modified}, nil
}

// checkKey makes sure key opens at least one existing entry
func (e *EncryptedFileStore) checkKey(vault *vaultFile, key []byte) error {
	for name, entry := range vault.Entries {
		_, err := unseal(key, entry.Sealed, []byte(name))
		return err
	}
	return nil
}

// deriveKey runs PBKDF2 once per salt
func (e *EncryptedFileStore) deriveKey(salt []byte) []byte {
	if e.key != nil && bytes.Equal(e.keySalt, salt) {
		return e.key
	}
	e.key = pbkdf2.Key(e.passphrase, salt, vaultKDFRounds, vaultKeySize, sha256.New)
	e.keySalt = append([]byte(nil), salt...)
	return e.key
}

func (e *EncryptedFileStore) read() (*vaultFile, error) {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return nil, err
	}

	var vault vaultFile
	if err := json.Unmarshal(content, &vault); err != nil {
		return nil, fmt.Errorf("parse vault %s: %w", e.path, err)
	}
	if vault.Version != vaultVersion {
		return nil, fmt.Errorf("vault %s has version %d, want %d; remove it and log in again",
			e.path, vault.Version, vaultVersion)
	}
	if len(vault.Salt) != vaultSaltSize {
		return nil, fmt.Errorf("vault %s has a malformed salt", e.path)
	}
	if vault.Entries == nil {
		vault.Entries = make(map[string]vaultEntry)
	}
	return &vault, nil
}

func (e *EncryptedFileStore) write(vault *vaultFile) error {
	content, err := json.MarshalIndent(vault, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vault: %w", err)
	}

	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	if err := os.Rename(tmp, e.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace vault: %w", err)
	}
	return nil
}

func newVault() (*vaultFile, error) {
	salt := make([]byte, vaultSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return &vaultFile{Version: vaultVersion, Salt: salt, Entries: make(map[string]vaultEntry)}, nil
}

// vaultPassphrase reads the passphrase from the environment or the key file
// in dir, creating the key file when neither exists.
func vaultPassphrase(dir string) ([]byte, error) {
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return []byte(pass), nil
	}

	keyPath := filepath.Join(dir, passphraseFile)
	if content, err := os.ReadFile(keyPath); err == nil && len(bytes.TrimSpace(content)) > 0 {
		return bytes.TrimSpace(content), nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate vault key: %w", err)
	}
	pass := []byte(base64.RawURLEncoding.EncodeToString(raw))
	if err := os.WriteFile(keyPath, pass, 0600); err != nil {
		return nil, fmt.Errorf("save vault key: %w", err)
	}
	return pass, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal returns nonce || ciphertext
func seal(key, plain, name []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize(), gcm.NonceSize()+len(plain)+gcm.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plain, name), nil
}

func unseal(key, sealed, name []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed entry %s is truncated", name)
	}
	plain, err := gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], name)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}
