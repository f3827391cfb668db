package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"klarnaparser/pkg/config"
)

// Secret names
const (
	SecretPortal  = "portal"
	SecretMailbox = "mailbox"
)

// Names lists every secret the parser uses
var Names = []string{SecretPortal, SecretMailbox}

// Secret is a stored password together with the account it belongs to
type Secret struct {
	Name         string    `json:"name"`
	Account      string    `json:"account,omitempty"`
	Value        string    `json:"value"`
	LastModified time.Time `json:"last_modified"`
}

// SecretStore is the interface for storing and retrieving secrets
type SecretStore interface {
	// Store saves a secret under its name
	Store(secret *Secret) error

	// Retrieve gets the secret with the given name
	Retrieve(name string) (*Secret, error)

	// List returns all stored secrets
	List() ([]*Secret, error)

	// Delete removes the secret with the given name
	Delete(name string) error

	// Exists checks if a secret is stored under name
	Exists(name string) bool
}

// Manager handles secret storage with fallback mechanisms
type Manager struct {
	stores []SecretStore
}

// NewManager creates a manager over the system keyring, an encrypted file
// in the user config directory and the environment, in that order.
func NewManager() (*Manager, error) {
	var stores []SecretStore

	// Try keyring first (system keychain)
	keyringStore, err := NewKeyringStore()
	if err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "secrets.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	// Environment is read-only and always last
	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over the given stores
func NewManagerWithStores(stores ...SecretStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the secret in the first store that accepts it
func (m *Manager) Store(secret *Secret) error {
	if secret == nil || !isKnown(secret.Name) {
		return ErrInvalidSecret
	}
	if secret.Value == "" {
		return errors.New("secret value is required")
	}

	secret.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(secret); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store secret: %w", lastErr)
	}
	return errors.New("no available secret stores")
}

// Retrieve gets the secret from the first store that has it
func (m *Manager) Retrieve(name string) (*Secret, error) {
	for _, store := range m.stores {
		if secret, err := store.Retrieve(name); err == nil && secret != nil {
			return secret, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

// List returns the newest version of every stored secret
func (m *Manager) List() ([]*Secret, error) {
	byName := make(map[string]*Secret)

	for _, store := range m.stores {
		secrets, err := store.List()
		if err != nil {
			continue
		}
		for _, secret := range secrets {
			if existing, ok := byName[secret.Name]; !ok || secret.LastModified.After(existing.LastModified) {
				byName[secret.Name] = secret
			}
		}
	}

	var result []*Secret
	for _, name := range Names {
		if secret, ok := byName[name]; ok {
			result = append(result, secret)
		}
	}
	return result, nil
}

// Delete removes the secret from all stores
func (m *Manager) Delete(name string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil && !errors.Is(lastErr, ErrStoreUnavailable) {
		return fmt.Errorf("failed to delete secret: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return nil
}

// Resolve fills empty portal and mailbox passwords in cfg from the stores.
// Stored account names fill empty logins the same way. Missing secrets are
// left for config validation to report.
func (m *Manager) Resolve(cfg *config.Config) {
	if cfg.Portal.Password == "" {
		if secret, err := m.Retrieve(SecretPortal); err == nil {
			cfg.Portal.Password = secret.Value
			if cfg.Portal.Login == "" {
				cfg.Portal.Login = secret.Account
			}
		}
	}
	if cfg.Mailbox.Password == "" {
		if secret, err := m.Retrieve(SecretMailbox); err == nil {
			cfg.Mailbox.Password = secret.Value
			if cfg.Mailbox.Address == "" {
				cfg.Mailbox.Address = secret.Account
			}
		}
	}
}

func isKnown(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "klarnaparser")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "klarnaparser")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "klarnaparser")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "klarnaparser")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// Sanitize returns a copy of the secret with its value masked
func Sanitize(secret *Secret) *Secret {
	if secret == nil {
		return nil
	}
	out := *secret
	out.Value = config.MaskSecret(secret.Value)
	return &out
}

// Errors
var (
	ErrSecretNotFound   = errors.New("secret not found")
	ErrInvalidSecret    = errors.New("invalid secret")
	ErrStoreUnavailable = errors.New("secret store unavailable")
)
