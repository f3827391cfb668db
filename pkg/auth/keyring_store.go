package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "klarnaparser"
	keyringPrefix  = "secret_"
)

// KeyringStore implements SecretStore using the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a keyring store after checking the keychain
// accepts writes.
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Store saves the secret to the system keychain
func (k *KeyringStore) Store(secret *Secret) error {
	if secret == nil || secret.Name == "" {
		return ErrInvalidSecret
	}

	data, err := json.Marshal(secret)
	if err != nil {
		return fmt.Errorf("failed to marshal secret: %w", err)
	}

	if err := keyring.Set(keyringService, keyringPrefix+secret.Name, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return nil
}

// Retrieve gets the secret from the system keychain
func (k *KeyringStore) Retrieve(name string) (*Secret, error) {
	if name == "" {
		return nil, ErrInvalidSecret
	}

	data, err := keyring.Get(keyringService, keyringPrefix+name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var secret Secret
	if err := json.Unmarshal([]byte(data), &secret); err != nil {
		return nil, fmt.Errorf("failed to unmarshal secret: %w", err)
	}
	return &secret, nil
}

// List returns the known secrets present in the keychain. go-keyring
// cannot enumerate entries, so only the fixed names are probed.
func (k *KeyringStore) List() ([]*Secret, error) {
	var secrets []*Secret
	for _, name := range Names {
		if secret, err := k.Retrieve(name); err == nil {
			secrets = append(secrets, secret)
		}
	}
	return secrets, nil
}

// Delete removes the secret from the system keychain
func (k *KeyringStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidSecret
	}

	if err := keyring.Delete(keyringService, keyringPrefix+name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrSecretNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}

// Exists checks if the secret is in the keychain
func (k *KeyringStore) Exists(name string) bool {
	if name == "" {
		return false
	}
	_, err := keyring.Get(keyringService, keyringPrefix+name)
	return err == nil
}
