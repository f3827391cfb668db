package auth

import (
	"os"
	"time"
)

// envVars maps each secret to its account and password variables
var envVars = map[string][2]string{
	SecretPortal:  {"KLARNA_LOGIN", "KLARNA_PASSWORD"},
	SecretMailbox: {"EMAIL_ADDRESS", "EMAIL_PASSWORD"},
}

// EnvironmentStore implements SecretStore over environment variables.
// It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based secret store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(secret *Secret) error {
	return ErrStoreUnavailable
}

// Retrieve reads the secret from its environment variables
func (e *EnvironmentStore) Retrieve(name string) (*Secret, error) {
	vars, ok := envVars[name]
	if !ok {
		return nil, ErrInvalidSecret
	}

	value := os.Getenv(vars[1])
	if value == "" {
		return nil, ErrSecretNotFound
	}

	return &Secret{
		Name:         name,
		Account:      os.Getenv(vars[0]),
		Value:        value,
		LastModified: time.Now(),
	}, nil
}

// List returns the secrets set in the environment
func (e *EnvironmentStore) List() ([]*Secret, error) {
	var secrets []*Secret
	for _, name := range Names {
		if secret, err := e.Retrieve(name); err == nil {
			secrets = append(secrets, secret)
		}
	}
	return secrets, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if the secret's password variable is set
func (e *EnvironmentStore) Exists(name string) bool {
	vars, ok := envVars[name]
	return ok && os.Getenv(vars[1]) != ""
}
