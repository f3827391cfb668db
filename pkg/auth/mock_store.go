package auth

import (
	"sync"
)

// MockStore implements SecretStore in memory for tests
type MockStore struct {
	secrets map[string]*Secret
	mu      sync.RWMutex

	// Error injection for testing
	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

// NewMockStore creates an empty in-memory store
func NewMockStore() *MockStore {
	return &MockStore{
		secrets: make(map[string]*Secret),
	}
}

// Store saves a copy of the secret
func (m *MockStore) Store(secret *Secret) error {
	if m.StoreError != nil {
		return m.StoreError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if secret == nil || secret.Name == "" {
		return ErrInvalidSecret
	}

	s := *secret
	m.secrets[secret.Name] = &s
	return nil
}

// Retrieve returns a copy of the named secret
func (m *MockStore) Retrieve(name string) (*Secret, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	secret, exists := m.secrets[name]
	if !exists {
		return nil, ErrSecretNotFound
	}

	s := *secret
	return &s, nil
}

// List returns copies of all secrets
func (m *MockStore) List() ([]*Secret, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var secrets []*Secret
	for _, secret := range m.secrets {
		s := *secret
		secrets = append(secrets, &s)
	}
	return secrets, nil
}

// Delete removes the named secret
func (m *MockStore) Delete(name string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.secrets[name]; !exists {
		return ErrSecretNotFound
	}
	delete(m.secrets, name)
	return nil
}

// Exists checks if the named secret is stored
func (m *MockStore) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.secrets[name]
	return exists
}

// Count returns the number of stored secrets
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.secrets)
}

// NewMockManager creates a Manager over a single mock store
func NewMockManager() (*Manager, *MockStore) {
	store := NewMockStore()
	return NewManagerWithStores(store), store
}
