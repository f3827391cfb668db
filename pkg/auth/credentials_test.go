package auth

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klarnaparser/pkg/config"
)

func TestManagerStoreRetrieveDelete(t *testing.T) {
	manager, store := NewMockManager()

	secret := &Secret{Name: SecretPortal, Account: "merchant@example.com", Value: "hunter2-long"}
	require.NoError(t, manager.Store(secret))
	assert.False(t, secret.LastModified.IsZero())

	got, err := manager.Retrieve(SecretPortal)
	require.NoError(t, err)
	assert.Equal(t, "merchant@example.com", got.Account)
	assert.Equal(t, "hunter2-long", got.Value)

	list, err := manager.List()
	require.NoError(t, err)
	require.Len(t, list, 1)

	masked := Sanitize(got)
	assert.NotEqual(t, got.Value, masked.Value)
	assert.Equal(t, got.Account, masked.Account)

	require.NoError(t, manager.Delete(SecretPortal))
	_, err = manager.Retrieve(SecretPortal)
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.Zero(t, store.Count())
}

func TestManagerStoreValidation(t *testing.T) {
	manager, _ := NewMockManager()

	assert.ErrorIs(t, manager.Store(nil), ErrInvalidSecret)
	assert.ErrorIs(t, manager.Store(&Secret{Name: "sftp", Value: "x"}), ErrInvalidSecret)
	assert.Error(t, manager.Store(&Secret{Name: SecretMailbox}))
}

func TestManagerFallsBackToNextStore(t *testing.T) {
	broken := NewMockStore()
	broken.StoreError = errors.New("keychain locked")
	backup := NewMockStore()
	manager := NewManagerWithStores(broken, backup)

	require.NoError(t, manager.Store(&Secret{Name: SecretMailbox, Value: "imap-pass"}))
	assert.Zero(t, broken.Count())
	assert.True(t, backup.Exists(SecretMailbox))

	got, err := manager.Retrieve(SecretMailbox)
	require.NoError(t, err)
	assert.Equal(t, "imap-pass", got.Value)
}

func TestManagerDeleteMissing(t *testing.T) {
	manager := NewManagerWithStores(NewMockStore(), NewEnvironmentStore())
	assert.ErrorIs(t, manager.Delete(SecretPortal), ErrSecretNotFound)
}

func TestResolve(t *testing.T) {
	manager, _ := NewMockManager()
	require.NoError(t, manager.Store(&Secret{Name: SecretPortal, Account: "merchant@example.com", Value: "portal-pass"}))
	require.NoError(t, manager.Store(&Secret{Name: SecretMailbox, Account: "otp@example.com", Value: "mail-pass"}))

	tests := []struct {
		name        string
		cfg         func() *config.Config
		wantPortal  string
		wantLogin   string
		wantMailbox string
		wantAddress string
	}{
		{
			name:        "fills empty fields",
			cfg:         config.DefaultConfig,
			wantPortal:  "portal-pass",
			wantLogin:   "merchant@example.com",
			wantMailbox: "mail-pass",
			wantAddress: "otp@example.com",
		},
		{
			name: "explicit values win",
			cfg: func() *config.Config {
				cfg := config.DefaultConfig()
				cfg.Portal.Password = "from-env"
				cfg.Mailbox.Address = "me@example.com"
				return cfg
			},
			wantPortal:  "from-env",
			wantLogin:   "",
			wantMailbox: "mail-pass",
			wantAddress: "me@example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg()
			manager.Resolve(cfg)
			assert.Equal(t, tt.wantPortal, cfg.Portal.Password)
			assert.Equal(t, tt.wantLogin, cfg.Portal.Login)
			assert.Equal(t, tt.wantMailbox, cfg.Mailbox.Password)
			assert.Equal(t, tt.wantAddress, cfg.Mailbox.Address)
		})
	}
}

func TestResolveLeavesMissingSecrets(t *testing.T) {
	manager, _ := NewMockManager()
	cfg := config.DefaultConfig()
	manager.Resolve(cfg)
	assert.Empty(t, cfg.Portal.Password)
	assert.Empty(t, cfg.Mailbox.Password)
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(PassphraseEnv, "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "secrets.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Store(&Secret{Name: SecretPortal, Account: "merchant", Value: "very-secret-value"}))
	require.NoError(t, store.Store(&Secret{Name: SecretMailbox, Value: "imap"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "very-secret-value")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Retrieve(SecretPortal)
	require.NoError(t, err)
	assert.Equal(t, "very-secret-value", got.Value)

	list, err := reopened.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, reopened.Delete(SecretPortal))
	require.NoError(t, reopened.Delete(SecretMailbox))
	assert.NoFileExists(t, path)
	assert.ErrorIs(t, reopened.Delete(SecretMailbox), ErrSecretNotFound)
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")

	t.Setenv(PassphraseEnv, "first")
	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Secret{Name: SecretPortal, Value: "v"}))

	t.Setenv(PassphraseEnv, "second")
	other, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	_, err = other.Retrieve(SecretPortal)
	assert.ErrorIs(t, err, ErrWrongPassphrase)
	assert.NotErrorIs(t, err, ErrSecretNotFound)

	// a second key must not be mixed into the same vault
	assert.ErrorIs(t, other.Store(&Secret{Name: SecretMailbox, Value: "w"}), ErrWrongPassphrase)
}

func TestEncryptedFileStoreGeneratesKeyFile(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Secret{Name: SecretMailbox, Account: "reports@example.com", Value: "imap"}))
	assert.FileExists(t, filepath.Join(dir, "vault.key"))

	reopened, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Retrieve(SecretMailbox)
	require.NoError(t, err)
	assert.Equal(t, "reports@example.com", got.Account)
	assert.False(t, got.LastModified.IsZero())
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv("KLARNA_LOGIN", "merchant@example.com")
	t.Setenv("KLARNA_PASSWORD", "env-pass")
	t.Setenv("EMAIL_PASSWORD", "")

	store := NewEnvironmentStore()

	got, err := store.Retrieve(SecretPortal)
	require.NoError(t, err)
	assert.Equal(t, "merchant@example.com", got.Account)
	assert.Equal(t, "env-pass", got.Value)

	_, err = store.Retrieve(SecretMailbox)
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.True(t, store.Exists(SecretPortal))
	assert.False(t, store.Exists(SecretMailbox))
	assert.ErrorIs(t, store.Store(got), ErrStoreUnavailable)

	list, err := store.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestShowSetupGuide(t *testing.T) {
	var buf bytes.Buffer
	ShowSetupGuide(&buf)
	assert.Contains(t, buf.String(), "klarnaparser auth login portal")
	assert.Contains(t, buf.String(), PassphraseEnv)
}
