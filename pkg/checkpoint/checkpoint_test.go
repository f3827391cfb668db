package checkpoint

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "klarnaparser/pkg/errors"
)

func TestLoadMissing(t *testing.T) {
	mgr := NewManagerAt(filepath.Join(t.TempDir(), "refunds.checkpoint.json"), nil)

	cp, err := mgr.Load()
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.False(t, mgr.Exists())
}

func TestRecordAndLoad(t *testing.T) {
	mgr := NewManagerAt(filepath.Join(t.TempDir(), "refunds.checkpoint.json"), nil)

	require.NoError(t, mgr.Record("Klarna Refunded", "2026-10-11", "2026-10-18", "run-1", 4))
	first, err := mgr.Load()
	require.NoError(t, err)
	require.NotNil(t, first)

	assert.Equal(t, 4, first.Rows)
	assert.Equal(t, "run-1", first.RunID)
	assert.True(t, first.Covers("Klarna Refunded", "2026-10-11", "2026-10-18"))
	assert.False(t, first.Covers("Klarna Refunded", "2026-10-12", "2026-10-19"))
	assert.False(t, first.Covers("Other", "2026-10-11", "2026-10-18"))

	require.NoError(t, mgr.Record("Klarna Refunded", "2026-10-12", "2026-10-19", "run-2", 1))
	second, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
	assert.Equal(t, "2026-10-19", second.EndDate)

	assert.NoFileExists(t, mgr.Path()+".tmp")
	if runtime.GOOS != "windows" {
		info, err := os.Stat(mgr.Path())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestCoversNil(t *testing.T) {
	var cp *Checkpoint
	assert.False(t, cp.Covers("Klarna Refunded", "2026-10-11", "2026-10-18"))
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refunds.checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewManagerAt(path, nil).Load()
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeFilesystem, errs.TypeOf(err))
}

func TestLoadNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refunds.checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"worksheet":"x","version":99}`), 0600))

	_, err := NewManagerAt(path, nil).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version 99")
}

func TestDelete(t *testing.T) {
	mgr := NewManagerAt(filepath.Join(t.TempDir(), "refunds.checkpoint.json"), nil)
	require.NoError(t, mgr.Delete())

	require.NoError(t, mgr.Record("Klarna Refunded", "2026-10-11", "2026-10-18", "run-1", 4))
	assert.True(t, mgr.Exists())
	require.NoError(t, mgr.Delete())
	assert.False(t, mgr.Exists())
}

func TestNewManagerUsesDataDirectory(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_DATA_HOME is only honoured on linux")
	}
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	mgr, err := NewManager("Klarna Refunded", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "klarnaparser", "checkpoints", "klarna_refunded.checkpoint.json"), mgr.Path())
}

func TestFileName(t *testing.T) {
	tests := []struct {
		worksheet string
		want      string
	}{
		{"Klarna Refunded", "klarna_refunded.checkpoint.json"},
		{"refunds-2026", "refunds-2026.checkpoint.json"},
		{"../etc", "___etc.checkpoint.json"},
		{"", "default.checkpoint.json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fileName(tt.worksheet), tt.worksheet)
	}
}
