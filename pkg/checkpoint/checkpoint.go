package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	errs "klarnaparser/pkg/errors"
	"klarnaparser/pkg/logger"
)

const currentVersion = 1

// Checkpoint records the last date window appended to a worksheet
type Checkpoint struct {
	Worksheet string    `json:"worksheet"`
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date"`
	Rows      int       `json:"rows"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Covers reports whether the checkpoint is for the given worksheet and window
func (c *Checkpoint) Covers(worksheet, startDate, endDate string) bool {
	return c != nil && c.Worksheet == worksheet && c.StartDate == startDate && c.EndDate == endDate
}

// Manager handles checkpoint operations
type Manager struct {
	checkpointPath string
	logger         logger.Logger
}

// NewManager creates a manager for the worksheet's checkpoint in the user
// data directory.
func NewManager(worksheet string, log logger.Logger) (*Manager, error) {
	dataDir, err := getDataDirectory()
	if err != nil {
		return nil, errs.Filesystem("checkpoint-dir", err)
	}

	checkpointsDir := filepath.Join(dataDir, "checkpoints")
	if err := os.MkdirAll(checkpointsDir, 0755); err != nil {
		return nil, errs.Filesystem("checkpoint-dir", err)
	}

	return NewManagerAt(filepath.Join(checkpointsDir, fileName(worksheet)), log), nil
}

// NewManagerAt creates a manager storing its checkpoint at path
func NewManagerAt(path string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{
		checkpointPath: path,
		logger:         log.WithField("component", "checkpoint"),
	}
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Load loads the checkpoint. It returns nil without error when none exists.
func (m *Manager) Load() (*Checkpoint, error) {
	file, err := os.Open(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Filesystem("load-checkpoint", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, errs.Newf(errs.ErrorTypeFilesystem, "load-checkpoint", err, "decode %s", m.checkpointPath)
	}
	if checkpoint.Version > currentVersion {
		return nil, errs.Newf(errs.ErrorTypeFilesystem, "load-checkpoint", nil,
			"checkpoint version %d is newer than supported version %d", checkpoint.Version, currentVersion)
	}

	m.logger.DebugWithFields("Checkpoint loaded", map[string]interface{}{
		"worksheet":  checkpoint.Worksheet,
		"start_date": checkpoint.StartDate,
		"end_date":   checkpoint.EndDate,
		"updated_at": checkpoint.UpdatedAt,
	})

	return &checkpoint, nil
}

// Record stores the window just appended to worksheet
func (m *Manager) Record(worksheet, startDate, endDate, runID string, rows int) error {
	now := time.Now()
	checkpoint := &Checkpoint{
		Worksheet: worksheet,
		StartDate: startDate,
		EndDate:   endDate,
		Rows:      rows,
		RunID:     runID,
		CreatedAt: now,
		Version:   currentVersion,
	}
	if previous, err := m.Load(); err == nil && previous != nil {
		checkpoint.CreatedAt = previous.CreatedAt
	}
	return m.Save(checkpoint)
}

// Save writes the checkpoint atomically via a temp file and rename
func (m *Manager) Save(checkpoint *Checkpoint) error {
	checkpoint.UpdatedAt = time.Now()

	body, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return errs.Filesystem("save-checkpoint", fmt.Errorf("encode checkpoint: %w", err))
	}
	if err := writeAtomic(m.checkpointPath, append(body, '\n')); err != nil {
		return errs.Filesystem("save-checkpoint", err)
	}

	m.logger.InfoWithFields("Checkpoint saved", map[string]interface{}{
		"worksheet":  checkpoint.Worksheet,
		"start_date": checkpoint.StartDate,
		"end_date":   checkpoint.EndDate,
		"rows":       checkpoint.Rows,
	})
	return nil
}

func writeAtomic(path string, body []byte) (err error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(body); err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return errs.Filesystem("delete-checkpoint", err)
	}

	m.logger.Info("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// fileName turns a worksheet name into a safe file name
func fileName(worksheet string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, worksheet)
	if slug == "" {
		slug = "default"
	}
	return slug + ".checkpoint.json"
}

// getDataDirectory returns the per-user data directory for klarnaparser
func getDataDirectory() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			return "", fmt.Errorf("APPDATA is not set")
		}
	case "linux":
		base = os.Getenv("XDG_DATA_HOME")
		fallthrough
	default:
		if base != "" {
			break
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if runtime.GOOS == "darwin" {
			base = filepath.Join(home, "Library", "Application Support")
		} else {
			base = filepath.Join(home, ".local", "share")
		}
	}

	dir := filepath.Join(base, "klarnaparser")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dir, nil
}
