package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	errs "klarnaparser/pkg/errors"
	"klarnaparser/pkg/logger"
	"klarnaparser/pkg/retry"
)

// partialSuffixes mark downloads Chrome has not finished writing
var partialSuffixes = []string{".crdownload", ".tmp", ".part"}

// pollInterval is how often WaitForArtifact rescans the directory
const pollInterval = 250 * time.Millisecond

// Manager handles the browser download directory
type Manager struct {
	dir    string
	logger logger.Logger
}

// NewManager creates a storage manager for dir. The path is made absolute
// because Chrome resolves download paths against its own working directory.
func NewManager(dir string, log logger.Logger) (*Manager, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errs.Filesystem("resolve-download-dir", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{dir: abs, logger: log.WithField("download_dir", abs)}, nil
}

// Dir returns the absolute download directory
func (m *Manager) Dir() string {
	return m.dir
}

// Clean removes every regular file in the download directory. A missing
// directory is an error; failures deleting individual files are logged
// and skipped.
func (m *Manager) Clean() (int, error) {
	info, err := os.Stat(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errs.Newf(errs.ErrorTypeFilesystem, "clean", errs.ErrDownloadDirMissing, "%s", m.dir)
		}
		return 0, errs.Filesystem("clean", err)
	}
	if !info.IsDir() {
		return 0, errs.Newf(errs.ErrorTypeFilesystem, "clean", errs.ErrDownloadDirMissing, "%s is not a directory", m.dir)
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, errs.Filesystem("clean", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			m.logger.WithError(err).WithField("file", path).Error("Failed to delete file")
			continue
		}
		removed++
	}

	m.logger.WithField("removed", removed).Debug("Download directory cleaned")
	return removed, nil
}

// WaitForArtifact blocks until a completed download appears in the
// directory or timeout elapses.
func (m *Manager) WaitForArtifact(ctx context.Context, timeout time.Duration) (string, error) {
	var found string
	err := retry.Poll(ctx, pollInterval, timeout, func() (bool, error) {
		path, err := LatestFile(m.dir)
		if err != nil {
			if errs.Is(err, errs.ErrEmptyDownloadDir) {
				return false, nil
			}
			return false, err
		}
		found = path
		return true, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", errs.Infra("wait-download", ctx.Err())
		}
		if errs.Is(err, context.DeadlineExceeded) {
			return "", errs.Newf(errs.ErrorTypeDataAbsence, "wait-download", errs.ErrArtifactTimeout,
				"no file in %s after %s", m.dir, timeout)
		}
		return "", err
	}

	m.logger.WithField("file", found).Info("Download completed")
	return found, nil
}

// LatestFile returns the most recently modified regular file in dir,
// ignoring partial downloads.
func LatestFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errs.Newf(errs.ErrorTypeFilesystem, "latest-file", errs.ErrDownloadDirMissing, "%s", dir)
		}
		return "", errs.Filesystem("latest-file", err)
	}

	var (
		latest     string
		latestTime time.Time
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || isPartial(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestTime) {
			latest = filepath.Join(dir, entry.Name())
			latestTime = info.ModTime()
		}
	}

	if latest == "" {
		return "", errs.Newf(errs.ErrorTypeDataAbsence, "latest-file", errs.ErrEmptyDownloadDir, "%s", dir)
	}
	return latest, nil
}

func isPartial(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, ".") {
		return true
	}
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

