package scraper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klarnaparser/pkg/browser"
	"klarnaparser/pkg/config"
	errs "klarnaparser/pkg/errors"
	"klarnaparser/pkg/logger"
	"klarnaparser/pkg/portal"
	"klarnaparser/pkg/storage"
)

// fakeSession stands in for Chrome. Clicking the download control writes
// the report into the download directory.
type fakeSession struct {
	dir        string
	cfg        config.PortalConfig
	navigated  []string
	typed      map[string][]string
	clicks     map[string]int
	missing    map[string]bool
	closed     int
	downloaded bool
}

func newFakeSession(cfg config.PortalConfig, dir string) *fakeSession {
	return &fakeSession{
		dir:     dir,
		cfg:     cfg,
		typed:   map[string][]string{},
		clicks:  map[string]int{},
		missing: map[string]bool{},
	}
}

func (f *fakeSession) Navigate(url string) error {
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakeSession) SendKeys(selector, value string) error {
	if f.missing[selector] {
		return errs.UISync("send-keys", errs.ErrElementNotFound)
	}
	f.typed[selector] = append(f.typed[selector], value)
	return nil
}

func (f *fakeSession) Click(selector string) error {
	f.clicks[selector]++
	if f.missing[selector] {
		return errs.UISync("click", errs.ErrElementNotFound)
	}
	if selector == f.cfg.DownloadSelector {
		f.downloaded = true
		return os.WriteFile(filepath.Join(f.dir, "settlements.csv"), []byte("RETURN;1;2\n"), 0o644)
	}
	return nil
}

func (f *fakeSession) WaitVisible(selector string) error {
	if f.missing[selector] {
		return errs.UISync("wait-visible", errs.ErrElementNotFound)
	}
	return nil
}

func (f *fakeSession) EnterFrame(browser.FrameLocator) error { return nil }
func (f *fakeSession) ExitFrame() error                      { return nil }

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

type staticCode struct {
	code  string
	err   error
	calls int
}

func (s *staticCode) FetchCode(context.Context, time.Time) (string, error) {
	s.calls++
	return s.code, s.err
}

var fixedToday = time.Date(2026, time.October, 19, 8, 0, 0, 0, time.UTC)

func scraperConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Portal.URL = "https://portal.klarna.com/settlements"
	cfg.Portal.Login = "merchant@example.com"
	cfg.Portal.Password = "hunter2"
	cfg.Download.Directory = dir
	cfg.Download.ArtifactTimeout = 2 * time.Second
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = time.Millisecond
	return cfg
}

type harness struct {
	scraper *Scraper
	session *fakeSession
	codes   *staticCode
	factory *int
	stages  []string
	log     *logger.TestLogger
	dir     string
}

func newHarness(t *testing.T, dir string) *harness {
	t.Helper()
	cfg := scraperConfig(dir)
	h := &harness{
		session: newFakeSession(cfg.Portal, dir),
		codes:   &staticCode{code: "482913"},
		factory: new(int),
		log:     logger.NewTestLogger(),
		dir:     dir,
	}

	downloads, err := storage.NewManager(dir, h.log)
	require.NoError(t, err)

	h.scraper = New(cfg, downloads, h.codes, h.log,
		WithClock(func() time.Time { return fixedToday }),
		WithSessionFactory(func(_ context.Context, downloadDir string) (Session, error) {
			*h.factory++
			h.session.dir = downloadDir
			return h.session, nil
		}),
		WithObserver(func(stage string, _ time.Duration, _ error) {
			h.stages = append(h.stages, stage)
		}),
	)
	return h
}

func TestDateWindow(t *testing.T) {
	tests := []struct {
		name      string
		today     time.Time
		wantStart string
		wantEnd   string
	}{
		{"mid month", time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC), "2026-10-11", "2026-10-18"},
		{"first of month", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), "2026-02-21", "2026-02-28"},
		{"leap year", time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC), "2024-02-22", "2024-02-29"},
		{"new year", time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC), "2025-12-26", "2026-01-02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := DateWindow(tt.today)
			assert.Equal(t, tt.wantStart, w.StartDate())
			assert.Equal(t, tt.wantEnd, w.EndDate())
		})
	}
}

func TestDateWindowProperties(t *testing.T) {
	start := time.Date(2025, 1, 1, 13, 0, 0, 0, time.UTC)
	for i := 0; i < 800; i++ {
		today := start.AddDate(0, 0, i)
		w := DateWindow(today)

		assert.Equal(t, today.AddDate(0, 0, -1).Format(config.DateFormat), w.EndDate())
		assert.Equal(t, w.End.AddDate(0, 0, -7), w.Start)
		assert.True(t, w.End.Before(today))

		days := 0
		for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
			days++
		}
		assert.Equal(t, 8, days, "window for %s", today.Format(config.DateFormat))
	}
}

func TestReportURL(t *testing.T) {
	w := DateWindow(fixedToday)
	assert.Equal(t,
		"https://portal.klarna.com/settlements?start_date=2026-10-11&end_date=2026-10-18",
		ReportURL("https://portal.klarna.com/settlements", w))
	assert.Equal(t,
		"https://portal.klarna.com/s?tab=refunds&start_date=2026-10-11&end_date=2026-10-18",
		ReportURL("https://portal.klarna.com/s?tab=refunds", w))
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "previous.csv"), []byte("old"), 0o644))

	h := newHarness(t, dir)
	cfg := h.session.cfg

	result, err := h.scraper.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, filepath.Join(dir, "settlements.csv"), result.ReportPath)
	assert.Equal(t, "2026-10-11", result.Window.StartDate())
	assert.Equal(t, []string{
		"https://portal.klarna.com/settlements?start_date=2026-10-11&end_date=2026-10-18",
	}, h.session.navigated)
	assert.Equal(t, []string{"482913"}, h.session.typed[cfg.CodeInputSelector])
	assert.Equal(t, 1, h.session.clicks[cfg.ConsentSelector])
	assert.Equal(t, 1, h.session.closed)
	assert.Equal(t, []string{
		StageClean, StageSession, StageNavigate, StageAuth, StageConsent, StageDownload,
	}, h.stages)
	assert.NoFileExists(t, filepath.Join(dir, "previous.csv"))
}

func TestRunConsentAbsentStillDownloads(t *testing.T) {
	h := newHarness(t, t.TempDir())
	h.session.missing[h.session.cfg.ConsentSelector] = true

	result, err := h.scraper.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, h.session.downloaded)
	assert.NotEmpty(t, result.ReportPath)
	assert.True(t, h.log.HasMessage("Cookie consent banner not shown, continuing"))
}

func TestRunMissingDirectoryAbortsBeforeSession(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "klarna_csv")
	h := newHarness(t, dir)

	_, err := h.scraper.Run(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, errs.ErrDownloadDirMissing)
	assert.Equal(t, errs.ErrorTypeFilesystem, errs.TypeOf(err))
	assert.Zero(t, *h.factory)
	assert.Empty(t, h.session.navigated)
	assert.Equal(t, []string{StageClean}, h.stages)
}

func TestRunClosesSessionOnFailure(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		wantStep  string
		wantState portal.State
	}{
		{
			name: "no code in mailbox",
			setup: func(h *harness) {
				h.codes.err = errs.DataAbsence("extract-code", errs.ErrCodeNotFound)
			},
			wantStep:  StageAuth,
			wantState: portal.StateOTPRequested,
		},
		{
			name: "download control missing",
			setup: func(h *harness) {
				h.session.missing[h.session.cfg.DownloadSelector] = true
			},
			wantStep:  StageDownload,
			wantState: portal.StateDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, t.TempDir())
			tt.setup(h)

			_, err := h.scraper.Run(context.Background())
			require.Error(t, err)

			assert.Equal(t, 1, h.session.closed)
			assert.Equal(t, tt.wantStep, h.stages[len(h.stages)-1])
			assert.Equal(t, tt.wantState, h.scraper.AuthState())
			assert.False(t, h.session.downloaded)
		})
	}
}

func TestRunSessionLaunchFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := scraperConfig(dir)
	downloads, err := storage.NewManager(dir, nil)
	require.NoError(t, err)

	launchErr := errs.Infra("launch-browser", errors.New("chrome not found"))
	s := New(cfg, downloads, &staticCode{code: "1"}, nil,
		WithClock(func() time.Time { return fixedToday }),
		WithSessionFactory(func(context.Context, string) (Session, error) {
			return nil, launchErr
		}),
	)

	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, launchErr)
	assert.Equal(t, errs.ErrorTypeInfrastructure, errs.TypeOf(err))
}

func TestRunCancelledBeforeSession(t *testing.T) {
	h := newHarness(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.scraper.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, *h.factory)
}
