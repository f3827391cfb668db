package scraper

import (
	"context"
	"time"

	"klarnaparser/pkg/browser"
	"klarnaparser/pkg/config"
	errs "klarnaparser/pkg/errors"
	"klarnaparser/pkg/logger"
	"klarnaparser/pkg/portal"
)

// Stage names passed to observers
const (
	StageClean    = "clean"
	StageSession  = "session"
	StageNavigate = "navigate"
	StageAuth     = "auth"
	StageConsent  = "consent"
	StageDownload = "download"
)

// Session is a browser tab the run exclusively owns
type Session interface {
	browser.Page
	Navigate(url string) error
	Close() error
}

// SessionFactory opens a session that saves downloads into downloadDir
type SessionFactory func(ctx context.Context, downloadDir string) (Session, error)

// DownloadDir is the directory the browser saves the report into
type DownloadDir interface {
	Dir() string
	Clean() (int, error)
	WaitForArtifact(ctx context.Context, timeout time.Duration) (string, error)
}

// StageObserver is told how long each stage took and whether it failed
type StageObserver func(stage string, elapsed time.Duration, err error)

// Result describes a completed run
type Result struct {
	Window     Window
	URL        string
	ReportPath string
	Removed    int
}

// Scraper orchestrates one download of the refund report
type Scraper struct {
	baseURL    string
	downloads  DownloadDir
	newSession SessionFactory
	auth       *portal.Authenticator
	consent    *portal.ConsentHandler
	report     *portal.ReportTrigger
	observer   StageObserver
	now        func() time.Time
	logger     logger.Logger
}

// Option configures a Scraper
type Option func(*Scraper)

// WithSessionFactory replaces the Chrome session factory
func WithSessionFactory(f SessionFactory) Option {
	return func(s *Scraper) {
		s.newSession = f
	}
}

// WithClock sets the source of "today" for the date window
func WithClock(now func() time.Time) Option {
	return func(s *Scraper) {
		s.now = now
	}
}

// WithObserver registers a callback invoked after every stage
func WithObserver(o StageObserver) Option {
	return func(s *Scraper) {
		s.observer = o
	}
}

// New creates a Scraper. codes supplies the one-time login code.
func New(cfg *config.Config, downloads DownloadDir, codes portal.CodeSource, log logger.Logger, opts ...Option) *Scraper {
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Scraper{
		baseURL:    cfg.Portal.URL,
		downloads:  downloads,
		newSession: ChromeSessions(cfg, log),
		auth:       portal.NewAuthenticator(cfg, codes, log),
		consent:    portal.NewConsentHandler(cfg.Portal, log),
		report:     portal.NewReportTrigger(cfg, downloads, log),
		now:        time.Now,
		logger:     log.WithField("component", "scraper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChromeSessions returns a factory launching Chrome with the browser
// section of cfg.
func ChromeSessions(cfg *config.Config, log logger.Logger) SessionFactory {
	return func(ctx context.Context, downloadDir string) (Session, error) {
		session, err := browser.New(ctx, browser.OptionsFromConfig(cfg, downloadDir), log)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// Run performs one scrape. The browser session is closed before Run
// returns, whatever the outcome.
func (s *Scraper) Run(ctx context.Context) (*Result, error) {
	window := DateWindow(s.now())
	log := s.logger.WithFields(map[string]interface{}{
		"start_date": window.StartDate(),
		"end_date":   window.EndDate(),
	})
	log.Info("Starting scrape")

	result := &Result{Window: window, URL: ReportURL(s.baseURL, window)}

	done := s.stage(log, StageClean)
	removed, err := s.downloads.Clean()
	done(err)
	if err != nil {
		return nil, err
	}
	result.Removed = removed

	if err := ctx.Err(); err != nil {
		return nil, errs.Infra(StageSession, err)
	}

	done = s.stage(log, StageSession)
	session, err := s.newSession(ctx, s.downloads.Dir())
	done(err)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.WithError(err).Warn("Failed to close browser session")
		}
	}()

	done = s.stage(log, StageNavigate)
	err = session.Navigate(result.URL)
	done(err)
	if err != nil {
		return nil, err
	}

	done = s.stage(log, StageAuth)
	err = s.auth.Login(ctx, session)
	done(err)
	if err != nil {
		return nil, err
	}

	done = s.stage(log, StageConsent)
	err = s.consent.Dismiss(session)
	done(err)
	if err != nil {
		return nil, err
	}

	done = s.stage(log, StageDownload)
	result.ReportPath, err = s.report.Download(ctx, session)
	done(err)
	if err != nil {
		return nil, err
	}

	log.WithField("report", result.ReportPath).Info("Scrape finished")
	return result, nil
}

// AuthState reports how far the last login attempt got
func (s *Scraper) AuthState() portal.State {
	return s.auth.State()
}

func (s *Scraper) stage(log logger.Logger, name string) func(error) {
	start := time.Now()
	logDone := logger.Stage(log, name)
	return func(err error) {
		logDone(err)
		if s.observer != nil {
			s.observer(name, time.Since(start), err)
		}
	}
}
