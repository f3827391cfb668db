package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"klarnaparser/pkg/config"
	errs "klarnaparser/pkg/errors"
	"klarnaparser/pkg/logger"
	"klarnaparser/pkg/retry"
)

const (
	navigateTimeout   = 60 * time.Second
	framePollInterval = 250 * time.Millisecond
)

// Page is the set of element interactions the portal flows need.
// Selectors are CSS selectors evaluated in the current frame.
type Page interface {
	SendKeys(selector, value string) error
	Click(selector string) error
	WaitVisible(selector string) error
	EnterFrame(loc FrameLocator) error
	ExitFrame() error
}

// Options configures a browser session
type Options struct {
	Debug       bool
	ExecPath    string
	Width       int
	Height      int
	DownloadDir string
	WaitTimeout time.Duration
}

// OptionsFromConfig builds session options from the application config.
// downloadDir must be absolute.
func OptionsFromConfig(cfg *config.Config, downloadDir string) Options {
	return Options{
		Debug:       cfg.Browser.Debug,
		ExecPath:    cfg.Browser.ExecPath,
		Width:       cfg.Browser.Width,
		Height:      cfg.Browser.Height,
		DownloadDir: downloadDir,
		WaitTimeout: cfg.Portal.WaitTimeout,
	}
}

// Session owns one Chrome instance and its single tab. It is not safe for
// concurrent use.
type Session struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	waitTimeout time.Duration
	frame       *cdp.Node
	logger      logger.Logger
	closeOnce   sync.Once
}

// New launches Chrome and configures downloads into opts.DownloadDir.
// Cancelling ctx tears the browser down.
func New(ctx context.Context, opts Options, log logger.Logger) (*Session, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithField("component", "browser")

	allocOpts := make([]chromedp.ExecAllocatorOption, 0, 16)
	for name, value := range launchFlags(opts) {
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			log.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...interface{}) {
			log.Debug(fmt.Sprintf(format, args...))
		}),
	)

	s := &Session{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		waitTimeout: opts.WaitTimeout,
		logger:      log,
	}
	if s.waitTimeout <= 0 {
		s.waitTimeout = 15 * time.Second
	}

	err := chromedp.Run(tabCtx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(opts.DownloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		s.Close()
		return nil, errs.Newf(errs.ErrorTypeInfrastructure, "launch-browser", err, "start chrome")
	}

	log.WithFields(map[string]interface{}{
		"headless":     !opts.Debug,
		"download_dir": opts.DownloadDir,
	}).Info("Browser session started")
	return s, nil
}

// launchFlags returns the Chrome command line switches for opts
func launchFlags(opts Options) map[string]interface{} {
	flags := map[string]interface{}{
		"no-first-run":                  true,
		"no-default-browser-check":      true,
		"disable-dev-shm-usage":         true,
		"disable-background-networking": true,
		"disable-features":              "TranslateUI",
		"disable-popup-blocking":        true,
	}

	if opts.Debug {
		flags["headless"] = false
		flags["start-maximized"] = true
		return flags
	}

	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}
	flags["headless"] = true
	flags["disable-gpu"] = true
	flags["window-size"] = fmt.Sprintf("%d,%d", width, height)
	return flags
}

// Navigate loads url and waits for the load event
func (s *Session) Navigate(url string) error {
	ctx, cancel := context.WithTimeout(s.ctx, navigateTimeout)
	defer cancel()

	s.frame = nil
	if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
		return errs.Newf(errs.ErrorTypeInfrastructure, "navigate", err, "load %s", url)
	}
	s.logger.WithField("url", url).Debug("Page loaded")
	return nil
}

// SendKeys types value into the element matching selector
func (s *Session) SendKeys(selector, value string) error {
	return s.run("send-keys", selector, chromedp.SendKeys(selector, value, s.queryOpts()...))
}

// Click clicks the element matching selector once it is visible
func (s *Session) Click(selector string) error {
	return s.run("click", selector, chromedp.Click(selector, s.queryOpts()...))
}

// WaitVisible blocks until the element matching selector is visible
func (s *Session) WaitVisible(selector string) error {
	return s.run("wait-visible", selector, chromedp.WaitVisible(selector, s.queryOpts()...))
}

// EnterFrame switches subsequent element operations into the iframe
// described by loc, waiting for it to be attached.
func (s *Session) EnterFrame(loc FrameLocator) error {
	var frame *cdp.Node
	err := retry.Poll(s.ctx, framePollInterval, s.waitTimeout, func() (bool, error) {
		var nodes []*cdp.Node
		opts := append(s.queryOpts(), chromedp.AtLeast(0))
		if err := chromedp.Run(s.ctx, chromedp.Nodes("iframe", &nodes, opts...)); err != nil {
			return false, err
		}
		node, ok := loc.Match(nodes)
		if ok {
			frame = node
		}
		return ok, nil
	})
	if err != nil {
		return s.classify("enter-frame", loc.String(), err)
	}

	s.frame = frame
	s.logger.WithField("frame", loc.String()).Debug("Switched into frame")
	return nil
}

// ExitFrame returns to the top-level document
func (s *Session) ExitFrame() error {
	if err := s.ctx.Err(); err != nil {
		return errs.Infra("exit-frame", err)
	}
	s.frame = nil
	return nil
}

// Close shuts the browser down. It is safe to call more than once and on a
// session whose browser has already died.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Debug("Browser did not close cleanly")
		}
		s.cancelTab()
		s.cancelAlloc()
		s.logger.Info("Browser session closed")
	})
	return nil
}

func (s *Session) queryOpts() []chromedp.QueryOption {
	opts := []chromedp.QueryOption{chromedp.ByQuery}
	if s.frame != nil {
		opts = append(opts, chromedp.FromNode(s.frame))
	}
	return opts
}

func (s *Session) run(op, selector string, action chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.waitTimeout)
	defer cancel()

	if err := chromedp.Run(ctx, action); err != nil {
		return s.classify(op, selector, err)
	}
	return nil
}

// classify maps a chromedp failure to a typed error. An expired element
// wait is a UI synchronisation failure; anything else, including a dead
// session, is infrastructure.
func (s *Session) classify(op, target string, err error) error {
	if s.ctx.Err() != nil {
		return errs.Newf(errs.ErrorTypeInfrastructure, op, s.ctx.Err(), "%s", target)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Newf(errs.ErrorTypeUISync, op, errs.ErrElementNotFound, "%s not ready after %s", target, s.waitTimeout)
	}
	return errs.Newf(errs.ErrorTypeInfrastructure, op, err, "%s", target)
}
