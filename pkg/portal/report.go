package portal

import (
	"context"
	"time"

	"klarnaparser/pkg/browser"
	"klarnaparser/pkg/config"
	"klarnaparser/pkg/logger"
	"klarnaparser/pkg/retry"
)

// ArtifactWaiter reports the file a download produced
type ArtifactWaiter interface {
	WaitForArtifact(ctx context.Context, timeout time.Duration) (string, error)
}

// ReportTrigger starts the CSV report download
type ReportTrigger struct {
	selector  string
	timeout   time.Duration
	retryCfg  config.RetryConfig
	downloads ArtifactWaiter
	logger    logger.Logger
}

// NewReportTrigger creates a trigger that waits on downloads for the file
func NewReportTrigger(cfg *config.Config, downloads ArtifactWaiter, log logger.Logger) *ReportTrigger {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ReportTrigger{
		selector:  cfg.Portal.DownloadSelector,
		timeout:   cfg.Download.ArtifactTimeout,
		retryCfg:  cfg.Retry,
		downloads: downloads,
		logger:    log.WithField("component", "report-trigger"),
	}
}

// Download clicks the download control and returns the path of the file
// the browser saved.
func (t *ReportTrigger) Download(ctx context.Context, page browser.Page) (string, error) {
	cfg := retry.FromConfig(ctx, t.retryCfg, t.logger).Named(StepDownload)
	if err := retry.Do(func() error { return page.Click(t.selector) }, cfg); err != nil {
		return "", stepError(StepDownload, err)
	}
	t.logger.Info("Report download requested")

	path, err := t.downloads.WaitForArtifact(ctx, t.timeout)
	if err != nil {
		return "", stepError(StepDownload, err)
	}
	return path, nil
}
