package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"klarnaparser/pkg/checkpoint"
	"klarnaparser/pkg/config"
	"klarnaparser/pkg/logger"
	"klarnaparser/pkg/mailbox"
	"klarnaparser/pkg/metrics"
	"klarnaparser/pkg/pipeline"
	"klarnaparser/pkg/report"
	"klarnaparser/pkg/scraper"
	"klarnaparser/pkg/sheets"
	"klarnaparser/pkg/storage"
	"klarnaparser/pkg/ui"
)

var (
	// Run flags
	debugMode   bool
	skipSheets  bool
	downloadDir string
	worksheet   string
	notify      bool
	force       bool
)

func init() {
	rootCmd.Flags().BoolVar(&debugMode, "debug", false, "show the browser window instead of running headless")
	rootCmd.Flags().BoolVar(&skipSheets, "skip-sheets", false, "download and parse the report without touching the spreadsheet")
	rootCmd.Flags().StringVar(&downloadDir, "download-dir", "", "directory the browser saves the report into")
	rootCmd.Flags().StringVar(&worksheet, "worksheet", "", "worksheet to append the refund rows to")
	rootCmd.Flags().BoolVar(&notify, "notify", false, "send a desktop notification when the run ends")
	rootCmd.Flags().BoolVar(&force, "force", false, "append even if the window was already appended")
}

// stageReporter feeds stage timings to the metrics recorder and the
// terminal display.
type stageReporter struct {
	*metrics.Recorder
	display *ui.StageDisplay
}

func (r stageReporter) ObserveStage(stage string, elapsed time.Duration, err error) {
	r.Recorder.ObserveStage(stage, elapsed, err)
	// scraper stages are already shown individually
	if stage != pipeline.StageScrape {
		r.display.Observe(stage, elapsed, err)
	}
}

func runParse(cmd *cobra.Command, _ []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := ui.NewNotifier(notify)

	cfg, err := loadConfig(true)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		os.Exit(1)
	}
	log := logger.GetLogger()

	p, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("Failed to set up run")
		ui.PrintError("Failed to set up run", err.Error())
		os.Exit(1)
	}

	ui.PrintInfo("Portal", cfg.Portal.URL)
	if !skipSheets {
		ui.PrintInfo("Worksheet", cfg.Sheets.Worksheet)
	}

	summary, err := p.pipeline.Run(ctx, pipeline.NewRunID())
	if err != nil {
		log.WithField("auth_state", p.scraper.AuthState().String()).Warn("Run failed")
		notifier.SendError("Klarna parsing failed", err.Error())
		os.Exit(1)
	}

	if summary.AlreadyAppended {
		ui.PrintWarning("Window already appended, spreadsheet left unchanged (use --force to append again)")
	}
	p.display.Complete(summary.Window.String(), summary.Rows, summary.Appended)
	notifier.SendSuccess("Klarna parsing finished",
		fmt.Sprintf("%d refund rows for %s", summary.Rows, summary.Window))
}

type wiredPipeline struct {
	pipeline *pipeline.Pipeline
	scraper  *scraper.Scraper
	display  *ui.StageDisplay
}

func buildPipeline(ctx context.Context, cfg *config.Config, log logger.Logger) (*wiredPipeline, error) {
	downloads, err := storage.NewManager(cfg.Download.Directory, log)
	if err != nil {
		return nil, err
	}

	reporter := stageReporter{
		Recorder: metrics.NewRecorder(cfg.Metrics, log),
		display:  ui.NewStageDisplay(verbose),
	}

	s := scraper.New(cfg, downloads, mailbox.NewRetriever(cfg.Mailbox, log), log,
		scraper.WithObserver(reporter.ObserveStage))

	var appender pipeline.Appender
	if !skipSheets {
		client, err := sheets.NewService(ctx, cfg.Sheets, log)
		if err != nil {
			return nil, err
		}
		appender = client
	}

	opts := []pipeline.Option{
		pipeline.WithRecorder(reporter),
		pipeline.SkipSheets(skipSheets),
	}
	if cfg.Sheets.SkipAppended && !force {
		ledger, err := checkpoint.NewManager(cfg.Sheets.Worksheet, log)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithLedger(ledger))
	}

	p := pipeline.New(cfg, s, report.NewParser(cfg.Report, log), appender, log, opts...)
	return &wiredPipeline{pipeline: p, scraper: s, display: reporter.display}, nil
}
