// Package pipeline composes one full run: scrape the report, parse the
// refund rows and append them to the spreadsheet.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"klarnaparser/pkg/checkpoint"
	"klarnaparser/pkg/config"
	errs "klarnaparser/pkg/errors"
	"klarnaparser/pkg/logger"
	"klarnaparser/pkg/scraper"
)

// Stage names
const (
	StageScrape = "scrape"
	StageParse  = "parse"
	StageAppend = "append"
)

// Scraper downloads the report and returns where it was saved
type Scraper interface {
	Run(ctx context.Context) (*scraper.Result, error)
}

// Parser extracts refund rows from a report file
type Parser interface {
	Parse(path string) ([][]string, error)
}

// Appender writes rows after the last populated row of a worksheet
type Appender interface {
	AppendRows(ctx context.Context, worksheet string, rows [][]string) error
}

// Recorder receives run metrics
type Recorder interface {
	ObserveStage(stage string, elapsed time.Duration, err error)
	SetRowsAppended(n int)
	MarkSuccess(t time.Time)
	Push(ctx context.Context) error
}

// Ledger remembers the last window appended to a worksheet
type Ledger interface {
	Load() (*checkpoint.Checkpoint, error)
	Record(worksheet, startDate, endDate, runID string, rows int) error
}

// Summary describes a finished run
type Summary struct {
	RunID           string
	Window          scraper.Window
	ReportPath      string
	Rows            int
	Appended        bool
	AlreadyAppended bool
	Duration        time.Duration
}

// Pipeline runs the stages in order and stops at the first failure
type Pipeline struct {
	scraper    Scraper
	parser     Parser
	appender   Appender
	recorder   Recorder
	ledger     Ledger
	worksheet  string
	skipSheets bool
	logger     logger.Logger
	now        func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithLedger skips the append when the ledger shows the window was already
// appended to the worksheet, and records every successful append.
func WithLedger(l Ledger) Option {
	return func(p *Pipeline) {
		p.ledger = l
	}
}

// SkipSheets stops the run after parsing
func SkipSheets(skip bool) Option {
	return func(p *Pipeline) {
		p.skipSheets = skip
	}
}

// New creates a pipeline. appender may be nil when sheets are skipped.
func New(cfg *config.Config, s Scraper, parser Parser, appender Appender, log logger.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = logger.NewNopLogger()
	}
	p := &Pipeline{
		scraper:   s,
		parser:    parser,
		appender:  appender,
		worksheet: cfg.Sheets.Worksheet,
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewRunID returns a fresh identifier for log correlation
func NewRunID() string {
	return uuid.NewString()
}

// Run executes one pass. Metrics are pushed whatever the outcome; a push
// failure is logged and does not fail the run.
func (p *Pipeline) Run(ctx context.Context, runID string) (*Summary, error) {
	if runID == "" {
		runID = NewRunID()
	}
	log := p.logger.WithField("run_id", runID)
	start := p.now()
	summary := &Summary{RunID: runID}

	log.Info("Starting Klarna parsing")
	err := p.run(ctx, log, summary)
	summary.Duration = p.now().Sub(start)

	if err == nil && p.recorder != nil {
		p.recorder.MarkSuccess(p.now())
	}
	p.push(ctx, log)

	if err != nil {
		log.WithError(err).WithField("error_type", string(errs.TypeOf(err))).Error("Run failed")
		return summary, err
	}

	log.WithFields(map[string]interface{}{
		"rows":             summary.Rows,
		"appended":         summary.Appended,
		"already_appended": summary.AlreadyAppended,
		"duration":         summary.Duration,
	}).Info("Run finished")
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, log logger.Logger, summary *Summary) error {
	done := p.stage(log, StageScrape)
	result, err := p.scraper.Run(ctx)
	done(err)
	if err != nil {
		return err
	}
	summary.Window = result.Window
	summary.ReportPath = result.ReportPath

	done = p.stage(log, StageParse)
	rows, err := p.parser.Parse(result.ReportPath)
	done(err)
	if err != nil {
		return err
	}
	summary.Rows = len(rows)

	if p.skipSheets || p.appender == nil {
		log.WithField("rows", len(rows)).Info("Skipping spreadsheet append")
		return nil
	}

	if p.alreadyAppended(log, result.Window) {
		summary.AlreadyAppended = true
		return nil
	}

	done = p.stage(log, StageAppend)
	err = p.appender.AppendRows(ctx, p.worksheet, rows)
	done(err)
	if err != nil {
		return err
	}
	summary.Appended = true
	if p.recorder != nil {
		p.recorder.SetRowsAppended(len(rows))
	}

	if p.ledger != nil {
		err := p.ledger.Record(p.worksheet, result.Window.StartDate(), result.Window.EndDate(), summary.RunID, len(rows))
		if err != nil {
			log.WithError(err).Warn("Failed to record appended window")
		}
	}
	return nil
}

func (p *Pipeline) alreadyAppended(log logger.Logger, window scraper.Window) bool {
	if p.ledger == nil {
		return false
	}
	last, err := p.ledger.Load()
	if err != nil {
		log.WithError(err).Warn("Failed to read checkpoint, appending anyway")
		return false
	}
	if !last.Covers(p.worksheet, window.StartDate(), window.EndDate()) {
		return false
	}
	log.WithFields(map[string]interface{}{
		"worksheet":   p.worksheet,
		"window":      window.String(),
		"appended_by": last.RunID,
	}).Warn("Window already appended, skipping")
	return true
}

func (p *Pipeline) stage(log logger.Logger, name string) func(error) {
	start := p.now()
	logDone := logger.Stage(log, name)
	return func(err error) {
		logDone(err)
		if p.recorder != nil {
			p.recorder.ObserveStage(name, p.now().Sub(start), err)
		}
	}
}

func (p *Pipeline) push(ctx context.Context, log logger.Logger) {
	if p.recorder == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.recorder.Push(pushCtx); err != nil {
		log.WithError(err).Warn("Failed to push metrics")
	}
}
