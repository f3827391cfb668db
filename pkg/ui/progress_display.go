package ui

import (
	"fmt"
	"sync"
	"time"
)

// StageDisplay prints one line per finished stage of a run
type StageDisplay struct {
	mu        sync.Mutex
	startTime time.Time
	stages    int
	failed    string
	verbose   bool
}

// NewStageDisplay creates a display. In verbose mode stage durations are
// printed as well.
func NewStageDisplay(verbose bool) *StageDisplay {
	return &StageDisplay{
		startTime: time.Now(),
		verbose:   verbose,
	}
}

// Observe records a finished stage. Its signature matches the scraper and
// pipeline stage observers.
func (p *StageDisplay) Observe(stage string, elapsed time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stages++
	if err != nil {
		p.failed = stage
		printf(true, "%s %s %s\n", Red("✗"), stage, Dim(err.Error()))
		return
	}

	if p.verbose {
		printf(false, "%s %-10s %s\n", Green("✓"), stage, Dim(formatDuration(elapsed)))
	} else {
		printf(false, "%s %s\n", Green("✓"), stage)
	}
}

// Failed returns the stage that failed, if any
func (p *StageDisplay) Failed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// Complete prints the run summary
func (p *StageDisplay) Complete(window string, rows int, appended bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime)

	printf(false, "\n%s Parsed %d refund rows for %s\n", Green("✓"), rows, window)
	if appended {
		printf(false, "  %s appended to spreadsheet\n", Dim("•"))
	} else {
		printf(false, "  %s spreadsheet not updated\n", Dim("•"))
	}
	printf(false, "  %s %d stages in %s\n", Dim("•"), p.stages, formatDuration(elapsed))
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
