package main

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klarnaparser/pkg/config"
	"klarnaparser/pkg/metrics"
	"klarnaparser/pkg/pipeline"
	"klarnaparser/pkg/ui"
)

func TestStageReporterFailedRun(t *testing.T) {
	var out bytes.Buffer
	ui.SetOutput(&out)
	ui.SetNoColor(true)
	t.Cleanup(func() {
		ui.SetOutput(os.Stdout)
		ui.SetNoColor(false)
	})

	rec := metrics.NewRecorder(config.MetricsConfig{}, nil)
	rep := stageReporter{Recorder: rec, display: ui.NewStageDisplay(false)}

	err := errors.New("otp input never appeared")
	rep.ObserveStage("clean", 10*time.Millisecond, nil)
	rep.ObserveStage("auth", 2*time.Second, err)
	rep.ObserveStage(pipeline.StageScrape, 3*time.Second, err)

	families, gatherErr := rec.Registry().Gather()
	require.NoError(t, gatherErr)
	var failures float64
	for _, mf := range families {
		if mf.GetName() != "klarnaparser_run_failures_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			failures += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, failures)

	count, gatherErr := testutil.GatherAndCount(rec.Registry(), "klarnaparser_run_failures_total")
	require.NoError(t, gatherErr)
	assert.Equal(t, 1, count)

	assert.Contains(t, out.String(), "auth")
	assert.NotContains(t, out.String(), pipeline.StageScrape)
}
