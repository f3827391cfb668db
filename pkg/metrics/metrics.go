// Package metrics records run metrics and pushes them to a Prometheus
// Pushgateway when one is configured.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"klarnaparser/pkg/config"
	errs "klarnaparser/pkg/errors"
	"klarnaparser/pkg/logger"
)

// Recorder collects the metrics of one run on a private registry
type Recorder struct {
	registry      *prometheus.Registry
	stageDuration *prometheus.GaugeVec
	rowsAppended  prometheus.Gauge
	lastSuccess   prometheus.Gauge
	runFailures   *prometheus.CounterVec

	succeeded bool
	failed    bool
	url       string
	job       string
	logger    logger.Logger
}

// NewRecorder creates a recorder. An empty pushgateway URL disables Push.
func NewRecorder(cfg config.MetricsConfig, log logger.Logger) *Recorder {
	if log == nil {
		log = logger.NewNopLogger()
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "klarnaparser_stage_duration_seconds",
			Help: "Duration of each stage of the last run",
		}, []string{"stage"}),
		rowsAppended: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "klarnaparser_rows_appended",
			Help: "Refund rows appended to the spreadsheet by the last run",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "klarnaparser_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
		runFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klarnaparser_run_failures_total",
			Help: "Failed runs by the stage that failed",
		}, []string{"stage"}),
		url:    cfg.PushgatewayURL,
		job:    cfg.Job,
		logger: log.WithField("component", "metrics"),
	}
	if r.job == "" {
		r.job = "klarnaparser"
	}

	r.registry.MustRegister(r.stageDuration, r.rowsAppended, r.lastSuccess, r.runFailures)
	return r
}

// Registry exposes the collectors for inspection
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStage records how long stage took. The first stage to report an
// error is counted as the one the run failed in; enclosing stages that pass
// the same error up are not counted again.
func (r *Recorder) ObserveStage(stage string, elapsed time.Duration, err error) {
	r.stageDuration.WithLabelValues(stage).Set(elapsed.Seconds())
	if err != nil && !r.failed {
		r.failed = true
		r.runFailures.WithLabelValues(stage).Inc()
	}
}

// SetRowsAppended records how many rows reached the spreadsheet
func (r *Recorder) SetRowsAppended(n int) {
	r.rowsAppended.Set(float64(n))
}

// MarkSuccess stamps the run as successful at t
func (r *Recorder) MarkSuccess(t time.Time) {
	r.lastSuccess.Set(float64(t.Unix()))
	r.succeeded = true
}

// Enabled reports whether a pushgateway is configured
func (r *Recorder) Enabled() bool {
	return r.url != ""
}

// Push sends the metrics to the pushgateway. Metrics already in the
// gateway under the same names are replaced; a failed run leaves the
// last success timestamp untouched.
func (r *Recorder) Push(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}

	pusher := push.New(r.url, r.job)
	if r.succeeded {
		pusher = pusher.Gatherer(r.registry)
	} else {
		pusher = pusher.Collector(r.stageDuration).Collector(r.runFailures)
	}

	if err := pusher.AddContext(ctx); err != nil {
		return errs.Newf(errs.ErrorTypeInfrastructure, "push-metrics", err, "%s", r.url)
	}

	r.logger.WithFields(map[string]interface{}{
		"url":       r.url,
		"job":       r.job,
		"succeeded": r.succeeded,
	}).Debug("Metrics pushed")
	return nil
}
