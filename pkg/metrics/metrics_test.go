package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klarnaparser/pkg/config"
)

type gateway struct {
	mu     sync.Mutex
	method string
	path   string
	body   string
}

func newGateway(t *testing.T) (*gateway, *httptest.Server) {
	g := &gateway{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		g.mu.Lock()
		g.method, g.path, g.body = r.Method, r.URL.Path, string(data)
		g.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return g, srv
}

func TestObserveStage(t *testing.T) {
	r := NewRecorder(config.MetricsConfig{}, nil)

	r.ObserveStage("scrape", 1500*time.Millisecond, nil)
	r.ObserveStage("append", 200*time.Millisecond, errors.New("quota"))

	assert.InDelta(t, 1.5, testutil.ToFloat64(r.stageDuration.WithLabelValues("scrape")), 1e-9)
	assert.InDelta(t, 0.2, testutil.ToFloat64(r.stageDuration.WithLabelValues("append")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runFailures.WithLabelValues("append")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.runFailures))
}

func TestObserveStageCountsOneFailurePerRun(t *testing.T) {
	r := NewRecorder(config.MetricsConfig{}, nil)
	err := errors.New("otp input never appeared")

	r.ObserveStage("auth", 3*time.Second, err)
	r.ObserveStage("scrape", 4*time.Second, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runFailures.WithLabelValues("auth")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.runFailures))
	assert.InDelta(t, 4.0, testutil.ToFloat64(r.stageDuration.WithLabelValues("scrape")), 1e-9)
}

func TestSuccessAndRows(t *testing.T) {
	r := NewRecorder(config.MetricsConfig{}, nil)
	at := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)

	r.SetRowsAppended(12)
	r.MarkSuccess(at)

	assert.Equal(t, 12.0, testutil.ToFloat64(r.rowsAppended))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(r.lastSuccess))

	count, err := testutil.GatherAndCount(r.Registry())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPushDisabled(t *testing.T) {
	r := NewRecorder(config.MetricsConfig{}, nil)
	assert.False(t, r.Enabled())
	assert.NoError(t, r.Push(context.Background()))
}

func TestPushSuccessfulRun(t *testing.T) {
	g, srv := newGateway(t)
	r := NewRecorder(config.MetricsConfig{PushgatewayURL: srv.URL, Job: "klarna_nightly"}, nil)
	r.ObserveStage("scrape", time.Second, nil)
	r.MarkSuccess(time.Now())

	require.NoError(t, r.Push(context.Background()))

	assert.Equal(t, http.MethodPost, g.method)
	assert.Equal(t, "/metrics/job/klarna_nightly", g.path)
	assert.Contains(t, g.body, "klarnaparser_last_success_timestamp_seconds")
}

func TestPushFailedRunKeepsLastSuccess(t *testing.T) {
	g, srv := newGateway(t)
	r := NewRecorder(config.MetricsConfig{PushgatewayURL: srv.URL}, nil)
	r.ObserveStage("auth", time.Second, errors.New("no code"))

	require.NoError(t, r.Push(context.Background()))

	assert.Equal(t, "/metrics/job/klarnaparser", g.path)
	assert.Contains(t, g.body, "klarnaparser_run_failures_total")
	assert.NotContains(t, g.body, "klarnaparser_last_success_timestamp_seconds")
}

func TestPushGatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewRecorder(config.MetricsConfig{PushgatewayURL: srv.URL}, nil)
	assert.Error(t, r.Push(context.Background()))
}
