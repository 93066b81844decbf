package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/concierge/logging"
)

func TestPrometheusMetrics(t *testing.T) {
	m := NewPrometheusMetrics("concierge")

	m.TurnStarted()
	m.TurnStarted()
	m.TurnFinished("done", 120*time.Millisecond)
	m.DelegationFinished("weather", "ok", 40*time.Millisecond)
	m.DelegationFinished("weather", "failed", 10*time.Millisecond)
	m.GroundingWarning("unused_output")

	assert.InDelta(t, 1, promtestutil.ToFloat64(m.inflight), 0)
	assert.InDelta(t, 1, promtestutil.ToFloat64(m.turns.WithLabelValues("done")), 0)
	assert.InDelta(t, 1, promtestutil.ToFloat64(m.delegations.WithLabelValues("weather", "failed")), 0)
	assert.InDelta(t, 1, promtestutil.ToFloat64(m.grounding.WithLabelValues("unused_output")), 0)
}

func TestPrometheusMetrics_Handler(t *testing.T) {
	m := NewPrometheusMetrics("concierge")
	m.TurnStarted()
	m.TurnFinished("failed", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `concierge_turns_total{state="failed"} 1`)
	assert.Contains(t, rec.Body.String(), "concierge_turn_duration_seconds_bucket")
}

func TestNoopMetrics(t *testing.T) {
	var m Metrics = NoopMetrics{}
	assert.NotPanics(t, func() {
		m.TurnStarted()
		m.TurnFinished("done", time.Second)
		m.DelegationFinished("weather", "ok", time.Second)
		m.GroundingWarning("ungrounded_figure")
	})
}

func TestTracing_Disabled(t *testing.T) {
	tr, err := NewTracing(context.Background(), TracerConfig{}, nil)
	require.NoError(t, err)

	_, span := tr.Tracer("test").Start(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestTracing_Stdout(t *testing.T) {
	var buf bytes.Buffer
	tr, err := NewTracing(context.Background(), TracerConfig{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "concierge-test",
		Writer:      &buf,
	}, logging.NoOpLogger{})
	require.NoError(t, err)

	_, span := tr.Tracer("test").Start(context.Background(), "engine.turn")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, tr.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "engine.turn")
	assert.Contains(t, buf.String(), "concierge-test")
}

func TestTracing_UnknownExporter(t *testing.T) {
	_, err := NewTracing(context.Background(), TracerConfig{Enabled: true, Exporter: "zipkin"}, nil)
	assert.Error(t, err)
}
