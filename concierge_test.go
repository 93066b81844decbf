package concierge_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/concierge"
	"github.com/hupe1980/concierge/config"
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/internal/testutil"
	"github.com/hupe1980/concierge/session"
)

func fakeOpenMeteo(t *testing.T, down *atomic.Bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/geo", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"name":"Oslo","country":"Norway","latitude":59.91,"longitude":10.75}]}`))
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, _ *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html>bad gateway</html>"))
			return
		}
		_, _ = w.Write([]byte(`{"current":{"temperature_2m":7.5,"wind_speed_10m":12.0,"weather_code":3}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(srv *httptest.Server) *config.Config {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Capabilities.RetryAttempts = 1
	cfg.Capabilities.Weather.GeocodingURL = srv.URL + "/geo"
	cfg.Capabilities.Weather.ForecastURL = srv.URL + "/forecast"
	return cfg
}

func newConcierge(t *testing.T, cfg *config.Config, optFns ...func(o *concierge.Options)) *concierge.Concierge {
	t.Helper()
	fns := append([]func(o *concierge.Options){func(o *concierge.Options) {
		o.Logger = testutil.NewRecordingLogger()
	}}, optFns...)
	c, err := concierge.New(context.Background(), cfg, fns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestConcierge_WeatherInOslo(t *testing.T) {
	var down atomic.Bool
	c := newConcierge(t, testConfig(fakeOpenMeteo(t, &down)))

	resp, err := c.Engine.CompleteTurn(context.Background(), "s1", "What is the weather in Oslo?")
	require.NoError(t, err)

	require.Len(t, resp.Delegations, 1)
	assert.Equal(t, concierge.WorkerWeather, resp.Delegations[0].Worker)
	assert.Equal(t, core.DelegationOK, resp.Delegations[0].Status)
	assert.Contains(t, resp.Response, "7.5°C")

	sess, err := c.Store.Session(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, core.RoleAssistant, sess.Messages[1].Role)
	assert.Equal(t, resp.Response, sess.Messages[1].Content)
}

func TestConcierge_WeatherServiceDown(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	c := newConcierge(t, testConfig(fakeOpenMeteo(t, &down)))

	_, events, err := c.Engine.StreamTurn(context.Background(), "s1", "What is the weather in Oslo?")
	require.NoError(t, err)
	got := testutil.CollectEvents(t, events, 5*time.Second)

	finished := testutil.OfType(got, core.EventDelegationFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, core.DelegationFailed, finished[0].Status)

	done := testutil.OfType(got, core.EventTurnDone)
	require.Len(t, done, 1)
	assert.False(t, done[0].Partial)
	assert.Contains(t, done[0].Response, "weather service")
	assert.NotContains(t, done[0].Response, "502")
	assert.Empty(t, testutil.OfType(got, core.EventTurnError))
}

func TestConcierge_PricesAndKnowledge(t *testing.T) {
	var down atomic.Bool
	c := newConcierge(t, testConfig(fakeOpenMeteo(t, &down)))

	resp, err := c.Engine.CompleteTurn(context.Background(), "s1", "What is the stock price of ACME?")
	require.NoError(t, err)
	require.Len(t, resp.Delegations, 1)
	assert.Equal(t, concierge.WorkerPrices, resp.Delegations[0].Worker)
	assert.Contains(t, resp.Response, "123.45")

	resp, err = c.Engine.CompleteTurn(context.Background(), "s1", "How many vacation days do I get?")
	require.NoError(t, err)
	require.Len(t, resp.Delegations, 1)
	assert.Equal(t, concierge.WorkerKnowledge, resp.Delegations[0].Worker)
	assert.Contains(t, resp.Response, "25 vacation days")
}

func TestConcierge_StoreRejectsAssistantAppend(t *testing.T) {
	var down atomic.Bool
	store := testutil.NewFailingStore(session.NewInMemoryStore(), core.RoleAssistant)
	c := newConcierge(t, testConfig(fakeOpenMeteo(t, &down)), func(o *concierge.Options) {
		o.Store = store
	})

	_, err := c.Engine.CompleteTurn(context.Background(), "s1", "What is the weather in Oslo?")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPersistence)

	msgs, err := store.Load(context.Background(), "s1")
	require.NoError(t, err)
	for _, m := range msgs {
		assert.NotEqual(t, core.RoleAssistant, m.Role)
	}
}

func TestConcierge_SQLiteFIFOCap(t *testing.T) {
	var down atomic.Bool
	cfg := testConfig(fakeOpenMeteo(t, &down))
	cfg.Session.Backend = config.BackendSQLite
	cfg.Session.Path = filepath.Join(t.TempDir(), "sessions.db")
	cfg.Session.MaxMessages = 3
	c := newConcierge(t, cfg)

	for _, text := range []string{"hi", "hello", "hey"} {
		_, err := c.Engine.CompleteTurn(context.Background(), "s1", text)
		require.NoError(t, err)
	}

	sess, err := c.Store.Session(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 3)
	assert.Equal(t, int64(4), sess.Messages[0].Ordinal)
	assert.Equal(t, "hey", sess.Messages[1].Content)
	assert.Equal(t, int64(6), sess.Messages[2].Ordinal)
}

func TestConcierge_Metrics(t *testing.T) {
	var down atomic.Bool
	c := newConcierge(t, testConfig(fakeOpenMeteo(t, &down)))
	require.NotNil(t, c.Metrics)

	_, err := c.Engine.CompleteTurn(context.Background(), "s1", "What is the weather in Oslo?")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	c.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `concierge_turns_total{state="done"} 1`)
	assert.Contains(t, body, `concierge_delegations_total{status="ok",worker="weather"} 1`)
	families, err := promtestutil.GatherAndCount(c.Metrics.Registry(), "concierge_turn_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, families)
}

func TestConcierge_MetricsDisabled(t *testing.T) {
	var down atomic.Bool
	cfg := testConfig(fakeOpenMeteo(t, &down))
	cfg.Metrics.Enabled = false

	c := newConcierge(t, cfg)
	assert.Nil(t, c.Metrics)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Provider = "llama"

	_, err := concierge.New(context.Background(), cfg)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestNew_NoCapabilities(t *testing.T) {
	cfg := config.Default()
	cfg.Capabilities.Weather.Enabled = false
	cfg.Capabilities.Prices.Enabled = false
	cfg.Capabilities.Knowledge.Enabled = false

	_, err := concierge.New(context.Background(), cfg, func(o *concierge.Options) {
		o.Logger = testutil.NewRecordingLogger()
	})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}
