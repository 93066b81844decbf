package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/concierge/capability"
)

func fakeOpenMeteo(t *testing.T, forecastStatus *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/geo", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") == "Atlantis" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"name":"Oslo","country":"Norway","latitude":59.91,"longitude":10.75}]}`))
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		if s := forecastStatus.Load(); s != 0 {
			w.WriteHeader(int(s))
			return
		}
		assert.Equal(t, "59.9100", r.URL.Query().Get("latitude"))
		_, _ = w.Write([]byte(`{"current":{"temperature_2m":12.3,"wind_speed_10m":4.1,"weather_code":61}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestCapability(srv *httptest.Server) *capability.FunctionCapability {
	return New(func(o *Options) {
		o.GeocodingURL = srv.URL + "/geo"
		o.ForecastURL = srv.URL + "/forecast"
		o.HTTPClient = srv.Client()
	})
}

func TestWeather_Current(t *testing.T) {
	var status atomic.Int32
	c := newTestCapability(fakeOpenMeteo(t, &status))

	out, err := c.Invoke(context.Background(), map[string]any{"location": "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, "Oslo, Norway: 12.3°C, rain, wind 4.1 km/h", out)
	assert.Equal(t, "weather service", c.ServiceName())
}

func TestWeather_UnknownLocation(t *testing.T) {
	var status atomic.Int32
	c := newTestCapability(fakeOpenMeteo(t, &status))

	_, err := c.Invoke(context.Background(), map[string]any{"location": "Atlantis"})
	var ce *capability.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, capability.CodeNotFound, ce.Code)
	assert.False(t, capability.IsRetryable(err))
}

func TestWeather_UpstreamFailureIsRetryable(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	c := newTestCapability(fakeOpenMeteo(t, &status))

	_, err := c.Invoke(context.Background(), map[string]any{"location": "Oslo"})
	require.Error(t, err)
	assert.True(t, capability.IsRetryable(err))
}

func TestWeather_MissingLocation(t *testing.T) {
	var status atomic.Int32
	c := newTestCapability(fakeOpenMeteo(t, &status))

	_, err := c.Invoke(context.Background(), map[string]any{})
	var ce *capability.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, capability.CodeValidation, ce.Code)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "clear sky", Describe(0))
	assert.Equal(t, "snow", Describe(73))
	assert.Equal(t, "thunderstorm", Describe(95))
}
