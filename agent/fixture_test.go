package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/concierge/capability"
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/logging"
	"github.com/hupe1980/concierge/model/rulebased"
)

// fakeWeather is a get_weather capability with a canned answer per location.
func fakeWeather(fn capability.Func) *capability.FunctionCapability {
	return capability.NewFunction("get_weather", "weather service", "Current weather for a city.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"location": map[string]any{"type": "string"}},
			"required":   []string{"location"},
		}, fn)
}

func okWeather(_ context.Context, args map[string]any) (string, error) {
	loc, _ := args["location"].(string)
	return fmt.Sprintf("%s: 12°C, partly cloudy, wind 9 km/h", loc), nil
}

func brokenWeather(_ context.Context, _ map[string]any) (string, error) {
	return "", capability.NewError("get_weather", "upstream returned 502: <html>bad gateway</html>", capability.CodeExecution)
}

func fakeQuote(_ context.Context, args map[string]any) (string, error) {
	sym, _ := args["symbol"].(string)
	return sym + ": 189.5 USD", nil
}

func quoteCapability(fn capability.Func) *capability.FunctionCapability {
	return capability.NewFunction("get_quote", "market data service", "Latest price for a ticker symbol.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"symbol": map[string]any{"type": "string"}},
			"required":   []string{"symbol"},
		}, fn)
}

func weatherWorkerModel() *rulebased.Model {
	return rulebased.New(func(o *rulebased.Options) {
		o.Name = "weather-worker"
		o.Rules = []rulebased.Rule{{
			Keywords: []string{"weather", "temperature"},
			Tool:     "get_weather",
			Args:     rulebased.PhraseAfter("location", "in", "for"),
		}}
	})
}

func pricesWorkerModel() *rulebased.Model {
	return rulebased.New(func(o *rulebased.Options) {
		o.Name = "prices-worker"
		o.Rules = []rulebased.Rule{{
			Keywords: []string{"price", "stock", "quote"},
			Tool:     "get_quote",
			Args:     rulebased.UpperWord("symbol"),
		}}
	})
}

func supervisorModel(optFns ...func(o *rulebased.Options)) *rulebased.Model {
	fns := append([]func(o *rulebased.Options){func(o *rulebased.Options) {
		o.Name = "supervisor"
		o.Rules = []rulebased.Rule{
			{Keywords: []string{"weather", "temperature"}, Tool: "ask-weather-specialist", Args: rulebased.Passthrough("request")},
			{Keywords: []string{"price", "stock"}, Tool: "ask-prices-specialist", Args: rulebased.Passthrough("request")},
		}
		o.Fallback = "Hello! How can I help?"
	}}, optFns...)
	return rulebased.New(fns...)
}

func newTestWorker(t *testing.T, name string, m *rulebased.Model, c capability.Capability, optFns ...func(o *WorkerOptions)) *Worker {
	t.Helper()
	fns := append([]func(o *WorkerOptions){func(o *WorkerOptions) {
		o.RetryAttempts = 1
	}}, optFns...)
	w, err := NewWorker(name, m, c, fns...)
	require.NoError(t, err)
	return w
}

func newTestSupervisor(t *testing.T, store core.SessionStore, workers []*Worker, optFns ...func(o *SupervisorOptions)) *Supervisor {
	t.Helper()
	s, err := NewSupervisor(supervisorModel(), store, workers, optFns...)
	require.NoError(t, err)
	return s
}

func newTurn(ctx context.Context, sessionID, text string, emit func(core.TurnEvent), logger logging.Logger) *core.TurnContext {
	return core.NewTurnContext(ctx, sessionID, core.NewTurnID(), text, 16, emit, logger)
}

// slowCapability blocks until released or ctx ends and counts finished
// invocations.
type slowCapability struct {
	*capability.FunctionCapability
	started  chan struct{}
	release  chan struct{}
	finished atomic.Int32
}

func newSlowWeather() *slowCapability {
	s := &slowCapability{started: make(chan struct{}, 8), release: make(chan struct{})}
	s.FunctionCapability = fakeWeather(func(ctx context.Context, args map[string]any) (string, error) {
		s.started <- struct{}{}
		defer s.finished.Add(1)
		select {
		case <-s.release:
			return okWeather(ctx, args)
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "", fmt.Errorf("slow capability was never released")
		}
	})
	return s
}
