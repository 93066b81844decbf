// Package concierge wires a complete assistant from a config.Config: the
// generation service, one worker per enabled capability, the supervisor, the
// session store and the engine, plus metrics and tracing. Most applications
// only need:
//
//	cfg, _ := config.Load("concierge.yaml")
//	c, err := concierge.New(ctx, cfg)
//	defer c.Close(ctx)
//	resp, err := c.Engine.CompleteTurn(ctx, "session-1", "What is the weather in Oslo?")
//
// Every collaborator can be overridden through Options, which is how tests
// run the whole stack offline.
package concierge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/concierge/agent"
	"github.com/hupe1980/concierge/capability"
	"github.com/hupe1980/concierge/capability/knowledge"
	"github.com/hupe1980/concierge/capability/prices"
	"github.com/hupe1980/concierge/capability/weather"
	"github.com/hupe1980/concierge/config"
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/engine"
	"github.com/hupe1980/concierge/logging"
	"github.com/hupe1980/concierge/middleware"
	"github.com/hupe1980/concierge/model"
	"github.com/hupe1980/concierge/model/anthropic"
	"github.com/hupe1980/concierge/model/gemini"
	"github.com/hupe1980/concierge/model/openai"
	"github.com/hupe1980/concierge/model/rulebased"
	"github.com/hupe1980/concierge/observability"
	"github.com/hupe1980/concierge/session"
)

// Worker names. Each appears to the supervisor as "ask-<name>-specialist".
const (
	WorkerWeather   = "weather"
	WorkerPrices    = "prices"
	WorkerKnowledge = "knowledge"
)

// Store is a session store whose sessions can be read back whole.
type Store interface {
	core.SessionStore
	Session(ctx context.Context, sessionID string) (*core.Session, error)
}

var (
	_ Store = (*session.InMemoryStore)(nil)
	_ Store = (*session.SQLiteStore)(nil)
)

// Options override collaborators built from the config.
type Options struct {
	// Logger defaults to a slog logger built from cfg.Logging.
	Logger logging.Logger
	// SupervisorModel and WorkerModel replace the configured provider.
	SupervisorModel model.Model
	WorkerModel     model.Model
	// Store replaces the configured session backend.
	Store Store
	// Capabilities replace the built-in capability of the same name.
	Capabilities map[string]capability.Capability
	// WeatherHTTPClient is used by the Open-Meteo client.
	WeatherHTTPClient *http.Client
	// Callbacks run around every turn.
	Callbacks *engine.CallbackManager
}

// Concierge is a wired assistant.
type Concierge struct {
	Engine     *engine.Engine
	Supervisor *agent.Supervisor
	Store      Store
	// Metrics is nil when metrics are disabled.
	Metrics *observability.PrometheusMetrics
	Logger  logging.Logger

	tracer  trace.Tracer
	closers []func(context.Context) error
}

// New builds the assistant described by cfg.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Concierge, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(&logging.LoggerConfig{
			Level:     logging.ParseLevel(cfg.Logging.Level),
			Format:    cfg.Logging.Format,
			Component: "concierge",
		})
	}

	c := &Concierge{Logger: opts.Logger}
	fail := func(err error) (*Concierge, error) {
		_ = c.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	var metrics observability.Metrics = observability.NoopMetrics{}
	if cfg.Metrics.Enabled {
		c.Metrics = observability.NewPrometheusMetrics(cfg.Metrics.Namespace)
		metrics = c.Metrics
	}

	tracing, err := observability.NewTracing(ctx, cfg.Tracing, opts.Logger)
	if err != nil {
		return fail(err)
	}
	c.closers = append(c.closers, tracing.Shutdown)
	tracer := tracing.Tracer("github.com/hupe1980/concierge")
	c.tracer = tracer

	store, err := newStore(cfg.Session, opts.Store)
	if err != nil {
		return fail(err)
	}
	c.Store = store
	if closer, ok := store.(interface{ Close() error }); ok && opts.Store == nil {
		c.closers = append(c.closers, func(context.Context) error { return closer.Close() })
	}

	supervisorModel, workerModel, err := newModels(ctx, cfg.Model, opts)
	if err != nil {
		return fail(err)
	}

	caps, err := newCapabilities(ctx, cfg, opts)
	if err != nil {
		return fail(err)
	}
	workers := make([]*agent.Worker, 0, len(caps))
	for _, nc := range caps {
		w, err := agent.NewWorker(nc.name, workerModel, nc.capability, func(o *agent.WorkerOptions) {
			o.RetryAttempts = cfg.Capabilities.RetryAttempts
			o.MaxModelCalls = cfg.Engine.MaxModelCalls
			o.Logger = opts.Logger
		})
		if err != nil {
			return fail(err)
		}
		workers = append(workers, w)
	}

	sup, err := agent.NewSupervisor(supervisorModel, store, workers, func(o *agent.SupervisorOptions) {
		o.Pipeline = middleware.Default(opts.Logger, func(g *middleware.GroundingOptions) {
			g.OnWarning = func(w middleware.Warning) { metrics.GroundingWarning(string(w.Kind)) }
		})
		o.MaxParallelDelegations = cfg.Supervisor.MaxParallelDelegations
		o.DelegationTimeout = cfg.Supervisor.DelegationTimeout
		o.MaxHistoryMessages = cfg.Supervisor.MaxHistoryMessages
		o.PersistToolResults = cfg.Supervisor.PersistToolResults
		o.ExcerptLength = cfg.Supervisor.ExcerptLength
		o.Stream = cfg.Supervisor.Stream
		o.OnDelegation = func(call core.DelegationCall) {
			metrics.DelegationFinished(call.Worker, string(call.Status), call.Duration())
		}
		o.Tracer = tracer
		o.Logger = opts.Logger
	})
	if err != nil {
		return fail(err)
	}
	c.Supervisor = sup

	eng, err := engine.New(sup, func(o *engine.Options) {
		o.Config = engine.Config{
			MaxConcurrentTurns: cfg.Engine.MaxConcurrentTurns,
			TurnTimeout:        cfg.Engine.TurnTimeout,
			MaxMessageLength:   cfg.Engine.MaxMessageLength,
			MaxModelCalls:      cfg.Engine.MaxModelCalls,
			EventBufferSize:    cfg.Engine.EventBufferSize,
			TerminalGrace:      cfg.Engine.TerminalGrace,
		}
		o.Callbacks = opts.Callbacks
		o.Metrics = metrics
		o.Tracer = tracer
		o.Logger = opts.Logger
	})
	if err != nil {
		return fail(err)
	}
	c.Engine = eng

	names := make([]string, len(workers))
	for i, w := range workers {
		names[i] = w.Name()
	}
	opts.Logger.Info("concierge.ready",
		"provider", supervisorModel.Info().Provider,
		"workers", names,
		"session_backend", cfg.Session.Backend)
	return c, nil
}

// Tracer returns the tracer shared by the engine and the supervisor.
func (c *Concierge) Tracer() trace.Tracer { return c.tracer }

// Close stops running turns and releases the store and the tracer, in that
// order.
func (c *Concierge) Close(ctx context.Context) error {
	var errs []error
	if c.Engine != nil {
		errs = append(errs, c.Engine.Shutdown(ctx))
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i](ctx))
	}
	c.closers = nil
	return errors.Join(errs...)
}

func newStore(cfg config.SessionConfig, override Store) (Store, error) {
	if override != nil {
		return override, nil
	}
	switch cfg.Backend {
	case config.BackendSQLite:
		return session.OpenSQLite(cfg.Path, func(o *session.SQLiteOptions) {
			o.MaxMessages = cfg.MaxMessages
		})
	default:
		return session.NewInMemoryStore(func(o *session.Options) {
			o.MaxMessages = cfg.MaxMessages
		}), nil
	}
}

func newModels(ctx context.Context, cfg config.ModelConfig, opts Options) (model.Model, model.Model, error) {
	sup, wrk := opts.SupervisorModel, opts.WorkerModel
	if sup != nil && wrk != nil {
		return sup, wrk, nil
	}

	if cfg.Provider == config.ProviderOffline {
		if sup == nil {
			sup = OfflineSupervisorModel()
		}
		if wrk == nil {
			wrk = OfflineWorkerModel()
		}
		return sup, wrk, nil
	}

	shared, err := newProviderModel(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if sup == nil {
		sup = shared
	}
	if wrk == nil {
		wrk = shared
	}
	return sup, wrk, nil
}

func newProviderModel(ctx context.Context, cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			o.Temperature = cfg.Temperature
			o.MaxRetries = cfg.MaxRetries
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			o.APIKey = cfg.APIKey
			o.Temperature = cfg.Temperature
			o.MaxRetries = cfg.MaxRetries
		}), nil
	case config.ProviderGemini:
		return gemini.NewModel(ctx, func(o *gemini.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.APIKey = cfg.APIKey
			o.Temperature = cfg.Temperature
		})
	default:
		return nil, fmt.Errorf("%w: unknown model provider %q", core.ErrConfiguration, cfg.Provider)
	}
}

type namedCapability struct {
	name       string
	capability capability.Capability
}

func newCapabilities(ctx context.Context, cfg *config.Config, opts Options) ([]namedCapability, error) {
	var out []namedCapability
	add := func(name string, build func() (capability.Capability, error)) error {
		if c, ok := opts.Capabilities[name]; ok {
			out = append(out, namedCapability{name: name, capability: c})
			return nil
		}
		c, err := build()
		if err != nil {
			return err
		}
		out = append(out, namedCapability{name: name, capability: c})
		return nil
	}

	caps := cfg.Capabilities
	if caps.Weather.Enabled {
		if err := add(WorkerWeather, func() (capability.Capability, error) {
			return weather.New(func(o *weather.Options) {
				if caps.Weather.GeocodingURL != "" {
					o.GeocodingURL = caps.Weather.GeocodingURL
				}
				if caps.Weather.ForecastURL != "" {
					o.ForecastURL = caps.Weather.ForecastURL
				}
				if opts.WeatherHTTPClient != nil {
					o.HTTPClient = opts.WeatherHTTPClient
				} else if caps.Weather.Timeout > 0 {
					o.HTTPClient = &http.Client{Timeout: caps.Weather.Timeout}
				}
			}), nil
		}); err != nil {
			return nil, err
		}
	}
	if caps.Prices.Enabled {
		if err := add(WorkerPrices, func() (capability.Capability, error) {
			return prices.New(prices.NewStaticQuoter(caps.Prices.Quotes...), ""), nil
		}); err != nil {
			return nil, err
		}
	}
	if caps.Knowledge.Enabled {
		if err := add(WorkerKnowledge, func() (capability.Capability, error) {
			docs := caps.Knowledge.Documents
			if len(docs) == 0 {
				docs = knowledge.DefaultDocuments()
			}
			base, err := knowledge.New(ctx, docs, func(o *knowledge.Options) {
				o.PersistPath = caps.Knowledge.PersistPath
				o.TopK = caps.Knowledge.TopK
				if caps.Knowledge.Embedder == "openai" {
					o.Embedder = knowledge.NewOpenAIEmbedder(cfg.Model.APIKey)
				}
			})
			if err != nil {
				return nil, fmt.Errorf("%w: knowledge base: %w", core.ErrConfiguration, err)
			}
			return base.Capability(), nil
		}); err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no capability is enabled", core.ErrConfiguration)
	}
	return out, nil
}

// OfflineSupervisorModel routes by keyword to the built-in workers. It backs
// the "offline" provider and needs no network access.
func OfflineSupervisorModel() *rulebased.Model {
	return rulebased.New(func(o *rulebased.Options) {
		o.Name = "offline-supervisor"
		o.Rules = []rulebased.Rule{
			{Keywords: []string{"weather", "temperature", "forecast", "rain", "wind"}, Tool: agent.ToolName(WorkerWeather), Args: rulebased.Passthrough("request")},
			{Keywords: []string{"price", "stock", "quote", "share", "ticker"}, Tool: agent.ToolName(WorkerPrices), Args: rulebased.Passthrough("request")},
			{Keywords: []string{"policy", "vacation", "handbook", "remote", "expense", "holiday"}, Tool: agent.ToolName(WorkerKnowledge), Args: rulebased.Passthrough("request")},
		}
	})
}

// OfflineWorkerModel drives every built-in capability from the request text.
// A worker is only offered its own capability, so one model serves all.
func OfflineWorkerModel() *rulebased.Model {
	return rulebased.New(func(o *rulebased.Options) {
		o.Name = "offline-worker"
		o.Rules = []rulebased.Rule{
			{Keywords: []string{"weather", "temperature", "forecast", "rain", "wind"}, Tool: weather.Name, Args: rulebased.PhraseAfter("location", "in", "for", "at")},
			{Keywords: []string{"price", "stock", "quote", "share", "ticker"}, Tool: prices.Name, Args: rulebased.UpperWord("symbol")},
			{Keywords: []string{""}, Tool: knowledge.Name, Args: rulebased.Passthrough("query")},
		}
	})
}
