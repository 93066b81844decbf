// Package config loads the concierge service configuration: defaults, then an
// optional YAML file, then .env files, then CONCIERGE_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/concierge/capability/knowledge"
	"github.com/hupe1980/concierge/capability/prices"
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/observability"
)

// Config is the root configuration.
type Config struct {
	Server       ServerConfig               `yaml:"server"`
	Logging      LoggingConfig              `yaml:"logging"`
	Model        ModelConfig                `yaml:"model"`
	Engine       EngineConfig               `yaml:"engine"`
	Supervisor   SupervisorConfig           `yaml:"supervisor"`
	Session      SessionConfig              `yaml:"session"`
	Capabilities CapabilitiesConfig         `yaml:"capabilities"`
	Tracing      observability.TracerConfig `yaml:"tracing"`
	Metrics      MetricsConfig              `yaml:"metrics"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins restricts websocket upgrades. Empty allows same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig configures the slog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// Providers accepted by ModelConfig.Provider.
const (
	ProviderOffline   = "offline"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// ModelConfig selects the generation service shared by supervisor and workers.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxRetries  int     `yaml:"max_retries"`
}

// EngineConfig mirrors engine.Config.
type EngineConfig struct {
	MaxConcurrentTurns int           `yaml:"max_concurrent_turns"`
	TurnTimeout        time.Duration `yaml:"turn_timeout"`
	MaxMessageLength   int           `yaml:"max_message_length"`
	MaxModelCalls      int           `yaml:"max_model_calls"`
	EventBufferSize    int           `yaml:"event_buffer_size"`
	TerminalGrace      time.Duration `yaml:"terminal_grace"`
}

// SupervisorConfig mirrors agent.SupervisorOptions.
type SupervisorConfig struct {
	MaxParallelDelegations int           `yaml:"max_parallel_delegations"`
	DelegationTimeout      time.Duration `yaml:"delegation_timeout"`
	MaxHistoryMessages     int           `yaml:"max_history_messages"`
	PersistToolResults     bool          `yaml:"persist_tool_results"`
	ExcerptLength          int           `yaml:"excerpt_length"`
	Stream                 bool          `yaml:"stream"`
}

// Session backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// SessionConfig selects the session store.
type SessionConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	MaxMessages int    `yaml:"max_messages"`
}

// CapabilitiesConfig enables the specialists.
type CapabilitiesConfig struct {
	RetryAttempts uint            `yaml:"retry_attempts"`
	Weather       WeatherConfig   `yaml:"weather"`
	Prices        PricesConfig    `yaml:"prices"`
	Knowledge     KnowledgeConfig `yaml:"knowledge"`
}

// WeatherConfig configures the Open-Meteo capability.
type WeatherConfig struct {
	Enabled      bool          `yaml:"enabled"`
	GeocodingURL string        `yaml:"geocoding_url"`
	ForecastURL  string        `yaml:"forecast_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

// PricesConfig configures the quote table.
type PricesConfig struct {
	Enabled bool           `yaml:"enabled"`
	Quotes  []prices.Quote `yaml:"quotes"`
}

// KnowledgeConfig configures the internal knowledge base.
type KnowledgeConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	Embedder    string               `yaml:"embedder"` // hashing or openai
	PersistPath string               `yaml:"persist_path"`
	TopK        int                  `yaml:"top_k"`
	Documents   []knowledge.Document `yaml:"documents"`
}

// MetricsConfig toggles the Prometheus registry.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns a configuration that runs fully offline.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Model: ModelConfig{
			Provider:    ProviderOffline,
			Temperature: 0.2,
			MaxRetries:  2,
		},
		Engine: EngineConfig{
			MaxConcurrentTurns: 16,
			TurnTimeout:        60 * time.Second,
			MaxMessageLength:   4000,
			MaxModelCalls:      8,
			EventBufferSize:    64,
			TerminalGrace:      5 * time.Second,
		},
		Supervisor: SupervisorConfig{
			MaxParallelDelegations: 4,
			DelegationTimeout:      30 * time.Second,
			MaxHistoryMessages:     20,
			ExcerptLength:          200,
			Stream:                 true,
		},
		Session: SessionConfig{Backend: BackendMemory, MaxMessages: 200},
		Capabilities: CapabilitiesConfig{
			RetryAttempts: 3,
			Weather:       WeatherConfig{Enabled: true, Timeout: 10 * time.Second},
			Prices:        PricesConfig{Enabled: true, Quotes: prices.DefaultQuotes()},
			Knowledge:     KnowledgeConfig{Enabled: true, Embedder: "hashing", TopK: 2},
		},
		Tracing: observability.TracerConfig{
			Exporter:     "stdout",
			SamplingRate: 1,
			ServiceName:  "concierge",
		},
		Metrics: MetricsConfig{Enabled: true, Namespace: "concierge"},
	}
}

// Load builds the configuration from path (optional), .env files and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read config: %w", core.ErrConfiguration, err)
		}
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates. Unknown keys fail.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(r); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: parse config: %w", core.ErrConfiguration, err)
	}
	return nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Model.Provider {
	case ProviderOffline, ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		add("model.provider %q is not one of offline, openai, anthropic, gemini", c.Model.Provider)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		add("model.temperature must be within [0, 2]")
	}

	if c.Engine.MaxConcurrentTurns < 1 {
		add("engine.max_concurrent_turns must be positive")
	}
	if c.Engine.MaxMessageLength < 1 {
		add("engine.max_message_length must be positive")
	}
	if c.Engine.MaxModelCalls < 1 {
		add("engine.max_model_calls must be positive")
	}
	if c.Engine.TurnTimeout < 0 || c.Engine.TerminalGrace < 0 {
		add("engine timeouts must not be negative")
	}
	if c.Engine.EventBufferSize < 0 {
		add("engine.event_buffer_size must not be negative")
	}

	if c.Supervisor.MaxParallelDelegations < 1 {
		add("supervisor.max_parallel_delegations must be positive")
	}
	if c.Supervisor.DelegationTimeout <= 0 {
		add("supervisor.delegation_timeout must be positive")
	}
	if c.Supervisor.MaxHistoryMessages < 0 || c.Supervisor.ExcerptLength < 0 {
		add("supervisor history and excerpt limits must not be negative")
	}

	switch c.Session.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Session.Path == "" {
			add("session.path is required for the sqlite backend")
		}
	default:
		add("session.backend %q is not one of memory, sqlite", c.Session.Backend)
	}
	if c.Session.MaxMessages < 0 {
		add("session.max_messages must not be negative")
	}

	if c.Capabilities.RetryAttempts == 0 {
		add("capabilities.retry_attempts must be at least 1")
	}
	if k := c.Capabilities.Knowledge; k.Enabled {
		if k.Embedder != "hashing" && k.Embedder != "openai" {
			add("capabilities.knowledge.embedder %q is not one of hashing, openai", k.Embedder)
		}
		if k.TopK < 1 {
			add("capabilities.knowledge.top_k must be positive")
		}
	}

	if t := c.Tracing; t.Enabled {
		if t.Exporter != "stdout" && t.Exporter != "otlp" {
			add("tracing.exporter %q is not one of stdout, otlp", t.Exporter)
		}
		if t.Exporter == "otlp" && t.Endpoint == "" {
			add("tracing.endpoint is required for the otlp exporter")
		}
		if t.SamplingRate < 0 || t.SamplingRate > 1 {
			add("tracing.sampling_rate must be within [0, 1]")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", core.ErrConfiguration, errors.Join(errs...))
}
