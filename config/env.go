package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hupe1980/concierge/core"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONCIERGE_"

// LoadDotEnv loads the given .env files, or ./.env when none are given.
// Missing files are skipped and variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("%w: load %s: %w", core.ErrConfiguration, p, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from CONCIERGE_* variables. Unparsable values
// keep the current setting.
func (c *Config) ApplyEnv() {
	c.Server.Addr = getEnv("ADDR", c.Server.Addr)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.Model.Provider = getEnv("MODEL_PROVIDER", c.Model.Provider)
	c.Model.Name = getEnv("MODEL_NAME", c.Model.Name)
	c.Model.APIKey = getEnv("MODEL_API_KEY", c.Model.APIKey)
	c.Model.BaseURL = getEnv("MODEL_BASE_URL", c.Model.BaseURL)

	c.Engine.MaxConcurrentTurns = getEnvInt("MAX_CONCURRENT_TURNS", c.Engine.MaxConcurrentTurns)
	c.Engine.TurnTimeout = getEnvDuration("TURN_TIMEOUT", c.Engine.TurnTimeout)
	c.Engine.MaxMessageLength = getEnvInt("MAX_MESSAGE_LENGTH", c.Engine.MaxMessageLength)

	c.Supervisor.DelegationTimeout = getEnvDuration("DELEGATION_TIMEOUT", c.Supervisor.DelegationTimeout)
	c.Supervisor.Stream = getEnvBool("STREAM", c.Supervisor.Stream)

	c.Session.Backend = getEnv("SESSION_BACKEND", c.Session.Backend)
	c.Session.Path = getEnv("SESSION_PATH", c.Session.Path)
	c.Session.MaxMessages = getEnvInt("SESSION_MAX_MESSAGES", c.Session.MaxMessages)

	c.Tracing.Enabled = getEnvBool("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.Exporter = getEnv("TRACING_EXPORTER", c.Tracing.Exporter)
	c.Tracing.Endpoint = getEnv("TRACING_ENDPOINT", c.Tracing.Endpoint)

	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
