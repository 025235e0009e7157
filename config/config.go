// Package config loads service configuration from the environment.
//
// Values are read from process environment variables. A .env file in the
// working directory is loaded first when present; variables already set in
// the environment take precedence over the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration for the budget proxy service.
type Config struct {
	Service   ServiceConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
	Profiling ProfilingConfig
	Upstream  UpstreamConfig
	Timeouts  TimeoutConfig
	Shutdown  ShutdownConfig
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name    string
	Version string
	Env     string
	Port    string
}

// LoggingConfig controls the global zerolog logger.
type LoggingConfig struct {
	Level string
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
}

// ProfilingConfig controls continuous profiling with Pyroscope.
type ProfilingConfig struct {
	Enabled  bool
	Endpoint string
}

// UpstreamConfig describes the BudgetBakers web application whose login
// flow is replayed, and the default credentials used for implicit sessions.
type UpstreamConfig struct {
	BaseURL  string
	Locale   string
	Email    string
	Password string
}

// TimeoutConfig holds duration strings for outbound calls.
type TimeoutConfig struct {
	HandshakeStep  string
	StoreOperation string
}

// ShutdownConfig holds duration strings for graceful shutdown.
type ShutdownConfig struct {
	Timeout             string
	ReadinessDrainDelay string
}

const (
	defaultBaseURL          = "https://web-new.budgetbakers.com"
	defaultLocale           = "es-ES"
	defaultHandshakeTimeout = 15 * time.Second
	defaultStoreTimeout     = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
)

// Load reads configuration from the environment, loading .env first if it exists.
func Load() *Config {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	return &Config{
		Service: ServiceConfig{
			Name:    getEnv("SERVICE_NAME", "budget-proxy"),
			Version: getEnv("SERVICE_VERSION", "dev"),
			Env:     getEnv("ENV", "development"),
			Port:    getEnv("PORT", "3000"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Enabled:    getEnvBool("TRACING_ENABLED", false),
			Endpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			SampleRate: getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Profiling: ProfilingConfig{
			Enabled:  getEnvBool("PROFILING_ENABLED", false),
			Endpoint: getEnv("PYROSCOPE_SERVER_ADDRESS", "http://localhost:4040"),
		},
		Upstream: UpstreamConfig{
			BaseURL:  strings.TrimRight(getEnv("BUDGETBAKERS_API_URL", defaultBaseURL), "/"),
			Locale:   getEnv("BUDGETBAKERS_LOCALE", defaultLocale),
			Email:    os.Getenv("BUDGETBAKERS_EMAIL"),
			Password: os.Getenv("BUDGETBAKERS_PASSWORD"),
		},
		Timeouts: TimeoutConfig{
			HandshakeStep:  getEnv("HANDSHAKE_STEP_TIMEOUT", defaultHandshakeTimeout.String()),
			StoreOperation: getEnv("STORE_OPERATION_TIMEOUT", defaultStoreTimeout.String()),
		},
		Shutdown: ShutdownConfig{
			Timeout:             getEnv("SHUTDOWN_TIMEOUT", defaultShutdownTimeout.String()),
			ReadinessDrainDelay: getEnv("READINESS_DRAIN_DELAY", "0s"),
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Service.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	} else if _, err := strconv.Atoi(c.Service.Port); err != nil {
		errs = append(errs, fmt.Errorf("PORT %q is not a number", c.Service.Port))
	}

	if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("BUDGETBAKERS_API_URL %q is not an absolute URL", c.Upstream.BaseURL))
	}
	if c.Upstream.Locale == "" {
		errs = append(errs, errors.New("BUDGETBAKERS_LOCALE must not be empty"))
	}
	if (c.Upstream.Email == "") != (c.Upstream.Password == "") {
		errs = append(errs, errors.New("BUDGETBAKERS_EMAIL and BUDGETBAKERS_PASSWORD must be set together"))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("TRACING_SAMPLE_RATE %v must be within [0, 1]", c.Tracing.SampleRate))
	}

	for name, value := range map[string]string{
		"HANDSHAKE_STEP_TIMEOUT":  c.Timeouts.HandshakeStep,
		"STORE_OPERATION_TIMEOUT": c.Timeouts.StoreOperation,
		"SHUTDOWN_TIMEOUT":        c.Shutdown.Timeout,
		"READINESS_DRAIN_DELAY":   c.Shutdown.ReadinessDrainDelay,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", name, value, err))
			continue
		}
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	return errors.Join(errs...)
}

// HasDefaultCredentials reports whether implicit sessions can be established.
func (c *Config) HasDefaultCredentials() bool {
	return c.Upstream.Email != "" && c.Upstream.Password != ""
}

// GetHandshakeStepTimeoutDuration returns the per-step handshake timeout.
func (c *Config) GetHandshakeStepTimeoutDuration() time.Duration {
	return parseDuration(c.Timeouts.HandshakeStep, defaultHandshakeTimeout)
}

// GetStoreOperationTimeoutDuration returns the per-operation document store timeout.
func (c *Config) GetStoreOperationTimeoutDuration() time.Duration {
	return parseDuration(c.Timeouts.StoreOperation, defaultStoreTimeout)
}

// GetShutdownTimeoutDuration returns the graceful shutdown timeout.
func (c *Config) GetShutdownTimeoutDuration() time.Duration {
	return parseDuration(c.Shutdown.Timeout, defaultShutdownTimeout)
}

// GetReadinessDrainDelayDuration returns how long /ready reports 503 before
// the HTTP server stops accepting connections.
func (c *Config) GetReadinessDrainDelayDuration() time.Duration {
	return parseDuration(c.Shutdown.ReadinessDrainDelay, 0)
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}
