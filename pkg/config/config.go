package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the supervisor configuration
type Config struct {
	Server       ServerConfig       `json:"server"`
	Breaker      BreakerConfig      `json:"breaker"`
	Retry        RetryConfig        `json:"retry"`
	Probe        ProbeConfig        `json:"probe"`
	Alerts       AlertsConfig       `json:"alerts"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Logging      LoggingConfig      `json:"logging"`
	Tracing      TracingConfig      `json:"tracing"`
}

// ServerConfig contains the status API server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// BreakerConfig contains circuit breaker defaults applied to every dependency
type BreakerConfig struct {
	FailureRateThreshold float64       `json:"failure_rate_threshold"`
	SlidingWindowSize    int           `json:"sliding_window_size"`
	MinimumCalls         int           `json:"minimum_calls"`
	OpenDuration         time.Duration `json:"open_duration"`
	HalfOpenMaxCalls     int           `json:"half_open_max_calls"`
}

// RetryConfig contains guarded client retry configuration
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	BackoffBase time.Duration `json:"backoff_base"`
	BackoffMax  time.Duration `json:"backoff_max"`
	CallTimeout time.Duration `json:"call_timeout"`
}

// ProbeConfig contains supervisor probe loop configuration
type ProbeConfig struct {
	Interval         time.Duration `json:"interval"`
	Timeout          time.Duration `json:"timeout"`
	Concurrency      int           `json:"concurrency"`
	DownThreshold    int           `json:"down_threshold"`
	CooldownDuration time.Duration `json:"cooldown_duration"`
	EscalationWindow time.Duration `json:"escalation_window"`
	EscalationMax    int           `json:"escalation_max"`
	TargetsFile      string        `json:"targets_file"`
}

// AlertsConfig contains alert evaluation configuration
type AlertsConfig struct {
	RulesFile          string        `json:"rules_file"`
	EvaluationInterval time.Duration `json:"evaluation_interval"`
	PrometheusURL      string        `json:"prometheus_url"`
	SlackWebhookURL    string        `json:"slack_webhook_url"`
	WebhookURL         string        `json:"webhook_url"`
}

// OrchestratorConfig selects the recovery action collaborator
type OrchestratorConfig struct {
	Kind     string        `json:"kind"` // "docker" or "http"
	Endpoint string        `json:"endpoint"`
	Timeout  time.Duration `json:"timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// Load loads configuration from environment variables with sensible defaults.
// A .env file in the working directory is picked up when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8090),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Breaker: BreakerConfig{
			FailureRateThreshold: getEnvFloat("BREAKER_FAILURE_RATE_THRESHOLD", 0.5),
			SlidingWindowSize:    getEnvInt("BREAKER_SLIDING_WINDOW_SIZE", 10),
			MinimumCalls:         getEnvInt("BREAKER_MINIMUM_CALLS", 5),
			OpenDuration:         getEnvDuration("BREAKER_OPEN_DURATION", 10*time.Second),
			HalfOpenMaxCalls:     getEnvInt("BREAKER_HALF_OPEN_MAX_CALLS", 1),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			BackoffBase: getEnvDuration("RETRY_BACKOFF_BASE", 100*time.Millisecond),
			BackoffMax:  getEnvDuration("RETRY_BACKOFF_MAX", 5*time.Second),
			CallTimeout: getEnvDuration("RETRY_CALL_TIMEOUT", 5*time.Second),
		},
		Probe: ProbeConfig{
			Interval:         getEnvDuration("PROBE_INTERVAL", 30*time.Second),
			Timeout:          getEnvDuration("PROBE_TIMEOUT", 5*time.Second),
			Concurrency:      getEnvInt("PROBE_CONCURRENCY", 8),
			DownThreshold:    getEnvInt("PROBE_DOWN_THRESHOLD", 1),
			CooldownDuration: getEnvDuration("PROBE_COOLDOWN_DURATION", 60*time.Second),
			EscalationWindow: getEnvDuration("PROBE_ESCALATION_WINDOW", 10*time.Minute),
			EscalationMax:    getEnvInt("PROBE_ESCALATION_MAX", 3),
			TargetsFile:      getEnvString("PROBE_TARGETS_FILE", "targets.json"),
		},
		Alerts: AlertsConfig{
			RulesFile:          getEnvString("ALERT_RULES_FILE", ""),
			EvaluationInterval: getEnvDuration("ALERT_EVALUATION_INTERVAL", 30*time.Second),
			PrometheusURL:      getEnvString("ALERT_PROMETHEUS_URL", ""),
			SlackWebhookURL:    getEnvString("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:         getEnvString("ALERT_WEBHOOK_URL", ""),
		},
		Orchestrator: OrchestratorConfig{
			Kind:     getEnvString("ORCHESTRATOR_KIND", "docker"),
			Endpoint: getEnvString("ORCHESTRATOR_ENDPOINT", ""),
			Timeout:  getEnvDuration("ORCHESTRATOR_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Breaker.FailureRateThreshold <= 0 || c.Breaker.FailureRateThreshold > 1 {
		return fmt.Errorf("breaker failure rate threshold must be in (0, 1]")
	}

	if c.Breaker.MinimumCalls > c.Breaker.SlidingWindowSize {
		return fmt.Errorf("breaker minimum calls cannot exceed the sliding window size")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}

	if c.Probe.Interval <= 0 {
		return fmt.Errorf("probe interval must be positive")
	}

	if c.Probe.Concurrency < 1 {
		return fmt.Errorf("probe concurrency must be at least 1")
	}

	if c.Orchestrator.Kind == "http" && c.Orchestrator.Endpoint == "" {
		return fmt.Errorf("http orchestrator requires an endpoint")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
