package driftq

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envconfigPrefix = "DRIFTQ"

// environment mirrors the DRIFTQ_* variables onto Config fields.
type environment struct {
	BaseURL          string        `envconfig:"BASE_URL" required:"true"`
	Timeout          time.Duration `envconfig:"TIMEOUT"`
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY"`
	RetryMaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY"`
	TracingDisabled  bool          `envconfig:"TRACING_DISABLED"`
	UserAgent        string        `envconfig:"USER_AGENT"`
	LogLevel         string        `envconfig:"LOG_LEVEL"`
}

// ConfigFromEnv builds a Config from DRIFTQ_* environment variables.
// DRIFTQ_BASE_URL is required; everything else falls back to the Dial
// defaults.
func ConfigFromEnv() (Config, error) {
	var e environment
	if err := envconfig.Process(envconfigPrefix, &e); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BaseURL: e.BaseURL,
		Timeout: e.Timeout,
		Retry: RetryConfig{
			MaxAttempts: e.RetryMaxAttempts,
			BaseDelay:   e.RetryBaseDelay,
			MaxDelay:    e.RetryMaxDelay,
		},
		Tracing:   TracingConfig{Disable: e.TracingDisabled},
		UserAgent: e.UserAgent,
	}

	if e.LogLevel != "" {
		cfg.Logger = NewLogger(e.LogLevel)
	}

	return cfg, nil
}
