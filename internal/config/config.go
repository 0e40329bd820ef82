package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

const minDispatchInterval = 2 * time.Second

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	// Collaborator services.
	LetterStoreURL string `env:"LETTER_STORE_URL,required=true"`
	DirectoryURL   string `env:"DIRECTORY_URL,required=true"`

	// Dispatch loop.
	WorkerConcurrency  int `env:"WORKER_CONCURRENCY,default=16"`
	DispatchIntervalMs int `env:"DISPATCH_INTERVAL_MS,default=5000"`
	DispatchBatchLimit int `env:"DISPATCH_BATCH_LIMIT,default=50"`
	DispatchTimeoutMs  int `env:"DISPATCH_TIMEOUT_MS,default=15000"`
	RateLimitPerSec    int `env:"RATE_LIMIT_PER_SEC,default=100"`

	// Retry policy.
	BaseRetryDelayMs  int `env:"BASE_RETRY_DELAY_MS,default=1000"`
	MaxRetryDelayMs   int `env:"MAX_RETRY_DELAY_MS,default=3600000"`
	DefaultMaxRetries int `env:"DEFAULT_MAX_RETRIES,default=3"`

	// Monitoring loop.
	MonitorIntervalMs    int     `env:"MONITOR_INTERVAL_MS,default=60000"`
	ConfirmationWindowMs int     `env:"CONFIRMATION_WINDOW_MS,default=86400000"`
	StallThresholdMs     int     `env:"STALL_THRESHOLD_MS,default=600000"`
	FailureRateThreshold float64 `env:"FAILURE_RATE_THRESHOLD,default=0.5"`
	FailureRateWindowMs  int     `env:"FAILURE_RATE_WINDOW_MS,default=3600000"`
	FailureRateMinSample int     `env:"FAILURE_RATE_MIN_SAMPLE,default=10"`
	AutoRetryStale       bool    `env:"AUTO_RETRY_STALE,default=false"`

	// Inbound confirmation webhook signing secret. Empty disables
	// verification (local development only).
	WebhookSecret string `env:"WEBHOOK_SECRET,default="`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// DispatchInterval returns the scheduler polling interval, floored so a
// misconfigured value cannot hot-loop the claim query.
func (c *Config) DispatchInterval() time.Duration {
	interval := time.Duration(c.DispatchIntervalMs) * time.Millisecond
	if interval < minDispatchInterval {
		return minDispatchInterval
	}
	return interval
}

func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutMs) * time.Millisecond
}

func (c *Config) BaseRetryDelay() time.Duration {
	return time.Duration(c.BaseRetryDelayMs) * time.Millisecond
}

func (c *Config) MaxRetryDelay() time.Duration {
	return time.Duration(c.MaxRetryDelayMs) * time.Millisecond
}

func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalMs) * time.Millisecond
}

func (c *Config) ConfirmationWindow() time.Duration {
	return time.Duration(c.ConfirmationWindowMs) * time.Millisecond
}

func (c *Config) StallThreshold() time.Duration {
	return time.Duration(c.StallThresholdMs) * time.Millisecond
}

func (c *Config) FailureRateWindow() time.Duration {
	return time.Duration(c.FailureRateWindowMs) * time.Millisecond
}
