// Package config reads the staffsync configuration from environment
// variables, with an optional .env file.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/retry"
)

type Config struct {
	// AppID is sent as the AMQP app id and prefixes correlation ids.
	AppID    string
	LogLevel string

	// MySQLDSN must enable parseTime, e.g. "user:pass@tcp(host:3306)/db?parseTime=true".
	MySQLDSN             string
	MySQLMaxConnections  int
	MySQLConnMaxLifetime time.Duration
	MySQLConnMaxIdleTime time.Duration
	MySQLConnectTimeout  time.Duration

	AMQPUser           string
	AMQPPassword       string
	AMQPHost           string
	AMQPConnectTimeout time.Duration
	AMQPExchange       string
	AMQPQueue          string
	AMQPRetryQueue     string
	AMQPPrefetch       int

	PublisherWorkers      int
	PublisherBatchSize    int
	PublisherPollInterval time.Duration
	PublisherTimeout      time.Duration

	OutboxMaxAttempts     int
	OutboxRetryBase       time.Duration
	OutboxRetryMax        time.Duration
	OutboxClaimLease      time.Duration
	OutboxRetention       time.Duration
	OutboxJanitorInterval time.Duration

	ConsumerWorkers        int
	ConsumerMaxAttempts    int
	ConsumerRetryBase      time.Duration
	ConsumerRetryMax       time.Duration
	ConsumerProcessTimeout time.Duration

	// RetryJitter randomizes both retry policies by ±RetryJitter.
	RetryJitter float64

	// MetricsAddr is where /metrics is served; empty disables it.
	MetricsAddr string
}

func Load() *Config {
	loadDotEnv()

	return &Config{
		AppID:    env.GetString("APP_ID", "staffsync"),
		LogLevel: env.GetString("LOG_LEVEL", "info"),

		MySQLDSN:             env.GetString("MYSQL_DSN", "staffsync:staffsync@tcp(localhost:3306)/staffsync?parseTime=true"),
		MySQLMaxConnections:  env.GetInt("MYSQL_MAX_CONNECTIONS", 20),
		MySQLConnMaxLifetime: env.GetDuration("MYSQL_CONN_MAX_LIFETIME_MINUTES", 10, time.Minute),
		MySQLConnMaxIdleTime: env.GetDuration("MYSQL_CONN_MAX_IDLE_MINUTES", 5, time.Minute),
		MySQLConnectTimeout:  env.GetDuration("MYSQL_CONNECT_TIMEOUT_SECONDS", 30, time.Second),

		AMQPUser:           env.GetString("AMQP_USER", "guest"),
		AMQPPassword:       env.GetString("AMQP_PASSWORD", "guest"),
		AMQPHost:           env.GetString("AMQP_HOST", "localhost:5672"),
		AMQPConnectTimeout: env.GetDuration("AMQP_CONNECT_TIMEOUT_SECONDS", 60, time.Second),
		AMQPExchange:       env.GetString("AMQP_EXCHANGE", "staffsync.events"),
		AMQPQueue:          env.GetString("AMQP_QUEUE", "staffsync.employee"),
		AMQPRetryQueue:     env.GetString("AMQP_RETRY_QUEUE", "staffsync.employee.retry"),
		AMQPPrefetch:       env.GetInt("AMQP_PREFETCH", 16),

		PublisherWorkers:      env.GetInt("PUBLISHER_WORKERS", 2),
		PublisherBatchSize:    env.GetInt("PUBLISHER_BATCH_SIZE", 100),
		PublisherPollInterval: env.GetDuration("PUBLISHER_POLL_INTERVAL_MS", 500, time.Millisecond),
		PublisherTimeout:      env.GetDuration("PUBLISHER_TIMEOUT_SECONDS", 10, time.Second),

		OutboxMaxAttempts:     env.GetInt("OUTBOX_MAX_ATTEMPTS", 10),
		OutboxRetryBase:       env.GetDuration("OUTBOX_RETRY_BASE_MS", 500, time.Millisecond),
		OutboxRetryMax:        env.GetDuration("OUTBOX_RETRY_MAX_SECONDS", 300, time.Second),
		OutboxClaimLease:      env.GetDuration("OUTBOX_CLAIM_LEASE_SECONDS", 60, time.Second),
		OutboxRetention:       env.GetDuration("OUTBOX_RETENTION_HOURS", 72, time.Hour),
		OutboxJanitorInterval: env.GetDuration("OUTBOX_JANITOR_INTERVAL_SECONDS", 60, time.Second),

		ConsumerWorkers:        env.GetInt("CONSUMER_WORKERS", 4),
		ConsumerMaxAttempts:    env.GetInt("CONSUMER_MAX_ATTEMPTS", 5),
		ConsumerRetryBase:      env.GetDuration("CONSUMER_RETRY_BASE_MS", 1000, time.Millisecond),
		ConsumerRetryMax:       env.GetDuration("CONSUMER_RETRY_MAX_SECONDS", 300, time.Second),
		ConsumerProcessTimeout: env.GetDuration("CONSUMER_PROCESS_TIMEOUT_SECONDS", 30, time.Second),

		RetryJitter: env.GetFloat64("RETRY_JITTER", 0.2),

		MetricsAddr: env.GetString("METRICS_ADDR", ":9090"),
	}
}

func (c *Config) OutboxPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.OutboxMaxAttempts,
		BaseDelay:   c.OutboxRetryBase,
		MaxDelay:    c.OutboxRetryMax,
		Jitter:      c.RetryJitter,
	}
}

func (c *Config) ConsumerPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.ConsumerMaxAttempts,
		BaseDelay:   c.ConsumerRetryBase,
		MaxDelay:    c.ConsumerRetryMax,
		Jitter:      c.RetryJitter,
	}
}

// loadDotEnv loads the nearest .env file found walking up from the working
// directory.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
