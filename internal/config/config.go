package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"features"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"features"`

	// Transport selects the queue backend: memory, nsq or redis.
	Transport string `envconfig:"TRANSPORT" default:"nsq"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"redis:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"feature"`

	// Worker
	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"5"`
	RateLimitMax      int           `envconfig:"RATE_LIMIT_MAX" default:"100"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	MaxAttempts       int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	BackoffBase       time.Duration `envconfig:"BACKOFF_BASE" default:"1s"`
	BackoffMax        time.Duration `envconfig:"BACKOFF_MAX" default:"0s"`
	LeaseDuration     time.Duration `envconfig:"LEASE_DURATION" default:"90s"`
	EventBuffer       int           `envconfig:"EVENT_BUFFER" default:"1024"`

	// Server
	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win over .env files.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.Transport {
	case TransportMemory:
	case TransportNSQ:
		if c.NSQDHost == "" {
			return fmt.Errorf("%w: NSQD_HOST", ErrMissingRequired)
		}
	case TransportRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: REDIS_ADDR", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: TRANSPORT %q", ErrInvalid, c.Transport)
	}

	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("%w: WORKER_CONCURRENCY must be positive", ErrInvalid)
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("%w: RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive", ErrInvalid)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%w: MAX_ATTEMPTS must be positive", ErrInvalid)
	}
	// A leased job may wait up to one full window for a rate slot before it starts.
	if c.LeaseDuration <= c.RateLimitWindow {
		return fmt.Errorf("%w: LEASE_DURATION must exceed RATE_LIMIT_WINDOW", ErrInvalid)
	}
	return nil
}
