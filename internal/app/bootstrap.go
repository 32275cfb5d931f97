package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"

	"featureworker/internal/config"
	"featureworker/internal/queue"
)

type Dependencies struct {
	DB        *sql.DB
	Transport queue.Transport

	NSQProducer *nsq.Producer
	NSQConsumer *nsq.Consumer
	Redis       *redis.Client
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db, cfg.MigrationPath); err != nil {
		db.Close()
		return nil, err
	}

	deps := &Dependencies{DB: db}
	if err := deps.openTransport(ctx, cfg); err != nil {
		deps.Close()
		return nil, err
	}
	return deps, nil
}

// OpenDatabase connects to Postgres, retrying the ping with a constant delay.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := PingWithRetry(ctx, db, cfg.BootstrapRetryAttempts, time.Duration(cfg.BootstrapRetryDelaySeconds)*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingWithRetry pings up to attempts times, waiting delay between tries.
func PingWithRetry(ctx context.Context, db Pinger, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return db.PingContext(ctx)
	}, b, func(err error, _ time.Duration) {
		slog.Warn("failed to ping db, retrying...", "attempt", attempt, "max_attempts", attempts, "error", err)
	})
}

func Migrate(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied successfully")
	return nil
}

func (d *Dependencies) openTransport(ctx context.Context, cfg *config.Config) error {
	switch cfg.Transport {
	case config.TransportMemory:
		d.Transport = queue.NewMemoryTransport(cfg.LeaseDuration)

	case config.TransportRedis:
		d.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping error: %w", err)
		}
		d.Transport = queue.NewRedisTransport(d.Redis, cfg.RedisPrefix, cfg.LeaseDuration)

	case config.TransportNSQ:
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("nsq producer error: %w", err)
		}
		d.NSQProducer = producer

		transport := queue.NewNSQTransport(config.TopicFeature, producer, cfg.LeaseDuration)

		consumerCfg := nsq.NewConfig()
		// The pool leases at most one message per slot.
		consumerCfg.MaxInFlight = cfg.WorkerConcurrency
		consumerCfg.MsgTimeout = cfg.LeaseDuration
		// Attempts are counted in the envelope, not by nsqd.
		consumerCfg.MaxAttempts = 0
		consumer, err := nsq.NewConsumer(config.TopicFeature, config.ChannelFeatureWorker, consumerCfg)
		if err != nil {
			return fmt.Errorf("nsq consumer error: %w", err)
		}
		consumer.SetLoggerLevel(nsq.LogLevelWarning)
		consumer.AddHandler(transport)
		d.NSQConsumer = consumer
		d.Transport = transport

		createTopics(ctx, cfg.NSQDHTTP)

	default:
		return fmt.Errorf("%w: TRANSPORT %q", config.ErrInvalid, cfg.Transport)
	}
	return nil
}

// StartConsuming connects the NSQ consumer. Other transports pull on Lease and
// need nothing here.
func (d *Dependencies) StartConsuming(cfg *config.Config) error {
	if d.NSQConsumer == nil {
		return nil
	}
	if cfg.NSQLookupd != "" {
		if err := d.NSQConsumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			return fmt.Errorf("failed to connect to NSQLookupd: %w", err)
		}
	} else if err := d.NSQConsumer.ConnectToNSQD(cfg.NSQDHost); err != nil {
		return fmt.Errorf("failed to connect to nsqd: %w", err)
	}
	slog.Info("NSQ consumer connected", "topic", config.TopicFeature, "channel", config.ChannelFeatureWorker)
	return nil
}

// Close releases everything Bootstrap opened. The transport closes before the
// consumer stops so a handler blocked on delivery requeues its message.
func (d *Dependencies) Close() {
	if d.Transport != nil {
		if err := d.Transport.Close(); err != nil {
			slog.Warn("failed to close transport", "error", err)
		}
	}
	if d.NSQConsumer != nil {
		d.NSQConsumer.Stop()
		<-d.NSQConsumer.StopChan
	}
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

// createTopics makes sure the feature topic exists so consumers looking it up
// through nsqlookupd do not fail before the first publish.
func createTopics(ctx context.Context, nsqdHTTP string) {
	if nsqdHTTP == "" {
		return
	}
	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, config.TopicFeature)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		slog.Warn("failed to build NSQ topic request", "topic", config.TopicFeature, "error", err)
		return
	}
	resp, err := client.Do(req) // #nosec G107 -- URL is built from internal NSQ config, not user input
	if err != nil {
		slog.Warn("failed to create NSQ topic", "topic", config.TopicFeature, "error", err)
		return
	}
	if closeErr := resp.Body.Close(); closeErr != nil {
		slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
	}
}
