// Package bootstrap builds the process-wide dependencies shared by the
// api, worker and schedctl binaries.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/care-scheduling-api/config"
	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/internal/repository"
	"github.com/jwalitptl/care-scheduling-api/internal/repository/memory"
	"github.com/jwalitptl/care-scheduling-api/internal/repository/postgres"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
	"github.com/jwalitptl/care-scheduling-api/pkg/messaging"
	"github.com/jwalitptl/care-scheduling-api/pkg/messaging/kafka"
	"github.com/jwalitptl/care-scheduling-api/pkg/messaging/rabbitmq"
	"github.com/jwalitptl/care-scheduling-api/pkg/messaging/redis"
	"github.com/jwalitptl/care-scheduling-api/pkg/metrics"
	"github.com/jwalitptl/care-scheduling-api/pkg/ratelimit"
	"github.com/jwalitptl/care-scheduling-api/pkg/tracing"
	"github.com/jwalitptl/care-scheduling-api/pkg/worker"
)

func NewLogger(cfg config.LogConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Console:    cfg.Console,
	})
}

// OpenStore returns the configured store and a function releasing it.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (repository.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		store := memory.NewStore()
		for _, u := range cfg.DevUsers {
			user, err := devUser(u)
			if err != nil {
				return nil, nil, err
			}
			store.AddUser(user)
		}
		log.Warn("using in-memory store, data is lost on exit", "users", len(cfg.DevUsers))
		return store, func() {}, nil
	case "postgres":
		if cfg.AutoMigrate {
			if err := Migrate(ctx, cfg, log); err != nil {
				return nil, nil, err
			}
		}
		db, err := postgres.NewDB(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(db), func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Migrate brings the postgres schema up to date on a dedicated connection.
func Migrate(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) error {
	m, err := OpenMigrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		return err
	}
	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	log.Info("database schema up to date", "version", version, "dirty", dirty)
	return nil
}

func OpenMigrator(ctx context.Context, cfg config.DatabaseConfig) (*postgres.Migrator, error) {
	db, err := postgres.NewDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m, err := postgres.NewMigrator(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func devUser(u config.DevUser) (model.User, error) {
	id, err := uuid.Parse(u.ID)
	if err != nil {
		return model.User{}, fmt.Errorf("dev user %q: invalid id: %w", u.Email, err)
	}
	role := model.Role(u.Role)
	if !role.Valid() {
		return model.User{}, fmt.Errorf("dev user %q: invalid role %q", u.Email, u.Role)
	}
	now := time.Now()
	return model.User{
		Base:  model.Base{ID: id, CreatedAt: now, UpdatedAt: now},
		Email: u.Email,
		Name:  u.Name,
		Role:  role,
	}, nil
}

// NewPublisher connects the broker the outbox relay publishes to. The
// returned function closes the publisher and any client it opened.
func NewPublisher(ctx context.Context, cfg *config.Config, log *logger.Logger) (messaging.Publisher, func(), error) {
	switch cfg.Events.Broker {
	case "redis":
		client, err := ratelimit.NewRedisClient(ctx, cfg.Redis.URL, cfg.Redis.PoolSize)
		if err != nil {
			return nil, nil, err
		}
		p := redis.NewPublisher(client, redis.Config{Prefix: cfg.Events.TopicPrefix}, log)
		return p, func() { p.Close(); client.Close() }, nil
	case "kafka":
		p, err := kafka.NewPublisher(kafka.Config{
			Brokers:     cfg.Events.KafkaBrokers,
			TopicPrefix: cfg.Events.TopicPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil
	case "rabbitmq":
		p, err := rabbitmq.NewPublisher(cfg.Events.RabbitMQURL, cfg.Events.Exchange, log)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil
	default:
		return messaging.NewLogPublisher(log), func() {}, nil
	}
}

// SetupTracing installs the tracer provider for service.
func SetupTracing(ctx context.Context, cfg config.TracingConfig, service string) (func(context.Context) error, error) {
	name := cfg.ServiceName
	if service != "" {
		name = name + "-" + service
	}
	return tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Enabled,
		ServiceName: name,
		Endpoint:    cfg.Endpoint,
		SampleRatio: cfg.SampleRatio,
	})
}

// StartWorkers runs housekeeping and, when a broker is configured, the
// outbox relay until ctx is cancelled. The returned function waits for
// both loops to stop and closes the broker.
func StartWorkers(ctx context.Context, cfg *config.Config, store repository.Store, loc *time.Location, log *logger.Logger, m *metrics.Metrics) (func(), error) {
	var relay *worker.OutboxProcessor
	closePublisher := func() {}
	if cfg.Events.Broker != "none" {
		publisher, closeFn, err := NewPublisher(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect events broker: %w", err)
		}
		closePublisher = closeFn
		relay = worker.NewOutboxProcessor(store, publisher, worker.OutboxConfig{
			Interval:    cfg.Events.RelayInterval,
			BatchSize:   cfg.Events.BatchSize,
			MaxAttempts: cfg.Events.MaxAttempts,
		}, log, m)
	}

	housekeeping := worker.NewHousekeepingProcessor(store, worker.HousekeepingConfig{
		Interval:        cfg.Worker.Interval,
		Location:        loc,
		OutboxRetention: cfg.Events.Retention,
	}, log, m)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		housekeeping.Start(ctx)
	}()
	if relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Start(ctx)
		}()
	}

	return func() {
		wg.Wait()
		closePublisher()
	}, nil
}
