package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/productshop/api/internal/platform/config"
	"github.com/productshop/api/internal/platform/events"
	pfirestore "github.com/productshop/api/internal/platform/firestore"
	"github.com/productshop/api/internal/platform/idempotency"
	"github.com/productshop/api/internal/repositories"
	firestorerepo "github.com/productshop/api/internal/repositories/firestore"
	"github.com/productshop/api/internal/repositories/memory"
	"github.com/productshop/api/internal/repositories/postgres"
	"github.com/productshop/api/internal/services"
)

const probeTimeout = 1500 * time.Millisecond

// OpenRegistry opens the storage backend named by cfg.Storage.Backend.
func OpenRegistry(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Storage.Backend {
	case config.StorageMemory, "":
		store := memory.NewStore()
		if path := strings.TrimSpace(cfg.Storage.SeedFile); path != "" {
			if err := store.LoadSeedFile(path); err != nil {
				return nil, err
			}
			logger.Info("memory store seeded", zap.String("file", path))
		}
		return store, nil

	case config.StoragePostgres:
		store, err := postgres.Open(ctx, cfg.Postgres.DSN, postgres.WithTxAttempts(cfg.Postgres.TxAttempts))
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.AutoMigrate {
			applied, err := store.Migrate(ctx)
			if err != nil {
				_ = store.Close(ctx)
				return nil, fmt.Errorf("postgres migrate: %w", err)
			}
			logger.Info("postgres migrations applied", zap.Strings("files", applied))
		}
		return store, nil

	case config.StorageFirestore:
		store, err := firestorerepo.NewStore(newFirestoreProvider(cfg), pfirestore.WithTxTimeout(cfg.Server.RequestTimeout))
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// NewEventPublisher returns the publisher named by cfg.Events.Backend, or nil when events are
// disabled.
func NewEventPublisher(ctx context.Context, cfg config.Config) (services.OrderEventPublisher, error) {
	switch cfg.Events.Backend {
	case config.EventsNone, "":
		return nil, nil

	case config.EventsPubSub:
		projectID := cfg.Firestore.ProjectID
		if projectID == "" {
			projectID = cfg.Firebase.ProjectID
		}
		client, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		publisher, err := events.NewPubSubPublisher(client.Topic(cfg.Events.PubSubTopic))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &pubsubPublisher{PubSubPublisher: publisher, client: client}, nil

	case config.EventsKafka:
		publisher, err := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		if err != nil {
			return nil, err
		}
		return publisher, nil

	case config.EventsAMQP:
		publisher, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.AMQPExchange)
		if err != nil {
			return nil, err
		}
		return publisher, nil
	}
	return nil, fmt.Errorf("unknown events backend %q", cfg.Events.Backend)
}

type pubsubPublisher struct {
	*events.PubSubPublisher
	client *pubsub.Client
}

func (p *pubsubPublisher) Close() error {
	return errors.Join(p.PubSubPublisher.Close(), p.client.Close())
}

// Idempotency is the configured replay store with its readiness probe.
type Idempotency struct {
	Store idempotency.Store
	Check *repositories.DependencyCheck
	close func(context.Context) error
}

func (i Idempotency) Close(ctx context.Context) error {
	if i.close == nil {
		return nil
	}
	return i.close(ctx)
}

// NewIdempotency builds the store named by cfg.Idempotency.Backend.
func NewIdempotency(cfg config.Config) (Idempotency, error) {
	switch cfg.Idempotency.Backend {
	case "memory", "":
		return Idempotency{Store: idempotency.NewMemoryStore()}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return Idempotency{
			Store: idempotency.NewRedisStore(client),
			Check: &repositories.DependencyCheck{
				Name:    "redis",
				Timeout: probeTimeout,
				Check: func(ctx context.Context) error {
					return client.Ping(ctx).Err()
				},
			},
			close: func(context.Context) error { return client.Close() },
		}, nil

	case "firestore":
		provider := newFirestoreProvider(cfg)
		return Idempotency{
			Store: idempotency.NewFirestoreStore(provider, ""),
			close: provider.Close,
		}, nil
	}
	return Idempotency{}, fmt.Errorf("unknown idempotency backend %q", cfg.Idempotency.Backend)
}

// newFirestoreProvider bounds the lazy dial by the request timeout, since the first request pays for it.
func newFirestoreProvider(cfg config.Config) *pfirestore.Provider {
	return pfirestore.NewProvider(cfg.Firestore, pfirestore.WithDialTimeout(cfg.Server.RequestTimeout))
}
