package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/omnisync/internal/config"
	"github.com/prudhvinik1/omnisync/internal/database"
	"github.com/prudhvinik1/omnisync/internal/logging"
	"github.com/prudhvinik1/omnisync/internal/repositories"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// backend owns the storage connections and hands out one change store per
// resource type.
type backend struct {
	kind     string
	pool     *pgxpool.Pool
	mongo    *mongo.Client
	mongoDB  *repositories.MongoDatabase
	redis    *redis.Client
	memory   map[string]*repositories.MemoryChangeStore
	activity repositories.SyncActivityRepository
}

func openBackend(ctx context.Context, cfg *config.Config, logger logging.Logger) (_ *backend, err error) {
	b := &backend{kind: cfg.StoreBackend}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	// Redis also carries sync activity whenever it is configured.
	if cfg.RedisURL != "" {
		b.redis, err = database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		b.activity = repositories.NewRedisSyncActivityRepository(b.redis, cfg.ActivityTTL())
	} else {
		b.activity = repositories.NewMemorySyncActivityRepository()
	}

	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn(ctx, "using in-memory store, data is lost on restart")
		b.memory = make(map[string]*repositories.MemoryChangeStore)

	case config.BackendPostgres:
		if cfg.RunMigrations {
			if err = repositories.RunMigrations(cfg.DatabaseURL); err != nil {
				return nil, err
			}
			logger.Info(ctx, "postgres migrations applied")
		}
		b.pool, err = database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}

	case config.BackendMongo:
		b.mongo, err = database.NewMongoClient(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("failed to create mongo client: %w", err)
		}
		b.mongoDB = repositories.NewMongoDatabase(b.mongo.Database(cfg.MongoDatabase))
		if err = b.mongoDB.EnsureIndexes(ctx, cfg.Resources()); err != nil {
			return nil, err
		}

	case config.BackendRedis:
		// client opened above

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	return b, nil
}

func (b *backend) Store(resource string) repositories.ChangeStore {
	switch b.kind {
	case config.BackendPostgres:
		return repositories.NewPostgresChangeStore(b.pool, resource, nil)
	case config.BackendMongo:
		return repositories.NewMongoChangeStore(b.mongoDB, resource, nil)
	case config.BackendRedis:
		return repositories.NewRedisChangeStore(b.redis, resource, nil)
	default:
		store, ok := b.memory[resource]
		if !ok {
			store = repositories.NewMemoryChangeStore(nil)
			b.memory[resource] = store
		}
		return store
	}
}

func (b *backend) Activity() repositories.SyncActivityRepository {
	return b.activity
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.mongo != nil {
		_ = b.mongo.Disconnect(context.Background())
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}
