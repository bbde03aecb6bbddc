// Package bootstrap wires configured adapters for the factory binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/crabzie/factory-runtime/config/seed"
	postgresConfig "github.com/crabzie/factory-runtime/config/storage/postgresql"
	redisConfig "github.com/crabzie/factory-runtime/config/storage/redis"
	config "github.com/crabzie/factory-runtime/config/utils"
	"github.com/crabzie/factory-runtime/internal/adapter/storage/jsonfile"
	"github.com/crabzie/factory-runtime/internal/adapter/storage/kv"
	"github.com/crabzie/factory-runtime/internal/adapter/storage/memory"
	"github.com/crabzie/factory-runtime/internal/adapter/storage/postgres"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"go.uber.org/zap"
)

// Store is an opened resource store and the function releasing it
type Store struct {
	port.ResourceStore
	Close func()
}

// OpenStore connects the backend selected by cfg.Store.Backend and applies
// the configured seed file, if any.
func OpenStore(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*Store, error) {
	store, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.Store.SeedFile != "" {
		s, err := seed.Load(cfg.Store.SeedFile)
		if err == nil {
			err = s.Apply(ctx, store)
		}
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("apply seed: %w", err)
		}
		log.Info("Seeded resource store", zap.String("file", cfg.Store.SeedFile))
	}
	return store, nil
}

func openBackend(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*Store, error) {
	noop := func() {}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		return &Store{memory.NewResourceStore(), noop}, nil

	case config.BackendJSON:
		store, err := jsonfile.NewResourceStore(cfg.Store.DataDir, log.Named("jsonfile"))
		if err != nil {
			return nil, err
		}
		log.Info("Using JSON data directory", zap.String("dir", cfg.Store.DataDir))
		return &Store{store, noop}, nil

	case config.BackendPostgres:
		dbLogger := log.Named("DB")
		db, err := postgresConfig.New(ctx, cfg.DB, dbLogger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info("Successfully connected to the database", zap.String("host", cfg.DB.Host))
		return &Store{postgres.NewResourceRepository(db.Pool, dbLogger), db.Close}, nil

	case config.BackendRedis:
		client, err := redisConfig.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("Successfully connected to the kv server", zap.String("address", cfg.Redis.Addr))
		closeFn := func() {
			if err := client.Close(); err != nil {
				log.Warn("Failed to close redis", zap.Error(err))
			}
		}
		return &Store{kv.NewResourceStore(client.Storage, cfg.Store.KeyPrefix, log.Named("kv"), kv.WithLocker(client)), closeFn}, nil

	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}
