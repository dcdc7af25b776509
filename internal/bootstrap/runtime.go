// Package bootstrap connects the infrastructure a fanvault process needs.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"fanvault/internal/cache"
	"fanvault/internal/config"
	"fanvault/internal/database"
	"fanvault/internal/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SkipObjectStore leaves Runtime.Store nil, for tools that never approve.
	SkipObjectStore bool
}

// Runtime holds the shared infrastructure handles.
type Runtime struct {
	DB    *gorm.DB
	Redis *redis.Client
	Store storage.ObjectStore
}

// InitRuntime connects to the database, Redis and the durable object store.
// Redis is optional: a nil client disables the lock, rate limit and
// notifications.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)
	rt := &Runtime{DB: db, Redis: cache.GetClient()}

	if !opts.SkipObjectStore {
		store, err := storage.NewObjectStoreFromConfig(ctx, cfg)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("object store init failed: %w", err)
		}
		rt.Store = store
		slog.Info("object store ready", "driver", cfg.ObjectStoreDriver, "configured", store.IsConfigured())
	}
	return rt, nil
}

// Close releases the database and Redis connections.
func (r *Runtime) Close() {
	if r.DB != nil {
		if sqlDB, err := r.DB.DB(); err == nil {
			if cerr := sqlDB.Close(); cerr != nil {
				slog.Warn("error closing sql DB", "err", cerr)
			}
		}
	}
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			slog.Warn("error closing redis", "err", err)
		}
	}
}
