package storage

import (
	"context"
	"fmt"
	"log/slog"

	"fanvault/internal/config"
)

// Pinger is implemented by stores that can check their backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewObjectStoreFromConfig creates the durable store selected by
// OBJECT_STORE_DRIVER. An s3 driver missing its bucket yields an unconfigured
// store instead of an error so approvals fail with a clear reason.
func NewObjectStoreFromConfig(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	switch cfg.ObjectStoreDriver {
	case "memory":
		return NewMemoryStore(cfg.MediaURLPrefix), nil
	case "filesystem":
		return NewFileSystemStore(cfg.MediaDir, cfg.MediaURLPrefix)
	case "s3":
		if cfg.ObjectStoreBucket == "" {
			slog.Warn("OBJECT_STORE_BUCKET is empty; approvals will fail until it is set")
			return NewUnconfiguredStore("OBJECT_STORE_BUCKET is empty"), nil
		}
		return NewS3Store(ctx, S3Options{
			Bucket:          cfg.ObjectStoreBucket,
			Region:          cfg.ObjectStoreRegion,
			Endpoint:        cfg.ObjectStoreEndpoint,
			AccessKeyID:     cfg.ObjectStoreAccessKeyID,
			SecretAccessKey: cfg.ObjectStoreSecretKey,
			PublicBaseURL:   cfg.ObjectStorePublicBaseURL,
		})
	case "":
		return NewUnconfiguredStore("OBJECT_STORE_DRIVER is empty"), nil
	default:
		return nil, fmt.Errorf("unknown object store driver: %s", cfg.ObjectStoreDriver)
	}
}
