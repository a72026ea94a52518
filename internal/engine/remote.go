package engine

import (
	"context"
	"os"

	"github.com/NamanBalaji/tfm/internal/config"
	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/storage"
	"github.com/NamanBalaji/tfm/internal/storage/miniostore"
	"github.com/NamanBalaji/tfm/internal/storage/s3store"
)

// OpenRemote builds the remote store named by the configuration.
func OpenRemote(ctx context.Context, cfg *config.RemoteConfig) (storage.Store, error) {
	if cfg == nil {
		return nil, errors.NewInvalidArgumentError("remote store is not configured")
	}

	switch cfg.Type {
	case config.RemoteFS:
		if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
			return nil, errors.NewIOError(err, cfg.Root)
		}

		return storage.NewOS(cfg.Root), nil
	case config.RemoteS3:
		return s3store.New(ctx, s3store.Options{
			Bucket:         cfg.Bucket,
			Prefix:         cfg.Prefix,
			Region:         cfg.Region,
			Profile:        cfg.Profile,
			Endpoint:       cfg.Endpoint,
			ForcePathStyle: cfg.ForcePathStyle,
		})
	case config.RemoteMinio:
		return miniostore.New(miniostore.Options{
			Endpoint: cfg.Endpoint,
			Bucket:   cfg.Bucket,
			Prefix:   cfg.Prefix,
			Region:   cfg.Region,
			Insecure: cfg.Insecure,
		})
	default:
		return nil, errors.NewInvalidArgumentError("unknown remote type %q", cfg.Type)
	}
}
