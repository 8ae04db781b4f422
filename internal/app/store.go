package app

import (
	"context"
	"fmt"

	"github.com/personalizedrefrigerator/notesync/internal/config"
	"github.com/personalizedrefrigerator/notesync/internal/remote"
)

// BuildStore constructs the sync target named by the configuration.
func BuildStore(ctx context.Context, cfg *config.Config) (remote.Store, error) {
	switch cfg.Target {
	case config.TargetMemory:
		return remote.NewMemoryStore(), nil
	case config.TargetFilesystem:
		return remote.NewFilesystemStore(cfg.TargetPath), nil
	case config.TargetS3:
		return remote.NewS3Store(ctx, remote.S3Config{
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
		})
	case config.TargetPostgres:
		return remote.OpenPostgresStore(cfg.DatabaseDSN)
	case config.TargetHTTP:
		return remote.NewHTTPStore(cfg.HTTPBaseURL, cfg.HTTPToken)
	default:
		return nil, fmt.Errorf("unknown sync target %q", cfg.Target)
	}
}
