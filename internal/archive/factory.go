package archive

import (
	"context"
	"fmt"

	"github.com/MarkSG93/2fa-stats-sub000/internal/config"
	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
)

// NewArchiveFromConfig creates an Archive based on the archive config type.
// An empty type means publishing is disabled and returns nil, nil.
func NewArchiveFromConfig(ctx context.Context, cfg config.ArchiveConfig) (harvest.Archive, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "memory":
		return NewMemoryArchive(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem archive requires fs_root to be set")
		}
		a, err := NewFileSystemArchive(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "s3":
		a, err := NewS3Archive(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}
