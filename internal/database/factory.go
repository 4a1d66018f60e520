package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MarkSG93/2fa-stats-sub000/internal/config"
	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
)

// Store is a harvest.Store with schema management.
type Store interface {
	harvest.Store
	Migrate(ctx context.Context) error
	CheckMigrations(ctx context.Context) error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// NewStoreFromConfig opens the cache of one environment based on the database
// config type. A "memory" store is migrated on open since it starts empty.
func NewStoreFromConfig(ctx context.Context, cfg config.DatabaseConfig, environment string) (Store, error) {
	if environment == "" {
		return nil, fmt.Errorf("environment name required")
	}

	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err := NewSQLiteStore(filepath.Join(cfg.DataDir, environment+".db"))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		s, err := NewSQLiteStore(":memory:")
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		s, err := NewPostgresStore(ctx, cfg.DSN, "twofa_"+environment, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
