package database

import (
	"context"
	"fmt"

	"github.com/yourusername/furlong/internal/config"
)

// Open connects to the configured backend and applies the schema
func Open(ctx context.Context, cfg *config.DatabaseConfig) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case "postgres":
		store, err = NewDB(ctx, cfg)
	case "sqlite", "":
		store, err = OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
