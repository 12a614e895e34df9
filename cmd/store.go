package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/gardetrack/gardesync/internal/merge"
	"github.com/gardetrack/gardesync/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "gardesync.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func loadPolicy() (*merge.Policy, error) {
	if cfg.Sync.PolicyPath == "" {
		return merge.DefaultPolicy(), nil
	}
	return merge.LoadPolicy(cfg.Sync.PolicyPath)
}
