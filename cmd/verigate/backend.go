// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/verigate/verigate/internal/auth"
	"github.com/verigate/verigate/internal/auth/memory"
	"github.com/verigate/verigate/internal/auth/postgres"
	"github.com/verigate/verigate/internal/config"
	"github.com/verigate/verigate/internal/store"
)

// Connection retry settings for the initial database ping.
const (
	connectAttempts = 5
	connectBackoff  = time.Second
)

// backend bundles the repositories of one storage driver.
type backend struct {
	users    auth.UserRepository
	codes    auth.CodeRepository
	sessions auth.SessionRepository
	tx       auth.Transactor
	close    func()
}

// openBackend builds the repositories selected by cfg.Store.Driver. For
// PostgreSQL, pending migrations are applied first when auto_migrate is set.
func openBackend(ctx context.Context, cfg config.StoreConfig) (*backend, error) {
	if cfg.Driver == config.DriverMemory {
		slog.WarnContext(ctx, "using in-memory store; all data is lost on exit")
		s := memory.NewStore()
		return &backend{
			users:    s.Users(),
			codes:    s.Codes(),
			sessions: s.Sessions(),
			tx:       s,
			close:    func() {},
		}, nil
	}

	if cfg.AutoMigrate {
		if err := migrateUp(cfg.DatabaseURL); err != nil {
			return nil, err
		}
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &backend{
		users:    postgres.NewUserRepository(pool),
		codes:    postgres.NewCodeRepository(pool),
		sessions: postgres.NewWebSessionRepository(pool),
		tx:       postgres.NewTransactor(pool),
		close:    pool.Close,
	}, nil
}

// requirePostgres rejects drivers without a database behind them.
func requirePostgres(cfg config.StoreConfig) error {
	if cfg.Driver != config.DriverPostgres {
		return oops.Code("CONFIG_INVALID").
			With("driver", cfg.Driver).
			Errorf("this command requires the postgres store driver")
	}
	return nil
}

func openPool(ctx context.Context, cfg config.StoreConfig) (*pgxpool.Pool, error) {
	if err := requirePostgres(cfg); err != nil {
		return nil, err
	}
	pool, err := store.OpenPool(ctx, store.PoolConfig{
		DatabaseURL:     cfg.DatabaseURL,
		ConnectAttempts: connectAttempts,
		ConnectBackoff:  connectBackoff,
	})
	if err != nil {
		return nil, oops.With("operation", "connect to database").Wrap(err)
	}
	slog.InfoContext(ctx, "connected to database")
	return pool, nil
}

func migrateUp(databaseURL string) error {
	migrator, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer closeMigrator(migrator)

	if err := migrator.Up(); err != nil {
		return err
	}
	version, _, err := migrator.Version()
	if err != nil {
		return err
	}
	slog.Info("database schema up to date", "version", version)
	return nil
}

func closeMigrator(m *store.Migrator) {
	if err := m.Close(); err != nil {
		slog.Warn("failed to close migrator", "error", err)
	}
}
