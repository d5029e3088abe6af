// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

// Package store owns the PostgreSQL connection pool and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolConfig controls how the connection pool is opened.
type PoolConfig struct {
	DatabaseURL string
	// ConnectAttempts is how many times the initial ping is tried before
	// giving up. Zero means one attempt.
	ConnectAttempts uint64
	ConnectBackoff  time.Duration
}

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// OpenPool parses cfg.DatabaseURL, opens a pool and waits for the database
// to answer a ping.
func OpenPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, oops.Code("DB_CONFIG_INVALID").Errorf("database URL is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := waitReady(ctx, pool, cfg.ConnectAttempts, cfg.ConnectBackoff); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// waitReady pings p until it answers, retrying attempts-1 times.
func waitReady(ctx context.Context, p pinger, attempts uint64, backoff time.Duration) error {
	if backoff <= 0 {
		backoff = time.Second
	}
	var retries uint64
	if attempts > 1 {
		retries = attempts - 1
	}

	b := retry.WithMaxRetries(retries, retry.WithCappedDuration(10*time.Second, retry.NewExponential(backoff)))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "database not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "ping database").Wrap(err)
	}
	return nil
}
