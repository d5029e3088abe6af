// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/verigate/verigate/internal/auth"
	"github.com/verigate/verigate/internal/auth/postgres"
	"github.com/verigate/verigate/internal/config"
)

// NewPurgeCmd creates the purge subcommand.
func NewPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete stale one-time codes and expired sessions",
		Long: `Run one retention pass: one-time codes used or expired for longer than
retention.code_retention are deleted, as are expired sessions.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			result, err := runPurge(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			cmd.Printf("Deleted %d one-time codes and %d sessions\n", result.Codes, result.Sessions)
			return nil
		},
	}
}

func runPurge(ctx context.Context, cfg *config.Config) (auth.SweepResult, error) {
	pool, err := openPool(ctx, cfg.Store)
	if err != nil {
		return auth.SweepResult{}, err
	}
	defer pool.Close()

	sweeper, err := auth.NewSweeper(
		postgres.NewCodeRepository(pool),
		postgres.NewWebSessionRepository(pool),
		cfg.Retention.CodeRetention,
		cfg.Retention.Interval,
		slog.Default(),
	)
	if err != nil {
		return auth.SweepResult{}, err
	}
	return sweeper.SweepOnce(ctx)
}
