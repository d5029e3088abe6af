// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/verigate/verigate/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the verigate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verigate",
		Short: "Verigate - account registration and two-factor sign-in",
		Long: `Verigate registers accounts, confirms email ownership with one-time codes
and signs users in with a password followed by an emailed two-factor code.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewPurgeCmd())

	return cmd
}

// loadConfig reads --config and the explicitly set flags of cmd, then
// validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
