// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/verigate/verigate/internal/store"
)

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, revert or inspect the embedded PostgreSQL schema migrations.`,
	}
	cmd.AddCommand(newMigrateUpCmd(), newMigrateDownCmd(), newMigrateVersionCmd())
	return cmd
}

// withMigrator loads the configuration and runs fn with a Migrator for the
// configured database.
func withMigrator(cmd *cobra.Command, fn func(*store.Migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := requirePostgres(cfg.Store); err != nil {
		return err
	}

	migrator, err := store.NewMigrator(cfg.Store.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeMigrator(migrator)
	return fn(migrator)
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				pending, err := m.PendingMigrations()
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					cmd.Println("Schema is up to date")
					return nil
				}
				if err := m.Up(); err != nil {
					return err
				}
				for _, v := range pending {
					name, _ := migrationLabel(v)
					cmd.Printf("Applied %s\n", name)
				}
				return nil
			})
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert the latest migration",
		Long:  `Revert the most recent migration, or every migration with --all. Reverting drops data.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				if all {
					if err := m.Down(); err != nil {
						return err
					}
					cmd.Println("Reverted all migrations")
					return nil
				}

				version, _, err := m.Version()
				if err != nil {
					return err
				}
				if version == 0 {
					cmd.Println("No migrations to revert")
					return nil
				}
				if err := m.Steps(-1); err != nil {
					return err
				}
				name, _ := migrationLabel(version)
				cmd.Printf("Reverted %s\n", name)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "revert every migration")
	return cmd
}

func newMigrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				pending, err := m.PendingMigrations()
				if err != nil {
					return err
				}

				label, _ := migrationLabel(version)
				cmd.Printf("Version: %s\n", label)
				if dirty {
					cmd.Println("State:   dirty (a migration failed halfway; fix the schema and re-run)")
				}
				cmd.Printf("Pending: %d\n", len(pending))
				return nil
			})
		},
	}
}

// migrationLabel returns the embedded name of version, "none" for 0 and
// the bare number for versions that are not embedded.
func migrationLabel(version uint) (string, error) {
	if version == 0 {
		return "none", nil
	}
	name, err := store.MigrationName(version)
	if err != nil {
		return "", err
	}
	if name == "" {
		return strconv.FormatUint(uint64(version), 10), nil
	}
	return name, nil
}
