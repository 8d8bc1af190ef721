package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchyard/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}
	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Switchyard tables",
		Long:  "Opens the configured store (SQLite file or MySQL server) and migrates every table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			target := cfg.Store.Path
			if cfg.Store.Driver == "mysql" {
				target = fmt.Sprintf("%s:%d/%s", cfg.Store.Host, cfg.Store.Port, cfg.Store.Database)
			}
			fmt.Fprintf(out, "Migrated %d tables in %s store %s\n", len(db.AllModels()), cfg.Store.Driver, target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	return cmd
}
