package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"kyri56xcaesar/pms-tracker/internal/config"
	"kyri56xcaesar/pms-tracker/internal/mtask"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var confPath string

	rootCmd := &cobra.Command{
		Use:     "pms-tracker",
		Short:   "Team task tracker API",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVarP(&confPath, "config", "c", "configs/tracker.env", "path to the .env config file")

	rootCmd.AddCommand(serveCmd(&confPath))
	rootCmd.AddCommand(migrateCmd(&confPath))
	rootCmd.AddCommand(syncUsersCmd(&confPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(confPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return mtask.InitAndServe(config.Load(*confPath))
		},
	}
}

func migrateCmd(confPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema in the configured database and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*confPath)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			backend, err := mtask.OpenBackend(ctx, cfg)
			if err != nil {
				return err
			}
			backend.Close()

			fmt.Printf("schema applied (%s)\n", cfg.DBDriver)
			return nil
		},
	}
}

func syncUsersCmd(confPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-users",
		Short: "Import the Keycloak realm users into the users table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*confPath)

			admin, err := mtask.NewAdminClient(cfg)
			if err != nil {
				return err
			}

			backend, err := mtask.OpenBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			n, err := admin.SyncUsers(cmd.Context(), backend.IdentitySink)
			fmt.Printf("synced %d users\n", n)
			return err
		},
	}
}
