package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mendersoftware/deployments/pkg/db"
	"github.com/mendersoftware/deployments/pkg/secrets"
	"github.com/mendersoftware/deployments/services/admin"
	"github.com/mendersoftware/deployments/services/deployments"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:           "deployctl",
		Short:         "Operational utility for the deployments service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("DB_DSN"), "Postgres connection string (defaults to DB_DSN)")

	cmd.AddCommand(newMigrateCommand(&dsn))
	cmd.AddCommand(newTenantsCommand(&dsn))
	cmd.AddCommand(newStorageCommand(&dsn))
	return cmd
}

func newMigrateCommand(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), *dsn, func(ctx context.Context, pool *pgxpool.Pool) error {
				if err := db.Migrate(ctx, pool); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func newTenantsCommand(dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Tenant provisioning operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "provision <tenant-id>",
		Short: "Provision a tenant's deployments scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *dsn, nil, func(ctx context.Context, app deployments.App) error {
				if err := app.ProvisionTenant(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s provisioned\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func newStorageCommand(dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Tenant object-storage settings operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var settingsFile string
	set := &cobra.Command{
		Use:   "set <tenant-id>",
		Short: "Store a tenant's object-storage settings from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := admin.LoadStorageSettings(settingsFile)
			if err != nil {
				return err
			}
			keyring, err := secrets.FromEnv()
			if err != nil {
				return fmt.Errorf("secrets keyring (needed to seal the secret key): %w", err)
			}
			return withApp(cmd.Context(), *dsn, keyring, func(ctx context.Context, app deployments.App) error {
				if err := app.SetStorageSettings(ctx, args[0], settings); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "storage settings stored for tenant %s\n", args[0])
				return nil
			})
		},
	}
	set.Flags().StringVar(&settingsFile, "file", "", "Path to the storage settings YAML")
	_ = set.MarkFlagRequired("file")
	cmd.AddCommand(set)

	cmd.AddCommand(&cobra.Command{
		Use:   "get <tenant-id>",
		Short: "Print a tenant's object-storage settings (secret redacted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *dsn, nil, func(ctx context.Context, app deployments.App) error {
				settings, err := app.GetStorageSettings(ctx, args[0])
				if err != nil {
					if errors.Is(err, deployments.ErrNotFound) {
						fmt.Fprintln(cmd.OutOrStdout(), "no settings stored (default backend in use)")
						return nil
					}
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(settings)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Remove a tenant's object-storage settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *dsn, nil, func(ctx context.Context, app deployments.App) error {
				if err := app.DeleteStorageSettings(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "storage settings removed for tenant %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func withPool(ctx context.Context, dsn string, fn func(context.Context, *pgxpool.Pool) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if dsn == "" {
		return errors.New("--dsn or DB_DSN is required")
	}
	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, pool)
}

func withApp(ctx context.Context, dsn string, keyring *secrets.Keyring, fn func(context.Context, deployments.App) error) error {
	return withPool(ctx, dsn, func(ctx context.Context, pool *pgxpool.Pool) error {
		store, err := deployments.NewPgStore(pool)
		if err != nil {
			return err
		}
		logger := log.New(os.Stderr, "", log.LstdFlags)
		app := deployments.NewDeployments(store, nil, nil, nil, nil, nil, keyring, deployments.Config{}, logger)
		return fn(ctx, app)
	})
}
