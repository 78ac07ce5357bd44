package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/bootstrap"
	"github.com/smallbiznis/creditledger/internal/cachesync"
	"github.com/smallbiznis/creditledger/internal/migration"
	"github.com/smallbiznis/creditledger/internal/seed"
	"github.com/smallbiznis/creditledger/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger API and the cache reconcile scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				bootstrap.Storage,
				migration.Module,
				server.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			var conn *gorm.DB
			return runOnce(cmd.Context(), timeout, fx.Populate(&conn), func(ctx context.Context) error {
				if err := migration.Apply(conn.WithContext(ctx)); err != nil {
					return fmt.Errorf("apply migrations: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline")
	return cmd
}

func resyncCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Push every active key's ledger balance to the cache proxy once",
		Long: `Resync walks every active API key and re-registers it with the cache proxy
using the balance currently stored in the ledger. Failures are reported per key
and never change ledger state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var reconciler *cachesync.Reconciler
			return runOnce(cmd.Context(), timeout, fx.Options(cachesync.Module, fx.Populate(&reconciler)), func(ctx context.Context) error {
				report, err := reconciler.ResyncAll(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
				if report.Failed > 0 {
					return fmt.Errorf("%d of %d keys failed to sync", report.Failed, report.Total)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall deadline")
	return cmd
}

func seedAdminCmd() *cobra.Command {
	var (
		email   string
		name    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create or promote the first business admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				conn *gorm.DB
				node *snowflake.Node
			)
			return runOnce(cmd.Context(), timeout, fx.Populate(&conn, &node), func(ctx context.Context) error {
				user, created, err := seed.EnsureBusinessAdmin(ctx, conn, node, email, name)
				if err != nil {
					return err
				}
				verb := "exists"
				if created {
					verb = "created"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "business admin %s: %s (%s)\n", verb, user.Email, user.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&name, "name", "", "admin display name")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall deadline")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// runOnce starts a storage-backed app, runs fn and stops the app.
func runOnce(parent context.Context, timeout time.Duration, extra fx.Option, fn func(ctx context.Context) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	app := fx.New(
		bootstrap.Storage,
		extra,
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	runErr := fn(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
