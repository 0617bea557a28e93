package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bract/internal/infrastructure/postgres"
	"bract/internal/shared/config"
	"bract/internal/shared/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Bract Admin CLI - maintenance commands for the reminder engine",
	Long: `Maintenance commands for the Bract reminder engine.

Every command reads the same environment as the API server.

Examples:
  # Run one reminder tick for today in the scheduler time zone
  admin tick

  # Replay a tick for a specific date
  admin tick --date=2024-06-07

  # Release claims stuck for more than an hour
  admin sweep --older-than=1h

  # Drop ledger records older than 90 days
  admin purge --retention-days=90

  # Mint a local bearer token
  admin token --user=dev-user --email=dev@example.com`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
}

// setup loads the configuration and builds the command logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func openDB(cfg *config.Config) (*postgres.DB, error) {
	db, err := postgres.New(cfg.Database.ConnectionString(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		return db.Migrate(cmd.Context(), log)
	},
}
