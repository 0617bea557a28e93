package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bract/internal/app"
	"bract/internal/domain/dispatch"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete reminder claims that never completed",
	Long: `Delete claimed ledger records older than --older-than so the next tick
can retry them. Sent and failed records are never touched.`,
	RunE: runSweep,
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete ledger records past the retention window",
	RunE:  runPurge,
}

func init() {
	sweepCmd.Flags().Duration("older-than", 0, "Claim age to sweep (default: LEDGER_CLAIM_TTL)")
	purgeCmd.Flags().Int("retention-days", 0, "Days of records to keep (default: LEDGER_RETENTION_DAYS)")
}

// withLedger opens the configured ledger backend for the duration of fn.
func withLedger(fn func(ledger dispatch.Ledger, cfg ledgerEnv) error) error {
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

	ledger, err := app.OpenLedger(db, cfg.Ledger)
	if err != nil {
		return err
	}
	if c, ok := ledger.(interface{ Close() error }); ok {
		defer c.Close()
	}

	return fn(ledger, ledgerEnv{claimTTL: cfg.Ledger.ClaimTTL, retention: app.Retention(cfg.Ledger), log: log})
}

type ledgerEnv struct {
	claimTTL  time.Duration
	retention time.Duration
	log       *zap.Logger
}

func runSweep(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")

	return withLedger(func(ledger dispatch.Ledger, env ledgerEnv) error {
		if olderThan <= 0 {
			olderThan = env.claimTTL
		}
		n, err := ledger.SweepStuck(cmd.Context(), olderThan)
		if err != nil {
			return err
		}
		env.log.Info("sweep finished", zap.Duration("older_than", olderThan), zap.Int("deleted", n))
		fmt.Printf("Deleted %d stuck claim(s) older than %s\n", n, olderThan)
		return nil
	})
}

func runPurge(cmd *cobra.Command, args []string) error {
	days, _ := cmd.Flags().GetInt("retention-days")
	if days < 0 {
		return fmt.Errorf("--retention-days must not be negative")
	}

	return withLedger(func(ledger dispatch.Ledger, env ledgerEnv) error {
		retention := env.retention
		if days > 0 {
			retention = time.Duration(days) * 24 * time.Hour
		}
		cutoff := dispatch.PurgeCutoff(time.Now(), retention)
		n, err := ledger.Purge(cmd.Context(), cutoff)
		if err != nil {
			return err
		}
		env.log.Info("purge finished", zap.Time("before", cutoff), zap.Int("deleted", n))
		fmt.Printf("Deleted %d record(s) with occurrence before %s\n", n, cutoff.Format("2006-01-02"))
		return nil
	})
}
