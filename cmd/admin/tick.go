package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bract/internal/app"
	"bract/internal/domain/subscription"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single reminder tick",
	Long: `Evaluate every user with reminder preferences once and deliver due
reminders. The dispatch ledger prevents duplicates, so running a tick while
the API scheduler is active is safe.

The report is printed to stdout as JSON.`,
	RunE: runTick,
}

func init() {
	tickCmd.Flags().String("date", "", "Evaluation date as YYYY-MM-DD (default: today in SCHEDULER_TIMEZONE)")
	tickCmd.Flags().Duration("timeout", 0, "Timeout for the tick, below LEDGER_CLAIM_TTL (default: SCHEDULER_JOB_TIMEOUT)")
}

func runTick(cmd *cobra.Command, args []string) error {
	dateStr, _ := cmd.Flags().GetString("date")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	timeout, err = cfg.TickTimeout(timeout)
	if err != nil {
		return err
	}

	today := subscription.NewDate(time.Now().In(cfg.Scheduler.Location()))
	if dateStr != "" {
		today, err = subscription.ParseDate(dateStr)
		if err != nil {
			return err
		}
	}

	a, err := app.New(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	report, tickErr := a.Engine.RunTick(ctx, today)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	if tickErr != nil {
		return fmt.Errorf("tick for %s: %w", today, tickErr)
	}
	return nil
}
