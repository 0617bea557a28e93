package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bract/internal/domain/dispatch"
	"bract/internal/domain/reminder"
	"bract/internal/domain/subscription"
)

// TickRunner evaluates reminders for a calendar date.
type TickRunner interface {
	RunTick(ctx context.Context, today subscription.Date) (*reminder.TickReport, error)
}

// ReminderTickJob runs one reminder tick for the current date in the
// scheduler's location.
type ReminderTickJob struct {
	engine   TickRunner
	location *time.Location
	now      func() time.Time
	log      *zap.Logger
}

// NewReminderTickJob creates a tick job. A nil location means UTC.
func NewReminderTickJob(engine TickRunner, location *time.Location, log *zap.Logger) *ReminderTickJob {
	if location == nil {
		location = time.UTC
	}
	return &ReminderTickJob{engine: engine, location: location, now: time.Now, log: log}
}

// Today is the calendar date the next tick evaluates.
func (j *ReminderTickJob) Today() subscription.Date {
	return subscription.NewDate(j.now().In(j.location))
}

func (j *ReminderTickJob) Execute(ctx context.Context) error {
	today := j.Today()
	report, err := j.engine.RunTick(ctx, today)
	if report != nil {
		j.log.Info("reminder tick finished",
			zap.String("date", today.String()),
			zap.Int("users", report.Users),
			zap.Int("sent", report.Totals.Sent),
			zap.Int("released", report.Totals.Released),
			zap.Int("failed", report.Totals.Failed),
			zap.Int("user_errors", report.UserErrors),
			zap.Duration("duration", report.Duration),
		)
	}
	if err != nil {
		if errors.Is(err, dispatch.ErrLedgerUnavailable) {
			return fmt.Errorf("tick aborted: %w", err)
		}
		return fmt.Errorf("tick: %w", err)
	}
	return nil
}

func (j *ReminderTickJob) Name() string { return "reminder_tick" }

func (j *ReminderTickJob) Description() string {
	return fmt.Sprintf("Reminder tick for %s", j.Today())
}

// LedgerMaintainer is the subset of dispatch.Ledger used for housekeeping.
type LedgerMaintainer interface {
	SweepStuck(ctx context.Context, olderThan time.Duration) (int, error)
	Purge(ctx context.Context, before time.Time) (int, error)
}

// LedgerMaintenanceJob deletes claims stuck past their TTL and purges
// records older than the retention window. A zero retention disables
// purging.
type LedgerMaintenanceJob struct {
	ledger    LedgerMaintainer
	claimTTL  time.Duration
	retention time.Duration
	now       func() time.Time
	log       *zap.Logger
}

func NewLedgerMaintenanceJob(ledger LedgerMaintainer, claimTTL, retention time.Duration, log *zap.Logger) *LedgerMaintenanceJob {
	return &LedgerMaintenanceJob{ledger: ledger, claimTTL: claimTTL, retention: retention, now: time.Now, log: log}
}

func (j *LedgerMaintenanceJob) Execute(ctx context.Context) error {
	swept, err := j.ledger.SweepStuck(ctx, j.claimTTL)
	if err != nil {
		return fmt.Errorf("sweep stuck claims: %w", err)
	}

	purged := 0
	if j.retention > 0 {
		cutoff := dispatch.PurgeCutoff(j.now(), j.retention)
		purged, err = j.ledger.Purge(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("purge before %s: %w", cutoff.Format("2006-01-02"), err)
		}
	}

	j.log.Info("ledger maintenance finished", zap.Int("swept", swept), zap.Int("purged", purged))
	return nil
}

func (j *LedgerMaintenanceJob) Name() string { return "ledger_maintenance" }

func (j *LedgerMaintenanceJob) Description() string {
	return "Sweep stuck reminder claims and purge expired ledger records"
}
