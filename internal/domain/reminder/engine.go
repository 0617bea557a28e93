package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bract/internal/domain/dispatch"
	"bract/internal/domain/notification"
	"bract/internal/domain/subscription"
)

var (
	tracer = otel.Tracer("bract/reminder")
	meter  = otel.Meter("bract/reminder")
)

var (
	tickDuration, _ = meter.Float64Histogram("reminder.tick.duration",
		metric.WithDescription("Reminder tick duration in seconds"),
		metric.WithUnit("s"))
	outcomes, _ = meter.Int64Counter("reminder.outcome.total",
		metric.WithDescription("Per-occurrence evaluation outcomes"))
)

// StreamSource yields the merged subscription streams of a user.
type StreamSource interface {
	Fetch(ctx context.Context, userID string) (*subscription.FetchResult, error)
}

// PreferenceSource yields reminder preferences and the users that have any.
type PreferenceSource interface {
	Get(ctx context.Context, userID string) (map[string]*Preference, error)
	Users(ctx context.Context) ([]string, error)
}

// Sender makes one delivery attempt for a reminder.
type Sender interface {
	Send(ctx context.Context, r notification.Reminder) error
}

// UserReport counts what happened to one user's streams in a tick.
type UserReport struct {
	Streams        int `json:"streams"`
	Skipped        int `json:"skipped"`
	Claimed        int `json:"claimed"`
	AlreadyClaimed int `json:"already_claimed"`
	Sent           int `json:"sent"`
	Released       int `json:"released"`
	Failed         int `json:"failed"`
	// NoLinkedAccounts is set for users with preferences but no connections.
	NoLinkedAccounts bool `json:"no_linked_accounts,omitempty"`
}

func (r *UserReport) add(o UserReport) {
	r.Streams += o.Streams
	r.Skipped += o.Skipped
	r.Claimed += o.Claimed
	r.AlreadyClaimed += o.AlreadyClaimed
	r.Sent += o.Sent
	r.Released += o.Released
	r.Failed += o.Failed
}

// TickReport summarizes one tick.
type TickReport struct {
	Date             string        `json:"date"`
	Users            int           `json:"users"`
	NoLinkedAccounts int           `json:"users_without_accounts"`
	UserErrors       int           `json:"user_errors"`
	Totals           UserReport    `json:"totals"`
	Duration         time.Duration `json:"duration"`
}

type Options struct {
	// UserConcurrency bounds users evaluated in parallel.
	UserConcurrency int
}

// Engine evaluates due reminders. It holds no state between calls; every
// coordination point is the dispatch ledger, so overlapping ticks are safe.
type Engine struct {
	streams     StreamSource
	prefs       PreferenceSource
	ledger      dispatch.Ledger
	sender      Sender
	concurrency int
	log         *zap.Logger
}

func NewEngine(streams StreamSource, prefs PreferenceSource, ledger dispatch.Ledger, sender Sender, log *zap.Logger, opts Options) *Engine {
	if opts.UserConcurrency < 1 {
		opts.UserConcurrency = 1
	}
	return &Engine{
		streams:     streams,
		prefs:       prefs,
		ledger:      ledger,
		sender:      sender,
		concurrency: opts.UserConcurrency,
		log:         log.With(zap.String("component", "reminder_engine")),
	}
}

// IsDue reports whether an occurrence due on due falls inside the reminder
// window that opens daysBefore days earlier.
func IsDue(today, due subscription.Date, daysBefore int) bool {
	if due.IsZero() {
		return false
	}
	trigger := due.AddDays(-daysBefore)
	return !today.Before(trigger.Time) && !today.After(due.Time)
}

// RunTick evaluates every user with preferences. A failing user is logged
// and counted; only an unavailable ledger aborts the tick, returning the
// partial report with an error wrapping dispatch.ErrLedgerUnavailable.
func (e *Engine) RunTick(ctx context.Context, today subscription.Date) (*TickReport, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "reminder.tick", trace.WithAttributes(attribute.String("reminder.date", today.String())))
	defer span.End()

	report := &TickReport{Date: today.String()}

	users, err := e.prefs.Users(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list users with reminders: %w", err)
	}
	report.Users = len(users)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, userID := range users {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ur, err := e.EvaluateUser(gctx, userID, today)

			mu.Lock()
			report.Totals.add(ur)
			if ur.NoLinkedAccounts {
				report.NoLinkedAccounts++
			}
			if err != nil && !errors.Is(err, dispatch.ErrLedgerUnavailable) {
				report.UserErrors++
			}
			mu.Unlock()

			if errors.Is(err, dispatch.ErrLedgerUnavailable) {
				return err
			}
			if err != nil {
				e.log.Error("user evaluation failed", zap.String("user_id", userID), zap.Error(err))
			}
			return nil
		})
	}
	err = g.Wait()

	report.Duration = time.Since(start)
	tickDuration.Record(ctx, report.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("reminder.users", report.Users),
		attribute.Int("reminder.sent", report.Totals.Sent),
	)

	if err != nil {
		e.log.Error("reminder tick aborted", zap.String("date", report.Date), zap.Error(err))
		span.RecordError(err)
		return report, err
	}

	e.log.Info("reminder tick completed",
		zap.String("date", report.Date),
		zap.Int("users", report.Users),
		zap.Int("users_without_accounts", report.NoLinkedAccounts),
		zap.Int("user_errors", report.UserErrors),
		zap.Int("claimed", report.Totals.Claimed),
		zap.Int("sent", report.Totals.Sent),
		zap.Int("released", report.Totals.Released),
		zap.Int("failed", report.Totals.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// EvaluateUser runs one user's streams through the claim-notify-mark cycle.
// Streams are processed independently; a failed delivery never stops the
// next stream. Ledger unavailability stops the user immediately.
func (e *Engine) EvaluateUser(ctx context.Context, userID string, today subscription.Date) (UserReport, error) {
	var report UserReport

	result, err := e.streams.Fetch(ctx, userID)
	switch {
	case errors.Is(err, subscription.ErrNoLinkedAccounts):
		report.NoLinkedAccounts = true
		return report, nil
	case err != nil:
		return report, fmt.Errorf("failed to fetch subscriptions: %w", err)
	}

	prefs, err := e.prefs.Get(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("failed to load preferences: %w", err)
	}

	report.Streams = len(result.Streams)
	for _, stream := range result.Streams {
		pref, ok := prefs[stream.StreamID]
		if !ok || !stream.IsActive || !IsDue(today, stream.PredictedNextDate, pref.DaysBefore) {
			report.Skipped++
			record(ctx, "skipped")
			continue
		}

		if err := e.dispatch(ctx, userID, stream, pref, today, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// dispatch handles one due occurrence. Only ledger errors are returned.
func (e *Engine) dispatch(ctx context.Context, userID string, stream subscription.Stream, pref *Preference, today subscription.Date, report *UserReport) error {
	key := dispatch.NewKey(userID, stream.StreamID, stream.PredictedNextDate.Time)
	log := e.log.With(
		zap.String("user_id", userID),
		zap.String("stream_id", stream.StreamID),
		zap.String("occurrence", stream.PredictedNextDate.String()),
	)

	sent, err := e.ledger.IsSent(ctx, key)
	if err != nil {
		return err
	}
	if sent {
		report.Skipped++
		record(ctx, "skipped")
		return nil
	}

	claim, outcome, err := e.ledger.TryClaim(ctx, key)
	if err != nil {
		return err
	}
	if outcome == dispatch.AlreadyClaimed {
		log.Debug("occurrence already claimed")
		report.AlreadyClaimed++
		record(ctx, "already_claimed")
		return nil
	}
	if claim.Reclaimed {
		log.Warn("reclaimed stuck claim")
	}
	report.Claimed++
	record(ctx, "claimed")

	sendErr := e.sender.Send(ctx, notification.Reminder{
		UserID:     userID,
		Stream:     stream,
		Occurrence: stream.PredictedNextDate,
		Today:      today,
		Method:     pref.Method,
	})

	switch {
	case sendErr == nil:
		if err := e.ledger.MarkSent(ctx, claim); err != nil {
			if errors.Is(err, dispatch.ErrClaimLost) {
				log.Warn("occurrence reclaimed by another worker before it was marked sent")
			} else {
				return err
			}
		}
		report.Sent++
		record(ctx, "sent")
		log.Info("reminder sent", zap.String("method", string(pref.Method)))

	case notification.IsPermanent(sendErr):
		if err := e.ledger.MarkFailed(ctx, claim, sendErr.Error()); err != nil && !errors.Is(err, dispatch.ErrClaimLost) {
			return err
		}
		report.Failed++
		record(ctx, "failed_permanent")
		log.Warn("reminder delivery failed permanently", zap.Error(sendErr))

	default:
		if err := e.ledger.Release(ctx, claim); err != nil && !errors.Is(err, dispatch.ErrClaimLost) {
			return err
		}
		report.Released++
		record(ctx, "released")
		log.Warn("reminder delivery failed, released for retry", zap.Error(sendErr))
	}
	return nil
}

func record(ctx context.Context, outcome string) {
	outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
