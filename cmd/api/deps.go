package main

import (
	"context"

	"go.uber.org/zap"

	"bract/internal/app"
	httphandlers "bract/internal/interfaces/http"
	"bract/internal/interfaces/scheduler"
	"bract/internal/shared/auth"
	"bract/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	*app.App

	JWT *auth.JWT

	// Handlers
	HealthHandler       *httphandlers.HealthHandler
	PlaidHandler        *httphandlers.PlaidHandler
	SubscriptionHandler *httphandlers.SubscriptionHandler
	ReminderHandler     *httphandlers.ReminderHandler
	NotificationHandler *httphandlers.NotificationHandler
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Dependencies, error) {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	verifier, err := newVerifier(cfg.JWT, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	return &Dependencies{
		App:                 a,
		JWT:                 verifier,
		HealthHandler:       httphandlers.NewHealthHandler(a.DB, log),
		PlaidHandler:        httphandlers.NewPlaidHandler(a.Connections, log),
		SubscriptionHandler: httphandlers.NewSubscriptionHandler(a.Aggregator, log),
		ReminderHandler:     httphandlers.NewReminderHandler(a.Reminders, a.Ledger, log),
		NotificationHandler: httphandlers.NewNotificationHandler(a.Notifications, log),
	}, nil
}

// newVerifier prefers the identity provider's JWKS; the shared secret is for
// local development.
func newVerifier(cfg config.JWTConfig, log *zap.Logger) (*auth.JWT, error) {
	if cfg.JWKSURL == "" {
		log.Info("verifying bearer tokens with shared secret")
		return auth.NewJWT(cfg.Secret, cfg.Issuer, cfg.Audience), nil
	}

	log.Info("verifying bearer tokens against JWKS", zap.String("url", cfg.JWKSURL))
	return auth.NewJWKS(auth.JWKSOptions{
		URL:      cfg.JWKSURL,
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		Refresh:  cfg.JWKSRefresh,
		OnRefreshError: func(err error) {
			log.Warn("JWKS refresh failed", zap.Error(err))
		},
	})
}

// Close stops the verifier and releases the application resources.
func (d *Dependencies) Close() {
	d.JWT.Close()
	d.App.Close()
}

// NewScheduler builds the reminder scheduler. Every trigger submits one tick
// and one ledger maintenance pass.
func (d *Dependencies) NewScheduler(cfg *config.Config, log *zap.Logger) (*scheduler.Scheduler, error) {
	loc := cfg.Scheduler.Location()
	tick := scheduler.NewReminderTickJob(d.Engine, loc, log)
	maintenance := scheduler.NewLedgerMaintenanceJob(d.Ledger, cfg.Ledger.ClaimTTL, app.Retention(cfg.Ledger), log)

	return scheduler.NewScheduler(scheduler.SchedulerConfig{
		ScheduleTimes: cfg.Scheduler.ScheduleTimes,
		Location:      loc,
		WorkerCount:   cfg.Scheduler.WorkerCount,
		JobDelay:      cfg.Scheduler.JobDelay,
		JobTimeout:    cfg.Scheduler.JobTimeout,
		QueueSize:     cfg.Scheduler.QueueSize,
		RunOnStartup:  cfg.Scheduler.RunOnStartup,
		JobProvider: func(ctx context.Context) ([]scheduler.Job, error) {
			return []scheduler.Job{tick, maintenance}, nil
		},
	}, log)
}
