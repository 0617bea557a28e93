// Package app wires the storage, provider and delivery layers into the
// services shared by the API server and the admin CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bract/internal/domain/connection"
	"bract/internal/domain/dispatch"
	"bract/internal/domain/notification"
	"bract/internal/domain/reminder"
	"bract/internal/domain/subscription"
	"bract/internal/domain/user"
	"bract/internal/infrastructure/bolt"
	"bract/internal/infrastructure/crypto"
	"bract/internal/infrastructure/email"
	"bract/internal/infrastructure/firebase"
	"bract/internal/infrastructure/plaid"
	"bract/internal/infrastructure/postgres"
	"bract/internal/shared/config"
	"bract/internal/shared/messages"
)

const aggregatorCacheSize = 1024

// App holds the initialized services.
type App struct {
	DB     *postgres.DB
	Ledger dispatch.Ledger

	Aggregator    *subscription.Aggregator
	Connections   *connection.Service
	Reminders     *reminder.Service
	Users         *user.Service
	Notifications *notification.Service
	Engine        *reminder.Engine

	closers []func() error
}

// New connects to the database, runs migrations when enabled and builds every
// service. Close must be called on the result.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{}

	db, err := postgres.New(cfg.Database.ConnectionString(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	log.Info("connected to database")

	if err := a.build(ctx, cfg, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.Database.AutoMigrate {
		if err := a.DB.Migrate(ctx, log); err != nil {
			return err
		}
	}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		return err
	}

	ledger, err := OpenLedger(a.DB, cfg.Ledger)
	if err != nil {
		return err
	}
	a.Ledger = ledger
	if c, ok := ledger.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	// Repositories
	connectionRepo := postgres.NewConnectionRepository(a.DB, encryptor)
	preferenceRepo := postgres.NewPreferenceRepository(a.DB)
	userRepo := postgres.NewUserRepository(a.DB)
	notificationRepo := postgres.NewNotificationRepository(a.DB)

	// Provider and aggregation
	plaidClient := plaid.NewClient(plaid.Config{
		ClientID:    cfg.Plaid.ClientID,
		Secret:      cfg.Plaid.Secret,
		Env:         cfg.Plaid.Env,
		ClientName:  cfg.Plaid.ClientName,
		Timeout:     cfg.Plaid.Timeout,
		MaxAttempts: cfg.Plaid.MaxAttempts,
		RateLimit:   cfg.Plaid.RateLimit,
	}, log)
	a.Aggregator = subscription.NewAggregator(connectionRepo, plaidClient, log, subscription.Options{
		Concurrency: cfg.Plaid.FetchConcurrency,
		CacheSize:   aggregatorCacheSize,
		CacheTTL:    cfg.Plaid.CacheTTL,
	})

	// Domain services
	a.Connections = connection.NewService(connectionRepo, plaidClient, a.Aggregator, log)
	a.Reminders = reminder.NewService(preferenceRepo)
	a.Users = user.NewService(userRepo, log)
	a.Notifications = notification.NewService(notificationRepo, log)

	// Delivery
	emailTransport, err := newEmailTransport(ctx, cfg.Email, log)
	if err != nil {
		return err
	}

	var messenger notification.Messenger
	if cfg.Firebase.CredentialsFile != "" {
		fcm, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile, a.Notifications.DeactivateToken, log)
		if err != nil {
			return err
		}
		messenger = fcm
		log.Info("push delivery enabled")
	} else {
		log.Warn("FIREBASE_CREDENTIALS_FILE not set, push reminders will fail permanently")
	}

	msgs, err := messages.Load(cfg.Email.MessagesFile)
	if err != nil {
		return err
	}
	renderer, err := notification.NewRenderer(msgs)
	if err != nil {
		return err
	}
	notifier := notification.NewNotifier(a.Users, emailTransport, notificationRepo, messenger, renderer, log).
		WithTimeout(cfg.Email.SendTimeout)

	a.Engine = reminder.NewEngine(a.Aggregator, a.Reminders, a.Ledger, notifier, log, reminder.Options{
		UserConcurrency: cfg.Scheduler.UserConcurrency,
	})
	return nil
}

// Close releases all resources, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// OpenLedger opens the configured dispatch ledger backend.
func OpenLedger(db *postgres.DB, cfg config.LedgerConfig) (dispatch.Ledger, error) {
	switch cfg.Backend {
	case "bolt":
		l, err := bolt.Open(cfg.BoltPath, cfg.ClaimTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt ledger: %w", err)
		}
		return l, nil
	default:
		return postgres.NewLedgerRepository(db, cfg.ClaimTTL), nil
	}
}

// Retention converts the configured retention days to a duration.
func Retention(cfg config.LedgerConfig) time.Duration {
	return time.Duration(cfg.RetentionDays) * 24 * time.Hour
}

func newEmailTransport(ctx context.Context, cfg config.EmailConfig, log *zap.Logger) (notification.EmailTransport, error) {
	if cfg.Transport == "ses" {
		ses, err := email.NewSES(ctx, cfg.Region, cfg.From, log)
		if err != nil {
			return nil, err
		}
		return ses, nil
	}
	log.Warn("EMAIL_TRANSPORT=log, reminder emails are logged and not delivered")
	return email.NewLog(log), nil
}
