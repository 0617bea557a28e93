package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"bract/internal/shared/config"
	"bract/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config, log *zap.Logger) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Tracing)

	// Health check
	r.HandleFunc("/health", deps.HealthHandler.HandleHealth).Methods(http.MethodGet)

	// Protected routes
	api := r.NewRoute().Subrouter()
	api.Use(middleware.Auth(deps.JWT), middleware.RecordContact(deps.Users, log))

	api.HandleFunc("/plaid/link-token", deps.PlaidHandler.HandleLinkToken).Methods(http.MethodPost)
	api.HandleFunc("/plaid/exchange-token", deps.PlaidHandler.HandleExchangeToken).Methods(http.MethodPost)
	api.HandleFunc("/plaid/accounts", deps.PlaidHandler.HandleAccounts).Methods(http.MethodGet)
	api.HandleFunc("/plaid/items/{item_id}", deps.PlaidHandler.HandleUnlink).Methods(http.MethodDelete)

	api.HandleFunc("/subscriptions", deps.SubscriptionHandler.HandleSubscriptions).Methods(http.MethodGet)

	api.HandleFunc("/reminders", deps.ReminderHandler.HandleListReminders).Methods(http.MethodGet)
	api.HandleFunc("/reminders", deps.ReminderHandler.HandleSetReminder).Methods(http.MethodPost)
	api.HandleFunc("/reminders/failures", deps.ReminderHandler.HandleListFailures).Methods(http.MethodGet)
	api.HandleFunc("/reminders/{stream_id}", deps.ReminderHandler.HandleDeleteReminder).Methods(http.MethodDelete)

	api.HandleFunc("/notifications/devices", deps.NotificationHandler.HandleRegisterDevice).Methods(http.MethodPost)

	// Apply global middleware
	handler := middleware.Telemetry(middleware.Logging(log)(middleware.CORS(cfg.Server.AllowedHosts)(r)))

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(handler)
		log.Info("TLS security middleware enabled (HSTS)")
	}

	return handler
}
