package http

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"bract/internal/domain/notification"
)

// DeviceRegistrar registers push device tokens.
type DeviceRegistrar interface {
	RegisterDevice(ctx context.Context, params notification.CreateDeviceTokenParams) (*notification.DeviceToken, error)
}

type NotificationHandler struct {
	devices DeviceRegistrar
	log     *zap.Logger
}

func NewNotificationHandler(devices DeviceRegistrar, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{devices: devices, log: log.With(zap.String("handler", "notifications"))}
}

type RegisterDeviceRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"`
}

// HandleRegisterDevice handles POST /notifications/devices
func (h *NotificationHandler) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req RegisterDeviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.devices.RegisterDevice(r.Context(), notification.CreateDeviceTokenParams{
		UserID:     userID,
		Token:      req.Token,
		DeviceType: req.DeviceType,
	})
	if err != nil {
		if errors.Is(err, notification.ErrInvalidToken) || errors.Is(err, notification.ErrInvalidDeviceType) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondInternal(w, h.log, "failed to register device", err, zap.String("user_id", userID))
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"token":   token.Token,
	})
}
