package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"bract/internal/domain/notification"
)

type registrarFunc func(ctx context.Context, params notification.CreateDeviceTokenParams) (*notification.DeviceToken, error)

func (f registrarFunc) RegisterDevice(ctx context.Context, params notification.CreateDeviceTokenParams) (*notification.DeviceToken, error) {
	return f(ctx, params)
}

func TestNotificationHandler_RegisterDevice(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		registerErr    error
		expectedStatus int
	}{
		{name: "Success", body: RegisterDeviceRequest{Token: "fcm-1", DeviceType: "ios"}, expectedStatus: http.StatusCreated},
		{name: "Invalid device type", body: RegisterDeviceRequest{Token: "fcm-1", DeviceType: "pager"}, registerErr: notification.ErrInvalidDeviceType, expectedStatus: http.StatusBadRequest},
		{name: "Missing token", body: RegisterDeviceRequest{DeviceType: "ios"}, registerErr: notification.ErrInvalidToken, expectedStatus: http.StatusBadRequest},
		{name: "Storage failure", body: RegisterDeviceRequest{Token: "fcm-1", DeviceType: "ios"}, registerErr: errors.New("db down"), expectedStatus: http.StatusInternalServerError},
		{name: "Invalid body", body: []int{1}, expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewNotificationHandler(registrarFunc(func(ctx context.Context, params notification.CreateDeviceTokenParams) (*notification.DeviceToken, error) {
				assert.Equal(t, "u1", params.UserID)
				if tt.registerErr != nil {
					return nil, tt.registerErr
				}
				return &notification.DeviceToken{Token: params.Token, DeviceType: params.DeviceType, IsActive: true}, nil
			}), zap.NewNop())

			rr := httptest.NewRecorder()
			h.HandleRegisterDevice(rr, authedRequest(http.MethodPost, "/notifications/devices", tt.body, "u1"))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusCreated {
				assert.JSONEq(t, `{"success":true,"token":"fcm-1"}`, rr.Body.String())
			}
		})
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandler(pingFunc(func(context.Context) error { return nil }), zap.NewNop()).HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	NewHealthHandler(pingFunc(func(context.Context) error { return errors.New("refused") }), zap.NewNop()).HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
