package notification

import (
	"context"

	"go.uber.org/zap"
)

// Service manages the push devices reminders can be delivered to.
type Service struct {
	repo Repository
	log  *zap.Logger
}

// NewService creates a new notification service
func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{repo: repo, log: log.With(zap.String("component", "notification"))}
}

// RegisterDevice registers a device token for the authenticated user.
// If the token already belongs to another user, it is reassigned.
func (s *Service) RegisterDevice(ctx context.Context, params CreateDeviceTokenParams) (*DeviceToken, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	token, err := s.repo.UpsertDeviceToken(ctx, params)
	if err != nil {
		return nil, err
	}

	s.log.Info("device registered",
		zap.String("user_id", params.UserID),
		zap.String("device_type", params.DeviceType),
	)
	return token, nil
}

// DeactivateToken marks a token rejected by the push provider as inactive.
func (s *Service) DeactivateToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	return s.repo.DeactivateToken(ctx, token)
}
