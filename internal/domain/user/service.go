package user

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const (
	contactCacheSize = 10000
	contactCacheTTL  = time.Hour
)

// Service keeps user contacts current.
type Service struct {
	repo Repository
	log  *zap.Logger

	// last remembers the email written per user so steady traffic does not
	// rewrite the same row on every request.
	last *expirable.LRU[string, string]
}

func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With(zap.String("component", "user")),
		last: expirable.NewLRU[string, string](contactCacheSize, nil, contactCacheTTL),
	}
}

// Touch records the email for a user when it changed since the last call.
func (s *Service) Touch(ctx context.Context, userID, email string) error {
	if userID == "" {
		return errors.New("user ID is required")
	}
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	if prev, ok := s.last.Get(userID); ok && prev == email {
		return nil
	}

	if err := s.repo.UpsertContact(ctx, userID, email); err != nil {
		return err
	}

	s.last.Add(userID, email)

	s.log.Debug("contact updated", zap.String("user_id", userID))
	return nil
}

// Contact returns the delivery contact for a user.
func (s *Service) Contact(ctx context.Context, userID string) (*Contact, error) {
	return s.repo.GetContact(ctx, userID)
}
