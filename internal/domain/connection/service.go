package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Service owns the bank connection lifecycle: link, list and unlink. It is the
// only writer of access credentials.
type Service struct {
	repo     Repository
	provider Provider
	cache    CacheInvalidator
	log      *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, provider Provider, cache CacheInvalidator, log *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		cache:    cache,
		log:      log.With(zap.String("component", "connection")),
		now:      time.Now,
	}
}

func (s *Service) CreateLinkSession(ctx context.Context, userID string) (*LinkSession, error) {
	if userID == "" {
		return nil, errors.New("user ID is required")
	}
	return s.provider.CreateLinkSession(ctx, userID)
}

// Link exchanges a public token for an access credential and stores the new
// connection together with its accounts. An account listing failure does not
// undo the link.
func (s *Service) Link(ctx context.Context, params LinkParams) (*Connection, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	exchange, err := s.provider.ExchangePublicToken(ctx, params.PublicToken)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange public token: %w", err)
	}

	conn := &Connection{
		ID:              exchange.ItemID,
		UserID:          params.UserID,
		InstitutionID:   params.InstitutionID,
		InstitutionName: params.InstitutionName,
		Credential:      exchange.Credential,
		LinkedAt:        s.now().UTC(),
	}

	accounts, err := s.provider.ListAccounts(ctx, exchange.Credential)
	if err != nil {
		s.log.Warn("failed to list accounts for new connection",
			zap.String("user_id", params.UserID),
			zap.String("item_id", conn.ID),
			zap.Error(err),
		)
		accounts = nil
	}
	for _, a := range accounts {
		a.ConnectionID = conn.ID
	}

	if err := s.repo.Create(ctx, conn, accounts); err != nil {
		return nil, err
	}

	s.log.Info("bank connection linked",
		zap.String("user_id", params.UserID),
		zap.String("item_id", conn.ID),
		zap.Int("accounts", len(accounts)),
	)
	return conn, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]*Connection, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *Service) Accounts(ctx context.Context, userID string) ([]*Account, error) {
	return s.repo.ListAccounts(ctx, userID)
}

// Unlink revokes the connection at the provider, deletes it and drops any
// cached subscription streams for it. A provider revocation failure is logged;
// the local record is removed regardless.
func (s *Service) Unlink(ctx context.Context, userID, connectionID string) error {
	conn, err := s.repo.Get(ctx, userID, connectionID)
	if err != nil {
		return err
	}

	if err := s.provider.RemoveItem(ctx, conn.Credential); err != nil {
		s.log.Warn("provider item removal failed",
			zap.String("user_id", userID),
			zap.String("item_id", connectionID),
			zap.Error(err),
		)
	}

	if err := s.repo.Delete(ctx, userID, connectionID); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(connectionID)
	}

	s.log.Info("bank connection unlinked", zap.String("user_id", userID), zap.String("item_id", connectionID))
	return nil
}
