package reminder

import (
	"context"
	"errors"
)

// Service contains the business logic for reminder preferences. It never
// invents a default: a stream without a stored preference gets no reminder.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the user's preferences keyed by stream ID.
func (s *Service) Get(ctx context.Context, userID string) (map[string]*Preference, error) {
	if userID == "" {
		return nil, errors.New("user ID is required")
	}

	prefs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*Preference, len(prefs))
	for _, p := range prefs {
		out[p.StreamID] = p
	}
	return out, nil
}

// Upsert validates and stores a preference, replacing any previous one.
func (s *Service) Upsert(ctx context.Context, params UpsertParams) (*Preference, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Upsert(ctx, params)
}

// Delete removes the preference for a stream.
func (s *Service) Delete(ctx context.Context, userID, streamID string) error {
	if streamID == "" {
		return ErrStreamRequired
	}
	return s.repo.Delete(ctx, userID, streamID)
}

// Users lists the users the reminder tick must evaluate.
func (s *Service) Users(ctx context.Context) ([]string, error) {
	return s.repo.ListUserIDs(ctx)
}
