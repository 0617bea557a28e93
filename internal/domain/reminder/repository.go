package reminder

import "context"

// Repository defines the interface for reminder preference data access.
type Repository interface {
	ListByUser(ctx context.Context, userID string) ([]*Preference, error)
	// Upsert overwrites any existing preference for (user, stream).
	Upsert(ctx context.Context, params UpsertParams) (*Preference, error)
	Delete(ctx context.Context, userID, streamID string) error
	// ListUserIDs returns every user that has at least one preference.
	ListUserIDs(ctx context.Context) ([]string, error)
}
