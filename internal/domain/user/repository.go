package user

import "context"

// Repository defines the interface for contact data access
type Repository interface {
	UpsertContact(ctx context.Context, userID, email string) error
	GetContact(ctx context.Context, userID string) (*Contact, error)
}
