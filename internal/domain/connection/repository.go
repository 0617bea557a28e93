package connection

import "context"

// Repository defines the interface for connection data access.
// Defined in the domain layer, implemented in the infrastructure layer.
type Repository interface {
	Create(ctx context.Context, conn *Connection, accounts []*Account) error
	Get(ctx context.Context, userID, connectionID string) (*Connection, error)
	ListByUser(ctx context.Context, userID string) ([]*Connection, error)
	Delete(ctx context.Context, userID, connectionID string) error
	ListAccounts(ctx context.Context, userID string) ([]*Account, error)
}

// Provider is the part of the aggregation provider used for linking.
type Provider interface {
	CreateLinkSession(ctx context.Context, userID string) (*LinkSession, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (*Exchange, error)
	ListAccounts(ctx context.Context, credential Credential) ([]*Account, error)
	RemoveItem(ctx context.Context, credential Credential) error
}

// CacheInvalidator drops any cached provider data for a connection.
type CacheInvalidator interface {
	Invalidate(connectionID string)
}
