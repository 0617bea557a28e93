package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bract/internal/domain/user"
)

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) UpsertContact(ctx context.Context, userID, email string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_contacts (user_id, email)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
			SET email = EXCLUDED.email, updated_at = NOW()
			WHERE user_contacts.email <> EXCLUDED.email`,
		userID, email,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

func (r *UserRepository) GetContact(ctx context.Context, userID string) (*user.Contact, error) {
	var c user.Contact
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, email, updated_at FROM user_contacts WHERE user_id = $1`,
		userID,
	).Scan(&c.UserID, &c.Email, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &c, nil
}
