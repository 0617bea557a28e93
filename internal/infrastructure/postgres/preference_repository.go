package postgres

import (
	"context"
	"fmt"

	"bract/internal/domain/notification"
	"bract/internal/domain/reminder"
)

type PreferenceRepository struct {
	db *DB
}

func NewPreferenceRepository(db *DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

func (r *PreferenceRepository) ListByUser(ctx context.Context, userID string) ([]*reminder.Preference, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, stream_id, days_before, delivery_method, created_at, updated_at
		FROM reminder_preferences
		WHERE user_id = $1
		ORDER BY stream_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder preferences: %w", err)
	}
	defer rows.Close()

	var prefs []*reminder.Preference
	for rows.Next() {
		var (
			p      reminder.Preference
			method string
		)
		if err := rows.Scan(&p.UserID, &p.StreamID, &p.DaysBefore, &method, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Method = notification.Method(method)
		prefs = append(prefs, &p)
	}
	return prefs, rows.Err()
}

func (r *PreferenceRepository) Upsert(ctx context.Context, params reminder.UpsertParams) (*reminder.Preference, error) {
	p := reminder.Preference{UserID: params.UserID, StreamID: params.StreamID, DaysBefore: params.DaysBefore, Method: params.Method}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO reminder_preferences (user_id, stream_id, days_before, delivery_method)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, stream_id) DO UPDATE
			SET days_before = EXCLUDED.days_before,
			    delivery_method = EXCLUDED.delivery_method,
			    updated_at = NOW()
		RETURNING created_at, updated_at`,
		params.UserID, params.StreamID, params.DaysBefore, string(params.Method),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert reminder preference: %w", err)
	}
	return &p, nil
}

func (r *PreferenceRepository) Delete(ctx context.Context, userID, streamID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM reminder_preferences WHERE user_id = $1 AND stream_id = $2`,
		userID, streamID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete reminder preference: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return reminder.ErrNotFound
	}
	return nil
}

func (r *PreferenceRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM reminder_preferences ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with reminders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
