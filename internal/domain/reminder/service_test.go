package reminder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bract/internal/domain/notification"
)

type MockRepository struct {
	ListByUserFunc  func(ctx context.Context, userID string) ([]*Preference, error)
	UpsertFunc      func(ctx context.Context, params UpsertParams) (*Preference, error)
	DeleteFunc      func(ctx context.Context, userID, streamID string) error
	ListUserIDsFunc func(ctx context.Context) ([]string, error)
}

func (m *MockRepository) ListByUser(ctx context.Context, userID string) ([]*Preference, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockRepository) Upsert(ctx context.Context, params UpsertParams) (*Preference, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, params)
	}
	return &Preference{UserID: params.UserID, StreamID: params.StreamID, DaysBefore: params.DaysBefore, Method: params.Method}, nil
}

func (m *MockRepository) Delete(ctx context.Context, userID, streamID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, userID, streamID)
	}
	return nil
}

func (m *MockRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	if m.ListUserIDsFunc != nil {
		return m.ListUserIDsFunc(ctx)
	}
	return nil, nil
}

func TestService_Upsert_Validation(t *testing.T) {
	tests := []struct {
		name    string
		params  UpsertParams
		wantErr error
	}{
		{name: "zero days", params: UpsertParams{UserID: "u1", StreamID: "s1", DaysBefore: 0, Method: notification.MethodEmail}, wantErr: ErrInvalidRange},
		{name: "31 days", params: UpsertParams{UserID: "u1", StreamID: "s1", DaysBefore: 31, Method: notification.MethodEmail}, wantErr: ErrInvalidRange},
		{name: "negative days", params: UpsertParams{UserID: "u1", StreamID: "s1", DaysBefore: -1, Method: notification.MethodEmail}, wantErr: ErrInvalidRange},
		{name: "one day", params: UpsertParams{UserID: "u1", StreamID: "s1", DaysBefore: 1, Method: notification.MethodEmail}},
		{name: "thirty days", params: UpsertParams{UserID: "u1", StreamID: "s1", DaysBefore: 30, Method: notification.MethodPush}},
		{name: "missing stream", params: UpsertParams{UserID: "u1", DaysBefore: 3, Method: notification.MethodEmail}, wantErr: ErrStreamRequired},
		{name: "unknown method", params: UpsertParams{UserID: "u1", StreamID: "s1", DaysBefore: 3, Method: "sms"}, wantErr: ErrInvalidMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			written := false
			repo := &MockRepository{
				UpsertFunc: func(ctx context.Context, params UpsertParams) (*Preference, error) {
					written = true
					return &Preference{StreamID: params.StreamID, DaysBefore: params.DaysBefore}, nil
				},
			}

			pref, err := NewService(repo).Upsert(context.Background(), tt.params)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, written, "invalid preference must not be stored")
				return
			}
			require.NoError(t, err)
			assert.True(t, written)
			assert.Equal(t, tt.params.DaysBefore, pref.DaysBefore)
		})
	}
}

func TestService_Get(t *testing.T) {
	repo := &MockRepository{
		ListByUserFunc: func(ctx context.Context, userID string) ([]*Preference, error) {
			return []*Preference{
				{UserID: userID, StreamID: "netflix", DaysBefore: 3, Method: notification.MethodEmail},
				{UserID: userID, StreamID: "spotify", DaysBefore: 7, Method: notification.MethodPush},
			}, nil
		},
	}

	prefs, err := NewService(repo).Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	assert.Equal(t, 7, prefs["spotify"].DaysBefore)

	_, err = NewService(repo).Get(context.Background(), "")
	assert.Error(t, err)
}

func TestService_Delete(t *testing.T) {
	var deleted string
	repo := &MockRepository{
		DeleteFunc: func(ctx context.Context, userID, streamID string) error {
			deleted = streamID
			return nil
		},
	}
	svc := NewService(repo)

	require.NoError(t, svc.Delete(context.Background(), "u1", "netflix"))
	assert.Equal(t, "netflix", deleted)
	assert.ErrorIs(t, svc.Delete(context.Background(), "u1", ""), ErrStreamRequired)
}
