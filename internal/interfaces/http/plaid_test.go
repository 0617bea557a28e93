package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bract/internal/domain/connection"
	"bract/internal/shared/middleware"
)

type MockConnectionService struct {
	CreateLinkSessionFunc func(ctx context.Context, userID string) (*connection.LinkSession, error)
	LinkFunc              func(ctx context.Context, params connection.LinkParams) (*connection.Connection, error)
	AccountsFunc          func(ctx context.Context, userID string) ([]*connection.Account, error)
	UnlinkFunc            func(ctx context.Context, userID, connectionID string) error
}

func (m *MockConnectionService) CreateLinkSession(ctx context.Context, userID string) (*connection.LinkSession, error) {
	if m.CreateLinkSessionFunc != nil {
		return m.CreateLinkSessionFunc(ctx, userID)
	}
	return &connection.LinkSession{}, nil
}

func (m *MockConnectionService) Link(ctx context.Context, params connection.LinkParams) (*connection.Connection, error) {
	if m.LinkFunc != nil {
		return m.LinkFunc(ctx, params)
	}
	return &connection.Connection{ID: "item-1"}, nil
}

func (m *MockConnectionService) Accounts(ctx context.Context, userID string) ([]*connection.Account, error) {
	if m.AccountsFunc != nil {
		return m.AccountsFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockConnectionService) Unlink(ctx context.Context, userID, connectionID string) error {
	if m.UnlinkFunc != nil {
		return m.UnlinkFunc(ctx, userID, connectionID)
	}
	return nil
}

func authedRequest(method, target string, body any, userID string) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if userID != "" {
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
	}
	return req
}

func TestPlaidHandler_LinkToken(t *testing.T) {
	svc := &MockConnectionService{
		CreateLinkSessionFunc: func(ctx context.Context, userID string) (*connection.LinkSession, error) {
			assert.Equal(t, "u1", userID)
			return &connection.LinkSession{LinkToken: "link-sandbox-1", Expiration: time.Date(2024, 6, 7, 12, 0, 0, 0, time.UTC)}, nil
		},
	}
	h := NewPlaidHandler(svc, zap.NewNop())

	rr := httptest.NewRecorder()
	h.HandleLinkToken(rr, authedRequest(http.MethodPost, "/plaid/link-token", nil, "u1"))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"link_token":"link-sandbox-1","expiration":"2024-06-07T12:00:00Z"}`, rr.Body.String())
}

func TestPlaidHandler_Unauthorized(t *testing.T) {
	h := NewPlaidHandler(&MockConnectionService{}, zap.NewNop())

	handlers := map[string]http.HandlerFunc{
		"link-token":     h.HandleLinkToken,
		"exchange-token": h.HandleExchangeToken,
		"accounts":       h.HandleAccounts,
		"unlink":         h.HandleUnlink,
	}
	for name, handle := range handlers {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handle(rr, authedRequest(http.MethodPost, "/plaid/"+name, nil, ""))
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func TestPlaidHandler_ExchangeToken(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		linkErr        error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Success",
			body:           ExchangeTokenRequest{PublicToken: "public-1", InstitutionID: "ins_1", InstitutionName: "Chase"},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"item_id":"item-1"}`,
		},
		{
			name:           "Missing public token",
			body:           ExchangeTokenRequest{},
			linkErr:        connection.ErrPublicTokenNeeded,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Already linked",
			body:           ExchangeTokenRequest{PublicToken: "public-1"},
			linkErr:        connection.ErrAlreadyLinked,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "Provider failure",
			body:           ExchangeTokenRequest{PublicToken: "public-1"},
			linkErr:        errors.New("INVALID_PUBLIC_TOKEN"),
			expectedStatus: http.StatusBadGateway,
		},
		{
			name:           "Invalid body",
			body:           "not-an-object",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockConnectionService{
				LinkFunc: func(ctx context.Context, params connection.LinkParams) (*connection.Connection, error) {
					assert.Equal(t, "u1", params.UserID)
					if tt.linkErr != nil {
						return nil, tt.linkErr
					}
					return &connection.Connection{ID: "item-1", Credential: connection.NewCredential("access-secret")}, nil
				},
			}
			h := NewPlaidHandler(svc, zap.NewNop())

			rr := httptest.NewRecorder()
			h.HandleExchangeToken(rr, authedRequest(http.MethodPost, "/plaid/exchange-token", tt.body, "u1"))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.NotContains(t, rr.Body.String(), "access-secret")
			if tt.expectedBody != "" {
				assert.JSONEq(t, tt.expectedBody, rr.Body.String())
			}
		})
	}
}

func TestPlaidHandler_Accounts(t *testing.T) {
	svc := &MockConnectionService{
		AccountsFunc: func(ctx context.Context, userID string) ([]*connection.Account, error) {
			return []*connection.Account{{ID: "acc-1", ConnectionID: "item-1", Name: "Checking", Type: "depository"}}, nil
		},
	}
	h := NewPlaidHandler(svc, zap.NewNop())

	rr := httptest.NewRecorder()
	h.HandleAccounts(rr, authedRequest(http.MethodGet, "/plaid/accounts", nil, "u1"))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp AccountsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Accounts, 1)
	assert.Equal(t, "acc-1", resp.Accounts[0].ID)

	empty := NewPlaidHandler(&MockConnectionService{}, zap.NewNop())
	rr = httptest.NewRecorder()
	empty.HandleAccounts(rr, authedRequest(http.MethodGet, "/plaid/accounts", nil, "u1"))
	assert.JSONEq(t, `{"accounts":[]}`, rr.Body.String())
}

func TestPlaidHandler_Unlink(t *testing.T) {
	tests := []struct {
		name           string
		unlinkErr      error
		expectedStatus int
	}{
		{name: "Success", expectedStatus: http.StatusNoContent},
		{name: "Not found", unlinkErr: connection.ErrNotFound, expectedStatus: http.StatusNotFound},
		{name: "Storage failure", unlinkErr: errors.New("db down"), expectedStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var unlinked string
			svc := &MockConnectionService{
				UnlinkFunc: func(ctx context.Context, userID, connectionID string) error {
					unlinked = connectionID
					return tt.unlinkErr
				},
			}
			h := NewPlaidHandler(svc, zap.NewNop())

			req := mux.SetURLVars(authedRequest(http.MethodDelete, "/plaid/items/item-1", nil, "u1"), map[string]string{"item_id": "item-1"})
			rr := httptest.NewRecorder()
			h.HandleUnlink(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "item-1", unlinked)
		})
	}
}
