package plaid

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bract/internal/domain/connection"
	"bract/internal/domain/subscription"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		ClientID:    "client-id",
		Secret:      "secret",
		ClientName:  "Bract",
		BaseURL:     srv.URL,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
	}, zap.NewNop())
}

func TestClient_CreateLinkSession(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, linkTokenPath, r.URL.Path)
		assert.Equal(t, "client-id", r.Header.Get("PLAID-CLIENT-ID"))
		assert.Equal(t, "secret", r.Header.Get("PLAID-SECRET"))

		var req linkTokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u1", req.User.ClientUserID)
		assert.Equal(t, []string{"transactions"}, req.Products)
		assert.Equal(t, []string{"US"}, req.CountryCodes)

		w.Write([]byte(`{"link_token":"link-sandbox-123","expiration":"2024-06-07T12:00:00Z","request_id":"r1"}`))
	})

	session, err := client.CreateLinkSession(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "link-sandbox-123", session.LinkToken)
	assert.Equal(t, time.Date(2024, 6, 7, 12, 0, 0, 0, time.UTC), session.Expiration.UTC())
}

func TestClient_ExchangePublicToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"public_token":"public-sandbox-1"}`, string(body))
		w.Write([]byte(`{"access_token":"access-sandbox-1","item_id":"item-1"}`))
	})

	ex, err := client.ExchangePublicToken(context.Background(), "public-sandbox-1")
	require.NoError(t, err)
	assert.Equal(t, "item-1", ex.ItemID)
	assert.Equal(t, "access-sandbox-1", ex.Credential.Reveal())
}

func TestClient_ListAccounts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, accountsPath, r.URL.Path)
		w.Write([]byte(`{
			"accounts": [
				{"account_id":"acc-1","name":"Checking","official_name":"Plaid Gold Checking","type":"depository","subtype":"checking","mask":"0000"},
				{"account_id":"acc-2","name":"Credit Card","official_name":null,"type":"credit","subtype":"credit card","mask":"3333"}
			],
			"item": {"item_id":"item-1"}
		}`))
	})

	accounts, err := client.ListAccounts(context.Background(), connection.NewCredential("access-1"))
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "item-1", accounts[0].ConnectionID)
	assert.Equal(t, "Plaid Gold Checking", accounts[0].OfficialName)
	assert.Empty(t, accounts[1].OfficialName)
}

func TestClient_ListRecurringStreams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req accessTokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "access-1", req.AccessToken)

		w.Write([]byte(`{
			"inflow_streams": [{"stream_id":"salary"}],
			"outflow_streams": [{
				"stream_id": "netflix",
				"merchant_name": "Netflix",
				"description": "NETFLIX.COM",
				"frequency": "MONTHLY",
				"predicted_next_date": "2024-06-10",
				"is_active": true,
				"average_amount": {"amount": 15.49, "iso_currency_code": "USD", "unofficial_currency_code": null},
				"last_amount": {"amount": 15.49, "iso_currency_code": "USD", "unofficial_currency_code": null},
				"personal_finance_category": {"primary": "ENTERTAINMENT", "detailed": "ENTERTAINMENT_TV_AND_MOVIES"}
			}]
		}`))
	})

	streams, err := client.ListRecurringStreams(context.Background(), connection.NewCredential("access-1"))
	require.NoError(t, err)
	require.Len(t, streams, 1)

	s := streams[0]
	assert.Equal(t, "netflix", s.StreamID)
	assert.Equal(t, "ENTERTAINMENT_TV_AND_MOVIES", s.Category)
	assert.True(t, s.IsActive)

	money, err := subscription.NormalizeAmount(s.AverageAmount, s.CurrencyCode)
	require.NoError(t, err)
	assert.Equal(t, "USD 15.49", money.String())
}

func TestClient_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error_type":"RATE_LIMIT_EXCEEDED","error_code":"RATE_LIMIT","error_message":"slow down"}`))
			return
		}
		w.Write([]byte(`{"removed":true}`))
	})

	require.NoError(t, client.RemoveItem(context.Background(), connection.NewCredential("access-1")))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantCalls     int32
		wantRetryable bool
		wantLogin     bool
	}{
		{
			name:      "item login required is not retried",
			status:    http.StatusBadRequest,
			body:      `{"error_type":"ITEM_ERROR","error_code":"ITEM_LOGIN_REQUIRED","error_message":"login required","request_id":"r1"}`,
			wantCalls: 1,
			wantLogin: true,
		},
		{
			name:          "server errors exhaust attempts",
			status:        http.StatusInternalServerError,
			body:          `{"error_type":"API_ERROR","error_code":"INTERNAL_SERVER_ERROR","error_message":"oops"}`,
			wantCalls:     3,
			wantRetryable: true,
		},
		{
			name:      "unparseable error body",
			status:    http.StatusBadRequest,
			body:      `<html>bad gateway</html>`,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.ListRecurringStreams(context.Background(), connection.NewCredential("access-secret-value"))
			require.Error(t, err)

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.status, pe.Status)
			assert.Equal(t, tt.wantRetryable, pe.Retryable)
			assert.Equal(t, tt.wantLogin, errors.Is(err, connection.ErrLoginRequired))
			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.False(t, strings.Contains(err.Error(), "access-secret-value"), "credential leaked into error")
		})
	}
}

func TestClient_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, MaxAttempts: 5, Backoff: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.RemoveItem(ctx, connection.NewCredential("access-1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, sandboxURL, BaseURL("sandbox"))
	assert.Equal(t, sandboxURL, BaseURL("development"))
	assert.Equal(t, productionURL, BaseURL("production"))
}
