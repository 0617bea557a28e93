package plaid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bract/internal/domain/connection"
	"bract/internal/domain/subscription"
)

const (
	sandboxURL    = "https://sandbox.plaid.com"
	productionURL = "https://production.plaid.com"

	linkTokenPath  = "/link/token/create"
	exchangePath   = "/item/public_token/exchange"
	accountsPath   = "/accounts/get"
	itemRemovePath = "/item/remove"
	recurringPath  = "/transactions/recurring/get"
	defaultTimeout = 30 * time.Second
	defaultBackoff = 250 * time.Millisecond
)

var meter = otel.Meter("bract/plaid")

var requests, _ = meter.Int64Counter("plaid.request.total",
	metric.WithDescription("Plaid API requests by endpoint and outcome"))

// Client talks to the Plaid REST API. It implements connection.Provider and
// subscription.Provider.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	clientID    string
	secret      string
	clientName  string
	maxAttempts int
	backoff     time.Duration
	limiter     *rate.Limiter
	log         *zap.Logger
}

var (
	_ connection.Provider   = (*Client)(nil)
	_ subscription.Provider = (*Client)(nil)
)

type Config struct {
	ClientID   string
	Secret     string
	Env        string
	ClientName string
	Timeout    time.Duration
	// MaxAttempts counts the first try.
	MaxAttempts int
	// RateLimit is requests per second across all callers; zero means unlimited.
	RateLimit float64
	// BaseURL overrides the environment's host.
	BaseURL string
	Backoff time.Duration
}

// BaseURL maps an environment name to its API host. Plaid retired its
// development host, so "development" points at sandbox.
func BaseURL(env string) string {
	if env == "production" {
		return productionURL
	}
	return sandboxURL
}

// NewClient creates a new Plaid API client
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaseURL(cfg.Env)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:     cfg.BaseURL,
		clientID:    cfg.ClientID,
		secret:      cfg.Secret,
		clientName:  cfg.ClientName,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		limiter:     limiter,
		log:         log.With(zap.String("component", "plaid")),
	}
}

// ProviderError is a non-success answer from Plaid.
type ProviderError struct {
	Status    int
	Type      string
	Code      string
	Message   string
	RequestID string
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("plaid request failed with status %d", e.Status)
	}
	return fmt.Sprintf("plaid error %s/%s (status %d): %s", e.Type, e.Code, e.Status, e.Message)
}

// Is matches connection.ErrLoginRequired when the item needs the user to
// re-authenticate.
func (e *ProviderError) Is(target error) bool {
	return target == connection.ErrLoginRequired && e.Code == "ITEM_LOGIN_REQUIRED"
}

type errorResponse struct {
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	RequestID    string `json:"request_id"`
}

func retryableStatus(status int, errorType string) bool {
	switch errorType {
	case "RATE_LIMIT_EXCEEDED", "API_ERROR", "INSTITUTION_ERROR":
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}

type linkTokenUser struct {
	ClientUserID string `json:"client_user_id"`
}

type linkTokenRequest struct {
	ClientName   string        `json:"client_name"`
	Language     string        `json:"language"`
	CountryCodes []string      `json:"country_codes"`
	Products     []string      `json:"products"`
	User         linkTokenUser `json:"user"`
}

type linkTokenResponse struct {
	LinkToken  string    `json:"link_token"`
	Expiration time.Time `json:"expiration"`
}

type accessTokenRequest struct {
	AccessToken string `json:"access_token"`
}

type exchangeRequest struct {
	PublicToken string `json:"public_token"`
}

type exchangeResponse struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
}

type accountsResponse struct {
	Accounts []struct {
		AccountID    string `json:"account_id"`
		Name         string `json:"name"`
		OfficialName string `json:"official_name"`
		Type         string `json:"type"`
		Subtype      string `json:"subtype"`
		Mask         string `json:"mask"`
	} `json:"accounts"`
	Item struct {
		ItemID string `json:"item_id"`
	} `json:"item"`
}

// OutflowStream is one entry of outflow_streams. Amount objects are kept raw
// and normalized by the subscription package.
type OutflowStream struct {
	StreamID                string          `json:"stream_id"`
	MerchantName            string          `json:"merchant_name"`
	Description             string          `json:"description"`
	Frequency               string          `json:"frequency"`
	PredictedNextDate       string          `json:"predicted_next_date"`
	IsActive                bool            `json:"is_active"`
	AverageAmount           json.RawMessage `json:"average_amount"`
	LastAmount              json.RawMessage `json:"last_amount"`
	PersonalFinanceCategory *struct {
		Primary  string `json:"primary"`
		Detailed string `json:"detailed"`
	} `json:"personal_finance_category"`
}

type recurringResponse struct {
	OutflowStreams []OutflowStream `json:"outflow_streams"`
}

// CreateLinkSession issues a link token for the transactions product.
func (c *Client) CreateLinkSession(ctx context.Context, userID string) (*connection.LinkSession, error) {
	req := linkTokenRequest{
		ClientName:   c.clientName,
		Language:     "en",
		CountryCodes: []string{"US"},
		Products:     []string{"transactions"},
		User:         linkTokenUser{ClientUserID: userID},
	}

	var resp linkTokenResponse
	if err := c.post(ctx, linkTokenPath, req, &resp); err != nil {
		return nil, err
	}
	return &connection.LinkSession{LinkToken: resp.LinkToken, Expiration: resp.Expiration}, nil
}

// ExchangePublicToken trades a public token for the item's access token.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (*connection.Exchange, error) {
	var resp exchangeResponse
	if err := c.post(ctx, exchangePath, exchangeRequest{PublicToken: publicToken}, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" || resp.ItemID == "" {
		return nil, fmt.Errorf("plaid exchange returned an incomplete item")
	}
	return &connection.Exchange{ItemID: resp.ItemID, Credential: connection.NewCredential(resp.AccessToken)}, nil
}

func (c *Client) ListAccounts(ctx context.Context, credential connection.Credential) ([]*connection.Account, error) {
	var resp accountsResponse
	if err := c.post(ctx, accountsPath, accessTokenRequest{AccessToken: credential.Reveal()}, &resp); err != nil {
		return nil, err
	}

	accounts := make([]*connection.Account, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		accounts = append(accounts, &connection.Account{
			ID:           a.AccountID,
			ConnectionID: resp.Item.ItemID,
			Name:         a.Name,
			OfficialName: a.OfficialName,
			Type:         a.Type,
			Subtype:      a.Subtype,
			Mask:         a.Mask,
		})
	}
	return accounts, nil
}

func (c *Client) RemoveItem(ctx context.Context, credential connection.Credential) error {
	return c.post(ctx, itemRemovePath, accessTokenRequest{AccessToken: credential.Reveal()}, nil)
}

// ListRecurringStreams returns the item's outflow streams. Inflow streams are
// ignored.
func (c *Client) ListRecurringStreams(ctx context.Context, credential connection.Credential) ([]subscription.RawStream, error) {
	var resp recurringResponse
	if err := c.post(ctx, recurringPath, accessTokenRequest{AccessToken: credential.Reveal()}, &resp); err != nil {
		return nil, err
	}

	streams := make([]subscription.RawStream, 0, len(resp.OutflowStreams))
	for _, s := range resp.OutflowStreams {
		rs := subscription.RawStream{
			StreamID:          s.StreamID,
			MerchantName:      s.MerchantName,
			Description:       s.Description,
			Frequency:         s.Frequency,
			PredictedNextDate: s.PredictedNextDate,
			IsActive:          s.IsActive,
			AverageAmount:     s.AverageAmount,
			LastAmount:        s.LastAmount,
		}
		if s.PersonalFinanceCategory != nil {
			rs.Category = s.PersonalFinanceCategory.Detailed
		}
		streams = append(streams, rs)
	}
	return streams, nil
}

// post sends one API call, retrying transport failures and retryable Plaid
// errors with exponential backoff. out may be nil.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := c.backoff << (attempt - 2)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		body, status, err := c.do(ctx, path, payload)
		if err != nil {
			requests.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", path), attribute.String("outcome", "transport_error")))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			c.log.Warn("plaid request failed", zap.String("endpoint", path), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		if status == http.StatusOK {
			requests.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", path), attribute.String("outcome", "ok")))
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("failed to unmarshal %s response: %w", path, err)
			}
			return nil
		}

		perr := parseError(status, body)
		requests.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", path), attribute.String("outcome", "api_error")))
		if !perr.Retryable {
			return perr
		}
		lastErr = perr
		c.log.Warn("plaid request will be retried",
			zap.String("endpoint", path),
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.String("error_code", perr.Code),
			zap.String("request_id", perr.RequestID),
		)
	}
	return fmt.Errorf("plaid %s failed after %d attempts: %w", path, c.maxAttempts, lastErr)
}

func (c *Client) do(ctx context.Context, path string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("PLAID-CLIENT-ID", c.clientID)
	req.Header.Set("PLAID-SECRET", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func parseError(status int, body []byte) *ProviderError {
	var er errorResponse
	_ = json.Unmarshal(body, &er)
	return &ProviderError{
		Status:    status,
		Type:      er.ErrorType,
		Code:      er.ErrorCode,
		Message:   er.ErrorMessage,
		RequestID: er.RequestID,
		Retryable: retryableStatus(status, er.ErrorType),
	}
}
