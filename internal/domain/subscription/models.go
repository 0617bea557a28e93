package subscription

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Domain errors
var (
	// ErrNoLinkedAccounts is the expected empty state for a user without bank
	// connections. Callers render it as an empty list, not a failure.
	ErrNoLinkedAccounts = errors.New("no linked accounts")

	// ErrAllConnectionsFailed is returned when every connection of the user
	// failed; the result still carries the per-connection errors.
	ErrAllConnectionsFailed = errors.New("all bank connections failed")

	ErrUnrecognizedAmount = errors.New("unrecognized amount shape")
)

type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyAnnually Frequency = "annually"
	FrequencyOther    Frequency = "other"
)

// ParseFrequency maps a provider frequency label onto the domain enum.
func ParseFrequency(s string) Frequency {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WEEKLY":
		return FrequencyWeekly
	case "BIWEEKLY":
		return FrequencyBiweekly
	case "MONTHLY":
		return FrequencyMonthly
	case "ANNUALLY", "YEARLY":
		return FrequencyAnnually
	default:
		return FrequencyOther
	}
}

// Money is a provider-reported amount. Currency is passed through untouched.
type Money struct {
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currency_code"`
}

func (m Money) String() string {
	if m.CurrencyCode == "" {
		return m.Amount.StringFixed(2)
	}
	return m.CurrencyCode + " " + m.Amount.StringFixed(2)
}

// Date is a calendar date without time of day, serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate truncates t to its calendar date in t's location, expressed in UTC.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// AddDays returns the date n days later (earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{d.AddDate(0, 0, n)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Stream is one recurring outgoing payment series reported by a connection.
// Its identity is (ConnectionID, StreamID).
type Stream struct {
	ConnectionID      string    `json:"connection_id"`
	StreamID          string    `json:"stream_id"`
	MerchantName      string    `json:"merchant_name"`
	Description       string    `json:"description"`
	Category          string    `json:"category,omitempty"`
	Frequency         Frequency `json:"frequency"`
	AverageAmount     Money     `json:"average_amount"`
	LastAmount        Money     `json:"last_amount"`
	PredictedNextDate Date      `json:"predicted_next_date"`
	IsActive          bool      `json:"is_active"`
}

// DisplayName is the merchant name, or the description when the provider
// could not resolve a merchant.
func (s *Stream) DisplayName() string {
	if s.MerchantName != "" {
		return s.MerchantName
	}
	return s.Description
}

// ConnectionError reports a connection that could not be aggregated, or a
// single stream of it that could not be normalized.
type ConnectionError struct {
	ConnectionID string `json:"connection_id"`
	StreamID     string `json:"stream_id,omitempty"`
	Err          error  `json:"-"`
}

func (e *ConnectionError) Error() string {
	if e.StreamID != "" {
		return fmt.Sprintf("connection %s stream %s: %v", e.ConnectionID, e.StreamID, e.Err)
	}
	return fmt.Sprintf("connection %s: %v", e.ConnectionID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// FetchResult is the merged view of a user's subscriptions. Errors lists the
// connections (or streams) that did not contribute.
type FetchResult struct {
	Streams []Stream
	Errors  []*ConnectionError
}

// Partial reports whether some connection failed.
func (r *FetchResult) Partial() bool {
	return len(r.Errors) > 0
}
