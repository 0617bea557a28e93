package subscription

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MarshalJSON writes the amount as a JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	currency, err := json.Marshal(m.CurrencyCode)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"amount":`)
	buf.WriteString(m.Amount.String())
	buf.WriteString(`,"currency_code":`)
	buf.Write(currency)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type moneyObject struct {
	Amount                 json.RawMessage `json:"amount"`
	ISOCurrencyCode        *string         `json:"iso_currency_code"`
	UnofficialCurrencyCode *string         `json:"unofficial_currency_code"`
	CurrencyCode           *string         `json:"currency_code"`
}

// NormalizeAmount turns a provider amount into Money. Accepted shapes are a
// bare JSON number, a numeric string, and an object carrying "amount" plus an
// optional currency code. fallbackCurrency applies when the value itself names
// no currency. Anything else fails with ErrUnrecognizedAmount.
func NormalizeAmount(raw json.RawMessage, fallbackCurrency string) (Money, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Money{}, fmt.Errorf("%w: empty", ErrUnrecognizedAmount)
	}

	switch raw[0] {
	case '{':
		var obj moneyObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return Money{}, fmt.Errorf("%w: %v", ErrUnrecognizedAmount, err)
		}
		if len(obj.Amount) == 0 || obj.Amount[0] == '{' {
			return Money{}, fmt.Errorf("%w: object without scalar amount", ErrUnrecognizedAmount)
		}
		amount, err := parseScalar(obj.Amount)
		if err != nil {
			return Money{}, err
		}
		return Money{Amount: amount, CurrencyCode: firstNonEmpty(obj.ISOCurrencyCode, obj.CurrencyCode, obj.UnofficialCurrencyCode, &fallbackCurrency)}, nil
	default:
		amount, err := parseScalar(raw)
		if err != nil {
			return Money{}, err
		}
		return Money{Amount: amount, CurrencyCode: strings.ToUpper(fallbackCurrency)}, nil
	}
}

func parseScalar(raw json.RawMessage) (decimal.Decimal, error) {
	switch {
	case bytes.Equal(raw, []byte("null")):
		return decimal.Decimal{}, fmt.Errorf("%w: null", ErrUnrecognizedAmount)
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrUnrecognizedAmount, err)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: non-numeric string %q", ErrUnrecognizedAmount, s)
		}
		return d, nil
	case raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'):
		d, err := decimal.NewFromString(string(raw))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrUnrecognizedAmount, err)
		}
		return d, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrUnrecognizedAmount, truncate(string(raw), 32))
	}
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v != nil && strings.TrimSpace(*v) != "" {
			return strings.ToUpper(strings.TrimSpace(*v))
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
