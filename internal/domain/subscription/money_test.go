package subscription

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		fallback     string
		wantAmount   string
		wantCurrency string
		wantErr      bool
	}{
		{name: "bare number", raw: `15.49`, fallback: "usd", wantAmount: "15.49", wantCurrency: "USD"},
		{name: "integer", raw: `20`, fallback: "USD", wantAmount: "20", wantCurrency: "USD"},
		{name: "numeric string", raw: `" 9.99 "`, fallback: "EUR", wantAmount: "9.99", wantCurrency: "EUR"},
		{name: "object with iso code", raw: `{"amount": 15.49, "iso_currency_code": "USD"}`, fallback: "CAD", wantAmount: "15.49", wantCurrency: "USD"},
		{name: "object with unofficial code", raw: `{"amount": "3.50", "iso_currency_code": null, "unofficial_currency_code": "BTC"}`, wantAmount: "3.5", wantCurrency: "BTC"},
		{name: "object falls back to stream currency", raw: `{"amount": 7}`, fallback: "GBP", wantAmount: "7", wantCurrency: "GBP"},
		{name: "negative amount passes through", raw: `-12.00`, fallback: "USD", wantAmount: "-12", wantCurrency: "USD"},
		{name: "null", raw: `null`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
		{name: "boolean", raw: `true`, wantErr: true},
		{name: "array", raw: `[15.49]`, wantErr: true},
		{name: "word string", raw: `"fifteen"`, wantErr: true},
		{name: "object without amount", raw: `{"iso_currency_code": "USD"}`, wantErr: true},
		{name: "nested amount object", raw: `{"amount": {"value": 1}}`, wantErr: true},
		{name: "object with null amount", raw: `{"amount": null}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NormalizeAmount(json.RawMessage(tt.raw), tt.fallback)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnrecognizedAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAmount, m.Amount.String())
			assert.Equal(t, tt.wantCurrency, m.CurrencyCode)
		})
	}
}

func TestMoney_Format(t *testing.T) {
	m, err := NormalizeAmount(json.RawMessage(`15.5`), "USD")
	require.NoError(t, err)

	assert.Equal(t, "USD 15.50", m.String())

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount": 15.5, "currency_code": "USD"}`, string(data))
}

func TestDate_JSON(t *testing.T) {
	var s struct {
		Due Date `json:"due"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"due":"2024-06-10"}`), &s))
	assert.Equal(t, "2024-06-10", s.Due.String())
	assert.Equal(t, "2024-06-07", s.Due.AddDays(-3).String())

	require.NoError(t, json.Unmarshal([]byte(`{"due":null}`), &s))
	assert.True(t, s.Due.IsZero())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"due": null}`, string(data))

	assert.Error(t, json.Unmarshal([]byte(`{"due":"06/10/2024"}`), &s))
}
