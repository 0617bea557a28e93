package subscription

import "strings"

const (
	categoryCreditCardPayment = "LOAN_PAYMENTS_CREDIT_CARD_PAYMENT"
	categoryAccountTransfer   = "TRANSFER_OUT_ACCOUNT_TRANSFER"
)

var (
	creditCardMarkers = []string{"credit card", "chase card"}
	transferMarkers   = []string{"transfer", "sav"}
	atmMarkers        = []string{"atm"}
)

// IsSubscription reports whether an outflow stream looks like a subscription
// rather than a card payment, an own-account transfer or an ATM withdrawal.
func IsSubscription(s RawStream) bool {
	desc := strings.ToLower(s.Description)

	switch s.Category {
	case categoryCreditCardPayment, categoryAccountTransfer:
		return false
	}
	for _, markers := range [][]string{creditCardMarkers, transferMarkers, atmMarkers} {
		for _, m := range markers {
			if strings.Contains(desc, m) {
				return false
			}
		}
	}
	return true
}
