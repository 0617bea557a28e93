package connection

import (
	"errors"
	"time"
)

// Domain errors
var (
	ErrNotFound          = errors.New("bank connection not found")
	ErrAlreadyLinked     = errors.New("bank connection already linked")
	ErrPublicTokenNeeded = errors.New("public_token is required")
	ErrLoginRequired     = errors.New("bank connection needs the user to log in again")
)

// Credential is the opaque access credential for one bank connection. It
// redacts itself wherever it could be printed or serialized; Reveal is the only
// way to read it.
type Credential struct {
	value string
}

func NewCredential(value string) Credential {
	return Credential{value: value}
}

// Reveal returns the raw credential for provider calls and sealing at rest.
func (c Credential) Reveal() string {
	return c.value
}

func (c Credential) IsZero() bool {
	return c.value == ""
}

func (c Credential) String() string {
	return "[REDACTED]"
}

func (c Credential) GoString() string {
	return "connection.Credential{[REDACTED]}"
}

func (c Credential) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

func (c Credential) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

// Connection is one linked bank connection. ID is the provider's item id.
type Connection struct {
	ID              string     `json:"item_id"`
	UserID          string     `json:"-"`
	InstitutionID   string     `json:"institution_id"`
	InstitutionName string     `json:"institution_name"`
	Credential      Credential `json:"-"`
	LinkedAt        time.Time  `json:"linked_at"`
}

// Account is a bank account exposed by a connection, stored at link time.
type Account struct {
	ID           string `json:"account_id"`
	ConnectionID string `json:"item_id"`
	Name         string `json:"name"`
	OfficialName string `json:"official_name,omitempty"`
	Type         string `json:"type"`
	Subtype      string `json:"subtype,omitempty"`
	Mask         string `json:"mask,omitempty"`
}

// LinkSession is a short-lived token the presentation layer uses to open the
// provider's linking flow.
type LinkSession struct {
	LinkToken  string    `json:"link_token"`
	Expiration time.Time `json:"expiration"`
}

// LinkParams carries the outcome of the provider's linking flow.
type LinkParams struct {
	UserID          string
	PublicToken     string
	InstitutionID   string
	InstitutionName string
}

func (p LinkParams) Validate() error {
	if p.UserID == "" {
		return errors.New("user ID is required")
	}
	if p.PublicToken == "" {
		return ErrPublicTokenNeeded
	}
	return nil
}

// Exchange is the provider's answer to a public token exchange.
type Exchange struct {
	ItemID     string
	Credential Credential
}
