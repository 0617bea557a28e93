package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingSub   = errors.New("token has no subject")
	ErrNoSecret     = errors.New("token signing needs a shared secret")
)

// Claims are the verified claims the identity provider issues. The subject is
// the opaque, stable user identifier.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// JWT verifies bearer tokens, either HS256 with a shared secret or
// asymmetric tokens against the identity provider's JWKS.
type JWT struct {
	secret   []byte
	keys     jwt.Keyfunc
	methods  []string
	jwks     *keyfunc.JWKS
	issuer   string
	audience string
	now      func() time.Time
}

// NewJWT creates an HS256 verifier. Empty issuer or audience disables that check.
func NewJWT(secret, issuer, audience string) *JWT {
	j := &JWT{
		secret:   []byte(secret),
		methods:  []string{jwt.SigningMethodHS256.Alg()},
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
	j.keys = func(*jwt.Token) (any, error) { return j.secret, nil }
	return j
}

// JWKSOptions configures a verifier backed by a remote key set.
type JWKSOptions struct {
	URL      string
	Issuer   string
	Audience string
	// Refresh is the background refresh interval. Unknown key ids also
	// trigger a rate limited refresh.
	Refresh time.Duration
	// OnRefreshError receives background refresh failures.
	OnRefreshError func(err error)
}

// NewJWKS fetches the key set once and keeps it fresh in the background
// until Close is called.
func NewJWKS(opts JWKSOptions) (*JWT, error) {
	if opts.Refresh <= 0 {
		opts.Refresh = time.Hour
	}
	jwks, err := keyfunc.Get(opts.URL, keyfunc.Options{
		RefreshInterval:     opts.Refresh,
		RefreshRateLimit:    5 * time.Minute,
		RefreshTimeout:      10 * time.Second,
		RefreshUnknownKID:   true,
		RefreshErrorHandler: opts.OnRefreshError,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS from %s: %w", opts.URL, err)
	}

	return &JWT{
		keys:     jwks.Keyfunc,
		methods:  []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "PS256"},
		jwks:     jwks,
		issuer:   opts.Issuer,
		audience: opts.Audience,
		now:      time.Now,
	}, nil
}

// Close stops the JWKS background refresh, if any.
func (j *JWT) Close() {
	if j.jwks != nil {
		j.jwks.EndBackground()
	}
}

// Generate signs an HS256 token for userID. The admin CLI uses it to mint
// development tokens; providers with a JWKS mint their own.
func (j *JWT) Generate(userID, email string, ttl time.Duration) (string, error) {
	if len(j.secret) == 0 {
		return "", ErrNoSecret
	}

	now := j.now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if j.issuer != "" {
		claims.Issuer = j.issuer
	}
	if j.audience != "" {
		claims.Audience = jwt.ClaimStrings{j.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token, returning its claims.
func (j *JWT) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, j.keys, jwt.WithValidMethods(j.methods))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if j.issuer != "" && !claims.VerifyIssuer(j.issuer, true) {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	if j.audience != "" && !claims.VerifyAudience(j.audience, true) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSub
	}
	return claims, nil
}
