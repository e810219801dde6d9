package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Algorithm selects the signing scheme. It is explicit configuration: the
// codec never infers the algorithm from token content, so a token signed with
// one scheme can never be verified under another.
type Algorithm string

const (
	AlgHS256 Algorithm = "HS256"
	AlgRS256 Algorithm = "RS256"
)

const (
	// DefaultAccessTTL is the lifetime of short-lived access tokens.
	DefaultAccessTTL = 30 * time.Minute
	// LegacyTTL is the lifetime of legacy single-audience tokens.
	LegacyTTL = 24 * time.Hour
)

// RiskState classifies the account at issuance time.
type RiskState string

const (
	RiskOK         RiskState = "ok"
	RiskRestricted RiskState = "restricted"
	RiskBanned     RiskState = "banned"
)

// Claims is the verified claim set carried by every token.
type Claims struct {
	Scopes       []string        `json:"scp,omitempty"`
	Risk         RiskState       `json:"risk,omitempty"`
	Entitlements map[string]bool `json:"entitlements,omitempty"`
	jwt.RegisteredClaims
}

// ClientID returns the single audience the token is scoped to, or "" for
// legacy tokens issued without one.
func (c *Claims) ClientID() string {
	if len(c.Audience) == 0 {
		return ""
	}
	return c.Audience[0]
}

// HasScope reports whether the claim set carries the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Config holds the immutable key material and issuance defaults for a Codec.
type Config struct {
	Algorithm Algorithm
	// Secret is the HS256 shared secret.
	Secret []byte
	// PrivateKey signs RS256 tokens. Optional for verify-only deployments.
	PrivateKey *rsa.PrivateKey
	// PublicKey verifies RS256 tokens.
	PublicKey *rsa.PublicKey
	Issuer    string
	KeyID     string
	AccessTTL time.Duration
}

// Codec signs and verifies the platform's compact tokens.
type Codec struct {
	cfg Config
	now func() time.Time
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec validates key material up front so misconfiguration fails at
// startup, not per request.
func NewCodec(cfg Config, opts ...CodecOption) (*Codec, error) {
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if cfg.Issuer == "" {
		return nil, errors.New("token: issuer is required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	switch cfg.Algorithm {
	case AlgHS256:
		if len(cfg.Secret) == 0 {
			return nil, errors.New("token: hs256 requires a signing secret")
		}
	case AlgRS256:
		if cfg.PublicKey == nil {
			return nil, errors.New("token: rs256 requires a public key")
		}
	default:
		return nil, fmt.Errorf("token: unsupported algorithm %q", cfg.Algorithm)
	}
	c := &Codec{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Payload is the caller-supplied portion of a new token.
type Payload struct {
	Subject      string
	Audience     string
	Scopes       []string
	Risk         RiskState
	Entitlements map[string]bool
}

// Issue signs a token for the payload. A non-positive ttl falls back to the
// configured access TTL.
func (c *Codec) Issue(p Payload, ttl time.Duration) (string, time.Time, error) {
	p.Subject = strings.TrimSpace(p.Subject)
	if p.Subject == "" {
		return "", time.Time{}, errors.New("token: subject is required")
	}
	if ttl <= 0 {
		ttl = c.cfg.AccessTTL
	}
	risk := p.Risk
	if risk == "" {
		risk = RiskOK
	}

	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := &Claims{
		Scopes:       dedupeScopes(p.Scopes),
		Risk:         risk,
		Entitlements: p.Entitlements,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if p.Audience != "" {
		claims.Audience = jwt.ClaimStrings{p.Audience}
	}

	var tok *jwt.Token
	switch c.cfg.Algorithm {
	case AlgHS256:
		tok = jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	case AlgRS256:
		if c.cfg.PrivateKey == nil {
			return "", time.Time{}, errors.New("token: codec is verify-only, no private key configured")
		}
		tok = jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	}
	if c.cfg.KeyID != "" {
		tok.Header["kid"] = c.cfg.KeyID
	}

	signed, err := tok.SignedString(c.signingKey())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, expiry and issuer and returns the claim set.
// Failures are typed: ErrMissingToken for absent input, ErrExpiredToken past
// the validity window, ErrInvalidToken for everything else.
func (c *Codec) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, c.keyFunc,
		jwt.WithValidMethods([]string{string(c.cfg.Algorithm)}),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if claims.IssuedAt == nil {
		return nil, ErrInvalidToken
	}
	claims.Scopes = dedupeScopes(claims.Scopes)
	return claims, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	switch c.cfg.Algorithm {
	case AlgHS256:
		return c.cfg.Secret, nil
	case AlgRS256:
		return c.cfg.PublicKey, nil
	}
	return nil, ErrInvalidToken
}

func (c *Codec) signingKey() any {
	if c.cfg.Algorithm == AlgHS256 {
		return c.cfg.Secret
	}
	return c.cfg.PrivateKey
}

func dedupeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(scopes))
	var normalized []string
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		normalized = append(normalized, scope)
	}
	return normalized
}
