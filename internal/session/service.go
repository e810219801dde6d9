// Package session issues token pairs at login and rotates refresh tokens.
// Access tokens are deliberately short-lived; together with single-use
// refresh rotation this is the platform's revocation story — there is no
// denylist consulted at verification time.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"spineauth.org/internal/identity"
	"spineauth.org/internal/ids"
	"spineauth.org/internal/token"
)

const defaultRefreshTTL = 14 * 24 * time.Hour

// ErrInvalidCredentials covers unknown email, wrong password, and disabled
// accounts. Callers get one undifferentiated failure.
var ErrInvalidCredentials = errors.New("session: invalid credentials")

// ErrInvalidRefreshToken covers malformed, unknown, expired, revoked, and
// reused refresh tokens.
var ErrInvalidRefreshToken = errors.New("session: invalid refresh token")

// RefreshToken is the persisted half of an opaque refresh credential. Only
// the SHA-256 of the secret is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// RefreshStore persists refresh tokens.
type RefreshStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, id string) error
	MarkRevokedByUser(ctx context.Context, userID string) error
}

// FlagSource resolves the entitlement flags granted to a subject. It is an
// injected collaborator, not a process-wide store.
type FlagSource interface {
	EntitlementsFor(ctx context.Context, userID string) (map[string]bool, error)
}

// Service authenticates credentials and mints token pairs.
type Service struct {
	codec      *token.Codec
	dir        identity.Directory
	refresh    RefreshStore
	flags      FlagSource
	refreshTTL time.Duration
	now        func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithFlagSource wires the entitlement flag collaborator.
func WithFlagSource(src FlagSource) Option {
	return func(s *Service) { s.flags = src }
}

// WithRefreshTTL overrides refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(codec *token.Codec, dir identity.Directory, refresh RefreshStore, opts ...Option) (*Service, error) {
	if codec == nil {
		return nil, errors.New("session: token codec is required")
	}
	if dir == nil {
		return nil, errors.New("session: identity directory is required")
	}
	if refresh == nil {
		return nil, errors.New("session: refresh store is required")
	}
	s := &Service{
		codec:      codec,
		dir:        dir,
		refresh:    refresh,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Login verifies credentials and issues a fresh pair scoped to the requesting
// client application.
func (s *Service) Login(ctx context.Context, email, password, audience string, scopes []string) (TokenPair, identity.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, identity.User{}, ErrInvalidCredentials
	}
	user, err := s.dir.FindUserByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, identity.User{}, ErrInvalidCredentials
	}
	if !user.Active() {
		return TokenPair{}, identity.User{}, ErrInvalidCredentials
	}
	if err := identity.VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, identity.User{}, ErrInvalidCredentials
	}
	pair, err := s.mint(ctx, user, audience, scopes)
	if err != nil {
		return TokenPair{}, identity.User{}, err
	}
	return pair, user, nil
}

// Refresh rotates the refresh token: the presented token is revoked and a new
// pair is issued. A refresh token whose secret fails the hash check is
// revoked outright, killing the chain.
func (s *Service) Refresh(ctx context.Context, raw, audience string, scopes []string) (TokenPair, identity.User, error) {
	tokenID, secret, err := splitRefreshToken(raw)
	if err != nil {
		return TokenPair{}, identity.User{}, ErrInvalidRefreshToken
	}
	record, err := s.refresh.Find(ctx, tokenID)
	if err != nil {
		return TokenPair{}, identity.User{}, ErrInvalidRefreshToken
	}
	if record.Revoked || s.now().After(record.ExpiresAt) {
		return TokenPair{}, identity.User{}, ErrInvalidRefreshToken
	}
	if !secureCompareHash(record.TokenHash, secret) {
		_ = s.refresh.MarkRevoked(ctx, record.ID)
		return TokenPair{}, identity.User{}, ErrInvalidRefreshToken
	}

	user, err := s.dir.FindUserByID(ctx, record.UserID)
	if err != nil || !user.Active() {
		return TokenPair{}, identity.User{}, ErrInvalidRefreshToken
	}

	if err := s.refresh.MarkRevoked(ctx, record.ID); err != nil {
		return TokenPair{}, identity.User{}, err
	}
	pair, err := s.mint(ctx, user, audience, scopes)
	if err != nil {
		return TokenPair{}, identity.User{}, err
	}
	return pair, user, nil
}

// RevokeAll revokes every outstanding refresh token for the user.
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	return s.refresh.MarkRevokedByUser(ctx, userID)
}

func (s *Service) mint(ctx context.Context, user identity.User, audience string, scopes []string) (TokenPair, error) {
	var entitlements map[string]bool
	if s.flags != nil {
		var err error
		entitlements, err = s.flags.EntitlementsFor(ctx, user.ID)
		if err != nil {
			return TokenPair{}, err
		}
	}
	access, accessExp, err := s.codec.Issue(token.Payload{
		Subject:      user.ID,
		Audience:     audience,
		Scopes:       scopes,
		Risk:         user.Risk,
		Entitlements: entitlements,
	}, 0)
	if err != nil {
		return TokenPair{}, err
	}
	refreshString, record, err := s.generateRefreshToken(user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.refresh.Create(ctx, record); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

func (s *Service) generateRefreshToken(userID string) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	sum := sha256.Sum256([]byte(secret))
	now := s.now().UTC()
	record := &RefreshToken{
		ID:        tokenID,
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	return tokenID + "." + secret, record, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
