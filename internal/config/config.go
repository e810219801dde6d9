// Package config loads the service configuration from the environment.
// Missing required material (issuer, secret, keys) fails at startup, never
// per request.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"spineauth.org/internal/token"
)

// Environment variable names recognized by the service.
const (
	EnvAddr           = "SPINE_AUTH_ADDR"
	EnvEnvironment    = "SPINE_AUTH_ENV"
	EnvIssuer         = "SPINE_AUTH_ISSUER"
	EnvAlgorithm      = "SPINE_AUTH_ALG"
	EnvSecret         = "SPINE_AUTH_SECRET"
	EnvPrivateKey     = "SPINE_AUTH_PRIVATE_KEY"
	EnvPublicKey      = "SPINE_AUTH_PUBLIC_KEY"
	EnvKeyID          = "SPINE_AUTH_KEY_ID"
	EnvAccessTTL      = "SPINE_AUTH_ACCESS_TTL"
	EnvAudience       = "SPINE_AUTH_AUDIENCE"
	EnvMulticlient    = "SPINE_AUTH_MULTICLIENT"
	EnvLegacyFallback = "SPINE_AUTH_LEGACY_FALLBACK"
	EnvTokenCookie    = "SPINE_AUTH_TOKEN_COOKIE"
	EnvPostgresDSN    = "SPINE_AUTH_PG_DSN"
	EnvMatrixPath     = "SPINE_AUTH_MATRIX_PATH"
)

const (
	defaultAddr        = ":8080"
	defaultTokenCookie = "spine_token"
	envProduction      = "production"
)

// Config is the validated process configuration, immutable after Load.
type Config struct {
	Addr        string
	Environment string

	Issuer        string
	Algorithm     token.Algorithm
	Secret        string
	PrivateKeyPEM string
	PublicKeyPEM  string
	KeyID         string
	AccessTTL     time.Duration

	// Audience is the client application this deployment serves; required
	// when multiclient verification is enabled.
	Audience string
	// Multiclient enables the audience/scope/risk claim validators.
	Multiclient bool
	// LegacyFallback lets a failed multiclient validation degrade to legacy
	// verification instead of rejecting. Independently toggleable so the
	// degradation is an explicit operational choice.
	LegacyFallback bool

	TokenCookie string
	PostgresDSN string
	// MatrixPath optionally points at a JSON permission matrix; empty means
	// the compiled-in default catalog.
	MatrixPath string
}

// Production reports whether internal error details must be suppressed.
func (c Config) Production() bool {
	return c.Environment == envProduction
}

// Load reads and validates the configuration. It fails fast on anything the
// per-request path would otherwise discover too late.
func Load() (Config, error) {
	cfg := Config{
		Addr:           getenv(EnvAddr, defaultAddr),
		Environment:    strings.ToLower(getenv(EnvEnvironment, envProduction)),
		Issuer:         strings.TrimSpace(os.Getenv(EnvIssuer)),
		Secret:         strings.TrimSpace(os.Getenv(EnvSecret)),
		PrivateKeyPEM:  os.Getenv(EnvPrivateKey),
		PublicKeyPEM:   os.Getenv(EnvPublicKey),
		KeyID:          strings.TrimSpace(os.Getenv(EnvKeyID)),
		Audience:       strings.TrimSpace(os.Getenv(EnvAudience)),
		TokenCookie:    getenv(EnvTokenCookie, defaultTokenCookie),
		PostgresDSN:    strings.TrimSpace(os.Getenv(EnvPostgresDSN)),
		MatrixPath:     strings.TrimSpace(os.Getenv(EnvMatrixPath)),
		AccessTTL:      token.DefaultAccessTTL,
		Multiclient:    boolenv(EnvMulticlient),
		LegacyFallback: boolenv(EnvLegacyFallback),
	}

	alg := strings.ToUpper(getenv(EnvAlgorithm, string(token.AlgHS256)))
	switch token.Algorithm(alg) {
	case token.AlgHS256, token.AlgRS256:
		cfg.Algorithm = token.Algorithm(alg)
	default:
		return Config{}, fmt.Errorf("config: unsupported signing algorithm %q", alg)
	}

	if raw := strings.TrimSpace(os.Getenv(EnvAccessTTL)); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			seconds, serr := strconv.Atoi(raw)
			if serr != nil {
				return Config{}, fmt.Errorf("config: invalid %s: %w", EnvAccessTTL, err)
			}
			ttl = time.Duration(seconds) * time.Second
		}
		if ttl <= 0 {
			return Config{}, fmt.Errorf("config: %s must be positive", EnvAccessTTL)
		}
		cfg.AccessTTL = ttl
	}

	if cfg.Issuer == "" {
		return Config{}, errors.New("config: " + EnvIssuer + " is required")
	}
	switch cfg.Algorithm {
	case token.AlgHS256:
		if cfg.Secret == "" {
			return Config{}, errors.New("config: " + EnvSecret + " is required for HS256")
		}
	case token.AlgRS256:
		if strings.TrimSpace(cfg.PublicKeyPEM) == "" {
			return Config{}, errors.New("config: " + EnvPublicKey + " is required for RS256")
		}
	}
	if cfg.Multiclient && cfg.Audience == "" {
		return Config{}, errors.New("config: " + EnvAudience + " is required when multiclient mode is enabled")
	}

	return cfg, nil
}

// TokenConfig builds the codec configuration, parsing key material.
func (c Config) TokenConfig() (token.Config, error) {
	tc := token.Config{
		Algorithm: c.Algorithm,
		Issuer:    c.Issuer,
		KeyID:     c.KeyID,
		AccessTTL: c.AccessTTL,
	}
	switch c.Algorithm {
	case token.AlgHS256:
		tc.Secret = []byte(c.Secret)
	case token.AlgRS256:
		pub, err := token.ParseRSAPublicKey(c.PublicKeyPEM)
		if err != nil {
			return token.Config{}, err
		}
		tc.PublicKey = pub
		if strings.TrimSpace(c.PrivateKeyPEM) != "" {
			priv, err := token.ParseRSAPrivateKey(c.PrivateKeyPEM)
			if err != nil {
				return token.Config{}, err
			}
			tc.PrivateKey = priv
		}
	}
	return tc, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func boolenv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
