package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"spineauth.org/internal/identity"
	"spineauth.org/internal/token"
)

func testCodec(t *testing.T) *token.Codec {
	t.Helper()
	c, err := token.NewCodec(token.Config{
		Algorithm: token.AlgHS256,
		Secret:    []byte("test-secret"),
		Issuer:    "https://auth.example.com",
	})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func testService(t *testing.T, opts ...Option) (*Service, *identity.MemoryDirectory) {
	t.Helper()
	dir := identity.NewMemoryDirectory()
	hash, err := identity.HashPassword("hunter2!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	dir.Put(identity.User{
		ID:           "user-42",
		Email:        "staff@example.com",
		Role:         "staff",
		Risk:         token.RiskOK,
		PasswordHash: hash,
	})
	svc, err := NewService(testCodec(t), dir, NewMemoryRefreshStore(), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, dir
}

func TestLoginIssuesVerifiablePair(t *testing.T) {
	flags := NewMemoryFlagSource()
	flags.Set("user-42", "beta_dashboard", true)
	svc, _ := testService(t, WithFlagSource(flags))

	pair, user, err := svc.Login(context.Background(), "staff@example.com", "hunter2!", "spine-app", []string{"bookings:read"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ID != "user-42" {
		t.Fatalf("unexpected user: %s", user.ID)
	}
	if pair.RefreshToken == "" {
		t.Fatalf("expected refresh token")
	}

	claims, err := testCodec(t).Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.ClientID() != "spine-app" {
		t.Fatalf("unexpected audience: %s", claims.ClientID())
	}
	if !claims.HasScope("bookings:read") {
		t.Fatalf("expected granted scope, got %v", claims.Scopes)
	}
	if !claims.Entitlements["beta_dashboard"] {
		t.Fatalf("expected entitlement from flag source")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, dir := testService(t)

	cases := []struct{ email, password string }{
		{"staff@example.com", "wrong"},
		{"nobody@example.com", "hunter2!"},
		{"", "hunter2!"},
		{"staff@example.com", ""},
	}
	for _, tc := range cases {
		if _, _, err := svc.Login(context.Background(), tc.email, tc.password, "", nil); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials for (%q, %q), got %v", tc.email, tc.password, err)
		}
	}

	dir.Put(identity.User{ID: "u2", Email: "off@example.com", Role: "staff", Status: identity.StatusDisabled, PasswordHash: mustHash(t, "pw")})
	if _, _, err := svc.Login(context.Background(), "off@example.com", "pw", "", nil); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for disabled account, got %v", err)
	}
}

func TestRefreshRotates(t *testing.T) {
	svc, _ := testService(t)

	pair, _, err := svc.Login(context.Background(), "staff@example.com", "hunter2!", "spine-app", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	rotated, _, err := svc.Refresh(context.Background(), pair.RefreshToken, "spine-app", nil)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatalf("refresh token must rotate")
	}

	// The old refresh token is single-use.
	if _, _, err := svc.Refresh(context.Background(), pair.RefreshToken, "spine-app", nil); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected reuse to fail, got %v", err)
	}
	// The rotated token still works.
	if _, _, err := svc.Refresh(context.Background(), rotated.RefreshToken, "spine-app", nil); err != nil {
		t.Fatalf("rotated token must refresh, got %v", err)
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	svc, _ := testService(t)

	for _, raw := range []string{"", "justone", "a.b.c", "unknown.secret"} {
		if _, _, err := svc.Refresh(context.Background(), raw, "", nil); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("expected ErrInvalidRefreshToken for %q, got %v", raw, err)
		}
	}
}

func TestRefreshExpired(t *testing.T) {
	past := time.Now().Add(-30 * 24 * time.Hour)
	svc, _ := testService(t, WithClock(func() time.Time { return past }))

	pair, _, err := svc.Login(context.Background(), "staff@example.com", "hunter2!", "", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// The record was created a month ago with a 14 day TTL; refresh against
	// the real clock must reject it.
	svcNow, err := NewService(testCodec(t), svc.dir, svc.refresh)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, _, err := svcNow.Refresh(context.Background(), pair.RefreshToken, "", nil); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected expired refresh to fail, got %v", err)
	}
}

func TestRevokeAll(t *testing.T) {
	svc, _ := testService(t)

	pair, _, err := svc.Login(context.Background(), "staff@example.com", "hunter2!", "", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.RevokeAll(context.Background(), "user-42"); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if _, _, err := svc.Refresh(context.Background(), pair.RefreshToken, "", nil); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := identity.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return hash
}
