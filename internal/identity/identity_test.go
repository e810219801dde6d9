package identity

import (
	"context"
	"errors"
	"testing"

	"spineauth.org/internal/token"
)

func TestMemoryDirectoryLookup(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.Put(User{ID: "u1", Email: "Staff@Example.com", Role: "Staff"})

	u, err := dir.FindUserByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("FindUserByID: %v", err)
	}
	if u.Role != "staff" {
		t.Fatalf("expected normalized role, got %q", u.Role)
	}
	if u.Status != StatusActive {
		t.Fatalf("expected default active status, got %q", u.Status)
	}
	if u.Risk != token.RiskOK {
		t.Fatalf("expected default risk ok, got %q", u.Risk)
	}

	byEmail, err := dir.FindUserByEmail(context.Background(), "staff@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if byEmail.ID != "u1" {
		t.Fatalf("unexpected user: %s", byEmail.ID)
	}
}

func TestMemoryDirectoryNotFound(t *testing.T) {
	dir := NewMemoryDirectory()
	if _, err := dir.FindUserByID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := dir.FindUserByEmail(context.Background(), "nope@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatalf("hash must not equal plaintext")
	}
	if err := VerifyPassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("expected password to verify, got %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected wrong password to fail")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
}
