// Package identity models the subjects the auth core decides about and the
// directory used to resolve them. The directory is a collaborator owned by
// the wider platform; this package defines its contract plus an in-memory
// implementation for tests and DSN-less development.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"spineauth.org/internal/token"
)

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// ErrNotFound indicates the subject does not exist in the directory.
var ErrNotFound = errors.New("identity: user not found")

// User is the directory record for an authenticated subject.
type User struct {
	ID           string
	Email        string
	Role         string
	Status       string
	Risk         token.RiskState
	PasswordHash string
}

// Active reports whether the account may authenticate at all.
func (u User) Active() bool { return u.Status == StatusActive }

// Directory resolves subjects to their role and contact identity.
type Directory interface {
	FindUserByID(ctx context.Context, id string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
}

// MemoryDirectory is an injected in-memory Directory. It exists for tests and
// local development; production deployments use the Postgres-backed store.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]User
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:    make(map[string]User),
		byEmail: make(map[string]User),
	}
}

// Put inserts or replaces a user record.
func (d *MemoryDirectory) Put(u User) {
	u.Role = strings.ToLower(strings.TrimSpace(u.Role))
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Status == "" {
		u.Status = StatusActive
	}
	if u.Risk == "" {
		u.Risk = token.RiskOK
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[u.ID] = u
	if u.Email != "" {
		d.byEmail[u.Email] = u
	}
}

func (d *MemoryDirectory) FindUserByID(ctx context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (d *MemoryDirectory) FindUserByEmail(ctx context.Context, email string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}
