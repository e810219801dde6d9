// Package pg backs the auth core's collaborator interfaces with Postgres.
//
// Schema:
//
//	create table users (
//	    id            text primary key,
//	    email         text not null unique,
//	    role          text not null,
//	    status        text not null default 'active',
//	    risk          text not null default 'ok',
//	    password_hash text not null,
//	    created_at    timestamptz not null default now(),
//	    updated_at    timestamptz not null default now()
//	);
//
//	create table refresh_tokens (
//	    id         text primary key,
//	    user_id    text not null references users(id),
//	    token_hash text not null,
//	    expires_at timestamptz not null,
//	    created_at timestamptz not null default now(),
//	    revoked    boolean not null default false
//	);
//
//	create table auth_audit (
//	    id                  text primary key,
//	    ts                  timestamptz not null,
//	    actor_id            text not null,
//	    path                text not null,
//	    method              text not null,
//	    required_permission text not null,
//	    user_role           text not null,
//	    outcome             text not null,
//	    request_id          text
//	);
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"spineauth.org/internal/audit"
	"spineauth.org/internal/identity"
	"spineauth.org/internal/ids"
	"spineauth.org/internal/session"
	"spineauth.org/internal/token"
)

// Store implements identity.Directory, session.RefreshStore and audit.Sink
// against Postgres.
type Store struct {
	db *sql.DB
}

var (
	_ identity.Directory   = (*Store)(nil)
	_ session.RefreshStore = (*Store)(nil)
	_ audit.Sink           = (*Store)(nil)
)

// Open connects via the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection pool (used by tests).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) FindUserByID(ctx context.Context, id string) (identity.User, error) {
	return s.findUser(ctx, `
		select id, email, role, status, risk, password_hash
		from users
		where id = $1
	`, strings.TrimSpace(id))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (identity.User, error) {
	return s.findUser(ctx, `
		select id, email, role, status, risk, password_hash
		from users
		where email = $1
	`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) findUser(ctx context.Context, query, arg string) (identity.User, error) {
	var (
		u    identity.User
		risk string
	)
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Email, &u.Role, &u.Status, &risk, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.User{}, err
	}
	u.Role = strings.ToLower(u.Role)
	u.Risk = token.RiskState(risk)
	return u, nil
}

// CreateUser inserts a user record. Role and email are normalized to lower
// case so the directory and the matrix agree on keys.
func (s *Store) CreateUser(ctx context.Context, u identity.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = identity.StatusActive
	}
	if u.Risk == "" {
		u.Risk = token.RiskOK
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, role, status, risk, password_hash)
		values ($1, $2, $3, $4, $5, $6)
	`,
		u.ID,
		strings.ToLower(strings.TrimSpace(u.Email)),
		strings.ToLower(strings.TrimSpace(u.Role)),
		u.Status,
		string(u.Risk),
		u.PasswordHash,
	)
	return err
}

func (s *Store) Create(ctx context.Context, tok *session.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at, created_at, revoked)
		values ($1, $2, $3, $4, $5, false)
	`, tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt)
	return err
}

func (s *Store) Find(ctx context.Context, id string) (*session.RefreshToken, error) {
	var tok session.RefreshToken
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at, revoked
		from refresh_tokens
		where id = $1
	`, id).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *Store) MarkRevoked(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked = true where id = $1
	`, id)
	return err
}

func (s *Store) MarkRevokedByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked = true where user_id = $1
	`, userID)
	return err
}

// Write appends a denial record to the append-only auth_audit table.
func (s *Store) Write(ctx context.Context, rec audit.Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.RequestID == "" {
		rec.RequestID = audit.RequestIDFromContext(ctx)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into auth_audit (id, ts, actor_id, path, method, required_permission, user_role, outcome, request_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		ids.New(),
		rec.Timestamp,
		rec.ActorID,
		rec.Path,
		rec.Method,
		rec.RequiredPermission,
		rec.UserRole,
		rec.Outcome,
		nullable(rec.RequestID),
	)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
