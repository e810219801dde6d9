package session

import (
	"context"
	"sync"
)

// MemoryRefreshStore is an injected in-memory RefreshStore for tests and
// DSN-less development.
type MemoryRefreshStore struct {
	mu     sync.Mutex
	tokens map[string]RefreshToken
}

func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{tokens: make(map[string]RefreshToken)}
}

func (s *MemoryRefreshStore) Create(ctx context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tok.ID] = *tok
	return nil
}

func (s *MemoryRefreshStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrInvalidRefreshToken
	}
	copied := tok
	return &copied, nil
}

func (s *MemoryRefreshStore) MarkRevoked(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil
	}
	tok.Revoked = true
	s.tokens[id] = tok
	return nil
}

func (s *MemoryRefreshStore) MarkRevokedByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tok := range s.tokens {
		if tok.UserID == userID {
			tok.Revoked = true
			s.tokens[id] = tok
		}
	}
	return nil
}

// MemoryFlagSource is an injected in-memory FlagSource.
type MemoryFlagSource struct {
	mu    sync.RWMutex
	flags map[string]map[string]bool
}

func NewMemoryFlagSource() *MemoryFlagSource {
	return &MemoryFlagSource{flags: make(map[string]map[string]bool)}
}

// Set assigns an entitlement flag for a user.
func (s *MemoryFlagSource) Set(userID, flag string, granted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags[userID] == nil {
		s.flags[userID] = make(map[string]bool)
	}
	s.flags[userID][flag] = granted
}

func (s *MemoryFlagSource) EntitlementsFor(ctx context.Context, userID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flags, ok := s.flags[userID]
	if !ok {
		return nil, nil
	}
	out := make(map[string]bool, len(flags))
	for k, v := range flags {
		out[k] = v
	}
	return out, nil
}
