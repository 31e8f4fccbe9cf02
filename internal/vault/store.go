package vault

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/haasonsaas/concierge/pkg/models"
)

// ErrNotFound is returned by stores when no row matches.
var ErrNotFound = errors.New("vault: not found")

// TokenRow is one encrypted token row keyed (user, provider, token_type).
type TokenRow struct {
	UserID    string
	Provider  string
	TokenType models.TokenType
	Encrypted string
	UpdatedAt time.Time
}

// Metadata is the per-(user, provider) companion row carrying expiry,
// granted scopes, and the provider account identity.
type Metadata struct {
	UserID       string
	Provider     string
	ExpiresAt    time.Time
	Scopes       []string
	AccountEmail string
	UpdatedAt    time.Time
}

// Store persists encrypted credential rows. Implementations must upsert:
// at most one row exists per (user, provider, token_type).
type Store interface {
	GetToken(ctx context.Context, userID, provider string, tokenType models.TokenType) (*TokenRow, error)
	PutToken(ctx context.Context, row *TokenRow) error
	DeleteToken(ctx context.Context, userID, provider string, tokenType models.TokenType) error
	GetMetadata(ctx context.Context, userID, provider string) (*Metadata, error)
	PutMetadata(ctx context.Context, meta *Metadata) error
}

type tokenKey struct {
	userID    string
	provider  string
	tokenType models.TokenType
}

type metaKey struct {
	userID   string
	provider string
}

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[tokenKey]*TokenRow
	meta   map[metaKey]*Metadata
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[tokenKey]*TokenRow),
		meta:   make(map[metaKey]*Metadata),
	}
}

func (s *MemoryStore) GetToken(_ context.Context, userID, provider string, tokenType models.TokenType) (*TokenRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.tokens[tokenKey{userID, provider, tokenType}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *MemoryStore) PutToken(_ context.Context, row *TokenRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	s.tokens[tokenKey{row.UserID, row.Provider, row.TokenType}] = &cp
	return nil
}

func (s *MemoryStore) DeleteToken(_ context.Context, userID, provider string, tokenType models.TokenType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenKey{userID, provider, tokenType})
	return nil
}

func (s *MemoryStore) GetMetadata(_ context.Context, userID, provider string) (*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.meta[metaKey{userID, provider}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *meta
	cp.Scopes = append([]string(nil), meta.Scopes...)
	return &cp, nil
}

func (s *MemoryStore) PutMetadata(_ context.Context, meta *Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *meta
	cp.Scopes = append([]string(nil), meta.Scopes...)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	s.meta[metaKey{meta.UserID, meta.Provider}] = &cp
	return nil
}
