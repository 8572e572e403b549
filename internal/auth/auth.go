// Package auth provides bearer-token authentication for the JSON API.
//
// Authentication model:
//   - Each user holds at most one live API token; generating a new one
//     replaces the old.
//   - Tokens expire after a fixed lifetime (30 days by default).
//   - Only a SHA-256 hash is stored; the raw token is shown once.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tallyhq/tally/internal/idgen"
	"github.com/tallyhq/tally/internal/logging"
)

// Errors
var (
	ErrNoToken       = errors.New("API token required")
	ErrInvalidToken  = errors.New("invalid or expired API token")
	ErrTokenNotFound = errors.New("API token not found")
)

const (
	// TokenPrefix marks raw tokens issued by this service.
	TokenPrefix = "tly_"
	// DefaultTokenTTL is the token lifetime.
	DefaultTokenTTL = 30 * 24 * time.Hour

	tokenBytes    = 32
	displayPrefix = len(TokenPrefix) + 8
)

// APIToken is the stored metadata of a user's API token.
type APIToken struct {
	ID        string     `json:"id"`
	UserID    int64      `json:"-"`
	Hash      string     `json:"-"`      // SHA256 hash of token (stored)
	Prefix    string     `json:"prefix"` // leading characters, for display
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  *time.Time `json:"lastUsed,omitempty"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// Expired reports whether the token is past its expiry at now.
func (t *APIToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Store persists API tokens
type Store interface {
	// Replace stores tok as the user's only token.
	Replace(ctx context.Context, tok *APIToken) error
	GetByHash(ctx context.Context, hash string) (*APIToken, error)
	GetByUser(ctx context.Context, userID int64) (*APIToken, error)
	Touch(ctx context.Context, id string, at time.Time) error
	DeleteByUser(ctx context.Context, userID int64) error
}

// Manager handles authentication
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager creates a new auth manager
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		ttl:   DefaultTokenTTL,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithTTL overrides the token lifetime.
func (m *Manager) WithTTL(ttl time.Duration) *Manager {
	if ttl > 0 {
		m.ttl = ttl
	}
	return m
}

// WithClock overrides the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// TTL returns the configured token lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// GenerateToken issues a fresh token for userID, replacing any existing one.
// Returns the raw token (shown once) and the stored metadata.
func (m *Manager) GenerateToken(ctx context.Context, userID int64) (rawToken string, tok *APIToken, err error) {
	rawToken = idgen.WithPrefix(TokenPrefix, tokenBytes)
	now := m.now()
	tok = &APIToken{
		ID:        idgen.New(),
		UserID:    userID,
		Hash:      HashToken(rawToken),
		Prefix:    rawToken[:displayPrefix],
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Replace(ctx, tok); err != nil {
		return "", nil, err
	}
	logging.L(ctx).Info("api token generated", "user_id", userID, "expires_at", tok.ExpiresAt)
	return rawToken, tok, nil
}

// ValidateToken checks a raw token and returns its metadata.
func (m *Manager) ValidateToken(ctx context.Context, rawToken string) (*APIToken, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrNoToken
	}
	if !strings.HasPrefix(rawToken, TokenPrefix) {
		return nil, ErrInvalidToken
	}

	tok, err := m.store.GetByHash(ctx, HashToken(rawToken))
	if err != nil {
		return nil, ErrInvalidToken
	}
	now := m.now()
	if tok.Expired(now) {
		return nil, ErrInvalidToken
	}

	if err := m.store.Touch(ctx, tok.ID, now); err != nil {
		logging.L(ctx).Warn("failed to record token use", "error", err)
	} else {
		tok.LastUsed = &now
	}
	return tok, nil
}

// Current returns the user's token metadata, or ErrTokenNotFound.
func (m *Manager) Current(ctx context.Context, userID int64) (*APIToken, error) {
	return m.store.GetByUser(ctx, userID)
}

// Revoke deletes the user's token, if any.
func (m *Manager) Revoke(ctx context.Context, userID int64) error {
	return m.store.DeleteByUser(ctx, userID)
}

// HashToken returns the hex SHA-256 of a raw token.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu     sync.RWMutex
	byUser map[int64]*APIToken
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser: make(map[int64]*APIToken),
	}
}

func (s *MemoryStore) Replace(_ context.Context, tok *APIToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.byUser[tok.UserID] = &cp
	return nil
}

func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*APIToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.byUser {
		if t.Hash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (s *MemoryStore) GetByUser(_ context.Context, userID int64) (*APIToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byUser[userID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.byUser {
		if t.ID == id {
			used := at
			t.LastUsed = &used
			return nil
		}
	}
	return ErrTokenNotFound
}

func (s *MemoryStore) DeleteByUser(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byUser, userID)
	return nil
}
