// Package session keeps server-side browser sessions. The cookie holds a
// random id; only its SHA-256 hash is stored.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/idgen"
	"github.com/tallyhq/tally/internal/logging"
)

// CookieName is the session cookie.
const CookieName = "tally_session"

// DefaultTTL is how long a login lasts.
const DefaultTTL = 14 * 24 * time.Hour

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Session is one browser login.
type Session struct {
	ID        string // hash of the cookie value
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID int64) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Manager issues and resolves sessions over cookies.
type Manager struct {
	store  Store
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewManager creates a session manager.
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithSecureCookies marks the cookie Secure (HTTPS only).
func (m *Manager) WithSecureCookies(secure bool) *Manager {
	m.secure = secure
	return m
}

// WithClock overrides the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

func hashID(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Start logs userID in on this browser, replacing any session it carried.
func (m *Manager) Start(c *gin.Context, userID int64) error {
	if raw, err := c.Cookie(CookieName); err == nil && raw != "" {
		_ = m.store.Delete(c.Request.Context(), hashID(raw))
	}

	raw := idgen.Hex(32)
	now := m.now()
	s := &Session{ID: hashID(raw), UserID: userID, CreatedAt: now, ExpiresAt: now.Add(m.ttl)}
	if err := m.store.Create(c.Request.Context(), s); err != nil {
		return err
	}
	m.setCookie(c, raw, int(m.ttl.Seconds()))
	return nil
}

// Load resolves the request's session. Unknown or expired cookies are cleared.
func (m *Manager) Load(c *gin.Context) (*Session, bool) {
	raw, err := c.Cookie(CookieName)
	if err != nil || raw == "" {
		return nil, false
	}
	s, err := m.store.Get(c.Request.Context(), hashID(raw))
	if err != nil || !m.now().Before(s.ExpiresAt) {
		m.clearCookie(c)
		return nil, false
	}
	return s, true
}

// End logs the browser out.
func (m *Manager) End(c *gin.Context) {
	if raw, err := c.Cookie(CookieName); err == nil && raw != "" {
		if err := m.store.Delete(c.Request.Context(), hashID(raw)); err != nil {
			logging.L(c.Request.Context()).Warn("failed to delete session", "error", err)
		}
	}
	m.clearCookie(c)
}

// EndAll logs userID out everywhere.
func (m *Manager) EndAll(ctx context.Context, userID int64) error {
	return m.store.DeleteByUser(ctx, userID)
}

func (m *Manager) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, value, maxAge, "/", "", m.secure, true)
}

func (m *Manager) clearCookie(c *gin.Context) {
	m.setCookie(c, "", -1)
}

// Middleware attaches the session's user to the request when present.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s, ok := m.Load(c); ok {
			auth.SetUserID(c, s.UserID)
		}
		c.Next()
	}
}

// StartReaper deletes expired sessions every interval until ctx is done.
// Call in a goroutine.
func StartReaper(ctx context.Context, m *Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.store.DeleteExpired(ctx, m.now())
			if err != nil {
				logging.L(ctx).Warn("session reaper failed", "error", err)
				continue
			}
			if n > 0 {
				logging.L(ctx).Debug("expired sessions removed", "count", n)
			}
		}
	}
}

// MemoryStore is an in-memory Store
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (s *MemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) DeleteByUser(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}
