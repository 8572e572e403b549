package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tallyhq/tally/internal/logging"
	"github.com/tallyhq/tally/internal/metrics"
)

const (
	// ContextKeyToken is the key for storing the API token in gin context
	ContextKeyToken = "apiToken"
	// ContextKeyUserID is the key for storing the authenticated user id.
	// Both bearer tokens and browser sessions set it.
	ContextKeyUserID = "authUserID"
)

// ParseBearer extracts the token from an "Authorization: Bearer <token>"
// header value. The scheme is matched case-insensitively.
func ParseBearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware extracts and validates a bearer token from the request.
// Sets apiToken and authUserID in context if valid.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader("Authorization"); header != "" {
			raw, ok := ParseBearer(header)
			if !ok {
				metrics.AuthAttemptsTotal.WithLabelValues("token", "malformed").Inc()
			} else if tok, err := m.ValidateToken(c.Request.Context(), raw); err == nil {
				metrics.AuthAttemptsTotal.WithLabelValues("token", "ok").Inc()
				c.Set(ContextKeyToken, tok)
				SetUserID(c, tok.UserID)
			} else {
				metrics.AuthAttemptsTotal.WithLabelValues("token", "rejected").Inc()
			}
		}
		c.Next()
	}
}

// RequireAuth middleware rejects requests without a valid identity
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAuthenticated(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing or invalid token. Include 'Authorization: Bearer tly_...' header.",
			})
			return
		}
		c.Next()
	}
}

// SetUserID records the authenticated user on the gin and request contexts.
func SetUserID(c *gin.Context, userID int64) {
	c.Set(ContextKeyUserID, userID)
	c.Request = c.Request.WithContext(logging.WithUserID(c.Request.Context(), userID))
}

// UserID returns the authenticated user id, or 0.
func UserID(c *gin.Context) int64 {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0
	}
	id, _ := v.(int64)
	return id
}

// GetToken returns the API token from context (if authenticated by token)
func GetToken(c *gin.Context) (*APIToken, bool) {
	v, exists := c.Get(ContextKeyToken)
	if !exists {
		return nil, false
	}
	tok, ok := v.(*APIToken)
	return tok, ok
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	return UserID(c) != 0
}
