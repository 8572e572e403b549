package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tallyhq/tally/internal/idgen"
)

const (
	// CSRFCookieName holds the per-browser nonce.
	CSRFCookieName = "tally_csrf"
	// CSRFFormField is the hidden form input carrying the token.
	CSRFFormField = "csrf_token"
	// CSRFHeader is accepted as an alternative to the form field.
	CSRFHeader = "X-CSRF-Token"

	csrfContextKey = "csrfToken"
	csrfNonceBytes = 32
)

var ErrCSRFSecretMissing = errors.New("csrf secret is empty")

// CSRF implements double-submit tokens: the cookie carries a random nonce and
// forms carry HMAC(secret, nonce).
type CSRF struct {
	secret []byte
	secure bool
}

// NewCSRF creates a CSRF guard keyed by secret.
func NewCSRF(secret string, secureCookie bool) (*CSRF, error) {
	if secret == "" {
		return nil, ErrCSRFSecretMissing
	}
	return &CSRF{secret: []byte(secret), secure: secureCookie}, nil
}

func (g *CSRF) sign(nonce string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(nonce))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Valid reports whether token matches the nonce.
func (g *CSRF) Valid(nonce, token string) bool {
	if nonce == "" || token == "" {
		return false
	}
	return hmac.Equal([]byte(g.sign(nonce)), []byte(token))
}

// Middleware issues the nonce cookie when missing and rejects unsafe
// requests whose token does not match it.
func (g *CSRF) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		nonce, err := c.Cookie(CSRFCookieName)
		if err != nil || nonce == "" {
			nonce = ""
		}

		if !safeMethod(c.Request.Method) {
			submitted := c.GetHeader(CSRFHeader)
			if submitted == "" {
				submitted = c.PostForm(CSRFFormField)
			}
			if !g.Valid(nonce, submitted) {
				c.String(http.StatusForbidden, "invalid or missing CSRF token")
				c.Abort()
				return
			}
		}

		if nonce == "" {
			nonce = idgen.Hex(csrfNonceBytes)
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(CSRFCookieName, nonce, 0, "/", "", g.secure, true)
		}
		c.Set(csrfContextKey, g.sign(nonce))
		c.Next()
	}
}

// CSRFToken returns the token forms on this request must echo back.
func CSRFToken(c *gin.Context) string {
	return c.GetString(csrfContextKey)
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
