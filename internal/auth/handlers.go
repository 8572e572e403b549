package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for token management
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// RegisterRoutes sets up public auth routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/auth", h.Info)
}

// RegisterProtectedRoutes sets up token routes that need an identity
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/token", h.GetToken)
	r.POST("/token", h.RegenerateToken)
}

// Info returns auth configuration info
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"type":        "bearer",
		"header":      "Authorization: Bearer tly_...",
		"ttlDays":     int(h.manager.TTL().Hours() / 24),
		"note":        "Generate a token from the dashboard token page. It is shown once.",
		"rotateVia":   "POST /api/token",
		"singleToken": true,
	})
}

// GetToken handles GET /api/token: metadata of the caller's token.
func (h *Handler) GetToken(c *gin.Context) {
	tok, err := h.manager.Current(c.Request.Context(), UserID(c))
	if err == ErrTokenNotFound {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No API token has been generated",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load token",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}

// RegenerateToken handles POST /api/token. The calling token stops working.
func (h *Handler) RegenerateToken(c *gin.Context) {
	raw, tok, err := h.manager.GenerateToken(c.Request.Context(), UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to generate token",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"apiToken": raw,
		"token":    tok,
		"warning":  "Store this token securely. It will not be shown again.",
	})
}
