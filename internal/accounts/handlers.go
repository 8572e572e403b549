package accounts

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tallyhq/tally/internal/auth"
)

// Handler exposes account information on the JSON API
type Handler struct {
	service *Service
	tokens  *auth.Manager
}

// NewHandler creates a new accounts handler
func NewHandler(service *Service, tokens *auth.Manager) *Handler {
	return &Handler{service: service, tokens: tokens}
}

// RegisterProtectedRoutes sets up account routes behind authentication
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/me", h.Me)
}

// Me handles GET /me
func (h *Handler) Me(c *gin.Context) {
	u, err := h.service.Get(c.Request.Context(), auth.UserID(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Account no longer exists",
		})
		return
	}

	resp := gin.H{"user": u}
	if tok, ok := auth.GetToken(c); ok {
		resp["token"] = tok
	} else if tok, err := h.tokens.Current(c.Request.Context(), u.ID); err == nil {
		resp["token"] = tok
	}
	c.JSON(http.StatusOK, resp)
}
