// Package web serves the browser UI: login, actions, logs, the dashboard
// with charts, the API token page and account settings.
package web

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tallyhq/tally/internal/accounts"
	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/logging"
	"github.com/tallyhq/tally/internal/security"
	"github.com/tallyhq/tally/internal/session"
	"github.com/tallyhq/tally/internal/tracker"
	"github.com/tallyhq/tally/internal/validation"
)

//go:embed templates/*.html
var templateFS embed.FS

const userKey = "webUser"

// Handler serves the HTML pages.
type Handler struct {
	accounts *accounts.Service
	tracker  *tracker.Service
	tokens   *auth.Manager
	sessions *session.Manager
}

// NewHandler creates the browser UI handler.
func NewHandler(acc *accounts.Service, tr *tracker.Service, tokens *auth.Manager, sessions *session.Manager) *Handler {
	return &Handler{accounts: acc, tracker: tr, tokens: tokens, sessions: sessions}
}

// Templates parses the embedded page templates. Install with
// engine.SetHTMLTemplate.
func Templates() *template.Template {
	return template.Must(template.New("").Funcs(template.FuncMap{
		"datetime": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04") },
		"date":     func(t time.Time) string { return t.UTC().Format("2006-01-02") },
		"signed": func(n int64) string {
			if n > 0 {
				return "+" + strconv.FormatInt(n, 10)
			}
			return strconv.FormatInt(n, 10)
		},
		"props": func(p tracker.Properties) string { return validation.FormatProperties(p) },
		"pct": func(f float64) string {
			s := strconv.FormatFloat(f, 'f', 1, 64)
			if f > 0 {
				return "+" + s + "%"
			}
			return s + "%"
		},
	}).ParseFS(templateFS, "templates/*.html"))
}

// RegisterRoutes mounts the UI. The engine must run session.Middleware and
// the CSRF middleware before these routes.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/dashboard") })
	r.GET("/register", h.registerPage)
	r.POST("/register", h.register)
	r.GET("/login", h.loginPage)
	r.POST("/login", h.login)
	r.POST("/logout", h.logout)

	p := r.Group("")
	p.Use(h.requireLogin())
	p.GET("/dashboard", h.dashboard)
	p.GET("/dashboard/token", h.tokenPage)
	p.POST("/dashboard/token/generate", h.generateToken)

	p.GET("/actions", h.listActions)
	p.GET("/actions/new", h.newActionPage)
	p.POST("/actions/new", h.createAction)
	p.GET("/actions/:id", h.actionHistory)
	p.GET("/actions/:id/log", h.logPage)
	p.POST("/actions/:id/log", h.logActivity)
	p.GET("/actions/:id/edit", h.editActionPage)
	p.POST("/actions/:id/edit", h.updateAction)
	p.POST("/actions/:id/delete", h.deleteAction)
	p.GET("/logs/:id/edit", h.editLogPage)
	p.POST("/logs/:id/edit", h.updateLog)

	p.GET("/settings", h.settingsPage)
	p.POST("/settings", h.updateSettings)
}

// requireLogin redirects anonymous visitors to /login and clears sessions
// whose user no longer exists.
func (h *Handler) requireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := auth.UserID(c)
		if uid == 0 {
			addFlash(c, "error", "Please log in first")
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		u, err := h.accounts.Get(c.Request.Context(), uid)
		if errors.Is(err, accounts.ErrUserNotFound) {
			h.sessions.End(c)
			addFlash(c, "warning", "Your session has expired. Please log in again.")
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		if err != nil {
			h.serverError(c, err)
			c.Abort()
			return
		}
		c.Set(userKey, u)
		c.Next()
	}
}

func currentUser(c *gin.Context) *accounts.User {
	if v, ok := c.Get(userKey); ok {
		return v.(*accounts.User)
	}
	return nil
}

// render fills the fields every page uses and writes the template.
func (h *Handler) render(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["User"] = currentUser(c)
	data["Flashes"] = takeFlashes(c)
	data["CSRFToken"] = security.CSRFToken(c)
	data["CSRFField"] = security.CSRFFormField
	if _, ok := data["Errors"]; !ok {
		data["Errors"] = map[string]string{}
	}
	c.HTML(status, name, data)
}

func (h *Handler) serverError(c *gin.Context, err error) {
	logging.L(c.Request.Context()).Error("page failed", "path", c.FullPath(), "error", err)
	c.String(http.StatusInternalServerError, "Something went wrong. Please try again.")
}

// redirect flashes msg and sends the browser to location.
func redirect(c *gin.Context, location, kind, msg string) {
	if msg != "" {
		addFlash(c, kind, msg)
	}
	c.Redirect(http.StatusFound, location)
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}
