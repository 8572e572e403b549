package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tallyhq/tally/internal/accounts"
	"github.com/tallyhq/tally/internal/auth"
)

func (h *Handler) registerPage(c *gin.Context) {
	h.render(c, http.StatusOK, "register.html", gin.H{"Title": "Register"})
}

func (h *Handler) register(c *gin.Context) {
	var form registerForm
	if errs := bindForm(c, &form); errs != nil {
		h.render(c, http.StatusBadRequest, "register.html", gin.H{
			"Title": "Register", "Username": form.Username, "Errors": errs,
		})
		return
	}

	_, err := h.accounts.Register(c.Request.Context(), form.Username, form.Password)
	if errors.Is(err, accounts.ErrUsernameTaken) {
		redirect(c, "/register", "error", "Username exists!")
		return
	}
	if err != nil {
		h.serverError(c, err)
		return
	}
	redirect(c, "/login", "info", "Registered! Log in now.")
}

func (h *Handler) loginPage(c *gin.Context) {
	if auth.UserID(c) != 0 {
		c.Redirect(http.StatusFound, "/dashboard")
		return
	}
	h.render(c, http.StatusOK, "login.html", gin.H{"Title": "Log in"})
}

func (h *Handler) login(c *gin.Context) {
	var form loginForm
	if errs := bindForm(c, &form); errs != nil {
		h.render(c, http.StatusBadRequest, "login.html", gin.H{
			"Title": "Log in", "Username": form.Username, "Errors": errs,
		})
		return
	}

	u, err := h.accounts.Authenticate(c.Request.Context(), form.Username, form.Password)
	if errors.Is(err, accounts.ErrInvalidCredentials) {
		redirect(c, "/login", "error", "Invalid credentials")
		return
	}
	if err != nil {
		h.serverError(c, err)
		return
	}
	if err := h.sessions.Start(c, u.ID); err != nil {
		h.serverError(c, err)
		return
	}
	redirect(c, "/dashboard", "info", "Logged in!")
}

func (h *Handler) logout(c *gin.Context) {
	h.sessions.End(c)
	redirect(c, "/login", "info", "Logged out!")
}
