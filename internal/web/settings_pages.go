package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tallyhq/tally/internal/accounts"
)

func (h *Handler) settingsPage(c *gin.Context) {
	h.render(c, http.StatusOK, "settings.html", gin.H{"Title": "Settings"})
}

// updateSettings handles both settings forms, told apart by the "form" field.
func (h *Handler) updateSettings(c *gin.Context) {
	switch c.PostForm("form") {
	case "change":
		h.changePassword(c)
	case "delete":
		h.deleteAccount(c)
	default:
		redirect(c, "/settings", "", "")
	}
}

func (h *Handler) changePassword(c *gin.Context) {
	var form changePasswordForm
	if errs := bindForm(c, &form); errs != nil {
		h.render(c, http.StatusBadRequest, "settings.html", gin.H{"Title": "Settings", "Errors": errs})
		return
	}
	err := h.accounts.ChangePassword(c.Request.Context(), currentUser(c).ID, form.OldPassword, form.NewPassword)
	switch {
	case errors.Is(err, accounts.ErrPasswordMismatch):
		redirect(c, "/settings", "error", "Old password is incorrect.")
	case err != nil:
		h.serverError(c, err)
	default:
		redirect(c, "/settings", "success", "Password updated successfully.")
	}
}

func (h *Handler) deleteAccount(c *gin.Context) {
	var form deleteAccountForm
	if errs := bindForm(c, &form); errs != nil {
		redirect(c, "/settings", "error", "Password is incorrect.")
		return
	}
	err := h.accounts.DeleteAccount(c.Request.Context(), currentUser(c).ID, form.Password)
	switch {
	case errors.Is(err, accounts.ErrPasswordMismatch):
		redirect(c, "/settings", "error", "Password is incorrect.")
	case err != nil:
		h.serverError(c, err)
	default:
		h.sessions.End(c)
		redirect(c, "/login", "success", "Your account has been deleted.")
	}
}
