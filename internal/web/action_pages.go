package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tallyhq/tally/internal/pagination"
	"github.com/tallyhq/tally/internal/tracker"
	"github.com/tallyhq/tally/internal/validation"
)

const historyPageSize = 50

func (h *Handler) listActions(c *gin.Context) {
	uid := currentUser(c).ID
	actions, err := h.tracker.ListActions(c.Request.Context(), uid)
	if err != nil {
		h.serverError(c, err)
		return
	}
	h.render(c, http.StatusOK, "actions.html", gin.H{"Title": "Actions", "Actions": actions})
}

func (h *Handler) newActionPage(c *gin.Context) {
	h.render(c, http.StatusOK, "action_form.html", gin.H{
		"Title":  "New action",
		"Submit": "/actions/new",
		"Form":   actionForm{Properties: "{}"},
	})
}

func (h *Handler) createAction(c *gin.Context) {
	var form actionForm
	if errs := bindForm(c, &form); errs != nil {
		h.renderActionForm(c, http.StatusBadRequest, "New action", "/actions/new", form, errs)
		return
	}

	a, err := h.tracker.CreateAction(c.Request.Context(), currentUser(c).ID, form.input())
	if errors.Is(err, tracker.ErrDuplicateAction) {
		h.renderActionForm(c, http.StatusConflict, "New action", "/actions/new", form,
			map[string]string{"name": "You already have an action with this name"})
		return
	}
	if err != nil {
		h.serverError(c, err)
		return
	}
	redirect(c, "/actions", "info", fmt.Sprintf("Action '%s' created successfully!", a.Name))
}

func (h *Handler) renderActionForm(c *gin.Context, status int, title, submit string, form actionForm, errs map[string]string) {
	h.render(c, status, "action_form.html", gin.H{
		"Title": title, "Submit": submit, "Form": form, "Errors": errs,
	})
}

// ownedAction loads the :id action or redirects to the list with a flash.
func (h *Handler) ownedAction(c *gin.Context) (*tracker.Action, bool) {
	id, ok := idParam(c)
	if !ok {
		redirect(c, "/actions", "error", "Action not found")
		return nil, false
	}
	a, err := h.tracker.GetAction(c.Request.Context(), currentUser(c).ID, id)
	if errors.Is(err, tracker.ErrActionNotFound) {
		redirect(c, "/actions", "error", "Action not found")
		return nil, false
	}
	if err != nil {
		h.serverError(c, err)
		return nil, false
	}
	return a, true
}

func (h *Handler) actionHistory(c *gin.Context) {
	a, ok := h.ownedAction(c)
	if !ok {
		return
	}
	page, err := h.tracker.History(c.Request.Context(), currentUser(c).ID, a.ID, historyPageSize, c.Query("cursor"))
	if errors.Is(err, pagination.ErrInvalidCursor) {
		redirect(c, "/actions/"+strconv.FormatInt(a.ID, 10), "", "")
		return
	}
	if err != nil {
		h.serverError(c, err)
		return
	}
	h.render(c, http.StatusOK, "history.html", gin.H{
		"Title":  a.Name,
		"Action": a,
		"Page":   page,
	})
}

func (h *Handler) logPage(c *gin.Context) {
	a, ok := h.ownedAction(c)
	if !ok {
		return
	}
	h.render(c, http.StatusOK, "log_form.html", gin.H{
		"Title":  "Log " + a.Name,
		"Action": a,
		"Submit": fmt.Sprintf("/actions/%d/log", a.ID),
		"Form":   logForm{Delta: 1, Properties: "{}"},
	})
}

func (h *Handler) logActivity(c *gin.Context) {
	a, ok := h.ownedAction(c)
	if !ok {
		return
	}
	submit := fmt.Sprintf("/actions/%d/log", a.ID)

	var form logForm
	if errs := bindForm(c, &form); errs != nil {
		h.render(c, http.StatusBadRequest, "log_form.html", gin.H{
			"Title": "Log " + a.Name, "Action": a, "Submit": submit, "Form": form, "Errors": errs,
		})
		return
	}

	_, a, err := h.tracker.LogActivity(c.Request.Context(), currentUser(c).ID, a.ID, form.input())
	if errors.Is(err, tracker.ErrActionNotFound) {
		redirect(c, "/actions", "error", "Action not found")
		return
	}
	if err != nil {
		h.serverError(c, err)
		return
	}
	redirect(c, fmt.Sprintf("/actions/%d", a.ID), "success", fmt.Sprintf("Logged new instance for '%s'", a.Name))
}

func (h *Handler) editActionPage(c *gin.Context) {
	a, ok := h.ownedAction(c)
	if !ok {
		return
	}
	h.render(c, http.StatusOK, "action_form.html", gin.H{
		"Title":  "Edit " + a.Name,
		"Action": a,
		"Submit": fmt.Sprintf("/actions/%d/edit", a.ID),
		"Form": actionForm{
			Name:       a.Name,
			Notes:      a.Notes,
			Properties: validation.FormatProperties(a.Properties),
		},
	})
}

func (h *Handler) updateAction(c *gin.Context) {
	a, ok := h.ownedAction(c)
	if !ok {
		return
	}
	submit := fmt.Sprintf("/actions/%d/edit", a.ID)
	title := "Edit " + a.Name

	var form actionForm
	if errs := bindForm(c, &form); errs != nil {
		h.renderActionForm(c, http.StatusBadRequest, title, submit, form, errs)
		return
	}

	_, err := h.tracker.UpdateAction(c.Request.Context(), currentUser(c).ID, a.ID, form.input())
	switch {
	case errors.Is(err, tracker.ErrDuplicateAction):
		h.renderActionForm(c, http.StatusConflict, title, submit, form,
			map[string]string{"name": "You already have an action with this name"})
	case errors.Is(err, tracker.ErrActionNotFound):
		redirect(c, "/actions", "error", "Action not found")
	case err != nil:
		h.serverError(c, err)
	default:
		redirect(c, "/actions", "info", "Action updated successfully!")
	}
}

func (h *Handler) deleteAction(c *gin.Context) {
	a, ok := h.ownedAction(c)
	if !ok {
		return
	}
	if err := h.tracker.DeleteAction(c.Request.Context(), currentUser(c).ID, a.ID); err != nil && !errors.Is(err, tracker.ErrActionNotFound) {
		h.serverError(c, err)
		return
	}
	redirect(c, "/actions", "info", fmt.Sprintf("Action '%s' deleted.", a.Name))
}

// ownedLog loads the :id log or redirects to the action list with a flash.
func (h *Handler) ownedLog(c *gin.Context) (*tracker.ActivityLog, bool) {
	id, ok := idParam(c)
	if !ok {
		redirect(c, "/actions", "error", "Activity not found.")
		return nil, false
	}
	l, err := h.tracker.GetLog(c.Request.Context(), currentUser(c).ID, id)
	if errors.Is(err, tracker.ErrLogNotFound) {
		redirect(c, "/actions", "error", "Activity not found.")
		return nil, false
	}
	if err != nil {
		h.serverError(c, err)
		return nil, false
	}
	return l, true
}

func (h *Handler) editLogPage(c *gin.Context) {
	l, ok := h.ownedLog(c)
	if !ok {
		return
	}
	h.render(c, http.StatusOK, "log_form.html", gin.H{
		"Title":  "Edit activity",
		"Log":    l,
		"Submit": fmt.Sprintf("/logs/%d/edit", l.ID),
		"Form": logForm{
			Delta:      l.Delta,
			Notes:      l.Note,
			Properties: validation.FormatProperties(l.Properties),
		},
	})
}

func (h *Handler) updateLog(c *gin.Context) {
	l, ok := h.ownedLog(c)
	if !ok {
		return
	}

	var form logForm
	if errs := bindForm(c, &form); errs != nil {
		h.render(c, http.StatusBadRequest, "log_form.html", gin.H{
			"Title": "Edit activity", "Log": l, "Submit": fmt.Sprintf("/logs/%d/edit", l.ID),
			"Form": form, "Errors": errs,
		})
		return
	}

	updated, err := h.tracker.EditLog(c.Request.Context(), currentUser(c).ID, l.ID, form.input())
	if errors.Is(err, tracker.ErrLogNotFound) {
		redirect(c, "/actions", "error", "Activity not found.")
		return
	}
	if err != nil {
		h.serverError(c, err)
		return
	}
	redirect(c, fmt.Sprintf("/actions/%d", updated.ActionID), "info", "Activity updated successfully!")
}
