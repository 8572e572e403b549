package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tallyhq/tally/internal/aggregate"
	"github.com/tallyhq/tally/internal/auth"
)

type summaryRow struct {
	Name  string
	Total int64
}

func (h *Handler) dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	uid := currentUser(c).ID

	form := timeframeForm{Days: 30}
	errs := bindForm(c, &form)
	status := http.StatusOK
	if errs != nil {
		status = http.StatusBadRequest
		form.Days = 30
	}

	summary, err := h.tracker.Summary(ctx, uid, string(aggregate.PeriodWeek))
	if err != nil {
		h.serverError(c, err)
		return
	}
	report, err := h.tracker.Trends(ctx, uid, form.Days)
	if err != nil {
		h.serverError(c, err)
		return
	}

	rows := make([]summaryRow, 0, len(summary))
	charts := make([]chart, 0, len(report.Actions))
	for _, at := range report.Actions {
		rows = append(rows, summaryRow{Name: at.Action.Name, Total: summary[at.Action.Name]})
		charts = append(charts, newChart(at))
	}

	h.render(c, status, "dashboard.html", gin.H{
		"Title":       "Dashboard",
		"Days":        form.Days,
		"Summary":     rows,
		"Charts":      charts,
		"TrendChange": report.TrendChange,
		"Errors":      errs,
	})
}

func (h *Handler) tokenPage(c *gin.Context) {
	tok, err := h.tokens.Current(c.Request.Context(), currentUser(c).ID)
	if err != nil && !errors.Is(err, auth.ErrTokenNotFound) {
		h.serverError(c, err)
		return
	}
	h.render(c, http.StatusOK, "token.html", gin.H{"Title": "API token", "Token": tok})
}

// generateToken replaces the user's token and shows the raw value once.
func (h *Handler) generateToken(c *gin.Context) {
	raw, tok, err := h.tokens.GenerateToken(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.serverError(c, err)
		return
	}
	addFlash(c, "success", "New API token generated!")
	h.render(c, http.StatusOK, "token.html", gin.H{"Title": "API token", "Token": tok, "RawToken": raw})
}
