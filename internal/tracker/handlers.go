package tracker

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tallyhq/tally/internal/aggregate"
	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/logging"
	"github.com/tallyhq/tally/internal/pagination"
	"github.com/tallyhq/tally/internal/validation"
)

// Handler provides the JSON API for actions, logs and aggregates
type Handler struct {
	service *Service
}

// NewHandler creates a new tracker handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up tracker routes. The group must already
// require an authenticated user.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/actions", h.ListActions)
	r.POST("/actions", h.CreateAction)
	r.GET("/actions/:id", h.GetAction)
	r.POST("/actions/:id/logs", h.LogActivity)
	r.GET("/actions/:id/logs", h.ListLogs)
	r.GET("/actions/:id/timeseries", h.GetTimeSeries)
	r.GET("/summary", h.GetSummary)
	r.GET("/trends", h.GetTrends)
}

// CreateActionRequest is the body of POST /actions
type CreateActionRequest struct {
	Name       string     `json:"name" validate:"required,max=120"`
	Notes      string     `json:"notes" validate:"max=10000"`
	Properties Properties `json:"properties"`
}

// LogActivityRequest is the body of POST /actions/:id/logs. Delta defaults to 1.
type LogActivityRequest struct {
	Delta      *int64     `json:"delta" validate:"omitempty,min=-1000,max=1000"`
	Note       string     `json:"note" validate:"max=10000"`
	Properties Properties `json:"properties"`
}

// ListActions handles GET /actions
func (h *Handler) ListActions(c *gin.Context) {
	actions, err := h.service.ListActions(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"actions": actions,
		"count":   len(actions),
	})
}

// CreateAction handles POST /actions
func (h *Handler) CreateAction(c *gin.Context) {
	var req CreateActionRequest
	if !validation.BindJSON(c, &req) {
		return
	}
	a, err := h.service.CreateAction(c.Request.Context(), auth.UserID(c), ActionInput{
		Name:       req.Name,
		Notes:      req.Notes,
		Properties: req.Properties,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"action": a})
}

// GetAction handles GET /actions/:id
func (h *Handler) GetAction(c *gin.Context) {
	id, ok := actionID(c)
	if !ok {
		return
	}
	a, err := h.service.GetAction(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": a})
}

// LogActivity handles POST /actions/:id/logs
func (h *Handler) LogActivity(c *gin.Context) {
	id, ok := actionID(c)
	if !ok {
		return
	}
	var req LogActivityRequest
	if c.Request.ContentLength != 0 {
		if !validation.BindJSON(c, &req) {
			return
		}
	}
	delta := int64(1)
	if req.Delta != nil {
		delta = *req.Delta
	}

	l, a, err := h.service.LogActivity(c.Request.Context(), auth.UserID(c), id, LogInput{
		Delta:      delta,
		Note:       req.Note,
		Properties: req.Properties,
		Source:     "api",
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status":  "ok",
		"message": fmt.Sprintf("Logged '%s'", a.Name),
		"log":     l,
	})
}

// ListLogs handles GET /actions/:id/logs
func (h *Handler) ListLogs(c *gin.Context) {
	id, ok := actionID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	page, err := h.service.History(c.Request.Context(), auth.UserID(c), id, limit, c.Query("cursor"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetTimeSeries handles GET /actions/:id/timeseries?days=30
func (h *Handler) GetTimeSeries(c *gin.Context) {
	id, ok := actionID(c)
	if !ok {
		return
	}
	days, ok := daysParam(c)
	if !ok {
		return
	}
	at, err := h.service.SeriesWithTrend(c.Request.Context(), auth.UserID(c), id, days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"action": at.Action,
		"days":   days,
		"series": at.Series,
		"trend":  at.Trend,
	})
}

// GetSummary handles GET /summary?period=week
func (h *Handler) GetSummary(c *gin.Context) {
	period := c.DefaultQuery("period", string(aggregate.PeriodWeek))
	summary, err := h.service.Summary(c.Request.Context(), auth.UserID(c), period)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"period":  period,
		"summary": summary,
	})
}

// GetTrends handles GET /trends?days=30
func (h *Handler) GetTrends(c *gin.Context) {
	days, ok := daysParam(c)
	if !ok {
		return
	}
	report, err := h.service.Trends(c.Request.Context(), auth.UserID(c), days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func actionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Action not found",
		})
		return 0, false
	}
	return id, true
}

func daysParam(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("days", strconv.Itoa(DefaultWindowDays))
	days, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_window",
			"message": "days must be an integer",
		})
		return 0, false
	}
	return days, true
}

// fail maps service errors onto the JSON error envelope.
func (h *Handler) fail(c *gin.Context, err error) {
	status, code := StatusFor(err)
	if status == http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("tracker request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": code, "message": "Internal server error"})
		return
	}
	msg := err.Error()
	if errors.Is(err, ErrActionNotFound) {
		msg = "Action not found"
	}
	c.JSON(status, gin.H{"error": code, "message": msg})
}

// StatusFor maps a tracker or aggregate error to an HTTP status and an
// error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrActionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrLogNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, aggregate.ErrInvalidWindow):
		return http.StatusBadRequest, "invalid_window"
	case errors.Is(err, aggregate.ErrInvalidPeriod):
		return http.StatusBadRequest, "invalid_period"
	case errors.Is(err, ErrDuplicateAction):
		return http.StatusConflict, "duplicate_action"
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrNameTooLong), errors.Is(err, ErrInvalidDelta):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, pagination.ErrInvalidCursor):
		return http.StatusBadRequest, "invalid_cursor"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
