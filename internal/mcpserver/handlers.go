package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *TallyClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *TallyClient) *Handlers {
	return &Handlers{client: client}
}

// HandleListActions lists the caller's actions.
func (h *Handlers) HandleListActions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListActions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list actions: %v", err)), nil
	}
	text, err := formatActionList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse actions: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleLogActivity records one activity.
func (h *Handlers) HandleLogActivity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actionID := int64(req.GetInt("action_id", 0))
	if actionID <= 0 {
		return mcp.NewToolResultError("action_id is required"), nil
	}
	var delta *int64
	if _, ok := req.GetArguments()["delta"]; ok {
		d := int64(req.GetInt("delta", 1))
		if d < -1000 || d > 1000 {
			return mcp.NewToolResultError("delta must be between -1000 and 1000"), nil
		}
		delta = &d
	}
	note := req.GetString("note", "")

	raw, err := h.client.LogActivity(ctx, actionID, delta, note)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to log activity: %v", err)), nil
	}
	text, err := formatLogged(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetSummary reports per-action totals for a period.
func (h *Handlers) HandleGetSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	period := req.GetString("period", "week")
	raw, err := h.client.GetSummary(ctx, period)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get summary: %v", err)), nil
	}
	text, err := formatSummary(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse summary: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetTimeSeries reports the daily series of one action.
func (h *Handlers) HandleGetTimeSeries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actionID := int64(req.GetInt("action_id", 0))
	if actionID <= 0 {
		return mcp.NewToolResultError("action_id is required"), nil
	}
	days := req.GetInt("days", 0)

	raw, err := h.client.GetTimeSeries(ctx, actionID, days)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get time series: %v", err)), nil
	}
	text, err := formatTimeSeries(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse time series: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetTrends reports the window-over-window change across all actions.
func (h *Handlers) HandleGetTrends(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := req.GetInt("days", 0)
	raw, err := h.client.GetTrends(ctx, days)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get trends: %v", err)), nil
	}
	text, err := formatTrends(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trends: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- response shapes ---

type actionInfo struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Notes string `json:"notes"`
}

type bucket struct {
	Date  string `json:"date"`
	Delta int64  `json:"delta"`
}

type seriesResponse struct {
	Action actionInfo `json:"action"`
	Days   int        `json:"days"`
	Series []bucket   `json:"series"`
	Trend  []float64  `json:"trend"`
}

func formatActionList(raw json.RawMessage) (string, error) {
	var resp struct {
		Actions []actionInfo `json:"actions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Actions) == 0 {
		return "No actions yet.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d action(s):\n\n", len(resp.Actions)))
	for _, a := range resp.Actions {
		sb.WriteString(fmt.Sprintf("- [%d] %s\n", a.ID, a.Name))
		if a.Notes != "" {
			sb.WriteString(fmt.Sprintf("    %s\n", a.Notes))
		}
	}
	return sb.String(), nil
}

func formatLogged(raw json.RawMessage) (string, error) {
	var resp struct {
		Message string `json:"message"`
		Log     struct {
			ID    int64  `json:"id"`
			Delta int64  `json:"delta"`
			Note  string `json:"note"`
		} `json:"log"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	text := fmt.Sprintf("%s (delta %+d, log #%d)", resp.Message, resp.Log.Delta, resp.Log.ID)
	if resp.Log.Note != "" {
		text += "\nNote: " + resp.Log.Note
	}
	return text, nil
}

func formatSummary(raw json.RawMessage) (string, error) {
	var resp struct {
		Period  string           `json:"period"`
		Summary map[string]int64 `json:"summary"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Summary) == 0 {
		return fmt.Sprintf("No actions to summarize for the last %s.", resp.Period), nil
	}

	names := make([]string, 0, len(resp.Summary))
	for name := range resp.Summary {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Totals for the last %s:\n", resp.Period))
	for _, name := range names {
		sb.WriteString(fmt.Sprintf("  %s: %d\n", name, resp.Summary[name]))
	}
	return sb.String(), nil
}

func formatTimeSeries(raw json.RawMessage) (string, error) {
	var resp seriesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var total int64
	for _, b := range resp.Series {
		total += b.Delta
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s, last %d day(s), total %d:\n", resp.Action.Name, resp.Days, total))
	for i, b := range resp.Series {
		line := fmt.Sprintf("  %s  %d", b.Date, b.Delta)
		if i < len(resp.Trend) {
			line += fmt.Sprintf("  (trend %.2f)", resp.Trend[i])
		}
		sb.WriteString(line + "\n")
	}
	return sb.String(), nil
}

func formatTrends(raw json.RawMessage) (string, error) {
	var resp struct {
		Days        int              `json:"days"`
		Actions     []seriesResponse `json:"actions"`
		TrendChange float64          `json:"trendChange"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Trend over the last %d day(s): %+.1f%%\n", resp.Days, resp.TrendChange))
	if len(resp.Actions) == 0 {
		sb.WriteString("No actions tracked.\n")
		return sb.String(), nil
	}
	for _, a := range resp.Actions {
		var total int64
		for _, b := range a.Series {
			total += b.Delta
		}
		sb.WriteString(fmt.Sprintf("  %s: %d\n", a.Action.Name, total))
	}
	return sb.String(), nil
}
