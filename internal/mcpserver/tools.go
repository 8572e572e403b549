package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Tally MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolListActions = mcp.NewTool("list_actions",
	mcp.WithDescription(
		"List the actions (habits or metrics) tracked in Tally. "+
			"Returns each action's id, name and notes. Use the id with log_activity or get_timeseries."),
)

var ToolLogActivity = mcp.NewTool("log_activity",
	mcp.WithDescription(
		"Record that an action happened. The delta is added to today's total for the action; "+
			"use a negative delta to correct an earlier entry."),
	mcp.WithNumber("action_id",
		mcp.Required(),
		mcp.Description("Id of the action, as returned by list_actions")),
	mcp.WithNumber("delta",
		mcp.Description("Signed amount between -1000 and 1000. Defaults to 1.")),
	mcp.WithString("note",
		mcp.Description("Optional free-text note stored with the entry")),
)

var ToolGetSummary = mcp.NewTool("get_summary",
	mcp.WithDescription(
		"Get the total logged for every action over the last day, week or month. "+
			"Actions with no activity in the period are reported as 0."),
	mcp.WithString("period",
		mcp.Description("Summary window. Defaults to 'week'."),
		mcp.Enum("day", "week", "month")),
)

var ToolGetTimeSeries = mcp.NewTool("get_timeseries",
	mcp.WithDescription(
		"Get the daily totals of one action over the last N days, one value per day with gaps filled by 0, "+
			"plus a least-squares trend line over the same days."),
	mcp.WithNumber("action_id",
		mcp.Required(),
		mcp.Description("Id of the action, as returned by list_actions")),
	mcp.WithNumber("days",
		mcp.Description("Window length in days, 1 to 365. Defaults to 30.")),
)

var ToolGetTrends = mcp.NewTool("get_trends",
	mcp.WithDescription(
		"Compare the last 7 days with the first 7 days of the window across all actions. "+
			"Returns the percentage change and each action's window total."),
	mcp.WithNumber("days",
		mcp.Description("Window length in days, 1 to 365. Defaults to 30.")),
)
