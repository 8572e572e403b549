package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tallyhq/tally/internal/retry"
)

// Config holds the configuration for connecting to a Tally server.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	Token  string // API token from /dashboard/token, e.g. "tly_..."
}

// TallyClient is a thin HTTP client for the Tally JSON API.
type TallyClient struct {
	cfg        Config
	httpClient *http.Client
	retry      retry.Policy
}

// NewTallyClient creates a new client for the Tally API.
func NewTallyClient(cfg Config) *TallyClient {
	return &TallyClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: retry.DefaultPolicy(),
	}
}

// WithRetry replaces the retry policy used for read requests.
func (c *TallyClient) WithRetry(p retry.Policy) *TallyClient {
	c.retry = p
	return c
}

// apiError represents an error response from the server.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusError is a non-2xx response.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.status, e.msg)
}

func (e *statusError) retryable() bool {
	return e.status >= 500 || e.status == http.StatusTooManyRequests
}

// get issues an idempotent read, retrying transport failures, 5xx and 429.
func (c *TallyClient) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	var out json.RawMessage
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		raw, err := c.doRequest(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && !se.retryable() {
				return retry.Permanent(err)
			}
			return err
		}
		out = raw
		return nil
	})
	return out, err
}

// doRequest makes an HTTP request to the server and returns the response body.
func (c *TallyClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + "/api" + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, &statusError{status: resp.StatusCode, msg: apiErr.Message}
		}
		return nil, &statusError{status: resp.StatusCode, msg: string(respBody)}
	}

	return json.RawMessage(respBody), nil
}

// ListActions returns the caller's actions.
func (c *TallyClient) ListActions(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/actions", nil)
}

// LogActivity records one activity against an action. A nil delta lets the
// server apply its default of 1.
func (c *TallyClient) LogActivity(ctx context.Context, actionID int64, delta *int64, note string) (json.RawMessage, error) {
	body := map[string]any{}
	if delta != nil {
		body["delta"] = *delta
	}
	if note != "" {
		body["note"] = note
	}
	path := "/actions/" + strconv.FormatInt(actionID, 10) + "/logs"
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

// GetSummary returns per-action totals for day, week or month.
func (c *TallyClient) GetSummary(ctx context.Context, period string) (json.RawMessage, error) {
	q := url.Values{}
	if period != "" {
		q.Set("period", period)
	}
	return c.get(ctx, "/summary", q)
}

// GetTimeSeries returns the zero-filled daily series and trend line of one action.
func (c *TallyClient) GetTimeSeries(ctx context.Context, actionID int64, days int) (json.RawMessage, error) {
	q := url.Values{}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	path := "/actions/" + strconv.FormatInt(actionID, 10) + "/timeseries"
	return c.get(ctx, path, q)
}

// GetTrends returns every action's series plus the window-over-window change.
func (c *TallyClient) GetTrends(ctx context.Context, days int) (json.RawMessage, error) {
	q := url.Values{}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	return c.get(ctx, "/trends", q)
}
