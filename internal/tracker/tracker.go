// Package tracker owns actions and their activity logs, and answers the
// owner-scoped aggregation queries (daily series, period summaries, trends)
// on top of the pure functions in package aggregate.
package tracker

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tallyhq/tally/internal/pagination"
)

var (
	ErrActionNotFound  = errors.New("action not found")
	ErrLogNotFound     = errors.New("activity log not found")
	ErrDuplicateAction = errors.New("an action with this name already exists")
	ErrInvalidName     = errors.New("action name is required")
	ErrNameTooLong     = errors.New("action name is too long")
	ErrInvalidDelta    = errors.New("delta out of range")
)

// Input limits.
const (
	MaxNameLength = 120
	MinDelta      = -1000
	MaxDelta      = 1000

	MinWindowDays     = 1
	MaxWindowDays     = 365
	DefaultWindowDays = 30
)

// Properties is an opaque JSON object attached to actions and logs.
// It is stored and returned unchanged; aggregation never reads it.
type Properties map[string]interface{}

// Value implements driver.Valuer for JSONB columns.
func (p Properties) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JSONB columns.
func (p *Properties) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = Properties{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("tracker: cannot scan %T into Properties", src)
	}
	out := Properties{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*p = out
	return nil
}

// Clone returns a shallow copy so stores never share maps with callers.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Action is a named habit or metric owned by one user.
type Action struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"-"`
	Name       string     `json:"name"`
	Notes      string     `json:"notes"`
	Properties Properties `json:"properties"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// ActivityLog is one timestamped signed delta against an action.
type ActivityLog struct {
	ID         int64      `json:"id"`
	ActionID   int64      `json:"actionId"`
	Timestamp  time.Time  `json:"timestamp"`
	Delta      int64      `json:"delta"`
	Note       string     `json:"note"`
	Properties Properties `json:"properties"`
}

// ListLogsOptions selects one newest-first page of an action's history.
type ListLogsOptions struct {
	Limit  int
	Cursor *pagination.Cursor
}

// Store persists actions and logs. Every read that names an action or log
// also names its owner; a mismatch is indistinguishable from absence.
type Store interface {
	CreateAction(ctx context.Context, a *Action) error
	GetAction(ctx context.Context, userID, actionID int64) (*Action, error)
	ListActions(ctx context.Context, userID int64) ([]*Action, error)
	UpdateAction(ctx context.Context, a *Action) error
	DeleteAction(ctx context.Context, userID, actionID int64) error

	CreateLog(ctx context.Context, l *ActivityLog) error
	GetLog(ctx context.Context, userID, logID int64) (*ActivityLog, error)
	UpdateLog(ctx context.Context, l *ActivityLog) error
	ListLogs(ctx context.Context, userID, actionID int64, opts ListLogsOptions) ([]*ActivityLog, error)

	// Events returns the logs of one action with since <= ts <= until in
	// ascending timestamp order.
	Events(ctx context.Context, userID, actionID int64, since, until time.Time) ([]*ActivityLog, error)
	// Totals sums deltas per action over since <= ts <= until. Actions
	// without logs in the window are absent from the map.
	Totals(ctx context.Context, userID int64, since, until time.Time) (map[int64]int64, error)

	DeleteOwner(ctx context.Context, userID int64) error
}
