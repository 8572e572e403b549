package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tallyhq/tally/internal/aggregate"
	"github.com/tallyhq/tally/internal/cache"
	"github.com/tallyhq/tally/internal/logging"
	"github.com/tallyhq/tally/internal/metrics"
	"github.com/tallyhq/tally/internal/pagination"
	"github.com/tallyhq/tally/internal/realtime"
	"github.com/tallyhq/tally/internal/traces"
)

// DefaultSummaryTTL bounds how stale a cached summary may be. Writes
// invalidate the owner's summaries immediately.
const DefaultSummaryTTL = time.Minute

// EventEmitter receives activity notifications for live clients.
type EventEmitter interface {
	EmitActivity(userID int64, a realtime.Activity)
}

// Service implements the tracker operations for one deployment.
type Service struct {
	store      Store
	cache      cache.Cache
	events     EventEmitter
	now        func() time.Time
	summaryTTL time.Duration
}

// NewService creates a tracker service over store.
func NewService(store Store) *Service {
	return &Service{
		store:      store,
		now:        func() time.Time { return time.Now().UTC() },
		summaryTTL: DefaultSummaryTTL,
	}
}

// WithCache enables summary caching.
func (s *Service) WithCache(c cache.Cache) *Service {
	s.cache = c
	return s
}

// WithEvents adds an event emitter for live updates.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Store exposes the underlying store for read paths that need no service logic.
func (s *Service) Store() Store { return s.store }

// ActionInput carries the editable fields of an action.
type ActionInput struct {
	Name       string
	Notes      string
	Properties Properties
}

func (in *ActionInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return ErrInvalidName
	}
	if len([]rune(in.Name)) > MaxNameLength {
		return ErrNameTooLong
	}
	if in.Properties == nil {
		in.Properties = Properties{}
	}
	return nil
}

// CreateAction adds a new action for userID. Names are unique per user.
func (s *Service) CreateAction(ctx context.Context, userID int64, in ActionInput) (*Action, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	a := &Action{
		UserID:     userID,
		Name:       in.Name,
		Notes:      in.Notes,
		Properties: in.Properties,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateAction(ctx, a); err != nil {
		return nil, err
	}
	metrics.ActionsCreatedTotal.Inc()
	s.invalidateSummaries(ctx, userID)
	logging.L(ctx).Info("action created", "action_id", a.ID)
	return a, nil
}

// GetAction returns the action if userID owns it.
func (s *Service) GetAction(ctx context.Context, userID, actionID int64) (*Action, error) {
	return s.store.GetAction(ctx, userID, actionID)
}

// ListActions returns every action owned by userID.
func (s *Service) ListActions(ctx context.Context, userID int64) ([]*Action, error) {
	return s.store.ListActions(ctx, userID)
}

// UpdateAction renames or edits an owned action.
func (s *Service) UpdateAction(ctx context.Context, userID, actionID int64, in ActionInput) (*Action, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	a, err := s.store.GetAction(ctx, userID, actionID)
	if err != nil {
		return nil, err
	}
	a.Name = in.Name
	a.Notes = in.Notes
	a.Properties = in.Properties
	if err := s.store.UpdateAction(ctx, a); err != nil {
		return nil, err
	}
	s.invalidateSummaries(ctx, userID)
	return a, nil
}

// DeleteAction removes an owned action together with its logs.
func (s *Service) DeleteAction(ctx context.Context, userID, actionID int64) error {
	if err := s.store.DeleteAction(ctx, userID, actionID); err != nil {
		return err
	}
	s.invalidateSummaries(ctx, userID)
	logging.L(ctx).Info("action deleted", "action_id", actionID)
	return nil
}

// LogInput carries the fields of a new or edited activity log.
type LogInput struct {
	Delta      int64
	Note       string
	Properties Properties
	// Source labels the surface that wrote the log (api, web, seed).
	Source string
}

func (in *LogInput) normalize() error {
	if in.Delta < MinDelta || in.Delta > MaxDelta {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidDelta, in.Delta, MinDelta, MaxDelta)
	}
	in.Note = strings.TrimSpace(in.Note)
	if in.Properties == nil {
		in.Properties = Properties{}
	}
	if in.Source == "" {
		in.Source = "api"
	}
	return nil
}

// LogActivity records a delta against an owned action at the current time.
func (s *Service) LogActivity(ctx context.Context, userID, actionID int64, in LogInput) (*ActivityLog, *Action, error) {
	return s.LogActivityAt(ctx, userID, actionID, s.now(), in)
}

// LogActivityAt records a delta with an explicit timestamp.
func (s *Service) LogActivityAt(ctx context.Context, userID, actionID int64, ts time.Time, in LogInput) (*ActivityLog, *Action, error) {
	if err := in.normalize(); err != nil {
		return nil, nil, err
	}
	a, err := s.store.GetAction(ctx, userID, actionID)
	if err != nil {
		return nil, nil, err
	}
	l := &ActivityLog{
		ActionID:   a.ID,
		Timestamp:  ts.UTC(),
		Delta:      in.Delta,
		Note:       in.Note,
		Properties: in.Properties,
	}
	if err := s.store.CreateLog(ctx, l); err != nil {
		return nil, nil, err
	}

	metrics.ActivityLoggedTotal.WithLabelValues(in.Source).Inc()
	s.invalidateSummaries(ctx, userID)
	s.emit(userID, "created", a, l)
	return l, a, nil
}

// GetLog returns a log entry if its action belongs to userID.
func (s *Service) GetLog(ctx context.Context, userID, logID int64) (*ActivityLog, error) {
	return s.store.GetLog(ctx, userID, logID)
}

// EditLog changes delta, note and properties of an owned log entry.
func (s *Service) EditLog(ctx context.Context, userID, logID int64, in LogInput) (*ActivityLog, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	l, err := s.store.GetLog(ctx, userID, logID)
	if err != nil {
		return nil, err
	}
	a, err := s.store.GetAction(ctx, userID, l.ActionID)
	if err != nil {
		return nil, err
	}
	l.Delta = in.Delta
	l.Note = in.Note
	l.Properties = in.Properties
	if err := s.store.UpdateLog(ctx, l); err != nil {
		return nil, err
	}
	s.invalidateSummaries(ctx, userID)
	s.emit(userID, "updated", a, l)
	return l, nil
}

// HistoryPage is one newest-first page of an action's logs.
type HistoryPage struct {
	Logs       []*ActivityLog `json:"logs"`
	NextCursor string         `json:"nextCursor,omitempty"`
	HasMore    bool           `json:"hasMore"`
}

// History lists an owned action's logs newest first.
func (s *Service) History(ctx context.Context, userID, actionID int64, limit int, cursor string) (*HistoryPage, error) {
	c, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}
	limit = pagination.ClampLimit(limit)
	logs, err := s.store.ListLogs(ctx, userID, actionID, ListLogsOptions{Limit: limit + 1, Cursor: c})
	if err != nil {
		return nil, err
	}
	logs, next, more := pagination.ComputePage(logs, limit, func(l *ActivityLog) (time.Time, int64) {
		return l.Timestamp, l.ID
	})
	return &HistoryPage{Logs: logs, NextCursor: next, HasMore: more}, nil
}

// ValidateWindow checks a requested lookback in days.
func ValidateWindow(days int) error {
	if days < MinWindowDays || days > MaxWindowDays {
		return fmt.Errorf("%w: days must be between %d and %d, got %d",
			aggregate.ErrInvalidWindow, MinWindowDays, MaxWindowDays, days)
	}
	return nil
}

// TimeSeries returns the zero-filled daily series of one owned action over
// the last days days, ending today (UTC).
func (s *Service) TimeSeries(ctx context.Context, userID, actionID int64, days int) (ts aggregate.TimeSeries, err error) {
	if err := ValidateWindow(days); err != nil {
		return nil, err
	}
	ctx, span := traces.StartSpan(ctx, "tracker.TimeSeries",
		traces.UserID(userID), traces.ActionID(actionID), traces.WindowDays(days))
	defer traces.End(span, &err)
	defer metrics.ObserveAggregation("timeseries", time.Now())

	return s.series(ctx, userID, actionID, s.now(), days)
}

func (s *Service) series(ctx context.Context, userID, actionID int64, now time.Time, days int) (aggregate.TimeSeries, error) {
	since := aggregate.WindowStart(now, days)
	logs, err := s.store.Events(ctx, userID, actionID, since, now)
	if err != nil {
		return nil, err
	}
	events := make([]aggregate.Event, len(logs))
	for i, l := range logs {
		events[i] = aggregate.Event{Timestamp: l.Timestamp, Delta: l.Delta}
	}
	return aggregate.DailySeries(events, now, days)
}

// ActionTrend pairs an action's daily series with its fitted trend line.
type ActionTrend struct {
	Action *Action              `json:"action"`
	Series aggregate.TimeSeries `json:"series"`
	Trend  []float64            `json:"trend"`
}

// SeriesWithTrend returns the series of one owned action and its OLS fit.
func (s *Service) SeriesWithTrend(ctx context.Context, userID, actionID int64, days int) (*ActionTrend, error) {
	a, err := s.store.GetAction(ctx, userID, actionID)
	if err != nil {
		return nil, err
	}
	ts, err := s.TimeSeries(ctx, userID, actionID, days)
	if err != nil {
		return nil, err
	}
	return &ActionTrend{Action: a, Series: ts, Trend: aggregate.ComputeTrend(ts.Totals())}, nil
}

// TrendReport is the dashboard view across every action of one user.
type TrendReport struct {
	Days        int           `json:"days"`
	Actions     []ActionTrend `json:"actions"`
	TrendChange float64       `json:"trendChange"`
}

// Trends builds series and trend lines for every owned action over the same
// window, plus the first-week vs last-week change across all of them.
func (s *Service) Trends(ctx context.Context, userID int64, days int) (report *TrendReport, err error) {
	if err := ValidateWindow(days); err != nil {
		return nil, err
	}
	ctx, span := traces.StartSpan(ctx, "tracker.Trends", traces.UserID(userID), traces.WindowDays(days))
	defer traces.End(span, &err)
	defer metrics.ObserveAggregation("trends", time.Now())

	actions, err := s.store.ListActions(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	report = &TrendReport{Days: days, Actions: make([]ActionTrend, 0, len(actions))}
	all := make([]aggregate.TimeSeries, 0, len(actions))
	for _, a := range actions {
		ts, err := s.series(ctx, userID, a.ID, now, days)
		if errors.Is(err, ErrActionNotFound) {
			// deleted concurrently
			continue
		}
		if err != nil {
			return nil, err
		}
		report.Actions = append(report.Actions, ActionTrend{
			Action: a,
			Series: ts,
			Trend:  aggregate.ComputeTrend(ts.Totals()),
		})
		all = append(all, ts)
	}
	report.TrendChange = aggregate.TrendChange(all...)
	return report, nil
}

// Summary totals every owned action over the named period ending now.
// Actions without activity report 0.
func (s *Service) Summary(ctx context.Context, userID int64, periodName string) (summary map[string]int64, err error) {
	period, err := aggregate.ParsePeriod(periodName)
	if err != nil {
		return nil, err
	}
	ctx, span := traces.StartSpan(ctx, "tracker.Summary", traces.UserID(userID), traces.Period(string(period)))
	defer traces.End(span, &err)

	key := summaryKey(userID, period)
	if s.cache != nil {
		cached, err := cache.GetJSON[map[string]int64](ctx, s.cache, key)
		switch {
		case err == nil:
			metrics.SummaryCacheTotal.WithLabelValues("hit").Inc()
			span.SetAttributes(traces.CacheHit(true))
			return cached, nil
		case errors.Is(err, cache.ErrMiss):
			metrics.SummaryCacheTotal.WithLabelValues("miss").Inc()
		default:
			metrics.SummaryCacheTotal.WithLabelValues("error").Inc()
			logging.L(ctx).Warn("summary cache read failed", "error", err)
		}
	}

	defer metrics.ObserveAggregation("summary", time.Now())
	actions, err := s.store.ListActions(ctx, userID)
	if err != nil {
		return nil, err
	}
	since, until := period.Window(s.now())
	totals, err := s.store.Totals(ctx, userID, since, until)
	if err != nil {
		return nil, err
	}
	named := make([]aggregate.NamedAction, len(actions))
	for i, a := range actions {
		named[i] = aggregate.NamedAction{ID: a.ID, Name: a.Name}
	}
	summary = aggregate.Summarize(named, totals)

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, summary, s.summaryTTL); err != nil {
			logging.L(ctx).Warn("summary cache write failed", "error", err)
		}
	}
	return summary, nil
}

// DeleteOwner removes every action and log of userID.
func (s *Service) DeleteOwner(ctx context.Context, userID int64) error {
	if err := s.store.DeleteOwner(ctx, userID); err != nil {
		return err
	}
	s.invalidateSummaries(ctx, userID)
	return nil
}

func summaryKey(userID int64, p aggregate.Period) string {
	return fmt.Sprintf("summary:%d:%s", userID, p)
}

func (s *Service) invalidateSummaries(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	keys := make([]string, 0, len(aggregate.Periods))
	for _, p := range aggregate.Periods {
		keys = append(keys, summaryKey(userID, p))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		logging.L(ctx).Warn("summary cache invalidation failed", "error", err)
	}
}

func (s *Service) emit(userID int64, change string, a *Action, l *ActivityLog) {
	if s.events == nil {
		return
	}
	s.events.EmitActivity(userID, realtime.Activity{
		Change:     change,
		ActionID:   a.ID,
		ActionName: a.Name,
		LogID:      l.ID,
		Delta:      l.Delta,
		Note:       l.Note,
		Timestamp:  l.Timestamp,
	})
}
