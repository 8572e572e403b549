// Package aggregate turns raw activity events into daily time series,
// period summaries and trend lines.
//
// Everything here is a pure function of its arguments: callers fetch the
// events for one (owner, action) pair and pass "now" explicitly, which keeps
// the package free of request state and trivially testable.
package aggregate

import (
	"errors"
	"time"
)

var (
	ErrInvalidWindow = errors.New("invalid time window")
	ErrInvalidPeriod = errors.New("period must be one of day, week, month")
)

// DateLayout is the wire format of a bucket date.
const DateLayout = "2006-01-02"

const day = 24 * time.Hour

// Event is a single timestamped delta against an action.
type Event struct {
	Timestamp time.Time
	Delta     int64
}

// Bucket is the sum of all deltas that fall on one UTC calendar day.
type Bucket struct {
	Date  string    `json:"date"`
	Delta int64     `json:"delta"` // bucket total; field name kept for chart renderers
	Day   time.Time `json:"-"`
}

// TimeSeries is an ascending, gap-free run of daily buckets.
type TimeSeries []Bucket

// Totals returns the bucket totals in order.
func (ts TimeSeries) Totals() []int64 {
	out := make([]int64, len(ts))
	for i, b := range ts {
		out[i] = b.Delta
	}
	return out
}

// Sum adds up every bucket.
func (ts TimeSeries) Sum() int64 {
	var sum int64
	for _, b := range ts {
		sum += b.Delta
	}
	return sum
}

// WindowStart returns the earliest instant covered by a window of days
// ending at now.
func WindowStart(now time.Time, days int) time.Time {
	return now.UTC().Add(-time.Duration(days) * day)
}

// DailySeries buckets events into days+1 calendar days ending at now (UTC).
// Events outside [now-days, now] are ignored; days without events are zero.
func DailySeries(events []Event, now time.Time, days int) (TimeSeries, error) {
	if days < 0 {
		return nil, ErrInvalidWindow
	}

	now = now.UTC()
	start := WindowStart(now, days)

	totals := make(map[time.Time]int64)
	for _, e := range events {
		ts := e.Timestamp.UTC()
		if ts.Before(start) || ts.After(now) {
			continue
		}
		totals[truncateDay(ts)] += e.Delta
	}

	first := truncateDay(start)
	series := make(TimeSeries, 0, days+1)
	for i := 0; i <= days; i++ {
		d := first.AddDate(0, 0, i)
		series = append(series, Bucket{
			Date:  d.Format(DateLayout),
			Delta: totals[d],
			Day:   d,
		})
	}
	return series, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
