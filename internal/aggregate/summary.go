package aggregate

import (
	"strings"
	"time"
)

// Period names a rolling summary window.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Periods lists every valid period, shortest first.
var Periods = []Period{PeriodDay, PeriodWeek, PeriodMonth}

// ParsePeriod validates a period name.
func ParsePeriod(name string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(name))); p {
	case PeriodDay, PeriodWeek, PeriodMonth:
		return p, nil
	default:
		return "", ErrInvalidPeriod
	}
}

// Days is the length of the period.
func (p Period) Days() int {
	switch p {
	case PeriodDay:
		return 1
	case PeriodWeek:
		return 7
	case PeriodMonth:
		return 30
	}
	return 0
}

// Window returns the inclusive [since, until] range of the period ending at now.
func (p Period) Window(now time.Time) (since, until time.Time) {
	return WindowStart(now, p.Days()), now.UTC()
}

// NamedAction identifies an action in a summary.
type NamedAction struct {
	ID   int64
	Name string
}

// Summarize maps every action name to its total. Actions missing from
// totals report zero rather than being omitted.
func Summarize(actions []NamedAction, totals map[int64]int64) map[string]int64 {
	summary := make(map[string]int64, len(actions))
	for _, a := range actions {
		summary[a.Name] = totals[a.ID]
	}
	return summary
}
