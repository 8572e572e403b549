package web

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tallyhq/tally/internal/aggregate"
	"github.com/tallyhq/tally/internal/tracker"
)

func series(totals ...int64) aggregate.TimeSeries {
	ts := make(aggregate.TimeSeries, len(totals))
	for i, v := range totals {
		ts[i] = aggregate.Bucket{Date: "2025-03-0" + string(rune('1'+i)), Delta: v}
	}
	return ts
}

func TestNewChart_ScalesToBox(t *testing.T) {
	ts := series(0, 2, 4)
	ch := newChart(tracker.ActionTrend{
		Action: &tracker.Action{Name: "x"},
		Series: ts,
		Trend:  aggregate.ComputeTrend(ts.Totals()),
	})

	assert.Equal(t, "0.0,160.0 300.0,80.0 600.0,0.0", ch.Series)
	assert.Equal(t, ch.Series, ch.Trend, "a straight line fits itself")
	assert.Equal(t, int64(6), ch.Total)
	assert.Equal(t, int64(4), ch.Max)
	assert.Equal(t, int64(0), ch.Min)
	assert.Equal(t, "2025-03-01", ch.From)
	assert.Equal(t, "2025-03-03", ch.To)
	assert.Equal(t, 3, ch.Days)
}

func TestNewChart_NegativeAndFlat(t *testing.T) {
	ch := newChart(tracker.ActionTrend{Series: series(-2, 0)})
	// Range is [-2, 1]: zero sits a third of the way down.
	assert.Equal(t, "0.0,160.0 600.0,53.3", ch.Series)
	assert.Empty(t, ch.Trend)

	flat := newChart(tracker.ActionTrend{Series: series(0, 0, 0)})
	for _, p := range strings.Fields(flat.Series) {
		assert.True(t, strings.HasSuffix(p, ",160.0"), p)
	}
}

func TestNewChart_SingleAndEmpty(t *testing.T) {
	one := newChart(tracker.ActionTrend{Series: series(3), Trend: []float64{3}})
	assert.Equal(t, "300.0,0.0", one.Series)

	empty := newChart(tracker.ActionTrend{})
	assert.Empty(t, empty.Series)
	assert.Equal(t, 0, empty.Days)
}
