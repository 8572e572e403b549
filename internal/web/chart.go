package web

import (
	"strconv"
	"strings"

	"github.com/tallyhq/tally/internal/tracker"
)

const (
	chartWidth  = 600
	chartHeight = 160
)

// chart is an SVG line chart of one action's daily totals and trend line.
type chart struct {
	Action *tracker.Action
	Width  int
	Height int
	Series string // polyline points
	Trend  string
	Max    int64
	Min    int64
	Total  int64
	From   string
	To     string
	Days   int
}

func newChart(at tracker.ActionTrend) chart {
	ch := chart{Action: at.Action, Width: chartWidth, Height: chartHeight}
	n := len(at.Series)
	if n == 0 {
		return ch
	}
	ch.From = at.Series[0].Date
	ch.To = at.Series[n-1].Date
	ch.Days = n

	totals := at.Series.Totals()
	lo, hi := 0.0, 1.0
	for i, v := range totals {
		ch.Total += v
		if i == 0 || v > ch.Max {
			ch.Max = v
		}
		if i == 0 || v < ch.Min {
			ch.Min = v
		}
		lo = minf(lo, float64(v))
		hi = maxf(hi, float64(v))
	}
	for _, v := range at.Trend {
		lo = minf(lo, v)
		hi = maxf(hi, v)
	}

	xs := make([]float64, n)
	for i := range xs {
		if n == 1 {
			xs[i] = chartWidth / 2
		} else {
			xs[i] = float64(i) * chartWidth / float64(n-1)
		}
	}
	y := func(v float64) float64 {
		return chartHeight - (v-lo)/(hi-lo)*chartHeight
	}

	series := make([]string, n)
	for i, v := range totals {
		series[i] = point(xs[i], y(float64(v)))
	}
	ch.Series = strings.Join(series, " ")

	if len(at.Trend) == n {
		trend := make([]string, n)
		for i, v := range at.Trend {
			trend[i] = point(xs[i], y(v))
		}
		ch.Trend = strings.Join(trend, " ")
	}
	return ch
}

func point(x, y float64) string {
	return strconv.FormatFloat(x, 'f', 1, 64) + "," + strconv.FormatFloat(y, 'f', 1, 64)
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
