package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

func daysAgo(n int, hour int) time.Time {
	d := testNow.AddDate(0, 0, -n)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC)
}

func TestDailySeries_Length(t *testing.T) {
	for _, days := range []int{0, 1, 2, 7, 30, 365} {
		series, err := DailySeries(nil, testNow, days)
		require.NoError(t, err)
		assert.Len(t, series, days+1, "days=%d", days)
	}
}

func TestDailySeries_ZeroDaysIsToday(t *testing.T) {
	series, err := DailySeries([]Event{{Timestamp: testNow.Add(-time.Minute), Delta: 4}}, testNow, 0)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "2025-03-10", series[0].Date)
	assert.Equal(t, int64(4), series[0].Delta)
}

func TestDailySeries_NegativeWindow(t *testing.T) {
	_, err := DailySeries(nil, testNow, -1)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestDailySeries_Example(t *testing.T) {
	// day0 is the first day of the window, day2 is today.
	events := []Event{
		{Timestamp: daysAgo(2, 18), Delta: 2},
		{Timestamp: daysAgo(2, 20), Delta: 1},
		{Timestamp: daysAgo(0, 9), Delta: -1},
	}

	series, err := DailySeries(events, testNow, 2)
	require.NoError(t, err)

	assert.Equal(t, TimeSeries{
		{Date: "2025-03-08", Delta: 3, Day: daysAgo(2, 0)},
		{Date: "2025-03-09", Delta: 0, Day: daysAgo(1, 0)},
		{Date: "2025-03-10", Delta: -1, Day: daysAgo(0, 0)},
	}, series)
}

func TestDailySeries_NoEventsAllZero(t *testing.T) {
	series, err := DailySeries(nil, testNow, 30)
	require.NoError(t, err)
	for _, b := range series {
		assert.Zero(t, b.Delta, b.Date)
	}
}

func TestDailySeries_IdenticalTimestampsAccumulate(t *testing.T) {
	ts := daysAgo(1, 12)
	series, err := DailySeries([]Event{{ts, 1}, {ts, 1}, {ts, 5}}, testNow, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), series[2].Delta)
}

func TestDailySeries_BoundariesNeitherDroppedNorDoubled(t *testing.T) {
	const days = 5
	start := WindowStart(testNow, days)
	events := []Event{
		{Timestamp: start, Delta: 10},                        // exactly at window start: counted
		{Timestamp: start.Add(-time.Nanosecond), Delta: 100}, // just before: dropped
		{Timestamp: testNow, Delta: 1},                       // exactly now: counted
		{Timestamp: testNow.Add(time.Second), Delta: 1000},   // future: dropped
		{Timestamp: daysAgo(3, 1), Delta: -4},
	}

	series, err := DailySeries(events, testNow, days)
	require.NoError(t, err)

	var want int64
	for _, e := range events {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(testNow) {
			want += e.Delta
		}
	}
	assert.Equal(t, want, series.Sum())
	assert.Equal(t, int64(7), series.Sum())
}

func TestDailySeries_SortedUniqueDates(t *testing.T) {
	series, err := DailySeries(nil, testNow, 60)
	require.NoError(t, err)
	for i := 1; i < len(series); i++ {
		assert.True(t, series[i].Day.After(series[i-1].Day))
		assert.Equal(t, 24*time.Hour, series[i].Day.Sub(series[i-1].Day))
	}
	assert.Equal(t, "2025-03-10", series[len(series)-1].Date)
}

func TestDailySeries_NonUTCInputs(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 2025-03-10 01:00 in UTC+9 is 2025-03-09 16:00 UTC.
	ev := Event{Timestamp: time.Date(2025, 3, 10, 1, 0, 0, 0, loc), Delta: 2}

	series, err := DailySeries([]Event{ev}, testNow.In(loc), 1)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-09", series[0].Date)
	assert.Equal(t, int64(2), series[0].Delta)
}

func TestTotals(t *testing.T) {
	ts := TimeSeries{{Delta: 1}, {Delta: -2}, {Delta: 3}}
	assert.Equal(t, []int64{1, -2, 3}, ts.Totals())
	assert.Equal(t, int64(2), ts.Sum())
}
