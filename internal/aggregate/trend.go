package aggregate

import (
	"github.com/shopspring/decimal"
)

// Number is any numeric bucket value a trend can be fitted to.
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// changeWindow is how many buckets make up the "first" and "last" window
// of a trend change.
const changeWindow = 7

// ComputeTrend fits an ordinary least-squares line to values against their
// index and returns the fitted value at every index.
//
// An empty input gives an empty line and a single value is returned as is.
func ComputeTrend[T Number](values []T) []float64 {
	n := len(values)
	switch n {
	case 0:
		return []float64{}
	case 1:
		return []float64{float64(values[0])}
	}

	var sx, sy, sxx, sxy float64
	for i, v := range values {
		x, y := float64(i), float64(v)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}

	fn := float64(n)
	// x is 0..n-1, so the denominator is non-zero for n >= 2.
	slope := (fn*sxy - sx*sy) / (fn*sxx - sx*sx)
	intercept := (sy - slope*sx) / fn

	line := make([]float64, n)
	for i := range line {
		line[i] = intercept + slope*float64(i)
	}
	return line
}

// TrendChange is the percentage change between the first and the last
// seven buckets summed across all series, rounded to one decimal.
//
// Series shorter than seven buckets contribute all their buckets to both
// windows, so the windows overlap. A zero first window yields zero.
func TrendChange(series ...TimeSeries) float64 {
	var first, last int64
	for _, s := range series {
		k := min(changeWindow, len(s))
		for _, b := range s[:k] {
			first += b.Delta
		}
		for _, b := range s[len(s)-k:] {
			last += b.Delta
		}
	}
	if first == 0 {
		return 0
	}

	change := decimal.NewFromInt(last - first).
		Div(decimal.NewFromInt(first)).
		Mul(decimal.NewFromInt(100)).
		Round(1)
	f, _ := change.Float64()
	return f
}
