// Package stats holds the NaN aware reductions and quantile helpers shared by the models and
// the metrics
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Finite drops NaN and infinite values
func Finite(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// NaNMean averages the finite values, returning NaN when there are none
func NaNMean(x []float64) float64 {
	vals := Finite(x)
	if len(vals) == 0 {
		return math.NaN()
	}
	return stat.Mean(vals, nil)
}

// NaNSum adds the finite values
func NaNSum(x []float64) float64 {
	return floats.Sum(Finite(x))
}

// Quantile returns the linearly interpolated q quantile of the finite values. NaN is returned
// for empty input.
func Quantile(x []float64, q float64) float64 {
	vals := Finite(x)
	if len(vals) == 0 || math.IsNaN(q) {
		return math.NaN()
	}
	sort.Float64s(vals)
	if q <= 0 {
		return vals[0]
	}
	if q >= 1 {
		return vals[len(vals)-1]
	}
	// gonum's LinInterp interpolates the empirical cdf, here the order statistics are
	// interpolated at position q*(n-1)
	pos := q * float64(len(vals)-1)
	lo := math.Floor(pos)
	frac := pos - lo
	i := int(lo)
	if i+1 >= len(vals) {
		return vals[i]
	}
	return vals[i] + frac*(vals[i+1]-vals[i])
}

// Pinball is the mean quantile loss of predictions p against observations y at level tau.
// Pairs with a non-finite member are skipped.
func Pinball(y, p []float64, tau float64) float64 {
	var sum float64
	var n int
	for i := range y {
		if i >= len(p) {
			break
		}
		if math.IsNaN(y[i]) || math.IsNaN(p[i]) || math.IsInf(y[i], 0) || math.IsInf(p[i], 0) {
			continue
		}
		diff := y[i] - p[i]
		if diff >= 0 {
			sum += tau * diff
		} else {
			sum += (tau - 1) * diff
		}
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Variance of the finite values. Fewer than two values have zero variance.
func Variance(x []float64) float64 {
	vals := Finite(x)
	if len(vals) < 2 {
		return 0
	}
	return stat.Variance(vals, nil)
}
