// Package metrics scores backtest predictions per entity against the actual target and
// against the reference forecast of the same rows
package metrics

import (
	"errors"
	"fmt"
	"math"

	"github.com/aouyang1/go-ensembler/stats"
)

var ErrResLenMismatch = errors.New("predicted and actual have different lengths")

const (
	MAE     = "mae"
	Over    = "over"
	Under   = "under"
	SMAPE   = "smape"
	Pinball = "pinball"
)

// Names lists the point forecast metrics in report order
func Names() []string {
	return []string{MAE, Over, Under, SMAPE}
}

// MetricFunc scores predictions against actuals
type MetricFunc func(predicted, actual []float64) (float64, error)

// Lookup returns the metric function by name. Pinball is only defined per quantile and is not
// returned here.
func Lookup(name string) (MetricFunc, bool) {
	switch name {
	case MAE:
		return MeanAbsoluteError, true
	case Over:
		return OverForecast, true
	case Under:
		return UnderForecast, true
	case SMAPE:
		return SymmetricMAPE, true
	}
	return nil, false
}

func pairs(predicted, actual []float64, fn func(p, a float64)) (int, error) {
	if len(predicted) != len(actual) {
		return 0, fmt.Errorf("expected %d, but got %d, %w", len(actual), len(predicted), ErrResLenMismatch)
	}
	var n int
	for i := 0; i < len(actual); i++ {
		if math.IsNaN(actual[i]) || math.IsNaN(predicted[i]) {
			continue
		}
		fn(predicted[i], actual[i])
		n++
	}
	return n, nil
}

// MeanAbsoluteError is mean(abs(yhat-y)). NaN pairs are skipped.
func MeanAbsoluteError(predicted, actual []float64) (float64, error) {
	var sum float64
	n, err := pairs(predicted, actual, func(p, a float64) {
		sum += math.Abs(p - a)
	})
	if err != nil || n == 0 {
		return math.NaN(), err
	}
	return sum / float64(n), nil
}

// OverForecast is the total amount predicted above the actuals
func OverForecast(predicted, actual []float64) (float64, error) {
	var sum float64
	_, err := pairs(predicted, actual, func(p, a float64) {
		if p > a {
			sum += p - a
		}
	})
	return sum, err
}

// UnderForecast is the total amount predicted below the actuals as a positive magnitude
func UnderForecast(predicted, actual []float64) (float64, error) {
	var sum float64
	_, err := pairs(predicted, actual, func(p, a float64) {
		if p < a {
			sum += a - p
		}
	})
	return sum, err
}

// SymmetricMAPE is mean(2*abs(yhat-y)/(abs(yhat)+abs(y)))*100. Pairs that are both zero
// contribute no error.
func SymmetricMAPE(predicted, actual []float64) (float64, error) {
	var sum float64
	n, err := pairs(predicted, actual, func(p, a float64) {
		denom := math.Abs(p) + math.Abs(a)
		if denom == 0 {
			return
		}
		sum += 2 * math.Abs(p-a) / denom
	})
	if err != nil || n == 0 {
		return math.NaN(), err
	}
	return sum / float64(n) * 100, nil
}

// QuantileLoss is the mean pinball loss at level q
func QuantileLoss(q float64) MetricFunc {
	return func(predicted, actual []float64) (float64, error) {
		if len(predicted) != len(actual) {
			return 0, fmt.Errorf("expected %d, but got %d, %w", len(actual), len(predicted), ErrResLenMismatch)
		}
		return stats.Pinball(actual, predicted, q), nil
	}
}
