// Package models adapts the supported forecaster kinds to a common fit and predict contract.
// Covariate models are reduced to regression on lagged targets and predict recursively.
package models

import (
	"errors"
	"fmt"

	"github.com/aouyang1/go-ensembler/failure"
)

var (
	ErrShortHistory        = failure.New(failure.ErrFit, "history is shorter than the lag requirement")
	ErrFeatureLenMismatch  = failure.New(failure.ErrValidation, "covariate rows do not match the target length")
	ErrFutureLenMismatch   = failure.New(failure.ErrValidation, "future covariate rows do not match the horizon")
	ErrNonPositiveHorizon  = errors.New("horizon must be positive")
	ErrFeatureColsMismatch = failure.New(failure.ErrValidation, "covariate column count changed between fit and predict")
)

// Adapter fits one configured model to a single series
type Adapter interface {
	Spec() Spec
	Fit(y []float64, x [][]float64) (Fitted, error)
}

// Fitted predicts the horizon steps following the training series. xFuture holds one
// covariate row per step and may be nil for models without covariates.
type Fitted interface {
	Predict(horizon int, xFuture [][]float64) ([]float64, error)
}

// New builds the adapter for the spec's kind
func New(spec Spec) (Adapter, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Kind {
	case ZeroInflated:
		return &zeroInflated{spec: spec}, nil
	case KNN:
		return &knn{spec: spec}, nil
	case SeasonalNaive:
		return &seasonalNaive{spec: spec}, nil
	case GBT:
		return &gbt{spec: spec}, nil
	case QuantileRegressor:
		return &quantileRegressor{spec: spec}, nil
	}
	return nil, fmt.Errorf("%d, %w", int(spec.Kind), ErrUnknownKind)
}

func checkInputs(y []float64, x [][]float64) (int, error) {
	if x == nil {
		return 0, nil
	}
	if len(x) != len(y) {
		return 0, fmt.Errorf("%d covariate rows for %d targets, %w", len(x), len(y), ErrFeatureLenMismatch)
	}
	ncols := -1
	for i, row := range x {
		if ncols >= 0 && len(row) != ncols {
			return 0, fmt.Errorf("at row %d, %w", i, ErrFeatureColsMismatch)
		}
		ncols = len(row)
	}
	return max(ncols, 0), nil
}

func checkFuture(horizon, ncols int, xFuture [][]float64) error {
	if horizon <= 0 {
		return fmt.Errorf("%d, %w", horizon, ErrNonPositiveHorizon)
	}
	if ncols == 0 {
		return nil
	}
	if len(xFuture) < horizon {
		return fmt.Errorf("%d future rows for horizon %d, %w", len(xFuture), horizon, ErrFutureLenMismatch)
	}
	for i := 0; i < horizon; i++ {
		if len(xFuture[i]) != ncols {
			return fmt.Errorf("future row %d has %d columns instead of %d, %w", i, len(xFuture[i]), ncols, ErrFeatureColsMismatch)
		}
	}
	return nil
}
