package linearmodel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// QuantileOptions configures a linear quantile regression fit by iteratively reweighted least
// squares on the pinball loss
type QuantileOptions struct {
	FitIntercept bool
	Quantile     float64
	Ridge        float64
	Iterations   int
	Tolerance    float64

	// Epsilon bounds residuals away from zero when computing weights
	Epsilon float64
}

// NewDefaultQuantileOptions returns options for a median regression
func NewDefaultQuantileOptions() *QuantileOptions {
	return &QuantileOptions{
		FitIntercept: true,
		Quantile:     0.5,
		Ridge:        1e-6,
		Iterations:   100,
		Tolerance:    1e-6,
		Epsilon:      1e-6,
	}
}

func (q *QuantileOptions) Validate() (*QuantileOptions, error) {
	if q == nil {
		q = NewDefaultQuantileOptions()
	}
	if !(q.Quantile > 0 && q.Quantile < 1) {
		return nil, fmt.Errorf("%f, %w", q.Quantile, ErrInvalidQuantile)
	}
	if q.Ridge < 0 || math.IsNaN(q.Ridge) {
		return nil, fmt.Errorf("%f, %w", q.Ridge, ErrNegativeRidge)
	}
	if q.Iterations <= 0 {
		return nil, fmt.Errorf("%d, %w", q.Iterations, ErrInvalidIterations)
	}
	if q.Epsilon <= 0 {
		q.Epsilon = NewDefaultQuantileOptions().Epsilon
	}
	return q, nil
}

// QuantileRegression estimates a conditional quantile of the target as a linear function
type QuantileRegression struct {
	opt       *QuantileOptions
	coef      []float64
	intercept float64
	fitted    bool
	iters     int
}

func NewQuantileRegression(opt *QuantileOptions) (*QuantileRegression, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	return &QuantileRegression{
		opt: opt,
	}, nil
}

// Fit starts from the least squares solution and reweights each observation by the
// asymmetric pinball slope over its absolute residual until the coefficients settle.
func (q *QuantileRegression) Fit(x, y mat.Matrix) error {
	if q.opt == nil {
		return ErrNoOptions
	}
	m, _, err := checkXY(x, y)
	if err != nil {
		return err
	}
	yv := mat.Col(nil, 0, y)

	intercept, coef, err := solve(x, yv, nil, q.opt.Ridge, q.opt.FitIntercept)
	if err != nil {
		return err
	}

	tau := q.opt.Quantile
	w := make([]float64, m)
	var iter int
	for iter = 0; iter < q.opt.Iterations; iter++ {
		for i := 0; i < m; i++ {
			r := yv[i] - dot(intercept, coef, x, i)
			slope := tau
			if r < 0 {
				slope = 1 - tau
			}
			w[i] = slope / math.Max(math.Abs(r), q.opt.Epsilon)
		}

		nextIntercept, nextCoef, err := solve(x, yv, w, q.opt.Ridge, q.opt.FitIntercept)
		if err != nil {
			return err
		}

		delta := math.Abs(nextIntercept - intercept)
		for j := range coef {
			delta = math.Max(delta, math.Abs(nextCoef[j]-coef[j]))
		}
		intercept, coef = nextIntercept, nextCoef
		if delta < q.opt.Tolerance {
			break
		}
	}

	q.intercept = intercept
	q.coef = coef
	q.iters = iter
	q.fitted = true
	return nil
}

func (q *QuantileRegression) Predict(x mat.Matrix) ([]float64, error) {
	if q.opt == nil {
		return nil, ErrNoOptions
	}
	if !q.fitted {
		return nil, ErrNotFitted
	}
	return predictLinear(x, q.intercept, q.coef)
}

func (q *QuantileRegression) Intercept() float64 {
	return q.intercept
}

func (q *QuantileRegression) Coef() []float64 {
	c := make([]float64, len(q.coef))
	copy(c, q.coef)
	return c
}
