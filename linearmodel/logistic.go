package linearmodel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const probClip = 1e-6

// LogisticOptions configures a ridge penalized logistic regression fit with IRLS
type LogisticOptions struct {
	FitIntercept bool
	Ridge        float64
	Iterations   int
	Tolerance    float64
}

func NewDefaultLogisticOptions() *LogisticOptions {
	return &LogisticOptions{
		FitIntercept: true,
		Ridge:        1.0,
		Iterations:   50,
		Tolerance:    1e-6,
	}
}

func (l *LogisticOptions) Validate() (*LogisticOptions, error) {
	if l == nil {
		l = NewDefaultLogisticOptions()
	}
	if l.Ridge < 0 || math.IsNaN(l.Ridge) {
		return nil, fmt.Errorf("%f, %w", l.Ridge, ErrNegativeRidge)
	}
	if l.Iterations <= 0 {
		return nil, fmt.Errorf("%d, %w", l.Iterations, ErrInvalidIterations)
	}
	return l, nil
}

// LogisticRegression models the probability of a binary target. Targets greater than zero
// are treated as the positive class.
type LogisticRegression struct {
	opt       *LogisticOptions
	coef      []float64
	intercept float64
	fitted    bool
}

func NewLogisticRegression(opt *LogisticOptions) (*LogisticRegression, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	return &LogisticRegression{
		opt: opt,
	}, nil
}

func sigmoid(v float64) float64 {
	return 1.0 / (1.0 + math.Exp(-v))
}

func clipProb(p float64) float64 {
	return math.Min(math.Max(p, probClip), 1-probClip)
}

func (l *LogisticRegression) Fit(x, y mat.Matrix) error {
	if l.opt == nil {
		return ErrNoOptions
	}
	m, n, err := checkXY(x, y)
	if err != nil {
		return err
	}

	labels := make([]float64, m)
	var positives float64
	for i := 0; i < m; i++ {
		if y.At(i, 0) > 0 {
			labels[i] = 1
			positives++
		}
	}

	l.coef = make([]float64, n)
	l.intercept = 0
	if positives == 0 || positives == float64(m) {
		// a single class has no decision boundary to learn
		if l.opt.FitIntercept {
			p := clipProb(positives / float64(m))
			l.intercept = math.Log(p / (1 - p))
		}
		l.fitted = true
		return nil
	}

	w := make([]float64, m)
	z := make([]float64, m)
	for iter := 0; iter < l.opt.Iterations; iter++ {
		for i := 0; i < m; i++ {
			eta := dot(l.intercept, l.coef, x, i)
			p := clipProb(sigmoid(eta))
			w[i] = p * (1 - p)
			z[i] = eta + (labels[i]-p)/w[i]
		}

		intercept, coef, err := solve(x, z, w, l.opt.Ridge, l.opt.FitIntercept)
		if err != nil {
			return err
		}

		delta := math.Abs(intercept - l.intercept)
		for j := range coef {
			delta = math.Max(delta, math.Abs(coef[j]-l.coef[j]))
		}
		l.intercept, l.coef = intercept, coef
		if delta < l.opt.Tolerance {
			break
		}
	}
	l.fitted = true
	return nil
}

// Predict returns the probability of the positive class
func (l *LogisticRegression) Predict(x mat.Matrix) ([]float64, error) {
	if l.opt == nil {
		return nil, ErrNoOptions
	}
	if !l.fitted {
		return nil, ErrNotFitted
	}
	eta, err := predictLinear(x, l.intercept, l.coef)
	if err != nil {
		return nil, err
	}
	for i, v := range eta {
		eta[i] = sigmoid(v)
	}
	return eta, nil
}

func (l *LogisticRegression) Intercept() float64 {
	return l.intercept
}

func (l *LogisticRegression) Coef() []float64 {
	c := make([]float64, len(l.coef))
	copy(c, l.coef)
	return c
}
