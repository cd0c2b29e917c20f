// Package tree implements gradient boosted regression trees with squared error or pinball
// loss
package tree

import (
	"errors"
	"fmt"
	"math"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoOptions          = errors.New("no initialized model options")
	ErrNoTrainingMatrix   = errors.New("no training matrix")
	ErrNoTargetMatrix     = errors.New("no target matrix")
	ErrNoDesignMatrix     = errors.New("no design matrix for inference")
	ErrTargetLenMismatch  = errors.New("target length does not match target rows")
	ErrFeatureLenMismatch = errors.New("number of features does not match the trained features")
	ErrNotFitted          = errors.New("model has not been fit")
	ErrNoObservations     = failure.New(failure.ErrFit, "no observations to fit")
	ErrInvalidOptions     = failure.New(failure.ErrValidation, "invalid boosting options")
)

type Loss string

const (
	LossSquared Loss = "squared"
	LossPinball Loss = "pinball"
)

// Options configures the boosting rounds and the shape of each tree
type Options struct {
	Trees        int
	MaxDepth     int
	LearningRate float64
	MinLeaf      int
	Loss         Loss

	// Quantile is the pinball loss level, only used with LossPinball
	Quantile float64
}

func NewDefaultOptions() *Options {
	return &Options{
		Trees:        100,
		MaxDepth:     3,
		LearningRate: 0.1,
		MinLeaf:      2,
		Loss:         LossSquared,
	}
}

func (o *Options) Validate() (*Options, error) {
	if o == nil {
		o = NewDefaultOptions()
	}
	switch {
	case o.Trees < 0:
		return nil, fmt.Errorf("trees %d, %w", o.Trees, ErrInvalidOptions)
	case o.MaxDepth <= 0:
		return nil, fmt.Errorf("max depth %d, %w", o.MaxDepth, ErrInvalidOptions)
	case !(o.LearningRate > 0):
		return nil, fmt.Errorf("learning rate %f, %w", o.LearningRate, ErrInvalidOptions)
	case o.MinLeaf <= 0:
		return nil, fmt.Errorf("min leaf %d, %w", o.MinLeaf, ErrInvalidOptions)
	}
	switch o.Loss {
	case LossSquared:
	case LossPinball:
		if !(o.Quantile > 0 && o.Quantile < 1) {
			return nil, fmt.Errorf("quantile %f, %w", o.Quantile, ErrInvalidOptions)
		}
	default:
		return nil, fmt.Errorf("loss %q, %w", o.Loss, ErrInvalidOptions)
	}
	return o, nil
}

// GradientBoosting is an additive model of shallow regression trees
type GradientBoosting struct {
	opt        *Options
	base       float64
	trees      []*node
	nFeatures  int
	importance []float64
	fitted     bool
}

func NewGradientBoosting(opt *Options) (*GradientBoosting, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	return &GradientBoosting{opt: opt}, nil
}

func (g *GradientBoosting) initial(y []float64) float64 {
	if g.opt.Loss == LossPinball {
		return stats.Quantile(y, g.opt.Quantile)
	}
	return floats.Sum(y) / float64(len(y))
}

// negGradient is the direction each prediction should move to reduce the loss
func (g *GradientBoosting) negGradient(y, f, out []float64) {
	for i := range y {
		diff := y[i] - f[i]
		if g.opt.Loss == LossPinball {
			if diff > 0 {
				out[i] = g.opt.Quantile
			} else {
				out[i] = g.opt.Quantile - 1
			}
			continue
		}
		out[i] = diff
	}
}

// Fit grows Trees trees, each on the negative gradient of the loss at the current fit. Leaf
// values are refit to the loss on the raw residuals.
func (g *GradientBoosting) Fit(x, y mat.Matrix) error {
	if g.opt == nil {
		return ErrNoOptions
	}
	if x == nil {
		return ErrNoTrainingMatrix
	}
	if y == nil {
		return ErrNoTargetMatrix
	}
	m, n := x.Dims()
	ym, _ := y.Dims()
	if ym != m {
		return fmt.Errorf("training data has %d rows and target has %d row, %w", m, ym, ErrTargetLenMismatch)
	}
	if m == 0 {
		return ErrNoObservations
	}

	yv := mat.Col(nil, 0, y)
	cols := make([][]float64, n)
	for j := 0; j < n; j++ {
		cols[j] = mat.Col(nil, j, x)
	}

	g.nFeatures = n
	g.base = g.initial(yv)
	g.trees = g.trees[:0]
	g.importance = make([]float64, n)

	f := make([]float64, m)
	for i := range f {
		f[i] = g.base
	}
	grad := make([]float64, m)
	resid := make([]float64, m)
	idx := make([]int, m)
	for i := range idx {
		idx[i] = i
	}

	leaf := func(rows []int) float64 {
		vals := make([]float64, len(rows))
		for k, i := range rows {
			vals[k] = resid[i]
		}
		if g.opt.Loss == LossPinball {
			return stats.Quantile(vals, g.opt.Quantile)
		}
		return floats.Sum(vals) / float64(len(vals))
	}

	for t := 0; t < g.opt.Trees; t++ {
		g.negGradient(yv, f, grad)
		for i := range resid {
			resid[i] = yv[i] - f[i]
		}
		b := &treeBuilder{
			cols:     cols,
			g:        grad,
			maxDepth: g.opt.MaxDepth,
			minLeaf:  g.opt.MinLeaf,
			leaf:     leaf,
			gains:    g.importance,
		}
		root := b.build(idx, 0)
		g.trees = append(g.trees, root)

		row := make([]float64, n)
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				row[j] = cols[j][i]
			}
			f[i] += g.opt.LearningRate * root.predict(row)
		}
	}

	g.fitted = true
	return nil
}

func (g *GradientBoosting) Predict(x mat.Matrix) ([]float64, error) {
	if g.opt == nil {
		return nil, ErrNoOptions
	}
	if !g.fitted {
		return nil, ErrNotFitted
	}
	if x == nil {
		return nil, ErrNoDesignMatrix
	}
	m, n := x.Dims()
	if n != g.nFeatures {
		return nil, fmt.Errorf("got %d features in design matrix, but expected %d, %w", n, g.nFeatures, ErrFeatureLenMismatch)
	}

	res := make([]float64, m)
	row := make([]float64, n)
	for i := 0; i < m; i++ {
		mat.Row(row, i, x)
		v := g.base
		for _, root := range g.trees {
			v += g.opt.LearningRate * root.predict(row)
		}
		res[i] = v
	}
	return res, nil
}

// Importance returns the total split gain per feature normalized to sum to one. Features
// never used in a split have zero importance.
func (g *GradientBoosting) Importance() []float64 {
	imp := make([]float64, len(g.importance))
	copy(imp, g.importance)
	total := floats.Sum(imp)
	if total > 0 && !math.IsInf(total, 0) {
		floats.Scale(1/total, imp)
	}
	return imp
}
