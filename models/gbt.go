package models

import (
	"github.com/aouyang1/go-ensembler/linearmodel"
	"github.com/aouyang1/go-ensembler/tree"
)

type gbt struct {
	spec Spec
}

func (g *gbt) Spec() Spec {
	return g.spec
}

func (s Spec) treeOptions() *tree.Options {
	opt := &tree.Options{
		Trees:        s.Trees,
		MaxDepth:     s.Depth,
		LearningRate: s.LearningRate,
		MinLeaf:      s.MinLeaf,
		Loss:         tree.LossSquared,
	}
	if s.Quantile > 0 {
		opt.Loss = tree.LossPinball
		opt.Quantile = s.Quantile
	}
	return opt
}

func fitTree(spec Spec, rows [][]float64, target []float64) (*tree.GradientBoosting, error) {
	model, err := tree.NewGradientBoosting(spec.treeOptions())
	if err != nil {
		return nil, err
	}
	x, err := linearmodel.NewDenseFromArray(rows)
	if err != nil {
		return nil, err
	}
	if err := model.Fit(x, linearmodel.NewColumn(target)); err != nil {
		return nil, err
	}
	return model, nil
}

func (g *gbt) Fit(y []float64, x [][]float64) (Fitted, error) {
	ncols, err := checkInputs(y, x)
	if err != nil {
		return nil, err
	}
	rows, target, err := reduce(y, x, g.spec.Lags)
	if err != nil {
		return nil, err
	}
	model, err := fitTree(g.spec, rows, target)
	if err != nil {
		return nil, err
	}
	return &fittedRegressor{
		history: y,
		lags:    g.spec.Lags,
		ncols:   ncols,
		predict: matrixPredictor(model.Predict),
	}, nil
}

// fittedRegressor forecasts recursively with any row predictor
type fittedRegressor struct {
	history []float64
	lags    int
	ncols   int
	predict rowPredictor
}

func (f *fittedRegressor) Predict(horizon int, xFuture [][]float64) ([]float64, error) {
	if err := checkFuture(horizon, f.ncols, xFuture); err != nil {
		return nil, err
	}
	if f.ncols == 0 {
		xFuture = nil
	}
	return recursive(f.history, f.lags, horizon, xFuture, f.predict)
}
