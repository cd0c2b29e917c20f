package models

import (
	"github.com/aouyang1/go-ensembler/linearmodel"
)

const defaultQuantile = 0.5

type quantileRegressor struct {
	spec Spec
}

func (q *quantileRegressor) Spec() Spec {
	return q.spec
}

func (q *quantileRegressor) Fit(y []float64, x [][]float64) (Fitted, error) {
	ncols, err := checkInputs(y, x)
	if err != nil {
		return nil, err
	}
	rows, target, err := reduce(y, x, q.spec.Lags)
	if err != nil {
		return nil, err
	}

	opt := linearmodel.NewDefaultQuantileOptions()
	opt.Quantile = defaultQuantile
	if q.spec.Quantile > 0 {
		opt.Quantile = q.spec.Quantile
	}
	opt.Ridge = q.spec.Ridge
	model, err := linearmodel.NewQuantileRegression(opt)
	if err != nil {
		return nil, err
	}
	xm, err := linearmodel.NewDenseFromArray(rows)
	if err != nil {
		return nil, err
	}
	if err := model.Fit(xm, linearmodel.NewColumn(target)); err != nil {
		return nil, err
	}
	return &fittedRegressor{
		history: y,
		lags:    q.spec.Lags,
		ncols:   ncols,
		predict: matrixPredictor(model.Predict),
	}, nil
}
