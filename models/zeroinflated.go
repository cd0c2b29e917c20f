package models

import (
	"github.com/aouyang1/go-ensembler/linearmodel"
)

type zeroInflated struct {
	spec Spec
}

func (z *zeroInflated) Spec() Spec {
	return z.spec
}

// Fit trains a logistic classifier on whether each target is positive and a boosted
// regressor on the positive targets only. Positive subsets too small for a single tree split
// are fit with a ridge regression instead.
func (z *zeroInflated) Fit(y []float64, x [][]float64) (Fitted, error) {
	ncols, err := checkInputs(y, x)
	if err != nil {
		return nil, err
	}
	rows, target, err := reduce(y, x, z.spec.Lags)
	if err != nil {
		return nil, err
	}

	xm, err := linearmodel.NewDenseFromArray(rows)
	if err != nil {
		return nil, err
	}
	clf, err := linearmodel.NewLogisticRegression(nil)
	if err != nil {
		return nil, err
	}
	if err := clf.Fit(xm, linearmodel.NewColumn(target)); err != nil {
		return nil, err
	}

	var nzRows [][]float64
	var nzTarget []float64
	for i, v := range target {
		if v > 0 {
			nzRows = append(nzRows, rows[i])
			nzTarget = append(nzTarget, v)
		}
	}

	magnitude := func([]float64) (float64, error) { return 0, nil }
	switch {
	case len(nzTarget) >= 2*z.spec.MinLeaf:
		reg, err := fitTree(z.spec, nzRows, nzTarget)
		if err != nil {
			return nil, err
		}
		magnitude = matrixPredictor(reg.Predict)
	case len(nzTarget) > 0:
		reg, err := fitLinear(z.spec, nzRows, nzTarget)
		if err != nil {
			return nil, err
		}
		magnitude = matrixPredictor(reg.Predict)
	}
	classify := matrixPredictor(clf.Predict)
	threshold := z.spec.Threshold

	gated := func(row []float64) (float64, error) {
		p, err := classify(row)
		if err != nil {
			return 0, err
		}
		if p < threshold {
			return 0, nil
		}
		return magnitude(row)
	}
	return &fittedRegressor{
		history: y,
		lags:    z.spec.Lags,
		ncols:   ncols,
		predict: gated,
	}, nil
}

func fitLinear(spec Spec, rows [][]float64, target []float64) (*linearmodel.OLSRegression, error) {
	model, err := linearmodel.NewOLSRegression(&linearmodel.OLSOptions{
		FitIntercept: true,
		Ridge:        spec.Ridge,
	})
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
