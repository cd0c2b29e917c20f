package models

import (
	"fmt"

	"github.com/aouyang1/go-ensembler/linearmodel"
	"gonum.org/v1/gonum/mat"
)

// lagRow builds the regression row for a target position: the previous lags values, most
// recent first, followed by the covariates of that position
func lagRow(history []float64, lags int, cov []float64) []float64 {
	row := make([]float64, 0, lags+len(cov))
	n := len(history)
	for l := 1; l <= lags; l++ {
		row = append(row, history[n-l])
	}
	return append(row, cov...)
}

// reduce turns a series into a supervised regression problem over rows lags..n-1
func reduce(y []float64, x [][]float64, lags int) ([][]float64, []float64, error) {
	if len(y) <= lags || len(y) == 0 {
		return nil, nil, fmt.Errorf("%d observations with %d lags, %w", len(y), lags, ErrShortHistory)
	}
	rows := make([][]float64, 0, len(y)-lags)
	target := make([]float64, 0, len(y)-lags)
	for t := lags; t < len(y); t++ {
		var cov []float64
		if x != nil {
			cov = x[t]
		}
		rows = append(rows, lagRow(y[:t], lags, cov))
		target = append(target, y[t])
	}
	return rows, target, nil
}

// rowPredictor scores one reduced row
type rowPredictor func(row []float64) (float64, error)

// recursive forecasts step by step, feeding each prediction back as the most recent lag
func recursive(history []float64, lags, horizon int, xFuture [][]float64, predict rowPredictor) ([]float64, error) {
	hist := make([]float64, len(history), len(history)+horizon)
	copy(hist, history)

	out := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		var cov []float64
		if xFuture != nil {
			cov = xFuture[h]
		}
		v, err := predict(lagRow(hist, lags, cov))
		if err != nil {
			return nil, err
		}
		out[h] = v
		hist = append(hist, v)
	}
	return out, nil
}

// matrixPredictor adapts a gonum model to score single rows
func matrixPredictor(predict func(x mat.Matrix) ([]float64, error)) rowPredictor {
	return func(row []float64) (float64, error) {
		x, err := linearmodel.NewDenseFromArray([][]float64{row})
		if err != nil {
			return 0, err
		}
		res, err := predict(x)
		if err != nil {
			return 0, err
		}
		return res[0], nil
	}
}
