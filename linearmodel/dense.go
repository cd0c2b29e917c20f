package linearmodel

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var ErrColMismatch = errors.New("column size mismatch")

// NewDenseFromArray converts a row major 2D slice into a dense matrix
func NewDenseFromArray(x [][]float64) (*mat.Dense, error) {
	m := len(x)
	if m == 0 {
		return nil, ErrNoTrainingMatrix
	}

	n := -1
	for i, row := range x {
		if n >= 0 && len(row) != n {
			return nil, fmt.Errorf("at row %d, %w", i, ErrColMismatch)
		}
		if n < 0 {
			n = len(row)
		}
	}
	if n == 0 {
		// intercept only models still need a column to factorize against
		return mat.NewDense(m, 1, make([]float64, m)), nil
	}

	// flatten to row order
	data := make([]float64, 0, m*n)
	for _, row := range x {
		data = append(data, row...)
	}
	return mat.NewDense(m, n, data), nil
}

// NewColumn wraps a slice as an m x 1 target matrix
func NewColumn(y []float64) *mat.Dense {
	if len(y) == 0 {
		return nil
	}
	return mat.NewDense(len(y), 1, y)
}

func dot(intercept float64, coef []float64, x mat.Matrix, row int) float64 {
	v := intercept
	for j, c := range coef {
		v += c * x.At(row, j)
	}
	return v
}

func predictLinear(x mat.Matrix, intercept float64, coef []float64) ([]float64, error) {
	if x == nil {
		return nil, ErrNoDesignMatrix
	}
	m, n := x.Dims()
	if n != len(coef) {
		return nil, fmt.Errorf("got %d features in design matrix, but expected %d, %w", n, len(coef), ErrFeatureLenMismatch)
	}
	res := make([]float64, m)
	for i := 0; i < m; i++ {
		res[i] = dot(intercept, coef, x, i)
	}
	return res, nil
}

func checkXY(x, y mat.Matrix) (int, int, error) {
	if x == nil {
		return 0, 0, ErrNoTrainingMatrix
	}
	if y == nil {
		return 0, 0, ErrNoTargetMatrix
	}
	m, n := x.Dims()
	ym, _ := y.Dims()
	if ym != m {
		return 0, 0, fmt.Errorf("training data has %d rows and target has %d row, %w", m, ym, ErrTargetLenMismatch)
	}
	return m, n, nil
}
