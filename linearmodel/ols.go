package linearmodel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// OLSOptions represents input options to run the OLS Regression
type OLSOptions struct {
	// FitIntercept adds a constant 1.0 feature as the first column if set to true
	FitIntercept bool

	// Ridge is the L2 penalty applied to every coefficient except the intercept
	Ridge float64

	// Weights are optional per observation weights
	Weights []float64
}

// Validate runs basic validation on OLS options
func (o *OLSOptions) Validate() (*OLSOptions, error) {
	if o == nil {
		o = NewDefaultOLSOptions()
	}
	if o.Ridge < 0 || math.IsNaN(o.Ridge) {
		return nil, fmt.Errorf("%f, %w", o.Ridge, ErrNegativeRidge)
	}
	return o, nil
}

// NewDefaultOLSOptions returns a default set of OLS Regression options
func NewDefaultOLSOptions() *OLSOptions {
	return &OLSOptions{
		FitIntercept: true,
	}
}

// OLSRegression computes weighted ridge least squares using QR factorization
type OLSRegression struct {
	opt       *OLSOptions
	coef      []float64
	intercept float64
	fitted    bool
}

// NewOLSRegression initializes an ordinary least squares model ready for fitting
func NewOLSRegression(opt *OLSOptions) (*OLSRegression, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	return &OLSRegression{
		opt: opt,
	}, nil
}

// Fit the model according to the given training data
func (o *OLSRegression) Fit(x, y mat.Matrix) error {
	if o.opt == nil {
		return ErrNoOptions
	}
	m, _, err := checkXY(x, y)
	if err != nil {
		return err
	}
	if o.opt.Weights != nil && len(o.opt.Weights) != m {
		return fmt.Errorf("got %d weights for %d observations, %w", len(o.opt.Weights), m, ErrTargetLenMismatch)
	}

	o.intercept, o.coef, err = solve(x, mat.Col(nil, 0, y), o.opt.Weights, o.opt.Ridge, o.opt.FitIntercept)
	if err != nil {
		return err
	}
	o.fitted = true
	return nil
}

// Predict using the OLS model
func (o *OLSRegression) Predict(x mat.Matrix) ([]float64, error) {
	if o.opt == nil {
		return nil, ErrNoOptions
	}
	if !o.fitted {
		return nil, ErrNotFitted
	}
	return predictLinear(x, o.intercept, o.coef)
}

// Score computes the coefficient of determination of the prediction
func (o *OLSRegression) Score(x, y mat.Matrix) (float64, error) {
	if o.opt == nil {
		return 0.0, ErrNoOptions
	}
	if _, _, err := checkXY(x, y); err != nil {
		return 0.0, err
	}

	res, err := o.Predict(x)
	if err != nil {
		return 0.0, err
	}

	ySlice := mat.Col(nil, 0, y)

	return stat.RSquaredFrom(res, ySlice, nil), nil
}

// Intercept returns the computed intercept if FitIntercept is set to true. Defaults to 0.0 if not set.
func (o *OLSRegression) Intercept() float64 {
	return o.intercept
}

// Coef returns a slice of the trained coefficients in the same order of the training feature Matrix by column.
func (o *OLSRegression) Coef() []float64 {
	c := make([]float64, len(o.coef))
	copy(c, o.coef)
	return c
}

// solve minimizes sum_i w_i (y_i - b0 - x_i b)^2 + ridge * |b|^2. Columns that are zero on
// every weighted observation are left out of the factorization and get a zero coefficient.
func solve(x mat.Matrix, y, w []float64, ridge float64, fitIntercept bool) (float64, []float64, error) {
	m, n := x.Dims()

	sw := make([]float64, m)
	for i := range sw {
		sw[i] = 1.0
		if w != nil {
			if w[i] < 0 || math.IsNaN(w[i]) {
				sw[i] = 0
				continue
			}
			sw[i] = math.Sqrt(w[i])
		}
	}

	active := make([]int, 0, n)
	for j := 0; j < n; j++ {
		for i := 0; i < m; i++ {
			if sw[i] != 0 && x.At(i, j) != 0 {
				active = append(active, j)
				break
			}
		}
	}

	offset := 0
	if fitIntercept {
		offset = 1
	}
	cols := len(active) + offset
	coef := make([]float64, n)
	if cols == 0 {
		return 0, coef, nil
	}

	rows := m
	if ridge > 0 {
		rows += len(active)
	}
	if rows < cols {
		return 0, nil, fmt.Errorf("%d observations for %d coefficients, %w", rows, cols, ErrUnderdetermined)
	}

	a := mat.NewDense(rows, cols, nil)
	b := mat.NewVecDense(rows, nil)
	for i := 0; i < m; i++ {
		if fitIntercept {
			a.Set(i, 0, sw[i])
		}
		for k, j := range active {
			a.Set(i, offset+k, sw[i]*x.At(i, j))
		}
		b.SetVec(i, sw[i]*y[i])
	}
	if ridge > 0 {
		sr := math.Sqrt(ridge)
		for k := range active {
			a.Set(m+k, offset+k, sr)
		}
	}

	qr := new(mat.QR)
	qr.Factorize(a)

	var sol mat.Dense
	if err := qr.SolveTo(&sol, false, b); err != nil {
		return 0, nil, fmt.Errorf("%s, %w", err.Error(), ErrSingular)
	}

	var intercept float64
	if fitIntercept {
		intercept = sol.At(0, 0)
	}
	for k, j := range active {
		coef[j] = sol.At(offset+k, 0)
	}

	if math.IsNaN(intercept) || math.IsInf(intercept, 0) {
		return 0, nil, ErrSingular
	}
	for _, c := range coef {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return 0, nil, ErrSingular
		}
	}
	return intercept, coef, nil
}
