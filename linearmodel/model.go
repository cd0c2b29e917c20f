// Package linearmodel fits linear models with QR factorization: weighted ridge least squares,
// quantile regression and ridge penalized logistic regression.
package linearmodel

import "gonum.org/v1/gonum/mat"

// Model is a fitted linear function of the design matrix columns
type Model interface {
	Fit(x, y mat.Matrix) error
	Predict(x mat.Matrix) ([]float64, error)
	Intercept() float64
	Coef() []float64
}
