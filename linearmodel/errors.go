package linearmodel

import (
	"errors"

	"github.com/aouyang1/go-ensembler/failure"
)

var (
	ErrNoOptions          = errors.New("no initialized model options")
	ErrTargetLenMismatch  = errors.New("target length does not match target rows")
	ErrNoTrainingMatrix   = errors.New("no training matrix")
	ErrNoTargetMatrix     = errors.New("no target matrix")
	ErrNoDesignMatrix     = errors.New("no design matrix for inference")
	ErrFeatureLenMismatch = errors.New("number of features does not match number of model coefficients")
	ErrNegativeRidge      = errors.New("ridge penalty must be non-negative")
	ErrInvalidQuantile    = errors.New("quantile must be in the open interval (0, 1)")
	ErrInvalidIterations  = errors.New("iterations must be positive")
	ErrUnderdetermined    = failure.New(failure.ErrFit, "fewer observations than coefficients")
	ErrSingular           = failure.New(failure.ErrFit, "design matrix is singular")
	ErrNotFitted          = errors.New("model has not been fit")
)
