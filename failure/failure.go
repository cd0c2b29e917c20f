// Package failure defines the error kinds a pipeline run can fail with. Every error surfaced
// at the run boundary is classified into one of these kinds so it can be reported with a
// human readable status message.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCredential          = errors.New("credential error")
	ErrDataAccess          = errors.New("data access error")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrFit                 = errors.New("model fit error")
	ErrValidation          = errors.New("validation error")
)

var kinds = []error{
	ErrCredential,
	ErrDataAccess,
	ErrInsufficientHistory,
	ErrFit,
	ErrValidation,
}

// kindError is a package specific sentinel that also matches its kind with errors.Is
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

// New creates a sentinel error that belongs to the input kind.
func New(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// KindOf returns the kind of the error or nil if it is not classified
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// WithKind classifies an error that does not carry a kind yet. Classified errors are
// returned unchanged.
func WithKind(err, kind error) error {
	if err == nil || KindOf(err) != nil {
		return err
	}
	return fmt.Errorf("%w, %w", err, kind)
}

// Message maps an error to the message reported on a failed run.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var prefix string
	switch KindOf(err) {
	case ErrCredential:
		prefix = "unable to authenticate against a data source"
	case ErrDataAccess:
		prefix = "unable to read or write run data"
	case ErrInsufficientHistory:
		prefix = "not enough history to backtest the configured models"
	case ErrFit:
		prefix = "a model failed to fit"
	case ErrValidation:
		prefix = "invalid run configuration or input data"
	default:
		prefix = "internal error"
	}
	return prefix + ": " + strings.TrimSpace(err.Error())
}
