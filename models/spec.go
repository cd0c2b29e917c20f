package models

import (
	"fmt"
	"math"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/goccy/go-json"
)

var (
	ErrInvalidLags      = failure.New(failure.ErrValidation, "lags must be non-negative")
	ErrInvalidQuantile  = failure.New(failure.ErrValidation, "quantile must be in the open interval (0, 1)")
	ErrInvalidThreshold = failure.New(failure.ErrValidation, "zero inflated threshold must be in [0, 1]")
	ErrInvalidSeason    = failure.New(failure.ErrValidation, "seasonal period must be positive")
	ErrInvalidBoosting  = failure.New(failure.ErrValidation, "invalid boosting configuration")
)

const (
	DefaultTrees        = 100
	DefaultDepth        = 3
	DefaultLearningRate = 0.1
	DefaultMinLeaf      = 2
	DefaultThreshold    = 0.5
	DefaultRidge        = 1e-3
	maxDefaultLags      = 12
)

// Spec is the fit configuration of one base model. Quantile is zero for point forecasts.
type Spec struct {
	Name           string  `json:"name" yaml:"name"`
	Kind           Kind    `json:"kind" yaml:"kind"`
	Lags           int     `json:"lags,omitempty" yaml:"lags,omitempty"`
	SeasonalPeriod int     `json:"seasonal_period,omitempty" yaml:"seasonal_period,omitempty"`
	Quantile       float64 `json:"quantile,omitempty" yaml:"quantile,omitempty"`
	Neighbors      int     `json:"neighbors,omitempty" yaml:"neighbors,omitempty"`
	Trees          int     `json:"trees,omitempty" yaml:"trees,omitempty"`
	Depth          int     `json:"depth,omitempty" yaml:"depth,omitempty"`
	LearningRate   float64 `json:"learning_rate,omitempty" yaml:"learning_rate,omitempty"`
	MinLeaf        int     `json:"min_leaf,omitempty" yaml:"min_leaf,omitempty"`
	Threshold      float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Ridge          float64 `json:"ridge,omitempty" yaml:"ridge,omitempty"`
}

// ID is the model tag carried by backtest results
func (s Spec) ID() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Kind.String()
}

// WithDefaults fills unset fields with defaults for the panel frequency
func (s Spec) WithDefaults(freq panel.Frequency) Spec {
	if s.SeasonalPeriod == 0 {
		s.SeasonalPeriod = freq.SeasonalPeriod()
	}
	if s.Lags == 0 && s.Kind != SeasonalNaive {
		s.Lags = min(freq.SeasonalPeriod(), maxDefaultLags)
	}
	switch s.Kind {
	case GBT, ZeroInflated:
		if s.Trees == 0 {
			s.Trees = DefaultTrees
		}
		if s.Depth == 0 {
			s.Depth = DefaultDepth
		}
		if s.LearningRate == 0 {
			s.LearningRate = DefaultLearningRate
		}
		if s.MinLeaf == 0 {
			s.MinLeaf = DefaultMinLeaf
		}
		if s.Kind == ZeroInflated && s.Threshold == 0 {
			s.Threshold = DefaultThreshold
		}
		if s.Kind == ZeroInflated && s.Ridge == 0 {
			s.Ridge = DefaultRidge
		}
	case QuantileRegressor:
		if s.Ridge == 0 {
			s.Ridge = DefaultRidge
		}
	}
	return s
}

// Validate checks a spec after defaults have been applied
func (s Spec) Validate() error {
	if _, exists := kindNames[s.Kind]; !exists {
		return fmt.Errorf("model %q kind %d, %w", s.Name, int(s.Kind), ErrUnknownKind)
	}
	if s.Lags < 0 || s.Neighbors < 0 {
		return fmt.Errorf("model %q lags %d neighbors %d, %w", s.ID(), s.Lags, s.Neighbors, ErrInvalidLags)
	}
	if s.Quantile != 0 && !(s.Quantile > 0 && s.Quantile < 1) {
		return fmt.Errorf("model %q quantile %f, %w", s.ID(), s.Quantile, ErrInvalidQuantile)
	}
	switch s.Kind {
	case SeasonalNaive:
		if s.SeasonalPeriod <= 0 {
			return fmt.Errorf("model %q period %d, %w", s.ID(), s.SeasonalPeriod, ErrInvalidSeason)
		}
	case ZeroInflated:
		if s.Threshold < 0 || s.Threshold > 1 || math.IsNaN(s.Threshold) {
			return fmt.Errorf("model %q threshold %f, %w", s.ID(), s.Threshold, ErrInvalidThreshold)
		}
		fallthrough
	case GBT:
		if s.Trees <= 0 || s.Depth <= 0 || !(s.LearningRate > 0) || s.MinLeaf <= 0 {
			return fmt.Errorf("model %q, %w", s.ID(), ErrInvalidBoosting)
		}
	}
	return nil
}

// WithQuantile returns a copy reconfigured to the quantile level. Kinds without a regressor
// are returned unchanged.
func (s Spec) WithQuantile(q float64) Spec {
	if s.Kind.isRegressor() {
		s.Quantile = q
	}
	return s
}

// UsesCovariates reports whether the model reads feature columns
func (s Spec) UsesCovariates() bool {
	return s.Kind != SeasonalNaive
}

// Key is a stable identity of the full configuration, used to memoize backtests
func (s Spec) Key() string {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("%+v", s)
	}
	return string(b)
}
