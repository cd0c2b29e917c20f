package models

import "fmt"

type seasonalNaive struct {
	spec Spec
}

func (s *seasonalNaive) Spec() Spec {
	return s.spec
}

// Fit keeps the last seasonal period of the series. Covariates are ignored.
func (s *seasonalNaive) Fit(y []float64, _ [][]float64) (Fitted, error) {
	m := s.spec.SeasonalPeriod
	if len(y) < m {
		return nil, fmt.Errorf("%d observations for seasonal period %d, %w", len(y), m, ErrShortHistory)
	}
	season := make([]float64, m)
	copy(season, y[len(y)-m:])
	return &fittedNaive{season: season}, nil
}

type fittedNaive struct {
	season []float64
}

// Predict repeats the last observed season, step h taking y[n-m+((h-1) mod m)]
func (f *fittedNaive) Predict(horizon int, _ [][]float64) ([]float64, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%d, %w", horizon, ErrNonPositiveHorizon)
	}
	out := make([]float64, horizon)
	for h := range out {
		out[h] = f.season[h%len(f.season)]
	}
	return out, nil
}
