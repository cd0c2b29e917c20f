package models

import (
	"fmt"
	"strings"

	"github.com/aouyang1/go-ensembler/failure"
)

var ErrUnknownKind = failure.New(failure.ErrValidation, "unknown model kind")

// Kind identifies one of the supported forecaster families
type Kind int

const (
	KindUnknown Kind = iota
	ZeroInflated
	KNN
	SeasonalNaive
	GBT
	QuantileRegressor
)

var kindNames = map[Kind]string{
	ZeroInflated:      "zero_inflated",
	KNN:               "knn",
	SeasonalNaive:     "seasonal_naive",
	GBT:               "gbt",
	QuantileRegressor: "quantile_regressor",
}

// Kinds lists every supported kind in declaration order
func Kinds() []Kind {
	return []Kind{ZeroInflated, KNN, SeasonalNaive, GBT, QuantileRegressor}
}

func (k Kind) String() string {
	if name, exists := kindNames[k]; exists {
		return name
	}
	return "unknown"
}

func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, kn := range kindNames {
		if kn == name {
			return k, nil
		}
	}
	switch name {
	case "zero_inflated_two_stage", "zi":
		return ZeroInflated, nil
	case "k_nearest_neighbor":
		return KNN, nil
	case "gradient_boosted_tree":
		return GBT, nil
	case "naive":
		return SeasonalNaive, nil
	}
	return KindUnknown, fmt.Errorf("%q, %w", s, ErrUnknownKind)
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, exists := kindNames[k]; !exists {
		return nil, fmt.Errorf("%d, %w", int(k), ErrUnknownKind)
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// isRegressor reports whether the kind carries a regressor that can target a quantile
func (k Kind) isRegressor() bool {
	switch k {
	case ZeroInflated, GBT, QuantileRegressor:
		return true
	}
	return false
}
