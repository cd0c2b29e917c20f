package feature

import (
	"fmt"
	"math"
	"time"
)

const daysPerYear = 365.25

// SeasonalityColumn names the fourier component of the yearly cycle
func SeasonalityColumn(order int, comp string) string {
	return fmt.Sprintf("%syearly_%02d_%s", PrefixSeasonality, order, comp)
}

func fourierColumns(orders int) []string {
	cols := make([]string, 0, 2*orders)
	for order := 1; order <= orders; order++ {
		cols = append(cols, SeasonalityColumn(order, "sin"), SeasonalityColumn(order, "cos"))
	}
	return cols
}

// fourierValues computes the yearly sin/cos pairs for a timestamp in the order of
// fourierColumns
func fourierValues(t time.Time, orders int) []float64 {
	yearFrac := float64(t.YearDay()-1) / daysPerYear
	vals := make([]float64, 0, 2*orders)
	for order := 1; order <= orders; order++ {
		rad := 2.0 * math.Pi * float64(order) * yearFrac
		vals = append(vals, math.Sin(rad), math.Cos(rad))
	}
	return vals
}
