// Package postprocess averages member forecasts into an ensemble and applies the
// non-negativity and manual zero policies
package postprocess

import (
	"fmt"
	"math"

	"github.com/aouyang1/go-ensembler/backtest"
	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/panel"
)

var (
	ErrNoMembers      = failure.New(failure.ErrValidation, "ensemble has no members")
	ErrMemberCoverage = failure.New(failure.ErrValidation, "ensemble members do not cover the same rows")
)

// Options are the row level policies applied after averaging
type Options struct {
	// IgnoreZeros treats zero member values as missing while averaging
	IgnoreZeros bool `json:"ignore_zeros" yaml:"ignore_zeros"`

	// UseManualZeros forces the output to zero wherever the reference forecast is at most zero
	UseManualZeros bool `json:"use_manual_zeros" yaml:"use_manual_zeros"`

	// AllowNegatives keeps negative outputs, otherwise they are clamped to zero
	AllowNegatives bool `json:"allow_negatives" yaml:"allow_negatives"`
}

// Average is the mean of the non-missing values. NaN marks a missing value and, with
// ignoreZeros, so does zero. Rows with nothing left average to zero when zeros are ignored
// and to NaN otherwise.
func Average(values []float64, ignoreZeros bool) float64 {
	var sum float64
	var n int
	for _, v := range values {
		if math.IsNaN(v) || (ignoreZeros && v == 0) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		if ignoreZeros {
			return 0
		}
		return math.NaN()
	}
	return sum / float64(n)
}

// ManualZero reports whether the manual zero policy overrides a row with this reference
func ManualZero(ref float64, opt Options) bool {
	return opt.UseManualZeros && !math.IsNaN(ref) && ref <= 0
}

// Apply runs the manual zero override and then the negative clamp
func Apply(value, ref float64, opt Options) float64 {
	if ManualZero(ref, opt) {
		return 0
	}
	if !opt.AllowNegatives && value < 0 {
		return 0
	}
	return value
}

// Ensemble averages the member tables row by row and applies the policies. Every member must
// predict exactly the same (entity, timestamp) rows. ref holds the reference forecast per row
// and may be nil.
func Ensemble(name string, members []*backtest.Table, ref map[panel.Key]float64, opt Options) (*backtest.Table, error) {
	if len(members) == 0 {
		return nil, ErrNoMembers
	}
	base := members[0]
	values := make([]map[panel.Key]float64, len(members))
	for i, m := range members {
		values[i] = m.Values()
		if len(values[i]) != base.Len() || m.Len() != base.Len() {
			return nil, fmt.Errorf("member %d has %d rows, expected %d, %w", i, m.Len(), base.Len(), ErrMemberCoverage)
		}
	}

	b := backtest.NewBuilder(base.Len())
	row := make([]float64, len(members))
	for _, r := range base.Rows() {
		key := r.Key()
		for i := range members {
			v, exists := values[i][key]
			if !exists {
				return nil, fmt.Errorf("member %d missing entity %d at %s, %w", i, r.Entity, r.Time, ErrMemberCoverage)
			}
			row[i] = v
		}

		refVal := math.NaN()
		if v, exists := ref[key]; exists {
			refVal = v
		}
		b.Add(backtest.Result{
			Entity:   r.Entity,
			Time:     r.Time,
			Model:    name,
			Fold:     r.Fold,
			Quantile: r.Quantile,
			Value:    Apply(Average(row, opt.IgnoreZeros), refVal, opt),
		})
	}
	return b.Build()
}

// FromValues lays values over the rows of a template table under a new model tag. Rows without
// a value are NaN so they are skipped when averaged.
func FromValues(name string, template *backtest.Table, values map[panel.Key]float64) (*backtest.Table, error) {
	b := backtest.NewBuilder(template.Len())
	for _, r := range template.Rows() {
		v, exists := values[r.Key()]
		if !exists {
			v = math.NaN()
		}
		r.Model = name
		r.Value = v
		b.Add(r)
	}
	return b.Build()
}

// References collects the reference forecast of every panel row that has one
func References(p *panel.Panel) map[panel.Key]float64 {
	refs := make(map[panel.Key]float64)
	if p == nil {
		return refs
	}
	for _, r := range p.Rows {
		if math.IsNaN(r.Reference) {
			continue
		}
		refs[r.Key()] = r.Reference
	}
	return refs
}
