package metrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/aouyang1/go-ensembler/backtest"
	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/panel"
)

var ErrUnknownRow = failure.New(failure.ErrValidation, "prediction has no matching panel row")

// Score is one metric of one model for one entity, compared to the reference forecast
type Score struct {
	Entity         int
	EntityID       string
	Model          string
	Quantile       float64
	Metric         string
	Value          float64
	Reference      float64
	Improvement    float64
	ImprovementPct float64
	Rank           int
}

// Scores is a report ordered by model, quantile, metric and entity
type Scores []Score

// Improvement compares a candidate metric to the reference metric. The percentage is zero
// whenever it would not be finite, including a zero reference.
func Improvement(candidate, reference float64) (float64, float64) {
	improvement := reference - candidate
	if reference == 0 {
		return improvement, 0
	}
	pct := improvement / reference * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		pct = 0
	}
	return improvement, pct
}

type groupKey struct {
	model    string
	quantile float64
	entity   int
}

type series struct {
	pred, actual, ref []float64
}

// Compute scores every (model, quantile, entity) group of the table. Candidate and reference
// metrics are computed over the rows that carry a reference forecast. Groups without any
// reference are scored on all rows and get a NaN reference.
func Compute(pred *backtest.Table, p *panel.Panel) (Scores, error) {
	lookup := p.Lookup()
	groups := make(map[groupKey]*series)
	var order []groupKey
	for _, r := range pred.Rows() {
		row, exists := lookup[r.Key()]
		if !exists {
			return nil, fmt.Errorf("model %s entity %d at %s, %w", r.Model, r.Entity, r.Time, ErrUnknownRow)
		}
		k := groupKey{model: r.Model, quantile: r.Quantile, entity: r.Entity}
		s, exists := groups[k]
		if !exists {
			s = &series{}
			groups[k] = s
			order = append(order, k)
		}
		s.pred = append(s.pred, r.Value)
		s.actual = append(s.actual, row.Target)
		s.ref = append(s.ref, row.Reference)
	}

	var scores Scores
	for _, k := range order {
		s := groups[k]
		paired := pairedRows(s)

		names := Names()
		if k.quantile > 0 {
			names = append(names, Pinball)
		}
		for _, name := range names {
			fn, _ := Lookup(name)
			if name == Pinball {
				fn = QuantileLoss(k.quantile)
			}

			refVal := math.NaN()
			var value float64
			var err error
			if paired != nil {
				value, err = fn(paired.pred, paired.actual)
				if err != nil {
					return nil, err
				}
				refVal, err = fn(paired.ref, paired.actual)
			} else {
				value, err = fn(s.pred, s.actual)
			}
			if err != nil {
				return nil, err
			}

			improvement, pct := Improvement(value, refVal)
			scores = append(scores, Score{
				Entity:         k.entity,
				EntityID:       p.Entities.Decode(k.entity),
				Model:          k.model,
				Quantile:       k.quantile,
				Metric:         name,
				Value:          value,
				Reference:      refVal,
				Improvement:    improvement,
				ImprovementPct: pct,
			})
		}
	}
	scores.rank()
	return scores, nil
}

// pairedRows keeps the rows with a reference forecast, nil when there are none
func pairedRows(s *series) *series {
	out := &series{}
	for i, r := range s.ref {
		if math.IsNaN(r) {
			continue
		}
		out.pred = append(out.pred, s.pred[i])
		out.actual = append(out.actual, s.actual[i])
		out.ref = append(out.ref, r)
	}
	if len(out.ref) == 0 {
		return nil
	}
	return out
}

// rank orders the scores and assigns ordinal ranks by ascending reference metric within each
// (model, quantile, metric). Missing references rank last.
func (s Scores) rank() {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		if a.Quantile != b.Quantile {
			return a.Quantile < b.Quantile
		}
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		aNaN, bNaN := math.IsNaN(a.Reference), math.IsNaN(b.Reference)
		if aNaN != bNaN {
			return bNaN
		}
		if !aNaN && a.Reference != b.Reference {
			return a.Reference < b.Reference
		}
		return a.Entity < b.Entity
	})
	for i := range s {
		if i > 0 && s[i].Model == s[i-1].Model && s[i].Quantile == s[i-1].Quantile && s[i].Metric == s[i-1].Metric {
			s[i].Rank = s[i-1].Rank + 1
			continue
		}
		s[i].Rank = 1
	}
}

// Filter returns the scores that satisfy keep
func (s Scores) Filter(keep func(Score) bool) Scores {
	var out Scores
	for _, sc := range s {
		if keep(sc) {
			out = append(out, sc)
		}
	}
	return out
}

// Total sums a metric of one model over all entities. NaN values are skipped.
func (s Scores) Total(model, metric string) float64 {
	var total float64
	for _, sc := range s {
		if sc.Model != model || sc.Metric != metric || math.IsNaN(sc.Value) {
			continue
		}
		total += sc.Value
	}
	return total
}

// TotalMAE is the summed MAE of a model across entities, the ensemble selection criterion
func (s Scores) TotalMAE(model string) float64 {
	return s.Total(model, MAE)
}

// Header names the columns of Records
func (s Scores) Header() []string {
	return []string{"entity", "model", "quantile", "metric", "value", "reference", "improvement", "improvement_pct", "rank"}
}

// Records renders the scores as string rows
func (s Scores) Records() [][]string {
	out := make([][]string, len(s))
	for i, sc := range s {
		out[i] = []string{
			sc.EntityID,
			sc.Model,
			formatFloat(sc.Quantile),
			sc.Metric,
			formatFloat(sc.Value),
			formatFloat(sc.Reference),
			formatFloat(sc.Improvement),
			formatFloat(sc.ImprovementPct),
			strconv.Itoa(sc.Rank),
		}
	}
	return out
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
