package quantile

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/aouyang1/go-ensembler/backtest"
	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/metrics"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/aouyang1/go-ensembler/postprocess"
)

var ErrMissingLevel = failure.New(failure.ErrValidation, "forecast has no rows at the plan quantile")

// Usage says which forecast downstream planning should use for a row
type Usage string

const (
	UsageAI       Usage = "ai"
	UsageBaseline Usage = "baseline"
	UsageOverride Usage = "override"
)

// levelTolerance absorbs float noise when matching configured levels to table levels
const levelTolerance = 1e-9

// PlanOptions pick the ladder levels that make up the plan
type PlanOptions struct {
	Median      float64             `json:"median" yaml:"median"`
	Lower       float64             `json:"lower" yaml:"lower"`
	Upper       float64             `json:"upper" yaml:"upper"`
	PostProcess postprocess.Options `json:"postprocess" yaml:"postprocess"`
}

func NewDefaultPlanOptions() *PlanOptions {
	return &PlanOptions{
		Median: 0.5,
		Lower:  0.1,
		Upper:  0.9,
	}
}

// PlanRow is the final forecast of an entity at one horizon step
type PlanRow struct {
	Entity    int
	EntityID  string
	Time      time.Time
	Horizon   int
	Forecast  float64
	Lower     float64
	Upper     float64
	Reference float64
	Usage     Usage
	Planned   float64
}

// Plan builds the forecast plan of model from the median level of the forecast table. Rows
// the manual zero policy overrides are planned at zero. Otherwise an entity uses the ensemble
// when its backtest MAE improved on the reference and the reference when it did not.
func Plan(forecast *backtest.Table, future *panel.Panel, scores metrics.Scores, model string, opt *PlanOptions) ([]PlanRow, error) {
	if opt == nil {
		opt = NewDefaultPlanOptions()
	}
	at := func(q float64) map[panel.Key]float64 {
		return forecast.Filter(func(r backtest.Result) bool {
			return r.Model == model && math.Abs(r.Quantile-q) < levelTolerance
		}).Values()
	}
	median := at(opt.Median)
	if len(median) == 0 {
		return nil, fmt.Errorf("model %s quantile %.2f, %w", model, opt.Median, ErrMissingLevel)
	}
	lower := at(opt.Lower)
	upper := at(opt.Upper)

	improved := make(map[int]bool)
	for _, s := range scores {
		if s.Model == model && s.Metric == metrics.MAE && s.Quantile == 0 {
			improved[s.Entity] = s.Improvement > 0
		}
	}

	var rows []PlanRow
	for _, g := range future.Groups() {
		for h, r := range future.Rows[g.Start:g.End] {
			key := r.Key()
			v, exists := median[key]
			if !exists {
				continue
			}
			row := PlanRow{
				Entity:    r.Entity,
				EntityID:  future.Entities.Decode(r.Entity),
				Time:      r.Time,
				Horizon:   h + 1,
				Forecast:  v,
				Lower:     valueOr(lower, key),
				Upper:     valueOr(upper, key),
				Reference: r.Reference,
			}
			switch {
			case postprocess.ManualZero(r.Reference, opt.PostProcess):
				row.Usage = UsageOverride
				row.Planned = 0
			case improved[r.Entity] || math.IsNaN(r.Reference):
				row.Usage = UsageAI
				row.Planned = v
			default:
				row.Usage = UsageBaseline
				row.Planned = r.Reference
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func valueOr(m map[panel.Key]float64, key panel.Key) float64 {
	if v, exists := m[key]; exists {
		return v
	}
	return math.NaN()
}

// PlanTable renders plan rows for an artifact
type PlanTable []PlanRow

func (t PlanTable) Header() []string {
	return []string{"entity", "time", "horizon", "forecast", "lower", "upper", "reference", "usage", "planned"}
}

func (t PlanTable) Records() [][]string {
	format := func(v float64) string {
		if math.IsNaN(v) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	out := make([][]string, len(t))
	for i, r := range t {
		out[i] = []string{
			r.EntityID,
			r.Time.Format(time.DateOnly),
			strconv.Itoa(r.Horizon),
			format(r.Forecast),
			format(r.Lower),
			format(r.Upper),
			format(r.Reference),
			string(r.Usage),
			format(r.Planned),
		}
	}
	return out
}
