// Package uplift tracks how much the ensemble improves on the reference forecast across runs
package uplift

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/aouyang1/go-ensembler/metrics"
)

// Record is the uplift of one entity in one run. Percentages that could not be computed are
// nil rather than zero.
type Record struct {
	Entity         string    `json:"entity" db:"entity"`
	RunTime        time.Time `json:"run_time" db:"run_time"`
	UpliftAbsolute float64   `json:"uplift_absolute" db:"uplift_absolute"`
	UpliftPct      *float64  `json:"uplift_pct" db:"uplift_pct"`
	RollingSum     float64   `json:"rolling_sum" db:"rolling_sum"`
	RollingMean    *float64  `json:"rolling_mean" db:"rolling_mean"`
}

// FromScores builds the uplift records of a run from the point forecast scores of model.
// Entities without a reference metric are left out.
func FromScores(scores metrics.Scores, model, metric string, runTime time.Time) []Record {
	var records []Record
	for _, s := range scores {
		if s.Model != model || s.Metric != metric || s.Quantile != 0 {
			continue
		}
		if math.IsNaN(s.Reference) || math.IsNaN(s.Improvement) {
			continue
		}
		records = append(records, Record{
			Entity:         s.EntityID,
			RunTime:        runTime.UTC(),
			UpliftAbsolute: s.Improvement,
			UpliftPct:      finite(s.Improvement / s.Reference * 100),
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Entity < records[j].Entity
	})
	return records
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// History is the stored uplift of every entity across runs
type History []Record

// MaxRunTime is the latest run in the history
func (h History) MaxRunTime() time.Time {
	var latest time.Time
	for _, r := range h {
		if r.RunTime.After(latest) {
			latest = r.RunTime
		}
	}
	return latest
}

// Rolling orders the history by entity and run time and recomputes the cumulative sum of the
// absolute uplift and the running mean of the percentage uplift. Nil percentages are skipped
// by the mean.
func (h History) Rolling() History {
	out := make(History, len(h))
	copy(out, h)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].RunTime.Before(out[j].RunTime)
	})

	var sum, pctSum float64
	var pctCount int
	for i := range out {
		if i == 0 || out[i].Entity != out[i-1].Entity {
			sum, pctSum, pctCount = 0, 0, 0
		}
		sum += out[i].UpliftAbsolute
		out[i].RollingSum = sum
		if out[i].UpliftPct != nil {
			pctSum += *out[i].UpliftPct
			pctCount++
		}
		out[i].RollingMean = nil
		if pctCount > 0 {
			out[i].RollingMean = finite(pctSum / float64(pctCount))
		}
	}
	return out
}

func (h History) Header() []string {
	return []string{"entity", "run_time", "uplift_absolute", "uplift_pct", "rolling_sum", "rolling_mean"}
}

func (h History) Records() [][]string {
	optional := func(v *float64) string {
		if v == nil {
			return ""
		}
		return strconv.FormatFloat(*v, 'f', -1, 64)
	}
	out := make([][]string, len(h))
	for i, r := range h {
		out[i] = []string{
			r.Entity,
			r.RunTime.Format(time.RFC3339),
			strconv.FormatFloat(r.UpliftAbsolute, 'f', -1, 64),
			optional(r.UpliftPct),
			strconv.FormatFloat(r.RollingSum, 'f', -1, 64),
			optional(r.RollingMean),
		}
	}
	return out
}
