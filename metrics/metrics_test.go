package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/aouyang1/go-ensembler/backtest"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPointMetrics(t *testing.T) {
	pred := []float64{11, 9, 10, math.NaN()}
	actual := []float64{10, 10, 10, 10}

	testData := map[string]struct {
		fn       MetricFunc
		expected float64
	}{
		"mae":   {MeanAbsoluteError, 2.0 / 3.0},
		"over":  {OverForecast, 1},
		"under": {UnderForecast, 1},
		"smape": {SymmetricMAPE, (2.0/21.0 + 2.0/19.0) / 3.0 * 100},
		"p90":   {QuantileLoss(0.9), (0.1 + 0.9) / 3.0},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			res, err := td.fn(pred, actual)
			require.Nil(t, err)
			assert.InDelta(t, td.expected, res, 1e-12)

			_, err = td.fn(pred[:1], actual)
			assert.ErrorIs(t, err, ErrResLenMismatch)
		})
	}

	smape, err := SymmetricMAPE([]float64{0}, []float64{0})
	require.Nil(t, err)
	assert.Equal(t, 0.0, smape)
}

func TestImprovement(t *testing.T) {
	testData := map[string]struct {
		candidate, reference float64
		improvement, pct     float64
	}{
		"better":         {2, 4, 2, 50},
		"worse":          {6, 4, -2, -50},
		"zero reference": {5, 0, -5, 0},
		"nan candidate":  {math.NaN(), 3, math.NaN(), 0},
		"inf reference":  {1, math.Inf(1), math.Inf(1), 0},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			improvement, pct := Improvement(td.candidate, td.reference)
			if math.IsNaN(td.improvement) {
				assert.True(t, math.IsNaN(improvement))
			} else {
				assert.Equal(t, td.improvement, improvement)
			}
			assert.Equal(t, td.pct, pct)
			assert.False(t, math.IsNaN(pct) || math.IsInf(pct, 0))
		})
	}
}

func scoringPanel(t *testing.T) *panel.Panel {
	t.Helper()
	b := panel.NewBuilder(panel.Monthly)
	refA := []float64{12, 8, 10, math.NaN()}
	for i := 0; i < 4; i++ {
		ts := t0.AddDate(0, i, 0)
		b.Add("A", ts, 10, refA[i], nil)
		b.Add("B", ts, 5, 5, nil)
		b.Add("C", ts, 2, math.NaN(), nil)
	}
	p, err := b.Build()
	require.Nil(t, err)
	return p
}

func predictions(t *testing.T, p *panel.Panel, q float64, values map[string][]float64) *backtest.Table {
	t.Helper()
	b := backtest.NewBuilder(-1)
	for id, vals := range values {
		e, exists := p.Entities.Lookup(id)
		require.True(t, exists)
		for i, v := range vals {
			b.Add(backtest.Result{Entity: e, Time: t0.AddDate(0, i, 0), Model: "m", Quantile: q, Value: v})
		}
	}
	tbl, err := b.Build()
	require.Nil(t, err)
	return tbl
}

func TestCompute(t *testing.T) {
	p := scoringPanel(t)
	pred := predictions(t, p, 0, map[string][]float64{
		"A": {11, 9, 10, 50},
		"B": {5, 5, 5, 5},
		"C": {1},
	})

	scores, err := Compute(pred, p)
	require.Nil(t, err)
	require.Len(t, scores, 12)

	mae := scores.Filter(func(s Score) bool { return s.Metric == MAE })
	require.Len(t, mae, 3)

	// ranked by reference metric: B (0), A (4/3), C (missing)
	assert.Equal(t, []string{"B", "A", "C"}, []string{mae[0].EntityID, mae[1].EntityID, mae[2].EntityID})
	assert.Equal(t, []int{1, 2, 3}, []int{mae[0].Rank, mae[1].Rank, mae[2].Rank})

	assert.InDelta(t, 2.0/3.0, mae[1].Value, 1e-12)
	assert.InDelta(t, 4.0/3.0, mae[1].Reference, 1e-12)
	assert.InDelta(t, 50.0, mae[1].ImprovementPct, 1e-9)

	assert.Equal(t, 0.0, mae[0].Value)
	assert.Equal(t, 0.0, mae[0].ImprovementPct)

	assert.Equal(t, 1.0, mae[2].Value)
	assert.True(t, math.IsNaN(mae[2].Reference))
	assert.Equal(t, 0.0, mae[2].ImprovementPct)

	for _, s := range scores {
		assert.False(t, math.IsNaN(s.ImprovementPct) || math.IsInf(s.ImprovementPct, 0))
	}
	assert.InDelta(t, 2.0/3.0+0+1, scores.TotalMAE("m"), 1e-12)

	records := scores.Records()
	require.Len(t, records, 12)
	assert.Len(t, records[0], len(scores.Header()))
}

func TestComputeQuantile(t *testing.T) {
	p := scoringPanel(t)
	pred := predictions(t, p, 0.9, map[string][]float64{"B": {6, 6, 6, 6}})
	scores, err := Compute(pred, p)
	require.Nil(t, err)

	pinball := scores.Filter(func(s Score) bool { return s.Metric == Pinball })
	require.Len(t, pinball, 1)
	assert.InDelta(t, 0.1, pinball[0].Value, 1e-12)
	assert.Equal(t, 0.0, pinball[0].Reference)
	assert.Equal(t, 0.9, pinball[0].Quantile)
}

func TestComputeUnknownRow(t *testing.T) {
	p := scoringPanel(t)
	tbl, err := backtest.NewBuilder(1).Add(backtest.Result{Entity: 0, Time: t0.AddDate(1, 0, 0), Model: "m"}).Build()
	require.Nil(t, err)
	_, err = Compute(tbl, p)
	assert.ErrorIs(t, err, ErrUnknownRow)
}
