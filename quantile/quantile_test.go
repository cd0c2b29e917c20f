package quantile

import (
	"context"
	"testing"
	"time"

	"github.com/aouyang1/go-ensembler/backtest"
	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/feature"
	"github.com/aouyang1/go-ensembler/metrics"
	"github.com/aouyang1/go-ensembler/models"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/aouyang1/go-ensembler/postprocess"
	"github.com/aouyang1/go-ensembler/split"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDefaultLadder(t *testing.T) {
	ladder := DefaultLadder()
	require.Len(t, ladder, 17)
	assert.Equal(t, 0.1, ladder[0])
	assert.Equal(t, 0.5, ladder[8])
	assert.Equal(t, 0.9, ladder[16])
}

func TestOptionsValidate(t *testing.T) {
	testData := map[string]struct {
		opt      *Options
		expected []float64
		err      error
	}{
		"nil": {
			opt:      nil,
			expected: DefaultLadder(),
		},
		"empty ladder": {
			opt:      &Options{},
			expected: DefaultLadder(),
		},
		"sorted and deduplicated": {
			opt:      &Options{Ladder: []float64{0.9, 0.1, 0.5, 0.1}},
			expected: []float64{0.1, 0.5, 0.9},
		},
		"out of range": {
			opt: &Options{Ladder: []float64{0.5, 1}},
			err: ErrInvalidQuantile,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			res, err := td.opt.Validate()
			if td.err != nil {
				assert.ErrorIs(t, err, td.err)
				assert.ErrorIs(t, err, failure.ErrValidation)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, td.expected, res.Ladder)
		})
	}
}

func TestFutureWindow(t *testing.T) {
	testData := map[string]struct {
		last          time.Time
		fh            int
		freq          panel.Frequency
		expectedStart time.Time
		expectedEnd   time.Time
		err           error
	}{
		"monthly from month end": {
			last:          time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			fh:            3,
			freq:          panel.Monthly,
			expectedStart: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
			expectedEnd:   time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
		},
		"monthly from june end": {
			last:          time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC),
			fh:            3,
			freq:          panel.Monthly,
			expectedStart: time.Date(2023, 7, 31, 0, 0, 0, 0, time.UTC),
			expectedEnd:   time.Date(2023, 9, 30, 0, 0, 0, 0, time.UTC),
		},
		"quarterly from february end": {
			last:          time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC),
			fh:            2,
			freq:          panel.Quarterly,
			expectedStart: time.Date(2023, 5, 31, 0, 0, 0, 0, time.UTC),
			expectedEnd:   time.Date(2023, 8, 31, 0, 0, 0, 0, time.UTC),
		},
		"weekly": {
			last:          time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC),
			fh:            2,
			freq:          panel.Weekly,
			expectedStart: time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC),
			expectedEnd:   time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC),
		},
		"single day": {
			last:          time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
			fh:            1,
			freq:          panel.Daily,
			expectedStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			expectedEnd:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		"zero horizon": {
			last: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			freq: panel.Daily,
			err:  ErrNonPositiveHorizon,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			start, end, err := FutureWindow(td.last, td.fh, td.freq)
			if td.err != nil {
				assert.ErrorIs(t, err, td.err)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, td.expectedStart, start)
			assert.Equal(t, td.expectedEnd, end)
		})
	}
}

func seasonalPanel(t *testing.T) *panel.Panel {
	t.Helper()
	b := panel.NewBuilder(panel.Monthly)
	for i, ts := range panel.GenerateTimes(panel.Monthly, t0, 30) {
		b.Add("A", ts, float64(i%12), float64(i%12)+1, nil)
		b.Add("B", ts, float64(i%12+5), float64(i%12+5)+1, nil)
	}
	p, err := b.Build()
	require.Nil(t, err)
	p, err = feature.Derive(p, &feature.Options{Calendar: true})
	require.Nil(t, err)
	return p
}

func TestRun(t *testing.T) {
	p := seasonalPanel(t)
	folds, err := split.Split(p, &split.Options{NumSplits: 2, TestWindow: 3, MinTrain: 12})
	require.Nil(t, err)
	future, err := FuturePanel(p, 3, &feature.Options{Calendar: true})
	require.Nil(t, err)

	ladder := []float64{0.1, 0.5, 0.9}
	features := []string{feature.ColMonth, feature.ColQuarter}
	engine, err := NewEngine(backtest.NewRunner(2, nil), features, &Options{Ladder: ladder})
	require.Nil(t, err)

	t.Run("seasonal members", func(t *testing.T) {
		members := []models.Spec{
			{Name: "naive", Kind: models.SeasonalNaive, SeasonalPeriod: 12},
			{Name: "naive2", Kind: models.SeasonalNaive, SeasonalPeriod: 24},
		}
		out, err := engine.Run(context.Background(), "naive+naive2", folds, p, future, members)
		require.Nil(t, err)
		assert.Equal(t, 3*12, out.Backtest.Len())
		assert.Equal(t, 3*6, out.Forecast.Len())
		assert.Empty(t, out.Crossings)

		a, _ := p.Entities.Lookup("A")
		for _, q := range ladder {
			rows := out.Forecast.Filter(func(r backtest.Result) bool {
				return r.Entity == a && r.Quantile == q
			}).Rows()
			require.Len(t, rows, 3)
			for h, r := range rows {
				assert.Equal(t, float64(6+h), r.Value)
				assert.Equal(t, backtest.ForecastFold, r.Fold)
			}
		}
	})

	t.Run("regressor member", func(t *testing.T) {
		members := []models.Spec{
			models.Spec{Name: "gbt", Kind: models.GBT, Trees: 10}.WithDefaults(panel.Monthly),
		}
		out, err := engine.Run(context.Background(), "gbt", folds, p, future, members)
		require.Nil(t, err)
		assert.Equal(t, 3*12, out.Backtest.Len())
		assert.Equal(t, 3*6, out.Forecast.Len())
		for _, r := range out.Forecast.Rows() {
			assert.GreaterOrEqual(t, r.Value, 0.0)
		}
	})

	t.Run("no members", func(t *testing.T) {
		_, err := engine.Run(context.Background(), "none", folds, p, future, nil)
		assert.ErrorIs(t, err, ErrNoMembers)
	})
}

func TestCrossings(t *testing.T) {
	ts := t0
	table, err := backtest.NewBuilder(-1).Add(
		backtest.Result{Entity: 0, Time: ts, Model: "m", Quantile: 0.1, Value: 5},
		backtest.Result{Entity: 0, Time: ts, Model: "m", Quantile: 0.5, Value: 4},
		backtest.Result{Entity: 0, Time: ts, Model: "m", Quantile: 0.9, Value: 6},
		backtest.Result{Entity: 1, Time: ts, Model: "m", Quantile: 0.1, Value: 1},
		backtest.Result{Entity: 1, Time: ts, Model: "m", Quantile: 0.5, Value: 2},
		backtest.Result{Entity: 1, Time: ts, Model: "m", Quantile: 0.9, Value: 3},
	).Build()
	require.Nil(t, err)

	crossings := Crossings(table)
	require.Len(t, crossings, 1)
	assert.Equal(t, Crossing{Entity: 0, Time: ts, Lower: 0.1, Upper: 0.5, LowerValue: 5, UpperValue: 4}, crossings[0])
}

func TestPlan(t *testing.T) {
	b := panel.NewBuilder(panel.Monthly)
	times := panel.GenerateTimes(panel.Monthly, t0, 2)
	for _, ts := range times {
		b.Add("A", ts, 0, 0, nil)
		b.Add("B", ts, 0, 5, nil)
		b.Add("C", ts, 0, 7, nil)
	}
	future, err := b.Build()
	require.Nil(t, err)
	a, _ := future.Entities.Lookup("A")
	bIdx, _ := future.Entities.Lookup("B")
	c, _ := future.Entities.Lookup("C")

	fb := backtest.NewBuilder(-1)
	for _, r := range future.Rows {
		for _, q := range []float64{0.1, 0.5, 0.9} {
			fb.Add(backtest.Result{
				Entity:   r.Entity,
				Time:     r.Time,
				Model:    "ens",
				Fold:     backtest.ForecastFold,
				Quantile: q,
				Value:    10 * q * 10,
			})
		}
	}
	forecast, err := fb.Build()
	require.Nil(t, err)

	scores := metrics.Scores{
		{Entity: bIdx, Model: "ens", Metric: metrics.MAE, Improvement: -1},
		{Entity: c, Model: "ens", Metric: metrics.MAE, Improvement: 2},
	}
	opt := NewDefaultPlanOptions()
	opt.PostProcess = postprocess.Options{UseManualZeros: true}

	rows, err := Plan(forecast, future, scores, "ens", opt)
	require.Nil(t, err)
	require.Len(t, rows, 6)

	expected := map[int]struct {
		usage   Usage
		planned float64
	}{
		a:    {usage: UsageOverride, planned: 0},
		bIdx: {usage: UsageBaseline, planned: 5},
		c:    {usage: UsageAI, planned: 50},
	}
	for _, r := range rows {
		e := expected[r.Entity]
		assert.Equal(t, e.usage, r.Usage, r.EntityID)
		assert.InDelta(t, e.planned, r.Planned, 1e-9, r.EntityID)
		assert.InDelta(t, 50, r.Forecast, 1e-9)
		assert.InDelta(t, 10, r.Lower, 1e-9)
		assert.InDelta(t, 90, r.Upper, 1e-9)
	}
	assert.Equal(t, 1, rows[0].Horizon)
	assert.Equal(t, 2, rows[1].Horizon)

	records := PlanTable(rows).Records()
	assert.Equal(t, "override", records[0][7])

	_, err = Plan(forecast, future, scores, "other", opt)
	assert.ErrorIs(t, err, ErrMissingLevel)
}
