package feature

import (
	"math"
	"testing"
	"time"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dailyPanel(t *testing.T, start time.Time, n int) *panel.Panel {
	t.Helper()
	b := panel.NewBuilder(panel.Daily)
	for i, ts := range panel.GenerateTimes(panel.Daily, start, n) {
		b.Add("store_1", ts, float64(i), 0, map[string]float64{"price": float64(10 + i)})
	}
	p, err := b.Build()
	require.Nil(t, err)
	return p
}

func column(t *testing.T, p *panel.Panel, name string) []float64 {
	t.Helper()
	idx, exists := p.FeatureIndex(name)
	require.True(t, exists, name)
	vals := make([]float64, len(p.Rows))
	for i, r := range p.Rows {
		vals[i] = r.Features[idx]
	}
	return vals
}

func TestDeriveDaily(t *testing.T) {
	start := time.Date(2023, 12, 23, 0, 0, 0, 0, time.UTC)
	p := dailyPanel(t, start, 4)

	opts := &Options{Weekend: true, Calendar: true, Holidays: "us_retail"}
	out, err := Derive(p, opts)
	require.Nil(t, err)

	assert.Equal(t, []float64{1, 1, 0, 0}, column(t, out, ColWeekend))
	assert.Equal(t, []float64{5, 6, 0, 1}, column(t, out, ColDayOfWeek))
	assert.Equal(t, []float64{23, 24, 25, 26}, column(t, out, ColDayOfMonth))
	assert.Equal(t, []float64{12, 12, 12, 12}, column(t, out, ColMonth))
	assert.Equal(t, []float64{4, 4, 4, 4}, column(t, out, ColQuarter))
	assert.Equal(t, []float64{0, 0, 1, 0}, column(t, out, "holiday_christmas_day"))
	assert.Equal(t, []float64{10, 11, 12, 13}, column(t, out, "price"))

	// input panel is untouched
	assert.Equal(t, []string{"price"}, p.FeatureNames)
}

func TestDeriveFrequencyAware(t *testing.T) {
	testData := map[string]struct {
		freq     panel.Frequency
		expected []string
	}{
		"daily": {
			freq:     panel.Daily,
			expected: []string{ColWeekend, ColMonth, ColQuarter, ColWeekOfYear, ColDayOfWeek, ColDayOfMonth},
		},
		"weekly": {
			freq:     panel.Weekly,
			expected: []string{ColWeekend, ColMonth, ColQuarter, ColWeekOfYear},
		},
		"monthly": {
			freq:     panel.Monthly,
			expected: []string{ColWeekend, ColMonth, ColQuarter},
		},
		"quarterly": {
			freq:     panel.Quarterly,
			expected: []string{ColWeekend, ColQuarter},
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			names, err := Names(td.freq, &Options{Weekend: true, Calendar: true})
			require.Nil(t, err)
			assert.Equal(t, td.expected, names)
		})
	}
}

func TestWeekendShare(t *testing.T) {
	feb := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	assert.InDelta(t, 8.0/28.0, weekendShare(panel.Monthly, feb), 1e-12)

	monday := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.InDelta(t, 2.0/7.0, weekendShare(panel.Weekly, monday), 1e-12)
	assert.Equal(t, 0.0, weekendShare(panel.Daily, monday))
}

func TestHolidayMonthly(t *testing.T) {
	b := panel.NewBuilder(panel.Monthly)
	for i, ts := range panel.GenerateTimes(panel.Monthly, time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC), 3) {
		b.Add("a", ts, float64(i), 0, nil)
	}
	p, err := b.Build()
	require.Nil(t, err)

	out, err := Derive(p, &Options{Holidays: "us_retail"})
	require.Nil(t, err)
	assert.Equal(t, []float64{0, 1, 0}, column(t, out, "holiday_thanksgiving_day"))
	assert.Equal(t, []float64{0, 0, 1}, column(t, out, "holiday_christmas_day"))
	assert.Len(t, Holiday.Present(out.FeatureNames), 6)
}

func TestFourier(t *testing.T) {
	names, err := Names(panel.Daily, &Options{FourierOrders: 2})
	require.Nil(t, err)
	assert.Equal(t, []string{"seas_yearly_01_sin", "seas_yearly_01_cos", "seas_yearly_02_sin", "seas_yearly_02_cos"}, names)

	vals := fourierValues(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), 2)
	assert.InDeltaSlice(t, []float64{0, 1, 0, 1}, vals, 1e-12)
}

func TestFuture(t *testing.T) {
	start := time.Date(2023, 12, 20, 0, 0, 0, 0, time.UTC)
	p := dailyPanel(t, start, 3)
	opts := &Options{Weekend: true, Holidays: "us_retail"}
	derived, err := Derive(p, opts)
	require.Nil(t, err)

	future, err := Future(derived, derived.LastTime(), 3, opts)
	require.Nil(t, err)
	require.Equal(t, 3, future.Len())
	assert.Equal(t, derived.FeatureNames, future.FeatureNames)
	assert.Equal(t, []float64{1, 1, 0}, column(t, future, ColWeekend))
	assert.Equal(t, []float64{0, 0, 1}, column(t, future, "holiday_christmas_day"))
	// last observed value carried forward
	assert.Equal(t, []float64{12, 12, 12}, column(t, future, "price"))
	for _, r := range future.Rows {
		assert.Equal(t, 0.0, r.Target)
		assert.True(t, math.IsNaN(r.Reference))
	}

	_, err = Future(derived, start, 0, opts)
	assert.ErrorIs(t, err, ErrNonPositiveHorizon)
}

func TestFutureMonthEnd(t *testing.T) {
	testData := map[string]struct {
		freq     panel.Frequency
		last     time.Time
		expected []time.Time
	}{
		"june": {
			freq: panel.Monthly,
			last: time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC),
			expected: []time.Time{
				time.Date(2023, 7, 31, 0, 0, 0, 0, time.UTC),
				time.Date(2023, 8, 31, 0, 0, 0, 0, time.UTC),
				time.Date(2023, 9, 30, 0, 0, 0, 0, time.UTC),
			},
		},
		"february": {
			freq: panel.Monthly,
			last: time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC),
			expected: []time.Time{
				time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC),
				time.Date(2023, 4, 30, 0, 0, 0, 0, time.UTC),
				time.Date(2023, 5, 31, 0, 0, 0, 0, time.UTC),
			},
		},
		"quarter end": {
			freq: panel.Quarterly,
			last: time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC),
			expected: []time.Time{
				time.Date(2023, 9, 30, 0, 0, 0, 0, time.UTC),
				time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
			},
		},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			b := panel.NewBuilder(td.freq)
			for i := 4; i >= 0; i-- {
				b.Add("store_1", td.freq.Add(td.last, -i), float64(i), 0, nil)
			}
			p, err := b.Build()
			require.Nil(t, err)

			future, err := Future(p, p.LastTime(), len(td.expected), &Options{})
			require.Nil(t, err)
			require.Equal(t, len(td.expected), future.Len())
			for i, r := range future.Rows {
				assert.Equal(t, td.expected[i], r.Time)
			}
		})
	}
}

func TestDummies(t *testing.T) {
	names, rows := Dummies("Region", []string{"west", "East", "west"})
	assert.Equal(t, []string{"cat_region_east", "cat_region_west"}, names)
	assert.Equal(t, [][]float64{{0, 1}, {1, 0}, {0, 1}}, rows)
}

func TestGroups(t *testing.T) {
	names := []string{"price", ColWeekend, ColMonth, "holiday_new_year_s_day", "cat_region_east", "seas_yearly_01_sin"}

	testData := map[string]struct {
		group    Group
		expected []string
	}{
		"weekend":     {group: Weekend, expected: []string{ColWeekend}},
		"calendar":    {group: Calendar, expected: []string{ColMonth}},
		"holiday":     {group: Holiday, expected: []string{"holiday_new_year_s_day"}},
		"categorical": {group: Categorical, expected: []string{"cat_region_east"}},
		"fourier":     {group: Fourier, expected: []string{"seas_yearly_01_sin"}},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, td.expected, td.group.Present(names))
			g, exists := GroupByName(name)
			require.True(t, exists)
			assert.Equal(t, td.group.Name, g.Name)
		})
	}

	_, exists := GroupByName("lags")
	assert.False(t, exists)
	assert.Len(t, DefaultGroups(), 4)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "new_year_s_day", Sanitize("New Year's Day"))
	assert.Equal(t, "a_b", Sanitize("  --A  b-- "))
	assert.Equal(t, "", Sanitize("!!"))
}

func TestOptionsValidate(t *testing.T) {
	assert.Nil(t, NewDefaultOptions().Validate())

	err := (&Options{FourierOrders: -1}).Validate()
	assert.ErrorIs(t, err, ErrNegativeFourierOrder)
	assert.ErrorIs(t, err, failure.ErrValidation)

	err = (&Options{Holidays: "mars"}).Validate()
	assert.ErrorIs(t, err, ErrUnknownHolidaySet)
}
