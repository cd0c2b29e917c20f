package panel

import (
	"math"
	"testing"
	"time"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func month(m int) time.Time {
	return time.Date(2023, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
}

func TestBuilderBuild(t *testing.T) {
	testData := map[string]struct {
		build func(b *Builder)
		err   error
	}{
		"no rows": {
			build: func(b *Builder) {},
			err:   ErrNoRows,
		},
		"duplicate": {
			build: func(b *Builder) {
				b.Add("a", month(1), 1, math.NaN(), nil)
				b.Add("a", month(1), 2, math.NaN(), nil)
			},
			err: ErrDuplicateKey,
		},
		"schema mismatch": {
			build: func(b *Builder) {
				b.Add("a", month(1), 1, math.NaN(), map[string]float64{"x": 1})
				b.Add("a", month(2), 2, math.NaN(), map[string]float64{"y": 1})
			},
			err: ErrSchemaMismatch,
		},
		"nan target": {
			build: func(b *Builder) {
				b.Add("a", month(1), math.NaN(), math.NaN(), nil)
			},
			err: ErrNonFiniteTarget,
		},
		"valid": {
			build: func(b *Builder) {
				b.Add("b", month(2), 4, 3, map[string]float64{"x": 1})
				b.Add("a", month(2), 2, 1, map[string]float64{"x": 2})
				b.Add("a", month(1), 1, 1, map[string]float64{"x": 3})
			},
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			b := NewBuilder(Monthly)
			td.build(b)
			p, err := b.Build()
			if td.err != nil {
				assert.ErrorIs(t, err, td.err)
				assert.ErrorIs(t, err, failure.ErrValidation)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, []string{"a", "b"}, p.Entities.IDs())
			require.Len(t, p.Rows, 3)
			assert.Equal(t, 0, p.Rows[0].Entity)
			assert.Equal(t, month(1), p.Rows[0].Time)
			assert.Equal(t, []float64{3}, p.Rows[0].Features)
			assert.Equal(t, 1, p.Rows[2].Entity)
			assert.Equal(t, TargetInteger, p.TargetType)
		})
	}
}

func TestFrequencyAdd(t *testing.T) {
	testData := map[string]struct {
		freq     Frequency
		start    time.Time
		n        int
		expected time.Time
	}{
		"daily": {Daily, month(1), 3, time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC)},
		"weekly": {Weekly, month(1), 2, time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)},
		"monthly": {Monthly, month(11), 3, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		"month end clamp": {
			Monthly, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 1,
			time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		"quarterly back": {Quarterly, month(4), -1, month(1)},
		"month end from 30 day month": {
			Monthly, time.Date(2022, 9, 30, 0, 0, 0, 0, time.UTC), 1,
			time.Date(2022, 10, 31, 0, 0, 0, 0, time.UTC),
		},
		"month end from february": {
			Monthly, time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC), 1,
			time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC),
		},
		"month end back": {
			Monthly, time.Date(2023, 4, 30, 0, 0, 0, 0, time.UTC), -2,
			time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		"quarter end": {
			Quarterly, time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC), 1,
			time.Date(2023, 9, 30, 0, 0, 0, 0, time.UTC),
		},
		"mid month": {
			Monthly, time.Date(2023, 4, 15, 0, 0, 0, 0, time.UTC), 1,
			time.Date(2023, 5, 15, 0, 0, 0, 0, time.UTC),
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, td.expected, td.freq.Add(td.start, td.n))
		})
	}
}

func TestParseFrequency(t *testing.T) {
	f, err := ParseFrequency("MS")
	require.Nil(t, err)
	assert.Equal(t, Monthly, f)

	_, err = ParseFrequency("hourly")
	assert.ErrorIs(t, err, ErrUnknownFrequency)
}

func buildTestPanel(t *testing.T) *Panel {
	t.Helper()
	b := NewBuilder(Monthly)
	for i := 1; i <= 4; i++ {
		b.Add("a", month(i), float64(i), math.NaN(), map[string]float64{"x": float64(i), "z": 0})
		b.Add("b", month(i+1), float64(10*i), 5, map[string]float64{"x": float64(-i), "z": 1})
	}
	p, err := b.Build()
	require.Nil(t, err)
	return p
}

func TestPanelAccessors(t *testing.T) {
	p := buildTestPanel(t)

	assert.Len(t, p.Times(), 5)
	assert.Equal(t, month(5), p.LastTime())

	groups := p.Groups()
	assert.Equal(t, []Group{{Entity: 0, Start: 0, End: 4}, {Entity: 1, Start: 4, End: 8}}, groups)

	series := p.Series(1)
	require.Len(t, series, 4)
	assert.Equal(t, 10.0, series[0].Target)

	early := p.Filter(func(r Row) bool { return r.Time.Before(month(3)) })
	assert.Equal(t, 3, early.Len())

	withRef := p.WithReferences(map[Key]float64{KeyOf(1, month(2)): 42})
	assert.Equal(t, 42.0, withRef.Lookup()[KeyOf(1, month(2))].Reference)
	assert.True(t, math.IsNaN(withRef.Rows[0].Reference))
	assert.Equal(t, 5.0, p.Lookup()[KeyOf(1, month(2))].Reference)
}

func TestPanelFeatures(t *testing.T) {
	p := buildTestPanel(t)

	proj := p.WithFeatures([]string{"z", "missing"})
	assert.Equal(t, []string{"z"}, proj.FeatureNames)
	assert.Equal(t, []float64{1}, proj.Rows[4].Features)
	// original untouched
	assert.Equal(t, []string{"x", "z"}, p.FeatureNames)

	values := make([][]float64, p.Len())
	for i := range values {
		values[i] = []float64{float64(i), 9}
	}
	added, err := p.AddFeatures([]string{"w", "z"}, values)
	require.Nil(t, err)
	assert.Equal(t, []string{"x", "z", "w"}, added.FeatureNames)
	assert.Equal(t, []float64{2, 9, 1}, added.Rows[1].Features)

	_, err = p.AddFeatures([]string{"w"}, values[:1])
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestCastTarget(t *testing.T) {
	p := &Panel{TargetType: TargetInteger}
	assert.Equal(t, 3.0, p.CastTarget(2.6))
	p.TargetType = TargetFloat
	assert.Equal(t, 2.6, p.CastTarget(2.6))
}

func TestValidateUnsorted(t *testing.T) {
	enc := NewEncoding([]string{"a"})
	p := &Panel{
		Freq:     Monthly,
		Entities: enc,
		Rows: []Row{
			{Entity: 0, Time: month(2)},
			{Entity: 0, Time: month(1)},
		},
	}
	assert.ErrorIs(t, p.Validate(), ErrUnsorted)
}

func TestGenerators(t *testing.T) {
	times := GenerateTimes(Weekly, month(1), 3)
	assert.Equal(t, time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC), times[2])

	y := GenerateConstY(4, 2).Add(GenerateTrendY(4, 1))
	assert.Equal(t, Series{2, 3, 4, 5}, y)

	assert.Equal(t, Series{2, 0, 4, 0}, GenerateIntermittent(y, 2))
	assert.Equal(t, GenerateNoise(5, 1, 7), GenerateNoise(5, 1, 7))
}

func TestFrequencySteps(t *testing.T) {
	jan31 := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	testData := map[string]struct {
		freq     Frequency
		from, to time.Time
		steps    int
		ok       bool
	}{
		"daily":         {Daily, jan31, jan31.AddDate(0, 0, 10), 10, true},
		"weekly":        {Weekly, jan31, jan31.AddDate(0, 0, 21), 3, true},
		"month end":     {Monthly, jan31, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), 3, true},
		"month end jun": {Monthly, time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC), time.Date(2023, 7, 31, 0, 0, 0, 0, time.UTC), 1, true},
		"month end feb": {Monthly, time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC), time.Date(2023, 8, 31, 0, 0, 0, 0, time.UTC), 6, true},
		"quarter end":   {Quarterly, time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), 3, true},
		"quarterly":     {Quarterly, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 4, true},
		"off grid":      {Weekly, jan31, jan31.AddDate(0, 0, 10), 0, false},
		"before":        {Daily, jan31, jan31.AddDate(0, 0, -1), 0, false},
		"bad frequency": {Frequency("hourly"), jan31, jan31.AddDate(0, 0, 1), 0, false},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			steps, ok := td.freq.Steps(td.from, td.to)
			assert.Equal(t, td.ok, ok)
			assert.Equal(t, td.steps, steps)
		})
	}
}
