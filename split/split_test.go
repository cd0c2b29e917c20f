package split

import (
	"testing"
	"time"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monthlyPanel(t *testing.T, months int, entities ...string) *panel.Panel {
	t.Helper()
	b := panel.NewBuilder(panel.Monthly)
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, e := range entities {
		for i, ts := range panel.GenerateTimes(panel.Monthly, start, months) {
			b.Add(e, ts, float64(i), 0, nil)
		}
	}
	p, err := b.Build()
	require.Nil(t, err)
	return p
}

func TestSplitTailFold(t *testing.T) {
	p := monthlyPanel(t, 24, "A")
	folds, err := Split(p, &Options{NumSplits: 3, TestWindow: 3, MinTrain: 1})
	require.Nil(t, err)
	require.Len(t, folds, 3)

	times := p.Times()
	expected := [][2]int{{15, 17}, {18, 20}, {21, 23}}
	for i, f := range folds {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, times[expected[i][0]], f.TestStart)
		assert.Equal(t, times[expected[i][1]], f.TestEnd)
		assert.Equal(t, 3, f.Test.Len())
		assert.Equal(t, expected[i][0], f.Train.Len())
		assert.Equal(t, times[expected[i][0]-1], f.Train.LastTime())
	}
}

func TestSplitInvariants(t *testing.T) {
	testData := map[string]struct {
		months   int
		opt      *Options
		expected int
	}{
		"all valid":         {36, &Options{NumSplits: 4, TestWindow: 3, MinTrain: 12}, 4},
		"reduced":           {20, &Options{NumSplits: 4, TestWindow: 3, MinTrain: 10}, 3},
		"frequency default": {24, &Options{NumSplits: 2}, 2},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			p := monthlyPanel(t, td.months, "A", "B")
			folds, err := Split(p, td.opt)
			require.Nil(t, err)
			require.Len(t, folds, td.expected)

			for i, f := range folds {
				for _, r := range f.Train.Rows {
					assert.True(t, r.Time.Before(f.TestStart))
				}
				for _, r := range f.Test.Rows {
					assert.False(t, r.Time.Before(f.TestStart))
					assert.False(t, r.Time.After(f.TestEnd))
				}
				if i > 0 {
					assert.True(t, folds[i-1].TestEnd.Before(f.TestStart), "test windows overlap")
				}
			}
			last := folds[len(folds)-1]
			assert.Equal(t, p.LastTime(), last.TestEnd)
		})
	}
}

func TestSplitInsufficientHistory(t *testing.T) {
	p := monthlyPanel(t, 10, "A")
	_, err := Split(p, &Options{NumSplits: 3, TestWindow: 3, MinTrain: 12})
	assert.ErrorIs(t, err, ErrNoValidSplit)
	assert.ErrorIs(t, err, failure.ErrInsufficientHistory)

	_, err = Split(p, &Options{NumSplits: -1})
	assert.ErrorIs(t, err, ErrInvalidNumSplits)

	_, err = Split(nil, nil)
	assert.ErrorIs(t, err, panel.ErrNoRows)
}

func TestLayout(t *testing.T) {
	bounds, err := Layout(10, &Options{NumSplits: 5, TestWindow: 2, MinTrain: 3})
	require.Nil(t, err)
	require.Len(t, bounds, 3)
	assert.Equal(t, Bounds{Index: 0, TestStart: 4, TestEnd: 6, TrainTimes: 4}, bounds[0])
	assert.Equal(t, Bounds{Index: 2, TestStart: 8, TestEnd: 10, TrainTimes: 8}, bounds[2])
}
