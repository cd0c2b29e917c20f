package ensemble

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/aouyang1/go-ensembler/backtest"
	"github.com/aouyang1/go-ensembler/models"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/aouyang1/go-ensembler/postprocess"
	"github.com/aouyang1/go-ensembler/split"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func specs(names ...string) []models.Spec {
	out := make([]models.Spec, len(names))
	for i, n := range names {
		out[i] = models.Spec{Name: n, Kind: models.SeasonalNaive, SeasonalPeriod: 12}
	}
	return out
}

func candidateNames(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Name
	}
	return out
}

func TestCandidates(t *testing.T) {
	testData := map[string]struct {
		base     []models.Spec
		min, max int
		expected []string
		err      error
	}{
		"pairs and triple": {specs("a", "b", "c"), 2, 4, []string{"a+b", "a+c", "b+c", "a+b+c"}, nil},
		"singles":          {specs("a", "b"), 1, 2, []string{"a", "b", "a+b"}, nil},
		"four of five": {
			specs("a", "b", "c", "d", "e"), 4, 4,
			[]string{"a+b+c+d", "a+b+c+e", "a+b+d+e", "a+c+d+e", "b+c+d+e"}, nil,
		},
		"too few models": {specs("a"), 2, 4, nil, ErrNoCandidates},
		"bad bounds":     {specs("a", "b"), 3, 2, nil, ErrInvalidSize},
		"duplicate":      {specs("a", "a"), 2, 2, nil, ErrDuplicateModel},
		"reserved":       {specs("a+b", "c"), 2, 2, nil, ErrReservedModelID},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			cands, err := Candidates(td.base, td.min, td.max)
			if td.err != nil {
				assert.ErrorIs(t, err, td.err)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, td.expected, candidateNames(cands))
		})
	}
}

func singleEntityPanel(t *testing.T, actual ...float64) *panel.Panel {
	t.Helper()
	b := panel.NewBuilder(panel.Monthly)
	for i, v := range actual {
		b.Add("A", t0.AddDate(0, i, 0), v, math.NaN(), nil)
	}
	p, err := b.Build()
	require.Nil(t, err)
	return p
}

func memberTable(t *testing.T, model string, values ...float64) *backtest.Table {
	t.Helper()
	b := backtest.NewBuilder(len(values))
	for i, v := range values {
		b.Add(backtest.Result{Entity: 0, Time: t0.AddDate(0, i, 0), Model: model, Value: v})
	}
	tbl, err := b.Build()
	require.Nil(t, err)
	return tbl
}

func TestAveragedPairBeatsSingle(t *testing.T) {
	p := singleEntityPanel(t, 100, 100)
	members := map[string]*backtest.Table{
		"s": memberTable(t, "s", 112, 112),
		"b": memberTable(t, "b", 110, 110),
		"c": memberTable(t, "c", 98, 126),
	}
	refs := postprocess.References(p)
	opt := postprocess.Options{}

	single, err := Evaluate(Candidate{Name: "s", Members: specs("s")}, members, refs, p, opt)
	require.Nil(t, err)
	pair, err := Evaluate(Candidate{Name: "b+c", Members: specs("b", "c")}, members, refs, p, opt)
	require.Nil(t, err)

	assert.InDelta(t, 12.0, single.TotalMAE, 1e-12)
	assert.InDelta(t, 11.0, pair.TotalMAE, 1e-12)
	assert.Equal(t, 1, Best([]Evaluation{single, pair}))
}

func TestBestTies(t *testing.T) {
	evals := []Evaluation{{TotalMAE: 3}, {TotalMAE: 2}, {TotalMAE: 2}, {TotalMAE: math.Inf(1)}}
	assert.Equal(t, 1, Best(evals))
	assert.Equal(t, -1, Best(nil))
}

func TestSelect(t *testing.T) {
	b := panel.NewBuilder(panel.Monthly)
	for i, ts := range panel.GenerateTimes(panel.Monthly, t0, 30) {
		b.Add("A", ts, float64(i%12), math.NaN(), nil)
		b.Add("B", ts, float64(i%12+5), math.NaN(), nil)
	}
	p, err := b.Build()
	require.Nil(t, err)
	folds, err := split.Split(p, &split.Options{NumSplits: 2, TestWindow: 3, MinTrain: 12})
	require.Nil(t, err)

	base := []models.Spec{
		{Name: "knn", Kind: models.KNN, Lags: 1, Neighbors: 3},
		{Name: "naive", Kind: models.SeasonalNaive, SeasonalPeriod: 12},
		{Name: "drift", Kind: models.SeasonalNaive, SeasonalPeriod: 1},
	}
	sel, err := NewSelector(backtest.NewRunner(2, nil), nil, &Options{MinMembers: 1, MaxMembers: 2}).
		Select(context.Background(), p, folds, base)
	require.Nil(t, err)

	assert.Equal(t, "naive", sel.Best.Candidate.Name)
	assert.Equal(t, 0.0, sel.Best.TotalMAE)
	assert.Len(t, sel.Evaluations, 6)
	assert.Len(t, sel.Members, 3)
	assert.Equal(t, 12, sel.Best.Backtest.Len())
	assert.NotEmpty(t, sel.MemberScores)
}
