package plot

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/aouyang1/go-ensembler/backtest"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/aouyang1/go-ensembler/quantile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	times := panel.GenerateTimes(panel.Monthly, start, 4)
	b := panel.NewBuilder(panel.Monthly)
	for i, ts := range times {
		b.Add("north", ts, float64(i), float64(i)+1, nil)
		b.Add("south", ts, float64(2*i), math.NaN(), nil)
	}
	p, err := b.Build()
	require.Nil(t, err)
	north, _ := p.Entities.Lookup("north")

	bt, err := backtest.NewBuilder(-1).Add(
		backtest.Result{Entity: north, Time: times[3], Model: "knn+naive", Value: 2.5},
	).Build()
	require.Nil(t, err)
	plan := []quantile.PlanRow{
		{Entity: north, Time: panel.Monthly.Add(times[3], 1), Forecast: 4, Lower: 3, Upper: 5},
	}

	var buf bytes.Buffer
	require.Nil(t, Render(&buf, p, []*backtest.Table{bt}, plan, 1))
	html := buf.String()
	assert.Contains(t, html, "north")
	assert.NotContains(t, html, "south")
	assert.Contains(t, html, "knn+naive")
	assert.Contains(t, html, "Forecast")
	assert.Contains(t, html, "2023-05-01")
}
