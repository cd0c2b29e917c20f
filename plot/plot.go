// Package plot renders backtests and forecasts as Apache Echarts html pages
package plot

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/aouyang1/go-ensembler/backtest"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/aouyang1/go-ensembler/quantile"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// DefaultMaxEntities bounds the number of charts on a page
const DefaultMaxEntities = 20

// LineTSeries generates an echart multi-line chart for some arbitrary time/value combination. Each
// series in y must have the same length as t. NaN values are left as gaps.
func LineTSeries(title string, seriesName []string, t []time.Time, y [][]float64) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(
			opts.Title{
				Title: title,
			},
		),
	)

	x := make([]string, len(t))
	for i, ts := range t {
		x[i] = ts.Format(time.DateOnly)
	}
	line = line.SetXAxis(x)
	for i, series := range seriesName {
		lineData := make([]opts.LineData, len(y[i]))
		for j, v := range y[i] {
			if math.IsNaN(v) {
				lineData[j] = opts.LineData{Value: nil}
				continue
			}
			lineData[j] = opts.LineData{Value: v}
		}
		line = line.AddSeries(series, lineData)
	}
	return line
}

// Entity charts the actuals, reference and backtests of one entity followed by the planned
// forecast and its interval
func Entity(p *panel.Panel, entity int, tables []*backtest.Table, plan []quantile.PlanRow) *charts.Line {
	series := p.Series(entity)
	var times []time.Time
	index := make(map[int64]int)
	for _, r := range series {
		index[r.Time.UnixNano()] = len(times)
		times = append(times, r.Time)
	}
	var entityPlan []quantile.PlanRow
	for _, r := range plan {
		if r.Entity != entity {
			continue
		}
		if _, exists := index[r.Time.UnixNano()]; !exists {
			index[r.Time.UnixNano()] = len(times)
			times = append(times, r.Time)
		}
		entityPlan = append(entityPlan, r)
	}

	blank := func() []float64 {
		v := make([]float64, len(times))
		for i := range v {
			v[i] = math.NaN()
		}
		return v
	}
	actual, reference := blank(), blank()
	for i, r := range series {
		actual[i] = r.Target
		reference[i] = r.Reference
	}
	names := []string{"Actual", "Reference"}
	values := [][]float64{actual, reference}

	for _, t := range tables {
		for _, model := range t.Models() {
			v := blank()
			for _, r := range t.Rows() {
				if r.Model != model || r.Entity != entity || r.Quantile != 0 || r.Fold == backtest.ForecastFold {
					continue
				}
				v[index[r.Time.UnixNano()]] = r.Value
			}
			names = append(names, model)
			values = append(values, v)
		}
	}

	if len(entityPlan) > 0 {
		forecast, lower, upper := blank(), blank(), blank()
		for _, r := range entityPlan {
			i := index[r.Time.UnixNano()]
			forecast[i] = r.Forecast
			lower[i] = r.Lower
			upper[i] = r.Upper
		}
		names = append(names, "Forecast", "Lower", "Upper")
		values = append(values, forecast, lower, upper)
	}

	return LineTSeries(p.Entities.Decode(entity), names, times, values)
}

// Render writes one chart per entity, up to maxEntities, to w
func Render(w io.Writer, p *panel.Panel, tables []*backtest.Table, plan []quantile.PlanRow, maxEntities int) error {
	if maxEntities <= 0 {
		maxEntities = DefaultMaxEntities
	}
	groups := p.Groups()
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Entity < groups[j].Entity
	})
	if len(groups) > maxEntities {
		groups = groups[:maxEntities]
	}

	page := components.NewPage()
	page.PageTitle = "Backtest"
	for _, g := range groups {
		page.AddCharts(Entity(p, g.Entity, tables, plan))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render backtest page, %w", err)
	}
	return nil
}
