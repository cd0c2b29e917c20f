package backtest

import (
	"context"
	"fmt"
	"runtime"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/models"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/aouyang1/go-ensembler/split"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrOffGrid       = failure.New(failure.ErrValidation, "timestamp is not on the panel frequency grid")
	ErrMissingFuture = failure.New(failure.ErrValidation, "future covariates missing for entity")
)

// Observer receives the outcome of every model fit
type Observer interface {
	ObserveFit(model string, err error)
}

// Runner fans backtests out over (fold, entity) units. Any failing unit cancels the rest and
// fails the whole run.
type Runner struct {
	Parallelism int
	Observer    Observer
}

func NewRunner(parallelism int, obs Observer) *Runner {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	return &Runner{
		Parallelism: parallelism,
		Observer:    obs,
	}
}

// unit is one entity fit on a train series and predicted over target rows
type unit struct {
	fold   int
	train  []panel.Row
	target []panel.Row
}

// Run backtests the spec over every fold, reconfigured to quantile q when q is non-zero.
// The output covers every (entity, timestamp) of the fold test panels.
func (r *Runner) Run(ctx context.Context, spec models.Spec, folds []split.Fold, features []string, q float64) (*Table, error) {
	if q != 0 {
		spec = spec.WithQuantile(q)
	}

	if len(folds) == 0 {
		return NewBuilder(0).Build()
	}

	var units []unit
	var expected int
	for _, f := range folds {
		for _, g := range f.Test.Groups() {
			units = append(units, unit{
				fold:   f.Index,
				train:  f.Train.Series(g.Entity),
				target: f.Test.Rows[g.Start:g.End],
			})
			expected += g.End - g.Start
		}
	}
	p := folds[0].Test
	cols := featureIndex(folds[0].Train, features, spec)
	return r.run(ctx, spec, p, cols, units, expected, q)
}

// RunForecast fits once on the whole panel and predicts the rows of the future panel, which
// holds the synthesized covariates of the forecast horizon for every entity
func (r *Runner) RunForecast(ctx context.Context, spec models.Spec, full, future *panel.Panel, features []string, q float64) (*Table, error) {
	if q != 0 {
		spec = spec.WithQuantile(q)
	}
	futureGroups := make(map[int]panel.Group)
	for _, g := range future.Groups() {
		futureGroups[g.Entity] = g
	}

	var units []unit
	var expected int
	for _, g := range full.Groups() {
		fg, exists := futureGroups[g.Entity]
		if !exists {
			return nil, fmt.Errorf("entity %q, %w", full.Entities.Decode(g.Entity), ErrMissingFuture)
		}
		units = append(units, unit{
			fold:   ForecastFold,
			train:  full.Rows[g.Start:g.End],
			target: future.Rows[fg.Start:fg.End],
		})
		expected += fg.End - fg.Start
	}

	cols := featureIndex(full, features, spec)
	return r.run(ctx, spec, full, cols, units, expected, q)
}

func (r *Runner) run(ctx context.Context, spec models.Spec, p *panel.Panel, cols []int, units []unit, expected int, q float64) (*Table, error) {
	adapter, err := models.New(spec)
	if err != nil {
		return nil, err
	}

	parallelism := r.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	results := make([][]Result, len(units))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(parallelism)
	for i, u := range units {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := r.fitPredict(adapter, p, cols, u, q)
			if r.Observer != nil {
				r.Observer.ObserveFit(spec.ID(), err)
			}
			if err != nil {
				return fmt.Errorf("model %s fold %d entity %q, %w", spec.ID(), u.fold, p.Entities.Decode(u.target[0].Entity), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	b := NewBuilder(expected)
	for _, res := range results {
		b.Add(res...)
	}
	log.Debug().
		Str("model", spec.ID()).
		Float64("quantile", q).
		Int("units", len(units)).
		Int("rows", expected).
		Msg("backtest complete")
	return b.Build()
}

func (r *Runner) fitPredict(adapter models.Adapter, p *panel.Panel, cols []int, u unit, q float64) ([]Result, error) {
	if len(u.train) == 0 {
		return nil, fmt.Errorf("no training rows, %w", models.ErrShortHistory)
	}

	y := make([]float64, len(u.train))
	var x [][]float64
	if cols != nil {
		x = make([][]float64, len(u.train))
	}
	for i, row := range u.train {
		y[i] = row.Target
		if x != nil {
			x[i] = project(row.Features, cols)
		}
	}

	// map every target row onto its step past the end of training
	last := u.train[len(u.train)-1].Time
	steps := make([]int, len(u.target))
	var horizon int
	for i, row := range u.target {
		k, ok := p.Freq.Steps(last, row.Time)
		if !ok {
			return nil, fmt.Errorf("%s after %s, %w", row.Time, last, ErrOffGrid)
		}
		steps[i] = k
		horizon = max(horizon, k)
	}

	var xFuture [][]float64
	if cols != nil {
		xFuture = make([][]float64, horizon)
		for i, row := range u.target {
			xFuture[steps[i]-1] = project(row.Features, cols)
		}
		// gaps in the target rows reuse the covariates of the previous step
		for h := range xFuture {
			if xFuture[h] != nil {
				continue
			}
			if h > 0 {
				xFuture[h] = xFuture[h-1]
				continue
			}
			xFuture[h] = x[len(x)-1]
		}
	}

	fitted, err := adapter.Fit(y, x)
	if err != nil {
		return nil, err
	}
	pred, err := fitted.Predict(horizon, xFuture)
	if err != nil {
		return nil, err
	}

	res := make([]Result, len(u.target))
	for i, row := range u.target {
		res[i] = Result{
			Entity:   row.Entity,
			Time:     row.Time,
			Model:    adapter.Spec().ID(),
			Fold:     u.fold,
			Quantile: q,
			Value:    p.CastTarget(pred[steps[i]-1]),
		}
	}
	return res, nil
}

// featureIndex resolves the feature names present in the panel. Nil means the model reads no
// covariates.
func featureIndex(p *panel.Panel, features []string, spec models.Spec) []int {
	if !spec.UsesCovariates() || len(features) == 0 {
		return nil
	}
	var cols []int
	for _, name := range features {
		if idx, exists := p.FeatureIndex(name); exists {
			cols = append(cols, idx)
		}
	}
	return cols
}

func project(row []float64, cols []int) []float64 {
	out := make([]float64, len(cols))
	for i, c := range cols {
		out[i] = row[c]
	}
	return out
}
