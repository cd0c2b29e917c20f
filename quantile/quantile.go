// Package quantile repeats the ensemble backtest and a full horizon forecast for every level
// of a quantile ladder to build prediction intervals
package quantile

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aouyang1/go-ensembler/backtest"
	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/feature"
	"github.com/aouyang1/go-ensembler/models"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/aouyang1/go-ensembler/postprocess"
	"github.com/aouyang1/go-ensembler/split"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidQuantile    = failure.New(failure.ErrValidation, "quantile levels must be in (0, 1)")
	ErrNonPositiveHorizon = failure.New(failure.ErrValidation, "forecast horizon must be positive")
	ErrNoMembers          = failure.New(failure.ErrValidation, "no ensemble members to forecast")
)

// DefaultLadder is 0.10 through 0.90 in 0.05 steps
func DefaultLadder() []float64 {
	ladder := make([]float64, 0, 17)
	for pct := 10; pct <= 90; pct += 5 {
		ladder = append(ladder, float64(pct)/100)
	}
	return ladder
}

// Options configure the ladder and the row policies applied to every quantile
type Options struct {
	Ladder      []float64           `json:"ladder" yaml:"ladder"`
	PostProcess postprocess.Options `json:"postprocess" yaml:"postprocess"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Ladder: DefaultLadder(),
	}
}

// Validate sorts and deduplicates the ladder. An empty ladder takes the default one.
func (o *Options) Validate() (*Options, error) {
	if o == nil {
		return NewDefaultOptions(), nil
	}
	out := *o
	if len(out.Ladder) == 0 {
		out.Ladder = DefaultLadder()
		return &out, nil
	}
	ladder := make([]float64, 0, len(out.Ladder))
	for _, q := range out.Ladder {
		if !(q > 0 && q < 1) {
			return nil, fmt.Errorf("quantile %v, %w", q, ErrInvalidQuantile)
		}
		ladder = append(ladder, q)
	}
	sort.Float64s(ladder)
	uniq := ladder[:1]
	for _, q := range ladder[1:] {
		if q != uniq[len(uniq)-1] {
			uniq = append(uniq, q)
		}
	}
	out.Ladder = uniq
	return &out, nil
}

// FutureWindow is the inclusive forecast window [last + 1 period, last + fh periods]
func FutureWindow(last time.Time, fh int, freq panel.Frequency) (time.Time, time.Time, error) {
	if fh <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%d, %w", fh, ErrNonPositiveHorizon)
	}
	if err := freq.Valid(); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return freq.Add(last, 1), freq.Add(last, fh), nil
}

// FuturePanel synthesizes the covariate rows of the forecast window for every entity
func FuturePanel(p *panel.Panel, fh int, opts *feature.Options) (*panel.Panel, error) {
	last := p.LastTime()
	start, end, err := FutureWindow(last, fh, p.Freq)
	if err != nil {
		return nil, err
	}
	future, err := feature.Future(p, last, fh, opts)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Time("start", start).
		Time("end", end).
		Int("horizon", fh).
		Msg("synthesized future covariates")
	return future, nil
}

// Crossing is a pair of adjacent ladder levels whose predictions are out of order
type Crossing struct {
	Entity     int
	Time       time.Time
	Fold       int
	Lower      float64
	Upper      float64
	LowerValue float64
	UpperValue float64
}

// Output holds the per quantile ensemble backtest and forecast tables
type Output struct {
	Backtest  *backtest.Table
	Forecast  *backtest.Table
	Crossings []Crossing
}

// Engine runs the ensemble members at every ladder level
type Engine struct {
	Runner   *backtest.Runner
	Features []string
	Opt      Options
}

func NewEngine(runner *backtest.Runner, features []string, opt *Options) (*Engine, error) {
	o, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	return &Engine{
		Runner:   runner,
		Features: features,
		Opt:      *o,
	}, nil
}

// Run backtests and forecasts the members at each quantile concurrently, averaging them under
// name with the row policies. Forecasts fit on the full panel and predict the future panel
// rows. Crossed quantiles are reported, not corrected.
func (e *Engine) Run(ctx context.Context, name string, folds []split.Fold, full, future *panel.Panel, members []models.Spec) (*Output, error) {
	if len(members) == 0 {
		return nil, ErrNoMembers
	}
	refs := postprocess.References(full)
	futureRefs := postprocess.References(future)

	backtests := make([]*backtest.Table, len(e.Opt.Ladder))
	forecasts := make([]*backtest.Table, len(e.Opt.Ladder))
	eg, ctx := errgroup.WithContext(ctx)
	for i, q := range e.Opt.Ladder {
		eg.Go(func() error {
			bt, fc, err := e.runQuantile(ctx, name, q, folds, full, future, members, refs, futureRefs)
			if err != nil {
				return fmt.Errorf("quantile %.2f, %w", q, err)
			}
			backtests[i] = bt
			forecasts[i] = fc
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	bt, err := backtest.Concat(backtests...)
	if err != nil {
		return nil, err
	}
	fc, err := backtest.Concat(forecasts...)
	if err != nil {
		return nil, err
	}
	out := &Output{
		Backtest:  bt,
		Forecast:  fc,
		Crossings: append(Crossings(bt), Crossings(fc)...),
	}
	if len(out.Crossings) > 0 {
		log.Warn().
			Str("model", name).
			Int("crossings", len(out.Crossings)).
			Msg("quantile predictions are not monotonic")
	}
	return out, nil
}

func (e *Engine) runQuantile(ctx context.Context, name string, q float64, folds []split.Fold, full, future *panel.Panel, members []models.Spec, refs, futureRefs map[panel.Key]float64) (*backtest.Table, *backtest.Table, error) {
	bts := make([]*backtest.Table, len(members))
	fcs := make([]*backtest.Table, len(members))
	for i, m := range members {
		bt, err := e.Runner.Run(ctx, m, folds, e.Features, q)
		if err != nil {
			return nil, nil, err
		}
		fc, err := e.Runner.RunForecast(ctx, m, full, future, e.Features, q)
		if err != nil {
			return nil, nil, err
		}
		bts[i] = bt
		fcs[i] = fc
	}
	bt, err := postprocess.Ensemble(name, bts, refs, e.Opt.PostProcess)
	if err != nil {
		return nil, nil, err
	}
	fc, err := postprocess.Ensemble(name, fcs, futureRefs, e.Opt.PostProcess)
	if err != nil {
		return nil, nil, err
	}
	return bt, fc, nil
}

type crossKey struct {
	model  string
	entity int
	fold   int
	unix   int64
}

// Crossings finds adjacent quantile levels where the lower level predicts more than the upper
// one for the same model, entity and timestamp
func Crossings(t *backtest.Table) []Crossing {
	byKey := make(map[crossKey][]backtest.Result)
	var keys []crossKey
	for _, r := range t.Rows() {
		if r.Quantile == 0 {
			continue
		}
		k := crossKey{model: r.Model, entity: r.Entity, fold: r.Fold, unix: r.Time.UnixNano()}
		if _, exists := byKey[k]; !exists {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], r)
	}

	var out []Crossing
	for _, k := range keys {
		rows := byKey[k]
		sort.Slice(rows, func(i, j int) bool {
			return rows[i].Quantile < rows[j].Quantile
		})
		for i := 1; i < len(rows); i++ {
			lo, hi := rows[i-1], rows[i]
			if math.IsNaN(lo.Value) || math.IsNaN(hi.Value) || lo.Value <= hi.Value {
				continue
			}
			out = append(out, Crossing{
				Entity:     hi.Entity,
				Time:       hi.Time,
				Fold:       hi.Fold,
				Lower:      lo.Quantile,
				Upper:      hi.Quantile,
				LowerValue: lo.Value,
				UpperValue: hi.Value,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].Lower < out[j].Lower
	})
	return out
}
