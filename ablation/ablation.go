// Package ablation re-runs the selected ensemble while adding feature groups one at a time
// and reports every variant
package ablation

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/aouyang1/go-ensembler/backtest"
	"github.com/aouyang1/go-ensembler/ensemble"
	"github.com/aouyang1/go-ensembler/feature"
	"github.com/aouyang1/go-ensembler/metrics"
	"github.com/aouyang1/go-ensembler/models"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/aouyang1/go-ensembler/postprocess"
	"github.com/aouyang1/go-ensembler/split"
	"github.com/rs/zerolog/log"
)

const (
	BaseVariant  = "ensemble"
	ManualSuffix = "manual"
	ZerosSuffix  = "zeros"
)

// Variant is one scored configuration of the ensemble
type Variant struct {
	Name     string
	Group    string
	Features []string
	Backtest *backtest.Table
	Scores   metrics.Scores
	TotalMAE float64
}

// Result holds the variants in evaluation order and the cumulative feature set after the
// last group
type Result struct {
	Variants []Variant
	Features []string
}

// Engine evaluates the feature groups against fixed ensemble members
type Engine struct {
	Runner      *backtest.Runner
	Groups      []feature.Group
	PostProcess postprocess.Options
}

func NewEngine(runner *backtest.Runner, groups []feature.Group, opt postprocess.Options) *Engine {
	if groups == nil {
		groups = feature.DefaultGroups()
	}
	return &Engine{
		Runner:      runner,
		Groups:      groups,
		PostProcess: opt,
	}
}

// Run starts from the members without extra features, adds each present group to the
// cumulative feature set, then averages the last ensemble with the reference forecast. The
// manual zero policy is only applied to the final manual zeros variant.
func (e *Engine) Run(ctx context.Context, p *panel.Panel, folds []split.Fold, members []models.Spec) (*Result, error) {
	opt := e.PostProcess
	opt.UseManualZeros = false
	refs := postprocess.References(p)

	res := &Result{}
	name := BaseVariant
	last, err := e.variant(ctx, p, folds, members, name, "", nil, refs, opt)
	if err != nil {
		return nil, err
	}
	res.Variants = append(res.Variants, last)

	var cumulative []string
	for _, g := range e.Groups {
		cols := g.Present(p.FeatureNames)
		if len(cols) == 0 {
			log.Debug().Str("group", g.Name).Msg("skipping feature group with no columns in panel")
			continue
		}
		cumulative = append(cumulative, cols...)
		name = name + "+" + g.Name

		features := make([]string, len(cumulative))
		copy(features, cumulative)
		last, err = e.variant(ctx, p, folds, members, name, g.Name, features, refs, opt)
		if err != nil {
			return nil, err
		}
		res.Variants = append(res.Variants, last)
	}
	res.Features = cumulative

	manual, err := postprocess.FromValues(ManualSuffix, last.Backtest, refs)
	if err != nil {
		return nil, err
	}
	withManual, err := e.score(p, last.Backtest, manual, name+"+"+ManualSuffix, ManualSuffix, cumulative, refs, opt)
	if err != nil {
		return nil, err
	}
	res.Variants = append(res.Variants, withManual)

	if e.PostProcess.UseManualZeros {
		zeroOpt := opt
		zeroOpt.UseManualZeros = true
		withZeros, err := e.score(p, last.Backtest, manual, name+"+"+ManualSuffix+"+"+ZerosSuffix, ZerosSuffix, cumulative, refs, zeroOpt)
		if err != nil {
			return nil, err
		}
		res.Variants = append(res.Variants, withZeros)
	}
	return res, nil
}

func (e *Engine) variant(ctx context.Context, p *panel.Panel, folds []split.Fold, members []models.Spec, name, group string, features []string, refs map[panel.Key]float64, opt postprocess.Options) (Variant, error) {
	tables := make(map[string]*backtest.Table, len(members))
	for _, m := range members {
		tbl, err := e.Runner.Run(ctx, m, folds, features, 0)
		if err != nil {
			return Variant{}, err
		}
		tables[m.ID()] = tbl
	}
	eval, err := ensemble.Evaluate(ensemble.Candidate{Name: name, Members: members}, tables, refs, p, opt)
	if err != nil {
		return Variant{}, err
	}
	log.Debug().
		Str("variant", name).
		Int("features", len(features)).
		Float64("total_mae", eval.TotalMAE).
		Msg("evaluated ablation variant")
	return Variant{
		Name:     name,
		Group:    group,
		Features: features,
		Backtest: eval.Backtest,
		Scores:   eval.Scores,
		TotalMAE: eval.TotalMAE,
	}, nil
}

func (e *Engine) score(p *panel.Panel, ens, manual *backtest.Table, name, group string, features []string, refs map[panel.Key]float64, opt postprocess.Options) (Variant, error) {
	combined, err := postprocess.Ensemble(name, []*backtest.Table{ens, manual}, refs, opt)
	if err != nil {
		return Variant{}, err
	}
	scores, err := metrics.Compute(combined, p)
	if err != nil {
		return Variant{}, err
	}
	total := scores.TotalMAE(name)
	if math.IsNaN(total) {
		total = math.Inf(1)
	}
	return Variant{
		Name:     name,
		Group:    group,
		Features: features,
		Backtest: combined,
		Scores:   scores,
		TotalMAE: total,
	}, nil
}

// ImportanceRow is the change in total MAE when a variant was added
type ImportanceRow struct {
	Variant  string
	Group    string
	Features []string
	TotalMAE float64
	Delta    float64
}

// Importance reports each variant's drop in total MAE from the last feature variant before it.
// The first variant has no baseline and a NaN delta.
func Importance(variants []Variant) []ImportanceRow {
	rows := make([]ImportanceRow, 0, len(variants))
	prev := math.NaN()
	for _, v := range variants {
		rows = append(rows, ImportanceRow{
			Variant:  v.Name,
			Group:    v.Group,
			Features: v.Features,
			TotalMAE: v.TotalMAE,
			Delta:    prev - v.TotalMAE,
		})
		if v.Group != ManualSuffix && v.Group != ZerosSuffix {
			prev = v.TotalMAE
		}
	}
	return rows
}

// ImportanceTable renders importance rows for an artifact
type ImportanceTable []ImportanceRow

func (t ImportanceTable) Header() []string {
	return []string{"variant", "group", "features", "total_mae", "delta_mae"}
}

func (t ImportanceTable) Records() [][]string {
	out := make([][]string, len(t))
	for i, r := range t {
		delta := ""
		if !math.IsNaN(r.Delta) {
			delta = strconv.FormatFloat(r.Delta, 'f', -1, 64)
		}
		out[i] = []string{
			r.Variant,
			r.Group,
			strings.Join(r.Features, ";"),
			strconv.FormatFloat(r.TotalMAE, 'f', -1, 64),
			delta,
		}
	}
	return out
}
