package ensemble

import (
	"context"
	"fmt"
	"math"

	"github.com/aouyang1/go-ensembler/backtest"
	"github.com/aouyang1/go-ensembler/metrics"
	"github.com/aouyang1/go-ensembler/models"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/aouyang1/go-ensembler/postprocess"
	"github.com/aouyang1/go-ensembler/split"
	"github.com/rs/zerolog/log"
)

// Options bound the candidate sizes and set the policies applied to every candidate
type Options struct {
	MinMembers  int                 `json:"min_members" yaml:"min_members"`
	MaxMembers  int                 `json:"max_members" yaml:"max_members"`
	PostProcess postprocess.Options `json:"postprocess" yaml:"postprocess"`
}

func NewDefaultOptions() *Options {
	return &Options{
		MinMembers: DefaultMinMembers,
		MaxMembers: DefaultMaxMembers,
	}
}

// Evaluation is the scored backtest of one candidate
type Evaluation struct {
	Candidate Candidate
	Backtest  *backtest.Table
	Scores    metrics.Scores
	TotalMAE  float64
}

// Selection holds every evaluated candidate, the member backtests they were built from and
// the chosen best candidate
type Selection struct {
	Best         Evaluation
	Evaluations  []Evaluation
	Members      map[string]*backtest.Table
	MemberScores metrics.Scores
}

// Selector backtests candidates over a fixed set of folds
type Selector struct {
	Runner   *backtest.Runner
	Features []string
	Opt      Options
}

func NewSelector(runner *backtest.Runner, features []string, opt *Options) *Selector {
	if opt == nil {
		opt = NewDefaultOptions()
	}
	return &Selector{
		Runner:   runner,
		Features: features,
		Opt:      *opt,
	}
}

// Select backtests every base model once, combines them into each candidate and keeps the
// candidate with the lowest summed MAE across entities. Ties keep the earlier candidate.
func (s *Selector) Select(ctx context.Context, p *panel.Panel, folds []split.Fold, base []models.Spec) (*Selection, error) {
	candidates, err := Candidates(base, s.Opt.MinMembers, s.Opt.MaxMembers)
	if err != nil {
		return nil, err
	}

	members, err := s.runMembers(ctx, folds, base)
	if err != nil {
		return nil, err
	}
	sel := &Selection{Members: members}
	for _, m := range base {
		scores, err := metrics.Compute(members[m.ID()], p)
		if err != nil {
			return nil, err
		}
		sel.MemberScores = append(sel.MemberScores, scores...)
	}

	refs := postprocess.References(p)
	for _, c := range candidates {
		eval, err := Evaluate(c, members, refs, p, s.Opt.PostProcess)
		if err != nil {
			return nil, err
		}
		sel.Evaluations = append(sel.Evaluations, eval)
		log.Debug().
			Str("candidate", c.Name).
			Float64("total_mae", eval.TotalMAE).
			Msg("evaluated ensemble candidate")
	}
	sel.Best = sel.Evaluations[Best(sel.Evaluations)]
	log.Info().
		Str("ensemble", sel.Best.Candidate.Name).
		Float64("total_mae", sel.Best.TotalMAE).
		Int("candidates", len(candidates)).
		Msg("selected ensemble")
	return sel, nil
}

// runMembers backtests each distinct base model once
func (s *Selector) runMembers(ctx context.Context, folds []split.Fold, base []models.Spec) (map[string]*backtest.Table, error) {
	memo := make(map[string]*backtest.Table)
	byID := make(map[string]*backtest.Table, len(base))
	for _, m := range base {
		if tbl, exists := memo[m.Key()]; exists {
			byID[m.ID()] = tbl
			continue
		}
		tbl, err := s.Runner.Run(ctx, m, folds, s.Features, 0)
		if err != nil {
			return nil, err
		}
		memo[m.Key()] = tbl
		byID[m.ID()] = tbl
	}
	return byID, nil
}

// Evaluate averages the member backtests of a candidate and scores the result
func Evaluate(c Candidate, members map[string]*backtest.Table, refs map[panel.Key]float64, p *panel.Panel, opt postprocess.Options) (Evaluation, error) {
	tables := make([]*backtest.Table, len(c.Members))
	for i, m := range c.Members {
		tbl, exists := members[m.ID()]
		if !exists {
			return Evaluation{}, fmt.Errorf("candidate %s member %s, %w", c.Name, m.ID(), postprocess.ErrNoMembers)
		}
		tables[i] = tbl
	}
	combined, err := postprocess.Ensemble(c.Name, tables, refs, opt)
	if err != nil {
		return Evaluation{}, err
	}
	scores, err := metrics.Compute(combined, p)
	if err != nil {
		return Evaluation{}, err
	}
	total := scores.TotalMAE(c.Name)
	if math.IsNaN(total) {
		total = math.Inf(1)
	}
	return Evaluation{
		Candidate: c,
		Backtest:  combined,
		Scores:    scores,
		TotalMAE:  total,
	}, nil
}

// Best returns the index of the evaluation with the lowest total MAE, the first one on ties.
// It returns -1 for no evaluations.
func Best(evals []Evaluation) int {
	best := -1
	for i, e := range evals {
		if best < 0 || e.TotalMAE < evals[best].TotalMAE {
			best = i
		}
	}
	return best
}
