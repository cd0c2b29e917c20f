package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"sort"
	"time"

	"github.com/aouyang1/go-ensembler/ablation"
	"github.com/aouyang1/go-ensembler/backtest"
	"github.com/aouyang1/go-ensembler/ensemble"
	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/feature"
	"github.com/aouyang1/go-ensembler/metrics"
	"github.com/aouyang1/go-ensembler/objectstore"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/aouyang1/go-ensembler/plot"
	"github.com/aouyang1/go-ensembler/quantile"
	"github.com/aouyang1/go-ensembler/split"
	"github.com/aouyang1/go-ensembler/status"
	"github.com/aouyang1/go-ensembler/uplift"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Artifact names
const (
	ArtifactBacktestByModel    = "backtest_by_model"
	ArtifactBacktestByEnsemble = "backtest_by_ensemble"
	ArtifactMetricsByModel     = "metrics_by_model"
	ArtifactMetricsByEnsemble  = "metrics_by_ensemble"
	ArtifactQuantileBacktest   = "quantile_backtest"
	ArtifactQuantileForecast   = "quantile_forecast"
	ArtifactForecastPlan       = "forecast_plan"
	ArtifactFeatureImportance  = "feature_importance"
	ArtifactRollingUplift      = "rolling_uplift"
	ArtifactPlot               = "plot"
)

// Outputs are the results of every stage of a run
type Outputs struct {
	RunTime   time.Time
	Panel     *panel.Panel
	Future    *panel.Panel
	Folds     []split.Fold
	Features  []string
	Selection *ensemble.Selection
	Ablation  *ablation.Result
	Quantiles *quantile.Output
	Plan      []quantile.PlanRow
	Uplift    *uplift.MergeResult
}

// Run computes every stage of a run from a validated config. Nothing is written: the uplift
// merge is prepared and only committed by Execute once every artifact is published.
func Run(ctx context.Context, cfg *Config, deps *Deps) (*Outputs, error) {
	out := &Outputs{}
	tel := deps.Telemetry

	done := tel.Stage(StageLoad)
	p, err := objectstore.ReadPanel(ctx, deps.Objects, cfg.Input.Path, objectstore.Format(cfg.Input.Format), &cfg.Input.Columns)
	done()
	if err != nil {
		return nil, fmt.Errorf("load panel, %w", err)
	}
	log.Info().
		Int("rows", p.Len()).
		Int("entities", p.Entities.Len()).
		Str("target_type", p.TargetType.String()).
		Msg("loaded panel")

	done = tel.Stage(StageDerive)
	p, err = feature.Derive(p, cfg.Features)
	done()
	if err != nil {
		return nil, fmt.Errorf("derive features, %w", err)
	}
	out.Panel = p

	out.RunTime = p.LastTime()
	if cfg.RunTime != "" {
		if out.RunTime, err = cfg.parseRunTime(); err != nil {
			return nil, err
		}
	}

	done = tel.Stage(StageSplit)
	out.Folds, err = split.Split(p, &cfg.Splits)
	done()
	if err != nil {
		return nil, fmt.Errorf("split panel, %w", err)
	}

	runner := backtest.NewRunner(cfg.Parallelism, tel)

	done = tel.Stage(StageSelect)
	out.Selection, err = ensemble.NewSelector(runner, nil, &cfg.Ensemble).Select(ctx, p, out.Folds, cfg.Models)
	done()
	if err != nil {
		return nil, fmt.Errorf("select ensemble, %w", err)
	}
	best := out.Selection.Best

	groups := cfg.AblationGroups()
	if !cfg.Ablation.Disabled {
		done = tel.Stage(StageAblation)
		out.Ablation, err = ablation.NewEngine(runner, groups, cfg.Process).Run(ctx, p, out.Folds, best.Candidate.Members)
		done()
		if err != nil {
			return nil, fmt.Errorf("feature ablation, %w", err)
		}
	}
	out.Features = groupFeatures(groups, p.FeatureNames)

	done = tel.Stage(StageQuantile)
	out.Future, err = quantile.FuturePanel(p, cfg.Horizon, cfg.Features)
	if err == nil && cfg.Input.FutureReferencePath != "" {
		out.Future, err = withFutureReferences(ctx, cfg, deps, out.Future)
	}
	if err == nil {
		out.Quantiles, err = runQuantiles(ctx, cfg, runner, out, best.Candidate)
	}
	done()
	if err != nil {
		return nil, fmt.Errorf("quantile forecast, %w", err)
	}
	tel.ObserveCrossings(len(out.Quantiles.Crossings))

	done = tel.Stage(StagePlan)
	out.Plan, err = quantile.Plan(out.Quantiles.Forecast, out.Future, best.Scores, best.Candidate.Name, planOptions(cfg))
	done()
	if err != nil {
		return nil, fmt.Errorf("forecast plan, %w", err)
	}

	if !cfg.Uplift.Disabled {
		done = tel.Stage(StageUplift)
		records := uplift.FromScores(best.Scores, best.Candidate.Name, cfg.Uplift.Metric, out.RunTime)
		out.Uplift, err = deps.Uplift.Prepare(ctx, records)
		done()
		if err != nil {
			return nil, fmt.Errorf("merge uplift, %w", err)
		}
	}
	return out, nil
}

func runQuantiles(ctx context.Context, cfg *Config, runner *backtest.Runner, out *Outputs, c ensemble.Candidate) (*quantile.Output, error) {
	engine, err := quantile.NewEngine(runner, out.Features, &quantile.Options{
		Ladder:      cfg.Quantiles,
		PostProcess: cfg.Process,
	})
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, c.Name, out.Folds, out.Panel, out.Future, c.Members)
}

func withFutureReferences(ctx context.Context, cfg *Config, deps *Deps, future *panel.Panel) (*panel.Panel, error) {
	format, err := objectstore.ParseFormat("", cfg.Input.FutureReferencePath)
	if err != nil {
		return nil, err
	}
	refs, err := objectstore.ReadReferences(ctx, deps.Objects, cfg.Input.FutureReferencePath, format, future.Entities, &cfg.Input.Columns)
	if err != nil {
		return nil, err
	}
	return future.WithReferences(refs), nil
}

// groupFeatures is the cumulative column set of the groups in group order
func groupFeatures(groups []feature.Group, names []string) []string {
	var cols []string
	for _, g := range groups {
		cols = append(cols, g.Present(names)...)
	}
	return cols
}

// planOptions plans from the level nearest the median and the outermost levels of the ladder
func planOptions(cfg *Config) *quantile.PlanOptions {
	ladder := cfg.Quantiles
	median := ladder[0]
	for _, q := range ladder[1:] {
		if math.Abs(q-0.5) < math.Abs(median-0.5) {
			median = q
		}
	}
	return &quantile.PlanOptions{
		Median:      median,
		Lower:       ladder[0],
		Upper:       ladder[len(ladder)-1],
		PostProcess: cfg.Process,
	}
}

// Execute is the run boundary. Artifacts are only written when every stage succeeds and the
// uplift history is committed last. A failure at any point rolls back what the run wrote
// and the status sink is told the outcome exactly once.
func Execute(ctx context.Context, cfg *Config, deps *Deps) error {
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := log.With().Str("run_id", runID).Str("name", cfg.Name).Logger()
	logger.Info().Msg("run started")
	start := time.Now()

	out, err := Run(ctx, cfg, deps)
	var paths map[string]string
	if err == nil {
		paths, err = publish(ctx, cfg, deps, runID, out)
	}
	if terr := deps.Telemetry.WriteTextfile(cfg.MetricsTextfile); terr != nil {
		logger.Warn().Err(terr).Str("file", cfg.MetricsTextfile).Msg("failed to write metrics textfile")
	}

	if err != nil {
		logger.Error().
			Err(err).
			Str("kind", kindName(err)).
			Dur("elapsed", time.Since(start)).
			Msg("run failed")
		if serr := deps.Status.UpdateRunStatus(ctx, runID, status.Failed, nil, failure.Message(err)); serr != nil {
			logger.Warn().Err(serr).Msg("failed to report run status")
		}
		return err
	}

	logger.Info().
		Str("ensemble", out.Selection.Best.Candidate.Name).
		Float64("total_mae", out.Selection.Best.TotalMAE).
		Int("artifacts", len(paths)).
		Dur("elapsed", time.Since(start)).
		Msg("run finished")
	if err := deps.Status.UpdateRunStatus(ctx, runID, status.Success, paths, ""); err != nil {
		return fmt.Errorf("report run status, %w", err)
	}
	return nil
}

// publish writes the artifacts then commits the uplift merge
func publish(ctx context.Context, cfg *Config, deps *Deps, runID string, out *Outputs) (map[string]string, error) {
	done := deps.Telemetry.Stage(StageWrite)
	defer done()

	pub := newPublication(deps.Objects)
	paths, err := writeArtifacts(ctx, cfg, pub, runID, out)
	if err == nil && out.Uplift != nil {
		if err = deps.Uplift.Commit(ctx, out.Uplift); err != nil {
			err = fmt.Errorf("commit uplift, %w", failure.WithKind(err, failure.ErrDataAccess))
		}
	}
	if err != nil {
		if rerr := pub.rollback(ctx); rerr != nil {
			log.Error().Err(rerr).Str("run_id", runID).Msg("failed to roll back run artifacts")
		}
		return nil, err
	}
	if out.Uplift != nil {
		deps.Telemetry.ObserveMerge(out.Uplift.Action)
	}
	return paths, nil
}

func kindName(err error) string {
	kind := failure.KindOf(err)
	if kind == nil {
		return "internal"
	}
	return kind.Error()
}

// ArtifactPath is where a named artifact of a run is written. Configured paths win over the
// run prefix.
func ArtifactPath(cfg *Config, runID, name, ext string) string {
	if p, exists := cfg.Artifacts.Paths[name]; exists && p != "" {
		return p
	}
	return path.Join(cfg.Artifacts.Prefix, runID, name+"."+ext)
}

type artifact struct {
	name string
	path string
	data []byte
}

// writeArtifacts encodes every artifact before writing the first one
func writeArtifacts(ctx context.Context, cfg *Config, pub *publication, runID string, out *Outputs) (map[string]string, error) {
	artifacts, err := encodeArtifacts(cfg, runID, out)
	if err != nil {
		return nil, err
	}
	paths := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		if err := pub.put(ctx, a.path, a.data); err != nil {
			return nil, fmt.Errorf("write %s, %w", a.name, err)
		}
		paths[a.name] = a.path
	}
	return paths, nil
}

func encodeArtifacts(cfg *Config, runID string, out *Outputs) ([]artifact, error) {
	tables, err := artifactTables(out)
	if err != nil {
		return nil, err
	}

	format := objectstore.Format(cfg.Artifacts.Format)
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	artifacts := make([]artifact, 0, len(tables)+1)
	for _, name := range names {
		data, err := objectstore.EncodeTable(format, tables[name])
		if err != nil {
			return nil, fmt.Errorf("encode %s, %w", name, failure.WithKind(err, failure.ErrDataAccess))
		}
		artifacts = append(artifacts, artifact{
			name: name,
			path: ArtifactPath(cfg, runID, name, string(format)),
			data: data,
		})
	}

	if cfg.Artifacts.Plot {
		var buf bytes.Buffer
		tbls := []*backtest.Table{out.Selection.Best.Backtest}
		if err := plot.Render(&buf, out.Panel, tbls, out.Plan, plot.DefaultMaxEntities); err != nil {
			return nil, fmt.Errorf("render plot, %w", failure.WithKind(err, failure.ErrDataAccess))
		}
		artifacts = append(artifacts, artifact{
			name: ArtifactPlot,
			path: ArtifactPath(cfg, runID, ArtifactPlot, "html"),
			data: buf.Bytes(),
		})
	}
	return artifacts, nil
}

func artifactTables(out *Outputs) (map[string]objectstore.Tabular, error) {
	if out == nil || out.Selection == nil || out.Quantiles == nil {
		return nil, errors.New("run produced no outputs")
	}
	entities := out.Panel.Entities
	sel := out.Selection

	memberIDs := make([]string, 0, len(sel.Members))
	for id := range sel.Members {
		memberIDs = append(memberIDs, id)
	}
	sort.Strings(memberIDs)
	// members with identical configurations share one backtest
	seen := make(map[*backtest.Table]struct{}, len(memberIDs))
	memberTables := make([]*backtest.Table, 0, len(memberIDs))
	for _, id := range memberIDs {
		tbl := sel.Members[id]
		if _, exists := seen[tbl]; exists {
			continue
		}
		seen[tbl] = struct{}{}
		memberTables = append(memberTables, tbl)
	}
	byModel, err := backtest.Concat(memberTables...)
	if err != nil {
		return nil, err
	}

	ensembleTables := make([]*backtest.Table, len(sel.Evaluations))
	var ensembleScores metrics.Scores
	for i, e := range sel.Evaluations {
		ensembleTables[i] = e.Backtest
		ensembleScores = append(ensembleScores, e.Scores...)
	}
	byEnsemble, err := backtest.Concat(ensembleTables...)
	if err != nil {
		return nil, err
	}

	tables := map[string]objectstore.Tabular{
		ArtifactBacktestByModel:    backtest.Report{Table: byModel, Entities: entities},
		ArtifactBacktestByEnsemble: backtest.Report{Table: byEnsemble, Entities: entities},
		ArtifactMetricsByModel:     sel.MemberScores,
		ArtifactMetricsByEnsemble:  ensembleScores,
		ArtifactQuantileBacktest:   backtest.Report{Table: out.Quantiles.Backtest, Entities: entities},
		ArtifactQuantileForecast:   backtest.Report{Table: out.Quantiles.Forecast, Entities: entities},
		ArtifactForecastPlan:       quantile.PlanTable(out.Plan),
	}
	if out.Ablation != nil {
		tables[ArtifactFeatureImportance] = ablation.ImportanceTable(ablation.Importance(out.Ablation.Variants))
	}
	if out.Uplift != nil && len(out.Uplift.History) > 0 {
		tables[ArtifactRollingUplift] = out.Uplift.History
	}
	return tables, nil
}
