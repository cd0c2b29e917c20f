package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/aouyang1/go-ensembler/credentials"
	"github.com/aouyang1/go-ensembler/feature"
	"github.com/aouyang1/go-ensembler/objectstore"
	"github.com/aouyang1/go-ensembler/pipeline"
	"github.com/aouyang1/go-ensembler/split"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var runID, runTime string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a full backtest, ensemble selection and forecast run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if runID != "" {
				cfg.RunID = runID
			}
			if runTime != "" {
				cfg.RunTime = runTime
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			deps, err := pipeline.NewDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.Close()
			return pipeline.Execute(ctx, cfg, deps)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id reported to the status sink, generated when empty")
	cmd.Flags().StringVar(&runTime, "run-time", "", "timestamp the uplift history is keyed by, defaults to the last observation")
	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a run configuration and print the resolved settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "name\t%s\n", cfg.Name)
			fmt.Fprintf(w, "frequency\t%s\n", cfg.Frequency)
			fmt.Fprintf(w, "horizon\t%d\n", cfg.Horizon)
			fmt.Fprintf(w, "splits\t%d x %d (min train %d)\n", cfg.Splits.NumSplits, cfg.Splits.TestWindow, cfg.Splits.MinTrain)
			for _, m := range cfg.Models {
				fmt.Fprintf(w, "model\t%s (%s)\n", m.ID(), m.Kind)
			}
			fmt.Fprintf(w, "ensemble size\t%d-%d\n", cfg.Ensemble.MinMembers, cfg.Ensemble.MaxMembers)
			fmt.Fprintf(w, "quantiles\t%v\n", cfg.Quantiles)
			fmt.Fprintf(w, "uplift\t%s store, %s lock\n", cfg.Uplift.Store, cfg.Uplift.Lock)
			fmt.Fprintf(w, "status sink\t%s\n", cfg.Status.Sink)
			return w.Flush()
		},
	}
}

func newSplitsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "splits",
		Short: "Print the backtest folds of the configured input",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			store := objectstore.NewDir(cfg.Storage.Root)
			p, err := objectstore.ReadPanel(cmd.Context(), store, cfg.Input.Path, objectstore.Format(cfg.Input.Format), &cfg.Input.Columns)
			if err != nil {
				return err
			}
			if p, err = feature.Derive(p, cfg.Features); err != nil {
				return err
			}
			folds, err := split.Split(p, &cfg.Splits)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "fold\ttrain_end\ttest_start\ttest_end\ttrain_rows\ttest_rows")
			for _, f := range folds {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\n",
					f.Index,
					f.Train.LastTime().Format(time.DateOnly),
					f.TestStart.Format(time.DateOnly),
					f.TestEnd.Format(time.DateOnly),
					f.Train.Len(),
					f.Test.Len(),
				)
			}
			return w.Flush()
		},
	}
}

// loadConfig reads the config, resolves connection credentials and validates it
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*pipeline.Config, error) {
	cfg, err := pipeline.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	provider, err := credentials.NewEnvProvider(opts.dotenv)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyCredentials(cmd.Context(), provider); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Debug().Str("config", opts.configPath).Str("name", cfg.Name).Msg("loaded config")
	return cfg, nil
}
