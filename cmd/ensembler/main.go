// Command ensembler backtests ensembles of forecasting models over a panel of time series and
// publishes quantile forecasts for the selected ensemble.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aouyang1/go-ensembler/pipeline"
	"github.com/pkg/profile"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath  string
	dotenv      string
	logLevel    string
	profileMode string
	profilePath string

	profiler interface{ Stop() }
}

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("ensembler failed")
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "ensembler",
		Short:         "Backtest and forecast ensembles of time series models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := setupLogging(opts.logLevel); err != nil {
				return err
			}
			return opts.startProfile()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.profiler != nil {
				opts.profiler.Stop()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "ensembler.yaml", "run configuration file")
	flags.StringVar(&opts.dotenv, "dotenv", pipeline.DefaultDotenv, "dotenv file with connection credentials")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	flags.StringVar(&opts.profileMode, "profile", "", "write a cpu or mem profile")
	flags.StringVar(&opts.profilePath, "profile-path", ".", "directory profiles are written to")

	cmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newSplitsCmd(opts),
	)
	return cmd
}

// setupLogging writes human readable logs to a terminal and JSON otherwise
func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if isTerminal(os.Stderr) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func (o *rootOptions) startProfile() error {
	var mode func(*profile.Profile)
	switch o.profileMode {
	case "":
		return nil
	case "cpu":
		mode = profile.CPUProfile
	case "mem":
		mode = profile.MemProfile
	default:
		return fmt.Errorf("unknown profile mode %q", o.profileMode)
	}
	o.profiler = profile.Start(mode, profile.ProfilePath(o.profilePath), profile.NoShutdownHook)
	return nil
}
