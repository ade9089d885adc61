// Command pyref reduces CCD reflectometry frames into specular
// reflectivity curves. It batch-reduces finished scans, follows growing
// scans live over a web view, inspects frame headers and recorded
// streams, and synthesizes test scans.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/config"
)

// defaultConfigFile is picked up from the working directory when --config
// is not given.
const defaultConfigFile = "pyref.toml"

// app carries the state every subcommand shares: the layered
// configuration and the logger built from it.
type app struct {
	cfgPath   string
	logLevel  string
	logFormat string

	cfg *config.Config
	log zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pyref: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "pyref",
		Short: "X-ray reflectivity reduction for CCD detectors",
		Long: `pyref turns directories or streams of CCD frames into specular
reflectivity curves: per-frame region sums with background subtraction,
repeat-exposure aggregation, conversion to momentum transfer, and
stitching of attenuator segments into one continuous curve.

Configuration layers in order: built-in defaults, a TOML file (--config,
or pyref.toml in the working directory), PYREF_* environment variables,
then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path to a TOML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn or error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: console or json")

	root.AddCommand(
		newReduceCmd(a),
		newMonitorCmd(a),
		newSimulateCmd(a),
		newHeadersCmd(a),
		newRawDumpCmd(a),
	)
	return root
}

// setup layers the configuration and builds the logger. Runs before every
// subcommand.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	path := a.cfgPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

func buildLogger(cfg config.LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	var log zerolog.Logger
	if cfg.Format == "json" {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return log.With().Timestamp().Logger().Level(level), nil
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
