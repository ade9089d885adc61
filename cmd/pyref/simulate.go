package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/simulator"
)

func newSimulateCmd(a *app) *cobra.Command {
	var (
		outDir   string
		endpoint string
		seed     int64
		frames   int
		interval float64
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate a synthetic reflectivity scan",
		Long: `Simulate renders a specular scan of an ideal sample, either as FITS
files on disk for exercising the batch path, or published over ZMQ for
exercising the stream path. The scan plan comes from [simulate] in the
config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			if changed["seed"] {
				cfg.Simulate.Seed = seed
			}
			if changed["frames-per-angle"] {
				cfg.Simulate.FramesPerAngle = frames
			}
			if changed["interval"] {
				cfg.Simulate.Interval = interval
			}

			p := cfg.SimParams()
			if endpoint != "" {
				ctx, stop := signalContext()
				defer stop()
				a.log.Info().Str("endpoint", endpoint).Msg("publishing simulated scan")
				return simulator.Publish(ctx, endpoint, p, cfg.Simulate.FrameInterval(), a.log)
			}

			n, err := simulator.WriteScan(outDir, p, cfg.Fits.KeyMap())
			if err != nil {
				return err
			}
			a.log.Info().Int("frames", n).Str("dir", outDir).Msg("scan written")
			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out-dir", "sim-data", "directory to write FITS frames into")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "publish frames over ZMQ instead of writing files")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 seeds from the clock)")
	cmd.Flags().IntVar(&frames, "frames-per-angle", 0, "repeat exposures at each angle")
	cmd.Flags().Float64Var(&interval, "interval", 0, "seconds between published frames")
	return cmd
}
