package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/loader"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/output"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/reduce"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

func newReduceCmd(a *app) *cobra.Command {
	var (
		dataDir       string
		pattern       string
		outDir        string
		basename      string
		signalROI     string
		backgroundROI string
		wavelength    float64
		workers       int
		angleTol      float64
		attenTol      float64
		overlapTol    float64
		qTol          float64
		outlierK      float64
	)

	cmd := &cobra.Command{
		Use:   "reduce",
		Short: "Reduce a directory of frames to a reflectivity curve",
		Long: `Reduce reads every matching frame in the data directory, runs the
full reduction, and writes the curve as CSV plus a JSON run document
with provenance.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			if changed["data-dir"] {
				cfg.Data.Dir = dataDir
			}
			if changed["pattern"] {
				cfg.Data.Pattern = pattern
			}
			if changed["out-dir"] {
				cfg.Output.Dir = outDir
			}
			if changed["basename"] {
				cfg.Output.Basename = basename
			}
			if changed["signal"] {
				rect, err := types.ParseRect(signalROI)
				if err != nil {
					return err
				}
				cfg.ROI.Signal = rect
			}
			if changed["background"] {
				rect, err := types.ParseRect(backgroundROI)
				if err != nil {
					return err
				}
				cfg.ROI.Background = rect
			}
			if changed["wavelength"] {
				cfg.Beam.Wavelength = wavelength
			}
			if changed["workers"] {
				cfg.Reduce.Workers = workers
			}
			if changed["angle-tol"] {
				cfg.Reduce.AngleTolerance = angleTol
			}
			if changed["atten-tol"] {
				cfg.Reduce.AttenuationTolerance = attenTol
			}
			if changed["overlap-tol"] {
				cfg.Reduce.OverlapTolerance = overlapTol
			}
			if changed["q-tol"] {
				cfg.Reduce.QMergeTolerance = qTol
			}
			if changed["outlier-k"] {
				cfg.Reduce.OutlierK = outlierK
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Data.Dir == "" {
				return fmt.Errorf("no data directory: set --data-dir or [data] dir")
			}

			ctx, stop := signalContext()
			defer stop()

			run := output.NewRunMetadata(cfg.Data.Dir)
			l := loader.New(loader.Options{
				Pattern: cfg.Data.Pattern,
				Keys:    cfg.Fits.KeyMap(),
				Workers: cfg.Reduce.Workers,
			}, a.log)
			frames, err := l.LoadDir(ctx, cfg.Data.Dir)
			if err != nil {
				return err
			}
			if len(frames) == 0 {
				return fmt.Errorf("no frames matching %q in %s", cfg.Data.Pattern, cfg.Data.Dir)
			}

			pipe := reduce.New(cfg.PipelineOptions(), a.log)
			curve, err := pipe.Run(ctx, frames)
			if err != nil {
				return err
			}

			run.Finished = time.Now().UTC()
			run.Frames = len(frames)
			run.Points = len(curve)
			run.Flagged = output.CountFlags(curve)
			run.Config = cfg

			if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
				return err
			}
			csvPath := filepath.Join(cfg.Output.Dir, cfg.Output.Basename+".csv")
			jsonPath := filepath.Join(cfg.Output.Dir, cfg.Output.Basename+".json")
			if err := output.WriteCurveCSV(csvPath, curve); err != nil {
				return err
			}
			if err := output.WriteRunJSON(jsonPath, output.RunDocument{Run: run, Curve: curve}); err != nil {
				return err
			}

			event := a.log.Info().
				Str("run_id", run.RunID).
				Int("frames", run.Frames).
				Int("points", run.Points).
				Str("csv", csvPath).
				Str("json", jsonPath)
			if len(run.Flagged) > 0 {
				event = event.Interface("flagged", run.Flagged)
			}
			event.Msg("curve written")
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory of frame files")
	cmd.Flags().StringVar(&pattern, "pattern", loader.DefaultPattern, "glob matched against frame file names")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "directory for the curve outputs")
	cmd.Flags().StringVar(&basename, "basename", "", "base name of the CSV and JSON outputs")
	cmd.Flags().StringVar(&signalROI, "signal", "", "signal region as x0,y0,x1,y1")
	cmd.Flags().StringVar(&backgroundROI, "background", "", "background region as x0,y0,x1,y1")
	cmd.Flags().Float64Var(&wavelength, "wavelength", 0, "beam wavelength in Angstrom (0 derives from frame energy)")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel frame reads and reductions (0 = one per CPU)")
	cmd.Flags().Float64Var(&angleTol, "angle-tol", 0, "angle grouping tolerance in degrees")
	cmd.Flags().Float64Var(&attenTol, "atten-tol", 0, "attenuation grouping tolerance")
	cmd.Flags().Float64Var(&overlapTol, "overlap-tol", 0, "stitch overlap matching tolerance in degrees")
	cmd.Flags().Float64Var(&qTol, "q-tol", 0, "Q merge tolerance in inverse Angstrom")
	cmd.Flags().Float64Var(&outlierK, "outlier-k", 0, "MAD multiples before a sample is rejected")
	return cmd
}
