// Package loader discovers and loads CCD frame files from a scan directory.
// Files are read in parallel and always returned in acquisition order, so a
// directory reduces to the same curve no matter how the filesystem lists it.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/fits"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// DefaultPattern matches the frame files the beamline writes.
const DefaultPattern = "*.fits"

// Options configures a Loader.
type Options struct {
	Pattern string      // glob matched against file names, default "*.fits"
	Keys    fits.KeyMap // header cards to extract, default fits.DefaultKeyMap
	Workers int         // parallel file reads, 0 means one per CPU
}

// Loader reads frame directories.
type Loader struct {
	opts Options
	log  zerolog.Logger
}

// New returns a Loader with defaults filled in.
func New(opts Options, log zerolog.Logger) *Loader {
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if opts.Keys.Angle == "" {
		opts.Keys = fits.DefaultKeyMap()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Loader{opts: opts, log: log}
}

// List returns the matching frame paths in dir, sorted by name.
func (l *Loader) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := filepath.Match(l.opts.Pattern, e.Name())
		if err != nil {
			return nil, fmt.Errorf("loader: pattern %q: %w", l.opts.Pattern, err)
		}
		if ok {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadDir reads every matching frame in dir and returns them in acquisition
// order. An empty directory yields an empty slice, not an error; callers
// decide whether that is fatal.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]types.FrameRecord, error) {
	paths, err := l.List(dir)
	if err != nil {
		return nil, err
	}
	return l.LoadFiles(ctx, paths)
}

// LoadFiles reads the given frame files in parallel. The first read error
// cancels the remaining work and is returned.
func (l *Loader) LoadFiles(ctx context.Context, paths []string) ([]types.FrameRecord, error) {
	frames := make([]types.FrameRecord, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)
	for i := range paths {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			frame, err := fits.ReadFrame(paths[i], l.opts.Keys)
			if err != nil {
				return err
			}
			frames[i] = frame
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	Sort(frames)
	l.log.Debug().Int("frames", len(frames)).Msg("frames loaded")
	return frames, nil
}

// Sort orders frames by acquisition time, breaking ties by source path.
func Sort(frames []types.FrameRecord) {
	sort.SliceStable(frames, func(i, j int) bool {
		if !frames[i].Acquired.Equal(frames[j].Acquired) {
			return frames[i].Acquired.Before(frames[j].Acquired)
		}
		return frames[i].Source < frames[j].Source
	})
}
