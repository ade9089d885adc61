// Package reduce implements the frame-to-curve reduction: per-frame ROI
// extraction with background subtraction, exposure aggregation, angle to
// momentum-transfer conversion, scan stitching, and curve assembly.
package reduce

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// Default tolerances for grouping, overlap matching, and curve merging.
const (
	DefaultAngleTol   Tolerance = 0.005 // degrees
	DefaultAttenTol   Tolerance = 0.01
	DefaultOverlapTol Tolerance = 0.01 // degrees
	DefaultQTol       Tolerance = 1e-4 // 1/Angstrom
)

// Options is the read-only configuration shared by every stage of a run.
type Options struct {
	SignalROI     types.Rect
	BackgroundROI types.Rect

	// Wavelength in Angstrom. Zero derives the wavelength per group from
	// the frames' beamline energy.
	Wavelength float64

	AngleTol   Tolerance
	AttenTol   Tolerance
	OverlapTol Tolerance
	QTol       Tolerance
	OutlierK   float64
	Workers    int
}

func (o Options) withDefaults() Options {
	if o.AngleTol <= 0 {
		o.AngleTol = DefaultAngleTol
	}
	if o.AttenTol <= 0 {
		o.AttenTol = DefaultAttenTol
	}
	if o.OverlapTol <= 0 {
		o.OverlapTol = DefaultOverlapTol
	}
	if o.QTol <= 0 {
		o.QTol = DefaultQTol
	}
	if o.OutlierK == 0 {
		o.OutlierK = DefaultOutlierK
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o
}

// Pipeline turns loaded frames into a reflectivity curve.
type Pipeline struct {
	opts Options
	log  zerolog.Logger
}

func New(opts Options, log zerolog.Logger) *Pipeline {
	return &Pipeline{opts: opts.withDefaults(), log: log}
}

// Run reduces a set of frames to a reflectivity curve. Any stage error
// aborts the run; no frame is ever silently dropped. Results are
// bit-identical for the same frame set regardless of input order or worker
// count: parallel results land in index-addressed slots and every grouping
// step iterates in sorted order.
func (p *Pipeline) Run(ctx context.Context, frames []types.FrameRecord) (types.ReflectivityCurve, error) {
	if len(frames) == 0 {
		return nil, &EmptyGroupError{Reason: "no frames"}
	}
	start := time.Now()

	samples, err := p.reduceFrames(ctx, frames)
	if err != nil {
		return nil, err
	}
	groups := p.groupSamples(samples)
	p.log.Debug().Int("frames", len(frames)).Int("groups", len(groups)).Msg("frames reduced")

	points, err := p.aggregateGroups(ctx, groups)
	if err != nil {
		return nil, err
	}
	if err := p.convertQ(points); err != nil {
		return nil, err
	}

	segments := p.buildSegments(points)
	assembled, err := Stitch(segments, p.opts.OverlapTol)
	if err != nil {
		return nil, err
	}
	curve, err := Assemble(assembled, p.opts.QTol)
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Int("frames", len(frames)).
		Int("groups", len(groups)).
		Int("segments", len(segments)).
		Int("points", len(curve)).
		Dur("elapsed", time.Since(start)).
		Msg("reduction complete")
	return curve, nil
}

func (p *Pipeline) reduceFrames(ctx context.Context, frames []types.FrameRecord) ([]Sample, error) {
	samples := make([]Sample, len(frames))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i := range frames {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f := frames[i]
			roi, err := Reduce(f, p.opts.SignalROI, p.opts.BackgroundROI)
			if err != nil {
				return err
			}
			samples[i] = Sample{
				ROI:         roi,
				Angle:       f.Angle,
				Exposure:    f.Exposure,
				Attenuation: f.Attenuation,
				Energy:      f.Energy,
				Acquired:    f.Acquired,
				Source:      f.Source,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return samples, nil
}

type groupKey struct {
	atten int64
	angle int64
}

func (p *Pipeline) groupSamples(samples []Sample) [][]Sample {
	byKey := make(map[groupKey][]Sample)
	for _, s := range samples {
		k := groupKey{
			atten: p.opts.AttenTol.Key(s.Attenuation),
			angle: p.opts.AngleTol.Key(s.Angle),
		}
		byKey[k] = append(byKey[k], s)
	}
	keys := make([]groupKey, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].atten != keys[j].atten {
			return keys[i].atten < keys[j].atten
		}
		return keys[i].angle < keys[j].angle
	})

	groups := make([][]Sample, len(keys))
	for i, k := range keys {
		g := byKey[k]
		sort.SliceStable(g, func(a, b int) bool {
			if !g[a].Acquired.Equal(g[b].Acquired) {
				return g[a].Acquired.Before(g[b].Acquired)
			}
			return g[a].Source < g[b].Source
		})
		groups[i] = g
	}
	return groups
}

func (p *Pipeline) aggregateGroups(ctx context.Context, groups [][]Sample) ([]types.ExposurePoint, error) {
	points := make([]types.ExposurePoint, len(groups))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i := range groups {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			point, err := Aggregate(groups[i], p.opts.OutlierK)
			if err != nil {
				return err
			}
			points[i] = point
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return points, nil
}

func (p *Pipeline) convertQ(points []types.ExposurePoint) error {
	for i := range points {
		wavelength := p.opts.Wavelength
		if wavelength == 0 {
			var err error
			wavelength, err = WavelengthFromEnergy(points[i].Energy)
			if err != nil {
				return fmt.Errorf("point at %.4f deg: %w", points[i].Angle, err)
			}
		}
		q, err := AngleToQ(points[i].Angle, wavelength)
		if err != nil {
			return err
		}
		points[i].Q = q
	}
	return nil
}

func (p *Pipeline) buildSegments(points []types.ExposurePoint) []types.ScanSegment {
	byKey := make(map[int64][]types.ExposurePoint)
	for _, pt := range points {
		k := p.opts.AttenTol.Key(pt.Attenuation)
		byKey[k] = append(byKey[k], pt)
	}
	keys := make([]int64, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	segments := make([]types.ScanSegment, 0, len(keys))
	for _, k := range keys {
		pts := byKey[k]
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].Angle < pts[j].Angle })
		earliest := pts[0].Acquired
		for _, pt := range pts[1:] {
			if pt.Acquired.Before(earliest) {
				earliest = pt.Acquired
			}
		}
		segments = append(segments, types.ScanSegment{
			ID:          fmt.Sprintf("atten=%g", pts[0].Attenuation),
			Attenuation: pts[0].Attenuation,
			Acquired:    earliest,
			Points:      pts,
		})
	}
	return segments
}
