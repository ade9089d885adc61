// Package simulator generates synthetic specular reflectivity scans, for
// exercising the reduction pipeline and the live monitor without beam
// time. Frames carry a Fresnel curve with a sharp critical edge, Poisson
// counting noise, and the attenuator changes a real scan plan would make.
package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/reduce"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// Segment is one attenuator setting's angular range.
type Segment struct {
	Start       float64 // degrees, inclusive
	End         float64 // degrees, inclusive
	Step        float64 // degrees
	Attenuation float64 // >= 1; 0 means none
	Frames      int     // exposures per angle; 0 means 1
}

// Params describes a synthetic scan.
type Params struct {
	Width, Height int
	SignalROI     types.Rect // where the specular spot lands; zero means a centered box

	Flux       float64 // incident rate at R=1, counts/s into the spot
	Background float64 // counts per pixel per second; negative disables
	CriticalQ  float64 // total external reflection edge, 1/Angstrom
	Exposure   float64 // seconds per frame

	Energy     float64 // beamline energy written to frames, eV
	Wavelength float64 // Angstrom; 0 derives from Energy

	Segments  []Segment
	Seed      int64
	Start     time.Time // acquisition time of the first frame
	Noiseless bool      // exact expected counts, for tests
}

func (p Params) withDefaults() Params {
	if p.Width <= 0 {
		p.Width = 64
	}
	if p.Height <= 0 {
		p.Height = 64
	}
	if p.SignalROI.Area() == 0 {
		w, h := p.Width/4, p.Height/4
		p.SignalROI = types.Rect{
			X0: (p.Width - w) / 2,
			Y0: (p.Height - h) / 2,
			X1: (p.Width + w) / 2,
			Y1: (p.Height + h) / 2,
		}
	}
	if p.Flux <= 0 {
		p.Flux = 1e6
	}
	if p.Background < 0 {
		p.Background = 0
	} else if p.Background == 0 {
		p.Background = 0.5
	}
	if p.CriticalQ <= 0 {
		p.CriticalQ = 0.02
	}
	if p.Exposure <= 0 {
		p.Exposure = 1
	}
	if p.Energy == 0 && p.Wavelength == 0 {
		p.Energy = 1200
	}
	if len(p.Segments) == 0 {
		p.Segments = []Segment{
			{Start: 0.1, End: 1.2, Step: 0.05, Attenuation: 50},
			{Start: 1.1, End: 5.0, Step: 0.1, Attenuation: 1},
		}
	}
	for i := range p.Segments {
		if p.Segments[i].Attenuation < 1 {
			p.Segments[i].Attenuation = 1
		}
		if p.Segments[i].Frames < 1 {
			p.Segments[i].Frames = 1
		}
	}
	if p.Start.IsZero() {
		p.Start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return p
}

func (p Params) wavelength() (float64, error) {
	if p.Wavelength > 0 {
		return p.Wavelength, nil
	}
	return reduce.WavelengthFromEnergy(p.Energy)
}

// Reflectivity evaluates the Fresnel curve of an ideal sharp interface:
// unity below the critical edge, falling toward (qc/2q)^4 above it.
func Reflectivity(q, qc float64) float64 {
	if q <= qc {
		return 1
	}
	b := math.Sqrt(q*q - qc*qc)
	r := (q - b) / (q + b)
	return r * r
}

// Scan synthesizes every frame of the scan plan, in acquisition order.
// The same Params always produce the same frames.
func Scan(p Params) ([]types.FrameRecord, error) {
	p = p.withDefaults()
	wavelength, err := p.wavelength()
	if err != nil {
		return nil, fmt.Errorf("simulator: %w", err)
	}
	rng := rand.New(rand.NewSource(p.Seed))

	var frames []types.FrameRecord
	acquired := p.Start
	dwell := time.Duration(p.Exposure * float64(time.Second))
	for si, seg := range p.Segments {
		if seg.Step <= 0 {
			return nil, fmt.Errorf("simulator: segment %d: step must be positive", si)
		}
		if seg.End < seg.Start {
			return nil, fmt.Errorf("simulator: segment %d: end before start", si)
		}
		for angle := seg.Start; angle <= seg.End+seg.Step/2; angle += seg.Step {
			for rep := 0; rep < seg.Frames; rep++ {
				frame, err := p.frame(rng, angle, seg.Attenuation, wavelength, acquired)
				if err != nil {
					return nil, fmt.Errorf("simulator: segment %d: %w", si, err)
				}
				frames = append(frames, frame)
				acquired = acquired.Add(dwell)
			}
		}
	}
	return frames, nil
}

// frame renders one exposure: flat background everywhere, the reflected
// beam spread evenly over the signal region, counting noise on top unless
// the scan is noiseless. The attenuator divides the detected rate.
func (p Params) frame(rng *rand.Rand, angle, atten, wavelength float64, acquired time.Time) (types.FrameRecord, error) {
	q, err := reduce.AngleToQ(angle, wavelength)
	if err != nil {
		return types.FrameRecord{}, err
	}
	signal := p.Flux * Reflectivity(q, p.CriticalQ) / atten * p.Exposure
	perPixel := signal / float64(p.SignalROI.Area())
	bg := p.Background * p.Exposure

	img := types.NewCounts(p.Width, p.Height)
	roi := p.SignalROI
	for y := 0; y < p.Height; y++ {
		inY := y >= roi.Y0 && y < roi.Y1
		for x := 0; x < p.Width; x++ {
			mean := bg
			if inY && x >= roi.X0 && x < roi.X1 {
				mean += perPixel
			}
			v := mean
			if !p.Noiseless && mean > 0 {
				v += rng.NormFloat64() * math.Sqrt(mean)
			}
			if v < 0 {
				v = 0
			}
			img.Set(x, y, v)
		}
	}

	return types.FrameRecord{
		Image:       img,
		Angle:       angle,
		Exposure:    p.Exposure,
		Attenuation: atten,
		Energy:      p.Energy,
		Acquired:    acquired,
	}, nil
}
