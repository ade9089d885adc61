// Package types holds the value types shared across the reduction pipeline.
package types

import "time"

// Counts is one detector image: a dense row-major pixel matrix. Pixel values
// are float64 so BSCALE/BZERO-scaled FITS integers and typed-array stream
// payloads share one representation.
type Counts struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Pix    []float64 `json:"-"`
}

// NewCounts allocates a zeroed Width x Height image.
func NewCounts(width, height int) Counts {
	return Counts{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height),
	}
}

// At returns the pixel value at column x, row y. No bounds check; callers
// validate regions before iterating.
func (c Counts) At(x, y int) float64 {
	return c.Pix[y*c.Width+x]
}

// Set writes the pixel value at column x, row y.
func (c Counts) Set(x, y int, v float64) {
	c.Pix[y*c.Width+x] = v
}

// SumRect sums pixel values over r in fixed row-major order, so identical
// inputs always accumulate identically.
func (c Counts) SumRect(r Rect) float64 {
	var sum float64
	for y := r.Y0; y < r.Y1; y++ {
		row := c.Pix[y*c.Width : y*c.Width+c.Width]
		for x := r.X0; x < r.X1; x++ {
			sum += row[x]
		}
	}
	return sum
}

// FrameRecord is one raw detector exposure plus the metadata the reduction
// needs. Treated as immutable once constructed; a pipeline run owns the
// records it loads.
type FrameRecord struct {
	Image       Counts             `json:"-"`
	Angle       float64            `json:"angle"`       // sample theta, degrees
	Exposure    float64            `json:"exposure"`    // seconds
	Attenuation float64            `json:"attenuation"` // multiplicative, >= 1
	Energy      float64            `json:"energy"`      // beamline energy, eV; 0 when unknown
	Acquired    time.Time          `json:"acquired"`
	Source      string             `json:"source"` // file path or stream identifier
	Aux         map[string]float64 `json:"aux,omitempty"`
}

// ROIResult is the scalar reduction of one frame: net signal after
// background subtraction, with Poisson variances.
type ROIResult struct {
	Signal        float64 `json:"signal"`
	SignalVar     float64 `json:"signal_var"`
	Background    float64 `json:"background"`
	BackgroundVar float64 `json:"background_var"`
}

// ExposurePoint is the combined measurement for one (angle, attenuation)
// group. Intensity is the de-attenuated count rate in counts/second.
type ExposurePoint struct {
	Angle        float64   `json:"angle"`
	Q            float64   `json:"q"`
	Intensity    float64   `json:"intensity"`
	IntensityVar float64   `json:"intensity_var"`
	Attenuation  float64   `json:"attenuation"`
	Energy       float64   `json:"energy"`
	NFrames      int       `json:"n_frames"`
	Acquired     time.Time `json:"acquired"`
	Flags        Flag      `json:"flags,omitempty"`
}

// ScanSegment is one attenuation setting's slice of the scan, sorted by
// strictly increasing angle.
type ScanSegment struct {
	ID          string          `json:"id"`
	Attenuation float64         `json:"attenuation"`
	Acquired    time.Time       `json:"acquired"`
	Points      []ExposurePoint `json:"points"`
}

// CurvePoint is one (Q, R, var R) sample of the final curve.
type CurvePoint struct {
	Q       float64 `json:"q"`
	R       float64 `json:"r"`
	RVar    float64 `json:"r_var"`
	NFrames int     `json:"n_frames"`
	Flags   Flag    `json:"flags,omitempty"`
}

// ReflectivityCurve is the pipeline's output: strictly increasing in Q,
// deduplicated within the merge tolerance, variances non-negative.
type ReflectivityCurve []CurvePoint
