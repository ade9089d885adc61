package reduce

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// DefaultOutlierK is the rejection threshold in multiples of the group MAD.
const DefaultOutlierK = 3.0

// Sample is one frame's contribution to an exposure group: its ROI result
// plus the metadata needed to normalize it.
type Sample struct {
	ROI         types.ROIResult
	Angle       float64
	Exposure    float64
	Attenuation float64
	Energy      float64
	Acquired    time.Time
	Source      string
}

// Rate returns the de-attenuated count rate of the sample and its variance.
// Attenuation cuts the incident beam by its factor, so it divides the
// effective exposure: rate = signal * attenuation / exposure.
func (s Sample) Rate() (rate, variance float64) {
	norm := s.Exposure / s.Attenuation
	return s.ROI.Signal / norm, s.ROI.SignalVar / (norm * norm)
}

// Aggregate combines one (angle, attenuation) group of samples into an
// ExposurePoint. Rates combine by inverse-variance weighting; any zero
// sample variance degrades the group to the unweighted mean and flags the
// point. Samples farther than outlierK times the group MAD from the group
// median are dropped and the mean recomputed once; if that would drop every
// sample the group keeps them all and is flagged high-scatter instead.
func Aggregate(group []Sample, outlierK float64) (types.ExposurePoint, error) {
	if len(group) == 0 {
		return types.ExposurePoint{}, &EmptyGroupError{}
	}

	rates := make([]float64, len(group))
	variances := make([]float64, len(group))
	for i, s := range group {
		rates[i], variances[i] = s.Rate()
	}

	var flags types.Flag
	med := median(rates)
	mad := median(absDeviations(rates, med))
	included := make([]int, 0, len(group))
	for i, r := range rates {
		if outlierK > 0 && math.Abs(r-med) > outlierK*mad {
			continue
		}
		included = append(included, i)
	}
	if len(included) == 0 {
		flags |= types.FlagHighScatter
		for i := range rates {
			included = append(included, i)
		}
	}

	keptRates := make([]float64, len(included))
	keptVars := make([]float64, len(included))
	for n, i := range included {
		keptRates[n] = rates[i]
		keptVars[n] = variances[i]
	}
	intensity, intensityVar, degraded := combine(keptRates, keptVars)
	if degraded {
		flags |= types.FlagZeroVariance
	}

	// Nominal coordinates come from the whole group, not the survivors, so
	// outlier rejection cannot shift the group's position.
	angles := make([]float64, len(group))
	attens := make([]float64, len(group))
	energies := make([]float64, len(group))
	earliest := group[0].Acquired
	for i, s := range group {
		angles[i] = s.Angle
		attens[i] = s.Attenuation
		energies[i] = s.Energy
		if s.Acquired.Before(earliest) {
			earliest = s.Acquired
		}
	}

	return types.ExposurePoint{
		Angle:        stat.Mean(angles, nil),
		Intensity:    intensity,
		IntensityVar: intensityVar,
		Attenuation:  stat.Mean(attens, nil),
		Energy:       stat.Mean(energies, nil),
		NFrames:      len(included),
		Acquired:     earliest,
		Flags:        flags,
	}, nil
}

// combine is the shared inverse-variance combination rule: weighted mean
// with variance 1/sum(weights). Any zero input variance degrades the whole
// set to the unweighted mean with a standard-error variance; degraded
// reports that fallback. Singleton input passes through bit-identical.
func combine(values, variances []float64) (mean, variance float64, degraded bool) {
	if len(values) == 1 {
		return values[0], variances[0], false
	}
	for _, v := range variances {
		if v == 0 {
			degraded = true
			break
		}
	}
	if degraded {
		mean = stat.Mean(values, nil)
		if n := float64(len(values)); n > 1 {
			variance = stat.Variance(values, nil) / n
		}
		return mean, variance, true
	}
	weights := make([]float64, len(variances))
	for i, v := range variances {
		weights[i] = 1 / v
	}
	return stat.Mean(values, weights), 1 / floats.Sum(weights), false
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func absDeviations(values []float64, center float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Abs(v - center)
	}
	return out
}
