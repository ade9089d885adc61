package reduce

import (
	"math"
	"sort"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// Assemble sorts points by q and merges runs lying within the merge
// tolerance of the growing cluster mean, using the same inverse-variance
// combination as exposure aggregation. Single-point clusters pass through
// bit-identical, so assembling an already-sorted, already-deduplicated
// curve returns it unchanged.
func Assemble(points []types.ExposurePoint, qTol Tolerance) (types.ReflectivityCurve, error) {
	sorted := append([]types.ExposurePoint(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Q < sorted[j].Q })

	curve := make(types.ReflectivityCurve, 0, len(sorted))
	for i := 0; i < len(sorted); {
		j := i + 1
		meanQ := sorted[i].Q
		for j < len(sorted) && qTol.Within(meanQ, sorted[j].Q) {
			j++
			meanQ = mergedQ(sorted[i:j])
		}
		curve = append(curve, mergeCluster(sorted[i:j]))
		i = j
	}

	for i, p := range curve {
		if math.IsNaN(p.Q) || math.IsInf(p.Q, 0) {
			return nil, &NonMonotonicError{Q: p.Q, Reason: "non-finite q"}
		}
		if i > 0 && p.Q <= curve[i-1].Q {
			return nil, &NonMonotonicError{Q: p.Q, Reason: "not strictly increasing after merge"}
		}
	}
	return curve, nil
}

func mergeCluster(cluster []types.ExposurePoint) types.CurvePoint {
	if len(cluster) == 1 {
		p := cluster[0]
		return types.CurvePoint{Q: p.Q, R: p.Intensity, RVar: p.IntensityVar, NFrames: p.NFrames, Flags: p.Flags}
	}
	intensities := make([]float64, len(cluster))
	variances := make([]float64, len(cluster))
	frames := 0
	var flags types.Flag
	for i, p := range cluster {
		intensities[i] = p.Intensity
		variances[i] = p.IntensityVar
		frames += p.NFrames
		flags |= p.Flags
	}
	r, rVar, degraded := combine(intensities, variances)
	if degraded {
		flags |= types.FlagZeroVariance
	}
	return types.CurvePoint{Q: mergedQ(cluster), R: r, RVar: rVar, NFrames: frames, Flags: flags}
}

// mergedQ weights cluster q positions by the same inverse intensity
// variances the intensity merge uses.
func mergedQ(cluster []types.ExposurePoint) float64 {
	if len(cluster) == 1 {
		return cluster[0].Q
	}
	qs := make([]float64, len(cluster))
	variances := make([]float64, len(cluster))
	for i, p := range cluster {
		qs[i] = p.Q
		variances[i] = p.IntensityVar
	}
	q, _, _ := combine(qs, variances)
	return q
}
