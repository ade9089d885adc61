package reduce

import (
	"sort"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// Stitch folds scan segments into one consistent point sequence. Segments
// are processed in increasing-angle order; the first anchors the absolute
// scale at 1 (its low-angle end sits near total external reflection where
// R is 1), and each later segment is rescaled by the inverse-variance
// weighted mean of assembled/segment intensity ratios over its overlap with
// the curve built so far. The fold is greedy and left-to-right: a late
// segment can never re-center an earlier one.
func Stitch(segments []types.ScanSegment, overlapTol Tolerance) ([]types.ExposurePoint, error) {
	ordered := make([]types.ScanSegment, 0, len(segments))
	for _, s := range segments {
		if len(s.Points) > 0 {
			ordered = append(ordered, s)
		}
	}
	if len(ordered) == 0 {
		return nil, nil
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Points[0].Angle != ordered[j].Points[0].Angle {
			return ordered[i].Points[0].Angle < ordered[j].Points[0].Angle
		}
		return ordered[i].Acquired.Before(ordered[j].Acquired)
	})

	assembled := append([]types.ExposurePoint(nil), ordered[0].Points...)
	assembledID := ordered[0].ID
	for _, seg := range ordered[1:] {
		next, err := stitchOne(assembled, assembledID, seg, overlapTol)
		if err != nil {
			return nil, err
		}
		assembled = next
		assembledID = seg.ID
	}
	return assembled, nil
}

type overlapPair struct {
	assembled int
	segment   int
}

func stitchOne(assembled []types.ExposurePoint, assembledID string, seg types.ScanSegment, tol Tolerance) ([]types.ExposurePoint, error) {
	pairs := matchOverlap(assembled, seg.Points, tol)
	if len(pairs) == 0 {
		return nil, &NoOverlapError{Assembled: assembledID, Segment: seg.ID}
	}

	ratios := make([]float64, 0, len(pairs))
	ratioVars := make([]float64, 0, len(pairs))
	for _, pr := range pairs {
		a := assembled[pr.assembled]
		s := seg.Points[pr.segment]
		if a.Intensity == 0 || s.Intensity == 0 {
			continue
		}
		r := a.Intensity / s.Intensity
		rv := r * r * (a.IntensityVar/(a.Intensity*a.Intensity) + s.IntensityVar/(s.Intensity*s.Intensity))
		ratios = append(ratios, r)
		ratioVars = append(ratioVars, rv)
	}
	if len(ratios) == 0 {
		return nil, &NoOverlapError{Assembled: assembledID, Segment: seg.ID}
	}
	scale, scaleVar, _ := combine(ratios, ratioVars)

	scaled := make([]types.ExposurePoint, len(seg.Points))
	for i, p := range seg.Points {
		p.Intensity, p.IntensityVar = rescale(p.Intensity, p.IntensityVar, scale, scaleVar)
		scaled[i] = p
	}

	matchedSeg := make(map[int]bool, len(pairs))
	for _, pr := range pairs {
		matchedSeg[pr.segment] = true
	}
	remainder := make([]types.ExposurePoint, 0, len(scaled))
	for i, p := range scaled {
		if !matchedSeg[i] {
			remainder = append(remainder, p)
		}
	}

	if len(remainder) == 0 {
		// Fully coincident segment: per matched pair keep the later-acquired
		// point, flagged so the preference is visible downstream.
		out := append([]types.ExposurePoint(nil), assembled...)
		for _, pr := range pairs {
			s := scaled[pr.segment]
			if s.Acquired.After(out[pr.assembled].Acquired) {
				s.Flags |= types.FlagDuplicate
				out[pr.assembled] = s
			} else {
				out[pr.assembled].Flags |= types.FlagDuplicate
			}
		}
		return out, nil
	}

	out := make([]types.ExposurePoint, 0, len(assembled)+len(remainder))
	out = append(out, assembled...)
	out = append(out, remainder...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Angle < out[j].Angle })
	return out, nil
}

// rescale applies a scale with uncertainty to an intensity:
// var' = k²·var + I²·var(k).
func rescale(intensity, variance, scale, scaleVar float64) (float64, float64) {
	return intensity * scale, scale*scale*variance + intensity*intensity*scaleVar
}

// matchOverlap pairs each segment point with the nearest assembled point
// lying within the angle tolerance. Assembled points are sorted by angle.
func matchOverlap(assembled, points []types.ExposurePoint, tol Tolerance) []overlapPair {
	var pairs []overlapPair
	for si, p := range points {
		ai := nearestByAngle(assembled, p.Angle)
		if ai >= 0 && tol.Within(assembled[ai].Angle, p.Angle) {
			pairs = append(pairs, overlapPair{assembled: ai, segment: si})
		}
	}
	return pairs
}

func nearestByAngle(points []types.ExposurePoint, angle float64) int {
	if len(points) == 0 {
		return -1
	}
	i := sort.Search(len(points), func(i int) bool { return points[i].Angle >= angle })
	switch {
	case i == 0:
		return 0
	case i == len(points):
		return len(points) - 1
	case angle-points[i-1].Angle <= points[i].Angle-angle:
		return i - 1
	default:
		return i
	}
}
