package reduce

import "math"

// Tolerance buckets nearby floating-point values. Grouping keys and merge
// checks share this one rule so the two cannot drift apart.
type Tolerance float64

// Key returns the bucket index of v, rounding v to the nearest multiple of
// the tolerance. A non-positive tolerance keys every value to its own bit
// pattern.
func (t Tolerance) Key(v float64) int64 {
	if t <= 0 {
		return int64(math.Float64bits(v))
	}
	return int64(math.Round(v / float64(t)))
}

// Within reports whether a and b lie inside one tolerance of each other.
func (t Tolerance) Within(a, b float64) bool {
	return math.Abs(a-b) <= float64(t)
}
