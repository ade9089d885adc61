package reduce

import "fmt"

// GeometryError reports an ROI that is out of frame bounds or overlapping
// its counterpart. Fatal: a bad region biases every frame the same way.
type GeometryError struct {
	Frame  string
	Reason string
}

func (e *GeometryError) Error() string {
	if e.Frame == "" {
		return "reduce: " + e.Reason
	}
	return fmt.Sprintf("reduce: %s: %s", e.Frame, e.Reason)
}

// EmptyRegionError reports an ROI with zero pixels.
type EmptyRegionError struct {
	Frame  string
	Region string
}

func (e *EmptyRegionError) Error() string {
	if e.Frame == "" {
		return fmt.Sprintf("reduce: %s roi has zero pixels", e.Region)
	}
	return fmt.Sprintf("reduce: %s: %s roi has zero pixels", e.Frame, e.Region)
}

// EmptyGroupError reports an aggregation call with no samples, a grouping
// defect in the caller.
type EmptyGroupError struct {
	Reason string
}

func (e *EmptyGroupError) Error() string {
	if e.Reason == "" {
		return "reduce: empty exposure group"
	}
	return "reduce: empty exposure group: " + e.Reason
}

// DomainError reports a value outside its physical range, which means bad
// upstream metadata rather than a computation failure.
type DomainError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("reduce: %s %g %s", e.Field, e.Value, e.Reason)
}

// NoOverlapError reports a scan segment that shares no angles with the
// curve assembled so far and therefore cannot be scaled onto it.
type NoOverlapError struct {
	Assembled string
	Segment   string
}

func (e *NoOverlapError) Error() string {
	return fmt.Sprintf("reduce: segment %s has no overlap with assembled curve through %s", e.Segment, e.Assembled)
}

// NonMonotonicError reports a final curve that merging could not make
// strictly increasing in q, which signals inconsistent upstream data.
type NonMonotonicError struct {
	Q      float64
	Reason string
}

func (e *NonMonotonicError) Error() string {
	return fmt.Sprintf("reduce: curve not monotonic at q=%g: %s", e.Q, e.Reason)
}
