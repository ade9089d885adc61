package server

import (
	"time"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// CurveUpdate is the message broadcast to viewers after each reduction
// pass, and replayed on snapshot requests.
type CurveUpdate struct {
	Type    string                  `json:"type"` // always "curve"
	RunID   string                  `json:"run_id,omitempty"`
	Updated time.Time               `json:"updated"`
	Frames  int                     `json:"frames"`
	Points  int                     `json:"points"`
	Curve   types.ReflectivityCurve `json:"curve"`
}

// NewCurveUpdate stamps a broadcast message for the given curve.
func NewCurveUpdate(runID string, frames int, curve types.ReflectivityCurve) CurveUpdate {
	return CurveUpdate{
		Type:    "curve",
		RunID:   runID,
		Updated: time.Now().UTC(),
		Frames:  frames,
		Points:  len(curve),
		Curve:   curve,
	}
}

// ScanEvent reports stream lifecycle changes (scan start and end) to
// viewers.
type ScanEvent struct {
	Type string         `json:"type"` // "scan_start" or "scan_end"
	At   time.Time      `json:"at"`
	Meta map[string]any `json:"meta,omitempty"`
}
