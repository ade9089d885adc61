// Package output writes reduced curves, run metadata and raw stream
// captures to disk.
package output

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// WriteCurveCSV writes the curve as CSV with one point per row. The error
// column is the standard deviation, not the variance, matching what fitting
// tools expect to consume.
func WriteCurveCSV(path string, curve types.ReflectivityCurve) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "q,r,r_err,n_frames,flags")
	for _, p := range curve {
		fmt.Fprintf(w, "%.9e,%.9e,%.9e,%d,%s\n", p.Q, p.R, math.Sqrt(p.RVar), p.NFrames, p.Flags)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("output: close %s: %w", path, err)
	}
	return nil
}

// RunMetadata describes one reduction run for the JSON document.
type RunMetadata struct {
	RunID    string         `json:"run_id"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Source   string         `json:"source"`
	Frames   int            `json:"frames"`
	Points   int            `json:"points"`
	Flagged  map[string]int `json:"flagged,omitempty"`
	Config   any            `json:"config,omitempty"`
}

// NewRunMetadata returns metadata with a fresh run ID and the start time
// stamped.
func NewRunMetadata(source string) RunMetadata {
	return RunMetadata{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
		Source:  source,
	}
}

// RunDocument is the JSON output: run metadata plus the full curve.
type RunDocument struct {
	Run   RunMetadata             `json:"run"`
	Curve types.ReflectivityCurve `json:"curve"`
}

// WriteRunJSON writes the run document, indented for humans.
func WriteRunJSON(path string, doc RunDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("output: encode run document: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}

// CountFlags tallies curve points per flag name.
func CountFlags(curve types.ReflectivityCurve) map[string]int {
	out := map[string]int{}
	for _, p := range curve {
		for _, name := range p.Flags.Strings() {
			out[name]++
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizeJSONValue rewrites CBOR-decoded values into JSON-encodable ones:
// non-string map keys are stringified, byte strings become base64, and tags
// are unwrapped into {tag, content} objects.
func NormalizeJSONValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = NormalizeJSONValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = NormalizeJSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeJSONValue(item)
		}
		return out
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case cbor.Tag:
		return map[string]any{
			"tag":     val.Number,
			"content": NormalizeJSONValue(val.Content),
		}
	default:
		return v
	}
}
