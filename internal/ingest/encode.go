package ingest

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// EncodeFrame encodes a frame message in the stream wire format. The
// simulator's publish mode uses it to stand in for the acquisition side.
func EncodeFrame(frame types.FrameRecord) ([]byte, error) {
	msg := map[string]any{
		"type":        "frame",
		"angle":       frame.Angle,
		"exposure":    frame.Exposure,
		"attenuation": frame.Attenuation,
		"image":       encodeCounts(frame.Image),
	}
	if frame.Energy > 0 {
		msg["energy"] = frame.Energy
	}
	if !frame.Acquired.IsZero() {
		msg["timestamp"] = float64(frame.Acquired.UnixNano()) / 1e9
	}
	if frame.Source != "" {
		msg["source"] = frame.Source
	}
	return cbor.Marshal(msg)
}

// EncodeControl encodes a start or end message with its metadata payload.
func EncodeControl(msgType string, meta map[string]any) ([]byte, error) {
	if msgType != "start" && msgType != "end" {
		return nil, fmt.Errorf("ingest: control message type must be start or end, got %q", msgType)
	}
	return cbor.Marshal(map[string]any{"type": msgType, "meta": meta})
}
