package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

func frameMessage() map[string]any {
	return map[string]any{
		"type":        "frame",
		"angle":       0.75,
		"exposure":    2.0,
		"attenuation": 10.0,
		"energy":      1200.0,
		"timestamp":   1770000000.25,
		"source":      "ccd-007",
		"image": cbor.Tag{
			Number: tagMultiDimArray,
			Content: []any{
				[]any{1, 2},
				cbor.Tag{
					Number:  tagUint8,
					Content: []byte{10, 20},
				},
			},
		},
	}
}

func TestDecodeMessageFrame(t *testing.T) {
	payload, err := cbor.Marshal(frameMessage())
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	msg, err := decodeMessage(payload)
	if err != nil {
		t.Fatalf("decodeMessage error: %v", err)
	}
	if msg.Type != "frame" {
		t.Fatalf("unexpected type: %q", msg.Type)
	}
	if msg.Frame == nil {
		t.Fatal("frame message without frame")
	}

	frame := msg.Frame
	if frame.Angle != 0.75 || frame.Exposure != 2.0 || frame.Attenuation != 10.0 || frame.Energy != 1200.0 {
		t.Fatalf("unexpected metadata: %+v", frame)
	}
	if frame.Source != "ccd-007" {
		t.Fatalf("unexpected source: %q", frame.Source)
	}
	want := time.Unix(1770000000, 250000000).UTC()
	if d := frame.Acquired.Sub(want); d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("unexpected timestamp: %v (want %v)", frame.Acquired, want)
	}
	if frame.Image.Width != 2 || frame.Image.Height != 1 {
		t.Fatalf("unexpected image shape: %dx%d", frame.Image.Width, frame.Image.Height)
	}
	if frame.Image.Pix[0] != 10 || frame.Image.Pix[1] != 20 {
		t.Fatalf("unexpected image values: %v", frame.Image.Pix)
	}
}

func TestDecodeMessageStart(t *testing.T) {
	payload, err := cbor.Marshal(map[string]any{
		"type": "start",
		"meta": map[string]any{"sample": "PS-d8", "segments": 2},
	})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	msg, err := decodeMessage(payload)
	if err != nil {
		t.Fatalf("decodeMessage error: %v", err)
	}
	if msg.Type != "start" {
		t.Fatalf("unexpected type: %q", msg.Type)
	}
	if msg.Frame != nil {
		t.Fatal("start message should not carry a frame")
	}
	if msg.Meta["sample"] != "PS-d8" {
		t.Fatalf("unexpected meta: %#v", msg.Meta)
	}
}

func TestDecodeMessageUnknownType(t *testing.T) {
	payload, err := cbor.Marshal(map[string]any{"type": "image"})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if _, err := decodeMessage(payload); err == nil {
		t.Fatal("expected unknown type error")
	}
}

func TestDecodeMessageFrameValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
		want   string
	}{
		{
			name:   "missing angle",
			mutate: func(m map[string]any) { delete(m, "angle") },
			want:   "angle",
		},
		{
			name:   "zero exposure",
			mutate: func(m map[string]any) { m["exposure"] = 0.0 },
			want:   "exposure",
		},
		{
			name:   "attenuation below one",
			mutate: func(m map[string]any) { m["attenuation"] = 0.5 },
			want:   "attenuation",
		},
		{
			name:   "missing image",
			mutate: func(m map[string]any) { delete(m, "image") },
			want:   "image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := frameMessage()
			tt.mutate(m)
			payload, err := cbor.Marshal(m)
			if err != nil {
				t.Fatalf("marshal error: %v", err)
			}
			_, err = decodeMessage(payload)
			if err == nil {
				t.Fatal("expected decode error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestEncodeFrameRoundTrip(t *testing.T) {
	img := types.NewCounts(2, 2)
	img.Pix = []float64{5, 10, 15, 20}
	in := types.FrameRecord{
		Image:       img,
		Angle:       1.5,
		Exposure:    0.5,
		Attenuation: 100,
		Energy:      850,
		Acquired:    time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC),
		Source:      "sim-00042",
	}

	payload, err := EncodeFrame(in)
	if err != nil {
		t.Fatalf("EncodeFrame error: %v", err)
	}

	msg, err := decodeMessage(payload)
	if err != nil {
		t.Fatalf("decodeMessage error: %v", err)
	}
	if msg.Type != "frame" || msg.Frame == nil {
		t.Fatalf("unexpected message: %+v", msg)
	}

	got := msg.Frame
	if got.Angle != in.Angle || got.Exposure != in.Exposure || got.Attenuation != in.Attenuation || got.Energy != in.Energy {
		t.Fatalf("metadata mismatch: %+v", got)
	}
	if got.Source != in.Source {
		t.Fatalf("source mismatch: %q", got.Source)
	}
	if d := got.Acquired.Sub(in.Acquired); d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("timestamp mismatch: %v", got.Acquired)
	}
	if got.Image.Width != 2 || got.Image.Height != 2 {
		t.Fatalf("image shape mismatch: %dx%d", got.Image.Width, got.Image.Height)
	}
	for i, v := range in.Image.Pix {
		if got.Image.Pix[i] != v {
			t.Fatalf("pixel %d mismatch: got %v want %v", i, got.Image.Pix[i], v)
		}
	}
}

func TestEncodeControl(t *testing.T) {
	payload, err := EncodeControl("end", map[string]any{"frames": 120})
	if err != nil {
		t.Fatalf("EncodeControl error: %v", err)
	}
	msg, err := decodeMessage(payload)
	if err != nil {
		t.Fatalf("decodeMessage error: %v", err)
	}
	if msg.Type != "end" {
		t.Fatalf("unexpected type: %q", msg.Type)
	}

	if _, err := EncodeControl("frame", nil); err == nil {
		t.Fatal("expected error for non-control type")
	}
}
