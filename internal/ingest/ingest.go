// Package ingest receives CCD frames from a live acquisition stream.
//
// The stream is a ZeroMQ PUSH/PULL pair carrying CBOR messages:
//
//	{ "type": "start", "meta": {...} }
//	{ "type": "frame", "angle": <deg>, "exposure": <s>, "attenuation": <f>,
//	  "energy": <eV>, "timestamp": <unix s>, "source": <string>,
//	  "image": <RFC 8746 multi-dimensional array> }
//	{ "type": "end", "meta": {...} }
package ingest

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// Message is one decoded stream message. Frame is set only for frame
// messages; Meta only for start and end messages.
type Message struct {
	Type  string
	Frame *types.FrameRecord
	Meta  map[string]any
}

// Recorder captures raw payloads before decoding. The output package's raw
// log writer satisfies it.
type Recorder interface {
	Record(payload []byte) error
}

// Options tunes a stream receiver.
type Options struct {
	LogEvery int      // log every Nth receive or decode failure, default 1
	Recorder Recorder // optional raw payload capture
}

// recvTimeout bounds each receive so the loop can notice cancellation.
const recvTimeout = time.Second

var decodeFailures atomic.Uint64

// DecodeFailures reports how many stream payloads failed to decode since
// process start.
func DecodeFailures() uint64 {
	return decodeFailures.Load()
}

// Stream connects a PULL socket to the endpoint and returns a channel of
// decoded messages. The channel closes when the context ends.
func Stream(ctx context.Context, endpoint string, log zerolog.Logger) (<-chan Message, error) {
	return StreamWithOptions(ctx, endpoint, Options{}, log)
}

// StreamWithOptions is Stream with failure-log rate limiting and optional
// raw payload capture.
func StreamWithOptions(ctx context.Context, endpoint string, opts Options, log zerolog.Logger) (<-chan Message, error) {
	if opts.LogEvery < 1 {
		opts.LogEvery = 1
	}
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("ingest: connect %s: %w", endpoint, err)
	}

	out := make(chan Message, 128)
	go func() {
		defer close(out)
		defer socket.Close()

		var failures int
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			payload, err := socket.RecvBytes(0)
			if err != nil {
				if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
					continue
				}
				failures++
				if failures%opts.LogEvery == 0 {
					log.Warn().Err(err).Msg("stream receive failed")
				}
				continue
			}

			if opts.Recorder != nil {
				if err := opts.Recorder.Record(payload); err != nil {
					log.Warn().Err(err).Msg("raw capture failed")
				}
			}

			msg, err := decodeMessage(payload)
			if err != nil {
				decodeFailures.Add(1)
				failures++
				if failures%opts.LogEvery == 0 {
					log.Warn().Err(err).Msg("stream decode failed")
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- msg:
			}
		}
	}()

	return out, nil
}

// decMode decodes nested maps as map[string]any so start/end metadata can
// feed straight into JSON status payloads.
var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

func decodeMessage(payload []byte) (Message, error) {
	var raw map[string]any
	if err := decMode.Unmarshal(payload, &raw); err != nil {
		return Message{}, fmt.Errorf("ingest: cbor decode: %w", err)
	}
	msgType, _ := raw["type"].(string)
	switch msgType {
	case "start", "end":
		meta, _ := raw["meta"].(map[string]any)
		return Message{Type: msgType, Meta: meta}, nil
	case "frame":
		frame, err := decodeFrame(raw)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: msgType, Frame: &frame}, nil
	default:
		return Message{}, fmt.Errorf("ingest: unknown message type %q", msgType)
	}
}

func decodeFrame(raw map[string]any) (types.FrameRecord, error) {
	angle, err := toFloat(raw["angle"])
	if err != nil {
		return types.FrameRecord{}, fmt.Errorf("ingest: frame angle: %w", err)
	}
	exposure, err := toFloat(raw["exposure"])
	if err != nil {
		return types.FrameRecord{}, fmt.Errorf("ingest: frame exposure: %w", err)
	}
	if exposure <= 0 {
		return types.FrameRecord{}, fmt.Errorf("ingest: frame exposure must be positive, got %g", exposure)
	}

	frame := types.FrameRecord{
		Angle:       angle,
		Exposure:    exposure,
		Attenuation: 1,
	}
	if v, ok := raw["attenuation"]; ok {
		atten, err := toFloat(v)
		if err != nil {
			return types.FrameRecord{}, fmt.Errorf("ingest: frame attenuation: %w", err)
		}
		if atten < 1 {
			return types.FrameRecord{}, fmt.Errorf("ingest: frame attenuation must be >= 1, got %g", atten)
		}
		frame.Attenuation = atten
	}
	if v, ok := raw["energy"]; ok {
		energy, err := toFloat(v)
		if err != nil {
			return types.FrameRecord{}, fmt.Errorf("ingest: frame energy: %w", err)
		}
		frame.Energy = energy
	}
	if v, ok := raw["timestamp"]; ok {
		ts, err := toFloat(v)
		if err != nil {
			return types.FrameRecord{}, fmt.Errorf("ingest: frame timestamp: %w", err)
		}
		sec := int64(ts)
		nsec := int64((ts - float64(sec)) * 1e9)
		frame.Acquired = time.Unix(sec, nsec).UTC()
	}
	if s, ok := raw["source"].(string); ok {
		frame.Source = s
	}

	image, err := decodeCounts(raw["image"])
	if err != nil {
		return types.FrameRecord{}, fmt.Errorf("ingest: frame image: %w", err)
	}
	frame.Image = image
	return frame, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported float type %T", v)
	}
}
