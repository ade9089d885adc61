package simulator

import (
	"context"
	"fmt"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/ingest"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// Stream replays the scan over a channel at the given period, looping and
// restamping acquisition times, until the context ends.
func Stream(ctx context.Context, p Params, interval time.Duration) (<-chan types.FrameRecord, error) {
	frames, err := Scan(p)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = time.Second
	}

	out := make(chan types.FrameRecord)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		i := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame := frames[i%len(frames)]
				frame.Acquired = time.Now().UTC()
				frame.Source = fmt.Sprintf("sim-%05d", i)
				select {
				case <-ctx.Done():
					return
				case out <- frame:
				}
				i++
			}
		}
	}()
	return out, nil
}

// Publish binds a PUSH socket and plays the scan once over it in the
// acquisition stream's wire format: a start message, one frame per tick,
// then an end message. It stands in for the detector side when testing a
// monitor's stream source.
func Publish(ctx context.Context, endpoint string, p Params, interval time.Duration, log zerolog.Logger) error {
	frames, err := Scan(p)
	if err != nil {
		return err
	}
	if interval <= 0 {
		interval = time.Second
	}

	socket, err := zmq4.NewSocket(zmq4.PUSH)
	if err != nil {
		return fmt.Errorf("simulator: %w", err)
	}
	defer socket.Close()
	if err := socket.Bind(endpoint); err != nil {
		return fmt.Errorf("simulator: bind %s: %w", endpoint, err)
	}

	start, err := ingest.EncodeControl("start", map[string]any{"frames": len(frames)})
	if err != nil {
		return err
	}
	if _, err := socket.SendBytes(start, 0); err != nil {
		return fmt.Errorf("simulator: send start: %w", err)
	}
	log.Info().Str("endpoint", endpoint).Int("frames", len(frames)).Msg("publishing scan")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i, frame := range frames {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		frame.Acquired = time.Now().UTC()
		frame.Source = fmt.Sprintf("sim-%05d", i)
		payload, err := ingest.EncodeFrame(frame)
		if err != nil {
			return fmt.Errorf("simulator: encode frame %d: %w", i, err)
		}
		if _, err := socket.SendBytes(payload, 0); err != nil {
			return fmt.Errorf("simulator: send frame %d: %w", i, err)
		}
		log.Debug().Int("frame", i).Float64("angle", frame.Angle).Msg("frame published")
	}

	end, err := ingest.EncodeControl("end", map[string]any{"frames": len(frames)})
	if err != nil {
		return err
	}
	if _, err := socket.SendBytes(end, 0); err != nil {
		return fmt.Errorf("simulator: send end: %w", err)
	}
	log.Info().Int("frames", len(frames)).Msg("scan published")
	return nil
}
