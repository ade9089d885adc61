package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/config"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/ingest"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/loader"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/output"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/reduce"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/server"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/simulator"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// monitorFrameCap bounds the live frame buffer. A real scan is a few
// hundred frames; hitting the cap means the source never sent an end
// marker, so the monitor starts a fresh scan rather than grow forever.
const monitorFrameCap = 4096

func newMonitorCmd(a *app) *cobra.Command {
	var (
		listen   string
		source   string
		endpoint string
		dataDir  string
		record   bool
		interval float64
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Follow a growing scan and serve the curve live",
		Long: `Monitor keeps reducing the scan as frames arrive and pushes every
new curve to connected browsers over a websocket. Frames come from a
watched directory, a ZMQ acquisition stream, or the built-in simulator.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			if changed["listen"] {
				cfg.Monitor.Listen = listen
			}
			if changed["source"] {
				cfg.Monitor.Source = source
			}
			if changed["endpoint"] {
				cfg.Monitor.Endpoint = endpoint
			}
			if changed["data-dir"] {
				cfg.Data.Dir = dataDir
			}
			if changed["record"] {
				cfg.Monitor.Record = record
			}
			if changed["interval"] {
				cfg.Monitor.Interval = interval
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Monitor.Source == "dir" && cfg.Data.Dir == "" {
				return fmt.Errorf("monitor source dir needs --data-dir or [data] dir")
			}

			ctx, stop := signalContext()
			defer stop()
			return newMonitor(cfg, a.log).run(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address for the live view")
	cmd.Flags().StringVar(&source, "source", "", "frame source: dir, stream or sim")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "ZMQ endpoint of the acquisition stream")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory to watch for frame files")
	cmd.Flags().BoolVar(&record, "record", false, "record raw stream payloads to the output directory")
	cmd.Flags().Float64Var(&interval, "interval", 0, "seconds between reduction passes")
	return cmd
}

// monitor owns the live state: the frame buffer of the scan in progress
// and the most recent reduced curve.
type monitor struct {
	cfg     *config.Config
	log     zerolog.Logger
	pipe    *reduce.Pipeline
	metrics *server.Metrics

	messages chan any

	mu        sync.Mutex
	frames    []types.FrameRecord
	latest    *server.CurveUpdate
	lastErr   string
	runID     string
	started   time.Time
	scanStart map[string]any
	scanEnd   map[string]any
	dirty     bool
}

func newMonitor(cfg *config.Config, log zerolog.Logger) *monitor {
	return &monitor{
		cfg:      cfg,
		log:      log,
		pipe:     reduce.New(cfg.PipelineOptions(), log),
		metrics:  server.NewMetrics(),
		messages: make(chan any, 16),
		runID:    uuid.NewString(),
		started:  time.Now().UTC(),
	}
}

func (m *monitor) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	switch m.cfg.Monitor.Source {
	case "dir":
		g.Go(func() error { return m.watchDir(ctx) })
	case "stream":
		m.metrics.ObserveDecodeFailures(ingest.DecodeFailures)
		g.Go(func() error { return m.consumeStream(ctx) })
	case "sim":
		g.Go(func() error { return m.consumeSim(ctx) })
	}
	g.Go(func() error { return m.rerunLoop(ctx) })
	g.Go(func() error {
		return server.Run(ctx, m.cfg.Monitor.Listen, m.metrics, m.messages,
			m.status, m.snapshot, m.configView, m.log)
	})
	return g.Wait()
}

// watchDir reloads the whole directory after each settled burst of file
// events. Full reloads keep the buffer exactly in sync with the files,
// including rewrites of frames already seen.
func (m *monitor) watchDir(ctx context.Context) error {
	l := loader.New(loader.Options{
		Pattern: m.cfg.Data.Pattern,
		Keys:    m.cfg.Fits.KeyMap(),
		Workers: m.cfg.Reduce.Workers,
	}, m.log)
	dir := m.cfg.Data.Dir
	reload := func() {
		frames, err := l.LoadDir(ctx, dir)
		if err != nil {
			m.log.Warn().Err(err).Str("dir", dir).Msg("directory reload failed")
			return
		}
		m.replaceFrames(frames)
	}
	reload()
	return l.Watch(ctx, dir, m.cfg.Monitor.DebounceDelay(), reload)
}

func (m *monitor) consumeStream(ctx context.Context) error {
	opts := ingest.Options{LogEvery: 100}
	if m.cfg.Monitor.Record {
		writer, err := output.NewRawLogWriter(m.cfg.Output.Dir, "stream_cbor")
		if err != nil {
			return err
		}
		defer func() {
			if err := writer.Close(); err != nil {
				m.log.Warn().Err(err).Msg("raw log close failed")
			}
		}()
		opts.Recorder = writer
		m.log.Info().Str("path", writer.Path()).Msg("recording raw stream")
	}

	messages, err := ingest.StreamWithOptions(ctx, m.cfg.Monitor.Endpoint, opts, m.log)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			switch msg.Type {
			case "frame":
				m.addFrame(*msg.Frame)
			case "start":
				m.beginScan(normalizeMeta(msg.Meta))
			case "end":
				m.endScan(ctx, normalizeMeta(msg.Meta))
			}
		}
	}
}

func (m *monitor) consumeSim(ctx context.Context) error {
	frames, err := simulator.Stream(ctx, m.cfg.SimParams(), m.cfg.Simulate.FrameInterval())
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			m.addFrame(frame)
		}
	}
}

// rerunLoop reduces the buffer on a fixed beat, but only when new frames
// arrived since the last pass.
func (m *monitor) rerunLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Monitor.RerunInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if m.takeDirty() {
				m.rerun(ctx)
			}
		}
	}
}

func (m *monitor) rerun(ctx context.Context) {
	frames, runID := m.snapshotFrames()
	if len(frames) == 0 {
		return
	}
	start := time.Now()
	curve, err := m.pipe.Run(ctx, frames)
	m.metrics.ReductionSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		m.metrics.ReductionErrors.Inc()
		m.mu.Lock()
		m.lastErr = err.Error()
		m.mu.Unlock()
		var noOverlap *reduce.NoOverlapError
		if errors.As(err, &noOverlap) {
			// Expected mid-scan: the new attenuator segment has not yet
			// reached the assembled curve's angular range.
			m.log.Debug().Err(err).Int("frames", len(frames)).Msg("stitch pending")
		} else {
			m.log.Warn().Err(err).Int("frames", len(frames)).Msg("reduction failed")
		}
		return
	}
	m.metrics.Reductions.Inc()
	m.metrics.CurvePoints.Set(float64(len(curve)))

	update := server.NewCurveUpdate(runID, len(frames), curve)
	m.mu.Lock()
	if m.runID != runID {
		// A new scan began while this pass ran; its curve is history.
		m.mu.Unlock()
		return
	}
	m.latest = &update
	m.lastErr = ""
	m.mu.Unlock()
	m.send(update)
	m.log.Debug().Int("frames", len(frames)).Int("points", len(curve)).Msg("curve updated")
}

func (m *monitor) addFrame(frame types.FrameRecord) {
	if frame.Acquired.IsZero() {
		frame.Acquired = time.Now().UTC()
	}
	var reset bool
	m.mu.Lock()
	if len(m.frames) >= monitorFrameCap {
		m.frames = nil
		m.runID = uuid.NewString()
		m.started = time.Now().UTC()
		reset = true
	}
	m.frames = append(m.frames, frame)
	m.dirty = true
	m.mu.Unlock()
	m.metrics.FramesIngested.Inc()
	if reset {
		m.log.Info().Int("cap", monitorFrameCap).Msg("frame buffer full, starting a fresh scan")
	}
}

func (m *monitor) replaceFrames(frames []types.FrameRecord) {
	m.mu.Lock()
	prev := len(m.frames)
	m.frames = frames
	m.dirty = true
	m.mu.Unlock()
	if grew := len(frames) - prev; grew > 0 {
		m.metrics.FramesIngested.Add(float64(grew))
	}
}

func (m *monitor) beginScan(meta map[string]any) {
	m.mu.Lock()
	m.frames = nil
	m.latest = nil
	m.lastErr = ""
	m.dirty = false
	m.runID = uuid.NewString()
	m.started = time.Now().UTC()
	m.scanStart = meta
	m.scanEnd = nil
	m.mu.Unlock()
	m.metrics.CurvePoints.Set(0)
	m.send(server.ScanEvent{Type: "scan_start", At: time.Now().UTC(), Meta: meta})
	m.log.Info().Interface("meta", meta).Msg("scan started")
}

func (m *monitor) endScan(ctx context.Context, meta map[string]any) {
	m.mu.Lock()
	m.scanEnd = meta
	m.mu.Unlock()
	m.send(server.ScanEvent{Type: "scan_end", At: time.Now().UTC(), Meta: meta})
	m.log.Info().Interface("meta", meta).Msg("scan ended")
	m.rerun(ctx)
	m.writeOutputs()
}

// writeOutputs persists the final curve of a completed scan next to the
// batch command's outputs, timestamped so successive scans never clobber
// each other.
func (m *monitor) writeOutputs() {
	m.mu.Lock()
	update := m.latest
	run := output.RunMetadata{
		RunID:   m.runID,
		Started: m.started,
		Source:  m.sourceLabel(),
	}
	m.mu.Unlock()
	if update == nil {
		return
	}
	run.Finished = time.Now().UTC()
	run.Frames = update.Frames
	run.Points = update.Points
	run.Flagged = output.CountFlags(update.Curve)
	run.Config = m.cfg

	if err := os.MkdirAll(m.cfg.Output.Dir, 0o755); err != nil {
		m.log.Warn().Err(err).Msg("output dir create failed")
		return
	}
	stamp := time.Now().Format("20060102_150405")
	base := filepath.Join(m.cfg.Output.Dir, fmt.Sprintf("%s_%s", m.cfg.Output.Basename, stamp))
	if err := output.WriteCurveCSV(base+".csv", update.Curve); err != nil {
		m.log.Warn().Err(err).Msg("curve write failed")
		return
	}
	if err := output.WriteRunJSON(base+".json", output.RunDocument{Run: run, Curve: update.Curve}); err != nil {
		m.log.Warn().Err(err).Msg("run document write failed")
		return
	}
	m.log.Info().Str("csv", base+".csv").Str("json", base+".json").Msg("scan outputs written")
}

func (m *monitor) takeDirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	dirty := m.dirty
	m.dirty = false
	return dirty
}

func (m *monitor) snapshotFrames() ([]types.FrameRecord, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.FrameRecord(nil), m.frames...), m.runID
}

// send never blocks; a slow viewer misses an update and catches up on the
// next one.
func (m *monitor) send(message any) {
	select {
	case m.messages <- message:
	default:
		m.log.Debug().Msg("viewer channel full, update dropped")
	}
}

func (m *monitor) status() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload := map[string]any{
		"source":          m.cfg.Monitor.Source,
		"run_id":          m.runID,
		"started":         m.started.Format(time.RFC3339),
		"frames_buffered": len(m.frames),
	}
	switch m.cfg.Monitor.Source {
	case "dir":
		payload["dir"] = m.cfg.Data.Dir
	case "stream":
		payload["endpoint"] = m.cfg.Monitor.Endpoint
	}
	if m.latest != nil {
		payload["points"] = m.latest.Points
		payload["updated"] = m.latest.Updated.Format(time.RFC3339)
	}
	if m.lastErr != "" {
		payload["last_error"] = m.lastErr
	}
	if m.scanStart != nil {
		payload["scan_start"] = m.scanStart
	}
	if m.scanEnd != nil {
		payload["scan_end"] = m.scanEnd
	}
	return payload
}

func (m *monitor) snapshot() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return nil
	}
	return *m.latest
}

func (m *monitor) configView() map[string]any {
	cfg := m.cfg
	return map[string]any{
		"type":       "config",
		"listen":     cfg.Monitor.Listen,
		"source":     cfg.Monitor.Source,
		"signal":     cfg.ROI.Signal.String(),
		"background": cfg.ROI.Background.String(),
		"wavelength": cfg.Beam.Wavelength,
		"interval":   cfg.Monitor.Interval,
	}
}

func (m *monitor) sourceLabel() string {
	switch m.cfg.Monitor.Source {
	case "dir":
		return m.cfg.Data.Dir
	case "stream":
		return m.cfg.Monitor.Endpoint
	default:
		return "simulator"
	}
}

func normalizeMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	if normalized, ok := output.NormalizeJSONValue(meta).(map[string]any); ok {
		return normalized
	}
	return meta
}
