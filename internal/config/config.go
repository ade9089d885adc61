// Package config holds the application configuration shared by every
// command. Values layer in precedence order: built-in defaults, then a
// TOML file, then PYREF_* environment variables, then command-line flags.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/fits"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/reduce"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/simulator"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// Config is the complete application configuration.
type Config struct {
	Data     DataConfig     `toml:"data" json:"data"`
	ROI      ROIConfig      `toml:"roi" json:"roi"`
	Beam     BeamConfig     `toml:"beam" json:"beam"`
	Reduce   ReduceConfig   `toml:"reduce" json:"reduce"`
	Output   OutputConfig   `toml:"output" json:"output"`
	Monitor  MonitorConfig  `toml:"monitor" json:"monitor"`
	Fits     FitsConfig     `toml:"fits" json:"fits"`
	Simulate SimulateConfig `toml:"simulate" json:"simulate"`
	Log      LogConfig      `toml:"log" json:"log"`
}

// DataConfig locates the frame files of a scan.
type DataConfig struct {
	Dir     string `toml:"dir" json:"dir"`
	Pattern string `toml:"pattern" json:"pattern"`
}

// ROIConfig places the two detector regions. Regions are half-open pixel
// boxes; environment variables take the "x0,y0,x1,y1" form.
type ROIConfig struct {
	Signal     types.Rect `toml:"signal" json:"signal"`
	Background types.Rect `toml:"background" json:"background"`
}

// BeamConfig describes the incident beam.
type BeamConfig struct {
	// Wavelength in Angstrom. Zero derives the wavelength from each
	// frame's recorded beamline energy instead.
	Wavelength float64 `toml:"wavelength" json:"wavelength"`
}

// ReduceConfig tunes the reduction stages. Zero values fall back to the
// pipeline defaults.
type ReduceConfig struct {
	AngleTolerance       float64 `toml:"angle_tolerance" json:"angle_tolerance" envconfig:"ANGLE_TOLERANCE"` // degrees
	AttenuationTolerance float64 `toml:"attenuation_tolerance" json:"attenuation_tolerance" envconfig:"ATTENUATION_TOLERANCE"`
	OverlapTolerance     float64 `toml:"overlap_tolerance" json:"overlap_tolerance" envconfig:"OVERLAP_TOLERANCE"` // degrees
	QMergeTolerance      float64 `toml:"q_merge_tolerance" json:"q_merge_tolerance" envconfig:"Q_MERGE_TOLERANCE"` // 1/Angstrom
	OutlierK             float64 `toml:"outlier_k" json:"outlier_k" envconfig:"OUTLIER_K"`
	Workers              int     `toml:"workers" json:"workers"`
}

// OutputConfig names the reduction products.
type OutputConfig struct {
	Dir      string `toml:"dir" json:"dir"`
	Basename string `toml:"basename" json:"basename"`
}

// MonitorConfig configures the live monitor. Intervals are in seconds.
type MonitorConfig struct {
	Listen   string  `toml:"listen" json:"listen"`
	Source   string  `toml:"source" json:"source"`     // dir, stream or sim
	Endpoint string  `toml:"endpoint" json:"endpoint"` // ZMQ endpoint for the stream source
	Record   bool    `toml:"record" json:"record"`     // log raw stream payloads to disk
	Interval float64 `toml:"interval" json:"interval"` // seconds between reduction passes
	Debounce float64 `toml:"debounce" json:"debounce"` // seconds of directory quiet before reload
}

// RerunInterval returns the reduction pass period as a duration.
func (c MonitorConfig) RerunInterval() time.Duration {
	return time.Duration(c.Interval * float64(time.Second))
}

// DebounceDelay returns the directory settle delay as a duration.
func (c MonitorConfig) DebounceDelay() time.Duration {
	return time.Duration(c.Debounce * float64(time.Second))
}

// FitsConfig maps header card names to frame metadata, for beamlines
// that label their cards differently.
type FitsConfig struct {
	Angle       string   `toml:"angle" json:"angle"`
	Exposure    string   `toml:"exposure" json:"exposure"`
	Energy      string   `toml:"energy" json:"energy"`
	Attenuation string   `toml:"attenuation" json:"attenuation"`
	Date        string   `toml:"date" json:"date"`
	Aux         []string `toml:"aux" json:"aux"`
}

// KeyMap converts the section to the reader's key map.
func (c FitsConfig) KeyMap() fits.KeyMap {
	return fits.KeyMap{
		Angle:       c.Angle,
		Exposure:    c.Exposure,
		Energy:      c.Energy,
		Attenuation: c.Attenuation,
		Date:        c.Date,
		Aux:         append([]string(nil), c.Aux...),
	}
}

// SimulateConfig shapes the synthetic scans of the simulate command and
// the monitor's sim source.
type SimulateConfig struct {
	Width          int          `toml:"width" json:"width"`
	Height         int          `toml:"height" json:"height"`
	Flux           float64      `toml:"flux" json:"flux"`
	Background     float64      `toml:"background" json:"background"`
	CriticalQ      float64      `toml:"critical_q" json:"critical_q" envconfig:"CRITICAL_Q"`
	Exposure       float64      `toml:"exposure" json:"exposure"`
	Seed           int64        `toml:"seed" json:"seed"`
	FramesPerAngle int          `toml:"frames_per_angle" json:"frames_per_angle" envconfig:"FRAMES_PER_ANGLE"`
	Interval       float64      `toml:"interval" json:"interval"` // seconds between streamed frames
	Segments       []SimSegment `toml:"segments" json:"segments,omitempty"`
}

// FrameInterval returns the streaming frame period as a duration.
func (c SimulateConfig) FrameInterval() time.Duration {
	return time.Duration(c.Interval * float64(time.Second))
}

// SimSegment is one attenuator setting's angular range in a scan plan.
type SimSegment struct {
	Start       float64 `toml:"start" json:"start"`
	End         float64 `toml:"end" json:"end"`
	Step        float64 `toml:"step" json:"step"`
	Attenuation float64 `toml:"attenuation" json:"attenuation"`
	Frames      int     `toml:"frames" json:"frames"`
}

// LogConfig controls diagnostic output.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`   // trace, debug, info, warn or error
	Format string `toml:"format" json:"format"` // console or json
}

// Default returns the built-in configuration. The regions match the
// simulator's 64x64 default frames so a fresh checkout reduces synthetic
// data without any file.
func Default() *Config {
	keys := fits.DefaultKeyMap()
	return &Config{
		Data: DataConfig{
			Pattern: "*.fits",
		},
		ROI: ROIConfig{
			Signal:     types.Rect{X0: 24, Y0: 24, X1: 40, Y1: 40},
			Background: types.Rect{X0: 4, Y0: 24, X1: 20, Y1: 40},
		},
		Reduce: ReduceConfig{
			AngleTolerance:       float64(reduce.DefaultAngleTol),
			AttenuationTolerance: float64(reduce.DefaultAttenTol),
			OverlapTolerance:     float64(reduce.DefaultOverlapTol),
			QMergeTolerance:      float64(reduce.DefaultQTol),
			OutlierK:             reduce.DefaultOutlierK,
		},
		Output: OutputConfig{
			Dir:      "output",
			Basename: "xrr",
		},
		Monitor: MonitorConfig{
			Listen:   ":8080",
			Source:   "dir",
			Endpoint: "tcp://localhost:5555",
			Interval: 2,
			Debounce: 0.5,
		},
		Fits: FitsConfig{
			Angle:       keys.Angle,
			Exposure:    keys.Exposure,
			Energy:      keys.Energy,
			Attenuation: keys.Attenuation,
			Date:        keys.Date,
			Aux:         keys.Aux,
		},
		Simulate: SimulateConfig{
			Interval: 0.5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// ApplyFile overlays the TOML file at path onto c. Only keys present in
// the file change.
func (c *Config) ApplyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := toml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays PYREF_* environment variables onto c, section and
// field joined by underscores: PYREF_MONITOR_LISTEN, PYREF_ROI_SIGNAL.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process("pyref", c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Validate checks the configuration for contradictions a run would only
// hit halfway through.
func (c *Config) Validate() error {
	if c.ROI.Signal.Area() == 0 {
		return fmt.Errorf("config: signal roi %s has no pixels", c.ROI.Signal)
	}
	if c.ROI.Background.Area() == 0 {
		return fmt.Errorf("config: background roi %s has no pixels", c.ROI.Background)
	}
	if c.ROI.Signal.Overlaps(c.ROI.Background) {
		return fmt.Errorf("config: signal roi %s overlaps background roi %s", c.ROI.Signal, c.ROI.Background)
	}
	if c.Beam.Wavelength < 0 {
		return fmt.Errorf("config: wavelength must not be negative")
	}
	for _, tol := range []struct {
		name  string
		value float64
	}{
		{"angle_tolerance", c.Reduce.AngleTolerance},
		{"attenuation_tolerance", c.Reduce.AttenuationTolerance},
		{"overlap_tolerance", c.Reduce.OverlapTolerance},
		{"q_merge_tolerance", c.Reduce.QMergeTolerance},
		{"outlier_k", c.Reduce.OutlierK},
	} {
		if tol.value < 0 {
			return fmt.Errorf("config: %s must not be negative", tol.name)
		}
	}
	switch c.Monitor.Source {
	case "dir", "stream", "sim":
	default:
		return fmt.Errorf("config: monitor source %q: want dir, stream or sim", c.Monitor.Source)
	}
	if c.Monitor.Source == "stream" && c.Monitor.Endpoint == "" {
		return fmt.Errorf("config: monitor source stream needs an endpoint")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("config: monitor interval must be positive")
	}
	if c.Monitor.Debounce < 0 {
		return fmt.Errorf("config: monitor debounce must not be negative")
	}
	if c.Simulate.Interval < 0 {
		return fmt.Errorf("config: simulate interval must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: log format %q: want console or json", c.Log.Format)
	}
	return nil
}

// PipelineOptions converts the configuration to reduction options.
func (c *Config) PipelineOptions() reduce.Options {
	return reduce.Options{
		SignalROI:     c.ROI.Signal,
		BackgroundROI: c.ROI.Background,
		Wavelength:    c.Beam.Wavelength,
		AngleTol:      reduce.Tolerance(c.Reduce.AngleTolerance),
		AttenTol:      reduce.Tolerance(c.Reduce.AttenuationTolerance),
		OverlapTol:    reduce.Tolerance(c.Reduce.OverlapTolerance),
		QTol:          reduce.Tolerance(c.Reduce.QMergeTolerance),
		OutlierK:      c.Reduce.OutlierK,
		Workers:       c.Reduce.Workers,
	}
}

// SimParams converts the configuration to scan synthesis parameters. The
// signal region and beam follow the reduction settings so simulated
// frames reduce with the same configuration that made them.
func (c *Config) SimParams() simulator.Params {
	p := simulator.Params{
		Width:      c.Simulate.Width,
		Height:     c.Simulate.Height,
		SignalROI:  c.ROI.Signal,
		Flux:       c.Simulate.Flux,
		Background: c.Simulate.Background,
		CriticalQ:  c.Simulate.CriticalQ,
		Exposure:   c.Simulate.Exposure,
		Wavelength: c.Beam.Wavelength,
		Seed:       c.Simulate.Seed,
	}
	for _, s := range c.Simulate.Segments {
		frames := s.Frames
		if frames == 0 {
			frames = c.Simulate.FramesPerAngle
		}
		p.Segments = append(p.Segments, simulator.Segment{
			Start:       s.Start,
			End:         s.End,
			Step:        s.Step,
			Attenuation: s.Attenuation,
			Frames:      frames,
		})
	}
	return p
}
