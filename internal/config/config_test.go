package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/reduce"
	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "*.fits", cfg.Data.Pattern)
	assert.Equal(t, types.Rect{X0: 24, Y0: 24, X1: 40, Y1: 40}, cfg.ROI.Signal)
	assert.False(t, cfg.ROI.Signal.Overlaps(cfg.ROI.Background))
	assert.Equal(t, float64(reduce.DefaultAngleTol), cfg.Reduce.AngleTolerance)
	assert.Equal(t, "THETA", cfg.Fits.Angle)
	assert.Equal(t, "dir", cfg.Monitor.Source)
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pyref.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestApplyFileOverlaysDefaults(t *testing.T) {
	path := writeConfigFile(t, `
[data]
dir = "/scans/run7"

[roi]
signal = { x0 = 10, y0 = 10, x1 = 20, y1 = 20 }

[reduce]
angle_tolerance = 0.002

[monitor]
source = "sim"
interval = 0.25

[[simulate.segments]]
start = 0.1
end = 0.5
step = 0.1
attenuation = 10
frames = 3
`)

	cfg := Default()
	require.NoError(t, cfg.ApplyFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/scans/run7", cfg.Data.Dir)
	assert.Equal(t, types.Rect{X0: 10, Y0: 10, X1: 20, Y1: 20}, cfg.ROI.Signal)
	assert.Equal(t, 0.002, cfg.Reduce.AngleTolerance)
	assert.Equal(t, "sim", cfg.Monitor.Source)
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.RerunInterval())
	require.Len(t, cfg.Simulate.Segments, 1)
	assert.Equal(t, SimSegment{Start: 0.1, End: 0.5, Step: 0.1, Attenuation: 10, Frames: 3}, cfg.Simulate.Segments[0])

	// Keys the file does not mention keep their defaults.
	assert.Equal(t, "*.fits", cfg.Data.Pattern)
	assert.Equal(t, ":8080", cfg.Monitor.Listen)
	assert.Equal(t, float64(reduce.DefaultQTol), cfg.Reduce.QMergeTolerance)
}

func TestApplyFileRejectsBadTOML(t *testing.T) {
	path := writeConfigFile(t, "data = not toml")
	cfg := Default()
	require.Error(t, cfg.ApplyFile(path))
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PYREF_MONITOR_LISTEN", ":9999")
	t.Setenv("PYREF_ROI_SIGNAL", "2,2,6,6")
	t.Setenv("PYREF_REDUCE_ANGLE_TOLERANCE", "0.01")
	t.Setenv("PYREF_FITS_AUX", "BEAMCUR,HOS")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, ":9999", cfg.Monitor.Listen)
	assert.Equal(t, types.Rect{X0: 2, Y0: 2, X1: 6, Y1: 6}, cfg.ROI.Signal)
	assert.Equal(t, 0.01, cfg.Reduce.AngleTolerance)
	assert.Equal(t, []string{"BEAMCUR", "HOS"}, cfg.Fits.Aux)
}

func TestApplyEnvRejectsBadRect(t *testing.T) {
	t.Setenv("PYREF_ROI_SIGNAL", "not-a-rect")
	cfg := Default()
	require.Error(t, cfg.ApplyEnv())
}

// Environment variables override the file, which overrides the defaults.
func TestPrecedence(t *testing.T) {
	path := writeConfigFile(t, `
[monitor]
listen = ":7070"
source = "sim"
`)
	t.Setenv("PYREF_MONITOR_LISTEN", ":9090")

	cfg := Default()
	require.NoError(t, cfg.ApplyFile(path))
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, ":9090", cfg.Monitor.Listen)
	assert.Equal(t, "sim", cfg.Monitor.Source)
	assert.Equal(t, "*.fits", cfg.Data.Pattern)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty signal roi", func(c *Config) { c.ROI.Signal = types.Rect{} }, "signal roi"},
		{"empty background roi", func(c *Config) { c.ROI.Background = types.Rect{X0: 5, Y0: 5, X1: 5, Y1: 9} }, "background roi"},
		{"overlapping rois", func(c *Config) { c.ROI.Background = c.ROI.Signal }, "overlaps"},
		{"negative wavelength", func(c *Config) { c.Beam.Wavelength = -1 }, "wavelength"},
		{"negative tolerance", func(c *Config) { c.Reduce.OverlapTolerance = -0.1 }, "overlap_tolerance"},
		{"unknown source", func(c *Config) { c.Monitor.Source = "tape" }, "monitor source"},
		{"stream without endpoint", func(c *Config) { c.Monitor.Source = "stream"; c.Monitor.Endpoint = "" }, "endpoint"},
		{"zero interval", func(c *Config) { c.Monitor.Interval = 0 }, "interval"},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestPipelineOptions(t *testing.T) {
	cfg := Default()
	cfg.Beam.Wavelength = 12.4
	cfg.Reduce.Workers = 3
	cfg.Reduce.OutlierK = 5

	opts := cfg.PipelineOptions()
	assert.Equal(t, cfg.ROI.Signal, opts.SignalROI)
	assert.Equal(t, cfg.ROI.Background, opts.BackgroundROI)
	assert.Equal(t, 12.4, opts.Wavelength)
	assert.Equal(t, reduce.Tolerance(cfg.Reduce.AngleTolerance), opts.AngleTol)
	assert.Equal(t, 5.0, opts.OutlierK)
	assert.Equal(t, 3, opts.Workers)
}

func TestSimParams(t *testing.T) {
	cfg := Default()
	cfg.Simulate.Width = 32
	cfg.Simulate.Height = 32
	cfg.Simulate.FramesPerAngle = 4
	cfg.Simulate.Segments = []SimSegment{
		{Start: 0.1, End: 0.5, Step: 0.1, Attenuation: 10},
		{Start: 0.4, End: 2.0, Step: 0.2, Attenuation: 1, Frames: 2},
	}

	p := cfg.SimParams()
	assert.Equal(t, 32, p.Width)
	assert.Equal(t, cfg.ROI.Signal, p.SignalROI)
	require.Len(t, p.Segments, 2)
	// Per-segment frame counts win over the shared frames_per_angle.
	assert.Equal(t, 4, p.Segments[0].Frames)
	assert.Equal(t, 2, p.Segments[1].Frames)
	assert.Equal(t, 10.0, p.Segments[0].Attenuation)
}

func TestKeyMap(t *testing.T) {
	cfg := Default()
	cfg.Fits.Angle = "SAMTH"
	keys := cfg.Fits.KeyMap()
	assert.Equal(t, "SAMTH", keys.Angle)
	assert.Equal(t, "EXPOSURE", keys.Exposure)

	// The key map owns its aux slice.
	keys.Aux[0] = "CHANGED"
	assert.NotEqual(t, keys.Aux[0], cfg.Fits.Aux[0])
}
