package output

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

func sampleCurve() types.ReflectivityCurve {
	return types.ReflectivityCurve{
		{Q: 0.01, R: 1.0, RVar: 0.0025, NFrames: 3},
		{Q: 0.02, R: 0.5, RVar: 0.0004, NFrames: 3, Flags: types.FlagZeroVariance},
		{Q: 0.03, R: 0.1, RVar: 0.0001, NFrames: 6, Flags: types.FlagDuplicate | types.FlagHighScatter},
	}
}

func TestWriteCurveCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curve.csv")
	require.NoError(t, WriteCurveCSV(path, sampleCurve()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "q,r,r_err,n_frames,flags", lines[0])

	fields := strings.Split(lines[1], ",")
	require.Len(t, fields, 5)
	assert.Equal(t, "1.000000000e-02", fields[0])
	assert.Equal(t, "5.000000000e-02", fields[2]) // sqrt(0.0025)
	assert.Equal(t, "3", fields[3])
	assert.Equal(t, "", fields[4])

	assert.True(t, strings.HasSuffix(lines[2], "zero_variance"))
	assert.True(t, strings.HasSuffix(lines[3], "high_scatter|duplicate"))
}

func TestWriteRunJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	meta := NewRunMetadata("/data/scan42")
	meta.Finished = meta.Started.Add(time.Second)
	meta.Frames = 9
	curve := sampleCurve()
	meta.Points = len(curve)
	meta.Flagged = CountFlags(curve)

	require.NoError(t, WriteRunJSON(path, RunDocument{Run: meta, Curve: curve}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded struct {
		Run struct {
			RunID   string         `json:"run_id"`
			Source  string         `json:"source"`
			Frames  int            `json:"frames"`
			Points  int            `json:"points"`
			Flagged map[string]int `json:"flagged"`
		} `json:"run"`
		Curve []struct {
			Q     float64  `json:"q"`
			Flags []string `json:"flags"`
		} `json:"curve"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.NotEmpty(t, decoded.Run.RunID)
	assert.Equal(t, "/data/scan42", decoded.Run.Source)
	assert.Equal(t, 9, decoded.Run.Frames)
	assert.Equal(t, 3, decoded.Run.Points)
	assert.Equal(t, 1, decoded.Run.Flagged["duplicate"])
	require.Len(t, decoded.Curve, 3)
	assert.Equal(t, []string{"high_scatter", "duplicate"}, decoded.Curve[2].Flags)
}

func TestCountFlags(t *testing.T) {
	counts := CountFlags(sampleCurve())
	assert.Equal(t, map[string]int{
		"zero_variance": 1,
		"high_scatter":  1,
		"duplicate":     1,
	}, counts)

	assert.Nil(t, CountFlags(types.ReflectivityCurve{{Q: 0.01, R: 1}}))
}

func TestNormalizeJSONValue(t *testing.T) {
	in := map[string]any{
		"meta": map[any]any{
			uint64(1): "one",
			"nested":  []any{uint64(2), []byte{0x01, 0x02}},
		},
		"tagged": cbor.Tag{Number: 70, Content: []byte{0xff}},
	}

	got := NormalizeJSONValue(in)

	// The result must survive plain JSON encoding.
	data, err := json.Marshal(got)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	meta := decoded["meta"].(map[string]any)
	assert.Equal(t, "one", meta["1"])
	nested := meta["nested"].([]any)
	assert.Equal(t, "AQI=", nested[1])
	tagged := decoded["tagged"].(map[string]any)
	assert.Equal(t, float64(70), tagged["tag"])
}

func TestRawLogRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRawLogWriter(dir, "stream")
	require.NoError(t, err)

	payloads := [][]byte{
		[]byte("first"),
		{},
		[]byte("third payload"),
	}
	for _, p := range payloads {
		require.NoError(t, w.Record(p))
	}
	require.NoError(t, w.Close())

	r, err := OpenRawLog(w.Path())
	require.NoError(t, err)
	defer r.Close()

	for i, want := range payloads {
		rec, err := r.Next()
		require.NoError(t, err, "record %d", i)
		assert.Equal(t, want, rec.Payload, "record %d", i)
		assert.False(t, rec.Timestamp.IsZero(), "record %d", i)
	}
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRawLogWriterClosed(t *testing.T) {
	w, err := NewRawLogWriter(t.TempDir(), "stream")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close()) // idempotent
	assert.Error(t, w.Record([]byte("late")))
}

func TestOpenRawLogRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.bin")
	require.NoError(t, os.WriteFile(path, []byte("NOTMAGIC rest"), 0o644))
	_, err := OpenRawLog(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magic")
}
