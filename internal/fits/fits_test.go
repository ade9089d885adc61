package fits

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

func testFrame() types.FrameRecord {
	img := types.NewCounts(4, 3)
	for i := range img.Pix {
		img.Pix[i] = float64(10 * (i + 1))
	}
	return types.FrameRecord{
		Image:       img,
		Angle:       1.25,
		Exposure:    2.0,
		Attenuation: 10,
		Energy:      1200,
		Acquired:    time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Aux:         map[string]float64{"BEAMCUR": 498.2, "HOS": 11.5},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame-000.fits")
	keys := DefaultKeyMap()
	want := testFrame()

	require.NoError(t, WriteFrame(path, want, keys))

	got, err := ReadFrame(path, keys)
	require.NoError(t, err)

	assert.Equal(t, want.Image.Width, got.Image.Width)
	assert.Equal(t, want.Image.Height, got.Image.Height)
	assert.Equal(t, want.Image.Pix, got.Image.Pix)
	assert.InDelta(t, want.Angle, got.Angle, 1e-9)
	assert.InDelta(t, want.Exposure, got.Exposure, 1e-9)
	assert.InDelta(t, want.Attenuation, got.Attenuation, 1e-9)
	assert.InDelta(t, want.Energy, got.Energy, 1e-9)
	assert.True(t, want.Acquired.Equal(got.Acquired), "acquired: want %v, got %v", want.Acquired, got.Acquired)
	assert.Equal(t, path, got.Source)
	require.NotNil(t, got.Aux)
	assert.InDelta(t, 498.2, got.Aux["BEAMCUR"], 1e-9)
	assert.InDelta(t, 11.5, got.Aux["HOS"], 1e-9)
}

func TestReadFrameWithoutEnergy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.fits")
	frame := testFrame()
	frame.Energy = 0
	frame.Aux = nil
	require.NoError(t, WriteFrame(path, frame, DefaultKeyMap()))

	got, err := ReadFrame(path, DefaultKeyMap())
	require.NoError(t, err)
	assert.Zero(t, got.Energy)
	assert.Nil(t, got.Aux)
}

// writeBareFITS writes a minimal 2x2 image file with only the given cards,
// for exercising the reader's validation paths.
func writeBareFITS(t *testing.T, path string, cards []fitsio.Card) {
	t.Helper()
	w, err := os.Create(path)
	require.NoError(t, err)
	f, err := fitsio.Create(w)
	require.NoError(t, err)
	img := fitsio.NewImage(32, []int{2, 2})
	require.NoError(t, img.Header().Append(cards...))
	data := []int32{1, 2, 3, 4}
	require.NoError(t, img.Write(&data))
	require.NoError(t, f.Write(img))
	require.NoError(t, img.Close())
	require.NoError(t, f.Close())
	require.NoError(t, w.Close())
}

func TestReadFrameMissingCard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bare.fits")
	writeBareFITS(t, path, []fitsio.Card{
		{Name: "EXPOSURE", Value: 1.0},
		{Name: "ATTEN", Value: 1.0},
	})

	_, err := ReadFrame(path, DefaultKeyMap())
	var missing *MissingKeyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "THETA", missing.Key)
	assert.Equal(t, path, missing.Path)
}

func TestReadFrameRejectsBadMetadata(t *testing.T) {
	tests := []struct {
		name  string
		cards []fitsio.Card
		want  string
	}{
		{
			name: "zero exposure",
			cards: []fitsio.Card{
				{Name: "THETA", Value: 0.5},
				{Name: "EXPOSURE", Value: 0.0},
				{Name: "ATTEN", Value: 1.0},
			},
			want: "exposure",
		},
		{
			name: "attenuation below one",
			cards: []fitsio.Card{
				{Name: "THETA", Value: 0.5},
				{Name: "EXPOSURE", Value: 1.0},
				{Name: "ATTEN", Value: 0.5},
			},
			want: "attenuation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.fits")
			writeBareFITS(t, path, tt.cards)
			_, err := ReadFrame(path, DefaultKeyMap())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadFrameTimestampFallsBackToModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notime.fits")
	writeBareFITS(t, path, []fitsio.Card{
		{Name: "THETA", Value: 0.5},
		{Name: "EXPOSURE", Value: 1.0},
		{Name: "ATTEN", Value: 1.0},
	})
	mtime := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	got, err := ReadFrame(path, DefaultKeyMap())
	require.NoError(t, err)
	assert.True(t, got.Acquired.Equal(mtime), "acquired: want %v, got %v", mtime, got.Acquired)
}

func TestDecodePixels(t *testing.T) {
	// 16-bit big endian: 1, -1.
	raw := []byte{0x00, 0x01, 0xff, 0xff}
	pix, err := decodePixels(raw, 16, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -1}, pix)

	_, err = decodePixels(raw, 16, 3)
	require.Error(t, err)

	_, err = decodePixels(raw, 24, 1)
	require.Error(t, err)
}

func TestReadHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.fits")
	require.NoError(t, WriteFrame(path, testFrame(), DefaultKeyMap()))

	dumps, err := ReadHeaders(path)
	require.NoError(t, err)
	require.NotEmpty(t, dumps)

	names := map[string]bool{}
	for _, dump := range dumps {
		for _, card := range dump.Cards {
			names[card.Name] = true
		}
	}
	for _, want := range []string{"THETA", "EXPOSURE", "ATTEN", "ENERGY", "DATE-OBS"} {
		assert.True(t, names[want], "missing card %s", want)
	}
}

func TestParseExperiment(t *testing.T) {
	tests := []struct {
		in      string
		want    Experiment
		wantErr bool
	}{
		{in: "xrr", want: ExperimentXRR},
		{in: "XRR", want: ExperimentXRR},
		{in: "xrs", want: ExperimentXRS},
		{in: "other", want: ExperimentOther},
		{in: "", want: ExperimentOther},
		{in: "nexafs", want: ExperimentOther, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseExperiment(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestExperimentRelevant(t *testing.T) {
	keys := DefaultKeyMap()
	assert.True(t, ExperimentXRR.Relevant(keys, "theta"))
	assert.True(t, ExperimentXRR.Relevant(keys, "EPUPOL"))
	assert.False(t, ExperimentXRR.Relevant(keys, "NAXIS"))
	assert.True(t, ExperimentXRS.Relevant(keys, "ENERGY"))
	assert.False(t, ExperimentXRS.Relevant(keys, "THETA"))
	assert.True(t, ExperimentOther.Relevant(keys, "ANYTHING"))
}
