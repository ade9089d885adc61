package fits

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// ReadFrame loads one CCD frame file. Metadata cards are looked up in the
// primary header first and then in the header of the image HDU itself, so
// both single-HDU files and beamline files that split metadata from pixels
// load the same way.
func ReadFrame(path string, keys KeyMap) (types.FrameRecord, error) {
	r, err := os.Open(path)
	if err != nil {
		return types.FrameRecord{}, fmt.Errorf("fits: open %s: %w", path, err)
	}
	defer r.Close()

	f, err := fitsio.Open(r)
	if err != nil {
		return types.FrameRecord{}, fmt.Errorf("fits: parse %s: %w", path, err)
	}
	defer f.Close()

	img, err := imageHDU(f)
	if err != nil {
		return types.FrameRecord{}, fmt.Errorf("fits: %s: %w", path, err)
	}
	counts, err := readCounts(img)
	if err != nil {
		return types.FrameRecord{}, fmt.Errorf("fits: %s: %w", path, err)
	}

	headers := []*fitsio.Header{f.HDU(0).Header()}
	if h := img.Header(); h != headers[0] {
		headers = append(headers, h)
	}
	lookup := func(name string) (any, bool) {
		for _, hdr := range headers {
			if card := hdr.Get(name); card != nil {
				return card.Value, true
			}
		}
		return nil, false
	}

	frame := types.FrameRecord{
		Image:       counts,
		Attenuation: 1,
		Source:      path,
	}

	angle, ok := lookupFloat(lookup, keys.Angle)
	if !ok {
		return types.FrameRecord{}, &MissingKeyError{Path: path, Key: keys.Angle}
	}
	frame.Angle = angle

	exposure, ok := lookupFloat(lookup, keys.Exposure)
	if !ok {
		return types.FrameRecord{}, &MissingKeyError{Path: path, Key: keys.Exposure}
	}
	if exposure <= 0 {
		return types.FrameRecord{}, fmt.Errorf("fits: %s: card %s: exposure must be positive, got %g", path, keys.Exposure, exposure)
	}
	frame.Exposure = exposure

	atten, ok := lookupFloat(lookup, keys.Attenuation)
	if !ok {
		return types.FrameRecord{}, &MissingKeyError{Path: path, Key: keys.Attenuation}
	}
	if atten < 1 {
		return types.FrameRecord{}, fmt.Errorf("fits: %s: card %s: attenuation must be >= 1, got %g", path, keys.Attenuation, atten)
	}
	frame.Attenuation = atten

	if energy, ok := lookupFloat(lookup, keys.Energy); ok {
		frame.Energy = energy
	}

	// A missing or malformed timestamp falls back to the file modification
	// time so directory scans still order deterministically.
	frame.Acquired = acquiredTime(lookup, keys.Date, path)

	for _, name := range keys.Aux {
		if v, ok := lookupFloat(lookup, name); ok {
			if frame.Aux == nil {
				frame.Aux = make(map[string]float64, len(keys.Aux))
			}
			frame.Aux[name] = v
		}
	}
	return frame, nil
}

func lookupFloat(lookup func(string) (any, bool), name string) (float64, bool) {
	if name == "" {
		return 0, false
	}
	v, ok := lookup(name)
	if !ok {
		return 0, false
	}
	return cardFloat(v)
}

func acquiredTime(lookup func(string) (any, bool), key, path string) time.Time {
	if v, ok := lookup(key); ok {
		if s, ok := v.(string); ok {
			if t, ok := parseTime(s); ok {
				return t
			}
		}
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime().UTC()
	}
	return time.Time{}
}

// imageHDU finds the first two dimensional image extension in the file.
func imageHDU(f *fitsio.File) (fitsio.Image, error) {
	for _, hdu := range f.HDUs() {
		img, ok := hdu.(fitsio.Image)
		if !ok {
			continue
		}
		axes := img.Header().Axes()
		if len(axes) == 2 && axes[0] > 0 && axes[1] > 0 {
			return img, nil
		}
	}
	return nil, fmt.Errorf("no 2-D image HDU")
}

// readCounts decodes the image HDU's data block into a float64 matrix,
// applying the BSCALE/BZERO linear scaling when those cards are present.
// FITS stores pixels big-endian, row major, with NAXIS1 the fast axis.
func readCounts(img fitsio.Image) (types.Counts, error) {
	hdr := img.Header()
	axes := hdr.Axes()
	width, height := axes[0], axes[1]
	n := width * height

	bscale, bzero := 1.0, 0.0
	if card := hdr.Get("BSCALE"); card != nil {
		if v, ok := cardFloat(card.Value); ok {
			bscale = v
		}
	}
	if card := hdr.Get("BZERO"); card != nil {
		if v, ok := cardFloat(card.Value); ok {
			bzero = v
		}
	}

	raw := img.Raw()
	pix, err := decodePixels(raw, hdr.Bitpix(), n)
	if err != nil {
		return types.Counts{}, err
	}
	if bscale != 1 || bzero != 0 {
		for i := range pix {
			pix[i] = bzero + bscale*pix[i]
		}
	}
	return types.Counts{Width: width, Height: height, Pix: pix}, nil
}

func decodePixels(raw []byte, bitpix, n int) ([]float64, error) {
	size := bitpix / 8
	if size < 0 {
		size = -size
	}
	if len(raw) < n*size {
		return nil, fmt.Errorf("image data truncated: need %d bytes, have %d", n*size, len(raw))
	}
	out := make([]float64, n)
	switch bitpix {
	case 8:
		for i := 0; i < n; i++ {
			out[i] = float64(raw[i])
		}
	case 16:
		for i := 0; i < n; i++ {
			out[i] = float64(int16(binary.BigEndian.Uint16(raw[2*i:])))
		}
	case 32:
		for i := 0; i < n; i++ {
			out[i] = float64(int32(binary.BigEndian.Uint32(raw[4*i:])))
		}
	case 64:
		for i := 0; i < n; i++ {
			out[i] = float64(int64(binary.BigEndian.Uint64(raw[8*i:])))
		}
	case -32:
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(raw[4*i:])))
		}
	case -64:
		for i := 0; i < n; i++ {
			out[i] = math.Float64frombits(binary.BigEndian.Uint64(raw[8*i:]))
		}
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}
	return out, nil
}
