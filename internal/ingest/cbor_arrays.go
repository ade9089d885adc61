package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// RFC 8746 tags used by the acquisition stream. Typed arrays are
// little-endian on the wire.
const (
	tagMultiDimArray = 40
	tagUint8         = 64
	tagUint16LE      = 69
	tagUint32LE      = 70
	tagFloat32LE     = 85
)

// decodeCounts decodes a multi-dimensional array tag into a counts matrix.
// Dimensions are [rows, cols]; elements are row major.
func decodeCounts(value any) (types.Counts, error) {
	tag, ok := value.(cbor.Tag)
	if !ok || tag.Number != tagMultiDimArray {
		return types.Counts{}, fmt.Errorf("expected multidim tag %d", tagMultiDimArray)
	}

	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return types.Counts{}, errors.New("invalid multidim array content")
	}

	dimsRaw, ok := items[0].([]any)
	if !ok || len(dimsRaw) != 2 {
		return types.Counts{}, errors.New("invalid multidim dimensions")
	}
	rows, err := toInt(dimsRaw[0])
	if err != nil {
		return types.Counts{}, err
	}
	cols, err := toInt(dimsRaw[1])
	if err != nil {
		return types.Counts{}, err
	}
	if rows <= 0 || cols <= 0 {
		return types.Counts{}, fmt.Errorf("invalid dimensions %dx%d", rows, cols)
	}

	pix, err := decodeTypedArray(items[1])
	if err != nil {
		return types.Counts{}, err
	}
	if rows*cols != len(pix) {
		return types.Counts{}, fmt.Errorf("dimension mismatch: %dx%d vs %d elements", rows, cols, len(pix))
	}
	return types.Counts{Width: cols, Height: rows, Pix: pix}, nil
}

// decodeTypedArray decodes a typed array tag into float64 counts.
func decodeTypedArray(value any) ([]float64, error) {
	tag, ok := value.(cbor.Tag)
	if !ok {
		return nil, errors.New("expected typed array tag")
	}
	data, ok := tag.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("unsupported typed array content %T", tag.Content)
	}

	switch tag.Number {
	case tagUint8:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	case tagUint16LE:
		out := make([]float64, len(data)/2)
		for i := range out {
			out[i] = float64(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		}
		return out, nil
	case tagUint32LE:
		out := make([]float64, len(data)/4)
		for i := range out {
			out[i] = float64(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
		}
		return out, nil
	case tagFloat32LE:
		out := make([]float64, len(data)/4)
		for i := range out {
			bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
			out[i] = float64(math.Float32frombits(bits))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported typed array tag %d", tag.Number)
	}
}

// encodeCounts represents a matrix as a multi-dimensional array tag with
// uint32 little-endian elements, clamping negative counts to zero.
func encodeCounts(c types.Counts) cbor.Tag {
	data := make([]byte, 4*len(c.Pix))
	for i, v := range c.Pix {
		n := int64(math.Round(v))
		if n < 0 {
			n = 0
		}
		binary.LittleEndian.PutUint32(data[i*4:], uint32(n))
	}
	return cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{c.Height, c.Width},
			cbor.Tag{Number: tagUint32LE, Content: data},
		},
	}
}
