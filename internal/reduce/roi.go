package reduce

import (
	"fmt"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// Reduce computes the background-subtracted region sum of one frame.
// The background region's mean count per pixel, scaled by the signal
// region's pixel count, estimates the background under the signal. Poisson
// statistics give var(sum of counts) = sum of counts; the scaled background
// variance picks up the square of the area ratio, and the subtraction adds
// the two variances.
func Reduce(frame types.FrameRecord, signal, background types.Rect) (types.ROIResult, error) {
	width, height := frame.Image.Width, frame.Image.Height
	regions := []struct {
		name string
		rect types.Rect
	}{
		{"signal", signal},
		{"background", background},
	}
	for _, reg := range regions {
		if reg.rect.Area() == 0 {
			return types.ROIResult{}, &EmptyRegionError{Frame: frame.Source, Region: reg.name}
		}
		if !reg.rect.Inside(width, height) {
			return types.ROIResult{}, &GeometryError{
				Frame:  frame.Source,
				Reason: fmt.Sprintf("%s roi %s outside %dx%d frame", reg.name, reg.rect, width, height),
			}
		}
	}
	if signal.Overlaps(background) {
		return types.ROIResult{}, &GeometryError{
			Frame:  frame.Source,
			Reason: fmt.Sprintf("signal roi %s overlaps background roi %s", signal, background),
		}
	}

	rawSignal := frame.Image.SumRect(signal)
	rawBackground := frame.Image.SumRect(background)
	scale := float64(signal.Area()) / float64(background.Area())

	scaledBackground := rawBackground * scale
	scaledBackgroundVar := clampVar(rawBackground) * scale * scale
	return types.ROIResult{
		Signal:        rawSignal - scaledBackground,
		SignalVar:     clampVar(rawSignal) + scaledBackgroundVar,
		Background:    scaledBackground,
		BackgroundVar: scaledBackgroundVar,
	}, nil
}

func clampVar(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
