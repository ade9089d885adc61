package simulator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/fits"
)

// WriteScan lays the scan down as one FITS file per frame, named
// frame-00000.fits onward, and returns the number written.
func WriteScan(dir string, p Params, keys fits.KeyMap) (int, error) {
	frames, err := Scan(p)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("simulator: %w", err)
	}
	for i, frame := range frames {
		name := fmt.Sprintf("frame-%05d.fits", i)
		if err := fits.WriteFrame(filepath.Join(dir, name), frame, keys); err != nil {
			return i, err
		}
	}
	return len(frames), nil
}
