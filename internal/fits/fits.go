// Package fits reads and writes the CCD frame files produced by the
// reflectometry beamline. Frames carry the detector image in an image HDU
// and the acquisition metadata (motor angles, exposure, attenuation, beam
// energy, timestamp) as header cards.
package fits

import (
	"fmt"
	"strconv"
	"time"
)

// KeyMap names the header cards the reduction needs. Card names follow the
// FITS standard (uppercase, at most eight characters); acquisitions that
// write different names override the map through configuration.
type KeyMap struct {
	Angle       string   // sample theta, degrees
	Exposure    string   // exposure time, seconds
	Energy      string   // beamline energy, eV
	Attenuation string   // beam attenuation factor
	Date        string   // acquisition timestamp
	Aux         []string // extra numeric cards preserved on the frame
}

// DefaultKeyMap returns the card names written by the beamline acquisition
// and by this package's own writer.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Angle:       "THETA",
		Exposure:    "EXPOSURE",
		Energy:      "ENERGY",
		Attenuation: "ATTEN",
		Date:        "DATE-OBS",
		Aux:         []string{"CCDTHETA", "BEAMCUR", "EPUPOL", "EXITSLIT", "HOS"},
	}
}

// MissingKeyError reports a required header card absent from a frame file.
type MissingKeyError struct {
	Path string
	Key  string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("fits: %s: missing required card %q", e.Path, e.Key)
}

// fitsTime is the FITS standard timestamp layout for DATE-OBS cards.
const fitsTime = "2006-01-02T15:04:05"

var timeLayouts = []string{
	fitsTime,
	"2006-01-02T15:04:05.999999999",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// cardFloat coerces a header card value into a float64. FITS parsers hand
// back int, float or string depending on how the card was written.
func cardFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
