package fits

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/astrogo/fitsio"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/types"
)

// WriteFrame writes a frame as a single-HDU FITS file with the image stored
// as 32-bit integers and the metadata as cards named by the key map. The
// simulator uses it to lay down scan directories the loader can read back.
func WriteFrame(path string, frame types.FrameRecord, keys KeyMap) (err error) {
	w, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fits: create %s: %w", path, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("fits: close %s: %w", path, cerr)
		}
	}()

	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("fits: create %s: %w", path, err)
	}

	img := fitsio.NewImage(32, []int{frame.Image.Width, frame.Image.Height})
	defer img.Close()

	cards := []fitsio.Card{
		{Name: keys.Angle, Value: frame.Angle, Comment: "sample theta [deg]"},
		{Name: keys.Exposure, Value: frame.Exposure, Comment: "exposure time [s]"},
		{Name: keys.Attenuation, Value: frame.Attenuation, Comment: "beam attenuation factor"},
	}
	if frame.Energy > 0 {
		cards = append(cards, fitsio.Card{Name: keys.Energy, Value: frame.Energy, Comment: "beamline energy [eV]"})
	}
	if !frame.Acquired.IsZero() {
		cards = append(cards, fitsio.Card{
			Name:    keys.Date,
			Value:   frame.Acquired.UTC().Format(fitsTime),
			Comment: "acquisition time (UTC)",
		})
	}
	aux := make([]string, 0, len(frame.Aux))
	for name := range frame.Aux {
		aux = append(aux, name)
	}
	sort.Strings(aux)
	for _, name := range aux {
		cards = append(cards, fitsio.Card{Name: name, Value: frame.Aux[name]})
	}
	if err := img.Header().Append(cards...); err != nil {
		return fmt.Errorf("fits: %s: append cards: %w", path, err)
	}

	data := make([]int32, len(frame.Image.Pix))
	for i, v := range frame.Image.Pix {
		data[i] = int32(math.Round(v))
	}
	if err := img.Write(&data); err != nil {
		return fmt.Errorf("fits: %s: write image: %w", path, err)
	}
	if err := f.Write(img); err != nil {
		return fmt.Errorf("fits: %s: write HDU: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("fits: %s: finalize: %w", path, err)
	}
	return nil
}
