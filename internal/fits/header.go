package fits

import (
	"fmt"
	"os"

	"github.com/astrogo/fitsio"
)

// Card is one header entry from a frame file.
type Card struct {
	Name    string
	Value   any
	Comment string
}

// HeaderDump holds the cards of a single HDU.
type HeaderDump struct {
	Index int
	Name  string
	Cards []Card
}

// ReadHeaders returns every header card in the file, one dump per HDU, in
// file order. It is the backing for the headers inspection command and does
// not touch pixel data.
func ReadHeaders(path string) ([]HeaderDump, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fits: open %s: %w", path, err)
	}
	defer r.Close()

	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("fits: parse %s: %w", path, err)
	}
	defer f.Close()

	var dumps []HeaderDump
	for i, hdu := range f.HDUs() {
		hdr := hdu.Header()
		dump := HeaderDump{Index: i, Name: hdu.Name()}
		for _, name := range hdr.Keys() {
			card := hdr.Get(name)
			if card == nil {
				continue
			}
			dump.Cards = append(dump.Cards, Card{Name: card.Name, Value: card.Value, Comment: card.Comment})
		}
		dumps = append(dumps, dump)
	}
	return dumps, nil
}
