package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Rect is an axis-aligned pixel region, half-open on both axes:
// x in [X0, X1), y in [Y0, Y1).
type Rect struct {
	X0 int `json:"x0" toml:"x0"`
	Y0 int `json:"y0" toml:"y0"`
	X1 int `json:"x1" toml:"x1"`
	Y1 int `json:"y1" toml:"y1"`
}

func (r Rect) Width() int  { return r.X1 - r.X0 }
func (r Rect) Height() int { return r.Y1 - r.Y0 }

// Area is the pixel count; zero or negative extents give zero area.
func (r Rect) Area() int {
	if r.X1 <= r.X0 || r.Y1 <= r.Y0 {
		return 0
	}
	return r.Width() * r.Height()
}

// Inside reports whether r lies fully within a width x height image.
func (r Rect) Inside(width, height int) bool {
	return r.X0 >= 0 && r.Y0 >= 0 && r.X1 <= width && r.Y1 <= height && r.X0 < r.X1 && r.Y0 < r.Y1
}

// Overlaps reports whether r and o share at least one pixel.
func (r Rect) Overlaps(o Rect) bool {
	return r.X0 < o.X1 && o.X0 < r.X1 && r.Y0 < o.Y1 && o.Y0 < r.Y1
}

// String renders the "x0,y0,x1,y1" form accepted by ParseRect.
func (r Rect) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X0, r.Y0, r.X1, r.Y1)
}

// Decode sets r from the "x0,y0,x1,y1" form, letting environment variables
// and flags specify a region as one value.
func (r *Rect) Decode(value string) error {
	parsed, err := ParseRect(value)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRect parses "x0,y0,x1,y1" into a Rect.
func ParseRect(s string) (Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Rect{}, fmt.Errorf("rect %q: want x0,y0,x1,y1", s)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Rect{}, fmt.Errorf("rect %q: %w", s, err)
		}
		vals[i] = v
	}
	return Rect{X0: vals[0], Y0: vals[1], X1: vals[2], Y1: vals[3]}, nil
}
