package types

import (
	"encoding/json"
	"strings"
)

// Flag marks degraded-precision conditions on a point. Flags warn; they
// never abort a run.
type Flag uint8

const (
	// FlagZeroVariance: a zero sample variance forced the unweighted-mean
	// fallback for the group.
	FlagZeroVariance Flag = 1 << iota
	// FlagHighScatter: outlier rejection would have emptied the group, so
	// all samples were kept.
	FlagHighScatter
	// FlagDuplicate: the point won a later-acquired preference against a
	// coincident point during stitching.
	FlagDuplicate
)

var flagNames = []struct {
	bit  Flag
	name string
}{
	{FlagZeroVariance, "zero_variance"},
	{FlagHighScatter, "high_scatter"},
	{FlagDuplicate, "duplicate"},
}

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Strings lists the set flag names in declaration order.
func (f Flag) Strings() []string {
	var out []string
	for _, fn := range flagNames {
		if f.Has(fn.bit) {
			out = append(out, fn.name)
		}
	}
	return out
}

// String joins the set flag names with "|"; empty when no flag is set.
func (f Flag) String() string {
	return strings.Join(f.Strings(), "|")
}

// MarshalJSON encodes the flag set as a JSON string list.
func (f Flag) MarshalJSON() ([]byte, error) {
	names := f.Strings()
	if names == nil {
		names = []string{}
	}
	return json.Marshal(names)
}
