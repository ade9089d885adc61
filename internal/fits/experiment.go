package fits

import (
	"fmt"
	"strings"
)

// Experiment classifies a measurement by which header cards matter for it.
// Reflectivity scans need the full motor and beam state; spectroscopy scans
// only the energy; anything else is inspected with no filter.
type Experiment int

const (
	ExperimentXRR Experiment = iota
	ExperimentXRS
	ExperimentOther
)

// ParseExperiment maps a user supplied name onto an Experiment.
func ParseExperiment(s string) (Experiment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "xrr":
		return ExperimentXRR, nil
	case "xrs":
		return ExperimentXRS, nil
	case "", "other", "all":
		return ExperimentOther, nil
	default:
		return ExperimentOther, fmt.Errorf("fits: unknown experiment %q (want xrr, xrs or other)", s)
	}
}

func (e Experiment) String() string {
	switch e {
	case ExperimentXRR:
		return "xrr"
	case ExperimentXRS:
		return "xrs"
	default:
		return "other"
	}
}

// Keys returns the header cards relevant to the experiment. An empty slice
// means every card is relevant.
func (e Experiment) Keys(keys KeyMap) []string {
	switch e {
	case ExperimentXRR:
		out := []string{keys.Angle, keys.Exposure, keys.Energy, keys.Attenuation, keys.Date}
		return append(out, keys.Aux...)
	case ExperimentXRS:
		return []string{keys.Energy, keys.Exposure, keys.Date}
	default:
		return nil
	}
}

// Relevant reports whether the named card belongs to the experiment's key
// set. Matching is case insensitive.
func (e Experiment) Relevant(keys KeyMap, name string) bool {
	set := e.Keys(keys)
	if len(set) == 0 {
		return true
	}
	for _, k := range set {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
