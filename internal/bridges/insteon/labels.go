package insteon

import (
	"sort"
	"strings"
)

// Command labels understood by the gateway.
const (
	LabelOn           = "on"
	LabelOnFast       = "on_fast"
	LabelOff          = "off"
	LabelOffFast      = "off_fast"
	LabelDim          = "dim"
	LabelBrighten     = "brighten"
	LabelDimStop      = "dim_stop"
	LabelBrightenStop = "brighten_stop"
	LabelStatus       = "status"
)

// AnyObservation keys the command labels that any observed level confirms,
// such as a status request.
const AnyObservation = "*"

// SourceExternal attributes a state change that no tracked command explains.
const SourceExternal = "external"

// Compatibility maps an observed semantic label ("on", "off") to the
// command labels that may have produced it. Labels under AnyObservation
// match every observation.
type Compatibility map[string][]string

// DefaultCompatibility returns the stock label sets.
func DefaultCompatibility() Compatibility {
	return Compatibility{
		LabelOn:  {LabelOn, LabelOnFast, LabelDim, LabelBrighten, LabelDimStop, LabelBrightenStop},
		LabelOff: {LabelOff, LabelOffFast},

		AnyObservation: {LabelStatus},
	}
}

// Compatible reports whether a command labelled command explains an
// observation labelled observed. Comparison is case-insensitive.
func (c Compatibility) Compatible(observed, command string) bool {
	for _, key := range []string{strings.ToLower(observed), AnyObservation} {
		for _, label := range c[key] {
			if strings.EqualFold(label, command) {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy with lowercased keys and labels.
func (c Compatibility) Clone() Compatibility {
	out := make(Compatibility, len(c))
	for observed, labels := range c {
		cp := make([]string, 0, len(labels))
		for _, l := range labels {
			cp = append(cp, strings.ToLower(l))
		}
		out[strings.ToLower(observed)] = cp
	}
	return out
}

// CommandLabels returns every command label mentioned in any set, sorted.
func (c Compatibility) CommandLabels() []string {
	seen := make(map[string]bool)
	for _, labels := range c {
		for _, l := range labels {
			seen[strings.ToLower(l)] = true
		}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
