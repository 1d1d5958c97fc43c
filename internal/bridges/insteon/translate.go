package insteon

import (
	"fmt"
	"math"
)

// Range is a closed numeric interval used for linear translation.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Validate returns ErrDegenerateRange when the range is empty.
func (r Range) Validate() error {
	if r.Min == r.Max {
		return fmt.Errorf("%w: [%g, %g]", ErrDegenerateRange, r.Min, r.Max)
	}
	return nil
}

// Clamp limits v to the range, whichever way round the bounds are.
func (r Range) Clamp(v float64) float64 {
	lo, hi := r.Min, r.Max
	if lo > hi {
		lo, hi = hi, lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// Translate maps value linearly from in to out.
//
// The value is clamped to in first, so the result always lies within out.
// The endpoints map exactly: in.Min to out.Min and in.Max to out.Max.
// Reversed ranges are allowed and invert the mapping.
func Translate(value float64, in, out Range) (float64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}

	v := in.Clamp(value)
	switch v {
	case in.Min:
		return out.Min, nil
	case in.Max:
		return out.Max, nil
	}

	ratio := (v - in.Min) / (in.Max - in.Min)
	return out.Clamp(out.Min + ratio*(out.Max-out.Min)), nil
}
