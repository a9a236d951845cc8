// Package expand turns per-unit durations into frame-level acoustic queries.
//
// Each unit of duration d emits one query every Stride seconds. A query is the
// unit's label code followed by the relative position inside the unit and the
// unit's normalized duration.
package expand

import (
	"fmt"
	"math"
)

// DefaultStride is the synthesis frame shift in seconds.
const DefaultStride = 0.005

// tolerance absorbs float error when d is an exact multiple of the stride.
const tolerance = 1e-9

// Policy decides whether a unit emits a frame at its exact end.
type Policy int

const (
	// Inclusive emits frames while elapsed <= d: floor(d/s)+1 frames.
	Inclusive Policy = iota
	// Exclusive emits frames while elapsed < d: ceil(d/s) frames.
	Exclusive
)

func (p Policy) String() string {
	switch p {
	case Inclusive:
		return "inclusive"
	case Exclusive:
		return "exclusive"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy maps "inclusive" or "exclusive" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "inclusive":
		return Inclusive, nil
	case "exclusive":
		return Exclusive, nil
	}
	return 0, fmt.Errorf("expand: unknown boundary policy %q", s)
}

// Expander resamples unit durations onto a fixed frame grid.
type Expander struct {
	Stride float64
	Policy Policy
}

// New returns a validated expander.
func New(stride float64, p Policy) (Expander, error) {
	e := Expander{Stride: stride, Policy: p}
	return e, e.Validate()
}

// Validate rejects non-positive strides and unknown policies.
func (e Expander) Validate() error {
	if !(e.Stride > 0) || math.IsInf(e.Stride, 0) {
		return fmt.Errorf("expand: stride must be a positive number of seconds, got %v", e.Stride)
	}
	if e.Policy != Inclusive && e.Policy != Exclusive {
		return fmt.Errorf("expand: unknown boundary policy %v", e.Policy)
	}
	return nil
}

// Frames returns how many queries a unit of duration d emits.
func (e Expander) Frames(d float64) int {
	if d < 0 {
		return 0
	}
	n := d / e.Stride
	if e.Policy == Inclusive {
		return int(math.Floor(n+tolerance)) + 1
	}
	return int(math.Ceil(n - tolerance))
}

// Position returns the relative position of frame k within a unit of
// duration d: 0 at the unit start, at most 1.
func (e Expander) Position(k int, d float64) float64 {
	if d <= 0 {
		return 0
	}
	return math.Min(float64(k)*e.Stride/d, 1)
}

// Expand builds the query sequence. codes[i] is the label code of unit i,
// norm[i] its normalized duration and dur[i] its duration in seconds. The
// number of queries is only known once every unit has been expanded.
func (e Expander) Expand(codes [][]float64, norm, dur []float64) ([][]float64, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if len(codes) != len(norm) || len(codes) != len(dur) {
		return nil, fmt.Errorf("expand: %d codes, %d normalized and %d physical durations", len(codes), len(norm), len(dur))
	}
	var out [][]float64
	for i, code := range codes {
		d := dur[i]
		if math.IsNaN(d) || d < 0 {
			return nil, fmt.Errorf("expand: unit %d has invalid duration %v", i, d)
		}
		for k, n := 0, e.Frames(d); k < n; k++ {
			q := make([]float64, len(code)+2)
			copy(q, code)
			q[len(code)] = e.Position(k, d)
			q[len(code)+1] = norm[i]
			out = append(out, q)
		}
	}
	return out, nil
}
