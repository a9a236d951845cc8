package model

import "fmt"

// Tensor is a dense time-major 3-D array [T × B × D] stored row-major in Data.
// Element (t, b, d) lives at Data[(t*B+b)*D+d].
type Tensor struct {
	T, B, D int
	Data    []float64
}

// NewTensor allocates a zero tensor of shape [t × b × d].
func NewTensor(t, b, d int) *Tensor {
	return &Tensor{T: t, B: b, D: d, Data: make([]float64, t*b*d)}
}

// At returns element (t, b, d).
func (x *Tensor) At(t, b, d int) float64 {
	return x.Data[(t*x.B+b)*x.D+d]
}

// Set stores v at (t, b, d).
func (x *Tensor) Set(t, b, d int, v float64) {
	x.Data[(t*x.B+b)*x.D+d] = v
}

// Row returns the D-vector at (t, b). The slice aliases Data.
func (x *Tensor) Row(t, b int) []float64 {
	off := (t*x.B + b) * x.D
	return x.Data[off : off+x.D]
}

// Step returns the [B × D] slab at time t. The slice aliases Data.
func (x *Tensor) Step(t int) []float64 {
	n := x.B * x.D
	return x.Data[t*n : (t+1)*n]
}

// Clone returns a deep copy.
func (x *Tensor) Clone() *Tensor {
	c := &Tensor{T: x.T, B: x.B, D: x.D, Data: make([]float64, len(x.Data))}
	copy(c.Data, x.Data)
	return c
}

// SameShape reports whether x and y have identical dimensions.
func (x *Tensor) SameShape(y *Tensor) bool {
	return x.T == y.T && x.B == y.B && x.D == y.D
}

func (x *Tensor) String() string {
	return fmt.Sprintf("Tensor[%d×%d×%d]", x.T, x.B, x.D)
}

// TimeMajor transposes batch-major sequences [B][T][D] into a time-major tensor.
// Sequences shorter than the longest one are zero padded.
func TimeMajor(seqs [][][]float64) *Tensor {
	B := len(seqs)
	T, D := 0, 0
	for _, s := range seqs {
		if len(s) > T {
			T = len(s)
		}
		if len(s) > 0 && len(s[0]) > D {
			D = len(s[0])
		}
	}
	x := NewTensor(T, B, D)
	for b, s := range seqs {
		for t, row := range s {
			copy(x.Row(t, b), row)
		}
	}
	return x
}

// BatchRows returns the first n rows of column b as a [n][D] matrix copy.
func (x *Tensor) BatchRows(b, n int) [][]float64 {
	if n > x.T {
		n = x.T
	}
	out := make([][]float64, n)
	for t := 0; t < n; t++ {
		row := make([]float64, x.D)
		copy(row, x.Row(t, b))
		out[t] = row
	}
	return out
}
