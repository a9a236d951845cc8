package model

// State is an opaque recurrent state owned by a model. The batch axis is the
// only part of its shape the training loop is allowed to reason about.
type State interface {
	// BatchSize returns the size of the batch axis.
	BatchSize() int
	// Detach returns a copy that shares no storage or history with the receiver.
	Detach() State
	// Truncate keeps the first n entries of the batch axis. n must not exceed BatchSize.
	Truncate(n int) State
}

// TensorState is a tuple of tensors laid out [layers × batch × dim], the
// layout recurrent cells use for hidden and cell states.
type TensorState []*Tensor

// NewTensorState allocates zero tensors of shape [layers × batch × dim] for each dim.
func NewTensorState(layers, batch int, dims ...int) TensorState {
	s := make(TensorState, len(dims))
	for i, d := range dims {
		s[i] = NewTensor(layers, batch, d)
	}
	return s
}

// BatchSize implements State.
func (s TensorState) BatchSize() int {
	if len(s) == 0 {
		return 0
	}
	return s[0].B
}

// Detach implements State.
func (s TensorState) Detach() State {
	out := make(TensorState, len(s))
	for i, x := range s {
		out[i] = x.Clone()
	}
	return out
}

// Truncate implements State.
func (s TensorState) Truncate(n int) State {
	out := make(TensorState, len(s))
	for i, x := range s {
		if n > x.B {
			n = x.B
		}
		y := NewTensor(x.T, n, x.D)
		for t := 0; t < x.T; t++ {
			for b := 0; b < n; b++ {
				copy(y.Row(t, b), x.Row(t, b))
			}
		}
		out[i] = y
	}
	return out
}
