// Package nn is a small CPU backend for the model contract: a feed-forward
// regressor with optional recurrent feedback, per-speaker output heads and
// sinusoidal positional inputs.
//
// Recurrent feedback (the previous step's last hidden activation and the
// previous output frame) enters each step as a constant input. Gradients do
// not flow through it, so every repackaged state is detached by construction
// and backward is a single batched pass over all T×B rows.
package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/ieee0824/tts-go/internal/blas"
	"github.com/ieee0824/tts-go/model"
)

// Layer is a fully-connected layer. W is [OutDim × InDim] row-major, B is [OutDim].
type Layer struct {
	W      []float64
	B      []float64
	InDim  int
	OutDim int
}

func newLayer(in, out int, rng *rand.Rand, init func([]float64, int, int, *rand.Rand)) Layer {
	l := Layer{W: make([]float64, out*in), B: make([]float64, out), InDim: in, OutDim: out}
	init(l.W, in, out, rng)
	return l
}

func xavierInit(w []float64, fanIn, fanOut int, rng *rand.Rand) {
	scale := math.Sqrt(2.0 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = rng.NormFloat64() * scale
	}
}

// heInit suits the ReLU hidden layers.
func heInit(w []float64, fanIn, _ int, rng *rand.Rand) {
	scale := math.Sqrt(2.0 / float64(fanIn))
	for i := range w {
		w[i] = rng.NormFloat64() * scale
	}
}

// Config describes a network.
type Config struct {
	InputDim     int // label code width (plus any per-frame scalars)
	HiddenDim    int
	HiddenLayers int
	OutputDim    int

	HiddenFeedback bool // feed the previous step's last hidden activation
	OutputFeedback bool // feed the previous output frame
	Positional     int  // sinusoidal position dims appended to every step

	// Speakers names one output head per speaker id. Empty means a single head.
	Speakers []string
	Seed     int64
}

// Net is the trainable network. Exported fields are the persisted parameters.
type Net struct {
	Config Config
	Hidden []Layer
	Heads  []Layer

	training bool
	grads    *grads
	cache    *forwardCache
}

type grads struct {
	hidden []Layer
	heads  []Layer
}

// forwardCache keeps what backward needs from the latest forward pass.
type forwardCache struct {
	T, B   int
	x      []float64   // [T·B × in]
	z      [][]float64 // pre-activations per hidden layer
	a      [][]float64 // post-activations per hidden layer
	headOf []int       // head index per batch column
}

var errNoForward = errors.New("nn: backward without a cached forward pass")

// New builds a network with random weights.
func New(cfg Config) (*Net, error) {
	if cfg.InputDim <= 0 || cfg.HiddenDim <= 0 || cfg.OutputDim <= 0 {
		return nil, fmt.Errorf("nn: dims must be positive, got in=%d hidden=%d out=%d", cfg.InputDim, cfg.HiddenDim, cfg.OutputDim)
	}
	if cfg.HiddenLayers < 1 {
		cfg.HiddenLayers = 1
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	n := &Net{Config: cfg}
	prev := n.inDim()
	for i := 0; i < cfg.HiddenLayers; i++ {
		n.Hidden = append(n.Hidden, newLayer(prev, cfg.HiddenDim, rng, heInit))
		prev = cfg.HiddenDim
	}
	for i := 0; i < n.numHeads(); i++ {
		n.Heads = append(n.Heads, newLayer(prev, cfg.OutputDim, rng, xavierInit))
	}
	n.training = true
	return n, nil
}

func (n *Net) numHeads() int {
	if len(n.Config.Speakers) == 0 {
		return 1
	}
	return len(n.Config.Speakers)
}

// MultiOutput reports whether the network has one head per speaker.
func (n *Net) MultiOutput() bool { return len(n.Config.Speakers) > 0 }

func (n *Net) inDim() int {
	c := n.Config
	d := c.InputDim + c.Positional
	if c.HiddenFeedback {
		d += c.HiddenDim
	}
	if c.OutputFeedback {
		d += c.OutputDim
	}
	return d
}

// Train enables gradient bookkeeping.
func (n *Net) Train() { n.training = true }

// Eval disables it; Backward fails until Train is called again.
func (n *Net) Eval() { n.training = false }

func (n *Net) headIndex(spk int) (int, error) {
	if !n.MultiOutput() {
		return 0, nil
	}
	if spk < 0 || spk >= len(n.Config.Speakers) {
		return 0, fmt.Errorf("nn: speaker id %d has no output head (%d heads)", spk, len(n.Config.Speakers))
	}
	return spk, nil
}

// positional writes sinusoidal encodings of pos into dst.
func positional(dst []float64, pos int) {
	p := len(dst)
	for i := 0; i < p; i += 2 {
		freq := math.Pow(10000, -float64(i)/float64(p))
		dst[i] = math.Sin(float64(pos) * freq)
		if i+1 < p {
			dst[i+1] = math.Cos(float64(pos) * freq)
		}
	}
}

// runResult holds the outputs of a forward pass.
type runResult struct {
	heads   []*model.Tensor // one [T×B×Out] per head
	own     *model.Tensor   // each column through its own speaker's head
	lastH   []float64       // [B × Hidden] of the final step
	lastOut []float64       // [B × Out] of the final step
}

// run is the shared forward pass. h0 and y0 seed the feedback inputs of the
// first step ([B × Hidden] and [B × Out]); forced, when non-nil, replaces the
// output feedback at every step (teacher forcing).
func (n *Net) run(labels *model.Tensor, speakers []int, posStart int, h0, y0 []float64, forced *model.Tensor) (*runResult, error) {
	c := n.Config
	if labels.D != c.InputDim {
		return nil, fmt.Errorf("nn: label dim %d, network expects %d", labels.D, c.InputDim)
	}
	T, B := labels.T, labels.B
	if len(speakers) != B {
		return nil, fmt.Errorf("nn: %d speaker ids for batch of %d", len(speakers), B)
	}
	if forced != nil && (forced.T != T || forced.B != B || forced.D != c.OutputDim) {
		return nil, fmt.Errorf("nn: feedback %v does not match labels %v", forced, labels)
	}
	headOf := make([]int, B)
	for b, s := range speakers {
		h, err := n.headIndex(s)
		if err != nil {
			return nil, err
		}
		headOf[b] = h
	}

	in := n.inDim()
	N := T * B
	fc := &forwardCache{T: T, B: B, x: make([]float64, N*in), headOf: headOf}
	for range n.Hidden {
		fc.z = append(fc.z, make([]float64, N*c.HiddenDim))
		fc.a = append(fc.a, make([]float64, N*c.HiddenDim))
	}
	res := &runResult{own: model.NewTensor(T, B, c.OutputDim)}
	for range n.Heads {
		res.heads = append(res.heads, model.NewTensor(T, B, c.OutputDim))
	}

	hPrev := make([]float64, B*c.HiddenDim)
	yPrev := make([]float64, B*c.OutputDim)
	copy(hPrev, h0)
	copy(yPrev, y0)

	for t := 0; t < T; t++ {
		x := fc.x[t*B*in : (t+1)*B*in]
		for b := 0; b < B; b++ {
			row := x[b*in : (b+1)*in]
			off := copy(row, labels.Row(t, b))
			if c.HiddenFeedback {
				off += copy(row[off:], hPrev[b*c.HiddenDim:(b+1)*c.HiddenDim])
			}
			if c.OutputFeedback {
				if forced != nil {
					off += copy(row[off:], forced.Row(t, b))
				} else {
					off += copy(row[off:], yPrev[b*c.OutputDim:(b+1)*c.OutputDim])
				}
			}
			if c.Positional > 0 {
				positional(row[off:off+c.Positional], posStart+t)
			}
		}

		prev, prevDim := x, in
		for i := range n.Hidden {
			l := &n.Hidden[i]
			z := fc.z[i][t*B*l.OutDim : (t+1)*B*l.OutDim]
			a := fc.a[i][t*B*l.OutDim : (t+1)*B*l.OutDim]
			blas.Dgemm(false, true, B, l.OutDim, prevDim, 1.0, prev, prevDim, l.W, prevDim, 0.0, z, l.OutDim)
			addBiasReLU(z, a, l.B, B, l.OutDim)
			prev, prevDim = a, l.OutDim
		}
		for h := range n.Heads {
			l := &n.Heads[h]
			y := res.heads[h].Step(t)
			blas.Dgemm(false, true, B, l.OutDim, prevDim, 1.0, prev, prevDim, l.W, prevDim, 0.0, y, l.OutDim)
			addBias(y, l.B, B, l.OutDim)
		}
		for b := 0; b < B; b++ {
			copy(res.own.Row(t, b), res.heads[headOf[b]].Row(t, b))
		}
		copy(hPrev, prev)
		copy(yPrev, res.own.Step(t))
	}
	res.lastH, res.lastOut = hPrev, yPrev
	n.cache = fc
	return res, nil
}

// addBiasReLU writes relu(z+bias) into a and keeps z+bias in z.
func addBiasReLU(z, a, bias []float64, rows, cols int) {
	for i := 0; i < rows; i++ {
		off := i * cols
		for j := 0; j < cols; j++ {
			v := z[off+j] + bias[j]
			z[off+j] = v
			if v < 0 {
				v = 0
			}
			a[off+j] = v
		}
	}
}

func addBias(z, bias []float64, rows, cols int) {
	for i := 0; i < rows; i++ {
		blas.Daxpy(1, bias, z[i*cols:(i+1)*cols])
	}
}

func (n *Net) ensureGrads() *grads {
	if n.grads != nil {
		return n.grads
	}
	g := &grads{}
	for _, l := range n.Hidden {
		g.hidden = append(g.hidden, Layer{W: make([]float64, len(l.W)), B: make([]float64, len(l.B)), InDim: l.InDim, OutDim: l.OutDim})
	}
	for _, l := range n.Heads {
		g.heads = append(g.heads, Layer{W: make([]float64, len(l.W)), B: make([]float64, len(l.B)), InDim: l.InDim, OutDim: l.OutDim})
	}
	n.grads = g
	return g
}

// ZeroGrad clears accumulated gradients.
func (n *Net) ZeroGrad() {
	g := n.ensureGrads()
	for _, ls := range [][]Layer{g.hidden, g.heads} {
		for i := range ls {
			clear(ls[i].W)
			clear(ls[i].B)
		}
	}
}

// Backward accumulates gradients for the latest forward pass. A Single
// gradient is routed column by column to each column's own head; a
// PerSpeaker gradient goes to the named heads.
func (n *Net) Backward(grad model.Prediction) error {
	if !n.training {
		return errors.New("nn: backward in eval mode")
	}
	fc := n.cache
	if fc == nil {
		return errNoForward
	}
	perHead := make(map[int]*model.Tensor)
	if grad.MultiOutput() {
		for name, g := range grad.PerSpeaker {
			h := n.headByName(name)
			if h < 0 {
				return fmt.Errorf("nn: gradient for unknown head %q", name)
			}
			perHead[h] = g
		}
	} else {
		g := grad.Single
		if g == nil {
			return errors.New("nn: empty gradient")
		}
		for b, h := range fc.headOf {
			if _, ok := perHead[h]; !ok {
				perHead[h] = model.NewTensor(g.T, g.B, g.D)
			}
			for t := 0; t < g.T; t++ {
				copy(perHead[h].Row(t, b), g.Row(t, b))
			}
		}
	}
	return n.backward(perHead)
}

func (n *Net) headByName(name string) int {
	if !n.MultiOutput() {
		return 0
	}
	for i, s := range n.Config.Speakers {
		if s == name {
			return i
		}
	}
	return -1
}

func (n *Net) backward(perHead map[int]*model.Tensor) error {
	fc := n.cache
	g := n.ensureGrads()
	N := fc.T * fc.B
	H := n.Config.HiddenDim
	last := len(n.Hidden) - 1

	da := make([]float64, N*H)
	for h, dy := range perHead {
		if dy.T != fc.T || dy.B != fc.B || dy.D != n.Config.OutputDim {
			return fmt.Errorf("nn: gradient %v does not match forward [%d×%d×%d]", dy, fc.T, fc.B, n.Config.OutputDim)
		}
		l := &n.Heads[h]
		gl := &g.heads[h]
		blas.Dgemm(true, false, l.OutDim, l.InDim, N, 1.0, dy.Data, l.OutDim, fc.a[last], l.InDim, 1.0, gl.W, l.InDim)
		blas.ColSums(N, l.OutDim, dy.Data, l.OutDim, gl.B)
		blas.Dgemm(false, false, N, l.InDim, l.OutDim, 1.0, dy.Data, l.OutDim, l.W, l.InDim, 1.0, da, l.InDim)
	}

	for i := last; i >= 0; i-- {
		l := &n.Hidden[i]
		gl := &g.hidden[i]
		dz := da
		for k, z := range fc.z[i] {
			if z <= 0 {
				dz[k] = 0
			}
		}
		input := fc.x
		if i > 0 {
			input = fc.a[i-1]
		}
		blas.Dgemm(true, false, l.OutDim, l.InDim, N, 1.0, dz, l.OutDim, input, l.InDim, 1.0, gl.W, l.InDim)
		blas.ColSums(N, l.OutDim, dz, l.OutDim, gl.B)
		if i > 0 {
			da = make([]float64, N*l.InDim)
			blas.Dgemm(false, false, N, l.InDim, l.OutDim, 1.0, dz, l.OutDim, l.W, l.InDim, 0.0, da, l.InDim)
		}
	}
	return nil
}

// params pairs every parameter slice with its gradient.
func (n *Net) params() (ps, gs [][]float64) {
	g := n.ensureGrads()
	for i := range n.Hidden {
		ps = append(ps, n.Hidden[i].W, n.Hidden[i].B)
		gs = append(gs, g.hidden[i].W, g.hidden[i].B)
	}
	for i := range n.Heads {
		ps = append(ps, n.Heads[i].W, n.Heads[i].B)
		gs = append(gs, g.heads[i].W, g.heads[i].B)
	}
	return ps, gs
}
