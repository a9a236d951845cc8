package nn

import (
	"errors"
	"math"
)

// AdamConfig holds optimizer hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// DefaultAdamConfig returns the usual Adam defaults.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam implements model.Optimizer over every parameter of a Net.
type Adam struct {
	cfg  AdamConfig
	net  *Net
	m, v [][]float64
	t    int
}

// NewAdam binds an optimizer to net.
func NewAdam(net *Net, cfg AdamConfig) *Adam {
	ps, _ := net.params()
	a := &Adam{cfg: cfg, net: net}
	for _, p := range ps {
		a.m = append(a.m, make([]float64, len(p)))
		a.v = append(a.v, make([]float64, len(p)))
	}
	return a
}

// ZeroGrad clears the network's accumulated gradients.
func (a *Adam) ZeroGrad() { a.net.ZeroGrad() }

// Step applies one update with the accumulated gradients.
func (a *Adam) Step() error {
	ps, gs := a.net.params()
	if len(ps) != len(a.m) {
		return errors.New("nn: optimizer bound to a different parameter set")
	}
	a.t++
	for i := range ps {
		adamUpdate(ps[i], gs[i], a.m[i], a.v[i], a.cfg.LearningRate, a.cfg.Beta1, a.cfg.Beta2, a.cfg.Epsilon, a.t, 1.0)
	}
	return nil
}

// LearningRate returns the current step size.
func (a *Adam) LearningRate() float64 { return a.cfg.LearningRate }

// SetLearningRate changes the step size for subsequent updates.
func (a *Adam) SetLearningRate(lr float64) { a.cfg.LearningRate = lr }

func adamUpdate(params, grad, m, v []float64, lr, beta1, beta2, eps float64, t int, gradScale float64) {
	bc1 := 1.0 - math.Pow(beta1, float64(t))
	bc2 := 1.0 - math.Pow(beta2, float64(t))
	for i := range params {
		g := grad[i] * gradScale
		m[i] = beta1*m[i] + (1-beta1)*g
		v[i] = beta2*v[i] + (1-beta2)*g*g
		mHat := m[i] / bc1
		vHat := v[i] / bc2
		params[i] -= lr * mHat / (math.Sqrt(vHat) + eps)
	}
}

// Plateau lowers the learning rate of an Adam optimizer when the monitored
// metric stops improving. It implements model.Scheduler.
type Plateau struct {
	Opt      *Adam
	Factor   float64 // multiplier applied on a plateau, e.g. 0.5
	Patience int     // epochs without improvement tolerated
	MinLR    float64

	best float64
	bad  int
	seen bool
}

// Step records one epoch's metric; lower is better.
func (p *Plateau) Step(metric float64) {
	if !p.seen || metric < p.best {
		p.best, p.bad, p.seen = metric, 0, true
		return
	}
	p.bad++
	if p.bad <= p.Patience {
		return
	}
	lr := math.Max(p.Opt.LearningRate()*p.Factor, p.MinLR)
	p.Opt.SetLearningRate(lr)
	p.bad = 0
}
