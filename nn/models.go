package nn

import (
	"fmt"

	"github.com/ieee0824/tts-go/model"
)

// prediction wraps the head outputs in the tagged variant.
func (n *Net) prediction(res *runResult) model.Prediction {
	if !n.MultiOutput() {
		return model.SinglePrediction(res.heads[0])
	}
	m := make(map[string]*model.Tensor, len(res.heads))
	for i, name := range n.Config.Speakers {
		m[name] = res.heads[i]
	}
	return model.SpeakerPrediction(m)
}

// seed extracts component k of a state as a [B × dim] matrix. Columns the
// state does not cover stay zero; a nil state is all zeros.
func seed(s model.State, k, dim, B int) ([]float64, error) {
	out := make([]float64, B*dim)
	if s == nil {
		return out, nil
	}
	ts, ok := s.(model.TensorState)
	if !ok || k >= len(ts) {
		return nil, fmt.Errorf("nn: foreign recurrent state %T", s)
	}
	x := ts[k]
	if x.D != dim || x.T < 1 {
		return nil, fmt.Errorf("nn: state component %d is %v, want [1×B×%d]", k, x, dim)
	}
	for b := 0; b < B && b < x.B; b++ {
		copy(out[b*dim:(b+1)*dim], x.Row(0, b))
	}
	return out, nil
}

func stateTensor(data []float64, B, dim int) *model.Tensor {
	x := model.NewTensor(1, B, dim)
	copy(x.Data, data)
	return x
}

// DurationNet predicts one normalized duration per unit. Its single state
// carries both the hidden and the output feedback.
type DurationNet struct{ *Net }

// NewDurationNet builds a recurrent duration regressor.
func NewDurationNet(cfg Config) (*DurationNet, error) {
	cfg.HiddenFeedback, cfg.OutputFeedback, cfg.Positional = true, true, 0
	n, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &DurationNet{n}, nil
}

// InitHiddenState returns a zero state for batchSize columns.
func (d *DurationNet) InitHiddenState(batchSize int) model.State {
	return model.NewTensorState(1, batchSize, d.Config.HiddenDim, d.Config.OutputDim)
}

// Forward implements model.DurationModel.
func (d *DurationNet) Forward(labels *model.Tensor, state model.State, speakers []int) (model.Prediction, model.State, error) {
	B := labels.B
	h0, err := seed(state, 0, d.Config.HiddenDim, B)
	if err != nil {
		return model.Prediction{}, nil, err
	}
	y0, err := seed(state, 1, d.Config.OutputDim, B)
	if err != nil {
		return model.Prediction{}, nil, err
	}
	res, err := d.run(labels, speakers, 0, h0, y0, nil)
	if err != nil {
		return model.Prediction{}, nil, err
	}
	next := model.TensorState{stateTensor(res.lastH, B, d.Config.HiddenDim), stateTensor(res.lastOut, B, d.Config.OutputDim)}
	return d.prediction(res), next, nil
}

// AcousticNet predicts one acoustic frame per query step with separate
// hidden and output states.
type AcousticNet struct{ *Net }

// NewAcousticNet builds a recurrent acoustic regressor.
func NewAcousticNet(cfg Config) (*AcousticNet, error) {
	cfg.HiddenFeedback, cfg.OutputFeedback, cfg.Positional = true, true, 0
	n, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &AcousticNet{n}, nil
}

// InitHiddenState returns a zero hidden state.
func (a *AcousticNet) InitHiddenState(batchSize int) model.State {
	return model.NewTensorState(1, batchSize, a.Config.HiddenDim)
}

// InitOutputState returns a zero output state.
func (a *AcousticNet) InitOutputState(batchSize int) model.State {
	return model.NewTensorState(1, batchSize, a.Config.OutputDim)
}

// Forward implements model.AcousticModel.
func (a *AcousticNet) Forward(labels *model.Tensor, hidden, output model.State, speakers []int) (model.Prediction, model.State, model.State, error) {
	B := labels.B
	h0, err := seed(hidden, 0, a.Config.HiddenDim, B)
	if err != nil {
		return model.Prediction{}, nil, nil, err
	}
	y0, err := seed(output, 0, a.Config.OutputDim, B)
	if err != nil {
		return model.Prediction{}, nil, nil, err
	}
	res, err := a.run(labels, speakers, 0, h0, y0, nil)
	if err != nil {
		return model.Prediction{}, nil, nil, err
	}
	h := model.TensorState{stateTensor(res.lastH, B, a.Config.HiddenDim)}
	o := model.TensorState{stateTensor(res.lastOut, B, a.Config.OutputDim)}
	return a.prediction(res), h, o, nil
}

// AttentionNet is the stateless acoustic variant. It sees the absolute step
// position through sinusoidal inputs and, when built with a decoder, the
// previous frame.
type AttentionNet struct{ *Net }

// NewAttentionNet builds the positional acoustic regressor. decoder enables
// previous-frame input.
func NewAttentionNet(cfg Config, decoder bool) (*AttentionNet, error) {
	if cfg.Positional <= 0 {
		cfg.Positional = 16
	}
	cfg.HiddenFeedback, cfg.OutputFeedback = false, decoder
	n, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &AttentionNet{n}, nil
}

// Forward implements model.AttentionModel. With a decoder and a nil
// feedback the network feeds back its own previous output, which is how
// synthesis runs it.
func (a *AttentionNet) Forward(labels, feedback *model.Tensor, speakers []int, posStart int) (*model.Tensor, error) {
	if feedback != nil && !a.Config.OutputFeedback {
		return nil, fmt.Errorf("nn: feedback given to an attention model without decoder")
	}
	res, err := a.run(labels, speakers, posStart, nil, nil, feedback)
	if err != nil {
		return nil, err
	}
	return res.own, nil
}

var (
	_ model.DurationModel  = (*DurationNet)(nil)
	_ model.AcousticModel  = (*AcousticNet)(nil)
	_ model.AttentionModel = (*AttentionNet)(nil)
	_ model.Optimizer      = (*Adam)(nil)
	_ model.Scheduler      = (*Plateau)(nil)
)

// LoadDurationNet reads a duration checkpoint.
func LoadDurationNet(path string) (*DurationNet, error) {
	n, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &DurationNet{n}, nil
}

// LoadAcousticNet reads an acoustic checkpoint.
func LoadAcousticNet(path string) (*AcousticNet, error) {
	n, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &AcousticNet{n}, nil
}

// LoadAttentionNet reads an attention checkpoint.
func LoadAttentionNet(path string) (*AttentionNet, error) {
	n, err := Load(path)
	if err != nil {
		return nil, err
	}
	if n.Config.Positional <= 0 {
		return nil, fmt.Errorf("nn: %s is not an attention checkpoint", path)
	}
	return &AttentionNet{n}, nil
}
