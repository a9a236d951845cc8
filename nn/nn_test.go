package nn

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/ieee0824/tts-go/model"
)

func smallConfig() Config {
	return Config{InputDim: 4, HiddenDim: 8, HiddenLayers: 2, OutputDim: 3, Seed: 1}
}

func labels(T, B, D int) *model.Tensor {
	x := model.NewTensor(T, B, D)
	for i := range x.Data {
		x.Data[i] = math.Sin(float64(i) * 0.37)
	}
	return x
}

func TestAcousticForward_Dimensions(t *testing.T) {
	a, err := NewAcousticNet(smallConfig())
	if err != nil {
		t.Fatal(err)
	}
	x := labels(5, 2, 4)
	pred, h, o, err := a.Forward(x, a.InitHiddenState(2), a.InitOutputState(2), []int{0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if pred.MultiOutput() {
		t.Fatal("single-head net returned per-speaker prediction")
	}
	y := pred.Single
	if y.T != 5 || y.B != 2 || y.D != 3 {
		t.Fatalf("prediction %v, want [5×2×3]", y)
	}
	if h.BatchSize() != 2 || o.BatchSize() != 2 {
		t.Errorf("state batch sizes %d/%d, want 2", h.BatchSize(), o.BatchSize())
	}
}

func TestForward_StateBatchMismatch(t *testing.T) {
	d, _ := NewDurationNet(Config{InputDim: 4, HiddenDim: 8, OutputDim: 1, Seed: 2})
	x := labels(3, 2, 4)
	_, st, err := d.Forward(x, d.InitHiddenState(5), []int{0, 0})
	if err != nil {
		t.Fatalf("larger state: %v", err)
	}
	if st.BatchSize() != 2 {
		t.Errorf("next state batch = %d, want 2", st.BatchSize())
	}
	if _, _, err := d.Forward(x, d.InitHiddenState(1), []int{0, 0}); err != nil {
		t.Fatalf("smaller state: %v", err)
	}
}

func TestForward_StateCarriesMemory(t *testing.T) {
	d, _ := NewDurationNet(Config{InputDim: 4, HiddenDim: 8, OutputDim: 1, Seed: 3})
	x := labels(2, 1, 4)
	p1, st, _ := d.Forward(x, nil, []int{0})
	p2, _, _ := d.Forward(x, st, []int{0})
	if p1.Single.At(0, 0, 0) == p2.Single.At(0, 0, 0) {
		t.Error("carried state did not change the first step output")
	}
}

func TestMultiOutputHeads(t *testing.T) {
	cfg := smallConfig()
	cfg.Speakers = []string{"a", "b"}
	n, _ := NewAcousticNet(cfg)
	pred, _, _, err := n.Forward(labels(2, 1, 4), nil, nil, []int{1})
	if err != nil {
		t.Fatal(err)
	}
	if heads := pred.Heads(); len(heads) != 2 || heads[0] != "a" || heads[1] != "b" {
		t.Fatalf("heads = %v", heads)
	}
	if _, _, _, err := n.Forward(labels(2, 1, 4), nil, nil, []int{7}); err == nil {
		t.Error("expected error for speaker without head")
	}
}

func TestTraining_ReducesLoss(t *testing.T) {
	a, _ := NewAcousticNet(Config{InputDim: 4, HiddenDim: 16, OutputDim: 2, Seed: 4})
	opt := NewAdam(a.Net, AdamConfig{LearningRate: 0.01, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8})
	x := labels(6, 2, 4)
	target := model.NewTensor(6, 2, 2)
	for i := range target.Data {
		target.Data[i] = 0.5
	}
	var first, last float64
	for step := 0; step < 200; step++ {
		pred, _, _, err := a.Forward(x, nil, nil, []int{0, 0})
		if err != nil {
			t.Fatal(err)
		}
		loss, grad, _ := model.MSE{}.Loss(pred.Single, target)
		if step == 0 {
			first = loss
		}
		last = loss
		opt.ZeroGrad()
		if err := a.Backward(model.SinglePrediction(grad)); err != nil {
			t.Fatal(err)
		}
		if err := opt.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if last >= first/10 {
		t.Errorf("loss %f -> %f, expected at least a tenfold drop", first, last)
	}
}

func TestBackward_EvalMode(t *testing.T) {
	a, _ := NewAcousticNet(smallConfig())
	pred, _, _, _ := a.Forward(labels(1, 1, 4), nil, nil, []int{0})
	a.Eval()
	if err := a.Backward(pred); err == nil {
		t.Error("expected error for backward in eval mode")
	}
}

func TestAttention_Feedback(t *testing.T) {
	cfg := smallConfig()
	plain, _ := NewAttentionNet(cfg, false)
	fb := model.NewTensor(3, 1, 3)
	if _, err := plain.Forward(labels(3, 1, 4), fb, []int{0}, 0); err == nil {
		t.Error("expected error for feedback without decoder")
	}
	dec, _ := NewAttentionNet(cfg, true)
	y1, err := dec.Forward(labels(3, 1, 4), fb, []int{0}, 0)
	if err != nil {
		t.Fatal(err)
	}
	y2, _ := dec.Forward(labels(3, 1, 4), fb, []int{0}, 10)
	if y1.At(0, 0, 0) == y2.At(0, 0, 0) {
		t.Error("position offset did not change the output")
	}
	if _, err := dec.Forward(labels(3, 1, 4), nil, []int{0}, 0); err != nil {
		t.Errorf("autoregressive decode: %v", err)
	}
}

func TestSaveLoad(t *testing.T) {
	a, _ := NewAcousticNet(smallConfig())
	dir := t.TempDir()
	if err := a.Save(dir, "aco", 3, true); err != nil {
		t.Fatal(err)
	}
	got, err := LoadAcousticNet(filepath.Join(dir, "best-aco.gob"))
	if err != nil {
		t.Fatal(err)
	}
	x := labels(2, 1, 4)
	p1, _, _, _ := a.Forward(x, nil, nil, []int{0})
	p2, _, _, _ := got.Forward(x, nil, nil, []int{0})
	for i := range p1.Single.Data {
		if p1.Single.Data[i] != p2.Single.Data[i] {
			t.Fatalf("output %d differs after reload", i)
		}
	}
	if _, err := Load(CheckpointPath(dir, "aco", 3)); err != nil {
		t.Errorf("epoch checkpoint: %v", err)
	}
	if _, err := Decode(bytes.NewReader([]byte("junk"))); err == nil {
		t.Error("expected decode error")
	}
}

func TestPlateau(t *testing.T) {
	a, _ := NewAcousticNet(smallConfig())
	opt := NewAdam(a.Net, DefaultAdamConfig())
	p := &Plateau{Opt: opt, Factor: 0.5, Patience: 1}
	for _, m := range []float64{1.0, 0.9, 0.95, 0.95} {
		p.Step(m)
	}
	if got := opt.LearningRate(); math.Abs(got-0.0005) > 1e-12 {
		t.Errorf("lr = %g, want 0.0005", got)
	}
}
