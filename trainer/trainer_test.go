package trainer

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/ieee0824/tts-go/audio"
	"github.com/ieee0824/tts-go/dataset"
	"github.com/ieee0824/tts-go/model"
	"github.com/ieee0824/tts-go/nn"
	"github.com/ieee0824/tts-go/speaker"
)

func makeBatch(spk, B, T, L, D int) *dataset.Batch {
	b := &dataset.Batch{}
	for i := 0; i < B; i++ {
		labels := make([][]float64, T)
		targets := make([][]float64, T)
		phones := make([]dataset.PhoneTriple, T)
		for t := 0; t < T; t++ {
			labels[t] = make([]float64, L)
			targets[t] = make([]float64, D)
			for l := range labels[t] {
				labels[t][l] = math.Sin(float64(spk+i*T+t+l) * 0.7)
			}
			for d := range targets[t] {
				targets[t][d] = 0.5 + 0.4*math.Cos(float64(i+t*d+spk))
			}
			phones[t] = dataset.PhoneTriple{"a", "b", "a"}
		}
		phones[0][2] = DefaultSilenceTag
		b.Speakers = append(b.Speakers, spk)
		b.Labels = append(b.Labels, labels)
		b.Targets = append(b.Targets, targets)
		b.Lengths = append(b.Lengths, T-i%2)
		b.Phones = append(b.Phones, phones)
	}
	return b
}

func unitBounds(d int) speaker.Bounds {
	b := speaker.Bounds{Min: make([]float64, d), Max: make([]float64, d)}
	for i := range b.Max {
		b.Max[i] = 1
	}
	return b
}

func stats(d int, ids ...int) speaker.Table {
	t := make(speaker.Table)
	for _, id := range ids {
		t[id] = speaker.Speaker{Name: "spk" + string(rune('0'+id)), Duration: unitBounds(1), Acoustic: unitBounds(d)}
	}
	return t
}

func opts(mutate func(*Options)) Options {
	o := DefaultOptions()
	o.LogFreq = 1
	if mutate != nil {
		mutate(&o)
	}
	return o
}

func TestParseOptions(t *testing.T) {
	o, err := ParseOptions(map[string]any{
		"multi_output": true,
		"speakers":     map[string]any{"73": 0, "75": 1.0},
		"silence_tag":  "sil",
		"log_freq":     10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !o.MultiOutput || o.Speakers[0] != "73" || o.Speakers[1] != "75" || o.SilenceTag != "sil" || o.LogFreq != 10 {
		t.Errorf("options = %+v", o)
	}

	tests := []map[string]any{
		{"unknown": 1},
		{"multi_output": true},
		{"stateful": "yes"},
		{"log_freq": 0},
	}
	for _, raw := range tests {
		if _, err := ParseOptions(raw); !errors.Is(err, ErrConfig) {
			t.Errorf("ParseOptions(%v) error = %v, want ErrConfig", raw, err)
		}
	}
}

type fakeCheckpointer struct {
	epochs []int
	best   []bool
}

func (f *fakeCheckpointer) Save(dir, name string, epoch int, best bool) error {
	f.epochs = append(f.epochs, epoch)
	f.best = append(f.best, best)
	return nil
}

type fakeTrainer struct{ calls int }

func (f *fakeTrainer) TrainEpoch(context.Context, int, dataset.Source) (map[string][]float64, error) {
	f.calls++
	return map[string][]float64{"tr_loss": {1, 0.5}}, nil
}

type seqEval []float64

func (s seqEval) EvalEpoch(_ context.Context, epoch int, _ dataset.Source) (map[string]float64, error) {
	return map[string]float64{"total_dur_rmse": s[epoch]}, nil
}

type recordScheduler []float64

func (r *recordScheduler) Step(m float64) { *r = append(*r, m) }

func TestEngine_EarlyStopping(t *testing.T) {
	ck := &fakeCheckpointer{}
	sched := &recordScheduler{}
	e := &Engine{Model: ck, Train: &fakeTrainer{}, Eval: seqEval{1.0, 0.9, 0.95, 0.96, 0.97}, Scheduler: sched}
	dir := t.TempDir()
	res, err := e.Run(context.Background(), dataset.Memory{}, dataset.Memory{}, Config{
		Epochs: 5, CheckpointDir: dir, CheckpointName: "dur", Monitor: "total_dur_rmse", Patience: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Epochs != 4 || !res.Stopped {
		t.Errorf("ran %d epochs (stopped %v), want 4 and an early stop", res.Epochs, res.Stopped)
	}
	if res.BestEpoch != 1 || res.Best != 0.9 {
		t.Errorf("best = epoch %d (%v), want epoch 1 (0.9)", res.BestEpoch, res.Best)
	}
	wantBest := []bool{true, true, false, false}
	if len(ck.best) != len(wantBest) {
		t.Fatalf("saved %d checkpoints, want %d", len(ck.best), len(wantBest))
	}
	for i := range wantBest {
		if ck.epochs[i] != i || ck.best[i] != wantBest[i] {
			t.Errorf("checkpoint %d = (epoch %d, best %v), want best %v", i, ck.epochs[i], ck.best[i], wantBest[i])
		}
	}
	if len(*sched) != 4 {
		t.Errorf("scheduler stepped %d times, want 4", len(*sched))
	}
	for _, f := range []string{"tr_loss.yaml", "total_dur_rmse.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("history %s: %v", f, err)
		}
	}
	if got := len(res.History.Train["tr_loss"]); got != 4 {
		t.Errorf("tr_loss history has %d epochs", got)
	}
}

func TestEngine_FailFast(t *testing.T) {
	cfg := Config{Epochs: 1, CheckpointDir: t.TempDir(), CheckpointName: "m"}
	tests := []struct {
		name  string
		eval  Evaluator
		valid dataset.Source
		mod   func(*Config)
	}{
		{"eval without validation source", seqEval{1}, nil, nil},
		{"monitor without patience", seqEval{1}, dataset.Memory{}, func(c *Config) { c.Monitor = "total_dur_rmse" }},
		{"monitor without eval", nil, nil, func(c *Config) { c.Monitor = "x"; c.Patience = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTrainer{}
			c := cfg
			if tt.mod != nil {
				tt.mod(&c)
			}
			e := &Engine{Model: &fakeCheckpointer{}, Train: tr, Eval: tt.eval}
			if _, err := e.Run(context.Background(), dataset.Memory{}, tt.valid, c); !errors.Is(err, ErrConfig) {
				t.Fatalf("error = %v, want ErrConfig", err)
			}
			if tr.calls != 0 {
				t.Error("training ran before the configuration error")
			}
		})
	}
}

func durationRunner(t *testing.T, o Options, speakers []string) *DurationRunner {
	t.Helper()
	d, err := nn.NewDurationNet(nn.Config{InputDim: 3, HiddenDim: 6, OutputDim: 1, Speakers: speakers, Seed: 7})
	if err != nil {
		t.Fatal(err)
	}
	return &DurationRunner{Model: d, Setup: Setup{
		Optimizer: nn.NewAdam(d.Net, nn.DefaultAdamConfig()),
		Criterion: model.MSE{},
		Train:     o,
		Eval:      o,
	}}
}

func TestDurationRunner_MultiOutputLogging(t *testing.T) {
	log, hook := test.NewNullLogger()
	o := opts(func(o *Options) {
		o.MultiOutput = true
		o.Speakers = map[int]string{0: "a", 1: "b", 2: "c"}
	})
	r := durationRunner(t, o, []string{"a", "b", "c"})
	r.Log = log
	src := dataset.Memory{
		makeBatch(0, 2, 4, 3, 1),
		makeBatch(1, 2, 4, 3, 1),
		makeBatch(0, 1, 4, 3, 1),
		makeBatch(2, 2, 4, 3, 1),
		makeBatch(2, 2, 4, 3, 1),
	}
	hist, err := r.TrainEpoch(context.Background(), 0, src)
	if err != nil {
		t.Fatal(err)
	}

	var records []logrus.Fields
	for _, e := range hook.AllEntries() {
		if e.Message == "training" {
			records = append(records, e.Data)
		}
	}
	want := [][]string{{"a", "b"}, {"c"}}
	if len(records) != len(want) {
		t.Fatalf("got %d training records, want %d", len(records), len(want))
	}
	for i, spk := range want {
		var got []string
		for k := range records[i] {
			if strings.HasPrefix(k, "mo-") {
				got = append(got, k)
			}
		}
		if len(got) != len(spk) {
			t.Errorf("record %d has speakers %v, want %v", i, got, spk)
		}
		for _, s := range spk {
			if _, ok := records[i]["mo-"+s+"_tr_loss"]; !ok {
				t.Errorf("record %d is missing speaker %s", i, s)
			}
		}
	}
	if len(hist["mo-a_tr_loss"]) != 1 || len(hist["mo-c_tr_loss"]) != 1 {
		t.Errorf("history = %v", hist)
	}
}

func TestDurationRunner_TrainAndEval(t *testing.T) {
	o := opts(func(o *Options) {
		o.Stateful = true
		o.Stats = stats(5, 3)
	})
	r := durationRunner(t, o, nil)
	r.Log, _ = test.NewNullLogger()
	src := dataset.Memory{makeBatch(3, 3, 5, 3, 1), makeBatch(3, 2, 5, 3, 1)}
	hist, err := r.TrainEpoch(context.Background(), 0, src)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist["tr_loss"]) != 2 || len(hist["tr_nosil_dur_rmse"]) != 2 {
		t.Errorf("history = %v", hist)
	}
	scores, err := r.EvalEpoch(context.Background(), 0, src)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"total_dur_rmse", "total_nosil_dur_rmse", "so-spk3_va_dur_rmse", "va_loss"} {
		if _, ok := scores[k]; !ok {
			t.Errorf("missing %s in %v", k, scores)
		}
	}
}

type recordSink struct {
	scalars    map[string]float64
	histograms map[string]int
}

func newRecordSink() *recordSink {
	return &recordSink{scalars: map[string]float64{}, histograms: map[string]int{}}
}

func (r *recordSink) Scalar(name string, v float64, _ int) { r.scalars[name] = v }
func (r *recordSink) Histogram(name string, vs []float64, _ int) { r.histograms[name] += len(vs) }
func (r *recordSink) Audio(string, audio.Clip, int) {}

func TestDurationRunner_SinkAndEpochMeans(t *testing.T) {
	log, hook := test.NewNullLogger()
	sink := newRecordSink()
	r := durationRunner(t, opts(func(o *Options) { o.Stats = stats(5, 3) }), nil)
	r.Log, r.Sink = log, sink
	src := dataset.Memory{makeBatch(3, 2, 4, 3, 1), makeBatch(3, 2, 4, 3, 1)}
	if _, err := r.TrainEpoch(context.Background(), 0, src); err != nil {
		t.Fatal(err)
	}
	if sink.histograms["tr_dur_targets"] == 0 {
		t.Error("no training duration histogram")
	}
	var finished *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "finished epoch" {
			finished = e
		}
	}
	if finished == nil {
		t.Fatal("no finished epoch record")
	}
	for _, k := range []string{"tr_loss", "tr_nosil_dur_rmse"} {
		if _, ok := finished.Data[k]; !ok {
			t.Errorf("finished epoch record is missing %s", k)
		}
	}

	if _, err := r.EvalEpoch(context.Background(), 0, src); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"va_dur_pred", "va_dur_truth"} {
		if sink.histograms[k] == 0 {
			t.Errorf("missing histogram %s", k)
		}
	}
	if _, ok := sink.scalars["total_dur_rmse"]; !ok {
		t.Errorf("scalars = %v", sink.scalars)
	}
}

// echoDuration predicts label column 0 of every step, so a test controls
// the predictions through the labels.
type echoDuration struct{}

func (echoDuration) Save(string, string, int, bool) error { return nil }
func (echoDuration) Train() {}
func (echoDuration) Eval() {}
func (echoDuration) Backward(model.Prediction) error { return nil }
func (echoDuration) InitHiddenState(int) model.State { return nil }

func (echoDuration) Forward(x *model.Tensor, _ model.State, _ []int) (model.Prediction, model.State, error) {
	y := model.NewTensor(x.T, x.B, 1)
	for t := 0; t < x.T; t++ {
		for b := 0; b < x.B; b++ {
			y.Set(t, b, 0, x.At(t, b, 0))
		}
	}
	return model.SinglePrediction(y), nil, nil
}

type nopOptimizer struct{}

func (nopOptimizer) ZeroGrad() {}
func (nopOptimizer) Step() error { return nil }

// durationSeq builds a one-sequence batch of speaker 0 from predictions,
// targets and current phones.
func durationSeq(pred, truth []float64, phones []string) *dataset.Batch {
	b := &dataset.Batch{Speakers: []int{0}, Lengths: []int{len(pred)}}
	var labels, targets [][]float64
	var triples []dataset.PhoneTriple
	for t := range pred {
		labels = append(labels, []float64{pred[t]})
		targets = append(targets, []float64{truth[t]})
		triples = append(triples, dataset.PhoneTriple{"x", "x", phones[t]})
	}
	b.Labels = [][][]float64{labels}
	b.Targets = [][][]float64{targets}
	b.Phones = [][]dataset.PhoneTriple{triples}
	return b
}

func TestDurationRunner_PooledAndSilenceMaskedValues(t *testing.T) {
	o := opts(func(o *Options) {
		o.LogFreq = 2
		o.Stats = stats(5, 0)
	})
	log, _ := test.NewNullLogger()
	r := &DurationRunner{Model: echoDuration{}, Setup: Setup{
		Optimizer: nopOptimizer{},
		Criterion: model.MSE{},
		Train:     o, Eval: o, Log: log,
	}}
	// The silent step is the only wrong prediction of the first batch.
	src := dataset.Memory{
		durationSeq([]float64{0.9, 0.3}, []float64{0.2, 0.3}, []string{DefaultSilenceTag, "a"}),
		durationSeq([]float64{0.6, 0.6, 0.6, 0.6}, []float64{0.4, 0.4, 0.4, 0.4}, []string{"a", "i", "u", "e"}),
	}
	pooled := 1000 * math.Sqrt((0.49+4*0.04)/6)
	perBatchMean := 1000 * (math.Sqrt(0.49/2) + 0.2) / 2
	nosil := 1000 * math.Sqrt(4*0.04/5)
	near := func(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

	hist, err := r.TrainEpoch(context.Background(), 0, src)
	if err != nil {
		t.Fatal(err)
	}
	tr := hist["tr_nosil_dur_rmse"]
	if len(tr) != 1 || !near(tr[0], nosil) {
		t.Errorf("tr_nosil_dur_rmse = %v, want [%f]", tr, nosil)
	}

	scores, err := r.EvalEpoch(context.Background(), 0, src)
	if err != nil {
		t.Fatal(err)
	}
	if got := scores["total_dur_rmse"]; !near(got, pooled) || near(got, perBatchMean) {
		t.Errorf("total_dur_rmse = %f, want pooled %f (per-batch mean is %f)", got, pooled, perBatchMean)
	}
	if got := scores["total_nosil_dur_rmse"]; !near(got, nosil) {
		t.Errorf("total_nosil_dur_rmse = %f, want %f", got, nosil)
	}
	if got := scores["so-spk0_va_dur_rmse"]; !near(got, pooled) {
		t.Errorf("so-spk0_va_dur_rmse = %f, want %f", got, pooled)
	}
}

func TestDurationRunner_Errors(t *testing.T) {
	r := durationRunner(t, opts(nil), nil)
	r.Log, _ = test.NewNullLogger()
	mixed := makeBatch(0, 2, 3, 3, 1)
	mixed.Speakers[1] = 1
	if _, err := r.TrainEpoch(context.Background(), 0, dataset.Memory{mixed}); !errors.Is(err, ErrMixedSpeakers) {
		t.Errorf("mixed batch error = %v", err)
	}
	if _, err := r.EvalEpoch(context.Background(), 0, dataset.Memory{makeBatch(0, 1, 3, 3, 1)}); !errors.Is(err, speaker.ErrMissingStats) {
		t.Errorf("eval without stats error = %v", err)
	}
}

func TestAcousticRunner_EvalKeys(t *testing.T) {
	const D = 5
	a, err := nn.NewAcousticNet(nn.Config{InputDim: 3, HiddenDim: 6, OutputDim: D, Seed: 9})
	if err != nil {
		t.Fatal(err)
	}
	o := opts(func(o *Options) {
		o.Stats = stats(D, 1)
		o.ResetState = true
	})
	log, _ := test.NewNullLogger()
	r := &AcousticRunner{Model: a, Setup: Setup{
		Optimizer: nn.NewAdam(a.Net, nn.DefaultAdamConfig()),
		Criterion: model.MSE{},
		Train:     o, Eval: o, Log: log,
	}}
	src := dataset.Memory{makeBatch(1, 2, 6, 3, D), makeBatch(1, 1, 6, 3, D)}
	if _, err := r.TrainEpoch(context.Background(), 0, src); err != nil {
		t.Fatal(err)
	}
	scores, err := r.EvalEpoch(context.Background(), 0, src)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{
		"total_aco_mcd", "total_nosil_aco_mcd", "total_aco_afpr", "total_nosil_aco_afpr",
		"total_aco_f0rmse", "total_nosil_aco_f0rmse", "A.total", "F.total",
		"so-spk1_va_mcd", "so-spk1_va_f0rmse", "so-A.spk1_va_afpr", "so-F.spk1_va_afpr",
	} {
		v, ok := scores[k]
		if !ok {
			t.Errorf("missing %s", k)
		}
		if math.IsNaN(v) {
			t.Errorf("%s is NaN", k)
		}
	}
}

func TestAttentionRunner(t *testing.T) {
	const D = 4
	at, err := nn.NewAttentionNet(nn.Config{InputDim: 3, HiddenDim: 6, OutputDim: D, Seed: 5}, true)
	if err != nil {
		t.Fatal(err)
	}
	o := opts(func(o *Options) { o.Decoder = true })
	log, _ := test.NewNullLogger()
	r := &AttentionRunner{Model: at, Setup: Setup{
		Optimizer: nn.NewAdam(at.Net, nn.DefaultAdamConfig()),
		Criterion: model.MSE{},
		Train:     o, Eval: o, Log: log,
	}}
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}
	hist, err := r.TrainEpoch(context.Background(), 0, dataset.Memory{makeBatch(0, 2, 4, 3, D), makeBatch(0, 2, 3, 3, D)})
	if err != nil {
		t.Fatal(err)
	}
	if len(hist["tr_nosil_aco_mcd"]) != 2 {
		t.Errorf("history = %v", hist)
	}

	r.Train.MultiOutput = true
	r.Train.Speakers = map[int]string{0: "a"}
	if err := r.Validate(); !errors.Is(err, ErrConfig) {
		t.Errorf("multi-output attention error = %v", err)
	}
}

func TestTeacherFeedback(t *testing.T) {
	y := model.NewTensor(3, 2, 1)
	for i := range y.Data {
		y.Data[i] = float64(i + 1)
	}
	fb := teacherFeedback(y)
	want := []float64{0, 0, 1, 2, 3, 4}
	for i, w := range want {
		if fb.Data[i] != w {
			t.Fatalf("feedback = %v, want %v", fb.Data, want)
		}
	}
}
