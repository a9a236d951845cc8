package trainer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ieee0824/tts-go/dataset"
	"github.com/ieee0824/tts-go/metrics"
	"github.com/ieee0824/tts-go/model"
	"github.com/ieee0824/tts-go/monitor"
	"github.com/ieee0824/tts-go/state"
	"github.com/ieee0824/tts-go/vocoder"
)

// Setup is what every runner needs besides its model.
type Setup struct {
	Optimizer model.Optimizer
	Criterion model.Criterion
	Train     Options
	Eval      Options
	Log       logrus.FieldLogger
	// Sink receives curves, histograms and audio. Optional.
	Sink monitor.Sink
	// Vocoder renders the monitoring clip after acoustic evaluation.
	// Optional; ignored without a Sink.
	Vocoder vocoder.Renderer
}

func (s *Setup) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

func (s *Setup) validate(needsOptimizer bool) error {
	if needsOptimizer && (s.Optimizer == nil || s.Criterion == nil) {
		return fmt.Errorf("%w: training needs an optimizer and a loss", ErrConfig)
	}
	if err := s.Train.Validate(); err != nil {
		return fmt.Errorf("training options: %w", err)
	}
	if err := s.Eval.Validate(); err != nil {
		return fmt.Errorf("evaluation options: %w", err)
	}
	return nil
}

// backprop runs one optimizer update for the head of speaker.
func (s *Setup) backprop(m model.Module, pred model.Prediction, head string, yhat, y *model.Tensor) (float64, error) {
	loss, grad, err := s.Criterion.Loss(yhat, y)
	if err != nil {
		return 0, err
	}
	s.Optimizer.ZeroGrad()
	if err := m.Backward(pred.GradientFor(head, grad)); err != nil {
		return 0, err
	}
	return loss, s.Optimizer.Step()
}

// evalPass accumulates one evaluation epoch.
type evalPass struct {
	buf    metrics.Buffer
	losses []float64
}

func (e *evalPass) add(s *Setup, yhat, y *model.Tensor, b *dataset.Batch) error {
	if s.Criterion != nil {
		loss, _, err := s.Criterion.Loss(yhat, y)
		if err != nil {
			return err
		}
		e.losses = append(e.losses, loss)
	}
	return e.buf.Append(yhat, y, b.Lengths, b.Speakers, b.CurrentPhones(), s.Eval.SilenceTag)
}

func (e *evalPass) finish(ctx context.Context, s *Setup, st stream, epoch int) (map[string]float64, error) {
	var (
		out map[string]float64
		err error
	)
	if st == durationStream {
		out, err = durationScores(&e.buf, s.Eval)
	} else {
		out, err = acousticScores(&e.buf, s.Eval)
	}
	if err != nil {
		return nil, err
	}
	out["va_loss"] = meanLoss(e.losses)
	if st == durationStream {
		durationHistograms(s.Sink, &e.buf, epoch)
	} else {
		acousticHistograms(s.Sink, &e.buf, epoch)
		renderSample(ctx, s.Vocoder, s.Sink, &e.buf, epoch, s.logger())
	}
	f := logrus.Fields{"epoch": epoch}
	for _, k := range sortedKeys(out) {
		f[k] = out[k]
		monitor.Scalar(s.Sink, k, out[k], epoch)
	}
	s.logger().WithFields(f).Info("evaluation")
	return out, nil
}

// DurationRunner trains and evaluates a duration model.
type DurationRunner struct {
	Model model.DurationModel
	Setup
}

// Validate implements the engine's fail-fast check.
func (r *DurationRunner) Validate() error {
	if r.Model == nil {
		return fmt.Errorf("%w: no duration model", ErrConfig)
	}
	return r.validate(true)
}

// durationState picks the state for batch i. Multi-output runs keep one
// state per speaker; a stateful single-output run carries one state through
// the epoch; otherwise each batch starts fresh.
func (r *DurationRunner) durationState(o Options, cache *state.Cache, carried model.State, spk, size int) model.State {
	switch {
	case o.MultiOutput:
		h, _ := cache.GetOrInit(o.slot(spk), size)
		return h
	case o.Stateful && carried != nil:
		return carried.Detach()
	default:
		return r.Model.InitHiddenState(size)
	}
}

func (r *DurationRunner) newCache() *state.Cache {
	return state.NewCache(func(bs int) (model.State, model.State) {
		return r.Model.InitHiddenState(bs), nil
	}, r.logger())
}

// TrainEpoch runs one training pass and returns the logged metrics.
func (r *DurationRunner) TrainEpoch(ctx context.Context, epoch int, src dataset.Source) (map[string][]float64, error) {
	o := r.Train
	r.Model.Train()
	cache := r.newCache()
	defer cache.Reset()
	p := newProgress(o, durationStream, r.logger(), r.Sink, epoch, src.Len())
	var carried model.State
	for i := 0; i < src.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, spk, err := fetch(src, i)
		if err != nil {
			return nil, err
		}
		x, y := b.LabelTensor(), b.TargetTensor()
		h := r.durationState(o, cache, carried, spk, b.Size())
		pred, next, err := r.Model.Forward(x, h, b.Speakers)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		head := o.name(spk)
		yhat, err := pred.Resolve(head)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		loss, err := r.backprop(r.Model, pred, head, yhat, y)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		if o.MultiOutput {
			cache.Put(o.slot(spk), next, nil)
		}
		carried = next
		if err := p.add(i, spk, loss, yhat, y, b); err != nil {
			return nil, err
		}
	}
	return p.finish(), nil
}

// EvalEpoch scores the model over the whole source.
func (r *DurationRunner) EvalEpoch(ctx context.Context, epoch int, src dataset.Source) (map[string]float64, error) {
	o := r.Eval
	r.Model.Eval()
	cache := r.newCache()
	defer cache.Reset()
	var (
		pass    evalPass
		carried model.State
	)
	for i := 0; i < src.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, spk, err := fetch(src, i)
		if err != nil {
			return nil, err
		}
		x, y := b.LabelTensor(), b.TargetTensor()
		h := r.durationState(o, cache, carried, spk, b.Size())
		pred, next, err := r.Model.Forward(x, h, b.Speakers)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		yhat, err := pred.Resolve(o.name(spk))
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		switch {
		case o.ResetState:
			cache.Drop(o.slot(spk))
			carried = nil
		case o.MultiOutput:
			cache.Put(o.slot(spk), next, nil)
		default:
			carried = next
		}
		if err := pass.add(&r.Setup, yhat, y, b); err != nil {
			return nil, err
		}
	}
	return pass.finish(ctx, &r.Setup, durationStream, epoch)
}

// AcousticRunner trains and evaluates a recurrent acoustic model. Its
// state is always carried per speaker through a state.Cache.
type AcousticRunner struct {
	Model model.AcousticModel
	Setup
}

// Validate implements the engine's fail-fast check.
func (r *AcousticRunner) Validate() error {
	if r.Model == nil {
		return fmt.Errorf("%w: no acoustic model", ErrConfig)
	}
	return r.validate(true)
}

func (r *AcousticRunner) newCache() *state.Cache {
	return state.NewCache(func(bs int) (model.State, model.State) {
		return r.Model.InitHiddenState(bs), r.Model.InitOutputState(bs)
	}, r.logger())
}

// TrainEpoch runs one training pass and returns the logged metrics.
func (r *AcousticRunner) TrainEpoch(ctx context.Context, epoch int, src dataset.Source) (map[string][]float64, error) {
	o := r.Train
	r.Model.Train()
	cache := r.newCache()
	defer cache.Reset()
	p := newProgress(o, acousticStream, r.logger(), r.Sink, epoch, src.Len())
	for i := 0; i < src.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, spk, err := fetch(src, i)
		if err != nil {
			return nil, err
		}
		x, y := b.LabelTensor(), b.TargetTensor()
		h, out := cache.GetOrInit(o.slot(spk), b.Size())
		pred, nh, no, err := r.Model.Forward(x, h, out, b.Speakers)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		head := o.name(spk)
		yhat, err := pred.Resolve(head)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		loss, err := r.backprop(r.Model, pred, head, yhat, y)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		cache.Put(o.slot(spk), nh, no)
		if err := p.add(i, spk, loss, yhat, y, b); err != nil {
			return nil, err
		}
	}
	return p.finish(), nil
}

// EvalEpoch scores the model over the whole source.
func (r *AcousticRunner) EvalEpoch(ctx context.Context, epoch int, src dataset.Source) (map[string]float64, error) {
	o := r.Eval
	r.Model.Eval()
	cache := r.newCache()
	defer cache.Reset()
	var pass evalPass
	for i := 0; i < src.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, spk, err := fetch(src, i)
		if err != nil {
			return nil, err
		}
		x, y := b.LabelTensor(), b.TargetTensor()
		h, out := cache.GetOrInit(o.slot(spk), b.Size())
		pred, nh, no, err := r.Model.Forward(x, h, out, b.Speakers)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		yhat, err := pred.Resolve(o.name(spk))
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		if o.ResetState {
			cache.Drop(o.slot(spk))
		} else {
			cache.Put(o.slot(spk), nh, no)
		}
		if err := pass.add(&r.Setup, yhat, y, b); err != nil {
			return nil, err
		}
	}
	return pass.finish(ctx, &r.Setup, acousticStream, epoch)
}

// AttentionRunner trains and evaluates the stateless acoustic variant. The
// position of the first step of each batch continues from the previous
// batch.
type AttentionRunner struct {
	Model model.AttentionModel
	Setup
}

// Validate implements the engine's fail-fast check.
func (r *AttentionRunner) Validate() error {
	if r.Model == nil {
		return fmt.Errorf("%w: no attention model", ErrConfig)
	}
	if r.Train.MultiOutput || r.Eval.MultiOutput {
		return fmt.Errorf("%w: attention models are single-output", ErrConfig)
	}
	return r.validate(true)
}

// teacherFeedback returns a zero frame followed by every target frame but
// the last.
func teacherFeedback(y *model.Tensor) *model.Tensor {
	fb := model.NewTensor(y.T, y.B, y.D)
	if y.T == 0 {
		return fb
	}
	copy(fb.Data[y.B*y.D:], y.Data[:(y.T-1)*y.B*y.D])
	return fb
}

func (r *AttentionRunner) forward(o Options, b *dataset.Batch, pos int) (yhat, y *model.Tensor, err error) {
	x, y := b.LabelTensor(), b.TargetTensor()
	var fb *model.Tensor
	if o.Decoder {
		fb = teacherFeedback(y)
	}
	yhat, err = r.Model.Forward(x, fb, b.Speakers, pos)
	return yhat, y, err
}

// TrainEpoch runs one training pass and returns the logged metrics.
func (r *AttentionRunner) TrainEpoch(ctx context.Context, epoch int, src dataset.Source) (map[string][]float64, error) {
	o := r.Train
	r.Model.Train()
	p := newProgress(o, acousticStream, r.logger(), r.Sink, epoch, src.Len())
	pos := 0
	for i := 0; i < src.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, spk, err := fetch(src, i)
		if err != nil {
			return nil, err
		}
		yhat, y, err := r.forward(o, b, pos)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		loss, err := r.backprop(r.Model, model.SinglePrediction(yhat), "", yhat, y)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		pos += y.T
		if err := p.add(i, spk, loss, yhat, y, b); err != nil {
			return nil, err
		}
	}
	return p.finish(), nil
}

// EvalEpoch scores the model over the whole source.
func (r *AttentionRunner) EvalEpoch(ctx context.Context, epoch int, src dataset.Source) (map[string]float64, error) {
	o := r.Eval
	r.Model.Eval()
	var pass evalPass
	pos := 0
	for i := 0; i < src.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, _, err := fetch(src, i)
		if err != nil {
			return nil, err
		}
		yhat, y, err := r.forward(o, b, pos)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		if !o.ResetState {
			pos += y.T
		}
		if err := pass.add(&r.Setup, yhat, y, b); err != nil {
			return nil, err
		}
	}
	return pass.finish(ctx, &r.Setup, acousticStream, epoch)
}
