package trainer

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/ieee0824/tts-go/dataset"
	"github.com/ieee0824/tts-go/metrics"
	"github.com/ieee0824/tts-go/model"
	"github.com/ieee0824/tts-go/monitor"
	"github.com/ieee0824/tts-go/speaker"
)

// stream identifies the target a runner regresses.
type stream int

const (
	durationStream stream = iota
	acousticStream
)

func (s stream) bounds(t speaker.Table) func(int) (speaker.Bounds, error) {
	if s == durationStream {
		return t.Duration
	}
	return t.Acoustic
}

// fetch loads batch i and checks that it holds one speaker.
func fetch(src dataset.Source, i int) (*dataset.Batch, int, error) {
	b, err := src.Batch(i)
	if err != nil {
		return nil, 0, fmt.Errorf("batch %d: %w", i, err)
	}
	spk, err := checkBatch(b)
	if err != nil {
		return nil, 0, fmt.Errorf("batch %d: %w", i, err)
	}
	return b, spk, nil
}

// progress accumulates one training epoch and emits the periodic log
// records.
type progress struct {
	opts    Options
	stream  stream
	log     logrus.FieldLogger
	sink    monitor.Sink
	epoch   int
	batches int

	hist   map[string][]float64
	losses []float64
	mo     map[string][]float64
	buf    metrics.Buffer
}

func newProgress(o Options, s stream, log logrus.FieldLogger, sink monitor.Sink, epoch, batches int) *progress {
	return &progress{
		opts:    o,
		stream:  s,
		log:     log,
		sink:    sink,
		epoch:   epoch,
		batches: batches,
		hist:    make(map[string][]float64),
		mo:      make(map[string][]float64),
	}
}

// add records the loss of batch b and emits a log record at the end of a
// logging interval.
func (p *progress) add(b, spk int, loss float64, pred, truth *model.Tensor, batch *dataset.Batch) error {
	if p.opts.MultiOutput {
		name := p.opts.name(spk)
		p.mo[name] = append(p.mo[name], loss)
	} else {
		p.losses = append(p.losses, loss)
		if err := p.buf.Append(pred, truth, batch.Lengths, batch.Speakers, batch.CurrentPhones(), p.opts.SilenceTag); err != nil {
			return err
		}
	}
	if (b+1)%p.opts.interval() != 0 && b != p.batches-1 {
		return nil
	}
	if p.opts.MultiOutput {
		p.emitSpeakers(b)
		return nil
	}
	return p.emit(b)
}

func (p *progress) step(b int) int { return p.epoch*p.batches + b }

func (p *progress) fields(b int) logrus.Fields {
	return logrus.Fields{"epoch": p.epoch, "batch": b + 1, "batches": p.batches}
}

// emitSpeakers logs one composite record with the mean loss of every speaker
// seen since the previous record, then starts a new interval.
func (p *progress) emitSpeakers(b int) {
	if len(p.mo) == 0 {
		return
	}
	f := p.fields(b)
	for name, losses := range p.mo {
		key := fmt.Sprintf("mo-%s_tr_loss", name)
		m := stat.Mean(losses, nil)
		f[key] = m
		p.hist[key] = append(p.hist[key], m)
		monitor.Scalar(p.sink, key, m, p.step(b))
	}
	p.log.WithFields(f).Info("training")
	p.mo = make(map[string][]float64)
}

func (p *progress) emit(b int) error {
	f := p.fields(b)
	loss := stat.Mean(p.losses, nil)
	f["tr_loss"] = loss
	p.hist["tr_loss"] = append(p.hist["tr_loss"], loss)
	monitor.Scalar(p.sink, "tr_loss", loss, p.step(b))

	physical := p.opts.Stats != nil
	if physical {
		if err := p.buf.Denormalize(p.stream.bounds(p.opts.Stats)); err != nil {
			return err
		}
	}
	switch p.stream {
	case durationStream:
		scale := 1.0
		if physical {
			scale = 1000
		}
		pred, truth := p.buf.Column(0, func(v float64) float64 { return v * scale })
		rmse, _ := metrics.RMSE(pred, truth, p.buf.Speakers, p.buf.Mask)
		f["tr_nosil_dur_rmse"] = rmse
		p.hist["tr_nosil_dur_rmse"] = append(p.hist["tr_nosil_dur_rmse"], rmse)
		monitor.Histogram(p.sink, "tr_dur_targets", truth, p.step(b))
	case acousticStream:
		if err := checkAcousticDim(p.buf.Dim); err != nil {
			return err
		}
		pred, truth := p.buf.Columns(0, p.buf.Dim-3)
		mcd, _ := metrics.MCD(pred, truth, p.buf.Speakers, p.buf.Mask)
		f["tr_nosil_aco_mcd"] = mcd
		p.hist["tr_nosil_aco_mcd"] = append(p.hist["tr_nosil_aco_mcd"], mcd)
	}
	p.log.WithFields(f).Info("training")
	p.losses = p.losses[:0]
	p.buf = metrics.Buffer{}
	return nil
}

// finish logs the epoch means and returns the accumulator.
func (p *progress) finish() map[string][]float64 {
	f := logrus.Fields{"epoch": p.epoch}
	for _, k := range sortedKeys(p.hist) {
		f[k] = stat.Mean(p.hist[k], nil)
	}
	p.log.WithFields(f).Info("finished epoch")
	return p.hist
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
