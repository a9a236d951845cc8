// Package synth turns a label file into a waveform: durations, frame
// expansion, acoustic prediction, de-normalization and vocoding.
package synth

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/ieee0824/tts-go/expand"
	"github.com/ieee0824/tts-go/label"
	"github.com/ieee0824/tts-go/model"
	"github.com/ieee0824/tts-go/speaker"
	"github.com/ieee0824/tts-go/vocoder"
)

// Options controls one synthesis call.
type Options struct {
	// Stride is the frame shift in seconds. Zero means expand.DefaultStride.
	Stride float64
	// Policy is "inclusive" or "exclusive". Empty picks inclusive for the
	// recurrent acoustic model and exclusive for the attention model.
	Policy string
	// PostFilter sharpens the cepstrum. Zero or one is neutral.
	PostFilter float64
	// ForceDur takes durations from the label timestamps.
	ForceDur bool
	Speaker  int
	OutDir   string
	Name     string
}

// Driver holds the collaborators of a synthesis run. Duration may be nil
// when every call forces durations. Exactly one of Acoustic and Attention
// is needed per call.
type Driver struct {
	Parser    label.Parser
	Encoder   label.Encoder
	Duration  model.DurationModel
	Acoustic  model.AcousticModel
	Attention model.AttentionModel
	Stats     speaker.Table
	Vocoder   vocoder.Renderer
	Log       logrus.FieldLogger
}

type variant struct {
	name   string
	norm   label.Normalization
	policy expand.Policy
}

var (
	recurrent = variant{"recurrent", label.ZScore, expand.Inclusive}
	attention = variant{"attention", label.MinMax, expand.Exclusive}
)

// Synthesize renders labPath with the recurrent acoustic model and returns
// the path of the waveform, or of the channel base when no vocoder is set.
func (d *Driver) Synthesize(ctx context.Context, labPath string, o Options) (string, error) {
	if d.Acoustic == nil {
		return "", fmt.Errorf("synth: no acoustic model")
	}
	return d.run(ctx, labPath, o, recurrent)
}

// SynthesizeAttention renders labPath with the attention acoustic model.
func (d *Driver) SynthesizeAttention(ctx context.Context, labPath string, o Options) (string, error) {
	if d.Attention == nil {
		return "", fmt.Errorf("synth: no attention model")
	}
	return d.run(ctx, labPath, o, attention)
}

func (d *Driver) logger() logrus.FieldLogger {
	if d.Log == nil {
		return logrus.StandardLogger()
	}
	return d.Log
}

// expander resolves the stride and boundary policy of o.
func (o Options) expander(v variant) (expand.Expander, error) {
	stride := o.Stride
	if stride == 0 {
		stride = expand.DefaultStride
	}
	p := v.policy
	if o.Policy != "" {
		var err error
		if p, err = expand.ParsePolicy(o.Policy); err != nil {
			return expand.Expander{}, err
		}
	}
	return expand.New(stride, p)
}

func (d *Driver) run(ctx context.Context, labPath string, o Options, v variant) (string, error) {
	if o.OutDir == "" || o.Name == "" {
		return "", fmt.Errorf("synth: output directory and name are required")
	}
	if !o.ForceDur && d.Duration == nil {
		return "", fmt.Errorf("synth: no duration model and durations not forced")
	}
	ex, err := o.expander(v)
	if err != nil {
		return "", err
	}
	log := d.logger().WithFields(logrus.Fields{"lab": labPath, "speaker": o.Speaker, "variant": v.name})

	units, err := label.ParseFile(d.Parser, labPath)
	if err != nil {
		return "", err
	}
	codes, err := label.EncodeAll(d.Encoder, units, v.norm)
	if err != nil {
		return "", err
	}
	norm, dur, err := d.durations(units, codes, o)
	if err != nil {
		return "", err
	}
	queries, err := ex.Expand(codes, norm, dur)
	if err != nil {
		return "", err
	}
	if len(queries) == 0 {
		return "", fmt.Errorf("synth: %s expands to no frames", labPath)
	}
	log.WithFields(logrus.Fields{"units": len(units), "frames": len(queries)}).Debug("expanded durations")

	rows, err := d.acoustic(queries, o.Speaker, v)
	if err != nil {
		return "", err
	}
	bounds, err := d.Stats.Acoustic(o.Speaker)
	if err != nil {
		return "", err
	}
	for _, r := range rows {
		if err := bounds.Denormalize(r); err != nil {
			return "", err
		}
	}
	frames, err := Channels(rows, o.PostFilter)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(o.OutDir, 0o755); err != nil {
		return "", err
	}
	base := filepath.Join(o.OutDir, o.Name)
	if err := frames.Write(base); err != nil {
		return "", err
	}
	if d.Vocoder == nil {
		return base, nil
	}
	if err := d.Vocoder.Render(ctx, base); err != nil {
		return "", err
	}
	log.WithField("wav", base+vocoder.ExtWave).Info("synthesis complete")
	return base + vocoder.ExtWave, nil
}

// durations returns the normalized and the physical (seconds) duration of
// every unit.
func (d *Driver) durations(units []label.Unit, codes [][]float64, o Options) (norm, dur []float64, err error) {
	bounds, err := d.Stats.Duration(o.Speaker)
	if err != nil {
		return nil, nil, err
	}
	norm = make([]float64, len(units))
	dur = make([]float64, len(units))
	if o.ForceDur {
		for i, s := range label.Durations(units) {
			row := []float64{s}
			if err := bounds.Normalize(row); err != nil {
				return nil, nil, err
			}
			dur[i], norm[i] = s, row[0]
		}
		return norm, dur, nil
	}

	d.Duration.Eval()
	x := model.TimeMajor([][][]float64{codes})
	pred, _, err := d.Duration.Forward(x, nil, []int{o.Speaker})
	if err != nil {
		return nil, nil, fmt.Errorf("synth: duration model: %w", err)
	}
	y, err := pred.Resolve(d.Stats.Names()[o.Speaker])
	if err != nil {
		return nil, nil, fmt.Errorf("synth: duration model: %w", err)
	}
	for i := range units {
		row := []float64{y.At(i, 0, 0)}
		if err := bounds.Denormalize(row); err != nil {
			return nil, nil, err
		}
		norm[i], dur[i] = y.At(i, 0, 0), math.Max(row[0], 0)
	}
	return norm, dur, nil
}

// acoustic predicts one normalized frame per query.
func (d *Driver) acoustic(queries [][]float64, spk int, v variant) ([][]float64, error) {
	x := model.TimeMajor([][][]float64{queries})
	var (
		y   *model.Tensor
		err error
	)
	if v == attention {
		d.Attention.Eval()
		y, err = d.Attention.Forward(x, nil, []int{spk}, 0)
	} else {
		var pred model.Prediction
		d.Acoustic.Eval()
		pred, _, _, err = d.Acoustic.Forward(x, nil, nil, []int{spk})
		if err == nil {
			y, err = pred.Resolve(d.Stats.Names()[spk])
		}
	}
	if err != nil {
		return nil, fmt.Errorf("synth: acoustic model: %w", err)
	}
	return y.BatchRows(0, len(queries)), nil
}
