// Package tts is the entry point for synthesizing speech from label files
// with trained duration and acoustic checkpoints.
package tts

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ieee0824/tts-go/expand"
	"github.com/ieee0824/tts-go/label"
	"github.com/ieee0824/tts-go/nn"
	"github.com/ieee0824/tts-go/speaker"
	"github.com/ieee0824/tts-go/synth"
	"github.com/ieee0824/tts-go/vocoder"
)

// Synthesizer is the top-level speech synthesizer.
type Synthesizer struct {
	Driver    synth.Driver
	Options   synth.Options
	Attention bool // acoustic checkpoint is an attention model
	durPath   string
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithDurationModel loads durations from a checkpoint. Without it every
// call must force label durations.
func WithDurationModel(path string) Option {
	return func(s *Synthesizer) {
		s.durPath = path
	}
}

// WithAttention treats the acoustic checkpoint as an attention model.
func WithAttention() Option {
	return func(s *Synthesizer) {
		s.Attention = true
	}
}

// WithOptions replaces the synthesis options.
func WithOptions(o synth.Options) Option {
	return func(s *Synthesizer) {
		s.Options = o
	}
}

// WithVocoder sets the waveform renderer. The default runs ahodecoder16_64.
func WithVocoder(r vocoder.Renderer) Option {
	return func(s *Synthesizer) {
		s.Driver.Vocoder = r
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Synthesizer) {
		s.Driver.Log = log
	}
}

// NewSynthesizer loads the acoustic checkpoint, the speaker statistics and
// the label codebook.
func NewSynthesizer(acousticPath, statsPath, codebookPath string, opts ...Option) (*Synthesizer, error) {
	s := &Synthesizer{
		Driver:  synth.Driver{Parser: label.TextParser{}, Log: logrus.StandardLogger()},
		Options: synth.Options{Stride: expand.DefaultStride, PostFilter: 1, OutDir: "."},
	}
	s.Driver.Vocoder = vocoder.Ahocoder{Log: s.Driver.Log}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.Attention {
		s.Driver.Attention, err = nn.LoadAttentionNet(acousticPath)
	} else {
		s.Driver.Acoustic, err = nn.LoadAcousticNet(acousticPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load acoustic model: %w", err)
	}
	if s.durPath != "" {
		if s.Driver.Duration, err = nn.LoadDurationNet(s.durPath); err != nil {
			return nil, fmt.Errorf("load duration model: %w", err)
		}
	}
	if s.Driver.Stats, err = speaker.Load(statsPath); err != nil {
		return nil, err
	}
	cb, err := label.LoadCodebook(codebookPath)
	if err != nil {
		return nil, err
	}
	s.Driver.Encoder = cb
	return s, nil
}

// SynthesizeFile renders labPath for speaker into <OutDir>/<name>.wav and
// returns the waveform path.
func (s *Synthesizer) SynthesizeFile(ctx context.Context, labPath string, spk int, name string) (string, error) {
	o := s.Options
	o.Speaker, o.Name = spk, name
	if s.Attention {
		return s.Driver.SynthesizeAttention(ctx, labPath, o)
	}
	return s.Driver.Synthesize(ctx, labPath, o)
}
