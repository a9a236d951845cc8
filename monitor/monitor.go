// Package monitor is the optional sink for training curves, histograms and
// audio samples. Every helper accepts a nil Sink and does nothing, so
// monitoring never changes what training computes.
package monitor

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/ieee0824/tts-go/audio"
)

// MaxClip is the longest audio clip a sink receives.
const MaxClip = 10 * time.Second

// Sink receives monitoring events keyed by a global step.
type Sink interface {
	Scalar(name string, value float64, step int)
	Histogram(name string, values []float64, step int)
	Audio(name string, clip audio.Clip, step int)
}

// Scalar forwards to s when it is non-nil.
func Scalar(s Sink, name string, value float64, step int) {
	if s != nil {
		s.Scalar(name, value, step)
	}
}

// Histogram forwards to s when it is non-nil.
func Histogram(s Sink, name string, values []float64, step int) {
	if s != nil && len(values) > 0 {
		s.Histogram(name, values, step)
	}
}

// Audio forwards clip trimmed to MaxClip when s is non-nil.
func Audio(s Sink, name string, clip audio.Clip, step int) {
	if s != nil {
		s.Audio(name, clip.Trim(MaxClip), step)
	}
}

// Multi fans every event out to all sinks.
type Multi []Sink

func (m Multi) Scalar(name string, value float64, step int) {
	for _, s := range m {
		Scalar(s, name, value, step)
	}
}

func (m Multi) Histogram(name string, values []float64, step int) {
	for _, s := range m {
		Histogram(s, name, values, step)
	}
}

func (m Multi) Audio(name string, clip audio.Clip, step int) {
	for _, s := range m {
		Audio(s, name, clip, step)
	}
}

// Summary condenses a histogram.
type Summary struct {
	N                  int
	Mean, Std          float64
	Min, P50, P95, Max float64
}

// Summarize computes a Summary of values.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mean, std := stat.MeanStdDev(sorted, nil)
	return Summary{
		N:    len(sorted),
		Mean: mean,
		Std:  std,
		Min:  sorted[0],
		P50:  stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:  stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Max:  sorted[len(sorted)-1],
	}
}

// LogSink writes events as structured log records at Debug level.
type LogSink struct {
	Log logrus.FieldLogger
}

func (l LogSink) Scalar(name string, value float64, step int) {
	l.Log.WithFields(logrus.Fields{"scalar": name, "value": value, "step": step}).Debug("monitor")
}

func (l LogSink) Histogram(name string, values []float64, step int) {
	s := Summarize(values)
	l.Log.WithFields(logrus.Fields{
		"histogram": name, "step": step, "n": s.N,
		"mean": s.Mean, "std": s.Std, "min": s.Min, "p50": s.P50, "p95": s.P95, "max": s.Max,
	}).Debug("monitor")
}

func (l LogSink) Audio(name string, clip audio.Clip, step int) {
	l.Log.WithFields(logrus.Fields{
		"audio": name, "step": step, "sample_rate": clip.SampleRate, "duration": clip.Duration().String(),
	}).Debug("monitor")
}
