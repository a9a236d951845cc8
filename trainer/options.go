// Package trainer drives epochs of duration and acoustic model training and
// evaluation, and the outer loop with early stopping and checkpointing.
package trainer

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/ieee0824/tts-go/dataset"
	"github.com/ieee0824/tts-go/metrics"
	"github.com/ieee0824/tts-go/speaker"
)

var (
	// ErrConfig marks configuration errors detected before or while
	// starting a run. They are never retried.
	ErrConfig = errors.New("invalid training configuration")
	// ErrMixedSpeakers is returned for a batch holding more than one speaker.
	ErrMixedSpeakers = errors.New("batch mixes speakers")
)

// DefaultSilenceTag is the phone that marks silent units.
const DefaultSilenceTag = "pau"

// Options configures one epoch runner.
type Options struct {
	// MultiOutput selects per-speaker heads and per-speaker state.
	MultiOutput bool
	// Stateful carries a single duration state across the whole epoch.
	Stateful bool
	// SilenceTag is the phone excluded by the no-silence metrics.
	SilenceTag string
	// Speakers maps speaker ids to head names. Required for MultiOutput.
	Speakers map[int]string
	// Stats de-normalizes predictions for metrics. Required for evaluation.
	Stats speaker.Table
	// ResetState drops a speaker's recurrent state after each evaluation
	// batch and keeps the attention position at zero.
	ResetState bool
	// Decoder feeds the previous target frame to an attention model.
	Decoder bool
	// LogFreq is the logging interval in batches, or in rounds over every
	// speaker when MultiOutput is set.
	LogFreq int
}

// DefaultOptions returns single-output options with a log line every 50 batches.
func DefaultOptions() Options {
	return Options{SilenceTag: DefaultSilenceTag, LogFreq: 50}
}

// Validate checks the options for consistency.
func (o Options) Validate() error {
	if o.LogFreq <= 0 {
		return fmt.Errorf("%w: log frequency must be positive, got %d", ErrConfig, o.LogFreq)
	}
	if o.MultiOutput && len(o.Speakers) == 0 {
		return fmt.Errorf("%w: multi-output requires a speaker index", ErrConfig)
	}
	return nil
}

// ParseOptions builds Options from a free-form map such as a YAML section.
// Recognized keys are consumed; any key left over is an ErrConfig.
//
//	multi_output: bool      stateful: bool      silence_tag: string
//	speakers: {name: id}    stats: path         reset_state: bool
//	decoder: bool           log_freq: int
func ParseOptions(raw map[string]any) (Options, error) {
	o := DefaultOptions()
	rest := make(map[string]any, len(raw))
	for k, v := range raw {
		rest[k] = v
	}
	var err error
	pop := func(key string, apply func(v any) error) {
		v, ok := rest[key]
		if !ok || err != nil {
			return
		}
		delete(rest, key)
		if e := apply(v); e != nil {
			err = fmt.Errorf("%w: option %s: %v", ErrConfig, key, e)
		}
	}
	pop("multi_output", boolInto(&o.MultiOutput))
	pop("stateful", boolInto(&o.Stateful))
	pop("reset_state", boolInto(&o.ResetState))
	pop("decoder", boolInto(&o.Decoder))
	pop("silence_tag", func(v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", v)
		}
		o.SilenceTag = s
		return nil
	})
	pop("log_freq", func(v any) error {
		n, e := toInt(v)
		o.LogFreq = n
		return e
	})
	pop("speakers", func(v any) error {
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("want a name to id mapping, got %T", v)
		}
		o.Speakers = make(map[int]string, len(m))
		for name, id := range m {
			n, e := toInt(id)
			if e != nil {
				return fmt.Errorf("speaker %s: %v", name, e)
			}
			o.Speakers[n] = name
		}
		return nil
	})
	pop("stats", func(v any) error {
		p, ok := v.(string)
		if !ok {
			return fmt.Errorf("want a file path, got %T", v)
		}
		t, e := speaker.Load(p)
		o.Stats = t
		return e
	})
	if err != nil {
		return Options{}, err
	}
	if len(rest) > 0 {
		keys := make([]string, 0, len(rest))
		for k := range rest {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Options{}, fmt.Errorf("%w: unrecognized options %v", ErrConfig, keys)
	}
	return o, o.Validate()
}

func boolInto(dst *bool) func(any) error {
	return func(v any) error {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
		*dst = b
		return nil
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("want integer, got %v", n)
		}
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("want integer, got %T", v)
}

// prefix tags per-speaker metric keys.
func (o Options) prefix() string {
	if o.MultiOutput {
		return "mo"
	}
	return "so"
}

// name returns the display name of speaker id.
func (o Options) name(id int) string {
	if n, ok := o.Speakers[id]; ok {
		return n
	}
	return metrics.Name(o.Stats.Names(), id)
}

// slot returns the state cache key of speaker id. Single-output runs share
// one slot.
func (o Options) slot(id int) string {
	if o.MultiOutput {
		return o.name(id)
	}
	return ""
}

// interval returns the number of batches per logging interval.
func (o Options) interval() int {
	if o.MultiOutput {
		return len(o.Speakers) * o.LogFreq
	}
	return o.LogFreq
}

// checkBatch validates b and returns its single speaker.
func checkBatch(b *dataset.Batch) (int, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	if !metrics.Homogeneous(b.Speakers) {
		return 0, fmt.Errorf("%w: %v", ErrMixedSpeakers, b.Speakers)
	}
	return b.Speakers[0], nil
}
