// Package speaker holds per-speaker normalization statistics.
//
// Model targets are min-max normalized per speaker. A Table maps the integer
// speaker id used in batches to the bounds needed to bring predictions back
// into physical units (seconds for durations, native feature units for
// acoustic frames).
package speaker

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrMissingStats is returned when a speaker has no statistics for the
// stream being de-normalized.
var ErrMissingStats = errors.New("missing normalization statistics")

// Bounds are per-dimension minimum and maximum values.
type Bounds struct {
	Min []float64 `yaml:"min"`
	Max []float64 `yaml:"max"`
}

// Dim returns the number of dimensions covered by the bounds.
func (b Bounds) Dim() int { return len(b.Min) }

func (b Bounds) valid() error {
	if len(b.Min) == 0 || len(b.Min) != len(b.Max) {
		return fmt.Errorf("bounds: min has %d dims, max has %d", len(b.Min), len(b.Max))
	}
	return nil
}

// Denormalize maps row from [0,1] back to [min,max] in place. A row shorter
// or longer than the bounds is an error.
func (b Bounds) Denormalize(row []float64) error {
	if len(row) != len(b.Min) {
		return fmt.Errorf("denormalize: row has %d dims, bounds have %d", len(row), len(b.Min))
	}
	for i, v := range row {
		row[i] = v*(b.Max[i]-b.Min[i]) + b.Min[i]
	}
	return nil
}

// Normalize maps row from [min,max] into [0,1] in place. Dimensions with a
// zero range normalize to 0.
func (b Bounds) Normalize(row []float64) error {
	if len(row) != len(b.Min) {
		return fmt.Errorf("normalize: row has %d dims, bounds have %d", len(row), len(b.Min))
	}
	for i, v := range row {
		r := b.Max[i] - b.Min[i]
		if r == 0 {
			row[i] = 0
			continue
		}
		row[i] = (v - b.Min[i]) / r
	}
	return nil
}

// Speaker is one entry of the statistics table.
type Speaker struct {
	Name     string `yaml:"name"`
	Duration Bounds `yaml:"duration"`
	Acoustic Bounds `yaml:"acoustic"`
}

// Table indexes speakers by id. It is immutable after loading.
type Table map[int]Speaker

// Load reads a YAML statistics file of the form
//
//	speakers:
//	  0: {name: "73", duration: {min: [0.01], max: [0.6]}, acoustic: {...}}
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("speaker stats: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML statistics document.
func Parse(data []byte) (Table, error) {
	var doc struct {
		Speakers map[int]Speaker `yaml:"speakers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("speaker stats: %w", err)
	}
	if len(doc.Speakers) == 0 {
		return nil, fmt.Errorf("speaker stats: no speakers")
	}
	return Table(doc.Speakers), nil
}

// Save writes t as YAML.
func (t Table) Save(path string) error {
	data, err := yaml.Marshal(map[string]map[int]Speaker{"speakers": t})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Duration returns the duration bounds of speaker id.
func (t Table) Duration(id int) (Bounds, error) {
	s, ok := t[id]
	if !ok {
		return Bounds{}, fmt.Errorf("%w: duration of speaker %d", ErrMissingStats, id)
	}
	if err := s.Duration.valid(); err != nil {
		return Bounds{}, fmt.Errorf("%w: duration of speaker %d: %v", ErrMissingStats, id, err)
	}
	return s.Duration, nil
}

// Acoustic returns the acoustic bounds of speaker id.
func (t Table) Acoustic(id int) (Bounds, error) {
	s, ok := t[id]
	if !ok {
		return Bounds{}, fmt.Errorf("%w: acoustic of speaker %d", ErrMissingStats, id)
	}
	if err := s.Acoustic.valid(); err != nil {
		return Bounds{}, fmt.Errorf("%w: acoustic of speaker %d: %v", ErrMissingStats, id, err)
	}
	return s.Acoustic, nil
}

// Names returns the id → name index. Speakers without a name use their id.
func (t Table) Names() map[int]string {
	out := make(map[int]string, len(t))
	for id, s := range t {
		if s.Name == "" {
			out[id] = fmt.Sprint(id)
			continue
		}
		out[id] = s.Name
	}
	return out
}

// IDs returns the sorted speaker ids.
func (t Table) IDs() []int {
	ids := make([]int, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
