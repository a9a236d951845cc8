package label

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Normalization selects how numeric features are scaled.
type Normalization int

const (
	ZScore Normalization = iota
	MinMax
)

// Encoder turns a unit into its numeric code vector.
type Encoder interface {
	Encode(u Unit, norm Normalization) ([]float64, error)
	Dim() int
}

// Codebook is the encoder statistics file: the phone inventory and the
// per-feature statistics of the training corpus.
type Codebook struct {
	Phones []string  `yaml:"phones"`
	Mean   []float64 `yaml:"mean"`
	Std    []float64 `yaml:"std"`
	Min    []float64 `yaml:"min"`
	Max    []float64 `yaml:"max"`

	index map[string]int
}

// LoadCodebook reads a YAML codebook.
func LoadCodebook(path string) (*Codebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("codebook: %w", err)
	}
	var cb Codebook
	if err := yaml.Unmarshal(data, &cb); err != nil {
		return nil, fmt.Errorf("codebook: %w", err)
	}
	if err := cb.init(); err != nil {
		return nil, err
	}
	return &cb, nil
}

func (cb *Codebook) init() error {
	n := len(cb.Mean)
	if len(cb.Std) != n || len(cb.Min) != n || len(cb.Max) != n {
		return fmt.Errorf("codebook: statistics lengths differ (mean %d, std %d, min %d, max %d)",
			n, len(cb.Std), len(cb.Min), len(cb.Max))
	}
	if len(cb.Phones) == 0 {
		return fmt.Errorf("codebook: empty phone inventory")
	}
	cb.index = make(map[string]int, len(cb.Phones))
	for i, p := range cb.Phones {
		cb.index[p] = i
	}
	return nil
}

// Dim returns the code width: one-hot phone plus numeric features.
func (cb *Codebook) Dim() int { return len(cb.Phones) + len(cb.Mean) }

// Encode implements Encoder. Unknown phones encode as an all-zero one-hot.
func (cb *Codebook) Encode(u Unit, norm Normalization) ([]float64, error) {
	if cb.index == nil {
		if err := cb.init(); err != nil {
			return nil, err
		}
	}
	if len(u.Features) != len(cb.Mean) {
		return nil, fmt.Errorf("codebook: unit %q has %d features, codebook has %d", u.Phone, len(u.Features), len(cb.Mean))
	}
	code := make([]float64, cb.Dim())
	if i, ok := cb.index[u.Phone]; ok {
		code[i] = 1
	}
	off := len(cb.Phones)
	for i, v := range u.Features {
		switch norm {
		case ZScore:
			if cb.Std[i] > 0 {
				v = (v - cb.Mean[i]) / cb.Std[i]
			} else {
				v = 0
			}
		case MinMax:
			if r := cb.Max[i] - cb.Min[i]; r > 0 {
				v = (v - cb.Min[i]) / r
			} else {
				v = 0
			}
		default:
			return nil, fmt.Errorf("codebook: unknown normalization %d", norm)
		}
		code[off+i] = v
	}
	return code, nil
}

// EncodeAll encodes every unit.
func EncodeAll(e Encoder, units []Unit, norm Normalization) ([][]float64, error) {
	out := make([][]float64, len(units))
	for i, u := range units {
		c, err := e.Encode(u, norm)
		if err != nil {
			return nil, fmt.Errorf("unit %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}
