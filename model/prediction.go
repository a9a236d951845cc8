package model

import (
	"fmt"
	"sort"
)

// Prediction is the output of a forward pass: either one tensor, or one
// tensor per speaker head for multi-output models. Exactly one of Single and
// PerSpeaker is set.
type Prediction struct {
	Single     *Tensor
	PerSpeaker map[string]*Tensor
}

// SinglePrediction wraps a single-output tensor.
func SinglePrediction(y *Tensor) Prediction {
	return Prediction{Single: y}
}

// SpeakerPrediction wraps per-speaker head outputs.
func SpeakerPrediction(heads map[string]*Tensor) Prediction {
	return Prediction{PerSpeaker: heads}
}

// MultiOutput reports whether the prediction carries per-speaker heads.
func (p Prediction) MultiOutput() bool {
	return p.PerSpeaker != nil
}

// Resolve returns the tensor to score for a batch of the given speaker.
// Single-output predictions ignore the speaker name.
func (p Prediction) Resolve(speaker string) (*Tensor, error) {
	if !p.MultiOutput() {
		if p.Single == nil {
			return nil, fmt.Errorf("empty prediction")
		}
		return p.Single, nil
	}
	y, ok := p.PerSpeaker[speaker]
	if !ok {
		return nil, fmt.Errorf("no output head for speaker %q (have %v)", speaker, p.Heads())
	}
	return y, nil
}

// Heads returns the sorted speaker names of a multi-output prediction.
func (p Prediction) Heads() []string {
	names := make([]string, 0, len(p.PerSpeaker))
	for k := range p.PerSpeaker {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// GradientFor builds a gradient shaped like p that carries grad only for the
// head that was scored.
func (p Prediction) GradientFor(speaker string, grad *Tensor) Prediction {
	if !p.MultiOutput() {
		return SinglePrediction(grad)
	}
	return SpeakerPrediction(map[string]*Tensor{speaker: grad})
}
