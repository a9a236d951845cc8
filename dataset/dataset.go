// Package dataset defines the batches the epoch runners consume and a few
// sources for them.
//
// Batches are batch-major: Labels[b][t] is the label code of step t of
// sequence b. The runners transpose them to time-major tensors.
package dataset

import (
	"fmt"
	"sort"

	"github.com/ieee0824/tts-go/model"
)

// PhoneTriple is the (previous, next, current) phone context of one step.
type PhoneTriple [3]string

// Current returns the phone of the step itself.
func (p PhoneTriple) Current() string { return p[2] }

// Batch is one group of aligned sequences, padded to the longest one.
type Batch struct {
	Speakers []int
	Labels   [][][]float64 // [B][T][L]
	Targets  [][][]float64 // [B][T][D]
	Lengths  []int
	Phones   [][]PhoneTriple // [B][T]
}

// Size returns the number of sequences.
func (b *Batch) Size() int { return len(b.Speakers) }

// Validate checks that every per-sequence slice agrees with the batch size
// and that no length exceeds its padded sequence.
func (b *Batch) Validate() error {
	n := len(b.Speakers)
	if n == 0 {
		return fmt.Errorf("dataset: empty batch")
	}
	if len(b.Labels) != n || len(b.Targets) != n || len(b.Lengths) != n {
		return fmt.Errorf("dataset: batch of %d speakers has %d label, %d target and %d length entries",
			n, len(b.Labels), len(b.Targets), len(b.Lengths))
	}
	for i, l := range b.Lengths {
		if l > len(b.Labels[i]) || l > len(b.Targets[i]) {
			return fmt.Errorf("dataset: sequence %d length %d exceeds padded length", i, l)
		}
	}
	return nil
}

// LabelTensor returns the labels as a time-major tensor.
func (b *Batch) LabelTensor() *model.Tensor { return model.TimeMajor(b.Labels) }

// TargetTensor returns the targets as a time-major tensor.
func (b *Batch) TargetTensor() *model.Tensor { return model.TimeMajor(b.Targets) }

// CurrentPhones returns the current phone of every step, [B][T].
func (b *Batch) CurrentPhones() [][]string {
	out := make([][]string, len(b.Phones))
	for i, seq := range b.Phones {
		out[i] = make([]string, len(seq))
		for t, p := range seq {
			out[i][t] = p.Current()
		}
	}
	return out
}

// Source yields batches in a stable order.
type Source interface {
	Len() int
	Batch(i int) (*Batch, error)
}

// Memory is a Source over batches held in memory.
type Memory []*Batch

// Len implements Source.
func (m Memory) Len() int { return len(m) }

// Batch implements Source.
func (m Memory) Batch(i int) (*Batch, error) {
	if i < 0 || i >= len(m) {
		return nil, fmt.Errorf("dataset: batch %d out of range [0,%d)", i, len(m))
	}
	return m[i], nil
}

// Utterance is one unbatched sequence.
type Utterance struct {
	Speaker int
	Labels  [][]float64
	Targets [][]float64
	Phones  []PhoneTriple
}

// Group packs utterances into speaker-homogeneous batches of at most size
// sequences. Batches are interleaved across speakers in ascending id order,
// so one round visits every speaker once while batches remain.
func Group(utts []Utterance, size int) (Memory, error) {
	if size <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be positive, got %d", size)
	}
	bySpk := make(map[int][]Utterance)
	for _, u := range utts {
		if len(u.Labels) != len(u.Targets) {
			return nil, fmt.Errorf("dataset: speaker %d utterance has %d labels and %d targets", u.Speaker, len(u.Labels), len(u.Targets))
		}
		bySpk[u.Speaker] = append(bySpk[u.Speaker], u)
	}
	ids := make([]int, 0, len(bySpk))
	for id := range bySpk {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	queues := make(map[int][]*Batch, len(ids))
	for _, id := range ids {
		us := bySpk[id]
		for start := 0; start < len(us); start += size {
			end := min(start+size, len(us))
			queues[id] = append(queues[id], pack(us[start:end]))
		}
	}
	var out Memory
	for more := true; more; {
		more = false
		for _, id := range ids {
			if q := queues[id]; len(q) > 0 {
				out = append(out, q[0])
				queues[id] = q[1:]
				more = true
			}
		}
	}
	return out, nil
}

// pack pads us to the longest sequence with zero rows and silence phones.
func pack(us []Utterance) *Batch {
	maxT := 0
	for _, u := range us {
		maxT = max(maxT, len(u.Labels))
	}
	b := &Batch{}
	for _, u := range us {
		b.Speakers = append(b.Speakers, u.Speaker)
		b.Lengths = append(b.Lengths, len(u.Labels))
		b.Labels = append(b.Labels, padRows(u.Labels, maxT))
		b.Targets = append(b.Targets, padRows(u.Targets, maxT))
		ph := make([]PhoneTriple, maxT)
		copy(ph, u.Phones)
		b.Phones = append(b.Phones, ph)
	}
	return b
}

func padRows(rows [][]float64, n int) [][]float64 {
	out := make([][]float64, n)
	copy(out, rows)
	d := 0
	if len(rows) > 0 {
		d = len(rows[0])
	}
	for i := len(rows); i < n; i++ {
		out[i] = make([]float64, d)
	}
	return out
}
