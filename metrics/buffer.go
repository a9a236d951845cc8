// Package metrics aligns padded predictions with their ground truth and
// computes the evaluation statistics reported by the epoch runners.
//
// A Buffer grows across a whole epoch. Rows are appended batch-index major,
// time-step minor, so successive Append calls concatenate in a stable order.
// Metrics are computed once over the full buffer, never per batch.
package metrics

import (
	"fmt"

	"github.com/ieee0824/tts-go/model"
	"github.com/ieee0824/tts-go/speaker"
)

// Buffer is an append-only store of aligned rows. The zero value is empty
// and ready for use; Dim is fixed by the first Append.
type Buffer struct {
	Dim      int
	Preds    []float64 // [Len × Dim]
	Truths   []float64 // [Len × Dim]
	Speakers []int     // [Len]
	// Mask is true where the row's phone is not the silence tag.
	Mask []bool
}

// Len returns the number of retained steps.
func (b *Buffer) Len() int { return len(b.Speakers) }

// Append masks and aligns one time-major batch. Column i of pred and truth is
// truncated to lengths[i] steps; padding beyond it is discarded. phones[i][t]
// is the current phone of step t of column i.
func (b *Buffer) Append(pred, truth *model.Tensor, lengths, speakers []int, phones [][]string, silence string) error {
	if !pred.SameShape(truth) {
		return fmt.Errorf("metrics: prediction %v and ground truth %v differ in shape", pred, truth)
	}
	if len(lengths) != pred.B || len(speakers) != pred.B {
		return fmt.Errorf("metrics: batch of %d columns with %d lengths and %d speakers", pred.B, len(lengths), len(speakers))
	}
	if b.Dim == 0 {
		b.Dim = pred.D
	} else if b.Dim != pred.D {
		return fmt.Errorf("metrics: appending dim %d to buffer of dim %d", pred.D, b.Dim)
	}
	for i, n := range lengths {
		if n > pred.T {
			return fmt.Errorf("metrics: sequence %d has length %d beyond %d steps", i, n, pred.T)
		}
		for t := 0; t < n; t++ {
			b.Preds = append(b.Preds, pred.Row(t, i)...)
			b.Truths = append(b.Truths, truth.Row(t, i)...)
			b.Speakers = append(b.Speakers, speakers[i])
			sil := false
			if i < len(phones) && t < len(phones[i]) {
				sil = phones[i][t] == silence
			}
			b.Mask = append(b.Mask, !sil)
		}
	}
	return nil
}

// PredRow returns row i of the predictions. The slice aliases the buffer.
func (b *Buffer) PredRow(i int) []float64 { return b.Preds[i*b.Dim : (i+1)*b.Dim] }

// TruthRow returns row i of the ground truth. The slice aliases the buffer.
func (b *Buffer) TruthRow(i int) []float64 { return b.Truths[i*b.Dim : (i+1)*b.Dim] }

// Denormalize maps every row back to physical units with the bounds of its
// speaker. A speaker without statistics aborts with speaker.ErrMissingStats
// before any row is touched.
func (b *Buffer) Denormalize(bounds func(id int) (speaker.Bounds, error)) error {
	cache := make(map[int]speaker.Bounds)
	for _, id := range b.Speakers {
		if _, ok := cache[id]; ok {
			continue
		}
		bd, err := bounds(id)
		if err != nil {
			return err
		}
		if bd.Dim() != b.Dim {
			return fmt.Errorf("metrics: speaker %d bounds have %d dims, buffer has %d", id, bd.Dim(), b.Dim)
		}
		cache[id] = bd
	}
	for i, id := range b.Speakers {
		bd := cache[id]
		if err := bd.Denormalize(b.PredRow(i)); err != nil {
			return err
		}
		if err := bd.Denormalize(b.TruthRow(i)); err != nil {
			return err
		}
	}
	return nil
}

// Column extracts column col of predictions and ground truth, applying f to
// each value when f is non-nil. A negative col counts from the end.
func (b *Buffer) Column(col int, f func(float64) float64) (pred, truth []float64) {
	if col < 0 {
		col += b.Dim
	}
	n := b.Len()
	pred = make([]float64, n)
	truth = make([]float64, n)
	for i := 0; i < n; i++ {
		p, t := b.Preds[i*b.Dim+col], b.Truths[i*b.Dim+col]
		if f != nil {
			p, t = f(p), f(t)
		}
		pred[i], truth[i] = p, t
	}
	return pred, truth
}

// Columns returns the [lo,hi) column window of every row. The slices alias
// the buffer.
func (b *Buffer) Columns(lo, hi int) (pred, truth [][]float64) {
	if hi > b.Dim {
		hi = b.Dim
	}
	n := b.Len()
	pred = make([][]float64, n)
	truth = make([][]float64, n)
	for i := 0; i < n; i++ {
		pred[i] = b.PredRow(i)[lo:hi]
		truth[i] = b.TruthRow(i)[lo:hi]
	}
	return pred, truth
}

// Homogeneous reports whether every speaker id in ids is the same.
func Homogeneous(ids []int) bool {
	for _, id := range ids {
		if id != ids[0] {
			return false
		}
	}
	return true
}
