package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// mcdScale converts a cepstral Euclidean distance into decibels.
var mcdScale = 10 / math.Ln10 * math.Sqrt2

// kept reports whether row i takes part in a statistic. A nil keep retains
// every row.
func kept(keep []bool, i int) bool {
	return keep == nil || keep[i]
}

// RMSE returns the pooled root-mean-square error over the kept rows and the
// per-speaker breakdown. Empty selections yield 0.
func RMSE(pred, truth []float64, speakers []int, keep []bool) (total float64, perSpeaker map[int]float64) {
	var all []float64
	bySpk := make(map[int][]float64)
	for i := range pred {
		if !kept(keep, i) {
			continue
		}
		d := pred[i] - truth[i]
		all = append(all, d*d)
		bySpk[speakers[i]] = append(bySpk[speakers[i]], d*d)
	}
	perSpeaker = make(map[int]float64, len(bySpk))
	for id, sq := range bySpk {
		perSpeaker[id] = math.Sqrt(stat.Mean(sq, nil))
	}
	if len(all) == 0 {
		return 0, perSpeaker
	}
	return math.Sqrt(stat.Mean(all, nil)), perSpeaker
}

// MCD returns the mel-cepstral distortion in dB averaged over kept frames,
// and per speaker.
func MCD(pred, truth [][]float64, speakers []int, keep []bool) (total float64, perSpeaker map[int]float64) {
	var all []float64
	bySpk := make(map[int][]float64)
	for i := range pred {
		if !kept(keep, i) {
			continue
		}
		d := mcdScale * floats.Distance(pred[i], truth[i], 2)
		all = append(all, d)
		bySpk[speakers[i]] = append(bySpk[speakers[i]], d)
	}
	perSpeaker = make(map[int]float64, len(bySpk))
	for id, v := range bySpk {
		perSpeaker[id] = stat.Mean(v, nil)
	}
	if len(all) == 0 {
		return 0, perSpeaker
	}
	return stat.Mean(all, nil), perSpeaker
}

// Scores is the accuracy/precision/recall/F1 summary of a binary
// classification.
type Scores struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

type confusion struct{ tp, fp, tn, fn int }

func (c *confusion) add(p, t bool) {
	switch {
	case p && t:
		c.tp++
	case p && !t:
		c.fp++
	case !p && t:
		c.fn++
	default:
		c.tn++
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func (c confusion) scores() Scores {
	s := Scores{
		Accuracy:  ratio(c.tp+c.tn, c.tp+c.tn+c.fp+c.fn),
		Precision: ratio(c.tp, c.tp+c.fp),
		Recall:    ratio(c.tp, c.tp+c.fn),
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}

// AFPR scores binary voicing decisions. Any non-zero value counts as voiced;
// callers round predictions first. Zero denominators give 0, never NaN.
func AFPR(pred, truth []float64, speakers []int, keep []bool) (total Scores, perSpeaker map[int]Scores) {
	var all confusion
	bySpk := make(map[int]*confusion)
	for i := range pred {
		if !kept(keep, i) {
			continue
		}
		p, t := pred[i] != 0, truth[i] != 0
		all.add(p, t)
		c, ok := bySpk[speakers[i]]
		if !ok {
			c = &confusion{}
			bySpk[speakers[i]] = c
		}
		c.add(p, t)
	}
	perSpeaker = make(map[int]Scores, len(bySpk))
	for id, c := range bySpk {
		perSpeaker[id] = c.scores()
	}
	return all.scores(), perSpeaker
}

// Put stores s under "A.<key>", "P.<key>", "R.<key>" and "F.<key>".
func (s Scores) Put(m map[string]float64, key string) {
	m["A."+key] = s.Accuracy
	m["P."+key] = s.Precision
	m["R."+key] = s.Recall
	m["F."+key] = s.F1
}

// AFPRKeys flattens an AFPR result into the A/P/R/F map with a "total" key
// and one key per speaker name.
func AFPRKeys(total Scores, perSpeaker map[int]Scores, names map[int]string) map[string]float64 {
	m := make(map[string]float64, 4*(len(perSpeaker)+1))
	total.Put(m, "total")
	for id, s := range perSpeaker {
		s.Put(m, Name(names, id))
	}
	return m
}

// Name returns the display name of speaker id.
func Name(names map[int]string, id int) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprint(id)
}

// SortedIDs returns the keys of m in ascending order.
func SortedIDs[V any](m map[int]V) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
