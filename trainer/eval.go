package trainer

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/ieee0824/tts-go/audio"
	"github.com/ieee0824/tts-go/metrics"
	"github.com/ieee0824/tts-go/monitor"
	"github.com/ieee0824/tts-go/synth"
	"github.com/ieee0824/tts-go/vocoder"
)

// AudioName is the monitoring clip rendered after an acoustic evaluation.
const AudioName = "eval_synth_audio"

// Acoustic frames end with spectral tilt, log-F0 and voicing; every column
// before them is a cepstral coefficient.
func checkAcousticDim(dim int) error {
	if dim < 4 {
		return fmt.Errorf("acoustic frames need cepstra, tilt, log-F0 and voicing; got %d dims", dim)
	}
	return nil
}

// voicing rounds a de-normalized voicing flag to 0 or 1.
func voicing(v float64) float64 {
	if math.RoundToEven(v) > 0 {
		return 1
	}
	return 0
}

// durationScores computes the duration RMSE in milliseconds over the whole
// epoch, with and without silent units.
func durationScores(buf *metrics.Buffer, o Options) (map[string]float64, error) {
	if err := buf.Denormalize(o.Stats.Duration); err != nil {
		return nil, err
	}
	pred, truth := buf.Column(0, func(v float64) float64 { return v * 1000 })
	total, per := metrics.RMSE(pred, truth, buf.Speakers, nil)
	nosil, _ := metrics.RMSE(pred, truth, buf.Speakers, buf.Mask)
	out := map[string]float64{
		"total_dur_rmse":       total,
		"total_nosil_dur_rmse": nosil,
	}
	for id, v := range per {
		out[fmt.Sprintf("%s-%s_va_dur_rmse", o.prefix(), o.name(id))] = v
	}
	return out, nil
}

// acousticScores computes cepstral distortion, voicing decisions and F0
// error over the whole epoch. F0 is compared in Hz on frames the ground
// truth marks voiced.
func acousticScores(buf *metrics.Buffer, o Options) (map[string]float64, error) {
	if err := checkAcousticDim(buf.Dim); err != nil {
		return nil, err
	}
	if err := buf.Denormalize(o.Stats.Acoustic); err != nil {
		return nil, err
	}
	p := o.prefix()
	out := make(map[string]float64)

	ccP, ccT := buf.Columns(0, buf.Dim-3)
	mcd, perMCD := metrics.MCD(ccP, ccT, buf.Speakers, nil)
	mcdNS, _ := metrics.MCD(ccP, ccT, buf.Speakers, buf.Mask)
	out["total_aco_mcd"] = mcd
	out["total_nosil_aco_mcd"] = mcdNS
	for id, v := range perMCD {
		out[fmt.Sprintf("%s-%s_va_mcd", p, o.name(id))] = v
	}

	uvP, uvT := buf.Column(-1, voicing)
	total, per := metrics.AFPR(uvP, uvT, buf.Speakers, nil)
	totalNS, _ := metrics.AFPR(uvP, uvT, buf.Speakers, buf.Mask)
	out["total_aco_afpr"] = total.F1
	out["total_nosil_aco_afpr"] = totalNS.F1
	names := make(map[int]string, len(per))
	for id := range per {
		names[id] = o.name(id)
	}
	for k, v := range metrics.AFPRKeys(total, per, names) {
		if strings.HasSuffix(k, ".total") {
			out[k] = v
			continue
		}
		out[fmt.Sprintf("%s-%s_va_afpr", p, k)] = v
	}

	f0P, f0T := buf.Column(-2, math.Exp)
	voiced := make([]bool, len(uvT))
	voicedNS := make([]bool, len(uvT))
	for i, v := range uvT {
		voiced[i] = v != 0
		voicedNS[i] = voiced[i] && buf.Mask[i]
	}
	f0, perF0 := metrics.RMSE(f0P, f0T, buf.Speakers, voiced)
	f0NS, _ := metrics.RMSE(f0P, f0T, buf.Speakers, voicedNS)
	out["total_aco_f0rmse"] = f0
	out["total_nosil_aco_f0rmse"] = f0NS
	for id, v := range perF0 {
		out[fmt.Sprintf("%s-%s_va_f0rmse", p, o.name(id))] = v
	}
	return out, nil
}

// durationHistograms emits predicted and true durations in milliseconds.
func durationHistograms(s monitor.Sink, buf *metrics.Buffer, step int) {
	if s == nil {
		return
	}
	pred, truth := buf.Column(0, func(v float64) float64 { return v * 1000 })
	monitor.Histogram(s, "va_dur_pred", pred, step)
	monitor.Histogram(s, "va_dur_truth", truth, step)
}

// acousticHistograms emits every acoustic channel of the de-normalized epoch.
func acousticHistograms(s monitor.Sink, buf *metrics.Buffer, step int) {
	if s == nil {
		return
	}
	var ccP, ccT []float64
	pr, tr := buf.Columns(0, buf.Dim-3)
	for i := range pr {
		ccP = append(ccP, pr[i]...)
		ccT = append(ccT, tr[i]...)
	}
	monitor.Histogram(s, "va_cc_pred", ccP, step)
	monitor.Histogram(s, "va_cc_truth", ccT, step)

	uvP, uvT := buf.Column(-1, voicing)
	monitor.Histogram(s, "va_uv_pred", uvP, step)
	monitor.Histogram(s, "va_uv_truth", uvT, step)

	fvP, fvT := buf.Column(-3, nil)
	monitor.Histogram(s, "va_fv_pred", fvP, step)
	monitor.Histogram(s, "va_fv_truth", fvT, step)

	f0P, f0T := buf.Column(-2, math.Exp)
	var vp, vt []float64
	for i := range uvT {
		if uvT[i] != 0 {
			vp = append(vp, f0P[i])
			vt = append(vt, f0T[i])
		}
	}
	monitor.Histogram(s, "va_f0_pred", vp, step)
	monitor.Histogram(s, "va_f0_truth", vt, step)
}

// sampleRows returns the de-normalized predictions of the first utterance
// run of the buffer: the leading rows of its first speaker, at most one
// clip long.
func sampleRows(buf *metrics.Buffer, stride float64) [][]float64 {
	limit := int(monitor.MaxClip.Seconds() / stride)
	var rows [][]float64
	for i := 0; i < buf.Len() && i < limit; i++ {
		if buf.Speakers[i] != buf.Speakers[0] {
			break
		}
		rows = append(rows, append([]float64(nil), buf.PredRow(i)...))
	}
	return rows
}

// renderSample vocodes the first predicted utterance of the epoch and sends
// it to the sink. Failures only cost the clip.
func renderSample(ctx context.Context, r vocoder.Renderer, s monitor.Sink, buf *metrics.Buffer, epoch int, log logrus.FieldLogger) {
	if r == nil || s == nil || buf.Len() == 0 {
		return
	}
	warn := func(err error) { log.WithError(err).WithField("epoch", epoch).Warn("monitoring audio skipped") }
	rows := sampleRows(buf, 0.005)
	frames, err := synth.Channels(rows, 1)
	if err != nil {
		warn(err)
		return
	}
	dir, err := os.MkdirTemp("", "tts-eval-")
	if err != nil {
		warn(err)
		return
	}
	defer os.RemoveAll(dir)
	base := filepath.Join(dir, "sample")
	if err := frames.Write(base); err != nil {
		warn(err)
		return
	}
	if err := r.Render(ctx, base); err != nil {
		warn(err)
		return
	}
	clip, err := audio.ReadWAVFile(base + vocoder.ExtWave)
	if err != nil {
		warn(err)
		return
	}
	monitor.Audio(s, AudioName, clip, epoch)
}

func meanLoss(losses []float64) float64 {
	if len(losses) == 0 {
		return 0
	}
	return stat.Mean(losses, nil)
}
