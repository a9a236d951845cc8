package synth

import (
	"errors"
	"fmt"
	"math"

	"github.com/ieee0824/tts-go/vocoder"
)

// Sentinels the vocoder reads as "no pitch".
const (
	UnvoicedTilt  = 1000.0
	UnvoicedLogF0 = -1e10
)

// ErrChannelMismatch is returned when the voicing and tilt channels of an
// utterance differ in length.
var ErrChannelMismatch = errors.New("voicing and spectral tilt channels differ in length")

// PostFilter scales cepstral coefficients 1..N-1 of cc by factor in place.
// c0 carries energy and is left alone; a factor of 1 is neutral.
func PostFilter(cc []float64, factor float64) {
	if factor == 1 || factor == 0 {
		return
	}
	for i := 1; i < len(cc); i++ {
		cc[i] *= factor
	}
}

// Unvoice applies the voicing decision to tilt and lf0 in place. Voicing is
// rounded half to even; unvoiced frames get the sentinel tilt and log-F0.
// Tilt never drops below UnvoicedTilt.
func Unvoice(uv, tilt, lf0 []float64) error {
	if len(uv) != len(tilt) || len(lf0) != len(tilt) {
		return fmt.Errorf("%w: uv %d, fv %d, lf0 %d", ErrChannelMismatch, len(uv), len(tilt), len(lf0))
	}
	for i, v := range uv {
		if math.RoundToEven(v) == 0 {
			tilt[i] = UnvoicedTilt
			lf0[i] = UnvoicedLogF0
		}
		if tilt[i] < UnvoicedTilt {
			tilt[i] = UnvoicedTilt
		}
	}
	return nil
}

// Channels splits de-normalized acoustic frames into vocoder channels.
// Each frame is the cepstrum followed by tilt, log-F0 and voicing.
func Channels(rows [][]float64, postFilter float64) (vocoder.Frames, error) {
	var (
		f  vocoder.Frames
		uv []float64
	)
	for i, r := range rows {
		if len(r) < 4 {
			return vocoder.Frames{}, fmt.Errorf("synth: frame %d has %d values, need cepstra, tilt, log-F0 and voicing", i, len(r))
		}
		n := len(r) - 3
		cc := append([]float64(nil), r[:n]...)
		PostFilter(cc, postFilter)
		f.Cepstrum = append(f.Cepstrum, cc)
		f.Tilt = append(f.Tilt, r[n])
		f.LogF0 = append(f.LogF0, r[n+1])
		uv = append(uv, r[n+2])
	}
	if err := Unvoice(uv, f.Tilt, f.LogF0); err != nil {
		return vocoder.Frames{}, err
	}
	return f, nil
}
