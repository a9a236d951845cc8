// Package vocoder writes acoustic feature channels in the raw layout the
// external vocoder reads and invokes it to render a waveform.
//
// An utterance with base name B is stored as B.cc (cepstra, frame-major),
// B.lf0 (log-F0) and B.fv (spectral tilt), each a flat sequence of
// little-endian float32. Rendering produces B.wav.
package vocoder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// Channel file extensions.
const (
	ExtCepstrum = ".cc"
	ExtLogF0    = ".lf0"
	ExtTilt     = ".fv"
	ExtWave     = ".wav"
)

// WriteFloats writes v as little-endian float32.
func WriteFloats(w io.Writer, v []float64) error {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(x)))
	}
	_, err := w.Write(buf)
	return err
}

// ReadFloats reads a whole little-endian float32 stream.
func ReadFloats(r io.Reader) ([]float64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vocoder: stream of %d bytes is not float32 aligned", len(data))
	}
	out := make([]float64, len(data)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:])))
	}
	return out, nil
}

// WriteFile writes one channel file.
func WriteFile(path string, v []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteFloats(f, v); err != nil {
		f.Close()
		return fmt.Errorf("vocoder: write %s: %w", path, err)
	}
	return f.Close()
}

// ReadFile reads one channel file.
func ReadFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFloats(f)
}

// Frames holds the three vocoder channels of one utterance.
type Frames struct {
	Cepstrum [][]float64 // [frames][order]
	LogF0    []float64
	Tilt     []float64
}

// Write stores f as base.cc, base.lf0 and base.fv.
func (f Frames) Write(base string) error {
	if len(f.LogF0) != len(f.Tilt) || len(f.Cepstrum) != len(f.LogF0) {
		return fmt.Errorf("vocoder: channel lengths differ (cc %d, lf0 %d, fv %d)", len(f.Cepstrum), len(f.LogF0), len(f.Tilt))
	}
	var cc []float64
	for _, row := range f.Cepstrum {
		cc = append(cc, row...)
	}
	if err := WriteFile(base+ExtCepstrum, cc); err != nil {
		return err
	}
	if err := WriteFile(base+ExtLogF0, f.LogF0); err != nil {
		return err
	}
	return WriteFile(base+ExtTilt, f.Tilt)
}

// Remove deletes the channel files and the rendered waveform of base.
func Remove(base string) {
	for _, ext := range []string{ExtCepstrum, ExtLogF0, ExtTilt, ExtWave} {
		os.Remove(base + ext)
	}
}

// Renderer turns the channel files of base into base.wav.
type Renderer interface {
	Render(ctx context.Context, base string) error
}

// Ahocoder runs the ahodecoder binary: Binary lf0 cc fv wav.
type Ahocoder struct {
	Binary string
	Log    logrus.FieldLogger
}

// Optional returns an Ahocoder for an explicitly configured binary and nil
// otherwise, so callers that can do without audio skip rendering.
func Optional(binary string, log logrus.FieldLogger) Renderer {
	if binary == "" {
		return nil
	}
	return Ahocoder{Binary: binary, Log: log}
}

// Render implements Renderer.
func (a Ahocoder) Render(ctx context.Context, base string) error {
	bin := a.Binary
	if bin == "" {
		bin = "ahodecoder16_64"
	}
	cmd := exec.CommandContext(ctx, bin, base+ExtLogF0, base+ExtCepstrum, base+ExtTilt, base+ExtWave)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("vocoder: %s failed: %w: %s", bin, err, bytes.TrimSpace(out.Bytes()))
	}
	if a.Log != nil {
		a.Log.WithField("wav", base+ExtWave).Debug("vocoder rendered waveform")
	}
	return nil
}
