// Package audio reads and writes the 16-bit PCM mono waveforms the vocoder
// renders and the monitoring sinks emit.
package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// pcmScale maps 16-bit samples to [-1, 1].
const pcmScale = 32767.0

// Clip is a mono waveform with samples in [-1, 1].
type Clip struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the clip length.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// Trim returns the first max of the clip. The samples are shared.
func (c Clip) Trim(max time.Duration) Clip {
	n := int(max.Seconds() * float64(c.SampleRate))
	if n < len(c.Samples) {
		c.Samples = c.Samples[:n]
	}
	return c
}

// ReadWAV decodes a 16-bit PCM mono WAV stream at any sample rate.
func ReadWAV(r io.ReadSeeker) (Clip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return Clip{}, errors.New("not a valid WAV file")
	}
	if d.WavAudioFormat != 1 {
		return Clip{}, fmt.Errorf("unsupported audio format %d (only PCM=1 supported)", d.WavAudioFormat)
	}
	if d.NumChans != 1 {
		return Clip{}, fmt.Errorf("unsupported channel count %d (only mono supported)", d.NumChans)
	}
	if d.BitDepth != 16 {
		return Clip{}, fmt.Errorf("unsupported bits per sample %d (only 16 supported)", d.BitDepth)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("read PCM data: %w", err)
	}
	samples := make([]float64, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = float64(s) / pcmScale
	}
	return Clip{Samples: samples, SampleRate: int(d.SampleRate)}, nil
}

// ReadWAVFile is a convenience wrapper that opens a file path.
func ReadWAVFile(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, err
	}
	defer f.Close()
	return ReadWAV(f)
}

// WriteWAV encodes c as 16-bit PCM mono. Samples outside [-1, 1] are clipped.
func WriteWAV(w io.WriteSeeker, c Clip) error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	data := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		data[i] = int(math.Round(math.Max(-1, math.Min(1, s)) * pcmScale))
	}
	enc := wav.NewEncoder(w, c.SampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: c.SampleRate, NumChannels: 1},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write PCM data: %w", err)
	}
	return enc.Close()
}

// WriteWAVFile writes c to path.
func WriteWAVFile(path string, c Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, c); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
