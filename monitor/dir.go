package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ieee0824/tts-go/audio"
)

// Event is one line of the directory sink's events file.
type Event struct {
	Kind    string   `json:"kind"`
	Name    string   `json:"name"`
	Step    int      `json:"step"`
	Value   float64  `json:"value,omitempty"`
	Summary *Summary `json:"summary,omitempty"`
	File    string   `json:"file,omitempty"`
}

// EventsFile is the JSON lines file inside a Dir sink.
const EventsFile = "events.jsonl"

// Dir appends events to <Path>/events.jsonl and stores audio clips as WAV
// files next to it. Write failures are logged and dropped.
type Dir struct {
	Path string
	Log  logrus.FieldLogger

	mu sync.Mutex
}

// NewDir creates the directory and returns the sink.
func NewDir(path string, log logrus.FieldLogger) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dir{Path: path, Log: log}, nil
}

func (d *Dir) append(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(d.Path, EventsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		d.Log.WithError(err).Warn("monitor: open events file")
		return
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(ev); err != nil {
		d.Log.WithError(err).Warn("monitor: write event")
	}
}

func (d *Dir) Scalar(name string, value float64, step int) {
	d.append(Event{Kind: "scalar", Name: name, Step: step, Value: value})
}

func (d *Dir) Histogram(name string, values []float64, step int) {
	s := Summarize(values)
	d.append(Event{Kind: "histogram", Name: name, Step: step, Summary: &s})
}

func (d *Dir) Audio(name string, clip audio.Clip, step int) {
	file := fmt.Sprintf("%s-%06d.wav", name, step)
	if err := audio.WriteWAVFile(filepath.Join(d.Path, file), clip); err != nil {
		d.Log.WithError(err).WithField("clip", name).Warn("monitor: write audio")
		return
	}
	d.append(Event{Kind: "audio", Name: name, Step: step, File: file})
}
