// Package artifact persists the metric histories of a training run and can
// mirror a run directory to S3.
//
// Every metric gets its own YAML file, <dir>/<metric>.yaml, rewritten after
// each epoch with the whole history so far.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// History accumulates per-epoch metrics. Train keeps every logged value of
// each epoch; Valid keeps one value per epoch.
type History struct {
	Train map[string][][]float64
	Valid map[string][]float64
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{Train: make(map[string][][]float64), Valid: make(map[string][]float64)}
}

// AddTrain appends one epoch of training values.
func (h *History) AddTrain(epoch map[string][]float64) {
	for k, v := range epoch {
		h.Train[k] = append(h.Train[k], append([]float64(nil), v...))
	}
}

// AddValid appends one epoch of validation scores.
func (h *History) AddValid(scores map[string]float64) {
	for k, v := range scores {
		h.Valid[k] = append(h.Valid[k], v)
	}
}

// Local writes histories into a directory.
type Local struct {
	Dir string
}

// FileName maps a metric name to its artifact file name.
func FileName(metric string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", " ", "_")
	return r.Replace(metric) + ".yaml"
}

// Write stores every metric of h and returns the written paths in name order.
func (l Local) Write(h *History) ([]string, error) {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for _, k := range sortedKeys(h.Train) {
		p, err := l.writeMetric(k, h.Train[k])
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	for _, k := range sortedKeys(h.Valid) {
		p, err := l.writeMetric(k, h.Valid[k])
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (l Local) writeMetric(name string, v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("artifact: encode %s: %w", name, err)
	}
	p := filepath.Join(l.Dir, FileName(name))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("artifact: %w", err)
	}
	return p, nil
}

// ReadTrain loads a training metric artifact.
func ReadTrain(path string) ([][]float64, error) {
	var v [][]float64
	return v, readYAML(path, &v)
}

// ReadValid loads a validation metric artifact.
func ReadValid(path string) ([]float64, error) {
	var v []float64
	return v, readYAML(path, &v)
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
