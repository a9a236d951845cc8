// Package label reads aligned linguistic labels and encodes them into the
// numeric codes the models consume.
package label

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// TimeUnit is the label timestamp resolution in seconds (HTS 100 ns units).
const TimeUnit = 1e-7

// Unit is one aligned linguistic unit.
type Unit struct {
	Start, End int64 // timestamps in TimeUnit
	Phone      string
	Features   []float64
}

// Duration returns the unit's length in seconds.
func (u Unit) Duration() float64 {
	return float64(u.End-u.Start) * TimeUnit
}

// Parser reads a label stream.
type Parser interface {
	Parse(r io.Reader) ([]Unit, error)
}

// TextParser reads whitespace separated lines "start end phone f1 ... fn".
// Blank lines and lines starting with '#' are skipped.
type TextParser struct{}

// Parse implements Parser.
func (TextParser) Parse(r io.Reader) ([]Unit, error) {
	var units []Unit
	sc := bufio.NewScanner(r)
	lineNo := 0
	width := -1
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("label: line %d: want at least start, end and phone", lineNo)
		}
		start, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("label: line %d: start: %w", lineNo, err)
		}
		end, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("label: line %d: end: %w", lineNo, err)
		}
		if end < start {
			return nil, fmt.Errorf("label: line %d: end %d before start %d", lineNo, end, start)
		}
		u := Unit{Start: start, End: end, Phone: fields[2]}
		for _, f := range fields[3:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("label: line %d: feature %q: %w", lineNo, f, err)
			}
			u.Features = append(u.Features, v)
		}
		if width >= 0 && len(u.Features) != width {
			return nil, fmt.Errorf("label: line %d: %d features, previous lines have %d", lineNo, len(u.Features), width)
		}
		width = len(u.Features)
		units = append(units, u)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("label: no units")
	}
	return units, nil
}

// ParseFile parses the label file at path.
func ParseFile(p Parser, path string) ([]Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	units, err := p.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return units, nil
}

// Durations returns the duration of every unit in seconds.
func Durations(units []Unit) []float64 {
	out := make([]float64, len(units))
	for i, u := range units {
		out[i] = u.Duration()
	}
	return out
}
