package speaker

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

const statsYAML = `
speakers:
  0:
    name: "73"
    duration: {min: [0.02], max: [0.42]}
    acoustic: {min: [0, -1], max: [10, 1]}
  1:
    duration: {min: [0.01], max: [0.31]}
`

func TestParse(t *testing.T) {
	tab, err := Parse([]byte(statsYAML))
	if err != nil {
		t.Fatal(err)
	}
	if len(tab) != 2 {
		t.Fatalf("got %d speakers, want 2", len(tab))
	}
	names := tab.Names()
	if names[0] != "73" || names[1] != "1" {
		t.Errorf("names = %v", names)
	}
	if ids := tab.IDs(); ids[0] != 0 || ids[1] != 1 {
		t.Errorf("ids = %v", ids)
	}
}

func TestMissingStats(t *testing.T) {
	tab, _ := Parse([]byte(statsYAML))
	if _, err := tab.Acoustic(1); !errors.Is(err, ErrMissingStats) {
		t.Errorf("Acoustic(1): err = %v, want ErrMissingStats", err)
	}
	if _, err := tab.Duration(5); !errors.Is(err, ErrMissingStats) {
		t.Errorf("Duration(5): err = %v, want ErrMissingStats", err)
	}
}

func TestBounds_RoundTrip(t *testing.T) {
	b := Bounds{Min: []float64{0, -1}, Max: []float64{10, 1}}
	row := []float64{0.5, 0.25}
	if err := b.Denormalize(row); err != nil {
		t.Fatal(err)
	}
	if row[0] != 5 || row[1] != -0.5 {
		t.Errorf("denormalized = %v, want [5 -0.5]", row)
	}
	if err := b.Normalize(row); err != nil {
		t.Fatal(err)
	}
	if math.Abs(row[0]-0.5) > 1e-12 || math.Abs(row[1]-0.25) > 1e-12 {
		t.Errorf("normalized = %v", row)
	}
	if err := b.Denormalize([]float64{1}); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestTable_SaveLoad(t *testing.T) {
	tab, _ := Parse([]byte(statsYAML))
	path := filepath.Join(t.TempDir(), "stats.yaml")
	if err := tab.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	d, err := got.Duration(0)
	if err != nil || d.Max[0] != 0.42 {
		t.Errorf("Duration(0) = %v, %v", d, err)
	}
}
