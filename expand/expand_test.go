package expand

import (
	"math"
	"testing"
)

func TestFrames_BoundaryPolicies(t *testing.T) {
	tests := []struct {
		d         float64
		inclusive int
		exclusive int
	}{
		{0.020, 5, 4},
		{0.022, 5, 5},
		{0.005, 2, 1},
		{0.0049, 1, 1},
		{0, 1, 0},
		{0.1, 21, 20},
	}
	for _, tt := range tests {
		inc := Expander{Stride: DefaultStride, Policy: Inclusive}
		exc := Expander{Stride: DefaultStride, Policy: Exclusive}
		if got := inc.Frames(tt.d); got != tt.inclusive {
			t.Errorf("inclusive Frames(%v) = %d, want %d", tt.d, got, tt.inclusive)
		}
		if got := exc.Frames(tt.d); got != tt.exclusive {
			t.Errorf("exclusive Frames(%v) = %d, want %d", tt.d, got, tt.exclusive)
		}
		wantInc := int(math.Floor(tt.d/DefaultStride+1e-9)) + 1
		if inc.Frames(tt.d) != wantInc {
			t.Errorf("inclusive Frames(%v) disagrees with floor(d/s)+1 = %d", tt.d, wantInc)
		}
	}
}

func TestExpand_Queries(t *testing.T) {
	e, err := New(DefaultStride, Inclusive)
	if err != nil {
		t.Fatal(err)
	}
	codes := [][]float64{{1, 2}, {3, 4}}
	q, err := e.Expand(codes, []float64{0.4, 0.9}, []float64{0.020, 0.012})
	if err != nil {
		t.Fatal(err)
	}
	if len(q) != 5+3 {
		t.Fatalf("got %d queries, want 8", len(q))
	}
	for _, row := range q {
		if len(row) != 4 {
			t.Fatalf("query width %d, want 4", len(row))
		}
	}
	if q[0][0] != 1 || q[0][3] != 0.4 || q[5][0] != 3 || q[5][3] != 0.9 {
		t.Errorf("queries = %v", q)
	}
	if math.Abs(q[4][2]-1) > 1e-12 {
		t.Errorf("last inclusive position = %f, want 1", q[4][2])
	}
}

func TestExpand_PositionsNonDecreasing(t *testing.T) {
	for _, p := range []Policy{Inclusive, Exclusive} {
		e := Expander{Stride: 0.005, Policy: p}
		for _, d := range []float64{0.003, 0.02, 0.0371, 0.25} {
			q, err := e.Expand([][]float64{{7}}, []float64{0.5}, []float64{d})
			if err != nil {
				t.Fatal(err)
			}
			if q[0][1] != 0 {
				t.Errorf("%v d=%v: first position = %f, want 0", p, d, q[0][1])
			}
			for i := 1; i < len(q); i++ {
				if q[i][1] < q[i-1][1] {
					t.Errorf("%v d=%v: position decreased at %d", p, d, i)
				}
			}
		}
	}
}

func TestValidate(t *testing.T) {
	for _, s := range []float64{0, -0.005, math.NaN(), math.Inf(1)} {
		if _, err := New(s, Inclusive); err == nil {
			t.Errorf("stride %v accepted", s)
		}
	}
	if _, err := New(0.01, Policy(9)); err == nil {
		t.Error("unknown policy accepted")
	}
	e := Expander{Stride: 0.005}
	if _, err := e.Expand([][]float64{{1}}, []float64{0}, []float64{-1}); err == nil {
		t.Error("negative duration accepted")
	}
	if _, err := ParsePolicy("both"); err == nil {
		t.Error("unknown policy name accepted")
	}
}
