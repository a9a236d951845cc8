package blas

import (
	"math"
	"math/rand"
	"testing"
)

func TestDgemm_Identity(t *testing.T) {
	// A(2x3) * I(3x3) = A(2x3)
	a := []float64{1, 2, 3, 4, 5, 6}
	b := []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	c := make([]float64, 6)

	Dgemm(false, false, 2, 3, 3, 1.0, a, 3, b, 3, 0.0, c, 3)

	for i, want := range a {
		if math.Abs(c[i]-want) > 1e-12 {
			t.Errorf("c[%d] = %f, want %f", i, c[i], want)
		}
	}
}

func TestDgemm_Small(t *testing.T) {
	// A(2x3) * B(3x2) = C(2x2)
	a := []float64{1, 2, 3, 4, 5, 6}
	b := []float64{7, 8, 9, 10, 11, 12}
	c := make([]float64, 4)

	Dgemm(false, false, 2, 2, 3, 1.0, a, 3, b, 2, 0.0, c, 2)

	// C[0,0] = 1*7 + 2*9 + 3*11 = 7+18+33 = 58
	// C[0,1] = 1*8 + 2*10 + 3*12 = 8+20+36 = 64
	// C[1,0] = 4*7 + 5*9 + 6*11 = 28+45+66 = 139
	// C[1,1] = 4*8 + 5*10 + 6*12 = 32+50+72 = 154
	want := []float64{58, 64, 139, 154}
	for i := range want {
		if math.Abs(c[i]-want[i]) > 1e-10 {
			t.Errorf("c[%d] = %f, want %f", i, c[i], want[i])
		}
	}
}

func TestDgemm_TransB(t *testing.T) {
	// A(2x3) * B^T where B is (2x3) stored row-major â†’ B^T is (3x2)
	// Result: C(2x2)
	a := []float64{1, 2, 3, 4, 5, 6}
	b := []float64{7, 9, 11, 8, 10, 12} // B(2x3), B^T(3x2) = [[7,8],[9,10],[11,12]]
	c := make([]float64, 4)

	Dgemm(false, true, 2, 2, 3, 1.0, a, 3, b, 3, 0.0, c, 2)

	// Same result as TestDgemm_Small since B^T matches
	want := []float64{58, 64, 139, 154}
	for i := range want {
		if math.Abs(c[i]-want[i]) > 1e-10 {
			t.Errorf("c[%d] = %f, want %f", i, c[i], want[i])
		}
	}
}

func TestDgemm_AlphaBeta(t *testing.T) {
	// C = 2*A*B + 3*C
	a := []float64{1, 2, 3, 4}
	b := []float64{5, 6, 7, 8}
	c := []float64{1, 1, 1, 1}

	Dgemm(false, false, 2, 2, 2, 2.0, a, 2, b, 2, 3.0, c, 2)

	// A*B = [[1*5+2*7, 1*6+2*8], [3*5+4*7, 3*6+4*8]] = [[19,22],[43,50]]
	// 2*A*B + 3*C = [[38+3, 44+3], [86+3, 100+3]] = [[41, 47], [89, 103]]
	want := []float64{41, 47, 89, 103}
	for i := range want {
		if math.Abs(c[i]-want[i]) > 1e-10 {
			t.Errorf("c[%d] = %f, want %f", i, c[i], want[i])
		}
	}
}

func TestDgemm_LayerSized(t *testing.T) {
	// fully-connected forward over a batch: Z(N x out) = X(N x in) * W^T, W is (out x in)
	rng := rand.New(rand.NewSource(42))
	N, in, out := 64, 37, 8

	x := make([]float64, N*in)
	w := make([]float64, out*in)
	for i := range x {
		x[i] = rng.Float64()
	}
	for i := range w {
		w[i] = rng.Float64()
	}

	z := make([]float64, N*out)
	Dgemm(false, true, N, out, in, 1.0, x, in, w, in, 0.0, z, out)

	for i := 0; i < N; i++ {
		for j := 0; j < out; j++ {
			sum := 0.0
			for p := 0; p < in; p++ {
				sum += x[i*in+p] * w[j*in+p]
			}
			if math.Abs(z[i*out+j]-sum) > 1e-8 {
				t.Errorf("z[%d,%d] = %f, want %f (diff=%e)", i, j, z[i*out+j], sum, z[i*out+j]-sum)
			}
		}
	}
}

func TestDgemm_TransA(t *testing.T) {
	// weight gradient: G(2x2) += dZ^T * X, dZ is (3x2), X is (3x2)
	dz := []float64{1, 0, 0, 1, 1, 1}
	x := []float64{1, 2, 3, 4, 5, 6}
	g := []float64{1, 1, 1, 1}

	Dgemm(true, false, 2, 2, 3, 1.0, dz, 2, x, 2, 1.0, g, 2)

	// dZ^T*X = [[1+5, 2+6], [3+5, 4+6]] = [[6,8],[8,10]]
	want := []float64{7, 9, 9, 11}
	for i := range want {
		if math.Abs(g[i]-want[i]) > 1e-10 {
			t.Errorf("g[%d] = %f, want %f", i, g[i], want[i])
		}
	}
}

func TestDgemm_Empty(t *testing.T) {
	// zero rows must not touch the operands
	Dgemm(false, true, 0, 3, 2, 1.0, nil, 2, []float64{1, 2, 3, 4, 5, 6}, 2, 0.0, nil, 3)
}

func TestLevel1(t *testing.T) {
	y := []float64{1, 1}
	Daxpy(2, []float64{1, 2}, y)
	if y[0] != 3 || y[1] != 5 {
		t.Errorf("Daxpy = %v, want [3 5]", y)
	}
	dst := make([]float64, 2)
	ColSums(3, 2, []float64{1, 2, 3, 4, 5, 6}, 2, dst)
	if dst[0] != 9 || dst[1] != 12 {
		t.Errorf("ColSums = %v, want [9 12]", dst)
	}
}

func BenchmarkDgemm_LayerForward(b *testing.B) {
	rng := rand.New(rand.NewSource(42))
	N, in, out := 256, 300, 256
	x := make([]float64, N*in)
	w := make([]float64, out*in)
	for i := range x {
		x[i] = rng.Float64()
	}
	for i := range w {
		w[i] = rng.Float64()
	}
	z := make([]float64, N*out)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Dgemm(false, true, N, out, in, 1.0, x, in, w, in, 0.0, z, out)
	}
}
