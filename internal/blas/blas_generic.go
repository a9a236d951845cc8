//go:build !darwin || !cgo

package blas

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// Dgemm computes C = alpha*op(A)*op(B) + beta*C on row-major matrices
// through gonum's native BLAS.
func Dgemm(transA, transB bool, m, n, k int,
	alpha float64, a []float64, lda int,
	b []float64, ldb int,
	beta float64, c []float64, ldc int) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		// gonum rejects empty inner dimensions; the product is zero.
		for i := 0; i < m; i++ {
			row := c[i*ldc : i*ldc+n]
			for j := range row {
				row[j] *= beta
			}
		}
		return
	}
	blas64.Implementation().Dgemm(transpose(transA), transpose(transB), m, n, k,
		alpha, a, lda, b, ldb, beta, c, ldc)
}

func transpose(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}

// Backend names the matrix multiply implementation in use.
func Backend() string { return "gonum" }
