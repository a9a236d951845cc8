package blas

// Daxpy computes y += alpha*x.
func Daxpy(alpha float64, x, y []float64) {
	for i, v := range x {
		y[i] += alpha * v
	}
}

// ColSums adds the column sums of the row-major (m x n) matrix a into dst.
// It is the bias gradient of a fully-connected layer.
func ColSums(m, n int, a []float64, lda int, dst []float64) {
	for i := 0; i < m; i++ {
		row := a[i*lda : i*lda+n]
		for j, v := range row {
			dst[j] += v
		}
	}
}
