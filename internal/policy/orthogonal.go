package policy

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// orthogonal returns a rows x cols matrix with orthonormal rows (or columns,
// whichever is shorter) scaled by gain: QR of a Gaussian matrix with the
// signs of Q fixed by diag(R).
func orthogonal(rows, cols int, gain float64, rng *rand.Rand) *mat.Dense {
	m, n := rows, cols
	if m < n {
		m, n = n, m
	}

	a := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}

	var qr mat.QR
	qr.Factorize(a)

	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	thin := mat.DenseCopyOf(q.Slice(0, m, 0, n))
	for j := 0; j < n; j++ {
		if r.At(j, j) < 0 {
			for i := 0; i < m; i++ {
				thin.Set(i, j, -thin.At(i, j))
			}
		}
	}
	thin.Scale(gain, thin)

	if rows < cols {
		return mat.DenseCopyOf(thin.T())
	}
	return thin
}
