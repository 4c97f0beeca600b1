package gaussian

import (
	"fmt"

	track "github.com/milosgajdos/go-track"
	"gonum.org/v1/gonum/mat"
)

// JitterScale scales the diagonal jitter added when a Cholesky
// factorization fails. The jitter applied is JitterScale * tr(A)/d.
var JitterScale = 1e-9

// factorize computes the Cholesky factorization of a.
// If the factorization fails it is retried once with diagonal jitter;
// a repeated failure returns ErrSingular.
func factorize(a mat.Symmetric) (*mat.Cholesky, error) {
	var ch mat.Cholesky
	if ch.Factorize(a) {
		return &ch, nil
	}

	d := a.SymmetricDim()
	eps := JitterScale * mat.Trace(a) / float64(d)
	if eps <= 0 {
		eps = JitterScale
	}

	aj := mat.NewSymDense(d, nil)
	aj.CopySym(a)
	for i := 0; i < d; i++ {
		aj.SetSym(i, i, aj.At(i, i)+eps)
	}

	if ch.Factorize(aj) {
		return &ch, nil
	}

	return nil, fmt.Errorf("cholesky factorization failed: %w", track.ErrSingular)
}

// solveVec solves A*x = b through the Cholesky factorization of A.
func solveVec(a mat.Symmetric, b mat.Vector) (*mat.VecDense, error) {
	ch, err := factorize(a)
	if err != nil {
		return nil, err
	}

	x := &mat.VecDense{}
	if err := ch.SolveVecTo(x, b); err != nil {
		return nil, fmt.Errorf("cholesky solve failed: %w", track.ErrSingular)
	}

	return x, nil
}

// inverse inverts a through its Cholesky factorization.
func inverse(a mat.Symmetric) (*mat.SymDense, float64, error) {
	ch, err := factorize(a)
	if err != nil {
		return nil, 0, err
	}

	inv := &mat.SymDense{}
	if err := ch.InverseTo(inv); err != nil {
		return nil, 0, fmt.Errorf("cholesky inverse failed: %w", track.ErrSingular)
	}

	return inv, ch.LogDet(), nil
}

// minEigenvalue returns the smallest eigenvalue of a.
func minEigenvalue(a mat.Symmetric) (float64, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(a, false); !ok {
		return 0, fmt.Errorf("eigendecomposition failed: %w", track.ErrSingular)
	}

	vals := eig.Values(nil)

	return vals[0], nil
}
