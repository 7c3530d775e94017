package linalg

import (
	"math"

	"github.com/hammal/dosefinding/dferr"
	"gonum.org/v1/gonum/mat"
)

// SymmetryTolerance is the largest accepted |S_ij - S_ji| relative to the
// largest entry of S.
const SymmetryTolerance = 1e-8

// Symmetrize checks that s is square and symmetric within
// SymmetryTolerance and returns (s + s^T)/2.
func Symmetrize(s mat.Matrix) (*mat.SymDense, error) {
	if isNil(s) {
		return nil, dferr.New(dferr.ErrInvalidArgument, "covariance", "missing covariance matrix")
	}
	m, n := s.Dims()
	if m != n {
		return nil, dferr.New(dferr.ErrInvalidArgument, "covariance", "covariance is %dx%d, not square", m, n)
	}
	if NaNOrInf(s) {
		return nil, dferr.New(dferr.ErrInvalidArgument, "covariance", "covariance contains NaN or Inf")
	}
	var largest float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			largest = math.Max(largest, math.Abs(s.At(i, j)))
		}
	}
	res := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a, b := s.At(i, j), s.At(j, i)
			if math.Abs(a-b) > SymmetryTolerance*largest {
				return nil, dferr.New(dferr.ErrInvalidArgument, "covariance", "covariance is not symmetric at (%d, %d): %g vs %g", i, j, a, b)
			}
			res.SetSym(i, j, (a+b)/2)
		}
	}
	return res, nil
}

// InverseSym returns the inverse of a positive definite matrix.
func InverseSym(s mat.Symmetric) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(s); !ok {
		return nil, dferr.New(dferr.ErrSingularMatrix, "covariance", "covariance is not positive definite")
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, dferr.Wrap(dferr.ErrSingularMatrix, "covariance", err)
	}
	return &inv, nil
}

// Whitener returns the upper triangular U with
//
//	U^T U = S^(-1)
//
// i.e. the Cholesky factor of the inverse of the covariance S. Multiplying
// a response and its design by U turns the generalized least-squares
// problem with covariance S into an ordinary one.
func Whitener(s mat.Matrix) (*mat.Dense, error) {
	sym, err := Symmetrize(s)
	if err != nil {
		return nil, err
	}
	inv, err := InverseSym(sym)
	if err != nil {
		return nil, err
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(inv); !ok {
		return nil, dferr.New(dferr.ErrSingularMatrix, "whitening", "inverse covariance is not positive definite")
	}
	var u mat.TriDense
	chol.UTo(&u)
	return mat.DenseCopyOf(&u), nil
}

// Cov2Cor scales a covariance matrix to the corresponding correlation
// matrix.
func Cov2Cor(s mat.Symmetric) (*mat.SymDense, error) {
	n := s.SymmetricDim()
	sd := make([]float64, n)
	for i := range sd {
		v := s.At(i, i)
		if !(v > 0) {
			return nil, dferr.New(dferr.ErrSingularMatrix, "correlation", "variance %d is %g", i, v)
		}
		sd[i] = math.Sqrt(v)
	}
	res := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		res.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			res.SetSym(i, j, s.At(i, j)/(sd[i]*sd[j]))
		}
	}
	return res, nil
}

// QuadForm returns C^T S C.
func QuadForm(c mat.Matrix, s mat.Symmetric) *mat.SymDense {
	_, k := c.Dims()
	var tmp, full mat.Dense
	tmp.Mul(s, c)
	full.Mul(c.T(), &tmp)
	res := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			res.SetSym(i, j, (full.At(i, j)+full.At(j, i))/2)
		}
	}
	return res
}
