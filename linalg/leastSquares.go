package linalg

import (
	"math"

	"github.com/hammal/dosefinding/dferr"
	"gonum.org/v1/gonum/mat"
)

// RankTolerance is the smallest ratio |R_jj| / max_i |R_ii| of the QR
// factor accepted as full rank.
const RankTolerance = 1e-9

// factorize computes the QR factorization of x and checks its rank.
func factorize(x mat.Matrix, stage string) (*mat.QR, error) {
	m, n := x.Dims()
	if m < n {
		return nil, dferr.New(dferr.ErrSingularMatrix, stage, "design has %d rows for %d columns", m, n)
	}
	if NaNOrInf(x) {
		return nil, dferr.New(dferr.ErrInvalidArgument, stage, "design contains NaN or Inf")
	}
	var qr mat.QR
	qr.Factorize(x)

	var r mat.Dense
	qr.RTo(&r)
	var largest float64
	for j := 0; j < n; j++ {
		largest = math.Max(largest, math.Abs(r.At(j, j)))
	}
	for j := 0; j < n; j++ {
		if largest == 0 || math.Abs(r.At(j, j)) <= RankTolerance*largest {
			return nil, dferr.New(dferr.ErrSingularMatrix, stage, "design column %d is linearly dependent", j)
		}
	}
	return &qr, nil
}

// LeastSquares solves
//
//	min_b ||y - X b||^2
//
// by QR factorization and returns b together with the residual sum of
// squares. A generalized least-squares problem is solved by whitening X and
// y first, see Whitener.
func LeastSquares(x mat.Matrix, y mat.Vector) (*mat.VecDense, float64, error) {
	m, n := x.Dims()
	if y.Len() != m {
		return nil, 0, dferr.New(dferr.ErrInvalidArgument, "least squares", "design has %d rows, response %d", m, y.Len())
	}
	qr, err := factorize(x, "least squares")
	if err != nil {
		return nil, 0, err
	}
	coef := mat.NewVecDense(n, nil)
	if err := qr.SolveVecTo(coef, false, y); err != nil {
		return nil, 0, dferr.Wrap(dferr.ErrSingularMatrix, "least squares", err)
	}
	var res mat.VecDense
	res.MulVec(x, coef)
	res.SubVec(y, &res)
	return coef, mat.Dot(&res, &res), nil
}

// Projector residualizes vectors against the column space of a fixed
// design. A nil design spans nothing and leaves every vector unchanged.
type Projector struct {
	// Orthonormal basis of the column space
	q *mat.Dense
}

// NewProjector factorizes x once so that many columns can be residualized
// cheaply.
func NewProjector(x mat.Matrix) (*Projector, error) {
	if isNil(x) {
		return &Projector{}, nil
	}
	m, n := x.Dims()
	qr, err := factorize(x, "projection")
	if err != nil {
		return nil, err
	}
	var q mat.Dense
	qr.QTo(&q)
	return &Projector{q: mat.DenseCopyOf(q.Slice(0, m, 0, n))}, nil
}

// Rank returns the dimension of the projected-out space.
func (p *Projector) Rank() int {
	if p.q == nil {
		return 0
	}
	_, n := p.q.Dims()
	return n
}

// Residual returns z - Q Q^T z for every column of z.
func (p *Projector) Residual(z mat.Matrix) *mat.Dense {
	res := mat.DenseCopyOf(z)
	if p.q == nil {
		return res
	}
	var (
		coef mat.Dense
		fit  mat.Dense
	)
	coef.Mul(p.q.T(), z)
	fit.Mul(p.q, &coef)
	res.Sub(res, &fit)
	return res
}

// ResidualVec is Residual for a single vector.
func (p *Projector) ResidualVec(z mat.Vector) *mat.VecDense {
	res := mat.VecDenseCopyOf(z)
	if p.q == nil {
		return res
	}
	var (
		coef mat.VecDense
		fit  mat.VecDense
	)
	coef.MulVec(p.q.T(), z)
	fit.MulVec(p.q, &coef)
	res.SubVec(res, &fit)
	return res
}

// Residualize returns the residuals of every column of z after regression
// on the columns of x.
func Residualize(x, z mat.Matrix) (*mat.Dense, error) {
	p, err := NewProjector(x)
	if err != nil {
		return nil, err
	}
	return p.Residual(z), nil
}

// isNil reports whether x is nil or a nil *mat.Dense.
func isNil(x mat.Matrix) bool {
	if x == nil {
		return true
	}
	d, ok := x.(*mat.Dense)
	return ok && d == nil
}
