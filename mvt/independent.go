package mvt

import (
	"math"

	"github.com/hammal/dosefinding/dferr"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

const chiTail = 1e-12

// Independent is a deterministic Distribution for an identity correlation.
// Normal probabilities are products of univariate probabilities; t
// probabilities integrate that product against the density of the common
// chi scale by Gauss-Legendre quadrature. Any other correlation is rejected.
type Independent struct {
	// Quadrature nodes for the t distribution, 256 if zero.
	Nodes    int
	Interval [2]float64
}

func (ind Independent) nodes() int {
	if ind.Nodes <= 0 {
		return 256
	}
	return ind.Nodes
}

// Probability implements Distribution.
func (ind Independent) Probability(lower, upper, delta []float64, corr mat.Symmetric, df float64) (Result, error) {
	lim, err := newLimits(lower, upper, delta, corr)
	if err != nil {
		return Result{}, err
	}
	n := lim.dim()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if math.Abs(lim.corr.At(i, j)) > correlationTolerance {
				return Result{}, dferr.New(dferr.ErrInvalidArgument, "mvt", "independent distribution needs an identity correlation, entry (%d, %d) is %g", i, j, lim.corr.At(i, j))
			}
		}
	}

	product := func(s float64) float64 {
		res := 1.
		for i := 0; i < n; i++ {
			res *= phi(lim.upper[i]*s-lim.delta[i]) - phi(lim.lower[i]*s-lim.delta[i])
		}
		return res
	}
	if Normal(df) {
		return Result{Value: product(1), Evaluations: 1}, nil
	}
	// density of S = sqrt(chi2/df) on the range holding all but 2e-12 of
	// its mass
	chi := distuv.ChiSquared{K: df}
	lo := math.Sqrt(chi.Quantile(chiTail) / df)
	hi := math.Sqrt(chi.Quantile(1-chiTail) / df)
	value := quad.Fixed(func(s float64) float64 {
		return product(s) * 2 * df * s * chi.Prob(df*s*s)
	}, lo, hi, ind.nodes(), quad.Legendre{}, 0)
	return Result{Value: value, Evaluations: ind.nodes()}, nil
}

// Quantile implements Distribution.
func (ind Independent) Quantile(p float64, tail Tail, corr mat.Symmetric, df float64) (Result, error) {
	if corr == nil {
		return Result{}, dferr.New(dferr.ErrInvalidArgument, "mvt quantile", "missing correlation matrix")
	}
	interval := ind.Interval
	if interval == [2]float64{} {
		interval = DefaultControl().Interval
	}
	n := corr.SymmetricDim()
	return invert(func(q float64) (Result, error) {
		lower, upper := quantileLimits(n, q, tail)
		return ind.Probability(lower, upper, nil, corr, df)
	}, p, tail, n, df, interval)
}
