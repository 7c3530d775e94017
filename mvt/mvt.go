// Package mvt computes rectangle probabilities and equicoordinate quantiles
// of the multivariate normal and t distributions.
//
// The variable of interest is
//
//	X = (Z + delta) / S
//
// with Z ~ N(0, R) for a correlation matrix R, a non-centrality vector delta
// and S = sqrt(chi2(df)/df) independent of Z. For df <= 0 or df = +Inf,
// S = 1 and X is multivariate normal. With delta != 0 and finite df X has
// the (Kshirsagar) non-central multivariate t distribution.
//
// Distribution is the capability consumed by the multiple contrast test;
// GenzBretz is the general implementation and Independent an exact one for
// uncorrelated variables.
package mvt

import (
	"errors"
	"math"

	"github.com/hammal/dosefinding/dferr"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution is a multivariate normal/t probability service.
type Distribution interface {
	// Probability returns P(lower < X < upper). delta may be nil for the
	// central distribution. Infinite limits are allowed.
	Probability(lower, upper, delta []float64, corr mat.Symmetric, df float64) (Result, error)
	// Quantile returns the equicoordinate quantile q of the central
	// distribution with P(X < q, all i) = p for the Lower tail and
	// P(|X| < q, all i) = p for Both tails.
	Quantile(p float64, tail Tail, corr mat.Symmetric, df float64) (Result, error)
}

// Result of a probability or quantile computation.
type Result struct {
	Value float64
	// Error is the estimated absolute error of a probability, or the
	// largest one of the probabilities evaluated while inverting a
	// quantile.
	Error       float64
	Evaluations int
}

// Tail selects the region of a quantile.
type Tail int

const (
	// Lower is the region X_i < q for all i.
	Lower Tail = iota
	// Both is the region |X_i| < q for all i.
	Both
)

// Control holds the tolerances and budget of the numerical integration.
type Control struct {
	// MaxPts is the largest number of integrand evaluations.
	MaxPts int `yaml:"maxPts" koanf:"maxpts"`
	// AbsEps is the absolute error tolerance.
	AbsEps float64 `yaml:"absEps" koanf:"abseps"`
	// RelEps is the relative error tolerance.
	RelEps float64 `yaml:"relEps" koanf:"releps"`
	// Interval is searched for quantiles.
	Interval [2]float64 `yaml:"interval" koanf:"interval"`
	// Seed of the random lattice shifts; the same seed gives the same
	// result.
	Seed uint64 `yaml:"seed" koanf:"seed"`
}

// DefaultControl returns 30000 evaluations, an absolute error of 0.001 and
// the quantile interval [-10, 10].
func DefaultControl() Control {
	return Control{
		MaxPts:   30000,
		AbsEps:   0.001,
		RelEps:   0,
		Interval: [2]float64{-10, 10},
		Seed:     1,
	}
}

// Validate checks that the control values are usable.
func (c Control) Validate() error {
	if c.MaxPts < 2*latticeShifts {
		return dferr.New(dferr.ErrInvalidArgument, "mvt control", "MaxPts must be at least %d, got %d", 2*latticeShifts, c.MaxPts)
	}
	if c.AbsEps < 0 || c.RelEps < 0 || (c.AbsEps == 0 && c.RelEps == 0) {
		return dferr.New(dferr.ErrInvalidArgument, "mvt control", "need a positive tolerance, got abs %g rel %g", c.AbsEps, c.RelEps)
	}
	if !(c.Interval[0] < c.Interval[1]) {
		return dferr.New(dferr.ErrInvalidArgument, "mvt control", "empty quantile interval [%g, %g]", c.Interval[0], c.Interval[1])
	}
	return nil
}

// Normal reports whether df selects the multivariate normal distribution.
func Normal(df float64) bool {
	return df <= 0 || math.IsInf(df, 1)
}

// correlationTolerance bounds the deviation of diag(R) from 1 and of R from
// symmetry.
const correlationTolerance = 1e-8

// limits are validated integration limits.
type limits struct {
	lower, upper, delta []float64
	corr                *mat.SymDense
}

func newLimits(lower, upper, delta []float64, corr mat.Symmetric) (*limits, error) {
	if corr == nil {
		return nil, dferr.New(dferr.ErrInvalidArgument, "mvt", "missing correlation matrix")
	}
	n := corr.SymmetricDim()
	if n == 0 || len(lower) != n || len(upper) != n {
		return nil, dferr.New(dferr.ErrInvalidArgument, "mvt", "limits of length %d and %d for dimension %d", len(lower), len(upper), n)
	}
	if delta == nil {
		delta = make([]float64, n)
	}
	if len(delta) != n {
		return nil, dferr.New(dferr.ErrInvalidArgument, "mvt", "non-centrality of length %d for dimension %d", len(delta), n)
	}
	r := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if math.IsNaN(lower[i]) || math.IsNaN(upper[i]) || math.IsNaN(delta[i]) || math.IsInf(delta[i], 0) {
			return nil, dferr.New(dferr.ErrInvalidArgument, "mvt", "limit %d is not a number", i)
		}
		if lower[i] > upper[i] {
			return nil, dferr.New(dferr.ErrInvalidArgument, "mvt", "lower limit %g above upper limit %g", lower[i], upper[i])
		}
		if math.Abs(corr.At(i, i)-1) > correlationTolerance {
			return nil, dferr.New(dferr.ErrInvalidArgument, "mvt", "diagonal entry %d of the correlation is %g", i, corr.At(i, i))
		}
		for j := i; j < n; j++ {
			v := corr.At(i, j)
			if math.IsNaN(v) || math.Abs(v) > 1+correlationTolerance {
				return nil, dferr.New(dferr.ErrInvalidArgument, "mvt", "correlation (%d, %d) is %g", i, j, v)
			}
			r.SetSym(i, j, v)
		}
		r.SetSym(i, i, 1)
	}
	return &limits{
		lower: append([]float64(nil), lower...),
		upper: append([]float64(nil), upper...),
		delta: append([]float64(nil), delta...),
		corr:  r,
	}, nil
}

func (l *limits) dim() int { return len(l.lower) }

// quantileLimits returns the limits of the equicoordinate region at q.
func quantileLimits(n int, q float64, tail Tail) (lower, upper []float64) {
	lower = make([]float64, n)
	upper = make([]float64, n)
	for i := range lower {
		lower[i] = math.Inf(-1)
		if tail == Both {
			lower[i] = -q
		}
		upper[i] = q
	}
	return lower, upper
}

// quantileTolerance is the width of the final bracket of a quantile.
const quantileTolerance = 1e-6

// invert finds q in interval with prob(q) = p by bisection. prob must be
// nondecreasing in q. The search starts from the bracket of univariate
// bounds: the marginal quantile below and the Bonferroni quantile above.
// A probability that exhausted its budget still steers the bisection; the
// largest error estimate seen is reported.
func invert(prob func(q float64) (Result, error), p float64, tail Tail, n int, df float64, interval [2]float64) (Result, error) {
	if !(p > 0 && p < 1) {
		return Result{}, dferr.New(dferr.ErrInvalidArgument, "mvt quantile", "probability must be in (0, 1), got %g", p)
	}
	if tail != Lower && tail != Both {
		return Result{}, dferr.New(dferr.ErrInvalidArgument, "mvt quantile", "unknown tail %d", tail)
	}
	if !(interval[0] < interval[1]) {
		return Result{}, dferr.New(dferr.ErrInvalidArgument, "mvt quantile", "empty search interval [%g, %g]", interval[0], interval[1])
	}

	bracketLo, bracketHi := quantileBracket(p, tail, n, df)
	lo, hi := math.Max(bracketLo, interval[0]), math.Min(bracketHi, interval[1])
	if lo > hi {
		return Result{}, dferr.New(dferr.ErrIntegrationFailure, "mvt quantile", "quantile of %g outside search interval [%g, %g]", p, interval[0], interval[1])
	}

	var res Result
	eval := func(q float64) (float64, error) {
		r, err := prob(q)
		res.Evaluations += r.Evaluations
		if err != nil && !(errors.Is(err, dferr.ErrIntegrationFailure) && r.Evaluations > 0) {
			return 0, err
		}
		res.Error = math.Max(res.Error, r.Error)
		return r.Value - p, nil
	}
	// a clipped end of the bracket must still enclose the quantile
	if lo > bracketLo {
		f, err := eval(lo)
		if err != nil {
			return res, err
		}
		if f > 0 {
			return res, dferr.New(dferr.ErrIntegrationFailure, "mvt quantile", "quantile of %g outside search interval [%g, %g]", p, interval[0], interval[1])
		}
	}
	if hi < bracketHi {
		f, err := eval(hi)
		if err != nil {
			return res, err
		}
		if f < 0 {
			return res, dferr.New(dferr.ErrIntegrationFailure, "mvt quantile", "quantile of %g outside search interval [%g, %g]", p, interval[0], interval[1])
		}
	}
	for hi-lo > quantileTolerance*(1+math.Abs(lo)) {
		mid := (lo + hi) / 2
		f, err := eval(mid)
		if err != nil {
			return res, err
		}
		if f < 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	res.Value = (lo + hi) / 2
	return res, nil
}

// quantileBracket returns univariate bounds on the equicoordinate quantile
// of n variables with t(df) or normal marginals.
func quantileBracket(p float64, tail Tail, n int, df float64) (lo, hi float64) {
	quantile := distuv.UnitNormal.Quantile
	if !Normal(df) {
		quantile = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile
	}
	k := float64(max(n, 1))
	if tail == Both {
		return quantile((1 + p) / 2), quantile(1 - (1-p)/(2*k))
	}
	return quantile(p), quantile(1 - (1-p)/k)
}
