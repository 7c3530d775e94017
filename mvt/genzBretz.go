package mvt

import (
	"math"
	"math/rand/v2"

	"github.com/hammal/dosefinding/dferr"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// number of random shifts of the lattice; their spread estimates the
	// integration error
	latticeShifts = 12
	// points per shift in the first round
	initialPoints = 32
	// error estimate in standard errors
	errorFactor = 3
	// smallest probability passed to the normal quantile
	tinyProbability = 1e-16
	// pivots of the Cholesky factor below this are treated as zero
	pivotTolerance = 1e-10
)

// GenzBretz integrates by randomized quasi Monte Carlo (Genz and Bretz,
// Computation of Multivariate Normal and t Probabilities, 2009): a Cholesky
// decomposition with variable reordering transforms the integral to the
// unit cube, where it is averaged over a randomly shifted Richtmyer lattice
// with antithetic points. The number of lattice points is doubled until the
// error estimate meets the tolerance or MaxPts is exhausted, which is an
// ErrIntegrationFailure. The last round uses what is left of the budget.
type GenzBretz struct {
	Control Control
	Logger  *zap.Logger
}

// NewGenzBretz returns a GenzBretz with the given control.
func NewGenzBretz(control Control, logger *zap.Logger) (*GenzBretz, error) {
	if err := control.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenzBretz{Control: control, Logger: logger}, nil
}

func (g *GenzBretz) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

// Probability implements Distribution.
func (g *GenzBretz) Probability(lower, upper, delta []float64, corr mat.Symmetric, df float64) (Result, error) {
	if err := g.Control.Validate(); err != nil {
		return Result{}, err
	}
	lim, err := newLimits(lower, upper, delta, corr)
	if err != nil {
		return Result{}, err
	}
	l, err := lim.factorize()
	if err != nil {
		return Result{}, err
	}
	f := &integrand{limits: lim, chol: l, df: df}
	res, err := g.integrate(f)
	g.logger().Debug("mvt probability",
		zap.Int("dim", lim.dim()),
		zap.Float64("df", df),
		zap.Float64("value", res.Value),
		zap.Float64("error", res.Error),
		zap.Int("evaluations", res.Evaluations),
	)
	return res, err
}

// Quantile implements Distribution.
func (g *GenzBretz) Quantile(p float64, tail Tail, corr mat.Symmetric, df float64) (Result, error) {
	if err := g.Control.Validate(); err != nil {
		return Result{}, err
	}
	if corr == nil {
		return Result{}, dferr.New(dferr.ErrInvalidArgument, "mvt quantile", "missing correlation matrix")
	}
	n := corr.SymmetricDim()
	return invert(func(q float64) (Result, error) {
		lower, upper := quantileLimits(n, q, tail)
		return g.Probability(lower, upper, nil, corr, df)
	}, p, tail, n, df, g.Control.Interval)
}

// integrate averages f over randomly shifted lattices of growing size and
// combines the rounds by inverse variance weighting.
func (g *GenzBretz) integrate(f *integrand) (Result, error) {
	c := g.Control
	dim := f.cubeDim()
	if dim == 0 {
		return Result{Value: f.eval(nil), Evaluations: 1}, nil
	}

	var (
		rng    = rand.New(rand.NewPCG(c.Seed, uint64(dim)))
		gen    = richtmyer(dim)
		n      = min(initialPoints, c.MaxPts/(2*latticeShifts))
		res    Result
		weight float64
		sum    float64
		x      = make([]float64, dim)
		anti   = make([]float64, dim)
		shift  = make([]float64, dim)
		means  = make([]float64, latticeShifts)
	)
	for n > 0 {
		for k := range means {
			for i := range shift {
				shift[i] = rng.Float64()
			}
			var total float64
			for j := 1; j <= n; j++ {
				for i := range x {
					_, u := math.Modf(float64(j)*gen[i] + shift[i])
					x[i] = math.Abs(2*u - 1)
					anti[i] = 1 - x[i]
				}
				total += (f.eval(x) + f.eval(anti)) / 2
			}
			means[k] = total / float64(n)
		}
		res.Evaluations += 2 * latticeShifts * n

		mean := floats.Sum(means) / latticeShifts
		var ss float64
		for _, m := range means {
			ss += (m - mean) * (m - mean)
		}
		variance := ss / (latticeShifts * (latticeShifts - 1))
		if variance == 0 {
			res.Value, res.Error = mean, 0
			return res, nil
		}
		weight += 1 / variance
		sum += mean / variance
		res.Value = sum / weight
		res.Error = errorFactor * math.Sqrt(1/weight)
		if res.Error <= math.Max(c.AbsEps, c.RelEps*math.Abs(res.Value)) {
			return res, nil
		}
		n = min(2*n, (c.MaxPts-res.Evaluations)/(2*latticeShifts))
	}
	return res, dferr.New(dferr.ErrIntegrationFailure, "mvt", "error estimate %g above tolerance after %d evaluations", res.Error, res.Evaluations)
}

// richtmyer returns the lattice generators frac(sqrt(p_i)) for the first
// dim primes.
func richtmyer(dim int) []float64 {
	gen := make([]float64, 0, dim)
	for p := 2; len(gen) < dim; p++ {
		if isPrime(p) {
			_, frac := math.Modf(math.Sqrt(float64(p)))
			gen = append(gen, frac)
		}
	}
	return gen
}

func isPrime(p int) bool {
	for d := 2; d*d <= p; d++ {
		if p%d == 0 {
			return false
		}
	}
	return p > 1
}

// factorize returns the lower triangular L with L L^T = corr for a
// positive semidefinite correlation, reordering the variables as it goes:
// step j moves the variable with the smallest conditional probability of
// its interval, given the expected values of the variables before it, to
// position j. The limits are permuted in place. Columns with a zero pivot
// are zero, so that perfectly correlated variables are allowed.
func (l *limits) factorize() (*mat.TriDense, error) {
	n := l.dim()
	r := l.corr
	chol := mat.NewTriDense(n, mat.Lower, nil)
	y := make([]float64, n)
	// conditional mean and variance of variable i given the first j
	conditional := func(i, j int) (mean, variance float64) {
		variance = r.At(i, i)
		for k := 0; k < j; k++ {
			mean += chol.At(i, k) * y[k]
			variance -= chol.At(i, k) * chol.At(i, k)
		}
		return mean + l.delta[i], variance
	}

	for j := 0; j < n; j++ {
		best, width := j, math.Inf(1)
		for i := j; i < n; i++ {
			mean, variance := conditional(i, j)
			if variance <= pivotTolerance {
				continue
			}
			sd := math.Sqrt(variance)
			w := phi((l.upper[i]-mean)/sd) - phi((l.lower[i]-mean)/sd)
			if w < width {
				best, width = i, w
			}
		}
		l.swap(chol, j, best)

		mean, d := conditional(j, j)
		if d < -pivotTolerance {
			return nil, dferr.New(dferr.ErrSingularMatrix, "mvt", "correlation matrix is not positive semidefinite")
		}
		if d <= pivotTolerance {
			for i := j + 1; i < n; i++ {
				v := r.At(i, j)
				for k := 0; k < j; k++ {
					v -= chol.At(i, k) * chol.At(j, k)
				}
				if math.Abs(v) > math.Sqrt(pivotTolerance) {
					return nil, dferr.New(dferr.ErrSingularMatrix, "mvt", "correlation matrix is not positive semidefinite")
				}
			}
			y[j] = 0
			continue
		}
		pivot := math.Sqrt(d)
		chol.SetTri(j, j, pivot)
		for i := j + 1; i < n; i++ {
			v := r.At(i, j)
			for k := 0; k < j; k++ {
				v -= chol.At(i, k) * chol.At(j, k)
			}
			chol.SetTri(i, j, v/pivot)
		}
		y[j] = truncatedMean((l.lower[j]-mean)/pivot, (l.upper[j]-mean)/pivot)
	}
	return chol, nil
}

// swap exchanges the variables i and j >= i, together with the rows of the
// first i columns of chol.
func (l *limits) swap(chol *mat.TriDense, i, j int) {
	if i == j {
		return
	}
	l.lower[i], l.lower[j] = l.lower[j], l.lower[i]
	l.upper[i], l.upper[j] = l.upper[j], l.upper[i]
	l.delta[i], l.delta[j] = l.delta[j], l.delta[i]
	r := l.corr
	ii, jj := r.At(i, i), r.At(j, j)
	r.SetSym(i, i, jj)
	r.SetSym(j, j, ii)
	for k := 0; k < l.dim(); k++ {
		if k == i || k == j {
			continue
		}
		ri, rj := r.At(i, k), r.At(j, k)
		r.SetSym(i, k, rj)
		r.SetSym(j, k, ri)
	}
	for k := 0; k < i; k++ {
		ci, cj := chol.At(i, k), chol.At(j, k)
		chol.SetTri(i, k, cj)
		chol.SetTri(j, k, ci)
	}
}

// truncatedMean is the mean of a standard normal truncated to (a, b).
func truncatedMean(a, b float64) float64 {
	p := phi(b) - phi(a)
	if p > tinyProbability {
		return (distuv.UnitNormal.Prob(a) - distuv.UnitNormal.Prob(b)) / p
	}
	switch {
	case math.IsInf(a, -1) && math.IsInf(b, 1):
		return 0
	case math.IsInf(a, -1):
		return b
	case math.IsInf(b, 1):
		return a
	}
	return (a + b) / 2
}

// integrand is the probability after separation of variables, as a
// function on the unit cube. For the t distribution the first coordinate
// selects the chi scale.
type integrand struct {
	*limits
	chol *mat.TriDense
	df   float64
	y    []float64
}

func (f *integrand) cubeDim() int {
	d := f.dim() - 1
	if !Normal(f.df) {
		d++
	}
	return d
}

func (f *integrand) eval(w []float64) float64 {
	n := f.dim()
	if f.y == nil {
		f.y = make([]float64, n)
	}
	s := 1.
	if !Normal(f.df) {
		u := clamp(w[0])
		s = math.Sqrt(distuv.ChiSquared{K: f.df}.Quantile(u) / f.df)
		s = math.Max(s, math.SmallestNonzeroFloat64)
		w = w[1:]
	}

	value := 1.
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < i; j++ {
			sum += f.chol.At(i, j) * f.y[j]
		}
		a := f.lower[i]*s - f.delta[i] - sum
		b := f.upper[i]*s - f.delta[i] - sum
		pivot := f.chol.At(i, i)
		if pivot == 0 {
			// determined by the previous variables
			if a > 0 || b < 0 {
				return 0
			}
			f.y[i] = 0
			continue
		}
		pa, pb := phi(a/pivot), phi(b/pivot)
		value *= pb - pa
		if value == 0 {
			return 0
		}
		if i < n-1 {
			f.y[i] = distuv.UnitNormal.Quantile(clamp(pa + w[i]*(pb-pa)))
		}
	}
	return value
}

func phi(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

func clamp(p float64) float64 {
	return math.Min(math.Max(p, tinyProbability), 1-tinyProbability)
}
