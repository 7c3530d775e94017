package fit

import (
	"errors"
	"fmt"
	"math"

	"github.com/hammal/dosefinding/dferr"
	"github.com/hammal/dosefinding/grid"
	"github.com/hammal/dosefinding/linalg"
	"github.com/hammal/dosefinding/model"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// degenerateShape is the squared norm, relative to the whitened shape
// itself, below which a shape residual is treated as lying in the span of
// the base design.
const degenerateShape = 1e-12

// SearchError carries the best point of a local search that did not
// converge. It is returned wrapped in dferr.ErrFitFailure.
type SearchError struct {
	Theta     []float64
	Criterion float64
	Err       error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("local search stopped at %v with criterion %g: %v", e.Theta, e.Criterion, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// Fit estimates the dose-response curve described by req.
func Fit(req Request, opts Options) (*DRMod, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	m, err := fit(req, opts)
	return m, dferr.WithModel(err, req.Family.String())
}

func fit(req Request, opts Options) (*DRMod, error) {
	p, err := newProblem(req)
	if err != nil {
		return nil, err
	}
	log := opts.logger().With(zap.Stringer("family", req.Family), zap.Stringer("type", req.Type))

	var (
		theta []float64
		diag  = Diagnostics{GridCriterion: math.NaN(), LocalCriterion: math.NaN()}
	)
	if p.family.NumNonlinear() > 0 {
		theta, err = p.search(req.Start, opts, &diag, log)
		if err != nil {
			return nil, err
		}
	}

	m, err := p.recover(theta, req.CovariateNames)
	if err != nil {
		return nil, err
	}
	m.diag = diag
	log.Debug("fit done",
		zap.Float64s("coef", m.Coef()),
		zap.Float64("rss", m.rss),
		zap.Float64("df", m.df),
	)
	return m, nil
}

// search runs the global and local phase on the concentrated criterion and
// returns the better of both optima.
func (p *problem) search(start []float64, opts Options, diag *Diagnostics, log *zap.Logger) ([]float64, error) {
	var (
		theta    []float64
		fromGrid = start == nil
		err      error
	)
	if fromGrid {
		theta, diag.GridCriterion, err = p.gridSearch(opts)
		if err != nil {
			return nil, err
		}
		diag.GridNode = append([]float64(nil), theta...)
		log.Debug("grid search", zap.Float64s("node", theta), zap.Float64("criterion", diag.GridCriterion))
	} else {
		if err := p.checkStart(start); err != nil {
			return nil, err
		}
		theta = append([]float64(nil), start...)
		diag.GridCriterion = math.Inf(1)
	}

	var local localResult
	if len(p.bounds) == 1 {
		local, err = p.refine1D(theta[0], fromGrid, opts)
	} else {
		local, err = p.refine2D(theta, opts)
	}
	if err != nil {
		return nil, err
	}
	diag.LocalCriterion = local.value
	diag.Iterations = local.iterations
	diag.Evaluations = local.evaluations
	log.Debug("local search",
		zap.Float64s("theta", local.x),
		zap.Float64("criterion", local.value),
		zap.Int("iterations", local.iterations),
	)
	if local.value <= diag.GridCriterion {
		return local.x, nil
	}
	return theta, nil
}

func (p *problem) checkStart(start []float64) error {
	if len(start) != len(p.bounds) {
		return dferr.New(dferr.ErrInvalidArgument, "start", "%v needs %d start values, got %d", p.family, len(p.bounds), len(start))
	}
	for i, s := range start {
		if !(s >= p.bounds[i][0] && s <= p.bounds[i][1]) {
			return dferr.New(dferr.ErrInvalidArgument, "start", "start value %g outside bound [%g, %g]", s, p.bounds[i][0], p.bounds[i][1])
		}
	}
	return nil
}

// concentrate returns the residual criterion with the linear parameters
// profiled out,
//
//	RSS(theta) = ||r||^2 - (r.z)^2 / (z.z)
//
// where z is the residualized whitened shape wz.
func (p *problem) concentrate(wz, rz mat.Vector) float64 {
	zz := mat.Dot(rz, rz)
	if !(zz > degenerateShape*mat.Dot(wz, wz)) {
		return p.rr
	}
	ry := mat.Dot(p.resY, rz)
	return p.rr - ry*ry/zz
}

// criterion evaluates the concentrated criterion at a single point.
func (p *problem) criterion(theta []float64) (float64, error) {
	f, err := model.Shape(p.family, theta, p.dose, p.constants)
	if err != nil {
		return 0, err
	}
	wz := p.whitenVec(mat.NewVecDense(len(f), f))
	return p.concentrate(wz, p.proj.ResidualVec(wz)), nil
}

// gridSearch scores all grid nodes in one pass: the shapes are stacked as
// columns, whitened and residualized together.
func (p *problem) gridSearch(opts Options) ([]float64, float64, error) {
	size := opts.GridSize1D
	if len(p.bounds) == 2 {
		size = opts.GridSize2D
	}
	nodes, err := grid.Nodes(size, p.bounds)
	if err != nil {
		return nil, 0, err
	}
	g, dim := nodes.Dims()
	n := len(p.dose)

	z := mat.NewDense(n, g, nil)
	col := make([]float64, n)
	theta := make([]float64, dim)
	for j := 0; j < g; j++ {
		mat.Row(theta, j, nodes)
		if err := model.ShapeTo(col, p.family, theta, p.dose, p.constants); err != nil {
			return nil, 0, err
		}
		z.SetCol(j, col)
	}
	wz := p.whiten(z)
	rz := p.proj.Residual(wz)

	best, bestValue := -1, math.Inf(1)
	for j := 0; j < g; j++ {
		if value := p.concentrate(wz.ColView(j), rz.ColView(j)); value < bestValue {
			best, bestValue = j, value
		}
	}
	if best < 0 {
		return nil, 0, dferr.New(dferr.ErrFitFailure, "grid search", "no grid node has a finite criterion")
	}
	return mat.Row(nil, best, nodes), bestValue, nil
}

type localResult struct {
	x           []float64
	value       float64
	iterations  int
	evaluations int
}

// refine1D minimizes the criterion with Brent's method. Starting from a
// grid node the interval is the node plus or minus 1.1 grid spacings,
// clamped to the bounds; from a user start it is the whole bound.
func (p *problem) refine1D(x0 float64, fromGrid bool, opts Options) (localResult, error) {
	b := p.bounds[0]
	lo, hi := b[0], b[1]
	if fromGrid {
		h := 1.1 * grid.Spacing(opts.GridSize1D, b)
		lo, hi = math.Max(lo, x0-h), math.Min(hi, x0+h)
	}

	var evalErr error
	res, err := brent(func(x float64) float64 {
		v, err := p.criterion([]float64{x})
		if err != nil {
			if evalErr == nil {
				evalErr = err
			}
			return math.Inf(1)
		}
		return v
	}, lo, hi, opts.Tolerance, opts.MaxIterations)
	if evalErr != nil {
		return localResult{}, evalErr
	}
	if err != nil {
		return localResult{}, dferr.Wrap(dferr.ErrFitFailure, "local search", &SearchError{
			Theta:     []float64{res.x},
			Criterion: res.f,
			Err:       err,
		})
	}
	return localResult{
		x:           []float64{res.x},
		value:       res.f,
		iterations:  res.iterations,
		evaluations: res.evaluations,
	}, nil
}

// refine2D minimizes the criterion with Nelder-Mead on the logit transform
// of the bound box, which keeps every evaluation strictly inside the
// bounds.
func (p *problem) refine2D(x0 []float64, opts Options) (localResult, error) {
	b := p.bounds
	u0 := make([]float64, len(x0))
	for i := range x0 {
		u0[i] = toUnbounded(b[i], x0[i])
	}

	var evalErr error
	x := make([]float64, len(x0))
	prob := optimize.Problem{
		Func: func(u []float64) float64 {
			for i := range u {
				x[i] = toBounded(b[i], u[i])
			}
			v, err := p.criterion(x)
			if err != nil {
				if evalErr == nil {
					evalErr = err
				}
				return math.Inf(1)
			}
			return v
		},
	}
	settings := &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   opts.Tolerance * p.rr,
			Relative:   opts.Tolerance,
			Iterations: 25,
		},
	}
	result, err := optimize.Minimize(prob, u0, settings, &optimize.NelderMead{})
	if evalErr != nil {
		return localResult{}, evalErr
	}
	if err == nil && result != nil {
		err = result.Status.Err()
	}
	if err != nil {
		serr := &SearchError{Theta: append([]float64(nil), x0...), Criterion: math.NaN(), Err: err}
		if result != nil && result.X != nil {
			serr.Theta = fromUnbounded(b, result.X)
			serr.Criterion = result.F
		}
		return localResult{}, dferr.Wrap(dferr.ErrFitFailure, "local search", serr)
	}
	return localResult{
		x:           fromUnbounded(b, result.X),
		value:       result.F,
		iterations:  result.Stats.MajorIterations,
		evaluations: result.Stats.FuncEvaluations,
	}, nil
}

// boundaryGuard keeps logit start values finite for points on the bound.
const boundaryGuard = 1e-6

func toUnbounded(b [2]float64, x float64) float64 {
	t := (x - b[0]) / (b[1] - b[0])
	t = math.Min(math.Max(t, boundaryGuard), 1-boundaryGuard)
	return math.Log(t / (1 - t))
}

func toBounded(b [2]float64, u float64) float64 {
	return b[0] + (b[1]-b[0])/(1+math.Exp(-u))
}

func fromUnbounded(b model.Bounds, u []float64) []float64 {
	res := make([]float64, len(u))
	for i := range u {
		res[i] = toBounded(b[i], u[i])
	}
	return res
}

// design returns the unwhitened regression design [1,] shape, [covariates]
// at theta.
func (p *problem) design(theta []float64) (*mat.Dense, error) {
	n := len(p.dose)
	var (
		shape *mat.Dense
		one   *mat.Dense
	)
	switch {
	case p.family.NumNonlinear() > 0:
		f, err := model.Shape(p.family, theta, p.dose, p.constants)
		if err != nil {
			return nil, err
		}
		shape = mat.NewDense(n, 1, f)
	case p.family == model.LinInt:
		basis, err := model.Basis(p.family, p.dose, p.nodes, p.constants)
		if err != nil {
			return nil, err
		}
		shape = basis
		if p.placAdj {
			shape = mat.DenseCopyOf(basis.Slice(0, n, 1, len(p.nodes)))
		}
	default:
		basis, err := model.Basis(p.family, p.dose, nil, p.constants)
		if err != nil {
			return nil, err
		}
		shape = basis
	}
	if p.intercept && p.family != model.LinInt {
		one = linalg.Ones(n, 1)
	}
	return linalg.Augment(linalg.Augment(one, shape), p.covs), nil
}

// recover solves the final regression at theta and assembles the result.
func (p *problem) recover(theta []float64, covNames []string) (*DRMod, error) {
	x, err := p.design(theta)
	if err != nil {
		return nil, err
	}
	b, rss, err := linalg.LeastSquares(p.whiten(x), p.whitenVec(p.y))
	if err != nil {
		if errors.Is(err, dferr.ErrSingularMatrix) && len(theta) > 0 {
			return nil, dferr.New(dferr.ErrFitFailure, "recovery", "design singular at %v: %v", theta, err)
		}
		return nil, err
	}

	_, cols := x.Dims()
	nCov := 0
	if p.covs != nil {
		_, nCov = p.covs.Dims()
	}
	lin := b.RawVector().Data[:cols-nCov]
	coef := append(append([]float64(nil), lin...), theta...)

	curve := model.Curve{
		Family:          p.family,
		Coef:            coef,
		PlaceboAdjusted: p.placAdj,
		Constants:       p.constants,
		Nodes:           p.nodes,
	}
	m := &DRMod{
		curve:   curve,
		covCoef: append([]float64(nil), b.RawVector().Data[cols-nCov:]...),
		rss:     rss + p.extraRSS,
		meta: Metadata{
			Family:          p.family,
			Type:            p.dataType,
			PlaceboAdjusted: p.placAdj,
			Constants:       p.constants,
			Nodes:           append([]float64(nil), p.nodes...),
			Bounds:          p.bounds,
			CovariateNames:  covariateNames(covNames, nCov),
			Doses:           append([]float64(nil), p.dose...),
		},
		obsDose: p.obsDose,
		obsCovs: p.obsCovs,
		nObs:    p.nObs,
	}

	switch p.dataType {
	case General:
		m.df = p.df
		m.white = p.white
	default:
		m.df = float64(p.nObs - len(coef) - nCov)
		if m.df < 1 {
			return nil, dferr.New(dferr.ErrInvalidArgument, "recovery", "%d observations leave no residual degrees of freedom for %d coefficients", p.nObs, len(coef)+nCov)
		}
	}

	if m.fitted, err = m.fittedValues(); err != nil {
		return nil, err
	}
	if p.covs != nil {
		m.covMeans = make([]float64, nCov)
		for j := range m.covMeans {
			m.covMeans[j] = mat.Sum(p.covs.ColView(j)) / float64(p.nObs)
		}
	}
	return m, nil
}

func covariateNames(names []string, n int) []string {
	if len(names) == n {
		return append([]string(nil), names...)
	}
	res := make([]string, n)
	for i := range res {
		res[i] = fmt.Sprintf("x%d", i+1)
	}
	return res
}
