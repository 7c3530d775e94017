// Package fit estimates dose-response curves by variable projection.
//
// The linear parameters (intercept, scale, covariate effects) are
// concentrated out of the residual criterion, leaving an optimization over
// the nonlinear shape parameters only. That optimization runs in two phases:
// a global search over the deterministic nodes of package grid, followed by
// a bound constrained local refinement. Families without nonlinear
// parameters reduce to a single (generalized) linear regression.
package fit

import (
	"math"
	"sort"

	"github.com/hammal/dosefinding/dferr"
	"github.com/hammal/dosefinding/linalg"
	"github.com/hammal/dosefinding/model"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DataType selects how the response is given.
type DataType int

const (
	// Normal data are per-patient responses with independent homoscedastic
	// errors, optionally adjusted for linear covariates.
	Normal DataType = iota
	// General data are summary estimates per dose with a known covariance
	// matrix.
	General
)

func (t DataType) String() string {
	switch t {
	case Normal:
		return "normal"
	case General:
		return "general"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (t DataType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DataType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "normal", "":
		*t = Normal
	case "general":
		*t = General
	default:
		return dferr.New(dferr.ErrInvalidArgument, "request", "unknown data type %q", text)
	}
	return nil
}

// Request is the input of a single fit.
type Request struct {
	Family model.Family
	Type   DataType
	// Dose has one entry per patient (Normal) or per estimate (General).
	Dose []float64
	// Resp holds the responses or the summary estimates.
	Resp []float64
	// Covariates has one row per patient and one column per covariate.
	// Normal data only.
	Covariates     *mat.Dense
	CovariateNames []string
	// S is the covariance of the estimates in Resp. General data only.
	S mat.Matrix
	// DF are the degrees of freedom of S. Zero means infinite.
	DF float64
	// PlaceboAdjusted marks estimates that are differences to placebo; the
	// intercept is then dropped. General data only.
	PlaceboAdjusted bool
	// Bounds of the nonlinear parameters; nil uses model.DefaultBounds.
	Bounds model.Bounds
	// Start skips the grid search and starts the local search here.
	Start []float64
	// Constants of the shape; zero fields use model.DefaultConstants.
	Constants model.Constants
}

// Options tune the numerical search. The zero value is not usable; start
// from DefaultOptions.
type Options struct {
	// Number of grid nodes for one nonlinear parameter
	GridSize1D int
	// Requested number of lattice nodes for two nonlinear parameters
	GridSize2D int
	// Relative tolerance of the local search
	Tolerance float64
	// Iteration budget of the local search
	MaxIterations int
	// Logger receives debug information about each phase. Nil disables
	// logging.
	Logger *zap.Logger
}

// DefaultOptions returns 30 nodes in one dimension, 144 in two, and a local
// tolerance of sqrt(machine epsilon).
func DefaultOptions() Options {
	return Options{
		GridSize1D:    30,
		GridSize2D:    144,
		Tolerance:     math.Sqrt(2.220446049250313e-16),
		MaxIterations: 500,
	}
}

// Validate checks that the options are usable.
func (o Options) Validate() error {
	if o.GridSize1D < 1 || o.GridSize2D < 1 {
		return dferr.New(dferr.ErrInvalidArgument, "options", "grid sizes must be positive, got %d and %d", o.GridSize1D, o.GridSize2D)
	}
	if !(o.Tolerance > 0) {
		return dferr.New(dferr.ErrInvalidArgument, "options", "tolerance must be positive, got %g", o.Tolerance)
	}
	if o.MaxIterations < 1 {
		return dferr.New(dferr.ErrInvalidArgument, "options", "iteration budget must be positive, got %d", o.MaxIterations)
	}
	return nil
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// problem is a validated request reduced to a (whitened) least-squares
// problem
//
//	min || W (y - [1 f(theta) X] b) ||^2
//
// over the rows in dose. W is nil for the identity.
type problem struct {
	family    model.Family
	dataType  DataType
	placAdj   bool
	constants model.Constants
	bounds    model.Bounds
	nodes     []float64

	// regression rows
	dose      []float64
	y         *mat.VecDense
	white     *mat.Dense
	intercept bool
	covs      *mat.Dense

	// whitened response residualized against [1 X]
	proj *linalg.Projector
	resY *mat.VecDense
	rr   float64

	// within-dose sum of squares removed by averaging Normal data
	extraRSS float64

	// per-observation data kept for inference
	obsDose []float64
	obsCovs *mat.Dense
	s       *mat.SymDense
	nObs    int
	df      float64
}

func newProblem(req Request) (*problem, error) {
	f := req.Family
	if !f.Valid() {
		return nil, dferr.New(dferr.ErrInvalidArgument, "request", "unknown family %v", f)
	}
	n := len(req.Dose)
	if n == 0 || len(req.Resp) != n {
		return nil, dferr.New(dferr.ErrInvalidArgument, "request", "%d doses but %d responses", n, len(req.Resp))
	}
	if linalg.NaNOrInfSlice(req.Dose) || linalg.NaNOrInfSlice(req.Resp) {
		return nil, dferr.New(dferr.ErrInvalidArgument, "request", "dose or response contains NaN or Inf")
	}
	if floats.Min(req.Dose) < 0 {
		return nil, dferr.New(dferr.ErrInvalidArgument, "request", "doses must be non-negative")
	}
	maxDose := floats.Max(req.Dose)
	if !(maxDose > 0) {
		return nil, dferr.New(dferr.ErrInvalidArgument, "request", "at least one dose must be positive")
	}

	p := &problem{
		family:    f,
		dataType:  req.Type,
		placAdj:   req.PlaceboAdjusted,
		constants: req.Constants.WithDefaults(maxDose),
		bounds:    req.Bounds,
		intercept: !req.PlaceboAdjusted,
		obsDose:   append([]float64(nil), req.Dose...),
		nObs:      n,
	}
	if f.NumNonlinear() > 0 {
		if p.bounds == nil {
			p.bounds = model.DefaultBounds(f, maxDose)
		}
		if err := p.bounds.Validate(f); err != nil {
			return nil, err
		}
	}
	if err := p.checkSupport(req.Dose); err != nil {
		return nil, err
	}

	var err error
	switch req.Type {
	case Normal:
		err = p.setupNormal(req)
	case General:
		err = p.setupGeneral(req)
	default:
		err = dferr.New(dferr.ErrInvalidArgument, "request", "unknown data type %d", req.Type)
	}
	if err != nil {
		return nil, err
	}

	if f == model.LinInt {
		p.nodes = uniqueSorted(req.Dose)
		if p.placAdj {
			if p.nodes[0] == 0 {
				return nil, dferr.New(dferr.ErrInvalidArgument, "request", "placebo adjusted estimates must not include dose 0")
			}
			p.nodes = append([]float64{0}, p.nodes...)
		}
	}

	wy := p.whitenVec(p.y)
	p.proj, err = linalg.NewProjector(p.whiten(p.baseDesign()))
	if err != nil {
		return nil, err
	}
	p.resY = p.proj.ResidualVec(wy)
	p.rr = mat.Dot(p.resY, p.resY)
	return p, nil
}

// checkSupport rejects doses outside the domain of the shape.
func (p *problem) checkSupport(dose []float64) error {
	switch p.family {
	case model.BetaMod:
		if p.constants.Scal < floats.Max(dose) {
			return dferr.New(dferr.ErrDomain, "request", "betaMod scale %g below largest dose %g", p.constants.Scal, floats.Max(dose))
		}
	case model.LinLog:
		if !(p.constants.Off > 0) {
			return dferr.New(dferr.ErrInvalidArgument, "request", "linlog offset must be positive, got %g", p.constants.Off)
		}
	}
	return nil
}

// setupNormal averages the responses per dose unless covariates are given.
// The averaged problem is weighted by group size and the within-group sum
// of squares is added back to the criterion.
func (p *problem) setupNormal(req Request) error {
	if req.S != nil {
		return dferr.New(dferr.ErrInvalidArgument, "request", "a covariance matrix requires general data")
	}
	if req.PlaceboAdjusted {
		return dferr.New(dferr.ErrUnsupportedConfiguration, "request", "placebo adjusted responses require general data")
	}
	if req.Covariates != nil {
		r, c := req.Covariates.Dims()
		if r != len(req.Dose) {
			return dferr.New(dferr.ErrInvalidArgument, "request", "covariates have %d rows for %d patients", r, len(req.Dose))
		}
		if len(req.CovariateNames) != 0 && len(req.CovariateNames) != c {
			return dferr.New(dferr.ErrInvalidArgument, "request", "%d covariate names for %d covariates", len(req.CovariateNames), c)
		}
		if linalg.NaNOrInf(req.Covariates) {
			return dferr.New(dferr.ErrInvalidArgument, "request", "covariates contain NaN or Inf")
		}
		p.dose = append([]float64(nil), req.Dose...)
		p.y = mat.NewVecDense(len(req.Resp), append([]float64(nil), req.Resp...))
		p.covs = mat.DenseCopyOf(req.Covariates)
		p.obsCovs = p.covs
		p.df = math.NaN()
		return nil
	}

	levels := uniqueSorted(req.Dose)
	sum := make([]float64, len(levels))
	count := make([]float64, len(levels))
	group := make([]int, len(req.Dose))
	for i, d := range req.Dose {
		j := sort.SearchFloat64s(levels, d)
		group[i] = j
		sum[j] += req.Resp[i]
		count[j]++
	}
	means := make([]float64, len(levels))
	weights := make([]float64, len(levels))
	for j := range levels {
		means[j] = sum[j] / count[j]
		weights[j] = math.Sqrt(count[j])
	}
	for i, y := range req.Resp {
		r := y - means[group[i]]
		p.extraRSS += r * r
	}
	p.dose = levels
	p.y = mat.NewVecDense(len(means), means)
	p.white = mat.DenseCopyOf(linalg.Diag(weights))
	p.df = math.NaN()
	return nil
}

func (p *problem) setupGeneral(req Request) error {
	if req.Covariates != nil {
		return dferr.New(dferr.ErrInvalidArgument, "request", "covariates require normal data")
	}
	if req.PlaceboAdjusted && !p.family.AnchoredAtZero() {
		return dferr.New(dferr.ErrUnsupportedConfiguration, "request", "%v is not zero at placebo and cannot be fitted to placebo adjusted data", p.family)
	}
	if req.S == nil {
		return dferr.New(dferr.ErrInvalidArgument, "request", "general data need the covariance matrix S")
	}
	if r, _ := req.S.Dims(); r != len(req.Dose) {
		return dferr.New(dferr.ErrInvalidArgument, "request", "S has dimension %d for %d estimates", r, len(req.Dose))
	}
	s, err := linalg.Symmetrize(req.S)
	if err != nil {
		return err
	}
	p.white, err = linalg.Whitener(s)
	if err != nil {
		return err
	}
	p.s = s
	p.dose = append([]float64(nil), req.Dose...)
	p.y = mat.NewVecDense(len(req.Resp), append([]float64(nil), req.Resp...))
	switch {
	case req.DF == 0:
		p.df = math.Inf(1)
	case req.DF > 0:
		p.df = req.DF
	default:
		return dferr.New(dferr.ErrInvalidArgument, "request", "degrees of freedom must be positive, got %g", req.DF)
	}
	return nil
}

// baseDesign returns [1 X], the columns that are always in the model, or
// nil if there are none.
func (p *problem) baseDesign() *mat.Dense {
	var one *mat.Dense
	if p.intercept {
		one = linalg.Ones(len(p.dose), 1)
	}
	return linalg.Augment(one, p.covs)
}

func (p *problem) whiten(m *mat.Dense) *mat.Dense {
	if m == nil || p.white == nil {
		return m
	}
	var res mat.Dense
	res.Mul(p.white, m)
	return &res
}

func (p *problem) whitenVec(v *mat.VecDense) *mat.VecDense {
	if p.white == nil {
		return v
	}
	var res mat.VecDense
	res.MulVec(p.white, v)
	return &res
}

func uniqueSorted(values []float64) []float64 {
	res := append([]float64(nil), values...)
	sort.Float64s(res)
	k := 0
	for i, v := range res {
		if i == 0 || v != res[k-1] {
			res[k] = v
			k++
		}
	}
	return res[:k]
}
