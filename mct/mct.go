// Package mct implements the multiple contrast test for a dose-response
// signal. Each contrast gives a t statistic; their joint distribution is
// multivariate t (or normal) with the correlation of the contrast
// estimates, which yields multiplicity adjusted p-values, a common critical
// value and the power for assumed true means.
package mct

import (
	"math"

	"github.com/hammal/dosefinding/contrast"
	"github.com/hammal/dosefinding/dferr"
	"github.com/hammal/dosefinding/fit"
	"github.com/hammal/dosefinding/linalg"
	"github.com/hammal/dosefinding/model"
	"github.com/hammal/dosefinding/mvt"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Alternative of the test.
type Alternative int

const (
	// OneSided tests for an effect in the direction of the contrasts.
	OneSided Alternative = iota
	// TwoSided tests for an effect in either direction.
	TwoSided
)

func (a Alternative) String() string {
	if a == TwoSided {
		return "two.sided"
	}
	return "one.sided"
}

// MarshalText implements encoding.TextMarshaler.
func (a Alternative) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Alternative) UnmarshalText(text []byte) error {
	switch string(text) {
	case "one.sided", "one-sided", "":
		*a = OneSided
	case "two.sided", "two-sided":
		*a = TwoSided
	default:
		return dferr.New(dferr.ErrInvalidArgument, "mct", "unknown alternative %q", text)
	}
	return nil
}

func (a Alternative) tail() mvt.Tail {
	if a == TwoSided {
		return mvt.Both
	}
	return mvt.Lower
}

// Options of the test.
type Options struct {
	Alternative Alternative
	Alpha       float64
	// CriticalValue requests the common critical value in Result.
	CriticalValue bool
	// Distribution defaults to mvt.GenzBretz with Control.
	Distribution mvt.Distribution
	// Control of the default distribution; the zero value selects
	// mvt.DefaultControl.
	Control mvt.Control
	Logger  *zap.Logger
}

// DefaultOptions returns a one-sided test at level 0.025 with critical
// value.
func DefaultOptions() Options {
	return Options{Alternative: OneSided, Alpha: 0.025, CriticalValue: true}
}

func (o Options) validate() error {
	if !(o.Alpha > 0 && o.Alpha < 1) {
		return dferr.New(dferr.ErrInvalidArgument, "mct", "alpha must be in (0, 1), got %g", o.Alpha)
	}
	if o.Alternative != OneSided && o.Alternative != TwoSided {
		return dferr.New(dferr.ErrInvalidArgument, "mct", "unknown alternative %d", o.Alternative)
	}
	return nil
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) distribution() (mvt.Distribution, error) {
	if o.Distribution != nil {
		return o.Distribution, nil
	}
	c := o.Control
	if c == (mvt.Control{}) {
		c = mvt.DefaultControl()
	}
	return mvt.NewGenzBretz(c, o.Logger)
}

// Estimates are dose means with their covariance.
type Estimates struct {
	Doses []float64
	Mean  []float64
	S     *mat.SymDense
	// DF of S; +Inf or <= 0 for a known covariance.
	DF float64
}

// NewEstimates validates and copies the estimates.
func NewEstimates(doses, mean []float64, s mat.Matrix, df float64) (*Estimates, error) {
	if len(doses) != len(mean) || len(doses) < 2 {
		return nil, dferr.New(dferr.ErrInvalidArgument, "estimates", "%d doses for %d means", len(doses), len(mean))
	}
	if linalg.NaNOrInfSlice(mean) {
		return nil, dferr.New(dferr.ErrInvalidArgument, "estimates", "means contain NaN or Inf")
	}
	sym, err := linalg.Symmetrize(s)
	if err != nil {
		return nil, err
	}
	if sym.SymmetricDim() != len(doses) {
		return nil, dferr.New(dferr.ErrInvalidArgument, "estimates", "covariance has dimension %d for %d doses", sym.SymmetricDim(), len(doses))
	}
	if math.IsNaN(df) {
		return nil, dferr.New(dferr.ErrInvalidArgument, "estimates", "degrees of freedom are NaN")
	}
	return &Estimates{
		Doses: append([]float64(nil), doses...),
		Mean:  append([]float64(nil), mean...),
		S:     sym,
		DF:    df,
	}, nil
}

// EstimateANOVA estimates the dose means of per-patient data, adjusted for
// covariates if given, by fitting one free mean per dose. The covariance is
// the estimated covariance of the means and DF the residual degrees of
// freedom.
func EstimateANOVA(dose, resp []float64, covariates *mat.Dense, opts fit.Options) (*Estimates, error) {
	m, err := fit.Fit(fit.Request{
		Family:     model.LinInt,
		Type:       fit.Normal,
		Dose:       dose,
		Resp:       resp,
		Covariates: covariates,
	}, opts)
	if err != nil {
		return nil, err
	}
	vcov, err := m.VCov()
	if err != nil {
		return nil, err
	}
	k := len(m.ShapeCoef())
	s := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			s.SetSym(i, j, vcov.At(i, j))
		}
	}
	return &Estimates{
		Doses: m.Metadata().Nodes,
		Mean:  m.ShapeCoef(),
		S:     s,
		DF:    m.DF(),
	}, nil
}

// Result of a multiple contrast test.
type Result struct {
	Names []string
	// TStat holds one statistic per contrast.
	TStat []float64
	// PValues are the multiplicity adjusted p-values of each contrast.
	PValues []float64
	// Corr is the correlation of the contrast statistics.
	Corr *mat.SymDense
	DF   float64
	// CritVal is NaN unless requested.
	CritVal     float64
	Alternative Alternative
	Alpha       float64
}

// MaxT returns the index and value of the test statistic, max(t) or
// max(|t|).
func (r *Result) MaxT() (int, float64) {
	best, value := 0, math.Inf(-1)
	for i, t := range r.TStat {
		if r.Alternative == TwoSided {
			t = math.Abs(t)
		}
		if t > value {
			best, value = i, t
		}
	}
	return best, value
}

// PValue returns the adjusted p-value of the maximum statistic.
func (r *Result) PValue() float64 {
	i, _ := r.MaxT()
	return r.PValues[i]
}

// Significant returns the indices of the contrasts significant at Alpha.
func (r *Result) Significant() []int {
	var res []int
	for i, p := range r.PValues {
		if p < r.Alpha {
			res = append(res, i)
		}
	}
	return res
}

// Test runs the multiple contrast test of the contrasts c on est.
func Test(est *Estimates, c *contrast.Matrix, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := checkShapes(est, c); err != nil {
		return nil, err
	}
	dist, err := opts.distribution()
	if err != nil {
		return nil, err
	}

	cs := linalg.QuadForm(c.C, est.S)
	corr, err := linalg.Cov2Cor(cs)
	if err != nil {
		return nil, err
	}
	var ct mat.VecDense
	ct.MulVec(c.C.T(), mat.NewVecDense(len(est.Mean), est.Mean))

	k := len(c.Names)
	res := &Result{
		Names:       append([]string(nil), c.Names...),
		TStat:       make([]float64, k),
		PValues:     make([]float64, k),
		Corr:        corr,
		DF:          est.DF,
		CritVal:     math.NaN(),
		Alternative: opts.Alternative,
		Alpha:       opts.Alpha,
	}
	for i := range res.TStat {
		res.TStat[i] = ct.AtVec(i) / math.Sqrt(cs.At(i, i))
	}
	for i, t := range res.TStat {
		p, err := pValue(dist, t, corr, est.DF, opts.Alternative)
		if err != nil {
			return nil, dferr.WithModel(err, c.Names[i])
		}
		res.PValues[i] = p
	}
	if opts.CriticalValue {
		if res.CritVal, err = CriticalValue(dist, corr, est.DF, opts.Alpha, opts.Alternative); err != nil {
			return nil, err
		}
	}

	i, maxT := res.MaxT()
	opts.logger().Debug("multiple contrast test",
		zap.Strings("contrasts", res.Names),
		zap.Float64s("t", res.TStat),
		zap.Float64s("p", res.PValues),
		zap.String("max", res.Names[i]),
		zap.Float64("maxT", maxT),
		zap.Float64("critVal", res.CritVal),
	)
	return res, nil
}

func checkShapes(est *Estimates, c *contrast.Matrix) error {
	if est == nil || est.S == nil {
		return dferr.New(dferr.ErrInvalidArgument, "mct", "missing estimates")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if r, _ := c.C.Dims(); r != len(est.Mean) || est.S.SymmetricDim() != r {
		return dferr.New(dferr.ErrInvalidArgument, "mct", "contrasts have %d rows for %d estimates", r, len(est.Mean))
	}
	return nil
}

// pValue returns 1 - P(T_i < t, all i), with |T_i| and |t| for two-sided
// tests.
func pValue(dist mvt.Distribution, t float64, corr *mat.SymDense, df float64, alt Alternative) (float64, error) {
	n := corr.SymmetricDim()
	lower := make([]float64, n)
	upper := make([]float64, n)
	for i := range lower {
		lower[i] = math.Inf(-1)
		upper[i] = t
		if alt == TwoSided {
			lower[i], upper[i] = -math.Abs(t), math.Abs(t)
		}
	}
	res, err := dist.Probability(lower, upper, nil, corr, df)
	if err != nil {
		return 0, err
	}
	return math.Min(math.Max(1-res.Value, 0), 1), nil
}

// CriticalValue returns the common critical value at level alpha: the
// equicoordinate 1-alpha quantile of the statistics under the null.
func CriticalValue(dist mvt.Distribution, corr mat.Symmetric, df, alpha float64, alt Alternative) (float64, error) {
	if !(alpha > 0 && alpha < 1) {
		return 0, dferr.New(dferr.ErrInvalidArgument, "mct", "alpha must be in (0, 1), got %g", alpha)
	}
	res, err := dist.Quantile(1-alpha, alt.tail(), corr, df)
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

// Power returns, for every true mean vector in means, the probability that
// the test rejects at level opts.Alpha given contrasts c and covariance s
// of the mean estimates.
func Power(c *contrast.Matrix, s mat.Matrix, df float64, means [][]float64, opts Options) ([]float64, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	r, k := c.C.Dims()
	est, err := NewEstimates(c.Doses, make([]float64, r), s, df)
	if err != nil {
		return nil, err
	}
	if err := checkShapes(est, c); err != nil {
		return nil, err
	}
	dist, err := opts.distribution()
	if err != nil {
		return nil, err
	}

	cs := linalg.QuadForm(c.C, est.S)
	corr, err := linalg.Cov2Cor(cs)
	if err != nil {
		return nil, err
	}
	crit, err := CriticalValue(dist, corr, df, opts.Alpha, opts.Alternative)
	if err != nil {
		return nil, err
	}

	lower := make([]float64, k)
	upper := make([]float64, k)
	for i := range lower {
		lower[i] = math.Inf(-1)
		if opts.Alternative == TwoSided {
			lower[i] = -crit
		}
		upper[i] = crit
	}
	res := make([]float64, len(means))
	delta := make([]float64, k)
	for m, mu := range means {
		if len(mu) != r {
			return nil, dferr.New(dferr.ErrInvalidArgument, "mct power", "mean vector %d has %d values for %d doses", m, len(mu), r)
		}
		var ct mat.VecDense
		ct.MulVec(c.C.T(), mat.NewVecDense(r, mu))
		for i := range delta {
			delta[i] = ct.AtVec(i) / math.Sqrt(cs.At(i, i))
		}
		p, err := dist.Probability(lower, upper, delta, corr, df)
		if err != nil {
			return nil, err
		}
		res[m] = math.Min(math.Max(1-p.Value, 0), 1)
	}
	opts.logger().Debug("power", zap.Float64("critVal", crit), zap.Float64s("power", res))
	return res, nil
}
