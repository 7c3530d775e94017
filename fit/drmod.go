package fit

import (
	"math"

	"github.com/hammal/dosefinding/dferr"
	"github.com/hammal/dosefinding/linalg"
	"github.com/hammal/dosefinding/model"
	"gonum.org/v1/gonum/mat"
)

// Scale selects what Predict returns.
type Scale int

const (
	// Response is the mean response, with covariates at their sample mean.
	Response Scale = iota
	// Effect is the difference of the mean response to dose 0.
	Effect
)

// Metadata describes how a DRMod was fitted.
type Metadata struct {
	Family          model.Family
	Type            DataType
	PlaceboAdjusted bool
	Constants       model.Constants
	// LinInt nodes, including a leading 0 for placebo adjusted fits
	Nodes          []float64
	Bounds         model.Bounds
	CovariateNames []string
	// Doses of the regression rows: the dose levels for Normal data without
	// covariates, otherwise the input doses
	Doses []float64
}

// Diagnostics report the numerical search. Criteria are NaN for families
// without nonlinear parameters.
type Diagnostics struct {
	GridNode       []float64
	GridCriterion  float64
	LocalCriterion float64
	Iterations     int
	Evaluations    int
}

// DRMod is a fitted dose-response model. It is immutable.
type DRMod struct {
	curve    model.Curve
	covCoef  []float64
	covMeans []float64
	rss      float64
	df       float64
	meta     Metadata
	diag     Diagnostics
	fitted   []float64

	obsDose []float64
	obsCovs *mat.Dense
	white   *mat.Dense
	nObs    int
}

// Coef returns all coefficients: the natural curve parameters followed by
// the covariate coefficients.
func (m *DRMod) Coef() []float64 {
	return append(m.ShapeCoef(), m.covCoef...)
}

// CoefNames names the entries of Coef.
func (m *DRMod) CoefNames() []string {
	names := m.curve.Family.ParamNames(m.curve.PlaceboAdjusted, m.curve.Nodes)
	return append(names, m.meta.CovariateNames...)
}

// ShapeCoef returns the parameters of the dose-response curve.
func (m *DRMod) ShapeCoef() []float64 {
	return append([]float64(nil), m.curve.Coef...)
}

// CovariateCoef returns the coefficients of the covariates, empty without
// covariates.
func (m *DRMod) CovariateCoef() []float64 {
	return append([]float64(nil), m.covCoef...)
}

// Curve returns the fitted curve without covariate effects.
func (m *DRMod) Curve() model.Curve {
	c := m.curve
	c.Coef = append([]float64(nil), c.Coef...)
	c.Nodes = append([]float64(nil), c.Nodes...)
	return c
}

// RSS returns the residual sum of squares, or its generalized analogue
// (y - mu)^T S^-1 (y - mu) for General data.
func (m *DRMod) RSS() float64 { return m.rss }

// DF returns the residual degrees of freedom, possibly +Inf for General
// data.
func (m *DRMod) DF() float64 { return m.df }

// Metadata returns how the model was fitted.
func (m *DRMod) Metadata() Metadata { return m.meta }

// Diagnostics returns the report of the numerical search.
func (m *DRMod) Diagnostics() Diagnostics { return m.diag }

// NumObs returns the number of patients (Normal) or estimates (General).
func (m *DRMod) NumObs() int { return m.nObs }

// Fitted returns the fitted mean of every input observation.
func (m *DRMod) Fitted() []float64 {
	return append([]float64(nil), m.fitted...)
}

func (m *DRMod) fittedValues() ([]float64, error) {
	res, err := m.curve.Response(m.obsDose)
	if err != nil {
		return nil, err
	}
	if m.obsCovs != nil {
		var cov mat.VecDense
		cov.MulVec(m.obsCovs, mat.NewVecDense(len(m.covCoef), m.covCoef))
		for i := range res {
			res[i] += cov.AtVec(i)
		}
	}
	return res, nil
}

// Predict evaluates the fitted model at new doses.
func (m *DRMod) Predict(dose []float64, scale Scale) ([]float64, error) {
	res, err := m.curve.Response(dose)
	if err != nil {
		return nil, err
	}
	switch scale {
	case Response:
		var offset float64
		for j, b := range m.covCoef {
			offset += b * m.covMeans[j]
		}
		for i := range res {
			res[i] += offset
		}
	case Effect:
		at0, err := m.curve.Response([]float64{0})
		if err != nil {
			return nil, err
		}
		for i := range res {
			res[i] -= at0[0]
		}
	default:
		return nil, dferr.New(dferr.ErrInvalidArgument, "predict", "unknown scale %d", scale)
	}
	return res, nil
}

// PredictWithCovariates evaluates the full model, curve plus covariate
// effects, with one row of covs per dose. At the input doses and
// covariates it reproduces Fitted.
func (m *DRMod) PredictWithCovariates(dose []float64, covs mat.Matrix) ([]float64, error) {
	res, err := m.curve.Response(dose)
	if err != nil {
		return nil, err
	}
	n := len(m.covCoef)
	if n == 0 {
		if covs != nil {
			if _, c := covs.Dims(); c > 0 {
				return nil, dferr.New(dferr.ErrInvalidArgument, "predict", "model has no covariates, got %d columns", c)
			}
		}
		return res, nil
	}
	if covs == nil {
		return nil, dferr.New(dferr.ErrInvalidArgument, "predict", "model needs %d covariate columns", n)
	}
	if r, c := covs.Dims(); r != len(dose) || c != n {
		return nil, dferr.New(dferr.ErrInvalidArgument, "predict", "covariates are %dx%d, want %dx%d", r, c, len(dose), n)
	}
	if linalg.NaNOrInf(covs) {
		return nil, dferr.New(dferr.ErrInvalidArgument, "predict", "covariates contain NaN or Inf")
	}
	var eff mat.VecDense
	eff.MulVec(covs, mat.NewVecDense(n, m.covCoef))
	for i := range res {
		res[i] += eff.AtVec(i)
	}
	return res, nil
}

// VCov returns the asymptotic covariance of Coef. For Normal data it is
// sigma^2 (J^T J)^-1 with sigma^2 = RSS/DF, for General data
// (J^T S^-1 J)^-1, J being the Jacobian of the fitted means.
func (m *DRMod) VCov() (*mat.SymDense, error) {
	j, err := m.curve.Gradient(m.obsDose)
	if err != nil {
		return nil, err
	}
	scale := 1.
	switch {
	case m.white != nil:
		var w mat.Dense
		w.Mul(m.white, j)
		j = &w
	default:
		j = linalg.Augment(j, m.obsCovs)
		scale = m.rss / m.df
	}
	_, p := j.Dims()
	info := mat.NewSymDense(p, nil)
	info.SymOuterK(1, j.T())
	vcov, err := linalg.InverseSym(info)
	if err != nil {
		return nil, dferr.New(dferr.ErrSingularMatrix, "vcov", "information matrix is singular: %v", err)
	}
	vcov.ScaleSym(scale, vcov)
	return vcov, nil
}

// PredictSE returns Predict together with delta-method standard errors.
func (m *DRMod) PredictSE(dose []float64, scale Scale) (pred, se []float64, err error) {
	if pred, err = m.Predict(dose, scale); err != nil {
		return nil, nil, err
	}
	vcov, err := m.VCov()
	if err != nil {
		return nil, nil, err
	}
	g, err := m.curve.Gradient(dose)
	if err != nil {
		return nil, nil, err
	}
	if scale == Effect {
		g0, err := m.curve.Gradient([]float64{0})
		if err != nil {
			return nil, nil, err
		}
		for i := range dose {
			row := g.RawRowView(i)
			for k := range row {
				row[k] -= g0.At(0, k)
			}
		}
	}
	if n := len(m.covCoef); n > 0 {
		cov := mat.NewDense(len(dose), n, nil)
		if scale == Response {
			for i := range dose {
				cov.SetRow(i, m.covMeans)
			}
		}
		g = linalg.Augment(g, cov)
	}

	se = make([]float64, len(dose))
	for i := range se {
		row := g.RowView(i)
		se[i] = math.Sqrt(mat.Inner(row, vcov, row))
	}
	return pred, se, nil
}

// AIC returns a selection score, smaller is better. For Normal data it is
// the Gaussian AIC
//
//	n log(2 pi RSS/n) + n + 2(p + 1)
//
// and for General data the generalized AIC RSS + 2p, p being the number of
// coefficients.
func (m *DRMod) AIC() float64 {
	p := float64(len(m.curve.Coef) + len(m.covCoef))
	if m.meta.Type == General {
		return m.rss + 2*p
	}
	n := float64(m.nObs)
	return n*math.Log(2*math.Pi*m.rss/n) + n + 2*(p+1)
}
