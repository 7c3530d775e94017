package model

import (
	"math"

	"github.com/hammal/dosefinding/dferr"
	"gonum.org/v1/gonum/mat"
)

// Curve is a fully parameterised dose-response shape on the natural scale.
//
// Coef holds the parameters in the order of Family.ParamNames: the
// intercept e0 (absent when PlaceboAdjusted), the linear scale parameters
// and finally the nonlinear parameters. For LinInt Coef holds the response
// at each node; when PlaceboAdjusted the first node must be 0 and its
// response is fixed at 0, so Coef has one element less than Nodes.
type Curve struct {
	Family          Family
	Coef            []float64
	PlaceboAdjusted bool
	Constants       Constants
	Nodes           []float64
}

// NumCoef returns the length Coef must have.
func (c Curve) NumCoef() int {
	if c.Family == LinInt {
		if c.PlaceboAdjusted {
			return len(c.Nodes) - 1
		}
		return len(c.Nodes)
	}
	n := c.Family.NumLinear(0) + c.Family.NumNonlinear()
	if c.PlaceboAdjusted {
		n--
	}
	return n
}

// Validate checks that the coefficient vector and nodes fit the family.
func (c Curve) Validate() error {
	if !c.Family.Valid() {
		return dferr.New(dferr.ErrInvalidArgument, "curve", "unknown family %v", c.Family)
	}
	if c.PlaceboAdjusted && !c.Family.AnchoredAtZero() {
		return dferr.New(dferr.ErrUnsupportedConfiguration, "curve", "%v cannot be placebo adjusted", c.Family)
	}
	if c.Family == LinInt {
		if err := checkNodes(c.Nodes); err != nil {
			return err
		}
		if c.PlaceboAdjusted && c.Nodes[0] != 0 {
			return dferr.New(dferr.ErrInvalidArgument, "curve", "placebo adjusted linInt needs a node at dose 0")
		}
	}
	if len(c.Coef) != c.NumCoef() {
		return dferr.New(dferr.ErrInvalidArgument, "curve", "%v needs %d coefficients, got %d", c.Family, c.NumCoef(), len(c.Coef))
	}
	return nil
}

// split returns the intercept, the linear scale parameters and the
// nonlinear parameters of Coef.
func (c Curve) split() (e0 float64, lin, theta []float64) {
	coef := c.Coef
	if !c.PlaceboAdjusted {
		e0, coef = coef[0], coef[1:]
	}
	k := len(coef) - c.Family.NumNonlinear()
	return e0, coef[:k], coef[k:]
}

// linIntValues returns the node responses including a fixed placebo 0.
func (c Curve) linIntValues() []float64 {
	if c.PlaceboAdjusted {
		return append([]float64{0}, c.Coef...)
	}
	return c.Coef
}

// Response evaluates the curve at every dose.
func (c Curve) Response(dose []float64) ([]float64, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Family == LinInt {
		return Interpolate(c.Nodes, c.linIntValues(), dose)
	}
	e0, lin, theta := c.split()
	res := make([]float64, len(dose))
	if c.Family.NumNonlinear() > 0 {
		if err := ShapeTo(res, c.Family, theta, dose, c.Constants); err != nil {
			return nil, err
		}
		for i := range res {
			res[i] = e0 + lin[0]*res[i]
		}
		return res, nil
	}
	basis, err := Basis(c.Family, dose, nil, c.Constants)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i] = e0
		for j, b := range lin {
			res[i] += b * basis.At(i, j)
		}
	}
	return res, nil
}

// Gradient returns the (len(dose) x NumCoef) Jacobian of Response with
// respect to Coef.
func (c Curve) Gradient(dose []float64) (*mat.Dense, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if len(dose) == 0 {
		return nil, dferr.New(dferr.ErrInvalidArgument, "gradient", "empty dose vector")
	}
	if c.Family == LinInt {
		basis, err := hatBasis(dose, c.Nodes)
		if err != nil {
			return nil, err
		}
		if c.PlaceboAdjusted {
			return mat.DenseCopyOf(basis.Slice(0, len(dose), 1, len(c.Nodes))), nil
		}
		return basis, nil
	}

	var (
		_, lin, theta = c.split()
		res           = mat.NewDense(len(dose), c.NumCoef(), nil)
		col           = 0
	)
	if !c.PlaceboAdjusted {
		for i := range dose {
			res.Set(i, 0, 1)
		}
		col = 1
	}

	switch c.Family {
	case Linear, LinLog, Quadratic:
		basis, err := Basis(c.Family, dose, nil, c.Constants)
		if err != nil {
			return nil, err
		}
		_, k := basis.Dims()
		for i := range dose {
			for j := 0; j < k; j++ {
				res.Set(i, col+j, basis.At(i, j))
			}
		}
		return res, nil
	case BetaMod:
		if err := checkBetaSupport(dose, c.Constants.Scal); err != nil {
			return nil, err
		}
	}

	eMax := lin[0]
	for i, d := range dose {
		g := shapeGradient(c.Family, d, theta, c.Constants)
		res.Set(i, col, g[0])
		res.Set(i, col+1, eMax*g[1])
		if len(g) > 2 {
			res.Set(i, col+2, eMax*g[2])
		}
	}
	return res, nil
}

// shapeGradient returns the standardized shape at d followed by its
// partial derivatives with respect to each nonlinear parameter.
func shapeGradient(f Family, d float64, theta []float64, c Constants) []float64 {
	switch f {
	case Emax:
		ed50 := theta[0]
		den := ed50 + d
		return []float64{d / den, -d / (den * den)}
	case Exponential:
		delta := theta[0]
		e := math.Exp(d / delta)
		return []float64{e - 1, -e * d / (delta * delta)}
	case Logistic:
		ed50, delta := theta[0], theta[1]
		g := logistic(d, ed50, delta)
		dg := g * (1 - g)
		return []float64{g, -dg / delta, dg * (ed50 - d) / (delta * delta)}
	case SigEmax:
		ed50, h := theta[0], theta[1]
		if d == 0 {
			return []float64{0, 0, 0}
		}
		dh := math.Pow(d, h)
		eh := math.Pow(ed50, h)
		den := (eh + dh) * (eh + dh)
		return []float64{
			dh / (eh + dh),
			-h * math.Pow(ed50, h-1) * dh / den,
			dh * eh * (math.Log(d) - math.Log(ed50)) / den,
		}
	case BetaMod:
		delta1, delta2 := theta[0], theta[1]
		x := d / c.Scal
		if x <= 0 || x >= 1 {
			return []float64{0, 0, 0}
		}
		v := betaMod(d, delta1, delta2, c.Scal)
		lsum := math.Log(delta1 + delta2)
		return []float64{
			v,
			v * (lsum - math.Log(delta1) + math.Log(x)),
			v * (lsum - math.Log(delta2) + math.Log1p(-x)),
		}
	}
	return nil
}
