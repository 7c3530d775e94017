package model

import (
	"math"

	"github.com/hammal/dosefinding/dferr"
	"gonum.org/v1/gonum/mat"
)

// Shape returns the standardized response (intercept 0, scale 1) of a
// family with nonlinear parameters theta at every dose. Families without
// nonlinear parameters have no standardized shape; use Basis for them.
func Shape(f Family, theta, dose []float64, c Constants) ([]float64, error) {
	res := make([]float64, len(dose))
	if err := ShapeTo(res, f, theta, dose, c); err != nil {
		return nil, err
	}
	return res, nil
}

// ShapeTo is Shape writing into dst, which must have the length of dose.
func ShapeTo(dst []float64, f Family, theta, dose []float64, c Constants) error {
	if f.NumNonlinear() == 0 {
		return dferr.New(dferr.ErrInvalidArgument, "shape", "%v has no nonlinear parameters", f)
	}
	if len(theta) != f.NumNonlinear() {
		return dferr.New(dferr.ErrInvalidArgument, "shape", "%v needs %d nonlinear parameters, got %d", f, f.NumNonlinear(), len(theta))
	}
	if len(dst) != len(dose) {
		return dferr.New(dferr.ErrInvalidArgument, "shape", "destination length %d, dose length %d", len(dst), len(dose))
	}
	switch f {
	case Emax:
		for i, d := range dose {
			dst[i] = emax(d, theta[0])
		}
	case Exponential:
		for i, d := range dose {
			dst[i] = math.Expm1(d / theta[0])
		}
	case Logistic:
		for i, d := range dose {
			dst[i] = logistic(d, theta[0], theta[1])
		}
	case SigEmax:
		for i, d := range dose {
			dst[i] = sigEmax(d, theta[0], theta[1])
		}
	case BetaMod:
		if err := checkBetaSupport(dose, c.Scal); err != nil {
			return err
		}
		for i, d := range dose {
			dst[i] = betaMod(d, theta[0], theta[1], c.Scal)
		}
	}
	return nil
}

// Basis returns the columns of the design of a family without nonlinear
// parameters, the intercept excluded. LinInt returns one hat function per
// node, so its design has no separate intercept.
func Basis(f Family, dose, nodes []float64, c Constants) (*mat.Dense, error) {
	n := len(dose)
	if n == 0 {
		return nil, dferr.New(dferr.ErrInvalidArgument, "basis", "empty dose vector")
	}
	switch f {
	case Linear:
		return mat.NewDense(n, 1, append([]float64(nil), dose...)), nil
	case LinLog:
		if err := checkLogSupport(dose, c.Off); err != nil {
			return nil, err
		}
		col := make([]float64, n)
		for i, d := range dose {
			col[i] = math.Log(d + c.Off)
		}
		return mat.NewDense(n, 1, col), nil
	case Quadratic:
		res := mat.NewDense(n, 2, nil)
		for i, d := range dose {
			res.Set(i, 0, d)
			res.Set(i, 1, d*d)
		}
		return res, nil
	case LinInt:
		return hatBasis(dose, nodes)
	default:
		return nil, dferr.New(dferr.ErrInvalidArgument, "basis", "%v has nonlinear parameters", f)
	}
}

// Standardized returns the mean response of a candidate shape at each dose
// with value 0 at dose 0, used to build contrasts. The guess holds the
// nonlinear parameters for shapes that have them, the curvature ratio
// b2/b1 for Quadratic, and the responses at the doses for LinInt (with or
// without a leading placebo value of 0).
func Standardized(f Family, guess, dose []float64, c Constants) ([]float64, error) {
	if err := validateGuess(f, guess); err != nil {
		return nil, err
	}
	res := make([]float64, len(dose))
	switch f {
	case Linear:
		copy(res, dose)
	case LinLog:
		if err := checkLogSupport(dose, c.Off); err != nil {
			return nil, err
		}
		for i, d := range dose {
			res[i] = math.Log1p(d / c.Off)
		}
	case Quadratic:
		for i, d := range dose {
			res[i] = d + guess[0]*d*d
		}
	case LinInt:
		switch {
		case len(guess) == len(dose):
			copy(res, guess)
		case len(guess) == len(dose)-1 && len(dose) > 0 && dose[0] == 0:
			copy(res[1:], guess)
		default:
			return nil, dferr.New(dferr.ErrInvalidArgument, "standardize", "linInt guess has %d values for %d doses", len(guess), len(dose))
		}
	default:
		if err := ShapeTo(res, f, guess, dose, c); err != nil {
			return nil, err
		}
		if f == Logistic {
			at0 := logistic(0, guess[0], guess[1])
			for i := range res {
				res[i] -= at0
			}
		}
	}
	return res, nil
}

func validateGuess(f Family, guess []float64) error {
	want := f.NumNonlinear()
	switch f {
	case Quadratic:
		want = 1
	case LinInt:
		if len(guess) == 0 {
			return dferr.New(dferr.ErrInvalidArgument, "standardize", "linInt guess is empty")
		}
		return nil
	}
	if len(guess) != want {
		return dferr.New(dferr.ErrInvalidArgument, "standardize", "%v guess needs %d values, got %d", f, want, len(guess))
	}
	if f == Quadratic {
		return nil
	}
	for i, g := range guess {
		if !(g > 0) || math.IsInf(g, 0) {
			return dferr.New(dferr.ErrInvalidArgument, "standardize", "%v guess %d must be positive and finite, got %g", f, i, g)
		}
	}
	return nil
}

func emax(d, ed50 float64) float64 {
	return d / (ed50 + d)
}

func logistic(d, ed50, delta float64) float64 {
	return 1 / (1 + math.Exp((ed50-d)/delta))
}

func sigEmax(d, ed50, h float64) float64 {
	dh := math.Pow(d, h)
	return dh / (math.Pow(ed50, h) + dh)
}

// betaScale is the constant that puts the maximum of the beta shape at 1.
func betaScale(delta1, delta2 float64) float64 {
	return math.Exp((delta1+delta2)*math.Log(delta1+delta2) - delta1*math.Log(delta1) - delta2*math.Log(delta2))
}

func betaMod(d, delta1, delta2, scal float64) float64 {
	x := d / scal
	if x <= 0 || x >= 1 {
		return 0
	}
	return betaScale(delta1, delta2) * math.Pow(x, delta1) * math.Pow(1-x, delta2)
}

func checkBetaSupport(dose []float64, scal float64) error {
	if !(scal > 0) {
		return dferr.New(dferr.ErrInvalidArgument, "shape", "betaMod scale must be positive, got %g", scal)
	}
	for _, d := range dose {
		if d < 0 || d > scal {
			return dferr.New(dferr.ErrDomain, "shape", "betaMod dose %g outside [0, %g]", d, scal)
		}
	}
	return nil
}

func checkLogSupport(dose []float64, off float64) error {
	if !(off > 0) {
		return dferr.New(dferr.ErrInvalidArgument, "shape", "linlog offset must be positive, got %g", off)
	}
	for _, d := range dose {
		if d+off <= 0 {
			return dferr.New(dferr.ErrDomain, "shape", "linlog dose %g with offset %g", d, off)
		}
	}
	return nil
}
