// Package model is the registry of dose-response shapes. Each Family is a
// closed tag; evaluation and gradients are switched explicitly on it.
//
// Every shape has a standardized form with intercept 0 and scale 1, used by
// the grid search of the fitting engine and by the contrast builder. The
// natural parameters (intercept, scale, shape) are always recovered by a
// linear projection on top of the standardized form.
package model

import (
	"fmt"
	"strconv"

	"github.com/hammal/dosefinding/dferr"
)

// Family identifies a dose-response shape.
type Family int

const (
	// Linear is e0 + delta*d
	Linear Family = iota
	// LinLog is e0 + delta*log(d + off)
	LinLog
	// Quadratic is e0 + b1*d + b2*d^2
	Quadratic
	// LinInt linearly interpolates one response per dose node.
	LinInt
	// Emax is e0 + eMax*d/(ed50 + d)
	Emax
	// Exponential is e0 + e1*(exp(d/delta) - 1)
	Exponential
	// Logistic is e0 + eMax/(1 + exp((ed50 - d)/delta))
	Logistic
	// SigEmax is e0 + eMax*d^h/(ed50^h + d^h)
	SigEmax
	// BetaMod is e0 + eMax*B(delta1, delta2)*(d/scal)^delta1*(1 - d/scal)^delta2
	BetaMod
)

var familyNames = [...]string{
	Linear:      "linear",
	LinLog:      "linlog",
	Quadratic:   "quadratic",
	LinInt:      "linInt",
	Emax:        "emax",
	Exponential: "exponential",
	Logistic:    "logistic",
	SigEmax:     "sigEmax",
	BetaMod:     "betaMod",
}

// Families returns all registered shapes in registry order.
func Families() []Family {
	return []Family{Linear, LinLog, Quadratic, LinInt, Emax, Exponential, Logistic, SigEmax, BetaMod}
}

func (f Family) String() string {
	if f.Valid() {
		return familyNames[f]
	}
	return "Family(" + strconv.Itoa(int(f)) + ")"
}

// Valid reports whether f is a registered shape.
func (f Family) Valid() bool {
	return f >= Linear && f <= BetaMod
}

// Parse returns the Family with the given name.
func Parse(name string) (Family, error) {
	for f, n := range familyNames {
		if n == name {
			return Family(f), nil
		}
	}
	return 0, dferr.New(dferr.ErrInvalidArgument, "registry", "unknown model family %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (f Family) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("model: cannot marshal %v", f)
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Family) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// NumNonlinear returns the number of shape parameters that enter the curve
// nonlinearly. It is 0, 1 or 2.
func (f Family) NumNonlinear() int {
	switch f {
	case Emax, Exponential:
		return 1
	case Logistic, SigEmax, BetaMod:
		return 2
	default:
		return 0
	}
}

// NumLinear returns the number of linear parameters, intercept included,
// for a fit over the given number of dose nodes. Only LinInt depends on
// nodes.
func (f Family) NumLinear(nodes int) int {
	switch f {
	case Quadratic:
		return 3
	case LinInt:
		return nodes
	default:
		return 2
	}
}

// AnchoredAtZero reports whether the standardized shape is zero at dose 0,
// so that dropping the intercept of a placebo-adjusted response is valid.
func (f Family) AnchoredAtZero() bool {
	switch f {
	case LinLog, Logistic:
		return false
	default:
		return true
	}
}

// ParamNames returns the names of the natural parameters in coefficient
// order. For LinInt one name per estimated node is returned.
func (f Family) ParamNames(placAdj bool, nodes []float64) []string {
	var names []string
	switch f {
	case Linear, LinLog:
		names = []string{"e0", "delta"}
	case Quadratic:
		names = []string{"e0", "b1", "b2"}
	case LinInt:
		for i, d := range nodes {
			if placAdj && i == 0 {
				continue
			}
			names = append(names, "d"+strconv.FormatFloat(d, 'g', -1, 64))
		}
		return names
	case Emax:
		names = []string{"e0", "eMax", "ed50"}
	case Exponential:
		names = []string{"e0", "e1", "delta"}
	case Logistic:
		names = []string{"e0", "eMax", "ed50", "delta"}
	case SigEmax:
		names = []string{"e0", "eMax", "ed50", "h"}
	case BetaMod:
		names = []string{"e0", "eMax", "delta1", "delta2"}
	}
	if placAdj {
		return names[1:]
	}
	return names
}

// Bounds are the lower and upper limit of each nonlinear parameter.
type Bounds [][2]float64

// Validate checks that b matches the family and every interval is proper.
func (b Bounds) Validate(f Family) error {
	if len(b) != f.NumNonlinear() {
		return dferr.New(dferr.ErrInvalidArgument, "bounds", "%v needs %d bound pairs, got %d", f, f.NumNonlinear(), len(b))
	}
	for i, lu := range b {
		if !(lu[0] < lu[1]) {
			return dferr.New(dferr.ErrInvalidArgument, "bounds", "bound %d of %v is empty: [%g, %g]", i, f, lu[0], lu[1])
		}
	}
	return nil
}

// DefaultBounds returns the search region of the nonlinear parameters of f
// relative to the largest dose. Families without nonlinear parameters
// return nil.
func DefaultBounds(f Family, maxDose float64) Bounds {
	switch f {
	case Emax:
		return Bounds{{0.001 * maxDose, 1.5 * maxDose}}
	case Exponential:
		return Bounds{{0.1 * maxDose, 2 * maxDose}}
	case Logistic:
		return Bounds{{0.001 * maxDose, 1.5 * maxDose}, {0.01 * maxDose, 0.5 * maxDose}}
	case SigEmax:
		return Bounds{{0.001 * maxDose, 1.5 * maxDose}, {0.5, 10}}
	case BetaMod:
		return Bounds{{0.05, 4}, {0.05, 4}}
	default:
		return nil
	}
}

// Constants are the fixed auxiliary values of the shapes that need them.
type Constants struct {
	// Off is the offset of the log-dose in LinLog.
	Off float64 `yaml:"off" koanf:"off"`
	// Scal is the dose scale of BetaMod; doses above it are outside the
	// support.
	Scal float64 `yaml:"scal" koanf:"scal"`
}

// DefaultConstants returns Off = 1% and Scal = 120% of the largest dose.
func DefaultConstants(maxDose float64) Constants {
	return Constants{Off: 0.01 * maxDose, Scal: 1.2 * maxDose}
}

// WithDefaults fills zero fields of c from DefaultConstants.
func (c Constants) WithDefaults(maxDose float64) Constants {
	def := DefaultConstants(maxDose)
	if c.Off == 0 {
		c.Off = def.Off
	}
	if c.Scal == 0 {
		c.Scal = def.Scal
	}
	return c
}
