// Package contrast builds the optimal contrasts of a multiple contrast test.
//
// For a candidate mean vector mu and covariance S of the dose estimates the
// contrast maximizing the non-centrality of the test statistic is
//
//	c ∝ S^-1 (mu - (mu^T S^-1 1)/(1^T S^-1 1) 1)
//
// scaled to unit Euclidean norm.
package contrast

import (
	"fmt"
	"math"

	"github.com/hammal/dosefinding/dferr"
	"github.com/hammal/dosefinding/linalg"
	"github.com/hammal/dosefinding/model"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SumTolerance is the largest accepted |sum(c)| of a unit norm contrast.
const SumTolerance = 1e-8

// Direction of the expected dose effect.
type Direction int

const (
	// Increasing responses with dose.
	Increasing Direction = iota
	// Decreasing responses with dose; the candidate means are negated.
	Decreasing
)

func (d Direction) String() string {
	if d == Decreasing {
		return "decreasing"
	}
	return "increasing"
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "increasing", "":
		*d = Increasing
	case "decreasing":
		*d = Decreasing
	default:
		return dferr.New(dferr.ErrInvalidArgument, "contrast", "unknown direction %q", text)
	}
	return nil
}

// Candidate is a dose-response shape the test should be sensitive to. It is
// given either by a family and a guess of its shape parameters (see
// model.Standardized) or directly by its mean vector at the doses.
type Candidate struct {
	Name   string       `yaml:"name"`
	Family model.Family `yaml:"family"`
	Guess  []float64    `yaml:"guess"`
	// Mean overrides Family and Guess when set. Such a candidate defines a
	// contrast but no model to fit.
	Mean []float64 `yaml:"mean"`
}

// Fittable reports whether the candidate names a model family rather than
// only a mean vector.
func (c Candidate) Fittable() bool {
	return c.Mean == nil
}

// Options control the construction of the contrasts.
type Options struct {
	Constants model.Constants
	Direction Direction
}

// Matrix holds one contrast per column.
type Matrix struct {
	C     *mat.Dense
	Names []string
	Doses []float64
}

// Optimal returns the optimal contrasts of the candidates for estimates at
// doses with covariance s.
func Optimal(doses []float64, candidates []Candidate, s mat.Matrix, opts Options) (*Matrix, error) {
	n := len(doses)
	if n < 2 {
		return nil, dferr.New(dferr.ErrInvalidArgument, "contrast", "need at least 2 doses, got %d", n)
	}
	if len(candidates) == 0 {
		return nil, dferr.New(dferr.ErrInvalidArgument, "contrast", "no candidate shapes")
	}
	sym, err := linalg.Symmetrize(s)
	if err != nil {
		return nil, err
	}
	if sym.SymmetricDim() != n {
		return nil, dferr.New(dferr.ErrInvalidArgument, "contrast", "covariance has dimension %d for %d doses", sym.SymmetricDim(), n)
	}
	inv, err := linalg.InverseSym(sym)
	if err != nil {
		return nil, err
	}

	constants := opts.Constants.WithDefaults(floats.Max(doses))
	var sInvOne mat.VecDense
	sInvOne.MulVec(inv, linalg.Ones(n, 1).ColView(0))
	oneSInvOne := mat.Sum(&sInvOne)

	res := &Matrix{
		C:     mat.NewDense(n, len(candidates), nil),
		Names: Names(candidates),
		Doses: append([]float64(nil), doses...),
	}
	for j, cand := range candidates {
		mu, err := cand.mean(doses, constants)
		if err != nil {
			return nil, dferr.WithModel(err, res.Names[j])
		}
		if opts.Direction == Decreasing {
			floats.Scale(-1, mu)
		}

		var c mat.VecDense
		c.MulVec(inv, mat.NewVecDense(n, mu))
		c.AddScaledVec(&c, -mat.Sum(&c)/oneSInvOne, &sInvOne)
		norm := mat.Norm(&c, 2)
		if !(norm > 0) || math.IsInf(norm, 0) {
			return nil, dferr.New(dferr.ErrInvalidArgument, "contrast", "candidate %s gives a degenerate contrast", res.Names[j])
		}
		c.ScaleVec(1/norm, &c)
		res.C.SetCol(j, c.RawVector().Data)
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}

// FromWeights returns Optimal with S = diag(1/w), e.g. w the group sizes.
func FromWeights(doses []float64, candidates []Candidate, w []float64, opts Options) (*Matrix, error) {
	if len(w) != len(doses) {
		return nil, dferr.New(dferr.ErrInvalidArgument, "contrast", "%d weights for %d doses", len(w), len(doses))
	}
	v := make([]float64, len(w))
	for i, wi := range w {
		if !(wi > 0) || math.IsInf(wi, 0) {
			return nil, dferr.New(dferr.ErrInvalidArgument, "contrast", "weight %d is %g, must be positive", i, wi)
		}
		v[i] = 1 / wi
	}
	return Optimal(doses, candidates, linalg.Diag(v), opts)
}

// mean returns the candidate's mean vector at doses, rejecting constant
// vectors that cannot define a contrast.
func (c Candidate) mean(doses []float64, constants model.Constants) ([]float64, error) {
	var (
		mu  []float64
		err error
	)
	if c.Mean != nil {
		if len(c.Mean) != len(doses) {
			return nil, dferr.New(dferr.ErrInvalidArgument, "contrast", "mean vector has %d values for %d doses", len(c.Mean), len(doses))
		}
		mu = append([]float64(nil), c.Mean...)
	} else if mu, err = model.Standardized(c.Family, c.Guess, doses, constants); err != nil {
		return nil, err
	}
	if linalg.NaNOrInfSlice(mu) {
		return nil, dferr.New(dferr.ErrInvalidArgument, "contrast", "mean vector contains NaN or Inf")
	}
	if floats.Max(mu)-floats.Min(mu) <= 0 {
		return nil, dferr.New(dferr.ErrInvalidArgument, "contrast", "mean vector is constant")
	}
	return mu, nil
}

// Names returns the candidate names, defaulting to the family name, or
// "mean" for candidates given by their mean vector. Repeated
// names get a running number appended, e.g. emax1 and emax2.
func Names(candidates []Candidate) []string {
	names := make([]string, len(candidates))
	count := make(map[string]int)
	for i, c := range candidates {
		names[i] = c.Name
		switch {
		case names[i] != "":
		case c.Mean != nil:
			names[i] = "mean"
		default:
			names[i] = c.Family.String()
		}
		count[names[i]]++
	}
	seen := make(map[string]int)
	for i, name := range names {
		if count[name] > 1 {
			seen[name]++
			names[i] = fmt.Sprintf("%s%d", name, seen[name])
		}
	}
	return names
}

// Validate checks that every column sums to zero and has unit norm.
func (m *Matrix) Validate() error {
	if m == nil || m.C == nil {
		return dferr.New(dferr.ErrInvalidArgument, "contrast", "empty contrast matrix")
	}
	r, k := m.C.Dims()
	if len(m.Names) != k {
		return dferr.New(dferr.ErrInvalidArgument, "contrast", "%d names for %d contrasts", len(m.Names), k)
	}
	if len(m.Doses) != r {
		return dferr.New(dferr.ErrInvalidArgument, "contrast", "%d doses for %d contrast rows", len(m.Doses), r)
	}
	for j := 0; j < k; j++ {
		col := m.C.ColView(j)
		if sum := mat.Sum(col); math.Abs(sum) > SumTolerance*mat.Norm(col, 1) || math.IsNaN(sum) {
			return dferr.New(dferr.ErrInvalidArgument, "contrast", "contrast %s sums to %g", m.Names[j], sum)
		}
		if norm := mat.Norm(col, 2); math.Abs(norm-1) > 1e-8 {
			return dferr.New(dferr.ErrInvalidArgument, "contrast", "contrast %s has norm %g", m.Names[j], norm)
		}
	}
	return nil
}

// Correlation returns the correlation of the contrast estimates C^T mu for
// estimates with covariance s.
func (m *Matrix) Correlation(s mat.Symmetric) (*mat.SymDense, error) {
	return linalg.Cov2Cor(linalg.QuadForm(m.C, s))
}
