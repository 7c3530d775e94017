// Package simulate draws per-patient dose-response data from a known curve,
// for power studies and for testing the fitting engine.
package simulate

import (
	"math/rand/v2"

	"github.com/hammal/dosefinding/dferr"
	"github.com/hammal/dosefinding/model"
	"gonum.org/v1/gonum/stat/distuv"
)

// Design is the allocation of patients to doses.
type Design struct {
	Doses []float64 `yaml:"doses"`
	N     []int     `yaml:"n"`
	// CovariateEffect adds a standard normal covariate x per patient with
	// response effect CovariateEffect*x. Zero draws no covariate.
	CovariateEffect float64 `yaml:"covariateEffect"`
}

// Validate checks that every dose has a positive group size.
func (d Design) Validate() error {
	if len(d.Doses) == 0 || len(d.Doses) != len(d.N) {
		return dferr.New(dferr.ErrInvalidArgument, "design", "%d doses with %d group sizes", len(d.Doses), len(d.N))
	}
	for i, n := range d.N {
		if n < 1 {
			return dferr.New(dferr.ErrInvalidArgument, "design", "group %d has size %d", i, n)
		}
		if d.Doses[i] < 0 {
			return dferr.New(dferr.ErrInvalidArgument, "design", "dose %g is negative", d.Doses[i])
		}
	}
	return nil
}

// Total returns the number of patients.
func (d Design) Total() int {
	var total int
	for _, n := range d.N {
		total += n
	}
	return total
}

// Data are simulated per-patient observations. Covariate is nil unless the
// design has a covariate effect.
type Data struct {
	Dose      []float64 `yaml:"dose"`
	Resp      []float64 `yaml:"resp"`
	Covariate []float64 `yaml:"covariate,omitempty"`
}

// Simulator draws responses mu(d) + N(0, sd^2) around a curve. It is not
// safe for concurrent use; create one per goroutine.
type Simulator struct {
	curve model.Curve
	noise distuv.Normal
	cov   distuv.Normal
}

// New returns a Simulator for the curve with residual standard deviation
// sd. The same seed reproduces the same data.
func New(curve model.Curve, sd float64, seed uint64) (*Simulator, error) {
	if err := curve.Validate(); err != nil {
		return nil, err
	}
	if !(sd >= 0) {
		return nil, dferr.New(dferr.ErrInvalidArgument, "simulate", "standard deviation must be non-negative, got %g", sd)
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Simulator{
		curve: curve,
		noise: distuv.Normal{Mu: 0, Sigma: sd, Src: src},
		cov:   distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}, nil
}

// Means returns the true mean response at every dose of the design.
func (s *Simulator) Means(design Design) ([]float64, error) {
	if err := design.Validate(); err != nil {
		return nil, err
	}
	return s.curve.Response(design.Doses)
}

// Generate draws one data set.
func (s *Simulator) Generate(design Design) (*Data, error) {
	means, err := s.Means(design)
	if err != nil {
		return nil, err
	}
	total := design.Total()
	data := &Data{
		Dose: make([]float64, 0, total),
		Resp: make([]float64, 0, total),
	}
	if design.CovariateEffect != 0 {
		data.Covariate = make([]float64, 0, total)
	}
	for i, n := range design.N {
		for j := 0; j < n; j++ {
			y := means[i] + s.noise.Rand()
			if data.Covariate != nil {
				x := s.cov.Rand()
				data.Covariate = append(data.Covariate, x)
				y += design.CovariateEffect * x
			}
			data.Dose = append(data.Dose, design.Doses[i])
			data.Resp = append(data.Resp, y)
		}
	}
	return data, nil
}
