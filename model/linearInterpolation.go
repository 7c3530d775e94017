package model

import (
	"sort"

	"github.com/hammal/dosefinding/dferr"
	"gonum.org/v1/gonum/mat"
)

// LinInt is evaluated by linear interpolation between consecutive nodes.
// Doses outside [nodes[0], nodes[len(nodes)-1]] are rejected with
// dferr.ErrDomain; the curve is never extrapolated.

// Interpolate returns the piecewise linear curve through (nodes[i],
// values[i]) evaluated at each dose.
func Interpolate(nodes, values, dose []float64) ([]float64, error) {
	if len(nodes) != len(values) {
		return nil, dferr.New(dferr.ErrInvalidArgument, "linInt", "%d nodes but %d responses", len(nodes), len(values))
	}
	basis, err := hatBasis(dose, nodes)
	if err != nil {
		return nil, err
	}
	res := mat.NewVecDense(len(dose), nil)
	res.MulVec(basis, mat.NewVecDense(len(values), append([]float64(nil), values...)))
	return res.RawVector().Data, nil
}

// hatBasis returns the (len(dose) x len(nodes)) matrix whose column j is the
// hat function that is 1 at nodes[j] and falls linearly to 0 at the
// neighbouring nodes.
func hatBasis(dose, nodes []float64) (*mat.Dense, error) {
	if err := checkNodes(nodes); err != nil {
		return nil, err
	}
	k := len(nodes)
	res := mat.NewDense(len(dose), k, nil)
	lo, hi := nodes[0], nodes[k-1]
	for i, d := range dose {
		if d < lo || d > hi {
			return nil, dferr.New(dferr.ErrDomain, "linInt", "dose %g outside node range [%g, %g]", d, lo, hi)
		}
		if k == 1 {
			res.Set(i, 0, 1)
			continue
		}
		// first node >= d
		j := sort.SearchFloat64s(nodes, d)
		if nodes[j] == d {
			res.Set(i, j, 1)
			continue
		}
		w := (d - nodes[j-1]) / (nodes[j] - nodes[j-1])
		res.Set(i, j-1, 1-w)
		res.Set(i, j, w)
	}
	return res, nil
}

func checkNodes(nodes []float64) error {
	if len(nodes) == 0 {
		return dferr.New(dferr.ErrInvalidArgument, "linInt", "no nodes")
	}
	for i := 1; i < len(nodes); i++ {
		if !(nodes[i] > nodes[i-1]) {
			return dferr.New(dferr.ErrInvalidArgument, "linInt", "nodes must be strictly increasing")
		}
	}
	return nil
}
