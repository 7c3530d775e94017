// Package grid places the deterministic search nodes used by the global
// phase of the fitting engine.
//
// In one dimension the nodes are the midpoints of N equal cells. In two
// dimensions a Fibonacci lattice (a generalized lattice point set) is used,
// which covers the rectangle without the directional bias of a tensor grid.
package grid

import (
	"github.com/hammal/dosefinding/dferr"
	"gonum.org/v1/gonum/mat"
)

// latticeSizes are the supported sizes of the two dimensional lattice, each
// a Fibonacci number. latticeGenerators holds the preceding Fibonacci
// number, used as generator of the lattice.
var (
	latticeSizes = []int{
		5, 8, 13, 21, 34, 55, 89, 144, 233, 377, 610, 987, 1597, 2584, 4181,
		6765, 10946, 17711, 28657, 46368, 75025,
	}
	latticeGenerators = []int{
		3, 5, 8, 13, 21, 34, 55, 89, 144, 233, 377, 610, 987, 1597, 2584,
		4181, 6765, 10946, 17711, 28657, 46368,
	}
)

// MaxLatticeSize is the largest two dimensional grid.
const MaxLatticeSize = 75025

// LatticeSize returns the number of nodes used for a requested two
// dimensional grid size: the smallest supported lattice with at least n
// points, clamped to [5, MaxLatticeSize].
func LatticeSize(n int) int {
	return latticeSizes[latticeIndex(n)]
}

func latticeIndex(n int) int {
	for index, size := range latticeSizes {
		if size >= n {
			return index
		}
	}
	return len(latticeSizes) - 1
}

// Nodes returns the search nodes as rows of a matrix with one column per
// dimension. n is the requested number of nodes; in two dimensions the
// actual count is LatticeSize(n).
func Nodes(n int, bounds [][2]float64) (*mat.Dense, error) {
	if n < 1 {
		return nil, dferr.New(dferr.ErrInvalidArgument, "grid", "grid size must be positive, got %d", n)
	}
	for i, b := range bounds {
		if !(b[0] < b[1]) {
			return nil, dferr.New(dferr.ErrInvalidArgument, "grid", "bound %d is empty: [%g, %g]", i, b[0], b[1])
		}
	}
	switch len(bounds) {
	case 1:
		return midpoints(n, bounds[0]), nil
	case 2:
		return lattice(n, bounds[0], bounds[1]), nil
	default:
		return nil, dferr.New(dferr.ErrInvalidArgument, "grid", "only 1 or 2 dimensions supported, got %d", len(bounds))
	}
}

// Spacing returns the distance between neighbouring one dimensional nodes.
func Spacing(n int, bound [2]float64) float64 {
	return (bound[1] - bound[0]) / float64(n)
}

// midpoints returns
//
//	lo + (2i + 1)/(2n) * (hi - lo),  i = 0 ... n-1
func midpoints(n int, b [2]float64) *mat.Dense {
	data := make([]float64, n)
	for i := range data {
		data[i] = b[0] + float64(2*i+1)/float64(2*n)*(b[1]-b[0])
	}
	return mat.NewDense(n, 1, data)
}

// lattice returns the Fibonacci lattice of size N = F_m with generator
// F_(m-1):
//
//	u_k = ((k - 0.5)/N, frac((k F_(m-1) - 0.5)/N)),  k = 1 ... N
//
// mapped affinely into the rectangle b1 x b2. Both coordinates are cell
// midpoints, so no node lies on a bound.
func lattice(n int, b1, b2 [2]float64) *mat.Dense {
	index := latticeIndex(n)
	size, gen := latticeSizes[index], latticeGenerators[index]
	res := mat.NewDense(size, 2, nil)
	for k := 1; k <= size; k++ {
		u1 := (float64(k) - 0.5) / float64(size)
		// frac((r - 0.5)/N) for r = k*gen mod N, which wraps r = 0 to N
		r := (k*gen-1)%size + 1
		u2 := (float64(r) - 0.5) / float64(size)
		res.Set(k-1, 0, b1[0]+u1*(b1[1]-b1[0]))
		res.Set(k-1, 1, b2[0]+u2*(b2[1]-b2[0]))
	}
	return res
}
