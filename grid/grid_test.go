package grid

import (
	"testing"

	"github.com/hammal/dosefinding/dferr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestMidpoints(t *testing.T) {
	nodes, err := Nodes(4, [][2]float64{{0, 8}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 5, 7}, mat.Col(nil, 0, nodes))
	assert.Equal(t, 2., Spacing(4, [2]float64{0, 8}))
}

func TestLatticeSize(t *testing.T) {
	tests := []struct {
		requested int
		want      int
	}{
		{1, 5},
		{5, 5},
		{6, 8},
		{144, 144},
		{145, 233},
		{1e6, MaxLatticeSize},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatticeSize(tt.requested), "requested %d", tt.requested)
	}
}

func TestLatticeInsideBounds(t *testing.T) {
	b := [][2]float64{{0.1, 2}, {0.5, 10}}
	nodes, err := Nodes(144, b)
	require.NoError(t, err)
	r, c := nodes.Dims()
	require.Equal(t, 144, r)
	require.Equal(t, 2, c)
	for i := 0; i < r; i++ {
		for j := 0; j < 2; j++ {
			v := nodes.At(i, j)
			assert.True(t, v > b[j][0] && v < b[j][1], "node %d dim %d = %g", i, j, v)
		}
	}
}

// Every row and column strip of a lattice holds exactly one node.
func TestLatticeStratified(t *testing.T) {
	nodes, err := Nodes(21, [][2]float64{{0, 1}, {0, 1}})
	require.NoError(t, err)
	for dim := 0; dim < 2; dim++ {
		count := make([]int, 21)
		for _, v := range mat.Col(nil, dim, nodes) {
			count[int(v*21)]++
		}
		for cell, k := range count {
			assert.Equal(t, 1, k, "dim %d cell %d", dim, cell)
		}
	}
}

func TestLatticePoints(t *testing.T) {
	nodes, err := Nodes(5, [][2]float64{{0, 1}, {0, 1}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.1, 0.3, 0.5, 0.7, 0.9}, mat.Col(nil, 0, nodes), 1e-15)
	assert.InDeltaSlice(t, []float64{0.5, 0.1, 0.7, 0.3, 0.9}, mat.Col(nil, 1, nodes), 1e-15)

	// the generator 8 of the 13 point lattice is even
	nodes, err = Nodes(13, [][2]float64{{0, 1}, {2, 3}})
	require.NoError(t, err)
	for i, v := range mat.Col(nil, 1, nodes) {
		assert.True(t, v > 2 && v < 3, "node %d = %g", i, v)
	}
	assert.InDelta(t, 2+12.5/13, nodes.At(12, 1), 1e-12)
}

func TestNodesDeterministic(t *testing.T) {
	b := [][2]float64{{0, 1}, {1, 3}}
	a, err := Nodes(100, b)
	require.NoError(t, err)
	c, err := Nodes(100, b)
	require.NoError(t, err)
	assert.True(t, floats.Equal(a.RawMatrix().Data, c.RawMatrix().Data))
}

func TestNodesInvalid(t *testing.T) {
	_, err := Nodes(10, [][2]float64{{1, 1}})
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)
	_, err = Nodes(10, [][2]float64{{0, 1}, {0, 1}, {0, 1}})
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)
	_, err = Nodes(0, [][2]float64{{0, 1}})
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)
}
