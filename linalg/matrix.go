// Package linalg extends gonum's mat package with the least-squares,
// projection and whitening routines shared by the fitting and testing
// engines.
package linalg

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Ones returns a (m by n) matrix filled with ones
func Ones(m, n int) *mat.Dense {
	return Full(m, n, 1.)
}

// Full returns a (m by n) matrix filled with value
func Full(m, n int, value float64) *mat.Dense {
	data := make([]float64, m*n)
	for index := range data {
		data[index] = value
	}
	return mat.NewDense(m, n, data)
}

// Eye returns the (n by n) identity
func Eye(n int) *mat.DiagDense {
	data := make([]float64, n)
	for entry := range data {
		data[entry] = 1
	}
	return mat.NewDiagDense(n, data)
}

// Diag returns the diagonal matrix with the given entries.
func Diag(values []float64) *mat.DiagDense {
	return mat.NewDiagDense(len(values), append([]float64(nil), values...))
}

// NaNOrInf checks if there are any NaN or Inf in matrix
func NaNOrInf(matrix mat.Matrix) bool {
	m, n := matrix.Dims()
	for row := 0; row < m; row++ {
		for col := 0; col < n; col++ {
			if math.IsNaN(matrix.At(row, col)) || math.IsInf(matrix.At(row, col), 0) {
				return true
			}
		}
	}
	return false
}

// NaNOrInfSlice is NaNOrInf for a plain slice.
func NaNOrInfSlice(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// Augment returns [a b]. Either argument may be nil, in which case the other
// is copied; both nil gives nil.
func Augment(a, b mat.Matrix) *mat.Dense {
	switch {
	case isNil(a) && isNil(b):
		return nil
	case isNil(a):
		return mat.DenseCopyOf(b)
	case isNil(b):
		return mat.DenseCopyOf(a)
	}
	var res mat.Dense
	res.Augment(a, b)
	return &res
}
