package model

import (
	"errors"
	"math"
	"testing"

	"github.com/hammal/dosefinding/dferr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
)

var testDoses = []float64{0, 0.05, 0.2, 0.6, 1}

func TestParse(t *testing.T) {
	for _, f := range Families() {
		got, err := Parse(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := Parse("hill")
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)
}

func TestNumNonlinear(t *testing.T) {
	want := map[Family]int{
		Linear: 0, LinLog: 0, Quadratic: 0, LinInt: 0,
		Emax: 1, Exponential: 1,
		Logistic: 2, SigEmax: 2, BetaMod: 2,
	}
	for f, n := range want {
		assert.Equal(t, n, f.NumNonlinear(), f.String())
		assert.Len(t, DefaultBounds(f, 1), n, f.String())
	}
}

func TestShapeIsStandardized(t *testing.T) {
	c := DefaultConstants(1)
	// intercept 0: every anchored shape vanishes at placebo
	for _, f := range []Family{Emax, Exponential, SigEmax, BetaMod} {
		theta := []float64{0.3, 2}[:f.NumNonlinear()]
		res, err := Shape(f, theta, []float64{0}, c)
		require.NoError(t, err)
		assert.InDelta(t, 0, res[0], 1e-12, f.String())
	}
	// scale 1: emax approaches 1, betaMod peaks at 1
	res, err := Shape(Emax, []float64{0.2}, []float64{0.2}, c)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res[0], 1e-12)

	d1, d2 := 1., 1.
	peak := d1 / (d1 + d2) * c.Scal
	res, err = Shape(BetaMod, []float64{d1, d2}, []float64{peak}, c)
	require.NoError(t, err)
	assert.InDelta(t, 1, res[0], 1e-12)
}

func TestBetaModDomain(t *testing.T) {
	_, err := Shape(BetaMod, []float64{1, 1}, []float64{0, 1, 5}, Constants{Scal: 4.8})
	assert.True(t, errors.Is(err, dferr.ErrDomain))
}

func TestInterpolate(t *testing.T) {
	nodes := []float64{0, 1, 3}
	values := []float64{0, 2, 3}
	res, err := Interpolate(nodes, values, []float64{0, 0.5, 1, 2, 3})
	require.NoError(t, err)
	assert.True(t, floats.EqualApprox([]float64{0, 1, 2, 2.5, 3}, res, 1e-12), "got %v", res)

	_, err = Interpolate(nodes, values[:2], []float64{1})
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)

	_, err = Interpolate(nodes, values, []float64{3.5})
	assert.ErrorIs(t, err, dferr.ErrDomain)
}

func TestStandardizedLinInt(t *testing.T) {
	dose := []float64{0, 1, 2}
	res, err := Standardized(LinInt, []float64{0.5, 1}, dose, Constants{})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1}, res)

	_, err = Standardized(LinInt, []float64{1}, dose, Constants{})
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)
}

func TestStandardizedRejectsBadGuess(t *testing.T) {
	_, err := Standardized(Emax, []float64{-1}, testDoses, DefaultConstants(1))
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)
	_, err = Standardized(SigEmax, []float64{0.2}, testDoses, DefaultConstants(1))
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)
}

func TestCurveValidate(t *testing.T) {
	c := Curve{Family: Logistic, Coef: []float64{1, 0.3, 0.1}, PlaceboAdjusted: true}
	assert.ErrorIs(t, c.Validate(), dferr.ErrUnsupportedConfiguration)

	c = Curve{Family: Emax, Coef: []float64{1, 2}}
	assert.ErrorIs(t, c.Validate(), dferr.ErrInvalidArgument)
}

func TestCurveResponse(t *testing.T) {
	c := Curve{Family: Emax, Coef: []float64{0.2, 0.7, 0.2}}
	res, err := c.Response([]float64{0, 0.2})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, res[0], 1e-12)
	assert.InDelta(t, 0.55, res[1], 1e-12)

	lin := Curve{Family: Linear, Coef: []float64{1, 0.5}}
	res, err = lin.Response([]float64{0, 1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1.5, 2, 2.5, 3}, res)
}

func TestGradientMatchesFiniteDifferences(t *testing.T) {
	consts := DefaultConstants(1)
	curves := []Curve{
		{Family: Linear, Coef: []float64{0.1, 0.5}},
		{Family: LinLog, Coef: []float64{0.1, 0.5}, Constants: consts},
		{Family: Quadratic, Coef: []float64{0.1, 0.5, -0.3}},
		{Family: Emax, Coef: []float64{0.1, 0.8, 0.2}},
		{Family: Emax, Coef: []float64{0.8, 0.2}, PlaceboAdjusted: true},
		{Family: Exponential, Coef: []float64{0.1, 0.2, 0.5}},
		{Family: Logistic, Coef: []float64{0.1, 0.8, 0.4, 0.1}},
		{Family: SigEmax, Coef: []float64{0.1, 0.8, 0.3, 3}},
		{Family: BetaMod, Coef: []float64{0.1, 0.8, 1.2, 0.6}, Constants: consts},
		{Family: LinInt, Coef: []float64{0, 0.3, 0.5, 0.9}, Nodes: []float64{0, 0.2, 0.6, 1}},
	}
	for _, c := range curves {
		t.Run(c.Family.String(), func(t *testing.T) {
			jac, err := c.Gradient(testDoses)
			require.NoError(t, err)
			for i, d := range testDoses {
				f := func(coef []float64) float64 {
					cc := c
					cc.Coef = coef
					v, err := cc.Response([]float64{d})
					require.NoError(t, err)
					return v[0]
				}
				num := fd.Gradient(nil, f, c.Coef, &fd.Settings{Formula: fd.Central})
				for j := range num {
					assert.InDelta(t, num[j], jac.At(i, j), 1e-5, "dose %g coef %d", d, j)
				}
			}
		})
	}
}

func TestParamNames(t *testing.T) {
	assert.Equal(t, []string{"e0", "eMax", "ed50"}, Emax.ParamNames(false, nil))
	assert.Equal(t, []string{"eMax", "ed50"}, Emax.ParamNames(true, nil))
	assert.Equal(t, []string{"d0.5", "d1"}, LinInt.ParamNames(true, []float64{0, 0.5, 1}))
}

func TestLogisticStandardizedStartsAtZero(t *testing.T) {
	res, err := Standardized(Logistic, []float64{0.5, 0.1}, testDoses, Constants{})
	require.NoError(t, err)
	assert.InDelta(t, 0, res[0], 1e-15)
	assert.False(t, math.IsNaN(res[4]))
}
