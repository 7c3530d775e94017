package mct

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/hammal/dosefinding/contrast"
	"github.com/hammal/dosefinding/dferr"
	"github.com/hammal/dosefinding/fit"
	"github.com/hammal/dosefinding/linalg"
	"github.com/hammal/dosefinding/model"
	"github.com/hammal/dosefinding/mvt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// orthogonal returns two uncorrelated contrasts for three doses under an
// identity covariance.
func orthogonal() *contrast.Matrix {
	return &contrast.Matrix{
		C: mat.NewDense(3, 2, []float64{
			-1 / math.Sqrt2, 1 / math.Sqrt(6),
			0, -2 / math.Sqrt(6),
			1 / math.Sqrt2, 1 / math.Sqrt(6),
		}),
		Names: []string{"linear", "umbrella"},
		Doses: []float64{0, 1, 2},
	}
}

func TestIndependentContrasts(t *testing.T) {
	est, err := NewEstimates([]float64{0, 1, 2}, []float64{0, 0.8, 2.1}, linalg.Eye(3), math.Inf(1))
	require.NoError(t, err)
	c := orthogonal()

	for _, dist := range []mvt.Distribution{nil, mvt.Independent{}} {
		opts := DefaultOptions()
		opts.Distribution = dist
		res, err := Test(est, c, opts)
		require.NoError(t, err)

		assert.InDelta(t, 0, res.Corr.At(0, 1), 1e-12)
		assert.InDelta(t, 2.1/math.Sqrt2, res.TStat[0], 1e-12)
		assert.InDelta(t, (2.1-1.6)/math.Sqrt(6), res.TStat[1], 1e-12)
		for i, ti := range res.TStat {
			want := 1 - distuv.UnitNormal.CDF(ti)*distuv.UnitNormal.CDF(ti)
			assert.InDelta(t, want, res.PValues[i], 1e-6)
		}
		i, maxT := res.MaxT()
		assert.Equal(t, 0, i)
		assert.Equal(t, res.TStat[0], maxT)
		assert.Equal(t, res.PValues[0], res.PValue())

		// P(max Z < c) = 0.975 for two independent normals
		want := distuv.UnitNormal.Quantile(math.Sqrt(0.975))
		assert.InDelta(t, want, res.CritVal, 1e-5)
	}
}

func TestTwoSided(t *testing.T) {
	est, err := NewEstimates([]float64{0, 1, 2}, []float64{4.2, 1.6, 0}, linalg.Eye(3), math.Inf(1))
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Alternative = TwoSided
	opts.Alpha = 0.05
	opts.Distribution = mvt.Independent{}
	res, err := Test(est, orthogonal(), opts)
	require.NoError(t, err)

	assert.Less(t, res.TStat[0], 0.)
	q := 2*distuv.UnitNormal.CDF(math.Abs(res.TStat[0])) - 1
	assert.InDelta(t, 1-q*q, res.PValues[0], 1e-9)
	assert.Equal(t, []int{0}, res.Significant())

	want := distuv.UnitNormal.Quantile((1 + math.Sqrt(0.95)) / 2)
	assert.InDelta(t, want, res.CritVal, 1e-5)
}

func TestSingleContrastCriticalValue(t *testing.T) {
	crit, err := CriticalValue(mvt.Independent{}, linalg.Eye(1), math.Inf(1), 0.025, OneSided)
	require.NoError(t, err)
	assert.InDelta(t, 1.959964, crit, 1e-5)

	crit, err = CriticalValue(mvt.Independent{}, linalg.Eye(1), 20, 0.025, OneSided)
	require.NoError(t, err)
	assert.InDelta(t, distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 20}.Quantile(0.975), crit, 1e-4)
}

func TestEmaxSignal(t *testing.T) {
	doses := []float64{0, 1, 2, 3, 4}
	cands := []contrast.Candidate{
		{Family: model.Emax, Guess: []float64{2}},
		{Family: model.Linear},
		{Family: model.Exponential, Guess: []float64{3}},
	}
	s := mat.NewDiagDense(5, []float64{0.1, 0.1, 0.1, 0.1, 0.1})
	c, err := contrast.Optimal(doses, cands, s, contrast.Options{})
	require.NoError(t, err)
	est, err := NewEstimates(doses, []float64{0, 1, 1.8, 2.2, 2.4}, s, 50)
	require.NoError(t, err)

	res, err := Test(est, c, DefaultOptions())
	require.NoError(t, err)
	for i, p := range res.PValues {
		assert.Less(t, p, 0.005, res.Names[i])
		assert.Greater(t, res.TStat[i], res.CritVal)
	}
	i, _ := res.MaxT()
	assert.Equal(t, "emax", res.Names[i])
	assert.Len(t, res.Significant(), 3)
	// positively correlated contrasts need a critical value below Bonferroni
	assert.Less(t, res.CritVal, distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 50}.Quantile(1-0.025/3))
}

func TestModerateSignalDefaultControl(t *testing.T) {
	doses := []float64{0, 1, 2, 3, 4}
	cands := []contrast.Candidate{
		{Family: model.Emax, Guess: []float64{2}},
		{Family: model.Linear},
		{Family: model.Exponential, Guess: []float64{3}},
	}
	s := mat.NewDiagDense(5, []float64{0.1, 0.1, 0.1, 0.1, 0.1})
	c, err := contrast.Optimal(doses, cands, s, contrast.Options{})
	require.NoError(t, err)
	// t statistics between 1.4 and 1.7, where the strongly correlated
	// contrasts are hardest to integrate
	est, err := NewEstimates(doses, []float64{0, 0.3, 0.5, 0.6, 0.65}, s, 50)
	require.NoError(t, err)

	res, err := Test(est, c, DefaultOptions())
	require.NoError(t, err)
	st := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 50}
	for i, ti := range res.TStat {
		assert.Greater(t, ti, 1.4, res.Names[i])
		assert.Less(t, ti, 1.7, res.Names[i])
		// between the marginal and the Bonferroni p-value
		assert.Greater(t, res.PValues[i], 1-st.CDF(ti)-2e-3, res.Names[i])
		assert.Less(t, res.PValues[i], 3*(1-st.CDF(ti))+2e-3, res.Names[i])
		assert.Less(t, ti, res.CritVal)
	}
	assert.Empty(t, res.Significant())
	assert.Greater(t, res.CritVal, st.Quantile(0.975))
	assert.Less(t, res.CritVal, st.Quantile(1-0.025/3))
}

func TestEstimateANOVA(t *testing.T) {
	dose := []float64{0, 0, 0, 1, 1, 1, 2, 2, 2}
	resp := []float64{1, 2, 3, 2, 3, 4, 5, 6, 7}
	est, err := EstimateANOVA(dose, resp, nil, fit.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 2}, est.Doses)
	assert.Empty(t, cmp.Diff([]float64{2, 3, 6}, est.Mean, cmpopts.EquateApprox(0, 1e-10)))
	assert.Equal(t, 6., est.DF)
	// sigma^2 = 6/6, var of a mean = 1/3
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1./3, est.S.At(i, i), 1e-10)
		for j := i + 1; j < 3; j++ {
			assert.InDelta(t, 0, est.S.At(i, j), 1e-10)
		}
	}
}

func TestPower(t *testing.T) {
	doses := []float64{0, 1, 2, 3}
	s := linalg.Diag([]float64{0.25, 0.25, 0.25, 0.25})
	c, err := contrast.Optimal(doses, []contrast.Candidate{
		{Family: model.Emax, Guess: []float64{0.5}},
		{Family: model.Linear},
	}, s, contrast.Options{})
	require.NoError(t, err)

	power, err := Power(c, s, math.Inf(1), [][]float64{
		{0, 0, 0, 0},
		{0, 0.3, 0.5, 0.6},
		{0, 0.9, 1.5, 1.8},
	}, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 0.025, power[0], 5e-3)
	assert.Greater(t, power[1], power[0])
	assert.Greater(t, power[2], power[1])
	assert.Less(t, power[2], 1.)

	_, err = Power(c, s, math.Inf(1), [][]float64{{0, 1}}, DefaultOptions())
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)
}

type failing struct{}

func (failing) Probability([]float64, []float64, []float64, mat.Symmetric, float64) (mvt.Result, error) {
	return mvt.Result{}, dferr.New(dferr.ErrIntegrationFailure, "mvt", "budget exhausted")
}

func (failing) Quantile(float64, mvt.Tail, mat.Symmetric, float64) (mvt.Result, error) {
	return mvt.Result{}, dferr.New(dferr.ErrIntegrationFailure, "mvt", "budget exhausted")
}

func TestIntegrationFailurePropagates(t *testing.T) {
	est, err := NewEstimates([]float64{0, 1, 2}, []float64{0, 1, 2}, linalg.Eye(3), math.Inf(1))
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Distribution = failing{}
	_, err = Test(est, orthogonal(), opts)
	assert.ErrorIs(t, err, dferr.ErrIntegrationFailure)
}

func TestInvalidTest(t *testing.T) {
	est, err := NewEstimates([]float64{0, 1}, []float64{0, 1}, linalg.Eye(2), math.Inf(1))
	require.NoError(t, err)
	_, err = Test(est, orthogonal(), DefaultOptions())
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)

	opts := DefaultOptions()
	opts.Alpha = 0
	_, err = Test(est, orthogonal(), opts)
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)

	_, err = NewEstimates([]float64{0, 1}, []float64{0}, linalg.Eye(2), 1)
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)
	_, err = NewEstimates([]float64{0, 1}, []float64{0, 1}, mat.NewDense(2, 2, []float64{1, 1, 0, 1}), 1)
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)

	var alt Alternative
	require.NoError(t, alt.UnmarshalText([]byte("two.sided")))
	assert.Equal(t, TwoSided, alt)
}

func TestControlOfDefaultDistribution(t *testing.T) {
	est, err := NewEstimates([]float64{0, 1, 2}, []float64{0, 1, 2}, linalg.Eye(3), math.Inf(1))
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Control = mvt.DefaultControl()
	opts.Control.Interval = [2]float64{-1, 1}
	_, err = Test(est, orthogonal(), opts)
	assert.ErrorIs(t, err, dferr.ErrIntegrationFailure)

	opts.Control.AbsEps = -1
	_, err = Test(est, orthogonal(), opts)
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)
}
