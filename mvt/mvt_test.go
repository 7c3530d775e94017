package mvt

import (
	"math"
	"testing"

	"github.com/hammal/dosefinding/dferr"
	"github.com/hammal/dosefinding/linalg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var inf = math.Inf(1)

func newGenzBretz(t *testing.T) *GenzBretz {
	g, err := NewGenzBretz(DefaultControl(), nil)
	require.NoError(t, err)
	return g
}

func TestUnivariateNormalIsExact(t *testing.T) {
	g := newGenzBretz(t)
	res, err := g.Probability([]float64{-inf}, []float64{1.96}, nil, linalg.Eye(1), inf)
	require.NoError(t, err)
	assert.InDelta(t, phi(1.96), res.Value, 1e-15)
	assert.Equal(t, 0., res.Error)

	res, err = g.Probability([]float64{-inf}, []float64{1.5}, []float64{1}, linalg.Eye(1), 0)
	require.NoError(t, err)
	assert.InDelta(t, phi(0.5), res.Value, 1e-15)
}

func TestIndependentNormalProduct(t *testing.T) {
	upper := []float64{1.2, 0.5, 2}
	lower := []float64{-inf, -inf, -inf}
	want := phi(1.2) * phi(0.5) * phi(2)

	for _, d := range []Distribution{newGenzBretz(t), Independent{}} {
		res, err := d.Probability(lower, upper, nil, linalg.Eye(3), inf)
		require.NoError(t, err)
		assert.InDelta(t, want, res.Value, 1e-12)
	}
}

func TestIndependentT(t *testing.T) {
	upper := []float64{1.2, 0.5, 2}
	lower := []float64{-inf, -1, -inf}
	delta := []float64{0.3, 0, -0.2}
	g := newGenzBretz(t)
	got, err := g.Probability(lower, upper, delta, linalg.Eye(3), 10)
	require.NoError(t, err)
	want, err := Independent{}.Probability(lower, upper, delta, linalg.Eye(3), 10)
	require.NoError(t, err)
	assert.InDelta(t, want.Value, got.Value, 3e-3)
	assert.LessOrEqual(t, got.Error, DefaultControl().AbsEps)
}

func TestUnivariateTMatchesStudentsT(t *testing.T) {
	st := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 7}
	res, err := Independent{}.Probability([]float64{-inf}, []float64{1.3}, nil, linalg.Eye(1), 7)
	require.NoError(t, err)
	assert.InDelta(t, st.CDF(1.3), res.Value, 1e-6)

	res, err = newGenzBretz(t).Probability([]float64{-inf}, []float64{1.3}, nil, linalg.Eye(1), 7)
	require.NoError(t, err)
	assert.InDelta(t, st.CDF(1.3), res.Value, 2e-3)
}

func TestBivariateOrthant(t *testing.T) {
	rho := 0.5
	corr := mat.NewSymDense(2, []float64{1, rho, rho, 1})
	res, err := newGenzBretz(t).Probability([]float64{-inf, -inf}, []float64{0, 0}, nil, corr, inf)
	require.NoError(t, err)
	assert.InDelta(t, 0.25+math.Asin(rho)/(2*math.Pi), res.Value, 2e-3)
}

func TestPerfectCorrelation(t *testing.T) {
	corr := mat.NewSymDense(2, []float64{1, 1, 1, 1})
	res, err := newGenzBretz(t).Probability([]float64{-inf, -inf}, []float64{0, 1}, nil, corr, inf)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Value, 1e-12)
}

func TestQuantiles(t *testing.T) {
	g := newGenzBretz(t)
	res, err := g.Quantile(0.975, Lower, linalg.Eye(1), inf)
	require.NoError(t, err)
	assert.InDelta(t, 1.959964, res.Value, 1e-5)

	res, err = g.Quantile(0.95, Both, linalg.Eye(1), inf)
	require.NoError(t, err)
	assert.InDelta(t, 1.959964, res.Value, 1e-5)

	res, err = Independent{}.Quantile(0.95, Both, linalg.Eye(2), inf)
	require.NoError(t, err)
	want := distuv.UnitNormal.Quantile((1 + math.Sqrt(0.95)) / 2)
	assert.InDelta(t, want, res.Value, 1e-5)

	res, err = Independent{}.Quantile(0.975, Lower, linalg.Eye(1), 10)
	require.NoError(t, err)
	assert.InDelta(t, distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 10}.Quantile(0.975), res.Value, 1e-4)
}

func TestCorrelatedQuantileAboveMarginal(t *testing.T) {
	corr := mat.NewSymDense(3, []float64{
		1, 0.6, 0.3,
		0.6, 1, 0.6,
		0.3, 0.6, 1,
	})
	res, err := newGenzBretz(t).Quantile(0.95, Lower, corr, inf)
	require.NoError(t, err)
	// between the marginal and the Bonferroni quantile
	assert.Greater(t, res.Value, distuv.UnitNormal.Quantile(0.95))
	assert.Less(t, res.Value, distuv.UnitNormal.Quantile(1-0.05/3))
}

func TestDeterministic(t *testing.T) {
	corr := mat.NewSymDense(3, []float64{
		1, 0.4, 0.2,
		0.4, 1, 0.5,
		0.2, 0.5, 1,
	})
	g := newGenzBretz(t)
	a, err := g.Probability([]float64{-inf, -1, -inf}, []float64{1, 1, 0.5}, nil, corr, 12)
	require.NoError(t, err)
	b, err := g.Probability([]float64{-inf, -1, -inf}, []float64{1, 1, 0.5}, nil, corr, 12)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBudgetExhausted(t *testing.T) {
	c := DefaultControl()
	c.MaxPts = 2 * latticeShifts
	c.AbsEps = 1e-12
	g, err := NewGenzBretz(c, nil)
	require.NoError(t, err)
	corr := mat.NewSymDense(3, []float64{
		1, 0.4, 0.2,
		0.4, 1, 0.5,
		0.2, 0.5, 1,
	})
	res, err := g.Probability([]float64{-inf, -inf, -inf}, []float64{1, 1, 1}, nil, corr, inf)
	assert.ErrorIs(t, err, dferr.ErrIntegrationFailure)
	assert.Equal(t, c.MaxPts, res.Evaluations)
	assert.Greater(t, res.Value, 0.)
}

func TestQuantileOutsideInterval(t *testing.T) {
	c := DefaultControl()
	c.Interval = [2]float64{-1, 1}
	g, err := NewGenzBretz(c, nil)
	require.NoError(t, err)
	_, err = g.Quantile(0.99, Lower, linalg.Eye(1), inf)
	assert.ErrorIs(t, err, dferr.ErrIntegrationFailure)
}

func TestInvalidInput(t *testing.T) {
	g := newGenzBretz(t)
	tests := []struct {
		name  string
		lower []float64
		upper []float64
		corr  mat.Symmetric
		kind  error
	}{
		{"length", []float64{0}, []float64{1, 1}, linalg.Eye(2), dferr.ErrInvalidArgument},
		{"reversed", []float64{1, 0}, []float64{0, 1}, linalg.Eye(2), dferr.ErrInvalidArgument},
		{"diagonal", []float64{0, 0}, []float64{1, 1}, mat.NewSymDense(2, []float64{2, 0, 0, 1}), dferr.ErrInvalidArgument},
		{"indefinite", []float64{0, 0, 0}, []float64{1, 1, 1}, mat.NewSymDense(3, []float64{
			1, 0.9, 0.9,
			0.9, 1, -0.9,
			0.9, -0.9, 1,
		}), dferr.ErrSingularMatrix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Probability(tt.lower, tt.upper, nil, tt.corr, inf)
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	_, err := Independent{}.Probability([]float64{0, 0}, []float64{1, 1}, nil, mat.NewSymDense(2, []float64{1, 0.5, 0.5, 1}), inf)
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)

	_, err = g.Quantile(1, Lower, linalg.Eye(1), inf)
	assert.ErrorIs(t, err, dferr.ErrInvalidArgument)

	assert.ErrorIs(t, Control{}.Validate(), dferr.ErrInvalidArgument)
	assert.NoError(t, DefaultControl().Validate())
}

// correlation of the optimal emax, linear and exponential contrasts for
// doses 0 to 4 under a homoscedastic covariance
func contrastCorrelation() *mat.SymDense {
	return mat.NewSymDense(3, []float64{
		1, 0.9502, 0.8773,
		0.9502, 1, 0.9817,
		0.8773, 0.9817, 1,
	})
}

func TestHighlyCorrelatedWithinTolerance(t *testing.T) {
	g := newGenzBretz(t)
	corr := contrastCorrelation()
	for _, q := range []float64{1.4757, 1.5, 1.6767} {
		res, err := g.Probability([]float64{-inf, -inf, -inf}, []float64{q, q, q}, nil, corr, 50)
		require.NoError(t, err, q)
		assert.LessOrEqual(t, res.Error, DefaultControl().AbsEps, q)
		assert.Less(t, res.Evaluations, DefaultControl().MaxPts, q)
	}
	res, err := g.Probability([]float64{-inf, -inf, -inf}, []float64{1.5, 1.5, 1.5}, nil, corr, 50)
	require.NoError(t, err)
	assert.InDelta(t, 0.9033, res.Value, 3e-3)

	st := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 50}
	crit, err := g.Quantile(0.975, Lower, corr, 50)
	require.NoError(t, err)
	assert.Greater(t, crit.Value, st.Quantile(0.975))
	assert.Less(t, crit.Value, st.Quantile(1-0.025/3))
	assert.LessOrEqual(t, crit.Error, DefaultControl().AbsEps)
}

func TestFactorizeReorders(t *testing.T) {
	corr := mat.NewSymDense(3, []float64{
		1, 0.4, 0.2,
		0.4, 1, 0.5,
		0.2, 0.5, 1,
	})
	lim, err := newLimits([]float64{-inf, -inf, -inf}, []float64{2, -1, 0.5}, nil, corr)
	require.NoError(t, err)
	l, err := lim.factorize()
	require.NoError(t, err)

	// the narrowest interval comes first
	assert.Equal(t, -1., lim.upper[0])
	orig := map[float64]int{2: 0, -1: 1, 0.5: 2}
	var llt mat.Dense
	llt.Mul(l, l.T())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := corr.At(orig[lim.upper[i]], orig[lim.upper[j]])
			assert.InDelta(t, want, lim.corr.At(i, j), 1e-15)
			assert.InDelta(t, want, llt.At(i, j), 1e-12)
		}
	}
}

func TestQuantileBracket(t *testing.T) {
	lo, hi := quantileBracket(0.95, Lower, 4, inf)
	assert.InDelta(t, distuv.UnitNormal.Quantile(0.95), lo, 1e-12)
	assert.InDelta(t, distuv.UnitNormal.Quantile(1-0.05/4), hi, 1e-12)

	lo, hi = quantileBracket(0.95, Both, 1, 10)
	assert.Equal(t, lo, hi)
	assert.InDelta(t, distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 10}.Quantile(0.975), lo, 1e-12)
}

func TestQuantileWithExhaustedBudget(t *testing.T) {
	c := DefaultControl()
	c.MaxPts = 2 * latticeShifts
	c.AbsEps = 1e-12
	g, err := NewGenzBretz(c, nil)
	require.NoError(t, err)
	res, err := g.Quantile(0.95, Both, contrastCorrelation(), 20)
	require.NoError(t, err)
	assert.Greater(t, res.Error, c.AbsEps)
	st := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 20}
	assert.GreaterOrEqual(t, res.Value, st.Quantile(0.975))
	assert.LessOrEqual(t, res.Value, st.Quantile(1-0.05/6))
}
