package fit

import (
	"errors"
	"math"
)

var errNoConvergence = errors.New("maximum number of iterations reached")

type brentResult struct {
	x, f        float64
	iterations  int
	evaluations int
}

// brent minimizes f on (a, b) by golden section search with parabolic
// interpolation (Brent, Algorithms for Minimization without Derivatives,
// 1973). The endpoints are never evaluated. On non convergence the best
// point so far is returned together with errNoConvergence.
func brent(f func(float64) float64, a, b, tol float64, maxIter int) (brentResult, error) {
	const golden = 0.3819660112501051 // (3 - sqrt(5)) / 2
	eps := math.Sqrt(2.220446049250313e-16)

	x := a + golden*(b-a)
	v, w := x, x
	fx := f(x)
	fv, fw := fx, fx
	d, e := 0., 0.
	res := brentResult{evaluations: 1}

	for iter := 0; iter < maxIter; iter++ {
		xm := (a + b) / 2
		tol1 := eps*math.Abs(x) + tol/3
		tol2 := 2 * tol1
		if math.Abs(x-xm) <= tol2-(b-a)/2 {
			res.x, res.f, res.iterations = x, fx, iter
			return res, nil
		}

		var p, q, r float64
		if math.Abs(e) > tol1 {
			// parabola through x, v, w
			r = (x - w) * (fx - fv)
			q = (x - v) * (fx - fw)
			p = (x-v)*q - (x-w)*r
			q = 2 * (q - r)
			if q > 0 {
				p = -p
			} else {
				q = -q
			}
			r = e
			e = d
		}

		if math.Abs(p) >= math.Abs(q*r/2) || p <= q*(a-x) || p >= q*(b-x) {
			if x < xm {
				e = b - x
			} else {
				e = a - x
			}
			d = golden * e
		} else {
			d = p / q
			if u := x + d; u-a < tol2 || b-u < tol2 {
				d = math.Copysign(tol1, xm-x)
			}
		}

		var u float64
		switch {
		case math.Abs(d) >= tol1:
			u = x + d
		case d > 0:
			u = x + tol1
		default:
			u = x - tol1
		}
		fu := f(u)
		res.evaluations++

		if fu <= fx {
			if u < x {
				b = x
			} else {
				a = x
			}
			v, fv = w, fw
			w, fw = x, fx
			x, fx = u, fu
			continue
		}
		if u < x {
			a = u
		} else {
			b = u
		}
		switch {
		case fu <= fw || w == x:
			v, fv = w, fw
			w, fw = u, fu
		case fu <= fv || v == x || v == w:
			v, fv = u, fu
		}
	}
	res.x, res.f, res.iterations = x, fx, maxIter
	return res, errNoConvergence
}
