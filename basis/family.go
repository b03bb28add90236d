package basis

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gospectral/quadrature"
	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

// family is the capability set each orthogonal family provides. All
// coordinates are reference coordinates; Basis applies the domain map.
type family interface {
	// points returns the n point quadrature rule.
	points(n int, q types.QuadratureKind) (x, w []float64, err error)
	// vandermonde evaluates the parent functions P_0..P_{n-1} at x.
	vandermonde(x []float64, n int) *mat.Dense
	// norms are the squared weighted norms of P_0..P_{n-1}.
	norms(n int) []float64
	// diffMatrix expresses d^order P_k / dx^order in P_0..P_{n-1}, column k.
	diffMatrix(n, order int) *mat.Dense
	// derivative differentiates parent coefficients with an O(n) recurrence.
	derivative(c []float64, order int) []float64
	// endValues are P_0..P_{n-1} at the left or right reference end.
	endValues(n int, left bool) []float64
	// extend is how many parent modes a derivative of the given order adds.
	extend(order int) int
	reference() [2]float64
}

func newFamily(f types.Family, alpha, beta float64) family {
	switch f {
	case types.Chebyshev:
		return chebyshev{}
	case types.Legendre:
		return legendre{}
	case types.Jacobi:
		return jacobi{alpha, beta}
	case types.Fourier:
		return fourier{}
	case types.Hermite:
		return hermite{}
	case types.Laguerre:
		return laguerre{}
	}
	return nil
}

// powDiff raises a first derivative matrix to order.
func powDiff(D *mat.Dense, order int) (Dk *mat.Dense) {
	n, _ := D.Dims()
	Dk = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		Dk.Set(i, i, 1)
	}
	for o := 0; o < order; o++ {
		var tmp mat.Dense
		tmp.Mul(D, Dk)
		Dk = &tmp
	}
	return
}

func alternating(n int, left bool) (v []float64) {
	v = make([]float64, n)
	for k := range v {
		v[k] = 1
		if left && k%2 == 1 {
			v[k] = -1
		}
	}
	return
}

type chebyshev struct{}

func (chebyshev) points(n int, q types.QuadratureKind) (x, w []float64, err error) {
	if q == types.GaussLobattoQuad {
		return quadrature.ChebyshevGaussLobatto(n)
	}
	x, w = quadrature.ChebyshevGauss(n)
	return
}

func (chebyshev) vandermonde(x []float64, n int) *mat.Dense {
	return quadrature.ChebyshevVandermonde(x, n)
}

func (chebyshev) norms(n int) (h []float64) {
	h = utils.ConstArray(n, math.Pi/2)
	h[0] = math.Pi
	return
}

func (chebyshev) diffMatrix(n, order int) *mat.Dense {
	D := mat.NewDense(n, n, nil)
	for k := 1; k < n; k++ {
		for j := k - 1; j >= 0; j -= 2 {
			v := 2 * float64(k)
			if j == 0 {
				v /= 2
			}
			D.Set(j, k, v)
		}
	}
	return powDiff(D, order)
}

func (chebyshev) derivative(c []float64, order int) []float64 {
	n := len(c)
	for o := 0; o < order; o++ {
		d := make([]float64, n)
		for k := n - 1; k >= 1; k-- {
			d[k-1] = 2 * float64(k) * c[k]
			if k+1 < n {
				d[k-1] += d[k+1]
			}
		}
		if n > 0 {
			d[0] /= 2
		}
		c = d
	}
	return c
}

func (chebyshev) endValues(n int, left bool) []float64 { return alternating(n, left) }
func (chebyshev) extend(int) int                       { return 0 }
func (chebyshev) reference() [2]float64                { return [2]float64{-1, 1} }

type legendre struct{}

func (legendre) points(n int, q types.QuadratureKind) (x, w []float64, err error) {
	if q == types.GaussLobattoQuad {
		return quadrature.LegendreGaussLobatto(n)
	}
	return quadrature.LegendreGauss(n)
}

func (legendre) vandermonde(x []float64, n int) *mat.Dense {
	return quadrature.LegendreVandermonde(x, n)
}

func (legendre) norms(n int) (h []float64) {
	h = make([]float64, n)
	for k := range h {
		h[k] = 2 / float64(2*k+1)
	}
	return
}

func (legendre) diffMatrix(n, order int) *mat.Dense {
	D := mat.NewDense(n, n, nil)
	for k := 1; k < n; k++ {
		for j := k - 1; j >= 0; j -= 2 {
			D.Set(j, k, float64(2*j+1))
		}
	}
	return powDiff(D, order)
}

func (legendre) derivative(c []float64, order int) []float64 {
	n := len(c)
	for o := 0; o < order; o++ {
		d := make([]float64, n)
		for k := n - 1; k >= 1; k-- {
			fk := float64(k)
			d[k-1] = c[k]
			if k+1 < n {
				d[k-1] += d[k+1] / (2*fk + 3)
			}
			d[k-1] *= 2*fk - 1
		}
		c = d
	}
	return c
}

func (legendre) endValues(n int, left bool) []float64 { return alternating(n, left) }
func (legendre) extend(int) int                       { return 0 }
func (legendre) reference() [2]float64                { return [2]float64{-1, 1} }

// jacobi uses the orthonormal P_k^{alpha,beta}, so its norms are all one.
type jacobi struct {
	alpha, beta float64
}

func (j jacobi) points(n int, q types.QuadratureKind) (x, w []float64, err error) {
	if q == types.GaussLobattoQuad {
		return quadrature.GaussLobattoJacobi(n, j.alpha, j.beta)
	}
	return quadrature.GaussJacobi(n, j.alpha, j.beta)
}

func (j jacobi) vandermonde(x []float64, n int) *mat.Dense {
	return quadrature.JacobiVandermonde(x, j.alpha, j.beta, n)
}

func (jacobi) norms(n int) []float64 { return utils.ConstArray(n, 1) }

// diffMatrix projects P_k' back onto the same family with an n point Gauss
// rule, exact since the integrand has degree below 2n.
func (j jacobi) diffMatrix(n, order int) *mat.Dense {
	// points already built a rule for these parameters, so this one succeeds
	x, w, _ := quadrature.GaussJacobi(n, j.alpha, j.beta)
	V := quadrature.JacobiVandermonde(x, j.alpha, j.beta, n)
	D := mat.NewDense(n, n, nil)
	for k := 1; k < n; k++ {
		dp := quadrature.GradJacobiP(x, j.alpha, j.beta, k)
		for r := 0; r < k; r++ {
			var s float64
			for i := range x {
				s += w[i] * V.At(i, r) * dp[i]
			}
			D.Set(r, k, s)
		}
	}
	return powDiff(D, order)
}

// derivative maps into the (alpha+order, beta+order) family.
func (j jacobi) derivative(c []float64, order int) []float64 {
	var (
		n  = len(c)
		ab = j.alpha + j.beta
	)
	for o := 0; o < order; o++ {
		d := make([]float64, n)
		for k := 1; k < n; k++ {
			fk := float64(k)
			d[k-1] = math.Sqrt(fk*(fk+ab+1)) * c[k]
		}
		c = d
		ab += 2
	}
	return c
}

func (j jacobi) endValues(n int, left bool) []float64 {
	x := 1.
	if left {
		x = -1
	}
	V := quadrature.JacobiVandermonde([]float64{x}, j.alpha, j.beta, n)
	return V.RawRowView(0)
}

func (jacobi) extend(int) int        { return 0 }
func (jacobi) reference() [2]float64 { return [2]float64{-1, 1} }

// fourier is the real halfcomplex layout [a0, a1, b1, a2, b2, ...] of
// cos(kx), sin(kx) on [0, 2pi). For even n the last slot is the Nyquist
// cosine.
type fourier struct{}

// FourierWavenumber returns the wavenumber of slot i and whether it holds a
// sine coefficient.
func FourierWavenumber(i int) (k int, sine bool) {
	if i == 0 {
		return 0, false
	}
	return (i + 1) / 2, i%2 == 0
}

func nyquist(i, n int) bool { return n%2 == 0 && i == n-1 }

func (fourier) points(n int, _ types.QuadratureKind) (x, w []float64, err error) {
	x, w = quadrature.FourierPoints(n)
	return
}

func (fourier) vandermonde(x []float64, n int) *mat.Dense {
	V := mat.NewDense(len(x), n, nil)
	for i, xi := range x {
		row := V.RawRowView(i)
		for m := 0; m < n; m++ {
			k, sine := FourierWavenumber(m)
			if sine {
				row[m] = math.Sin(float64(k) * xi)
			} else {
				row[m] = math.Cos(float64(k) * xi)
			}
		}
	}
	return V
}

// norms use the discrete norm 2pi for the Nyquist mode.
func (fourier) norms(n int) (h []float64) {
	h = utils.ConstArray(n, math.Pi)
	h[0] = 2 * math.Pi
	if n%2 == 0 {
		h[n-1] = 2 * math.Pi
	}
	return
}

func (f fourier) diffMatrix(n, order int) *mat.Dense {
	D := mat.NewDense(n, n, nil)
	for m := 0; m < n; m++ {
		e := make([]float64, n)
		e[m] = 1
		D.SetCol(m, f.derivative(e, order))
	}
	return D
}

// derivative multiplies by (ik)^order. The Nyquist cosine has no sine
// partner on the grid: odd orders drop it.
func (fourier) derivative(c []float64, order int) []float64 {
	var (
		n = len(c)
		d = make([]float64, n)
	)
	if order == 0 {
		copy(d, c)
		return d
	}
	for m := 1; m < n; m++ {
		k, sine := FourierWavenumber(m)
		if nyquist(m, n) {
			if order%2 == 0 {
				d[m] = math.Pow(-1, float64(order/2)) * math.Pow(float64(n/2), float64(order)) * c[m]
			}
			continue
		}
		if sine {
			continue
		}
		// (a cos + b sin)^(order) with i^order rotation
		var (
			kp   = math.Pow(float64(k), float64(order))
			a, b = c[m], c[m+1]
		)
		switch order % 4 {
		case 0:
			d[m], d[m+1] = kp*a, kp*b
		case 1:
			d[m], d[m+1] = kp*b, -kp*a
		case 2:
			d[m], d[m+1] = -kp*a, -kp*b
		case 3:
			d[m], d[m+1] = -kp*b, kp*a
		}
	}
	return d
}

func (fourier) endValues(int, bool) []float64 { return nil }
func (fourier) extend(int) int                { return 0 }
func (fourier) reference() [2]float64         { return [2]float64{0, 2 * math.Pi} }

// hermite uses the orthonormal Hermite functions on the real line.
type hermite struct{}

func (hermite) points(n int, _ types.QuadratureKind) (x, w []float64, err error) {
	return quadrature.HermiteGauss(n)
}

func (hermite) vandermonde(x []float64, n int) *mat.Dense {
	return quadrature.HermiteFunctions(x, n)
}

func (hermite) norms(n int) []float64 { return utils.ConstArray(n, 1) }

func (hermite) diffMatrix(n, order int) *mat.Dense {
	D := mat.NewDense(n, n, nil)
	for k := 0; k < n; k++ {
		if k > 0 {
			D.Set(k-1, k, math.Sqrt(float64(k)/2))
		}
		if k+1 < n {
			D.Set(k+1, k, -math.Sqrt(float64(k+1)/2))
		}
	}
	return powDiff(D, order)
}

// derivative returns order more coefficients than it was given, since
// psi_k' reaches psi_{k+1}.
func (hermite) derivative(c []float64, order int) []float64 {
	for o := 0; o < order; o++ {
		n := len(c)
		d := make([]float64, n+1)
		for j := 0; j <= n; j++ {
			if j+1 < n {
				d[j] += math.Sqrt(float64(j+1)/2) * c[j+1]
			}
			if j >= 1 {
				d[j] -= math.Sqrt(float64(j)/2) * c[j-1]
			}
		}
		c = d
	}
	return c
}

func (hermite) endValues(int, bool) []float64 { return nil }
func (hermite) extend(order int) int          { return order }
func (hermite) reference() [2]float64         { return [2]float64{math.Inf(-1), math.Inf(1)} }

// laguerre uses the Laguerre functions exp(-x/2) L_k on [0, inf).
type laguerre struct{}

func (laguerre) points(n int, _ types.QuadratureKind) (x, w []float64, err error) {
	return quadrature.LaguerreGauss(n)
}

func (laguerre) vandermonde(x []float64, n int) *mat.Dense {
	return quadrature.LaguerreFunctions(x, n)
}

func (laguerre) norms(n int) []float64 { return utils.ConstArray(n, 1) }

func (laguerre) diffMatrix(n, order int) *mat.Dense {
	D := mat.NewDense(n, n, nil)
	for k := 0; k < n; k++ {
		D.Set(k, k, -0.5)
		for j := 0; j < k; j++ {
			D.Set(j, k, -1)
		}
	}
	return powDiff(D, order)
}

func (laguerre) derivative(c []float64, order int) []float64 {
	n := len(c)
	for o := 0; o < order; o++ {
		var (
			d    = make([]float64, n)
			tail float64
		)
		for j := n - 1; j >= 0; j-- {
			d[j] = -c[j]/2 - tail
			tail += c[j]
		}
		c = d
	}
	return c
}

// endValues at x = 0; the right end is at infinity where every function
// vanishes.
func (laguerre) endValues(n int, left bool) []float64 {
	if left {
		return utils.ConstArray(n, 1)
	}
	return make([]float64, n)
}

func (laguerre) extend(int) int        { return 0 }
func (laguerre) reference() [2]float64 { return [2]float64{0, math.Inf(1)} }
