package quadrature

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Gamma0 is the integral of the Jacobi weight (1-x)^alpha (1+x)^beta over
// [-1,1], i.e. the squared norm of the monic P_0.
func Gamma0(alpha, beta float64) float64 {
	ab1 := alpha + beta + 1.
	a1 := alpha + 1.
	b1 := beta + 1.
	return math.Gamma(a1) * math.Gamma(b1) * math.Pow(2, ab1) / math.Gamma(ab1+1.)
}

// JacobiGQ computes the N+1 point Gauss-Jacobi rule, ascending, with weights
// integrating against (1-x)^alpha (1+x)^beta.
func JacobiGQ(alpha, beta float64, N int) (x, w []float64, err error) {
	var (
		ab         = alpha + beta
		h1, d0, d1 []float64
		VVr        *mat.Dense
	)
	if alpha <= -1 || beta <= -1 {
		err = fmt.Errorf("jacobi weight needs alpha, beta > -1, have (%g, %g)", alpha, beta)
		return
	}
	if N == 0 {
		x = []float64{(beta - alpha) / (ab + 2.)}
		w = []float64{Gamma0(alpha, beta)}
		return
	}

	h1 = make([]float64, N+1)
	for i := 0; i < N+1; i++ {
		h1[i] = 2*float64(i) + ab
	}

	// main diagonal: (beta^2-alpha^2)/(h1(h1+2)), with h1 cancelled at i=0
	d0 = make([]float64, N+1)
	d0[0] = (beta - alpha) / (ab + 2.)
	for i := 1; i < N+1; i++ {
		val := h1[i]
		d0[i] = (beta*beta - alpha*alpha) / (val * (val + 2.))
	}

	// 1st off diagonal: 2/(h1+2) sqrt(i(i+a+b)(i+a)(i+b)/((h1+1)(h1+3))), i = 1..N
	// At i=1 the factor (1+a+b)/(h1+1) cancels, which keeps a+b = -1 finite.
	d1 = make([]float64, N)
	d1[0] = 2. / (ab + 2.) * math.Sqrt((alpha+1.)*(beta+1.)/(ab+3.))
	for i := 1; i < N; i++ {
		ip1 := float64(i + 1)
		val := h1[i]
		d1[i] = 2. / (val + 2.)
		d1[i] *= math.Sqrt(ip1 * (ip1 + ab) * (ip1 + alpha) * (ip1 + beta) / ((val + 1.) * (val + 3.)))
	}

	if x, VVr, err = symTriEigen(d0, d1); err != nil {
		err = fmt.Errorf("gauss-jacobi(%g, %g) rule: %w", alpha, beta, err)
		return
	}
	w = make([]float64, N+1)
	g0 := Gamma0(alpha, beta)
	v0 := VVr.RawRowView(0)
	for i := range w {
		w[i] = v0[i] * v0[i] * g0
	}
	return
}

// JacobiGL computes the N+1 Gauss-Lobatto points: the endpoints plus the
// zeros of P'_N^{alpha,beta}.
func JacobiGL(alpha, beta float64, N int) (x []float64, err error) {
	x = make([]float64, N+1)
	if N == 0 {
		return
	}
	x[0], x[N] = -1, 1
	if N == 1 {
		return
	}
	var xint []float64
	if xint, _, err = JacobiGQ(alpha+1, beta+1, N-2); err != nil {
		return
	}
	copy(x[1:N], xint)
	return
}

// GaussJacobi returns the n point Gauss rule, the form used by the bases.
func GaussJacobi(n int, alpha, beta float64) (x, w []float64, err error) {
	return JacobiGQ(alpha, beta, n-1)
}

// GaussLobattoJacobi returns the n point Gauss-Lobatto rule. The weights are
// the interpolatory weights, found from exactness on P_0..P_{n-1}.
func GaussLobattoJacobi(n int, alpha, beta float64) (x, w []float64, err error) {
	if n < 2 {
		err = fmt.Errorf("gauss-lobatto rule needs at least 2 points, have %d", n)
		return
	}
	if alpha <= -1 || beta <= -1 {
		err = fmt.Errorf("jacobi weight needs alpha, beta > -1, have (%g, %g)", alpha, beta)
		return
	}
	if x, err = JacobiGL(alpha, beta, n-1); err != nil {
		return
	}
	var (
		V   = JacobiVandermonde(x, alpha, beta, n)
		rhs = mat.NewVecDense(n, nil)
		wv  = mat.NewVecDense(n, nil)
	)
	rhs.SetVec(0, math.Sqrt(Gamma0(alpha, beta)))
	if err = wv.SolveVec(V.T(), rhs); err != nil {
		return
	}
	w = make([]float64, n)
	copy(w, wv.RawVector().Data)
	return
}

// JacobiVandermonde evaluates the orthonormal Jacobi polynomials
// P_0..P_{n-1} at x, one row per point.
func JacobiVandermonde(x []float64, alpha, beta float64, n int) (V *mat.Dense) {
	var (
		Nc  = len(x)
		ab  = alpha + beta
		ab1 = alpha + beta + 1.
		a1  = alpha + 1.
		b1  = beta + 1.
	)
	V = mat.NewDense(Nc, n, nil)
	g0 := Gamma0(alpha, beta)
	rg := 1. / math.Sqrt(g0)
	for i := 0; i < Nc; i++ {
		V.Set(i, 0, rg)
	}
	if n == 1 {
		return
	}
	g1 := a1 * b1 / (ab + 3.) * g0
	for i := 0; i < Nc; i++ {
		V.Set(i, 1, ((ab+2.)*x[i]/2.+(alpha-beta)/2.)/math.Sqrt(g1))
	}
	aold := 2. / (2. + ab) * math.Sqrt(a1*b1/(ab+3.))
	for k := 1; k < n-1; k++ {
		h1 := 2.*float64(k) + ab
		fk := float64(k)
		anew := 2. / (h1 + 2.) * math.Sqrt((fk+1.)*(fk+ab1)*(fk+a1)*(fk+b1)/(h1+1.)/(h1+3.))
		bnew := -(alpha*alpha - beta*beta) / h1 / (h1 + 2.)
		for i := 0; i < Nc; i++ {
			V.Set(i, k+1, (-aold*V.At(i, k-1)+(x[i]-bnew)*V.At(i, k))/anew)
		}
		aold = anew
	}
	return
}

// JacobiP evaluates the orthonormal P_N^{alpha,beta} at x.
func JacobiP(x []float64, alpha, beta float64, N int) (p []float64) {
	V := JacobiVandermonde(x, alpha, beta, N+1)
	p = make([]float64, len(x))
	mat.Col(p, N, V)
	return
}

// GradJacobiP evaluates the derivative of the orthonormal P_N^{alpha,beta}.
func GradJacobiP(x []float64, alpha, beta float64, N int) (dp []float64) {
	dp = make([]float64, len(x))
	if N == 0 {
		return
	}
	p := JacobiP(x, alpha+1, beta+1, N-1)
	fac := math.Sqrt(float64(N) * (float64(N) + alpha + beta + 1))
	for i := range dp {
		dp[i] = fac * p[i]
	}
	return
}

// symTriEigen returns the ascending eigenvalues and the eigenvectors (as
// columns) of the symmetric tridiagonal matrix with diagonal d0 and
// off-diagonal d1.
func symTriEigen(d0, d1 []float64) (x []float64, vecs *mat.Dense, err error) {
	n := len(d0)
	JJ := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		JJ.SetSym(i, i, d0[i])
		if i < n-1 {
			JJ.SetSym(i, i+1, d1[i])
		}
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(JJ, true); !ok {
		err = fmt.Errorf("symmetric tridiagonal eigen decomposition of order %d failed", n)
		return
	}
	x = eig.Values(nil)
	vecs = mat.NewDense(n, n, nil)
	eig.VectorsTo(vecs)
	return
}
