package quadrature

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ChebyshevGauss is the n point Chebyshev-Gauss rule for the weight
// 1/sqrt(1-x^2), points ascending.
func ChebyshevGauss(n int) (x, w []float64) {
	x, w = make([]float64, n), make([]float64, n)
	for j := 0; j < n; j++ {
		x[j] = -math.Cos(math.Pi * float64(2*j+1) / float64(2*n))
		w[j] = math.Pi / float64(n)
	}
	return
}

// ChebyshevGaussLobatto is the n point rule including both endpoints.
func ChebyshevGaussLobatto(n int) (x, w []float64, err error) {
	if n < 2 {
		err = fmt.Errorf("gauss-lobatto rule needs at least 2 points, have %d", n)
		return
	}
	x, w = make([]float64, n), make([]float64, n)
	for j := 0; j < n; j++ {
		x[j] = -math.Cos(math.Pi * float64(j) / float64(n-1))
		w[j] = math.Pi / float64(n-1)
	}
	x[0], x[n-1] = -1, 1
	w[0] /= 2
	w[n-1] /= 2
	return
}

// LegendreGauss is GaussJacobi(n, 0, 0).
func LegendreGauss(n int) (x, w []float64, err error) {
	return GaussJacobi(n, 0, 0)
}

// LegendreGaussLobatto uses the closed form weights 2/(n(n-1) L_{n-1}^2).
func LegendreGaussLobatto(n int) (x, w []float64, err error) {
	if n < 2 {
		err = fmt.Errorf("gauss-lobatto rule needs at least 2 points, have %d", n)
		return
	}
	if x, err = JacobiGL(0, 0, n-1); err != nil {
		return
	}
	L := LegendreVandermonde(x, n)
	w = make([]float64, n)
	fn := float64(n)
	for i := range x {
		l := L.At(i, n-1)
		w[i] = 2. / (fn * (fn - 1) * l * l)
	}
	return
}

// HermiteGauss returns the n point rule for the orthonormal Hermite
// functions: the weights integrate products of Hermite functions over the
// real line without an explicit exp(-x^2) factor.
func HermiteGauss(n int) (x, w []float64, err error) {
	d0 := make([]float64, n)
	d1 := make([]float64, n-1)
	for k := 1; k < n; k++ {
		d1[k-1] = math.Sqrt(float64(k) / 2)
	}
	if x, _, err = symTriEigen(d0, d1); err != nil {
		return
	}
	psi := HermiteFunctions(x, n)
	w = make([]float64, n)
	for i := range x {
		p := psi.At(i, n-1)
		w[i] = 1. / (float64(n) * p * p)
	}
	return
}

// LaguerreGauss returns the n point rule for the Laguerre functions
// exp(-x/2) L_k(x) on [0, inf), with the exp(x) factor folded into the
// weights.
func LaguerreGauss(n int) (x, w []float64, err error) {
	d0 := make([]float64, n)
	d1 := make([]float64, n-1)
	for k := 0; k < n; k++ {
		d0[k] = float64(2*k + 1)
		if k > 0 {
			d1[k-1] = float64(k)
		}
	}
	if x, _, err = symTriEigen(d0, d1); err != nil {
		return
	}
	phi := LaguerreFunctions(x, n+2)
	w = make([]float64, n)
	n1 := float64(n + 1)
	for i := range x {
		p := phi.At(i, n+1)
		w[i] = x[i] / (n1 * n1 * p * p)
	}
	return
}

// FourierPoints are the n equispaced points on [0, 2pi) with equal weights.
func FourierPoints(n int) (x, w []float64) {
	x, w = make([]float64, n), make([]float64, n)
	for j := range x {
		x[j] = 2 * math.Pi * float64(j) / float64(n)
		w[j] = 2 * math.Pi / float64(n)
	}
	return
}

// ChebyshevVandermonde evaluates T_0..T_{n-1} at x.
func ChebyshevVandermonde(x []float64, n int) (V *mat.Dense) {
	V = mat.NewDense(len(x), n, nil)
	for i, xi := range x {
		row := V.RawRowView(i)
		row[0] = 1
		if n > 1 {
			row[1] = xi
		}
		for k := 2; k < n; k++ {
			row[k] = 2*xi*row[k-1] - row[k-2]
		}
	}
	return
}

// LegendreVandermonde evaluates L_0..L_{n-1}, normalized to L_k(1) = 1.
func LegendreVandermonde(x []float64, n int) (V *mat.Dense) {
	V = mat.NewDense(len(x), n, nil)
	for i, xi := range x {
		row := V.RawRowView(i)
		row[0] = 1
		if n > 1 {
			row[1] = xi
		}
		for k := 1; k < n-1; k++ {
			fk := float64(k)
			row[k+1] = ((2*fk+1)*xi*row[k] - fk*row[k-1]) / (fk + 1)
		}
	}
	return
}

// HermiteFunctions evaluates the orthonormal Hermite functions
// psi_k = H_k exp(-x^2/2) / sqrt(2^k k! sqrt(pi)), k < n.
func HermiteFunctions(x []float64, n int) (V *mat.Dense) {
	V = mat.NewDense(len(x), n, nil)
	c0 := math.Pow(math.Pi, -0.25)
	for i, xi := range x {
		row := V.RawRowView(i)
		row[0] = c0 * math.Exp(-xi*xi/2)
		if n > 1 {
			row[1] = math.Sqrt2 * xi * row[0]
		}
		for k := 1; k < n-1; k++ {
			fk := float64(k)
			row[k+1] = math.Sqrt(2/(fk+1))*xi*row[k] - math.Sqrt(fk/(fk+1))*row[k-1]
		}
	}
	return
}

// LaguerreFunctions evaluates exp(-x/2) L_k(x), k < n.
func LaguerreFunctions(x []float64, n int) (V *mat.Dense) {
	V = mat.NewDense(len(x), n, nil)
	for i, xi := range x {
		row := V.RawRowView(i)
		row[0] = math.Exp(-xi / 2)
		if n > 1 {
			row[1] = (1 - xi) * row[0]
		}
		for k := 1; k < n-1; k++ {
			fk := float64(k)
			row[k+1] = ((2*fk+1-xi)*row[k] - fk*row[k-1]) / (fk + 1)
		}
	}
	return
}
