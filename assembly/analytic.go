package assembly

import (
	"math"

	"github.com/notargets/gospectral/basis"
	"github.com/notargets/gospectral/types"
)

// closedForm returns the tabulated matrix of <d^a phi, d^b psi>, or nil when
// no table covers the pair.
func closedForm(a, b int, test, trial *basis.Basis) *SparseMatrix {
	switch {
	case test.Family == types.Fourier && test.BC == types.BCPure && trial.BC == types.BCPure:
		return fourierForm(a, b, test, trial)
	case test.BC != types.BCDirichlet || trial.BC != types.BCDirichlet || test.M != trial.M:
		return nil
	case test.Family == types.Chebyshev:
		switch {
		case a == 0 && b == 0:
			return chebyshevDirichletMass(test.M)
		case a == 0 && b == 2:
			return chebyshevDirichletStiffness(test.M, test.Scale())
		}
	case test.Family == types.Legendre:
		switch {
		case a == 0 && b == 0:
			return legendreDirichletMass(test.M)
		case a == 0 && b == 2:
			return legendreDirichletStiffness(test.M, test.Scale())
		}
	}
	return nil
}

// (phi_i, phi_j)_w with phi_k = T_k - T_{k+2}
func chebyshevDirichletMass(m int) (A *SparseMatrix) {
	A = NewSparseMatrix(m, m)
	for k := 0; k < m; k++ {
		ck := 1.
		if k == 0 {
			ck = 2
		}
		A.Set(k, k, math.Pi/2*(ck+1))
		if k+2 < m {
			A.Set(k, k+2, -math.Pi/2)
			A.Set(k+2, k, -math.Pi/2)
		}
	}
	return
}

// (phi_i, d2 phi_j)_w is upper triangular with even offsets.
func chebyshevDirichletStiffness(m int, s float64) (A *SparseMatrix) {
	A = NewSparseMatrix(m, m)
	s2 := s * s
	for k := 0; k < m; k++ {
		fk := float64(k)
		A.Set(k, k, -2*math.Pi*(fk+1)*(fk+2)*s2)
		for j := k + 2; j < m; j += 2 {
			A.Set(k, j, -4*math.Pi*(fk+1)*s2)
		}
	}
	return
}

// (phi_i, phi_j) with phi_k = L_k - L_{k+2}
func legendreDirichletMass(m int) (A *SparseMatrix) {
	A = NewSparseMatrix(m, m)
	for k := 0; k < m; k++ {
		fk := float64(k)
		A.Set(k, k, 2/(2*fk+1)+2/(2*fk+5))
		if k+2 < m {
			v := -2 / (2*fk + 5)
			A.Set(k, k+2, v)
			A.Set(k+2, k, v)
		}
	}
	return
}

func legendreDirichletStiffness(m int, s float64) (A *SparseMatrix) {
	A = NewSparseMatrix(m, m)
	for k := 0; k < m; k++ {
		A.Set(k, k, -(4*float64(k)+6)*s*s)
	}
	return
}

// quarterCos is cos(n pi/2) for integer n.
func quarterCos(n int) float64 {
	switch ((n % 4) + 4) % 4 {
	case 0:
		return 1
	case 2:
		return -1
	}
	return 0
}

// fourierForm pairs cos/sin modes of equal wavenumber. With
// d^b cos(kx) = k^b cos(kx + b pi/2) and sin(kx) = cos(kx - pi/2) every
// entry is k^(a+b) pi cos of a whole number of quarter turns.
func fourierForm(a, b int, test, trial *basis.Basis) (A *SparseMatrix) {
	var (
		n     = test.N
		mt    = test.M
		mr    = trial.M
		scale = math.Pow(test.Scale(), float64(a+b))
	)
	A = NewSparseMatrix(mt, mr)
	set := func(i, j int, v float64) {
		if i < mt && j < mr && v != 0 {
			A.Set(i, j, v*scale)
		}
	}
	if a == 0 && b == 0 {
		set(0, 0, 2*math.Pi)
	}
	for i := 1; i < min(mt, mr); i++ {
		k, sine := basis.FourierWavenumber(i)
		if n%2 == 0 && i == n-1 {
			// the Nyquist cosine: odd derivatives vanish on the grid
			if a%2 == 1 || b%2 == 1 {
				continue
			}
			nk := float64(n / 2)
			set(i, i, quarterCos(a)*quarterCos(b)*math.Pow(nk, float64(a+b))*2*math.Pi)
			continue
		}
		if sine {
			continue
		}
		kp := math.Pow(float64(k), float64(a+b)) * math.Pi
		set(i, i, kp*quarterCos(a-b))
		set(i+1, i+1, kp*quarterCos(a-b))
		set(i, i+1, kp*quarterCos(a-b+1))
		set(i+1, i, kp*quarterCos(a-b-1))
	}
	return
}
