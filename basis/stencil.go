package basis

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gospectral/types"
)

func (b *Basis) buildStencil() (err error) {
	nbc := len(b.funcs)
	if nbc == 0 {
		return
	}
	b.stencil = make([][]float64, b.M)
	if closed := closedStencil(b.Family, b.BC); closed != nil {
		for k := 0; k < b.M; k++ {
			b.stencil[k] = closed(k)
		}
		return
	}
	b.stencil, err = b.genericStencil()
	return
}

// genericStencil solves, for every k, the nbc x nbc system that makes
// P_k + sum_m s_{k,m} P_{k+m} satisfy each boundary functional.
func (b *Basis) genericStencil() (stencil [][]float64, err error) {
	var (
		nbc = len(b.funcs)
		F   = b.functionalMatrix(b.N)
	)
	stencil = make([][]float64, b.M)
	for k := 0; k < b.M; k++ {
		var (
			A   = mat.NewDense(nbc, nbc, nil)
			rhs = mat.NewVecDense(nbc, nil)
			s   = mat.NewVecDense(nbc, nil)
		)
		for i := 0; i < nbc; i++ {
			rhs.SetVec(i, -F.At(i, k))
			for m := 0; m < nbc; m++ {
				A.Set(i, m, F.At(i, k+1+m))
			}
		}
		if err = s.SolveVec(A, rhs); err != nil {
			return nil, types.InvalidConfigurationf("%s: boundary conditions do not determine stencil %d: %v",
				b.Key(), k, err)
		}
		stencil[k] = append([]float64(nil), s.RawVector().Data...)
	}
	return
}

// functionalMatrix has one row per boundary functional, evaluated on the
// parent modes 0..n-1 in physical coordinates.
func (b *Basis) functionalMatrix(n int) (F *mat.Dense) {
	F = mat.NewDense(len(b.funcs), n, nil)
	for i, f := range b.funcs {
		F.SetRow(i, b.EndValues(n, f.Left, f.Order))
	}
	return
}

// closedStencil returns the known Shen stencils, or nil when the generic
// construction applies.
func closedStencil(fam types.Family, bc types.BCKind) func(k int) []float64 {
	switch {
	case fam == types.Chebyshev && bc == types.BCDirichlet,
		fam == types.Legendre && bc == types.BCDirichlet:
		return func(k int) []float64 { return []float64{0, -1} }
	case fam == types.Chebyshev && bc == types.BCNeumann:
		return func(k int) []float64 {
			r := float64(k) / float64(k+2)
			return []float64{0, -r * r}
		}
	case fam == types.Legendre && bc == types.BCNeumann:
		return func(k int) []float64 {
			fk := float64(k)
			return []float64{0, -fk * (fk + 1) / ((fk + 2) * (fk + 3))}
		}
	case fam == types.Chebyshev && bc == types.BCBiharmonic:
		return func(k int) []float64 {
			fk := float64(k)
			return []float64{0, -2 * (fk + 2) / (fk + 3), 0, (fk + 1) / (fk + 3)}
		}
	case fam == types.Legendre && bc == types.BCBiharmonic:
		return func(k int) []float64 {
			fk := float64(k)
			return []float64{0, -2 * (2*fk + 5) / (2*fk + 7), 0, (2*fk + 3) / (2*fk + 7)}
		}
	}
	return nil
}

// Stencil returns s_{k,1..nbc} for basis function k, nil for a pure basis.
func (b *Basis) Stencil(k int) []float64 {
	if b.stencil == nil {
		return nil
	}
	return b.stencil[k]
}

// StencilMatrix is the n x M matrix whose column k holds the parent
// coefficients of phi_k, n >= N.
func (b *Basis) StencilMatrix(n int) (K *mat.Dense) {
	K = mat.NewDense(n, b.M, nil)
	for k := 0; k < b.M; k++ {
		K.Set(k, k, 1)
		for m, s := range b.Stencil(k) {
			if s != 0 {
				K.Set(k+1+m, k, s)
			}
		}
	}
	return
}

// buildLift finds parent coefficients on the lowest modes that satisfy the
// boundary functionals with the prescribed values. When the lowest modes
// are annihilated (pure derivative conditions) the window slides up.
func (b *Basis) buildLift() (err error) {
	var (
		nbc = len(b.funcs)
		F   = b.functionalMatrix(b.N)
	)
	for start := 0; start+nbc <= b.N; start++ {
		var (
			A   = mat.NewDense(nbc, nbc, nil)
			rhs = mat.NewVecDense(nbc, b.BCValues)
			l   = mat.NewVecDense(nbc, nil)
		)
		for i := 0; i < nbc; i++ {
			for m := 0; m < nbc; m++ {
				A.Set(i, m, F.At(i, start+m))
			}
		}
		if c := mat.Cond(A, 1); math.IsInf(c, 1) || c > 1e12 {
			continue
		}
		if err = l.SolveVec(A, rhs); err != nil {
			continue
		}
		b.lift = make([]float64, b.N)
		copy(b.lift[start:], l.RawVector().Data)
		return nil
	}
	return types.InvalidConfigurationf("%s: no lift satisfies the boundary values", b.Key())
}

// Lift is the parent coefficient vector carrying the boundary values, nil
// when they are homogeneous.
func (b *Basis) Lift() []float64 { return b.lift }

// ToParent expands basis coefficients into n >= N parent coefficients,
// adding the lift when withLift is set.
func (b *Basis) ToParent(c []float64, n int, withLift bool) (p []float64) {
	p = make([]float64, n)
	for k := 0; k < b.M; k++ {
		p[k] += c[k]
		for m, s := range b.Stencil(k) {
			p[k+1+m] += s * c[k]
		}
	}
	if withLift && b.lift != nil {
		for i, l := range b.lift {
			p[i] += l
		}
	}
	return
}

// EvalParent evaluates parent coefficients at physical points.
func (b *Basis) EvalParent(p []float64, x []float64) (u []float64) {
	xi := make([]float64, len(x))
	for i := range x {
		xi[i] = b.ToReference(x[i])
	}
	var (
		V  = b.fam.vandermonde(xi, len(p))
		uv = mat.NewVecDense(len(x), nil)
	)
	uv.MulVec(V, mat.NewVecDense(len(p), p))
	return uv.RawVector().Data
}
