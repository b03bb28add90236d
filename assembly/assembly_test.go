package assembly

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gospectral/basis"
	"github.com/notargets/gospectral/quadrature"
	"github.com/notargets/gospectral/types"
)

func near(a, b float64, tolI ...float64) bool {
	tol := 1.e-10
	if len(tolI) != 0 {
		tol = tolI[0]
	}
	return math.Abs(a-b) <= tol*math.Max(1, math.Abs(b))
}

func mustBasis(t *testing.T, f types.Family, n int, bc types.BCKind, opts ...basis.Option) *basis.Basis {
	b, err := basis.New(f, n, bc, opts...)
	require.NoError(t, err)
	return b
}

func assertMatrixNear(t *testing.T, want, got mat.Matrix, tol float64, msg string) {
	r, c := want.Dims()
	gr, gc := got.Dims()
	require.Equal(t, r, gr, msg)
	require.Equal(t, c, gc, msg)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if !near(got.At(i, j), want.At(i, j), tol) {
				t.Errorf("%s (%d,%d): got %v want %v", msg, i, j, got.At(i, j), want.At(i, j))
				return
			}
		}
	}
}

func TestClosedFormsMatchGeneric(t *testing.T) {
	{
		for _, f := range []types.Family{types.Chebyshev, types.Legendre} {
			for _, n := range []int{8, 17} {
				b := mustBasis(t, f, n, types.BCDirichlet, basis.Domain(-1, 2))
				for _, ab := range [][2]int{{0, 0}, {0, 2}} {
					closed := closedForm(ab[0], ab[1], b, b)
					require.NotNil(t, closed)
					msg := fmt.Sprintf("%s (%d,%d)", b.Key(), ab[0], ab[1])
					assertMatrixNear(t, generic(ab[0], ab[1], b, b), closed, 1e-12, msg)
				}
			}
		}
	}
	{ // Chebyshev structure is exact, no cancellation involved
		b := mustBasis(t, types.Chebyshev, 14, types.BCDirichlet)
		assert.Equal(t, closedForm(0, 2, b, b).Offsets(), generic(0, 2, b, b).Offsets())
		assert.Equal(t, []int{-2, 0, 2}, generic(0, 0, b, b).Offsets())
	}
	{
		orders := [][2]int{{0, 0}, {0, 1}, {1, 0}, {0, 2}, {1, 1}, {2, 1}, {0, 4}, {1, 3}}
		for _, n := range []int{8, 9} {
			for _, dom := range [][2]float64{{0, 2 * math.Pi}, {-1, 3}} {
				b := mustBasis(t, types.Fourier, n, types.BCPure, basis.Domain(dom[0], dom[1]))
				for _, ab := range orders {
					msg := fmt.Sprintf("%s (%d,%d)", b.Key(), ab[0], ab[1])
					assertMatrixNear(t, generic(ab[0], ab[1], b, b), closedForm(ab[0], ab[1], b, b), 1e-12, msg)
				}
			}
		}
	}
	{ // truncated Fourier trial
		var (
			test  = mustBasis(t, types.Fourier, 10, types.BCPure)
			trial = mustBasis(t, types.Fourier, 10, types.BCPure, basis.Modes(6))
		)
		assertMatrixNear(t, generic(0, 1, test, trial), closedForm(0, 1, test, trial), 1e-12, "truncated")
	}
}

func TestMassMatchesQuadrature(t *testing.T) {
	var (
		b           = mustBasis(t, types.Legendre, 12, types.BCNeumann, basis.Domain(0, 2))
		xq, wq, err = quadrature.LegendreGauss(30)
		B           = b.EvalMatrix(xq)
	)
	require.NoError(t, err)
	A, err := Assemble(Operator{Kind: Identity}, b, b)
	require.NoError(t, err)
	for i := 0; i < b.M; i++ {
		for j := 0; j < b.M; j++ {
			var s float64
			for q := range xq {
				s += B.At(q, i) * B.At(q, j) * wq[q]
			}
			assert.True(t, near(A.At(i, j), s, 1e-12), "(%d,%d) %v vs %v", i, j, A.At(i, j), s)
		}
	}
}

func TestAssembleDeterministic(t *testing.T) {
	for _, bc := range []types.BCKind{types.BCDirichlet, types.BCNeumann, types.BCBiharmonic} {
		b := mustBasis(t, types.Chebyshev, 20, bc, basis.Domain(0, 1))
		for _, op := range []Operator{{Kind: Identity}, {Kind: SecondDerivative}, {Kind: FourthDerivative}, HelmholtzOp(3)} {
			A1, err := Assemble(op, b, b)
			require.NoError(t, err)
			A2, err := Assemble(op, b, b)
			require.NoError(t, err)
			assert.True(t, A1.Equal(A2), "%s", A1)
			assert.Equal(t, NewKey(op, b, b), A1.Key)
		}
	}
}

func TestDimensionMismatch(t *testing.T) {
	var (
		a = mustBasis(t, types.Legendre, 10, types.BCDirichlet)
		b = mustBasis(t, types.Legendre, 11, types.BCDirichlet)
		c = mustBasis(t, types.Chebyshev, 10, types.BCDirichlet)
		d = mustBasis(t, types.Legendre, 10, types.BCDirichlet, basis.Domain(0, 1))
	)
	for _, trial := range []*basis.Basis{b, c, d} {
		_, err := Assemble(Operator{Kind: Identity}, a, trial)
		assert.True(t, errors.Is(err, types.ErrDimensionMismatch), "%s", trial.Key())
		_, err = NewCache().Assemble(Operator{Kind: Identity}, a, trial)
		assert.True(t, errors.Is(err, types.ErrDimensionMismatch))
	}
	_, err := Assemble(WeakOp(-1, 0), a, a)
	assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))
}

func TestSparsity(t *testing.T) {
	{
		b := mustBasis(t, types.Legendre, 16, types.BCDirichlet)
		A := generic(0, 2, b, b)
		assert.True(t, A.IsDiagonal(), "%s", A)
	}
	{
		b := mustBasis(t, types.Legendre, 16, types.BCBiharmonic)
		A, err := Assemble(Operator{Kind: FourthDerivative}, b, b)
		require.NoError(t, err)
		assert.True(t, A.IsDiagonal(), "%s", A)
		M, err := Assemble(Operator{Kind: Identity}, b, b)
		require.NoError(t, err)
		assert.Equal(t, []int{-4, -2, 0, 2, 4}, M.Offsets())
	}
	{
		b := mustBasis(t, types.Chebyshev, 16, types.BCNeumann)
		M, err := Assemble(Operator{Kind: Identity}, b, b)
		require.NoError(t, err)
		assert.Equal(t, []int{-2, 0, 2}, M.Offsets())
	}
	{
		b := mustBasis(t, types.Fourier, 12, types.BCPure)
		A, err := Assemble(Operator{Kind: FirstDerivative}, b, b)
		require.NoError(t, err)
		assert.Equal(t, []int{-1, 1}, A.Offsets())
		// antisymmetric
		for i := 0; i < b.M; i++ {
			for j := 0; j < b.M; j++ {
				assert.Equal(t, -A.At(j, i), A.At(i, j))
			}
		}
	}
}

func TestIntegrationByParts(t *testing.T) {
	{ // Hermite functions decay: (psi_i, psi_j'') = -(psi_i', psi_j')
		b := mustBasis(t, types.Hermite, 12, types.BCPure)
		A, err := Assemble(Operator{Kind: SecondDerivative}, b, b)
		require.NoError(t, err)
		W, err := Assemble(WeakOp(1, 1), b, b)
		require.NoError(t, err)
		assertMatrixNear(t, W.Scale(-1), A, 1e-11, "hermite")
	}
	{ // Dirichlet test functions: (phi_i', q_j) = -(phi_i, q_j')
		var (
			v = mustBasis(t, types.Legendre, 14, types.BCDirichlet, basis.Domain(0, 3))
			p = mustBasis(t, types.Legendre, 14, types.BCPure, basis.Domain(0, 3), basis.Modes(12))
		)
		G, err := Assemble(WeakOp(1, 0), v, p)
		require.NoError(t, err)
		D, err := Assemble(Operator{Kind: FirstDerivative}, v, p)
		require.NoError(t, err)
		assertMatrixNear(t, D.Scale(-1), G, 1e-11, "gradient")
	}
}

func TestHelmholtz(t *testing.T) {
	b := mustBasis(t, types.Chebyshev, 12, types.BCDirichlet, basis.Domain(0, 4))
	H, err := Assemble(HelmholtzOp(2.5), b, b)
	require.NoError(t, err)
	D2, _ := Assemble(Operator{Kind: SecondDerivative}, b, b)
	I, _ := Assemble(Operator{Kind: Identity}, b, b)
	for i := 0; i < b.M; i++ {
		for j := 0; j < b.M; j++ {
			assert.InDelta(t, D2.At(i, j)-2.5*I.At(i, j), H.At(i, j), 1e-12)
		}
	}
	assert.Equal(t, "Helmholtz(2.5)", H.Key.Op)
}

func TestLiftVector(t *testing.T) {
	{ // lift of u(-1)=1, u(1)=3 is 2 + x
		var (
			test  = mustBasis(t, types.Legendre, 10, types.BCDirichlet)
			trial = mustBasis(t, types.Legendre, 10, types.BCDirichlet, basis.BCValues(1, 3))
		)
		v, err := LiftVector(Operator{Kind: Identity}, test, trial)
		require.NoError(t, err)
		want := make([]float64, test.M)
		want[0], want[1] = 4, 2./3
		for i := range want {
			assert.InDelta(t, want[i], v[i], 1e-13)
		}
		v, err = LiftVector(Operator{Kind: SecondDerivative}, test, trial)
		require.NoError(t, err)
		for i := range v {
			assert.InDelta(t, 0, v[i], 1e-13)
		}
	}
	{
		b := mustBasis(t, types.Legendre, 10, types.BCDirichlet)
		v, err := LiftVector(Operator{Kind: Identity}, b, b)
		require.NoError(t, err)
		assert.Nil(t, v)
	}
}

func TestExport(t *testing.T) {
	b := mustBasis(t, types.Chebyshev, 11, types.BCBiharmonic)
	A, err := Assemble(Operator{Kind: SecondDerivative}, b, b)
	require.NoError(t, err)
	D := A.ToDense()
	assertMatrixNear(t, D, A.ToBand(), 0, "band")
	assertMatrixNear(t, D, A.ToCSR(), 0, "csr")
	assertMatrixNear(t, D, A.T().T(), 0, "transpose")
	assert.True(t, A.Equal(FromDense(D)))
	{
		var (
			x  = make([]float64, b.M)
			y  = make([]float64, b.M)
			yd = mat.NewVecDense(b.M, nil)
		)
		for i := range x {
			x[i] = float64(i) - 3
		}
		A.MulVec(y, x)
		yd.MulVec(D, mat.NewVecDense(b.M, x))
		for i := range y {
			assert.InDelta(t, yd.AtVec(i), y[i], 1e-9)
		}
	}
	kl, ku := A.Bandwidth()
	assert.Equal(t, A.ToBand().DiagView().Diag(), b.M)
	assert.True(t, kl >= 0 && ku > 0)
}

func TestCache(t *testing.T) {
	var (
		c = NewCache()
		b = mustBasis(t, types.Legendre, 9, types.BCDirichlet)
	)
	A1, err := c.Assemble(Operator{Kind: Identity}, b, b)
	require.NoError(t, err)
	A2, err := c.Assemble(Operator{Kind: Identity}, b, b)
	require.NoError(t, err)
	assert.Same(t, A1, A2)
	_, err = c.Assemble(HelmholtzOp(1), b, b)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
	c.Reset()
	assert.Equal(t, 0, c.Len())
}
