package solver

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/gospectral/assembly"
	"github.com/notargets/gospectral/basis"
	"github.com/notargets/gospectral/parallel"
	"github.com/notargets/gospectral/space"
	"github.com/notargets/gospectral/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func near(a, b float64, tolI ...float64) bool {
	tol := 1.e-10
	if len(tolI) != 0 {
		tol = tolI[0]
	}
	return math.Abs(a-b) <= tol*math.Max(1, math.Abs(b))
}

func assertSliceNear(t *testing.T, want, got []float64, tol float64, msg string) {
	require.Equal(t, len(want), len(got), msg)
	for i := range want {
		if !near(got[i], want[i], tol) {
			t.Errorf("%s [%d]: got %v want %v", msg, i, got[i], want[i])
			return
		}
	}
}

func mustBasis(t *testing.T, f types.Family, n int, bc types.BCKind, opts ...basis.Option) *basis.Basis {
	b, err := basis.New(f, n, bc, opts...)
	require.NoError(t, err)
	return b
}

func mustAssemble(t *testing.T, op assembly.Operator, test, trial *basis.Basis) *assembly.SparseMatrix {
	A, err := assembly.Assemble(op, test, trial)
	require.NoError(t, err)
	return A
}

func fromRows(rows [][]float64) *assembly.SparseMatrix {
	A := assembly.NewSparseMatrix(len(rows), len(rows[0]))
	for i, row := range rows {
		for j, v := range row {
			if v != 0 {
				A.Set(i, j, v)
			}
		}
	}
	return A
}

// sample evaluates f on the mesh of fs and returns its scalar product.
func sample(t *testing.T, fs *space.FunctionSpace, f func(x float64) float64) (u, s []float64) {
	x := fs.Mesh()
	u = make([]float64, len(x))
	for i := range x {
		u[i] = f(x[i])
	}
	var err error
	s, err = fs.ScalarProduct(u)
	require.NoError(t, err)
	return
}

func TestFactorize(t *testing.T) {
	{ // Diagonal
		A := fromRows([][]float64{{2, 0, 0}, {0, 4, 0}, {0, 0, 8}})
		f, err := Factorize(A)
		require.NoError(t, err)
		assert.Equal(t, Diagonal, f.Strategy())
		x := make([]float64, 3)
		require.NoError(t, f.SolveTo(x, []float64{2, 4, 8}))
		assert.Equal(t, []float64{1, 1, 1}, x)
		assert.Equal(t, 4., f.Report().Cond)
	}
	{ // Upper triangular back substitution
		A := fromRows([][]float64{{2, 1, 3}, {0, 4, 1}, {0, 0, 8}})
		f, err := Factorize(A)
		require.NoError(t, err)
		assert.Equal(t, UpperTriangular, f.Strategy())
		var (
			b = []float64{1, 2, 3}
			x = make([]float64, 3)
			r = make([]float64, 3)
		)
		require.NoError(t, f.SolveTo(x, b))
		A.MulVec(r, x)
		assertSliceNear(t, b, r, 1e-14, "upper")
	}
	{ // Band LU needs row interchanges on tridiag(1,0,1) and agrees with dense LU
		n := 20
		A := assembly.NewSparseMatrix(n, n)
		for i := 0; i < n-1; i++ {
			A.Set(i, i+1, 1)
			A.Set(i+1, i, 1+0.1*float64(i))
		}
		band, err := Factorize(A)
		require.NoError(t, err)
		assert.Equal(t, Banded, band.Strategy())
		dense, err := Factorize(A, WithStrategy(DenseLU))
		require.NoError(t, err)
		var (
			b      = make([]float64, n)
			xb, xd = make([]float64, n), make([]float64, n)
		)
		for i := range b {
			b[i] = math.Sin(float64(i) + 0.5)
		}
		require.NoError(t, band.SolveTo(xb, b))
		require.NoError(t, dense.SolveTo(xd, b))
		assertSliceNear(t, xd, xb, 1e-12, "band vs dense")
	}
	{ // Pentadiagonal, in place
		n := 30
		A := assembly.NewSparseMatrix(n, n)
		for i := 0; i < n; i++ {
			A.Set(i, i, 6+float64(i%4))
			for _, k := range []int{-2, -1, 1, 2} {
				if j := i + k; j >= 0 && j < n {
					A.Set(i, j, 1/float64(1+abs(k)+i%3))
				}
			}
		}
		f, err := Factorize(A, WithStrategy(Banded))
		require.NoError(t, err)
		var (
			b = make([]float64, n)
			x = make([]float64, n)
			r = make([]float64, n)
		)
		for i := range b {
			b[i] = float64(i%5) - 2
		}
		copy(x, b)
		require.NoError(t, f.SolveTo(x, x))
		A.MulVec(r, x)
		assertSliceNear(t, b, r, 1e-12, "pentadiagonal")
		assert.False(t, f.Report().IllConditioned)
	}
	{ // Ill conditioning is advisory
		A := fromRows([][]float64{{1, 0}, {0, 1e-13}})
		f, err := Factorize(A)
		require.NoError(t, err)
		rep := f.Report()
		assert.True(t, rep.IllConditioned)
		assert.True(t, errors.Is(rep.Err(), types.ErrIllConditioned))
		x := make([]float64, 2)
		require.NoError(t, f.SolveTo(x, []float64{1, 1e-13}))
		assert.True(t, near(x[1], 1))
		f, err = Factorize(A, WithCondThreshold(1e14))
		require.NoError(t, err)
		assert.NoError(t, f.Report().Err())
	}
	{ // Singular
		A := fromRows([][]float64{{1, 1}, {1, 1}})
		_, err := Factorize(A)
		assert.True(t, errors.Is(err, types.ErrSingularOperator))
		var se *types.SingularOperatorError
		assert.True(t, errors.As(err, &se))
		_, err = Factorize(fromRows([][]float64{{1, 0, 0}, {0, 0, 0}, {0, 0, 2}}))
		assert.True(t, errors.Is(err, types.ErrSingularOperator))
		_, err = Factorize(assembly.NewSparseMatrix(2, 3))
		assert.True(t, errors.Is(err, types.ErrDimensionMismatch))
	}
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

func TestPoisson1D(t *testing.T) {
	for _, tc := range []struct { // u'' = -pi^2 sin(pi x): the solution equals the projection of sin(pi x)
		b   *basis.Basis
		tol float64
	}{
		{mustBasis(t, types.Chebyshev, 32, types.BCDirichlet), 1e-10},
		{mustBasis(t, types.Jacobi, 32, types.BCDirichlet, basis.Jacobi(0.3, 0.7)), 1e-9},
		{mustBasis(t, types.Jacobi, 32, types.BCDirichlet, basis.Jacobi(-0.5, -0.5)), 1e-9},
	} {
		b := tc.b
		fs, err := space.NewFunctionSpace(b)
		require.NoError(t, err)
		_, rhs := sample(t, fs, func(x float64) float64 { return -math.Pi * math.Pi * math.Sin(math.Pi*x) })
		exact, _ := sample(t, fs, func(x float64) float64 { return math.Sin(math.Pi * x) })
		want, err := fs.Forward(exact)
		require.NoError(t, err)
		op := &TensorOperator{Shape: []int{b.M}, Terms: []Term{{Coef: 1, Mats: []*assembly.SparseMatrix{
			mustAssemble(t, assembly.Operator{Kind: assembly.SecondDerivative}, b, b)}}}}
		s, err := NewTensorSolver(op)
		require.NoError(t, err)
		u, rep, err := s.SolveGlobal(rhs)
		require.NoError(t, err)
		assert.False(t, rep.IllConditioned)
		assertSliceNear(t, want, u, tc.tol, b.Key())
	}
	{ // Geometric convergence in N
		var errs []float64
		for _, n := range []int{6, 10, 14} {
			b := mustBasis(t, types.Legendre, n, types.BCDirichlet, basis.Domain(0, 2))
			fs, err := space.NewFunctionSpace(b)
			require.NoError(t, err)
			exact, rhs := sample(t, fs, func(x float64) float64 { return math.Sin(math.Pi * x) })
			for i := range rhs {
				rhs[i] *= -math.Pi * math.Pi
			}
			op := &TensorOperator{Shape: []int{b.M}, Terms: []Term{{Coef: 1, Mats: []*assembly.SparseMatrix{
				mustAssemble(t, assembly.Operator{Kind: assembly.SecondDerivative}, b, b)}}}}
			s, err := NewTensorSolver(op)
			require.NoError(t, err)
			c, _, err := s.SolveGlobal(rhs)
			require.NoError(t, err)
			u, err := fs.Backward(c)
			require.NoError(t, err)
			floats.Sub(u, exact)
			errs = append(errs, floats.Norm(u, math.Inf(1)))
		}
		for i := 1; i < len(errs); i++ {
			assert.Less(t, errs[i], errs[i-1]/50, "errors %v", errs)
		}
		assert.Less(t, errs[len(errs)-1], 1e-7)
	}
}

func TestNullSpace(t *testing.T) {
	{ // Pure Neumann Poisson is singular without a constraint
		b := mustBasis(t, types.Legendre, 20, types.BCNeumann)
		fs, err := space.NewFunctionSpace(b)
		require.NoError(t, err)
		exact, _ := sample(t, fs, func(x float64) float64 { return math.Cos(math.Pi * x) })
		_, rhs := sample(t, fs, func(x float64) float64 { return -math.Pi * math.Pi * math.Cos(math.Pi*x) })
		want, err := fs.Forward(exact)
		require.NoError(t, err)
		op := &TensorOperator{Shape: []int{b.M}, Terms: []Term{{Coef: 1, Mats: []*assembly.SparseMatrix{
			mustAssemble(t, assembly.Operator{Kind: assembly.SecondDerivative}, b, b)}}}}
		s, err := NewTensorSolver(op)
		require.NoError(t, err)
		_, _, err = s.SolveGlobal(rhs)
		assert.True(t, errors.Is(err, types.ErrSingularOperator))

		s, err = NewTensorSolver(op, WithConstraint([]int{0}, want[0]))
		require.NoError(t, err)
		u, _, err := s.SolveGlobal(rhs)
		require.NoError(t, err)
		assertSliceNear(t, want, u, 1e-9, "neumann")
	}
	{ // Periodic Poisson pins the mean
		b := mustBasis(t, types.Fourier, 16, types.BCPure)
		fs, err := space.NewFunctionSpace(b)
		require.NoError(t, err)
		exact, _ := sample(t, fs, func(x float64) float64 { return math.Sin(x) + math.Cos(2*x) })
		_, rhs := sample(t, fs, func(x float64) float64 { return -math.Sin(x) - 4*math.Cos(2*x) })
		want, err := fs.Forward(exact)
		require.NoError(t, err)
		op := &TensorOperator{Shape: []int{b.M}, Terms: []Term{{Coef: 1, Mats: []*assembly.SparseMatrix{
			mustAssemble(t, assembly.Operator{Kind: assembly.SecondDerivative}, b, b)}}}}
		s, err := NewTensorSolver(op, WithConstraint([]int{0}, 0))
		require.NoError(t, err)
		u, _, err := s.SolveGlobal(rhs)
		require.NoError(t, err)
		assertSliceNear(t, want, u, 1e-10, "fourier")
	}
	{ // Constraint index must match the operator
		b := mustBasis(t, types.Fourier, 8, types.BCPure)
		op := &TensorOperator{Shape: []int{b.M}, Terms: []Term{{Coef: 1, Mats: []*assembly.SparseMatrix{
			mustAssemble(t, assembly.Operator{Kind: assembly.SecondDerivative}, b, b)}}}}
		_, err := NewTensorSolver(op, WithConstraint([]int{0, 0}, 0))
		assert.True(t, errors.Is(err, types.ErrDimensionMismatch))
	}
}

func poisson2D(t *testing.T, bx, by *basis.Basis) *TensorOperator {
	var (
		d2 = assembly.Operator{Kind: assembly.SecondDerivative}
		id = assembly.Operator{Kind: assembly.Identity}
	)
	return &TensorOperator{Shape: []int{bx.M, by.M}, Terms: []Term{
		{Coef: 1, Mats: []*assembly.SparseMatrix{mustAssemble(t, d2, bx, bx), mustAssemble(t, id, by, by)}},
		{Coef: 1, Mats: []*assembly.SparseMatrix{mustAssemble(t, id, bx, bx), mustAssemble(t, d2, by, by)}},
	}}
}

func TestTensorSolve2D(t *testing.T) {
	var (
		bx = mustBasis(t, types.Legendre, 20, types.BCDirichlet)
		by = mustBasis(t, types.Chebyshev, 21, types.BCDirichlet, basis.Domain(0, 2))
		op = poisson2D(t, bx, by)
	)
	s, err := NewTensorSolver(op)
	require.NoError(t, err)
	assert.Equal(t, "pencil,solve", s.describe())
	w, err := parallel.NewWorld(1)
	require.NoError(t, err)
	err = w.Run(func(c *parallel.Comm) error {
		fx, err := space.NewFunctionSpace(bx)
		if err != nil {
			return err
		}
		fy, err := space.NewFunctionSpace(by)
		if err != nil {
			return err
		}
		T, err := space.NewTensorProductSpace(c, []*space.FunctionSpace{fx, fy})
		if err != nil {
			return err
		}
		var (
			exact = T.NewArray(false)
			f     = T.NewArray(false)
			k     = math.Pi / 2
		)
		T.Fill(exact, func(x []float64) float64 { return math.Sin(math.Pi*x[0]) * math.Sin(k*x[1]) })
		T.Fill(f, func(x []float64) float64 {
			return -(math.Pi*math.Pi + k*k) * math.Sin(math.Pi*x[0]) * math.Sin(k*x[1])
		})
		rhs, err := T.ScalarProduct(f)
		if err != nil {
			return err
		}
		want, err := T.Forward(exact)
		if err != nil {
			return err
		}
		u, rep, err := s.Solve(rhs)
		if err != nil {
			return err
		}
		assert.True(t, u.Pencil.Equal(rhs.Pencil))
		assert.False(t, rep.IllConditioned)
		assertSliceNear(t, want.Data, u.Data, 1e-9, "2d poisson")

		// residual through the CSR kernels
		r, err := op.Apply(u.Data)
		if err != nil {
			return err
		}
		assertSliceNear(t, rhs.Data, r, 1e-9, "residual")
		return nil
	})
	require.NoError(t, err)
}

func helmholtz3D(t *testing.T, shift float64, bs ...*basis.Basis) *TensorOperator {
	var (
		d2 = assembly.Operator{Kind: assembly.SecondDerivative}
		id = assembly.Operator{Kind: assembly.Identity}
		op = &TensorOperator{}
	)
	mass := make([]*assembly.SparseMatrix, len(bs))
	for a, b := range bs {
		op.Shape = append(op.Shape, b.M)
		mass[a] = mustAssemble(t, id, b, b)
	}
	for a, b := range bs {
		mats := append([]*assembly.SparseMatrix(nil), mass...)
		mats[a] = mustAssemble(t, d2, b, b)
		op.Terms = append(op.Terms, Term{Coef: 1, Mats: mats})
	}
	op.Terms = append(op.Terms, Term{Coef: -shift, Mats: mass})
	return op
}

func TestDistributedHelmholtz(t *testing.T) {
	var (
		bx = mustBasis(t, types.Legendre, 10, types.BCDirichlet)
		by = mustBasis(t, types.Legendre, 11, types.BCDirichlet, basis.Domain(0, 3))
		bz = mustBasis(t, types.Chebyshev, 12, types.BCDirichlet)
		op = helmholtz3D(t, 2.5, bx, by, bz)
	)
	s, err := NewTensorSolver(op)
	require.NoError(t, err)
	assert.Equal(t, "pencil,pencil,solve", s.describe())
	f := make([]float64, bx.M*by.M*bz.M)
	for i := range f {
		f[i] = math.Cos(0.37*float64(i)) / float64(1+i%7)
	}
	serial, _, err := s.SolveGlobal(f)
	require.NoError(t, err)

	r, err := op.Apply(serial)
	require.NoError(t, err)
	assertSliceNear(t, f, r, 1e-10, "residual")

	w, err := parallel.NewWorld(4)
	require.NoError(t, err)
	var (
		mu     sync.Mutex
		gather = map[int][]float64{}
	)
	err = w.Run(func(c *parallel.Comm) error {
		grid, err := parallel.NewProcessGrid(c, parallel.BalancedDims(c.Size(), 2))
		if err != nil {
			return err
		}
		p, err := parallel.NewPencil(grid, op.Shape, 0)
		if err != nil {
			return err
		}
		a, err := parallel.FromGlobal(p, f)
		if err != nil {
			return err
		}
		u, _, err := s.Solve(a)
		if err != nil {
			return err
		}
		if !u.Pencil.Equal(p) {
			return errors.New("layout changed")
		}
		g, err := u.Gather()
		if err != nil {
			return err
		}
		mu.Lock()
		gather[c.Rank()] = g
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.Len(t, gather, 4)
	for r := range gather {
		assertSliceNear(t, serial, gather[r], 1e-12, "rank")
	}
}

func TestTensorSolverConfiguration(t *testing.T) {
	var (
		b  = mustBasis(t, types.Legendre, 10, types.BCDirichlet)
		d2 = mustAssemble(t, assembly.Operator{Kind: assembly.SecondDerivative}, b, b)
		m  = mustAssemble(t, assembly.Operator{Kind: assembly.Identity}, b, b)
		m3 = mustAssemble(t, assembly.Operator{Kind: assembly.Identity}, b, b).Scale(3)
	)
	{ // two axes with three matrices each cannot both be solved
		op := &TensorOperator{Shape: []int{b.M, b.M}, Terms: []Term{
			{Coef: 1, Mats: []*assembly.SparseMatrix{d2, m}},
			{Coef: 1, Mats: []*assembly.SparseMatrix{m, d2}},
			{Coef: 1, Mats: []*assembly.SparseMatrix{m3, m3}},
		}}
		_, err := NewTensorSolver(op)
		assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))
	}
	{ // one wide axis is the solve axis
		op := &TensorOperator{Shape: []int{b.M, b.M}, Terms: []Term{
			{Coef: 1, Mats: []*assembly.SparseMatrix{m, d2}},
			{Coef: 1, Mats: []*assembly.SparseMatrix{d2, m}},
			{Coef: 1, Mats: []*assembly.SparseMatrix{m, m3}},
		}}
		s, err := NewTensorSolver(op)
		require.NoError(t, err)
		assert.Equal(t, "pencil,solve", s.describe())
		op.Terms[2].Mats = []*assembly.SparseMatrix{m3, m}
		s, err = NewTensorSolver(op)
		require.NoError(t, err)
		assert.Equal(t, "solve,pencil", s.describe())
	}
	{ // a shared matrix is factored once
		op := &TensorOperator{Shape: []int{b.M, b.M}, Terms: []Term{{Coef: 2, Mats: []*assembly.SparseMatrix{m, m}}}}
		s, err := NewTensorSolver(op)
		require.NoError(t, err)
		assert.Equal(t, "single,solve", s.describe())
		f := make([]float64, b.M*b.M)
		for i := range f {
			f[i] = float64(i % 3)
		}
		u, _, err := s.SolveGlobal(f)
		require.NoError(t, err)
		r, err := op.Apply(u)
		require.NoError(t, err)
		assertSliceNear(t, f, r, 1e-10, "single")
	}
	{
		op := &TensorOperator{Shape: []int{b.M, b.M}, Terms: []Term{{Coef: 1, Mats: []*assembly.SparseMatrix{m}}}}
		_, err := NewTensorSolver(op)
		assert.True(t, errors.Is(err, types.ErrDimensionMismatch))
		op = &TensorOperator{Shape: []int{b.M + 1}, Terms: []Term{{Coef: 1, Mats: []*assembly.SparseMatrix{m}}}}
		_, err = NewTensorSolver(op)
		assert.True(t, errors.Is(err, types.ErrDimensionMismatch))
	}
}

func stokes(t *testing.T, nx, ny, px, py int) *SaddlePoint {
	var (
		ux  = mustBasis(t, types.Legendre, nx, types.BCDirichlet)
		uy  = mustBasis(t, types.Legendre, ny, types.BCDirichlet)
		qx  = mustBasis(t, types.Legendre, nx, types.BCPure, basis.Modes(px))
		qy  = mustBasis(t, types.Legendre, ny, types.BCPure, basis.Modes(py))
		d1  = assembly.Operator{Kind: assembly.FirstDerivative}
		d2  = assembly.Operator{Kind: assembly.SecondDerivative}
		id  = assembly.Operator{Kind: assembly.Identity}
		vel = &TensorOperator{Shape: []int{ux.M, uy.M}, Terms: []Term{
			{Coef: -1, Mats: []*assembly.SparseMatrix{mustAssemble(t, d2, ux, ux), mustAssemble(t, id, uy, uy)}},
			{Coef: -1, Mats: []*assembly.SparseMatrix{mustAssemble(t, id, ux, ux), mustAssemble(t, d2, uy, uy)}},
		}}
		pShape = []int{qx.M, qy.M}
	)
	return &SaddlePoint{
		Velocity: vel,
		Gradient: []*TensorOperator{
			{Shape: pShape, Terms: []Term{{Coef: 1, Mats: []*assembly.SparseMatrix{mustAssemble(t, d1, ux, qx), mustAssemble(t, id, uy, qy)}}}},
			{Shape: pShape, Terms: []Term{{Coef: 1, Mats: []*assembly.SparseMatrix{mustAssemble(t, id, ux, qx), mustAssemble(t, d1, uy, qy)}}}},
		},
		Divergence: []*TensorOperator{
			{Shape: vel.Shape, Terms: []Term{{Coef: 1, Mats: []*assembly.SparseMatrix{mustAssemble(t, d1, qx, ux), mustAssemble(t, id, qy, uy)}}}},
			{Shape: vel.Shape, Terms: []Term{{Coef: 1, Mats: []*assembly.SparseMatrix{mustAssemble(t, id, qx, ux), mustAssemble(t, d1, qy, uy)}}}},
		},
	}
}

func TestSaddlePoint(t *testing.T) {
	{ // Equal order pressure has spurious modes
		_, err := NewSaddlePointSolver(stokes(t, 24, 25, 24, 25))
		require.Error(t, err)
		var se *types.SingularOperatorError
		require.True(t, errors.As(err, &se))
		assert.Greater(t, se.NullDim, 1)
		assert.Equal(t, 1, se.Expected)
	}
	{ // P_N - P_N-2 leaves only the constant
		sp := stokes(t, 24, 25, 22, 23)
		s, err := NewSaddlePointSolver(sp)
		require.NoError(t, err)
		var (
			nv = 22 * 23
			f  = [][]float64{make([]float64, nv), make([]float64, nv)}
		)
		for i := 0; i < nv; i++ {
			f[0][i] = math.Sin(0.1 * float64(i))
			f[1][i] = math.Cos(0.3*float64(i)) / float64(1+i%5)
		}
		u, p, _, err := s.Solve(f, nil)
		require.NoError(t, err)
		assert.Equal(t, 0., p[0])
		div := make([]float64, len(p))
		for c := range f {
			r, err := sp.Velocity.Apply(u[c])
			require.NoError(t, err)
			g, err := sp.Gradient[c].Apply(p)
			require.NoError(t, err)
			floats.Add(r, g)
			assertSliceNear(t, f[c], r, 1e-8, "momentum")
			d, err := sp.Divergence[c].Apply(u[c])
			require.NoError(t, err)
			floats.Add(div, d)
		}
		assert.Less(t, floats.Norm(div, math.Inf(1)), 1e-8)
	}
	{
		sp := stokes(t, 8, 9, 6, 7)
		sp.Divergence = sp.Divergence[:1]
		_, err := NewSaddlePointSolver(sp)
		assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))
	}
}
