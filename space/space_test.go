package space

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/notargets/gospectral/basis"
	"github.com/notargets/gospectral/parallel"
	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mustSpace(t *testing.T, f types.Family, n int, bc types.BCKind, opts ...basis.Option) *FunctionSpace {
	b, err := basis.New(f, n, bc, opts...)
	require.NoError(t, err)
	fs, err := NewFunctionSpace(b)
	require.NoError(t, err)
	return fs
}

func TestRoundTrip(t *testing.T) {
	type cfg struct {
		f    types.Family
		bc   types.BCKind
		opts []basis.Option
	}
	var cfgs []cfg
	for _, f := range []types.Family{types.Chebyshev, types.Legendre, types.Jacobi} {
		for _, bc := range []types.BCKind{types.BCPure, types.BCDirichlet, types.BCNeumann,
			types.BCBiharmonic, types.BCDirichletNeumann, types.BCNeumannDirichlet} {
			var opts []basis.Option
			if f == types.Jacobi {
				opts = append(opts, basis.Jacobi(0.5, 0.5))
			}
			cfgs = append(cfgs, cfg{f, bc, opts})
			cfgs = append(cfgs, cfg{f, bc, append(opts, basis.Quadrature(types.GaussLobattoQuad), basis.Domain(0, 2))})
		}
	}
	cfgs = append(cfgs,
		cfg{types.Fourier, types.BCPure, nil},
		cfg{types.Fourier, types.BCPure, []basis.Option{basis.Domain(-1, 1)}},
		cfg{types.Hermite, types.BCPure, nil},
		cfg{types.Laguerre, types.BCPure, nil},
		cfg{types.Laguerre, types.BCDirichlet, nil},
		cfg{types.Legendre, types.BCPure, []basis.Option{basis.Modes(10)}},
		cfg{types.Chebyshev, types.BCDirichlet, []basis.Option{basis.BCValues(1, 3)}},
	)
	for _, n := range []int{12, 13} {
		for _, c := range cfgs {
			fs := mustSpace(t, c.f, n, c.bc, c.opts...)
			coef := make([]float64, fs.M())
			for k := range coef {
				coef[k] = math.Sin(float64(k+1)) / float64(k+1)
			}
			u, err := fs.Backward(coef)
			require.NoError(t, err)
			got, err := fs.Forward(u)
			require.NoError(t, err)
			tol := float64(n) * 1000 * utils.EPS
			for k := range coef {
				assert.InDeltaf(t, coef[k], got[k], tol, "%s k=%d", fs.Basis.Key(), k)
			}
		}
	}
}

func TestDirichletEndpoints(t *testing.T) {
	for _, f := range []types.Family{types.Chebyshev, types.Legendre, types.Jacobi} {
		var opts []basis.Option
		if f == types.Jacobi {
			opts = append(opts, basis.Jacobi(1, 0))
		}
		{
			fs := mustSpace(t, f, 16, types.BCDirichlet, append(opts, basis.Domain(-2, 3))...)
			c := utils.ConstArray(fs.M(), 0.3)
			u, err := fs.Eval(c, []float64{-2, 3})
			require.NoError(t, err)
			assert.InDelta(t, 0, u[0], 1e-12)
			assert.InDelta(t, 0, u[1], 1e-12)
		}
		{
			fs := mustSpace(t, f, 16, types.BCDirichlet, append(opts, basis.BCValues(-1, 2))...)
			c := utils.ConstArray(fs.M(), 0.3)
			u, err := fs.Eval(c, []float64{-1, 1})
			require.NoError(t, err)
			assert.InDelta(t, -1, u[0], 1e-12)
			assert.InDelta(t, 2, u[1], 1e-12)
		}
	}
}

func TestProjectionOfSmoothFunction(t *testing.T) {
	fs := mustSpace(t, types.Chebyshev, 32, types.BCDirichlet)
	x := fs.Mesh()
	u := make([]float64, len(x))
	for i := range x {
		u[i] = math.Sin(math.Pi * x[i])
	}
	c, err := fs.Forward(u)
	require.NoError(t, err)
	xs := []float64{-0.9, -0.3, 0.1, 0.77}
	v, err := fs.Eval(c, xs)
	require.NoError(t, err)
	for i := range xs {
		assert.InDelta(t, math.Sin(math.Pi*xs[i]), v[i], 1e-13)
	}
	dc, target, err := fs.Derivative(c, 2)
	require.NoError(t, err)
	d2 := target.EvalParent(dc, xs)
	for i := range xs {
		assert.InDelta(t, -math.Pi*math.Pi*math.Sin(math.Pi*xs[i]), d2[i], 1e-10)
	}
}

func TestFourier(t *testing.T) {
	for _, n := range []int{16, 15} {
		fs := mustSpace(t, types.Fourier, n, types.BCPure, basis.Domain(0, math.Pi))
		x := fs.Mesh()
		u := make([]float64, n)
		for i := range x {
			// period pi: wavenumber 1 is cos(2x)
			u[i] = 0.5 + math.Cos(2*x[i]) - 3*math.Sin(6*x[i])
		}
		c, err := fs.Forward(u)
		require.NoError(t, err)
		want := make([]float64, n)
		want[0], want[1], want[6] = 0.5, 1, -3
		assert.InDeltaSlice(t, want, c, 1e-13)
		// FFT path agrees with the projection matrix
		alt := make([]float64, n)
		for k := range alt {
			for i := range u {
				alt[k] += fs.F.At(k, i) * u[i]
			}
		}
		assert.InDeltaSlice(t, c, alt, 1e-13)
		dc, target, err := fs.Derivative(c, 1)
		require.NoError(t, err)
		xs := []float64{0.1, 1.3}
		d := target.EvalParent(dc, xs)
		for i, xi := range xs {
			assert.InDelta(t, -2*math.Sin(2*xi)-18*math.Cos(6*xi), d[i], 1e-12)
		}
	}
	{ // the Nyquist mode round trips
		fs := mustSpace(t, types.Fourier, 8, types.BCPure)
		c := make([]float64, 8)
		c[7] = 1
		u, err := fs.Backward(c)
		require.NoError(t, err)
		assert.InDelta(t, 1, u[0], 1e-15)
		assert.InDelta(t, -1, u[1], 1e-15)
		back, err := fs.Forward(u)
		require.NoError(t, err)
		assert.InDeltaSlice(t, c, back, 1e-15)
	}
}

func TestDimensionMismatch(t *testing.T) {
	fs := mustSpace(t, types.Legendre, 8, types.BCDirichlet)
	_, err := fs.Forward(make([]float64, 7))
	assert.True(t, errors.Is(err, types.ErrDimensionMismatch))
	_, err = fs.Backward(make([]float64, 8))
	assert.True(t, errors.Is(err, types.ErrDimensionMismatch))
}

// tensorRoundTrip runs Backward then Forward on a distributed array and
// returns the gathered coefficients and physical values.
func tensorRoundTrip(t *testing.T, ranks int, slab bool, mk func() []*FunctionSpace) (coef, phys []float64) {
	w, err := parallel.NewWorld(ranks)
	require.NoError(t, err)
	var (
		mu     sync.Mutex
		spaces = mk()
	)
	err = w.Run(func(c *parallel.Comm) error {
		var opts []TensorOption
		if slab {
			opts = append(opts, Slab())
		}
		T, err := NewTensorProductSpace(c, spaces, opts...)
		if err != nil {
			return err
		}
		global := make([]float64, utils.Prod(T.GlobalShape(true)))
		for i := range global {
			global[i] = 1 / float64(i+1)
		}
		a, err := parallel.FromGlobal(T.Pencil(true), global)
		if err != nil {
			return err
		}
		u, err := T.Backward(a)
		if err != nil {
			return err
		}
		if !u.Pencil.Equal(T.Pencil(false)) {
			return fmt.Errorf("backward ended in %s", u.Pencil)
		}
		back, err := T.Forward(u)
		if err != nil {
			return err
		}
		gc, err := back.Gather()
		if err != nil {
			return err
		}
		gp, err := u.Gather()
		if err != nil {
			return err
		}
		q, err := T.PencilAligned(0, false)
		if err != nil {
			return err
		}
		moved, err := parallel.Redistribute(u, q)
		if err != nil {
			return err
		}
		gm, err := moved.Gather()
		if err != nil {
			return err
		}
		for i := range gm {
			if gm[i] != gp[i] || !q.Aligned(0) {
				return fmt.Errorf("aligned copy differs at %d", i)
			}
		}
		for i := range gc {
			if math.Abs(gc[i]-global[i]) > 1e-12 {
				return fmt.Errorf("coefficient %d: %v vs %v", i, gc[i], global[i])
			}
		}
		if c.Rank() == 0 {
			mu.Lock()
			coef, phys = gc, gp
			mu.Unlock()
		}
		return nil
	})
	require.NoError(t, err)
	return
}

func TestTensorProductSpace(t *testing.T) {
	mk := func() []*FunctionSpace {
		return []*FunctionSpace{
			mustSpace(t, types.Chebyshev, 9, types.BCDirichlet),
			mustSpace(t, types.Legendre, 10, types.BCNeumann, basis.Domain(0, 2)),
			mustSpace(t, types.Fourier, 11, types.BCPure),
		}
	}
	_, p1 := tensorRoundTrip(t, 1, false, mk)
	_, p4 := tensorRoundTrip(t, 4, false, mk)
	_, p3 := tensorRoundTrip(t, 3, true, mk)
	require.Equal(t, len(p1), len(p4))
	for i := range p1 {
		assert.InDelta(t, p1[i], p4[i], 1e-14)
		assert.InDelta(t, p1[i], p3[i], 1e-14)
	}
	{ // 2D with more ranks than some extents
		mk2 := func() []*FunctionSpace {
			return []*FunctionSpace{
				mustSpace(t, types.Legendre, 6, types.BCDirichlet),
				mustSpace(t, types.Chebyshev, 5, types.BCPure),
			}
		}
		tensorRoundTrip(t, 5, false, mk2)
	}
}

func TestTensorProductSpaceConfiguration(t *testing.T) {
	var (
		w, _   = parallel.NewWorld(2)
		pure   = mustSpace(t, types.Chebyshev, 8, types.BCPure)
		lifted = mustSpace(t, types.Chebyshev, 8, types.BCDirichlet, basis.BCValues(1, 0))
		dir    = mustSpace(t, types.Chebyshev, 8, types.BCDirichlet)
	)
	err := w.Run(func(c *parallel.Comm) error {
		_, err := NewTensorProductSpace(c, []*FunctionSpace{pure})
		if !errors.Is(err, types.ErrInvalidConfiguration) {
			return fmt.Errorf("1-d space over 2 ranks: %v", err)
		}
		_, err = NewTensorProductSpace(c, []*FunctionSpace{lifted, dir})
		if !errors.Is(err, types.ErrInvalidConfiguration) {
			return fmt.Errorf("inhomogeneous 2-d space: %v", err)
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestPaddedSpace(t *testing.T) {
	for _, fs := range []*FunctionSpace{
		mustSpace(t, types.Fourier, 9, types.BCPure, basis.Domain(0, 3)),
		mustSpace(t, types.Fourier, 8, types.BCPure),
		mustSpace(t, types.Legendre, 10, types.BCDirichlet),
		mustSpace(t, types.Chebyshev, 11, types.BCNeumann, basis.Domain(-1, 2)),
	} {
		c := make([]float64, fs.M())
		for i := range c {
			c[i] = 1 / float64(i+2)
		}
		if fs.Basis.Family == types.Fourier && fs.N()%2 == 0 {
			c[fs.M()-1] = 0 // no Nyquist mode in the factors
		}
		square := func(ps *PaddedSpace) (c2 []float64) {
			u := make([]float64, ps.N())
			require.NoError(t, ps.BackwardTo(u, c))
			for i := range u {
				u[i] *= u[i]
			}
			c2 = make([]float64, ps.M())
			require.NoError(t, ps.ForwardTo(c2, u))
			return
		}
		p15, err := NewPaddedSpace(fs, 1.5)
		require.NoError(t, err)
		p4, err := NewPaddedSpace(fs, 4)
		require.NoError(t, err)
		p1, err := NewPaddedSpace(fs, 1)
		require.NoError(t, err)
		assert.Equal(t, PaddedPoints(fs.N(), 1.5), p15.N())
		{ // padding round trips
			u := make([]float64, p15.N())
			back := make([]float64, p15.M())
			require.NoError(t, p15.BackwardTo(u, c))
			require.NoError(t, p15.ForwardTo(back, u))
			assert.InDeltaSlice(t, c, back, 1e-12, fs.Basis.Key())
		}
		{ // the 3/2 rule removes the aliasing of a quadratic product
			exact, dealiased, aliased := square(p4), square(p15), square(p1)
			assert.InDeltaSlice(t, exact, dealiased, 1e-12, fs.Basis.Key())
			var worst float64
			for i := range exact {
				worst = math.Max(worst, math.Abs(exact[i]-aliased[i]))
			}
			assert.Greater(t, worst, 1e-6, fs.Basis.Key())
		}
	}
	{
		_, err := NewPaddedSpace(mustSpace(t, types.Legendre, 6, types.BCPure), 0.5)
		assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))
		u := make([]float64, 6)
		ps, err := NewPaddedSpace(mustSpace(t, types.Legendre, 6, types.BCPure), 1.5)
		require.NoError(t, err)
		assert.True(t, errors.Is(ps.BackwardTo(u, make([]float64, 6)), types.ErrDimensionMismatch))
		assert.True(t, errors.Is(ps.ForwardTo(make([]float64, 6), u), types.ErrDimensionMismatch))
	}
}

// dealiasedSquare returns the gathered coefficients of u^2 formed on the
// padded grid, with u the tensor expansion of fixed coefficients.
func dealiasedSquare(t *testing.T, ranks int, factor float64, mk func() []*FunctionSpace) (c2 []float64) {
	w, err := parallel.NewWorld(ranks)
	require.NoError(t, err)
	var (
		mu     sync.Mutex
		spaces = mk()
	)
	err = w.Run(func(c *parallel.Comm) error {
		T, err := NewTensorProductSpace(c, spaces, Padding(factor))
		if err != nil {
			return err
		}
		global := make([]float64, utils.Prod(T.GlobalShape(true)))
		for i := range global {
			global[i] = 1 / float64(i+2)
		}
		a, err := parallel.FromGlobal(T.Pencil(true), global)
		if err != nil {
			return err
		}
		u, err := T.BackwardPadded(a)
		if err != nil {
			return err
		}
		if !u.Pencil.Equal(T.PaddedPencil()) {
			return fmt.Errorf("padded backward ended in %s", u.Pencil)
		}
		{ // the padded mesh matches the layout, and sampling the expansion on it agrees
			mesh, err := T.LocalPaddedMesh()
			if err != nil {
				return err
			}
			shape := u.LocalShape()
			for axis := range mesh {
				if len(mesh[axis]) != shape[axis] {
					return fmt.Errorf("axis %d: %d padded points for %d samples", axis, len(mesh[axis]), shape[axis])
				}
			}
			v := T.NewPaddedArray()
			if err = T.FillPadded(v, func(x []float64) float64 { return x[0] + x[1] }); err != nil {
				return err
			}
			if len(v.Data) > 0 && v.Data[0] != mesh[0][0]+mesh[1][0] {
				return fmt.Errorf("padded fill starts at %g, want %g", v.Data[0], mesh[0][0]+mesh[1][0])
			}
			if err = T.FillPadded(T.NewArray(false), func([]float64) float64 { return 0 }); factor > 1 && !errors.Is(err, types.ErrDimensionMismatch) {
				return fmt.Errorf("padded fill of a regular array: %v", err)
			}
		}
		for i := range u.Data {
			u.Data[i] *= u.Data[i]
		}
		sq, err := T.ForwardPadded(u)
		if err != nil {
			return err
		}
		g, err := sq.Gather()
		if err != nil {
			return err
		}
		if c.Rank() == 0 {
			mu.Lock()
			c2 = g
			mu.Unlock()
		}
		if factor > 1 {
			if _, err = T.ForwardPadded(T.NewArray(false)); !errors.Is(err, types.ErrDimensionMismatch) {
				return fmt.Errorf("forward padded of a regular array: %v", err)
			}
		}
		return nil
	})
	require.NoError(t, err)
	return
}

func TestTensorPadding(t *testing.T) {
	mk := func() []*FunctionSpace {
		return []*FunctionSpace{
			mustSpace(t, types.Legendre, 8, types.BCDirichlet),
			mustSpace(t, types.Fourier, 9, types.BCPure),
			mustSpace(t, types.Chebyshev, 7, types.BCPure, basis.Domain(0, 2)),
		}
	}
	var (
		exact     = dealiasedSquare(t, 1, 3, mk)
		dealiased = dealiasedSquare(t, 1, 1.5, mk)
		parallel4 = dealiasedSquare(t, 4, 1.5, mk)
		aliased   = dealiasedSquare(t, 2, 1, mk)
	)
	assert.InDeltaSlice(t, exact, dealiased, 1e-12)
	assert.InDeltaSlice(t, dealiased, parallel4, 1e-13)
	var worst float64
	for i := range exact {
		worst = math.Max(worst, math.Abs(exact[i]-aliased[i]))
	}
	assert.Greater(t, worst, 1e-6)
}

func TestLocalWavenumbers(t *testing.T) {
	var (
		mu    sync.Mutex
		seen  = map[float64]int{}
		modes = map[float64]int{}
	)
	w, err := parallel.NewWorld(4)
	require.NoError(t, err)
	err = w.Run(func(c *parallel.Comm) error {
		T, err := NewTensorProductSpace(c, []*FunctionSpace{
			mustSpace(t, types.Chebyshev, 6, types.BCDirichlet),
			mustSpace(t, types.Legendre, 5, types.BCPure),
			mustSpace(t, types.Fourier, 10, types.BCPure, basis.Domain(0, math.Pi)),
		})
		if err != nil {
			return err
		}
		var (
			k             = T.LocalWavenumbers()
			shape, offset = T.Pencil(true).Local()
		)
		for axis := range k {
			if len(k[axis]) != shape[axis] {
				return fmt.Errorf("axis %d: %d wavenumbers for %d modes", axis, len(k[axis]), shape[axis])
			}
		}
		for i, ki := range k[0] {
			if ki != float64(i) {
				return fmt.Errorf("complete axis 0 slot %d has %g", i, ki)
			}
		}
		mu.Lock()
		defer mu.Unlock()
		// count each slot once per owning block of the other distributed axis
		if offset[1] == 0 {
			for i, ki := range k[2] {
				wn, _ := basis.FourierWavenumber(offset[2] + i)
				if ki != 2*float64(wn) {
					return fmt.Errorf("fourier slot %d has %g, want %d", offset[2]+i, ki, 2*wn)
				}
				seen[ki]++
			}
		}
		if offset[2] == 0 {
			for _, ki := range k[1] {
				modes[ki]++
			}
		}
		return nil
	})
	require.NoError(t, err)
	// the period pi doubles every integer wavenumber; cos and sin share one
	assert.Equal(t, map[float64]int{0: 1, 2: 2, 4: 2, 6: 2, 8: 2, 10: 1}, seen)
	assert.Equal(t, map[float64]int{0: 1, 1: 1, 2: 1, 3: 1, 4: 1}, modes)
}
