package space

import (
	"fmt"
	"sync"

	"github.com/notargets/gospectral/basis"
	"github.com/notargets/gospectral/parallel"
	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

// TensorProductSpace composes one FunctionSpace per axis over a process
// grid. The physical layout has the last axis complete; Forward transforms
// axes d-1 down to 0, transposing before each distributed axis, and leaves
// the coefficients with axis 0 complete (the spectral layout). Backward
// reverses the sequence. The padded transforms run the same sequence
// between the spectral layout and a finer physical grid.
type TensorProductSpace struct {
	Spaces   []*FunctionSpace
	grid     *parallel.ProcessGrid
	physical *parallel.Pencil
	padded   *parallel.Pencil
	spectral *parallel.Pencil
	factor   float64
	padOnce  sync.Once
	padSpace []*PaddedSpace
	padErr   error
}

type TensorOption func(o *tensorOptions)

type tensorOptions struct {
	slab    bool
	padding float64
}

// Slab distributes a single axis over all ranks instead of the default
// d-1 dimensional pencil grid.
func Slab() TensorOption {
	return func(o *tensorOptions) { o.slab = true }
}

// Padding sets the grid refinement of ForwardPadded and BackwardPadded. The
// default 1.5 is the 3/2 rule for quadratic products.
func Padding(factor float64) TensorOption {
	return func(o *tensorOptions) { o.padding = factor }
}

func NewTensorProductSpace(c *parallel.Comm, spaces []*FunctionSpace, opts ...TensorOption) (T *TensorProductSpace, err error) {
	var (
		o = tensorOptions{padding: 1.5}
		d = len(spaces)
	)
	for _, opt := range opts {
		opt(&o)
	}
	if d == 0 {
		return nil, types.InvalidConfigurationf("tensor product space without axes")
	}
	if d == 1 && c.Size() > 1 {
		return nil, types.InvalidConfigurationf("a 1-d space cannot be distributed over %d ranks", c.Size())
	}
	for axis, fs := range spaces {
		if d > 1 && fs.Basis.Lift() != nil {
			return nil, types.InvalidConfigurationf("axis %d: inhomogeneous boundary values are only supported in 1-d", axis)
		}
	}
	ndims := d - 1
	if o.slab && d > 1 {
		ndims = 1
	}
	if o.padding < 1 {
		return nil, types.InvalidConfigurationf("padding factor %g is below one", o.padding)
	}
	T = &TensorProductSpace{Spaces: spaces, factor: o.padding}
	padShape := make([]int, d)
	for axis, fs := range spaces {
		padShape[axis] = PaddedPoints(fs.N(), o.padding)
	}
	if T.grid, err = parallel.NewProcessGrid(c, parallel.BalancedDims(c.Size(), ndims)); err != nil {
		return nil, err
	}
	if T.physical, err = parallel.NewPencil(T.grid, T.GlobalShape(false), d-1); err != nil {
		return nil, err
	}
	if T.padded, err = parallel.NewPencil(T.grid, padShape, d-1); err != nil {
		return nil, err
	}
	// walk the forward sequence without data to find the spectral layout
	p := T.physical
	for axis := d - 1; axis >= 0; axis-- {
		if p, err = p.Transpose(axis, axis+1); err != nil {
			return nil, err
		}
		p = p.Reshape(axis, spaces[axis].M())
	}
	T.spectral = p
	return
}

func (T *TensorProductSpace) Dims() int { return len(T.Spaces) }

func (T *TensorProductSpace) Grid() *parallel.ProcessGrid { return T.grid }

func (T *TensorProductSpace) Comm() *parallel.Comm { return T.grid.Comm() }

// GlobalShape is N per axis, or M per axis for the spectral layout.
func (T *TensorProductSpace) GlobalShape(spectral bool) (shape []int) {
	shape = make([]int, len(T.Spaces))
	for i, fs := range T.Spaces {
		shape[i] = fs.N()
		if spectral {
			shape[i] = fs.M()
		}
	}
	return
}

func (T *TensorProductSpace) Pencil(spectral bool) *parallel.Pencil {
	if spectral {
		return T.spectral
	}
	return T.physical
}

// PencilAligned is the layout of the physical or spectral array with axis
// complete, one transpose away from Pencil(spectral).
func (T *TensorProductSpace) PencilAligned(axis int, spectral bool) (*parallel.Pencil, error) {
	p := T.Pencil(spectral)
	if axis < 0 || axis >= T.Dims() {
		return nil, types.InvalidConfigurationf("axis %d of a %d-d space", axis, T.Dims())
	}
	for receiver := range p.Global {
		if p.Aligned(receiver) {
			return p.Transpose(axis, receiver)
		}
	}
	return nil, types.InvalidConfigurationf("%s has no complete axis", p)
}

func (T *TensorProductSpace) LocalShape(spectral bool) []int {
	shape, _ := T.Pencil(spectral).Local()
	return shape
}

func (T *TensorProductSpace) NewArray(spectral bool) *parallel.Array {
	return parallel.NewArray(T.Pencil(spectral))
}

// PaddedSpaces returns the per axis padded transforms, built on first use.
func (T *TensorProductSpace) PaddedSpaces() ([]*PaddedSpace, error) {
	T.padOnce.Do(func() {
		T.padSpace = make([]*PaddedSpace, len(T.Spaces))
		for axis, fs := range T.Spaces {
			if T.padSpace[axis], T.padErr = NewPaddedSpace(fs, T.factor); T.padErr != nil {
				T.padErr = fmt.Errorf("axis %d: %w", axis, T.padErr)
				return
			}
		}
	})
	return T.padSpace, T.padErr
}

// PaddedPencil is the layout of the padded physical grid.
func (T *TensorProductSpace) PaddedPencil() *parallel.Pencil { return T.padded }

func (T *TensorProductSpace) NewPaddedArray() *parallel.Array {
	return parallel.NewArray(T.padded)
}

// LocalMesh returns, per axis, the physical points of the caller's block.
func (T *TensorProductSpace) LocalMesh() (mesh [][]float64) {
	axes := make([][]float64, len(T.Spaces))
	for axis, fs := range T.Spaces {
		axes[axis] = fs.Mesh()
	}
	return localMesh(T.physical, axes)
}

// LocalPaddedMesh is LocalMesh on the padded grid.
func (T *TensorProductSpace) LocalPaddedMesh() (mesh [][]float64, err error) {
	var pads []*PaddedSpace
	if pads, err = T.PaddedSpaces(); err != nil {
		return
	}
	axes := make([][]float64, len(pads))
	for axis, ps := range pads {
		axes[axis] = ps.Mesh()
	}
	return localMesh(T.padded, axes), nil
}

func localMesh(p *parallel.Pencil, axes [][]float64) (mesh [][]float64) {
	shape, offset := p.Local()
	mesh = make([][]float64, len(axes))
	for axis, x := range axes {
		mesh[axis] = x[offset[axis] : offset[axis]+shape[axis]]
	}
	return
}

// LocalWavenumbers returns, per axis, the physical wavenumber of each
// coefficient in the caller's spectral block: k times 2pi/L for Fourier
// axes, the mode index elsewhere.
func (T *TensorProductSpace) LocalWavenumbers() (k [][]float64) {
	shape, _ := T.spectral.Local()
	k = make([][]float64, len(T.Spaces))
	for axis, fs := range T.Spaces {
		k[axis] = make([]float64, shape[axis])
		for i := range k[axis] {
			m := T.spectral.GlobalIndex(axis, i)
			if fs.Basis.Family != types.Fourier {
				k[axis][i] = float64(m)
				continue
			}
			wn, _ := basis.FourierWavenumber(m)
			k[axis][i] = float64(wn) * fs.Basis.Scale()
		}
	}
	return
}

// Fill sets a physical array from a function of the physical coordinates.
func (T *TensorProductSpace) Fill(a *parallel.Array, f func(x []float64) float64) {
	fill(a, T.LocalMesh(), f)
}

// FillPadded is Fill on the padded grid.
func (T *TensorProductSpace) FillPadded(a *parallel.Array, f func(x []float64) float64) error {
	if !a.Pencil.Equal(T.padded) {
		return types.DimensionMismatchf("padded fill of %s, want %s", a.Pencil, T.padded)
	}
	mesh, err := T.LocalPaddedMesh()
	if err != nil {
		return err
	}
	fill(a, mesh, f)
	return nil
}

func fill(a *parallel.Array, mesh [][]float64, f func(x []float64) float64) {
	var (
		shape = a.LocalShape()
		idx   = make([]int, len(shape))
		x     = make([]float64, len(shape))
	)
	for n := range a.Data {
		for axis := range x {
			x[axis] = mesh[axis][idx[axis]]
		}
		a.Data[n] = f(x)
		for axis := len(idx) - 1; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < shape[axis] {
				break
			}
			idx[axis] = 0
		}
	}
}

func (T *TensorProductSpace) Forward(u *parallel.Array) (*parallel.Array, error) {
	return T.forwardWith(u, T.physical, func(axis int) func(dst, src []float64) error { return T.Spaces[axis].ForwardTo })
}

// ScalarProduct applies the quadrature scalar product on every axis.
func (T *TensorProductSpace) ScalarProduct(u *parallel.Array) (*parallel.Array, error) {
	return T.forwardWith(u, T.physical, func(axis int) func(dst, src []float64) error { return T.Spaces[axis].ScalarProductTo })
}

// ForwardPadded projects samples on the padded grid onto the coefficients,
// dropping the modes the regular space does not carry.
func (T *TensorProductSpace) ForwardPadded(u *parallel.Array) (*parallel.Array, error) {
	pads, err := T.PaddedSpaces()
	if err != nil {
		return nil, err
	}
	return T.forwardWith(u, T.padded, func(axis int) func(dst, src []float64) error { return pads[axis].ForwardTo })
}

func (T *TensorProductSpace) forwardWith(u *parallel.Array, from *parallel.Pencil, op func(axis int) func(dst, src []float64) error) (a *parallel.Array, err error) {
	if !u.Pencil.Equal(from) {
		return nil, types.DimensionMismatchf("forward of %s, want %s", u.Pencil, from)
	}
	a = u
	for axis := T.Dims() - 1; axis >= 0; axis-- {
		if a, err = T.align(a, axis, axis+1); err != nil {
			return
		}
		if a, err = ApplyAxis(a, axis, T.Spaces[axis].M(), op(axis)); err != nil {
			return
		}
	}
	return
}

func (T *TensorProductSpace) Backward(c *parallel.Array) (a *parallel.Array, err error) {
	return T.backwardWith(c, func(axis int) (int, func(dst, src []float64) error) {
		return T.Spaces[axis].N(), T.Spaces[axis].BackwardTo
	})
}

// BackwardPadded evaluates the coefficients on the padded grid.
func (T *TensorProductSpace) BackwardPadded(c *parallel.Array) (a *parallel.Array, err error) {
	var pads []*PaddedSpace
	if pads, err = T.PaddedSpaces(); err != nil {
		return
	}
	return T.backwardWith(c, func(axis int) (int, func(dst, src []float64) error) {
		return pads[axis].N(), pads[axis].BackwardTo
	})
}

func (T *TensorProductSpace) backwardWith(c *parallel.Array, op func(axis int) (int, func(dst, src []float64) error)) (a *parallel.Array, err error) {
	if !c.Pencil.Equal(T.spectral) {
		return nil, types.DimensionMismatchf("backward of %s, want %s", c.Pencil, T.spectral)
	}
	a = c
	for axis := 0; axis < T.Dims(); axis++ {
		if a, err = T.align(a, axis, axis-1); err != nil {
			return
		}
		n, fn := op(axis)
		if a, err = ApplyAxis(a, axis, n, fn); err != nil {
			return
		}
	}
	return
}

// align makes axis complete, handing its grid dimension to receiver.
// Collective when a transpose is needed.
func (T *TensorProductSpace) align(a *parallel.Array, axis, receiver int) (*parallel.Array, error) {
	if a.Pencil.Aligned(axis) {
		return a, nil
	}
	q, err := a.Pencil.Transpose(axis, receiver)
	if err != nil {
		return nil, err
	}
	return parallel.Redistribute(a, q)
}

// ApplyAxis runs fn on every fiber of a along the complete axis, producing
// fibers of length nOut.
func ApplyAxis(a *parallel.Array, axis, nOut int, fn func(dst, src []float64) error) (b *parallel.Array, err error) {
	if !a.Pencil.Aligned(axis) {
		return nil, types.InvalidConfigurationf("axis %d is distributed in %s", axis, a.Pencil)
	}
	var (
		shape = a.LocalShape()
		n     = shape[axis]
		outer = utils.Prod(shape[:axis])
		inner = utils.Prod(shape[axis+1:])
		src   = make([]float64, n)
		dst   = make([]float64, nOut)
	)
	b = parallel.NewArray(a.Pencil.Reshape(axis, nOut))
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			for k := 0; k < n; k++ {
				src[k] = a.Data[(o*n+k)*inner+i]
			}
			if err = fn(dst, src); err != nil {
				return nil, err
			}
			for k := 0; k < nOut; k++ {
				b.Data[(o*nOut+k)*inner+i] = dst[k]
			}
		}
	}
	return
}
