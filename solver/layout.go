package solver

import (
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gospectral/parallel"
	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

// aligner makes axes complete one transpose at a time and remembers the
// swaps so the caller's layout can be restored.
type aligner struct {
	swaps [][2]int // {axis, receiver}
}

// align is collective when a transpose is needed.
func (al *aligner) align(x *parallel.Array, axis int) (*parallel.Array, error) {
	p := x.Pencil
	if p.Aligned(axis) {
		return x, nil
	}
	receiver := -1
	for a := range p.Global {
		if a != axis && p.Aligned(a) {
			receiver = a
			break
		}
	}
	if receiver < 0 {
		return nil, types.InvalidConfigurationf("%s has no complete axis to take axis %d", p, axis)
	}
	q, err := p.Transpose(axis, receiver)
	if err != nil {
		return nil, err
	}
	al.swaps = append(al.swaps, [2]int{axis, receiver})
	return parallel.Redistribute(x, q)
}

// restore undoes the recorded swaps in reverse.
func (al *aligner) restore(x *parallel.Array) (y *parallel.Array, err error) {
	y = x
	for i := len(al.swaps) - 1; i >= 0; i-- {
		sw := al.swaps[i]
		var q *parallel.Pencil
		if q, err = y.Pencil.Transpose(sw[1], sw[0]); err != nil {
			return
		}
		if y, err = parallel.Redistribute(y, q); err != nil {
			return
		}
	}
	al.swaps = nil
	return
}

// matVec adapts a dense matrix to the fiber kernel of space.ApplyAxis.
func matVec(M *mat.Dense) func(dst, src []float64) error {
	r, c := M.Dims()
	return func(dst, src []float64) error {
		if len(dst) != r || len(src) != c {
			return types.DimensionMismatchf("%dx%d matrix on %d -> %d", r, c, len(src), len(dst))
		}
		mat.NewVecDense(r, dst).MulVec(M, mat.NewVecDense(c, src))
		return nil
	}
}

// eachFiber hands fn every local fiber along the complete axis, with its
// global multi-index (the axis entry zero). Changes to the fiber are
// written back.
func eachFiber(x *parallel.Array, axis int, fn func(idx []int, fiber []float64) error) error {
	if !x.Pencil.Aligned(axis) {
		return types.InvalidConfigurationf("axis %d is distributed in %s", axis, x.Pencil)
	}
	var (
		shape, offset = x.Pencil.Local()
		n             = shape[axis]
		outer         = utils.Prod(shape[:axis])
		inner         = utils.Prod(shape[axis+1:])
		idx           = make([]int, len(shape))
		fiber         = make([]float64, n)
	)
	if n == 0 {
		return nil
	}
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*n*inner + i
			unravel(base, shape, offset, idx)
			for k := 0; k < n; k++ {
				fiber[k] = x.Data[base+k*inner]
			}
			if err := fn(idx, fiber); err != nil {
				return err
			}
			for k := 0; k < n; k++ {
				x.Data[base+k*inner] = fiber[k]
			}
		}
	}
	return nil
}

// unravel writes the global multi-index of local row-major position n.
func unravel(n int, shape, offset, idx []int) {
	for a := len(shape) - 1; a >= 0; a-- {
		idx[a] = n%shape[a] + offset[a]
		n /= shape[a]
	}
}

// SerialPencil lays out an array of the given shape entirely on the calling
// rank of a single-rank communicator.
func SerialPencil(c *parallel.Comm, shape []int) (*parallel.Pencil, error) {
	if c.Size() != 1 {
		return nil, types.InvalidConfigurationf("serial layout on %d ranks", c.Size())
	}
	grid, err := parallel.NewProcessGrid(c, nil)
	if err != nil {
		return nil, err
	}
	return parallel.NewPencil(grid, shape, 0)
}
