package parallel

import (
	"fmt"

	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

// Pencil describes how a global array is laid out over a ProcessGrid.
// Dist[axis] is the grid dimension splitting that axis, or -1 when the axis
// is locally complete (aligned).
type Pencil struct {
	Global []int
	Dist   []int
	grid   *ProcessGrid
}

// NewPencil builds the layout in which axis aligned is complete and the
// remaining axes take the grid dimensions in order. Axes left over when the
// grid has fewer dimensions are also complete.
func NewPencil(grid *ProcessGrid, global []int, aligned int) (p *Pencil, err error) {
	d := len(global)
	if aligned < 0 || aligned >= d {
		return nil, types.InvalidConfigurationf("aligned axis %d of a %d-d array", aligned, d)
	}
	if grid.NDims() > d-1 {
		return nil, types.InvalidConfigurationf("%d-d process grid cannot split a %d-d array with one axis aligned",
			grid.NDims(), d)
	}
	p = &Pencil{
		Global: append([]int(nil), global...),
		Dist:   make([]int, d),
		grid:   grid,
	}
	g := 0
	for axis := range p.Dist {
		p.Dist[axis] = -1
		if axis != aligned && g < grid.NDims() {
			p.Dist[axis] = g
			g++
		}
	}
	return
}

func (p *Pencil) Grid() *ProcessGrid { return p.grid }

func (p *Pencil) Aligned(axis int) bool { return p.Dist[axis] < 0 }

func (p *Pencil) String() string {
	return fmt.Sprintf("pencil%v dist%v", p.Global, p.Dist)
}

// partition is the split of axis over its grid dimension, nil when the axis
// is complete.
func (p *Pencil) partition(axis int) *utils.PartitionMap {
	g := p.Dist[axis]
	if g < 0 {
		return nil
	}
	return utils.NewPartitionMap(p.grid.Dims[g], p.Global[axis])
}

// Range is the [lo,hi) global index range of axis held by the grid
// coordinate coord along the axis' grid dimension.
func (p *Pencil) Range(axis, coord int) (lo, hi int) {
	pm := p.partition(axis)
	if pm == nil {
		return 0, p.Global[axis]
	}
	return pm.GetBucketRange(coord)
}

// Owner is the grid coordinate, along the axis' grid dimension, holding
// global index k of axis, or -1 when k is out of range.
func (p *Pencil) Owner(axis, k int) int {
	pm := p.partition(axis)
	if pm == nil {
		if k < 0 || k >= p.Global[axis] {
			return -1
		}
		return 0
	}
	bn, _, _ := pm.GetBucket(k)
	return bn
}

// GlobalIndex maps a local index of axis on the caller's block to the
// global index.
func (p *Pencil) GlobalIndex(axis, local int) int {
	pm := p.partition(axis)
	if pm == nil {
		return local
	}
	return pm.GetGlobalK(local, p.grid.Coords[p.Dist[axis]])
}

// LocalIndex maps a global multi-index to the caller's row-major position.
// ok is false when another rank holds the entry.
func (p *Pencil) LocalIndex(idx []int) (n int, ok bool) {
	shape, _ := p.Local()
	for axis, k := range idx {
		local := k
		if pm := p.partition(axis); pm != nil {
			var bn int
			if local, _, bn = pm.GetLocalK(k); bn != p.grid.Coords[p.Dist[axis]] {
				return 0, false
			}
		} else if k < 0 || k >= p.Global[axis] {
			return 0, false
		}
		n = n*shape[axis] + local
	}
	return n, true
}

// Local returns the caller's local shape and the global offset of its
// block.
func (p *Pencil) Local() (shape, offset []int) {
	shape, offset = make([]int, len(p.Global)), make([]int, len(p.Global))
	for axis := range p.Global {
		coord := 0
		if g := p.Dist[axis]; g >= 0 {
			coord = p.grid.Coords[g]
		}
		lo, hi := p.Range(axis, coord)
		shape[axis], offset[axis] = hi-lo, lo
	}
	return
}

// Transpose returns the layout in which axis is complete. Its grid
// dimension passes to receiver, which must be complete in p.
func (p *Pencil) Transpose(axis, receiver int) (q *Pencil, err error) {
	q = &Pencil{
		Global: p.Global,
		Dist:   append([]int(nil), p.Dist...),
		grid:   p.grid,
	}
	if p.Aligned(axis) {
		return
	}
	if !p.Aligned(receiver) {
		return nil, types.InvalidConfigurationf("%s: receiving axis %d is distributed", p, receiver)
	}
	q.Dist[receiver], q.Dist[axis] = p.Dist[axis], -1
	return
}

// Reshape changes the global extent of a complete axis, as a 1-d transform
// between N samples and M coefficients does. No data moves.
func (p *Pencil) Reshape(axis, n int) *Pencil {
	if !p.Aligned(axis) {
		panic(fmt.Sprintf("%s: reshape of distributed axis %d", p, axis))
	}
	q := &Pencil{
		Global: append([]int(nil), p.Global...),
		Dist:   p.Dist,
		grid:   p.grid,
	}
	q.Global[axis] = n
	return q
}

// Equal reports whether two pencils describe the same layout.
func (p *Pencil) Equal(q *Pencil) bool {
	if p.grid != q.grid || len(p.Global) != len(q.Global) {
		return false
	}
	for i := range p.Global {
		if p.Global[i] != q.Global[i] || p.Dist[i] != q.Dist[i] {
			return false
		}
	}
	return true
}

// Array is the caller's block of a distributed array, row-major.
type Array struct {
	Pencil *Pencil
	Data   []float64
}

func NewArray(p *Pencil) *Array {
	shape, _ := p.Local()
	return &Array{Pencil: p, Data: make([]float64, utils.Prod(shape))}
}

func (a *Array) LocalShape() []int {
	shape, _ := a.Pencil.Local()
	return shape
}

func (a *Array) Copy() *Array {
	return &Array{Pencil: a.Pencil, Data: append([]float64(nil), a.Data...)}
}

// FromGlobal extracts the caller's block from a full row-major array.
func FromGlobal(p *Pencil, global []float64) (a *Array, err error) {
	if len(global) != utils.Prod(p.Global) {
		return nil, types.DimensionMismatchf("global array of %d values for %v", len(global), p.Global)
	}
	shape, offset := p.Local()
	a = NewArray(p)
	hi := make([]int, len(shape))
	for i := range shape {
		hi[i] = offset[i] + shape[i]
	}
	copy(a.Data, packBox(global, p.Global, offset, hi))
	return
}

// Gather assembles the full row-major array on every rank. Collective over
// the grid communicator.
func (a *Array) Gather() (global []float64, err error) {
	var (
		p    = a.Pencil
		comm = p.grid.Comm()
		all  [][]float64
	)
	if all, err = comm.Allgatherv(a.Data); err != nil {
		return
	}
	global = make([]float64, utils.Prod(p.Global))
	for r, block := range all {
		coords := coordsOf(p.grid.Dims, r)
		lo, hi := make([]int, len(p.Global)), make([]int, len(p.Global))
		for axis := range p.Global {
			c := 0
			if g := p.Dist[axis]; g >= 0 {
				c = coords[g]
			}
			lo[axis], hi[axis] = p.Range(axis, c)
		}
		unpackBox(global, p.Global, lo, hi, block)
	}
	return
}

// Redistribute moves a into layout to, which must differ from a's layout by
// one Transpose: one axis becomes complete and another takes its grid
// dimension. It is an all-to-all within that grid dimension.
//
// COLLECTIVE: every rank of the grid must call Redistribute with pencils of
// matching global shape, in the same order. There is no timeout; a missing
// rank blocks its peers until the World is aborted.
func Redistribute(a *Array, to *Pencil) (b *Array, err error) {
	from := a.Pencil
	if from.Equal(to) {
		return a.Copy(), nil
	}
	if from.grid != to.grid || len(from.Global) != len(to.Global) {
		return nil, types.DimensionMismatchf("redistribute %s to %s", from, to)
	}
	var (
		gained, lost = -1, -1 // gained becomes complete, lost becomes split
		g            = -1
	)
	for axis := range from.Global {
		if from.Global[axis] != to.Global[axis] {
			return nil, types.DimensionMismatchf("redistribute %s to %s", from, to)
		}
		switch {
		case from.Dist[axis] == to.Dist[axis]:
		case from.Dist[axis] >= 0 && to.Dist[axis] < 0 && gained < 0:
			gained, g = axis, from.Dist[axis]
		case from.Dist[axis] < 0 && to.Dist[axis] >= 0 && lost < 0:
			lost = axis
		default:
			return nil, types.InvalidConfigurationf("redistribute %s to %s is not a single transpose", from, to)
		}
	}
	if gained < 0 || lost < 0 || to.Dist[lost] != g {
		return nil, types.InvalidConfigurationf("redistribute %s to %s is not a single transpose", from, to)
	}

	var (
		sub                = from.grid.Sub(g)
		fromShape, fromOff = from.Local()
		toShape, _         = to.Local()
		send               = make([][]float64, sub.Size())
		recv               [][]float64
		lo, hi             = make([]int, len(fromShape)), make([]int, len(fromShape))
	)
	for j := range send {
		// my block restricted to the part of lost that peer j will own
		copy(hi, fromShape)
		for i := range lo {
			lo[i] = 0
		}
		jlo, jhi := to.Range(lost, j)
		lo[lost], hi[lost] = jlo-fromOff[lost], jhi-fromOff[lost]
		send[j] = packBox(a.Data, fromShape, lo, hi)
	}
	if recv, err = sub.Alltoallv(send); err != nil {
		return
	}
	b = NewArray(to)
	for j, block := range recv {
		copy(hi, toShape)
		for i := range lo {
			lo[i] = 0
		}
		jlo, jhi := from.Range(gained, j)
		lo[gained], hi[gained] = jlo, jhi
		unpackBox(b.Data, toShape, lo, hi, block)
	}
	return
}

// packBox copies the box [lo,hi) of a row-major array with the given shape
// into a contiguous buffer.
func packBox(src []float64, shape, lo, hi []int) (buf []float64) {
	n := boxSize(lo, hi)
	buf = make([]float64, 0, n)
	if n == 0 {
		return
	}
	walkBox(shape, lo, hi, func(off, run int) {
		buf = append(buf, src[off:off+run]...)
	})
	return
}

// unpackBox is the inverse of packBox.
func unpackBox(dst []float64, shape, lo, hi []int, buf []float64) {
	if boxSize(lo, hi) == 0 {
		return
	}
	pos := 0
	walkBox(shape, lo, hi, func(off, run int) {
		copy(dst[off:off+run], buf[pos:pos+run])
		pos += run
	})
}

func boxSize(lo, hi []int) (n int) {
	n = 1
	for i := range lo {
		if hi[i] <= lo[i] {
			return 0
		}
		n *= hi[i] - lo[i]
	}
	return
}

// walkBox calls fn with the offset and length of each contiguous last-axis
// run of the box, in row-major order.
func walkBox(shape, lo, hi []int, fn func(off, run int)) {
	var (
		d       = len(shape)
		strides = utils.Strides(shape)
		idx     = append([]int(nil), lo...)
	)
	if d == 0 {
		fn(0, 1)
		return
	}
	run := hi[d-1] - lo[d-1]
	for {
		off := 0
		for i := range idx {
			off += idx[i] * strides[i]
		}
		fn(off, run)
		axis := d - 2
		for ; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < hi[axis] {
				break
			}
			idx[axis] = lo[axis]
		}
		if axis < 0 {
			return
		}
	}
}
