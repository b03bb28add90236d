package parallel

import (
	"sort"

	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

// ProcessGrid arranges the ranks of a communicator on a Cartesian grid,
// row-major in the coordinates.
type ProcessGrid struct {
	Dims   []int
	Coords []int
	comm   *Comm
	subs   []*Comm // subs[g] holds the ranks differing from us only in coordinate g
}

// BalancedDims factors size into ndims extents as equal as possible,
// largest first.
func BalancedDims(size, ndims int) (dims []int) {
	dims = make([]int, ndims)
	for i := range dims {
		dims[i] = 1
	}
	if ndims == 0 {
		return
	}
	var factors []int
	n := size
	for p := 2; p*p <= n; p++ {
		for n%p == 0 {
			factors = append(factors, p)
			n /= p
		}
	}
	if n > 1 {
		factors = append(factors, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(factors)))
	for _, f := range factors {
		smallest := 0
		for i := range dims {
			if dims[i] < dims[smallest] {
				smallest = i
			}
		}
		dims[smallest] *= f
	}
	sort.Sort(sort.Reverse(sort.IntSlice(dims)))
	return
}

// NewProcessGrid places the ranks of c on a grid with extents dims, which
// must multiply to c.Size(). The construction is local.
func NewProcessGrid(c *Comm, dims []int) (pg *ProcessGrid, err error) {
	if utils.Prod(dims) != c.Size() {
		return nil, types.InvalidConfigurationf("process grid %v does not hold %d ranks", dims, c.Size())
	}
	pg = &ProcessGrid{
		Dims:   append([]int(nil), dims...),
		Coords: coordsOf(dims, c.Rank()),
		comm:   c,
		subs:   make([]*Comm, len(dims)),
	}
	strides := utils.Strides(dims)
	for g := range dims {
		members := make([]int, dims[g])
		base := c.Rank() - pg.Coords[g]*strides[g]
		for j := range members {
			members[j] = base + j*strides[g]
		}
		if pg.subs[g], err = c.Sub(members); err != nil {
			return nil, err
		}
	}
	return
}

func coordsOf(dims []int, rank int) (coords []int) {
	coords = make([]int, len(dims))
	for g := len(dims) - 1; g >= 0; g-- {
		coords[g] = rank % dims[g]
		rank /= dims[g]
	}
	return
}

func (pg *ProcessGrid) Comm() *Comm { return pg.comm }

// Sub is the communicator along grid dimension g; its rank is Coords[g].
func (pg *ProcessGrid) Sub(g int) *Comm { return pg.subs[g] }

func (pg *ProcessGrid) NDims() int { return len(pg.Dims) }
