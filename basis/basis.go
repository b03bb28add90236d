package basis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gospectral/types"
)

// Basis is one orthogonal family on a domain together with a boundary
// condition variant. The functions of a boundary condition variant are
// stencils of the parent (pure) family:
//
//	phi_k = P_k + sum_{m=1..nbc} s_{k,m} P_{k+m},  k = 0..M-1
//
// A Basis is immutable once built.
type Basis struct {
	Family     types.Family
	BC         types.BCKind
	N          int // physical points and parent modes
	M          int // active modes
	Domain     [2]float64
	Alpha      float64
	Beta       float64
	BCValues   []float64
	Quadrature types.QuadratureKind
	X, W       []float64 // reference quadrature points and weights
	fam        family
	funcs      []types.Functional
	stencil    [][]float64 // stencil[k][m-1] = s_{k,m}
	lift       []float64   // parent coefficients carrying BCValues
	domainSet  bool
	modes      int
}

type Option func(b *Basis)

// Domain maps the reference interval to [a,b]. For Fourier the period is
// b-a.
func Domain(a, b float64) Option {
	return func(bs *Basis) {
		bs.Domain = [2]float64{a, b}
		bs.domainSet = true
	}
}

// Jacobi sets the Jacobi weight exponents.
func Jacobi(alpha, beta float64) Option {
	return func(b *Basis) { b.Alpha, b.Beta = alpha, beta }
}

// BCValues prescribes inhomogeneous boundary values, in the order of
// BC.Functionals().
func BCValues(v ...float64) Option {
	return func(b *Basis) { b.BCValues = append([]float64(nil), v...) }
}

func Quadrature(q types.QuadratureKind) Option {
	return func(b *Basis) { b.Quadrature = q }
}

// Modes truncates a pure basis to its first m parent modes while keeping the
// N point grid.
func Modes(m int) Option {
	return func(b *Basis) { b.modes = m }
}

func New(fam types.Family, N int, bc types.BCKind, opts ...Option) (b *Basis, err error) {
	b = &Basis{
		Family: fam,
		BC:     bc,
		N:      N,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.fam = newFamily(fam, b.Alpha, b.Beta); b.fam == nil {
		return nil, types.InvalidConfigurationf("unknown family %v", fam)
	}
	if err = b.validate(); err != nil {
		return nil, err
	}
	if b.X, b.W, err = b.fam.points(N, b.Quadrature); err != nil {
		return nil, types.InvalidConfigurationf("%s: %v", b.Key(), err)
	}
	if err = b.buildStencil(); err != nil {
		return nil, err
	}
	if len(b.BCValues) != 0 {
		if err = b.buildLift(); err != nil {
			return nil, err
		}
	}
	return
}

func (b *Basis) validate() (err error) {
	ref := b.fam.reference()
	switch b.Family {
	case types.Hermite, types.Laguerre:
		if b.domainSet {
			return types.InvalidConfigurationf("%s basis lives on a fixed infinite domain", b.Family)
		}
		b.Domain = ref
	default:
		if !b.domainSet {
			b.Domain = ref
		}
		if !(b.Domain[1] > b.Domain[0]) || math.IsInf(b.Domain[0], 0) || math.IsInf(b.Domain[1], 0) {
			return types.InvalidConfigurationf("empty or unbounded domain [%g,%g]", b.Domain[0], b.Domain[1])
		}
	}
	if b.Family == types.Jacobi {
		if b.Alpha <= -1 || b.Beta <= -1 {
			return types.InvalidConfigurationf("jacobi parameters must exceed -1, have (%g,%g)", b.Alpha, b.Beta)
		}
	} else if b.Alpha != 0 || b.Beta != 0 {
		return types.InvalidConfigurationf("jacobi parameters given for the %s family", b.Family)
	}
	if b.Quadrature == types.GaussLobattoQuad && !b.Family.Polynomial() {
		return types.InvalidConfigurationf("no gauss-lobatto rule for the %s family", b.Family)
	}

	switch b.Family {
	case types.Fourier, types.Hermite:
		if b.BC != types.BCPure {
			return types.InvalidConfigurationf("%s basis supports no boundary conditions, have %s", b.Family, b.BC)
		}
	case types.Laguerre:
		if b.BC != types.BCPure && b.BC != types.BCDirichlet {
			return types.InvalidConfigurationf("laguerre basis supports pure and dirichlet, have %s", b.BC)
		}
	}
	b.funcs = b.BC.Functionals()
	if b.Family == types.Laguerre && b.BC == types.BCDirichlet {
		// the right end is at infinity
		b.funcs = b.funcs[:1]
	}
	nbc := len(b.funcs)

	minN := nbc + 1 // keep M >= 1, so biharmonic needs five points
	if b.Family == types.Fourier {
		minN = 2
	}
	if b.N < minN {
		return types.InvalidConfigurationf("%s %s basis needs N >= %d, have %d", b.Family, b.BC, minN, b.N)
	}
	b.M = b.N - nbc

	if b.modes != 0 {
		if b.BC != types.BCPure || b.modes < 1 || b.modes > b.N {
			return types.InvalidConfigurationf("modes %d not valid for a %s basis of size %d", b.modes, b.BC, b.N)
		}
		b.M = b.modes
	}
	if len(b.BCValues) != 0 && len(b.BCValues) != nbc {
		return types.InvalidConfigurationf("%s needs %d boundary values, have %d", b.BC, nbc, len(b.BCValues))
	}
	return
}

// Key identifies the basis for operator caching. Boundary values are left
// out: they change lifts, never matrices.
func (b *Basis) Key() string {
	key := fmt.Sprintf("%s/%s/N%d/M%d/[%g,%g]/%s",
		b.Family, b.BC, b.N, b.M, b.Domain[0], b.Domain[1], b.Quadrature)
	if b.Family == types.Jacobi {
		key += fmt.Sprintf("/ab(%g,%g)", b.Alpha, b.Beta)
	}
	return key
}

func (b *Basis) String() string { return b.Key() }

// NBC is the number of boundary conditions built into the basis.
func (b *Basis) NBC() int { return len(b.funcs) }

// Functionals are the boundary conditions the basis functions satisfy.
func (b *Basis) Functionals() []types.Functional { return b.funcs }

// Scale is d(reference)/d(physical).
func (b *Basis) Scale() float64 {
	ref := b.fam.reference()
	if math.IsInf(ref[1], 0) {
		return 1
	}
	return (ref[1] - ref[0]) / (b.Domain[1] - b.Domain[0])
}

func (b *Basis) ToPhysical(xi float64) float64 {
	ref := b.fam.reference()
	if math.IsInf(ref[1], 0) {
		return xi
	}
	return b.Domain[0] + (xi-ref[0])/b.Scale()
}

func (b *Basis) ToReference(x float64) float64 {
	ref := b.fam.reference()
	if math.IsInf(ref[1], 0) {
		return x
	}
	return ref[0] + (x-b.Domain[0])*b.Scale()
}

// Mesh returns the physical quadrature points.
func (b *Basis) Mesh() (x []float64) {
	x = make([]float64, b.N)
	for i, xi := range b.X {
		x[i] = b.ToPhysical(xi)
	}
	return
}

// Rule is the n point quadrature rule of the basis family and kind, in
// reference coordinates. Padded transforms sample on it.
func (b *Basis) Rule(n int) (xi, w []float64, err error) {
	if n < b.N {
		return nil, nil, types.InvalidConfigurationf("%s: a %d point rule is coarser than the basis", b.Key(), n)
	}
	return b.fam.points(n, b.Quadrature)
}

// Parent is the pure basis of the same family, size and domain.
func (b *Basis) Parent() *Basis {
	if b.BC == types.BCPure && b.M == b.N {
		return b
	}
	p := *b
	p.BC = types.BCPure
	p.M = b.N
	p.modes = 0
	p.funcs = nil
	p.stencil = nil
	p.lift = nil
	p.BCValues = nil
	return &p
}

// Norms are the squared parent norms in the reference measure, extended to
// n modes.
func (b *Basis) Norms(n int) []float64 { return b.fam.norms(n) }

// Vandermonde evaluates parent modes 0..n-1 at reference points.
func (b *Basis) Vandermonde(xi []float64, n int) *mat.Dense {
	return b.fam.vandermonde(xi, n)
}

// DiffMatrix is the reference coefficient space derivative of the given
// order on n parent modes.
func (b *Basis) DiffMatrix(n, order int) *mat.Dense {
	return b.fam.diffMatrix(n, order)
}

// Extension is the parent size needed to represent derivatives up to order
// without truncation.
func (b *Basis) Extension(order int) int { return b.N + b.fam.extend(order) }

// EvalMatrix evaluates the M basis functions at reference points.
func (b *Basis) EvalMatrix(xi []float64) *mat.Dense {
	var (
		V = b.fam.vandermonde(xi, b.N)
		B mat.Dense
	)
	B.Mul(V, b.StencilMatrix(b.N))
	return &B
}

// EndValues evaluates the derivative of the given order of each parent mode
// at an end of the physical domain.
func (b *Basis) EndValues(n int, left bool, order int) (v []float64) {
	v0 := b.fam.endValues(n, left)
	if order == 0 {
		return append([]float64(nil), v0...)
	}
	var (
		D  = b.fam.diffMatrix(n, order)
		sc = math.Pow(b.Scale(), float64(order))
	)
	v = make([]float64, n)
	for k := 0; k < n; k++ {
		var s float64
		for j := 0; j < n; j++ {
			s += D.At(j, k) * v0[j]
		}
		v[k] = sc * s
	}
	return
}
