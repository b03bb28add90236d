package space

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gospectral/basis"
	"github.com/notargets/gospectral/types"
)

// PaddedSpace transforms the M coefficients of a FunctionSpace to and from
// a finer grid of the same quadrature family. Products formed on the padded
// grid are projected back without aliasing as long as their degree stays
// within the finer rule; factor 3/2 covers quadratic terms.
type PaddedSpace struct {
	Space      *FunctionSpace
	Factor     float64
	B          *mat.Dense // NPad x M
	F          *mat.Dense // M x NPad
	mesh       []float64
	liftValues []float64
}

// PaddedPoints is the padded grid size for n points.
func PaddedPoints(n int, factor float64) int {
	return int(math.Ceil(factor*float64(n) - 1e-12))
}

func NewPaddedSpace(fs *FunctionSpace, factor float64) (ps *PaddedSpace, err error) {
	if factor < 1 {
		return nil, types.InvalidConfigurationf("padding factor %g is below one", factor)
	}
	var (
		b          = fs.Basis
		np         = PaddedPoints(b.N, factor)
		xi, w      []float64
		BtW, Md, F mat.Dense
	)
	if xi, w, err = b.Rule(np); err != nil {
		return
	}
	ps = &PaddedSpace{Space: fs, Factor: factor, B: b.EvalMatrix(xi), mesh: make([]float64, np)}
	for i, x := range xi {
		ps.mesh[i] = b.ToPhysical(x)
	}
	BtW.CloneFrom(ps.B.T())
	for k := 0; k < b.M; k++ {
		row := BtW.RawRowView(k)
		for i := range row {
			row[i] *= w[i]
		}
	}
	Md.Mul(&BtW, ps.B)
	if err = F.Solve(&Md, &BtW); err != nil {
		return nil, &types.SingularOperatorError{Operator: "padded mass " + b.Key(), Detail: err.Error()}
	}
	ps.F = &F
	if lift := b.Lift(); lift != nil {
		ps.liftValues = b.EvalParent(lift, ps.mesh)
	}
	return
}

// N is the padded grid size.
func (ps *PaddedSpace) N() int { return len(ps.mesh) }

func (ps *PaddedSpace) M() int { return ps.Space.M() }

func (ps *PaddedSpace) Basis() *basis.Basis { return ps.Space.Basis }

// Mesh returns the physical points of the padded grid.
func (ps *PaddedSpace) Mesh() []float64 { return ps.mesh }

// BackwardTo evaluates c on the padded grid, the lift included.
func (ps *PaddedSpace) BackwardTo(u, c []float64) (err error) {
	if len(u) != ps.N() || len(c) != ps.M() {
		return types.DimensionMismatchf("%s padded backward: %d coefficients into %d samples",
			ps.Basis().Key(), len(c), len(u))
	}
	uv := mat.NewVecDense(len(u), u)
	uv.MulVec(ps.B, mat.NewVecDense(len(c), c))
	for i, l := range ps.liftValues {
		u[i] += l
	}
	return
}

// ForwardTo projects padded samples onto the M coefficients, truncating
// every mode the coarse space does not carry.
func (ps *PaddedSpace) ForwardTo(c, u []float64) (err error) {
	if len(u) != ps.N() || len(c) != ps.M() {
		return types.DimensionMismatchf("%s padded forward: %d samples into %d coefficients",
			ps.Basis().Key(), len(u), len(c))
	}
	src := u
	if ps.liftValues != nil {
		src = make([]float64, len(u))
		for i := range u {
			src[i] = u[i] - ps.liftValues[i]
		}
	}
	cv := mat.NewVecDense(len(c), c)
	cv.MulVec(ps.F, mat.NewVecDense(len(src), src))
	return
}
