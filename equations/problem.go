package equations

import (
	"fmt"
	"strings"

	"github.com/notargets/gospectral/assembly"
	"github.com/notargets/gospectral/basis"
	"github.com/notargets/gospectral/solver"
	"github.com/notargets/gospectral/types"
)

type Kind uint8

const (
	Poisson Kind = iota
	Helmholtz
	Biharmonic
	Stokes
)

var KindNameMap = map[string]Kind{
	"poisson":    Poisson,
	"helmholtz":  Helmholtz,
	"biharmonic": Biharmonic,
	"stokes":     Stokes,
}

func (k Kind) String() string {
	for name, kk := range KindNameMap {
		if kk == k {
			return name
		}
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func NewKind(name string) (k Kind, err error) {
	var ok bool
	if k, ok = KindNameMap[strings.ToLower(strings.TrimSpace(name))]; !ok {
		err = types.InvalidConfigurationf("unknown equation %q", name)
	}
	return
}

// Problem is a linear model problem on the tensor product of Bases:
//
//	Poisson     lap u           = f
//	Helmholtz   lap u - Shift u = f
//	Biharmonic  lap^2 u         = f
//	Stokes      -lap u + grad p = f, div u = 0
//
// For Stokes the Bases are the velocity bases; the pressure uses the pure
// basis of the same family truncated to PressureModes(N) modes.
type Problem struct {
	Kind          Kind
	Shift         float64
	Bases         []*basis.Basis
	PressureModes func(N int) int
	cache         *assembly.Cache
}

func NewProblem(kind Kind, shift float64, bases []*basis.Basis) (p *Problem, err error) {
	if len(bases) == 0 {
		return nil, types.InvalidConfigurationf("%s problem without axes", kind)
	}
	p = &Problem{
		Kind:          kind,
		Shift:         shift,
		Bases:         bases,
		PressureModes: func(N int) int { return N - 2 },
		cache:         assembly.NewCache(),
	}
	switch kind {
	case Poisson, Helmholtz, Biharmonic:
	case Stokes:
		if len(bases) != 2 {
			return nil, types.InvalidConfigurationf("stokes is built in 2-d, have %d axes", len(bases))
		}
		for a, b := range bases {
			if b.BC != types.BCDirichlet || !b.Family.Polynomial() {
				return nil, types.InvalidConfigurationf("stokes velocity axis %d must be a Dirichlet polynomial basis, have %s", a, b.Key())
			}
		}
	default:
		return nil, types.InvalidConfigurationf("unknown equation %v", kind)
	}
	if kind == Biharmonic {
		for a, b := range bases {
			if b.Family.Polynomial() && b.BC != types.BCBiharmonic {
				return nil, types.InvalidConfigurationf("biharmonic axis %d needs a biharmonic basis, have %s", a, b.Key())
			}
		}
	}
	return
}

// Cache is the operator cache shared by every matrix of the problem.
func (p *Problem) Cache() *assembly.Cache { return p.cache }

// Shape is the coefficient shape of the (velocity) unknowns.
func (p *Problem) Shape() (shape []int) {
	shape = make([]int, len(p.Bases))
	for a, b := range p.Bases {
		shape[a] = b.M
	}
	return
}

// NeedsConstraint is true when constants are in the null space: every
// axis is Neumann or periodic and the equation has no zeroth order term.
func (p *Problem) NeedsConstraint() bool {
	if p.Kind == Stokes || p.Kind == Helmholtz && p.Shift != 0 {
		return false
	}
	for _, b := range p.Bases {
		periodic := b.Family == types.Fourier
		if !periodic && b.BC != types.BCNeumann {
			return false
		}
	}
	return true
}

func (p *Problem) assemble(kind assembly.OperatorKind, test, trial *basis.Basis) (*assembly.SparseMatrix, error) {
	return p.cache.Assemble(assembly.Operator{Kind: kind}, test, trial)
}

// masses returns the mass matrix of every axis.
func (p *Problem) masses() (mass []*assembly.SparseMatrix, err error) {
	mass = make([]*assembly.SparseMatrix, len(p.Bases))
	for a, b := range p.Bases {
		if mass[a], err = p.assemble(assembly.Identity, b, b); err != nil {
			return
		}
	}
	return
}

// replace copies mats with axis a set to m.
func replace(mats []*assembly.SparseMatrix, a int, m *assembly.SparseMatrix) []*assembly.SparseMatrix {
	out := append([]*assembly.SparseMatrix(nil), mats...)
	out[a] = m
	return out
}

// Operator assembles the scalar operator. In 1-d Helmholtz uses the single
// Helmholtz matrix.
func (p *Problem) Operator() (op *solver.TensorOperator, err error) {
	if p.Kind == Stokes {
		return nil, types.InvalidConfigurationf("stokes is a saddle point problem, use SaddlePoint")
	}
	op = &solver.TensorOperator{Shape: p.Shape()}
	if len(p.Bases) == 1 {
		var A *assembly.SparseMatrix
		if A, err = p.cache.Assemble(p.operator1D(), p.Bases[0], p.Bases[0]); err != nil {
			return nil, err
		}
		op.Terms = []solver.Term{{Coef: 1, Mats: []*assembly.SparseMatrix{A}}}
		return
	}
	mass, err := p.masses()
	if err != nil {
		return
	}
	d2 := make([]*assembly.SparseMatrix, len(p.Bases))
	for a, b := range p.Bases {
		if d2[a], err = p.assemble(assembly.SecondDerivative, b, b); err != nil {
			return nil, err
		}
	}
	switch p.Kind {
	case Poisson, Helmholtz:
		for a := range p.Bases {
			op.Terms = append(op.Terms, solver.Term{Coef: 1, Mats: replace(mass, a, d2[a])})
		}
		if p.Kind == Helmholtz && p.Shift != 0 {
			op.Terms = append(op.Terms, solver.Term{Coef: -p.Shift, Mats: mass})
		}
	case Biharmonic:
		for a, b := range p.Bases {
			var d4 *assembly.SparseMatrix
			if d4, err = p.assemble(assembly.FourthDerivative, b, b); err != nil {
				return nil, err
			}
			op.Terms = append(op.Terms, solver.Term{Coef: 1, Mats: replace(mass, a, d4)})
			for c := a + 1; c < len(p.Bases); c++ {
				op.Terms = append(op.Terms, solver.Term{Coef: 2, Mats: replace(replace(mass, a, d2[a]), c, d2[c])})
			}
		}
	}
	return
}

// operator1D is the single operator kind of a 1-d problem.
func (p *Problem) operator1D() assembly.Operator {
	switch p.Kind {
	case Helmholtz:
		return assembly.HelmholtzOp(p.Shift)
	case Biharmonic:
		return assembly.Operator{Kind: assembly.FourthDerivative}
	}
	return assembly.Operator{Kind: assembly.SecondDerivative}
}

// LiftVector is the 1-d operator applied to the boundary lift, nil
// without boundary values.
func (p *Problem) LiftVector() ([]float64, error) {
	if len(p.Bases) != 1 || p.Kind == Stokes {
		return nil, nil
	}
	return assembly.LiftVector(p.operator1D(), p.Bases[0], p.Bases[0])
}

// PressureBases are the pure bases of the Stokes pressure.
func (p *Problem) PressureBases() (qs []*basis.Basis, err error) {
	qs = make([]*basis.Basis, len(p.Bases))
	for a, b := range p.Bases {
		if qs[a], err = basis.New(b.Family, b.N, types.BCPure, basis.Domain(b.Domain[0], b.Domain[1]),
			basis.Jacobi(b.Alpha, b.Beta), basis.Quadrature(b.Quadrature), basis.Modes(p.PressureModes(b.N))); err != nil {
			return nil, err
		}
	}
	return
}

// SaddlePoint assembles the Stokes system
//
//	A   = -(D2 x M + M x D2)
//	G_0 = (v, dp/dx) = D1(u,q) x M(u,q),  G_1 = M(u,q) x D1(u,q)
//	D_0 = (q, du/dx) = D1(q,u) x M(q,u),  D_1 = M(q,u) x D1(q,u)
func (p *Problem) SaddlePoint() (sp *solver.SaddlePoint, err error) {
	if p.Kind != Stokes {
		return nil, types.InvalidConfigurationf("%s is not a saddle point problem", p.Kind)
	}
	qs, err := p.PressureBases()
	if err != nil {
		return
	}
	var (
		d = len(p.Bases)
		// cross pairs between velocity and pressure bases
		cross = func(kind assembly.OperatorKind) (uq, qu []*assembly.SparseMatrix, err error) {
			uq, qu = make([]*assembly.SparseMatrix, d), make([]*assembly.SparseMatrix, d)
			for a, b := range p.Bases {
				if uq[a], err = p.assemble(kind, b, qs[a]); err != nil {
					return
				}
				if qu[a], err = p.assemble(kind, qs[a], b); err != nil {
					return
				}
			}
			return
		}
	)
	mUU, err := p.masses()
	if err != nil {
		return
	}
	mUQ, mQU, err := cross(assembly.Identity)
	if err != nil {
		return
	}
	dUQ, dQU, err := cross(assembly.FirstDerivative)
	if err != nil {
		return
	}
	d2 := make([]*assembly.SparseMatrix, d)
	for a, b := range p.Bases {
		if d2[a], err = p.assemble(assembly.SecondDerivative, b, b); err != nil {
			return
		}
	}
	var (
		vShape = p.Shape()
		pShape = make([]int, d)
	)
	for a, q := range qs {
		pShape[a] = q.M
	}
	sp = &solver.SaddlePoint{Velocity: &solver.TensorOperator{Shape: vShape}}
	for a := 0; a < d; a++ {
		sp.Velocity.Terms = append(sp.Velocity.Terms, solver.Term{Coef: -1, Mats: replace(mUU, a, d2[a])})
		sp.Gradient = append(sp.Gradient, &solver.TensorOperator{Shape: pShape,
			Terms: []solver.Term{{Coef: 1, Mats: replace(mUQ, a, dUQ[a])}}})
		sp.Divergence = append(sp.Divergence, &solver.TensorOperator{Shape: vShape,
			Terms: []solver.Term{{Coef: 1, Mats: replace(mQU, a, dQU[a])}}})
	}
	return
}
