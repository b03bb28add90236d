package assembly

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gospectral/basis"
	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

type OperatorKind uint8

const (
	Identity OperatorKind = iota
	FirstDerivative
	SecondDerivative
	FourthDerivative
	Helmholtz
	Weak
)

// Operator is a bilinear form <d^a test, d^b trial> in the reference
// measure of the test family, with (a,b) fixed by the kind:
//
//	Identity          (0,0)
//	FirstDerivative   (0,1)
//	SecondDerivative  (0,2)
//	FourthDerivative  (0,4)
//	Helmholtz         (0,2) - Shift*(0,0)
//	Weak              (TestOrder, TrialOrder)
type Operator struct {
	Kind       OperatorKind
	Shift      float64
	TestOrder  int
	TrialOrder int
}

func HelmholtzOp(shift float64) Operator { return Operator{Kind: Helmholtz, Shift: shift} }

func WeakOp(testOrder, trialOrder int) Operator {
	return Operator{Kind: Weak, TestOrder: testOrder, TrialOrder: trialOrder}
}

// Orders returns the derivative orders on the test and trial functions.
func (op Operator) Orders() (a, b int) {
	switch op.Kind {
	case FirstDerivative:
		return 0, 1
	case SecondDerivative, Helmholtz:
		return 0, 2
	case FourthDerivative:
		return 0, 4
	case Weak:
		return op.TestOrder, op.TrialOrder
	}
	return 0, 0
}

func (op Operator) String() string {
	switch op.Kind {
	case Identity:
		return "Identity"
	case FirstDerivative:
		return "FirstDerivative"
	case SecondDerivative:
		return "SecondDerivative"
	case FourthDerivative:
		return "FourthDerivative"
	case Helmholtz:
		return fmt.Sprintf("Helmholtz(%g)", op.Shift)
	case Weak:
		return fmt.Sprintf("Weak(%d,%d)", op.TestOrder, op.TrialOrder)
	}
	return fmt.Sprintf("Operator(%d)", op.Kind)
}

// Key identifies an assembled matrix.
type Key struct {
	Op    string
	Test  string
	Trial string
}

func NewKey(op Operator, test, trial *basis.Basis) Key {
	return Key{Op: op.String(), Test: test.Key(), Trial: trial.Key()}
}

func (k Key) String() string {
	if k.Op == "" {
		return "unkeyed"
	}
	return fmt.Sprintf("%s<%s|%s>", k.Op, k.Test, k.Trial)
}

func checkPair(op Operator, test, trial *basis.Basis) error {
	if test.N != trial.N {
		return types.DimensionMismatchf("%s: test size %d, trial size %d", op, test.N, trial.N)
	}
	if test.Family != trial.Family || test.Domain != trial.Domain ||
		test.Alpha != trial.Alpha || test.Beta != trial.Beta {
		return types.DimensionMismatchf("%s: test %s and trial %s do not share a parent family", op, test.Key(), trial.Key())
	}
	if a, b := op.Orders(); a < 0 || b < 0 {
		return types.InvalidConfigurationf("negative derivative order in %s", op)
	}
	return nil
}

// Assemble builds the matrix A_ij = <d^a phi_i, d^b psi_j> of op between
// the test functions phi and trial functions psi. Known closed forms are
// used when available; otherwise the form is evaluated exactly as
//
//	A = (D^a K_test)^T H (D^b K_trial) * s^(a+b)
//
// with K the stencils, D the coefficient differentiation matrix, H the
// parent norms and s the domain scale. Entries that cancel to below their
// own rounding bound are dropped as structural zeros.
func Assemble(op Operator, test, trial *basis.Basis) (A *SparseMatrix, err error) {
	if err = checkPair(op, test, trial); err != nil {
		return
	}
	if op.Kind == Helmholtz {
		var D2, I *SparseMatrix
		if D2, err = Assemble(Operator{Kind: SecondDerivative}, test, trial); err != nil {
			return
		}
		if I, err = Assemble(Operator{Kind: Identity}, test, trial); err != nil {
			return
		}
		if A, err = D2.Add(I, -op.Shift); err != nil {
			return
		}
		A.Key = NewKey(op, test, trial)
		return
	}
	a, b := op.Orders()
	if A = closedForm(a, b, test, trial); A == nil {
		A = generic(a, b, test, trial)
	}
	A.Key = NewKey(op, test, trial)
	return
}

// formFactors returns L = D^a K_test and R = D^b K_trial on the extended
// parent size, with the parent norms.
func formFactors(a, b int, test, trial *basis.Basis) (L, R *mat.Dense, H []float64) {
	n := max(test.Extension(a), trial.Extension(b))
	L, R = &mat.Dense{}, &mat.Dense{}
	L.Mul(test.DiffMatrix(n, a), test.StencilMatrix(n))
	R.Mul(trial.DiffMatrix(n, b), trial.StencilMatrix(n))
	H = test.Norms(n)
	return
}

func generic(a, b int, test, trial *basis.Basis) (A *SparseMatrix) {
	var (
		L, R, H = formFactors(a, b, test, trial)
		n, mt   = L.Dims()
		_, mr   = R.Dims()
		scale   = math.Pow(test.Scale(), float64(a+b))
		tol     = 64 * utils.EPS
	)
	A = NewSparseMatrix(mt, mr)
	for i := 0; i < mt; i++ {
		for j := 0; j < mr; j++ {
			var sum, bound float64
			for p := 0; p < n; p++ {
				l, r := L.At(p, i), R.At(p, j)
				if l == 0 || r == 0 {
					continue
				}
				sum += l * H[p] * r
				bound += math.Abs(l * H[p] * r)
			}
			if bound == 0 || math.Abs(sum) <= tol*bound {
				continue
			}
			A.Set(i, j, sum*scale)
		}
	}
	return
}

// LiftVector is the action of op on the trial lift, <d^a phi_i, d^b l>.
// Subtract it from the right hand side to impose inhomogeneous boundary
// values. It is nil when the trial basis has no lift.
func LiftVector(op Operator, test, trial *basis.Basis) (v []float64, err error) {
	if err = checkPair(op, test, trial); err != nil {
		return
	}
	lift := trial.Lift()
	if lift == nil {
		return nil, nil
	}
	if op.Kind == Helmholtz {
		var v2, v0 []float64
		if v2, err = LiftVector(Operator{Kind: SecondDerivative}, test, trial); err != nil {
			return
		}
		if v0, err = LiftVector(Operator{Kind: Identity}, test, trial); err != nil {
			return
		}
		for i := range v2 {
			v2[i] -= op.Shift * v0[i]
		}
		return v2, nil
	}
	var (
		a, b  = op.Orders()
		n     = max(test.Extension(a), trial.Extension(b))
		L     mat.Dense
		scale = math.Pow(test.Scale(), float64(a+b))
		H     = test.Norms(n)
		lv    = mat.NewVecDense(n, nil)
		dl    = mat.NewVecDense(n, nil)
		_, mt = test.StencilMatrix(n).Dims()
	)
	for i, l := range lift {
		lv.SetVec(i, l)
	}
	L.Mul(test.DiffMatrix(n, a), test.StencilMatrix(n))
	dl.MulVec(trial.DiffMatrix(n, b), lv)
	v = make([]float64, mt)
	for i := range v {
		var s float64
		for p := 0; p < n; p++ {
			s += L.At(p, i) * H[p] * dl.AtVec(p)
		}
		v[i] = s * scale
	}
	return
}
