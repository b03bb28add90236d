package solver

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gospectral/assembly"
	"github.com/notargets/gospectral/types"
)

// axisTransform diagonalizes the pencil (A, B) of one axis:
//
//	Pinv A V = diag(Lambda),  Pinv B V = I
//
// so a term carrying A on the axis reduces to Lambda and one carrying B to
// one, after f is mapped with Pinv and the solution with V.
type axisTransform struct {
	A, B      *assembly.SparseMatrix
	Lambda    []float64
	V, Pinv   *mat.Dense
	Symmetric bool
	cond      float64
}

// newAxisTransform orders the pair so that B is the better conditioned
// partner: symmetric positive definite if possible.
func newAxisTransform(m0, m1 *assembly.SparseMatrix) (tr *axisTransform, err error) {
	for _, pair := range [][2]*assembly.SparseMatrix{{m0, m1}, {m1, m0}} {
		if tr = symmetricTransform(pair[0], pair[1]); tr != nil {
			return
		}
	}
	var lu mat.LU
	lu.Factorize(m1.ToDense())
	A, B := m0, m1
	if c := lu.Cond(); math.IsInf(c, 1) || c*1e-13 > 1 {
		A, B = m1, m0
	}
	return generalTransform(A, B)
}

func isSymmetric(A *assembly.SparseMatrix) bool {
	tol := 1e-13 * maxAbs(A)
	for _, k := range A.Offsets() {
		for p := range A.Diagonal(k) {
			i, j := p, p+k
			if k < 0 {
				i, j = p-k, p
			}
			if math.Abs(A.At(i, j)-A.At(j, i)) > tol {
				return false
			}
		}
	}
	return true
}

// ignoreCondition drops the advisory mat.Condition error; conditioning is
// reported separately.
func ignoreCondition(err error) error {
	var c mat.Condition
	if errors.As(err, &c) {
		return nil
	}
	return err
}

func symDense(A *assembly.SparseMatrix) *mat.SymDense {
	n, _ := A.Dims()
	S := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			S.SetSym(i, j, 0.5*(A.At(i, j)+A.At(j, i)))
		}
	}
	return S
}

// symmetricTransform uses B = L L^T and the symmetric eigenproblem of
// L^-1 A L^-T. It returns nil when the pair is not symmetric definite.
func symmetricTransform(A, B *assembly.SparseMatrix) *axisTransform {
	if !isSymmetric(A) || !isSymmetric(B) {
		return nil
	}
	var (
		n, _ = A.Dims()
		chol mat.Cholesky
		L    mat.TriDense
		Li   mat.TriDense
		C    mat.Dense
		es   mat.EigenSym
		Q    mat.Dense
	)
	if !chol.Factorize(symDense(B)) {
		return nil
	}
	chol.LTo(&L)
	if err := Li.InverseTri(&L); err != nil {
		return nil
	}
	C.Product(&Li, A.ToDense(), Li.T())
	Cs := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			Cs.SetSym(i, j, 0.5*(C.At(i, j)+C.At(j, i)))
		}
	}
	if !es.Factorize(Cs, true) {
		return nil
	}
	tr := &axisTransform{A: A, B: B, Symmetric: true, V: &mat.Dense{}, Pinv: &mat.Dense{}}
	tr.Lambda = es.Values(nil)
	es.VectorsTo(&Q)
	tr.V.Mul(Li.T(), &Q)
	tr.Pinv.Mul(Q.T(), &Li)
	tr.cond = chol.Cond()
	return tr
}

// generalTransform diagonalizes B^-1 A, which must have real eigenvalues.
func generalTransform(A, B *assembly.SparseMatrix) (tr *axisTransform, err error) {
	var (
		n, _ = A.Dims()
		C    mat.Dense
		eig  mat.Eigen
		cv   mat.CDense
		BV   mat.Dense
		Pinv mat.Dense
	)
	if err = ignoreCondition(C.Solve(B.ToDense(), A.ToDense())); err != nil {
		return nil, &types.SingularOperatorError{Operator: B.Key.String(), Detail: "pencil partner is singular"}
	}
	if !eig.Factorize(&C, mat.EigenRight) {
		return nil, types.InvalidConfigurationf("eigendecomposition of %s against %s failed", A.Key, B.Key)
	}
	tr = &axisTransform{A: A, B: B, Lambda: make([]float64, n), V: mat.NewDense(n, n, nil)}
	for k, l := range eig.Values(nil) {
		if math.Abs(imag(l)) > 1e-10*math.Max(1, math.Abs(real(l))) {
			return nil, types.InvalidConfigurationf("%s against %s has complex eigenvalue %v", A.Key, B.Key, l)
		}
		tr.Lambda[k] = real(l)
	}
	eig.VectorsTo(&cv)
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			tr.V.Set(i, k, real(cv.At(i, k)))
		}
	}
	BV.Mul(B.ToDense(), tr.V)
	if err = ignoreCondition(Pinv.Inverse(&BV)); err != nil {
		return nil, &types.SingularOperatorError{Operator: A.Key.String(), Detail: "defective pencil"}
	}
	tr.Pinv = &Pinv
	tr.cond = mat.Cond(&BV, 1)
	return
}

// value is the diagonal entry of the transformed matrix m at k.
func (tr *axisTransform) value(m *assembly.SparseMatrix, k int) float64 {
	if m == tr.A {
		return tr.Lambda[k]
	}
	return 1
}
