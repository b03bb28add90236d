package solver

import (
	"fmt"
	"strings"

	"github.com/james-bowman/sparse/blas"

	"github.com/notargets/gospectral/assembly"
	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

// Term is Coef times the Kronecker product of one matrix per axis. A nil
// matrix is the identity.
type Term struct {
	Coef float64
	Mats []*assembly.SparseMatrix
}

// TensorOperator is a sum of Terms acting on arrays of shape Shape.
type TensorOperator struct {
	Shape []int
	Terms []Term
}

func (op *TensorOperator) Dims() int { return len(op.Shape) }

// OutShape is the shape of op applied to an array of shape Shape.
func (op *TensorOperator) OutShape() (shape []int) {
	shape = append([]int(nil), op.Shape...)
	if len(op.Terms) == 0 {
		return
	}
	for a, A := range op.Terms[0].Mats {
		if A != nil {
			shape[a], _ = A.Dims()
		}
	}
	return
}

// Validate checks that every term maps Shape to the same output shape.
func (op *TensorOperator) Validate() error {
	if len(op.Terms) == 0 {
		return types.InvalidConfigurationf("tensor operator without terms")
	}
	out := op.OutShape()
	for t, term := range op.Terms {
		if len(term.Mats) != len(op.Shape) {
			return types.DimensionMismatchf("term %d has %d matrices for %d axes", t, len(term.Mats), len(op.Shape))
		}
		for a, A := range term.Mats {
			r, c := op.Shape[a], op.Shape[a]
			if A != nil {
				r, c = A.Dims()
			}
			if r != out[a] || c != op.Shape[a] {
				return types.DimensionMismatchf("term %d axis %d: %dx%d maps %d to %d", t, a, r, c, op.Shape[a], out[a])
			}
		}
	}
	return nil
}

// Square is true when input and output shapes agree.
func (op *TensorOperator) Square() bool {
	out := op.OutShape()
	for a := range out {
		if out[a] != op.Shape[a] {
			return false
		}
	}
	return true
}

func (op *TensorOperator) String() string {
	var b strings.Builder
	for t, term := range op.Terms {
		if t > 0 {
			b.WriteString(" + ")
		}
		fmt.Fprintf(&b, "%g", term.Coef)
		for _, A := range term.Mats {
			if A == nil {
				b.WriteString("*I")
				continue
			}
			b.WriteString("*" + A.Key.Op)
		}
	}
	return b.String()
}

// Apply computes op x for a full row-major array x of shape Shape, using
// CSR kernels along each axis.
func (op *TensorOperator) Apply(x []float64) (y []float64, err error) {
	if err = op.Validate(); err != nil {
		return
	}
	if len(x) != utils.Prod(op.Shape) {
		return nil, types.DimensionMismatchf("apply to %d values, shape %v", len(x), op.Shape)
	}
	out := op.OutShape()
	y = make([]float64, utils.Prod(out))
	for _, term := range op.Terms {
		var (
			v     = x
			shape = append([]int(nil), op.Shape...)
		)
		for a, A := range term.Mats {
			if A == nil {
				continue
			}
			v = csrAxis(A.ToCSR().RawMatrix(), v, shape, a)
			shape[a], _ = A.Dims()
		}
		for i := range y {
			y[i] += term.Coef * v[i]
		}
	}
	return
}

// csrAxis multiplies every fiber along axis by the CSR matrix R.
func csrAxis(R *blas.SparseMatrix, v []float64, shape []int, axis int) (w []float64) {
	var (
		n     = shape[axis]
		outer = utils.Prod(shape[:axis])
		inner = utils.Prod(shape[axis+1:])
	)
	w = make([]float64, outer*R.I*inner)
	for o := 0; o < outer; o++ {
		for i := 0; i < R.I; i++ {
			dst := w[(o*R.I+i)*inner : (o*R.I+i+1)*inner]
			for p := R.Indptr[i]; p < R.Indptr[i+1]; p++ {
				var (
					a   = R.Data[p]
					src = v[(o*n+R.Ind[p])*inner : (o*n+R.Ind[p]+1)*inner]
				)
				for k := range dst {
					dst[k] += a * src[k]
				}
			}
		}
	}
	return
}
