package assembly

import (
	"fmt"
	"math"
	"sort"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// SparseMatrix stores an operator by diagonals. Diagonal k holds the
// entries (i, i+k); element p of a diagonal is the entry whose smaller
// index is p. Offsets that are absent are structural zeros.
type SparseMatrix struct {
	Key   Key
	rows  int
	cols  int
	diags map[int][]float64
}

var _ mat.Matrix = (*SparseMatrix)(nil)

func NewSparseMatrix(rows, cols int) *SparseMatrix {
	return &SparseMatrix{rows: rows, cols: cols, diags: map[int][]float64{}}
}

func diagLen(rows, cols, k int) int {
	if k >= 0 {
		return max(0, min(rows, cols-k))
	}
	return max(0, min(rows+k, cols))
}

func (A *SparseMatrix) Dims() (r, c int) { return A.rows, A.cols }

func (A *SparseMatrix) At(i, j int) float64 {
	if i < 0 || i >= A.rows || j < 0 || j >= A.cols {
		panic(mat.ErrIndexOutOfRange)
	}
	if d, ok := A.diags[j-i]; ok {
		return d[min(i, j)]
	}
	return 0
}

func (A *SparseMatrix) T() mat.Matrix { return mat.Transpose{Matrix: A} }

// Set stores v at (i,j), creating the diagonal if needed.
func (A *SparseMatrix) Set(i, j int, v float64) {
	k := j - i
	d, ok := A.diags[k]
	if !ok {
		d = make([]float64, diagLen(A.rows, A.cols, k))
		A.diags[k] = d
	}
	d[min(i, j)] = v
}

// Offsets lists the stored diagonals in increasing order.
func (A *SparseMatrix) Offsets() (offs []int) {
	for k := range A.diags {
		offs = append(offs, k)
	}
	sort.Ints(offs)
	return
}

// Diagonal returns diagonal k, nil when it is a structural zero.
func (A *SparseMatrix) Diagonal(k int) []float64 { return A.diags[k] }

// Bandwidth returns the number of stored sub- and super-diagonals.
func (A *SparseMatrix) Bandwidth() (kl, ku int) {
	for k := range A.diags {
		if -k > kl {
			kl = -k
		}
		if k > ku {
			ku = k
		}
	}
	return
}

func (A *SparseMatrix) IsDiagonal() bool {
	kl, ku := A.Bandwidth()
	return kl == 0 && ku == 0
}

// NNZ counts the stored entries.
func (A *SparseMatrix) NNZ() (n int) {
	for _, d := range A.diags {
		n += len(d)
	}
	return
}

// MulVec computes dst = A x.
func (A *SparseMatrix) MulVec(dst, x []float64) {
	if len(x) != A.cols || len(dst) != A.rows {
		panic(mat.ErrShape)
	}
	for i := range dst {
		dst[i] = 0
	}
	for _, k := range A.Offsets() {
		d := A.diags[k]
		for p, v := range d {
			i, j := p, p+k
			if k < 0 {
				i, j = p-k, p
			}
			dst[i] += v * x[j]
		}
	}
}

// Scale returns s*A.
func (A *SparseMatrix) Scale(s float64) *SparseMatrix {
	B := NewSparseMatrix(A.rows, A.cols)
	B.Key = A.Key
	for k, d := range A.diags {
		bd := make([]float64, len(d))
		for p, v := range d {
			bd[p] = s * v
		}
		B.diags[k] = bd
	}
	return B
}

// Add returns A + s*B over the union of both structures.
func (A *SparseMatrix) Add(B *SparseMatrix, s float64) (C *SparseMatrix, err error) {
	if A.rows != B.rows || A.cols != B.cols {
		return nil, fmt.Errorf("add %dx%d and %dx%d", A.rows, A.cols, B.rows, B.cols)
	}
	C = A.Scale(1)
	for k, d := range B.diags {
		cd, ok := C.diags[k]
		if !ok {
			cd = make([]float64, len(d))
			C.diags[k] = cd
		}
		for p, v := range d {
			cd[p] += s * v
		}
	}
	return
}

// Equal is bit-identical equality of structure and values.
func (A *SparseMatrix) Equal(B *SparseMatrix) bool {
	if A.rows != B.rows || A.cols != B.cols || len(A.diags) != len(B.diags) {
		return false
	}
	for k, d := range A.diags {
		bd, ok := B.diags[k]
		if !ok || len(bd) != len(d) {
			return false
		}
		for p := range d {
			if math.Float64bits(d[p]) != math.Float64bits(bd[p]) {
				return false
			}
		}
	}
	return true
}

func (A *SparseMatrix) ToDense() *mat.Dense {
	D := mat.NewDense(A.rows, A.cols, nil)
	for k, d := range A.diags {
		for p, v := range d {
			if k >= 0 {
				D.Set(p, p+k, v)
			} else {
				D.Set(p-k, p, v)
			}
		}
	}
	return D
}

// ToBand copies A into gonum band storage.
func (A *SparseMatrix) ToBand() *mat.BandDense {
	kl, ku := A.Bandwidth()
	B := mat.NewBandDense(A.rows, A.cols, kl, ku, nil)
	for k, d := range A.diags {
		for p, v := range d {
			if k >= 0 {
				B.SetBand(p, p+k, v)
			} else {
				B.SetBand(p-k, p, v)
			}
		}
	}
	return B
}

// ToCSR exports A in compressed sparse row form, dropping stored zeros.
func (A *SparseMatrix) ToCSR() *sparse.CSR {
	dok := sparse.NewDOK(A.rows, A.cols)
	for k, d := range A.diags {
		for p, v := range d {
			if v == 0 {
				continue
			}
			if k >= 0 {
				dok.Set(p, p+k, v)
			} else {
				dok.Set(p-k, p, v)
			}
		}
	}
	return dok.ToCSR()
}

// FromDense stores the nonzero entries of D by diagonal.
func FromDense(D mat.Matrix) *SparseMatrix {
	r, c := D.Dims()
	A := NewSparseMatrix(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := D.At(i, j); v != 0 {
				A.Set(i, j, v)
			}
		}
	}
	return A
}

func (A *SparseMatrix) String() string {
	kl, ku := A.Bandwidth()
	return fmt.Sprintf("%s %dx%d offsets %v (kl=%d, ku=%d)", A.Key, A.rows, A.cols, A.Offsets(), kl, ku)
}
