package solver

import (
	"math"
	"strconv"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gospectral/assembly"
	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

// Factorization solves one square 1-d system repeatedly.
type Factorization interface {
	// SolveTo writes A^-1 b into x. x and b may be the same slice.
	SolveTo(x, b []float64) error
	Size() int
	Strategy() Strategy
	Report() Report
}

// Factorize picks the cheapest factorization the structure of A allows:
// diagonal, upper triangular back substitution, band LU with partial
// pivoting, or dense LU. A vanishing pivot or an infinite condition number
// is a SingularOperatorError; a condition estimate above the threshold only
// marks the Report.
func Factorize(A *assembly.SparseMatrix, opts ...Option) (f Factorization, err error) {
	o := newOptions(opts)
	r, c := A.Dims()
	if r != c {
		return nil, types.DimensionMismatchf("factorize %s: %dx%d is not square", A.Key, r, c)
	}
	strategy := o.strategy
	if strategy == Auto {
		strategy = choose(A)
	}
	var cond float64
	switch strategy {
	case Diagonal:
		var d *diagonalFact
		if d, err = newDiagonal(A); err == nil {
			f, cond = d, d.cond()
		}
	case UpperTriangular:
		var u *upperFact
		if u, err = newUpper(A); err == nil {
			f = u
			cond = probeCond(A, u)
		}
	case Banded:
		var b *bandLU
		if b, err = newBandLU(A); err == nil {
			f = b
			cond = probeCond(A, b)
		}
	default:
		var d *denseLU
		if d, err = newDenseLU(A); err == nil {
			f, cond = d, d.lu.Cond()
		}
	}
	if err != nil {
		return nil, err
	}
	rep := Report{Cond: cond, Operator: A.Key.String()}
	if cond > o.condThreshold {
		rep.IllConditioned = true
		utils.Logger().Warn("ill-conditioned operator",
			zap.Stringer("key", A.Key), zap.Float64("cond", cond), zap.Stringer("strategy", strategy))
	}
	f.(interface{ setReport(Report) }).setReport(rep)
	return
}

func choose(A *assembly.SparseMatrix) Strategy {
	n, _ := A.Dims()
	kl, ku := A.Bandwidth()
	switch {
	case kl == 0 && ku == 0:
		return Diagonal
	case kl == 0:
		return UpperTriangular
	case 2*kl+ku+1 < n/2:
		return Banded
	}
	return DenseLU
}

func maxAbs(A *assembly.SparseMatrix) (m float64) {
	for _, k := range A.Offsets() {
		m = math.Max(m, utils.MaxAbs(A.Diagonal(k)))
	}
	return
}

// pivotTol is the size below which a pivot is taken as zero.
func pivotTol(A *assembly.SparseMatrix) float64 {
	n, _ := A.Dims()
	return float64(n) * utils.EPS * maxAbs(A)
}

func singular(A *assembly.SparseMatrix, detail string) error {
	return &types.SingularOperatorError{Operator: A.Key.String(), Detail: detail}
}

type reported struct{ rep Report }

func (r *reported) Report() Report       { return r.rep }
func (r *reported) setReport(rep Report) { r.rep = rep }

type diagonalFact struct {
	reported
	d []float64
}

func newDiagonal(A *assembly.SparseMatrix) (f *diagonalFact, err error) {
	n, _ := A.Dims()
	f = &diagonalFact{d: make([]float64, n)}
	copy(f.d, A.Diagonal(0))
	tol := pivotTol(A)
	for i, v := range f.d {
		if math.Abs(v) <= tol {
			return nil, singular(A, "zero diagonal entry "+strconv.Itoa(i))
		}
	}
	return
}

func (f *diagonalFact) cond() float64 {
	lo, hi := math.Inf(1), 0.
	for _, v := range f.d {
		lo = math.Min(lo, math.Abs(v))
		hi = math.Max(hi, math.Abs(v))
	}
	return hi / lo
}

func (f *diagonalFact) SolveTo(x, b []float64) error {
	if len(x) != len(f.d) || len(b) != len(f.d) {
		return types.DimensionMismatchf("diagonal solve of size %d with %d, %d", len(f.d), len(x), len(b))
	}
	for i := range f.d {
		x[i] = b[i] / f.d[i]
	}
	return nil
}

func (f *diagonalFact) Size() int          { return len(f.d) }
func (f *diagonalFact) Strategy() Strategy { return Diagonal }

// upperFact back substitutes on the stored diagonals.
type upperFact struct {
	reported
	n     int
	d0    []float64
	offs  []int
	diags [][]float64
}

func newUpper(A *assembly.SparseMatrix) (f *upperFact, err error) {
	n, _ := A.Dims()
	if kl, _ := A.Bandwidth(); kl != 0 {
		return nil, types.InvalidConfigurationf("%s is not upper triangular", A.Key)
	}
	f = &upperFact{n: n}
	d0 := A.Diagonal(0)
	if d0 == nil {
		return nil, singular(A, "empty diagonal")
	}
	tol := pivotTol(A)
	for i, v := range d0 {
		if math.Abs(v) <= tol {
			return nil, singular(A, "zero diagonal entry "+strconv.Itoa(i))
		}
	}
	f.d0 = d0
	for _, k := range A.Offsets() {
		if k > 0 {
			f.offs = append(f.offs, k)
			f.diags = append(f.diags, A.Diagonal(k))
		}
	}
	return
}

func (f *upperFact) SolveTo(x, b []float64) error {
	if len(x) != f.n || len(b) != f.n {
		return types.DimensionMismatchf("triangular solve of size %d with %d, %d", f.n, len(x), len(b))
	}
	copy(x, b)
	for i := f.n - 1; i >= 0; i-- {
		s := x[i]
		for m, k := range f.offs {
			if i+k < f.n {
				s -= f.diags[m][i] * x[i+k]
			}
		}
		x[i] = s / f.d0[i]
	}
	return nil
}

func (f *upperFact) Size() int          { return f.n }
func (f *upperFact) Strategy() Strategy { return UpperTriangular }

// bandLU is Gaussian elimination with partial pivoting in band storage.
// Row i holds columns i-kl .. i+kl+ku; the extra kl super-diagonals take
// the fill of row interchanges.
type bandLU struct {
	reported
	n, kl, ku, w int
	ab           []float64
	l            []float64 // l[k*kl+m] multiplies row k into row k+1+m
	piv          []int
}

func newBandLU(A *assembly.SparseMatrix) (f *bandLU, err error) {
	n, _ := A.Dims()
	kl, ku := A.Bandwidth()
	f = &bandLU{n: n, kl: kl, ku: ku, w: 2*kl + ku + 1}
	f.ab = make([]float64, n*f.w)
	f.l = make([]float64, n*max(kl, 1))
	f.piv = make([]int, n)
	for _, k := range A.Offsets() {
		for p, v := range A.Diagonal(k) {
			i, j := p, p+k
			if k < 0 {
				i, j = p-k, p
			}
			f.ab[f.at(i, j)] = v
		}
	}
	tol := pivotTol(A)
	for k := 0; k < n; k++ {
		var (
			last  = min(n-1, k+kl)
			right = min(n-1, k+kl+ku)
			p     = k
			big   = math.Abs(f.ab[f.at(k, k)])
		)
		for i := k + 1; i <= last; i++ {
			if v := math.Abs(f.ab[f.at(i, k)]); v > big {
				p, big = i, v
			}
		}
		f.piv[k] = p
		if big <= tol {
			return nil, singular(A, "zero pivot in column "+strconv.Itoa(k))
		}
		if p != k {
			for j := k; j <= right; j++ {
				a, b := f.at(k, j), f.at(p, j)
				f.ab[a], f.ab[b] = f.ab[b], f.ab[a]
			}
		}
		pivot := f.ab[f.at(k, k)]
		for i := k + 1; i <= last; i++ {
			m := f.ab[f.at(i, k)] / pivot
			f.l[k*kl+i-k-1] = m
			f.ab[f.at(i, k)] = 0
			if m == 0 {
				continue
			}
			for j := k + 1; j <= right; j++ {
				f.ab[f.at(i, j)] -= m * f.ab[f.at(k, j)]
			}
		}
	}
	return
}

func (f *bandLU) at(i, j int) int { return i*f.w + j - i + f.kl }

func (f *bandLU) SolveTo(x, b []float64) error {
	if len(x) != f.n || len(b) != f.n {
		return types.DimensionMismatchf("band solve of size %d with %d, %d", f.n, len(x), len(b))
	}
	copy(x, b)
	for k := 0; k < f.n; k++ {
		if p := f.piv[k]; p != k {
			x[k], x[p] = x[p], x[k]
		}
		for i := k + 1; i <= min(f.n-1, k+f.kl); i++ {
			x[i] -= f.l[k*f.kl+i-k-1] * x[k]
		}
	}
	for i := f.n - 1; i >= 0; i-- {
		s := x[i]
		for j := i + 1; j <= min(f.n-1, i+f.kl+f.ku); j++ {
			s -= f.ab[f.at(i, j)] * x[j]
		}
		x[i] = s / f.ab[f.at(i, i)]
	}
	return nil
}

func (f *bandLU) Size() int          { return f.n }
func (f *bandLU) Strategy() Strategy { return Banded }

type denseLU struct {
	reported
	n  int
	lu mat.LU
}

func newDenseLU(A *assembly.SparseMatrix) (f *denseLU, err error) {
	n, _ := A.Dims()
	f = &denseLU{n: n}
	f.lu.Factorize(A.ToDense())
	if c := f.lu.Cond(); math.IsInf(c, 1) || c*utils.EPS >= 1 {
		return nil, singular(A, "dense LU is numerically singular")
	}
	return
}

func (f *denseLU) SolveTo(x, b []float64) error {
	if len(x) != f.n || len(b) != f.n {
		return types.DimensionMismatchf("dense solve of size %d with %d, %d", f.n, len(x), len(b))
	}
	var xv mat.VecDense
	if err := f.lu.SolveVecTo(&xv, false, mat.NewVecDense(f.n, append([]float64(nil), b...))); err != nil {
		return &types.SingularOperatorError{Operator: f.rep.Operator, Detail: err.Error()}
	}
	copy(x, xv.RawVector().Data)
	return nil
}

func (f *denseLU) Size() int          { return f.n }
func (f *denseLU) Strategy() Strategy { return DenseLU }

// probeCond estimates ||A||_1 ||A^-1||_1 from a handful of solves. It is a
// lower bound, good to the order of magnitude the advisory check needs.
func probeCond(A *assembly.SparseMatrix, f Factorization) float64 {
	var (
		n      = f.Size()
		colSum = make([]float64, n)
		x      = make([]float64, n)
		inv    float64
	)
	for _, k := range A.Offsets() {
		for p, v := range A.Diagonal(k) {
			j := p + k
			if k < 0 {
				j = p
			}
			colSum[j] += math.Abs(v)
		}
	}
	probes := [][]float64{utils.ConstArray(n, 1), make([]float64, n), make([]float64, n), make([]float64, n)}
	for i := range probes[1] {
		probes[1][i] = 1 - 2*float64(i%2)
	}
	probes[2][0], probes[3][n-1] = 1, 1
	for _, b := range probes {
		if err := f.SolveTo(x, b); err != nil {
			return math.Inf(1)
		}
		inv = math.Max(inv, floats.Norm(x, 1)/floats.Norm(b, 1))
	}
	return floats.Max(colSum) * inv
}
