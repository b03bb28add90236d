package solver

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gospectral/assembly"
	"github.com/notargets/gospectral/parallel"
	"github.com/notargets/gospectral/space"
	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

type axisKind uint8

const (
	// every term is diagonal on the axis
	diagonalAxis axisKind = iota
	// one matrix shared by every term: solved once up front
	singleAxis
	// two matrices: diagonalized by an axisTransform
	pencilAxis
	// any number of matrices: banded solves per fiber
	solveAxis
)

func (k axisKind) String() string {
	return [...]string{"diagonal", "single", "pencil", "solve"}[k]
}

type axisPlan struct {
	kind     axisKind
	distinct []*assembly.SparseMatrix
	term     []int // index into distinct for every term
	single   Factorization
	tr       *axisTransform
}

// factor is the scale of term t from this axis at index k.
func (ap *axisPlan) factor(t, k int) float64 {
	m := ap.distinct[ap.term[t]]
	switch ap.kind {
	case diagonalAxis:
		return m.Diagonal(0)[k]
	case pencilAxis:
		return ap.tr.value(m, k)
	}
	return 1
}

// TensorSolver solves op u = f for a square TensorOperator. Every axis
// whose matrices are all diagonal folds into per-fiber scalars; an axis
// carrying one shared matrix is solved first; an axis carrying two
// matrices is diagonalized by a generalized eigendecomposition; at most one
// remaining axis is solved with a factorization per fiber, cached by the
// fiber's coefficients.
type TensorSolver struct {
	op    *TensorOperator
	opts  options
	axes  []axisPlan
	solve int // -1 when every axis reduces to scalars
	setup Report
	mu    sync.Mutex
	facts map[string]*fiberFact
}

func identity(n int) *assembly.SparseMatrix {
	I := assembly.NewSparseMatrix(n, n)
	for i := 0; i < n; i++ {
		I.Set(i, i, 1)
	}
	I.Key = assembly.Key{Op: "Identity"}
	return I
}

func NewTensorSolver(op *TensorOperator, opts ...Option) (s *TensorSolver, err error) {
	if err = op.Validate(); err != nil {
		return
	}
	if !op.Square() {
		return nil, types.DimensionMismatchf("tensor solve needs a square operator, have %v -> %v", op.Shape, op.OutShape())
	}
	s = &TensorSolver{
		op:    op,
		opts:  newOptions(opts),
		axes:  make([]axisPlan, op.Dims()),
		solve: -1,
		facts: make(map[string]*fiberFact),
	}
	if c := s.opts.constraint; c != nil && len(c.index) != op.Dims() {
		return nil, types.DimensionMismatchf("constraint index %v for a %d-d operator", c.index, op.Dims())
	}
	var wide []int
	for a := range s.axes {
		ap := &s.axes[a]
		ap.term = make([]int, len(op.Terms))
		var eye *assembly.SparseMatrix
		for t, term := range op.Terms {
			m := term.Mats[a]
			if m == nil {
				if eye == nil {
					eye = identity(op.Shape[a])
				}
				m = eye
			}
			ap.term[t] = -1
			for d, dm := range ap.distinct {
				if dm == m || dm.Equal(m) {
					ap.term[t] = d
					break
				}
			}
			if ap.term[t] < 0 {
				ap.term[t] = len(ap.distinct)
				ap.distinct = append(ap.distinct, m)
			}
		}
		diag := true
		for _, m := range ap.distinct {
			diag = diag && m.IsDiagonal()
		}
		ap.kind = solveAxis
		switch {
		case diag:
			ap.kind = diagonalAxis
		case len(ap.distinct) > 2:
			wide = append(wide, a)
		}
	}
	switch {
	case len(wide) > 1:
		return nil, types.InvalidConfigurationf("axes %v each carry more than two matrices, only one can be solved directly", wide)
	case len(wide) == 1:
		s.solve = wide[0]
	default:
		for a := len(s.axes) - 1; a >= 0; a-- {
			if s.axes[a].kind != diagonalAxis {
				s.solve = a
				break
			}
		}
	}
	for a := range s.axes {
		ap := &s.axes[a]
		switch {
		case a == s.solve:
			ap.kind = solveAxis
		case ap.kind == diagonalAxis:
		case len(ap.distinct) == 1:
			ap.kind = singleAxis
			if ap.single, err = Factorize(ap.distinct[0], opts...); err != nil {
				return nil, err
			}
			s.setup = s.setup.merge(ap.single.Report())
		default:
			ap.kind = pencilAxis
			if ap.tr, err = newAxisTransform(ap.distinct[0], ap.distinct[1]); err != nil {
				return nil, err
			}
			s.setup = s.setup.merge(Report{Cond: ap.tr.cond, Operator: ap.tr.A.Key.String()})
		}
	}
	if s.setup.Cond > s.opts.condThreshold {
		s.setup.IllConditioned = true
	}
	utils.Logger().Debug("tensor solver", zap.Stringer("operator", op), zap.String("axes", s.describe()))
	return
}

func (s *TensorSolver) describe() string {
	kinds := make([]string, len(s.axes))
	for a := range s.axes {
		kinds[a] = s.axes[a].kind.String()
	}
	return strings.Join(kinds, ",")
}

// singularFiber records the one fiber whose system has a null space.
type singularFiber struct {
	coords []int     // global index, the solve axis entry unused
	null   []float64 // null vector along the solve axis
}

// Solve returns u with op u = f. f and u share f's layout. Pencil axes and
// the solve axis are aligned in turn with Redistribute, so Solve is
// COLLECTIVE over f's process grid.
func (s *TensorSolver) Solve(f *parallel.Array) (u *parallel.Array, rep Report, err error) {
	for a, n := range s.op.Shape {
		if f.Pencil.Global[a] != n {
			return nil, rep, types.DimensionMismatchf("solve %v with an array of shape %v", s.op.Shape, f.Pencil.Global)
		}
	}
	var (
		al  aligner
		x   = f.Copy()
		sf  *singularFiber
		cnt int
	)
	rep = s.setup
	for a := range s.axes {
		ap := &s.axes[a]
		switch ap.kind {
		case singleAxis:
			if x, err = al.align(x, a); err != nil {
				return
			}
			if x, err = space.ApplyAxis(x, a, s.op.Shape[a], ap.single.SolveTo); err != nil {
				return
			}
		case pencilAxis:
			if x, err = al.align(x, a); err != nil {
				return
			}
			if x, err = space.ApplyAxis(x, a, s.op.Shape[a], matVec(ap.tr.Pinv)); err != nil {
				return
			}
		}
	}
	if s.solve >= 0 {
		if x, err = al.align(x, s.solve); err != nil {
			return
		}
		err = eachFiber(x, s.solve, func(idx []int, fiber []float64) error {
			r, single, err := s.solveFiber(idx, fiber)
			if err != nil {
				return err
			}
			rep = rep.merge(r)
			if single != nil {
				cnt++
				sf = single
			}
			return nil
		})
	} else {
		var r Report
		r, err = s.solvePoints(x, func(idx []int) {
			cnt++
			sf = &singularFiber{coords: append([]int(nil), idx...)}
		})
		rep = rep.merge(r)
	}
	if err != nil {
		return
	}
	for a := len(s.axes) - 1; a >= 0; a-- {
		if ap := &s.axes[a]; ap.kind == pencilAxis {
			if x, err = al.align(x, a); err != nil {
				return
			}
			if x, err = space.ApplyAxis(x, a, s.op.Shape[a], matVec(ap.tr.V)); err != nil {
				return
			}
		}
	}
	if x, err = al.restore(x); err != nil {
		return
	}
	if err = s.fixNullSpace(x, cnt, sf); err != nil {
		return
	}
	comm := x.Pencil.Grid().Comm()
	ill := 0.
	if rep.Cond > s.opts.condThreshold {
		ill = 1
	}
	var red []float64
	if red, err = comm.AllreduceMax([]float64{rep.Cond, ill}); err != nil {
		return
	}
	rep.Cond, rep.IllConditioned = red[0], red[1] > 0
	if rep.IllConditioned && comm.Rank() == 0 {
		utils.Logger().Warn("ill-conditioned solve", zap.String("operator", rep.Operator), zap.Float64("cond", rep.Cond))
	}
	return x, rep, nil
}

// coefficients are the scales of the distinct solve axis matrices for the
// fiber at idx.
func (s *TensorSolver) coefficients(idx []int) (c []float64) {
	sp := &s.axes[s.solve]
	c = make([]float64, len(sp.distinct))
	for t, term := range s.op.Terms {
		v := term.Coef
		for a := range s.axes {
			if a != s.solve {
				v *= s.axes[a].factor(t, idx[a])
			}
		}
		c[sp.term[t]] += v
	}
	return
}

func fiberKey(c []float64) string {
	var b strings.Builder
	for _, v := range c {
		fmt.Fprintf(&b, "%x,", math.Float64bits(v))
	}
	return b.String()
}

type fiberFact struct {
	f    Factorization
	null []float64 // right null vector when the system was pinned
	row  int       // equation replaced by the pin
}

// solveFiber solves the 1-d system of one fiber in place. A singular
// system is solved with one unknown pinned when a constraint is set and
// comes back with its null vector.
func (s *TensorSolver) solveFiber(idx []int, fiber []float64) (rep Report, sf *singularFiber, err error) {
	c := s.coefficients(idx)
	ff, err := s.factorization(fiberKey(c), c)
	if err != nil {
		var se *types.SingularOperatorError
		if errors.As(err, &se) {
			at := *se
			at.Fiber = append([]int(nil), idx...)
			at.Fiber[s.solve] = -1
			err = &at
		}
		return
	}
	if ff.null != nil {
		fiber[ff.row] = 0
		sf = &singularFiber{coords: append([]int(nil), idx...), null: ff.null}
	}
	err = ff.f.SolveTo(fiber, fiber)
	return ff.f.Report(), sf, err
}

func (s *TensorSolver) factorization(key string, c []float64) (ff *fiberFact, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ok bool
	if ff, ok = s.facts[key]; ok {
		return
	}
	var (
		M  = s.fiberMatrix(c)
		f  Factorization
		se *types.SingularOperatorError
	)
	if f, err = Factorize(M, s.factorOptions()...); err == nil {
		ff = &fiberFact{f: f}
	} else if errors.As(err, &se) && s.opts.constraint != nil {
		ff, err = s.pinned(M, se)
	}
	if err != nil {
		return nil, err
	}
	s.facts[key] = ff
	return
}

func (s *TensorSolver) factorOptions() []Option {
	return []Option{WithStrategy(s.opts.strategy), WithCondThreshold(s.opts.condThreshold)}
}

// fiberMatrix is sum_d c_d M_d over the distinct solve axis matrices.
func (s *TensorSolver) fiberMatrix(c []float64) (M *assembly.SparseMatrix) {
	sp := &s.axes[s.solve]
	for d, m := range sp.distinct {
		if c[d] == 0 {
			continue
		}
		if M == nil {
			M = m.Scale(c[d])
			continue
		}
		M, _ = M.Add(m, c[d])
	}
	if M == nil {
		n := s.op.Shape[s.solve]
		M = assembly.NewSparseMatrix(n, n)
	}
	M.Key = assembly.Key{Op: "Fiber", Test: sp.distinct[0].Key.Test, Trial: sp.distinct[0].Key.Trial}
	return
}

// pinned replaces the equation most aligned with the left null vector by
// u_c = 0, c the largest entry of the right null vector. The null space
// must be one dimensional.
func (s *TensorSolver) pinned(M *assembly.SparseMatrix, se *types.SingularOperatorError) (ff *fiberFact, err error) {
	var (
		n, _ = M.Dims()
		D    = M.ToDense()
		svd  mat.SVD
		U, V mat.Dense
	)
	if !svd.Factorize(D, mat.SVDFull) {
		return nil, se
	}
	sv := svd.Values(nil)
	nullDim := 0
	for _, v := range sv {
		if v <= nullTol*sv[0] {
			nullDim++
		}
	}
	switch {
	case nullDim == 0:
		var f Factorization
		if f, err = Factorize(M, WithStrategy(DenseLU), WithCondThreshold(s.opts.condThreshold)); err != nil {
			return
		}
		return &fiberFact{f: f}, nil
	case nullDim > 1:
		return nil, &types.SingularOperatorError{Operator: M.Key.String(), NullDim: nullDim, Expected: 1}
	}
	svd.UTo(&U)
	svd.VTo(&V)
	var (
		left  = mat.Col(nil, n-1, &U)
		right = mat.Col(nil, n-1, &V)
		r, c  = argMaxAbs(left), argMaxAbs(right)
	)
	for j := 0; j < n; j++ {
		D.Set(r, j, 0)
	}
	D.Set(r, c, 1)
	P := assembly.FromDense(D)
	P.Key = M.Key
	ff = &fiberFact{null: right, row: r}
	if ff.f, err = Factorize(P, WithStrategy(DenseLU), WithCondThreshold(s.opts.condThreshold)); err != nil {
		return nil, err
	}
	utils.Logger().Debug("pinned singular fiber", zap.Stringer("key", M.Key), zap.Int("row", r), zap.Int("unknown", c))
	return
}

// nullTol is the relative singular value below which a direction is null.
const nullTol = 1e-10

func argMaxAbs(v []float64) (k int) {
	for i := range v {
		if math.Abs(v[i]) > math.Abs(v[k]) {
			k = i
		}
	}
	return
}

// solvePoints divides by the scalar operator when every axis reduced to a
// diagonal.
func (s *TensorSolver) solvePoints(x *parallel.Array, onSingular func(idx []int)) (rep Report, err error) {
	var (
		shape, offset = x.Pencil.Local()
		idx           = make([]int, len(shape))
		lo, hi        = math.Inf(1), 0.
	)
	for n := range x.Data {
		unravel(n, shape, offset, idx)
		var den, bound float64
		for t, term := range s.op.Terms {
			v := term.Coef
			for a := range s.axes {
				v *= s.axes[a].factor(t, idx[a])
			}
			den += v
			bound += math.Abs(v)
		}
		if math.Abs(den) <= 64*utils.EPS*bound || bound == 0 {
			if s.opts.constraint == nil {
				return rep, &types.SingularOperatorError{Operator: s.op.String(), Fiber: append([]int(nil), idx...),
					Detail: "zero diagonal"}
			}
			x.Data[n] = 0
			onSingular(idx)
			continue
		}
		x.Data[n] /= den
		lo, hi = math.Min(lo, math.Abs(den)), math.Max(hi, math.Abs(den))
	}
	if hi > 0 {
		rep = Report{Cond: hi / lo, Operator: s.op.String()}
	}
	return
}

// fixNullSpace adds the multiple of the null vector that satisfies the
// constraint. Collective.
func (s *TensorSolver) fixNullSpace(x *parallel.Array, cnt int, sf *singularFiber) (err error) {
	var (
		comm = x.Pencil.Grid().Comm()
		d    = s.op.Dims()
		ns   = 0
	)
	if s.solve >= 0 {
		ns = s.op.Shape[s.solve]
	}
	buf := make([]float64, 1+d+ns)
	buf[0] = float64(cnt)
	if cnt == 1 {
		for a := 0; a < d; a++ {
			buf[1+a] = float64(sf.coords[a])
		}
		copy(buf[1+d:], sf.null)
	}
	var red []float64
	if red, err = comm.AllreduceSum(buf); err != nil {
		return
	}
	switch total := int(red[0]); {
	case total == 0:
		return
	case total > 1:
		return &types.SingularOperatorError{Operator: s.op.String(), NullDim: total, Expected: 1}
	}
	var (
		c     = s.opts.constraint
		z     = make([][]float64, d)
		zc    = 1.
		scale = 1.
	)
	for a := range s.axes {
		k := int(red[1+a])
		switch ap := &s.axes[a]; {
		case a == s.solve:
			z[a] = red[1+d:]
		case ap.kind == pencilAxis:
			z[a] = mat.Col(nil, k, ap.tr.V)
		default:
			z[a] = make([]float64, s.op.Shape[a])
			z[a][k] = 1
		}
		zc *= z[a][c.index[a]]
		scale *= utils.MaxAbs(z[a])
	}
	if math.Abs(zc) <= 1e-12*scale {
		return &types.SingularOperatorError{Operator: s.op.String(), NullDim: 1, Expected: 1,
			Detail: fmt.Sprintf("constraint index %v does not fix the null space", c.index)}
	}
	var (
		shape, offset = x.Pencil.Local()
		idx           = make([]int, d)
		own           = []float64{0}
	)
	if n, ok := x.Pencil.LocalIndex(c.index); ok {
		own[0] = x.Data[n]
	}
	if red, err = comm.AllreduceSum(own); err != nil {
		return
	}
	alpha := (c.value - red[0]) / zc
	for n := range x.Data {
		unravel(n, shape, offset, idx)
		v := alpha
		for a := range z {
			v *= z[a][idx[a]]
		}
		x.Data[n] += v
	}
	return
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SolveGlobal solves for a full row-major right hand side on a single
// rank.
func (s *TensorSolver) SolveGlobal(f []float64) (u []float64, rep Report, err error) {
	w, err := parallel.NewWorld(1)
	if err != nil {
		return
	}
	err = w.Run(func(c *parallel.Comm) error {
		p, err := SerialPencil(c, s.op.Shape)
		if err != nil {
			return err
		}
		a, err := parallel.FromGlobal(p, f)
		if err != nil {
			return err
		}
		x, r, err := s.Solve(a)
		if err != nil {
			return err
		}
		u, rep = x.Data, r
		return nil
	})
	return
}

func (s *TensorSolver) Operator() *TensorOperator { return s.op }
