package solver

import (
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gospectral/assembly"
	"github.com/notargets/gospectral/parallel"
	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

// SaddlePoint is the coupled velocity-pressure system
//
//	A u_c + G_c p = f_c,  c = 0 .. len(Gradient)-1
//	sum_c D_c u_c  = g
//
// with one square Velocity operator A shared by every component.
type SaddlePoint struct {
	Velocity   *TensorOperator
	Gradient   []*TensorOperator // pressure shape -> velocity shape
	Divergence []*TensorOperator // velocity shape -> pressure shape
}

// SaddlePointSolver eliminates the velocity through the Schur complement
// S = sum_c D_c A^-1 G_c, which is formed densely. The pressure is
// determined up to the null space of S; exactly one null mode is accepted
// and pinned.
type SaddlePointSolver struct {
	sp       *SaddlePoint
	opts     options
	velocity *TensorSolver
	pShape   []int
	schur    *mat.Dense
	pin      *fiberFact
	rep      Report
}

func (sp *SaddlePoint) validate() (pShape []int, err error) {
	if sp.Velocity == nil || len(sp.Gradient) == 0 || len(sp.Gradient) != len(sp.Divergence) {
		return nil, types.InvalidConfigurationf("saddle point needs a velocity operator and matching gradient and divergence terms")
	}
	vShape := sp.Velocity.Shape
	pShape = sp.Gradient[0].Shape
	for c := range sp.Gradient {
		G, D := sp.Gradient[c], sp.Divergence[c]
		for _, op := range []*TensorOperator{G, D} {
			if err = op.Validate(); err != nil {
				return
			}
		}
		if !equalInts(G.Shape, pShape) || !equalInts(G.OutShape(), vShape) {
			return nil, types.DimensionMismatchf("gradient %d maps %v -> %v, want %v -> %v", c, G.Shape, G.OutShape(), pShape, vShape)
		}
		if !equalInts(D.Shape, vShape) || !equalInts(D.OutShape(), pShape) {
			return nil, types.DimensionMismatchf("divergence %d maps %v -> %v, want %v -> %v", c, D.Shape, D.OutShape(), vShape, pShape)
		}
	}
	return
}

// NewSaddlePointSolver factors the velocity operator and forms the Schur
// complement. WithConstraint selects the pinned pressure coefficient,
// index zero with value zero by default. It fails with a
// SingularOperatorError unless S has exactly one null mode.
func NewSaddlePointSolver(sp *SaddlePoint, opts ...Option) (s *SaddlePointSolver, err error) {
	s = &SaddlePointSolver{sp: sp, opts: newOptions(opts)}
	if s.pShape, err = sp.validate(); err != nil {
		return nil, err
	}
	if c := s.opts.constraint; c == nil {
		s.opts.constraint = &constraint{index: make([]int, len(s.pShape))}
	} else if len(c.index) != len(s.pShape) {
		return nil, types.DimensionMismatchf("pressure constraint %v for a %d-d pressure", c.index, len(s.pShape))
	}
	if s.velocity, err = NewTensorSolver(sp.Velocity, s.velocityOptions()...); err != nil {
		return nil, err
	}
	np := utils.Prod(s.pShape)
	s.schur = mat.NewDense(np, np, nil)
	s.rep, err = s.serial(func(solve func([]float64) ([]float64, error)) error {
		e := make([]float64, np)
		for j := 0; j < np; j++ {
			e[j] = 1
			for c := range sp.Gradient {
				w, err := sp.Gradient[c].Apply(e)
				if err != nil {
					return err
				}
				if w, err = solve(w); err != nil {
					return err
				}
				if w, err = sp.Divergence[c].Apply(w); err != nil {
					return err
				}
				for i, v := range w {
					s.schur.Set(i, j, s.schur.At(i, j)+v)
				}
			}
			e[j] = 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err = s.pinSchur(); err != nil {
		return nil, err
	}
	return
}

func (s *SaddlePointSolver) velocityOptions() []Option {
	return []Option{WithStrategy(s.opts.strategy), WithCondThreshold(s.opts.condThreshold)}
}

// pinSchur counts the null modes of S from its singular values and
// replaces the equation carrying the left null vector by the pin.
func (s *SaddlePointSolver) pinSchur() error {
	var (
		np, _ = s.schur.Dims()
		svd   mat.SVD
		U     mat.Dense
	)
	if !svd.Factorize(s.schur, mat.SVDFull) {
		return &types.SingularOperatorError{Operator: "Schur", Detail: "SVD did not converge"}
	}
	sv := svd.Values(nil)
	nullDim := 0
	for _, v := range sv {
		if v <= nullTol*sv[0] {
			nullDim++
		}
	}
	if nullDim != 1 {
		utils.Logger().Warn("schur complement null space", zap.Int("dim", nullDim), zap.Float64("smallest", sv[np-1]))
		return &types.SingularOperatorError{Operator: "Schur", NullDim: nullDim, Expected: 1,
			Detail: "pressure space admits spurious modes"}
	}
	svd.UTo(&U)
	var (
		left = mat.Col(nil, np-1, &U)
		r    = argMaxAbs(left)
		col  = flatIndex(s.opts.constraint.index, s.pShape)
		P    = mat.DenseCopyOf(s.schur)
	)
	for j := 0; j < np; j++ {
		P.Set(r, j, 0)
	}
	P.Set(r, col, 1)
	A := assembly.FromDense(P)
	A.Key = assembly.Key{Op: "Schur"}
	f, err := Factorize(A, WithStrategy(DenseLU), WithCondThreshold(s.opts.condThreshold))
	if err != nil {
		return err
	}
	s.pin = &fiberFact{f: f, row: r}
	s.rep = s.rep.merge(Report{Cond: sv[0] / sv[np-2], Operator: "Schur"})
	if s.rep.Cond > s.opts.condThreshold {
		s.rep.IllConditioned = true
	}
	return nil
}

func flatIndex(idx, shape []int) (n int) {
	for a := range shape {
		n = n*shape[a] + idx[a]
	}
	return
}

// serial runs fn in a single-rank world with a solve of the velocity
// operator on full row-major arrays.
func (s *SaddlePointSolver) serial(fn func(solve func([]float64) ([]float64, error)) error) (rep Report, err error) {
	w, err := parallel.NewWorld(1)
	if err != nil {
		return
	}
	err = w.Run(func(c *parallel.Comm) error {
		p, err := SerialPencil(c, s.sp.Velocity.Shape)
		if err != nil {
			return err
		}
		return fn(func(b []float64) ([]float64, error) {
			a, err := parallel.FromGlobal(p, b)
			if err != nil {
				return nil, err
			}
			x, r, err := s.velocity.Solve(a)
			if err != nil {
				return nil, err
			}
			rep = rep.merge(r)
			return x.Data, nil
		})
	})
	return
}

// Solve returns the velocity components and the pressure for the
// right hand sides f (one per component) and g, which may be nil for a
// divergence free velocity.
func (s *SaddlePointSolver) Solve(f [][]float64, g []float64) (u [][]float64, p []float64, rep Report, err error) {
	var (
		sp = s.sp
		np = utils.Prod(s.pShape)
		nv = utils.Prod(sp.Velocity.Shape)
	)
	if len(f) != len(sp.Gradient) {
		return nil, nil, rep, types.DimensionMismatchf("%d velocity right hand sides for %d components", len(f), len(sp.Gradient))
	}
	for c := range f {
		if len(f[c]) != nv {
			return nil, nil, rep, types.DimensionMismatchf("component %d has %d values, want %d", c, len(f[c]), nv)
		}
	}
	if g != nil && len(g) != np {
		return nil, nil, rep, types.DimensionMismatchf("divergence data has %d values, want %d", len(g), np)
	}
	u = make([][]float64, len(f))
	rep, err = s.serial(func(solve func([]float64) ([]float64, error)) error {
		rhs := make([]float64, np)
		if g != nil {
			for i := range rhs {
				rhs[i] = -g[i]
			}
		}
		for c := range f {
			y, err := solve(f[c])
			if err != nil {
				return err
			}
			if y, err = sp.Divergence[c].Apply(y); err != nil {
				return err
			}
			for i := range rhs {
				rhs[i] += y[i]
			}
		}
		rhs[s.pin.row] = s.opts.constraint.value
		p = make([]float64, np)
		if err := s.pin.f.SolveTo(p, rhs); err != nil {
			return err
		}
		for c := range f {
			w, err := sp.Gradient[c].Apply(p)
			if err != nil {
				return err
			}
			for i := range w {
				w[i] = f[c][i] - w[i]
			}
			if u[c], err = solve(w); err != nil {
				return err
			}
		}
		return nil
	})
	rep = rep.merge(s.rep)
	return
}

// Schur is the assembled complement, before pinning.
func (s *SaddlePointSolver) Schur() mat.Matrix { return s.schur }
