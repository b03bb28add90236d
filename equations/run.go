package equations

import (
	"math"

	"go.uber.org/zap"

	"github.com/notargets/gospectral/parallel"
	"github.com/notargets/gospectral/solver"
	"github.com/notargets/gospectral/space"
	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

// Norms are discrete error norms over the physical grid.
type Norms struct {
	L2, LInf float64
}

// Result of a manufactured solution run.
type Result struct {
	N      []int
	U      Norms
	P      Norms // Stokes only
	Report solver.Report
}

// Run solves the manufactured problem on the ranks of c and measures the
// error of the physical solution. It is COLLECTIVE over c; Stokes runs on a
// single rank.
func (p *Problem) Run(c *parallel.Comm, tensorOpts []space.TensorOption, opts ...solver.Option) (res Result, err error) {
	res.N = make([]int, len(p.Bases))
	for a, b := range p.Bases {
		res.N[a] = b.N
	}
	if p.Kind == Stokes {
		if c.Size() != 1 {
			return res, types.InvalidConfigurationf("stokes runs on one rank, have %d", c.Size())
		}
		return p.runStokes(c, res, opts...)
	}
	var (
		m  Manufactured
		T  *space.TensorProductSpace
		op *solver.TensorOperator
		s  *solver.TensorSolver
	)
	if m, err = p.Manufactured(); err != nil {
		return
	}
	if T, err = p.tensorSpace(c, tensorOpts...); err != nil {
		return
	}
	if op, err = p.Operator(); err != nil {
		return
	}
	exact, f := T.NewArray(false), T.NewArray(false)
	T.Fill(exact, m.U)
	T.Fill(f, m.F)
	rhs, err := T.ScalarProduct(f)
	if err != nil {
		return
	}
	lift, err := p.LiftVector()
	if err != nil {
		return
	}
	for i, v := range lift {
		rhs.Data[i] -= v
	}
	if p.NeedsConstraint() {
		var want *parallel.Array
		if want, err = T.Forward(exact); err != nil {
			return
		}
		var g []float64
		if g, err = want.Gather(); err != nil {
			return
		}
		opts = append(opts, solver.WithConstraint(make([]int, len(p.Bases)), g[0]))
	}
	if s, err = solver.NewTensorSolver(op, opts...); err != nil {
		return
	}
	uc, rep, err := s.Solve(rhs)
	if err != nil {
		return
	}
	res.Report = rep
	u, err := T.Backward(uc)
	if err != nil {
		return
	}
	if res.U, err = errorNorms(c, u.Data, exact.Data); err != nil {
		return
	}
	if c.Rank() == 0 {
		utils.Logger().Info("solved", zap.Stringer("equation", p.Kind), zap.Ints("N", res.N),
			zap.Float64("l2", res.U.L2), zap.Float64("linf", res.U.LInf), zap.Float64("cond", rep.Cond))
	}
	return
}

func (p *Problem) tensorSpace(c *parallel.Comm, opts ...space.TensorOption) (*space.TensorProductSpace, error) {
	spaces := make([]*space.FunctionSpace, len(p.Bases))
	for a, b := range p.Bases {
		fs, err := space.NewFunctionSpace(b)
		if err != nil {
			return nil, err
		}
		spaces[a] = fs
	}
	return space.NewTensorProductSpace(c, spaces, opts...)
}

// errorNorms reduces the RMS and maximum of u - exact over every rank.
func errorNorms(c *parallel.Comm, u, exact []float64) (n Norms, err error) {
	var sq, mx float64
	for i := range u {
		e := math.Abs(u[i] - exact[i])
		sq += e * e
		mx = math.Max(mx, e)
	}
	sum, err := c.AllreduceSum([]float64{sq, float64(len(u))})
	if err != nil {
		return
	}
	peak, err := c.AllreduceMax([]float64{mx})
	if err != nil {
		return
	}
	return Norms{L2: math.Sqrt(sum[0] / sum[1]), LInf: peak[0]}, nil
}

func (p *Problem) runStokes(c *parallel.Comm, res Result, opts ...solver.Option) (Result, error) {
	sf, err := p.StokesManufactured()
	if err != nil {
		return res, err
	}
	sp, err := p.SaddlePoint()
	if err != nil {
		return res, err
	}
	qs, err := p.PressureBases()
	if err != nil {
		return res, err
	}
	pressure := &Problem{Kind: Poisson, Bases: qs}
	V, err := p.tensorSpace(c)
	if err != nil {
		return res, err
	}
	Q, err := pressure.tensorSpace(c)
	if err != nil {
		return res, err
	}
	s, err := solver.NewSaddlePointSolver(sp, opts...)
	if err != nil {
		return res, err
	}
	var (
		d     = len(p.Bases)
		f     = make([][]float64, d)
		exact = make([]*parallel.Array, d)
	)
	for k := 0; k < d; k++ {
		fa := V.NewArray(false)
		V.Fill(fa, sf.F[k])
		rhs, err := V.ScalarProduct(fa)
		if err != nil {
			return res, err
		}
		f[k] = rhs.Data
		exact[k] = V.NewArray(false)
		V.Fill(exact[k], sf.U[k])
	}
	u, pc, rep, err := s.Solve(f, nil)
	if err != nil {
		return res, err
	}
	res.Report = rep
	for k := 0; k < d; k++ {
		uk, err := backward(V, u[k])
		if err != nil {
			return res, err
		}
		nk, err := errorNorms(c, uk, exact[k].Data)
		if err != nil {
			return res, err
		}
		res.U.L2 = math.Max(res.U.L2, nk.L2)
		res.U.LInf = math.Max(res.U.LInf, nk.LInf)
	}
	pe := Q.NewArray(false)
	Q.Fill(pe, sf.P)
	pu, err := backward(Q, pc)
	if err != nil {
		return res, err
	}
	if res.P, err = errorNorms(c, pu, pe.Data); err != nil {
		return res, err
	}
	utils.Logger().Info("solved", zap.Stringer("equation", p.Kind), zap.Ints("N", res.N),
		zap.Float64("l2", res.U.L2), zap.Float64("pressure linf", res.P.LInf))
	return res, nil
}

// backward evaluates full row-major coefficients on a single rank space.
func backward(T *space.TensorProductSpace, c []float64) ([]float64, error) {
	a, err := parallel.FromGlobal(T.Pencil(true), c)
	if err != nil {
		return nil, err
	}
	u, err := T.Backward(a)
	if err != nil {
		return nil, err
	}
	return u.Data, nil
}
