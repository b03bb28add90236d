package equations

import (
	"math"

	"github.com/notargets/gospectral/basis"
	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

// profile is a 1-d function and its derivatives up to fourth order.
type profile [5]func(x float64) float64

// trig is f(w (x-a)) with f = sin (phase 0) or cos (phase pi/2); every
// derivative is a quarter turn further.
func trig(w, a, phase float64) (p profile) {
	for k := range p {
		var (
			scale = utils.POW(w, k)
			shift = phase + float64(k)*math.Pi/2
		)
		p[k] = func(x float64) float64 { return scale * math.Sin(w*(x-a)+shift) }
	}
	return
}

func (p profile) plus(q profile, s float64) (r profile) {
	for k := range r {
		pk, qk := p[k], q[k]
		r[k] = func(x float64) float64 { return pk(x) + s*qk(x) }
	}
	return
}

// profileFor picks a smooth function that satisfies the homogeneous
// conditions of b, plus the linear lift of Dirichlet boundary values.
func profileFor(b *basis.Basis) (p profile, err error) {
	var (
		a, L = b.Domain[0], b.Domain[1] - b.Domain[0]
		w    = math.Pi / L
	)
	switch b.Family {
	case types.Fourier:
		return trig(2*w, a, 0).plus(trig(4*w, a, math.Pi/2), 1), nil
	case types.Hermite:
		// d^k exp(-x^2) = (-1)^k H_k(x) exp(-x^2)
		herm := [5]func(x float64) float64{
			func(float64) float64 { return 1 },
			func(x float64) float64 { return -2 * x },
			func(x float64) float64 { return 4*x*x - 2 },
			func(x float64) float64 { return 12*x - 8*x*x*x },
			func(x float64) float64 { return 16*utils.POW(x, 4) - 48*x*x + 12 },
		}
		for k := range p {
			h := herm[k]
			p[k] = func(x float64) float64 { return h(x) * math.Exp(-x*x) }
		}
		return
	case types.Laguerre:
		for k := range p {
			sign, kk := float64(1-2*(k%2)), float64(k)
			if b.BC == types.BCDirichlet {
				// d^k (x e^-x) = (-1)^k (x-k) e^-x
				p[k] = func(x float64) float64 { return sign * (x - kk) * math.Exp(-x) }
			} else {
				p[k] = func(x float64) float64 { return sign * math.Exp(-x) }
			}
		}
		return
	}
	switch b.BC {
	case types.BCDirichlet:
		p = trig(w, a, 0)
	case types.BCNeumann:
		p = trig(w, a, math.Pi/2)
	case types.BCDirichletNeumann:
		p = trig(w/2, a, 0)
	case types.BCNeumannDirichlet:
		p = trig(w/2, a, math.Pi/2)
	case types.BCBiharmonic:
		// sin^2(pi xi) = (1 - cos(2 pi xi))/2
		c := trig(2*w, a, math.Pi/2)
		for k := range p {
			ck := c[k]
			p[k] = func(x float64) float64 { return -0.5 * ck(x) }
		}
		p[0] = func(x float64) float64 { return 0.5 - 0.5*c[0](x) }
	default:
		return p, types.InvalidConfigurationf("%s: no manufactured solution on a pure polynomial axis", b.Key())
	}
	if len(b.BCValues) != 0 {
		if b.BC != types.BCDirichlet {
			return p, types.InvalidConfigurationf("%s: boundary values are only manufactured for Dirichlet", b.Key())
		}
		var (
			v0, v1 = b.BCValues[0], b.BCValues[1]
			f0, f1 = p[0], p[1]
		)
		p[0] = func(x float64) float64 { return f0(x) + v0 + (v1-v0)*(x-a)/L }
		p[1] = func(x float64) float64 { return f1(x) + (v1-v0)/L }
	}
	return
}

// Manufactured is an exact solution and the forcing it implies.
type Manufactured struct {
	U func(x []float64) float64
	F func(x []float64) float64
}

// separable evaluates prod_a p[a][order[a]](x[a]).
func separable(ps []profile, x []float64, order func(a int) int) float64 {
	v := 1.
	for a, p := range ps {
		v *= p[order(a)](x[a])
	}
	return v
}

func (p *Problem) profiles() (ps []profile, err error) {
	ps = make([]profile, len(p.Bases))
	for a, b := range p.Bases {
		if ps[a], err = profileFor(b); err != nil {
			return nil, err
		}
	}
	return
}

// Manufactured returns the tensor product of per-axis profiles and the
// forcing of the scalar equations.
func (p *Problem) Manufactured() (m Manufactured, err error) {
	if p.Kind == Stokes {
		return m, types.InvalidConfigurationf("stokes has a vector solution, use StokesManufactured")
	}
	ps, err := p.profiles()
	if err != nil {
		return
	}
	d := len(ps)
	m.U = func(x []float64) float64 { return separable(ps, x, func(int) int { return 0 }) }
	laplace := func(x []float64) (s float64) {
		for a := 0; a < d; a++ {
			s += separable(ps, x, func(b int) int { return 2 * b2i(b == a) })
		}
		return
	}
	switch p.Kind {
	case Poisson:
		m.F = laplace
	case Helmholtz:
		m.F = func(x []float64) float64 { return laplace(x) - p.Shift*m.U(x) }
	case Biharmonic:
		m.F = func(x []float64) (s float64) {
			for a := 0; a < d; a++ {
				s += separable(ps, x, func(b int) int { return 4 * b2i(b == a) })
				for c := a + 1; c < d; c++ {
					s += 2 * separable(ps, x, func(b int) int { return 2 * b2i(b == a || b == c) })
				}
			}
			return
		}
	}
	return
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// StokesFields is the manufactured velocity, pressure and momentum forcing
// of the 2-d Stokes problem, from the stream function
// psi = sin^2(pi xi_x) sin^2(pi xi_y).
type StokesFields struct {
	U, F [2]func(x []float64) float64
	P    func(x []float64) float64
}

func (p *Problem) StokesManufactured() (sf StokesFields, err error) {
	if p.Kind != Stokes || len(p.Bases) != 2 {
		return sf, types.InvalidConfigurationf("stokes fields need a 2-d stokes problem")
	}
	var (
		g  [2]profile
		pr [2]profile
	)
	for a, b := range p.Bases {
		var (
			lo, L = b.Domain[0], b.Domain[1] - b.Domain[0]
			c     = trig(2*math.Pi/L, lo, math.Pi/2)
		)
		for k := range g[a] {
			ck := c[k]
			g[a][k] = func(x float64) float64 { return -0.5 * ck(x) }
		}
		g[a][0] = func(x float64) float64 { return 0.5 - 0.5*c[0](x) }
		pr[a] = trig(2*math.Pi/L, lo, 0)
	}
	// u = psi_y, v = -psi_x
	sf.U[0] = func(x []float64) float64 { return g[0][0](x[0]) * g[1][1](x[1]) }
	sf.U[1] = func(x []float64) float64 { return -g[0][1](x[0]) * g[1][0](x[1]) }
	sf.P = func(x []float64) float64 { return pr[0][0](x[0]) * pr[1][0](x[1]) }
	// f = -lap u + grad p
	sf.F[0] = func(x []float64) float64 {
		lap := g[0][2](x[0])*g[1][1](x[1]) + g[0][0](x[0])*g[1][3](x[1])
		return -lap + pr[0][1](x[0])*pr[1][0](x[1])
	}
	sf.F[1] = func(x []float64) float64 {
		lap := -g[0][3](x[0])*g[1][0](x[1]) - g[0][1](x[0])*g[1][2](x[1])
		return -lap + pr[0][0](x[0])*pr[1][1](x[1])
	}
	return
}
