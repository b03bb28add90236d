package basis

import (
	"math"

	"github.com/notargets/gospectral/types"
)

// Derivative differentiates parent coefficients p (length N) with the
// family recurrence and returns the result in the parent coefficients of
// target. Target is the pure parent, except for Jacobi (alpha+order,
// beta+order) and Hermite (order more modes).
func (b *Basis) Derivative(p []float64, order int) (dp []float64, target *Basis, err error) {
	if order < 0 {
		return nil, nil, types.InvalidConfigurationf("negative derivative order %d", order)
	}
	if len(p) != b.N {
		return nil, nil, types.DimensionMismatchf("%s: derivative of %d coefficients", b.Key(), len(p))
	}
	target = b.Parent()
	if order == 0 {
		return append([]float64(nil), p...), target, nil
	}
	dp = b.fam.derivative(p, order)
	sc := math.Pow(b.Scale(), float64(order))
	for i := range dp {
		dp[i] *= sc
	}
	switch b.Family {
	case types.Jacobi:
		target, err = New(types.Jacobi, b.N, types.BCPure,
			Jacobi(b.Alpha+float64(order), b.Beta+float64(order)),
			Domain(b.Domain[0], b.Domain[1]), Quadrature(b.Quadrature))
	case types.Hermite:
		target, err = New(types.Hermite, len(dp), types.BCPure)
	}
	return
}
