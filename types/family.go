package types

import (
	"fmt"
	"strings"
)

// Family identifies an orthogonal basis family.
type Family uint8

const (
	Chebyshev Family = iota
	Legendre
	Jacobi
	Fourier
	Hermite
	Laguerre
)

var FamilyNameMap = map[string]Family{
	"chebyshev": Chebyshev,
	"c":         Chebyshev,
	"legendre":  Legendre,
	"l":         Legendre,
	"jacobi":    Jacobi,
	"j":         Jacobi,
	"fourier":   Fourier,
	"f":         Fourier,
	"hermite":   Hermite,
	"h":         Hermite,
	"laguerre":  Laguerre,
	"la":        Laguerre,
}

func (f Family) String() string {
	switch f {
	case Chebyshev:
		return "Chebyshev"
	case Legendre:
		return "Legendre"
	case Jacobi:
		return "Jacobi"
	case Fourier:
		return "Fourier"
	case Hermite:
		return "Hermite"
	case Laguerre:
		return "Laguerre"
	}
	return fmt.Sprintf("Family(%d)", uint8(f))
}

// Polynomial is true for the families living on a finite interval mapped to
// [-1,1].
func (f Family) Polynomial() bool {
	return f == Chebyshev || f == Legendre || f == Jacobi
}

func NewFamily(name string) (f Family, err error) {
	var ok bool
	if f, ok = FamilyNameMap[strings.ToLower(strings.TrimSpace(name))]; !ok {
		err = InvalidConfigurationf("unknown basis family %q", name)
	}
	return
}

// QuadratureKind selects the point set of a polynomial family.
type QuadratureKind uint8

const (
	// GaussQuad is the default Gauss rule of the family.
	GaussQuad QuadratureKind = iota
	// GaussLobattoQuad includes the endpoints.
	GaussLobattoQuad
)

var QuadratureNameMap = map[string]QuadratureKind{
	"":             GaussQuad,
	"gc":           GaussQuad,
	"lg":           GaussQuad,
	"gl":           GaussLobattoQuad,
	"gauss":        GaussQuad,
	"gausslobatto": GaussLobattoQuad,
}

func (q QuadratureKind) String() string {
	if q == GaussLobattoQuad {
		return "GaussLobatto"
	}
	return "Gauss"
}

func NewQuadratureKind(name string) (q QuadratureKind, err error) {
	var ok bool
	if q, ok = QuadratureNameMap[strings.ToLower(strings.TrimSpace(name))]; !ok {
		err = InvalidConfigurationf("unknown quadrature %q", name)
	}
	return
}
