package types

import (
	"fmt"
	"strings"
)

// BCKind is the boundary condition combination a basis satisfies exactly.
type BCKind uint8

const (
	BCPure BCKind = iota
	BCDirichlet
	BCNeumann
	// BCBiharmonic fixes value and first derivative at both ends
	BCBiharmonic
	// BCDirichletNeumann fixes u at the left end and u' at the right end
	BCDirichletNeumann
	// BCNeumannDirichlet fixes u' at the left end and u at the right end
	BCNeumannDirichlet
)

var BCKindNameMap = map[string]BCKind{
	"":                 BCPure,
	"none":             BCPure,
	"pure":             BCPure,
	"dirichlet":        BCDirichlet,
	"d":                BCDirichlet,
	"neumann":          BCNeumann,
	"n":                BCNeumann,
	"biharmonic":       BCBiharmonic,
	"b":                BCBiharmonic,
	"dirichletneumann": BCDirichletNeumann,
	"dn":               BCDirichletNeumann,
	"neumanndirichlet": BCNeumannDirichlet,
	"nd":               BCNeumannDirichlet,
}

func (bc BCKind) String() string {
	switch bc {
	case BCPure:
		return "Pure"
	case BCDirichlet:
		return "Dirichlet"
	case BCNeumann:
		return "Neumann"
	case BCBiharmonic:
		return "Biharmonic"
	case BCDirichletNeumann:
		return "DirichletNeumann"
	case BCNeumannDirichlet:
		return "NeumannDirichlet"
	}
	return fmt.Sprintf("BCKind(%d)", uint8(bc))
}

// Functional is one boundary condition: the derivative Order evaluated at
// the Left or right end of the domain.
type Functional struct {
	Left  bool
	Order int
}

// Functionals lists the boundary conditions of the kind in the order the
// boundary values are supplied.
func (bc BCKind) Functionals() []Functional {
	switch bc {
	case BCDirichlet:
		return []Functional{{true, 0}, {false, 0}}
	case BCNeumann:
		return []Functional{{true, 1}, {false, 1}}
	case BCBiharmonic:
		return []Functional{{true, 0}, {false, 0}, {true, 1}, {false, 1}}
	case BCDirichletNeumann:
		return []Functional{{true, 0}, {false, 1}}
	case BCNeumannDirichlet:
		return []Functional{{true, 1}, {false, 0}}
	}
	return nil
}

// Count is the number of boundary conditions.
func (bc BCKind) Count() int { return len(bc.Functionals()) }

func NewBCKind(name string) (bc BCKind, err error) {
	var ok bool
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "-", ""))
	if bc, ok = BCKindNameMap[key]; !ok {
		err = InvalidConfigurationf("unknown boundary condition %q", name)
	}
	return
}
