package InputParameters

import (
	"fmt"
	"strings"

	"github.com/ghodss/yaml"

	"github.com/notargets/gospectral/basis"
	"github.com/notargets/gospectral/equations"
	"github.com/notargets/gospectral/solver"
	"github.com/notargets/gospectral/space"
	"github.com/notargets/gospectral/types"
)

// AxisParameters describe one basis of the tensor product
type AxisParameters struct {
	Family     string    `json:"Family"`
	Size       int       `json:"Size"` // A bare N key reads as false under YAML 1.1
	BC         string    `json:"BC"`
	BCValues   []float64 `json:"BCValues,omitempty"`
	Domain     []float64 `json:"Domain,omitempty"` // Omitted for the reference domain
	Alpha      float64   `json:"Alpha,omitempty"`
	Beta       float64   `json:"Beta,omitempty"`
	Quadrature string    `json:"Quadrature,omitempty"`
	Modes      int       `json:"Modes,omitempty"`
}

// Parameters obtained from the YAML problem file
type ProblemParameters struct {
	Title         string           `json:"Title"`
	Equation      string           `json:"Equation"`
	Shift         float64          `json:"Shift"`
	Axes          []AxisParameters `json:"Axes"`
	Procs         int              `json:"Procs"`
	Decomposition string           `json:"Decomposition"` // pencil or slab
	CondThreshold float64          `json:"CondThreshold"`
	Strategy      string           `json:"Strategy"`
}

func (pp *ProblemParameters) Parse(data []byte) (err error) {
	if err = yaml.Unmarshal(data, pp); err != nil {
		return
	}
	if pp.Procs == 0 {
		pp.Procs = 1
	}
	if pp.Decomposition == "" {
		pp.Decomposition = "pencil"
	}
	if len(pp.Axes) == 0 {
		return types.InvalidConfigurationf("problem %q has no axes", pp.Title)
	}
	return
}

func (pp *ProblemParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", pp.Title)
	fmt.Printf("[%s]\t\t= Equation\n", pp.Equation)
	fmt.Printf("%8.5f\t\t= Shift\n", pp.Shift)
	fmt.Printf("[%d]\t\t\t= Procs\n", pp.Procs)
	fmt.Printf("[%s]\t\t= Decomposition\n", pp.Decomposition)
	for a, ax := range pp.Axes {
		fmt.Printf("Axes[%d] = %s N=%d BC=%s", a, ax.Family, ax.Size, ax.BC)
		if len(ax.Domain) != 0 {
			fmt.Printf(" Domain=%v", ax.Domain)
		}
		if len(ax.BCValues) != 0 {
			fmt.Printf(" BCValues=%v", ax.BCValues)
		}
		fmt.Println()
	}
}

// Resized returns a copy with every axis shifted so the first has n points.
// The offsets between axes are kept.
func (pp *ProblemParameters) Resized(n int) *ProblemParameters {
	q := *pp
	q.Axes = append([]AxisParameters(nil), pp.Axes...)
	for a := range q.Axes {
		q.Axes[a].Size = n + pp.Axes[a].Size - pp.Axes[0].Size
	}
	return &q
}

func (ax AxisParameters) Basis() (b *basis.Basis, err error) {
	var (
		fam  types.Family
		bc   = types.BCPure
		opts []basis.Option
	)
	if fam, err = types.NewFamily(ax.Family); err != nil {
		return
	}
	if ax.BC != "" {
		if bc, err = types.NewBCKind(ax.BC); err != nil {
			return
		}
	}
	switch len(ax.Domain) {
	case 0:
	case 2:
		opts = append(opts, basis.Domain(ax.Domain[0], ax.Domain[1]))
	default:
		return nil, types.InvalidConfigurationf("domain needs two end points, have %v", ax.Domain)
	}
	if len(ax.BCValues) != 0 {
		opts = append(opts, basis.BCValues(ax.BCValues...))
	}
	if ax.Alpha != 0 || ax.Beta != 0 {
		opts = append(opts, basis.Jacobi(ax.Alpha, ax.Beta))
	}
	if ax.Quadrature != "" {
		var q types.QuadratureKind
		if q, err = types.NewQuadratureKind(ax.Quadrature); err != nil {
			return
		}
		opts = append(opts, basis.Quadrature(q))
	}
	if ax.Modes != 0 {
		opts = append(opts, basis.Modes(ax.Modes))
	}
	return basis.New(fam, ax.Size, bc, opts...)
}

func (pp *ProblemParameters) Bases() (bases []*basis.Basis, err error) {
	bases = make([]*basis.Basis, len(pp.Axes))
	for a, ax := range pp.Axes {
		if bases[a], err = ax.Basis(); err != nil {
			return nil, fmt.Errorf("axis %d: %w", a, err)
		}
	}
	return
}

func (pp *ProblemParameters) Problem() (p *equations.Problem, err error) {
	var (
		kind  equations.Kind
		bases []*basis.Basis
	)
	if kind, err = equations.NewKind(pp.Equation); err != nil {
		return
	}
	if bases, err = pp.Bases(); err != nil {
		return
	}
	return equations.NewProblem(kind, pp.Shift, bases)
}

func (pp *ProblemParameters) TensorOptions() (opts []space.TensorOption, err error) {
	switch strings.ToLower(pp.Decomposition) {
	case "", "pencil":
	case "slab":
		opts = append(opts, space.Slab())
	default:
		err = types.InvalidConfigurationf("unknown decomposition %q, want pencil or slab", pp.Decomposition)
	}
	return
}

func (pp *ProblemParameters) SolverOptions() (opts []solver.Option, err error) {
	if pp.CondThreshold != 0 {
		opts = append(opts, solver.WithCondThreshold(pp.CondThreshold))
	}
	if pp.Strategy != "" {
		var s solver.Strategy
		if s, err = solver.NewStrategy(pp.Strategy); err != nil {
			return
		}
		opts = append(opts, solver.WithStrategy(s))
	}
	return
}
