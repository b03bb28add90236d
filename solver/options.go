package solver

import (
	"fmt"
	"strings"

	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

type Strategy uint8

const (
	Auto Strategy = iota
	Diagonal
	UpperTriangular
	Banded
	DenseLU
)

func (s Strategy) String() string {
	switch s {
	case Auto:
		return "Auto"
	case Diagonal:
		return "Diagonal"
	case UpperTriangular:
		return "UpperTriangular"
	case Banded:
		return "Banded"
	case DenseLU:
		return "DenseLU"
	}
	return fmt.Sprintf("Strategy(%d)", uint8(s))
}

var StrategyNameMap = map[string]Strategy{
	"auto":            Auto,
	"diagonal":        Diagonal,
	"uppertriangular": UpperTriangular,
	"banded":          Banded,
	"denselu":         DenseLU,
}

func NewStrategy(name string) (s Strategy, err error) {
	var ok bool
	if s, ok = StrategyNameMap[strings.ToLower(strings.TrimSpace(name))]; !ok {
		err = types.InvalidConfigurationf("unknown solve strategy %q", name)
	}
	return
}

type options struct {
	strategy      Strategy
	condThreshold float64
	constraint    *constraint
}

type constraint struct {
	index []int
	value float64
}

type Option func(o *options)

func newOptions(opts []Option) (o options) {
	o.condThreshold = utils.DefaultCondThreshold
	for _, opt := range opts {
		opt(&o)
	}
	return
}

// WithStrategy forces the factorization used for every 1-d system.
func WithStrategy(s Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithCondThreshold sets the condition number above which a solve is
// reported as ill-conditioned.
func WithCondThreshold(c float64) Option {
	return func(o *options) { o.condThreshold = c }
}

// WithConstraint pins the solution coefficient at the global multi-index to
// value. It fixes the one dimensional null space of pure Neumann or periodic
// problems and is ignored for nonsingular operators.
func WithConstraint(index []int, value float64) Option {
	return func(o *options) {
		o.constraint = &constraint{index: append([]int(nil), index...), value: value}
	}
}

// Report carries the advisory conditioning of a solve.
type Report struct {
	Cond           float64
	IllConditioned bool
	Operator       string
}

// Err is ErrIllConditioned wrapped with the estimate, or nil.
func (r Report) Err() error {
	if !r.IllConditioned {
		return nil
	}
	return fmt.Errorf("%w: %s condition estimate %.3g", types.ErrIllConditioned, r.Operator, r.Cond)
}

// merge keeps the worst conditioned of r and s.
func (r Report) merge(s Report) Report {
	if s.Cond > r.Cond {
		r.Cond, r.Operator = s.Cond, s.Operator
	}
	r.IllConditioned = r.IllConditioned || s.IllConditioned
	return r
}
