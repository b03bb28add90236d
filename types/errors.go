package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is returned at construction for unsupported
	// basis, boundary condition or size combinations.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrDimensionMismatch is returned when test and trial spaces, or an
	// array and a space, do not agree in size.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrSingularOperator is returned when an assembled system has a null
	// space the boundary conditions do not account for.
	ErrSingularOperator = errors.New("singular operator")
	// ErrIllConditioned is advisory. Solves carrying it still produce a
	// result.
	ErrIllConditioned = errors.New("ill-conditioned operator")
	// ErrAborted is returned from a collective call when another rank failed.
	ErrAborted = errors.New("process group aborted")
)

func InvalidConfigurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

func DimensionMismatchf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDimensionMismatch, fmt.Sprintf(format, args...))
}

// SingularOperatorError names the operator and, for batched solves, the
// fiber whose system was singular.
type SingularOperatorError struct {
	Operator string
	Fiber    []int
	NullDim  int
	Expected int
	Detail   string
}

func (e *SingularOperatorError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrSingularOperator, e.Operator)
	if len(e.Fiber) != 0 {
		msg += fmt.Sprintf(" at fiber %v", e.Fiber)
	}
	if e.NullDim != 0 || e.Expected != 0 {
		msg += fmt.Sprintf(", null space dimension %d (expected %d)", e.NullDim, e.Expected)
	}
	if e.Detail != "" {
		msg += ", " + e.Detail
	}
	return msg
}

func (e *SingularOperatorError) Unwrap() error { return ErrSingularOperator }
