package utils

const (
	// EPS is the float64 unit roundoff.
	EPS = 2.220446049250313e-16
	// DefaultCondThreshold is the condition number above which a solve is
	// flagged as ill-conditioned.
	DefaultCondThreshold = 1.e12
)
