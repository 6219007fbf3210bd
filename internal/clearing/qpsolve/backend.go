// Package qpsolve defines the QP backend contract the SCP driver treats as
// an opaque oracle (spec.md §4.3), plus two implementations: a debug
// projected-gradient variant for small instances, and a production
// operator-splitting (ADMM) backend for realistic order counts.
package qpsolve

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// Status is the backend's reported solve outcome (spec.md §4.3).
type Status int

const (
	Optimal Status = iota
	InfeasibleStatus
	Unbounded
	SolverFail
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "Optimal"
	case InfeasibleStatus:
		return "Infeasible"
	case Unbounded:
		return "Unbounded"
	case SolverFail:
		return "SolverFail"
	default:
		return "Unknown"
	}
}

// Problem is one QP subproblem: minimize 0.5 x'Px + q'x subject to
// l ≤ Ax ≤ u. Box constraints, the y_0=0 equality, trust-region bounds,
// limit-ratio half-spaces, and inventory bounds are all expressed as rows
// of (A, l, u); an equality constraint is simply a row with l == u.
//
// The builder allocates a new Problem for every SCP iteration; Problem
// buffers are not reused across iterations. This package never retains a
// Problem after Solve returns.
type Problem struct {
	N int // number of decision variables (n assets + K orders)
	P *mat.SymDense
	Q []float64

	A    *mat.Dense // m x N
	L, U []float64  // length m
}

// Result is the backend's solution and metadata (spec.md §4.3).
type Result struct {
	X          []float64
	Status     Status
	Iterations int
	Reason     string // populated when Status != Optimal
}

// Backend solves a convex QP to a KKT residual tolerance, honoring box and
// half-space constraints to at least 1e-8 residual (spec.md §4.3). The
// driver passes WarmStart (the previous iteration's primal solution, or
// nil) as a primal starting point only; no factorization or workspace is
// carried between Solve calls (ADMMBackend factorizes its KKT matrix anew
// on every call).
type Backend interface {
	Solve(ctx context.Context, p *Problem, warmStart []float64) (Result, error)
}

// ResidualTolerance is the minimum constraint-satisfaction precision every
// backend must honor (spec.md §4.3).
const ResidualTolerance = 1e-8
