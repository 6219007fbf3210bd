package clearing

import (
	"fmt"

	"github.com/convexfx/convexfx/internal/clearing/lawcheck"
)

// Kind is the tag distinguishing the clearing engine's failure modes
// (spec.md §7). Each carries structured diagnostics, never a bare string.
type Kind int

const (
	// InvalidInstance: malformed input, detected at entry; clearing never starts.
	InvalidInstance Kind = iota
	// SolverFail: the QP backend kept returning non-optimal while the trust
	// region was halved down to its minimum, the backend returned an error,
	// the line search collapsed, or the context was cancelled.
	SolverFail
	// DidNotConverge: max SCP iterations hit with step norms still above
	// (τ_y, τ_α).
	DidNotConverge
	// Infeasible: the constraints mutually exclude any point.
	Infeasible
	// InvalidClearing: a post-solve local-law predicate fired.
	InvalidClearing
)

func (k Kind) String() string {
	switch k {
	case InvalidInstance:
		return "InvalidInstance"
	case SolverFail:
		return "SolverFail"
	case DidNotConverge:
		return "DidNotConverge"
	case Infeasible:
		return "Infeasible"
	case InvalidClearing:
		return "InvalidClearing"
	default:
		return "Unknown"
	}
}

// ClearingError is the sum-typed error the engine returns. It carries
// whatever diagnostics were available at the point of failure and, for
// InvalidClearing, the specific predicate that fired.
type ClearingError struct {
	Kind        Kind
	Predicate   lawcheck.Predicate // only meaningful when Kind == InvalidClearing
	Reason      string             // backend-reported reason, or a human summary
	Diagnostics Diagnostics        // last known iterate/diagnostics, if any
	err         error              // wrapped cause, if any
}

func (e *ClearingError) Error() string {
	if e.Kind == InvalidClearing {
		return fmt.Sprintf("clearing: invalid clearing, predicate %s failed: %s", e.Predicate, e.Reason)
	}
	return fmt.Sprintf("clearing: %s: %s", e.Kind, e.Reason)
}

func (e *ClearingError) Unwrap() error { return e.err }

func newInvalidInstance(err error) *ClearingError {
	return &ClearingError{Kind: InvalidInstance, Reason: err.Error(), err: err}
}

func newSolverFail(reason string, diag Diagnostics) *ClearingError {
	return &ClearingError{Kind: SolverFail, Reason: reason, Diagnostics: diag}
}

func newDidNotConverge(diag Diagnostics) *ClearingError {
	return &ClearingError{Kind: DidNotConverge, Reason: "max SCP iterations reached without convergence", Diagnostics: diag}
}

func newInfeasible(reason string) *ClearingError {
	return &ClearingError{Kind: Infeasible, Reason: reason}
}

func newInvalidClearing(pred lawcheck.Predicate, reason string, diag Diagnostics) *ClearingError {
	return &ClearingError{Kind: InvalidClearing, Predicate: pred, Reason: reason, Diagnostics: diag}
}
