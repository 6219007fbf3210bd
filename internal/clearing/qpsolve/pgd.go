package qpsolve

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PGDBackend is the debug projected-gradient backend spec.md §4.3 calls
// for "sanity (small K, loose tolerances)". It requires the Problem's
// first N rows of A to be the identity (one row per variable, the box
// constraint on that variable); any further rows (limit-ratio half-spaces,
// inventory bounds) are enforced as a quadratic penalty rather than an
// exact projection, which is what makes this a "naive" variant rather than
// a general QP solver.
type PGDBackend struct {
	MaxIterations int
	PenaltyWeight float64
	Tolerance     float64
}

// NewPGDBackend returns a PGDBackend with defaults suited to the small
// instances (≤16 assets, a handful of orders) this backend targets.
func NewPGDBackend() *PGDBackend {
	return &PGDBackend{MaxIterations: 5000, PenaltyWeight: 1e4, Tolerance: 1e-7}
}

func (b *PGDBackend) Solve(ctx context.Context, p *Problem, warmStart []float64) (Result, error) {
	n := p.N
	x := make([]float64, n)
	if len(warmStart) == n {
		copy(x, warmStart)
	}
	boxLower, boxUpper := x[:0:0], x[:0:0]
	boxLower = append(boxLower, p.L[:n]...)
	boxUpper = append(boxUpper, p.U[:n]...)
	projectBox(x, boxLower, boxUpper)

	step := 1.0 / lipschitzEstimate(p.P, p.A, n, b.PenaltyWeight)
	grad := make([]float64, n)

	m, _ := p.A.Dims()
	iterations := 0
	for it := 0; it < b.MaxIterations; it++ {
		iterations = it + 1
		select {
		case <-ctx.Done():
			return Result{X: x, Status: SolverFail, Iterations: iterations, Reason: "context cancelled"}, ctx.Err()
		default:
		}

		computeGradient(p, x, grad)
		for row := n; row < m; row++ {
			val := dotRow(p.A, row, x)
			lo, hi := p.L[row], p.U[row]
			var viol float64
			switch {
			case val > hi:
				viol = val - hi
			case val < lo:
				viol = val - lo
			default:
				continue
			}
			addScaledRow(grad, p.A, row, b.PenaltyWeight*viol)
		}

		maxDelta := 0.0
		for i := 0; i < n; i++ {
			next := x[i] - step*grad[i]
			if next < boxLower[i] {
				next = boxLower[i]
			} else if next > boxUpper[i] {
				next = boxUpper[i]
			}
			if d := math.Abs(next - x[i]); d > maxDelta {
				maxDelta = d
			}
			x[i] = next
		}
		if maxDelta < b.Tolerance {
			break
		}
	}

	maxViolation := 0.0
	for row := n; row < m; row++ {
		val := dotRow(p.A, row, x)
		lo, hi := p.L[row], p.U[row]
		if val > hi+maxViolation {
			maxViolation = val - hi
		}
		if lo-val > maxViolation {
			maxViolation = lo - val
		}
	}

	status := Optimal
	reason := ""
	if maxViolation > 1e-4 {
		status = SolverFail
		reason = "penalty projection did not reach feasibility within tolerance"
	}
	return Result{X: x, Status: status, Iterations: iterations, Reason: reason}, nil
}

func projectBox(x, lower, upper []float64) {
	for i := range x {
		if x[i] < lower[i] {
			x[i] = lower[i]
		} else if x[i] > upper[i] {
			x[i] = upper[i]
		}
	}
}

func computeGradient(p *Problem, x, grad []float64) {
	for i := 0; i < p.N; i++ {
		grad[i] = p.Q[i]
	}
	for i := 0; i < p.N; i++ {
		for j := 0; j < p.N; j++ {
			v := p.P.At(i, j)
			if v != 0 {
				grad[i] += v * x[j]
			}
		}
	}
}

func dotRow(a interface{ At(i, j int) float64 }, row int, x []float64) float64 {
	s := 0.0
	for j := range x {
		v := a.At(row, j)
		if v != 0 {
			s += v * x[j]
		}
	}
	return s
}

func addScaledRow(grad []float64, a interface{ At(i, j int) float64 }, row int, scale float64) {
	for j := range grad {
		v := a.At(row, j)
		if v != 0 {
			grad[j] += scale * v
		}
	}
}

// lipschitzEstimate bounds the curvature of the penalized objective: the
// Gershgorin row-sum bound on P plus penalty·‖a_row‖² for every constraint
// row beyond the first n (the rows enforced by quadratic penalty), giving a
// safe (if conservative) fixed step size.
func lipschitzEstimate(p *mat.SymDense, a *mat.Dense, n int, penalty float64) float64 {
	l := 0.0
	for i := 0; i < n; i++ {
		rowSum := 0.0
		for j := 0; j < n; j++ {
			rowSum += math.Abs(p.At(i, j))
		}
		if rowSum > l {
			l = rowSum
		}
	}
	m, _ := a.Dims()
	for row := n; row < m; row++ {
		sq := 0.0
		for j := 0; j < n; j++ {
			v := a.At(row, j)
			sq += v * v
		}
		l += penalty * sq
	}
	if l < 1e-6 {
		l = 1e-6
	}
	return l * 4 // extra headroom on the step size
}
