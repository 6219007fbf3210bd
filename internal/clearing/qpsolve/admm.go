package qpsolve

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ADMMBackend is the production-grade QP backend: an operator-splitting
// (ADMM) solver in the style of OSQP, handling the problem in its general
// l ≤ Ax ≤ u form (spec.md §4.3 "production-grade solver required at
// scale"). It factorizes one (n+m)x(n+m) KKT matrix per Solve call and
// reuses that factorization across iterations, which is where it earns
// its keep over the debug PGDBackend once K (and so m) grows.
//
// This targets the dense regime spec.md §9 documents as sufficient
// (≤~16 assets, ≤~500 orders); a >500-order deployment should exploit the
// block structure spec.md §9 describes (Γ/W block plus four-entry-per-order
// fill cross terms) with a sparse factorization instead.
type ADMMBackend struct {
	MaxIterations int
	Rho           float64
	Sigma         float64
	Alpha         float64 // over-relaxation factor, typically in [1.5, 1.8]
	Tolerance     float64
}

// NewADMMBackend returns an ADMMBackend with OSQP-typical defaults.
func NewADMMBackend() *ADMMBackend {
	return &ADMMBackend{
		MaxIterations: 400,
		Rho:           1.0,
		Sigma:         1e-6,
		Alpha:         1.6,
		Tolerance:     1e-8,
	}
}

func (b *ADMMBackend) Solve(ctx context.Context, p *Problem, warmStart []float64) (Result, error) {
	n := p.N
	m, _ := p.A.Dims()
	size := n + m

	x := make([]float64, n)
	if len(warmStart) == n {
		copy(x, warmStart)
	}
	z := make([]float64, m)
	for r := 0; r < m; r++ {
		z[r] = dotRow(p.A, r, x)
	}
	y := make([]float64, m)

	kkt := mat.NewDense(size, size, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := p.P.At(i, j)
			if i == j {
				v += b.Sigma
			}
			kkt.Set(i, j, v)
		}
	}
	for r := 0; r < m; r++ {
		for i := 0; i < n; i++ {
			v := p.A.At(r, i)
			kkt.Set(i, n+r, v)
			kkt.Set(n+r, i, v)
		}
		kkt.Set(n+r, n+r, -1.0/b.Rho)
	}

	var lu mat.LU
	lu.Factorize(kkt)

	rhs := mat.NewVecDense(size, nil)
	sol := mat.NewVecDense(size, nil)

	status := SolverFail
	reason := "max iterations reached without convergence"
	iterations := 0

	for it := 0; it < b.MaxIterations; it++ {
		iterations = it + 1
		select {
		case <-ctx.Done():
			return Result{X: x, Status: SolverFail, Iterations: iterations, Reason: "context cancelled"}, ctx.Err()
		default:
		}

		for i := 0; i < n; i++ {
			rhs.SetVec(i, b.Sigma*x[i]-p.Q[i])
		}
		for r := 0; r < m; r++ {
			rhs.SetVec(n+r, z[r]-y[r]/b.Rho)
		}
		if err := lu.SolveVecTo(sol, false, rhs); err != nil {
			return Result{X: x, Status: SolverFail, Iterations: iterations, Reason: "KKT factorization is singular"}, nil
		}

		xNew := make([]float64, n)
		zRelaxed := make([]float64, m)
		zNew := make([]float64, m)
		yNew := make([]float64, m)

		for i := 0; i < n; i++ {
			xtilde := sol.AtVec(i)
			xNew[i] = b.Alpha*xtilde + (1-b.Alpha)*x[i]
		}
		for r := 0; r < m; r++ {
			nu := sol.AtVec(n + r)
			ztilde := z[r] + (nu-y[r])/b.Rho
			zRelaxed[r] = b.Alpha*ztilde + (1-b.Alpha)*z[r]
			candidate := zRelaxed[r] + y[r]/b.Rho
			zNew[r] = clamp(candidate, p.L[r], p.U[r])
			yNew[r] = y[r] + b.Rho*(zRelaxed[r]-zNew[r])
		}

		primalResidual := 0.0
		for r := 0; r < m; r++ {
			ax := dotRow(p.A, r, xNew)
			if d := math.Abs(ax - zNew[r]); d > primalResidual {
				primalResidual = d
			}
		}
		dualResidual := 0.0
		grad := make([]float64, n) // Px + q, reused as the dual residual base
		computeGradient(p, xNew, grad)
		for i := 0; i < n; i++ {
			aty := 0.0
			for r := 0; r < m; r++ {
				v := p.A.At(r, i)
				if v != 0 {
					aty += v * yNew[r]
				}
			}
			if d := math.Abs(grad[i] + aty); d > dualResidual {
				dualResidual = d
			}
		}

		x, z, y = xNew, zNew, yNew

		if primalResidual < b.Tolerance && dualResidual < b.Tolerance {
			status = Optimal
			reason = ""
			break
		}
	}

	return Result{X: x, Status: status, Iterations: iterations, Reason: reason}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
