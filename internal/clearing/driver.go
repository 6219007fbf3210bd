package clearing

import (
	"context"
	"math"

	"github.com/convexfx/convexfx/internal/clearing/qpsolve"
	"github.com/convexfx/convexfx/internal/numerics"
	"github.com/convexfx/convexfx/internal/risk"
)

// Driver config, per spec.md §4.4/§4.5.
const (
	maxSCPIterations = 50
	tauY             = 1e-4
	tauAlpha         = 1e-5
	lineSearchRho    = 0.5   // backtrack factor, in the spec's [0.3, 0.7] range
	lineSearchC1     = 1e-3  // Armijo fraction, in the spec's [1e-4, 1e-1] range
	maxBacktracks    = 10
	trustRegionGrow  = 2.0
	trustRegionShrinkAt = 0.2 // s below this triggers a δ shrink
)

// iterate is the SCP driver's mutable state (spec.md §4.4); it is the one
// piece of this package that is not purely functional, and it never escapes
// Clear.
type iterate struct {
	y     []float64
	alpha []float64
}

// Clear solves one epoch's clearing problem via Sequential Convex
// Programming (spec.md §4.4) and validates the result against the five
// local-law predicates (spec.md §4.7) before returning it.
func Clear(ctx context.Context, inst *EpochInstance, backend qpsolve.Backend) (*EpochSolution, error) {
	if err := inst.Validate(); err != nil {
		return nil, newInvalidInstance(err)
	}

	n := inst.Registry.Len()
	k := len(inst.Orders)

	cur := iterate{y: numerics.ZeroVec(n), alpha: numerics.ZeroVec(k)}
	for i, id := range inst.Registry.All() {
		cur.y[i] = inst.Ref.Y[id]
	}

	deltaBps := inst.Risk.DeltaInitBps
	var warmStart []float64
	var lastDiag Diagnostics
	var stepNormY, stepNormA float64
	converged := false

	it := 0
	for ; it < maxSCPIterations; it++ {
		select {
		case <-ctx.Done():
			return nil, newSolverFail("context cancelled", lastDiag)
		default:
		}

		delta := risk.DeltaHalfWidth(deltaBps)
		problem := Build(inst, cur.y, cur.alpha, delta)

		result, err := backend.Solve(ctx, problem, warmStart)
		if err != nil {
			return nil, newSolverFail(err.Error(), lastDiag)
		}
		if result.Status != qpsolve.Optimal {
			deltaBps *= 0.5
			if deltaBps < 1e-3 {
				return nil, newSolverFail("backend status "+result.Status.String()+" after trust-region shrink", lastDiag)
			}
			continue
		}
		warmStart = result.X

		candY := result.X[:n]
		candAlpha := result.X[n:]
		deltaY := make([]float64, n)
		deltaAlpha := make([]float64, k)
		for i := range deltaY {
			deltaY[i] = candY[i] - cur.y[i]
		}
		for i := range deltaAlpha {
			deltaAlpha[i] = candAlpha[i] - cur.alpha[i]
		}

		baseObj := Evaluate(inst, cur.y, cur.alpha)
		predictedDecrease := baseObj.Total - Evaluate(inst, candY, candAlpha).Total

		s := 1.0
		accepted := false
		backtracks := 0
		for ; backtracks <= maxBacktracks; backtracks++ {
			trialY := stepVec(cur.y, deltaY, s)
			trialAlpha := stepVec(cur.alpha, deltaAlpha, s)
			if !feasible(inst, trialY, trialAlpha) {
				s *= lineSearchRho
				continue
			}
			trialObj := Evaluate(inst, trialY, trialAlpha)
			actualDecrease := baseObj.Total - trialObj.Total
			if actualDecrease >= lineSearchC1*s*math.Max(predictedDecrease, 0) {
				accepted = true
				break
			}
			s *= lineSearchRho
		}

		if !accepted {
			// Stalled iteration (spec.md §4.4 step 3): shrink trust region
			// and retry from the same iterate rather than taking a step
			// that failed both feasibility and sufficient-decrease checks.
			deltaBps *= 0.5
			if deltaBps < 1e-3 {
				return nil, newSolverFail("line search stalled and trust region collapsed", lastDiag)
			}
			continue
		}

		stepNormY = numerics.InfNorm(scaleVec(deltaY, s))
		stepNormA = numerics.InfNorm(scaleVec(deltaAlpha, s))

		cur.y = stepVec(cur.y, deltaY, s)
		cur.alpha = stepVec(cur.alpha, deltaAlpha, s)

		// Trust-region adaptation (spec.md §4.4 step 5).
		switch {
		case s == 1:
			deltaBps = math.Min(deltaBps*trustRegionGrow, inst.Risk.BandBps)
		case s < trustRegionShrinkAt:
			deltaBps *= 0.5
		}

		obj := Evaluate(inst, cur.y, cur.alpha)
		lastDiag = Diagnostics{
			Iterations:     it + 1,
			FinalStepNormY: stepNormY,
			FinalStepNormA: stepNormA,
			Objective:      obj,
			BackendStatus:  result.Status.String(),
		}

		if stepNormY < tauY && stepNormA < tauAlpha {
			converged = true
			break
		}
	}

	lastDiag.Converged = converged
	if !converged {
		return nil, newDidNotConverge(lastDiag)
	}

	sol := reconstruct(inst, cur.y, cur.alpha, lastDiag)
	if v := validateSolution(inst, sol); v != nil {
		return nil, newInvalidClearing(v.Predicate, v.Reason, lastDiag)
	}
	return sol, nil
}

func stepVec(base, delta []float64, s float64) []float64 {
	out := append([]float64(nil), base...)
	numerics.AddScaled(out, delta, s)
	return out
}

func scaleVec(v []float64, s float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = s * v[i]
	}
	return out
}

// feasible rechecks the non-linearized constraints a candidate step must
// satisfy exactly (spec.md §4.4 step 3): the numeraire pin, the α box, the
// limit-ratio half-spaces, and (since it depends on the true, non-linearized
// β_k(y)) any configured inventory bounds.
func feasible(inst *EpochInstance, y, alpha []float64) bool {
	const eps = 1e-9
	if math.Abs(y[numerics.USD]) > eps {
		return false
	}
	for _, a := range alpha {
		if a < -eps || a > 1+eps {
			return false
		}
	}
	for _, o := range inst.Orders {
		if o.LimitRatio == nil {
			continue
		}
		if y[int(o.Receive)]-y[int(o.Pay)] > math.Log(*o.LimitRatio)+eps {
			return false
		}
	}
	if inst.QMin == nil && inst.QMax == nil {
		return true
	}
	q := reconstructInventory(inst, y, alpha)
	for i, id := range inst.Registry.All() {
		if lo, ok := inst.QMin[id]; ok && q[i] < lo-eps {
			return false
		}
		if hi, ok := inst.QMax[id]; ok && q[i] > hi+eps {
			return false
		}
	}
	return true
}
