package clearing

import "math"

// beta returns β_k(y) = exp(y_{pay} − y_{receive}) for order k (spec.md §4.1).
func beta(o Order, y []float64) float64 {
	return expClamped(y[o.Pay] - y[o.Receive])
}

// reconstructInventory computes q′(α)_i = q0_i + Σ_{r_k=i} α_k B_k β_k(y) −
// Σ_{p_k=i} α_k B_k (spec.md §4.1), indexed by asset slot (AssetID as int).
func reconstructInventory(inst *EpochInstance, y, alpha []float64) []float64 {
	n := inst.Registry.Len()
	q := make([]float64, n)
	for i, id := range inst.Registry.All() {
		q[i] = inst.Q0[id]
	}
	for k, o := range inst.Orders {
		flow := alpha[k] * o.Budget
		q[int(o.Pay)] -= flow
		q[int(o.Receive)] += flow * beta(o, y)
	}
	return q
}

// Evaluate computes J(y, α) and its three additive components at an
// arbitrary (not necessarily linearized) point, against the true,
// non-linearized β_k(y) (spec.md §4.1). The SCP driver's line search calls
// this on every trial step.
func Evaluate(inst *EpochInstance, y, alpha []float64) ObjectiveComponents {
	n := inst.Registry.Len()
	qStar := inst.qStarOrQ0()
	qPrime := reconstructInventory(inst, y, alpha)

	diffQ := make([]float64, n)
	diffY := make([]float64, n)
	for i, id := range inst.Registry.All() {
		diffQ[i] = qPrime[i] - qStar[id]
		diffY[i] = y[i] - inst.Ref.Y[id]
	}

	invRisk := 0.5 * quadForm(diffQ, inst.Risk.Gamma)
	tracking := 0.5 * quadForm(diffY, inst.Risk.W)

	fillIncentive := 0.0
	for k, o := range inst.Orders {
		fillIncentive -= inst.Risk.Eta * alpha[k] * o.Budget * beta(o, y)
	}

	return ObjectiveComponents{
		InventoryRisk: invRisk,
		PriceTracking: tracking,
		FillIncentive: fillIncentive,
		Total:         invRisk + tracking + fillIncentive,
	}
}

// quadForm returns 0.5-free x'Mx for a symmetric M (the caller applies the
// 0.5 that spec.md §4.1's J places in front of both quadratic terms).
func quadForm(x []float64, m symmetricAt) float64 {
	n := len(x)
	total := 0.0
	for i := 0; i < n; i++ {
		if x[i] == 0 {
			continue
		}
		row := 0.0
		for j := 0; j < n; j++ {
			if v := m.At(i, j); v != 0 {
				row += v * x[j]
			}
		}
		total += x[i] * row
	}
	return total
}

// symmetricAt is the narrow slice of gonum's mat.Symmetric this package
// needs, so objective/builder code doesn't have to import gonum/mat just to
// accept risk.Params' Gamma and W fields.
type symmetricAt interface {
	At(i, j int) float64
}

// expClamped guards exp against overflow from a pathological trust-region
// excursion; the trust region keeps y within a few basis points of y_ref in
// practice, so this only ever bites a genuinely broken iterate.
func expClamped(x float64) float64 {
	const bound = 50.0 // exp(50) already dwarfs any realistic budget*price product
	if x > bound {
		x = bound
	} else if x < -bound {
		x = -bound
	}
	return math.Exp(x)
}
