package clearing

import (
	"math"

	"github.com/convexfx/convexfx/internal/clearing/qpsolve"
	"github.com/convexfx/convexfx/internal/numerics"
	"gonum.org/v1/gonum/mat"
)

// alphaRegularizer is the small convex diagonal term spec.md §4.2/§4.5 adds
// to the α block as a second-order correction, stabilizing the y/α coupling.
const alphaRegularizer = 1e-4

// hessianEpsilon is the strict-convexity regularizer spec.md §4.2 adds to W.
const hessianEpsilon = 1e-6

// unboundedSentinel stands in for an absent box/inventory bound. It is far
// outside any realistic log-price or inventory magnitude so it never binds.
const unboundedSentinel = 1e18

// inventoryJacobian is dq'_i/dx_j evaluated at the current iterate, built
// once per QP and reused both for the inventory-risk linear term and the
// optional inventory-bound constraint rows.
type inventoryJacobian struct {
	rows [][]float64 // n rows, each length N
}

// buildJacobian linearizes α_k·β_k(y) around (y^(t), α^(t)) per spec.md
// §4.2: β_k(y) ≈ β_k^(t)·(1 + Δy_{p_k} − Δy_{r_k}), so α_k·β_k(y) ≈
// β_k^(t)·α_k + α_k^(t)·β_k^(t)·(y_{p_k} − y_{r_k} − y_{p_k}^(t) + y_{r_k}^(t)).
// The resulting per-asset row is exact-at-the-expansion-point and affine in
// x = (y, α), which is what lets the Γ-quadratic's contribution to the QP
// reduce to a single gradient evaluation rather than a further
// approximation.
func buildJacobian(inst *EpochInstance, yT, alphaT []float64, beta []float64) *inventoryJacobian {
	n := inst.Registry.Len()
	k := len(inst.Orders)
	nVars := n + k
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, nVars)
	}
	for idx, o := range inst.Orders {
		b := o.Budget
		betaT := beta[idx]
		a := alphaT[idx]
		p, r := int(o.Pay), int(o.Receive)

		rows[r][n+idx] += b * betaT
		rows[r][p] += b * a * betaT
		rows[r][r] -= b * a * betaT
		rows[p][n+idx] -= b
	}
	return &inventoryJacobian{rows: rows}
}

func (j *inventoryJacobian) dot(row int, x []float64) float64 {
	s := 0.0
	for col, v := range j.rows[row] {
		if v != 0 {
			s += v * x[col]
		}
	}
	return s
}

// betasAt returns β_k(y) for every order, evaluated (not linearized) at y.
func betasAt(inst *EpochInstance, y []float64) []float64 {
	out := make([]float64, len(inst.Orders))
	for k, o := range inst.Orders {
		out[k] = beta(o, y)
	}
	return out
}

// Build constructs one SCP iteration's QP subproblem around the current
// iterate (yT, alphaT) (spec.md §4.2). delta is the trust-region half-width
// in log-price units (risk.DeltaHalfWidth of the current δ^(t) in bps).
func Build(inst *EpochInstance, yT, alphaT []float64, delta float64) *qpsolve.Problem {
	n := inst.Registry.Len()
	k := len(inst.Orders)
	nVars := n + k

	beta := betasAt(inst, yT)
	jac := buildJacobian(inst, yT, alphaT, beta)
	qPrimeT := reconstructInventory(inst, yT, alphaT)
	qStar := inst.qStarOrQ0()

	xT := make([]float64, nVars)
	copy(xT[:n], yT)
	copy(xT[n:], alphaT)

	// Hessian: block-diag(W+εI, alphaRegularizer·I) (spec.md §4.2).
	hess := mat.NewSymDense(nVars, nil)
	for i := 0; i < n; i++ {
		for jCol := i; jCol < n; jCol++ {
			v := inst.Risk.W.At(i, jCol)
			if i == jCol {
				v += hessianEpsilon
			}
			hess.SetSym(i, jCol, v)
		}
	}
	for i := n; i < nVars; i++ {
		hess.SetSym(i, i, alphaRegularizer)
	}

	qLin := make([]float64, nVars)

	// Price-tracking linear term: gradient of 0.5(y-y_ref)'W(y-y_ref) is
	// W*y - W*y_ref, so the QP's linear part (§4.2's q_lin) gets -W*y_ref
	// (exact, W is not linearized).
	assets := inst.Registry.All()
	for i := 0; i < n; i++ {
		for jCol := 0; jCol < n; jCol++ {
			qLin[i] -= inst.Risk.W.At(i, jCol) * inst.Ref.Y[assets[jCol]]
		}
	}

	// Inventory-risk linear term: ∇_x 0.5(q'-q*)'Γ(q'-q*) evaluated at the
	// current iterate is Jᵀ·Γ·(q'_t - q*), where J is the Jacobian above
	// (spec.md §4.2 "gradient contributions from the Γ-quadratic").
	diffQ := make([]float64, n)
	for i, id := range inst.Registry.All() {
		diffQ[i] = qPrimeT[i] - qStar[id]
	}
	gradQ := make([]float64, n)
	for i := 0; i < n; i++ {
		s := 0.0
		for jRow := 0; jRow < n; jRow++ {
			if v := inst.Risk.Gamma.At(i, jRow); v != 0 {
				s += v * diffQ[jRow]
			}
		}
		gradQ[i] = s
	}
	for col := 0; col < nVars; col++ {
		s := 0.0
		for i := 0; i < n; i++ {
			if v := jac.rows[i][col]; v != 0 {
				s += v * gradQ[i]
			}
		}
		qLin[col] += s
	}

	// Fill-incentive linear term: linearize -η·α_k·B_k·β_k(y) the same way
	// as the Γ term's bilinear piece (spec.md §4.2).
	for idx, o := range inst.Orders {
		b := o.Budget
		betaT := beta[idx]
		a := alphaT[idx]
		p, r := int(o.Pay), int(o.Receive)
		qLin[n+idx] += -inst.Risk.Eta * b * betaT
		qLin[p] += -inst.Risk.Eta * b * a * betaT
		qLin[r] += inst.Risk.Eta * b * a * betaT
	}

	rows := make([][]float64, 0, nVars+k+n)
	lows := make([]float64, 0, cap(rows))
	ups := make([]float64, 0, cap(rows))

	// Box rows: trust region on y (row i = identity at asset i), numeraire
	// pinned to an equality (spec.md §4.1 "y_0 = 0").
	for i, id := range inst.Registry.All() {
		row := make([]float64, nVars)
		row[i] = 1
		rows = append(rows, row)
		if id == numerics.USD {
			lows = append(lows, 0)
			ups = append(ups, 0)
			continue
		}
		lows = append(lows, yT[i]-delta)
		ups = append(ups, yT[i]+delta)
	}
	// Box rows: α ∈ [0,1].
	for idx := 0; idx < k; idx++ {
		row := make([]float64, nVars)
		row[n+idx] = 1
		rows = append(rows, row)
		lows = append(lows, 0)
		ups = append(ups, 1)
	}
	// Limit-ratio half-spaces: y_r - y_p ≤ ln(L_k) (spec.md §4.1).
	for idx, o := range inst.Orders {
		if o.LimitRatio == nil {
			continue
		}
		row := make([]float64, nVars)
		row[int(o.Receive)] += 1
		row[int(o.Pay)] -= 1
		rows = append(rows, row)
		lows = append(lows, -unboundedSentinel)
		ups = append(ups, math.Log(*o.LimitRatio))
	}
	// Inventory bounds, linearized at the current iterate (spec.md §4.1
	// "evaluated at the current y linearization").
	if inst.QMin != nil || inst.QMax != nil {
		for i, id := range inst.Registry.All() {
			lo, hasLo := inst.QMin[id]
			hi, hasHi := inst.QMax[id]
			if !hasLo && !hasHi {
				continue
			}
			if !hasLo {
				lo = -unboundedSentinel
			}
			if !hasHi {
				hi = unboundedSentinel
			}
			offset := jac.dot(i, xT) - qPrimeT[i]
			rows = append(rows, append([]float64(nil), jac.rows[i]...))
			lows = append(lows, lo+offset)
			ups = append(ups, hi+offset)
		}
	}

	m := len(rows)
	a := mat.NewDense(m, nVars, nil)
	for r, row := range rows {
		for c, v := range row {
			if v != 0 {
				a.Set(r, c, v)
			}
		}
	}

	return &qpsolve.Problem{
		N: nVars,
		P: hess,
		Q: qLin,
		A: a,
		L: lows,
		U: ups,
	}
}
