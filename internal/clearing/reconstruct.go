package clearing

import (
	"github.com/convexfx/convexfx/internal/clearing/lawcheck"
	"github.com/convexfx/convexfx/internal/numerics"
)

// epsFill is the fill-amount floor spec.md §4.5 fixes: anything at or below
// it is treated as unfilled, absorbing QP rounding noise without masking a
// real solver error.
const epsFill = 1e-8

// repairMinFill applies spec.md §4.6's min-fill policy to the SCP driver's
// converged α*: orders with ε_fill < α*_k < m_k are infeasible as revealed
// (the trader asked for "all or (at least) m_k"), so each is either dropped
// (α_k → 0) or lifted to its floor. This implementation's policy, per
// spec.md §4.6's "choice is policy; default is drop", always drops: lifting
// requires re-solving one more SCP iteration with α_k lower-bounded, which
// this engine does not attempt mid-reconstruction.
func repairMinFill(inst *EpochInstance, alpha []float64) []float64 {
	out := append([]float64(nil), alpha...)
	for k, o := range inst.Orders {
		if o.MinFillFraction == nil {
			continue
		}
		a := out[k]
		if a > epsFill && a < *o.MinFillFraction {
			out[k] = 0
		}
	}
	return out
}

// reconstruct translates a converged (y*, α*) into fills and final pool
// inventory (spec.md §4.6).
func reconstruct(inst *EpochInstance, y, alpha []float64, diag Diagnostics) *EpochSolution {
	alpha = repairMinFill(inst, alpha)

	n := inst.Registry.Len()
	q := make([]float64, n)
	for i, id := range inst.Registry.All() {
		q[i] = inst.Q0[id]
	}

	fills := make([]Fill, 0, len(inst.Orders))
	for k, o := range inst.Orders {
		a := alpha[k]
		if a <= epsFill {
			continue
		}
		payUnits := a * o.Budget
		recvUnits := payUnits * beta(o, y)
		q[int(o.Pay)] -= payUnits
		q[int(o.Receive)] += recvUnits
		fills = append(fills, Fill{
			OrderID:      o.ID,
			Pay:          o.Pay,
			Receive:      o.Receive,
			PayUnits:     payUnits,
			ReceiveUnits: recvUnits,
			FillFraction: a,
		})
	}

	yOut := make(map[numerics.AssetID]float64, n)
	pOut := make(map[numerics.AssetID]float64, n)
	qOut := make(map[numerics.AssetID]float64, n)
	for i, id := range inst.Registry.All() {
		yOut[id] = y[i]
		pOut[id] = expClamped(y[i])
		qOut[id] = q[i]
	}

	diag.Objective = Evaluate(inst, y, alpha)

	return &EpochSolution{
		EpochID:     inst.EpochID,
		Y:           yOut,
		P:           pOut,
		Alpha:       alpha,
		Fills:       fills,
		QStar:       qOut,
		Diagnostics: diag,
	}
}

// validateSolution runs the five local-law predicates (spec.md §4.7)
// against a reconstructed solution, translating engine types into
// lawcheck's input shape.
func validateSolution(inst *EpochInstance, sol *EpochSolution) *lawcheck.Violation {
	fillsByOrder := make(map[string]lawcheck.FillInput, len(inst.Orders))
	for _, f := range sol.Fills {
		fillsByOrder[f.OrderID] = lawcheck.FillInput{
			OrderID:      f.OrderID,
			Pay:          f.Pay,
			Receive:      f.Receive,
			Alpha:        f.FillFraction,
			PayUnits:     f.PayUnits,
			ReceiveUnits: f.ReceiveUnits,
		}
	}
	fillInputs := make([]lawcheck.FillInput, len(inst.Orders))
	for k, o := range inst.Orders {
		if fi, ok := fillsByOrder[o.ID]; ok {
			fillInputs[k] = fi
			continue
		}
		fillInputs[k] = lawcheck.FillInput{OrderID: o.ID, Pay: o.Pay, Receive: o.Receive, Alpha: sol.Alpha[k]}
	}

	in := lawcheck.Input{
		Converged:      sol.Diagnostics.Converged,
		FinalStepNormY: sol.Diagnostics.FinalStepNormY,
		FinalStepNormA: sol.Diagnostics.FinalStepNormA,
		Y:              sol.Y,
		P:              sol.P,
		Registry:       inst.Registry,
		Fills:          fillInputs,
		Q0:             inst.Q0,
		QStar:          sol.QStar,
		InventoryRisk:  sol.Diagnostics.Objective.InventoryRisk,
		PriceTracking:  sol.Diagnostics.Objective.PriceTracking,
		FillIncentive:  sol.Diagnostics.Objective.FillIncentive,
		ReportedTotal:  sol.Diagnostics.Objective.Total,
		Tol:            lawcheck.DefaultTolerances(),
	}
	return lawcheck.CheckAll(in)
}
