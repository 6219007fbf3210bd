package lawcheck

import (
	"testing"

	"github.com/convexfx/convexfx/internal/numerics"
)

func baseInput(t *testing.T) Input {
	t.Helper()
	reg, err := numerics.NewAssetRegistry("EUR")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return Input{
		Converged:      true,
		FinalStepNormY: 1e-6,
		FinalStepNormA: 1e-6,
		Y:              map[numerics.AssetID]float64{numerics.USD: 0, 1: 0},
		P:              map[numerics.AssetID]float64{numerics.USD: 1, 1: 1},
		Registry:       reg,
		Q0:             map[numerics.AssetID]float64{numerics.USD: 100, 1: 100},
		QStar:          map[numerics.AssetID]float64{numerics.USD: 100, 1: 100},
		Tol:            DefaultTolerances(),
	}
}

func TestCheckAllPasses(t *testing.T) {
	in := baseInput(t)
	if v := CheckAll(in); v != nil {
		t.Fatalf("expected no violation, got %v", v)
	}
}

func TestCheckConvergenceFailsWhenNotConverged(t *testing.T) {
	in := baseInput(t)
	in.Converged = false
	v := CheckConvergence(in)
	if v == nil || v.Predicate != Convergence {
		t.Fatalf("expected Convergence violation, got %v", v)
	}
}

func TestCheckPriceConsistencyFailsOnNumerairePin(t *testing.T) {
	in := baseInput(t)
	in.Y[numerics.USD] = 0.01
	v := CheckPriceConsistency(in)
	if v == nil || v.Predicate != PriceConsistency {
		t.Fatalf("expected PriceConsistency violation, got %v", v)
	}
}

func TestCheckPriceConsistencyFailsOnMismatch(t *testing.T) {
	in := baseInput(t)
	in.P[1] = 5.0 // far from exp(0)=1
	v := CheckPriceConsistency(in)
	if v == nil || v.Predicate != PriceConsistency {
		t.Fatalf("expected PriceConsistency violation, got %v", v)
	}
}

func TestCheckFillFeasibilityRejectsOutOfRangeAlpha(t *testing.T) {
	in := baseInput(t)
	in.Fills = []FillInput{{OrderID: "o1", Alpha: 1.5}}
	v := CheckFillFeasibility(in)
	if v == nil || v.Predicate != FillFeasibility {
		t.Fatalf("expected FillFeasibility violation, got %v", v)
	}
}

func TestCheckFillFeasibilityRejectsZeroPayOnNonTrivialFill(t *testing.T) {
	in := baseInput(t)
	in.Fills = []FillInput{{OrderID: "o1", Alpha: 0.5, PayUnits: 0, ReceiveUnits: 10}}
	v := CheckFillFeasibility(in)
	if v == nil || v.Predicate != FillFeasibility {
		t.Fatalf("expected FillFeasibility violation, got %v", v)
	}
}

func TestCheckFillFeasibilityAllowsBelowEpsFill(t *testing.T) {
	in := baseInput(t)
	in.Fills = []FillInput{{OrderID: "o1", Alpha: 1e-9, PayUnits: 0, ReceiveUnits: 0}}
	if v := CheckFillFeasibility(in); v != nil {
		t.Fatalf("expected no violation for below-eps_fill fill, got %v", v)
	}
}

func TestCheckInventoryConservationDetectsImbalance(t *testing.T) {
	in := baseInput(t)
	in.Fills = []FillInput{{OrderID: "o1", Pay: numerics.USD, Receive: 1, Alpha: 1, PayUnits: 100, ReceiveUnits: 90}}
	in.QStar = map[numerics.AssetID]float64{numerics.USD: 100, 1: 100} // should be 0 USD, 190 EUR
	v := CheckInventoryConservation(in)
	if v == nil || v.Predicate != InventoryConservation {
		t.Fatalf("expected InventoryConservation violation, got %v", v)
	}
}

func TestCheckInventoryConservationHoldsWhenConsistent(t *testing.T) {
	in := baseInput(t)
	in.Fills = []FillInput{{OrderID: "o1", Pay: numerics.USD, Receive: 1, Alpha: 1, PayUnits: 100, ReceiveUnits: 90}}
	in.QStar = map[numerics.AssetID]float64{numerics.USD: 0, 1: 190}
	if v := CheckInventoryConservation(in); v != nil {
		t.Fatalf("expected no violation, got %v", v)
	}
}

func TestCheckObjectiveOptimalityDetectsMismatch(t *testing.T) {
	in := baseInput(t)
	in.InventoryRisk = 1
	in.PriceTracking = 2
	in.FillIncentive = -0.5
	in.ReportedTotal = 100 // wrong
	v := CheckObjectiveOptimality(in)
	if v == nil || v.Predicate != ObjectiveOptimality {
		t.Fatalf("expected ObjectiveOptimality violation, got %v", v)
	}
}

func TestCheckObjectiveOptimalityHoldsWhenConsistent(t *testing.T) {
	in := baseInput(t)
	in.InventoryRisk = 1
	in.PriceTracking = 2
	in.FillIncentive = -0.5
	in.ReportedTotal = 2.5
	if v := CheckObjectiveOptimality(in); v != nil {
		t.Fatalf("expected no violation, got %v", v)
	}
}
