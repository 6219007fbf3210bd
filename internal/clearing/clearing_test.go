package clearing

import (
	"context"
	"math"
	"testing"

	"github.com/convexfx/convexfx/internal/clearing/qpsolve"
	"github.com/convexfx/convexfx/internal/numerics"
	"github.com/convexfx/convexfx/internal/risk"
)

// scenarioInstance builds the fixture spec.md §8 uses across scenarios S1-S6:
// assets {USD=0, EUR=1, JPY=2}, ref prices y_ref = (0, ln 0.90, ln 0.0065),
// 25 bps band, Γ = 1e-3·diag([1, 0.90, 0.0065]) (already USD-normalized),
// W = diag([100,100,100]), η = 1, δ_init = 10 bps.
func scenarioInstance(t *testing.T, q0USD, q0EUR, q0JPY float64, orders []Order) *EpochInstance {
	t.Helper()
	reg, err := numerics.NewAssetRegistry("EUR", "JPY")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	params, err := risk.DiagonalParams(
		[]float64{1e-3, 1e-3 * 0.90, 1e-3 * 0.0065},
		[]float64{100, 100, 100},
		1.0, 25, 10,
	)
	if err != nil {
		t.Fatalf("risk params: %v", err)
	}
	return &EpochInstance{
		EpochID:  1,
		Registry: reg,
		Q0: map[numerics.AssetID]float64{
			numerics.USD: q0USD,
			1:            q0EUR,
			2:            q0JPY,
		},
		Orders: orders,
		Ref: RefPrices{
			Y: map[numerics.AssetID]float64{
				numerics.USD: 0,
				1:            math.Log(0.90),
				2:            math.Log(0.0065),
			},
			BandBps: 25,
		},
		Risk: params,
	}
}

func TestClearEmptyEpochConvergesImmediately(t *testing.T) {
	inst := scenarioInstance(t, 1e6, 1e6, 1e8, nil)
	sol, err := Clear(context.Background(), inst, qpsolve.NewADMMBackend())
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if sol.Diagnostics.Iterations > 2 {
		t.Fatalf("expected convergence within 2 iterations, got %d", sol.Diagnostics.Iterations)
	}
	if !sol.Diagnostics.Converged {
		t.Fatalf("expected converged=true")
	}
	if len(sol.Fills) != 0 {
		t.Fatalf("expected no fills, got %v", sol.Fills)
	}
	for id, q0 := range inst.Q0 {
		if math.Abs(sol.QStar[id]-q0) > 1e-6 {
			t.Errorf("asset %v: q* = %v, want q0 = %v", id, sol.QStar[id], q0)
		}
	}
	if math.Abs(sol.Diagnostics.Objective.Total) > 1e-9 {
		t.Errorf("expected zero objective for an empty epoch, got %v", sol.Diagnostics.Objective.Total)
	}
}

func TestClearSingleSmallTradeFillsNearlyCompletely(t *testing.T) {
	inst := scenarioInstance(t, 1e6, 1e6, 1e8, []Order{
		{ID: "o1", Pay: numerics.USD, Receive: 1, Budget: 1000},
	})
	sol, err := Clear(context.Background(), inst, qpsolve.NewADMMBackend())
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(sol.Fills) != 1 {
		t.Fatalf("expected one fill, got %d", len(sol.Fills))
	}
	f := sol.Fills[0]
	if f.FillFraction < 0.95 {
		t.Errorf("alpha* = %v, want a near-complete fill on a trade this small relative to pool inventory", f.FillFraction)
	}
	if math.Abs(f.PayUnits-1000*f.FillFraction) > 1 {
		t.Errorf("pay units = %v, want ~= alpha*budget = %v", f.PayUnits, 1000*f.FillFraction)
	}
	// Within a few percent of the 900 EUR reference conversion (budget * ref ratio).
	if math.Abs(f.ReceiveUnits-900*f.FillFraction) > 900*0.02+1 {
		t.Errorf("receive units = %v, want close to alpha*900", f.ReceiveUnits)
	}
}

func TestClearTightLimitRatioBlocksTrade(t *testing.T) {
	limit := 0.90 * 0.999 // 10 bps below the reference ratio
	inst := scenarioInstance(t, 1e6, 1e6, 1e8, []Order{
		{ID: "o1", Pay: numerics.USD, Receive: 1, Budget: 1e4, LimitRatio: &limit},
	})
	sol, err := Clear(context.Background(), inst, qpsolve.NewADMMBackend())
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(sol.Fills) != 0 {
		t.Fatalf("expected the limit ratio to suppress the fill, got %v", sol.Fills)
	}
	for id, q0 := range inst.Q0 {
		if math.Abs(sol.QStar[id]-q0) > 1e-6 {
			t.Errorf("asset %v: q* = %v, want q0 = %v (no fill happened)", id, sol.QStar[id], q0)
		}
	}
}

func TestClearRejectsInvalidInstance(t *testing.T) {
	inst := scenarioInstance(t, 1e6, 1e6, 1e8, []Order{
		{ID: "o1", Pay: numerics.USD, Receive: numerics.USD, Budget: 100},
	})
	_, err := Clear(context.Background(), inst, qpsolve.NewADMMBackend())
	if err == nil {
		t.Fatalf("expected InvalidInstance error for a same-asset order")
	}
	ce, ok := err.(*ClearingError)
	if !ok || ce.Kind != InvalidInstance {
		t.Fatalf("expected *ClearingError{Kind: InvalidInstance}, got %v", err)
	}
}

func TestClearNumeraireAlwaysPinned(t *testing.T) {
	inst := scenarioInstance(t, 1e6, 1e6, 1e8, []Order{
		{ID: "o1", Pay: numerics.USD, Receive: 1, Budget: 1e4},
		{ID: "o2", Pay: 1, Receive: numerics.USD, Budget: 9e3},
	})
	sol, err := Clear(context.Background(), inst, qpsolve.NewADMMBackend())
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if sol.Y[numerics.USD] != 0 {
		t.Errorf("y*_USD = %v, want exactly 0", sol.Y[numerics.USD])
	}
	for _, a := range sol.Alpha {
		if a < 0 || a > 1 {
			t.Errorf("alpha out of [0,1]: %v", a)
		}
	}
}

func TestClearBackendsAgreeOnWellConditionedInstance(t *testing.T) {
	orders := []Order{
		{ID: "o1", Pay: numerics.USD, Receive: 1, Budget: 1000},
	}
	instADMM := scenarioInstance(t, 1e6, 1e6, 1e8, orders)
	instPGD := scenarioInstance(t, 1e6, 1e6, 1e8, orders)

	solA, err := Clear(context.Background(), instADMM, qpsolve.NewADMMBackend())
	if err != nil {
		t.Fatalf("ADMM Clear: %v", err)
	}
	solP, err := Clear(context.Background(), instPGD, qpsolve.NewPGDBackend())
	if err != nil {
		t.Fatalf("PGD Clear: %v", err)
	}
	for id := range solA.Y {
		if math.Abs(solA.Y[id]-solP.Y[id]) > 1e-3 {
			t.Errorf("asset %v: y* disagreement %v vs %v exceeds solver-independence tolerance", id, solA.Y[id], solP.Y[id])
		}
	}
	if math.Abs(solA.Alpha[0]-solP.Alpha[0]) > 1e-2 {
		t.Errorf("alpha* disagreement %v vs %v exceeds solver-independence tolerance", solA.Alpha[0], solP.Alpha[0])
	}
}
