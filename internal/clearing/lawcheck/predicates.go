// Package lawcheck implements the five local-law predicates that validate
// a clearing engine solution post-solve (spec.md §4.7). Each predicate is
// "equivalent to an on-chain-provable constraint" (spec.md GLOSSARY); the
// same checks here are the surface a ZK prover's witness must satisfy.
package lawcheck

import (
	"fmt"
	"math"

	"github.com/convexfx/convexfx/internal/numerics"
)

// Predicate names one of the five local laws.
type Predicate int

const (
	Convergence Predicate = iota
	PriceConsistency
	FillFeasibility
	InventoryConservation
	ObjectiveOptimality
)

func (p Predicate) String() string {
	switch p {
	case Convergence:
		return "Convergence"
	case PriceConsistency:
		return "PriceConsistency"
	case FillFeasibility:
		return "FillFeasibility"
	case InventoryConservation:
		return "InventoryConservation"
	case ObjectiveOptimality:
		return "ObjectiveOptimality"
	default:
		return "Unknown"
	}
}

// Tolerances bundles the fixed thresholds spec.md §8 names.
type Tolerances struct {
	TauY    float64 // default 1e-4
	TauA    float64 // default 1e-5
	TauInv  float64 // default 1e-4
	EpsFill float64 // default 1e-8
}

// DefaultTolerances returns the recommended defaults from spec.md §4.4/§4.5/§4.7.
func DefaultTolerances() Tolerances {
	return Tolerances{TauY: 1e-4, TauA: 1e-5, TauInv: 1e-4, EpsFill: 1e-8}
}

// FillInput is the minimal per-order view P3/P4 need.
type FillInput struct {
	OrderID      string
	Pay, Receive numerics.AssetID
	Alpha        float64
	PayUnits     float64
	ReceiveUnits float64
}

// Input bundles everything the five predicates check against.
type Input struct {
	Converged      bool
	FinalStepNormY float64
	FinalStepNormA float64

	Y           map[numerics.AssetID]float64
	P           map[numerics.AssetID]float64 // p* = exp(y*)
	Registry    *numerics.AssetRegistry
	Fills       []FillInput // all orders, including zero-fill ones (Alpha may be 0)
	Q0          map[numerics.AssetID]float64
	QStar       map[numerics.AssetID]float64 // post-clearing inventory produced by the engine

	InventoryRisk float64
	PriceTracking float64
	FillIncentive float64
	ReportedTotal float64

	Tol Tolerances
}

// Violation describes a single failed predicate.
type Violation struct {
	Predicate Predicate
	Reason    string
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Predicate, v.Reason)
}

// CheckAll runs all five predicates in order, P1..P5, and returns the first
// violation encountered (or nil if every law holds). Checking in order
// matches spec.md §4.7's P1..P5 enumeration and lets callers report exactly
// which law fired, as the engine's ClearingError requires.
func CheckAll(in Input) *Violation {
	if v := CheckConvergence(in); v != nil {
		return v
	}
	if v := CheckPriceConsistency(in); v != nil {
		return v
	}
	if v := CheckFillFeasibility(in); v != nil {
		return v
	}
	if v := CheckInventoryConservation(in); v != nil {
		return v
	}
	if v := CheckObjectiveOptimality(in); v != nil {
		return v
	}
	return nil
}

// CheckConvergence is P1: diagnostics.converged AND final step norms below
// (τ_y, τ_α).
func CheckConvergence(in Input) *Violation {
	if !in.Converged {
		return &Violation{Convergence, "diagnostics.converged is false"}
	}
	if in.FinalStepNormY >= in.Tol.TauY {
		return &Violation{Convergence, fmt.Sprintf("final step norm y %.3e >= tau_y %.3e", in.FinalStepNormY, in.Tol.TauY)}
	}
	if in.FinalStepNormA >= in.Tol.TauA {
		return &Violation{Convergence, fmt.Sprintf("final step norm alpha %.3e >= tau_a %.3e", in.FinalStepNormA, in.Tol.TauA)}
	}
	return nil
}

// CheckPriceConsistency is P2: |p*_i - exp(y*_i)| / p*_i < 1e-2 for every
// asset, and |y*_numeraire| < τ_y.
func CheckPriceConsistency(in Input) *Violation {
	yUSD := in.Y[numerics.USD]
	if math.Abs(yUSD) >= in.Tol.TauY {
		return &Violation{PriceConsistency, fmt.Sprintf("numeraire log-price %.3e not pinned to 0 within tau_y %.3e", yUSD, in.Tol.TauY)}
	}
	for _, id := range in.Registry.All() {
		p, ok := in.P[id]
		if !ok || p == 0 {
			return &Violation{PriceConsistency, fmt.Sprintf("asset %q has no linear price", in.Registry.Symbol(id))}
		}
		want := math.Exp(in.Y[id])
		if math.Abs(p-want)/p >= 1e-2 {
			return &Violation{PriceConsistency, fmt.Sprintf("asset %q: |p*-exp(y*)|/p* = %.3e >= 1e-2", in.Registry.Symbol(id), math.Abs(p-want)/p)}
		}
	}
	return nil
}

// CheckFillFeasibility is P3: 0 ≤ α ≤ 1 and finite amounts for every order;
// non-trivial fills (α > ε_fill) have strictly positive pay and receive.
func CheckFillFeasibility(in Input) *Violation {
	for _, f := range in.Fills {
		if f.Alpha < 0 || f.Alpha > 1 {
			return &Violation{FillFeasibility, fmt.Sprintf("order %s: alpha %.6f out of [0,1]", f.OrderID, f.Alpha)}
		}
		if math.IsNaN(f.PayUnits) || math.IsInf(f.PayUnits, 0) || math.IsNaN(f.ReceiveUnits) || math.IsInf(f.ReceiveUnits, 0) {
			return &Violation{FillFeasibility, fmt.Sprintf("order %s: non-finite fill amount", f.OrderID)}
		}
		if f.Alpha > in.Tol.EpsFill {
			if f.PayUnits <= in.Tol.EpsFill {
				return &Violation{FillFeasibility, fmt.Sprintf("order %s: non-trivial fill has pay_units %.3e <= eps_fill", f.OrderID, f.PayUnits)}
			}
			if f.ReceiveUnits <= in.Tol.EpsFill {
				return &Violation{FillFeasibility, fmt.Sprintf("order %s: non-trivial fill has recv_units %.3e <= eps_fill", f.OrderID, f.ReceiveUnits)}
			}
		}
	}
	return nil
}

// CheckInventoryConservation is P4: |q*_i - q0_i - net_flow_i| < τ_inv for
// every asset, where net_flow_i sums pay-asset outflows (negative) and
// receive-asset inflows (positive) across all fills — the pool takes in
// ReceiveUnits of Receive and pays out PayUnits of Pay for each fill, the
// same convention reconstructInventory uses to produce q*.
func CheckInventoryConservation(in Input) *Violation {
	netFlow := make(map[numerics.AssetID]float64, in.Registry.Len())
	for _, f := range in.Fills {
		if f.Alpha <= in.Tol.EpsFill {
			continue
		}
		netFlow[f.Receive] += f.ReceiveUnits
		netFlow[f.Pay] -= f.PayUnits
	}
	for _, id := range in.Registry.All() {
		q0 := in.Q0[id]
		qStar := in.QStar[id]
		want := q0 + netFlow[id]
		if math.Abs(qStar-want) >= in.Tol.TauInv {
			return &Violation{InventoryConservation, fmt.Sprintf("asset %q: |q*-q0-net_flow| = %.3e >= tau_inv %.3e", in.Registry.Symbol(id), math.Abs(qStar-want), in.Tol.TauInv)}
		}
	}
	return nil
}

// CheckObjectiveOptimality is P5: inventory-risk and price-tracking
// components each ≥ -τ_inv, the total is finite, and the reported total
// agrees with the sum of components to 1e-6.
func CheckObjectiveOptimality(in Input) *Violation {
	if in.InventoryRisk < -in.Tol.TauInv {
		return &Violation{ObjectiveOptimality, fmt.Sprintf("inventory-risk component %.3e < -tau_inv", in.InventoryRisk)}
	}
	if in.PriceTracking < -in.Tol.TauInv {
		return &Violation{ObjectiveOptimality, fmt.Sprintf("price-tracking component %.3e < -tau_inv", in.PriceTracking)}
	}
	if math.IsNaN(in.ReportedTotal) || math.IsInf(in.ReportedTotal, 0) {
		return &Violation{ObjectiveOptimality, "reported total objective is not finite"}
	}
	sum := in.InventoryRisk + in.PriceTracking + in.FillIncentive
	if math.Abs(in.ReportedTotal-sum) >= 1e-6 {
		return &Violation{ObjectiveOptimality, fmt.Sprintf("|reported_total - sum(components)| = %.3e >= 1e-6", math.Abs(in.ReportedTotal-sum))}
	}
	return nil
}
