// Package clearing implements the epoch clearing engine: the convex
// program that, given one epoch's revealed orders, a reference price
// snapshot, and the pool's current inventory, jointly solves for a single
// coherent log-price vector and a fill fraction per order via Sequential
// Convex Programming (SCP).
//
// Clear is the engine's only externally meaningful operation. It is a pure
// function: no goroutines, no I/O, no shared mutable state (spec.md §5).
package clearing

import (
	"fmt"
	"math"

	"github.com/convexfx/convexfx/internal/numerics"
	"github.com/convexfx/convexfx/internal/risk"
)

// RefPrices is the oracle reference-price snapshot an epoch clears against.
type RefPrices struct {
	// Y maps AssetID to reference log-price y_ref. Y[numerics.USD] must be
	// exactly 0.
	Y map[numerics.AssetID]float64
	// BandBps is the oracle snapshot's band width, in basis points. The SCP
	// driver's trust-region ceiling comes from EpochInstance.Risk.BandBps,
	// not from this field.
	BandBps float64
}

// LinearPrice returns exp(y_ref[id]).
func (rp RefPrices) LinearPrice(id numerics.AssetID) float64 {
	return math.Exp(rp.Y[id])
}

// Order is one revealed exchange order (spec.md §3 Order).
type Order struct {
	ID string
	// Pay is the asset the trader gives up; Receive is the asset they get.
	// Pay must differ from Receive.
	Pay, Receive numerics.AssetID
	// Budget is the order's notional in Pay units; must be > 0.
	Budget float64
	// LimitRatio, if non-nil, caps the effective exchange rate:
	// exp(y_receive - y_pay) ≤ *LimitRatio.
	LimitRatio *float64
	// MinFillFraction, if non-nil, is the minimum α the order will accept
	// (m_k ∈ [0,1]); below it the order is either dropped or lifted to the
	// floor by the reconstruction policy (spec.md §4.6).
	MinFillFraction *float64
}

// Validate checks the per-order invariants spec.md §3 lists.
func (o Order) Validate(registry *numerics.AssetRegistry) error {
	if o.Pay == o.Receive {
		return fmt.Errorf("clearing: order %s: pay and receive asset must differ", o.ID)
	}
	if !registry.Valid(o.Pay) || !registry.Valid(o.Receive) {
		return fmt.Errorf("clearing: order %s: pay/receive asset not registered", o.ID)
	}
	if o.Budget <= 0 {
		return fmt.Errorf("clearing: order %s: budget must be positive, got %v", o.ID, o.Budget)
	}
	if o.LimitRatio != nil && *o.LimitRatio <= 0 {
		return fmt.Errorf("clearing: order %s: limit ratio must be positive", o.ID)
	}
	if o.MinFillFraction != nil && (*o.MinFillFraction < 0 || *o.MinFillFraction > 1) {
		return fmt.Errorf("clearing: order %s: min fill fraction must be in [0,1]", o.ID)
	}
	return nil
}

// EpochInstance is the read-only input to one epoch's clearing (spec.md §3).
type EpochInstance struct {
	EpochID  int64
	Registry *numerics.AssetRegistry
	// Q0 is the pool's starting inventory, indexed by AssetID; must be finite.
	Q0 map[numerics.AssetID]float64
	// Orders is the ordered list of revealed orders for this epoch.
	Orders []Order
	Ref     RefPrices
	Risk    *risk.Params
	// QMin, QMax optionally bound post-clearing inventory per asset
	// (spec.md §4.1 "Inventory bounds"). Nil entries mean unbounded.
	QMin, QMax map[numerics.AssetID]float64
	// QStar is the target inventory q* the Γ-quadratic tracks. Defaults to
	// Q0 when nil (no active rebalancing target).
	QStar map[numerics.AssetID]float64
}

// Validate checks the instance-level invariants; a failure here means
// clearing never starts (spec.md §7 InvalidInstance).
func (e *EpochInstance) Validate() error {
	if e.Registry == nil || e.Registry.Len() == 0 {
		return fmt.Errorf("clearing: asset registry is required")
	}
	n := e.Registry.Len()
	if e.Ref.Y == nil {
		return fmt.Errorf("clearing: ref prices are required")
	}
	if y, ok := e.Ref.Y[numerics.USD]; !ok || y != 0 {
		return fmt.Errorf("clearing: ref_prices[USD] must be exactly 0, got %v", y)
	}
	for _, id := range e.Registry.All() {
		y, ok := e.Ref.Y[id]
		if !ok || isNaNOrInf(y) {
			return fmt.Errorf("clearing: ref price for asset %q missing or non-finite", e.Registry.Symbol(id))
		}
	}
	if e.Ref.BandBps <= 0 {
		return fmt.Errorf("clearing: ref_prices.band_bps must be positive")
	}
	if e.Risk == nil {
		return fmt.Errorf("clearing: risk params are required")
	}
	if err := e.Risk.Validate(); err != nil {
		return fmt.Errorf("clearing: %w", err)
	}
	if r, _ := e.Risk.Gamma.Dims(); r != n {
		return fmt.Errorf("clearing: gamma dimension %d does not match registry size %d", r, n)
	}
	for _, id := range e.Registry.All() {
		q, ok := e.Q0[id]
		if !ok || isNaNOrInf(q) {
			return fmt.Errorf("clearing: initial inventory for asset %q missing or non-finite", e.Registry.Symbol(id))
		}
	}
	seen := make(map[string]bool, len(e.Orders))
	for _, o := range e.Orders {
		if seen[o.ID] {
			return fmt.Errorf("clearing: duplicate order id %q", o.ID)
		}
		seen[o.ID] = true
		if err := o.Validate(e.Registry); err != nil {
			return err
		}
	}
	return nil
}

// qStarOrQ0 returns the inventory target, defaulting to Q0 when QStar is unset.
func (e *EpochInstance) qStarOrQ0() map[numerics.AssetID]float64 {
	if e.QStar != nil {
		return e.QStar
	}
	return e.Q0
}

// Fill is one order's executed portion (spec.md §3 Fill).
type Fill struct {
	OrderID         string
	Pay, Receive    numerics.AssetID
	PayUnits        float64
	ReceiveUnits    float64
	FillFraction    float64
}

// ObjectiveComponents breaks J(y,α) into its three additive terms plus the
// total, per spec.md §4.1 and the P5 predicate.
type ObjectiveComponents struct {
	InventoryRisk  float64
	PriceTracking  float64
	FillIncentive  float64
	Total          float64
}

// Diagnostics carries the SCP driver's final iterate summary (spec.md §6).
type Diagnostics struct {
	Iterations       int
	Converged        bool
	FinalStepNormY   float64
	FinalStepNormA   float64
	Objective        ObjectiveComponents
	BackendStatus    string
}

// EpochSolution is the clearing engine's output (spec.md §3 EpochSolution).
type EpochSolution struct {
	EpochID     int64
	Y           map[numerics.AssetID]float64
	P           map[numerics.AssetID]float64
	Alpha       []float64 // indexed like the input Orders slice
	Fills       []Fill
	QStar       map[numerics.AssetID]float64
	Diagnostics Diagnostics
}

func isNaNOrInf(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
