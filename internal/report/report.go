// Package report canonicalizes a cleared epoch into the flat witness record
// spec.md §6 names as the shared artifact a ZK prover and an auditor both
// consume, and computes its content hash.
package report

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/convexfx/convexfx/internal/clearing"
	"github.com/convexfx/convexfx/internal/numerics"
)

// AssetAmount is one (symbol, value) pair in a witness's price/inventory
// vectors. Witness uses slices of these, sorted by symbol, instead of Go
// maps so that two independent encoders of the same EpochSolution always
// produce byte-identical JSON.
type AssetAmount struct {
	Asset string  `json:"asset"`
	Value float64 `json:"value"`
}

// Witness is the canonical, flattened record of one epoch's clearing
// outcome: spec.md §6's "(y*, p*, fills, q⁰, q*, diagnostics, objective
// components)", laid out the way a downstream hasher or prover wants it —
// sorted, denormalized, no map iteration order to worry about.
type Witness struct {
	EpochID int64 `json:"epoch_id"`

	LogPrices   []AssetAmount `json:"log_prices"`
	LinearPrices []AssetAmount `json:"linear_prices"`
	InitialInventory []AssetAmount `json:"initial_inventory"`
	FinalInventory   []AssetAmount `json:"final_inventory"`

	Fills []clearing.Fill `json:"fills"`

	InventoryRisk float64 `json:"inventory_risk"`
	PriceTracking float64 `json:"price_tracking"`
	FillIncentive float64 `json:"fill_incentive"`
	ObjectiveTotal float64 `json:"objective_total"`

	Converged      bool    `json:"converged"`
	Iterations     int     `json:"iterations"`
	FinalStepNormY float64 `json:"final_step_norm_y"`
	FinalStepNormA float64 `json:"final_step_norm_a"`
	BackendStatus  string  `json:"backend_status"`
}

// Build flattens sol (plus the starting inventory q0, which EpochSolution
// itself does not carry) into a Witness, using registry to render AssetID
// keys as stable symbol strings.
func Build(registry *numerics.AssetRegistry, q0 map[numerics.AssetID]float64, sol *clearing.EpochSolution) Witness {
	return Witness{
		EpochID:          sol.EpochID,
		LogPrices:        sortedAmounts(registry, sol.Y),
		LinearPrices:     sortedAmounts(registry, sol.P),
		InitialInventory: sortedAmounts(registry, q0),
		FinalInventory:   sortedAmounts(registry, sol.QStar),
		Fills:            append([]clearing.Fill(nil), sol.Fills...),
		InventoryRisk:    sol.Diagnostics.Objective.InventoryRisk,
		PriceTracking:    sol.Diagnostics.Objective.PriceTracking,
		FillIncentive:    sol.Diagnostics.Objective.FillIncentive,
		ObjectiveTotal:   sol.Diagnostics.Objective.Total,
		Converged:        sol.Diagnostics.Converged,
		Iterations:       sol.Diagnostics.Iterations,
		FinalStepNormY:   sol.Diagnostics.FinalStepNormY,
		FinalStepNormA:   sol.Diagnostics.FinalStepNormA,
		BackendStatus:    sol.Diagnostics.BackendStatus,
	}
}

func sortedAmounts(registry *numerics.AssetRegistry, values map[numerics.AssetID]float64) []AssetAmount {
	out := make([]AssetAmount, 0, len(values))
	for id, v := range values {
		out = append(out, AssetAmount{Asset: registry.Symbol(id), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Canonicalize serializes w as deterministic, indent-free JSON (Go's
// encoding/json already emits object keys in the struct's declared field
// order and AssetAmount slices are pre-sorted by symbol, so the same
// Witness value always marshals to the same bytes) and returns its SHA-256
// content hash alongside the bytes.
func Canonicalize(w Witness) ([]byte, [32]byte, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("report: marshal witness: %w", err)
	}
	return data, sha256.Sum256(data), nil
}
