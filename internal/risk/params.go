// Package risk holds the clearing engine's risk-weight inputs: the
// inventory-risk matrix Γ, the price-tracking matrix W, the fill-incentive
// weight η, and the trust-region band the SCP driver operates inside.
package risk

import (
	"fmt"

	"github.com/convexfx/convexfx/internal/numerics"
	"gonum.org/v1/gonum/mat"
)

// Params bundles the risk weights supplied per epoch (spec.md §3 RiskParams).
type Params struct {
	// Gamma is the n×n PSD inventory-risk weight matrix, USD-notional
	// normalized (see NormalizeGammaUSD).
	Gamma *mat.SymDense
	// W is the n×n PSD price-tracking weight matrix.
	W *mat.SymDense
	// Eta is the non-negative fill-incentive weight.
	Eta float64
	// BandBps is the trust-region ceiling width in basis points; the SCP
	// driver's adaptive δ never grows past this.
	BandBps float64
	// DeltaInitBps is the SCP driver's starting trust-region half-width,
	// in basis points.
	DeltaInitBps float64
}

// DiagonalParams builds Params from diagonal Γ/W vectors, the common case
// spec.md calls out ("diagonal sufficient"). gammaDiag is used as given, so
// it must already be USD-notional normalized: run NormalizeGammaUSD with
// reference linear prices first (epoch.Driver does this every epoch).
func DiagonalParams(gammaDiag, wDiag []float64, eta, bandBps, deltaInitBps float64) (*Params, error) {
	if len(gammaDiag) != len(wDiag) {
		return nil, fmt.Errorf("risk: gamma and w dimension mismatch (%d vs %d)", len(gammaDiag), len(wDiag))
	}
	n := len(gammaDiag)
	gamma := mat.NewSymDense(n, nil)
	w := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		gamma.SetSym(i, i, gammaDiag[i])
		w.SetSym(i, i, wDiag[i])
	}
	p := &Params{Gamma: gamma, W: w, Eta: eta, BandBps: bandBps, DeltaInitBps: deltaInitBps}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the invariants spec.md §3 requires: Γ, W PSD; η ≥ 0;
// BandBps > 0 and 0 < DeltaInitBps ≤ BandBps.
func (p *Params) Validate() error {
	if p.Gamma == nil || p.W == nil {
		return fmt.Errorf("risk: gamma and w must be set")
	}
	r, _ := p.Gamma.Dims()
	rw, _ := p.W.Dims()
	if r != rw {
		return fmt.Errorf("risk: gamma/w dimension mismatch (%d vs %d)", r, rw)
	}
	if !numerics.IsPSD(p.Gamma) {
		return fmt.Errorf("risk: gamma is not positive semi-definite")
	}
	if !numerics.IsPSD(p.W) {
		return fmt.Errorf("risk: w is not positive semi-definite")
	}
	if p.Eta < 0 {
		return fmt.Errorf("risk: eta must be non-negative, got %v", p.Eta)
	}
	if p.BandBps <= 0 {
		return fmt.Errorf("risk: band_bps must be positive, got %v", p.BandBps)
	}
	if p.DeltaInitBps <= 0 || p.DeltaInitBps > p.BandBps {
		return fmt.Errorf("risk: delta_init_bps must be in (0, band_bps], got %v (band %v)", p.DeltaInitBps, p.BandBps)
	}
	return nil
}

// NormalizeGammaUSD scales Γ's diagonal by reference linear prices so a
// unit of inventory imbalance represents equal USD value across assets
// (spec.md §4.5 "USD-notional Γ normalization"). refLinearPrices must be
// indexed the same way as Gamma (asset index i, USD at 0).
func NormalizeGammaUSD(gammaDiag []float64, refLinearPrices []float64) ([]float64, error) {
	if len(gammaDiag) != len(refLinearPrices) {
		return nil, fmt.Errorf("risk: gamma/ref-price dimension mismatch (%d vs %d)", len(gammaDiag), len(refLinearPrices))
	}
	out := make([]float64, len(gammaDiag))
	for i, g := range gammaDiag {
		out[i] = g * refLinearPrices[i]
	}
	return out, nil
}

// DeltaHalfWidth converts a basis-point band width into the natural-log
// half-width the trust region constrains y with: |y_i - y_i^(t)| ≤ δ.
// 1 bps ≈ 1e-4 relative move, which for small moves is ≈ the log-return.
func DeltaHalfWidth(bps float64) float64 {
	return bps * 1e-4
}
