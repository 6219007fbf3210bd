// Package oracle supplies the reference price snapshot each epoch clears
// against. spec.md treats RefPrices as an opaque input; this package is the
// pluggable boundary a real deployment would point at a price feed.
package oracle

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/convexfx/convexfx/internal/clearing"
	"github.com/convexfx/convexfx/internal/numerics"
)

// Source produces the reference-price snapshot for the epoch about to open.
type Source interface {
	Snapshot(ctx context.Context) (clearing.RefPrices, error)
}

// StaticSource serves a fixed, mutable-by-Update snapshot. It is the engine's
// in-memory stand-in for a live price feed: good enough for a devnet or for
// driving the clearing engine from operator-supplied quotes.
type StaticSource struct {
	mu       sync.RWMutex
	registry *numerics.AssetRegistry
	y        map[numerics.AssetID]float64
	bandBps  float64
}

// NewStaticSource builds a StaticSource pinned to registry, with USD's
// reference log-price fixed at 0 (the numeraire invariant spec.md requires).
func NewStaticSource(registry *numerics.AssetRegistry, bandBps float64) (*StaticSource, error) {
	if bandBps <= 0 {
		return nil, fmt.Errorf("oracle: band_bps must be positive, got %v", bandBps)
	}
	y := make(map[numerics.AssetID]float64, registry.Len())
	for _, id := range registry.All() {
		y[id] = 0
	}
	return &StaticSource{registry: registry, y: y, bandBps: bandBps}, nil
}

// Update sets asset's reference log-price. Updating USD is rejected: it must
// stay the fixed numeraire.
func (s *StaticSource) Update(asset numerics.AssetID, logPrice float64) error {
	if asset == numerics.USD {
		return fmt.Errorf("oracle: cannot update the USD numeraire reference price")
	}
	if !s.registry.Valid(asset) {
		return fmt.Errorf("oracle: asset %v is not registered", asset)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.y[asset] = logPrice
	return nil
}

// UpdateLinear is Update expressed as a linear price rather than a log-price.
func (s *StaticSource) UpdateLinear(asset numerics.AssetID, price float64) error {
	if price <= 0 {
		return fmt.Errorf("oracle: linear price must be positive, got %v", price)
	}
	return s.Update(asset, math.Log(price))
}

// Snapshot returns the current reference prices. The returned map is a copy;
// callers may not observe concurrent Update calls through it.
func (s *StaticSource) Snapshot(_ context.Context) (clearing.RefPrices, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	y := make(map[numerics.AssetID]float64, len(s.y))
	for id, v := range s.y {
		y[id] = v
	}
	return clearing.RefPrices{Y: y, BandBps: s.bandBps}, nil
}
