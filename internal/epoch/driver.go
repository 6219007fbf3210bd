// Package epoch wires the oracle snapshot, ledger inventory, and revealed
// orders into an EpochInstance, invokes the clearing engine, and hands the
// resulting EpochSolution to its consumers (the ledger and anything else
// watching, e.g. the API's WebSocket broadcast).
package epoch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/convexfx/convexfx/internal/clearing"
	"github.com/convexfx/convexfx/internal/clearing/qpsolve"
	"github.com/convexfx/convexfx/internal/ledger"
	"github.com/convexfx/convexfx/internal/numerics"
	"github.com/convexfx/convexfx/internal/oracle"
	"github.com/convexfx/convexfx/internal/orderbook"
	"github.com/convexfx/convexfx/internal/risk"
	"github.com/convexfx/convexfx/internal/util"
)

// Consumer is notified after an epoch clears successfully, before the next
// epoch's reveal window opens. The API server's WebSocket hub is a Consumer.
type Consumer interface {
	OnEpochCleared(sol *clearing.EpochSolution)
}

// Driver runs one epoch's clearing pipeline at a time. It is the single
// writer to the ledger (spec.md §3's single-writer rule): callers must not
// call RunEpoch concurrently with itself.
type Driver struct {
	registry *numerics.AssetRegistry

	// gammaDiag is pre-normalization, indexed the same way as
	// registry.All(); each epoch it is rescaled against that epoch's
	// reference linear prices (spec.md §4.5 USD-notional normalization)
	// before the clearing engine sees it.
	gammaDiag    []float64
	wDiag        []float64
	eta          float64
	bandBps      float64
	deltaInitBps float64

	oracle  oracle.Source
	ledger  *ledger.Ledger
	book    *orderbook.PendingBook
	backend qpsolve.Backend
	clock   util.Clock
	log     *zap.Logger

	nextEpochID int64
	consumers   []Consumer
}

// RiskInputs bundles the pre-normalization Γ/W diagonals and scalars a
// Driver needs to build each epoch's risk.Params. The driver normalizes Γ
// against each epoch's own reference prices rather than once at startup,
// since "USD-notional" depends on prices that move epoch to epoch.
type RiskInputs struct {
	GammaDiag    []float64
	WDiag        []float64
	Eta          float64
	BandBps      float64
	DeltaInitBps float64
}

// Config bundles Driver's fixed collaborators.
type Config struct {
	Registry *numerics.AssetRegistry
	Risk     RiskInputs
	Oracle   oracle.Source
	Ledger   *ledger.Ledger
	Book     *orderbook.PendingBook
	Backend  qpsolve.Backend
	Clock    util.Clock
	Logger   *zap.Logger
}

// NewDriver builds a Driver from cfg, starting epoch numbering at 1.
func NewDriver(cfg Config) *Driver {
	clock := cfg.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		registry:     cfg.Registry,
		gammaDiag:    cfg.Risk.GammaDiag,
		wDiag:        cfg.Risk.WDiag,
		eta:          cfg.Risk.Eta,
		bandBps:      cfg.Risk.BandBps,
		deltaInitBps: cfg.Risk.DeltaInitBps,
		oracle:       cfg.Oracle,
		ledger:       cfg.Ledger,
		book:         cfg.Book,
		backend:      cfg.Backend,
		clock:        clock,
		log:          logger,
		nextEpochID:  1,
	}
}

// riskParamsFor normalizes Γ's diagonal against ref's linear prices (spec.md
// §4.5: "a unit of inventory imbalance represents equal USD value across
// assets") and builds the risk.Params this epoch clears against.
func (d *Driver) riskParamsFor(ref clearing.RefPrices) (*risk.Params, error) {
	linear := make([]float64, d.registry.Len())
	for i, id := range d.registry.All() {
		linear[i] = ref.LinearPrice(id)
	}
	normalizedGamma, err := risk.NormalizeGammaUSD(d.gammaDiag, linear)
	if err != nil {
		return nil, fmt.Errorf("normalize gamma: %w", err)
	}
	return risk.DiagonalParams(normalizedGamma, d.wDiag, d.eta, d.bandBps, d.deltaInitBps)
}

// Subscribe registers c to be notified after every successfully cleared
// epoch. Not safe to call concurrently with RunEpoch.
func (d *Driver) Subscribe(c Consumer) {
	d.consumers = append(d.consumers, c)
}

// RunEpoch snapshots the oracle, drains the pending order book, clears the
// resulting instance, applies the outcome to the ledger, and notifies
// subscribed consumers. A clearing failure leaves the ledger untouched and
// the drained orders are lost for this epoch, matching spec.md §4.8's
// failure semantics (no partial epoch is ever recorded).
func (d *Driver) RunEpoch(ctx context.Context) (*clearing.EpochSolution, error) {
	epochID := atomic.AddInt64(&d.nextEpochID, 1) - 1

	ref, err := d.oracle.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("epoch %d: oracle snapshot: %w", epochID, err)
	}
	riskParams, err := d.riskParamsFor(ref)
	if err != nil {
		return nil, fmt.Errorf("epoch %d: risk params: %w", epochID, err)
	}
	orders := d.book.Drain()

	inst := &clearing.EpochInstance{
		EpochID:  epochID,
		Registry: d.registry,
		Q0:       d.ledger.Inventory(),
		Orders:   orders,
		Ref:      ref,
		Risk:     riskParams,
	}

	d.log.Info("epoch starting", zap.Int64("epoch_id", epochID), zap.Int("orders", len(orders)))

	sol, err := clearing.Clear(ctx, inst, d.backend)
	if err != nil {
		d.log.Error("epoch failed to clear", zap.Int64("epoch_id", epochID), zap.Error(err))
		return nil, err
	}

	if err := d.ledger.ApplyEpoch(sol, inst.Q0); err != nil {
		d.log.Error("epoch cleared but ledger apply failed", zap.Int64("epoch_id", epochID), zap.Error(err))
		return nil, fmt.Errorf("epoch %d: apply to ledger: %w", epochID, err)
	}

	d.log.Info("epoch cleared",
		zap.Int64("epoch_id", epochID),
		zap.Int("iterations", sol.Diagnostics.Iterations),
		zap.Int("fills", len(sol.Fills)),
	)

	for _, c := range d.consumers {
		c.OnEpochCleared(sol)
	}
	return sol, nil
}

// Run ticks RunEpoch every cadence until ctx is cancelled, logging (but not
// propagating) per-epoch errors so a single bad epoch doesn't stop the node.
// It uses the injected Clock rather than time.Ticker so tests can drive the
// loop deterministically.
func (d *Driver) Run(ctx context.Context, cadence time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.clock.After(cadence):
		}
		if _, err := d.RunEpoch(ctx); err != nil {
			d.log.Warn("epoch iteration ended without clearing", zap.Error(err))
		}
	}
}
