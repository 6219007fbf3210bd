// Package orderbook collects one epoch's commit/reveal order flow and hands
// the epoch driver a plain, ordered []clearing.Order when the epoch closes
// (spec.md §2 "orderbook" producer, out of the core engine's scope but a
// required consumer-facing boundary). A trader commits a hash binding their
// order before anyone else's orders are visible, then reveals the order
// itself (plus an EIP-712 signature) before the epoch's reveal deadline;
// only matched, signature-valid reveals are admitted to clearing.
package orderbook

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/convexfx/convexfx/internal/clearing"
	"github.com/convexfx/convexfx/internal/crypto"
	"github.com/convexfx/convexfx/internal/numerics"
)

// ppmDenominator converts the signed order's parts-per-million ratio/fraction
// fields into the float64s the clearing engine's Order expects.
const ppmDenominator = 1_000_000.0

// commitment is one trader's pending order binding, recorded at commit time
// and consumed (at most once) by a matching Reveal.
type commitment struct {
	owner       common.Address
	hash        [32]byte
	committedAt time.Time
}

// PendingBook accumulates commitments and reveals for a single, currently
// open epoch. Drain collects the epoch's revealed orders and resets the
// book, which is then reused for the next epoch.
type PendingBook struct {
	mu     sync.RWMutex
	signer *crypto.EIP712Signer

	commitments map[string]commitment // orderID -> commitment
	revealed    []revealedOrder
	revealOrder []string // orderIDs in reveal order; Drain reads revealed, which keeps the same order
}

type revealedOrder struct {
	orderID string
	order   clearing.Order
}

// NewPendingBook returns an empty book that verifies reveals against signer.
func NewPendingBook(signer *crypto.EIP712Signer) *PendingBook {
	return &PendingBook{
		signer:      signer,
		commitments: make(map[string]commitment),
	}
}

// Commit registers orderID's commitment hash for owner. A duplicate orderID
// within the same epoch is rejected: each order is committed exactly once.
func (b *PendingBook) Commit(orderID string, owner common.Address, hash [32]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.commitments[orderID]; exists {
		return fmt.Errorf("orderbook: order %q already committed this epoch", orderID)
	}
	b.commitments[orderID] = commitment{owner: owner, hash: hash, committedAt: time.Now()}
	return nil
}

// Reveal checks orderID's commitment against (order, salt), verifies the
// EIP-712 signature, converts order into the clearing engine's Order shape
// against registry, and admits it for this epoch. Reveal is idempotent-unsafe
// by design: a second reveal for the same orderID is rejected, matching the
// commit/reveal contract of "commit once, reveal once".
func (b *PendingBook) Reveal(orderID string, order *crypto.OrderEIP712, salt [32]byte, signature []byte, registry *numerics.AssetRegistry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.commitments[orderID]
	if !ok {
		return fmt.Errorf("orderbook: order %q has no commitment", orderID)
	}
	delete(b.commitments, orderID)

	wantHash, err := crypto.RevealHash(order, b.signer, salt)
	if err != nil {
		return fmt.Errorf("orderbook: order %q: hash commitment: %w", orderID, err)
	}
	if string(wantHash) != string(c.hash[:]) {
		return fmt.Errorf("orderbook: order %q: revealed order does not match its commitment", orderID)
	}
	if order.Owner != c.owner {
		return fmt.Errorf("orderbook: order %q: revealed owner does not match committed owner", orderID)
	}

	valid, err := b.signer.VerifyOrderSignature(order, signature)
	if err != nil {
		return fmt.Errorf("orderbook: order %q: verify signature: %w", orderID, err)
	}
	if !valid {
		return fmt.Errorf("orderbook: order %q: invalid signature", orderID)
	}

	clearingOrder, err := toClearingOrder(orderID, order, registry)
	if err != nil {
		return fmt.Errorf("orderbook: order %q: %w", orderID, err)
	}

	b.revealed = append(b.revealed, revealedOrder{orderID: orderID, order: clearingOrder})
	b.revealOrder = append(b.revealOrder, orderID)
	return nil
}

// toClearingOrder converts a signed, verified OrderEIP712 into clearing.Order.
func toClearingOrder(orderID string, order *crypto.OrderEIP712, registry *numerics.AssetRegistry) (clearing.Order, error) {
	pay, ok := registry.ID(order.PayAsset)
	if !ok {
		return clearing.Order{}, fmt.Errorf("unknown pay asset %q", order.PayAsset)
	}
	receive, ok := registry.ID(order.ReceiveAsset)
	if !ok {
		return clearing.Order{}, fmt.Errorf("unknown receive asset %q", order.ReceiveAsset)
	}
	co := clearing.Order{
		ID:      orderID,
		Pay:     pay,
		Receive: receive,
		Budget:  numerics.NewAmountFromMinor(order.BudgetMinorUnits.Int64()).Float64(),
	}
	if order.LimitRatioPPM.Sign() > 0 {
		ratio := float64(order.LimitRatioPPM.Int64()) / ppmDenominator
		co.LimitRatio = &ratio
	}
	if order.MinFillPPM.Sign() > 0 {
		frac := float64(order.MinFillPPM.Int64()) / ppmDenominator
		co.MinFillFraction = &frac
	}
	return co, nil
}

// Drain returns every order revealed so far, in reveal order (spec.md §3
// "ordered list of revealed orders"), and resets the book for the next
// epoch. Unrevealed commitments at drain time simply lapse: spec.md scopes
// the order book's reveal-deadline policy out of the core engine.
func (b *PendingBook) Drain() []clearing.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]clearing.Order, len(b.revealed))
	for i, r := range b.revealed {
		out[i] = r.order
	}
	b.commitments = make(map[string]commitment)
	b.revealed = nil
	b.revealOrder = nil
	return out
}

// PendingCommitments reports how many commitments are awaiting reveal.
func (b *PendingBook) PendingCommitments() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.commitments)
}
