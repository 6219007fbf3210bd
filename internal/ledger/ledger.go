// Package ledger tracks the pool's per-asset inventory across epochs and
// persists each cleared epoch's full solution for later audit or replay.
// It owns no clearing logic: it is the single writer spec.md's data model
// requires between epochs, applying whatever an already-validated
// EpochSolution says happened.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/convexfx/convexfx/internal/clearing"
	"github.com/convexfx/convexfx/internal/numerics"
)

// Ledger caches the pool's current inventory in memory and durably records
// every applied EpochSolution in an embedded Pebble store, keyed by epoch
// id. It is safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	inventory map[numerics.AssetID]float64
	db        *pebble.DB
}

// record is the Pebble-persisted envelope for one epoch: the solution
// plus the starting inventory it was computed against, since
// clearing.EpochSolution itself only carries the post-clearing q*
// (internal/report needs both to build a witness).
type record struct {
	Solution *clearing.EpochSolution
	Q0       map[numerics.AssetID]float64
}

// Open opens (creating if absent) a Pebble-backed ledger at dataDir.
func Open(dataDir string) (*Ledger, error) {
	db, err := pebble.Open(dataDir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("ledger: open pebble store at %q: %w", dataDir, err)
	}
	l := &Ledger{inventory: make(map[numerics.AssetID]float64), db: db}
	if err := l.restoreInventory(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Seed sets the pool's starting inventory, used once when no prior epoch
// has been persisted (a fresh pool, or a fresh data directory in tests).
func (l *Ledger) Seed(q0 map[numerics.AssetID]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.inventory) > 0 {
		return
	}
	for id, v := range q0 {
		l.inventory[id] = v
	}
}

// Inventory returns a snapshot of the pool's current per-asset holdings,
// the q0 an epoch driver should hand to the next EpochInstance.
func (l *Ledger) Inventory() map[numerics.AssetID]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[numerics.AssetID]float64, len(l.inventory))
	for id, v := range l.inventory {
		out[id] = v
	}
	return out
}

// ApplyEpoch records sol (cleared against starting inventory q0) as the
// epoch's outcome and advances the pool's inventory to sol.QStar. It is the
// ledger's only write path: spec.md's single-writer rule means this must be
// called exactly once per epoch, by the epoch driver, after the local-law
// validator has already accepted sol.
func (l *Ledger) ApplyEpoch(sol *clearing.EpochSolution, q0 map[numerics.AssetID]float64) error {
	data, err := json.Marshal(record{Solution: sol, Q0: q0})
	if err != nil {
		return fmt.Errorf("ledger: marshal epoch %d: %w", sol.EpochID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.db.Set(epochKey(sol.EpochID), data, pebble.Sync); err != nil {
		return fmt.Errorf("ledger: persist epoch %d: %w", sol.EpochID, err)
	}
	for id, v := range sol.QStar {
		l.inventory[id] = v
	}
	return nil
}

// LoadEpoch returns a previously applied epoch's solution, if any.
func (l *Ledger) LoadEpoch(epochID int64) (*clearing.EpochSolution, bool, error) {
	sol, _, ok, err := l.LoadEpochRecord(epochID)
	return sol, ok, err
}

// LoadEpochRecord returns a previously applied epoch's solution together
// with the starting inventory it was cleared against, e.g. for building an
// internal/report.Witness.
func (l *Ledger) LoadEpochRecord(epochID int64) (*clearing.EpochSolution, map[numerics.AssetID]float64, bool, error) {
	val, closer, err := l.db.Get(epochKey(epochID))
	if err == pebble.ErrNotFound {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("ledger: load epoch %d: %w", epochID, err)
	}
	defer closer.Close()

	var rec record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, nil, false, fmt.Errorf("ledger: unmarshal epoch %d: %w", epochID, err)
	}
	return rec.Solution, rec.Q0, true, nil
}

// restoreInventory seeds the in-memory cache from the most recently
// persisted epoch, if the store already has history (e.g. process restart).
func (l *Ledger) restoreInventory() error {
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: epochKeyPrefix()})
	if err != nil {
		return fmt.Errorf("ledger: iterate epoch history: %w", err)
	}
	defer iter.Close()

	var latest *clearing.EpochSolution
	for iter.First(); iter.Valid(); iter.Next() {
		var rec record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if rec.Solution != nil && (latest == nil || rec.Solution.EpochID > latest.EpochID) {
			latest = rec.Solution
		}
	}
	if latest != nil {
		for id, v := range latest.QStar {
			l.inventory[id] = v
		}
	}
	return nil
}

func epochKeyPrefix() []byte { return []byte("epoch:") }

func epochKey(epochID int64) []byte {
	key := make([]byte, 0, 14)
	key = append(key, epochKeyPrefix()...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(epochID))
	return append(key, buf[:]...)
}
