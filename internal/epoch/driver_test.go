package epoch

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/convexfx/convexfx/internal/clearing"
	"github.com/convexfx/convexfx/internal/clearing/qpsolve"
	cryptopkg "github.com/convexfx/convexfx/internal/crypto"
	"github.com/convexfx/convexfx/internal/ledger"
	"github.com/convexfx/convexfx/internal/numerics"
	"github.com/convexfx/convexfx/internal/oracle"
	"github.com/convexfx/convexfx/internal/orderbook"
)

type fakeClock struct {
	ch chan time.Time
}

func (c *fakeClock) After(time.Duration) <-chan time.Time { return c.ch }
func (c *fakeClock) Now() time.Time                       { return time.Time{} }

type recordingConsumer struct {
	solutions []*clearing.EpochSolution
}

func (r *recordingConsumer) OnEpochCleared(sol *clearing.EpochSolution) {
	r.solutions = append(r.solutions, sol)
}

func newTestDriver(t *testing.T) (*Driver, *orderbook.PendingBook, *cryptopkg.EIP712Signer, *numerics.AssetRegistry) {
	t.Helper()
	reg, err := numerics.NewAssetRegistry("EUR", "JPY")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	src, err := oracle.NewStaticSource(reg, 25)
	if err != nil {
		t.Fatalf("oracle: %v", err)
	}
	if err := src.UpdateLinear(1, 0.90); err != nil {
		t.Fatalf("update EUR: %v", err)
	}
	if err := src.UpdateLinear(2, 0.0065); err != nil {
		t.Fatalf("update JPY: %v", err)
	}

	led, err := ledger.Open(filepath.Join(t.TempDir(), "ledger"))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })
	led.Seed(map[numerics.AssetID]float64{numerics.USD: 1e6, 1: 1e6, 2: 1e8})

	eip := cryptopkg.NewEIP712Signer(cryptopkg.DefaultDomain())
	book := orderbook.NewPendingBook(eip)

	driver := NewDriver(Config{
		Registry: reg,
		Risk: RiskInputs{
			GammaDiag:    []float64{1e-3, 1e-3, 1e-3},
			WDiag:        []float64{100, 100, 100},
			Eta:          1.0,
			BandBps:      25,
			DeltaInitBps: 10,
		},
		Oracle:  src,
		Ledger:  led,
		Book:    book,
		Backend: qpsolve.NewADMMBackend(),
	})
	return driver, book, eip, reg
}

func TestRunEpochWithNoOrdersConvergesAndAdvancesEpochID(t *testing.T) {
	driver, _, _, _ := newTestDriver(t)

	sol1, err := driver.RunEpoch(context.Background())
	if err != nil {
		t.Fatalf("RunEpoch: %v", err)
	}
	if sol1.EpochID != 1 {
		t.Errorf("first epoch id = %d, want 1", sol1.EpochID)
	}

	sol2, err := driver.RunEpoch(context.Background())
	if err != nil {
		t.Fatalf("RunEpoch: %v", err)
	}
	if sol2.EpochID != 2 {
		t.Errorf("second epoch id = %d, want 2", sol2.EpochID)
	}
}

func TestRunEpochNotifiesConsumers(t *testing.T) {
	driver, _, _, _ := newTestDriver(t)
	rec := &recordingConsumer{}
	driver.Subscribe(rec)

	if _, err := driver.RunEpoch(context.Background()); err != nil {
		t.Fatalf("RunEpoch: %v", err)
	}
	if len(rec.solutions) != 1 {
		t.Fatalf("expected 1 notified solution, got %d", len(rec.solutions))
	}
}

func TestRunEpochClearsRevealedOrder(t *testing.T) {
	driver, book, eip, reg := newTestDriver(t)

	signer, err := cryptopkg.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	order := &cryptopkg.OrderEIP712{
		PayAsset: "USD", ReceiveAsset: "EUR",
		BudgetMinorUnits: big.NewInt(1000_000000000),
		LimitRatioPPM:    big.NewInt(0),
		MinFillPPM:       big.NewInt(0),
		Nonce:            big.NewInt(1),
		Deadline:         big.NewInt(0),
		Owner:            signer.Address(),
	}
	var salt [32]byte
	salt[0] = 7
	sig, err := eip.SignOrder(signer, order)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	hash, err := cryptopkg.RevealHash(order, eip, salt)
	if err != nil {
		t.Fatalf("reveal hash: %v", err)
	}
	var commitHash [32]byte
	copy(commitHash[:], hash)

	if err := book.Commit("o1", signer.Address(), commitHash); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := book.Reveal("o1", order, salt, sig, reg); err != nil {
		t.Fatalf("Reveal: %v", err)
	}

	sol, err := driver.RunEpoch(context.Background())
	if err != nil {
		t.Fatalf("RunEpoch: %v", err)
	}
	if len(sol.Fills) != 1 {
		t.Fatalf("expected the revealed order to produce a fill, got %d fills", len(sol.Fills))
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	driver, _, _, _ := newTestDriver(t)
	ch := make(chan time.Time, 1)
	driver.clock = &fakeClock{ch: ch}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		driver.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return promptly after context cancellation")
	}
}
