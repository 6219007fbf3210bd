package orderbook

import (
	"math/big"
	"testing"

	"github.com/convexfx/convexfx/internal/crypto"
	"github.com/convexfx/convexfx/internal/numerics"
)

func testRegistry(t *testing.T) *numerics.AssetRegistry {
	t.Helper()
	reg, err := numerics.NewAssetRegistry("EUR", "JPY")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func commitAndSign(t *testing.T, signer *crypto.Signer, eip *crypto.EIP712Signer, order *crypto.OrderEIP712, salt [32]byte) ([]byte, [32]byte) {
	t.Helper()
	sig, err := eip.SignOrder(signer, order)
	if err != nil {
		t.Fatalf("sign order: %v", err)
	}
	hash, err := crypto.RevealHash(order, eip, salt)
	if err != nil {
		t.Fatalf("reveal hash: %v", err)
	}
	var out [32]byte
	copy(out[:], hash)
	return sig, out
}

func TestPendingBookCommitRevealDrainRoundTrip(t *testing.T) {
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	eip := crypto.NewEIP712Signer(crypto.DefaultDomain())
	reg := testRegistry(t)
	book := NewPendingBook(eip)

	order := &crypto.OrderEIP712{
		PayAsset:         "USD",
		ReceiveAsset:     "EUR",
		BudgetMinorUnits: big.NewInt(1000_000000000),
		LimitRatioPPM:    big.NewInt(0),
		MinFillPPM:       big.NewInt(0),
		Nonce:            big.NewInt(1),
		Deadline:         big.NewInt(0),
		Owner:            signer.Address(),
	}
	var salt [32]byte
	salt[0] = 0x42

	sig, hash := commitAndSign(t, signer, eip, order, salt)

	if err := book.Commit("o1", signer.Address(), hash); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if book.PendingCommitments() != 1 {
		t.Fatalf("expected 1 pending commitment, got %d", book.PendingCommitments())
	}

	if err := book.Reveal("o1", order, salt, sig, reg); err != nil {
		t.Fatalf("Reveal: %v", err)
	}
	if book.PendingCommitments() != 0 {
		t.Fatalf("expected commitment consumed by reveal, got %d pending", book.PendingCommitments())
	}

	orders := book.Drain()
	if len(orders) != 1 {
		t.Fatalf("expected one drained order, got %d", len(orders))
	}
	if orders[0].ID != "o1" {
		t.Errorf("order id = %q, want o1", orders[0].ID)
	}
	if orders[0].Pay != numerics.USD {
		t.Errorf("pay asset = %v, want USD", orders[0].Pay)
	}

	// A second Drain after consuming the epoch returns nothing.
	if more := book.Drain(); len(more) != 0 {
		t.Errorf("expected empty drain after reset, got %v", more)
	}
}

func TestPendingBookRejectsRevealWithoutCommitment(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	eip := crypto.NewEIP712Signer(crypto.DefaultDomain())
	reg := testRegistry(t)
	book := NewPendingBook(eip)

	order := &crypto.OrderEIP712{
		PayAsset: "USD", ReceiveAsset: "EUR",
		BudgetMinorUnits: big.NewInt(1), LimitRatioPPM: big.NewInt(0),
		MinFillPPM: big.NewInt(0), Nonce: big.NewInt(1), Deadline: big.NewInt(0),
		Owner: signer.Address(),
	}
	var salt [32]byte
	sig, err := eip.SignOrder(signer, order)
	if err != nil {
		t.Fatalf("sign order: %v", err)
	}
	if err := book.Reveal("missing", order, salt, sig, reg); err == nil {
		t.Fatalf("expected error revealing an uncommitted order")
	}
}

func TestPendingBookRejectsTamperedReveal(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	eip := crypto.NewEIP712Signer(crypto.DefaultDomain())
	reg := testRegistry(t)
	book := NewPendingBook(eip)

	order := &crypto.OrderEIP712{
		PayAsset: "USD", ReceiveAsset: "EUR",
		BudgetMinorUnits: big.NewInt(1000), LimitRatioPPM: big.NewInt(0),
		MinFillPPM: big.NewInt(0), Nonce: big.NewInt(1), Deadline: big.NewInt(0),
		Owner: signer.Address(),
	}
	var salt [32]byte
	sig, hash := commitAndSign(t, signer, eip, order, salt)
	if err := book.Commit("o1", signer.Address(), hash); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tampered := *order
	tampered.BudgetMinorUnits = big.NewInt(999999)
	if err := book.Reveal("o1", &tampered, salt, sig, reg); err == nil {
		t.Fatalf("expected error revealing an order that doesn't match its commitment")
	}
}

func TestPendingBookRejectsDuplicateCommit(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	eip := crypto.NewEIP712Signer(crypto.DefaultDomain())
	book := NewPendingBook(eip)

	var hash [32]byte
	if err := book.Commit("o1", signer.Address(), hash); err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	if err := book.Commit("o1", signer.Address(), hash); err == nil {
		t.Fatalf("expected error on duplicate commit for the same order id")
	}
}
