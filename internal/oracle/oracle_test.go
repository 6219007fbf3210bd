package oracle

import (
	"context"
	"math"
	"testing"

	"github.com/convexfx/convexfx/internal/numerics"
)

func TestStaticSourcePinsUSDNumeraire(t *testing.T) {
	reg, err := numerics.NewAssetRegistry("EUR", "JPY")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	src, err := NewStaticSource(reg, 25)
	if err != nil {
		t.Fatalf("NewStaticSource: %v", err)
	}

	if err := src.Update(numerics.USD, 1.0); err == nil {
		t.Fatalf("expected error updating the USD numeraire reference price")
	}

	if err := src.UpdateLinear(1, 0.90); err != nil {
		t.Fatalf("UpdateLinear: %v", err)
	}

	snap, err := src.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Y[numerics.USD] != 0 {
		t.Errorf("Y[USD] = %v, want 0", snap.Y[numerics.USD])
	}
	if math.Abs(snap.Y[1]-math.Log(0.90)) > 1e-12 {
		t.Errorf("Y[EUR] = %v, want ln(0.90)", snap.Y[1])
	}
	if snap.BandBps != 25 {
		t.Errorf("BandBps = %v, want 25", snap.BandBps)
	}
}

func TestStaticSourceRejectsUnregisteredAsset(t *testing.T) {
	reg, _ := numerics.NewAssetRegistry("EUR")
	src, err := NewStaticSource(reg, 25)
	if err != nil {
		t.Fatalf("NewStaticSource: %v", err)
	}
	if err := src.Update(numerics.AssetID(99), 0.1); err == nil {
		t.Fatalf("expected error updating an unregistered asset")
	}
}
