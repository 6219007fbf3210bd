package params

import (
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default(): %v", err)
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("CONVEXFX_LISTEN_ADDR", ":9090")
	t.Setenv("CONVEXFX_EPOCH_CADENCE_MS", "5000")
	t.Setenv("CONVEXFX_RISK_ETA", "2.5")

	cfg := LoadFromEnv("")
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.EpochCadence != 5*time.Second {
		t.Errorf("EpochCadence = %v, want 5s", cfg.EpochCadence)
	}
	if cfg.Risk.Eta != 2.5 {
		t.Errorf("Risk.Eta = %v, want 2.5", cfg.Risk.Eta)
	}
}

func TestValidateRejectsEmptyListenAddr(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty listen address")
	}
}

func TestValidateRejectsMismatchedRiskDimensions(t *testing.T) {
	cfg := Default()
	cfg.Risk.WDiag = cfg.Risk.WDiag[:len(cfg.Risk.WDiag)-1]
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for mismatched risk dimensions")
	}
}
