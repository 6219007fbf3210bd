// Package params holds the node's runtime configuration: risk defaults,
// server bind address, ledger data directory, and epoch cadence, loadable
// from environment variables (and an optional .env file) the way the rest
// of this codebase loads its configuration.
package params

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// RiskDefaults seeds epoch.RiskInputs when no operator-supplied risk
// configuration is available. GammaDiag is pre-normalization: the epoch
// driver rescales it against each epoch's reference prices before it
// reaches internal/risk.DiagonalParams.
type RiskDefaults struct {
	GammaDiag    []float64
	WDiag        []float64
	Eta          float64
	BandBps      float64
	DeltaInitBps float64
}

// Node bundles the process-level settings cmd/convexfxd needs to start.
type Node struct {
	ListenAddr   string
	LedgerDir    string
	EpochCadence time.Duration
	Risk         RiskDefaults
}

// Default returns the built-in three-asset (USD, EUR, JPY) devnet
// configuration used by spec.md §8's worked scenarios.
func Default() Node {
	return Node{
		ListenAddr:   ":8080",
		LedgerDir:    "data/ledger",
		EpochCadence: 10 * time.Second,
		Risk: RiskDefaults{
			GammaDiag:    []float64{1e-3, 1e-3, 1e-3},
			WDiag:        []float64{100, 100, 100},
			Eta:          1.0,
			BandBps:      25,
			DeltaInitBps: 10,
		},
	}
}

// LoadFromEnv loads envPath (if non-empty) via godotenv, then Default()
// overridden by any of CONVEXFX_LISTEN_ADDR, CONVEXFX_LEDGER_DIR,
// CONVEXFX_EPOCH_CADENCE_MS, CONVEXFX_RISK_ETA, CONVEXFX_RISK_BAND_BPS, and
// CONVEXFX_RISK_DELTA_INIT_BPS found in the environment. Priority: env >
// .env file > built-in defaults.
func LoadFromEnv(envPath string) Node {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("CONVEXFX_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CONVEXFX_LEDGER_DIR"); v != "" {
		cfg.LedgerDir = v
	}
	if v := os.Getenv("CONVEXFX_EPOCH_CADENCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.EpochCadence = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("CONVEXFX_RISK_ETA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.Eta = f
		}
	}
	if v := os.Getenv("CONVEXFX_RISK_BAND_BPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.BandBps = f
		}
	}
	if v := os.Getenv("CONVEXFX_RISK_DELTA_INIT_BPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.DeltaInitBps = f
		}
	}
	return cfg
}

// Validate checks the fields a running node cannot tolerate being zero or
// malformed.
func (n Node) Validate() error {
	if n.ListenAddr == "" {
		return fmt.Errorf("params: listen address is required")
	}
	if n.LedgerDir == "" {
		return fmt.Errorf("params: ledger directory is required")
	}
	if n.EpochCadence <= 0 {
		return fmt.Errorf("params: epoch cadence must be positive")
	}
	if len(n.Risk.GammaDiag) != len(n.Risk.WDiag) {
		return fmt.Errorf("params: risk gamma/w dimension mismatch (%d vs %d)", len(n.Risk.GammaDiag), len(n.Risk.WDiag))
	}
	return nil
}
