// Command convexfxd runs a single-pool ConvexFX node: it ticks epochs at a
// fixed cadence, clearing whatever orders were revealed into the pending
// book against the oracle's reference prices and the ledger's current
// inventory, and serves the REST/WebSocket API alongside it.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/convexfx/convexfx/internal/api"
	"github.com/convexfx/convexfx/internal/clearing/qpsolve"
	"github.com/convexfx/convexfx/internal/crypto"
	"github.com/convexfx/convexfx/internal/epoch"
	"github.com/convexfx/convexfx/internal/ledger"
	"github.com/convexfx/convexfx/internal/numerics"
	"github.com/convexfx/convexfx/internal/oracle"
	"github.com/convexfx/convexfx/internal/orderbook"
	"github.com/convexfx/convexfx/internal/params"
	"github.com/convexfx/convexfx/internal/util"
)

func main() {
	cfg := params.LoadFromEnv("")
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	registry, err := numerics.NewAssetRegistry("EUR", "JPY")
	if err != nil {
		logger.Fatal("asset registry", zap.Error(err))
	}

	priceSource, err := oracle.NewStaticSource(registry, cfg.Risk.BandBps)
	if err != nil {
		logger.Fatal("oracle", zap.Error(err))
	}
	if err := priceSource.UpdateLinear(1, 0.90); err != nil {
		logger.Fatal("seed EUR price", zap.Error(err))
	}
	if err := priceSource.UpdateLinear(2, 0.0065); err != nil {
		logger.Fatal("seed JPY price", zap.Error(err))
	}

	led, err := ledger.Open(cfg.LedgerDir)
	if err != nil {
		logger.Fatal("ledger", zap.Error(err))
	}
	defer led.Close()
	led.Seed(map[numerics.AssetID]float64{numerics.USD: 1e6, 1: 1e6, 2: 1e8})

	eip := crypto.NewEIP712Signer(crypto.DefaultDomain())
	book := orderbook.NewPendingBook(eip)

	server := api.NewServer(book, led, priceSource, registry, eip, logger)

	driver := epoch.NewDriver(epoch.Config{
		Registry: registry,
		Risk: epoch.RiskInputs{
			GammaDiag:    cfg.Risk.GammaDiag,
			WDiag:        cfg.Risk.WDiag,
			Eta:          cfg.Risk.Eta,
			BandBps:      cfg.Risk.BandBps,
			DeltaInitBps: cfg.Risk.DeltaInitBps,
		},
		Oracle:  priceSource,
		Ledger:  led,
		Book:    book,
		Backend: qpsolve.NewADMMBackend(),
		Clock:   util.RealClock{},
		Logger:  logger,
	})
	driver.Subscribe(server.Hub())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go driver.Run(ctx, cfg.EpochCadence)

	logger.Info("convexfxd starting", zap.String("addr", cfg.ListenAddr), zap.Duration("epoch_cadence", cfg.EpochCadence))
	if err := server.Start(cfg.ListenAddr); err != nil {
		logger.Fatal("api server", zap.Error(err))
	}
}
