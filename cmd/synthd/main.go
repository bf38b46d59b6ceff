package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"synthchain/config"
	"synthchain/native/bank"
	"synthchain/native/collateral"
	"synthchain/native/common"
	"synthchain/native/fees"
	"synthchain/native/rates"
	"synthchain/observability/logging"
	"synthchain/observability/metrics"
	"synthchain/rpc"
	"synthchain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	ratePerSecond := flag.Float64("api-rate", 50, "API requests per second per client (0 disables)")
	memStore := flag.Bool("mem", false, "Use an in-memory store instead of LevelDB")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv("SYNTH_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup(logging.Options{
		Service:    "synthd",
		Env:        env,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	var db storage.Database
	if *memStore {
		db = storage.NewMemDB()
	} else {
		leveldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			panic(fmt.Sprintf("Failed to open database: %v", err))
		}
		db = leveldb
	}
	defer db.Close()

	oracle := rates.NewOracle(time.Duration(cfg.Oracle.MaxAgeSeconds) * time.Second)
	for symbol, price := range cfg.Oracle.Prices {
		if err := oracle.SetPriceDecimal(symbol, price); err != nil {
			logger.Error("seed price", slog.String("currency", symbol), slog.Any("error", err))
			os.Exit(1)
		}
	}

	state := collateral.NewState(db)
	mgrParams, err := cfg.ManagerParams()
	if err != nil {
		logger.Error("manager parameters", slog.Any("error", err))
		os.Exit(1)
	}
	manager := collateral.NewManager(state, oracle, mgrParams)

	pool := fees.NewPool()
	pool.Observe(metrics.Collateral().ObserveFee)
	ledger := bank.NewLedger()
	pauses := common.NewSuspensionSwitch()

	engines := make([]*collateral.Collateral, 0, len(cfg.Engines))
	for _, engineCfg := range cfg.Engines {
		params, err := engineCfg.EngineParams()
		if err != nil {
			logger.Error("engine parameters", slog.String("engine", engineCfg.Name), slog.Any("error", err))
			os.Exit(1)
		}
		var engine *collateral.Collateral
		if params.Short {
			engine, err = collateral.NewShortCollateral(params, state, manager, oracle, pool, ledger, ledger, pauses)
		} else {
			engine, err = collateral.NewCollateral(params, state, manager, oracle, pool, ledger, ledger, pauses)
		}
		if err != nil {
			logger.Error("start engine", slog.String("engine", engineCfg.Name), slog.Any("error", err))
			os.Exit(1)
		}
		engines = append(engines, engine)
		logger.Info("engine ready",
			slog.String("engine", engine.Name()),
			slog.String("collateral", engine.CollateralCurrency()),
			slog.Bool("short", engine.IsShort()),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go refreshMetrics(ctx, logger, manager, engines)

	server := rpc.NewServer(rpc.Config{
		Log:           logger,
		Engines:       engines,
		Manager:       manager,
		Fees:          pool,
		Oracle:        oracle,
		RatePerSecond: *ratePerSecond,
	})
	if err := server.Serve(ctx, cfg.RPCAddress); err != nil {
		logger.Error("api server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// refreshMetrics periodically mirrors ledger totals into the Prometheus
// gauges. Stale or flagged prices skip the debt gauge until they recover.
func refreshMetrics(ctx context.Context, logger *slog.Logger, manager *collateral.Manager, engines []*collateral.Collateral) {
	reg := metrics.Collateral()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, engine := range engines {
			locked, err := engine.TotalCollateralLocked()
			if err != nil {
				logger.Warn("read locked total", slog.String("engine", engine.Name()), slog.Any("error", err))
				continue
			}
			reg.SetLocked(engine.Name(), locked)
		}
		for _, currency := range manager.Currencies() {
			agg, err := manager.Snapshot(currency)
			if err != nil {
				logger.Warn("read aggregate", slog.String("currency", currency), slog.Any("error", err))
				continue
			}
			reg.SetExposure(currency, "long", agg.TotalLong)
			reg.SetExposure(currency, "short", agg.TotalShort)
			reg.SetInterestIndex(currency, "long", agg.BorrowIndex)
			reg.SetInterestIndex(currency, "short", agg.ShortIndex)
		}
		debt, err := manager.AggregateDebt()
		if err != nil {
			reg.RecordStaleRateSkip()
			continue
		}
		reg.SetAggregateDebt(debt)
	}
}
