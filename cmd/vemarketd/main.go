package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"vemarket/config"
	"vemarket/core/events"
	"vemarket/gateway/routes"
	"vemarket/native/market"
	"vemarket/observability/logging"
	"vemarket/observability/metrics"
	"vemarket/rpc/modules"
	"vemarket/state"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VEMARKET_ENV"))
	logger := logging.Setup("vemarketd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	store, err := state.OpenLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open state", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	engine, err := buildEngine(cfg, store)
	if err != nil {
		logger.Error("build engine", "error", err)
		os.Exit(1)
	}

	handler := routes.New(routes.Config{Market: modules.NewMarketModule(engine)})
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("gateway listening", "address", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway serve", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown", "error", err)
	}
	logger.Info("shutdown complete")
}

func buildEngine(cfg *config.Config, store *state.LevelDBStore) (*market.Engine, error) {
	fees, err := cfg.FeeTable()
	if err != nil {
		return nil, err
	}
	engine := market.NewEngine()
	engine.SetState(store)
	engine.SetFees(fees)
	engine.SetAllowedAssets(cfg.AllowedAssets)
	engine.SetLoanAsset(cfg.LoanAsset)
	engine.SetNativeAsset(cfg.NativeAsset)
	engine.SetPauses(cfg.Pauses())
	engine.SetEmitter(events.Fanout{metrics.NewMarketEmitter()})

	if strings.TrimSpace(cfg.ModuleAddress) != "" {
		addr, err := config.DecodeAddress(cfg.ModuleAddress)
		if err != nil {
			return nil, err
		}
		engine.SetModuleAddress(addr)
	}
	if strings.TrimSpace(cfg.FeeCollector) != "" {
		addr, err := config.DecodeAddress(cfg.FeeCollector)
		if err != nil {
			return nil, err
		}
		engine.SetFeeCollector(addr)
	}
	for _, raw := range cfg.Admins {
		addr, err := config.DecodeAddress(raw)
		if err != nil {
			return nil, err
		}
		engine.SetAdmin(addr, true)
	}
	return engine, nil
}
