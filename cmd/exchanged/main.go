// Package main provides the exchanged daemon - the exchange core's
// account/ledger, matching, and deposit/withdraw state machines behind
// a JSON-RPC and WebSocket API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/klingon-exchange/exchanged/internal/account"
	"github.com/klingon-exchange/exchanged/internal/backend"
	"github.com/klingon-exchange/exchanged/internal/balance"
	"github.com/klingon-exchange/exchanged/internal/chain"
	"github.com/klingon-exchange/exchanged/internal/config"
	"github.com/klingon-exchange/exchanged/internal/deposit"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/matching"
	"github.com/klingon-exchange/exchanged/internal/reporting"
	"github.com/klingon-exchange/exchanged/internal/rpc"
	"github.com/klingon-exchange/exchanged/internal/storage"
	"github.com/klingon-exchange/exchanged/internal/trade"
	"github.com/klingon-exchange/exchanged/internal/withdraw"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.exchanged", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiAddr     = flag.String("api", "", "JSON-RPC/WebSocket listen address, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		satoshiMode = flag.Bool("satoshi-mode", false, "Run with legacy satoshi-scale pip denominators")
		devMode     = flag.Bool("dev-mode", false, "Relax confirmation thresholds and e-mail delivery for local dev")
		testMode    = flag.Bool("test-mode", false, "Run with test-mode defaults (in-memory friendly paths)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: "info", TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("exchanged %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	expandedDataDir := expandPath(*dataDir)

	cfgPath := *configFile
	if cfgPath == "" {
		cfgPath = filepath.Join(expandedDataDir, "config.yaml")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	cfg.DataDir = expandedDataDir
	if *apiAddr != "" {
		cfg.RPCListenAddr = *apiAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *satoshiMode {
		cfg.SatoshiMode = true
	}
	if *devMode {
		cfg.DevMode = true
	}
	if *testMode {
		cfg.TestMode = true
	}

	log = logging.New(&logging.Config{Level: cfg.LogLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	log.Info("starting exchanged", "version", version, "data_dir", cfg.DataDir, "satoshi_mode", cfg.SatoshiMode)

	store, err := storage.New(&storage.Config{DataDir: cfg.DataDir})
	if err != nil {
		log.Fatal("failed to open storage", "error", err)
	}
	defer store.Close()

	if err := config.Bootstrap(store); err != nil {
		log.Fatal("failed to bootstrap catalogue", "error", err)
	}

	hub := rpc.NewWSHub()
	go hub.Run()

	balances := balance.New(store, hub)
	led := ledger.New(store, balances)
	recorder := trade.New(store, led)
	matcher := matching.New(store, balances, recorder, hub)
	deposits := deposit.New(store, led)
	withdraws := withdraw.New(store, led, balances, hub)
	accounts := account.New(store, led, hub)
	recon := reporting.New(store, hub)

	chainNetwork := chain.Mainnet
	if cfg.DevMode || cfg.TestMode {
		chainNetwork = chain.Testnet
	}
	backends := backend.NewDefaultRegistry(chainNetwork)
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	if err := backends.ConnectAll(connectCtx); err != nil {
		log.Warn("some chain backends failed to connect, deposit confirmations for them fall back to caller-supplied counts", "error", err)
	}
	cancelConnect()
	defer backends.CloseAll()

	for symbol := range config.Instruments {
		if err := matcher.LoadRestingOrders(symbol); err != nil {
			log.Fatal("failed to load resting orders", "symbol", symbol, "error", err)
		}
	}

	server := rpc.NewServer(rpc.Deps{
		Store: store, Ledger: led, Balances: balances, Matcher: matcher,
		Deposits: deposits, Withdraws: withdraws, Accounts: accounts,
		Reporting: recon, Backends: backends, Hub: hub,
	})

	if err := server.Start(cfg.RPCListenAddr); err != nil {
		log.Fatal("failed to start RPC server", "error", err)
	}

	printBanner(log, version, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ctx
	if err := server.Stop(); err != nil {
		log.Error("error stopping RPC server", "error", err)
	}
}

func expandPath(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func printBanner(log *logging.Logger, version string, cfg *config.Config) {
	log.Info("exchanged ready", "version", version, "api", cfg.RPCListenAddr, "ws", "ws://"+cfg.RPCListenAddr+"/ws")
}
