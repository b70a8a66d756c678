package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"margin-repeater/config"
	"margin-repeater/execution"
	"margin-repeater/logging"
	"margin-repeater/metrics"
	"margin-repeater/mirror"
	"margin-repeater/snapshot"
	"margin-repeater/watcher"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// App holds the running components of the repeater.
type App struct {
	config   *config.Config
	client   *ethclient.Client
	repeater *mirror.Repeater
	metrics  *http.Server
	logger   *zap.Logger
}

// NewApp connects to the node, checks the executor's rights on the repeater
// account and resolves the target's smart margin accounts.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	chain, err := cfg.Chain()
	if err != nil {
		return nil, err
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.RPCURL, err)
	}
	client := ethclient.NewClient(rpcClient)

	nodeChainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if nodeChainID.Int64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("node is on chain %s, configured for %d", nodeChainID, cfg.ChainID)
	}

	chainConfig := snapshot.DefaultChainConfig()
	chainConfig.MarketData = chain.MarketData
	chainConfig.SUSD = chain.SUSD
	chainConfig.IncludeOwnerBalance = cfg.IncludeOwnerBalance
	chainConfig.BatchSize = cfg.RPCBatchSize
	chainConfig.RateLimit = cfg.RPCRateLimit
	provider := snapshot.NewChainProvider(client, rpcClient, snapshot.NewMarketCache(cfg.MarketCacheTTL), chainConfig, logger)

	execConfig := execution.DefaultConfig()
	execConfig.PrivateKeyHex = cfg.PrivateKeyHex
	execConfig.ChainID = big.NewInt(cfg.ChainID)
	execConfig.Account = cfg.RepeaterAccount
	execConfig.Timeout = cfg.SubmitTimeout
	execConfig.DryRun = cfg.DryRun
	executor, err := execution.NewEngine(execConfig, client, logger)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	allowed, err := provider.CanExecute(ctx, cfg.RepeaterAccount, executor.Address())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check delegate: %w", err)
	}
	if !allowed {
		client.Close()
		return nil, fmt.Errorf("%s is neither owner nor delegate of %s", executor.Address().Hex(), cfg.RepeaterAccount.Hex())
	}

	targets, err := provider.AccountsOwnedBy(ctx, cfg.FactoryAddress(), cfg.TargetWallet)
	if err != nil {
		client.Close()
		return nil, err
	}
	if len(targets) == 0 {
		client.Close()
		return nil, fmt.Errorf("%s owns no smart margin accounts", cfg.TargetWallet.Hex())
	}

	watchConfig := watcher.DefaultConfig
	watchConfig.PollInterval = cfg.PollInterval
	watchConfig.StartBlock = cfg.StartBlock
	blockWatcher := watcher.New(watchConfig, watcher.NewRPCReader(rpcClient), logger)
	blockWatcher.Watch(targets...)

	targetAt := func(block *big.Int) snapshot.Provider { return provider.AtBlock(block) }
	pipeline := mirror.NewPipeline(targetAt, provider, cfg.MinMargin, cfg.RepeaterAccount, logger)
	repeater := mirror.NewRepeater(blockWatcher, pipeline, executor, logger)

	app := &App{
		config:   cfg,
		client:   client,
		repeater: repeater,
		logger:   logger,
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		app.metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	logger.Info("Repeater configured",
		zap.String("chain", chain.Name),
		zap.String("executor", executor.Address().Hex()),
		zap.String("repeater", cfg.RepeaterAccount.Hex()),
		zap.String("target_wallet", cfg.TargetWallet.Hex()),
		zap.Strings("target_accounts", hexes(targets)),
		zap.Bool("dry_run", cfg.DryRun))
	return app, nil
}

func (a *App) Start() error {
	if a.metrics != nil {
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		a.logger.Info("Serving metrics", zap.String("addr", a.config.MetricsAddr))
	}
	return a.repeater.Start()
}

func (a *App) Stop() error {
	err := a.repeater.Stop()
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := a.metrics.Shutdown(ctx); shutdownErr != nil {
			a.logger.Warn("Metrics server shutdown failed", zap.Error(shutdownErr))
		}
	}
	a.client.Close()
	return err
}

func hexes(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func main() {
	// Load environment variables from .env file
	if err := godotenv.Overload(); err != nil {
		log.Printf("Info: no .env file loaded, using existing environment: %v", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	app, err := NewApp(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to create repeater", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("Failed to start repeater", zap.Error(err))
	}

	// Set up graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("Shutdown signal received, stopping repeater")
	if err := app.Stop(); err != nil {
		logger.Error("Error stopping repeater", zap.Error(err))
	}
}
