package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"gorvnbridge/EVMRPC"
	"gorvnbridge/RVNRPC"
	"gorvnbridge/config"
	"gorvnbridge/events"
	"gorvnbridge/metrics"
	"gorvnbridge/workers"
	"gorvnbridge/workers/handlers"
)

func main() {
	configPath := flag.String("config", config.DEFAULT_CONFIG_FILE, "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bridge stopped with error", "error", err)
		closeLog()
		os.Exit(1)
	}
}

// run brings every component up in order and aborts on the first failure.
func run(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) error {
	logger.Info("Starting RVN/ETH bridge", "bridgeAddress", cfg.RVN.BridgeAddress, "payoutEnabled", cfg.PayoutEnabled())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	// without persistence do not continue
	store, err := workers.OpenStore(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return fmt.Errorf("cannot open store: %w", err)
	}
	defer store.Close()

	queue, err := workers.OpenQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	rvn := RVNRPC.New(cfg.RVNEndpoint(), cfg.RVN.RPCUser, cfg.RVN.RPCPassword, cfg.RVN.Timeout)

	eth, err := EVMRPC.New(cfg.NodeURLs(), logger)
	if err != nil {
		return err
	}
	defer eth.Close()

	executor, err := newExecutor(ctx, cfg, eth, store, logger, m)
	if err != nil {
		return err
	}
	if !executor.Configured() {
		logger.Error("payout credentials missing, deposits will be retried until configured")
	}

	publisher, err := newPublisher(cfg, logger, m)
	if err != nil {
		return err
	}
	defer publisher.Close()

	rate, err := cfg.Rate()
	if err != nil {
		return err
	}
	minAmount, err := cfg.MinDepositAmount()
	if err != nil {
		return err
	}

	processor := workers.NewProcessor(store, store, executor, publisher, workers.ProcessorConfig{
		Rate:         rate,
		MinAmount:    minAmount,
		StoreTimeout: cfg.Storage.Timeout,
	}, logger, m)

	monitor := workers.NewMonitor(rvn, store, queue, workers.MonitorConfig{
		BridgeAddress: cfg.RVN.BridgeAddress,
		ScanCount:     cfg.RVN.ScanCount,
		Interval:      cfg.Exchange.PollInterval,
		RPCTimeout:    cfg.RVN.Timeout,
		StoreTimeout:  cfg.Storage.Timeout,
	}, logger, m)

	dispatcher := workers.NewDispatcher(queue, processor, workers.DispatcherConfig{
		Concurrency:  cfg.Queue.Concurrency,
		PollInterval: cfg.Queue.PollInterval,
	}, logger, m)

	router := workers.NewRouter(&handlers.Handlers{
		Directory:     store,
		Ledger:        store,
		Queue:         queue,
		RVN:           rvn,
		ETH:           eth,
		BridgeAddress: executor.From(),
		PayoutEnabled: executor.Configured(),
		Rate:          rate,
		MinDeposit:    minAmount,
		Logger:        logger,
	}, m, registry)

	// there are 3 worker threads:
	// * poll the RVN wallet for deposits
	// * pay out queued deposits
	// * API and metrics HTTP server
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(ctx) })
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return workers.RunHTTP(ctx, cfg.Server.Port, router, logger) })

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("bridge stopped")
	return nil
}

func newExecutor(ctx context.Context, cfg *config.Configuration, eth *EVMRPC.Client, journal workers.Journal, logger *slog.Logger, m *metrics.Metrics) (*workers.Executor, error) {
	key, err := workers.LoadSigningKey(cfg)
	if err != nil {
		return nil, err
	}

	var chainID *big.Int
	if cfg.EVM.ChainID > 0 {
		chainID = big.NewInt(cfg.EVM.ChainID)
	} else if key != nil {
		if chainID, err = eth.ChainID(ctx); err != nil {
			return nil, fmt.Errorf("cannot get chain id: %w", err)
		}
	}

	return workers.NewExecutor(eth, journal, workers.ExecutorConfig{
		From:     cfg.Bridge.PublicAddress,
		Key:      key,
		ChainID:  chainID,
		GasLimit: cfg.EVM.GasLimit,
		GasPrice: new(big.Int).Mul(big.NewInt(cfg.EVM.GasPriceGwei), big.NewInt(1_000_000_000)),
		Timeout:  cfg.EVM.Timeout,
	}, logger, m)
}

func newPublisher(cfg *config.Configuration, logger *slog.Logger, m *metrics.Metrics) (events.Publisher, error) {
	if cfg.Storage.NATSURL == "" {
		logger.Info("NATS_URL not set, payout events are not published")
		return events.NoopPublisher{}, nil
	}
	publisher, err := events.NewPublisher(cfg.Storage.NATSURL, logger, m)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to NATS: %w", err)
	}
	return publisher, nil
}
