package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/replica-node/internal/backfill"
	"github.com/devrev/pairdb/replica-node/internal/branch"
	"github.com/devrev/pairdb/replica-node/internal/config"
	"github.com/devrev/pairdb/replica-node/internal/gossip"
	"github.com/devrev/pairdb/replica-node/internal/health"
	"github.com/devrev/pairdb/replica-node/internal/mailbox"
	"github.com/devrev/pairdb/replica-node/internal/metrics"
	"github.com/devrev/pairdb/replica-node/internal/model"
	"github.com/devrev/pairdb/replica-node/internal/primary"
	"github.com/devrev/pairdb/replica-node/internal/protocol"
	"github.com/devrev/pairdb/replica-node/internal/replica"
	"github.com/devrev/pairdb/replica-node/internal/server"
	"github.com/devrev/pairdb/replica-node/internal/store"
)

func main() {
	// Load configuration first so logging can follow it
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(cfg.Server.NodeID, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := mailbox.NewManager(logger)
	defer mgr.Shutdown()

	// This binary hosts one branch in-process: the dispatcher with its
	// authoritative store, and a secondary replica that bootstraps from
	// it over the mailbox fabric. Keys span the whole space.
	region := model.NewRegion(0, ^uint64(0), model.KeyRange{Left: "", Right: model.UnboundedRight()})
	branchID := uuid.New()
	history := branch.NewHistoryManager(logger)

	primaryStore := store.NewMemStore(region, model.Version{Branch: branchID}, logger)
	dispatcher, err := primary.NewDispatcher(primary.DispatcherConfig{
		Manager:        mgr,
		Store:          primaryStore,
		BranchID:       branchID,
		History:        history,
		MaxOutstanding: cfg.Primary.MaxOutstanding,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Failed to start dispatcher", zap.Error(err))
	}
	defer dispatcher.Close()

	source := backfill.NewSource(mgr, primaryStore, dispatcher, cfg.Backfill.ChunkMaxKeys, logger)
	defer source.Close()
	throttler := backfill.NewThrottler(cfg.Backfill.MaxConcurrentIntoNode, 1, logger)

	replicaStore := store.NewMemStore(region, model.Version{Branch: branchID}, logger)
	serverID := uuid.New()

	var bootstrapped atomic.Bool

	// Gossip membership, if enabled
	var gossipSvc *gossip.Service
	if cfg.Gossip.Enabled {
		var gerr error
		gossipSvc, gerr = gossip.NewService(&cfg.Gossip, cfg.Server.NodeID, m, logger)
		if gerr != nil {
			logger.Error("Failed to initialize gossip service", zap.Error(gerr))
			gossipSvc = nil
		} else {
			defer gossipSvc.Shutdown()
			gossipSvc.SetBootstrapState(model.BootstrapStateBackfilling)
			logger.Info("Gossip service initialized")
		}
	}

	// Health + metrics endpoints
	checker := health.NewChecker(&health.CheckerConfig{
		NodeID: cfg.Server.NodeID,
		Ready:  bootstrapped.Load,
	}, logger)
	go checker.Start(ctx)

	if cfg.Metrics.Enabled {
		ms := server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, registry, checker, logger)
		if err := ms.Start(); err != nil {
			logger.Error("Failed to start metrics server", zap.Error(err))
		} else {
			defer ms.Stop()
		}
	}

	logger.Info("Bootstrapping replica",
		zap.String("server_id", serverID.String()),
		zap.String("branch", branchID.String()))

	client, err := replica.NewClient(ctx, replica.ClientConfig{
		Manager:    mgr,
		ServerID:   serverID,
		BranchID:   branchID,
		Server:     dispatcher.ServerCard(),
		Peer:       protocol.ReplicaCard{PeerID: "primary", Synchronize: source.SynchronizeAddress()},
		Backfiller: source,
		Throttler:  throttler,
		Store:      replicaStore,
		History:    history,
		Backfill:   cfg.Backfill,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		if gossipSvc != nil {
			gossipSvc.SetBootstrapState(model.BootstrapStateFailed)
		}
		logger.Fatal("Replica bootstrap failed", zap.Error(err))
	}
	defer client.Close()
	bootstrapped.Store(true)
	if gossipSvc != nil {
		gossipSvc.SetBootstrapState(model.BootstrapStateReady)
	}

	logger.Info("Replica node serving",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("server_id", serverID.String()))

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	cancel()
}

// initLogger initializes the zap logger from config
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = level
	return zapCfg.Build()
}
