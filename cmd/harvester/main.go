package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/goran-ethernal/BlockHarvester/internal/common"
	"github.com/goran-ethernal/BlockHarvester/internal/config"
	"github.com/goran-ethernal/BlockHarvester/internal/db"
	"github.com/goran-ethernal/BlockHarvester/internal/events"
	"github.com/goran-ethernal/BlockHarvester/internal/historical"
	"github.com/goran-ethernal/BlockHarvester/internal/logger"
	"github.com/goran-ethernal/BlockHarvester/internal/metrics"
	"github.com/goran-ethernal/BlockHarvester/internal/migrations"
	"github.com/goran-ethernal/BlockHarvester/internal/rpc"
	"github.com/goran-ethernal/BlockHarvester/internal/store"
	pkgconfig "github.com/goran-ethernal/BlockHarvester/pkg/config"
	"github.com/goran-ethernal/BlockHarvester/pkg/sources"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║         BlockHarvester v%s             ║
║   Historical Blockchain Sync Engine       ║
╚═══════════════════════════════════════════╝
`
)

var (
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "BlockHarvester - Historical blockchain sync engine",
	Long: `BlockHarvester backfills blockchain data over configured block ranges.
It fetches logs, factory-discovered child contract logs and periodic block
snapshots, records call-trace source ranges as complete without fetching
traces, persists completed ranges durably, and resumes from cached progress
across restarts.`,
	Version: version,
	RunE:    runHarvester,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Load the configuration file, apply defaults, and report any validation errors without starting a sync.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}

		fmt.Printf("Configuration OK: %d network(s)\n", len(cfg.Networks))
		for _, network := range cfg.Networks {
			srcs, err := network.BuildSources()
			if err != nil {
				return fmt.Errorf("network %s: %w", network.Name, err)
			}
			fmt.Printf("  - %s (chain %d): %d source(s)\n", network.Name, network.ChainID, len(srcs))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(validateCmd)
}

func runHarvester(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	// Load configuration
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	loggingCfg := cfg.Logging
	if loggingCfg == nil {
		loggingCfg = &pkgconfig.LoggingConfig{}
		loggingCfg.ApplyDefaults()
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	// Initialize logger
	log := logger.NewComponentLoggerFromConfig(common.ComponentHistorical, loggingCfg)
	defer log.Close()

	// Initialize metrics server if enabled
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics,
			logger.NewComponentLoggerFromConfig(common.ComponentHistorical, loggingCfg))
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("Metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	// Initialize database
	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer database.Close()

	// Run migrations
	log.Info("Running database migrations...")
	if err := migrations.RunMigrations(
		logger.NewComponentLoggerFromConfig(common.ComponentSyncStore, loggingCfg), database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	syncStore := store.NewSQLiteStore(database,
		logger.NewComponentLoggerFromConfig(common.ComponentSyncStore, loggingCfg))

	// Sync every configured network concurrently
	group, groupCtx := errgroup.WithContext(ctx)
	for _, network := range cfg.Networks {
		network := network
		group.Go(func() error {
			return syncNetwork(groupCtx, cfg, network, syncStore, loggingCfg)
		})
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("historical sync failed: %w", err)
	}

	log.Info("BlockHarvester stopped successfully")
	return nil
}

// syncNetwork runs the historical sync for one network to completion or
// until the context is cancelled.
func syncNetwork(ctx context.Context, cfg *pkgconfig.Config, network pkgconfig.NetworkConfig,
	syncStore *store.SQLiteStore, loggingCfg *pkgconfig.LoggingConfig) error {
	log := logger.NewComponentLoggerFromConfig(common.ComponentHistorical, loggingCfg).
		WithNetwork(network.Name)

	log.Infof("Connecting to %s...", network.RPCURL)
	client, err := rpc.NewClient(ctx, &network, cfg.Retry,
		logger.NewComponentLoggerFromConfig(common.ComponentRequestQueue, loggingCfg))
	if err != nil {
		return fmt.Errorf("network %s: failed to create RPC client: %w", network.Name, err)
	}
	defer client.Close()

	finality, err := network.BlockFinality()
	if err != nil {
		return fmt.Errorf("network %s: %w", network.Name, err)
	}
	capHeader, err := client.GetBlockHeaderByFinality(ctx, finality)
	if err != nil {
		return fmt.Errorf("network %s: failed to fetch %s block: %w", network.Name, finality, err)
	}
	capBlock := capHeader.Number.Uint64()
	log.Infof("Syncing up to %s block %d", finality, capBlock)

	srcs, err := network.BuildSources()
	if err != nil {
		return fmt.Errorf("network %s: invalid sources: %w", network.Name, err)
	}

	emitter := events.NewEmitter()
	syncDone := make(chan struct{})
	emitter.OnSyncComplete(func() {
		close(syncDone)
	})
	emitter.OnHistoricalCheckpoint(func(cp sources.Checkpoint) {
		log.Debugw("checkpoint advanced", "block", cp.BlockNumber, "timestamp", cp.BlockTimestamp)
	})

	svc := historical.NewService(historical.Config{
		Network:               network.Name,
		ChainID:               network.ChainID,
		Concurrency:           cfg.Historical.Concurrency,
		DefaultMaxBlockRange:  network.DefaultMaxBlockRange,
		CheckpointDebounce:    cfg.Historical.CheckpointDebounce.Duration,
		ProgressLogInterval:   cfg.Historical.ProgressLogInterval.Duration,
		ChildAddressBatchSize: cfg.Historical.ChildAddressBatchSize,
	}, client, syncStore, emitter, log)
	defer svc.Kill()

	if err := svc.Setup(ctx, srcs, capBlock); err != nil {
		return fmt.Errorf("network %s: setup failed: %w", network.Name, err)
	}
	svc.Start(ctx)

	select {
	case <-syncDone:
		log.Info("Historical sync complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
