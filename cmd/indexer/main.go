package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chainindexor/blockindexer/internal/api"
	"github.com/chainindexor/blockindexer/internal/breaker"
	"github.com/chainindexor/blockindexer/internal/common"
	"github.com/chainindexor/blockindexer/internal/config"
	"github.com/chainindexor/blockindexer/internal/db"
	"github.com/chainindexor/blockindexer/internal/gapdetector"
	"github.com/chainindexor/blockindexer/internal/lock"
	"github.com/chainindexor/blockindexer/internal/logger"
	"github.com/chainindexor/blockindexer/internal/migrations"
	"github.com/chainindexor/blockindexer/internal/notify"
	"github.com/chainindexor/blockindexer/internal/ratelimiter"
	"github.com/chainindexor/blockindexer/internal/reorg"
	"github.com/chainindexor/blockindexer/internal/rpc"
	"github.com/chainindexor/blockindexer/internal/shutdown"
	"github.com/chainindexor/blockindexer/internal/store"
	"github.com/chainindexor/blockindexer/internal/syncengine"
	pkgrpc "github.com/chainindexor/blockindexer/pkg/rpc"
)

const version = "1.0.0"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "indexer",
	Short:   "blockindexer - batch Ethereum block synchronization service",
	Long:    `blockindexer continuously syncs a range of Ethereum blocks into Postgres, detecting and repairing reorgs and gaps as it goes.`,
	Version: version,
	RunE:    runIndexer,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
}

func runIndexer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx := context.Background()

	conn, err := db.NewPostgresPoolFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	log.Info("running database migrations")
	if err := migrations.Run(conn); err != nil {
		conn.Close()
		return fmt.Errorf("run migrations: %w", err)
	}

	blockStore := store.NewPostgresStore(conn, log)

	maintenance := db.NewMaintenanceCoordinator(conn, cfg.Maintenance, log.WithComponent(common.ComponentMaintenance))
	if err := maintenance.Start(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("start maintenance coordinator: %w", err)
	}

	if len(cfg.RPC.URLs) == 0 {
		conn.Close()
		return fmt.Errorf("rpc: at least one endpoint url is required")
	}
	endpoints := make([]pkgrpc.EthClient, 0, len(cfg.RPC.URLs))
	for _, url := range cfg.RPC.URLs {
		client, err := rpc.NewClient(ctx, url)
		if err != nil {
			conn.Close()
			return fmt.Errorf("connect to rpc endpoint %s: %w", url, err)
		}
		endpoints = append(endpoints, client)
	}
	log.Infow("connected to rpc endpoints", "count", len(endpoints))

	reorgDetector := reorg.NewReorgDetector(blockStore, endpoints[0], log, maintenance, reorg.Config{
		ChainID:       cfg.Chain.ChainID,
		MaxDepth:      cfg.Sync.MaxReorgDepth,
		MaxReorgDepth: cfg.Sync.MaxReorgDepth,
	})

	limiter, err := ratelimiter.New(cfg.RateLimit)
	if err != nil {
		conn.Close()
		return fmt.Errorf("init rate limiter: %w", err)
	}

	circuitBreaker := breaker.New("sync-engine", cfg.Breaker, log)

	instanceID := cfg.InstanceID
	if instanceID == "" {
		hostname, _ := os.Hostname()
		instanceID = hostname
	}
	advisoryLock := lock.New(conn, cfg.Lock, instanceID, log)
	advisoryLock.StartSweeper(ctx)

	engine := syncengine.New(syncengine.Deps{
		ChainID:       cfg.Chain.ChainID,
		Store:         blockStore,
		Endpoints:     endpoints,
		Limiter:       limiter,
		Breaker:       circuitBreaker,
		ReorgDetector: reorgDetector,
		Log:           log,
	}, cfg.Sync, cfg.RPC)

	gapDetector := gapdetector.New(blockStore, engine, cfg.Chain.ChainID, cfg.Gap, log)
	engine.WithGapDetector(gapDetector)

	var notifier *notify.Publisher
	if cfg.Notify.Enabled {
		notifier, err = notify.NewPublisher(cfg.Notify.URL, cfg.Notify.Subject, log)
		if err != nil {
			conn.Close()
			return fmt.Errorf("init notify publisher: %w", err)
		}
		engine.WithNotifier(notifier)
	}

	apiServer := api.NewServer(&cfg.API, blockStore, cfg.Chain.ChainID, log)

	sequencer := shutdown.New(log, cfg.Shutdown.DrainGracePeriod.Duration)
	sequencer.Register(shutdown.Handler{
		Name:     "api-server",
		Priority: shutdown.PriorityAPIServer,
		ShutdownFn: func(ctx context.Context) error {
			return apiServer.Shutdown(ctx)
		},
	})
	sequencer.Register(shutdown.Handler{
		Name:     "sync-loop",
		Priority: shutdown.PrioritySyncLoop,
		ShutdownFn: func(ctx context.Context) error {
			engine.Stop()
			advisoryLock.StopSweeper()
			return nil
		},
	})
	sequencer.Register(shutdown.Handler{
		Name:     "database",
		Priority: shutdown.PriorityDatabase,
		ShutdownFn: func(ctx context.Context) error {
			if err := maintenance.Stop(); err != nil {
				log.Warnw("maintenance stop failed", "error", err)
			}
			if notifier != nil {
				notifier.Close()
			}
			return conn.Close()
		},
	})

	runCtx := sequencer.Listen(ctx)

	if cfg.API.Enabled {
		go func() {
			if err := apiServer.Start(runCtx); err != nil {
				log.Errorw("api server error", "error", err)
			}
		}()
	}

	log.Infow("starting sync engine", "chain_id", cfg.Chain.ChainID, "instance_id", instanceID)

	lockErr := advisoryLock.WithLock(runCtx, func(lockedCtx context.Context) error {
		engine.Run(lockedCtx)
		return nil
	})
	if lockErr != nil {
		log.Errorw("failed to acquire sync lock; another instance likely holds it for this chain", "error", lockErr)
		sequencer.Shutdown(context.Background())
	}

	<-sequencer.Done()

	succeeded, failed := sequencer.Results()
	log.Infow("shutdown complete", "succeeded", succeeded, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d shutdown handler(s) failed", failed)
	}
	if lockErr != nil {
		return fmt.Errorf("acquire sync lock: %w", lockErr)
	}
	return nil
}
