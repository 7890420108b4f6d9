package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"killwatch/api"
	"killwatch/config"
	"killwatch/ingest"
	"killwatch/notify"
	"killwatch/storage"
	"killwatch/surveil"
)

// App wires the surveillance engine together: store, index, engine,
// lifecycle controller, feeds, detector, dispatcher, and the API.
type App struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	sqlite     *storage.SQLite
	store      *storage.ProfileStore
	index      *surveil.IndexManager
	cache      *surveil.ResultCache
	engine     *surveil.Engine
	controller *surveil.Controller
	loader     *surveil.Loader
	ingest     *ingest.Manager
	detector   *surveil.Detector
	dispatcher *notify.Dispatcher
	server     *api.Server

	redisClient *redis.Client
	cancel      context.CancelFunc
}

// NewApp builds every component from configuration. Nothing is started yet.
func NewApp(cfg *config.Config) (*App, error) {
	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger}

	a.sqlite, err = storage.NewSQLite(cfg.SQLitePath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile store: %w", err)
	}
	a.store = storage.NewProfileStore(a.sqlite, logger)

	if cfg.Cache.Enabled {
		if cfg.Cache.Redis.Enabled {
			a.redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.Cache.Redis.Addr,
				Password: cfg.Cache.Redis.Password,
				DB:       cfg.Cache.Redis.DB,
				PoolSize: cfg.Cache.Redis.PoolSize,
			})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.redisClient.Ping(ctx).Err(); err != nil {
				logger.Warnf("Redis cache tier unreachable, continuing with memory tier only: %v", err)
				a.redisClient = nil
			}
		}
		a.cache = surveil.NewResultCache(cfg.Cache.Size, cfg.Cache.TTL, a.redisClient, logger)
	}

	a.index = surveil.NewIndexManager(logger)
	a.engine = surveil.NewEngine(a.index, a.cache, logger)
	a.controller = surveil.NewController(a.engine, a.index, a.cache, logger)
	a.loader = surveil.NewLoader(a.store, a.controller, a.engine, logger)

	a.ingest = ingest.NewManager(cfg, logger)
	a.dispatcher = notify.NewDispatcher(a.engine, cfg.Notify.QueueSize, cfg.Notify.Workers, cfg.Notify.Timeout, logger)
	a.detector = surveil.NewDetector(a.engine, a.ingest.Killmails(), a.dispatcher.Queue(), cfg.Engine.Workers, logger)

	profiles := api.NewProfileHandler(a.store, a.controller, a.engine, logger)
	a.server = api.NewServer(cfg.API.Host, cfg.API.Port, profiles, logger)

	return a, nil
}

// Run starts everything and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.loader.Sync(); err != nil {
		return fmt.Errorf("initial profile sync failed: %w", err)
	}
	a.loader.Run(ctx, a.cfg.Engine.ResyncInterval)

	a.dispatcher.Start()
	a.detector.Start()
	a.ingest.Start(ctx)
	a.server.Start()

	a.logger.Infof("killwatch running: %d profiles published", a.engine.PublishedCount())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	a.logger.Infof("Received %v, shutting down", sig)

	return a.Shutdown()
}

// Shutdown stops components in dependency order: feeds first so the pipeline
// drains, then workers, then the API and storage.
func (a *App) Shutdown() error {
	if a.cancel != nil {
		a.cancel()
	}

	a.ingest.Stop()
	a.detector.Stop()
	a.dispatcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warnf("API shutdown did not drain cleanly: %v", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("Redis close failed: %v", err)
		}
	}
	if err := a.sqlite.Close(); err != nil {
		a.logger.Warnf("SQLite close failed: %v", err)
	}

	a.logger.Info("Shutdown complete")
	return a.logger.Sync()
}

func buildLogger(cfg *config.Config) (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}

	var zcfg zap.Config
	if cfg.Log.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Sugar(), nil
}
