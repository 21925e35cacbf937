package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"

	"github.com/soundscribe/analytics-service/config"
	"github.com/soundscribe/analytics-service/internal/analysis"
	"github.com/soundscribe/analytics-service/internal/broker"
	"github.com/soundscribe/analytics-service/internal/export"
	"github.com/soundscribe/analytics-service/internal/handler"
	"github.com/soundscribe/analytics-service/internal/httpserver"
	"github.com/soundscribe/analytics-service/internal/janitor"
	"github.com/soundscribe/analytics-service/internal/metrics"
	"github.com/soundscribe/analytics-service/internal/pipeline"
	"github.com/soundscribe/analytics-service/internal/realtime"
	"github.com/soundscribe/analytics-service/internal/recording"
	"github.com/soundscribe/analytics-service/pkg/logger"
)

func main() {
	// A local .env file feeds the environment before config reads it.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := newLogger(cfg)

	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		log.Error("Failed to acquire instance lock", slog.Any("err", err))
		os.Exit(1)
	}
	if !locked {
		log.Error("Another instance is already running", slog.String("lock_file", cfg.LockFile))
		os.Exit(1)
	}
	defer lock.Unlock()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := recording.Open(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to open recording store",
			slog.String("path", cfg.Database.Path),
			slog.Any("err", err))
		os.Exit(1)
	}
	defer store.Close()

	collector := metrics.NewCollector(1024, log)
	collector.Start(ctx)

	mgr, closeBroker := connectBroker(cfg, log)
	if closeBroker != nil {
		defer closeBroker()
	}

	factory, err := buildRealtime(cfg, mgr, log)
	if err != nil {
		log.Error("Failed to build realtime guard", slog.Any("err", err))
		os.Exit(1)
	}
	defer factory.Cleanup()

	analyzer, err := analysis.NewAnalyzer(cfg.Analysis.CacheSize, log)
	if err != nil {
		log.Error("Failed to build analyzer", slog.Any("err", err))
		os.Exit(1)
	}

	pool, err := buildPipeline(cfg, log, store, analyzer, mgr, collector)
	if err != nil {
		log.Error("Failed to build pipeline", slog.Any("err", err))
		os.Exit(1)
	}
	if pool != nil {
		pool.Start(ctx)
		defer pool.Wait()
	} else {
		log.Warn("Transcriber not configured, pipeline workers disabled")
	}

	jan, err := buildJanitor(cfg, log, store)
	if err != nil {
		log.Error("Failed to build janitor", slog.Any("err", err))
		os.Exit(1)
	}
	if err := jan.Start(); err != nil {
		log.Error("Failed to start janitor", slog.Any("err", err))
		os.Exit(1)
	}
	defer jan.Stop()

	hopts := handler.Options{
		Reporter:      export.NewReporter(store, log),
		Collector:     collector,
		UploadDir:     cfg.Pipeline.UploadDir,
		ChannelBuffer: cfg.Realtime.ChannelBuffer,
	}
	if mgr != nil {
		hopts.Publisher = mgr
	}
	h := handler.NewRecordingHandler(log, store, factory, hopts)

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(h, collector))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("Analytics service listening",
		slog.String("address", cfg.Server.Address),
		slog.String("environment", cfg.Server.Environment))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting analytics service", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.Logging.File != "" {
		return logger.NewRotating(cfg.Logging.Level, true, cfg.Server.Environment, cfg.Logging.File)
	}
	return logger.New(cfg.Logging.Level, true, cfg.Server.Environment)
}

// connectBroker wires the Redis channel manager. A dead broker degrades
// live updates to polling instead of failing startup.
func connectBroker(cfg *config.Config, log *slog.Logger) (*broker.Manager, func()) {
	dialTimeout, err := time.ParseDuration(cfg.Redis.DialTimeout)
	if err != nil {
		log.Warn("Invalid redis dial timeout, live updates disabled", slog.Any("err", err))
		return nil, nil
	}

	client, cleanup, err := broker.NewClient(broker.ClientOptions{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  dialTimeout,
	}, log)
	if err != nil {
		log.Warn("Redis unavailable, live updates disabled", slog.String("error", err.Error()))
		return nil, nil
	}

	return broker.NewManager(client, cfg.Realtime.ChannelBuffer, log), cleanup
}

func buildRealtime(cfg *config.Config, mgr *broker.Manager, log *slog.Logger) (*realtime.Factory, error) {
	cooldown, err := time.ParseDuration(cfg.Realtime.Cooldown)
	if err != nil {
		return nil, err
	}
	decay, err := time.ParseDuration(cfg.Realtime.DecayInterval)
	if err != nil {
		return nil, err
	}

	guard := realtime.NewGuard(cfg.Realtime.FailureThreshold, cooldown, decay)

	// Assign the interface only for a live manager so the factory's nil
	// checks keep working.
	var channelMgr realtime.Manager
	if mgr != nil {
		channelMgr = mgr
	}

	disabled := func() bool { return cfg.Realtime.Disabled }
	return realtime.NewFactory(guard, channelMgr, disabled, log), nil
}

// buildPipeline returns a nil pool when no transcriber is configured.
func buildPipeline(
	cfg *config.Config,
	log *slog.Logger,
	store *recording.Store,
	analyzer *analysis.Analyzer,
	mgr *broker.Manager,
	collector *metrics.Collector,
) (*pipeline.WorkerPool, error) {
	if cfg.Pipeline.TranscriberURL == "" {
		return nil, nil
	}

	pollInterval, err := time.ParseDuration(cfg.Pipeline.PollInterval)
	if err != nil {
		return nil, err
	}
	claimInterval, err := time.ParseDuration(cfg.Pipeline.ClaimInterval)
	if err != nil {
		return nil, err
	}

	transcriber := pipeline.NewTranscriberClient(cfg.Pipeline.TranscriberURL, pollInterval, cfg.Pipeline.PollAttempts, log)

	opts := pipeline.Options{
		Collector:     collector,
		Workers:       cfg.Pipeline.Workers,
		ClaimInterval: claimInterval,
	}
	if cfg.Pipeline.FunctionsURL != "" {
		opts.Functions = pipeline.NewFunctionsClient(cfg.Pipeline.FunctionsURL, cfg.Pipeline.FunctionsToken, log)
	}
	if mgr != nil {
		opts.Publisher = mgr
	}

	return pipeline.NewWorkerPool(log, store, transcriber, analyzer, opts), nil
}

func buildJanitor(cfg *config.Config, log *slog.Logger, store *recording.Store) (*janitor.Janitor, error) {
	stuckAfter, err := time.ParseDuration(cfg.Janitor.StuckAfter)
	if err != nil {
		return nil, err
	}
	retain, err := time.ParseDuration(cfg.Janitor.RetainCompleted)
	if err != nil {
		return nil, err
	}

	return janitor.New(log, store, janitor.Options{
		StuckAfter:      stuckAfter,
		RetainCompleted: retain,
		StuckSchedule:   cfg.Janitor.StuckSchedule,
		PurgeSchedule:   cfg.Janitor.PurgeSchedule,
	}), nil
}
