package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cinemabooking/internal/api"
	"cinemabooking/internal/catalog"
	"cinemabooking/internal/config"
	"cinemabooking/internal/database"
	"cinemabooking/internal/domain"
	"cinemabooking/internal/events"
	"cinemabooking/internal/lock"
	"cinemabooking/internal/logging"
	"cinemabooking/internal/metrics"
	"cinemabooking/internal/models"
	"cinemabooking/internal/repository"
	"cinemabooking/internal/service"
	"cinemabooking/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, base, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	logger := logging.Component(base, "api-main")
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database, logging.Component(base, "database"))
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	locks := lock.NewManager(initCoordinator(cfg, redisClient, base), cfg.Lock, logging.Component(base, "lock"))
	inventory := initInventory(cfg, logger)

	bus := events.NewEventBus(logging.Component(base, "events"))
	var wg sync.WaitGroup
	if publisher := initRabbit(cfg, bus, base); publisher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			publisher.Run(ctx)
		}()
		defer publisher.Shutdown()
	}

	var syncQueue domain.SeatSyncQueue
	if cfg.Worker.SyncEnabled {
		syncWorker := worker.NewInventorySyncWorker(db, inventory, redisClient, worker.RetryPolicy{
			MaxRetries:   cfg.Worker.SyncMaxRetries,
			InitialDelay: cfg.Worker.SyncInitialDelay,
			MaxDelay:     cfg.Worker.SyncMaxDelay,
		}, cfg.Worker.SyncPollInterval, logging.Component(base, "inventory-sync"))
		syncQueue = syncWorker
		wg.Add(1)
		go func() {
			defer wg.Done()
			syncWorker.Start(ctx)
		}()
	}

	pool := worker.NewPool(cfg.Worker.PoolSize, cfg.Worker.QueueSize, logging.Component(base, "pool"))

	bookings := service.NewBookingService(service.Deps{
		Repo:      db,
		Inventory: inventory,
		Locker:    locks,
		Events:    bus,
		SyncQueue: syncQueue,
		Pool:      pool,
	}, cfg.Booking, logging.Component(base, "booking"))

	wg.Add(1)
	go func() {
		defer wg.Done()
		bookings.RunExpirySweep(ctx, cfg.Booking.PendingExpiry)
	}()

	backup := database.NewBackupService(db, cfg.Backup, logging.Component(base, "backup"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		backup.Start(ctx)
	}()

	startMetrics(ctx, cfg, logger)

	grpcServer, err := api.NewGRPCServer(&cfg.API, base)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		grpcServer.WatchLock(ctx, locks, cfg.Lock.HealthInterval)
	}()

	httpServer := api.NewHTTPServer(&cfg.API, bookings, locks, base)

	err = startServers(ctx, grpcServer, httpServer, cfg, logger)
	stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if perr := pool.Close(drainCtx); perr != nil {
		logger.Warn().Err(perr).Msg("worker pool did not drain")
	}
	wg.Wait()

	logger.Info().Msg("booking service stopped")
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, baseLogger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, redisClient); err != nil {
		// the coordinator keeps the client; go-redis reconnects on its own
		logger.Warn().Err(err).Msg("redis not reachable at startup")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return redisClient
}

func initCoordinator(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) lock.Coordinator {
	if redisClient == nil {
		logging.Component(logger, "lock").Warn().Msg("no redis configured, screening locks are process-local")
		return lock.NewMemoryCoordinator()
	}

	primary := lock.NewRedisCoordinator(redisClient)
	if !cfg.Lock.LocalFallback {
		return primary
	}
	return lock.NewFailoverCoordinator(primary, lock.NewMemoryCoordinator(), logging.Component(logger, "lock-failover"))
}

func initInventory(cfg *config.Config, logger *zerolog.Logger) domain.InventoryGateway {
	if cfg.Catalog.BaseURL != "" {
		logger.Info().Str("base_url", cfg.Catalog.BaseURL).Msg("using movie service catalog")
		return catalog.NewHTTPGateway(cfg.Catalog)
	}

	logger.Warn().Int("screenings", len(cfg.Catalog.Screenings)).Msg("no catalog base_url, running standalone with configured screenings")
	return catalog.NewMemoryInventory(cfg.Catalog.Screenings)
}

func initRabbit(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) *events.RabbitPublisher {
	if !cfg.Events.Enabled {
		return nil
	}

	publisher := events.NewRabbitPublisher(cfg.Events.RabbitMQURL, cfg.Events.Exchange, logging.Component(logger, "rabbitmq"))
	bus.Subscribe(models.EventBookingCreated, publisher.Handle)
	bus.Subscribe(models.EventBookingCancelled, publisher.Handle)
	logging.Component(logger, "events").Info().Str("exchange", cfg.Events.Exchange).Msg("booking events forwarded to rabbitmq")
	return publisher
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	errCh := make(chan error, 2)

	if cfg.API.GRPC.Enabled {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	if cfg.API.HTTP.Enabled {
		go func() {
			if err := httpServer.Start(); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	logger.Info().Str("grpc_addr", grpcServer.Addr()).Int("http_port", cfg.API.HTTP.Port).Msg("booking service started")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	return serveErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
