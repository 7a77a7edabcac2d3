package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bedive-215/tech-store-sub000/pkg/bus"
	"github.com/bedive-215/tech-store-sub000/pkg/database"
	"github.com/bedive-215/tech-store-sub000/pkg/health"
	"github.com/bedive-215/tech-store-sub000/pkg/rpc"
	"github.com/bedive-215/tech-store-sub000/pkg/tracing"
	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/config"
	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/event"
	handler "github.com/bedive-215/tech-store-sub000/services/catalog/internal/handler/http"
	rpchandler "github.com/bedive-215/tech-store-sub000/services/catalog/internal/handler/rpc"
	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/repository/postgres"
	"github.com/bedive-215/tech-store-sub000/services/catalog/internal/service"
	"github.com/bedive-215/tech-store-sub000/services/catalog/migrations"
)

// App wires together all dependencies and runs the catalog service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	bus            *bus.Client
	responder      *rpc.Responder
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "catalog",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		AppName:         "catalog-service",
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "catalog")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// The reply cache degrades to process memory when Redis is down; a
	// redelivery then only deduplicates on the instance that answered it.
	var replyCache rpc.ReplyCache
	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory rpc reply cache",
			slog.String("error", err.Error()),
		)
		replyCache = rpc.NewMemoryReplyCache(cfg.ReplyCacheTTL)
	} else {
		replyCache = rpc.NewRedisReplyCache(redisClient, cfg.ReplyCacheTTL)
	}

	// Message bus. Connect never fails; the client retries on its own.
	busCfg := bus.DefaultConfig(cfg.AMQPURL)
	busCfg.Exchange = cfg.AMQPExchange
	busCfg.ReconnectDelay = cfg.AMQPReconnectDelay
	busCfg.ConnectTimeout = cfg.AMQPConnectTimeout
	busCfg.Prefetch = cfg.AMQPPrefetch
	busCfg.AppID = "catalog"
	busClient := bus.NewClient(busCfg, logger)
	busClient.Connect(ctx)

	// Build the dependency graph.
	repo := postgres.NewProductRepository(pool)
	broadcaster := event.NewBroadcaster(busClient, logger)
	productService := service.NewProductService(repo, broadcaster, logger)
	inventoryService := service.NewInventoryService(repo, database.NewTransactor(pool), broadcaster, logger)

	responder := rpc.NewResponder(busClient, logger, rpc.WithReplyCache(replyCache))
	rpchandler.NewHandler(productService, inventoryService).Register(responder)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterCritical("bus", busClient.Ping)
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		Environment:       cfg.Environment,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
	}, productService, healthHandler, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		bus:            busClient,
		responder:      responder,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and the RPC responder, then blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Start answering RPC requests.
	if err := a.responder.Listen(ctx); err != nil {
		return fmt.Errorf("rpc responder: %w", err)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Bus client (wait for in-flight RPC handlers)
// 3. Tracer (flush pending spans)
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Close the bus after in-flight handlers have replied.
	if err := a.bus.Close(); err != nil {
		a.logger.Error("bus close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 3. Flush pending spans.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close Redis.
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 5. Close PostgreSQL pool.
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
