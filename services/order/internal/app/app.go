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
	pkgkafka "github.com/bedive-215/tech-store-sub000/pkg/kafka"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
	"github.com/bedive-215/tech-store-sub000/pkg/middleware"
	"github.com/bedive-215/tech-store-sub000/pkg/rpc"
	"github.com/bedive-215/tech-store-sub000/pkg/tracing"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/config"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/event"
	handler "github.com/bedive-215/tech-store-sub000/services/order/internal/handler/http"
	rpchandler "github.com/bedive-215/tech-store-sub000/services/order/internal/handler/rpc"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/repository/postgres"
	redisrepo "github.com/bedive-215/tech-store-sub000/services/order/internal/repository/redis"
	"github.com/bedive-215/tech-store-sub000/services/order/internal/service"
	"github.com/bedive-215/tech-store-sub000/services/order/migrations"
)

// App wires together all dependencies and runs the order service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	bus            *bus.Client
	rpcClient      *rpc.Client
	responder      *rpc.Responder
	consumer       *event.Consumer
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "order",
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
		AppName:         "order-service",
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
	database.RegisterPoolMetrics(pool, "order")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Redis backs the quote cache and the reply cache. Without it quotes
	// always go to the catalog and replies are cached in process memory.
	var (
		quoteCache service.QuoteCache
		replyCache rpc.ReplyCache
	)
	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, quote cache disabled",
			slog.String("error", err.Error()),
		)
		replyCache = rpc.NewMemoryReplyCache(cfg.ReplyCacheTTL)
	} else {
		quoteCache = redisrepo.NewQuoteCache(redisClient, cfg.QuoteCacheTTL)
		replyCache = rpc.NewRedisReplyCache(redisClient, cfg.ReplyCacheTTL)
	}

	// Message bus. Connect never fails; the client retries on its own.
	busCfg := bus.DefaultConfig(cfg.AMQPURL)
	busCfg.Exchange = cfg.AMQPExchange
	busCfg.ReconnectDelay = cfg.AMQPReconnectDelay
	busCfg.ConnectTimeout = cfg.AMQPConnectTimeout
	busCfg.Prefetch = cfg.AMQPPrefetch
	busCfg.AppID = "order"
	busClient := bus.NewClient(busCfg, logger)
	busClient.Connect(ctx)

	rpcClient := rpc.NewClient(busClient, logger, rpc.WithDefaultTimeout(cfg.RPCTimeout))
	catalogCaller := rpc.NewBreakerCaller(rpcClient, breakerConfig(cfg, "catalog"), logger)
	inventoryCaller := rpc.NewBreakerCaller(rpcClient, breakerConfig(cfg, "inventory"), logger)

	// Kafka carries the order audit trail.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	events := event.NewProducer(producer, logger)

	// Build the dependency graph.
	tx := database.NewTransactor(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	couponLedger := service.NewCouponLedger(postgres.NewCouponRepository(pool), tx, logger)
	saga := service.NewOrderSaga(service.SagaDeps{
		Orders:      orderRepo,
		Coupons:     couponLedger,
		Tx:          tx,
		Catalog:     catalogCaller,
		Inventory:   inventoryCaller,
		Events:      events,
		CallTimeout: cfg.RPCTimeout,
	}, logger)
	orderService := service.NewOrderService(orderRepo, saga, logger)
	quoteService := service.NewQuoteService(catalogCaller, quoteCache, couponLedger, cfg.RPCTimeout, logger)

	responder := rpc.NewResponder(busClient, logger, rpc.WithReplyCache(replyCache))
	rpchandler.NewHandler(orderService).Register(responder)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterCritical("bus", busClient.Ping)
	healthHandler.RegisterNonCritical("kafka", producer.Ping)
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		Environment:       cfg.Environment,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
		CreateRateLimit: middleware.RateLimitConfig{
			RPS:   cfg.CreateRateLimitRPS,
			Burst: cfg.CreateRateLimitBurst,
		},
	}, handler.Services{
		Orders:  orderService,
		Saga:    saga,
		Quotes:  quoteService,
		Coupons: couponLedger,
	}, healthHandler, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		bus:            busClient,
		rpcClient:      rpcClient,
		responder:      responder,
		consumer:       event.NewConsumer(quoteService, logger),
		producer:       producer,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

func breakerConfig(cfg *config.Config, name string) rpc.BreakerConfig {
	bc := rpc.DefaultBreakerConfig(name)
	bc.FailureRatio = cfg.BreakerFailureRatio
	bc.MinRequests = cfg.BreakerMinRequests
	bc.Timeout = cfg.BreakerOpenTimeout
	return bc
}

// Run starts the HTTP server, the reply listeners, the RPC responder and the
// catalog subscriptions, then blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Listen for replies before the first request goes out.
	if err := a.rpcClient.Listen(ctx, messages.TopicCatalog, messages.TopicInventory); err != nil {
		return fmt.Errorf("rpc client: %w", err)
	}

	if err := a.responder.Listen(ctx); err != nil {
		return fmt.Errorf("rpc responder: %w", err)
	}

	if err := a.consumer.Subscribe(ctx, a.bus); err != nil {
		return fmt.Errorf("catalog subscriptions: %w", err)
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
// 1. HTTP server (drain in-flight requests and sagas)
// 2. Bus client
// 3. Kafka producer (flush audit events)
// 4. Tracer
// 5. Redis client
// 6. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.bus.Close(); err != nil {
		a.logger.Error("bus close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
