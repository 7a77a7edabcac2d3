package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bedive-215/tech-store-sub000/pkg/bus"
	"github.com/bedive-215/tech-store-sub000/pkg/database"
	"github.com/bedive-215/tech-store-sub000/pkg/health"
	"github.com/bedive-215/tech-store-sub000/pkg/messages"
	"github.com/bedive-215/tech-store-sub000/pkg/rpc"
	"github.com/bedive-215/tech-store-sub000/pkg/tracing"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/config"
	handler "github.com/bedive-215/tech-store-sub000/services/warranty/internal/handler/http"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/repository/postgres"
	"github.com/bedive-215/tech-store-sub000/services/warranty/internal/service"
	"github.com/bedive-215/tech-store-sub000/services/warranty/migrations"
)

// App wires together all dependencies and runs the warranty service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	bus            *bus.Client
	rpcClient      *rpc.Client
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "warranty",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.PostgresHost
	pgCfg.Port = cfg.PostgresPort
	pgCfg.User = cfg.PostgresUser
	pgCfg.Password = cfg.PostgresPass
	pgCfg.DBName = cfg.PostgresDB
	pgCfg.SSLMode = cfg.PostgresSSL
	pgCfg.AppName = "warranty-service"
	pgCfg.MaxConns = cfg.DBMaxConns
	pgCfg.MinConns = cfg.DBMinConns

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	database.RegisterPoolMetrics(pool, "warranty")

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	busCfg := bus.DefaultConfig(cfg.AMQPURL)
	busCfg.Exchange = cfg.AMQPExchange
	busCfg.ReconnectDelay = cfg.AMQPReconnectDelay
	busCfg.ConnectTimeout = cfg.AMQPConnectTimeout
	busCfg.AppID = "warranty"
	busClient := bus.NewClient(busCfg, logger)
	busClient.Connect(ctx)

	rpcClient := rpc.NewClient(busClient, logger, rpc.WithDefaultTimeout(cfg.RPCTimeout))
	orders := rpc.NewBreakerCaller(rpcClient, rpc.DefaultBreakerConfig("order"), logger)

	claimService := service.NewClaimService(postgres.NewClaimRepository(pool), orders, cfg.RPCTimeout, logger)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterCritical("bus", busClient.Ping)

	router := handler.NewRouter(handler.RouterConfig{
		Environment:       cfg.Environment,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
	}, claimService, healthHandler, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		bus:            busClient,
		rpcClient:      rpcClient,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
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

	if err := a.rpcClient.Listen(ctx, messages.TopicOrder); err != nil {
		return fmt.Errorf("rpc client: %w", err)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown stops the HTTP server, then the bus, the tracer and the pool.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.bus.Close(); err != nil {
		a.logger.Error("bus close error", slog.String("error", err.Error()))
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

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
