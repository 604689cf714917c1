package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/order-core/configs"
	"github.com/rl1809/order-core/internal/adapter/handler"
	"github.com/rl1809/order-core/internal/adapter/handler/middleware"
	"github.com/rl1809/order-core/internal/adapter/scheduler"
	"github.com/rl1809/order-core/internal/adapter/storage"
	"github.com/rl1809/order-core/internal/core/service"
	"github.com/rl1809/order-core/internal/logging"
	"github.com/rl1809/order-core/internal/port"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	jobTimeout      = 5 * time.Minute
)

func main() {
	env := os.Getenv("APP_ENV") // dev | staging | prod
	if env == "" {
		env = "dev"
	}
	cfg, err := configs.Load("configs", env)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.Init(logging.Options{Service: cfg.App.Name, Level: cfg.Log.Level, FilePath: cfg.Log.File})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg configs.Config, logger *slog.Logger) error {
	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	// Initialize SQL store
	dialect, err := storage.DialectByName(cfg.Database.Dialect)
	if err != nil {
		return err
	}
	db, err := storage.Open(startCtx, dialect, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if dialect.Name == storage.MySQL.Name {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}
	if cfg.Database.Migrate {
		if err := storage.Migrate(startCtx, db, dialect); err != nil {
			return err
		}
	}
	logger.Info("connected to database", "dialect", dialect.Name)

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()
	if err := rdb.Ping(startCtx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("connected to redis", "addr", cfg.Redis.Addr)

	store := storage.NewStore(db, dialect)
	cache := storage.NewRedisAdapter(rdb)

	var sequence port.SequenceSource = cache
	if cfg.OrderNumber.Source == "sql" {
		sequence = store.Sequence()
	}

	// Initialize services
	carts := service.NewCartService(store.UnitOfWork(), store.Carts(), store.Catalog())
	orders := service.NewOrderService(store.UnitOfWork(), store.Orders(), store.Catalog(),
		service.NewOrderNumberGenerator(sequence))
	saga := service.NewOrderSaga(store.UnitOfWork(), store.Orders(), cache, cache, orders,
		cfg.Inventory.ReservationTTL, logging.New("saga"))
	reaper := service.NewReservationReaper(cache, orders, cfg.Inventory.ReaperBatch, logging.New("reaper"))

	bus, err := setupBroker(startCtx, cfg, saga.Handle)
	if err != nil {
		return err
	}
	defer bus.close()

	outbox := service.NewOutboxPublisher(store.Outbox(), bus.publisher, service.OutboxPublisherConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		AlertAfter:   cfg.Outbox.AlertAfter,
		BaseBackoff:  cfg.Outbox.BaseBackoff,
		MaxBackoff:   cfg.Outbox.MaxBackoff,
		PublishTries: cfg.Outbox.PublishTries,
	}, logging.New("outbox"))

	sched := scheduler.New(jobTimeout, logging.New("scheduler"))
	if err := sched.Add("reservation-reaper", cfg.Inventory.ReaperSchedule, reaper.Sweep); err != nil {
		return err
	}
	if err := sched.Add("stale-carts", cfg.Cart.SweepSchedule, func(ctx context.Context) (int, error) {
		return carts.AbandonStaleCarts(ctx, cfg.Cart.AbandonAfter, cfg.Cart.SweepBatch)
	}); err != nil {
		return err
	}

	probes := []handler.Probe{
		{Name: "database", Check: store.Ping},
		{Name: "redis", Check: cache.Ping},
	}

	// Initialize HTTP server
	auth := middleware.NewAuth(middleware.AuthConfig{
		Secret:   cfg.Security.JWTSecret,
		Issuer:   cfg.Security.Issuer,
		Audience: cfg.Security.Audience,
	})
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.NewRouter(handler.NewHTTPHandler(carts, orders, cfg.HTTP.RequestTimeout), auth, logging.New("http"), probes...),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Initialize gRPC health server
	grpcServer := grpc.NewServer()
	health := handler.NewGRPCHealth(logging.New("grpc"), probes...)
	health.Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return outbox.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	if bus.consume != nil {
		g.Go(func() error { return bus.consume(gctx) })
	}
	g.Go(func() error { return health.Watch(gctx, cfg.GRPC.HealthInterval) })

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.GRPC.Addr)
		return grpcServer.Serve(lis)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown", "err", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}
