package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/clearspend/backend/internal/audit"
	"github.com/clearspend/backend/internal/clock"
	"github.com/clearspend/backend/internal/config"
	"github.com/clearspend/backend/internal/database"
	"github.com/clearspend/backend/internal/events"
	"github.com/clearspend/backend/internal/handlers"
	"github.com/clearspend/backend/internal/lock"
	mW "github.com/clearspend/backend/internal/middleware"
	"github.com/clearspend/backend/internal/notification"
	"github.com/clearspend/backend/internal/repository/postgres"
	"github.com/clearspend/backend/internal/scheduler"
	"github.com/clearspend/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, db, logger); err != nil {
			return err
		}
	}

	redisClient, err := database.InitRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	threshold, err := decimal.NewFromString(cfg.Notification.LowBalanceThreshold)
	if err != nil {
		return err
	}

	clk := clock.System()
	store := postgres.NewStore(db, logger)
	bus := events.NewBus(cfg.Events.Workers, cfg.Events.QueueSize, logger)
	auditLogger := audit.NewLogger(logger)
	jobs := scheduler.NewRedis(redisClient, cfg.Scheduler.KeyPrefix, scheduler.RedisOptions{
		ProcessingTTL:  cfg.Ledger.CorrectionLockTTL,
		ScheduledGrace: cfg.Scheduler.StateGrace,
	}, clk, logger)
	lockOpts := lock.DefaultOptions()
	lockOpts.Expiry = cfg.Ledger.CorrectionLockTTL
	locker := lock.NewRedis(redisClient, lockOpts, logger)

	ledgerService := services.NewLedgerService(clk, logger)
	adjustmentService := services.NewAdjustmentService(store, ledgerService, clk, logger)
	limitService := services.NewLimitService(clk, logger)
	accountService := services.NewAccountService(store, bus, adjustmentService, ledgerService, limitService, clk, auditLogger, logger,
		services.AccountServiceConfig{StandardHold: cfg.Ledger.StandardHold()})
	businessService := services.NewBusinessService(store, bus, accountService, clk, auditLogger, logger)
	negativeBalanceService := services.NewNegativeBalanceService(store, bus, accountService, jobs, locker, clk, auditLogger, logger,
		services.NegativeBalanceConfig{Delay: cfg.Ledger.NegativeBalanceDelay})
	lowBalanceNotifier := notification.NewLowBalanceNotifier(redisClient, accountService, clk, notification.Config{
		Queue:     cfg.Notification.Queue,
		Threshold: threshold,
		Frequency: cfg.Notification.Frequency,
	}, logger)

	bus.Subscribe(negativeBalanceService.HandleEvent)
	bus.Subscribe(lowBalanceNotifier.HandleEvent)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(cfg, logger, store, handlers.NewBusinessHandler(businessService, negativeBalanceService, logger)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bus.Run(gctx)
	})
	g.Go(func() error {
		return jobs.Run(gctx, cfg.Scheduler.PollInterval)
	})
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// Deliver what committed transactions already queued.
		bus.Drain(shutdownCtx)
		return nil
	})

	return g.Wait()
}

func newRouter(cfg *config.Config, logger *zap.Logger, store *postgres.Store, businessHandler *handlers.BusinessHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mW.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			handlers.SendErrorResponse(w, "database unavailable", http.StatusServiceUnavailable, nil)
			return
		}
		handlers.SendJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.Auth([]byte(cfg.JWT.SecretKey)))
		businessHandler.Routes(r)
	})

	return r
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}
