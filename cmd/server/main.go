package main // Entry point package

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/time-capsule/internal/config"
	"github.com/iliyamo/time-capsule/internal/database"
	"github.com/iliyamo/time-capsule/internal/handler"
	"github.com/iliyamo/time-capsule/internal/lifecycle"
	"github.com/iliyamo/time-capsule/internal/media"
	"github.com/iliyamo/time-capsule/internal/middleware"
	"github.com/iliyamo/time-capsule/internal/queue"
	"github.com/iliyamo/time-capsule/internal/reconcile"
	"github.com/iliyamo/time-capsule/internal/repository"
	"github.com/iliyamo/time-capsule/internal/router"
	"github.com/iliyamo/time-capsule/internal/service"
	"github.com/iliyamo/time-capsule/internal/storage"
)

func main() {
	_ = godotenv.Load() // a missing .env file is fine
	cfg := config.Load()

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	opts.Level = slog.LevelDebug
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storageCfg, err := config.LoadStorageConfig()
	if err != nil {
		return err
	}
	paymentCfg, err := config.LoadPaymentConfig()
	if err != nil {
		return err
	}
	rlCfg, err := config.LoadRateLimitConfig()
	if err != nil {
		return err
	}
	cacheCfg, err := config.LoadCacheConfig()
	if err != nil {
		return err
	}
	redisCfg, err := config.LoadRedisConfigFrom(nil)
	if err != nil {
		return err
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	// Redis is optional: without it there is no rate limiting, view cache
	// or reclaim key.
	var rdb *redis.Client
	if c, err := config.NewRedisClient(redisCfg); err != nil {
		logger.Warn("redis unavailable, running degraded", "error", err)
	} else {
		rdb = c
		defer rdb.Close()
	}

	files, err := storage.NewS3Storage(ctx, storage.Options{
		Bucket:        storageCfg.Bucket,
		Region:        storageCfg.Region,
		Endpoint:      storageCfg.Endpoint,
		PublicBaseURL: storageCfg.PublicBaseURL,
	})
	if err != nil {
		return err
	}

	capsules := repository.NewCapsuleRepo(db)
	ledger := repository.NewPaymentRepo(db)

	var notifier *service.Publisher
	if cfg.EventsEnabled {
		notifier = service.NewPublisher(cfg.RabbitURL, logger)
		consumer := &queue.Consumer{URL: cfg.RabbitURL, Logger: logger}
		go func() { _ = consumer.Run(ctx) }()
	}

	deps := lifecycle.Deps{
		Store:      capsules,
		Uploader:   files,
		Normalizer: media.NewNormalizer(logger),
		Logger:     logger,
	}
	proto := &reconcile.Protocol{
		Capsules:      capsules,
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logger.With("component", "reconcile"),
	}
	if notifier != nil {
		deps.Notifier = notifier
		proto.Notifier = notifier
	}
	if rdb != nil {
		corr := repository.NewCorrelationRepo(rdb, "capsule:reclaim", cfg.CorrelationTTL)
		deps.Correlations = corr
		proto.Correlations = corr
	}
	if paymentCfg.Verifier == config.VerifierLedger {
		proto.Verifier = reconcile.LedgerVerifier{Ledger: ledger}
	}

	svc := lifecycle.NewService(lifecycle.Config{
		UnlockAt:      cfg.UnlockAt,
		MessageMax:    cfg.MessageMax,
		CheckoutURL:   cfg.CheckoutURL,
		PublicBaseURL: cfg.PublicBaseURL,
	}, deps)

	secure := cfg.IsProd()
	h := router.Handlers{
		Health:   handler.Health(db),
		Capsules: handler.NewCapsuleHandler(svc, capsules, cfg.PendingCookieTTL, secure, logger),
		Payments: handler.NewPaymentHandler(proto, ledger, paymentCfg.WebhookSecret, secure, logger),
		Access: &handler.AccessHandler{
			JWTSecret:      cfg.JWTSecret,
			FreeAccessHash: cfg.FreeAccessHash,
			TokenTTL:       time.Duration(cfg.AccessTTLMin) * time.Minute,
		},
	}
	mw := router.Middleware{
		RateLimit: middleware.NewTokenBucket(rlCfg, rdb, logger),
		ViewCache: middleware.NewViewCache(cacheCfg, rdb, logger),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit("32M"))
	e.Use(requestLogger(logger))
	router.RegisterRoutes(e, h, mw)
	router.RegisterFreeAccess(e, h, mw, cfg.JWTSecret)

	addr := ":" + cfg.Port
	logger.Info("listening", "addr", addr, "env", cfg.Env, "unlock_at", cfg.UnlockAt, "verifier", paymentCfg.Verifier)

	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(addr) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}
