package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "harpans/site/internal/auth/jwt"
	"harpans/site/internal/cache"
	"harpans/site/internal/config"
	"harpans/site/internal/health"
	"harpans/site/internal/logger"
	"harpans/site/internal/mailer"
	"harpans/site/internal/middleware"
	"harpans/site/internal/monitoring"
	"harpans/site/internal/service"
	"harpans/site/internal/storage"
	"harpans/site/internal/storage/memory"
	"harpans/site/internal/storage/postgres"
	"harpans/site/internal/storage/redis"
	httptransport "harpans/site/internal/transport/http"
)

// main 启动站点后端 HTTP 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Site.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Site.Debug,
		LogFile:     cfg.Log.LogFile,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting harpans site backend",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("debug", cfg.Site.Debug),
		zap.String("base_url", cfg.Site.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	ephemeral, err := openEphemeral(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize cache", zap.Error(err))
	}

	transport, err := mailer.New(ctx, cfg.Email, log)
	if err != nil {
		log.Fatal("failed to initialize mail transport", zap.Error(err))
	}
	log.Info("mail transport ready", zap.String("backend", transport.Name()))

	sections, err := service.LoadFeedSections(cfg.Feed.SectionsFile)
	if err != nil {
		log.Fatal("failed to load feed sections", zap.Error(err), zap.String("file", cfg.Feed.SectionsFile))
	}

	metrics := monitoring.NewMetrics()
	templates := service.MustTemplateRenderer()
	counters := service.NewCounterRateLimiter(ephemeral, log, metrics)

	intake := service.NewIntakeService(
		store,
		service.NewSubmissionRateLimiter(store, log, metrics),
		counters,
		transport,
		templates,
		service.IntakeConfig{
			From:      cfg.Email.DefaultFrom,
			Recipient: cfg.Site.ContactEmail,
			Contact:   cfg.RateLimit.Contact,
			Callback:  cfg.RateLimit.Callback,
		},
		log, metrics,
	)
	subscriptions := service.NewSubscriptionService(store, counters, cfg.RateLimit.Subscribe, log)
	notifications := service.NewNotificationDispatcher(
		store, store, ephemeral, transport, templates,
		service.NotificationConfig{
			From:    cfg.Email.DefaultFrom,
			BaseURL: cfg.Site.BaseURL,
		},
		log, metrics,
	)
	feeds := service.NewFeedProxy(ephemeral, cfg.Feed, log, metrics)
	instagram := service.NewInstagramProxy(ephemeral, cfg.Instagram, log, metrics)

	healthChecker := health.NewHealthChecker(log)
	healthChecker.AddDependency("database", store.Health)
	healthChecker.AddDependency("cache", ephemeral.Ping)

	jwtManager := jwtpkg.NewManager(cfg.Site.SecretKey, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	throttle := middleware.NewThrottle(cfg.RateLimit.BurstRPS, cfg.RateLimit.Burst)

	router, err := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		Intake:        intake,
		Subscriptions: subscriptions,
		Notifications: notifications,
		Feeds:         feeds,
		FeedSections:  sections,
		Instagram:     instagram,
		JWTManager:    jwtManager,
		Health:        healthChecker,
		Metrics:       metrics,
		Throttle:      throttle,
		Logger:        log,
	})
	if err != nil {
		log.Fatal("failed to build router", zap.Error(err))
	}

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 清理空闲的突发限速条目
	group.Go(func() error {
		throttle.Cleanup(groupCtx, time.Minute)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if closer, ok := ephemeral.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", zap.Error(err))
	}
	log.Info("server stopped")
}

// openStore 配置了数据库时使用 PostgreSQL / MySQL，否则使用内存存储
func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Warn("using memory storage, data is lost on restart")
		return memory.NewStore(), nil
	}

	store, err := postgres.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("using database storage", zap.String("type", cfg.Database.Type))
	return store, nil
}

// openEphemeral 配置了 Redis 时使用 Redis，否则使用进程内缓存
func openEphemeral(cfg *config.Config, log *zap.Logger) (storage.EphemeralStore, error) {
	if cfg.Redis.Address == "" {
		log.Info("using in-process cache")
		return cache.NewLocalCache(time.Minute), nil
	}
	client, err := redis.New(cfg.Redis, log)
	if err != nil {
		return nil, err
	}
	return client, nil
}
