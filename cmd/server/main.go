package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"mrpulse.app/dashboard/common/id"
	"mrpulse.app/dashboard/common/logger"
	"mrpulse.app/dashboard/common/otel"
	"mrpulse.app/dashboard/core/config"
	"mrpulse.app/dashboard/core/db"
	"mrpulse.app/dashboard/internal/cache"
	"mrpulse.app/dashboard/internal/cachekey"
	"mrpulse.app/dashboard/internal/dto"
	"mrpulse.app/dashboard/internal/fetcher"
	"mrpulse.app/dashboard/internal/gateway"
	"mrpulse.app/dashboard/internal/http/handler"
	"mrpulse.app/dashboard/internal/http/middleware"
	httprouter "mrpulse.app/dashboard/internal/http/router"
	"mrpulse.app/dashboard/internal/lock"
	"mrpulse.app/dashboard/internal/notify"
	"mrpulse.app/dashboard/internal/queue"
	"mrpulse.app/dashboard/internal/scheduler"
	"mrpulse.app/dashboard/internal/service"
	"mrpulse.app/dashboard/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "mrpulse server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	policy, err := config.LoadMergeRequests(cfg.MergeRequestsConfigPath)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load merge requests config", "error", err, "path", cfg.MergeRequestsConfigPath)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	gw, err := gateway.New(gateway.Config{
		BaseURL:      cfg.GitLab.URL,
		Token:        cfg.GitLab.Token,
		ReadTimeout:  cfg.GitLab.ReadTimeout,
		WriteTimeout: cfg.GitLab.WriteTimeout,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create gitlab gateway", "error", err)
		os.Exit(1)
	}

	cacheStore := cache.NewRedisStore(redisClient, "mrpulse:cache:")
	keys := cachekey.New(cfg.Cache.AnonymousIdentity)
	locker := lock.NewRedisLocker(redisClient, "mrpulse:lock:")
	mrFetcher := fetcher.New(gw, cacheStore, keys, policy, fetcherConfig(cfg.Cache)).WithLocker(locker)
	stores := store.NewStores(database.Querier())

	dashboard := service.NewDashboardService(service.DashboardConfig{
		Fetcher: mrFetcher,
		Enricher: fetcher.NewReviewerEnricher(gw, cacheStore, keys, nil, fetcher.ReviewerConfig{
			TTL:         cfg.Cache.ReviewerTTL,
			TimezoneTTL: cfg.Cache.TimezoneTTL,
		}),
		Normalizer:  dto.NewNormalizer(policy),
		Broadcaster: notify.NewBroadcaster(redisClient, notify.JSONRenderer{}, 0),
		Users:       stores.Users(),
	})

	producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, slog.Default())
	defer producer.Close()

	sched := scheduler.New(stores.Users(), mrFetcher, producer, locker, scheduler.Config{
		Interval:       cfg.Scheduler.Interval,
		UserLimit:      cfg.Scheduler.UserLimit,
		ActivityWindow: cfg.Scheduler.ActivityWindow,
	})

	schedCtx, stopScheduler := context.WithCancel(ctx)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(schedCtx)
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, httprouter.Handlers{
		MergeRequests: handler.NewMergeRequestHandler(dashboard),
		Stream:        handler.NewStreamHandler(redisClient),
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: the live stream holds its response open.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stopScheduler()
	<-schedDone

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func fetcherConfig(c config.CacheConfig) fetcher.Config {
	fc := fetcher.DefaultConfig()
	fc.Validity = c.MergeRequestValidity
	fc.StaleRetention = c.StaleRetention
	fc.MonthlyTTL = c.MonthlyTTL
	return fc
}

func setupRouter(cfg config.Config, handlers httprouter.Handlers) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, handlers)

	return router
}

const banner = `
 __  __ ____  ____        _
|  \/  |  _ \|  _ \ _   _| |___  ___
| |\/| | |_) | |_) | | | | / __|/ _ \
| |  | |  _ <|  __/| |_| | \__ \  __/
|_|  |_|_| \_\_|    \__,_|_|___/\___|  server
`
