package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"

	"mrpulse.app/dashboard/common/id"
	"mrpulse.app/dashboard/common/logger"
	"mrpulse.app/dashboard/common/otel"
	"mrpulse.app/dashboard/core/config"
	"mrpulse.app/dashboard/core/db"
	"mrpulse.app/dashboard/internal/cache"
	"mrpulse.app/dashboard/internal/cachekey"
	"mrpulse.app/dashboard/internal/changes"
	"mrpulse.app/dashboard/internal/dto"
	"mrpulse.app/dashboard/internal/fetcher"
	"mrpulse.app/dashboard/internal/gateway"
	"mrpulse.app/dashboard/internal/lock"
	"mrpulse.app/dashboard/internal/notify"
	"mrpulse.app/dashboard/internal/queue"
	"mrpulse.app/dashboard/internal/service"
	"mrpulse.app/dashboard/internal/store"
	"mrpulse.app/dashboard/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	slog.InfoContext(ctx, "mrpulse worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// Different node ID than the server
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
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
	defer redisClient.Close()
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

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer,
		DLQStream: cfg.Pipeline.RedisDLQStream,
		BatchSize: 1,
		Block:     5 * time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	cacheStore := cache.NewRedisStore(redisClient, "mrpulse:cache:")
	keys := cachekey.New(cfg.Cache.AnonymousIdentity)
	stores := store.NewStores(database.Querier())
	locker := lock.NewRedisLocker(redisClient, "mrpulse:lock:")

	var transport notify.PushTransport = notify.DiscardTransport{}
	if cfg.Push.Enabled() {
		transport = notify.NewWebPushTransport(cfg.Push, &http.Client{Timeout: 10 * time.Second})
	} else {
		slog.WarnContext(ctx, "vapid keys not configured, push notifications disabled")
	}

	fc := fetcher.DefaultConfig()
	fc.Validity = cfg.Cache.MergeRequestValidity
	fc.StaleRetention = cfg.Cache.StaleRetention
	fc.MonthlyTTL = cfg.Cache.MonthlyTTL

	refresher := service.NewRefreshService(service.RefreshConfig{
		Fetcher: fetcher.New(gw, cacheStore, keys, policy, fc).WithLocker(locker),
		Enricher: fetcher.NewReviewerEnricher(gw, cacheStore, keys, nil, fetcher.ReviewerConfig{
			TTL:         cfg.Cache.ReviewerTTL,
			TimezoneTTL: cfg.Cache.TimezoneTTL,
		}),
		Normalizer:  dto.NewNormalizer(policy),
		Detector:    changes.NewDetector(policy),
		Broadcaster: notify.NewBroadcaster(redisClient, notify.JSONRenderer{}, 0),
		Dispatcher: notify.NewDispatcher(stores.Subscriptions(), transport, notify.DispatcherConfig{
			Icon:  cfg.Push.Icon,
			Badge: cfg.Push.Badge,
		}),
		Baselines: cacheStore,
		Keys:      keys,
	})

	w := worker.New(consumer, refresher, locker, worker.Config{
		JobTimeout: cfg.Scheduler.JobTimeout,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Reclaimer first, it never holds a job for long
	reclaimer.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
 __  __ ____  ____        _
|  \/  |  _ \|  _ \ _   _| |___  ___
| |\/| | |_) | |_) | | | | / __|/ _ \
| |  | |  _ <|  __/| |_| | \__ \  __/
|_|  |_|_| \_\_|    \__,_|_|___/\___|  worker
`
