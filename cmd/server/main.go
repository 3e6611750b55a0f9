package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/config"
	"github.com/d60-Lab/newsfeed/internal/api"
	"github.com/d60-Lab/newsfeed/internal/api/handler"
	"github.com/d60-Lab/newsfeed/internal/feed"
	"github.com/d60-Lab/newsfeed/internal/repository"
	"github.com/d60-Lab/newsfeed/internal/service"
	"github.com/d60-Lab/newsfeed/pkg/cache"
	"github.com/d60-Lab/newsfeed/pkg/database"
	"github.com/d60-Lab/newsfeed/pkg/logger"
	"github.com/d60-Lab/newsfeed/pkg/tracing"
)

// @title Newsfeed API
// @version 1.0
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type stopFunc func(context.Context) error

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}

	followRepo := repository.NewFollowRepository(db)
	userRepo := repository.NewUserRepository(db, followRepo)
	postRepo := repository.NewPostRepository(db)

	var (
		indexes   feed.IndexStore
		postCache feed.Store[feed.CachedPost]
		userCache feed.Store[feed.CachedUser]
		rdb       *redis.Client
	)
	switch cfg.Feed.Backend {
	case "memory":
		indexes = feed.NewMemoryIndexStore()
		postCache = feed.NewMemoryStore[feed.CachedPost]()
		userCache = feed.NewMemoryStore[feed.CachedUser]()
	default:
		rdb, err = cache.NewRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		indexes = feed.NewRedisIndexStore(rdb, cfg.Feed.IndexTTL)
		postCache = feed.NewRedisPostStore(rdb, cfg.Feed.CacheTTL)
		userCache = feed.NewRedisUserStore(rdb, cfg.Feed.CacheTTL)
	}

	caches := feed.NewCaches(postCache, userCache, postRepo, userRepo, cfg.Feed.CoalesceLoads)
	heater := feed.NewHeater(indexes, caches, postRepo, cfg.Feed.HeatBatchSize)
	assembler := feed.NewAssembler(indexes, caches, postRepo, cfg.Feed.PageSize)

	var stops []stopFunc

	queue := service.NewHeatQueue(heater, cfg.Heater.QueueSize, 0)
	stops = append(stops, queue.Start(cfg.Heater.Workers))
	var sink service.HeatSink = service.QueueSink{Queue: queue}

	// 有 redis 时预热信号走 stream，多实例共享一个消费组
	if rdb != nil && cfg.Heater.Stream != "" {
		stream := service.NewHeatStream(rdb, cfg.Heater.Stream, cfg.Heater.Group, cfg.Heater.Consumer, heater, 0)
		stop, err := stream.Start(ctx)
		if err != nil {
			return fmt.Errorf("start heat stream: %w", err)
		}
		stops = append(stops, stop)
		sink = stream
	}

	engagements := service.NewEngagements(postRepo, caches)
	var engagementSink service.EngagementSink = engagements
	if rdb != nil && cfg.Engagement.Stream != "" {
		stream := service.NewEngagementStream(rdb, cfg.Engagement.Stream, cfg.Engagement.Group, cfg.Engagement.Consumer, engagements, 0)
		stop, err := stream.Start(ctx)
		if err != nil {
			return fmt.Errorf("start engagement stream: %w", err)
		}
		stops = append(stops, stop)
		engagementSink = stream
	}

	fanout := service.NewFanoutWorker(db, followRepo, indexes, caches,
		cfg.Fanout.Workers, cfg.Fanout.BatchSize, cfg.Fanout.ClaimLimit, cfg.Fanout.PollInterval)
	stops = append(stops, fanout.Start())

	heatAll := service.NewHeatAll(userRepo, sink, 0)
	if cfg.Heater.Cron != "" {
		sched := service.NewHeatScheduler(heatAll, cfg.Heater.Cron)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start heat scheduler: %w", err)
		}
		stops = append(stops, func(context.Context) error { sched.Stop(); return nil })
	}

	h := handler.New(handler.Deps{
		Assembler:   assembler,
		Heater:      heater,
		Caches:      caches,
		HeatAll:     heatAll,
		HeatQueue:   queue,
		Publisher:   service.NewPublisher(db),
		RelService:  service.NewRelationshipService(followRepo, userRepo, caches.Users),
		Engagements: engagementSink,
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.SetupRouter(cfg, h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动时全量预热；本地队列满时等待 worker 消化
	go func() {
		if _, err := heatAll.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("startup feed heating failed", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", zap.Int("port", cfg.Server.Port), zap.String("backend", cfg.Feed.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	for i := len(stops) - 1; i >= 0; i-- {
		if err := stops[i](shutdownCtx); err != nil {
			logger.Warn("worker shutdown", zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	return nil
}
