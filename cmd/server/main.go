package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempcode/backend/internal/cache"
	"tempcode/backend/internal/config"
	"tempcode/backend/internal/health"
	"tempcode/backend/internal/lock"
	"tempcode/backend/internal/logger"
	"tempcode/backend/internal/mailadmin"
	"tempcode/backend/internal/monitoring"
	"tempcode/backend/internal/pool"
	"tempcode/backend/internal/scheduler"
	"tempcode/backend/internal/service"
	"tempcode/backend/internal/storage"
	"tempcode/backend/internal/storage/memory"
	sqlstore "tempcode/backend/internal/storage/sql"
	httptransport "tempcode/backend/internal/transport/http"
)

// main 启动提供邮箱开通、验证码提取与查询的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting tempcode server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.Strings("allowed_domains", cfg.Mailbox.AllowedDomains),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		// 内存存储仅用于开发：进程退出后邮箱记录全部丢失
		store = memory.NewStore()
		log.Warn("using memory storage (development mode)")
	}
	defer store.Close()

	// 初始化 Redis（缓存与分布式锁共用一个连接）
	cacheStore, err := cache.New(&cfg.Redis)
	if err != nil {
		panic(fmt.Sprintf("failed to connect to redis: %v", err))
	}
	defer cacheStore.Close()
	locker := lock.NewManager(cacheStore.Client())
	log.Info("redis connected", zap.String("address", cfg.Redis.Address))

	// 初始化远程控制面客户端与监控
	admin := mailadmin.New(&cfg.AdminAPI, log)
	metrics := monitoring.NewMetrics()

	// 初始化服务层
	lifecycleService := service.NewLifecycleService(store, admin, cacheStore, cfg, metrics, log)
	scannerService := service.NewScannerService(store, admin, cacheStore, locker, cfg, metrics, log)
	syncService := service.NewSyncService(store, admin, cacheStore, metrics, log)
	verificationService := service.NewVerificationService(store, cacheStore, cfg, log)

	// 扫描协程池与调度器
	workers := pool.NewWorkerPool(cfg.Scheduler.ScanConcurrency, cfg.Scheduler.ScanConcurrency*4, log)
	sched := scheduler.New(
		lifecycleService,
		scannerService,
		syncService,
		store,
		workers,
		locker,
		cfg,
		metrics,
		log,
		scheduler.NewRealClock(),
	)

	// 健康检查
	checker := health.NewChecker(store, cacheStore, admin, log)

	// HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:              cfg,
		LifecycleService:    lifecycleService,
		VerificationService: verificationService,
		LiveHandler:         checker.LiveHandler(),
		ReadyHandler:        checker.ReadyHandler(),
		Logger:              log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 扫描协程池与调度器 goroutine
	group.Go(func() error {
		workers.Start(groupCtx)
		sched.Start(groupCtx)
		sched.Wait()
		workers.Stop()
		log.Info("scheduler stopped")
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
