package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempcode/backend/internal/config"
	"tempcode/backend/internal/lock"
	"tempcode/backend/internal/monitoring"
	"tempcode/backend/internal/pool"
	"tempcode/backend/internal/service"
	"tempcode/backend/internal/storage"
)

// 触发器名称，同时作为全局锁键名的一部分。
const (
	triggerScan    = "scan-all"
	triggerSync    = "data-sync"
	triggerStats   = "stats-refresh"
	triggerCleanup = "cleanup"
)

// Scheduler 驱动系统的四个周期任务：
//
//   - scan-all: 先批量过期到期邮箱，再把所有可扫描邮箱分发给协程池
//   - data-sync: 本地记录与远程控制面对账
//   - stats-refresh: 重新聚合统计快照并写入缓存
//   - cleanup: 硬删除超出宽限期的邮箱
//
// 每个触发器在执行前抢占全局锁，多实例部署时同一触发器在任意时刻
// 只有一个实例执行；抢不到锁直接跳过本轮。
type Scheduler struct {
	lifecycle *service.LifecycleService
	scanner   *service.ScannerService
	sync      *service.SyncService
	store     storage.Store
	workers   *pool.WorkerPool
	locker    service.Locker
	cfg       *config.Config
	metrics   *monitoring.Metrics
	log       *zap.Logger
	clock     Clock

	wg sync.WaitGroup
}

// New 创建调度器。
func New(
	lifecycle *service.LifecycleService,
	scanner *service.ScannerService,
	syncSvc *service.SyncService,
	store storage.Store,
	workers *pool.WorkerPool,
	locker service.Locker,
	cfg *config.Config,
	metrics *monitoring.Metrics,
	log *zap.Logger,
	clock Clock,
) *Scheduler {
	if clock == nil {
		clock = NewRealClock()
	}
	return &Scheduler{
		lifecycle: lifecycle,
		scanner:   scanner,
		sync:      syncSvc,
		store:     store,
		workers:   workers,
		locker:    locker,
		cfg:       cfg,
		metrics:   metrics,
		log:       log,
		clock:     clock,
	}
}

// Start 启动全部触发器，ctx 取消后停止。
func (s *Scheduler) Start(ctx context.Context) {
	s.spawn(ctx, triggerScan, s.cfg.Scheduler.ScanInterval, s.scanAll)
	s.spawn(ctx, triggerSync, s.cfg.Scheduler.SyncInterval, s.dataSync)
	s.spawn(ctx, triggerStats, s.cfg.Scheduler.StatsInterval, s.statsRefresh)
	s.spawn(ctx, triggerCleanup, s.cfg.Scheduler.CleanupInterval, s.cleanup)

	s.log.Info("scheduler started",
		zap.Duration("scan_interval", s.cfg.Scheduler.ScanInterval),
		zap.Duration("sync_interval", s.cfg.Scheduler.SyncInterval),
		zap.Duration("stats_interval", s.cfg.Scheduler.StatsInterval),
		zap.Duration("cleanup_interval", s.cfg.Scheduler.CleanupInterval),
	)
}

// Wait 阻塞直到全部触发器协程退出。
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// spawn 为单个触发器启动循环协程。
func (s *Scheduler) spawn(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	s.wg.Add(1)
	ticker := s.clock.NewTicker(interval)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				s.runGuarded(ctx, name, interval, fn)
			}
		}
	}()
}

// runGuarded 在全局锁保护下执行一次触发器。
//
// 租约取触发间隔，执行超过一个周期的任务会被下一轮接管视为放弃。
func (s *Scheduler) runGuarded(ctx context.Context, name string, lease time.Duration, fn func(context.Context) error) {
	token, err := s.locker.TryAcquire(ctx, lock.TriggerKey(name), lease)
	if errors.Is(err, lock.ErrAlreadyLocked) {
		s.metrics.TriggerRuns.WithLabelValues(name, "skipped").Inc()
		s.log.Debug("trigger skipped, held by another instance", zap.String("trigger", name))
		return
	}
	if err != nil {
		s.metrics.TriggerRuns.WithLabelValues(name, "failed").Inc()
		s.log.Warn("failed to acquire trigger lock", zap.String("trigger", name), zap.Error(err))
		return
	}
	defer func() {
		releaseErr := s.locker.Release(ctx, lock.TriggerKey(name), token)
		if releaseErr != nil && !errors.Is(releaseErr, lock.ErrTokenMismatch) {
			s.log.Warn("failed to release trigger lock",
				zap.String("trigger", name), zap.Error(releaseErr))
		}
	}()

	if err := fn(ctx); err != nil {
		s.metrics.TriggerRuns.WithLabelValues(name, "failed").Inc()
		s.log.Warn("trigger run failed", zap.String("trigger", name), zap.Error(err))
		return
	}
	s.metrics.TriggerRuns.WithLabelValues(name, "ran").Inc()
}

// scanAll 先过期到期邮箱，再把可扫描邮箱分发给协程池。
//
// 分发不等待扫描完成：单邮箱扫描由邮箱级锁保护，即使下一轮在
// 扫描完成前到来也不会重复处理。队列满时丢弃本轮剩余邮箱。
func (s *Scheduler) scanAll(ctx context.Context) error {
	if _, err := s.lifecycle.ExpireDue(ctx); err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	mailboxes, err := s.store.ListScannable(ctx, now, s.cfg.Mailbox.CleanupGrace)
	if err != nil {
		return err
	}

	dispatched, dropped := 0, 0
	for _, mailbox := range mailboxes {
		address := mailbox.Address
		ok := s.workers.TrySubmit(func() {
			if err := s.scanner.ScanMailbox(ctx, address); err != nil {
				s.log.Warn("mailbox scan failed", zap.String("address", address), zap.Error(err))
			}
		})
		if ok {
			dispatched++
		} else {
			dropped++
		}
	}

	if dropped > 0 {
		s.log.Warn("scan queue saturated, mailboxes deferred to next cycle",
			zap.Int("dispatched", dispatched), zap.Int("dropped", dropped))
	} else {
		s.log.Debug("scan sweep dispatched", zap.Int("mailboxes", dispatched))
	}
	return nil
}

// dataSync 执行一次远程对账。
func (s *Scheduler) dataSync(ctx context.Context) error {
	_, err := s.sync.Reconcile(ctx)
	return err
}

// statsRefresh 刷新统计快照。
func (s *Scheduler) statsRefresh(ctx context.Context) error {
	_, err := s.sync.RefreshStats(ctx)
	return err
}

// cleanup 硬删除超出宽限期的邮箱。
func (s *Scheduler) cleanup(ctx context.Context) error {
	cutoff := s.clock.Now().UTC().Add(-s.cfg.Mailbox.CleanupGrace)
	_, err := s.lifecycle.Cleanup(ctx, cutoff)
	return err
}
