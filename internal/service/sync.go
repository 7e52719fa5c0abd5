package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tempcode/backend/internal/domain"
	"tempcode/backend/internal/monitoring"
	"tempcode/backend/internal/storage"
)

// SyncService 负责本地记录与远程控制面之间的状态对账。
//
// 存在性以远程为准：远程消失的邮箱（比如被管理员手工删除）在本地
// 被降级，而不是重新创建。远程多出的孤儿账号只记录日志，不自动收编。
type SyncService struct {
	store   storage.Store
	admin   AdminClient
	cache   CacheStore
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewSyncService 创建同步服务。
func NewSyncService(
	store storage.Store,
	admin AdminClient,
	cache CacheStore,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *SyncService {
	return &SyncService{
		store:   store,
		admin:   admin,
		cache:   cache,
		metrics: metrics,
		log:     log,
	}
}

// SyncResult 汇总一次对账的处理结果。
type SyncResult struct {
	LocalMailboxes  int
	RemoteMailboxes int
	Expired         int // 本地 active 但远程不存在，降级为 expired
	Orphans         int // 远程存在但本地无记录
}

// Reconcile 执行一次本地与远程的状态对账。
//
// 远程列表拉取失败时整轮放弃，本地状态保持不变。
func (s *SyncService) Reconcile(ctx context.Context) (*SyncResult, error) {
	remote, err := s.admin.ListMailboxes(ctx)
	if err != nil {
		return nil, err
	}

	remoteSet := make(map[string]struct{}, len(remote))
	for _, r := range remote {
		remoteSet[r.Address] = struct{}{}
	}

	local, err := s.store.ListMailboxes(ctx)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{
		LocalMailboxes:  len(local),
		RemoteMailboxes: len(remote),
	}

	localSet := make(map[string]struct{}, len(local))
	for _, mailbox := range local {
		localSet[mailbox.Address] = struct{}{}

		if _, exists := remoteSet[mailbox.Address]; exists {
			continue
		}

		// 远程已不存在：active 记录降级为 expired，等待 cleanup 收尾
		if mailbox.Status == domain.MailboxActive {
			changed, err := s.store.TransitionStatus(ctx, mailbox.Address,
				domain.MailboxActive, domain.MailboxExpired)
			if err != nil {
				s.log.Warn("failed to reconcile mailbox",
					zap.String("address", mailbox.Address), zap.Error(err))
				continue
			}
			if changed {
				result.Expired++
				s.metrics.SyncDrift.Inc()
				if cacheErr := s.cache.DeleteMailbox(ctx, mailbox.Address); cacheErr != nil {
					s.log.Warn("failed to invalidate cache during sync",
						zap.String("address", mailbox.Address), zap.Error(cacheErr))
				}
				s.log.Warn("mailbox missing on remote, marked expired",
					zap.String("address", mailbox.Address))
			}
		}
	}

	for _, r := range remote {
		if _, known := localSet[r.Address]; !known {
			result.Orphans++
			s.log.Debug("remote mailbox has no local record", zap.String("address", r.Address))
		}
	}

	s.log.Info("remote reconciliation finished",
		zap.Int("local", result.LocalMailboxes),
		zap.Int("remote", result.RemoteMailboxes),
		zap.Int("expired", result.Expired),
		zap.Int("orphans", result.Orphans),
	)
	return result, nil
}

// RefreshStats 从数据库重新聚合统计快照并写入缓存。
func (s *SyncService) RefreshStats(ctx context.Context) (*domain.StatsSnapshot, error) {
	snapshot, err := s.store.CountStats(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetStats(ctx, snapshot, statsCacheTTL); err != nil {
		return nil, err
	}

	s.metrics.MailboxesActive.Set(float64(snapshot.ActiveMailboxes))
	s.log.Debug("stats snapshot refreshed",
		zap.Int64("active", snapshot.ActiveMailboxes),
		zap.Int64("codes", snapshot.TotalCodes),
	)
	return snapshot, nil
}
