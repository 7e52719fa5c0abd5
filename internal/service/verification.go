package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tempcode/backend/internal/config"
	"tempcode/backend/internal/domain"
	"tempcode/backend/internal/storage"
)

// statsCacheTTL 与统计刷新周期一致，构成缓存的最大滞后上界。
const statsCacheTTL = 5 * time.Minute

// VerificationService 暴露给外部消费方（HTTP 层）的查询入口。
//
// 读路径统一采用 cache-aside：缓存命中直接返回，未命中回源数据库
// 并回填缓存；缓存永远不参与正确性判断。
type VerificationService struct {
	store storage.Store
	cache CacheStore
	cfg   *config.Config
	log   *zap.Logger
}

// NewVerificationService 创建查询服务。
func NewVerificationService(store storage.Store, cache CacheStore, cfg *config.Config, log *zap.Logger) *VerificationService {
	return &VerificationService{
		store: store,
		cache: cache,
		cfg:   cfg,
		log:   log,
	}
}

// GetMailbox 按地址查询邮箱（cache-aside）。
func (s *VerificationService) GetMailbox(ctx context.Context, address string) (*domain.Mailbox, error) {
	if cached, err := s.cache.GetMailbox(ctx, address); err == nil && cached != nil {
		return cached, nil
	}

	mailbox, err := s.store.GetMailboxByAddress(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrMailboxNotFound
	}
	if err != nil {
		return nil, err
	}

	ttl := time.Until(mailbox.ExpiresAt)
	if ttl > 0 {
		if err := s.cache.SetMailbox(ctx, mailbox, ttl); err != nil {
			s.log.Warn("failed to repopulate mailbox cache", zap.Error(err))
		}
	}
	return mailbox, nil
}

// LatestCode 返回某邮箱最近提取的验证码记录，无记录返回 (nil, nil)。
//
// 缓存命中时只返回验证码本体；完整记录字段来自数据库回源。
func (s *VerificationService) LatestCode(ctx context.Context, address string) (*domain.VerificationRecord, error) {
	if code, ok, err := s.cache.GetLatestCode(ctx, address); err == nil && ok {
		return &domain.VerificationRecord{MailboxAddress: address, Code: code}, nil
	}

	record, err := s.store.LatestVerification(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetLatestCode(ctx, address, record.Code, s.cfg.Mailbox.CodeCacheTTL); err != nil {
		s.log.Warn("failed to repopulate code cache",
			zap.String("address", address), zap.Error(err))
	}
	return record, nil
}

// ListVerifications 返回某邮箱的全部验证码记录，按提取时间降序。
func (s *VerificationService) ListVerifications(ctx context.Context, address string) ([]domain.VerificationRecord, error) {
	if _, err := s.store.GetMailboxByAddress(ctx, address); errors.Is(err, storage.ErrNotFound) {
		return nil, ErrMailboxNotFound
	} else if err != nil {
		return nil, err
	}
	return s.store.ListVerifications(ctx, address)
}

// MarkRead 将某条验证码记录标记为已读。
func (s *VerificationService) MarkRead(ctx context.Context, address, id string) error {
	err := s.store.MarkVerificationRead(ctx, address, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrMailboxNotFound
	}
	return err
}

// Stats 返回统计快照（cache-aside，最多滞后一个刷新周期）。
func (s *VerificationService) Stats(ctx context.Context) (*domain.StatsSnapshot, error) {
	if cached, err := s.cache.GetStats(ctx); err == nil && cached != nil {
		return cached, nil
	}

	snapshot, err := s.store.CountStats(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetStats(ctx, snapshot, statsCacheTTL); err != nil {
		s.log.Warn("failed to repopulate stats cache", zap.Error(err))
	}
	return snapshot, nil
}
