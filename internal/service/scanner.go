package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempcode/backend/internal/config"
	"tempcode/backend/internal/domain"
	"tempcode/backend/internal/extractor"
	"tempcode/backend/internal/lock"
	"tempcode/backend/internal/mailadmin"
	"tempcode/backend/internal/monitoring"
	"tempcode/backend/internal/storage"
)

// 租约必须以足够余量覆盖最坏情况的扫描时长：远程调用超时 x 3。
const leaseFactor = 3

// ScannerService 实现单邮箱扫描管线。
//
// 每个扫描周期：抢锁 -> 按水位列出新邮件 -> 逐封去重、拉取、提取、
// 持久化并刷新缓存 -> 推进水位 -> 释放锁。邮箱级锁是防止两个 worker
// 重复处理同一邮箱的唯一机制。
type ScannerService struct {
	store     storage.Store
	admin     AdminClient
	cache     CacheStore
	locker    Locker
	extract   *extractor.Extractor
	cfg       *config.Config
	metrics   *monitoring.Metrics
	log       *zap.Logger
	scanLease time.Duration
}

// NewScannerService 创建扫描服务。
func NewScannerService(
	store storage.Store,
	admin AdminClient,
	cache CacheStore,
	locker Locker,
	cfg *config.Config,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *ScannerService {
	return &ScannerService{
		store:     store,
		admin:     admin,
		cache:     cache,
		locker:    locker,
		extract:   extractor.New(),
		cfg:       cfg,
		metrics:   metrics,
		log:       log,
		scanLease: cfg.AdminAPI.Timeout * leaseFactor,
	}
}

// ScanMailbox 对单个邮箱执行一次扫描周期。
//
// 抢不到锁说明另一个 worker 正在扫描，静默跳过；列表调用在重试
// 预算耗尽后放弃本周期，水位保持不变，下个周期自然重试。
// 单封邮件的失败只影响该邮件，不中断周期内其余邮件的处理。
func (s *ScannerService) ScanMailbox(ctx context.Context, address string) error {
	token, err := s.locker.TryAcquire(ctx, lock.ScanKey(address), s.scanLease)
	if errors.Is(err, lock.ErrAlreadyLocked) {
		// 预期的竞争信号，不是错误
		s.metrics.ScanCycles.WithLabelValues("skipped").Inc()
		s.log.Debug("scan skipped, mailbox locked by another worker", zap.String("address", address))
		return nil
	}
	if err != nil {
		return err
	}
	defer s.releaseLock(ctx, address, token)

	start := time.Now()
	defer func() {
		s.metrics.ScanDuration.Observe(time.Since(start).Seconds())
	}()

	mailbox, err := s.store.GetMailboxByAddress(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrMailboxNotFound, address)
	}
	if err != nil {
		return err
	}

	refs, err := s.admin.ListMessages(ctx, address, mailbox.ScanSince())
	if errors.Is(err, mailadmin.ErrNotFound) {
		// 远程已不认识该邮箱：按空列表处理，存在性修正交给数据同步
		refs, err = nil, nil
	}
	if err != nil {
		// 放弃本周期：水位不动，锁由 defer 释放
		s.metrics.ScanCycles.WithLabelValues("abandoned").Inc()
		s.log.Warn("scan cycle abandoned, message listing failed",
			zap.String("address", address), zap.Error(err))
		return err
	}

	// 按到达时间升序处理，保证缓存的"最新验证码"对应最后到达的邮件
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].ReceivedAt.Before(refs[j].ReceivedAt)
	})

	// 列表阶段用掉了部分租约，处理阶段前续约一次（每周期至多一次）；
	// 续约失败说明租约已被接管，放弃本周期
	if len(refs) > 0 {
		if err := s.locker.Renew(ctx, lock.ScanKey(address), token, s.scanLease); err != nil {
			s.metrics.ScanCycles.WithLabelValues("abandoned").Inc()
			s.log.Warn("scan cycle abandoned, lock lease lost",
				zap.String("address", address), zap.Error(err))
			return err
		}
	}

	var failed []error
	var earliestFailure time.Time
	for _, ref := range refs {
		if err := s.processMessage(ctx, mailbox, ref); err != nil {
			failed = append(failed, fmt.Errorf("message %s: %w", ref.ID, err))
			if earliestFailure.IsZero() || ref.ReceivedAt.Before(earliestFailure) {
				earliestFailure = ref.ReceivedAt
			}
			s.metrics.MessageFailures.Inc()
		}
	}

	// 无论是否提取到验证码都推进水位；有失败邮件时水位退回到最早失败
	// 邮件到达时间之前的一瞬，这样不依赖远程 since 边界是否含端点，
	// 下个周期一定能重新列出它（去重保证重放安全）。
	watermark := start.UTC()
	if !earliestFailure.IsZero() {
		watermark = earliestFailure.Add(-time.Nanosecond)
	}
	if err := s.store.UpdateLastScannedAt(ctx, address, watermark); err != nil {
		failed = append(failed, fmt.Errorf("update watermark: %w", err))
	}

	s.metrics.ScanCycles.WithLabelValues("completed").Inc()
	if len(failed) > 0 {
		s.log.Warn("scan cycle completed with message failures",
			zap.String("address", address),
			zap.Int("messages", len(refs)),
			zap.Int("failed", len(failed)),
		)
		return errors.Join(failed...)
	}
	return nil
}

// processMessage 处理周期内的单封邮件。
func (s *ScannerService) processMessage(ctx context.Context, mailbox *domain.Mailbox, ref mailadmin.MessageRef) error {
	msg, err := s.admin.FetchMessage(ctx, mailbox.Address, ref)
	if err != nil {
		return err
	}
	s.metrics.MessagesFetched.Inc()

	candidates := s.extract.Extract(msg.Subject, msg.Body)
	if len(candidates) == 0 {
		return nil
	}

	record := &domain.VerificationRecord{
		ID:              uuid.NewString(),
		MailboxAddress:  mailbox.Address,
		SourceMessageID: msg.ID,
		Code:            candidates[0],
		Sender:          msg.Sender,
		Subject:         msg.Subject,
		ExtractedAt:     time.Now().UTC(),
	}

	created, err := s.store.CreateVerificationIfAbsent(ctx, record)
	if err != nil {
		return err
	}
	if !created {
		s.metrics.DuplicateSkipped.Inc()
		return nil
	}

	s.metrics.CodesExtracted.Inc()
	if err := s.cache.SetLatestCode(ctx, mailbox.Address, record.Code, s.cfg.Mailbox.CodeCacheTTL); err != nil {
		// 缓存写失败不致命，读方会回源数据库
		s.log.Warn("failed to cache latest code",
			zap.String("address", mailbox.Address), zap.Error(err))
	}

	s.log.Info("verification code extracted",
		zap.String("address", mailbox.Address),
		zap.String("message_id", msg.ID),
	)
	return nil
}

// releaseLock 释放扫描锁；令牌不匹配说明租约已过期并被他人接管，
// 按"锁已丢失"处理，只记录调试日志。
func (s *ScannerService) releaseLock(ctx context.Context, address, token string) {
	err := s.locker.Release(ctx, lock.ScanKey(address), token)
	if err != nil && !errors.Is(err, lock.ErrTokenMismatch) {
		s.log.Warn("failed to release scan lock",
			zap.String("address", address), zap.Error(err))
	}
}
