package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempcode/backend/internal/config"
	"tempcode/backend/internal/domain"
	"tempcode/backend/internal/monitoring"
	"tempcode/backend/internal/storage"
)

// LifecycleService 管理邮箱的完整生命周期。
//
// 状态机：active -> expired -> deleted；expired 与硬删除之间有一段
// 宽限期，期间邮箱仍会被扫描，以便接收迟到的邮件。
type LifecycleService struct {
	store     storage.Store
	admin     AdminClient
	cache     CacheStore
	cfg       *config.Config
	metrics   *monitoring.Metrics
	log       *zap.Logger
	domainSet map[string]struct{}
}

// NewLifecycleService 创建生命周期服务。
func NewLifecycleService(
	store storage.Store,
	admin AdminClient,
	cache CacheStore,
	cfg *config.Config,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *LifecycleService {
	domainSet := make(map[string]struct{}, len(cfg.Mailbox.AllowedDomains))
	for _, d := range cfg.Mailbox.AllowedDomains {
		domainSet[d] = struct{}{}
	}

	return &LifecycleService{
		store:     store,
		admin:     admin,
		cache:     cache,
		cfg:       cfg,
		metrics:   metrics,
		log:       log,
		domainSet: domainSet,
	}
}

// Provision 在远程服务器开通新邮箱并持久化记录。
//
// 远程调用失败（重试预算耗尽或配额不足）时不持久化任何记录；
// 本地持久化失败时尽力回滚远程资源。
func (s *LifecycleService) Provision(ctx context.Context, requestedDomain string, ttl time.Duration) (*domain.Mailbox, error) {
	selectedDomain := s.pickDomain(requestedDomain)
	if selectedDomain == "" {
		return nil, ErrDomainNotAllowed
	}

	if ttl <= 0 {
		ttl = s.cfg.Mailbox.DefaultTTL
	}

	address := fmt.Sprintf("%s@%s", generateLocalPart(), selectedDomain)
	password, err := generateToken(16)
	if err != nil {
		return nil, fmt.Errorf("generate mailbox credentials: %w", err)
	}
	token, err := generateToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate mailbox credentials: %w", err)
	}

	if err := s.admin.CreateMailbox(ctx, address, password); err != nil {
		// 包含 ErrQuotaExceeded 与重试预算耗尽后的 ErrRemoteUnavailable
		return nil, fmt.Errorf("%w: %v", ErrProvisionFailed, err)
	}

	now := time.Now().UTC()
	mailbox := &domain.Mailbox{
		ID:        uuid.NewString(),
		Address:   address,
		LocalPart: strings.SplitN(address, "@", 2)[0],
		Domain:    selectedDomain,
		Password:  password,
		Token:     token,
		Status:    domain.MailboxActive,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := s.store.SaveMailbox(ctx, mailbox); err != nil {
		// 本地写入失败，回滚远程资源，避免留下孤儿账号
		if delErr := s.admin.DeleteMailbox(ctx, address); delErr != nil {
			s.log.Warn("failed to roll back remote mailbox",
				zap.String("address", address), zap.Error(delErr))
		}
		return nil, err
	}

	if err := s.cache.SetMailbox(ctx, mailbox, ttl); err != nil {
		// 缓存只是加速层，失败不影响结果
		s.log.Warn("failed to cache mailbox metadata",
			zap.String("address", address), zap.Error(err))
	}

	s.metrics.MailboxesProvisioned.Inc()
	s.log.Info("mailbox provisioned",
		zap.String("address", address),
		zap.Time("expires_at", mailbox.ExpiresAt),
	)

	return mailbox, nil
}

// Expire 将到期的 active 邮箱置为 expired。
//
// 不立即删除远程资源：宽限期内邮箱仍参与扫描。
func (s *LifecycleService) Expire(ctx context.Context, address string) error {
	changed, err := s.store.TransitionStatus(ctx, address, domain.MailboxActive, domain.MailboxExpired)
	if err != nil {
		return err
	}
	if changed {
		s.metrics.MailboxesExpired.Inc()
		s.invalidateMeta(ctx, address)
		s.log.Info("mailbox expired", zap.String("address", address))
	}
	return nil
}

// ExpireDue 批量处理所有到期邮箱，返回处理数量。
func (s *LifecycleService) ExpireDue(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.MailboxesExpired.Add(float64(n))
		s.log.Info("expired due mailboxes", zap.Int64("count", n))
	}
	return n, nil
}

// Destroy 删除远程邮箱并将本地记录置为 deleted。
//
// 幂等：对已删除的邮箱调用是无操作，不是错误。
func (s *LifecycleService) Destroy(ctx context.Context, address string) error {
	mailbox, err := s.store.GetMailboxByAddress(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if mailbox.Status == domain.MailboxDeleted {
		return nil
	}

	// 远程 404 已在客户端内部归一为成功
	if err := s.admin.DeleteMailbox(ctx, address); err != nil {
		return fmt.Errorf("delete remote mailbox %s: %w", address, err)
	}

	if _, err := s.store.TransitionStatus(ctx, address, mailbox.Status, domain.MailboxDeleted); err != nil {
		return err
	}

	s.invalidateMeta(ctx, address)
	s.metrics.MailboxesDestroyed.Inc()
	s.log.Info("mailbox destroyed", zap.String("address", address))
	return nil
}

// Cleanup 硬删除超过宽限期的 expired/deleted 邮箱及其验证码记录。
//
// 这是系统内唯一的硬删除路径，返回清理数量。
func (s *LifecycleService) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	candidates, err := s.store.ListCleanupCandidates(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	var errs []error
	for _, mailbox := range candidates {
		// expired 邮箱离开宽限期时顺带回收远程资源
		if mailbox.Status == domain.MailboxExpired {
			if err := s.admin.DeleteMailbox(ctx, mailbox.Address); err != nil {
				errs = append(errs, fmt.Errorf("delete remote %s: %w", mailbox.Address, err))
				continue
			}
		}

		if err := s.store.PurgeMailbox(ctx, mailbox.Address); err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", mailbox.Address, err))
			continue
		}

		s.invalidateMeta(ctx, mailbox.Address)
		cleaned++
	}

	if cleaned > 0 {
		s.metrics.MailboxesCleaned.Add(float64(cleaned))
		s.log.Info("cleanup finished",
			zap.Int("cleaned", cleaned),
			zap.Int("failed", len(errs)),
			zap.Time("cutoff", cutoff),
		)
	}

	return cleaned, errors.Join(errs...)
}

// invalidateMeta 删除某邮箱的缓存条目（元数据与验证码）。
func (s *LifecycleService) invalidateMeta(ctx context.Context, address string) {
	if err := s.cache.DeleteMailbox(ctx, address); err != nil {
		s.log.Warn("failed to invalidate mailbox cache",
			zap.String("address", address), zap.Error(err))
	}
}

// pickDomain 挑选合法的邮箱域名。
func (s *LifecycleService) pickDomain(requested string) string {
	if requested == "" {
		return s.cfg.Mailbox.AllowedDomains[0]
	}
	requested = strings.ToLower(strings.TrimSpace(requested))
	if _, ok := s.domainSet[requested]; ok {
		return requested
	}
	return ""
}

// generateLocalPart 生成随机邮箱前缀。
func generateLocalPart() string {
	base := strings.ToLower(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return base[:12]
}

// generateToken 生成加密安全的随机令牌。
//
// 令牌是邮箱数据的唯一访问凭证（密码同理），必须用 CSPRNG 生成。
func generateToken(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(raw)[:length], nil
}
