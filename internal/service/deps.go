package service

import (
	"context"
	"errors"
	"time"

	"tempcode/backend/internal/domain"
	"tempcode/backend/internal/mailadmin"
)

var (
	// ErrDomainNotAllowed 请求的域名不在允许列表内
	ErrDomainNotAllowed = errors.New("domain not allowed")

	// ErrMailboxNotFound 邮箱不存在
	ErrMailboxNotFound = errors.New("mailbox not found")

	// ErrProvisionFailed 远程开通失败（重试预算耗尽或配额不足）
	ErrProvisionFailed = errors.New("mailbox provisioning failed")
)

// AdminClient 是服务层对远程控制面客户端的依赖视图。
type AdminClient interface {
	CreateMailbox(ctx context.Context, address, password string) error
	DeleteMailbox(ctx context.Context, address string) error
	ListMailboxes(ctx context.Context) ([]mailadmin.RemoteMailbox, error)
	ListMessages(ctx context.Context, address string, since time.Time) ([]mailadmin.MessageRef, error)
	FetchMessage(ctx context.Context, address string, ref mailadmin.MessageRef) (*mailadmin.Message, error)
}

// Locker 是服务层对分布式锁管理器的依赖视图。
type Locker interface {
	TryAcquire(ctx context.Context, key string, lease time.Duration) (string, error)
	Release(ctx context.Context, key, token string) error
	Renew(ctx context.Context, key, token string, lease time.Duration) error
}

// CacheStore 是服务层对 Redis 缓存的依赖视图。
//
// 缓存内容永远可以从数据库重建，任何未命中都必须回源。
type CacheStore interface {
	SetLatestCode(ctx context.Context, address, code string, ttl time.Duration) error
	GetLatestCode(ctx context.Context, address string) (code string, ok bool, err error)
	SetMailbox(ctx context.Context, mailbox *domain.Mailbox, ttl time.Duration) error
	GetMailbox(ctx context.Context, address string) (*domain.Mailbox, error)
	DeleteMailbox(ctx context.Context, address string) error
	SetStats(ctx context.Context, stats *domain.StatsSnapshot, ttl time.Duration) error
	GetStats(ctx context.Context) (*domain.StatsSnapshot, error)
}
