package storage

import (
	"context"
	"errors"
	"time"

	"tempcode/backend/internal/domain"
)

// ErrNotFound 请求的记录不存在。
var ErrNotFound = errors.New("record not found")

// MailboxRepository 定义邮箱记录的持久化操作。
type MailboxRepository interface {
	// SaveMailbox 插入一条新的邮箱记录。
	SaveMailbox(ctx context.Context, mailbox *domain.Mailbox) error

	// GetMailboxByAddress 按地址查询邮箱，不存在返回 ErrNotFound。
	GetMailboxByAddress(ctx context.Context, address string) (*domain.Mailbox, error)

	// ListMailboxes 返回全部邮箱记录（含已过期、已删除）。
	ListMailboxes(ctx context.Context) ([]domain.Mailbox, error)

	// ListScannable 返回应参与扫描的邮箱：active，以及仍在宽限期内的 expired。
	ListScannable(ctx context.Context, now time.Time, grace time.Duration) ([]domain.Mailbox, error)

	// TransitionStatus 条件化状态迁移，仅当前状态为 from 时生效。
	// 返回值表示是否发生了迁移（false 即无操作，不是错误）。
	TransitionStatus(ctx context.Context, address string, from, to domain.MailboxStatus) (bool, error)

	// ExpireDue 把所有已过 expires_at 的 active 邮箱置为 expired，返回影响行数。
	ExpireDue(ctx context.Context, now time.Time) (int64, error)

	// UpdateLastScannedAt 更新扫描水位。
	UpdateLastScannedAt(ctx context.Context, address string, scannedAt time.Time) error

	// ListCleanupCandidates 返回 expires_at 早于 cutoff 的 expired/deleted 邮箱。
	ListCleanupCandidates(ctx context.Context, cutoff time.Time) ([]domain.Mailbox, error)

	// PurgeMailbox 硬删除邮箱及其全部验证码记录（级联，事务内完成）。
	// 这是唯一的硬删除路径。
	PurgeMailbox(ctx context.Context, address string) error
}

// VerificationRepository 定义验证码记录的持久化操作。
type VerificationRepository interface {
	// CreateVerificationIfAbsent 在同一事务内完成去重检查与插入，
	// 对 (mailbox_address, source_message_id) 去重。created 表示本次是否
	// 产生了新记录；重复插入不是错误。
	CreateVerificationIfAbsent(ctx context.Context, record *domain.VerificationRecord) (created bool, err error)

	// LatestVerification 返回某邮箱最近提取的验证码记录，无记录返回 ErrNotFound。
	LatestVerification(ctx context.Context, address string) (*domain.VerificationRecord, error)

	// ListVerifications 返回某邮箱的全部验证码记录，按提取时间降序。
	ListVerifications(ctx context.Context, address string) ([]domain.VerificationRecord, error)

	// MarkVerificationRead 将某条验证码记录标记为已读。
	MarkVerificationRead(ctx context.Context, address, id string) error
}

// StatsRepository 定义统计聚合查询。
type StatsRepository interface {
	// CountStats 从持久层重新计算统计快照。
	CountStats(ctx context.Context, now time.Time) (*domain.StatsSnapshot, error)
}

// Store 聚合核心所需的全部持久化能力。
//
// 持久层是 Mailbox 与 VerificationRecord 的唯一事实来源。
type Store interface {
	MailboxRepository
	VerificationRepository
	StatsRepository

	// Health 检查存储健康状态。
	Health() error

	// Close 释放底层连接。
	Close() error
}
