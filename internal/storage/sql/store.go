package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tempcode/backend/internal/domain"
	"tempcode/backend/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）。
type Store struct {
	db         *gorm.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库存储并执行自动迁移。
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true, // 把驱动错误翻译为 gorm.ErrDuplicatedKey 等
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	if driverName == "mysql" {
		dialector = mysql.Open(dsn)
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	// 测试连接
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, driverName: driverName}

	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 执行数据库迁移（使用 GORM AutoMigrate）。
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Mailbox{},
		&domain.VerificationRecord{},
	)
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库健康状态。
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// ========== 邮箱 ==========

// SaveMailbox 插入邮箱记录。
func (s *Store) SaveMailbox(ctx context.Context, mailbox *domain.Mailbox) error {
	return s.db.WithContext(ctx).Create(mailbox).Error
}

// GetMailboxByAddress 按地址查询邮箱。
func (s *Store) GetMailboxByAddress(ctx context.Context, address string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&mailbox).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &mailbox, nil
}

// ListMailboxes 返回全部邮箱记录。
func (s *Store) ListMailboxes(ctx context.Context) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	err := s.db.WithContext(ctx).Order("created_at").Find(&mailboxes).Error
	return mailboxes, err
}

// ListScannable 返回应参与扫描的邮箱。
//
// active 的全部参与；expired 的仅在宽限期内参与，以便接收迟到邮件。
func (s *Store) ListScannable(ctx context.Context, now time.Time, grace time.Duration) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.MailboxActive).
		Or(s.db.Where("status = ? AND expires_at > ?", domain.MailboxExpired, now.Add(-grace))).
		Order("created_at").
		Find(&mailboxes).Error
	return mailboxes, err
}

// TransitionStatus 条件化状态迁移。
func (s *Store) TransitionStatus(ctx context.Context, address string, from, to domain.MailboxStatus) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&domain.Mailbox{}).
		Where("address = ? AND status = ?", address, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ExpireDue 把所有到期的 active 邮箱置为 expired。
func (s *Store) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&domain.Mailbox{}).
		Where("status = ? AND expires_at <= ?", domain.MailboxActive, now).
		Update("status", domain.MailboxExpired)
	return result.RowsAffected, result.Error
}

// UpdateLastScannedAt 更新扫描水位。
func (s *Store) UpdateLastScannedAt(ctx context.Context, address string, scannedAt time.Time) error {
	return s.db.WithContext(ctx).
		Model(&domain.Mailbox{}).
		Where("address = ?", address).
		Update("last_scanned_at", scannedAt).Error
}

// ListCleanupCandidates 返回可被硬删除的邮箱。
func (s *Store) ListCleanupCandidates(ctx context.Context, cutoff time.Time) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	// deleted 邮箱的远程资源已回收，不必等到 expires_at 过了宽限期
	err := s.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND expires_at < ?)",
			domain.MailboxDeleted, domain.MailboxExpired, cutoff).
		Find(&mailboxes).Error
	return mailboxes, err
}

// PurgeMailbox 在单个事务内级联硬删除邮箱与其验证码记录。
func (s *Store) PurgeMailbox(ctx context.Context, address string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("mailbox_address = ?", address).
			Delete(&domain.VerificationRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("address = ?", address).Delete(&domain.Mailbox{}).Error
	})
}

// ========== 验证码 ==========

// CreateVerificationIfAbsent 事务内去重插入。
//
// 去重检查和插入在同一事务内完成；并发竞争下残余的重复插入由
// (mailbox_address, source_message_id) 唯一索引兜底，映射为 created=false。
func (s *Store) CreateVerificationIfAbsent(ctx context.Context, record *domain.VerificationRecord) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.VerificationRecord{}).
			Where("mailbox_address = ? AND source_message_id = ?",
				record.MailboxAddress, record.SourceMessageID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return created, nil
}

// LatestVerification 返回某邮箱最近的验证码记录。
func (s *Store) LatestVerification(ctx context.Context, address string) (*domain.VerificationRecord, error) {
	var record domain.VerificationRecord
	err := s.db.WithContext(ctx).
		Where("mailbox_address = ?", address).
		Order("extracted_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListVerifications 返回某邮箱的全部验证码记录，按提取时间降序。
func (s *Store) ListVerifications(ctx context.Context, address string) ([]domain.VerificationRecord, error) {
	var records []domain.VerificationRecord
	err := s.db.WithContext(ctx).
		Where("mailbox_address = ?", address).
		Order("extracted_at DESC").
		Find(&records).Error
	return records, err
}

// MarkVerificationRead 标记验证码已读。
func (s *Store) MarkVerificationRead(ctx context.Context, address, id string) error {
	result := s.db.WithContext(ctx).
		Model(&domain.VerificationRecord{}).
		Where("id = ? AND mailbox_address = ?", id, address).
		Update("is_read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ========== 统计 ==========

// CountStats 从数据库重新聚合统计快照。
func (s *Store) CountStats(ctx context.Context, now time.Time) (*domain.StatsSnapshot, error) {
	var snapshot domain.StatsSnapshot

	db := s.db.WithContext(ctx)
	if err := db.Model(&domain.Mailbox{}).Count(&snapshot.TotalMailboxes).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Mailbox{}).
		Where("status = ? AND expires_at > ?", domain.MailboxActive, now).
		Count(&snapshot.ActiveMailboxes).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.VerificationRecord{}).Count(&snapshot.TotalCodes).Error; err != nil {
		return nil, err
	}

	snapshot.LastRefreshedAt = now
	return &snapshot, nil
}
