package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tempcode/backend/internal/config"
	"tempcode/backend/internal/domain"
)

// Store Redis 缓存实现。
//
// 所有条目均为数据库的派生副本（cache-aside）：可能过期或缺失，
// 读方未命中时必须回源数据库，绝不能把缓存当作事实来源。
type Store struct {
	rdb redis.UniversalClient
}

// New 创建 Redis 缓存实例并验证连通性。
func New(cfg *config.RedisConfig) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 测试连接
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{rdb: rdb}, nil
}

// NewWithClient 使用现有客户端创建缓存实例（测试用）。
func NewWithClient(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Client 返回底层的 Redis 客户端。
func (s *Store) Client() redis.UniversalClient {
	return s.rdb
}

// ========== 验证码缓存 ==========

// SetLatestCode 缓存某邮箱最新提取的验证码。
func (s *Store) SetLatestCode(ctx context.Context, address, code string, ttl time.Duration) error {
	return s.rdb.Set(ctx, codeKey(address), code, ttl).Err()
}

// GetLatestCode 获取缓存的最新验证码，未命中时 ok 为 false。
func (s *Store) GetLatestCode(ctx context.Context, address string) (code string, ok bool, err error) {
	code, err = s.rdb.Get(ctx, codeKey(address)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return code, true, nil
}

// DeleteLatestCode 删除某邮箱的验证码缓存。
func (s *Store) DeleteLatestCode(ctx context.Context, address string) error {
	return s.rdb.Del(ctx, codeKey(address)).Err()
}

// ========== 邮箱元数据缓存 ==========

// SetMailbox 缓存邮箱元数据。
func (s *Store) SetMailbox(ctx context.Context, mailbox *domain.Mailbox, ttl time.Duration) error {
	data, err := json.Marshal(mailbox)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, metaKey(mailbox.Address), data, ttl).Err()
}

// GetMailbox 获取缓存的邮箱元数据，未命中返回 (nil, nil)。
func (s *Store) GetMailbox(ctx context.Context, address string) (*domain.Mailbox, error) {
	data, err := s.rdb.Get(ctx, metaKey(address)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var mailbox domain.Mailbox
	if err := json.Unmarshal([]byte(data), &mailbox); err != nil {
		return nil, err
	}
	return &mailbox, nil
}

// DeleteMailbox 删除某邮箱的元数据及验证码缓存。
func (s *Store) DeleteMailbox(ctx context.Context, address string) error {
	return s.rdb.Del(ctx, metaKey(address), codeKey(address)).Err()
}

// ========== 统计快照缓存 ==========

// SetStats 缓存统计快照。
func (s *Store) SetStats(ctx context.Context, stats *domain.StatsSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, statsKey, data, ttl).Err()
}

// GetStats 获取缓存的统计快照，未命中返回 (nil, nil)。
func (s *Store) GetStats(ctx context.Context) (*domain.StatsSnapshot, error) {
	data, err := s.rdb.Get(ctx, statsKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var stats domain.StatsSnapshot
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ========== 工具方法 ==========

// Ping 测试 Redis 连接。
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接。
func (s *Store) Close() error {
	return s.rdb.Close()
}

// 键名按实体类型命名空间划分。
const statsKey = "stats:global"

func codeKey(address string) string {
	return "code:" + address
}

func metaKey(address string) string {
	return "meta:" + address
}
