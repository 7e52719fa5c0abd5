package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrAlreadyLocked 锁被其他持有者占用；属于预期的竞争信号而非故障
	ErrAlreadyLocked = errors.New("lock already held")

	// ErrTokenMismatch 释放时令牌不匹配，说明锁已被他人持有
	ErrTokenMismatch = errors.New("lock token mismatch")

	// ErrLockExpired 续约时租约已过期，持有者应放弃本轮操作
	ErrLockExpired = errors.New("lock lease expired")
)

// releaseScript 比较令牌后删除，避免误删他人已获取的锁。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript 比较令牌后延长租约。
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Manager 基于 Redis 提供带租约的分布式互斥锁。
//
// 获取是非阻塞的：拿不到锁的调用方应跳过本轮而不是等待。
// 租约到期自动释放，崩溃的持有者不会永久阻塞资源。
type Manager struct {
	rdb redis.UniversalClient
}

// NewManager 创建锁管理器。
func NewManager(rdb redis.UniversalClient) *Manager {
	return &Manager{rdb: rdb}
}

// TryAcquire 尝试获取 key 上的锁，成功返回持有者令牌。
//
// 锁已被占用时返回 ErrAlreadyLocked。
func (m *Manager) TryAcquire(ctx context.Context, key string, lease time.Duration) (string, error) {
	token := uuid.NewString()

	ok, err := m.rdb.SetNX(ctx, key, token, lease).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", ErrAlreadyLocked
	}
	return token, nil
}

// Release 释放持有的锁。
//
// 令牌不匹配（租约已过期且锁被他人获取）返回 ErrTokenMismatch，
// 此时他人的锁保持原样。
func (m *Manager) Release(ctx context.Context, key, token string) error {
	deleted, err := releaseScript.Run(ctx, m.rdb, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	if deleted == 0 {
		return ErrTokenMismatch
	}
	return nil
}

// Renew 延长持有锁的租约。
//
// 租约已丢失时返回 ErrLockExpired，调用方应放弃当前周期。
func (m *Manager) Renew(ctx context.Context, key, token string, lease time.Duration) error {
	renewed, err := renewScript.Run(ctx, m.rdb, []string{key}, token, lease.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew lock %s: %w", key, err)
	}
	if renewed == 0 {
		return ErrLockExpired
	}
	return nil
}

// ScanKey 返回某邮箱扫描锁的键名。
func ScanKey(address string) string {
	return "lock:scan:" + address
}

// TriggerKey 返回某调度触发器全局锁的键名。
func TriggerKey(name string) string {
	return "lock:trigger:" + name
}
