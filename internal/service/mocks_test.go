package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"

	"tempcode/backend/internal/cache"
	"tempcode/backend/internal/config"
	"tempcode/backend/internal/lock"
	"tempcode/backend/internal/mailadmin"
	"tempcode/backend/internal/monitoring"
)

// MockAdminClient 模拟远程控制面客户端
type MockAdminClient struct {
	mock.Mock
}

func (m *MockAdminClient) CreateMailbox(ctx context.Context, address, password string) error {
	args := m.Called(ctx, address, password)
	return args.Error(0)
}

func (m *MockAdminClient) DeleteMailbox(ctx context.Context, address string) error {
	args := m.Called(ctx, address)
	return args.Error(0)
}

func (m *MockAdminClient) ListMailboxes(ctx context.Context) ([]mailadmin.RemoteMailbox, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]mailadmin.RemoteMailbox), args.Error(1)
}

func (m *MockAdminClient) ListMessages(ctx context.Context, address string, since time.Time) ([]mailadmin.MessageRef, error) {
	args := m.Called(ctx, address, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]mailadmin.MessageRef), args.Error(1)
}

func (m *MockAdminClient) FetchMessage(ctx context.Context, address string, ref mailadmin.MessageRef) (*mailadmin.Message, error) {
	args := m.Called(ctx, address, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mailadmin.Message), args.Error(1)
}

// testRedis 启动 miniredis 并返回真实的锁管理器与缓存实例
func testRedis(t *testing.T) (*lock.Manager, *cache.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return lock.NewManager(rdb), cache.NewWithClient(rdb), mr
}

// testConfig 返回单元测试用的最小配置
func testConfig() *config.Config {
	return &config.Config{
		Mailbox: config.MailboxConfig{
			AllowedDomains: []string{"x.test"},
			DefaultTTL:     time.Hour,
			CleanupGrace:   24 * time.Hour,
			CodeCacheTTL:   time.Hour,
		},
		AdminAPI: config.AdminAPIConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// testMetrics 返回注册到独立 Registry 的指标集
func testMetrics() *monitoring.Metrics {
	return monitoring.NewMetricsWith(prometheus.NewRegistry())
}
