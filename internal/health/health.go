package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"tempcode/backend/internal/cache"
	"tempcode/backend/internal/storage"
)

// Pinger 抽象远程控制面的可达性探测。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker 健康检查器
//
// liveness 只看进程自身；readiness 要求数据库、Redis 与远程控制面
// 全部可达，任意一项失败时实例应被摘出流量。
type Checker struct {
	handler healthcheck.Handler
	log     *zap.Logger
}

// NewChecker 创建健康检查器
func NewChecker(store storage.Store, cacheStore *cache.Store, admin Pinger, log *zap.Logger) *Checker {
	c := &Checker{
		handler: healthcheck.NewHandler(),
		log:     log,
	}

	c.handler.AddLivenessCheck("database", func() error {
		return store.Health()
	})

	c.handler.AddLivenessCheck("redis", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return cacheStore.Ping(ctx)
	})

	// 控制面不可达时扫描与开通都会失败，但已有数据仍可查询；
	// 因此只影响 readiness 而不影响 liveness
	c.handler.AddReadinessCheck("admin-api", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return admin.Ping(ctx)
	})

	return c
}

// LiveHandler 返回存活探针处理器
func (c *Checker) LiveHandler() http.HandlerFunc {
	return c.handler.LiveEndpoint
}

// ReadyHandler 返回就绪探针处理器
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return c.handler.ReadyEndpoint
}
