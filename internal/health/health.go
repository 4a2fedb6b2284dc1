package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"propertychat/backend/internal/storage"
	"propertychat/backend/internal/storage/redis"
)

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	cache  *redis.Client
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器。cache 可以为 nil。
func NewHealthChecker(store storage.Store, cache *redis.Client, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}

	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		cache:  cache,
		logger: logger,
	}

	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 存储检查
	hc.health.AddLivenessCheck("storage", func() error {
		return hc.store.Health()
	})

	// Redis 连接检查（如果启用）
	if hc.cache != nil {
		hc.health.AddLivenessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return hc.cache.Ping(ctx)
		})
	}
}

// LiveEndpoint 返回存活探针处理函数，可挂载到任意路由路径上
func (hc *HealthChecker) LiveEndpoint() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyEndpoint 返回就绪探针处理函数，检查项为空时恒返回 200
func (hc *HealthChecker) ReadyEndpoint() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行一次健康检查并汇总结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := hc.store.Health(); err != nil {
		results["storage"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["storage"] = "OK"
	}

	if hc.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := hc.cache.Ping(ctx); err != nil {
			results["redis"] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["redis"] = "OK"
		}
	} else {
		results["redis"] = "NOT_AVAILABLE"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)

	return results
}
