package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// 单项检查超时
const checkTimeout = 3 * time.Second

// Pinger 可探活的依赖
type Pinger func(ctx context.Context) error

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	deps   map[string]Pinger
	order  []string
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		deps:   make(map[string]Pinger),
		logger: logger.Named("health"),
	}

	// goroutine 泄漏时判定进程不健康
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	return hc
}

// AddDependency 注册就绪检查（数据库、缓存等）
func (hc *HealthChecker) AddDependency(name string, ping Pinger) {
	hc.deps[name] = ping
	hc.order = append(hc.order, name)
	hc.health.AddReadinessCheck(name, healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return ping(ctx)
	}, checkTimeout))
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行全部依赖检查，返回每项状态
func (hc *HealthChecker) CheckHealth(ctx context.Context) (map[string]string, bool) {
	results := make(map[string]string, len(hc.deps)+1)
	healthy := true

	for _, name := range hc.order {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := hc.deps[name](cctx)
		cancel()

		if err != nil {
			healthy = false
			results[name] = fmt.Sprintf("ERROR: %v", err)
			hc.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			continue
		}
		results[name] = "OK"
	}

	results["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return results, healthy
}
