package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"harpans/site/internal/monitoring"
	"harpans/site/internal/storage"
)

// 限流用途
const (
	PurposeContact   = "contact"
	PurposeCallback  = "callback"
	PurposeSubscribe = "subscribe"
)

// RateLimiter 按 (用途, 客户端地址) 判定是否允许本次请求
//
// 后端出错时一律放行，并记录 warn 日志与指标。
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, purpose, clientAddress string, maxAttempts int, window time.Duration) bool
}

// RateLimitKey 计数器键
func RateLimitKey(purpose, clientAddress string) string {
	return fmt.Sprintf("ratelimit:%s:%s", purpose, clientAddress)
}

// CounterRateLimiter 基于临时计数器（Redis 或本地缓存）的限流
type CounterRateLimiter struct {
	store   storage.CounterStore
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewCounterRateLimiter 创建计数器限流
func NewCounterRateLimiter(store storage.CounterStore, log *zap.Logger, metrics *monitoring.Metrics) *CounterRateLimiter {
	return &CounterRateLimiter{store: store, log: log, metrics: metrics}
}

// CheckAndIncrement 读取计数，未超限则计入本次请求
func (l *CounterRateLimiter) CheckAndIncrement(ctx context.Context, purpose, clientAddress string, maxAttempts int, window time.Duration) bool {
	key := RateLimitKey(purpose, clientAddress)

	current, found, err := l.store.GetCounter(ctx, key)
	if err != nil {
		return l.failOpen(purpose, clientAddress, err)
	}
	if found && current >= int64(maxAttempts) {
		l.metrics.RecordRateLimit(purpose, false)
		return false
	}

	if !found {
		err = l.store.InitCounter(ctx, key, window)
	} else {
		_, found, err = l.store.IncrCounter(ctx, key)
		// 读写之间键已过期：重新开始计数窗口
		if err == nil && !found {
			err = l.store.InitCounter(ctx, key, window)
		}
	}
	if err != nil {
		return l.failOpen(purpose, clientAddress, err)
	}

	l.metrics.RecordRateLimit(purpose, true)
	return true
}

func (l *CounterRateLimiter) failOpen(purpose, clientAddress string, err error) bool {
	l.log.Warn("rate limit backend error, allowing request",
		zap.String("purpose", purpose),
		zap.String("client", clientAddress),
		zap.Error(err),
	)
	l.metrics.RecordRateLimitError(purpose)
	return true
}

// SubmissionRateLimiter 基于已保存的联系表单记录计数的持久化限流
//
// 这里不写入任何内容：保存提交记录本身就是计数。
type SubmissionRateLimiter struct {
	store   storage.SubmissionRepository
	log     *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewSubmissionRateLimiter 创建持久化限流
func NewSubmissionRateLimiter(store storage.SubmissionRepository, log *zap.Logger, metrics *monitoring.Metrics) *SubmissionRateLimiter {
	return &SubmissionRateLimiter{store: store, log: log, metrics: metrics, now: time.Now}
}

// CheckAndIncrement 统计窗口内的提交数
func (l *SubmissionRateLimiter) CheckAndIncrement(ctx context.Context, purpose, clientAddress string, maxAttempts int, window time.Duration) bool {
	cutoff := l.now().UTC().Add(-window)

	count, err := l.store.CountSubmissionsSince(ctx, clientAddress, cutoff)
	if err != nil {
		l.log.Warn("rate limit backend error, allowing request",
			zap.String("purpose", purpose),
			zap.String("client", clientAddress),
			zap.Error(err),
		)
		l.metrics.RecordRateLimitError(purpose)
		return true
	}

	allowed := count < int64(maxAttempts)
	l.metrics.RecordRateLimit(purpose, allowed)
	return allowed
}
