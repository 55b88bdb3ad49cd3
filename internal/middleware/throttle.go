package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle 按客户端 IP 的令牌桶，挡住短时间内的突发请求
//
// 表单本身的窗口限流在服务层完成，这里只防止刷接口。
type Throttle struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

// NewThrottle 创建限速器，rps <= 0 时不限速
func NewThrottle(rps float64, burst int) *Throttle {
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// Allow 判断该地址本次请求是否放行
func (t *Throttle) Allow(key string) bool {
	if t.rps <= 0 {
		return true
	}

	t.mu.Lock()
	v, ok := t.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.visitors[key] = v
	}
	now := t.now()
	v.lastSeen = now
	t.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// Middleware 超限时交给 onLimited 应答；onLimited 为 nil 时返回 429
func (t *Throttle) Middleware(keyFunc func(*gin.Context) string, onLimited gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if t.Allow(keyFunc(c)) {
			c.Next()
			return
		}
		if onLimited != nil {
			onLimited(c)
			c.Abort()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "too many requests",
		})
	}
}

// Cleanup 定期清理长时间未出现的地址，直到 ctx 结束
func (t *Throttle) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.purge()
		}
	}
}

func (t *Throttle) purge() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.idle)
	for key, v := range t.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(t.visitors, key)
		}
	}
}

// Len 当前跟踪的地址数
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visitors)
}
