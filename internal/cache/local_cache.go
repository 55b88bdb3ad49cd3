package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// LocalCache 进程内临时存储，未配置 Redis 时替代 storage/redis
//
// 特点：
// - 支持 TTL 过期，过期条目在读取时或后台清理时删除
// - 值以 JSON 保存，调用方拿到的总是副本
// - 仅在单进程内有效，多实例部署应使用 Redis
type LocalCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type cacheEntry struct {
	counter   int64
	payload   []byte
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存并启动定期清理
func NewLocalCache(cleanupInterval time.Duration) *LocalCache {
	c := newLocalCache(time.Now)
	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}
	return c
}

func newLocalCache(now func() time.Time) *LocalCache {
	return &LocalCache{
		entries: make(map[string]*cacheEntry),
		now:     now,
		stop:    make(chan struct{}),
	}
}

// liveLocked 返回未过期的条目
func (c *LocalCache) liveLocked(key string) (*cacheEntry, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry, true
}

// GetCounter 读取计数器
func (c *LocalCache) GetCounter(_ context.Context, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.liveLocked(key)
	if !ok {
		return 0, false, nil
	}
	return entry.counter, true, nil
}

// InitCounter 将计数器置为 1 并设置过期时间
func (c *LocalCache) InitCounter(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{counter: 1, expiresAt: c.now().Add(ttl)}
	return nil
}

// IncrCounter 自增已存在的计数器，不改变过期时间
func (c *LocalCache) IncrCounter(_ context.Context, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.liveLocked(key)
	if !ok {
		return 0, false, nil
	}
	entry.counter++
	return entry.counter, true, nil
}

// GetJSON 读取缓存值
func (c *LocalCache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	entry, ok := c.liveLocked(key)
	var payload []byte
	if ok {
		payload = entry.payload
	}
	c.mu.Unlock()

	if !ok || payload == nil {
		return false, nil
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON 写入缓存值
func (c *LocalCache) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry{payload: payload, expiresAt: c.now().Add(ttl)}
	return nil
}

// Claim 占用键，已被占用且未过期时返回 false
func (c *LocalCache) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.liveLocked(key); ok {
		return false, nil
	}
	c.entries[key] = &cacheEntry{expiresAt: c.now().Add(ttl)}
	return true, nil
}

// Release 释放占位键
func (c *LocalCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Ping 本地缓存始终可用
func (c *LocalCache) Ping(context.Context) error { return nil }

// Len 返回当前条目数（含尚未清理的过期条目）
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close 停止后台清理
func (c *LocalCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

// cleanupLoop 定期清理过期条目
func (c *LocalCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.purgeExpired()
		}
	}
}

func (c *LocalCache) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
