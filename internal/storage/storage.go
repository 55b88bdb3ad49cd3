package storage

import (
	"context"
	"errors"
	"time"

	"harpans/site/internal/domain"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 违反唯一约束（邮箱、退订令牌、通知标记）
	ErrDuplicate = errors.New("duplicate record")
)

// SubscriberRepository 定义订阅者数据存取操作。
type SubscriberRepository interface {
	CreateSubscriber(ctx context.Context, sub *domain.Subscriber) error
	GetSubscriberByEmail(ctx context.Context, email string) (*domain.Subscriber, error)
	GetSubscriberByToken(ctx context.Context, token string) (*domain.Subscriber, error)
	SetSubscriberActive(ctx context.Context, id string, active bool) error
	ListActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error)
	ListSubscribers(ctx context.Context) ([]domain.Subscriber, error)
}

// MarkerRepository 定义通知标记存取操作。标记只增不改。
type MarkerRepository interface {
	MarkerExists(ctx context.Context, postID string) (bool, error)
	CreateMarker(ctx context.Context, marker *domain.PublishNotificationMarker) error
}

// SubmissionRepository 定义联系表单提交记录存取操作。
type SubmissionRepository interface {
	SaveSubmission(ctx context.Context, sub *domain.ContactSubmission) error
	// CountSubmissionsSince 统计某地址在 since 之后（含）的提交数
	CountSubmissionsSince(ctx context.Context, clientAddress string, since time.Time) (int64, error)
	// ListSubmissions 按提交时间倒序，limit <= 0 表示不限制
	ListSubmissions(ctx context.Context, limit int) ([]domain.ContactSubmission, error)
}

// Store 持久化存储（关系型数据库或内存）
type Store interface {
	SubscriberRepository
	MarkerRepository
	SubmissionRepository
	Health(ctx context.Context) error
	Close() error
}

// CounterStore 带 TTL 的计数器
type CounterStore interface {
	// GetCounter 读取计数器，键不存在时 found 为 false
	GetCounter(ctx context.Context, key string) (value int64, found bool, err error)
	// InitCounter 将计数器置为 1 并设置 TTL
	InitCounter(ctx context.Context, key string, ttl time.Duration) error
	// IncrCounter 仅在键仍存在时自增，键已过期时 found 为 false 且不创建键
	IncrCounter(ctx context.Context, key string) (value int64, found bool, err error)
}

// CacheStore JSON 值缓存
type CacheStore interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// ClaimStore 短期占位键（SETNX）
type ClaimStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// EphemeralStore 临时存储（Redis 或进程内缓存），数据丢失不影响正确性
type EphemeralStore interface {
	CounterStore
	CacheStore
	ClaimStore
	Ping(ctx context.Context) error
}
