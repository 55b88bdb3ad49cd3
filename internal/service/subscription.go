package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"harpans/site/internal/config"
	"harpans/site/internal/domain"
	"harpans/site/internal/storage"
)

var (
	ErrEmailRequired      = errors.New("email is required")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	// ErrRateLimited 超出频率限制，调用方应返回与成功相同的响应
	ErrRateLimited = errors.New("rate limited")
)

// 令牌冲突时的最大重试次数
const maxTokenAttempts = 3

// NewUnsubscribeToken 生成 32 字节随机令牌（URL 安全的 base64，43 个字符）
func NewUnsubscribeToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SubscribeResult 订阅结果
type SubscribeResult struct {
	Subscriber  *domain.Subscriber
	Created     bool
	Reactivated bool
}

// SubscriptionService 管理博客订阅者
type SubscriptionService struct {
	store     storage.SubscriberRepository
	validator *domain.EmailValidator
	limiter   RateLimiter
	limit     config.LimitRule
	log       *zap.Logger
	now       func() time.Time
	newToken  func() (string, error)
}

// NewSubscriptionService 创建订阅服务，limiter 为 nil 时不限流
func NewSubscriptionService(store storage.SubscriberRepository, limiter RateLimiter, limit config.LimitRule, log *zap.Logger) *SubscriptionService {
	return &SubscriptionService{
		store:     store,
		validator: domain.NewEmailValidator(),
		limiter:   limiter,
		limit:     limit,
		log:       log,
		now:       time.Now,
		newToken:  NewUnsubscribeToken,
	}
}

// Subscribe 新建或重新激活订阅者
//
// 顺序：校验邮箱 → 限流 → 写入。邮箱先规范化（去空白、小写）；
// 已存在且有效的订阅者保持不变。
func (s *SubscriptionService) Subscribe(ctx context.Context, email, clientAddress string) (*SubscribeResult, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	if err := s.validator.ValidateEmail(email); err != nil {
		return nil, domain.ErrInvalidEmail
	}
	if s.limiter != nil && !s.limiter.CheckAndIncrement(ctx, PurposeSubscribe, clientAddress, s.limit.MaxAttempts, s.limit.Window) {
		return nil, ErrRateLimited
	}

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		existing, err := s.store.GetSubscriberByEmail(ctx, email)
		switch {
		case err == nil:
			return s.reactivate(ctx, existing)
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("lookup subscriber: %w", err)
		}

		token, err := s.newToken()
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}
		sub := &domain.Subscriber{
			ID:               uuid.NewString(),
			Email:            email,
			CreatedAt:        s.now().UTC(),
			IsActive:         true,
			UnsubscribeToken: token,
		}

		err = s.store.CreateSubscriber(ctx, sub)
		if err == nil {
			s.log.Info("subscriber created", zap.String("subscriber_id", sub.ID))
			return &SubscribeResult{Subscriber: sub, Created: true}, nil
		}
		if !errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("create subscriber: %w", err)
		}
		// 并发创建了同一邮箱，或令牌冲突：重新查询后重试
	}
	return nil, fmt.Errorf("create subscriber: %w", storage.ErrDuplicate)
}

func (s *SubscriptionService) reactivate(ctx context.Context, sub *domain.Subscriber) (*SubscribeResult, error) {
	if sub.IsActive {
		return &SubscribeResult{Subscriber: sub}, nil
	}
	if err := s.store.SetSubscriberActive(ctx, sub.ID, true); err != nil {
		return nil, fmt.Errorf("reactivate subscriber: %w", err)
	}
	sub.IsActive = true
	s.log.Info("subscriber reactivated", zap.String("subscriber_id", sub.ID))
	return &SubscribeResult{Subscriber: sub, Reactivated: true}, nil
}

// Unsubscribe 通过令牌退订，重复退订是幂等的
func (s *SubscriptionService) Unsubscribe(ctx context.Context, token string) (*domain.Subscriber, error) {
	if token == "" {
		return nil, ErrSubscriberNotFound
	}
	sub, err := s.store.GetSubscriberByToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSubscriberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup subscriber: %w", err)
	}

	if sub.IsActive {
		if err := s.store.SetSubscriberActive(ctx, sub.ID, false); err != nil {
			return nil, fmt.Errorf("deactivate subscriber: %w", err)
		}
		sub.IsActive = false
		s.log.Info("subscriber unsubscribed", zap.String("subscriber_id", sub.ID))
	}
	return sub, nil
}

// List 列出所有订阅者（管理接口）
func (s *SubscriptionService) List(ctx context.Context) ([]domain.Subscriber, error) {
	return s.store.ListSubscribers(ctx)
}
