package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"harpans/site/internal/domain"
	"harpans/site/internal/storage"
)

// Store 使用内存保存订阅者、通知标记与联系表单，主要用于开发验证。
type Store struct {
	mu sync.RWMutex

	subscribers map[string]*domain.Subscriber // id -> subscriber
	byEmail     map[string]string             // email -> id
	byToken     map[string]string             // token -> id

	markers     map[string]*domain.PublishNotificationMarker // postID -> marker
	submissions []*domain.ContactSubmission
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		subscribers: make(map[string]*domain.Subscriber),
		byEmail:     make(map[string]string),
		byToken:     make(map[string]string),
		markers:     make(map[string]*domain.PublishNotificationMarker),
	}
}

// CreateSubscriber 新建订阅者，邮箱或令牌重复时返回 storage.ErrDuplicate。
func (s *Store) CreateSubscriber(_ context.Context, sub *domain.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[sub.Email]; ok {
		return storage.ErrDuplicate
	}
	if _, ok := s.byToken[sub.UnsubscribeToken]; ok {
		return storage.ErrDuplicate
	}

	cp := *sub
	s.subscribers[sub.ID] = &cp
	s.byEmail[sub.Email] = sub.ID
	s.byToken[sub.UnsubscribeToken] = sub.ID
	return nil
}

// GetSubscriberByEmail 根据邮箱获取订阅者。
func (s *Store) GetSubscriberByEmail(_ context.Context, email string) (*domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(s.byEmail, email)
}

// GetSubscriberByToken 根据退订令牌获取订阅者。
func (s *Store) GetSubscriberByToken(_ context.Context, token string) (*domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(s.byToken, token)
}

func (s *Store) lookupLocked(index map[string]string, key string) (*domain.Subscriber, error) {
	id, ok := index[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s.subscribers[id]
	return &cp, nil
}

// SetSubscriberActive 更新订阅状态。
func (s *Store) SetSubscriberActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscribers[id]
	if !ok {
		return storage.ErrNotFound
	}
	sub.IsActive = active
	return nil
}

// ListActiveSubscribers 列出所有有效订阅者（按创建时间）。
func (s *Store) ListActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	all, _ := s.ListSubscribers(ctx)
	active := all[:0]
	for _, sub := range all {
		if sub.IsActive {
			active = append(active, sub)
		}
	}
	return active, nil
}

// ListSubscribers 列出所有订阅者（按创建时间）。
func (s *Store) ListSubscribers(_ context.Context) ([]domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MarkerExists 检查某内容是否已发送通知。
func (s *Store) MarkerExists(_ context.Context, postID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.markers[postID]
	return ok, nil
}

// CreateMarker 写入通知标记，重复时返回 storage.ErrDuplicate。
func (s *Store) CreateMarker(_ context.Context, marker *domain.PublishNotificationMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markers[marker.PostID]; ok {
		return storage.ErrDuplicate
	}
	cp := *marker
	s.markers[marker.PostID] = &cp
	return nil
}

// SaveSubmission 保存联系表单提交。
func (s *Store) SaveSubmission(_ context.Context, sub *domain.ContactSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sub
	s.submissions = append(s.submissions, &cp)
	return nil
}

// CountSubmissionsSince 统计某地址在窗口内的提交数。
func (s *Store) CountSubmissionsSince(_ context.Context, clientAddress string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, sub := range s.submissions {
		if sub.ClientAddress == clientAddress && !sub.SubmittedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ListSubmissions 按提交时间倒序列出。
func (s *Store) ListSubmissions(_ context.Context, limit int) ([]domain.ContactSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ContactSubmission, 0, len(s.submissions))
	for i := len(s.submissions) - 1; i >= 0; i-- {
		out = append(out, *s.submissions[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Health 内存存储始终可用。
func (s *Store) Health(context.Context) error { return nil }

// Close 无需释放资源。
func (s *Store) Close() error { return nil }
