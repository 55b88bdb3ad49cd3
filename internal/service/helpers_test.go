package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"harpans/site/internal/mailer"
)

// fakeTransport 记录发送的消息，地址包含 "reject" 时视为被服务器拒绝
type fakeTransport struct {
	mu      sync.Mutex
	batches [][]mailer.Message
	err     error         // 非 nil 时整批失败
	delay   time.Duration // 模拟慢速发送
	calls   int
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) SendBatch(ctx context.Context, msgs []mailer.Message) (*mailer.BatchResult, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return &mailer.BatchResult{}, f.err
	}

	res := &mailer.BatchResult{}
	for _, m := range msgs {
		if strings.Contains(m.To[0], "reject") {
			res.Failed = append(res.Failed, mailer.Failure{To: m.To[0], Err: errors.New("550 mailbox unavailable")})
			continue
		}
		res.Sent++
	}
	f.batches = append(f.batches, msgs)
	return res, nil
}

func (f *fakeTransport) messages() []mailer.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []mailer.Message
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// brokenCounterStore 模拟不可用的缓存后端
type brokenCounterStore struct{}

var errBackendDown = errors.New("backend down")

func (brokenCounterStore) GetCounter(context.Context, string) (int64, bool, error) {
	return 0, false, errBackendDown
}

func (brokenCounterStore) InitCounter(context.Context, string, time.Duration) error {
	return errBackendDown
}

func (brokenCounterStore) IncrCounter(context.Context, string) (int64, bool, error) {
	return 0, false, errBackendDown
}

// fixedLimiter 返回固定结果
type fixedLimiter struct {
	allow bool
	calls int
}

func (l *fixedLimiter) CheckAndIncrement(context.Context, string, string, int, time.Duration) bool {
	l.calls++
	return l.allow
}
