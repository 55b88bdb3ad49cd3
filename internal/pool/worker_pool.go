package pool

import (
	"context"
	"sync"
)

// WorkerPool 协程池
//
// 固定数量的工作协程消费任务队列，用于限制对外部服务的并发请求数
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func(context.Context)
	wg         sync.WaitGroup
	onPanic    func(recovered any)
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大协程数，小于 1 时按 1 处理
//   - queueSize: 任务队列大小
func NewWorkerPool(maxWorkers, queueSize int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(context.Context), queueSize),
	}
}

// OnPanic 设置任务 panic 时的回调
func (p *WorkerPool) OnPanic(fn func(recovered any)) *WorkerPool {
	p.onPanic = fn
	return p
}

// Start 启动协程池
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 提交任务
//
// 队列已满时阻塞，直到有空位或 ctx 结束
func (p *WorkerPool) Submit(ctx context.Context, task func(context.Context)) error {
	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit 尝试提交任务
//
// 如果队列已满，立即返回 false
func (p *WorkerPool) TrySubmit(task func(context.Context)) bool {
	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Stop 关闭队列并等待已提交的任务结束
func (p *WorkerPool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

// worker 工作协程
//
// ctx 结束后继续清空队列但不再执行任务，保证 Stop 不会阻塞
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for task := range p.taskQueue {
		if ctx.Err() != nil {
			continue
		}
		p.run(ctx, task)
	}
}

func (p *WorkerPool) run(ctx context.Context, task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(r)
		}
	}()
	task(ctx)
}
