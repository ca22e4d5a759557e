package trigger

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed 表示队列已关闭，不再接受投递。
var ErrQueueClosed = errors.New("队列已关闭")

// MemoryQueue 使用 channel 模拟消息队列，主要用于单机部署和测试。
// 关闭通过独立的 quit 信号广播，数据通道本身从不关闭，
// 因此并发的 Publish 和 Close 之间不存在向已关闭通道发送的竞态。
type MemoryQueue struct {
	ch   chan PromptRequest
	quit chan struct{}
	once sync.Once
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:   make(chan PromptRequest, size),
		quit: make(chan struct{}),
	}
}

// Publish 将触发请求投递到队列。队列已关闭时返回 ErrQueueClosed。
func (q *MemoryQueue) Publish(ctx context.Context, request PromptRequest) error {
	select {
	case <-q.quit:
		return ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.quit:
		return ErrQueueClosed
	case q.ch <- request:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列中的触发请求。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.quit:
					return
				case request := <-q.ch:
					_ = handler(ctx, request)
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		wg.Wait()
		return ctx.Err()
	case <-q.quit:
		wg.Wait()
		return nil
	}
}

// Close 关闭内存队列，唤醒所有被阻塞的投递方和消费协程。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		close(q.quit)
	})
	return nil
}
