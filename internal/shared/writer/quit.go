package writer

import (
	"context"
	"sync"

	"accounts-syncd/internal/shared/dataerr"
)

// QuitLock 关闭协调器
//
// 每个写操作开始前 Acquire 一个令牌，结束时释放。Shutdown 之后不再发放令牌，
// 并等待所有已发放的令牌释放。进程启动时创建一次，沿组件图向下传递。
type QuitLock struct {
	mu      sync.Mutex
	active  int
	closing bool
	drained chan struct{}
}

// NewQuitLock 创建关闭协调器
func NewQuitLock() *QuitLock {
	return &QuitLock{drained: make(chan struct{})}
}

// Acquire 获取令牌；关闭开始后返回 ErrServerClosingInProgress
//
// 返回的 release 可重复调用，只有第一次生效。
func (q *QuitLock) Acquire() (release func(), err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closing {
		return nil, dataerr.ErrServerClosingInProgress
	}
	q.active++
	return sync.OnceFunc(q.release), nil
}

func (q *QuitLock) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active--
	if q.closing && q.active == 0 {
		close(q.drained)
	}
}

// Shutdown 拒绝新令牌并等待在途令牌全部释放；可重复调用
func (q *QuitLock) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closing {
		q.closing = true
		if q.active == 0 {
			close(q.drained)
		}
	}
	q.mu.Unlock()

	select {
	case <-q.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closing 是否已开始关闭
func (q *QuitLock) Closing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closing
}

// Active 在途令牌数量
func (q *QuitLock) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}
