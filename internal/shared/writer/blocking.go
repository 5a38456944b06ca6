package writer

import (
	"errors"
	"sync"
)

// ErrPoolClosed 阻塞池已关闭
var ErrPoolClosed = errors.New("blocking pool closed")

// BlockingPool 固定数量的专用 worker，承载 CPU 密集的写操作
type BlockingPool struct {
	tasks  chan func()
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewBlockingPool 创建并启动 n 个 worker（n <= 0 时为 1）
func NewBlockingPool(n int) *BlockingPool {
	if n <= 0 {
		n = 1
	}
	p := &BlockingPool{
		tasks:  make(chan func()),
		closed: make(chan struct{}),
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *BlockingPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.closed:
			return
		}
	}
}

// Submit 等待空闲 worker 接收任务
func (p *BlockingPool) Submit(task func()) error {
	select {
	case <-p.closed:
		return ErrPoolClosed
	default:
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.closed:
		return ErrPoolClosed
	}
}

// Close 停止 worker 并等待正在执行的任务结束
func (p *BlockingPool) Close() {
	p.once.Do(func() { close(p.closed) })
	p.wg.Wait()
}
