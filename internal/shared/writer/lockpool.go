package writer

import (
	"context"
	"sync"
)

// LockPool 按资源键分配的锁池
//
// 条目按引用计数管理：最后一个持有者或等待者离开时从映射中删除，
// 映射大小始终等于当前被使用的键的数量。
type LockPool struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewLockPool 创建锁池
func NewLockPool() *LockPool {
	return &LockPool{locks: make(map[string]*lockEntry)}
}

// Lock 获取 key 对应的锁，返回解锁函数
func (p *LockPool) Lock(ctx context.Context, key string) (unlock func(), err error) {
	e := p.ref(key)
	select {
	case e.sem <- struct{}{}:
		return sync.OnceFunc(func() {
			<-e.sem
			p.unref(key, e)
		}), nil
	case <-ctx.Done():
		p.unref(key, e)
		return nil, ctx.Err()
	}
}

// Len 当前被使用的键数量
func (p *LockPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}

func (p *LockPool) ref(key string) *lockEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.locks[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		p.locks[key] = e
	}
	e.refs++
	return e
}

func (p *LockPool) unref(key string, e *lockEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(p.locks, key)
	}
}
