// Package writer 写协调器
//
// 存储引擎同一时刻只允许一个写者：
//   - Write：所有经过全局路径的写操作持有同一把互斥锁，彼此之间形成全序
//   - ConcurrentWrite：按资源键加锁，不同键之间以及与全局路径之间可以并行；
//     调用方不得通过该路径修改全局路径也会修改的行
//   - ConcurrentWriteProfileBlocking：与 ConcurrentWrite 相同，但在专用的阻塞池中执行
//
// 写操作不能被调用方取消：操作在独立的 goroutine 中运行到结束，调用方离开时结果被丢弃。
// 关闭时先排空在途写操作，再停止阻塞池。
package writer

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"accounts-syncd/internal/shared/cache"
	"accounts-syncd/internal/shared/dataerr"
	"accounts-syncd/internal/shared/eventbus"
	"accounts-syncd/internal/shared/metrics"
	"accounts-syncd/internal/shared/objstore"
	"accounts-syncd/internal/shared/storage/repository"
	"accounts-syncd/pkg/logging"
)

// ============================================================================
// 操作接口
// ============================================================================

// Operation 经过全局写锁执行的操作
type Operation interface {
	Execute(ctx context.Context, cmds *WriteCmds) error
}

// OperationFunc 函数适配器
type OperationFunc func(ctx context.Context, cmds *WriteCmds) error

func (f OperationFunc) Execute(ctx context.Context, cmds *WriteCmds) error {
	return f(ctx, cmds)
}

// ConcurrentOperation 按资源键加锁执行的操作
type ConcurrentOperation interface {
	Execute(ctx context.Context, cmds *ConcurrentWriteCmds) error
}

// ConcurrentOperationFunc 函数适配器
type ConcurrentOperationFunc func(ctx context.Context, cmds *ConcurrentWriteCmds) error

func (f ConcurrentOperationFunc) Execute(ctx context.Context, cmds *ConcurrentWriteCmds) error {
	return f(ctx, cmds)
}

// Named 可选接口，提供日志与指标中使用的操作名
type Named interface {
	Name() string
}

func opName(op any) string {
	if n, ok := op.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", op)
}

const (
	pathGlobal     = "global"
	pathConcurrent = "concurrent"
	pathBlocking   = "blocking"
)

// ============================================================================
// Coordinator
// ============================================================================

// Coordinator 写协调器
type Coordinator struct {
	store   *repository.Store
	cache   *cache.Cache
	events  *eventbus.Dispatcher
	objects objstore.Store

	quit     *QuitLock
	writeMu  sync.Mutex
	locks    *LockPool
	blocking *BlockingPool

	metrics *metrics.Metrics
	logger  *logging.Logger
}

// Option 协调器选项
type Option func(*Coordinator)

// WithObjectStore 并发写操作可用的对象存储
func WithObjectStore(s objstore.Store) Option {
	return func(c *Coordinator) { c.objects = s }
}

// WithQuitLock 使用外部创建的关闭协调器
func WithQuitLock(q *QuitLock) Option {
	return func(c *Coordinator) { c.quit = q }
}

// WithBlockingWorkers 阻塞池 worker 数量
func WithBlockingWorkers(n int) Option {
	return func(c *Coordinator) {
		if c.blocking != nil {
			c.blocking.Close()
		}
		c.blocking = NewBlockingPool(n)
	}
}

// WithMetrics 启用指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger 指定日志器
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New 创建写协调器
func New(store *repository.Store, c *cache.Cache, events *eventbus.Dispatcher, opts ...Option) *Coordinator {
	co := &Coordinator{
		store:  store,
		cache:  c,
		events: events,
		locks:  NewLockPool(),
		logger: logging.Default("writer"),
	}
	for _, opt := range opts {
		opt(co)
	}
	if co.quit == nil {
		co.quit = NewQuitLock()
	}
	if co.blocking == nil {
		co.blocking = NewBlockingPool(1)
	}
	return co
}

// Quit 返回关闭协调器
func (c *Coordinator) Quit() *QuitLock {
	return c.quit
}

// Store 返回持久化存储（只读路径使用）
func (c *Coordinator) Store() *repository.Store {
	return c.store
}

// Cache 返回缓存
func (c *Coordinator) Cache() *cache.Cache {
	return c.cache
}

// Events 返回事件分发器
func (c *Coordinator) Events() *eventbus.Dispatcher {
	return c.events
}

// ============================================================================
// 全局写路径
// ============================================================================

// Write 在全局写锁下执行 op
func (c *Coordinator) Write(ctx context.Context, op Operation) error {
	release, err := c.quit.Acquire()
	if err != nil {
		return err
	}
	return c.await(ctx, func() error {
		defer release()
		return c.write(context.WithoutCancel(ctx), op)
	})
}

// write 获取全局锁并执行；调用方负责持有关闭令牌
func (c *Coordinator) write(ctx context.Context, op Operation) error {
	start := time.Now()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	wait := time.Since(start)

	err := c.run(ctx, op, func(ctx context.Context) error {
		return op.Execute(ctx, &WriteCmds{c: c})
	})
	c.observe(pathGlobal, op, wait, time.Since(start)-wait, err)
	return err
}

// ============================================================================
// 并发写路径
// ============================================================================

// ConcurrentWrite 在 key 对应的锁下执行 op
func (c *Coordinator) ConcurrentWrite(ctx context.Context, key string, op ConcurrentOperation) error {
	release, err := c.quit.Acquire()
	if err != nil {
		return err
	}
	return c.await(ctx, func() error {
		defer release()
		return c.concurrentWrite(context.WithoutCancel(ctx), pathConcurrent, key, op)
	})
}

// ConcurrentWriteProfileBlocking 与 ConcurrentWrite 相同，但在阻塞池中执行
func (c *Coordinator) ConcurrentWriteProfileBlocking(ctx context.Context, key string, op ConcurrentOperation) error {
	release, err := c.quit.Acquire()
	if err != nil {
		return err
	}
	opCtx := context.WithoutCancel(ctx)
	return c.await(ctx, func() error {
		defer release()
		result := make(chan error, 1)
		if err := c.blocking.Submit(func() {
			result <- c.concurrentWrite(opCtx, pathBlocking, key, op)
		}); err != nil {
			return dataerr.ErrServerClosingInProgress
		}
		return <-result
	})
}

func (c *Coordinator) concurrentWrite(ctx context.Context, path, key string, op ConcurrentOperation) error {
	start := time.Now()
	unlock, err := c.locks.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	wait := time.Since(start)

	err = c.run(ctx, op, func(ctx context.Context) error {
		return op.Execute(ctx, &ConcurrentWriteCmds{c: c, key: key})
	})
	c.observe(path, op, wait, time.Since(start)-wait, err)
	return err
}

// ============================================================================
// 执行辅助
// ============================================================================

// await 在独立 goroutine 中执行 task，调用方 ctx 结束时不再等待结果
func (c *Coordinator) await(ctx context.Context, task func() error) error {
	result := make(chan error, 1)
	go func() {
		result <- task()
	}()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run 执行操作，panic 转换为 ErrCommandResultReceivingFailed
func (c *Coordinator) run(ctx context.Context, op any, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Write operation panicked",
				"op", opName(op), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %s panicked: %v", dataerr.ErrCommandResultReceivingFailed, opName(op), r)
		}
	}()
	return fn(ctx)
}

func (c *Coordinator) observe(path string, op any, wait, run time.Duration, err error) {
	c.metrics.ObserveWrite(path, wait, err)
	c.logger.WriteLog(path, opName(op), wait, run, err)
}

// ============================================================================
// 生命周期
// ============================================================================

// Shutdown 拒绝新写操作，等待在途写操作完成后停止阻塞池
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if err := c.quit.Shutdown(ctx); err != nil {
		return err
	}
	c.blocking.Close()
	return nil
}
