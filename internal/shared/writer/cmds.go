package writer

import (
	"context"
	"errors"
	"fmt"

	"accounts-syncd/internal/shared/cache"
	"accounts-syncd/internal/shared/dataerr"
	"accounts-syncd/internal/shared/eventbus"
	"accounts-syncd/internal/shared/model"
	"accounts-syncd/internal/shared/objstore"
	"accounts-syncd/internal/shared/storage"
	"accounts-syncd/internal/shared/storage/repository"
)

// ============================================================================
// WriteCmds - 全局写路径的句柄
// ============================================================================

// WriteCmds 持有全局写锁期间可用的命令，不得在 Execute 返回后保留
type WriteCmds struct {
	c *Coordinator
}

// Transaction 在单个事务中执行 fn
func (w *WriteCmds) Transaction(ctx context.Context, fn func(tx *repository.Tx) error) error {
	return classifyDBError(w.c.store.Transaction(ctx, fn))
}

// TransactionThenCache 事务提交成功后再在账号锁下更新缓存
//
// 事务失败时缓存不会被修改。
func (w *WriteCmds) TransactionThenCache(
	ctx context.Context,
	account model.AccountID,
	txFn func(tx *repository.Tx) error,
	cacheFn func(e *cache.Entry) error,
) error {
	if err := w.Transaction(ctx, txFn); err != nil {
		return err
	}
	return classifyCacheError(w.c.cache.Write(account, cacheFn))
}

// Store 持久化存储的读路径
func (w *WriteCmds) Store() *repository.Store {
	return w.c.store
}

// Cache 返回缓存
func (w *WriteCmds) Cache() *cache.Cache {
	return w.c.cache
}

// Events 返回事件分发器
func (w *WriteCmds) Events() *eventbus.Dispatcher {
	return w.c.events
}

// ============================================================================
// ConcurrentWriteCmds - 并发写路径的句柄
// ============================================================================

// ConcurrentWriteCmds 持有资源锁期间可用的命令
//
// 没有事务入口：需要修改持久化状态时通过 Write 回到全局路径。
type ConcurrentWriteCmds struct {
	c   *Coordinator
	key string
}

// Key 当前持有的资源键
func (w *ConcurrentWriteCmds) Key() string {
	return w.key
}

// Cache 返回缓存
func (w *ConcurrentWriteCmds) Cache() *cache.Cache {
	return w.c.cache
}

// Objects 返回对象存储，未配置时为 nil
func (w *ConcurrentWriteCmds) Objects() objstore.Store {
	return w.c.objects
}

// Events 返回事件分发器
func (w *ConcurrentWriteCmds) Events() *eventbus.Dispatcher {
	return w.c.events
}

// Write 在全局写锁下执行 op
//
// 外层操作已持有关闭令牌，这里不再重新获取，关闭期间在途操作仍可完成持久化。
func (w *ConcurrentWriteCmds) Write(ctx context.Context, op Operation) error {
	return w.c.write(ctx, op)
}

// ============================================================================
// 错误分类
// ============================================================================

func classifyDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case dataerr.Expected(err):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %w", dataerr.ErrNotFound, err)
	case errors.Is(err, storage.ErrDuplicate):
		return fmt.Errorf("%w: %w", dataerr.ErrNotAllowed, err)
	default:
		return fmt.Errorf("%w: %w", dataerr.ErrDatabase, err)
	}
}

func classifyCacheError(err error) error {
	switch {
	case err == nil:
		return nil
	case dataerr.Expected(err):
		return err
	case errors.Is(err, cache.ErrFeatureNotEnabled):
		return fmt.Errorf("%w: %w", dataerr.ErrFeatureDisabled, err)
	case errors.Is(err, cache.ErrNotFound):
		return fmt.Errorf("%w: %w", dataerr.ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", dataerr.ErrCache, err)
	}
}

// CacheError 将缓存错误映射为领域错误
func CacheError(err error) error {
	return classifyCacheError(err)
}

// DBError 将持久化存储错误映射为领域错误，用于写路径之外的读取
func DBError(err error) error {
	return classifyDBError(err)
}
