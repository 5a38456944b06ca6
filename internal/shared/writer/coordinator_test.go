package writer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"accounts-syncd/internal/shared/cache"
	"accounts-syncd/internal/shared/dataerr"
	"accounts-syncd/internal/shared/eventbus"
	"accounts-syncd/internal/shared/model"
	"accounts-syncd/internal/shared/storage/repository"
	sqlitedriver "accounts-syncd/internal/shared/storage/driver/sqlite"
	"accounts-syncd/internal/shared/syncversion"
	"accounts-syncd/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	c := cache.New(cache.AllFeatures())
	events := eventbus.NewDispatcher(c, nil, eventbus.WithLogger(logging.Discard("eventbus")))
	opts = append([]Option{WithLogger(logging.Discard("writer")), WithBlockingWorkers(2)}, opts...)
	co := New(store, c, events, opts...)
	t.Cleanup(func() { _ = co.Shutdown(context.Background()) })

	require.NoError(t, co.Write(context.Background(), OperationFunc(func(ctx context.Context, cmds *WriteCmds) error {
		return cmds.Transaction(ctx, func(tx *repository.Tx) error {
			return tx.CreateAccount(ctx, &model.Account{ID: "acc-1"})
		})
	})))
	return co
}

// ============================================================================
// 全局写路径
// ============================================================================

func TestWrite_Linearizable(t *testing.T) {
	co := newTestCoordinator(t)
	ctx := context.Background()

	const n = 100
	var (
		inside  atomic.Int32
		overlap atomic.Bool
		counter int // 只在全局锁内访问
		wg      sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := co.Write(ctx, OperationFunc(func(ctx context.Context, cmds *WriteCmds) error {
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				defer inside.Add(-1)
				counter++
				return cmds.Transaction(ctx, func(tx *repository.Tx) error {
					_, err := tx.IncrementSyncVersion(ctx, "acc-1", syncversion.CategoryProfile)
					return err
				})
			}))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load(), "two global writes ran at the same time")
	assert.Equal(t, n, counter)
	v, err := co.Store().GetSyncVersion(ctx, "acc-1", syncversion.CategoryProfile)
	require.NoError(t, err)
	assert.Equal(t, uint8(n), v.Value())
}

func TestWrite_PanicBecomesError(t *testing.T) {
	co := newTestCoordinator(t)
	ctx := context.Background()

	err := co.Write(ctx, OperationFunc(func(ctx context.Context, cmds *WriteCmds) error {
		panic("boom")
	}))
	require.ErrorIs(t, err, dataerr.ErrCommandResultReceivingFailed)

	// 锁已释放，后续写操作正常执行
	done := make(chan error, 1)
	go func() {
		done <- co.Write(ctx, OperationFunc(func(ctx context.Context, cmds *WriteCmds) error { return nil }))
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("global write lock was not released after panic")
	}
	assert.Equal(t, 0, co.Quit().Active())
}

func TestWrite_PanicInsideTransactionRollsBack(t *testing.T) {
	co := newTestCoordinator(t)
	ctx := context.Background()

	err := co.Write(ctx, OperationFunc(func(ctx context.Context, cmds *WriteCmds) error {
		return cmds.Transaction(ctx, func(tx *repository.Tx) error {
			if _, err := tx.IncrementSyncVersion(ctx, "acc-1", syncversion.CategoryMedia); err != nil {
				return err
			}
			panic("after increment")
		})
	}))
	require.ErrorIs(t, err, dataerr.ErrCommandResultReceivingFailed)

	v, err := co.Store().GetSyncVersion(ctx, "acc-1", syncversion.CategoryMedia)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), v.Value())
}

func TestWrite_CallerCancellationDoesNotAbortOperation(t *testing.T) {
	co := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	proceed := make(chan struct{})
	finished := make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- co.Write(ctx, OperationFunc(func(opCtx context.Context, cmds *WriteCmds) error {
			close(started)
			<-proceed
			defer close(finished)
			// 操作上下文不随调用方取消
			if opCtx.Err() != nil {
				return opCtx.Err()
			}
			return cmds.Transaction(opCtx, func(tx *repository.Tx) error {
				_, err := tx.IncrementSyncVersion(opCtx, "acc-1", syncversion.CategoryChat)
				return err
			})
		}))
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	close(proceed)
	<-finished

	require.NoError(t, co.Quit().Shutdown(context.Background()))
	v, err := co.Store().GetSyncVersion(context.Background(), "acc-1", syncversion.CategoryChat)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), v.Value())
}

func TestWrite_ErrorClassification(t *testing.T) {
	co := newTestCoordinator(t)
	ctx := context.Background()

	err := co.Write(ctx, OperationFunc(func(ctx context.Context, cmds *WriteCmds) error {
		return cmds.Transaction(ctx, func(tx *repository.Tx) error {
			return tx.CreateAccount(ctx, &model.Account{ID: "acc-1"})
		})
	}))
	assert.ErrorIs(t, err, dataerr.ErrNotAllowed)

	err = co.Write(ctx, OperationFunc(func(ctx context.Context, cmds *WriteCmds) error {
		return cmds.Transaction(ctx, func(tx *repository.Tx) error {
			_, err := tx.IncrementSyncVersion(ctx, "missing", syncversion.CategoryChat)
			return err
		})
	}))
	assert.ErrorIs(t, err, dataerr.ErrNotFound)

	err = co.Write(ctx, OperationFunc(func(ctx context.Context, cmds *WriteCmds) error {
		return cmds.Transaction(ctx, func(tx *repository.Tx) error {
			return errors.New("disk on fire")
		})
	}))
	assert.ErrorIs(t, err, dataerr.ErrDatabase)
	assert.False(t, dataerr.Expected(err))
}

func TestTransactionThenCache(t *testing.T) {
	co := newTestCoordinator(t)
	ctx := context.Background()

	t.Run("事务失败时不更新缓存", func(t *testing.T) {
		err := co.Write(ctx, OperationFunc(func(ctx context.Context, cmds *WriteCmds) error {
			return cmds.TransactionThenCache(ctx, "acc-1",
				func(tx *repository.Tx) error { return errors.New("rollback") },
				func(e *cache.Entry) error {
					e.Profile.Profile.Name = "should not appear"
					return nil
				})
		}))
		require.Error(t, err)
		assert.False(t, co.Cache().Contains("acc-1"))
	})

	t.Run("提交后更新缓存", func(t *testing.T) {
		err := co.Write(ctx, OperationFunc(func(ctx context.Context, cmds *WriteCmds) error {
			return cmds.TransactionThenCache(ctx, "acc-1",
				func(tx *repository.Tx) error {
					return tx.UpsertProfile(ctx, &model.Profile{AccountID: "acc-1", Name: "Alice"})
				},
				func(e *cache.Entry) error {
					e.Profile.Profile.Name = "Alice"
					return nil
				})
		}))
		require.NoError(t, err)

		var name string
		require.NoError(t, co.Cache().Read("acc-1", func(e *cache.Entry) error {
			name = e.Profile.Profile.Name
			return nil
		}))
		assert.Equal(t, "Alice", name)
	})

	t.Run("子缓存未启用", func(t *testing.T) {
		err := co.Write(ctx, OperationFunc(func(ctx context.Context, cmds *WriteCmds) error {
			return cmds.TransactionThenCache(ctx, "acc-1",
				func(tx *repository.Tx) error { return nil },
				func(e *cache.Entry) error { return cache.ErrFeatureNotEnabled })
		}))
		assert.ErrorIs(t, err, dataerr.ErrFeatureDisabled)
	})
}

// ============================================================================
// 关闭
// ============================================================================

func TestShutdown_DrainsInFlightAndRejectsNew(t *testing.T) {
	co := newTestCoordinator(t)
	ctx := context.Background()

	started := make(chan struct{})
	proceed := make(chan struct{})
	w1 := make(chan error, 1)
	go func() {
		w1 <- co.Write(ctx, OperationFunc(func(ctx context.Context, cmds *WriteCmds) error {
			close(started)
			<-proceed
			return nil
		}))
	}()
	<-started

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- co.Shutdown(ctx) }()

	require.Eventually(t, co.Quit().Closing, 2*time.Second, time.Millisecond)

	// W2 立即失败
	err := co.Write(ctx, OperationFunc(func(ctx context.Context, cmds *WriteCmds) error {
		t.Error("W2 must not run")
		return nil
	}))
	assert.ErrorIs(t, err, dataerr.ErrServerClosingInProgress)
	err = co.ConcurrentWrite(ctx, "k", ConcurrentOperationFunc(func(ctx context.Context, cmds *ConcurrentWriteCmds) error {
		t.Error("concurrent write must not run")
		return nil
	}))
	assert.ErrorIs(t, err, dataerr.ErrServerClosingInProgress)

	// W1 仍在执行，关闭尚未完成
	select {
	case <-shutdownDone:
		t.Fatal("shutdown resolved while W1 was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(proceed)
	assert.NoError(t, <-w1)
	select {
	case err := <-shutdownDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not resolve after W1 completed")
	}
}

func TestShutdown_Timeout(t *testing.T) {
	co := newTestCoordinator(t)

	proceed := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = co.Write(context.Background(), OperationFunc(func(ctx context.Context, cmds *WriteCmds) error {
			close(started)
			<-proceed
			return nil
		}))
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, co.Quit().Shutdown(ctx), context.DeadlineExceeded)
	close(proceed)
}

// ============================================================================
// 并发写路径
// ============================================================================

func TestConcurrentWrite_DistinctKeysRunInParallel(t *testing.T) {
	co := newTestCoordinator(t)
	ctx := context.Background()

	var barrier sync.WaitGroup
	barrier.Add(2)
	op := ConcurrentOperationFunc(func(ctx context.Context, cmds *ConcurrentWriteCmds) error {
		barrier.Done()
		waited := make(chan struct{})
		go func() { barrier.Wait(); close(waited) }()
		select {
		case <-waited:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("keys did not run in parallel")
		}
	})

	var wg sync.WaitGroup
	for _, key := range []string{"acc-1/0", "acc-1/1"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			assert.NoError(t, co.ConcurrentWrite(ctx, key, op))
		}(key)
	}
	wg.Wait()
}

func TestConcurrentWrite_SameKeySerialized(t *testing.T) {
	co := newTestCoordinator(t)
	ctx := context.Background()

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := co.ConcurrentWrite(ctx, "acc-1/0", ConcurrentOperationFunc(func(ctx context.Context, cmds *ConcurrentWriteCmds) error {
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			}))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.False(t, overlap.Load())
	assert.Equal(t, 0, co.locks.Len())
}

func TestConcurrentWrite_IndependentOfGlobalPath(t *testing.T) {
	co := newTestCoordinator(t)
	ctx := context.Background()

	inGlobal := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = co.Write(ctx, OperationFunc(func(ctx context.Context, cmds *WriteCmds) error {
			close(inGlobal)
			<-release
			return nil
		}))
	}()
	<-inGlobal
	defer close(release)

	done := make(chan error, 1)
	go func() {
		done <- co.ConcurrentWrite(ctx, "acc-1/0", ConcurrentOperationFunc(func(ctx context.Context, cmds *ConcurrentWriteCmds) error {
			assert.Equal(t, "acc-1/0", cmds.Key())
			return nil
		}))
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent write blocked on global write lock")
	}
}

func TestConcurrentWrite_NestedWrite(t *testing.T) {
	co := newTestCoordinator(t)
	ctx := context.Background()

	err := co.ConcurrentWrite(ctx, "acc-1/0", ConcurrentOperationFunc(func(ctx context.Context, cmds *ConcurrentWriteCmds) error {
		return cmds.Write(ctx, OperationFunc(func(ctx context.Context, w *WriteCmds) error {
			return w.Transaction(ctx, func(tx *repository.Tx) error {
				_, err := tx.IncrementSyncVersion(ctx, "acc-1", syncversion.CategoryMedia)
				return err
			})
		}))
	}))
	require.NoError(t, err)

	v, err := co.Store().GetSyncVersion(ctx, "acc-1", syncversion.CategoryMedia)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), v.Value())
}

func TestConcurrentWriteProfileBlocking(t *testing.T) {
	co := newTestCoordinator(t)
	ctx := context.Background()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := co.ConcurrentWriteProfileBlocking(ctx, "acc-1/3", ConcurrentOperationFunc(func(ctx context.Context, cmds *ConcurrentWriteCmds) error {
				ran.Add(1)
				return nil
			}))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), ran.Load())

	err := co.ConcurrentWriteProfileBlocking(ctx, "acc-1/3", ConcurrentOperationFunc(func(ctx context.Context, cmds *ConcurrentWriteCmds) error {
		panic("cpu bound failure")
	}))
	assert.ErrorIs(t, err, dataerr.ErrCommandResultReceivingFailed)
}
