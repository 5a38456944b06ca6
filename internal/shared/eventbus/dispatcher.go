// Package eventbus 账号事件与通知分发
//
// 两类事件有不同的持久性保证：
//   - 连接事件（SendConnectedEvent）：刷新提示，尽力投递，通道不存在或已满时直接丢弃，
//     客户端总能重新拉取权威状态
//   - 通知（SendNotification）：先把分类位写入缓存中的待确认位图，再尝试实时投递，
//     实时投递失败时交给推送子系统
//
// 任何必须送达的信号都应走 SendNotification，连接事件不会被升级为通知。
package eventbus

import (
	"context"
	"errors"
	"sync"

	"accounts-syncd/internal/shared/cache"
	"accounts-syncd/internal/shared/dataerr"
	"accounts-syncd/internal/shared/metrics"
	"accounts-syncd/internal/shared/model"
	"accounts-syncd/pkg/logging"
)

// Dispatcher 事件分发器
type Dispatcher struct {
	cache    *cache.Cache
	push     PushNotifier
	capacity int
	metrics  *metrics.Metrics
	logger   *logging.Logger

	mu     sync.Mutex     // 保护 closed 与 pushes.Add
	closed bool           // Close 之后不再调用推送子系统
	pushes sync.WaitGroup // 在途的推送调用
}

// Option 分发器选项
type Option func(*Dispatcher)

// WithChannelCapacity 每个连接的事件通道容量
func WithChannelCapacity(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.capacity = n
		}
	}
}

// WithMetrics 启用指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger 指定日志器
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher 创建分发器；push 为 nil 时使用 NoOpPushNotifier
func NewDispatcher(c *cache.Cache, push PushNotifier, opts ...Option) *Dispatcher {
	if push == nil {
		push = NewNoOpPushNotifier()
	}
	d := &Dispatcher{
		cache:    c,
		push:     push,
		capacity: model.EventChannelCapacity,
		logger:   logging.Default("eventbus"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ============================================================================
// 连接管理
// ============================================================================

// Connect 为账号安装新的实时连接，旧连接（如果有）被关闭
func (d *Dispatcher) Connect(account model.AccountID) (*Subscription, error) {
	sender := cache.NewEventSender(d.capacity)
	err := d.cache.Write(account, func(e *cache.Entry) error {
		if e.Sender != nil {
			e.Sender.Close()
		}
		e.Sender = sender
		return nil
	})
	if err != nil {
		return nil, err
	}

	id := sender.ID()
	return &Subscription{
		account: account,
		id:      id,
		events:  sender.Events(),
		close:   sync.OnceFunc(func() { d.disconnect(account, id) }),
	}, nil
}

// disconnect 只移除仍是当前连接的发送端
func (d *Dispatcher) disconnect(account model.AccountID, id uint64) {
	err := d.cache.WriteExisting(account, func(e *cache.Entry) error {
		if e.Sender != nil && e.Sender.ID() == id {
			e.Sender.Close()
			e.Sender = nil
		}
		return nil
	})
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		d.logger.WithAccountID(account.String()).WithError(err).Warn("Disconnect failed")
	}
}

// Connected 账号当前是否有实时连接
func (d *Dispatcher) Connected(account model.AccountID) bool {
	connected := false
	_ = d.cache.Read(account, func(e *cache.Entry) error {
		connected = e.Sender != nil
		return nil
	})
	return connected
}

// ============================================================================
// 连接事件
// ============================================================================

// SendConnectedEvent 尽力投递刷新提示，返回是否进入了连接通道
//
// 发送端只会在账号写锁下关闭，读锁下非阻塞发送不会触碰已关闭的通道。
func (d *Dispatcher) SendConnectedEvent(account model.AccountID, event model.EventToClient) bool {
	sent := false
	_ = d.cache.Read(account, func(e *cache.Entry) error {
		if e.Sender != nil {
			sent = e.Sender.TrySend(model.InternalEvent{Kind: model.InternalEventNormal, Event: event})
		}
		return nil
	})
	d.metrics.ConnectedEvent(sent)
	return sent
}

// ============================================================================
// 通知
// ============================================================================

// SendNotification 记录并投递通知
//
// 待确认位在任何投递尝试之前写入；实时投递失败或没有连接时异步调用推送子系统。
// 分发器关闭后仍会记录待确认位，但不再推送，返回 ErrServerClosingInProgress。
func (d *Dispatcher) SendNotification(account model.AccountID, category model.NotificationFlags) error {
	live := false
	err := d.cache.Write(account, func(e *cache.Entry) error {
		e.PendingNotifications |= category
		if e.Sender != nil {
			live = e.Sender.TrySend(model.InternalEvent{
				Kind: model.InternalEventNotification,
				Event: model.NewEventToClient(model.EventTypeNotification, map[string]interface{}{
					"categories": category.Names(),
				}),
				Category: category,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.metrics.Notification(live)
	if !live && !d.notifyPush(account) {
		return dataerr.ErrServerClosingInProgress
	}
	return nil
}

// notifyPush 触发推送，不等待结果；分发器已关闭时返回 false
func (d *Dispatcher) notifyPush(account model.AccountID) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.pushes.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.pushes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := d.push.Notify(ctx, account); err != nil {
			d.logger.WithAccountID(account.String()).WithError(err).Warn("Push notify failed")
		}
	}()
	return true
}

// PendingNotificationFlags 返回账号的待确认通知
func (d *Dispatcher) PendingNotificationFlags(account model.AccountID) (model.NotificationFlags, error) {
	var flags model.NotificationFlags
	err := d.cache.Read(account, func(e *cache.Entry) error {
		flags = e.PendingNotifications
		return nil
	})
	if errors.Is(err, cache.ErrNotFound) {
		return 0, nil
	}
	return flags, err
}

// RemoveSpecificPendingNotificationFlags 清除客户端已确认的分类，保留其余分类
func (d *Dispatcher) RemoveSpecificPendingNotificationFlags(account model.AccountID, flags model.NotificationFlags) error {
	err := d.cache.WriteExisting(account, func(e *cache.Entry) error {
		e.PendingNotifications &^= flags
		return nil
	})
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	return err
}

// ============================================================================
// 生命周期
// ============================================================================

// Wait 等待在途推送调用结束或 ctx 到期
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.pushes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 拒绝新的推送，等待在途推送后关闭推送子系统；重复调用无效
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	waitErr := d.Wait(ctx)
	if err := d.push.Close(); err != nil {
		return err
	}
	return waitErr
}
