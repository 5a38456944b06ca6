// Package eventbus 账号事件与通知分发
package eventbus

import (
	"context"
	"time"

	"accounts-syncd/internal/shared/model"
)

// ============================================================================
// 推送通知接口
// ============================================================================

// PushNotifier 进程外推送子系统的入口
//
// Notify 只传递账号 ID，推送子系统自行拉取通知内容并选择投递渠道。
type PushNotifier interface {
	Notify(ctx context.Context, account model.AccountID) error
	Close() error
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// DefaultPushStream 推送中继默认 Stream
	DefaultPushStream = "syncd:push"

	// MaxStreamLength Stream 最大长度（近似裁剪）
	MaxStreamLength = 10000

	// pushTimeout 单次推送调用的超时
	pushTimeout = 5 * time.Second
)

// Subscription 一个实时连接的订阅
type Subscription struct {
	account model.AccountID
	id      uint64
	events  <-chan model.InternalEvent
	close   func()
}

// Account 订阅的账号
func (s *Subscription) Account() model.AccountID {
	return s.account
}

// Events 事件接收通道；连接被替换或关闭后通道关闭
func (s *Subscription) Events() <-chan model.InternalEvent {
	return s.events
}

// Close 断开订阅，可重复调用
func (s *Subscription) Close() {
	s.close()
}
