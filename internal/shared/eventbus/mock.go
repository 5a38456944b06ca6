// Package eventbus 推送通知 mock 实现
package eventbus

import (
	"context"
	"sync"

	"accounts-syncd/internal/shared/model"
)

// ============================================================================
// NoOpPushNotifier - 空操作实现（未配置推送中继时使用）
// ============================================================================

// NoOpPushNotifier 不做任何操作
type NoOpPushNotifier struct{}

// NewNoOpPushNotifier 创建 NoOpPushNotifier 实例
func NewNoOpPushNotifier() *NoOpPushNotifier {
	return &NoOpPushNotifier{}
}

func (n *NoOpPushNotifier) Notify(ctx context.Context, account model.AccountID) error {
	return nil
}

func (n *NoOpPushNotifier) Close() error {
	return nil
}

// ============================================================================
// RecordingPushNotifier - 记录调用（用于测试）
// ============================================================================

// RecordingPushNotifier 记录每次 Notify 的账号，可选返回固定错误
type RecordingPushNotifier struct {
	mu       sync.Mutex
	accounts []model.AccountID
	calls    chan model.AccountID
	closed   bool
	late     int // Close 之后的 Notify 次数
	Err      error
}

// NewRecordingPushNotifier 创建 RecordingPushNotifier 实例
func NewRecordingPushNotifier() *RecordingPushNotifier {
	return &RecordingPushNotifier{calls: make(chan model.AccountID, 100)}
}

func (r *RecordingPushNotifier) Notify(ctx context.Context, account model.AccountID) error {
	r.mu.Lock()
	r.accounts = append(r.accounts, account)
	if r.closed {
		r.late++
	}
	r.mu.Unlock()
	select {
	case r.calls <- account:
	default:
	}
	return r.Err
}

func (r *RecordingPushNotifier) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// CallsAfterClose Close 之后仍收到的 Notify 次数
func (r *RecordingPushNotifier) CallsAfterClose() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.late
}

// Calls 每次 Notify 调用后收到一个账号
func (r *RecordingPushNotifier) Calls() <-chan model.AccountID {
	return r.calls
}

// Accounts 已记录的账号
func (r *RecordingPushNotifier) Accounts() []model.AccountID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AccountID(nil), r.accounts...)
}

var (
	_ PushNotifier = (*NoOpPushNotifier)(nil)
	_ PushNotifier = (*RecordingPushNotifier)(nil)
)
