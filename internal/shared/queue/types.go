// Package queue 内容处理队列
package queue

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"accounts-syncd/internal/shared/model"
)

var (
	// ErrQueueClosed 队列已关闭
	ErrQueueClosed = errors.New("processing queue closed")

	// ErrInvalidSlot 槽位超出范围
	ErrInvalidSlot = errors.New("invalid content slot")

	// ErrProcessingFailed 内容处理失败
	ErrProcessingFailed = errors.New("content processing failed")
)

// ============================================================================
// Key - 处理键
// ============================================================================

// Key 处理键：每个账号的每个槽位同一时刻最多一个处理任务
type Key struct {
	Account model.AccountID
	Slot    model.Slot
}

// String 同时用作并发写路径的资源键
func (k Key) String() string {
	return fmt.Sprintf("content:%s:%d", k.Account, int(k.Slot))
}

// ============================================================================
// State - 处理状态机
// ============================================================================

// StateKind 处理状态
//
// Empty → InQueue(position) → Processing → Completed | Failed
type StateKind int

const (
	StateEmpty StateKind = iota
	StateInQueue
	StateProcessing
	StateCompleted
	StateFailed
)

func (k StateKind) String() string {
	switch k {
	case StateInQueue:
		return "in_queue"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "empty"
	}
}

// Terminal 是否为终态
func (k StateKind) Terminal() bool {
	return k == StateCompleted || k == StateFailed
}

// State 处理状态及其附带数据
type State struct {
	Kind         StateKind              `json:"-"`
	ProcessingID uuid.UUID              `json:"processing_id"`        // 状态所属的提交，Empty 时为零值
	Position     int                    `json:"position,omitempty"`   // InQueue 时有效，从 1 开始
	ContentID    model.ContentID        `json:"content_id,omitempty"` // Completed 时有效
	Metadata     *model.ContentMetadata `json:"metadata,omitempty"`   // Completed 时有效
}

// Params 提交时的任务参数
type Params struct {
	ContentType string `json:"content_type,omitempty"` // 客户端声明的类型，仅作参考
	Size        int64  `json:"size"`
}

// Job 队列中的处理任务
type Job struct {
	ProcessingID uuid.UUID
	Key          Key
	State        State
	TempFile     string // 上传内容的临时文件，任务结束后删除
	Params       Params
}

// stateEvent 状态变化事件
func stateEvent(key Key, id uuid.UUID, s State) model.EventToClient {
	data := map[string]interface{}{
		"slot":          int(key.Slot),
		"processing_id": id.String(),
		"state":         s.Kind.String(),
	}
	switch s.Kind {
	case StateInQueue:
		data["position"] = s.Position
	case StateCompleted:
		data["content_id"] = string(s.ContentID)
	}
	return model.NewEventToClient(model.EventTypeContentProcessingStateChanged, data)
}
